package window

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/roman-kulish/ferrybox-co2/internal/catalog"
	"github.com/roman-kulish/ferrybox-co2/internal/dedup"
	"github.com/roman-kulish/ferrybox-co2/internal/ferrybox"
	"github.com/roman-kulish/ferrybox-co2/internal/stream"
)

// Window is the bounded time range processed by one invocation. Tolerance
// expands it symmetrically when pulling files and matching streams.
type Window struct {
	Start     time.Time
	End       time.Time
	Tolerance time.Duration
}

// Validate checks that the window is well-formed.
func (w Window) Validate() error {
	if w.Start.IsZero() || w.End.IsZero() {
		return errors.New("window start and end are required")
	}
	if w.Start.After(w.End) {
		return fmt.Errorf("window start %s is after end %s", w.Start.Format(time.RFC3339), w.End.Format(time.RFC3339))
	}
	if w.Tolerance < 0 {
		return fmt.Errorf("negative tolerance %s", w.Tolerance)
	}
	return nil
}

// Expanded returns [Start-Tolerance, End+Tolerance].
func (w Window) Expanded() (time.Time, time.Time) {
	return w.Start.Add(-w.Tolerance), w.End.Add(w.Tolerance)
}

func (w Window) String() string {
	return fmt.Sprintf("[%s, %s] ±%s", w.Start.Format(time.RFC3339), w.End.Format(time.RFC3339), w.Tolerance)
}

// Row is one extracted record with its fields already prefixed by the
// stream prefix.
type Row struct {
	Time   time.Time
	Fields map[string]string
}

// CorruptedFile records a file skipped during extraction.
type CorruptedFile struct {
	Stream string
	Name   string
	Err    error
}

// Table is the clipped, deduplicated, time-ordered content of one stream
// within a window.
type Table struct {
	Kind      stream.Kind
	Window    Window
	Rows      []Row
	Gaps      []ferrybox.GapInterval
	Corrupted []CorruptedFile
}

// Len returns the number of rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// Extractor pulls the data of a time window out of a stream catalog.
type Extractor struct {
	catalog *catalog.Catalog
	logger  *slog.Logger
}

// NewExtractor creates an Extractor reading from c.
func NewExtractor(c *catalog.Catalog, logger *slog.Logger) *Extractor {
	return &Extractor{catalog: c, logger: logger}
}

// Extract returns every row of the stream inside the tolerance-expanded
// window. Files are selected by overlap with the expanded window; analyzer
// files are selected with one more tolerance on each side so that rows
// matched across a file boundary are not missed. Corrupted files are
// skipped and recorded. It fails with ferrybox.ErrNoDataInWindow when no row
// survives clipping.
func (e *Extractor) Extract(ctx context.Context, w Window) (*Table, error) {
	if err := w.Validate(); err != nil {
		return nil, fmt.Errorf("extracting %s data: %w", e.catalog.Kind().Name(), err)
	}

	kind := e.catalog.Kind()
	lo, hi := w.Expanded()

	selLo, selHi := lo, hi
	if kind.Name() == stream.NameAnalyzer {
		selLo, selHi = selLo.Add(-w.Tolerance), selHi.Add(w.Tolerance)
	}

	table := &Table{Kind: kind, Window: w}

	var records []ferrybox.Record
	for _, f := range e.catalog.Overlapping(selLo, selHi) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		loaded, gaps, err := f.Load()
		if err != nil {
			if errors.Is(err, ferrybox.ErrCorruptedFile) {
				e.logger.Warn("skipping corrupted file",
					slog.String("stream", kind.Name()),
					slog.String("file", f.Name),
					slog.String("error", err.Error()))

				table.Corrupted = append(table.Corrupted, CorruptedFile{Stream: kind.Name(), Name: f.Name, Err: err})
				continue
			}
			return nil, fmt.Errorf("extracting %s data in window %s: %w", kind.Name(), w, err)
		}

		records = append(records, loaded...)
		table.addGaps(gaps, lo, hi)
	}

	// Files may overlap each other, so duplicates can span a file boundary.
	slices.SortStableFunc(records, func(a, b ferrybox.Record) int {
		return a.Time.Compare(b.Time)
	})
	records, gaps := dedup.Deduplicate(kind.Name(), records)
	table.addGaps(gaps, lo, hi)

	for _, r := range records {
		if r.Time.Before(lo) || r.Time.After(hi) {
			continue
		}
		table.Rows = append(table.Rows, Row{Time: r.Time, Fields: prefixFields(kind.Prefix(), r.Fields)})
	}

	if len(table.Rows) == 0 {
		return nil, fmt.Errorf("%w: %s stream, window %s", ferrybox.ErrNoDataInWindow, kind.Name(), w)
	}

	e.logger.Debug("extracted window",
		slog.String("stream", kind.Name()),
		slog.String("window", w.String()),
		slog.String("rows", humanize.Comma(int64(len(table.Rows)))),
		slog.Int("gaps", len(table.Gaps)),
		slog.Int("corrupted", len(table.Corrupted)))

	return table, nil
}

// addGaps keeps the gaps overlapping [lo, hi]; the rest belong to parts of
// the file outside the window.
func (t *Table) addGaps(gaps []ferrybox.GapInterval, lo, hi time.Time) {
	for _, g := range gaps {
		if g.Intersects(lo, hi) {
			t.Gaps = append(t.Gaps, g)
		}
	}
}

func prefixFields(prefix string, fields map[string]string) map[string]string {
	out := make(map[string]string, len(fields))
	for k, v := range fields {
		out[prefix+k] = v
	}
	return out
}

// ExtractBoth extracts the same window from the navigation and analyzer
// streams concurrently. The two loads share no state.
func ExtractBoth(ctx context.Context, nav, co2 *Extractor, w Window) (navTable, co2Table *Table, err error) {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		navTable, err = nav.Extract(ctx, w)
		return
	})
	g.Go(func() (err error) {
		co2Table, err = co2.Extract(ctx, w)
		return
	})
	if err = g.Wait(); err != nil {
		return nil, nil, err
	}
	return navTable, co2Table, nil
}
