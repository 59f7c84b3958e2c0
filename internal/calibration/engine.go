package calibration

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"slices"
	"time"

	"github.com/roman-kulish/ferrybox-co2/internal/catalog"
	"github.com/roman-kulish/ferrybox-co2/internal/ferrybox"
	"github.com/roman-kulish/ferrybox-co2/internal/stream"
)

// WithLogger sets the logger used to report fits and lookbacks.
func WithLogger(logger *slog.Logger) func(*Engine) {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithReferencePredicate replaces the default standard gas row predicate.
func WithReferencePredicate(p stream.ReferencePredicate) func(*Engine) {
	return func(e *Engine) {
		e.predicate = p
	}
}

// Engine calibrates merged records against the standard gas rows of the
// analyzer stream. It scans records strictly in time order and must not be
// run concurrently on the same records.
type Engine struct {
	catalog   *catalog.Catalog
	predicate stream.ReferencePredicate
	logger    *slog.Logger
}

// NewEngine creates an Engine. The analyzer catalog is used to look back
// for standard gas rows recorded before the window.
func NewEngine(analyzer *catalog.Catalog, options ...func(*Engine)) *Engine {
	e := Engine{
		catalog:   analyzer,
		predicate: stream.DefaultReferencePredicate(),
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, option := range options {
		option(&e)
	}
	return &e
}

// Run sets the Calibration of every matched measurement row in records,
// which must be ordered by time. Standard gas rows and unmatched rows are
// left without calibration. It returns the final state of the scan.
//
// If a measurement row is reached before any standard gas row, the analyzer
// catalog is searched backwards; Run fails with ferrybox.ErrNoReferenceData
// when nothing is found.
func (e *Engine) Run(ctx context.Context, records []ferrybox.MergedRecord) (State, error) {
	prefix := e.catalog.Kind().Prefix()
	var state State

	for i := range records {
		if err := ctx.Err(); err != nil {
			return state, err
		}

		rec := &records[i]
		if !rec.Matched() {
			continue
		}
		t := *rec.AnalyzerTime

		if e.predicate.IsReference(rec.Analyzer[prefix+stream.FieldType]) {
			if state.Consumed(t) {
				continue
			}
			ref, okRef := ferrybox.ParseFloat(rec.Analyzer, prefix+stream.FieldStandardValue)
			measured, okMeasured := ferrybox.ParseFloat(rec.Analyzer, prefix+stream.FieldRawMoleFraction)
			if !okRef || !okMeasured {
				e.logger.Debug("skipping standard row without values", slog.Time("time", t))
				continue
			}
			state = state.Accumulate(t, Pair{Reference: ref, Measured: measured})
			continue
		}

		switch state.Phase {
		case AccumulatingReference:
			pairs := state.Block.Len()
			state = state.Close()
			e.logFit("fitted standard block", state, pairs)

		case NoReferenceSeen:
			var err error
			if state, err = e.Lookback(t); err != nil {
				return state, err
			}
		}

		measured, ok := ferrybox.ParseFloat(rec.Analyzer, prefix+stream.FieldRawMoleFraction)
		if !ok {
			continue
		}
		cal, err := state.Correct(t, measured,
			value(rec.Analyzer, prefix+stream.FieldEquPressure),
			value(rec.Analyzer, prefix+stream.FieldLicorPressure))
		if err != nil {
			return state, fmt.Errorf("calibrating row at %s: %w", t.Format(time.RFC3339), err)
		}
		rec.Calibration = cal
	}

	return state, nil
}

// Lookback searches the analyzer catalog backwards from cutoff for the most
// recent run of standard gas rows and returns a calibrated state fitted on
// it. Files are loaded one at a time, newest first, until a run is found. A
// run reaching the first row of a file continues into the preceding file.
func (e *Engine) Lookback(cutoff time.Time) (State, error) {
	files, err := e.catalog.Preceding(cutoff)
	if err != nil {
		return State{}, fmt.Errorf("looking back from %s: %w", cutoff.Format(time.RFC3339), err)
	}

	var run referenceRun
	for f := range files {
		records, _, err := f.Load()
		if err != nil {
			if !errors.Is(err, ferrybox.ErrCorruptedFile) {
				return State{}, fmt.Errorf("looking back from %s: %w", cutoff.Format(time.RFC3339), err)
			}
			e.logger.Warn("skipping corrupted file during lookback", slog.String("file", f.Name))
			run.open = false
			if len(run.pairs) > 0 {
				break
			}
			continue
		}

		if e.scanRun(f.Name, records, cutoff, &run) {
			break
		}
	}

	if len(run.pairs) == 0 {
		return State{}, fmt.Errorf("%w: no standard gas rows in the %s catalog before %s",
			ferrybox.ErrNoReferenceData, e.catalog.Kind().Name(), cutoff.Format(time.RFC3339))
	}

	block := run.block()
	state := State{Block: block}.Close()
	e.logFit("fitted standard block from earlier data", state, block.Len(),
		slog.String("file", run.file),
		slog.Int("files", run.files))
	return state, nil
}

// referenceRun collects a run of standard gas rows while scanning backwards.
type referenceRun struct {
	pairs []Pair    // newest first
	last  time.Time // timestamp of the newest pair
	file  string    // file holding the newest pair
	files int       // number of files the run spans
	open  bool      // the run reached the first row of the last scanned file
}

func (r *referenceRun) add(file string, t time.Time, p Pair) {
	if len(r.pairs) == 0 {
		r.last, r.file = t, file
	}
	r.pairs = append(r.pairs, p)
}

func (r *referenceRun) block() Block {
	pairs := slices.Clone(r.pairs)
	slices.Reverse(pairs)
	return Block{Pairs: pairs, Last: r.last}
}

// scanRun walks records, which must be ordered by time and use unprefixed
// field names, backwards from the last row before cutoff. It reports whether
// run is complete; an open run may continue in the preceding file.
func (e *Engine) scanRun(file string, records []ferrybox.Record, cutoff time.Time, run *referenceRun) bool {
	i := len(records) - 1
	for i >= 0 && !records[i].Time.Before(cutoff) {
		i--
	}

	for i >= 0 {
		if !run.open {
			for i >= 0 && !e.isReference(records[i]) {
				i--
			}
			if i < 0 {
				return false
			}
			run.open = true
		}

		if e.isReference(records[i]) {
			run.files++
		}
		for ; i >= 0 && e.isReference(records[i]); i-- {
			ref, okRef := records[i].Float(stream.FieldStandardValue)
			measured, okMeasured := records[i].Float(stream.FieldRawMoleFraction)
			if okRef && okMeasured {
				run.add(file, records[i].Time, Pair{Reference: ref, Measured: measured})
			}
		}
		if i < 0 {
			return false
		}

		run.open = false
		if len(run.pairs) > 0 {
			return true
		}
		// A run without usable values is skipped and the search goes on.
		run.files = 0
	}
	return false
}

func (e *Engine) isReference(r ferrybox.Record) bool {
	return e.predicate.IsReference(r.Fields[stream.FieldType])
}

func (e *Engine) logFit(msg string, s State, pairs int, attrs ...any) {
	attrs = append(attrs,
		slog.Int("pairs", pairs),
		slog.Float64("k", s.Coefficients.K),
		slog.Float64("m", s.Coefficients.M),
		slog.Time("standardTime", s.StandardTime))

	if Degenerate(s.Coefficients) {
		e.logger.Warn("degenerate "+msg, attrs...)
		return
	}
	e.logger.Debug(msg, attrs...)
}

func value(fields map[string]string, name string) float64 {
	v, ok := ferrybox.ParseFloat(fields, name)
	if !ok {
		return math.NaN()
	}
	return v
}
