package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/roman-kulish/ferrybox-co2/internal/calibration"
	"github.com/roman-kulish/ferrybox-co2/internal/catalog"
	"github.com/roman-kulish/ferrybox-co2/internal/ferrybox"
	"github.com/roman-kulish/ferrybox-co2/internal/physics"
	"github.com/roman-kulish/ferrybox-co2/internal/reconcile"
	"github.com/roman-kulish/ferrybox-co2/internal/storage"
	"github.com/roman-kulish/ferrybox-co2/internal/window"
)

// Result is the outcome of processing one window.
type Result struct {
	Window      window.Window
	Records     []ferrybox.MergedRecord
	Gaps        []ferrybox.GapInterval
	Corrupted   []storage.CorruptedFile
	Calibration calibration.State
}

// Calibrated returns the number of records carrying a calibration.
func (r *Result) Calibrated() int {
	var n int
	for i := range r.Records {
		if r.Records[i].Calibration != nil {
			n++
		}
	}
	return n
}

// Matched returns the number of navigation records paired with an
// analyzer row.
func (r *Result) Matched() int {
	var n int
	for i := range r.Records {
		if r.Records[i].Matched() {
			n++
		}
	}
	return n
}

// Pipeline runs the processing steps of a window: scan both catalogs,
// extract the window, merge, calibrate, derive and persist.
type Pipeline struct {
	config *Config
	store  storage.Store
	logger *slog.Logger
}

// NewPipeline creates a Pipeline persisting to store.
func NewPipeline(config *Config, store storage.Store, logger *slog.Logger) *Pipeline {
	return &Pipeline{config: config, store: store, logger: logger}
}

// Process runs every step except persistence. Any error is fatal to the
// window; corrupted files are skipped and reported in the Result.
func (p *Pipeline) Process(ctx context.Context) (*Result, error) {
	w := p.config.TimeWindow()
	if err := w.Validate(); err != nil {
		return nil, err
	}
	logger := p.logger.With(slog.String("window", w.String()))

	navCatalog, co2Catalog, err := p.scan(ctx)
	if err != nil {
		return nil, err
	}

	navTable, co2Table, err := window.ExtractBoth(ctx,
		window.NewExtractor(navCatalog, logger),
		window.NewExtractor(co2Catalog, logger),
		w)
	if err != nil {
		return nil, fmt.Errorf("extracting window %s: %w", w, err)
	}

	records, err := reconcile.Merge(navTable, co2Table, w.Tolerance)
	if err != nil {
		return nil, fmt.Errorf("window %s: %w", w, err)
	}

	engine := calibration.NewEngine(co2Catalog,
		calibration.WithLogger(logger),
		calibration.WithReferencePredicate(p.config.ReferencePredicate()))

	state, err := engine.Run(ctx, records)
	if err != nil {
		return nil, fmt.Errorf("calibrating window %s: %w", w, err)
	}

	physics.Derive(records, navCatalog.Kind().Prefix(), co2Catalog.Kind().Prefix())

	result := &Result{
		Window:      w,
		Records:     records,
		Calibration: state,
	}
	for _, t := range []*window.Table{navTable, co2Table} {
		result.Gaps = append(result.Gaps, t.Gaps...)
		for _, f := range t.Corrupted {
			result.Corrupted = append(result.Corrupted, storage.CorruptedFile{
				Stream: f.Stream,
				Name:   f.Name,
				Reason: f.Err.Error(),
			})
		}
	}
	for _, c := range []*catalog.Catalog{navCatalog, co2Catalog} {
		for _, f := range c.Invalid() {
			result.Corrupted = append(result.Corrupted, storage.CorruptedFile{
				Stream: c.Kind().Name(),
				Name:   f.Name,
				Reason: f.Err.Error(),
			})
		}
	}

	logger.Info("processed window",
		slog.String("records", humanize.Comma(int64(len(result.Records)))),
		slog.String("matched", humanize.Comma(int64(result.Matched()))),
		slog.String("calibrated", humanize.Comma(int64(result.Calibrated()))),
		slog.Int("gaps", len(result.Gaps)),
		slog.Int("corrupted", len(result.Corrupted)),
		slog.Group("calibration",
			slog.String("phase", state.Phase.String()),
			slog.Float64("k", state.Coefficients.K),
			slog.Float64("m", state.Coefficients.M)))

	return result, nil
}

func (p *Pipeline) scan(ctx context.Context) (navCatalog, co2Catalog *catalog.Catalog, err error) {
	navKind, co2Kind, err := p.config.Kinds()
	if err != nil {
		return nil, nil, err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		navCatalog, err = catalog.Scan(ctx, navKind, p.config.Catalogs.Navigation.Directory, p.logger)
		return
	})
	g.Go(func() (err error) {
		co2Catalog, err = catalog.Scan(ctx, co2Kind, p.config.Catalogs.Analyzer.Directory, p.logger)
		return
	})
	if err = g.Wait(); err != nil {
		return nil, nil, fmt.Errorf("scanning catalogs: %w", err)
	}
	return navCatalog, co2Catalog, nil
}

// Persist stores a processed window as a new run and returns its id.
func (p *Pipeline) Persist(ctx context.Context, result *Result) (string, error) {
	w := result.Window
	runID, err := p.store.CreateRun(ctx, w.Start, w.End, w.Tolerance, p.config)
	if err != nil {
		return "", fmt.Errorf("creating run: %w", err)
	}

	steps := []struct {
		msg string
		fn  func(context.Context, string) error
	}{
		{msg: "storing merged records", fn: func(ctx context.Context, id string) error {
			return p.store.StoreMergedRecords(ctx, id, result.Records)
		}},
		{msg: "storing gaps", fn: func(ctx context.Context, id string) error {
			return p.store.StoreGaps(ctx, id, result.Gaps)
		}},
		{msg: "storing corrupted files", fn: func(ctx context.Context, id string) error {
			return p.store.StoreCorruptedFiles(ctx, id, result.Corrupted)
		}},
	}
	for _, s := range steps {
		if err = s.fn(ctx, runID); err != nil {
			return runID, fmt.Errorf("%s: %w", s.msg, err)
		}
	}

	p.logger.Info("stored run",
		slog.String("run", runID),
		slog.String("records", humanize.Comma(int64(len(result.Records)))))

	return runID, nil
}
