package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/roman-kulish/ferrybox-co2/internal/ferrybox"
	"github.com/roman-kulish/ferrybox-co2/internal/storage"
)

// Run prints the stored runs, or the details of one run, to out.
func Run(ctx context.Context, config *Config, out io.Writer, logger *slog.Logger) error {
	if _, err := os.Stat(config.DBPath); err != nil {
		return fmt.Errorf("opening database: %w", err)
	}

	store := storage.NewSqliteStore(config.DBPath)
	defer store.Close()

	if config.RunID == "" {
		return listRuns(ctx, store, out)
	}

	logger.Debug("describing run", slog.String("run", config.RunID))
	if err := describeRun(ctx, store, config.RunID, out); err != nil {
		return err
	}
	if !config.Records {
		return nil
	}
	return printRecords(ctx, store, config, out)
}

func listRuns(ctx context.Context, store storage.Store, out io.Writer) error {
	runs, err := store.Runs(ctx)
	if err != nil {
		return fmt.Errorf("loading runs: %w", err)
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tCREATED\tWINDOW START\tWINDOW END\tTOLERANCE\tRECORDS\tCALIBRATED")
	for _, run := range runs {
		summary, err := store.Summary(ctx, run.ID)
		if err != nil {
			return fmt.Errorf("summarising run %s: %w", run.ID, err)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			run.ID,
			humanize.Time(run.CreatedAt),
			run.WindowStart.Format(time.RFC3339),
			run.WindowEnd.Format(time.RFC3339),
			run.Tolerance,
			humanize.Comma(summary.Records),
			humanize.Comma(summary.Calibrated))
	}
	return tw.Flush()
}

func describeRun(ctx context.Context, store storage.Store, runID string, out io.Writer) error {
	run, err := store.Run(ctx, runID)
	if err != nil {
		return err
	}
	summary, err := store.Summary(ctx, runID)
	if err != nil {
		return fmt.Errorf("summarising run %s: %w", runID, err)
	}
	gaps, err := store.Gaps(ctx, runID)
	if err != nil {
		return fmt.Errorf("loading gaps of run %s: %w", runID, err)
	}
	files, err := store.CorruptedFiles(ctx, runID)
	if err != nil {
		return fmt.Errorf("loading corrupted files of run %s: %w", runID, err)
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Run:\t%s\n", run.ID)
	fmt.Fprintf(tw, "Created:\t%s (%s)\n", run.CreatedAt.Format(time.RFC3339), humanize.Time(run.CreatedAt))
	fmt.Fprintf(tw, "Window:\t%s to %s ±%s\n", run.WindowStart.Format(time.RFC3339), run.WindowEnd.Format(time.RFC3339), run.Tolerance)
	fmt.Fprintf(tw, "Records:\t%s\n", humanize.Comma(summary.Records))
	fmt.Fprintf(tw, "Matched:\t%s\n", humanize.Comma(summary.Matched))
	fmt.Fprintf(tw, "Calibrated:\t%s\n", humanize.Comma(summary.Calibrated))
	if summary.Records > 0 {
		fmt.Fprintf(tw, "Data:\t%s to %s\n", summary.From.Format(time.RFC3339), summary.To.Format(time.RFC3339))
	}
	fmt.Fprintf(tw, "Gaps:\t%d\n", len(gaps))
	for _, g := range gaps {
		fmt.Fprintf(tw, "\t%s\n", g)
	}
	fmt.Fprintf(tw, "Corrupted files:\t%d\n", len(files))
	for _, f := range files {
		fmt.Fprintf(tw, "\t%s %s: %s\n", f.Stream, f.Name, f.Reason)
	}
	return tw.Flush()
}

func printRecords(ctx context.Context, store storage.Store, config *Config, out io.Writer) (err error) {
	var opts []storage.ReaderOption
	if config.From != nil {
		opts = append(opts, storage.WithTimeRange(*config.From, *config.To))
	}
	if config.CalibratedOnly {
		opts = append(opts, storage.WithCalibratedOnly())
	}

	reader, err := store.ReadRecords(ctx, config.RunID, opts...)
	if err != nil {
		return fmt.Errorf("reading records: %w", err)
	}
	defer func() {
		if cErr := reader.Close(); cErr != nil && err == nil {
			err = cErr
		}
	}()

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tLAT\tLON\tDIFF_TIME\tXCO2\tPCO2\tFCO2")
	for reader.Next(ctx) {
		rec := reader.Current()
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			rec.Time.Format(time.RFC3339),
			formatPtr(rec.Lat, 5),
			formatPtr(rec.Lon, 5),
			formatPtr(rec.DiffTime, 0),
			formatCalibration(rec),
			formatPhysical(rec, func(p *ferrybox.Physical) float64 { return p.PCO2 }),
			formatPhysical(rec, func(p *ferrybox.Physical) float64 { return p.FCO2 }))
	}
	if err = reader.Error(); err != nil && !errors.Is(err, storage.ErrNoData) {
		return fmt.Errorf("reading records: %w", err)
	}
	return tw.Flush()
}

func formatPtr(v *float64, decimals int) string {
	if v == nil {
		return "-"
	}
	return format(*v, decimals)
}

func format(v float64, decimals int) string {
	if math.IsNaN(v) {
		return "-"
	}
	return humanize.FtoaWithDigits(v, decimals)
}

func formatCalibration(rec *ferrybox.MergedRecord) string {
	if rec.Calibration == nil {
		return "-"
	}
	return format(rec.Calibration.CorrectedMoleFraction, 2)
}

func formatPhysical(rec *ferrybox.MergedRecord, value func(*ferrybox.Physical) float64) string {
	if rec.Physical == nil {
		return "-"
	}
	return format(value(rec.Physical), 2)
}
