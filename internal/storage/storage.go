// Package storage persists processed windows: the merged, calibrated
// records of a run together with the gaps and corrupted files met while
// producing them.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/roman-kulish/ferrybox-co2/internal/ferrybox"
)

// ErrNoData indicates that a run has no stored records matching the reader
// filters.
var ErrNoData = errors.New("no data available")

// ErrRunNotFound is returned when a run id is unknown.
var ErrRunNotFound = errors.New("run not found")

// Store manages the persistence of processed windows. Each run is
// identified by a UUID assigned on creation.
type Store interface {
	// CreateRun registers a new run for the window [start, end] processed
	// with the given tolerance. config is optional and may be a string,
	// []byte or any JSON-serializable value.
	CreateRun(ctx context.Context, start, end time.Time, tolerance time.Duration, config any) (runID string, err error)

	// Run returns a run by id, or ErrRunNotFound.
	Run(ctx context.Context, runID string) (*Run, error)

	// Runs returns all runs ordered by creation time.
	Runs(ctx context.Context) ([]*Run, error)

	// StoreMergedRecords saves the records of a run in a single
	// transaction, in batches.
	StoreMergedRecords(ctx context.Context, runID string, records []ferrybox.MergedRecord) error

	// StoreGaps saves the gap intervals of a run.
	StoreGaps(ctx context.Context, runID string, gaps []ferrybox.GapInterval) error

	// StoreCorruptedFiles saves the files skipped while processing a run.
	StoreCorruptedFiles(ctx context.Context, runID string, files []CorruptedFile) error

	// Gaps returns the gap intervals of a run in insertion order.
	Gaps(ctx context.Context, runID string) ([]ferrybox.GapInterval, error)

	// CorruptedFiles returns the files skipped while processing a run.
	CorruptedFiles(ctx context.Context, runID string) ([]CorruptedFile, error)

	// Summary aggregates the stored records of a run.
	Summary(ctx context.Context, runID string) (*Summary, error)

	// ReadRecords returns a reader over the stored records of a run in
	// time order. The reader must be closed after use.
	ReadRecords(ctx context.Context, runID string, opts ...ReaderOption) (RecordReader, error)

	Close() error
}

// RecordReader iterates over stored merged records.
type RecordReader interface {
	// Run returns the run the reader is accessing.
	Run() *Run

	// Next advances to the next record. It returns false at the end of the
	// data or on error.
	Next(context.Context) bool

	// Current returns the record read by the last call to Next.
	Current() *ferrybox.MergedRecord

	// Error returns the error that stopped the iteration, if any.
	Error() error

	Close() error
}
