package storage

import (
	"time"
)

// Run describes one processed window.
type Run struct {
	ID          string
	CreatedAt   time.Time
	WindowStart time.Time
	WindowEnd   time.Time
	Tolerance   time.Duration
	Config      *string // JSON encoded processor configuration
}

// CorruptedFile is a source file skipped while processing a run.
type CorruptedFile struct {
	Stream string
	Name   string
	Reason string
}

// Summary aggregates the merged records of a run.
type Summary struct {
	Records    int64
	Matched    int64
	Calibrated int64
	From       time.Time // Zero when the run has no records
	To         time.Time
}
