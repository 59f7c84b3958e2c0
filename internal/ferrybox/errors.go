package ferrybox

import "errors"

var (
	// ErrCorruptedFile indicates that a source file has rows whose arity does
	// not match its header. Such files are skipped, never merged.
	ErrCorruptedFile = errors.New("corrupted file")

	// ErrNoValidFiles indicates that a directory scan found no usable file.
	ErrNoValidFiles = errors.New("no valid files")

	// ErrNoDataInWindow indicates that a stream has no rows inside the
	// tolerance-expanded time window.
	ErrNoDataInWindow = errors.New("no data in time window")

	// ErrMissingStream indicates that one of the streams handed to the
	// reconciler is empty.
	ErrMissingStream = errors.New("missing stream data")

	// ErrNoMatchWhenMerging indicates that no analyzer row lies within
	// tolerance of any navigation row.
	ErrNoMatchWhenMerging = errors.New("no match when merging")

	// ErrNoReferenceData indicates that the calibration lookback exhausted the
	// catalog without finding a block of standard gas rows.
	ErrNoReferenceData = errors.New("no reference data found")

	// ErrCatalogInconsistency indicates that more than one file claims to
	// cover a single timestamp.
	ErrCatalogInconsistency = errors.New("catalog inconsistency")
)
