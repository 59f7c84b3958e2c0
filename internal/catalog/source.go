package catalog

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/roman-kulish/ferrybox-co2/internal/dedup"
	"github.com/roman-kulish/ferrybox-co2/internal/ferrybox"
	"github.com/roman-kulish/ferrybox-co2/internal/stream"
)

// SourceFile is one on-disk log file of one stream.
type SourceFile struct {
	Name  string      // File name, unique within a catalog
	Path  string      // Full path to the file
	Kind  stream.Kind // Stream the file belongs to
	Start time.Time   // Timestamp of the first row
	End   time.Time   // Timestamp of the last row
	Size  int64       // File size in bytes
	Rows  int         // Number of parsed rows, duplicates included
	Err   error       // Why the file is not usable, nil for valid files
}

// Valid reports whether the file parsed cleanly and has at least one row.
func (f *SourceFile) Valid() bool {
	return f.Err == nil
}

// Corrupted reports whether the file was rejected for inconsistent column
// counts.
func (f *SourceFile) Corrupted() bool {
	return errors.Is(f.Err, ferrybox.ErrCorruptedFile)
}

// Covers reports whether t lies within [Start, End].
func (f *SourceFile) Covers(t time.Time) bool {
	return !t.Before(f.Start) && !t.After(f.End)
}

func (f *SourceFile) String() string {
	return f.Name
}

// OpenSourceFile parses path to determine its time range and validity. Parse
// failures are kept on the returned file rather than returned, so a single
// bad file never aborts a directory scan. Only I/O errors on stat are
// returned.
func OpenSourceFile(kind stream.Kind, path string) (*SourceFile, error) {
	stat, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("reading file info: %w", err)
	}

	f := &SourceFile{
		Name: filepath.Base(path),
		Path: path,
		Kind: kind,
		Size: stat.Size(),
	}

	records, err := f.parse()
	if err != nil {
		f.Err = err
		return f, nil
	}
	if len(records) == 0 {
		f.Err = errors.New("file has no rows")
		return f, nil
	}

	f.Rows = len(records)
	f.Start = records[0].Time
	f.End = records[len(records)-1].Time
	return f, nil
}

// Load parses the file and removes duplicate timestamps. It returns the
// surviving records and the gaps the removal created.
func (f *SourceFile) Load() ([]ferrybox.Record, []ferrybox.GapInterval, error) {
	if f.Err != nil {
		return nil, nil, fmt.Errorf("loading %s file %s: %w", f.Kind.Name(), f.Name, f.Err)
	}

	records, err := f.parse()
	if err != nil {
		return nil, nil, fmt.Errorf("loading %s file %s: %w", f.Kind.Name(), f.Name, err)
	}

	kept, gaps := dedup.Deduplicate(f.Kind.Name(), records)
	return kept, gaps, nil
}

func (f *SourceFile) parse() (records []ferrybox.Record, err error) {
	fh, err := os.Open(f.Path)
	if err != nil {
		return nil, fmt.Errorf("opening file: %w", err)
	}
	defer closeWithError(fh, &err)

	return f.Kind.Parse(fh)
}

func closeWithError(cl interface{ Close() error }, err *error) {
	if cErr := cl.Close(); cErr != nil && *err == nil {
		*err = cErr
	}
}
