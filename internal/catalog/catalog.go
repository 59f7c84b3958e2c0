package catalog

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/roman-kulish/ferrybox-co2/internal/ferrybox"
	"github.com/roman-kulish/ferrybox-co2/internal/stream"
)

// Catalog is the chronological index of all files of one stream. It is
// read-only once built and may be shared between goroutines.
type Catalog struct {
	kind    stream.Kind
	dir     string
	files   []*SourceFile // valid files ordered by Start, then Name
	invalid []*SourceFile // files rejected during the scan
}

// New builds a catalog from already opened files. Invalid files are set
// aside; the remaining ones are ordered by start time.
func New(kind stream.Kind, files ...*SourceFile) *Catalog {
	c := &Catalog{kind: kind}
	for _, f := range files {
		if f.Valid() {
			c.files = append(c.files, f)
		} else {
			c.invalid = append(c.invalid, f)
		}
	}

	slices.SortStableFunc(c.files, func(a, b *SourceFile) int {
		if n := a.Start.Compare(b.Start); n != 0 {
			return n
		}
		return strings.Compare(a.Name, b.Name)
	})
	return c
}

// Scan indexes every file in dir, non-recursively, whose name matches the
// stream's naming convention. Files are parsed concurrently. Per-file
// failures are recorded and logged; Scan fails only when the directory
// cannot be read or no valid file remains.
func Scan(ctx context.Context, kind stream.Kind, dir string, logger *slog.Logger) (*Catalog, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading %s directory '%s': %w", kind.Name(), dir, err)
	}

	var paths []string
	for _, entry := range entries {
		if entry.Type().IsRegular() && kind.Matches(entry.Name()) {
			paths = append(paths, filepath.Join(dir, entry.Name()))
		}
	}

	files := make([]*SourceFile, len(paths))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for i, path := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			f, err := OpenSourceFile(kind, path)
			if err != nil {
				return fmt.Errorf("opening %s: %w", path, err)
			}
			files[i] = f
			return nil
		})
	}
	if err = g.Wait(); err != nil {
		return nil, fmt.Errorf("scanning %s directory '%s': %w", kind.Name(), dir, err)
	}

	c := New(kind, files...)
	c.dir = dir

	var size int64
	for _, f := range c.files {
		size += f.Size
	}
	for _, f := range c.invalid {
		logger.Warn("skipping invalid file",
			slog.String("stream", kind.Name()),
			slog.String("file", f.Name),
			slog.Bool("corrupted", f.Corrupted()),
			slog.String("error", f.Err.Error()))
	}

	if len(c.files) == 0 {
		return nil, fmt.Errorf("scanning %s directory '%s': %w", kind.Name(), dir, ferrybox.ErrNoValidFiles)
	}

	logger.Info("indexed files",
		slog.String("stream", kind.Name()),
		slog.String("directory", dir),
		slog.Int("valid", len(c.files)),
		slog.Int("invalid", len(c.invalid)),
		slog.String("size", humanize.Bytes(uint64(size))),
		slog.String("from", c.files[0].Start.Format(time.DateTime)),
		slog.String("to", c.files[len(c.files)-1].End.Format(time.DateTime)))

	return c, nil
}

// Kind returns the stream the catalog indexes.
func (c *Catalog) Kind() stream.Kind {
	return c.kind
}

// Files returns the valid files in chronological order.
func (c *Catalog) Files() []*SourceFile {
	return slices.Clone(c.files)
}

// Invalid returns the files rejected while scanning.
func (c *Catalog) Invalid() []*SourceFile {
	return slices.Clone(c.invalid)
}

// FileID returns the file whose time range covers t, or nil if there is
// none. More than one covering file is a ferrybox.ErrCatalogInconsistency.
func (c *Catalog) FileID(t time.Time) (*SourceFile, error) {
	var found []*SourceFile
	for _, f := range c.files {
		if f.Start.After(t) {
			break
		}
		if f.Covers(t) {
			found = append(found, f)
		}
	}

	switch len(found) {
	case 0:
		return nil, nil
	case 1:
		return found[0], nil
	}

	names := make([]string, len(found))
	for i, f := range found {
		names[i] = f.Name
	}
	return nil, fmt.Errorf("%w: %s files %s all cover %s",
		ferrybox.ErrCatalogInconsistency, c.kind.Name(), strings.Join(names, ", "), t.Format(time.RFC3339))
}

// Previous returns the file preceding f in the catalog, or nil when f is the
// first file or not part of the catalog.
func (c *Catalog) Previous(f *SourceFile) *SourceFile {
	i := slices.Index(c.files, f)
	if i <= 0 {
		return nil
	}
	return c.files[i-1]
}

// PreviousBefore returns the last file, in catalog order, whose range ends
// before t.
func (c *Catalog) PreviousBefore(t time.Time) *SourceFile {
	for i := len(c.files) - 1; i >= 0; i-- {
		if c.files[i].End.Before(t) {
			return c.files[i]
		}
	}
	return nil
}

// Overlapping returns the files whose time range intersects [from, to].
func (c *Catalog) Overlapping(from, to time.Time) []*SourceFile {
	var out []*SourceFile
	for _, f := range c.files {
		if f.Start.After(to) {
			break
		}
		if !f.End.Before(from) {
			out = append(out, f)
		}
	}
	return out
}

// Preceding returns the files to search, newest first, for data recorded
// before t: the file covering t, or if none the last file ending before t,
// followed by each of its predecessors. The sequence is lazy and the
// catalog is never modified.
func (c *Catalog) Preceding(t time.Time) (iter.Seq[*SourceFile], error) {
	start, err := c.FileID(t)
	if err != nil {
		return nil, err
	}
	if start == nil {
		start = c.PreviousBefore(t)
	}

	return func(yield func(*SourceFile) bool) {
		for f := start; f != nil; f = c.Previous(f) {
			if !yield(f) {
				return
			}
		}
	}, nil
}
