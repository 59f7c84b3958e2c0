package catalog

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roman-kulish/ferrybox-co2/internal/ferrybox"
	"github.com/roman-kulish/ferrybox-co2/internal/stream"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func navigationDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, dir, "01-mit.txt", "timestamp\tlat\n2024-05-01 10:00:00\t54.1\n2024-05-01 10:59:00\t54.2\n")
	writeFile(t, dir, "02-mit.txt", "timestamp\tlat\n2024-05-01 11:00:00\t54.3\n2024-05-01 11:59:00\t54.4\n")
	writeFile(t, dir, "03-mit.txt", "timestamp\tlat\n2024-05-01 13:00:00\t54.5\n2024-05-01 13:59:00\t54.6\n")
	writeFile(t, dir, "04-mit.txt", "timestamp\tlat\tlon\n2024-05-01 14:00:00\t54.5\n")
	writeFile(t, dir, "notes.txt", "not a log")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub-mit.txt"), 0o755))
	return dir
}

func at(hour, minute int) time.Time {
	return time.Date(2024, 5, 1, hour, minute, 0, 0, time.UTC)
}

func names(files []*SourceFile) []string {
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.Name
	}
	return out
}

func TestScan(t *testing.T) {
	kind, err := stream.NewNavigation()
	require.NoError(t, err)

	c, err := Scan(context.Background(), kind, navigationDir(t), discard)
	require.NoError(t, err)

	assert.Equal(t, []string{"01-mit.txt", "02-mit.txt", "03-mit.txt"}, names(c.Files()))

	invalid := c.Invalid()
	require.Len(t, invalid, 1)
	assert.Equal(t, "04-mit.txt", invalid[0].Name)
	assert.True(t, invalid[0].Corrupted())
	assert.ErrorIs(t, invalid[0].Err, ferrybox.ErrCorruptedFile)

	first := c.Files()[0]
	assert.Equal(t, at(10, 0), first.Start)
	assert.Equal(t, at(10, 59), first.End)
	assert.Equal(t, 2, first.Rows)
}

func TestScan_NoValidFiles(t *testing.T) {
	kind, err := stream.NewAnalyzer()
	require.NoError(t, err)

	dir := t.TempDir()
	writeFile(t, dir, "01dat.txt", "timestamp\ttype\n")

	_, err = Scan(context.Background(), kind, dir, discard)
	assert.ErrorIs(t, err, ferrybox.ErrNoValidFiles)

	_, err = Scan(context.Background(), kind, filepath.Join(dir, "missing"), discard)
	assert.Error(t, err)
}

func TestCatalog_Lookups(t *testing.T) {
	kind, err := stream.NewNavigation()
	require.NoError(t, err)

	c, err := Scan(context.Background(), kind, navigationDir(t), discard)
	require.NoError(t, err)
	files := c.Files()

	f, err := c.FileID(at(11, 30))
	require.NoError(t, err)
	assert.Equal(t, "02-mit.txt", f.Name)

	f, err = c.FileID(at(12, 30))
	require.NoError(t, err)
	assert.Nil(t, f)

	assert.Equal(t, files[1], c.Previous(files[2]))
	assert.Nil(t, c.Previous(files[0]))
	assert.Equal(t, files[1], c.PreviousBefore(at(12, 30)))
	assert.Nil(t, c.PreviousBefore(at(10, 0)))

	assert.Equal(t, []string{"02-mit.txt", "03-mit.txt"}, names(c.Overlapping(at(11, 59), at(13, 0))))
	assert.Empty(t, c.Overlapping(at(12, 0), at(12, 59)))
}

func TestCatalog_Preceding(t *testing.T) {
	kind, err := stream.NewNavigation()
	require.NoError(t, err)

	c, err := Scan(context.Background(), kind, navigationDir(t), discard)
	require.NoError(t, err)

	seq, err := c.Preceding(at(13, 30))
	require.NoError(t, err)
	assert.Equal(t, []string{"03-mit.txt", "02-mit.txt", "01-mit.txt"}, names(slices.Collect(seq)))

	seq, err = c.Preceding(at(12, 30))
	require.NoError(t, err)
	assert.Equal(t, []string{"02-mit.txt", "01-mit.txt"}, names(slices.Collect(seq)))

	seq, err = c.Preceding(at(9, 0))
	require.NoError(t, err)
	assert.Empty(t, slices.Collect(seq))
}

func TestCatalog_Inconsistency(t *testing.T) {
	kind, err := stream.NewNavigation()
	require.NoError(t, err)

	c := New(kind,
		&SourceFile{Name: "a", Kind: kind, Start: at(10, 0), End: at(11, 0)},
		&SourceFile{Name: "b", Kind: kind, Start: at(10, 30), End: at(12, 0)},
	)

	_, err = c.FileID(at(10, 45))
	assert.ErrorIs(t, err, ferrybox.ErrCatalogInconsistency)

	_, err = c.Preceding(at(10, 45))
	assert.ErrorIs(t, err, ferrybox.ErrCatalogInconsistency)

	f, err := c.FileID(at(11, 30))
	require.NoError(t, err)
	assert.Equal(t, "b", f.Name)
}

func TestSourceFile_Load(t *testing.T) {
	kind, err := stream.NewAnalyzer()
	require.NoError(t, err)

	dir := t.TempDir()
	path := writeFile(t, dir, "01dat.txt", "timestamp\ttype\n"+
		"2024-05-01 10:00:00\tEQU\n"+
		"2024-05-01 10:01:00\tEQU\n"+
		"2024-05-01 10:01:00\tEQU\n"+
		"2024-05-01 10:01:00\tEQU\n"+
		"2024-05-01 10:02:00\tEQU\n")

	f, err := OpenSourceFile(kind, path)
	require.NoError(t, err)
	require.True(t, f.Valid())
	assert.Equal(t, 5, f.Rows)

	records, gaps, err := f.Load()
	require.NoError(t, err)
	assert.Len(t, records, 2)
	require.Len(t, gaps, 1)
	assert.Equal(t, ferrybox.At(at(10, 0)), gaps[0].From)
	assert.Equal(t, ferrybox.At(at(10, 2)), gaps[0].To)

	bad := &SourceFile{Name: "x", Kind: kind, Err: ferrybox.ErrCorruptedFile}
	_, _, err = bad.Load()
	assert.ErrorIs(t, err, ferrybox.ErrCorruptedFile)
}
