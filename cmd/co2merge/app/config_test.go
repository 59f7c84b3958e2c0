package app

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roman-kulish/ferrybox-co2/internal/storage"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
settings:
  logLevel: debug
catalogs:
  navigation:
    directory: /data/nav
  analyzer:
    directory: /data/co2
    pattern: '(?i)licor.*\.txt$'
    delimiter: ","
window:
  start: 2024-05-01T12:00:00Z
  end: 2024-05-01T13:00:00Z
  tolerance: 30s
calibration:
  referencePrefix: CAL
  excludedSuffixes: [DRAIN]
storage:
  dataDirectory: out
  maxBatchSize: 200
`)

	config, err := LoadConfig(path)
	require.NoError(t, err)

	level, err := config.LogLevel()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)

	w := config.TimeWindow()
	assert.Equal(t, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC), w.Start)
	assert.Equal(t, time.Date(2024, 5, 1, 13, 0, 0, 0, time.UTC), w.End)
	assert.Equal(t, 30*time.Second, w.Tolerance)

	p := config.ReferencePredicate()
	assert.True(t, p.IsReference("CAL1"))
	assert.False(t, p.IsReference("CAL1-DRAIN"))
	assert.False(t, p.IsReference("STD1"))

	nav, co2, err := config.Kinds()
	require.NoError(t, err)
	assert.True(t, nav.Matches("mit_20240501.txt"))
	assert.True(t, co2.Matches("licor_20240501.txt"))
	assert.False(t, co2.Matches("dat_20240501.txt"))

	assert.Equal(t, "out", config.Storage.DataDirectory)
	assert.Equal(t, 200, config.Storage.MaxBatchSize)
}

func TestLoadConfig_Defaults(t *testing.T) {
	path := writeConfig(t, `
catalogs:
  navigation:
    directory: nav
  analyzer:
    directory: co2
window:
  start: 2024-05-01T12:00:00Z
  end: 2024-05-01T13:00:00Z
`)

	config, err := LoadConfig(path)
	require.NoError(t, err)

	level, err := config.LogLevel()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelInfo, level)
	assert.Equal(t, "STD", config.Calibration.ReferencePrefix)
	assert.Equal(t, []string{"DRAIN", "SUSPECT"}, config.Calibration.ExcludedSuffixes)
	assert.Equal(t, defaultStorageDir, config.Storage.DataDirectory)
	assert.Equal(t, storage.DefaultMaxBatchSize, config.Storage.MaxBatchSize)
	assert.Zero(t, config.TimeWindow().Tolerance)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name: "missing directories",
			content: `
window:
  start: 2024-05-01T12:00:00Z
  end: 2024-05-01T13:00:00Z
`,
			wantErr: "catalogs.navigation.directory is required",
		},
		{
			name: "start after end",
			content: `
catalogs:
  navigation: {directory: nav}
  analyzer: {directory: co2}
window:
  start: 2024-05-01T14:00:00Z
  end: 2024-05-01T13:00:00Z
`,
			wantErr: "is after end",
		},
		{
			name: "bad log level",
			content: `
settings: {logLevel: loud}
catalogs:
  navigation: {directory: nav}
  analyzer: {directory: co2}
window:
  start: 2024-05-01T12:00:00Z
  end: 2024-05-01T13:00:00Z
`,
			wantErr: "settings.logLevel",
		},
		{
			name: "long delimiter",
			content: `
catalogs:
  navigation: {directory: nav, delimiter: ";;"}
  analyzer: {directory: co2}
window:
  start: 2024-05-01T12:00:00Z
  end: 2024-05-01T13:00:00Z
`,
			wantErr: "catalogs.navigation.delimiter",
		},
		{
			name: "unknown field",
			content: `
catalogs:
  navigation: {directory: nav}
  analyzer: {directory: co2}
  radar: {directory: radar}
`,
			wantErr: "radar",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.content))
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}

	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
