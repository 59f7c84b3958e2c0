package app

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"github.com/roman-kulish/ferrybox-co2/internal/storage"
	"github.com/roman-kulish/ferrybox-co2/internal/stream"
	"github.com/roman-kulish/ferrybox-co2/internal/window"
)

const (
	defaultStorageDir = "data"

	// DatabaseFile is the name of the run database inside the storage
	// directory.
	DatabaseFile = "co2merge.sqlite"
)

// Config represents the processor configuration
type Config struct {
	Settings    Settings          `yaml:"settings" json:"settings"`
	Catalogs    CatalogsConfig    `yaml:"catalogs" json:"catalogs"`
	Window      WindowConfig      `yaml:"window" json:"window"`
	Calibration CalibrationConfig `yaml:"calibration" json:"calibration"`
	Storage     StorageConfig     `yaml:"storage" json:"storage"`
}

// Settings represents global application settings
type Settings struct {
	LogLevel string `yaml:"logLevel" json:"logLevel"`
}

// CatalogsConfig locates the files of both streams.
type CatalogsConfig struct {
	Navigation StreamConfig `yaml:"navigation" json:"navigation"`
	Analyzer   StreamConfig `yaml:"analyzer" json:"analyzer"`
}

// StreamConfig describes where the files of one stream live and how they
// are named and delimited. Empty values keep the stream defaults.
type StreamConfig struct {
	Directory string `yaml:"directory" json:"directory"`
	Pattern   string `yaml:"pattern" json:"pattern,omitempty"`
	Delimiter string `yaml:"delimiter" json:"delimiter,omitempty"`
}

// WindowConfig is the time window to process.
type WindowConfig struct {
	Start     time.Time     `yaml:"start" json:"start"`
	End       time.Time     `yaml:"end" json:"end"`
	Tolerance time.Duration `yaml:"tolerance" json:"tolerance"`
}

// CalibrationConfig selects the analyzer rows used as standard gas
// references.
type CalibrationConfig struct {
	ReferencePrefix  string   `yaml:"referencePrefix" json:"referencePrefix"`
	ExcludedSuffixes []string `yaml:"excludedSuffixes" json:"excludedSuffixes"`
}

// StorageConfig represents storage settings
type StorageConfig struct {
	DataDirectory string `yaml:"dataDirectory" json:"dataDirectory"`
	MaxBatchSize  int    `yaml:"maxBatchSize" json:"maxBatchSize"`
}

// LoadConfig reads, defaults and validates the configuration file at path.
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening configuration: %w", err)
	}
	defer f.Close()

	var config Config
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err = dec.Decode(&config); err != nil {
		return nil, fmt.Errorf("decoding configuration: %w", err)
	}

	config.setDefaults()
	if err = config.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}
	return &config, nil
}

func (c *Config) setDefaults() {
	if c.Settings.LogLevel == "" {
		c.Settings.LogLevel = slog.LevelInfo.String()
	}
	if c.Calibration.ReferencePrefix == "" {
		def := stream.DefaultReferencePredicate()
		c.Calibration.ReferencePrefix = def.Prefix
		if c.Calibration.ExcludedSuffixes == nil {
			c.Calibration.ExcludedSuffixes = def.ExcludedSuffixes
		}
	}
	if c.Storage.DataDirectory == "" {
		c.Storage.DataDirectory = defaultStorageDir
	}
	if c.Storage.MaxBatchSize <= 0 {
		c.Storage.MaxBatchSize = storage.DefaultMaxBatchSize
	}
}

// Validate checks the configuration for values the processor cannot run
// with.
func (c *Config) Validate() error {
	var errs []error

	if _, err := c.LogLevel(); err != nil {
		errs = append(errs, err)
	}
	if c.Catalogs.Navigation.Directory == "" {
		errs = append(errs, errors.New("catalogs.navigation.directory is required"))
	}
	if c.Catalogs.Analyzer.Directory == "" {
		errs = append(errs, errors.New("catalogs.analyzer.directory is required"))
	}
	for _, sc := range []struct {
		name string
		StreamConfig
	}{
		{stream.NameNavigation, c.Catalogs.Navigation},
		{stream.NameAnalyzer, c.Catalogs.Analyzer},
	} {
		if utf8.RuneCountInString(sc.Delimiter) > 1 {
			errs = append(errs, fmt.Errorf("catalogs.%s.delimiter must be a single character, got %q", sc.name, sc.Delimiter))
		}
	}
	if err := c.TimeWindow().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("window: %w", err))
	}

	return errors.Join(errs...)
}

// LogLevel parses settings.logLevel.
func (c *Config) LogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Settings.LogLevel)); err != nil {
		return level, fmt.Errorf("settings.logLevel: %w", err)
	}
	return level, nil
}

// TimeWindow returns the configured window.
func (c *Config) TimeWindow() window.Window {
	return window.Window{
		Start:     c.Window.Start.UTC(),
		End:       c.Window.End.UTC(),
		Tolerance: c.Window.Tolerance,
	}
}

// ReferencePredicate returns the standard gas row predicate.
func (c *Config) ReferencePredicate() stream.ReferencePredicate {
	return stream.ReferencePredicate{
		Prefix:           c.Calibration.ReferencePrefix,
		ExcludedSuffixes: c.Calibration.ExcludedSuffixes,
	}
}

// Kinds builds the navigation and analyzer stream kinds.
func (c *Config) Kinds() (nav, co2 stream.Kind, err error) {
	if nav, err = stream.NewNavigation(streamOptions(c.Catalogs.Navigation)...); err != nil {
		return nil, nil, fmt.Errorf("navigation stream: %w", err)
	}
	if co2, err = stream.NewAnalyzer(streamOptions(c.Catalogs.Analyzer)...); err != nil {
		return nil, nil, fmt.Errorf("analyzer stream: %w", err)
	}
	return nav, co2, nil
}

func streamOptions(sc StreamConfig) []stream.Option {
	var opts []stream.Option
	if sc.Pattern != "" {
		opts = append(opts, stream.WithPattern(sc.Pattern))
	}
	if sc.Delimiter != "" {
		d, _ := utf8.DecodeRuneInString(sc.Delimiter)
		opts = append(opts, stream.WithDelimiter(d))
	}
	return opts
}
