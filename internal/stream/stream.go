package stream

import (
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/roman-kulish/ferrybox-co2/internal/ferrybox"
)

const (
	NameNavigation = "navigation"
	NameAnalyzer   = "analyzer"

	// TimestampField is the header name of the timestamp column in every
	// stream.
	TimestampField = "timestamp"

	DefaultNavigationPattern = `(?i)mit.*\.(txt|csv)$`
	DefaultAnalyzerPattern   = `(?i)dat.*\.(txt|csv)$`
)

// Analyzer field names.
const (
	FieldType            = "type"            // Row tag, e.g. EQU, ATM, STD1, STD1-DRAIN
	FieldStandardValue   = "std_value"       // Known concentration of the standard gas
	FieldRawMoleFraction = "xco2_raw"        // Measured mole fraction
	FieldEquTemperature  = "equ_temperature" // Equilibrator temperature in °C
	FieldEquPressure     = "equ_pressure"    // Equilibrator pressure relative to the licor cell, hPa
	FieldLicorPressure   = "licor_pressure"  // Licor cell pressure, hPa
)

// Navigation and shared field names.
const (
	FieldLat            = "lat"
	FieldLon            = "lon"
	FieldSeaTemperature = "sea_temperature" // Sea surface temperature in °C
	FieldSalinity       = "salinity"        // Practical salinity
)

// Kind describes one instrument stream: how its files are named, how its
// fields are prefixed in merged tables, and how its files are parsed.
type Kind interface {
	// Name identifies the stream in logs, errors and stored provenance.
	Name() string

	// Prefix is prepended to every field name once the stream is extracted.
	Prefix() string

	// Matches reports whether a file name follows the stream's naming
	// convention.
	Matches(fileName string) bool

	// Parse reads a whole file. A file whose row arity disagrees with its
	// header is reported with ferrybox.ErrCorruptedFile.
	Parse(r io.Reader) ([]ferrybox.Record, error)
}

type kind struct {
	name    string
	prefix  string
	pattern *regexp.Regexp
	parser  Parser
}

func (k *kind) Name() string {
	return k.name
}

func (k *kind) Prefix() string {
	return k.prefix
}

func (k *kind) Matches(fileName string) bool {
	return k.pattern.MatchString(fileName)
}

func (k *kind) Parse(r io.Reader) ([]ferrybox.Record, error) {
	return k.parser.Parse(r)
}

func (k *kind) String() string {
	return k.name
}

// Option configures a stream Kind.
type Option func(*kind) error

// WithPattern replaces the default file naming convention.
func WithPattern(expr string) Option {
	return func(k *kind) error {
		re, err := regexp.Compile(expr)
		if err != nil {
			return fmt.Errorf("compiling %s file pattern: %w", k.name, err)
		}
		k.pattern = re
		return nil
	}
}

// WithDelimiter sets the column delimiter of the stream's files.
func WithDelimiter(d rune) Option {
	return func(k *kind) error {
		k.parser.Delimiter = d
		return nil
	}
}

// NewNavigation creates the navigation/hydrography stream.
func NewNavigation(opts ...Option) (Kind, error) {
	return newKind(NameNavigation, "nav_", DefaultNavigationPattern, opts...)
}

// NewAnalyzer creates the CO2 analyzer stream.
func NewAnalyzer(opts ...Option) (Kind, error) {
	return newKind(NameAnalyzer, "co2_", DefaultAnalyzerPattern, opts...)
}

func newKind(name, prefix, pattern string, opts ...Option) (Kind, error) {
	k := &kind{
		name:    name,
		prefix:  prefix,
		pattern: regexp.MustCompile(pattern),
		parser:  Parser{Delimiter: '\t'},
	}
	for _, opt := range opts {
		if err := opt(k); err != nil {
			return nil, err
		}
	}
	return k, nil
}

// ReferencePredicate decides whether an analyzer row tag marks a standard
// gas row usable for calibration.
type ReferencePredicate struct {
	Prefix           string   // Required tag prefix, e.g. STD
	ExcludedSuffixes []string // Tags ending in any of these are not usable, e.g. DRAIN
}

// DefaultReferencePredicate matches STD1, STD2, ... but not STD1-DRAIN.
func DefaultReferencePredicate() ReferencePredicate {
	return ReferencePredicate{
		Prefix:           "STD",
		ExcludedSuffixes: []string{"DRAIN", "SUSPECT"},
	}
}

// IsReference reports whether tag identifies a usable standard gas row.
func (p ReferencePredicate) IsReference(tag string) bool {
	tag = strings.TrimSpace(tag)
	if !strings.HasPrefix(tag, p.Prefix) {
		return false
	}
	for _, suffix := range p.ExcludedSuffixes {
		if strings.HasSuffix(tag, suffix) {
			return false
		}
	}
	return true
}
