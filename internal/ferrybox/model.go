package ferrybox

import (
	"fmt"
	"strconv"
	"time"
)

// Record is a single parsed row of a source file. Fields holds the raw column
// values keyed by header name; the timestamp column is parsed into Time.
type Record struct {
	Time   time.Time         `json:"time"`
	Fields map[string]string `json:"fields"`
}

// Float returns the named field parsed as a float64. Missing, empty and
// non-numeric fields report false.
func (r Record) Float(name string) (float64, bool) {
	return ParseFloat(r.Fields, name)
}

// ParseFloat looks up name in fields and parses it as a float64.
func ParseFloat(fields map[string]string, name string) (float64, bool) {
	v, ok := fields[name]
	if !ok || v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// Bound is one end of a GapInterval. The zero value is an open bound.
type Bound struct {
	Time time.Time
	Set  bool
}

// At returns a closed bound at t.
func At(t time.Time) Bound {
	return Bound{Time: t, Set: true}
}

// String returns the bound formatted as RFC 3339, or "?" when open.
func (b Bound) String() string {
	if !b.Set {
		return "?"
	}
	return b.Time.UTC().Format(time.RFC3339)
}

// GapInterval marks a region of a stream where rows sharing a timestamp were
// discarded. It is provenance only and never re-enters the data.
type GapInterval struct {
	Stream string `json:"stream"` // Stream the gap was found in
	From   Bound  `json:"from"`   // Last surviving timestamp before the gap
	To     Bound  `json:"to"`     // First surviving timestamp after the gap
}

func (g GapInterval) String() string {
	return fmt.Sprintf("%s (%s, %s)", g.Stream, g.From, g.To)
}

// Intersects reports whether the gap overlaps [from, to]. An open bound
// extends the gap indefinitely on that side.
func (g GapInterval) Intersects(from, to time.Time) bool {
	if g.From.Set && g.From.Time.After(to) {
		return false
	}
	return !g.To.Set || !g.To.Time.Before(from)
}

// Coefficients are the slope and intercept of the measured-vs-reference
// regression of one block of standard gas rows.
type Coefficients struct {
	K float64 `json:"k"` // Slope
	M float64 `json:"m"` // Intercept
}

// Calibration holds the calibration-dependent values of a measurement row.
type Calibration struct {
	Coefficients          `json:"coefficients"`
	X                     float64   `json:"x"`                     // (measured - m) / k
	CorrectedMoleFraction float64   `json:"correctedMoleFraction"` // Calibrated xCO2 in µmol/mol
	EquilibratorPressure  float64   `json:"equilibratorPressure"`  // Absolute equilibrator pressure in hPa
	DriedAirPCO2          float64   `json:"driedAirPCO2"`          // xCO2 scaled by equilibrator pressure
	StandardTime          time.Time `json:"standardTime"`          // Timestamp of the last standard gas row used
	SecondsSinceStandard  float64   `json:"secondsSinceStandard"`  // Elapsed time since StandardTime
}

// Physical holds the values derived from a calibrated row and the
// hydrography channels.
type Physical struct {
	EquilibratorTemperatureK float64 `json:"equilibratorTemperatureK"` // Equilibrator temperature in Kelvin
	WaterVapourPressure      float64 `json:"waterVapourPressure"`      // Saturated water vapour pressure in atm
	PCO2                     float64 `json:"pCO2"`                     // Partial pressure of CO2 in µatm
	FCO2                     float64 `json:"fCO2"`                     // Fugacity of CO2 in µatm
}

// MergedRecord is one navigation sample of the requested window together with
// the analyzer row matched to it, if any, and everything derived from it.
type MergedRecord struct {
	Time time.Time `json:"time"`          // Navigation timestamp
	Lat  *float64  `json:"lat,omitempty"` // Navigation latitude
	Lon  *float64  `json:"lon,omitempty"` // Navigation longitude

	Navigation map[string]string `json:"navigation"`         // Prefixed navigation fields
	Analyzer   map[string]string `json:"analyzer,omitempty"` // Prefixed analyzer fields, nil when unmatched

	AnalyzerTime *time.Time `json:"analyzerTime,omitempty"` // Timestamp of the matched analyzer row
	DiffTime     *float64   `json:"diffTime,omitempty"`     // |analyzer - navigation| in seconds
	DiffLat      *float64   `json:"diffLat,omitempty"`      // Navigation minus analyzer latitude
	DiffLon      *float64   `json:"diffLon,omitempty"`      // Navigation minus analyzer longitude

	Calibration *Calibration `json:"calibration,omitempty"` // Nil for standard rows and unmatched rows
	Physical    *Physical    `json:"physical,omitempty"`    // Nil when no calibration is available
}

// Matched reports whether an analyzer row was joined to this record.
func (r *MergedRecord) Matched() bool {
	return r.DiffTime != nil
}
