package calibration

import (
	"errors"
	"math"
	"slices"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/roman-kulish/ferrybox-co2/internal/ferrybox"
)

// Phase is the position of the calibration scan in its state machine.
type Phase int

const (
	NoReferenceSeen Phase = iota
	AccumulatingReference
	Calibrated
)

func (p Phase) String() string {
	switch p {
	case NoReferenceSeen:
		return "no-reference-seen"
	case AccumulatingReference:
		return "accumulating-reference"
	case Calibrated:
		return "calibrated"
	}
	return "unknown"
}

// Pair is one standard gas reading: the known concentration of the gas and
// what the analyzer measured.
type Pair struct {
	Reference float64
	Measured  float64
}

// Block collects the pairs of a contiguous run of standard gas rows.
type Block struct {
	Pairs []Pair
	Last  time.Time // Timestamp of the newest row in the block
}

// Len returns the number of pairs in the block.
func (b Block) Len() int {
	return len(b.Pairs)
}

// State is the calibration state threaded through a scan. Transitions
// return a new State; a value is never modified in place.
type State struct {
	Phase        Phase
	Coefficients ferrybox.Coefficients
	StandardTime time.Time // Newest standard gas row the coefficients were fitted on
	Block        Block     // Open block, empty unless AccumulatingReference
	calibrated   bool
}

// HasCoefficients reports whether a fit has ever been made.
func (s State) HasCoefficients() bool {
	return s.calibrated
}

// Consumed reports whether a standard row at t was already used, either by
// the last fit or by the open block.
func (s State) Consumed(t time.Time) bool {
	if s.HasCoefficients() && !t.After(s.StandardTime) {
		return true
	}
	return s.Block.Len() > 0 && !t.After(s.Block.Last)
}

// Accumulate adds a standard gas pair read at t to the open block.
func (s State) Accumulate(t time.Time, p Pair) State {
	s.Block = Block{
		Pairs: append(slices.Clip(s.Block.Pairs), p),
		Last:  t,
	}
	s.Phase = AccumulatingReference
	return s
}

// Close fits the open block and returns the calibrated state with an empty
// block. A state without an open block is returned unchanged.
func (s State) Close() State {
	if s.Block.Len() == 0 {
		return s
	}
	return s.withFit(Fit(s.Block.Pairs), s.Block.Last)
}

func (s State) withFit(c ferrybox.Coefficients, standardTime time.Time) State {
	return State{
		Phase:        Calibrated,
		Coefficients: c,
		StandardTime: standardTime,
		calibrated:   true,
	}
}

// Fit performs an ordinary least-squares regression of the measured values
// against the reference values: measured = K*reference + M. No minimum
// number of pairs is enforced; a single pair yields non-finite
// coefficients.
func Fit(pairs []Pair) ferrybox.Coefficients {
	if len(pairs) == 0 {
		return ferrybox.Coefficients{K: math.NaN(), M: math.NaN()}
	}

	x := make([]float64, len(pairs))
	y := make([]float64, len(pairs))
	for i, p := range pairs {
		x[i], y[i] = p.Reference, p.Measured
	}

	alpha, beta := stat.LinearRegression(x, y, nil, false)
	return ferrybox.Coefficients{K: beta, M: alpha}
}

// Degenerate reports whether c cannot be used to correct a measurement.
func Degenerate(c ferrybox.Coefficients) bool {
	return math.IsNaN(c.K) || math.IsInf(c.K, 0) || c.K == 0 || math.IsNaN(c.M) || math.IsInf(c.M, 0)
}

var errNotCalibrated = errors.New("state has no coefficients")

// Correct applies the current coefficients to one measurement row read at
// t.
func (s State) Correct(t time.Time, measured, equPressure, licorPressure float64) (*ferrybox.Calibration, error) {
	if !s.HasCoefficients() {
		return nil, errNotCalibrated
	}

	k, m := s.Coefficients.K, s.Coefficients.M
	x := (measured - m) / k
	corrected := measured + (1-k)*x + m
	pressure := equPressure + licorPressure

	return &ferrybox.Calibration{
		Coefficients:          s.Coefficients,
		X:                     x,
		CorrectedMoleFraction: corrected,
		EquilibratorPressure:  pressure,
		DriedAirPCO2:          corrected * pressure * 1e-3,
		StandardTime:          s.StandardTime,
		SecondsSinceStandard:  t.Sub(s.StandardTime).Seconds(),
	}, nil
}
