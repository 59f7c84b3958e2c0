package calibration

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roman-kulish/ferrybox-co2/internal/catalog"
	"github.com/roman-kulish/ferrybox-co2/internal/ferrybox"
	"github.com/roman-kulish/ferrybox-co2/internal/stream"
)

var base = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type analyzerRow struct {
	offset   int // seconds from base
	tag      string
	std      string
	measured string
}

// merged builds matched merged records carrying analyzer fields.
func merged(rows ...analyzerRow) []ferrybox.MergedRecord {
	records := make([]ferrybox.MergedRecord, len(rows))
	for i, r := range rows {
		ts := base.Add(time.Duration(r.offset) * time.Second)
		diff := 0.0
		records[i] = ferrybox.MergedRecord{
			Time:         ts,
			AnalyzerTime: &ts,
			DiffTime:     &diff,
			Analyzer: map[string]string{
				"co2_type":           r.tag,
				"co2_std_value":      r.std,
				"co2_xco2_raw":       r.measured,
				"co2_equ_pressure":   "2.5",
				"co2_licor_pressure": "1010.0",
			},
		}
	}
	return records
}

func writeAnalyzerFile(t *testing.T, dir, name string, rows ...analyzerRow) {
	t.Helper()
	var sb strings.Builder
	sb.WriteString("timestamp\ttype\tstd_value\txco2_raw\n")
	for _, r := range rows {
		fmt.Fprintf(&sb, "%s\t%s\t%s\t%s\n",
			base.Add(time.Duration(r.offset)*time.Second).Format(time.DateTime), r.tag, r.std, r.measured)
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(sb.String()), 0o644))
}

func emptyCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	kind, err := stream.NewAnalyzer()
	require.NoError(t, err)
	return catalog.New(kind)
}

func scanCatalog(t *testing.T, dir string) *catalog.Catalog {
	t.Helper()
	kind, err := stream.NewAnalyzer()
	require.NoError(t, err)
	c, err := catalog.Scan(context.Background(), kind, dir, discardLogger())
	require.NoError(t, err)
	return c
}

func TestEngine_StandardBlockThenMeasurement(t *testing.T) {
	records := merged(
		analyzerRow{0, "STD1", "1.0", "1.1"},
		analyzerRow{10, "STD2", "2.0", "2.2"},
		analyzerRow{20, "EQU", "", "12.0"},
	)

	state, err := NewEngine(emptyCatalog(t)).Run(context.Background(), records)
	require.NoError(t, err)
	assert.Equal(t, Calibrated, state.Phase)

	assert.Nil(t, records[0].Calibration)
	assert.Nil(t, records[1].Calibration)

	cal := records[2].Calibration
	require.NotNil(t, cal)
	assert.InDelta(t, 1.1, cal.K, 1e-9)
	assert.InDelta(t, 0.0, cal.M, 1e-9)

	x := (12.0 - cal.M) / cal.K
	assert.InDelta(t, x, cal.X, 1e-9)
	assert.InDelta(t, 10.909090909, cal.X, 1e-6)
	assert.InDelta(t, 12.0+(1-cal.K)*x+cal.M, cal.CorrectedMoleFraction, 1e-9)
	assert.InDelta(t, 1012.5, cal.EquilibratorPressure, 1e-9)
	assert.InDelta(t, cal.CorrectedMoleFraction*1012.5*1e-3, cal.DriedAirPCO2, 1e-9)
	assert.Equal(t, base.Add(10*time.Second), cal.StandardTime)
	assert.Equal(t, 10.0, cal.SecondsSinceStandard)
}

func TestEngine_CoefficientsChangeOnlyAtBlockEnd(t *testing.T) {
	records := merged(
		analyzerRow{0, "STD1", "1.0", "1.1"},
		analyzerRow{10, "STD2", "2.0", "2.2"},
		analyzerRow{20, "EQU", "", "12.0"},
		analyzerRow{30, "ATM", "", "13.0"},
		analyzerRow{40, "STD1", "1.0", "1.0"},
		analyzerRow{50, "STD1-DRAIN", "1.0", "9.0"},
		analyzerRow{60, "STD2", "2.0", "3.0"},
		analyzerRow{65, "STD3", "3.0", "5.0"},
		analyzerRow{70, "EQU", "", "14.0"},
		analyzerRow{80, "EQU", "", "15.0"},
	)

	_, err := NewEngine(emptyCatalog(t)).Run(context.Background(), records)
	require.NoError(t, err)

	first := records[2].Calibration.Coefficients
	assert.Equal(t, first, records[3].Calibration.Coefficients)

	// The drain row is not a standard row, so it closes the block of one
	// pair and is corrected with the degenerate fit.
	require.NotNil(t, records[5].Calibration)
	assert.True(t, Degenerate(records[5].Calibration.Coefficients))

	second := records[8].Calibration.Coefficients
	assert.InDelta(t, 2.0, second.K, 1e-9)
	assert.InDelta(t, -1.0, second.M, 1e-9)
	assert.Equal(t, second, records[9].Calibration.Coefficients)
	assert.Equal(t, base.Add(65*time.Second), records[9].Calibration.StandardTime)
}

func TestEngine_SkipsConsumedAndUnmatchedRows(t *testing.T) {
	records := merged(
		analyzerRow{0, "STD1", "1.0", "1.1"},
		analyzerRow{10, "STD2", "2.0", "2.2"},
		analyzerRow{20, "EQU", "", "12.0"},
	)
	// A repeated visit of an already consumed standard row.
	replay := merged(analyzerRow{10, "STD2", "2.0", "9.9"})[0]
	unmatched := ferrybox.MergedRecord{Time: base.Add(25 * time.Second)}
	records = append(records, unmatched, replay, merged(analyzerRow{30, "EQU", "", "12.0"})[0])

	state, err := NewEngine(emptyCatalog(t)).Run(context.Background(), records)
	require.NoError(t, err)
	assert.Equal(t, Calibrated, state.Phase)
	assert.Nil(t, records[3].Calibration)
	assert.Equal(t, records[2].Calibration.Coefficients, records[5].Calibration.Coefficients)
}

func TestEngine_Lookback(t *testing.T) {
	dir := t.TempDir()
	writeAnalyzerFile(t, dir, "01dat.txt",
		analyzerRow{-3600, "STD1", "100", "50"},
		analyzerRow{-3590, "EQU", "", "400"},
		analyzerRow{-3000, "STD1", "1.0", "1.1"},
		analyzerRow{-2990, "STD2", "2.0", "2.2"},
		analyzerRow{-2980, "STD3-DRAIN", "3.0", "7.0"},
		analyzerRow{-2970, "EQU", "", "400"},
	)
	writeAnalyzerFile(t, dir, "02dat.txt",
		analyzerRow{-600, "EQU", "", "400"},
		analyzerRow{0, "EQU", "", "400"},
		analyzerRow{600, "STD1", "1.0", "2.0"},
	)

	records := merged(analyzerRow{0, "EQU", "", "12.0"})
	state, err := NewEngine(scanCatalog(t, dir)).Run(context.Background(), records)
	require.NoError(t, err)
	assert.Equal(t, Calibrated, state.Phase)

	cal := records[0].Calibration
	require.NotNil(t, cal)
	assert.InDelta(t, 1.1, cal.K, 1e-9)
	assert.InDelta(t, 0.0, cal.M, 1e-9)
	assert.Equal(t, base.Add(-2990*time.Second), cal.StandardTime)
	assert.Equal(t, 2990.0, cal.SecondsSinceStandard)
}

func TestEngine_LookbackAcrossFiles(t *testing.T) {
	dir := t.TempDir()
	writeAnalyzerFile(t, dir, "01dat.txt",
		analyzerRow{-3100, "EQU", "", "400"},
		analyzerRow{-3020, "STD1", "1.0", "1.1"},
		analyzerRow{-3010, "STD2", "2.0", "2.2"},
	)
	writeAnalyzerFile(t, dir, "02dat.txt",
		analyzerRow{-3000, "STD3", "3.0", "3.3"},
		analyzerRow{-2990, "EQU", "", "400"},
		analyzerRow{-600, "EQU", "", "400"},
	)

	c := scanCatalog(t, dir)
	state, err := NewEngine(c).Lookback(base)
	require.NoError(t, err)
	assert.Equal(t, Calibrated, state.Phase)
	assert.True(t, state.HasCoefficients())
	assert.InDelta(t, 1.1, state.Coefficients.K, 1e-9)
	assert.InDelta(t, 0.0, state.Coefficients.M, 1e-9)
	assert.Equal(t, base.Add(-3000*time.Second), state.StandardTime)

	// Once the older file is unreadable the run ends at the file boundary
	// and the single pair yields a degenerate fit.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "01dat.txt"),
		[]byte("timestamp\ttype\tstd_value\txco2_raw\n2024-05-01 11:00:00\tSTD1\n"), 0o644))
	state, err = NewEngine(c).Lookback(base)
	require.NoError(t, err)
	assert.True(t, Degenerate(state.Coefficients))
	assert.Equal(t, base.Add(-3000*time.Second), state.StandardTime)
}

func TestEngine_LookbackSkipsRunsWithoutValues(t *testing.T) {
	dir := t.TempDir()
	writeAnalyzerFile(t, dir, "01dat.txt",
		analyzerRow{-300, "STD1", "1.0", "1.1"},
		analyzerRow{-290, "STD2", "2.0", "2.2"},
		analyzerRow{-200, "EQU", "", "400"},
		analyzerRow{-100, "STD1", "", ""},
		analyzerRow{-50, "EQU", "", "400"},
	)

	state, err := NewEngine(scanCatalog(t, dir)).Lookback(base)
	require.NoError(t, err)
	assert.InDelta(t, 1.1, state.Coefficients.K, 1e-9)
	assert.Equal(t, base.Add(-290*time.Second), state.StandardTime)
}

func TestEngine_NoReferenceData(t *testing.T) {
	dir := t.TempDir()
	writeAnalyzerFile(t, dir, "01dat.txt",
		analyzerRow{-600, "EQU", "", "400"},
		analyzerRow{-300, "ATM", "", "410"},
	)

	records := merged(
		analyzerRow{0, "EQU", "", "12.0"},
		analyzerRow{10, "STD1", "1.0", "1.1"},
	)
	_, err := NewEngine(scanCatalog(t, dir)).Run(context.Background(), records)
	assert.ErrorIs(t, err, ferrybox.ErrNoReferenceData)

	_, err = NewEngine(emptyCatalog(t)).Run(context.Background(), records)
	assert.ErrorIs(t, err, ferrybox.ErrNoReferenceData)
}

func TestEngine_ReferencePredicate(t *testing.T) {
	records := merged(
		analyzerRow{0, "CAL1", "1.0", "1.1"},
		analyzerRow{10, "CAL2", "2.0", "2.2"},
		analyzerRow{20, "EQU", "", "12.0"},
	)

	engine := NewEngine(emptyCatalog(t), WithReferencePredicate(stream.ReferencePredicate{Prefix: "CAL"}))
	_, err := engine.Run(context.Background(), records)
	require.NoError(t, err)
	require.NotNil(t, records[2].Calibration)
	assert.InDelta(t, 1.1, records[2].Calibration.K, 1e-9)
}
