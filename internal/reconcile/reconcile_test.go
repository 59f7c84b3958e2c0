package reconcile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roman-kulish/ferrybox-co2/internal/ferrybox"
	"github.com/roman-kulish/ferrybox-co2/internal/stream"
	"github.com/roman-kulish/ferrybox-co2/internal/window"
)

var base = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func table(t *testing.T, kind func(...stream.Option) (stream.Kind, error), rows ...window.Row) *window.Table {
	t.Helper()
	k, err := kind()
	require.NoError(t, err)
	return &window.Table{Kind: k, Rows: rows}
}

func row(seconds int, fields map[string]string) window.Row {
	return window.Row{Time: base.Add(time.Duration(seconds) * time.Second), Fields: fields}
}

func TestMerge_NearestMatch(t *testing.T) {
	nav := table(t, stream.NewNavigation,
		row(0, map[string]string{"nav_lat": "54.0", "nav_lon": "10.0"}),
		row(5, map[string]string{"nav_lat": "54.5", "nav_lon": "10.5"}),
	)
	co2 := table(t, stream.NewAnalyzer,
		row(20, map[string]string{"co2_lat": "54.25", "co2_lon": "10.75", "co2_type": "EQU"}),
	)

	records, err := Merge(nav, co2, 30*time.Second)
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.False(t, records[0].Matched())
	assert.Nil(t, records[0].Analyzer)

	matched := records[1]
	require.True(t, matched.Matched())
	assert.Equal(t, base.Add(5*time.Second), matched.Time)
	assert.Equal(t, 15.0, *matched.DiffTime)
	assert.InDelta(t, 0.25, *matched.DiffLat, 1e-9)
	assert.InDelta(t, -0.25, *matched.DiffLon, 1e-9)
	assert.Equal(t, 54.5, *matched.Lat)
	assert.Equal(t, "EQU", matched.Analyzer["co2_type"])
	assert.Equal(t, base.Add(20*time.Second), *matched.AnalyzerTime)
}

func TestMerge_OneToOne(t *testing.T) {
	nav := table(t, stream.NewNavigation, row(0, nil), row(60, nil), row(120, nil))
	co2 := table(t, stream.NewAnalyzer,
		row(-4, map[string]string{"co2_type": "a"}),
		row(2, map[string]string{"co2_type": "b"}),
		row(4, map[string]string{"co2_type": "c"}),
		row(90, map[string]string{"co2_type": "d"}),  // equidistant, goes to 60
		row(200, map[string]string{"co2_type": "e"}), // beyond tolerance
	)

	records, err := Merge(nav, co2, 30*time.Second)
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.Equal(t, "b", records[0].Analyzer["co2_type"])
	assert.Equal(t, "d", records[1].Analyzer["co2_type"])
	assert.False(t, records[2].Matched())

	for _, r := range records {
		if r.Matched() {
			assert.LessOrEqual(t, *r.DiffTime, 30.0)
		}
	}
}

func TestMerge_Errors(t *testing.T) {
	nav := table(t, stream.NewNavigation, row(0, nil))
	co2 := table(t, stream.NewAnalyzer, row(100, nil))
	empty := table(t, stream.NewAnalyzer)

	_, err := Merge(nav, empty, time.Second)
	assert.ErrorIs(t, err, ferrybox.ErrMissingStream)
	assert.Contains(t, err.Error(), stream.NameAnalyzer)

	_, err = Merge(table(t, stream.NewNavigation), co2, time.Second)
	assert.ErrorIs(t, err, ferrybox.ErrMissingStream)
	assert.Contains(t, err.Error(), stream.NameNavigation)

	_, err = Merge(nav, co2, 10*time.Second)
	assert.ErrorIs(t, err, ferrybox.ErrNoMatchWhenMerging)
}

func TestNearest(t *testing.T) {
	rows := []window.Row{row(0, nil), row(10, nil), row(20, nil)}

	testCases := []struct {
		name string
		at   int
		idx  int
		diff time.Duration
	}{
		{"before first", -3, 0, 3 * time.Second},
		{"exact", 10, 1, 0},
		{"closer to next", 17, 2, 3 * time.Second},
		{"tie resolves earlier", 15, 1, 5 * time.Second},
		{"after last", 25, 2, 5 * time.Second},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			idx, diff, ok := nearest(rows, base.Add(time.Duration(tc.at)*time.Second))
			require.True(t, ok)
			assert.Equal(t, tc.idx, idx)
			assert.Equal(t, tc.diff, diff)
		})
	}

	_, _, ok := nearest(nil, base)
	assert.False(t, ok)
}
