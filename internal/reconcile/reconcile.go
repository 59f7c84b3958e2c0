package reconcile

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/roman-kulish/ferrybox-co2/internal/ferrybox"
	"github.com/roman-kulish/ferrybox-co2/internal/stream"
	"github.com/roman-kulish/ferrybox-co2/internal/window"
)

type match struct {
	co2  int
	diff time.Duration
}

// Merge joins the analyzer table onto the navigation table. Each analyzer
// row is paired with the nearest navigation row within tolerance; when
// several analyzer rows pick the same navigation row the closest one wins
// and ties go to the earlier analyzer row. Every navigation row appears in
// the result exactly once, in time order, matched or not.
//
// Merge fails with ferrybox.ErrMissingStream if either table is empty and
// with ferrybox.ErrNoMatchWhenMerging if no row could be paired at all.
func Merge(nav, co2 *window.Table, tolerance time.Duration) ([]ferrybox.MergedRecord, error) {
	switch {
	case nav.Len() == 0:
		return nil, fmt.Errorf("merging: %w: %s", ferrybox.ErrMissingStream, stream.NameNavigation)
	case co2.Len() == 0:
		return nil, fmt.Errorf("merging: %w: %s", ferrybox.ErrMissingStream, stream.NameAnalyzer)
	}

	matches := make(map[int]match, co2.Len())
	for i, row := range co2.Rows {
		j, diff, ok := nearest(nav.Rows, row.Time)
		if !ok || diff > tolerance {
			continue
		}
		if m, taken := matches[j]; taken && m.diff <= diff {
			continue
		}
		matches[j] = match{co2: i, diff: diff}
	}

	if len(matches) == 0 {
		first, last := nav.Rows[0].Time, nav.Rows[len(nav.Rows)-1].Time
		return nil, fmt.Errorf("%w: no %s row within %s of %s rows between %s and %s",
			ferrybox.ErrNoMatchWhenMerging, stream.NameAnalyzer, tolerance, stream.NameNavigation,
			first.Format(time.RFC3339), last.Format(time.RFC3339))
	}

	navLat := nav.Kind.Prefix() + stream.FieldLat
	navLon := nav.Kind.Prefix() + stream.FieldLon
	co2Lat := co2.Kind.Prefix() + stream.FieldLat
	co2Lon := co2.Kind.Prefix() + stream.FieldLon

	records := make([]ferrybox.MergedRecord, len(nav.Rows))
	for i, row := range nav.Rows {
		rec := ferrybox.MergedRecord{
			Time:       row.Time,
			Lat:        floatPtr(row.Fields, navLat),
			Lon:        floatPtr(row.Fields, navLon),
			Navigation: row.Fields,
		}

		if m, ok := matches[i]; ok {
			co2Row := co2.Rows[m.co2]
			co2Time := co2Row.Time
			diff := m.diff.Seconds()

			rec.Analyzer = co2Row.Fields
			rec.AnalyzerTime = &co2Time
			rec.DiffTime = &diff
			rec.DiffLat = difference(rec.Lat, floatPtr(co2Row.Fields, co2Lat))
			rec.DiffLon = difference(rec.Lon, floatPtr(co2Row.Fields, co2Lon))
		}
		records[i] = rec
	}
	return records, nil
}

// nearest returns the index of the row closest to t. Equidistant rows
// resolve to the earlier one.
func nearest(rows []window.Row, t time.Time) (int, time.Duration, bool) {
	if len(rows) == 0 {
		return 0, 0, false
	}

	i := sort.Search(len(rows), func(i int) bool {
		return !rows[i].Time.Before(t)
	})

	switch {
	case i == 0:
		return 0, rows[0].Time.Sub(t), true
	case i == len(rows):
		return i - 1, t.Sub(rows[i-1].Time), true
	}

	before, after := t.Sub(rows[i-1].Time), rows[i].Time.Sub(t)
	if before <= after {
		return i - 1, before, true
	}
	return i, after, true
}

func floatPtr(fields map[string]string, name string) *float64 {
	v, ok := ferrybox.ParseFloat(fields, name)
	if !ok || math.IsNaN(v) {
		return nil
	}
	return &v
}

func difference(a, b *float64) *float64 {
	if a == nil || b == nil {
		return nil
	}
	d := *a - *b
	return &d
}
