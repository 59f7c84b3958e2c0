// Package dedup removes rows with ambiguous timestamps from a stream.
//
// When a timestamp occurs more than once there is no information to decide
// which row is right, so every row sharing it is discarded. Each removed
// region is reported as a GapInterval so downstream reporting can state that
// data is unavailable instead of silently losing rows.
package dedup

import (
	"slices"

	"github.com/roman-kulish/ferrybox-co2/internal/ferrybox"
)

// Deduplicate returns the records whose timestamp is unique, and one gap per
// maximal run of duplicated timestamps. records must be sorted by time.
func Deduplicate(stream string, records []ferrybox.Record) ([]ferrybox.Record, []ferrybox.GapInterval) {
	if len(records) < 2 {
		return records, nil
	}

	kept := make([]ferrybox.Record, 0, len(records))
	var gaps []ferrybox.GapInterval

	inGap := false
	var gap ferrybox.GapInterval

	for i := 0; i < len(records); {
		j := i + 1
		for j < len(records) && records[j].Time.Equal(records[i].Time) {
			j++
		}

		if j-i == 1 {
			if inGap {
				gap.To = ferrybox.At(records[i].Time)
				gaps = append(gaps, gap)
				inGap = false
			}
			kept = append(kept, records[i])
		} else if !inGap {
			gap = ferrybox.GapInterval{Stream: stream}
			if len(kept) > 0 {
				gap.From = ferrybox.At(kept[len(kept)-1].Time)
			}
			inGap = true
		}
		i = j
	}
	if inGap {
		gaps = append(gaps, gap)
	}

	return slices.Clip(kept), gaps
}
