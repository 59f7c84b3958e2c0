package stream

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/roman-kulish/ferrybox-co2/internal/ferrybox"
)

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.DateTime,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.999999999",
}

// Parser reads delimited instrument logs with a single header line.
type Parser struct {
	Delimiter rune
}

// Parse reads all rows of r and returns them ordered by timestamp.
func (p Parser) Parse(r io.Reader) ([]ferrybox.Record, error) {
	cr := csv.NewReader(r)
	cr.Comma = p.Delimiter
	cr.FieldsPerRecord = -1 // arity is checked below so corruption can be told apart
	cr.LazyQuotes = true
	// No TrimLeadingSpace: it merges empty cells between tab delimiters.
	// Fields are trimmed one by one below.

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty file")
		}
		return nil, fmt.Errorf("reading header: %w", err)
	}
	for i := range header {
		header[i] = strings.ToLower(strings.TrimSpace(header[i]))
	}

	tsCol := slices.Index(header, TimestampField)
	if tsCol < 0 {
		return nil, fmt.Errorf("header has no %q column", TimestampField)
	}

	var records []ferrybox.Record
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading row: %w", err)
		}

		line, _ := cr.FieldPos(0)
		if len(row) != len(header) {
			return nil, fmt.Errorf("%w: line %d has %d fields, header has %d",
				ferrybox.ErrCorruptedFile, line, len(row), len(header))
		}

		ts, err := parseTimestamp(row[tsCol])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		fields := make(map[string]string, len(header)-1)
		for i, name := range header {
			if i == tsCol {
				continue
			}
			fields[name] = strings.TrimSpace(row[i])
		}
		records = append(records, ferrybox.Record{Time: ts, Fields: fields})
	}

	slices.SortStableFunc(records, func(a, b ferrybox.Record) int {
		return a.Time.Compare(b.Time)
	})
	return records, nil
}

func parseTimestamp(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", v)
}
