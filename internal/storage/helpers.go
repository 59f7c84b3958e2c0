package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/roman-kulish/ferrybox-co2/internal/ferrybox"
)

func closeWithError(cl interface{ Close() error }, err *error) {
	if cErr := cl.Close(); cErr != nil && *err == nil {
		*err = cErr
	}
}

func rollbackWithError(rb interface{ Rollback() error }, err *error) {
	if cErr := rb.Rollback(); cErr != nil && *err == nil && !errors.Is(cErr, sql.ErrTxDone) {
		*err = cErr
	}
}

// nullFloat maps non-finite values to NULL.
func nullFloat(v float64) sql.NullFloat64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}

func nullFloatPtr(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return nullFloat(*v)
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

// float returns NaN for NULL.
func float(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	return &v.Float64
}

func boundTime(t sql.NullTime) ferrybox.Bound {
	if !t.Valid {
		return ferrybox.Bound{}
	}
	return ferrybox.At(t.Time.UTC())
}

func boundValue(b ferrybox.Bound) sql.NullTime {
	if !b.Set {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: b.Time.UTC(), Valid: true}
}

func encodeFields(fields map[string]string) (sql.NullString, error) {
	if fields == nil {
		return sql.NullString{}, nil
	}
	p, err := json.Marshal(fields)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(p), Valid: true}, nil
}

func decodeFields(s sql.NullString) (map[string]string, error) {
	if !s.Valid {
		return nil, nil
	}
	var fields map[string]string
	if err := json.Unmarshal([]byte(s.String), &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

func encodeConfig(config any) (sql.NullString, error) {
	switch c := config.(type) {
	case nil:
		return sql.NullString{}, nil
	case string:
		return sql.NullString{String: c, Valid: true}, nil
	case []byte:
		return sql.NullString{String: string(c), Valid: true}, nil
	default:
		p, err := json.Marshal(c)
		if err != nil {
			return sql.NullString{}, fmt.Errorf("marshaling config: %w", err)
		}
		return sql.NullString{String: string(p), Valid: true}, nil
	}
}

// aggregateTime scans the result of MIN/MAX over a TIMESTAMP column, which
// the driver returns as text because aggregates lose the column type.
type aggregateTime struct {
	Time  time.Time
	Valid bool
}

func (a *aggregateTime) Scan(v any) error {
	var s string
	switch v := v.(type) {
	case nil:
		a.Valid = false
		return nil
	case time.Time:
		a.Time, a.Valid = v.UTC(), true
		return nil
	case string:
		s = v
	case []byte:
		s = string(v)
	default:
		return fmt.Errorf("unsupported datetime type %T", v)
	}

	for _, layout := range sqlite3.SQLiteTimestampFormats {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			a.Time, a.Valid = t.UTC(), true
			return nil
		}
	}
	return fmt.Errorf("parsing datetime %q", s)
}
