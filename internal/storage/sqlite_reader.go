package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/roman-kulish/ferrybox-co2/internal/ferrybox"
)

// ReaderOption configures a record reader.
type ReaderOption func(*SqliteRecordReader)

// WithTimeRange restricts the reader to records in [start, end].
func WithTimeRange(start, end time.Time) ReaderOption {
	return func(r *SqliteRecordReader) {
		start, end = start.UTC(), end.UTC()
		r.startTime = &start
		r.endTime = &end
	}
}

// WithCalibratedOnly restricts the reader to records carrying a
// calibration.
func WithCalibratedOnly() ReaderOption {
	return func(r *SqliteRecordReader) {
		r.calibratedOnly = true
	}
}

// SqliteRecordReader implements RecordReader for the SQLite backend. A
// reader must be used from a single goroutine.
type SqliteRecordReader struct {
	db *sql.DB

	runID string
	run   *Run

	startTime      *time.Time
	endTime        *time.Time
	calibratedOnly bool

	rows    *sql.Rows
	current *ferrybox.MergedRecord
	read    int
	err     error
}

func newSqliteRecordReader(ctx context.Context, db *sql.DB, runID string, opts ...ReaderOption) (*SqliteRecordReader, error) {
	rr := &SqliteRecordReader{
		db:    db,
		runID: runID,
	}
	for _, opt := range opts {
		opt(rr)
	}
	if err := rr.init(ctx); err != nil {
		return nil, fmt.Errorf("initializing reader: %w", err)
	}
	return rr, nil
}

func (rr *SqliteRecordReader) init(ctx context.Context) error {
	if rr.db == nil {
		return errors.New("database connection required")
	}
	if rr.runID == "" {
		return errors.New("run ID required")
	}

	steps := []struct {
		msg string
		fn  func(context.Context) error
	}{
		{msg: "loading run", fn: rr.loadRun},
		{msg: "validating filters", fn: rr.validateFilters},
		{msg: "initializing query", fn: rr.initQuery},
	}
	for _, s := range steps {
		if err := s.fn(ctx); err != nil {
			return fmt.Errorf("%s: %w", s.msg, err)
		}
	}
	return nil
}

func (rr *SqliteRecordReader) loadRun(ctx context.Context) (err error) {
	rr.run, err = loadRun(ctx, rr.db, rr.runID)
	return
}

func (rr *SqliteRecordReader) validateFilters(context.Context) error {
	if rr.startTime != nil && rr.endTime != nil && rr.startTime.After(*rr.endTime) {
		return fmt.Errorf("start time %s is after end time %s",
			rr.startTime.Format(time.RFC3339), rr.endTime.Format(time.RFC3339))
	}
	return nil
}

func (rr *SqliteRecordReader) initQuery(ctx context.Context) (err error) {
	args := []any{rr.runID}

	var sb strings.Builder
	sb.WriteString(selectRecordsSQL)
	if rr.startTime != nil {
		sb.WriteString(" AND timestamp >= ?")
		args = append(args, *rr.startTime)
	}
	if rr.endTime != nil {
		sb.WriteString(" AND timestamp <= ?")
		args = append(args, *rr.endTime)
	}
	if rr.calibratedOnly {
		sb.WriteString(" AND calibrated = 1")
	}
	sb.WriteString(" ORDER BY timestamp, id")

	if rr.rows, err = rr.db.QueryContext(ctx, sb.String(), args...); err != nil {
		return err
	}
	return nil
}

func (rr *SqliteRecordReader) Run() *Run {
	return rr.run
}

func (rr *SqliteRecordReader) Next(ctx context.Context) bool {
	if rr.err != nil || rr.rows == nil {
		return false
	}

	select {
	case <-ctx.Done():
		rr.err = ctx.Err()
		return false
	default:
	}

	if !rr.rows.Next() {
		if err := rr.rows.Err(); err != nil {
			rr.err = err
		} else if rr.read == 0 {
			rr.err = ErrNoData
		}
		rr.current = nil
		return false
	}

	rr.current, rr.err = scanRecord(rr.rows)
	if rr.err != nil {
		return false
	}
	rr.read++
	return true
}

func scanRecord(rows *sql.Rows) (*ferrybox.MergedRecord, error) {
	var rec ferrybox.MergedRecord
	var lat, lon, diffTime, diffLat, diffLon sql.NullFloat64
	var analyzerTime, standardTime sql.NullTime
	var calibrated, derived bool
	var k, m, x, xco2, pressure, dry, since sql.NullFloat64
	var tequ, vp, pco2, fco2 sql.NullFloat64
	var navigation, analyzer sql.NullString

	err := rows.Scan(
		&rec.Time,
		&lat,
		&lon,
		&analyzerTime,
		&diffTime,
		&diffLat,
		&diffLon,
		&calibrated,
		&k,
		&m,
		&x,
		&xco2,
		&pressure,
		&dry,
		&standardTime,
		&since,
		&derived,
		&tequ,
		&vp,
		&pco2,
		&fco2,
		&navigation,
		&analyzer,
	)
	if err != nil {
		return nil, fmt.Errorf("scanning record: %w", err)
	}

	rec.Time = rec.Time.UTC()
	rec.Lat, rec.Lon = floatPtr(lat), floatPtr(lon)
	rec.DiffTime, rec.DiffLat, rec.DiffLon = floatPtr(diffTime), floatPtr(diffLat), floatPtr(diffLon)
	if analyzerTime.Valid {
		t := analyzerTime.Time.UTC()
		rec.AnalyzerTime = &t
	}
	if rec.Navigation, err = decodeFields(navigation); err != nil {
		return nil, fmt.Errorf("decoding navigation fields: %w", err)
	}
	if rec.Analyzer, err = decodeFields(analyzer); err != nil {
		return nil, fmt.Errorf("decoding analyzer fields: %w", err)
	}

	if calibrated {
		rec.Calibration = &ferrybox.Calibration{
			Coefficients:          ferrybox.Coefficients{K: float(k), M: float(m)},
			X:                     float(x),
			CorrectedMoleFraction: float(xco2),
			EquilibratorPressure:  float(pressure),
			DriedAirPCO2:          float(dry),
			StandardTime:          standardTime.Time.UTC(),
			SecondsSinceStandard:  float(since),
		}
	}
	if derived {
		rec.Physical = &ferrybox.Physical{
			EquilibratorTemperatureK: float(tequ),
			WaterVapourPressure:      float(vp),
			PCO2:                     float(pco2),
			FCO2:                     float(fco2),
		}
	}
	return &rec, nil
}

func (rr *SqliteRecordReader) Current() *ferrybox.MergedRecord {
	return rr.current
}

// Error returns the error that stopped the iteration. Reaching the end of
// a non-empty result is not an error; an empty result reports ErrNoData.
func (rr *SqliteRecordReader) Error() error {
	return rr.err
}

func (rr *SqliteRecordReader) Close() error {
	if rr.rows != nil {
		err := rr.rows.Close()
		rr.current = nil
		rr.rows = nil
		return err
	}
	return nil
}
