package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/roman-kulish/ferrybox-co2/internal/ferrybox"
)

// DefaultMaxBatchSize is the number of merged records inserted per
// statement when no batch size is configured.
const DefaultMaxBatchSize = 500

// WithMaxBatchSize sets the number of merged records inserted per
// statement. It is capped by the SQLite bound-variable limit.
func WithMaxBatchSize(n int) func(*SqliteStore) {
	return func(s *SqliteStore) {
		if n > 0 {
			s.maxBatchSize = min(n, maxVariables/recordColumns)
		}
	}
}

// SqliteStore implements Store on top of a single SQLite database file.
// Connections are opened lazily: the write connection creates the schema,
// the read connection is read-only.
type SqliteStore struct {
	dbPath       string
	maxBatchSize int

	writeDB     *sql.DB
	writeDBOnce sync.Once
	writeDBErr  error

	readDB     *sql.DB
	readDBOnce sync.Once
	readDBErr  error

	closeOnce sync.Once
	closeErr  error
}

// NewSqliteStore returns a store backed by the database at dbPath.
func NewSqliteStore(dbPath string, options ...func(*SqliteStore)) *SqliteStore {
	s := SqliteStore{
		dbPath:       dbPath,
		maxBatchSize: DefaultMaxBatchSize,
	}
	for _, option := range options {
		option(&s)
	}
	return &s
}

func runSQLCommand(db *sql.DB, sql string) error {
	_, err := db.Exec(sql)
	return err
}

func (s *SqliteStore) getWriteDB() (*sql.DB, error) {
	s.writeDBOnce.Do(func() {
		db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", s.dbPath, "_journal_mode=WAL&_synchronous=NORMAL"))
		if err != nil {
			s.writeDBErr = fmt.Errorf("opening write connection: %w", err)
			return
		}

		if err = runSQLCommand(db, initSchemaSQL); err != nil {
			_ = db.Close()
			s.writeDBErr = fmt.Errorf("initializing schema: %w", err)
			return
		}

		s.writeDB = db
	})

	return s.writeDB, s.writeDBErr
}

func (s *SqliteStore) getReadDB() (*sql.DB, error) {
	s.readDBOnce.Do(func() {
		db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", s.dbPath, "mode=ro"))
		if err != nil {
			s.readDBErr = fmt.Errorf("opening read connection: %w", err)
			return
		}
		s.readDB = db
	})

	return s.readDB, s.readDBErr
}

func (s *SqliteStore) CreateRun(ctx context.Context, start, end time.Time, tolerance time.Duration, config any) (runID string, err error) {
	configData, err := encodeConfig(config)
	if err != nil {
		return
	}

	db, err := s.getWriteDB()
	if err != nil {
		err = fmt.Errorf("getting write connection: %w", err)
		return
	}

	id, err := uuid.NewRandom()
	if err != nil {
		err = fmt.Errorf("generating run ID: %w", err)
		return
	}

	stmt, err := db.PrepareContext(ctx, insertRunSQL)
	if err != nil {
		err = fmt.Errorf("preparing statement: %w", err)
		return
	}
	defer closeWithError(stmt, &err)

	_, err = stmt.ExecContext(ctx,
		id.String(),
		time.Now().UTC(),
		start.UTC(),
		end.UTC(),
		tolerance.Seconds(),
		configData,
	)
	if err != nil {
		err = fmt.Errorf("inserting run: %w", err)
		return
	}

	return id.String(), nil
}

func (s *SqliteStore) Run(ctx context.Context, runID string) (run *Run, err error) {
	db, err := s.getReadDB()
	if err != nil {
		err = fmt.Errorf("getting read connection: %w", err)
		return
	}
	return loadRun(ctx, db, runID)
}

func loadRun(ctx context.Context, db *sql.DB, runID string) (run *Run, err error) {
	stmt, err := db.PrepareContext(ctx, selectRunSQL)
	if err != nil {
		err = fmt.Errorf("preparing statement: %w", err)
		return
	}
	defer closeWithError(stmt, &err)

	run, err = scanRun(stmt.QueryRowContext(ctx, runID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("scanning run: %w", err)
	}
	return run, nil
}

func (s *SqliteStore) Runs(ctx context.Context) (runs []*Run, err error) {
	db, err := s.getReadDB()
	if err != nil {
		err = fmt.Errorf("getting read connection: %w", err)
		return
	}

	rows, err := db.QueryContext(ctx, selectRunsSQL)
	if err != nil {
		err = fmt.Errorf("querying runs: %w", err)
		return
	}
	defer closeWithError(rows, &err)

	for rows.Next() {
		var run *Run
		if run, err = scanRun(rows); err != nil {
			err = fmt.Errorf("scanning run: %w", err)
			return
		}
		runs = append(runs, run)
	}
	err = rows.Err()
	return
}

func scanRun(row interface{ Scan(...any) error }) (*Run, error) {
	var run Run
	var tolerance float64
	var config sql.NullString
	if err := row.Scan(&run.ID, &run.CreatedAt, &run.WindowStart, &run.WindowEnd, &tolerance, &config); err != nil {
		return nil, err
	}
	run.CreatedAt = run.CreatedAt.UTC()
	run.WindowStart = run.WindowStart.UTC()
	run.WindowEnd = run.WindowEnd.UTC()
	run.Tolerance = time.Duration(tolerance * float64(time.Second))
	if config.Valid {
		run.Config = &config.String
	}
	return &run, nil
}

func (s *SqliteStore) StoreMergedRecords(ctx context.Context, runID string, records []ferrybox.MergedRecord) (err error) {
	if len(records) == 0 {
		return
	}

	db, err := s.getWriteDB()
	if err != nil {
		return fmt.Errorf("getting write connection: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollbackWithError(tx, &err)

	for batch := range slices.Chunk(records, s.maxBatchSize) {
		if err = insertRecords(ctx, tx, runID, batch); err != nil {
			return err
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func insertRecords(ctx context.Context, tx *sql.Tx, runID string, batch []ferrybox.MergedRecord) error {
	values := make([]any, 0, len(batch)*recordColumns)

	var sb strings.Builder
	sb.WriteString(insertRecordsSQL)

	for i := range batch {
		row, err := recordValues(runID, &batch[i])
		if err != nil {
			return fmt.Errorf("encoding record at %s: %w", batch[i].Time.Format(time.RFC3339), err)
		}
		values = append(values, row...)

		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(recordValuesPlaceholder)
	}

	if _, err := tx.ExecContext(ctx, sb.String(), values...); err != nil {
		return fmt.Errorf("batch inserting records: %w", err)
	}
	return nil
}

func recordValues(runID string, r *ferrybox.MergedRecord) ([]any, error) {
	navigation, err := encodeFields(r.Navigation)
	if err != nil {
		return nil, err
	}
	if !navigation.Valid {
		navigation = sql.NullString{String: "{}", Valid: true}
	}
	analyzer, err := encodeFields(r.Analyzer)
	if err != nil {
		return nil, err
	}

	var calibrated, derived bool
	var k, m, x, xco2, pressure, dry, sinceStd sql.NullFloat64
	var standardTime sql.NullTime
	var tequ, vp, pco2, fco2 sql.NullFloat64
	if c := r.Calibration; c != nil {
		calibrated = true
		k, m, x = nullFloat(c.K), nullFloat(c.M), nullFloat(c.X)
		xco2 = nullFloat(c.CorrectedMoleFraction)
		pressure = nullFloat(c.EquilibratorPressure)
		dry = nullFloat(c.DriedAirPCO2)
		standardTime = nullTime(&c.StandardTime)
		sinceStd = nullFloat(c.SecondsSinceStandard)
	}
	if p := r.Physical; p != nil {
		derived = true
		tequ = nullFloat(p.EquilibratorTemperatureK)
		vp = nullFloat(p.WaterVapourPressure)
		pco2 = nullFloat(p.PCO2)
		fco2 = nullFloat(p.FCO2)
	}

	return []any{
		runID,
		r.Time.UTC(),
		nullFloatPtr(r.Lat),
		nullFloatPtr(r.Lon),
		nullTime(r.AnalyzerTime),
		nullFloatPtr(r.DiffTime),
		nullFloatPtr(r.DiffLat),
		nullFloatPtr(r.DiffLon),
		calibrated,
		k,
		m,
		x,
		xco2,
		pressure,
		dry,
		standardTime,
		sinceStd,
		derived,
		tequ,
		vp,
		pco2,
		fco2,
		navigation,
		analyzer,
	}, nil
}

func (s *SqliteStore) StoreGaps(ctx context.Context, runID string, gaps []ferrybox.GapInterval) (err error) {
	if len(gaps) == 0 {
		return
	}

	db, err := s.getWriteDB()
	if err != nil {
		return fmt.Errorf("getting write connection: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollbackWithError(tx, &err)

	stmt, err := tx.PrepareContext(ctx, insertGapSQL)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer closeWithError(stmt, &err)

	for _, g := range gaps {
		if _, err = stmt.ExecContext(ctx, runID, g.Stream, boundValue(g.From), boundValue(g.To)); err != nil {
			return fmt.Errorf("inserting gap: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (s *SqliteStore) StoreCorruptedFiles(ctx context.Context, runID string, files []CorruptedFile) (err error) {
	if len(files) == 0 {
		return
	}

	db, err := s.getWriteDB()
	if err != nil {
		return fmt.Errorf("getting write connection: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollbackWithError(tx, &err)

	stmt, err := tx.PrepareContext(ctx, insertCorruptedFileSQL)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer closeWithError(stmt, &err)

	for _, f := range files {
		if _, err = stmt.ExecContext(ctx, runID, f.Stream, f.Name, f.Reason); err != nil {
			return fmt.Errorf("inserting corrupted file: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (s *SqliteStore) Gaps(ctx context.Context, runID string) (gaps []ferrybox.GapInterval, err error) {
	db, err := s.getReadDB()
	if err != nil {
		err = fmt.Errorf("getting read connection: %w", err)
		return
	}

	rows, err := db.QueryContext(ctx, selectGapsSQL, runID)
	if err != nil {
		err = fmt.Errorf("querying gaps: %w", err)
		return
	}
	defer closeWithError(rows, &err)

	for rows.Next() {
		var g ferrybox.GapInterval
		var from, to sql.NullTime
		if err = rows.Scan(&g.Stream, &from, &to); err != nil {
			err = fmt.Errorf("scanning gap: %w", err)
			return
		}
		g.From, g.To = boundTime(from), boundTime(to)
		gaps = append(gaps, g)
	}
	err = rows.Err()
	return
}

func (s *SqliteStore) CorruptedFiles(ctx context.Context, runID string) (files []CorruptedFile, err error) {
	db, err := s.getReadDB()
	if err != nil {
		err = fmt.Errorf("getting read connection: %w", err)
		return
	}

	rows, err := db.QueryContext(ctx, selectCorruptedFilesSQL, runID)
	if err != nil {
		err = fmt.Errorf("querying corrupted files: %w", err)
		return
	}
	defer closeWithError(rows, &err)

	for rows.Next() {
		var f CorruptedFile
		if err = rows.Scan(&f.Stream, &f.Name, &f.Reason); err != nil {
			err = fmt.Errorf("scanning corrupted file: %w", err)
			return
		}
		files = append(files, f)
	}
	err = rows.Err()
	return
}

func (s *SqliteStore) Summary(ctx context.Context, runID string) (summary *Summary, err error) {
	db, err := s.getReadDB()
	if err != nil {
		err = fmt.Errorf("getting read connection: %w", err)
		return
	}

	stmt, err := db.PrepareContext(ctx, selectSummarySQL)
	if err != nil {
		err = fmt.Errorf("preparing statement: %w", err)
		return
	}
	defer closeWithError(stmt, &err)

	var sum Summary
	var from, to aggregateTime
	if err = stmt.QueryRowContext(ctx, runID).Scan(&sum.Records, &sum.Matched, &sum.Calibrated, &from, &to); err != nil {
		err = fmt.Errorf("scanning summary: %w", err)
		return
	}
	sum.From, sum.To = from.Time, to.Time
	return &sum, nil
}

// ReadRecords returns a reader over the records of a run. It fails with
// ErrRunNotFound for an unknown run, and with ErrNoData when nothing
// matches the filters.
func (s *SqliteStore) ReadRecords(ctx context.Context, runID string, opts ...ReaderOption) (RecordReader, error) {
	db, err := s.getReadDB()
	if err != nil {
		return nil, fmt.Errorf("getting read connection: %w", err)
	}
	return newSqliteRecordReader(ctx, db, runID, opts...)
}

// Close creates the read indexes and closes both connections.
func (s *SqliteStore) Close() error {
	s.closeOnce.Do(func() {
		var writeErr, readErr error

		if s.writeDB != nil {
			_ = runSQLCommand(s.writeDB, initIndexesSQL)

			writeErr = s.writeDB.Close()
			s.writeDB = nil
		}

		if s.readDB != nil {
			readErr = s.readDB.Close()
			s.readDB = nil
		}

		s.closeErr = errors.Join(writeErr, readErr)
	})

	return s.closeErr
}
