package storage

import (
	_ "embed"
)

//go:embed schema.sql
var initSchemaSQL string

//go:embed indexes.sql
var initIndexesSQL string

// recordColumns is the number of bound values per merged record row.
const recordColumns = 24

// maxVariables is SQLITE_MAX_VARIABLE_NUMBER of the bundled SQLite.
const maxVariables = 32766

const (
	insertRunSQL = `
INSERT INTO runs (id,
                  created_at,
                  window_start,
                  window_end,
                  tolerance_sec,
                  config)
VALUES (?, ?, ?, ?, ?, ?)`

	selectRunSQL = `
SELECT
    id,
    created_at,
    window_start,
    window_end,
    tolerance_sec,
    config
FROM runs
WHERE
    id = ?`

	selectRunsSQL = `
SELECT
    id,
    created_at,
    window_start,
    window_end,
    tolerance_sec,
    config
FROM runs
ORDER BY created_at`

	insertRecordsSQL = `
INSERT INTO merged_records (run_id,
                            timestamp,
                            latitude,
                            longitude,
                            analyzer_time,
                            diff_time,
                            diff_lat,
                            diff_lon,
                            calibrated,
                            k,
                            m,
                            x,
                            xco2_corrected,
                            equ_pressure,
                            dry_pco2,
                            standard_time,
                            seconds_since_standard,
                            derived,
                            tequ_k,
                            vp_h2o,
                            pco2,
                            fco2,
                            navigation,
                            analyzer)
VALUES `

	recordValuesPlaceholder = "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"

	selectRecordsSQL = `
SELECT
    timestamp,
    latitude,
    longitude,
    analyzer_time,
    diff_time,
    diff_lat,
    diff_lon,
    calibrated,
    k,
    m,
    x,
    xco2_corrected,
    equ_pressure,
    dry_pco2,
    standard_time,
    seconds_since_standard,
    derived,
    tequ_k,
    vp_h2o,
    pco2,
    fco2,
    navigation,
    analyzer
FROM merged_records
WHERE
    run_id = ?`

	selectSummarySQL = `
SELECT
    COUNT(*),
    COALESCE(SUM(diff_time IS NOT NULL), 0),
    COALESCE(SUM(calibrated), 0),
    MIN(timestamp),
    MAX(timestamp)
FROM merged_records
WHERE
    run_id = ?`

	insertGapSQL = `
INSERT INTO gaps (run_id,
                  stream,
                  gap_from,
                  gap_to)
VALUES (?, ?, ?, ?)`

	selectGapsSQL = `
SELECT
    stream,
    gap_from,
    gap_to
FROM gaps
WHERE
    run_id = ?
ORDER BY id`

	insertCorruptedFileSQL = `
INSERT INTO corrupted_files (run_id,
                             stream,
                             file_name,
                             reason)
VALUES (?, ?, ?, ?)`

	selectCorruptedFilesSQL = `
SELECT
    stream,
    file_name,
    reason
FROM corrupted_files
WHERE
    run_id = ?
ORDER BY id`
)
