package store

import (
	"database/sql"
	"time"

	"github.com/tfraser/riverwatch/internal/models"
)

// IngestRun audits a single per-station fetch within a realtime run.
type IngestRun struct {
	ID                int64
	StartedAt         time.Time
	FinishedAt        sql.NullTime
	Provider          models.Provider
	StationCode       string
	HTTPStatus        sql.NullInt64
	ResponseSizeBytes sql.NullInt64
	RecordsParsed     sql.NullInt64
	RecordsStored     sql.NullInt64
	ParseErrors       sql.NullInt64
	Success           bool
	ErrorMessage      sql.NullString
}

// StartIngestRun creates a new ingest run record and returns it.
func (s *Store) StartIngestRun(provider models.Provider, stationCode string, startedAt time.Time) (*IngestRun, error) {
	run := &IngestRun{
		StartedAt:   startedAt.UTC(),
		Provider:    provider,
		StationCode: stationCode,
	}

	result, err := s.db.Exec(`
		INSERT INTO ingest_runs (started_at, provider, station_code, success)
		VALUES (?, ?, ?, FALSE)
	`, run.StartedAt, string(run.Provider), run.StationCode)
	if err != nil {
		return nil, err
	}

	run.ID, err = result.LastInsertId()
	if err != nil {
		return nil, err
	}
	return run, nil
}

// CompleteIngestRun updates the ingest run with its results.
func (s *Store) CompleteIngestRun(run *IngestRun, finishedAt time.Time) error {
	if run == nil {
		return nil
	}

	run.FinishedAt = sql.NullTime{Time: finishedAt.UTC(), Valid: true}

	_, err := s.db.Exec(`
		UPDATE ingest_runs SET
			finished_at = ?,
			http_status = ?,
			response_size_bytes = ?,
			records_parsed = ?,
			records_stored = ?,
			parse_errors = ?,
			success = ?,
			error_message = ?
		WHERE id = ?
	`, run.FinishedAt, run.HTTPStatus, run.ResponseSizeBytes, run.RecordsParsed,
		run.RecordsStored, run.ParseErrors, run.Success, run.ErrorMessage, run.ID)
	return err
}

// GetRecentIngestErrors returns recent failed ingest runs.
func (s *Store) GetRecentIngestErrors(limit int) ([]IngestRun, error) {
	rows, err := s.db.Query(`
		SELECT id, started_at, finished_at, provider, station_code,
			   http_status, response_size_bytes, records_parsed, records_stored,
			   parse_errors, success, error_message
		FROM ingest_runs
		WHERE success = FALSE
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []IngestRun
	for rows.Next() {
		var r IngestRun
		var provider string
		if err := rows.Scan(&r.ID, &r.StartedAt, &r.FinishedAt, &provider, &r.StationCode,
			&r.HTTPStatus, &r.ResponseSizeBytes, &r.RecordsParsed, &r.RecordsStored,
			&r.ParseErrors, &r.Success, &r.ErrorMessage); err != nil {
			return nil, err
		}
		r.Provider = models.Provider(provider)
		results = append(results, r)
	}
	return results, rows.Err()
}
