package store

import (
	"time"

	"github.com/tfraser/riverwatch/internal/models"
)

// StoreRawPayload archives the raw provider response for one fetch so
// parse regressions can be replayed against real bodies.
func (s *Store) StoreRawPayload(ingestRunID *int64, provider models.Provider, stationCode string, fetchedAt time.Time, body []byte) (int64, error) {
	result, err := s.db.Exec(`
		INSERT INTO raw_payloads (ingest_run_id, provider, station_code, fetched_at, body, size_bytes)
		VALUES (?, ?, ?, ?, ?, ?)
	`, ingestRunID, string(provider), stationCode, fetchedAt.UTC(), body, len(body))
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// PruneRawPayloads deletes archived payloads older than the cutoff and
// returns how many were removed.
func (s *Store) PruneRawPayloads(before time.Time) (int64, error) {
	result, err := s.db.Exec(`DELETE FROM raw_payloads WHERE fetched_at < ?`, before.UTC())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
