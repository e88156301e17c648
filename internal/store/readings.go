package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tfraser/riverwatch/internal/models"
)

// GetYearlyReadings returns the date-keyed daily means stored for one
// station and year. A missing document yields an empty map.
func (s *Store) GetYearlyReadings(docID string, year int) (map[string]models.DailyMean, error) {
	var raw string
	err := s.db.QueryRow(`SELECT daily_readings FROM station_readings WHERE doc_id = ? AND year = ?`, docID, year).Scan(&raw)
	if err == sql.ErrNoRows {
		return map[string]models.DailyMean{}, nil
	}
	if err != nil {
		return nil, err
	}

	readings := map[string]models.DailyMean{}
	if err := json.Unmarshal([]byte(raw), &readings); err != nil {
		return nil, fmt.Errorf("unmarshal readings %s/%d: %w", docID, year, err)
	}
	return readings, nil
}

// HasReadings reports whether the station has any archived yearly
// document. The daily job skips stations without one: new stations need
// a historical backfill first.
func (s *Store) HasReadings(docID string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(`SELECT EXISTS(SELECT 1 FROM station_readings WHERE doc_id = ?)`, docID).Scan(&exists)
	return exists, err
}

// applyMergeDaily merges one operation's daily means into the station's
// yearly document inside the batch transaction. Dates absent from the
// incoming map are preserved, and an existing date entry is kept when it
// reflects more samples than the incoming one, so reprocessing a window
// can never thin out previously aggregated history.
func applyMergeDaily(tx *sql.Tx, op MergeDailyOp, now time.Time) error {
	docID := op.DocID()

	existing := map[string]models.DailyMean{}
	var raw string
	err := tx.QueryRow(`SELECT daily_readings FROM station_readings WHERE doc_id = ? AND year = ?`, docID, op.Year).Scan(&raw)
	if err != nil && err != sql.ErrNoRows {
		return err
	}
	if err == nil {
		if err := json.Unmarshal([]byte(raw), &existing); err != nil {
			return fmt.Errorf("unmarshal existing readings %s/%d: %w", docID, op.Year, err)
		}
	}

	for date, incoming := range op.DailyReadings {
		if current, ok := existing[date]; ok && current.Samples() > incoming.Samples() {
			continue
		}
		existing[date] = incoming
	}

	merged, err := json.Marshal(existing)
	if err != nil {
		return fmt.Errorf("marshal readings %s/%d: %w", docID, op.Year, err)
	}

	_, err = tx.Exec(`
		INSERT INTO station_readings (doc_id, year, daily_readings, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(doc_id, year) DO UPDATE SET
			daily_readings = excluded.daily_readings,
			updated_at = excluded.updated_at
	`, docID, op.Year, string(merged), now.UTC())
	return err
}
