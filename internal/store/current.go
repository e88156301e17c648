package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tfraser/riverwatch/internal/models"
)

// WriteCurrentStation replaces the station's current-conditions document
// in a single atomic statement. Overwrite semantics are intentional:
// the document is a snapshot, not an accumulating log, so fields not
// carried by doc are lost.
func (s *Store) WriteCurrentStation(doc models.CurrentStation) error {
	hourly, err := json.Marshal(doc.HourlyReadings)
	if err != nil {
		return &WriteError{DocID: doc.DocID(), Err: fmt.Errorf("marshal hourly readings: %w", err)}
	}

	var latestLevel, latestDischarge sql.NullFloat64
	if doc.LatestReading.Level != nil {
		latestLevel = sql.NullFloat64{Float64: *doc.LatestReading.Level, Valid: true}
	}
	if doc.LatestReading.Discharge != nil {
		latestDischarge = sql.NullFloat64{Float64: *doc.LatestReading.Discharge, Valid: true}
	}

	_, err = s.db.Exec(`
		INSERT OR REPLACE INTO station_current
			(doc_id, provider, station_code, latest_datetime, latest_level, latest_discharge, trend, hourly_readings, readings_count, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, doc.DocID(), string(doc.Provider), doc.StationCode, doc.LatestReading.Timestamp.UTC(),
		latestLevel, latestDischarge, string(doc.Trend), string(hourly), doc.ReadingsCount, doc.UpdatedAt.UTC())
	if err != nil {
		return &WriteError{DocID: doc.DocID(), Err: err}
	}
	return nil
}

// GetCurrentStation returns the station's current-conditions document,
// or nil when none has been written yet.
func (s *Store) GetCurrentStation(docID string) (*models.CurrentStation, error) {
	row := s.db.QueryRow(`
		SELECT provider, station_code, latest_datetime, latest_level, latest_discharge, trend, hourly_readings, readings_count, updated_at
		FROM station_current
		WHERE doc_id = ?
	`, docID)

	var doc models.CurrentStation
	var provider, trend, hourly string
	var latestAt, updatedAt time.Time
	var latestLevel, latestDischarge sql.NullFloat64
	err := row.Scan(&provider, &doc.StationCode, &latestAt, &latestLevel, &latestDischarge, &trend, &hourly, &doc.ReadingsCount, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	doc.Provider = models.Provider(provider)
	doc.Trend = models.Trend(trend)
	doc.LatestReading.Timestamp = latestAt.UTC()
	if latestLevel.Valid {
		v := latestLevel.Float64
		doc.LatestReading.Level = &v
	}
	if latestDischarge.Valid {
		v := latestDischarge.Float64
		doc.LatestReading.Discharge = &v
	}
	doc.UpdatedAt = updatedAt.UTC()

	if err := json.Unmarshal([]byte(hourly), &doc.HourlyReadings); err != nil {
		return nil, fmt.Errorf("unmarshal hourly readings for %s: %w", docID, err)
	}
	return &doc, nil
}
