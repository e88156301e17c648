// Package store persists riverwatch's two derived views in SQLite:
// one current-conditions document per station (overwrite semantics) and
// one daily-means document per station and year (merge semantics).
// Single-row writes are atomic; there are no cross-document transactions
// outside the batch writer.
package store

import (
	"database/sql"
	"fmt"

	"github.com/tfraser/riverwatch/internal/models"
)

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// WriteError is a store-level failure on a single document. Reported
// per-station; never aborts sibling stations.
type WriteError struct {
	DocID string
	Err   error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write %s: %v", e.DocID, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

func (s *Store) UpsertStation(st models.Station) error {
	_, err := s.db.Exec(`
		INSERT INTO stations (doc_id, provider, station_code, name, province, latitude, longitude, active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(doc_id) DO UPDATE SET
			name = excluded.name,
			province = excluded.province,
			latitude = excluded.latitude,
			longitude = excluded.longitude,
			active = excluded.active
	`, st.DocID(), string(st.Provider), st.StationCode, st.Name, st.Province, st.Latitude, st.Longitude, st.Active)
	return err
}

func (s *Store) GetActiveStations() ([]models.Station, error) {
	rows, err := s.db.Query(`SELECT provider, station_code, name, province, latitude, longitude, active FROM stations WHERE active = TRUE ORDER BY station_code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stations []models.Station
	for rows.Next() {
		var st models.Station
		var provider string
		if err := rows.Scan(&provider, &st.StationCode, &st.Name, &st.Province, &st.Latitude, &st.Longitude, &st.Active); err != nil {
			return nil, err
		}
		st.Provider = models.Provider(provider)
		stations = append(stations, st)
	}
	return stations, rows.Err()
}
