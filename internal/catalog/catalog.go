// Package catalog supplies the set of monitoring stations both jobs fan
// out over. Stations are reference data: defined in config, seeded into
// the store at startup, never created or destroyed at runtime.
package catalog

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/tfraser/riverwatch/internal/models"
)

var defaultStations = []models.Station{
	{Provider: models.ProviderEnvironmentCanada, StationCode: "08GA072", Name: "Cheakamus River near Brackendale", Province: "BC", Latitude: 49.790, Longitude: -123.150, Active: true},
	{Provider: models.ProviderEnvironmentCanada, StationCode: "08MG005", Name: "Adam River near its mouth", Province: "BC", Latitude: 50.417, Longitude: -126.150, Active: true},
	{Provider: models.ProviderEnvironmentCanada, StationCode: "08NM116", Name: "Similkameen River at Princeton", Province: "BC", Latitude: 49.459, Longitude: -120.503, Active: true},
	{Provider: models.ProviderEnvironmentCanada, StationCode: "08LF051", Name: "Thompson River near Spences Bridge", Province: "BC", Latitude: 50.355, Longitude: -121.393, Active: true},
}

// Load returns the station catalog. When path is empty the compiled-in
// defaults are used; otherwise the JSON file at path replaces them.
func Load(path string) ([]models.Station, error) {
	if path == "" {
		return defaultStations, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read stations file: %w", err)
	}

	var stations []models.Station
	if err := json.Unmarshal(data, &stations); err != nil {
		return nil, fmt.Errorf("parse stations file: %w", err)
	}

	for i, st := range stations {
		if st.Provider == "" {
			stations[i].Provider = models.ProviderEnvironmentCanada
		}
		if st.StationCode == "" {
			return nil, fmt.Errorf("stations file: entry %d missing station_code", i)
		}
	}

	if len(stations) == 0 {
		return nil, fmt.Errorf("stations file %s contains no stations", path)
	}
	return stations, nil
}

// Active filters the catalog down to stations that should be polled.
func Active(stations []models.Station) []models.Station {
	var active []models.Station
	for _, st := range stations {
		if st.Active {
			active = append(active, st)
		}
	}
	return active
}
