package models

import (
	"fmt"
	"time"
)

// Provider identifies an upstream hydrometric data source.
type Provider string

const (
	ProviderEnvironmentCanada Provider = "environment_canada"
)

type Station struct {
	Provider    Provider `json:"provider"`
	StationCode string   `json:"station_code"`
	Name        string   `json:"name"`
	Province    string   `json:"province,omitempty"`
	Latitude    float64  `json:"latitude,omitempty"`
	Longitude   float64  `json:"longitude,omitempty"`
	Active      bool     `json:"active"`
}

// DocID is the document key used by both the current-state and the
// historical store: "{provider}_{station_code}".
func (s Station) DocID() string {
	return fmt.Sprintf("%s_%s", s.Provider, s.StationCode)
}

// Reading is one timestamped gauge observation. Level and Discharge are
// nil when the upstream row carried no value for that field.
type Reading struct {
	Timestamp time.Time `json:"datetime"`
	Level     *float64  `json:"level,omitempty"`
	Discharge *float64  `json:"discharge,omitempty"`
}

// Trend is the short-term direction derived from the two most recent
// readings of a station.
type Trend string

const (
	TrendRising  Trend = "rising"
	TrendFalling Trend = "falling"
	TrendStable  Trend = "stable"
)

// CurrentStation is the per-station snapshot document. Each realtime run
// replaces the whole document; it is never merged.
type CurrentStation struct {
	Provider       Provider  `json:"provider"`
	StationCode    string    `json:"station_code"`
	LatestReading  Reading   `json:"latest_reading"`
	Trend          Trend     `json:"trend"`
	HourlyReadings []Reading `json:"hourly_readings"`
	ReadingsCount  int       `json:"readings_count"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (c CurrentStation) DocID() string {
	return fmt.Sprintf("%s_%s", c.Provider, c.StationCode)
}

// DailyMean is the calendar-day aggregate for one station. A nil mean
// indicates the day had no non-nil samples for that field. Sample counts
// guard the archive against being overwritten by a thinner reprocess.
type DailyMean struct {
	MeanLevel        *float64 `json:"mean_level,omitempty"`
	MeanDischarge    *float64 `json:"mean_discharge,omitempty"`
	LevelSamples     int      `json:"level_samples,omitempty"`
	DischargeSamples int      `json:"discharge_samples,omitempty"`
}

// Samples is the total number of observations the aggregate reflects.
func (m DailyMean) Samples() int {
	return m.LevelSamples + m.DischargeSamples
}
