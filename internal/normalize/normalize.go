// Package normalize turns a provider's unordered reading sequence into
// the canonical form the current-state writer stores: chronologically
// sorted readings, the latest reading, and a trend.
package normalize

import (
	"math"
	"sort"

	"github.com/tfraser/riverwatch/internal/models"
)

// TrendThreshold is the minimum change between the two most recent
// readings that counts as movement. Fixed for output compatibility with
// existing consumers of the trend field.
const TrendThreshold = 0.01

type Normalized struct {
	// Latest is the most recent reading, nil when the input is empty.
	// Callers must handle the empty case; no reading is synthesized.
	Latest  *models.Reading
	Trend   models.Trend
	Ordered []models.Reading
}

// Normalize sorts readings ascending by timestamp (stable, so equal
// timestamps keep input order) and derives the trend from the two most
// recent readings.
func Normalize(readings []models.Reading) Normalized {
	ordered := make([]models.Reading, len(readings))
	copy(ordered, readings)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Timestamp.Before(ordered[j].Timestamp)
	})

	n := Normalized{Trend: models.TrendStable, Ordered: ordered}
	if len(ordered) == 0 {
		return n
	}

	n.Latest = &ordered[len(ordered)-1]
	if len(ordered) >= 2 {
		n.Trend = deriveTrend(ordered[len(ordered)-1], ordered[len(ordered)-2])
	}
	return n
}

// deriveTrend compares level, falling back to discharge when level is
// absent on either side. Missing values on either side mean stable.
func deriveTrend(newest, previous models.Reading) models.Trend {
	var diff float64
	switch {
	case newest.Level != nil && previous.Level != nil:
		diff = *newest.Level - *previous.Level
	case newest.Discharge != nil && previous.Discharge != nil:
		diff = *newest.Discharge - *previous.Discharge
	default:
		return models.TrendStable
	}

	if math.Abs(diff) < TrendThreshold {
		return models.TrendStable
	}
	if diff > 0 {
		return models.TrendRising
	}
	return models.TrendFalling
}
