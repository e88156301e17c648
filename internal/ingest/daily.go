package ingest

import (
	"context"
	"log"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/tfraser/riverwatch/internal/metrics"
	"github.com/tfraser/riverwatch/internal/models"
	"github.com/tfraser/riverwatch/internal/store"
)

// rawPayloadRetention bounds the raw CSV archive; payloads older than
// this have served their replay purpose.
const rawPayloadRetention = 30 * 24 * time.Hour

type Daily struct {
	store *store.Store
	clock clockwork.Clock
}

func NewDaily(st *store.Store, clock clockwork.Clock) *Daily {
	return &Daily{store: st, clock: clock}
}

// Run aggregates each station's cached hourly readings into calendar-day
// means and merges them into the yearly archive through a single batch
// writer. Stations are processed sequentially on purpose: it keeps the
// number of operations enqueued against the batch ceiling predictable.
//
// With includeNew false, stations that have no archived yearly document
// yet are skipped; they need a historical backfill before incremental
// rollups make sense.
func (d *Daily) Run(ctx context.Context, stations []models.Station, includeNew bool) *RunReport {
	report := &RunReport{Job: "daily", StartedAt: d.clock.Now().UTC()}
	log.Printf("daily: aggregating %d stations", len(stations))

	writer := d.store.NewBatchWriter(d.clock)
	for _, st := range stations {
		if ctx.Err() != nil {
			report.RunErr = ctx.Err()
			break
		}
		report.Results = append(report.Results, d.processStation(st, writer, includeNew))
	}

	if err := writer.Finalize(); err != nil {
		log.Printf("daily: finalize: %v", err)
		report.RunErr = err
	}

	if pruned, err := d.store.PruneRawPayloads(d.clock.Now().Add(-rawPayloadRetention)); err != nil {
		log.Printf("daily: prune raw payloads: %v", err)
	} else if pruned > 0 {
		log.Printf("daily: pruned %d raw payloads", pruned)
	}

	report.FinishedAt = d.clock.Now().UTC()
	log.Printf("daily: done in %s: %d ok, %d failed, %d skipped, %d batches (%d ops) (%s)",
		report.Duration().Round(0), report.Succeeded(), report.Failed(),
		report.Skipped(), writer.CommittedBatches(), writer.CommittedOps(), report.Status())
	return report
}

func (d *Daily) processStation(st models.Station, writer *store.BatchWriter, includeNew bool) StationResult {
	docID := st.DocID()

	if !includeNew {
		has, err := d.store.HasReadings(docID)
		if err != nil {
			return StationResult{Station: st, Status: StatusWriteError, Err: err}
		}
		if !has {
			log.Printf("daily: %s: no archive yet, skipping", st.StationCode)
			return StationResult{Station: st, Status: StatusSkipped}
		}
	}

	current, err := d.store.GetCurrentStation(docID)
	if err != nil {
		return StationResult{Station: st, Status: StatusWriteError, Err: err}
	}
	if current == nil || len(current.HourlyReadings) == 0 {
		log.Printf("daily: %s: no cached readings", st.StationCode)
		return StationResult{Station: st, Status: StatusNoData}
	}

	dailyMeans := ComputeDailyMeans(current.HourlyReadings)
	if len(dailyMeans) == 0 {
		return StationResult{Station: st, Status: StatusNoData}
	}

	// A window spanning New Year produces one merge target per year.
	for _, year := range sortedYears(dailyMeans) {
		op := store.MergeDailyOp{
			Provider:      st.Provider,
			StationCode:   st.StationCode,
			Year:          year,
			DailyReadings: readingsForYear(dailyMeans, year),
		}
		if err := writer.Enqueue(op); err != nil {
			log.Printf("daily: enqueue %s/%d: %v", st.StationCode, year, err)
			return StationResult{Station: st, Status: StatusBatchError, Err: err}
		}
	}

	metrics.DailyMeansComputed.WithLabelValues(st.StationCode).Add(float64(len(dailyMeans)))
	log.Printf("daily: %s: %d daily means", st.StationCode, len(dailyMeans))
	return StationResult{Station: st, Status: StatusSuccess, Readings: len(dailyMeans)}
}

// ComputeDailyMeans groups readings by UTC calendar date and computes
// the arithmetic mean of each field's non-nil values. A date where a
// field has no values yields a nil mean for that field, never zero.
func ComputeDailyMeans(readings []models.Reading) map[string]models.DailyMean {
	byDate := make(map[string][]models.Reading)
	for _, r := range readings {
		date := r.Timestamp.UTC().Format("2006-01-02")
		byDate[date] = append(byDate[date], r)
	}

	means := make(map[string]models.DailyMean, len(byDate))
	for date, day := range byDate {
		var levelSum, dischargeSum float64
		var levelN, dischargeN int
		for _, r := range day {
			if r.Level != nil {
				levelSum += *r.Level
				levelN++
			}
			if r.Discharge != nil {
				dischargeSum += *r.Discharge
				dischargeN++
			}
		}
		if levelN == 0 && dischargeN == 0 {
			continue
		}

		mean := models.DailyMean{LevelSamples: levelN, DischargeSamples: dischargeN}
		if levelN > 0 {
			v := roundTo(levelSum/float64(levelN), 3)
			mean.MeanLevel = &v
		}
		if dischargeN > 0 {
			v := roundTo(dischargeSum/float64(dischargeN), 2)
			mean.MeanDischarge = &v
		}
		means[date] = mean
	}
	return means
}

func roundTo(v float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(v*scale) / scale
}

func sortedYears(means map[string]models.DailyMean) []int {
	seen := make(map[int]bool)
	for date := range means {
		if y := yearOf(date); y > 0 {
			seen[y] = true
		}
	}
	years := make([]int, 0, len(seen))
	for y := range seen {
		years = append(years, y)
	}
	sort.Ints(years)
	return years
}

func readingsForYear(means map[string]models.DailyMean, year int) map[string]models.DailyMean {
	group := make(map[string]models.DailyMean)
	for date, mean := range means {
		if yearOf(date) == year {
			group[date] = mean
		}
	}
	return group
}

func yearOf(date string) int {
	if len(date) < 4 {
		return 0
	}
	y, err := strconv.Atoi(date[:4])
	if err != nil {
		return 0
	}
	return y
}
