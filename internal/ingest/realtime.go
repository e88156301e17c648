// Package ingest runs riverwatch's two batch jobs: the realtime
// current-conditions update and the daily aggregation rollup. The jobs
// are triggered independently and share no state; the daily job reads
// the documents the realtime job writes, accepting that a staggered
// schedule may hand it a snapshot that is hours old.
package ingest

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"

	"github.com/jonboulle/clockwork"

	"github.com/tfraser/riverwatch/internal/hydro"
	"github.com/tfraser/riverwatch/internal/metrics"
	"github.com/tfraser/riverwatch/internal/models"
	"github.com/tfraser/riverwatch/internal/normalize"
	"github.com/tfraser/riverwatch/internal/store"
)

type Realtime struct {
	store  *store.Store
	client *hydro.Client
	clock  clockwork.Clock
}

func NewRealtime(st *store.Store, client *hydro.Client, clock clockwork.Clock) *Realtime {
	return &Realtime{store: st, client: client, clock: clock}
}

// Run fetches, normalizes and writes current conditions for every
// station concurrently. Stations touch disjoint document keys, so the
// fan-out needs no locking; the run waits for all stations and reports
// each outcome rather than cancelling siblings on failure.
func (r *Realtime) Run(ctx context.Context, stations []models.Station) *RunReport {
	report := &RunReport{Job: "realtime", StartedAt: r.clock.Now().UTC()}
	log.Printf("realtime: updating %d stations", len(stations))

	results := make([]StationResult, len(stations))
	var wg sync.WaitGroup
	for i, st := range stations {
		wg.Add(1)
		go func(i int, st models.Station) {
			defer wg.Done()
			results[i] = r.processStation(ctx, st)
		}(i, st)
	}
	wg.Wait()

	report.Results = results
	report.FinishedAt = r.clock.Now().UTC()
	log.Printf("realtime: done in %s: %d ok, %d failed (%s)",
		report.Duration().Round(0), report.Succeeded(), report.Failed(), report.Status())
	return report
}

func (r *Realtime) processStation(ctx context.Context, st models.Station) StationResult {
	run, err := r.store.StartIngestRun(st.Provider, st.StationCode, r.clock.Now())
	if err != nil {
		log.Printf("realtime: start ingest run %s: %v", st.StationCode, err)
	}

	readings, raw, fetchResult, fetchErr := r.client.Fetch(ctx, st)

	if run != nil && fetchResult != nil {
		run.HTTPStatus = sql.NullInt64{Int64: int64(fetchResult.HTTPStatus), Valid: fetchResult.HTTPStatus > 0}
		run.ResponseSizeBytes = sql.NullInt64{Int64: int64(fetchResult.ResponseSize), Valid: fetchResult.ResponseSize > 0}
		run.RecordsParsed = sql.NullInt64{Int64: int64(fetchResult.RecordCount), Valid: true}
		if fetchResult.ParseErrors > 0 {
			run.ParseErrors = sql.NullInt64{Int64: int64(fetchResult.ParseErrors), Valid: true}
			run.ErrorMessage = sql.NullString{String: fetchResult.ParseError, Valid: true}
			log.Printf("realtime: %s: %d rows dropped: %s", st.StationCode, fetchResult.ParseErrors, fetchResult.ParseError)
		}
	}

	if len(raw) > 0 && run != nil {
		if _, err := r.store.StoreRawPayload(&run.ID, st.Provider, st.StationCode, r.clock.Now(), raw); err != nil {
			log.Printf("realtime: store raw payload %s: %v", st.StationCode, err)
		}
	}

	if fetchErr != nil {
		log.Printf("realtime: fetch %s: %v", st.StationCode, fetchErr)
		r.completeRun(run, false, 0, fetchErr)
		return StationResult{Station: st, Status: StatusFetchError, Err: fetchErr}
	}

	// A station missing from the upstream response must not corrupt its
	// existing document with an empty snapshot: skip the write entirely.
	if len(readings) == 0 {
		log.Printf("realtime: %s: no readings, skipping write", st.StationCode)
		r.completeRun(run, false, 0, fmt.Errorf("no readings returned"))
		return StationResult{Station: st, Status: StatusNoData}
	}

	norm := normalize.Normalize(readings)
	doc := models.CurrentStation{
		Provider:       st.Provider,
		StationCode:    st.StationCode,
		LatestReading:  *norm.Latest,
		Trend:          norm.Trend,
		HourlyReadings: norm.Ordered,
		ReadingsCount:  len(norm.Ordered),
		UpdatedAt:      r.clock.Now().UTC(),
	}

	if err := r.store.WriteCurrentStation(doc); err != nil {
		log.Printf("realtime: write %s: %v", st.StationCode, err)
		r.completeRun(run, false, 0, err)
		return StationResult{Station: st, Status: StatusWriteError, Err: err}
	}

	r.completeRun(run, true, len(norm.Ordered), nil)
	metrics.ReadingsIngested.WithLabelValues(st.StationCode).Add(float64(len(norm.Ordered)))
	log.Printf("realtime: %s: %d readings, trend %s", st.StationCode, len(norm.Ordered), norm.Trend)
	return StationResult{Station: st, Status: StatusSuccess, Readings: len(norm.Ordered)}
}

func (r *Realtime) completeRun(run *store.IngestRun, success bool, stored int, cause error) {
	if run == nil {
		return
	}
	run.Success = success
	if stored > 0 {
		run.RecordsStored = sql.NullInt64{Int64: int64(stored), Valid: true}
	}
	if cause != nil {
		run.ErrorMessage = sql.NullString{String: cause.Error(), Valid: true}
	}
	if err := r.store.CompleteIngestRun(run, r.clock.Now()); err != nil {
		log.Printf("realtime: complete ingest run %s: %v", run.StationCode, err)
	}
}
