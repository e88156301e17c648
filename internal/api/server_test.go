package api

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	_ "modernc.org/sqlite"

	"github.com/tfraser/riverwatch/internal/models"
	"github.com/tfraser/riverwatch/internal/store"
)

func fp(v float64) *float64 { return &v }

func setupServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	// Each pool connection to :memory: is its own empty database; one
	// connection keeps every statement on the migrated schema.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	st := store.New(db)
	if err := st.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	stations := []models.Station{
		{Provider: models.ProviderEnvironmentCanada, StationCode: "08GA072", Name: "Cheakamus River near Brackendale", Active: true},
	}
	return NewServer(st, stations, ":0"), st
}

func seedCurrent(t *testing.T, st *store.Store) models.CurrentStation {
	t.Helper()
	doc := models.CurrentStation{
		Provider:    models.ProviderEnvironmentCanada,
		StationCode: "08GA072",
		LatestReading: models.Reading{
			Timestamp: time.Date(2026, 1, 10, 11, 0, 0, 0, time.UTC),
			Level:     fp(7.978),
		},
		Trend: models.TrendStable,
		HourlyReadings: []models.Reading{
			{Timestamp: time.Date(2026, 1, 10, 10, 0, 0, 0, time.UTC), Level: fp(7.976)},
			{Timestamp: time.Date(2026, 1, 10, 11, 0, 0, 0, time.UTC), Level: fp(7.978)},
		},
		ReadingsCount: 2,
		UpdatedAt:     time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC),
	}
	if err := st.WriteCurrentStation(doc); err != nil {
		t.Fatalf("seed current: %v", err)
	}
	return doc
}

func get(t *testing.T, srv *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	srv, _ := setupServer(t)

	rec := get(t, srv, "/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status field = %v, want ok", body["status"])
	}
	if body["schema_version"] == float64(0) {
		t.Error("schema_version = 0, want applied migrations")
	}
}

func TestStationsList(t *testing.T) {
	srv, st := setupServer(t)
	seedCurrent(t, st)

	rec := get(t, srv, "/api/stations")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var summaries []struct {
		StationCode string       `json:"station_code"`
		Trend       models.Trend `json:"trend"`
		UpdatedAt   *time.Time   `json:"updated_at"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &summaries); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(summaries) != 1 {
		t.Fatalf("len(summaries) = %d, want 1", len(summaries))
	}
	if summaries[0].Trend != models.TrendStable {
		t.Errorf("Trend = %q, want stable", summaries[0].Trend)
	}
	if summaries[0].UpdatedAt == nil {
		t.Error("UpdatedAt = nil, want value from current document")
	}
}

func TestCurrentEndpoint(t *testing.T) {
	srv, st := setupServer(t)
	seedCurrent(t, st)

	rec := get(t, srv, "/api/stations/environment_canada_08GA072/current")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var doc models.CurrentStation
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if doc.ReadingsCount != 2 || len(doc.HourlyReadings) != 2 {
		t.Errorf("doc = %+v, want two hourly readings", doc)
	}
	if doc.LatestReading.Level == nil || *doc.LatestReading.Level != 7.978 {
		t.Errorf("LatestReading.Level = %v, want 7.978", doc.LatestReading.Level)
	}
}

func TestCurrentEndpoint_NotFound(t *testing.T) {
	srv, _ := setupServer(t)

	rec := get(t, srv, "/api/stations/environment_canada_00XX000/current")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestYearlyReadingsEndpoint(t *testing.T) {
	srv, st := setupServer(t)

	writer := st.NewBatchWriter(clockwork.NewFakeClockAt(time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)))
	err := writer.Enqueue(store.MergeDailyOp{
		Provider:    models.ProviderEnvironmentCanada,
		StationCode: "08GA072",
		Year:        2026,
		DailyReadings: map[string]models.DailyMean{
			"2026-01-09": {MeanLevel: fp(7.9), LevelSamples: 24},
		},
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := writer.Finalize(); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	rec := get(t, srv, "/api/stations/environment_canada_08GA072/readings/2026")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var body struct {
		Year          int                         `json:"year"`
		DailyReadings map[string]models.DailyMean `json:"daily_readings"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Year != 2026 {
		t.Errorf("year = %d, want 2026", body.Year)
	}
	if got := body.DailyReadings["2026-01-09"]; got.MeanLevel == nil || *got.MeanLevel != 7.9 {
		t.Errorf("2026-01-09 = %+v, want MeanLevel 7.9", got)
	}
}

func TestIngestErrorsEndpoint(t *testing.T) {
	srv, st := setupServer(t)

	started := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	run, err := st.StartIngestRun(models.ProviderEnvironmentCanada, "08GA072", started)
	if err != nil {
		t.Fatalf("start run: %v", err)
	}
	run.ErrorMessage = sql.NullString{String: "status 502", Valid: true}
	if err := st.CompleteIngestRun(run, started.Add(time.Second)); err != nil {
		t.Fatalf("complete run: %v", err)
	}

	rec := get(t, srv, "/api/ingest/errors")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var errs []struct {
		StationCode string `json:"station_code"`
		Error       string `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &errs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(errs) != 1 || errs[0].StationCode != "08GA072" || errs[0].Error != "status 502" {
		t.Errorf("errs = %v, want one 08GA072 entry with status 502", errs)
	}
}

func TestYearlyReadingsEndpoint_Errors(t *testing.T) {
	srv, _ := setupServer(t)

	if rec := get(t, srv, "/api/stations/environment_canada_08GA072/readings/not-a-year"); rec.Code != http.StatusBadRequest {
		t.Errorf("invalid year: status = %d, want 400", rec.Code)
	}
	if rec := get(t, srv, "/api/stations/environment_canada_08GA072/readings/2026"); rec.Code != http.StatusNotFound {
		t.Errorf("empty archive: status = %d, want 404", rec.Code)
	}
}
