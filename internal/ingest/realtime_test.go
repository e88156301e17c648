package ingest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/tfraser/riverwatch/internal/hydro"
	"github.com/tfraser/riverwatch/internal/models"
)

// gaugeServer serves per-station CSV keyed by STATION_NUMBER. Unknown
// stations get a 404, which the client treats as permanent.
func gaugeServer(t *testing.T, bodies map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := bodies[r.URL.Query().Get("STATION_NUMBER")]
		if !ok {
			http.Error(w, "unknown station", http.StatusNotFound)
			return
		}
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRealtime_Run(t *testing.T) {
	csvBody := "STATION_NUMBER,DATETIME,LEVEL,DISCHARGE\n" +
		"08GA072,2026-01-10T10:05:00Z,7.978,55.4\n" +
		"08GA072,2026-01-10T10:00:00Z,7.976,55.1\n"

	st := setupStore(t)
	srv := gaugeServer(t, map[string]string{"08GA072": csvBody})
	clock := fakeClock()
	client := hydro.NewClient(clock)
	client.SetBaseURL(srv.URL)
	realtime := NewRealtime(st, client, clock)

	station := testStation("08GA072")
	report := realtime.Run(context.Background(), []models.Station{station})

	if report.Status() != "success" {
		t.Fatalf("Status = %q, want success (err: %v)", report.Status(), report.Err())
	}

	doc, err := st.GetCurrentStation(station.DocID())
	if err != nil {
		t.Fatalf("get current: %v", err)
	}
	if doc == nil {
		t.Fatal("no current document written")
	}
	if doc.ReadingsCount != 2 {
		t.Errorf("ReadingsCount = %d, want 2", doc.ReadingsCount)
	}
	// 7.976 to 7.978 is within the stability threshold.
	if doc.Trend != models.TrendStable {
		t.Errorf("Trend = %q, want %q", doc.Trend, models.TrendStable)
	}
	if doc.LatestReading.Level == nil || *doc.LatestReading.Level != 7.978 {
		t.Errorf("LatestReading.Level = %v, want 7.978", doc.LatestReading.Level)
	}
	// Upstream delivers newest-first; the stored series is oldest-first.
	if !doc.HourlyReadings[0].Timestamp.Before(doc.HourlyReadings[1].Timestamp) {
		t.Error("hourly readings are not sorted ascending")
	}

	runs, err := st.GetRecentIngestErrors(10)
	if err != nil {
		t.Fatalf("recent errors: %v", err)
	}
	if len(runs) != 0 {
		t.Errorf("failed ingest runs = %d, want 0", len(runs))
	}
}

func TestRealtime_Run_PartialFailure(t *testing.T) {
	csvBody := "STATION_NUMBER,DATETIME,LEVEL\n" +
		"08GA072,2026-01-10T10:00:00Z,7.9\n"

	st := setupStore(t)
	srv := gaugeServer(t, map[string]string{"08GA072": csvBody})
	clock := fakeClock()
	client := hydro.NewClient(clock)
	client.SetBaseURL(srv.URL)
	realtime := NewRealtime(st, client, clock)

	good := testStation("08GA072")
	bad := testStation("08MG005")
	report := realtime.Run(context.Background(), []models.Station{good, bad})

	if report.Status() != "partial" {
		t.Fatalf("Status = %q, want partial", report.Status())
	}
	if report.Succeeded() != 1 || report.Failed() != 1 {
		t.Errorf("ok/failed = %d/%d, want 1/1", report.Succeeded(), report.Failed())
	}

	// Results keep the input's station order regardless of goroutine
	// completion order.
	if report.Results[0].Station.StationCode != "08GA072" || report.Results[0].Status != StatusSuccess {
		t.Errorf("Results[0] = %s/%s, want 08GA072/success", report.Results[0].Station.StationCode, report.Results[0].Status)
	}
	if report.Results[1].Status != StatusFetchError {
		t.Errorf("Results[1].Status = %q, want %q", report.Results[1].Status, StatusFetchError)
	}
	if report.Err() == nil {
		t.Error("Err() = nil, want joined fetch error")
	}

	// The failing station must not block the good one's write.
	doc, err := st.GetCurrentStation(good.DocID())
	if err != nil || doc == nil {
		t.Fatalf("good station document = %v, %v", doc, err)
	}

	runs, err := st.GetRecentIngestErrors(10)
	if err != nil {
		t.Fatalf("recent errors: %v", err)
	}
	if len(runs) != 1 || runs[0].StationCode != "08MG005" {
		t.Errorf("failed runs = %v, want one for 08MG005", runs)
	}
}

func TestRealtime_Run_EmptyResponseSkipsWrite(t *testing.T) {
	st := setupStore(t)
	srv := gaugeServer(t, map[string]string{"08GA072": "STATION_NUMBER,DATETIME,LEVEL,DISCHARGE\n"})
	clock := fakeClock()
	client := hydro.NewClient(clock)
	client.SetBaseURL(srv.URL)
	realtime := NewRealtime(st, client, clock)

	station := testStation("08GA072")
	writeCurrent(t, st, station, []models.Reading{
		{Timestamp: at("2026-01-09T10:00:00Z"), Level: fp(7.9)},
	})

	report := realtime.Run(context.Background(), []models.Station{station})
	if report.Results[0].Status != StatusNoData {
		t.Fatalf("Status = %q, want %q", report.Results[0].Status, StatusNoData)
	}

	// The stale snapshot survives; an empty fetch never erases history.
	doc, err := st.GetCurrentStation(station.DocID())
	if err != nil {
		t.Fatalf("get current: %v", err)
	}
	if doc == nil || len(doc.HourlyReadings) != 1 {
		t.Errorf("doc = %v, want the prior one-reading snapshot intact", doc)
	}
}

func TestRealtime_Run_NoStations(t *testing.T) {
	st := setupStore(t)
	srv := gaugeServer(t, nil)
	clock := fakeClock()
	client := hydro.NewClient(clock)
	client.SetBaseURL(srv.URL)
	realtime := NewRealtime(st, client, clock)

	report := realtime.Run(context.Background(), nil)
	if report.Status() != "success" {
		t.Errorf("Status = %q, want success for an empty catalog", report.Status())
	}
	if report.Err() != nil {
		t.Errorf("Err() = %v, want nil", report.Err())
	}
}
