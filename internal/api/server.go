// Package api exposes the read side of the two stores over HTTP:
// current-conditions documents, yearly archives and service health.
// Presentation proper lives in downstream clients.
package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tfraser/riverwatch/internal/models"
	"github.com/tfraser/riverwatch/internal/store"
)

type Server struct {
	store    *store.Store
	stations []models.Station
	addr     string
}

func NewServer(st *store.Store, stations []models.Station, addr string) *Server {
	return &Server{store: st, stations: stations, addr: addr}
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /api/stations", s.handleStations)
	mux.HandleFunc("GET /api/stations/{docID}/current", s.handleCurrent)
	mux.HandleFunc("GET /api/stations/{docID}/readings/{year}", s.handleYearlyReadings)
	mux.HandleFunc("GET /api/ingest/errors", s.handleIngestErrors)
	return mux
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.addr,
		Handler:      s.routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		log.Println("api: shutting down")
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	version, err := s.store.MigrationVersion()
	if err != nil {
		http.Error(w, "database unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, map[string]any{"status": "ok", "schema_version": version})
}

type stationSummary struct {
	models.Station
	Trend     models.Trend `json:"trend,omitempty"`
	UpdatedAt *time.Time   `json:"updated_at,omitempty"`
}

func (s *Server) handleStations(w http.ResponseWriter, r *http.Request) {
	summaries := make([]stationSummary, 0, len(s.stations))
	for _, st := range s.stations {
		summary := stationSummary{Station: st}
		current, err := s.store.GetCurrentStation(st.DocID())
		if err != nil {
			log.Printf("api: get current %s: %v", st.DocID(), err)
		} else if current != nil {
			summary.Trend = current.Trend
			updated := current.UpdatedAt
			summary.UpdatedAt = &updated
		}
		summaries = append(summaries, summary)
	}
	writeJSON(w, summaries)
}

func (s *Server) handleCurrent(w http.ResponseWriter, r *http.Request) {
	docID := r.PathValue("docID")
	current, err := s.store.GetCurrentStation(docID)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if current == nil {
		http.Error(w, "station not found", http.StatusNotFound)
		return
	}
	writeJSON(w, current)
}

func (s *Server) handleYearlyReadings(w http.ResponseWriter, r *http.Request) {
	docID := r.PathValue("docID")
	year, err := strconv.Atoi(r.PathValue("year"))
	if err != nil {
		http.Error(w, "invalid year", http.StatusBadRequest)
		return
	}

	readings, err := s.store.GetYearlyReadings(docID, year)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if len(readings) == 0 {
		http.Error(w, "no readings for year", http.StatusNotFound)
		return
	}
	writeJSON(w, map[string]any{
		"year":           year,
		"daily_readings": readings,
	})
}

type ingestError struct {
	StationCode string     `json:"station_code"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	HTTPStatus  *int       `json:"http_status,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// handleIngestErrors surfaces recent failed fetches so a stale station
// can be diagnosed without shell access to the database.
func (s *Server) handleIngestErrors(w http.ResponseWriter, r *http.Request) {
	runs, err := s.store.GetRecentIngestErrors(50)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	out := make([]ingestError, 0, len(runs))
	for _, run := range runs {
		e := ingestError{StationCode: run.StationCode, StartedAt: run.StartedAt}
		if run.FinishedAt.Valid {
			t := run.FinishedAt.Time
			e.FinishedAt = &t
		}
		if run.HTTPStatus.Valid {
			status := int(run.HTTPStatus.Int64)
			e.HTTPStatus = &status
		}
		if run.ErrorMessage.Valid {
			e.Error = run.ErrorMessage.String
		}
		out = append(out, e)
	}
	writeJSON(w, out)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: encode response: %v", err)
	}
}
