// Package hydro fetches realtime hydrometric time series from
// Environment Canada's geomet API. Pure I/O and parsing: transport
// failures are retryable fetch errors, row-level parse failures are
// counted and dropped, never escalated to the whole fetch.
package hydro

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jonboulle/clockwork"
	"github.com/sony/gobreaker"

	"github.com/tfraser/riverwatch/internal/metrics"
	"github.com/tfraser/riverwatch/internal/models"
)

const (
	DefaultBaseURL = "https://api.weather.gc.ca/collections/hydrometric-realtime/items"

	// DefaultWindow is the trailing span of hourly data fetched per
	// realtime run: 30 days, enough to keep the daily rollup fed even
	// when a station goes quiet for a while.
	DefaultWindow = 720 * time.Hour

	maxRecords = 10000

	// requestTimeout bounds a single fetch. A slow station delays only
	// its own fetch, never the whole run.
	requestTimeout = 30 * time.Second
)

// FetchError is a transport-level failure (timeout, non-2xx, breaker
// open). Retryable by re-invoking the whole job later.
type FetchError struct {
	StationCode string
	Err         error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.StationCode, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// FetchResult carries per-fetch statistics for the audit trail.
type FetchResult struct {
	HTTPStatus   int
	ResponseSize int
	RecordCount  int
	ParseErrors  int
	ParseError   string
}

type Client struct {
	baseURL string
	window  time.Duration
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	clock   clockwork.Clock
}

// NewClient returns a client with the default endpoint and window. The
// circuit breaker is shared across all stations in a run so a dead
// upstream trips fast instead of timing out once per station.
func NewClient(clock clockwork.Clock) *Client {
	return &Client{
		baseURL: DefaultBaseURL,
		window:  DefaultWindow,
		client:  &http.Client{Timeout: requestTimeout},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "hydrometric-api",
			Timeout: 60 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures > 5
			},
		}),
		clock: clock,
	}
}

// SetBaseURL overrides the upstream endpoint, for tests.
func (c *Client) SetBaseURL(u string) { c.baseURL = u }

// SetWindow overrides the trailing fetch window.
func (c *Client) SetWindow(d time.Duration) { c.window = d }

// Fetch retrieves the station's realtime time series as CSV and parses
// it into readings. No ordering is assumed from the upstream. The raw
// body is returned for archival regardless of parse outcome.
func (c *Client) Fetch(ctx context.Context, station models.Station) ([]models.Reading, []byte, *FetchResult, error) {
	end := c.clock.Now().UTC()
	start := end.Add(-c.window)

	q := url.Values{}
	q.Set("STATION_NUMBER", station.StationCode)
	q.Set("f", "csv")
	q.Set("sortby", "-DATETIME")
	q.Set("limit", strconv.Itoa(maxRecords))
	q.Set("datetime", fmt.Sprintf("%s/%s", start.Format(time.RFC3339), end.Format(time.RFC3339)))
	fetchURL := c.baseURL + "?" + q.Encode()

	result := &FetchResult{}

	var body []byte
	operation := func() error {
		_, err := c.breaker.Execute(func() (interface{}, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, fetchURL, nil)
			if err != nil {
				return nil, backoff.Permanent(err)
			}

			began := time.Now()
			resp, err := c.client.Do(req)
			metrics.FetchLatency.WithLabelValues(station.StationCode).Observe(time.Since(began).Seconds())
			if err != nil {
				return nil, fmt.Errorf("get: %w", err)
			}
			defer resp.Body.Close()

			result.HTTPStatus = resp.StatusCode
			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
				io.Copy(io.Discard, resp.Body)
				return nil, fmt.Errorf("status %d", resp.StatusCode)
			}
			if resp.StatusCode != http.StatusOK {
				b, _ := io.ReadAll(resp.Body)
				return nil, backoff.Permanent(fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(b))))
			}

			body, err = io.ReadAll(resp.Body)
			if err != nil {
				return nil, fmt.Errorf("read body: %w", err)
			}
			return nil, nil
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return backoff.Permanent(err)
		}
		return err
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 2 * time.Minute
	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		metrics.FetchTotal.WithLabelValues(station.StationCode, "error").Inc()
		return nil, nil, result, &FetchError{StationCode: station.StationCode, Err: err}
	}

	result.ResponseSize = len(body)
	readings := parseCSV(body, result)
	result.RecordCount = len(readings)
	metrics.FetchTotal.WithLabelValues(station.StationCode, "ok").Inc()
	return readings, body, result, nil
}

// parseCSV parses the provider's CSV body defensively: column positions
// come from the header, a row with an unparseable timestamp is dropped,
// a row missing a numeric field keeps the row with that field nil, and
// rows carrying neither measurement are skipped.
func parseCSV(body []byte, result *FetchResult) []models.Reading {
	r := csv.NewReader(bytes.NewReader(body))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		return nil
	}

	timeCol, levelCol, dischargeCol := -1, -1, -1
	for i, name := range header {
		switch upper := strings.ToUpper(strings.TrimSpace(name)); {
		case strings.Contains(upper, "DATETIME") || upper == "DATE":
			timeCol = i
		case strings.Contains(upper, "LEVEL"):
			levelCol = i
		case strings.Contains(upper, "DISCHARGE"):
			dischargeCol = i
		}
	}
	if timeCol < 0 {
		recordParseError(result, fmt.Errorf("no datetime column in header %v", header))
		return nil
	}

	var readings []models.Reading
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			recordParseError(result, err)
			continue
		}
		if timeCol >= len(row) {
			recordParseError(result, fmt.Errorf("short row: %v", row))
			continue
		}

		ts, err := parseTimestamp(row[timeCol])
		if err != nil {
			recordParseError(result, err)
			continue
		}

		reading := models.Reading{
			Timestamp: ts,
			Level:     parseFloatField(row, levelCol),
			Discharge: parseFloatField(row, dischargeCol),
		}
		if reading.Level == nil && reading.Discharge == nil {
			continue
		}
		readings = append(readings, reading)
	}
	return readings
}

func recordParseError(result *FetchResult, err error) {
	result.ParseErrors++
	if result.ParseError == "" {
		result.ParseError = err.Error()
	}
}

var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
}

func parseFloatField(row []string, col int) *float64 {
	if col < 0 || col >= len(row) {
		return nil
	}
	s := strings.TrimSpace(row[col])
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}
