package ingest

import (
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/tfraser/riverwatch/internal/models"
)

type StationStatus string

const (
	StatusSuccess    StationStatus = "success"
	StatusNoData     StationStatus = "no_data"
	StatusSkipped    StationStatus = "skipped"
	StatusFetchError StationStatus = "fetch_error"
	StatusWriteError StationStatus = "write_error"
	StatusBatchError StationStatus = "batch_error"
)

// StationResult is the outcome of processing one station within a run.
type StationResult struct {
	Station  models.Station
	Status   StationStatus
	Readings int
	Err      error
}

func (r StationResult) OK() bool { return r.Status == StatusSuccess }

// RunReport is a job run's per-station outcome report. A run always
// observes every station; it never aborts on the first failure.
type RunReport struct {
	Job        string
	StartedAt  time.Time
	FinishedAt time.Time
	Results    []StationResult

	// RunErr holds a run-level failure such as the final batch commit,
	// as opposed to a per-station one.
	RunErr error
}

func (r *RunReport) Succeeded() int {
	n := 0
	for _, res := range r.Results {
		if res.OK() {
			n++
		}
	}
	return n
}

// Skipped counts stations a run deliberately left alone. They are
// neither successes nor failures.
func (r *RunReport) Skipped() int {
	n := 0
	for _, res := range r.Results {
		if res.Status == StatusSkipped {
			n++
		}
	}
	return n
}

func (r *RunReport) Failed() int {
	return len(r.Results) - r.Succeeded() - r.Skipped()
}

func (r *RunReport) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Status summarizes the run over the stations it actually attempted:
// "success" when every attempted station succeeded, "failed" when none
// did, otherwise "partial". A run that skipped its whole catalog did
// nothing wrong.
func (r *RunReport) Status() string {
	ok := r.Succeeded()
	attempted := len(r.Results) - r.Skipped()
	switch {
	case ok == attempted && r.RunErr == nil:
		return "success"
	case ok == 0 && attempted > 0:
		return "failed"
	default:
		return "partial"
	}
}

// Err joins every error the run collected, or nil for a clean run.
func (r *RunReport) Err() error {
	var merr *multierror.Error
	for _, res := range r.Results {
		if res.Err != nil {
			merr = multierror.Append(merr, res.Err)
		}
	}
	if r.RunErr != nil {
		merr = multierror.Append(merr, r.RunErr)
	}
	return merr.ErrorOrNil()
}
