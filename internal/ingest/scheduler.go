package ingest

import (
	"context"
	"fmt"
	"log"

	"github.com/robfig/cron/v3"

	"github.com/tfraser/riverwatch/internal/models"
)

// Scheduler triggers the two jobs on independent cron cadences. The
// specs default to a staggered schedule so the daily rollup reads a
// settled current-conditions snapshot rather than one mid-update.
type Scheduler struct {
	realtime     *Realtime
	daily        *Daily
	stations     []models.Station
	realtimeSpec string
	dailySpec    string
}

func NewScheduler(realtime *Realtime, daily *Daily, stations []models.Station, realtimeSpec, dailySpec string) *Scheduler {
	return &Scheduler{
		realtime:     realtime,
		daily:        daily,
		stations:     stations,
		realtimeSpec: realtimeSpec,
		dailySpec:    dailySpec,
	}
}

// Run performs an immediate realtime pass, then blocks running both cron
// schedules until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.RunRealtime(ctx)

	c := cron.New()
	if _, err := c.AddFunc(s.realtimeSpec, func() {
		s.RunRealtime(context.Background())
	}); err != nil {
		return fmt.Errorf("schedule realtime %q: %w", s.realtimeSpec, err)
	}
	if _, err := c.AddFunc(s.dailySpec, func() {
		s.RunDaily(context.Background())
	}); err != nil {
		return fmt.Errorf("schedule daily %q: %w", s.dailySpec, err)
	}

	log.Printf("scheduler: realtime %q, daily %q", s.realtimeSpec, s.dailySpec)
	c.Start()

	<-ctx.Done()
	log.Println("scheduler: shutting down")
	stopCtx := c.Stop()
	<-stopCtx.Done()
	return nil
}

// RunRealtime executes one realtime update over the full catalog.
func (s *Scheduler) RunRealtime(ctx context.Context) *RunReport {
	return s.realtime.Run(ctx, s.stations)
}

// RunDaily executes one daily aggregation over stations that already
// have an archive.
func (s *Scheduler) RunDaily(ctx context.Context) *RunReport {
	return s.daily.Run(ctx, s.stations, false)
}

// Backfill recomputes daily means for every station, including ones
// without an existing archive document.
func (s *Scheduler) Backfill(ctx context.Context) *RunReport {
	return s.daily.Run(ctx, s.stations, true)
}
