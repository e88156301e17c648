package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/jonboulle/clockwork"
	kongdotenv "github.com/titusjaka/kong-dotenv-go"
	_ "modernc.org/sqlite"

	"github.com/tfraser/riverwatch/internal/api"
	"github.com/tfraser/riverwatch/internal/catalog"
	"github.com/tfraser/riverwatch/internal/hydro"
	"github.com/tfraser/riverwatch/internal/ingest"
	"github.com/tfraser/riverwatch/internal/store"
)

type cli struct {
	DB       string `help:"Path to SQLite database." default:"data/riverwatch.db" env:"RIVERWATCH_DB"`
	Stations string `help:"Path to stations JSON file (defaults to the built-in catalog)." env:"RIVERWATCH_STATIONS"`

	Serve struct {
		Addr             string `help:"HTTP listen address." default:":8080" env:"RIVERWATCH_ADDR"`
		RealtimeSchedule string `help:"Cron spec for realtime updates." default:"0 */3 * * *" env:"RIVERWATCH_REALTIME_SCHEDULE"`
		DailySchedule    string `help:"Cron spec for the daily aggregation." default:"30 6 * * *" env:"RIVERWATCH_DAILY_SCHEDULE"`
	} `cmd:"" help:"Run both jobs on schedule plus the HTTP read API."`

	Realtime struct{} `cmd:"" help:"Run one realtime current-conditions update and exit."`
	Daily    struct{} `cmd:"" help:"Run one daily aggregation and exit."`
	Backfill struct{} `cmd:"" help:"Recompute daily means for every station, including new ones."`
}

func main() {
	var flags cli
	kctx := kong.Parse(&flags,
		kong.Name("riverwatch"),
		kong.Description("River gauge ingestion and daily aggregation service."),
		kong.Configuration(kongdotenv.ENVFileReader, ".env"),
	)

	db, err := sql.Open("sqlite", flags.DB)
	kctx.FatalIfErrorf(err, "open database")
	defer db.Close()

	db.Exec("PRAGMA journal_mode=WAL")
	db.Exec("PRAGMA busy_timeout=5000")

	st := store.New(db)
	kctx.FatalIfErrorf(st.Migrate(), "migrate")

	// Failure to load the catalog is the one catastrophic error: there
	// is nothing to fan out over.
	stations, err := catalog.Load(flags.Stations)
	kctx.FatalIfErrorf(err, "load station catalog")
	stations = catalog.Active(stations)

	for _, station := range stations {
		kctx.FatalIfErrorf(st.UpsertStation(station), "seed station %s", station.StationCode)
	}
	log.Printf("catalog: %d active stations", len(stations))

	clock := clockwork.NewRealClock()
	realtime := ingest.NewRealtime(st, hydro.NewClient(clock), clock)
	daily := ingest.NewDaily(st, clock)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	switch kctx.Command() {
	case "serve":
		scheduler := ingest.NewScheduler(realtime, daily, stations,
			flags.Serve.RealtimeSchedule, flags.Serve.DailySchedule)
		server := api.NewServer(st, stations, flags.Serve.Addr)

		go func() {
			if err := scheduler.Run(ctx); err != nil {
				log.Printf("scheduler: %v", err)
				cancel()
			}
		}()

		log.Printf("starting server on %s", flags.Serve.Addr)
		kctx.FatalIfErrorf(server.Run(ctx), "server")

	case "realtime":
		report := realtime.Run(ctx, stations)
		logReport(report)

	case "daily":
		report := daily.Run(ctx, stations, false)
		logReport(report)

	case "backfill":
		report := daily.Run(ctx, stations, true)
		logReport(report)

	default:
		kctx.FatalIfErrorf(fmt.Errorf("unknown command %s", kctx.Command()))
	}
}

// logReport prints the per-station outcome detail for one-shot runs. A
// partial run still exits zero; retrying is the scheduler's decision,
// not the job's.
func logReport(report *ingest.RunReport) {
	for _, result := range report.Results {
		if result.Err != nil {
			log.Printf("%s: %s: %s: %v", report.Job, result.Station.StationCode, result.Status, result.Err)
		}
	}
	log.Printf("%s: %s (%d ok / %d failed / %d skipped)", report.Job, report.Status(), report.Succeeded(), report.Failed(), report.Skipped())
}
