package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/oklog/run"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/coilworks/bms/registry"
	"github.com/coilworks/bms/site"
	"github.com/coilworks/bms/stream"
	"github.com/coilworks/bms/timeseries"
)

func main() {
	if err := realMain(); err != nil {
		if !errors.Is(err, ff.ErrHelp) {
			fmt.Fprintf(os.Stderr, "bmsd: %v\n", err)
		}
		os.Exit(1)
	}
}

func realMain() error {
	var cfg config
	fs := flag.NewFlagSet("bmsd", flag.ContinueOnError)
	registerFlags(&cfg, fs)
	cmd := &ff.Command{
		Name:  "bmsd",
		Usage: "bmsd [flags]",
		Flags: ff.NewFlagSetFrom("bmsd", fs),
	}
	if err := cmd.Parse(os.Args[1:], ff.WithEnvVarPrefix("BMS")); err != nil {
		fmt.Fprintln(os.Stderr, ffhelp.Command(cmd).String())
		return err
	}

	if cfg.SiteID <= 0 {
		return fmt.Errorf("site-id is required")
	}
	profile, err := registry.ParseProfile(cfg.Profile)
	if err != nil {
		return err
	}
	units, err := loadUnits(cfg.UnitsFile)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()

	store, err := timeseries.NewPostgresStore(ctx, cfg.PostgresConn)
	if err != nil {
		return fmt.Errorf("connecting to postgres: %w", err)
	}
	defer store.Close()

	hub := stream.NewHub()
	rt, err := site.New(ctx, site.Config{
		SiteID:   cfg.SiteID,
		SiteName: cfg.SiteName,
		Profile:  profile,
		Workers:  cfg.Workers,
	}, units, rdb, site.Stores{
		Metrics:    store,
		UICommands: store,
		Commands:   store,
	}, hub)
	if err != nil {
		return err
	}
	log.Printf("bmsd: site %d (%s) managing %d unit(s), profile %s",
		cfg.SiteID, cfg.SiteName, rt.Registry().Len(), profile)

	var g run.Group
	{
		// Termination: ctx closes on SIGINT/SIGTERM; the actor's exit
		// unwinds the rest of the group.
		done := make(chan struct{})
		g.Add(func() error {
			select {
			case <-ctx.Done():
				log.Printf("bmsd: received shutdown signal")
			case <-done:
			}
			return nil
		}, func(error) {
			close(done)
		})
	}
	{
		hubCtx, cancel := context.WithCancel(context.Background())
		g.Add(func() error {
			hub.Run(hubCtx)
			return nil
		}, func(error) {
			cancel()
		})
	}
	{
		siteCtx, cancel := context.WithCancel(context.Background())
		g.Add(func() error {
			return rt.Run(siteCtx)
		}, func(error) {
			cancel()
		})
	}
	{
		srv := &http.Server{
			Addr:    cfg.ListenAddr,
			Handler: adminMux(rt, hub),
		}
		g.Add(func() error {
			log.Printf("bmsd: admin HTTP listening on %s", cfg.ListenAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		}, func(error) {
			shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			srv.Shutdown(shutCtx)
		})
	}
	return g.Run()
}

// adminMux is the operational HTTP surface: liveness, Prometheus
// metrics, a debug snapshot of the scheduler's bookkeeping, and the
// live event stream.
func adminMux(rt *site.Runtime, hub *stream.Hub) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/debug/snapshot", func(w http.ResponseWriter, r *http.Request) {
		snap, err := rt.Snapshot(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(snap)
	})
	mux.Handle("/stream", hub)
	return mux
}
