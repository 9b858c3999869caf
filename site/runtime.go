package site

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/coilworks/bms/gate"
	"github.com/coilworks/bms/logic"
	"github.com/coilworks/bms/queue"
	"github.com/coilworks/bms/registry"
	"github.com/coilworks/bms/state"
	"github.com/coilworks/bms/timeseries"
	"github.com/coilworks/bms/worker"
)

const reclaimInterval = 15 * time.Second

// Config identifies a site and its runtime shape.
type Config struct {
	SiteID   int
	SiteName string
	Profile  registry.Profile
	Workers  int
}

// Stores bundles the external data dependencies. In production all
// three point at the same Postgres store; tests substitute fakes per
// concern.
type Stores struct {
	Metrics    timeseries.MetricReader
	UICommands timeseries.UICommandReader
	Commands   timeseries.CommandWriter
}

// Runtime owns every moving part of one site's control loop: the unit
// registry, per-unit tickers, the gate, the queue and the worker pool.
// One process runs exactly one Runtime.
type Runtime struct {
	siteID   int
	siteName string

	reg     *registry.Registry
	gate    *gate.Gate
	tracker *queue.Tracker
	queue   *queue.RedisQueue
	states  *state.Store
	pool    *worker.Pool
	events  worker.EventSink
}

// New wires a site runtime. The registry validates the unit table, so a
// misconfigured site fails here rather than at its first tick.
func New(ctx context.Context, cfg Config, units []registry.EquipmentUnit, rdb *redis.Client, stores Stores, events worker.EventSink) (*Runtime, error) {
	reg, err := registry.New(cfg.SiteID, units)
	if err != nil {
		return nil, err
	}
	q, err := queue.NewRedisQueue(ctx, rdb, cfg.SiteID)
	if err != nil {
		return nil, err
	}
	if cfg.Workers <= 0 {
		return nil, fmt.Errorf("site: worker count must be positive, got %d", cfg.Workers)
	}

	tracker := queue.NewTracker()
	g := gate.New(cfg.SiteID, cfg.Profile, reg, tracker, stores.Metrics, stores.UICommands)
	states := state.NewStore(rdb, cfg.SiteID)
	host := worker.NewHost(cfg.SiteID, cfg.SiteName, logic.DefaultRegistry(), stores.Metrics)
	writer := worker.NewWriter(stores.Commands, cfg.SiteID)
	pool := worker.NewPool(cfg.SiteID, cfg.Workers, q, tracker, reg, host, writer, states, events)

	return &Runtime{
		siteID:   cfg.SiteID,
		siteName: cfg.SiteName,
		reg:      reg,
		gate:     g,
		tracker:  tracker,
		queue:    q,
		states:   states,
		pool:     pool,
		events:   events,
	}, nil
}

// Registry exposes the site's unit table.
func (r *Runtime) Registry() *registry.Registry { return r.reg }

// Gate exposes the site's gate, for the debug surface.
func (r *Runtime) Gate() *gate.Gate { return r.gate }

// Queue exposes the site's job queue.
func (r *Runtime) Queue() *queue.RedisQueue { return r.queue }

// Run blocks until ctx is cancelled, driving the per-unit tickers, the
// worker pool and the queue reclaimer. All goroutines drain before it
// returns, so shutdown completes within roughly one tick period.
func (r *Runtime) Run(ctx context.Context) error {
	var wg sync.WaitGroup

	for _, unit := range r.reg.Enumerate() {
		wg.Add(1)
		go func(u registry.EquipmentUnit) {
			defer wg.Done()
			r.runUnitTicker(ctx, u)
		}(unit)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		r.pool.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		r.queue.RunReclaimer(ctx, reclaimInterval)
	}()

	wg.Wait()
	return nil
}

// Snapshot assembles the debug view: unit table, gate bookkeeping and
// queue counters.
func (r *Runtime) Snapshot(ctx context.Context) (map[string]any, error) {
	stats, err := r.queue.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"site_id":   r.siteID,
		"site_name": r.siteName,
		"units":     r.reg.Enumerate(),
		"gate":      r.gate.Snapshot(),
		"queue":     stats,
	}, nil
}
