package gate

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/coilworks/bms/observability"
	"github.com/coilworks/bms/queue"
	"github.com/coilworks/bms/registry"
	"github.com/coilworks/bms/timeseries"
)

// Rule priorities. The queue is priority-ordered, so precedence between
// concurrently queued work follows these values.
const (
	PrioritySafety    = 20
	PriorityDeviation = 15
	PriorityUICommand = 10
	PrioritySnapshot  = 5
	PriorityStaleness = 1
)

const (
	uiRecencyWindow = 5 * time.Minute
	uiCheckThrottle = 30 * time.Second
)

// Decision is the gate's verdict for one tick.
type Decision struct {
	Process  bool   `json:"process"`
	Reason   string `json:"reason"`
	Priority int    `json:"priority"`
}

// decisionRecord is the structured log line emitted per evaluation.
type decisionRecord struct {
	Component string `json:"component"`
	Unit      string `json:"unit"`
	Kind      string `json:"kind"`
	Process   bool   `json:"process"`
	Reason    string `json:"reason"`
	Priority  int    `json:"priority"`
}

// Gate decides, per tick, whether recomputation is warranted for a
// unit and at what priority. Collaborators are injected; the gate owns
// only its per-unit bookkeeping maps.
type Gate struct {
	siteID  int
	profile registry.Profile
	reg     *registry.Registry
	tracker *queue.Tracker
	metrics timeseries.MetricReader
	ui      timeseries.UICommandReader

	uiThrottle *KeyedThrottle
	nowFunc    func() time.Time

	mu            sync.Mutex
	prevSnapshots map[string]timeseries.MetricSnapshot
	lastEnqueue   map[string]time.Time // keyed by unit id
	uiCache       map[string]bool
}

// New builds a gate for one site.
func New(siteID int, profile registry.Profile, reg *registry.Registry, tracker *queue.Tracker, metrics timeseries.MetricReader, ui timeseries.UICommandReader) *Gate {
	return &Gate{
		siteID:        siteID,
		profile:       profile,
		reg:           reg,
		tracker:       tracker,
		metrics:       metrics,
		ui:            ui,
		uiThrottle:    NewKeyedThrottle(uiCheckThrottle),
		nowFunc:       time.Now,
		prevSnapshots: make(map[string]timeseries.MetricSnapshot),
		lastEnqueue:   make(map[string]time.Time),
		uiCache:       make(map[string]bool),
	}
}

// Evaluate runs the rule chain for a unit and returns the first match.
// Internal failures never skip a unit: they force processing at the
// staleness priority so the worker path can sort it out.
func (g *Gate) Evaluate(ctx context.Context, unitID string) Decision {
	start := g.nowFunc()
	unit, ok := g.reg.Lookup(unitID)
	if !ok {
		return g.record(unit, Decision{Process: false, Reason: "unknown unit", Priority: 0})
	}
	defer func() {
		observability.GateEvalDuration.Observe(time.Since(start).Seconds())
	}()

	policy := unit.Policy()
	key := queue.JobKey(g.siteID, unitID, unit.Kind)

	// 1. Deduplication against the in-flight set.
	if g.tracker.Contains(key) {
		return g.record(unit, Decision{Process: false, Reason: "already queued", Priority: 0})
	}

	// 2. Recent UI commands, throttled to one store read per 30s.
	hasUI, err := g.recentUICommands(ctx, unitID)
	if err != nil {
		return g.record(unit, g.failSafe(err))
	}
	if hasUI {
		return g.record(unit, Decision{Process: true, Reason: "recent UI commands", Priority: PriorityUICommand})
	}

	// Rules 3-5 share one fresh snapshot, which becomes the stored
	// gate snapshot regardless of which rule fires.
	snap, err := g.metrics.RecentMetrics(ctx, g.siteID, unitID)
	if err != nil {
		return g.record(unit, g.failSafe(err))
	}
	g.mu.Lock()
	prev := g.prevSnapshots[unitID]
	g.prevSnapshots[unitID] = snap
	lastEnqueue := g.lastEnqueue[unitID]
	g.mu.Unlock()

	// 3. Safety predicates.
	if reason, fired := safetyViolation(unit.Kind, snap); fired {
		return g.record(unit, Decision{Process: true, Reason: reason, Priority: PrioritySafety})
	}

	// 4. Temperature deviation from setpoint, threshold inclusive.
	if reason, fired := g.temperatureDeviation(policy, snap); fired {
		return g.record(unit, Decision{Process: true, Reason: reason, Priority: PriorityDeviation})
	}

	// 5. Change versus the previous gate snapshot.
	if reason, fired := snapshotDeviation(policy, prev, snap); fired {
		return g.record(unit, Decision{Process: true, Reason: reason, Priority: PrioritySnapshot})
	}

	// 6. Maximum staleness. A unit that has never enqueued is stale by
	// definition, which bootstraps the first run.
	if g.nowFunc().Sub(lastEnqueue) > policy.MaxStaleness {
		return g.record(unit, Decision{Process: true, Reason: "max staleness exceeded", Priority: PriorityStaleness})
	}

	// 7. Default.
	return g.record(unit, Decision{Process: false, Reason: "no significant changes", Priority: 0})
}

// temperatureDeviation applies rule 4 with the site profile's
// tightening factor. Kinds without a defining temperature metric, or
// snapshots missing it, never fire.
func (g *Gate) temperatureDeviation(policy registry.Policy, snap timeseries.MetricSnapshot) (string, bool) {
	if policy.DefiningTempMetric == "" {
		return "", false
	}
	measured, haveMeasured := snap.Get(policy.DefiningTempMetric)
	setpoint, haveSetpoint := snap.Get(policy.SetpointMetric)
	if !haveMeasured || !haveSetpoint {
		return "", false
	}
	threshold := policy.TempDeviation * g.profile.TempDeviationFactor()
	if delta := math.Abs(measured - setpoint); delta >= threshold {
		return fmt.Sprintf("temperature deviation: %.1f°F", delta), true
	}
	return "", false
}

// recentUICommands reports whether the unit saw user commands in the
// recency window, consulting the store at most once per unit per
// throttle interval and reusing the cached answer otherwise.
func (g *Gate) recentUICommands(ctx context.Context, unitID string) (bool, error) {
	if !g.uiThrottle.Allow(unitID) {
		g.mu.Lock()
		cached := g.uiCache[unitID]
		g.mu.Unlock()
		observability.UICommandChecks.WithLabelValues("throttled").Inc()
		return cached, nil
	}
	cmds, err := g.ui.RecentUICommands(ctx, unitID, g.nowFunc().Add(-uiRecencyWindow), 5)
	if err != nil {
		observability.UICommandChecks.WithLabelValues("error").Inc()
		return false, fmt.Errorf("ui command check for %s: %w", unitID, err)
	}
	has := len(cmds) > 0
	g.mu.Lock()
	g.uiCache[unitID] = has
	g.mu.Unlock()
	if has {
		observability.UICommandChecks.WithLabelValues("hit").Inc()
	} else {
		observability.UICommandChecks.WithLabelValues("miss").Inc()
	}
	return has, nil
}

// failSafe is the decision for any internal gate failure: process at
// the lowest active priority rather than silently skipping the unit.
func (g *Gate) failSafe(err error) Decision {
	return Decision{Process: true, Reason: fmt.Sprintf("gate error: %v", err), Priority: PriorityStaleness}
}

// RecordEnqueue marks a successful enqueue so the staleness rule
// measures from it. Not called when the queue is unavailable, which
// lets staleness drive recovery.
func (g *Gate) RecordEnqueue(unitID string, t time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lastEnqueue[unitID] = t
}

// record logs and meters the decision before returning it.
func (g *Gate) record(unit registry.EquipmentUnit, d Decision) Decision {
	rec := decisionRecord{
		Component: "gate",
		Unit:      unit.ID,
		Kind:      string(unit.Kind),
		Process:   d.Process,
		Reason:    d.Reason,
		Priority:  d.Priority,
	}
	if data, err := json.Marshal(rec); err == nil {
		log.Println(string(data))
	}
	observability.GateDecisions.WithLabelValues(string(unit.Kind), d.Reason, strconv.FormatBool(d.Process)).Inc()
	return d
}

// Snapshot exports the gate's bookkeeping for the debug endpoint.
func (g *Gate) Snapshot() map[string]any {
	g.mu.Lock()
	defer g.mu.Unlock()
	last := make(map[string]time.Time, len(g.lastEnqueue))
	for k, v := range g.lastEnqueue {
		last[k] = v
	}
	return map[string]any{
		"last_enqueue": last,
		"tracked_keys": g.tracker.Keys(),
	}
}
