package site

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/coilworks/bms/gate"
	"github.com/coilworks/bms/observability"
	"github.com/coilworks/bms/queue"
	"github.com/coilworks/bms/registry"
)

// runUnitTicker drives one unit at its kind's cadence. An immediate
// tick runs at startup so a fresh site converges before the first full
// period elapses.
func (r *Runtime) runUnitTicker(ctx context.Context, unit registry.EquipmentUnit) {
	period := unit.Policy().TickPeriod
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	r.tick(ctx, unit)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.tick(ctx, unit)
		}
	}
}

func (r *Runtime) tick(ctx context.Context, unit registry.EquipmentUnit) {
	observability.TickerTicks.WithLabelValues(unit.ID).Inc()
	d := r.gate.Evaluate(ctx, unit.ID)
	if !d.Process {
		return
	}
	r.enqueue(ctx, unit, d)
}

// TickEvent is the streamed record of one gate decision that led to an
// enqueue attempt.
type TickEvent struct {
	Type     string    `json:"type"`
	Unit     string    `json:"unit"`
	Kind     string    `json:"kind"`
	Reason   string    `json:"reason"`
	Priority int       `json:"priority"`
	Enqueued bool      `json:"enqueued"`
	At       time.Time `json:"at"`
}

// enqueue tracks the unit as in-flight, then hands the job to the
// queue. The tracker entry goes in first so a crash between the two
// steps self-heals via the cleanup timeout instead of leaking a
// permanently-skipped unit.
func (r *Runtime) enqueue(ctx context.Context, unit registry.EquipmentUnit, d gate.Decision) {
	policy := unit.Policy()
	key := queue.JobKey(r.siteID, unit.ID, unit.Kind)
	if !r.tracker.Add(key, policy.CleanupTimeout) {
		return
	}

	priority := d.Priority
	if policy.BasePriority > priority {
		priority = policy.BasePriority
	}
	job := queue.Job{
		ID:          uuid.NewString(),
		Key:         key,
		SiteID:      r.siteID,
		EquipmentID: unit.ID,
		Kind:        unit.Kind,
		Reason:      d.Reason,
		Priority:    priority,
		EnqueuedAt:  time.Now(),
	}

	err := r.queue.Enqueue(ctx, job, policy)
	switch {
	case errors.Is(err, queue.ErrDuplicate):
		// A live duplicate means a prior enqueue outran the tracker.
		// Keep the entry so the gate short-circuits until it clears.
		return
	case err != nil:
		// Queue unavailable. Drop the tracker entry and do not advance
		// the enqueue clock; the staleness rule re-fires next tick.
		r.tracker.Remove(key)
		log.Printf("site %d: enqueue %s failed: %v", r.siteID, key, err)
		return
	}

	r.gate.RecordEnqueue(unit.ID, job.EnqueuedAt)
	if r.events != nil {
		r.events.Publish(TickEvent{
			Type:     "tick",
			Unit:     unit.ID,
			Kind:     string(unit.Kind),
			Reason:   d.Reason,
			Priority: priority,
			Enqueued: true,
			At:       job.EnqueuedAt,
		})
	}
}
