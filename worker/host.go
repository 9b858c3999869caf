package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coilworks/bms/logic"
	"github.com/coilworks/bms/registry"
	"github.com/coilworks/bms/state"
	"github.com/coilworks/bms/timeseries"
)

// ErrLogicTimeout marks an invocation that exceeded the kind's logic
// deadline. The run's goroutine is abandoned; its state mutations are
// discarded along with the state object it was handed.
var ErrLogicTimeout = errors.New("logic timeout")

// Host assembles the four logic inputs and runs the kind's algorithm
// under the policy deadline. Metrics are always read fresh here, never
// reused from the gate evaluation that enqueued the job.
type Host struct {
	siteID     int
	siteName   string
	algorithms *logic.Registry
	metrics    timeseries.MetricReader
}

// NewHost creates a logic host for one site.
func NewHost(siteID int, siteName string, algorithms *logic.Registry, metrics timeseries.MetricReader) *Host {
	return &Host{
		siteID:     siteID,
		siteName:   siteName,
		algorithms: algorithms,
		metrics:    metrics,
	}
}

type runOutcome struct {
	results []logic.Result
	err     error
}

// Invoke runs the unit's control algorithm against a fresh snapshot
// and the given durable state. On timeout the caller must discard st:
// the abandoned run may still be mutating it.
func (h *Host) Invoke(ctx context.Context, unit registry.EquipmentUnit, st *state.UnitState) ([]logic.Result, error) {
	alg, ok := h.algorithms.Resolve(unit.Kind)
	if !ok {
		return nil, fmt.Errorf("no algorithm registered for kind %s", unit.Kind)
	}

	snap, err := h.metrics.RecentMetrics(ctx, h.siteID, unit.ID)
	if err != nil {
		return nil, fmt.Errorf("reading metrics for %s: %w", unit.ID, err)
	}
	settings := logic.BuildSettings(h.siteID, h.siteName, unit)
	controlTemp := logic.ControlTemperature(unit.Kind, snap)

	deadline := unit.Policy().LogicTimeout()
	done := make(chan runOutcome, 1)
	go func() {
		results, runErr := alg.Run(snap, settings, controlTemp, st)
		done <- runOutcome{results: results, err: runErr}
	}()

	timer := time.NewTimer(deadline)
	defer timer.Stop()
	select {
	case out := <-done:
		if out.err != nil {
			return nil, fmt.Errorf("logic for %s: %w", unit.ID, out.err)
		}
		return out.results, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, fmt.Errorf("%w after %s for %s", ErrLogicTimeout, deadline, unit.ID)
	}
}
