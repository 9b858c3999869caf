package site

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/coilworks/bms/queue"
	"github.com/coilworks/bms/registry"
	"github.com/coilworks/bms/timeseries"
)

func newTestRuntime(t *testing.T) (*Runtime, *timeseries.MemoryStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	store := timeseries.NewMemoryStore()
	rt, err := New(context.Background(), Config{
		SiteID:   12,
		SiteName: "riverview",
		Profile:  registry.ProfileStandard,
		Workers:  1,
	}, []registry.EquipmentUnit{
		{ID: "fcu-101", Kind: registry.KindFanCoil, LogicModule: "fan-coil"},
	}, rdb, Stores{Metrics: store, UICommands: store, Commands: store}, nil)
	if err != nil {
		t.Fatal(err)
	}
	return rt, store, mr
}

func fcuKey() string {
	return queue.JobKey(12, "fcu-101", registry.KindFanCoil)
}

func TestTickQueuesJobOnTemperatureDeviation(t *testing.T) {
	rt, store, _ := newTestRuntime(t)
	ctx := context.Background()
	store.SetMetrics("fcu-101", map[string]float64{"roomTemp": 74.5, "temperatureSetpoint": 72.0})

	unit, _ := rt.Registry().Lookup("fcu-101")
	rt.tick(ctx, unit)

	if !rt.tracker.Contains(fcuKey()) {
		t.Fatal("enqueued unit not tracked in-flight")
	}
	stats, err := rt.queue.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Waiting != 1 {
		t.Fatalf("stats %+v", stats)
	}
}

func TestDuplicateTickDoesNotDoubleEnqueue(t *testing.T) {
	rt, store, _ := newTestRuntime(t)
	ctx := context.Background()
	store.SetMetrics("fcu-101", map[string]float64{"roomTemp": 74.5, "temperatureSetpoint": 72.0})

	unit, _ := rt.Registry().Lookup("fcu-101")
	rt.tick(ctx, unit)
	rt.tick(ctx, unit)

	stats, err := rt.queue.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Waiting != 1 {
		t.Fatalf("second tick enqueued again: %+v", stats)
	}
}

func TestWorkerProcessesJobEndToEnd(t *testing.T) {
	rt, store, _ := newTestRuntime(t)
	ctx := context.Background()
	store.SetMetrics("fcu-101", map[string]float64{"roomTemp": 74.5, "temperatureSetpoint": 72.0})

	unit, _ := rt.Registry().Lookup("fcu-101")
	rt.tick(ctx, unit)

	job, err := rt.queue.Reserve(ctx, "test-worker", 200*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if job.EquipmentID != "fcu-101" || job.Reason != "temperature deviation: 2.5°F" {
		t.Fatalf("job %+v", job)
	}
	rt.pool.Process(ctx, job)

	cmds := store.Commands()
	if len(cmds) == 0 {
		t.Fatal("no commands written")
	}
	var cooling string
	for _, c := range cmds {
		if c.CommandType == "coolingValvePosition" {
			cooling = c.Value
		}
		if c.Source != "worker" || c.Status != "active" {
			t.Fatalf("command tags %+v", c)
		}
	}
	if cooling == "" || cooling == "0" {
		t.Fatalf("cooling valve command %q, want > 0", cooling)
	}

	if rt.tracker.Contains(fcuKey()) {
		t.Fatal("tracker entry survived completion")
	}
	st, err := rt.states.Load(ctx, "fcu-101")
	if err != nil {
		t.Fatal(err)
	}
	if st.LastInvocation.IsZero() {
		t.Fatal("invocation time not persisted")
	}
	if st.LastOutputs["coolingValvePosition"] != cooling {
		t.Fatalf("last outputs %+v", st.LastOutputs)
	}
	stats, err := rt.queue.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Completed != 1 || stats.Waiting != 0 || stats.Active != 0 {
		t.Fatalf("stats %+v", stats)
	}
}

func TestUICommandDrivesHighPriorityJob(t *testing.T) {
	rt, store, _ := newTestRuntime(t)
	ctx := context.Background()
	store.SetMetrics("fcu-101", map[string]float64{"roomTemp": 72.0, "temperatureSetpoint": 72.0})
	store.AddUICommand(timeseries.UICommand{
		Time:        time.Now().Add(-time.Minute),
		EquipmentID: "fcu-101",
		IssuedBy:    "front-desk",
	})

	unit, _ := rt.Registry().Lookup("fcu-101")
	rt.tick(ctx, unit)

	job, err := rt.queue.Reserve(ctx, "test-worker", 200*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if job.Reason != "recent UI commands" || job.Priority != 10 {
		t.Fatalf("job %+v", job)
	}
}

func TestQueueOutageClearsTrackerAndRecovers(t *testing.T) {
	rt, store, mr := newTestRuntime(t)
	ctx := context.Background()
	store.SetMetrics("fcu-101", map[string]float64{"roomTemp": 74.5, "temperatureSetpoint": 72.0})
	unit, _ := rt.Registry().Lookup("fcu-101")

	mr.SetError("LOADING redis is loading the dataset in memory")
	rt.tick(ctx, unit)
	if rt.tracker.Contains(fcuKey()) {
		t.Fatal("tracker entry leaked through a failed enqueue")
	}

	// Queue back: the next tick enqueues normally.
	mr.SetError("")
	rt.tick(ctx, unit)
	if !rt.tracker.Contains(fcuKey()) {
		t.Fatal("recovered tick did not enqueue")
	}
	stats, err := rt.queue.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Waiting != 1 {
		t.Fatalf("stats %+v", stats)
	}
}

func TestCommandWriteFailureIsNotRetried(t *testing.T) {
	rt, store, _ := newTestRuntime(t)
	ctx := context.Background()
	store.SetMetrics("fcu-101", map[string]float64{"roomTemp": 74.5, "temperatureSetpoint": 72.0})
	store.WriteErr = context.DeadlineExceeded

	unit, _ := rt.Registry().Lookup("fcu-101")
	rt.tick(ctx, unit)
	job, err := rt.queue.Reserve(ctx, "test-worker", 200*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	rt.pool.Process(ctx, job)

	// The job is acked, not rescheduled: no delayed retry, no waiting
	// copy, nothing left active.
	stats, err := rt.queue.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Delayed != 0 || stats.Waiting != 0 || stats.Active != 0 {
		t.Fatalf("write failure was rescheduled: %+v", stats)
	}
	if rt.tracker.Contains(fcuKey()) {
		t.Fatal("tracker entry survived the write failure")
	}
	if len(store.Commands()) != 0 {
		t.Fatal("commands recorded despite write failure")
	}
	// State was not saved, so the unit still reads as never invoked and
	// the next tick re-emits.
	st, err := rt.states.Load(ctx, "fcu-101")
	if err != nil {
		t.Fatal(err)
	}
	if !st.LastInvocation.IsZero() {
		t.Fatal("invocation time advanced despite write failure")
	}

	store.WriteErr = nil
	rt.tick(ctx, unit)
	if !rt.tracker.Contains(fcuKey()) {
		t.Fatal("next tick did not re-enqueue after the store recovered")
	}
}

func TestWorkerDropsCrossSiteJob(t *testing.T) {
	rt, store, _ := newTestRuntime(t)
	ctx := context.Background()

	job := queue.Job{
		ID:          "foreign",
		Key:         queue.JobKey(99, "fcu-500", registry.KindFanCoil),
		SiteID:      99,
		EquipmentID: "fcu-500",
		Kind:        registry.KindFanCoil,
		Reason:      "max staleness exceeded",
		Priority:    1,
		EnqueuedAt:  time.Now(),
	}
	if err := rt.queue.Enqueue(ctx, job, registry.PolicyFor(registry.KindFanCoil)); err != nil {
		t.Fatal(err)
	}
	reserved, err := rt.queue.Reserve(ctx, "test-worker", 200*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	rt.pool.Process(ctx, reserved)

	if len(store.Commands()) != 0 {
		t.Fatal("cross-site job produced commands")
	}
	stats, err := rt.queue.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Active != 0 || stats.Waiting != 0 {
		t.Fatalf("dropped job still live: %+v", stats)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	rt, store, _ := newTestRuntime(t)
	store.SetMetrics("fcu-101", map[string]float64{"roomTemp": 72.0, "temperatureSetpoint": 72.0})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		rt.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("runtime did not stop after cancel")
	}
}
