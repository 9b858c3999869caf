package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/coilworks/bms/registry"
)

func newTestQueue(t *testing.T) *RedisQueue {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	q, err := NewRedisQueue(context.Background(), client, 12)
	if err != nil {
		t.Fatal(err)
	}
	return q
}

func testJob(unitID string, priority int) Job {
	return Job{
		ID:          unitID + "-job",
		Key:         JobKey(12, unitID, registry.KindFanCoil),
		SiteID:      12,
		EquipmentID: unitID,
		Kind:        registry.KindFanCoil,
		Reason:      "max staleness exceeded",
		Priority:    priority,
		EnqueuedAt:  time.Now(),
	}
}

var fanCoilPolicy = registry.PolicyFor(registry.KindFanCoil)

// expireDelayed rewrites delayed-set scores into the past so retries
// become due without waiting out the backoff.
func expireDelayed(t *testing.T, q *RedisQueue) {
	t.Helper()
	ctx := context.Background()
	members, err := q.client.ZRangeWithScores(ctx, q.delayedKey(), 0, -1).Result()
	if err != nil {
		t.Fatal(err)
	}
	for _, m := range members {
		q.client.ZAdd(ctx, q.delayedKey(), redis.Z{Score: 0, Member: m.Member})
	}
}

// expireActive rewrites reservation deadlines into the past so the
// reclaimer sees the consumers as stalled.
func expireActive(t *testing.T, q *RedisQueue) {
	t.Helper()
	ctx := context.Background()
	members, err := q.client.ZRangeWithScores(ctx, q.activeKey(), 0, -1).Result()
	if err != nil {
		t.Fatal(err)
	}
	for _, m := range members {
		q.client.ZAdd(ctx, q.activeKey(), redis.Z{Score: 0, Member: m.Member})
	}
}

func TestEnqueueDeduplicates(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	if err := q.Enqueue(ctx, testJob("fcu-101", 5), fanCoilPolicy); err != nil {
		t.Fatal(err)
	}
	err := q.Enqueue(ctx, testJob("fcu-101", 20), fanCoilPolicy)
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("got %v, want ErrDuplicate", err)
	}
	// A different unit is not a duplicate.
	if err := q.Enqueue(ctx, testJob("fcu-102", 5), fanCoilPolicy); err != nil {
		t.Fatal(err)
	}
}

func TestReserveOrdersByPriorityThenFIFO(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()
	base := time.Now()

	low := testJob("fcu-101", 1)
	low.EnqueuedAt = base
	mid1 := testJob("fcu-102", 5)
	mid1.EnqueuedAt = base.Add(10 * time.Millisecond)
	mid2 := testJob("fcu-103", 5)
	mid2.EnqueuedAt = base.Add(20 * time.Millisecond)
	high := testJob("fcu-104", 20)
	high.EnqueuedAt = base.Add(30 * time.Millisecond)

	for _, j := range []Job{low, mid1, mid2, high} {
		if err := q.Enqueue(ctx, j, fanCoilPolicy); err != nil {
			t.Fatal(err)
		}
	}

	var got []string
	for i := 0; i < 4; i++ {
		job, err := q.Reserve(ctx, "c1", 200*time.Millisecond)
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, job.EquipmentID)
	}
	want := []string{"fcu-104", "fcu-102", "fcu-103", "fcu-101"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order %v, want %v", got, want)
		}
	}
}

func TestReserveTimesOutEmpty(t *testing.T) {
	q := newTestQueue(t)
	_, err := q.Reserve(context.Background(), "c1", 150*time.Millisecond)
	if !errors.Is(err, ErrNoJob) {
		t.Fatalf("got %v, want ErrNoJob", err)
	}
}

func TestAckCompletesAndAllowsReEnqueue(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	if err := q.Enqueue(ctx, testJob("fcu-101", 5), fanCoilPolicy); err != nil {
		t.Fatal(err)
	}
	job, err := q.Reserve(ctx, "c1", 200*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if job.Attempt != 1 {
		t.Fatalf("attempt %d, want 1", job.Attempt)
	}
	if err := q.Ack(ctx, job.Key); err != nil {
		t.Fatal(err)
	}

	stats, err := q.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Completed != 1 || stats.Waiting != 0 || stats.Active != 0 {
		t.Fatalf("stats %+v", stats)
	}

	// The key is free again for the next gate decision.
	if err := q.Enqueue(ctx, testJob("fcu-101", 5), fanCoilPolicy); err != nil {
		t.Fatal(err)
	}
}

func TestFailSchedulesRetryWithBackoff(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	if err := q.Enqueue(ctx, testJob("fcu-101", 5), fanCoilPolicy); err != nil {
		t.Fatal(err)
	}
	job, err := q.Reserve(ctx, "c1", 200*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	retried, err := q.Fail(ctx, job, errors.New("store unavailable"))
	if err != nil {
		t.Fatal(err)
	}
	if !retried {
		t.Fatal("first failure should schedule a retry")
	}

	// The retry is delayed; nothing is ready yet.
	if _, err := q.Reserve(ctx, "c1", 150*time.Millisecond); !errors.Is(err, ErrNoJob) {
		t.Fatalf("got %v, want ErrNoJob before backoff elapses", err)
	}

	expireDelayed(t, q)
	job, err = q.Reserve(ctx, "c1", 200*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if job.Attempt != 2 {
		t.Fatalf("attempt %d after retry, want 2", job.Attempt)
	}
}

func TestFailExhaustsRetryBudget(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	if err := q.Enqueue(ctx, testJob("fcu-101", 5), fanCoilPolicy); err != nil {
		t.Fatal(err)
	}
	// Initial attempt plus three retries, then the job is discarded.
	for attempt := 1; attempt <= 4; attempt++ {
		job, err := q.Reserve(ctx, "c1", 200*time.Millisecond)
		if err != nil {
			t.Fatalf("attempt %d: %v", attempt, err)
		}
		retried, err := q.Fail(ctx, job, errors.New("still broken"))
		if err != nil {
			t.Fatal(err)
		}
		if attempt < 4 && !retried {
			t.Fatalf("attempt %d should retry", attempt)
		}
		if attempt == 4 && retried {
			t.Fatal("retry budget not enforced")
		}
		expireDelayed(t, q)
	}

	stats, err := q.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Failed != 1 || stats.Waiting != 0 || stats.Delayed != 0 {
		t.Fatalf("stats %+v", stats)
	}
	// The dead job no longer blocks the key.
	if err := q.Enqueue(ctx, testJob("fcu-101", 5), fanCoilPolicy); err != nil {
		t.Fatal(err)
	}
}

func TestReclaimReturnsStalledJobs(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	if err := q.Enqueue(ctx, testJob("fcu-101", 5), fanCoilPolicy); err != nil {
		t.Fatal(err)
	}
	if _, err := q.Reserve(ctx, "crashed-worker", 200*time.Millisecond); err != nil {
		t.Fatal(err)
	}

	expireActive(t, q)
	reclaimed, discarded, err := q.ReclaimStalled(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if reclaimed != 1 || discarded != 0 {
		t.Fatalf("reclaimed %d discarded %d", reclaimed, discarded)
	}

	job, err := q.Reserve(ctx, "healthy-worker", 200*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if job.Stalls != 1 {
		t.Fatalf("stalls %d, want 1", job.Stalls)
	}
}

func TestReclaimDiscardsPastStallLimit(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	if err := q.Enqueue(ctx, testJob("fcu-101", 5), fanCoilPolicy); err != nil {
		t.Fatal(err)
	}
	// Stall the job once past its limit of 3.
	for i := 0; i < 4; i++ {
		if _, err := q.Reserve(ctx, "crashed-worker", 200*time.Millisecond); err != nil {
			t.Fatalf("stall %d: %v", i, err)
		}
		expireActive(t, q)
		reclaimed, discarded, err := q.ReclaimStalled(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if i < 3 && (reclaimed != 1 || discarded != 0) {
			t.Fatalf("stall %d: reclaimed %d discarded %d", i, reclaimed, discarded)
		}
		if i == 3 && (reclaimed != 0 || discarded != 1) {
			t.Fatalf("final stall: reclaimed %d discarded %d", reclaimed, discarded)
		}
	}

	stats, err := q.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Failed != 1 {
		t.Fatalf("stats %+v", stats)
	}
}
