package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"

	"github.com/coilworks/bms/observability"
	"github.com/coilworks/bms/registry"
)

const reservePollInterval = 100 * time.Millisecond

// RedisQueue is the durable, priority-ordered, deduplicated job store
// for one site. Priority dominates ordering; enqueue time breaks ties.
// All multi-key transitions run as preloaded Lua scripts.
type RedisQueue struct {
	client *redis.Client
	siteID int
	prefix string

	enqueueSHA string
	reserveSHA string
	ackSHA     string
	failSHA    string
	promoteSHA string
	reclaimSHA string
}

// NewRedisQueue verifies connectivity and preloads the scripts.
func NewRedisQueue(ctx context.Context, client *redis.Client, siteID int) (*RedisQueue, error) {
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("queue: redis ping: %w", err)
	}
	q := &RedisQueue{
		client: client,
		siteID: siteID,
		prefix: fmt.Sprintf("bms:%d:q:", siteID),
	}
	for _, s := range []struct {
		src string
		dst *string
	}{
		{enqueueScript, &q.enqueueSHA},
		{reserveScript, &q.reserveSHA},
		{ackScript, &q.ackSHA},
		{failScript, &q.failSHA},
		{promoteScript, &q.promoteSHA},
		{reclaimScript, &q.reclaimSHA},
	} {
		sha, err := client.ScriptLoad(ctx, s.src).Result()
		if err != nil {
			return nil, fmt.Errorf("queue: preloading script: %w", err)
		}
		*s.dst = sha
	}
	return q, nil
}

func (q *RedisQueue) waitingKey() string   { return q.prefix + "waiting" }
func (q *RedisQueue) activeKey() string    { return q.prefix + "active" }
func (q *RedisQueue) delayedKey() string   { return q.prefix + "delayed" }
func (q *RedisQueue) completedKey() string { return q.prefix + "completed" }
func (q *RedisQueue) failedKey() string    { return q.prefix + "failed" }
func (q *RedisQueue) countersKey() string  { return q.prefix + "counters" }
func (q *RedisQueue) jobPrefix() string    { return q.prefix + "job:" }
func (q *RedisQueue) jobKey(key string) string {
	return q.jobPrefix() + key
}

// waitingScore ranks by priority first (higher pops first), then FIFO.
func waitingScore(priority int, t time.Time) float64 {
	return float64(-priority)*1e13 + float64(t.UnixMilli())
}

// Enqueue inserts the job unless one with the same key is live.
// Returns ErrDuplicate on a live duplicate.
func (q *RedisQueue) Enqueue(ctx context.Context, job Job, policy registry.Policy) error {
	start := time.Now()
	defer func() {
		observability.StoreLatency.WithLabelValues("redis", "enqueue").Observe(time.Since(start).Seconds())
	}()

	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now()
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("queue: marshaling job %s: %w", job.Key, err)
	}
	// A stalled consumer is detected after twice the kind's staleness
	// ceiling.
	stallMS := (2 * policy.MaxStaleness).Milliseconds()

	res, err := q.client.EvalSha(ctx, q.enqueueSHA,
		[]string{q.jobKey(job.Key), q.waitingKey()},
		job.Key, payload, waitingScore(job.Priority, job.EnqueuedAt),
		job.Priority, stallMS, policy.MaxRetries, policy.StallLimit,
		policy.RetryBackoff.Milliseconds(),
	).Result()
	if err != nil {
		observability.QueueEnqueues.WithLabelValues("error").Inc()
		return fmt.Errorf("queue: enqueue %s: %w", job.Key, err)
	}
	if n, ok := res.(int64); ok && n == 0 {
		observability.QueueEnqueues.WithLabelValues("duplicate").Inc()
		return ErrDuplicate
	}
	observability.QueueEnqueues.WithLabelValues("enqueued").Inc()
	return nil
}

// Reserve blocks until a job becomes ready or the timeout elapses.
// Due delayed retries are promoted on each poll.
func (q *RedisQueue) Reserve(ctx context.Context, consumerID string, timeout time.Duration) (*Job, error) {
	deadline := time.Now().Add(timeout)
	for {
		now := time.Now()
		if _, err := q.client.EvalSha(ctx, q.promoteSHA,
			[]string{q.delayedKey(), q.waitingKey()},
			q.jobPrefix(), now.UnixMilli(),
		).Result(); err != nil {
			return nil, fmt.Errorf("queue: promoting delayed jobs: %w", err)
		}

		res, err := q.client.EvalSha(ctx, q.reserveSHA,
			[]string{q.waitingKey(), q.activeKey()},
			q.jobPrefix(), now.UnixMilli(), consumerID,
		).Result()
		if err != nil && err != redis.Nil {
			return nil, fmt.Errorf("queue: reserve: %w", err)
		}
		if vals, ok := res.([]interface{}); ok && len(vals) == 4 {
			return parseReserved(vals)
		}

		if time.Now().After(deadline) {
			return nil, ErrNoJob
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(reservePollInterval):
		}
	}
}

func parseReserved(vals []interface{}) (*Job, error) {
	payload, _ := vals[1].(string)
	var job Job
	if err := json.Unmarshal([]byte(payload), &job); err != nil {
		return nil, fmt.Errorf("queue: unmarshaling reserved job: %w", err)
	}
	if attempt, ok := vals[2].(int64); ok {
		job.Attempt = int(attempt)
	}
	if stalls, ok := vals[3].(string); ok {
		fmt.Sscanf(stalls, "%d", &job.Stalls)
	}
	return &job, nil
}

// Ack completes an active job and deletes it, retaining the payload in
// the bounded completed list.
func (q *RedisQueue) Ack(ctx context.Context, jobKey string) error {
	res, err := q.client.EvalSha(ctx, q.ackSHA,
		[]string{q.activeKey(), q.jobKey(jobKey), q.completedKey(), q.countersKey()},
		jobKey, completedRetention,
	).Result()
	if err != nil {
		return fmt.Errorf("queue: ack %s: %w", jobKey, err)
	}
	if n, ok := res.(int64); ok && n == 0 {
		log.Printf("queue: ack for %s ignored, job not active", jobKey)
	}
	return nil
}

// Fail marks an active job failed. While retry budget remains the job is
// re-scheduled with exponential backoff; otherwise it lands in the
// bounded failed list. Returns true when a retry was scheduled.
func (q *RedisQueue) Fail(ctx context.Context, job *Job, cause error) (bool, error) {
	delay := retryDelay(job)
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	res, err := q.client.EvalSha(ctx, q.failSHA,
		[]string{q.activeKey(), q.jobKey(job.Key), q.delayedKey(), q.failedKey(), q.countersKey()},
		job.Key, time.Now().Add(delay).UnixMilli(), msg, failedRetention,
	).Result()
	if err != nil {
		return false, fmt.Errorf("queue: fail %s: %w", job.Key, err)
	}
	outcome, _ := res.(string)
	return outcome == "retry", nil
}

// retryDelay derives the attempt's backoff from the per-kind policy
// carried on the job's policy snapshot at enqueue time.
func retryDelay(job *Job) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = registry.PolicyFor(job.Kind).RetryBackoff
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = 5 * time.Minute
	d := b.NextBackOff()
	for i := 1; i < job.Attempt; i++ {
		d = b.NextBackOff()
	}
	return d
}

// ReclaimStalled returns active jobs whose reservation deadline passed
// to the waiting set, discarding those over their stall limit.
func (q *RedisQueue) ReclaimStalled(ctx context.Context) (reclaimed, discarded int64, err error) {
	res, err := q.client.EvalSha(ctx, q.reclaimSHA,
		[]string{q.activeKey(), q.waitingKey(), q.failedKey(), q.countersKey()},
		q.jobPrefix(), time.Now().UnixMilli(), failedRetention,
	).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("queue: reclaim: %w", err)
	}
	if vals, ok := res.([]interface{}); ok && len(vals) == 2 {
		reclaimed, _ = vals[0].(int64)
		discarded, _ = vals[1].(int64)
	}
	if reclaimed > 0 {
		observability.QueueStalledReclaimed.Add(float64(reclaimed))
		log.Printf("queue: reclaimed %d stalled job(s), discarded %d", reclaimed, discarded)
	}
	return reclaimed, discarded, nil
}

// RunReclaimer periodically promotes due retries and reclaims stalled
// jobs until the context is cancelled.
func (q *RedisQueue) RunReclaimer(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, _, err := q.ReclaimStalled(ctx); err != nil {
				log.Printf("queue: reclaimer pass failed: %v", err)
			}
			if stats, err := q.Stats(ctx); err == nil {
				observability.QueueDepth.WithLabelValues("waiting").Set(float64(stats.Waiting))
				observability.QueueDepth.WithLabelValues("active").Set(float64(stats.Active))
				observability.QueueDepth.WithLabelValues("delayed").Set(float64(stats.Delayed))
			}
		}
	}
}

// Stats returns the queue's public counters.
func (q *RedisQueue) Stats(ctx context.Context) (Stats, error) {
	pipe := q.client.Pipeline()
	waiting := pipe.ZCard(ctx, q.waitingKey())
	active := pipe.ZCard(ctx, q.activeKey())
	delayed := pipe.ZCard(ctx, q.delayedKey())
	counters := pipe.HGetAll(ctx, q.countersKey())
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return Stats{}, fmt.Errorf("queue: stats: %w", err)
	}
	s := Stats{
		Waiting: waiting.Val(),
		Active:  active.Val(),
		Delayed: delayed.Val(),
	}
	for k, v := range counters.Val() {
		var n int64
		fmt.Sscanf(v, "%d", &n)
		switch k {
		case "completed":
			s.Completed = n
		case "failed":
			s.Failed = n
		}
	}
	return s, nil
}
