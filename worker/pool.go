package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/coilworks/bms/observability"
	"github.com/coilworks/bms/queue"
	"github.com/coilworks/bms/registry"
	"github.com/coilworks/bms/state"
	"github.com/coilworks/bms/timeseries"
)

const reserveTimeout = 5 * time.Second

// EventSink receives job completion events for live streaming. A nil
// sink disables streaming.
type EventSink interface {
	Publish(v any)
}

// JobEvent is the streamed record of one finished job.
type JobEvent struct {
	Type        string               `json:"type"`
	Unit        string               `json:"unit"`
	Kind        string               `json:"kind"`
	Reason      string               `json:"reason"`
	Outcome     string               `json:"outcome"`
	Attempt     int                  `json:"attempt"`
	DurationMS  int64                `json:"duration_ms"`
	Commands    []timeseries.Command `json:"commands,omitempty"`
	CompletedAt time.Time            `json:"completed_at"`
}

// Pool pulls jobs off the site queue and runs them through the logic
// host. Concurrency is bounded by the worker count; the queue's dedup
// key guarantees no two workers hold the same unit at once.
type Pool struct {
	siteID  int
	workers int
	queue   *queue.RedisQueue
	tracker *queue.Tracker
	reg     *registry.Registry
	host    *Host
	writer  *Writer
	states  *state.Store
	events  EventSink
}

// NewPool wires a worker pool for one site.
func NewPool(siteID, workers int, q *queue.RedisQueue, tracker *queue.Tracker, reg *registry.Registry, host *Host, writer *Writer, states *state.Store, events EventSink) *Pool {
	return &Pool{
		siteID:  siteID,
		workers: workers,
		queue:   q,
		tracker: tracker,
		reg:     reg,
		host:    host,
		writer:  writer,
		states:  states,
		events:  events,
	}
}

// Run blocks until the context is cancelled, keeping the configured
// number of consumers pulling from the queue.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		consumerID := fmt.Sprintf("worker-%d-%s", i, uuid.NewString())
		go func() {
			defer wg.Done()
			p.consume(ctx, consumerID)
		}()
	}
	wg.Wait()
}

func (p *Pool) consume(ctx context.Context, consumerID string) {
	for {
		job, err := p.queue.Reserve(ctx, consumerID, reserveTimeout)
		if errors.Is(err, queue.ErrNoJob) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("worker %s: reserve failed: %v", consumerID, err)
			continue
		}
		p.Process(ctx, job)
	}
}

// Process runs one reserved job to completion. Exported so the site
// runtime's tests can drive single jobs without standing up consumers.
func (p *Pool) Process(ctx context.Context, job *queue.Job) {
	start := time.Now()
	defer p.tracker.Remove(job.Key)

	if job.SiteID != p.siteID {
		// Cross-site jobs are configuration errors, not retryable work.
		log.Printf("worker: job %s targets site %d, this runtime serves site %d, dropping", job.Key, job.SiteID, p.siteID)
		p.ack(ctx, job)
		p.finish(job, start, "site_mismatch", nil)
		return
	}
	unit, ok := p.reg.Lookup(job.EquipmentID)
	if !ok {
		log.Printf("worker: job %s names unknown unit %s, dropping", job.Key, job.EquipmentID)
		p.ack(ctx, job)
		p.finish(job, start, "unknown_unit", nil)
		return
	}

	st, err := p.states.Load(ctx, unit.ID)
	if err != nil {
		p.fail(ctx, job, err)
		p.finish(job, start, "state_error", nil)
		return
	}

	results, err := p.host.Invoke(ctx, unit, st)
	if err != nil {
		outcome := "logic_error"
		if errors.Is(err, ErrLogicTimeout) {
			outcome = "logic_timeout"
		}
		p.fail(ctx, job, err)
		p.finish(job, start, outcome, nil)
		return
	}

	now := time.Now()
	cmds, err := p.writer.Write(ctx, unit, results, st, now)
	if err != nil {
		// Command-store writes are not retried here: logic is already
		// done, and the next gate-driven invocation re-emits the same
		// outputs if they remain current.
		log.Printf("worker: job %s command write failed: %v", job.Key, err)
		p.ack(ctx, job)
		p.finish(job, start, "write_error", nil)
		return
	}

	st.LastInvocation = now
	if err := p.states.Save(ctx, st); err != nil {
		p.fail(ctx, job, err)
		p.finish(job, start, "state_error", nil)
		return
	}

	p.ack(ctx, job)
	observability.UnitStaleness.WithLabelValues(unit.ID, string(unit.Kind)).Set(0)
	p.finish(job, start, "ok", cmds)
}

func (p *Pool) ack(ctx context.Context, job *queue.Job) {
	if err := p.queue.Ack(ctx, job.Key); err != nil {
		log.Printf("worker: ack %s failed: %v", job.Key, err)
	}
}

func (p *Pool) fail(ctx context.Context, job *queue.Job, cause error) {
	log.Printf("worker: job %s attempt %d failed: %v", job.Key, job.Attempt, cause)
	retried, err := p.queue.Fail(ctx, job, cause)
	if err != nil {
		log.Printf("worker: recording failure for %s: %v", job.Key, err)
		return
	}
	if !retried {
		log.Printf("worker: job %s exhausted its retry budget", job.Key)
	}
}

func (p *Pool) finish(job *queue.Job, start time.Time, outcome string, cmds []timeseries.Command) {
	elapsed := time.Since(start)
	observability.JobRuntimeSeconds.WithLabelValues(string(job.Kind)).Observe(elapsed.Seconds())
	observability.JobOutcomes.WithLabelValues(string(job.Kind), outcome).Inc()
	if p.events != nil {
		p.events.Publish(JobEvent{
			Type:        "job",
			Unit:        job.EquipmentID,
			Kind:        string(job.Kind),
			Reason:      job.Reason,
			Outcome:     outcome,
			Attempt:     job.Attempt,
			DurationMS:  elapsed.Milliseconds(),
			Commands:    cmds,
			CompletedAt: time.Now(),
		})
	}
}
