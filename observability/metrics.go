package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// GateDecisions tracks gate outcomes by reason.
	GateDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bms_gate_decisions_total",
		Help: "Total number of gate decisions made",
	}, []string{"kind", "reason", "process"})

	// GateEvalDuration tracks the duration of a single gate evaluation.
	GateEvalDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "bms_gate_eval_duration_seconds",
		Help:    "Duration of a single gate evaluation",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
	})

	// QueueDepth tracks the number of jobs per queue state.
	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "bms_queue_depth",
		Help: "Current number of jobs in the queue by state",
	}, []string{"state"})

	// QueueEnqueues tracks enqueue attempts by result.
	QueueEnqueues = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bms_queue_enqueues_total",
		Help: "Total enqueue attempts by outcome",
	}, []string{"outcome"}) // enqueued, duplicate, error

	// QueueStalledReclaimed tracks jobs returned to waiting after a
	// consumer neither acked nor failed them.
	QueueStalledReclaimed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bms_queue_stalled_reclaimed_total",
		Help: "Jobs reclaimed from a stalled consumer",
	})

	// JobRuntimeSeconds tracks logic invocation time.
	JobRuntimeSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bms_job_runtime_seconds",
		Help:    "Logic invocation time distribution",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
	}, []string{"kind"})

	// JobOutcomes tracks worker job completions by outcome.
	JobOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bms_job_outcomes_total",
		Help: "Worker job completions by outcome",
	}, []string{"kind", "outcome"}) // ok, logic_error, logic_timeout, write_error, site_mismatch

	// CommandsWritten tracks command records appended to the store.
	CommandsWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bms_commands_written_total",
		Help: "Command records written to the command store",
	}, []string{"kind", "command"})

	// TrackerSize tracks the in-flight dedup set size.
	TrackerSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bms_inflight_tracker_size",
		Help: "Entries in the process-local in-flight tracking set",
	})

	// TrackerTimeoutCleanups counts tracker entries removed by the
	// scheduled timeout rather than a completion or failure event.
	TrackerTimeoutCleanups = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bms_inflight_tracker_timeout_cleanups_total",
		Help: "Tracker entries removed by the self-heal timeout",
	})

	// UICommandChecks tracks UI-command store lookups.
	UICommandChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bms_ui_command_checks_total",
		Help: "UI-command store lookups by result",
	}, []string{"result"}) // hit, miss, throttled, error

	// StoreLatency tracks roundtrip latency to the backing stores.
	StoreLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bms_store_roundtrip_latency_seconds",
		Help:    "Backing store operation latency",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 10), // 1ms to ~1s
	}, []string{"store", "op"})

	// UnitStaleness tracks elapsed time since the last successful
	// invocation per unit.
	UnitStaleness = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "bms_unit_staleness_seconds",
		Help: "Seconds since the last successful logic invocation",
	}, []string{"unit", "kind"})

	// TickerTicks counts ticker firings per unit.
	TickerTicks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bms_ticker_ticks_total",
		Help: "Ticker firings per unit",
	}, []string{"unit"})
)
