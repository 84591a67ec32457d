package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ─── Dispatcher ──────────────────────────────────────────────────────────────

	DispatchTicks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dialdispatch",
		Subsystem: "dispatcher",
		Name:      "ticks_total",
		Help:      "Processing passes, labelled by result (processed, outside_hours, disabled).",
	}, []string{"result"})

	CallsPlaced = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dialdispatch",
		Subsystem: "dispatcher",
		Name:      "calls_placed_total",
		Help:      "Outbound calls accepted by the provider.",
	})

	PlacementFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dialdispatch",
		Subsystem: "dispatcher",
		Name:      "placement_failures_total",
		Help:      "Placement failures, labelled by kind (transient, permanent, other).",
	}, []string{"kind"})

	AdmissionDenied = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dialdispatch",
		Subsystem: "dispatcher",
		Name:      "admission_denied_total",
		Help:      "Dispatch candidates deferred by the admission limiter, labelled by reason.",
	}, []string{"reason"})

	// ─── Completions ─────────────────────────────────────────────────────────────

	CompletionsResolved = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dialdispatch",
		Subsystem: "completion",
		Name:      "resolved_total",
		Help:      "Completion events resolved, labelled by outcome class (terminal, callback, retry).",
	}, []string{"class"})

	CompletionsDuplicate = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dialdispatch",
		Subsystem: "completion",
		Name:      "duplicate_total",
		Help:      "Completion events for unknown or already-resolved call IDs (ignored).",
	})

	StaleCallsSwept = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dialdispatch",
		Subsystem: "completion",
		Name:      "stale_swept_total",
		Help:      "Pending calls failed by the staleness sweep.",
	})

	// ─── Queue ───────────────────────────────────────────────────────────────────

	QueueRecords = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "dialdispatch",
		Subsystem: "queue",
		Name:      "records",
		Help:      "Redial records by status.",
	}, []string{"status"})

	CallsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "dialdispatch",
		Subsystem: "queue",
		Name:      "calls_inflight",
		Help:      "Calls awaiting a completion event.",
	})

	DailyCountersReset = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dialdispatch",
		Subsystem: "queue",
		Name:      "daily_resets_total",
		Help:      "Records touched by the midnight daily-counter reset.",
	})
)
