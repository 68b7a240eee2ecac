package saga

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Discard reasons for step results that are ignored without mutating state.
const (
	discardDuplicate    = "duplicate"
	discardOutOfOrder   = "out_of_order"
	discardTerminal     = "terminal"
	discardUnknownStep  = "unknown_step"
	discardUnknownSaga  = "unknown_transaction"
	discardStaleWrite   = "stale_write"
	discardNotPending   = "not_pending_compensation"
	discardNotReversing = "not_compensating"
)

var (
	sagasStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saga_transactions_started_total",
			Help: "Total number of saga transactions started, by saga type.",
		},
		[]string{"saga_type"},
	)

	sagasFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saga_transactions_finished_total",
			Help: "Total number of saga transactions reaching a terminal status, by saga type and outcome.",
		},
		[]string{"saga_type", "outcome"},
	)

	sagaDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "saga_transaction_duration_seconds",
			Help:    "Time from saga start to terminal status in seconds, by saga type and outcome.",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 300, 900},
		},
		[]string{"saga_type", "outcome"},
	)

	stepsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saga_steps_completed_total",
			Help: "Total number of saga steps completed, by saga type and step.",
		},
		[]string{"saga_type", "step"},
	)

	stepsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saga_steps_failed_total",
			Help: "Total number of saga step failures, by saga type and step.",
		},
		[]string{"saga_type", "step"},
	)

	resultsDiscarded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saga_results_discarded_total",
			Help: "Total number of step results discarded without mutating state, by reason.",
		},
		[]string{"reason"},
	)

	compensationsStalled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saga_compensations_stalled_total",
			Help: "Total number of transactions escalated to manual intervention after exhausting compensation retries.",
		},
		[]string{"saga_type"},
	)

	sweeperRedispatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saga_sweeper_redispatches_total",
			Help: "Total number of step commands re-dispatched by the recovery sweeper, by saga type and direction.",
		},
		[]string{"saga_type", "direction"},
	)
)
