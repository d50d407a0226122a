package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TransitionsTotal tracks lifecycle status changes per kind
	TransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conductor_transitions_total",
			Help: "Total number of transaction status transitions",
		},
		[]string{"kind", "from", "to"},
	)

	// FailuresTotal tracks classified failures
	FailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conductor_failures_total",
			Help: "Total number of classified failures",
		},
		[]string{"component", "error_kind"},
	)

	// RetryAttemptsTotal tracks re-invocations made by the retry executor
	RetryAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conductor_retry_attempts_total",
			Help: "Total number of retried operation attempts",
		},
		[]string{"label"},
	)

	// QueuePassDuration tracks how long one ProcessQueue pass takes
	QueuePassDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "conductor_queue_pass_duration_seconds",
			Help:    "Duration of one lifecycle queue pass in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// ActiveTransactions tracks non-terminal transactions seen by the last pass
	ActiveTransactions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "conductor_active_transactions",
			Help: "Number of non-terminal transactions in the last queue pass",
		},
	)

	// ConsistencyIssuesTotal tracks pool consistency problems
	ConsistencyIssuesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conductor_consistency_issues_total",
			Help: "Total number of pool consistency issues found",
		},
		[]string{"pool"},
	)

	// SponsoredTotal tracks accepted sponsored transactions
	SponsoredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "conductor_sponsored_transactions_total",
			Help: "Total number of sponsored transactions accepted",
		},
	)

	// SponsorRejectedTotal tracks sponsorship requests refused before broadcast
	SponsorRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conductor_sponsor_rejected_total",
			Help: "Total number of sponsorship requests rejected",
		},
		[]string{"reason"},
	)

	// FeeEstimatesTotal tracks issued fee quotes
	FeeEstimatesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "conductor_fee_estimates_total",
			Help: "Total number of fee quotes issued",
		},
	)

	// CollaboratorCallsTotal tracks calls to external services
	CollaboratorCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conductor_collaborator_calls_total",
			Help: "Total number of external service calls",
		},
		[]string{"provider", "method"},
	)

	// CollaboratorErrorsTotal tracks failed calls to external services
	CollaboratorErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conductor_collaborator_errors_total",
			Help: "Total number of failed external service calls",
		},
		[]string{"provider", "method"},
	)

	// CollaboratorLatency tracks external call latency
	CollaboratorLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "conductor_collaborator_latency_seconds",
			Help:    "External service call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider", "method"},
	)

	// ProviderFailoversTotal tracks calls moved off a failing node endpoint
	ProviderFailoversTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conductor_provider_failovers_total",
			Help: "Total number of calls failed over to another endpoint",
		},
		[]string{"chain", "provider"},
	)

	// ServiceUp reports the last probe result per service
	ServiceUp = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "conductor_service_up",
			Help: "Whether the service passed its last health probe",
		},
		[]string{"service"},
	)

	// DBOpenConnections tracks the database pool size
	DBOpenConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "conductor_db_open_connections",
			Help: "Number of open database connections",
		},
	)

	// DBInUseConnections tracks busy database connections
	DBInUseConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "conductor_db_in_use_connections",
			Help: "Number of database connections in use",
		},
	)
)

// Bool converts a probe result to a gauge value.
func Bool(ok bool) float64 {
	if ok {
		return 1
	}
	return 0
}
