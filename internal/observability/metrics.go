// README: Prometheus collectors for lifecycle transitions, verification outcomes and side effects.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "carpool", Name: "transitions_total", Help: "Lifecycle operations by result"},
		[]string{"op", "result"},
	)
	TransitionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "carpool",
			Name:      "transition_duration_seconds",
			Help:      "Lifecycle operation latency",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"op"},
	)
	CASConflictsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "carpool", Name: "cas_conflicts_total", Help: "Optimistic version conflicts retried"},
		[]string{"op"},
	)
	VerificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "carpool", Name: "verifications_total", Help: "Trajectory verification outcomes"},
		[]string{"outcome"},
	)
	SideEffectsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "carpool", Name: "side_effects_total", Help: "Side-effect task executions by kind and result"},
		[]string{"kind", "result"},
	)
	LedgerWriteFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "carpool", Name: "ledger_write_failures_total", Help: "Trip ledger writes that failed during a transition"},
		[]string{"op"},
	)
	ExpiredOffersTotal = promauto.NewCounter(
		prometheus.CounterOpts{Namespace: "carpool", Name: "expired_offers_total", Help: "Waiting offers canceled by the expiry monitor"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "carpool", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "carpool",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
