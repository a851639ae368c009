// Package metrics exposes the service's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TicketsCommitted counts tickets whose inventory was committed by a
	// confirmed payment.
	TicketsCommitted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "stagepass",
		Name:      "tickets_committed_total",
		Help:      "Tickets committed to inventory by payment confirmations.",
	})

	// TicketsReleased counts tickets returned to inventory by
	// cancellations of completed registrations.
	TicketsReleased = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "stagepass",
		Name:      "tickets_released_total",
		Help:      "Tickets released back to inventory by cancellations.",
	})

	// RevenueCommittedCents tracks gross committed revenue; releases
	// subtract from the net via RevenueReleasedCents.
	RevenueCommittedCents = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "stagepass",
		Name:      "revenue_committed_cents_total",
		Help:      "Revenue committed by payment confirmations, in cents.",
	})

	// RevenueReleasedCents tracks revenue reversed by cancellations.
	RevenueReleasedCents = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "stagepass",
		Name:      "revenue_released_cents_total",
		Help:      "Revenue reversed by cancellations, in cents.",
	})

	// ConflictRetries counts ledger transactions retried after a
	// serialization conflict.
	ConflictRetries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "stagepass",
		Name:      "ledger_conflict_retries_total",
		Help:      "Ledger transactions retried after persistence conflicts.",
	})

	// RegistrationOutcomes counts terminal outcomes of ledger operations
	// by operation and result.
	RegistrationOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stagepass",
		Name:      "registration_outcomes_total",
		Help:      "Ledger operation outcomes by operation and result.",
	}, []string{"operation", "result"})

	// RequestDuration observes HTTP handler latency by route and status.
	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "stagepass",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by route and status class.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route", "status"})
)
