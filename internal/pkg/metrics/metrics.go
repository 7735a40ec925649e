// Package metrics holds the Prometheus collectors of the event pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "stockpulse"

var (
	// QueueDepth is the number of events waiting in the intake queue.
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "intake",
		Name:      "queue_depth",
		Help:      "Events currently waiting in the intake queue",
	})

	// QueueOldestAge is the age in seconds of the oldest waiting event.
	QueueOldestAge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "intake",
		Name:      "oldest_event_age_seconds",
		Help:      "Age of the oldest un-consumed event",
	})

	// Backpressure is 1 while the monitor reports backpressure.
	Backpressure = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "intake",
		Name:      "backpressure",
		Help:      "1 when queue depth or age exceeds the configured limits",
	})

	// EventsEnqueued counts accepted producer events.
	EventsEnqueued = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "intake",
		Name:      "events_enqueued_total",
		Help:      "Events accepted into the intake queue",
	})

	// EventsProcessed counts consumed events by outcome.
	EventsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "processor",
		Name:      "events_total",
		Help:      "Consumed events by outcome",
	}, []string{"outcome"})

	// BatchDuration measures a single batch from consume to commit.
	BatchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "processor",
		Name:      "batch_duration_seconds",
		Help:      "Batch processing latency in seconds",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"status"})

	// DeadLetters counts dead-letter writes by kind.
	DeadLetters = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "deadletter",
		Name:      "entries_total",
		Help:      "Events routed to the dead letter store by error kind",
	}, []string{"kind"})

	// RuleEvaluations counts reorder rule engine calls by status (ok, timeout, error).
	RuleEvaluations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "reorder",
		Name:      "evaluations_total",
		Help:      "Reorder rule engine evaluations by status",
	}, []string{"status"})
)

// Outcome labels for EventsProcessed.
const (
	OutcomeAggregated   = "aggregated"
	OutcomeDeadLettered = "dead_lettered"
	OutcomeRequeued     = "requeued"
	OutcomeDropped      = "dropped"
)
