package outbox

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stockflow",
		Subsystem: "outbox",
		Name:      "events_published_total",
		Help:      "Outbox events acknowledged by the bus.",
	}, []string{"event_type"})

	eventsRetried = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "stockflow",
		Subsystem: "outbox",
		Name:      "publish_retries_total",
		Help:      "Failed publish attempts that were scheduled for retry.",
	})

	eventsDeadLettered = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stockflow",
		Subsystem: "outbox",
		Name:      "events_dead_lettered_total",
		Help:      "Outbox events moved to the dead-letter store.",
	}, []string{"event_type"})

	dlqPublishFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "stockflow",
		Subsystem: "outbox",
		Name:      "dead_letter_publish_failures_total",
		Help:      "Exhausted events that could not be published to the dead-letter topic.",
	})

	batchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "stockflow",
		Subsystem: "outbox",
		Name:      "batch_duration_seconds",
		Help:      "Time spent processing one outbox batch.",
		Buckets:   prometheus.DefBuckets,
	})
)
