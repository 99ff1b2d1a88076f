package kafka

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var dlqMessagesObserved = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "stockflow",
	Subsystem: "kafka",
	Name:      "dlq_messages_observed_total",
	Help:      "Messages read from the dead-letter topic by the monitor.",
})
