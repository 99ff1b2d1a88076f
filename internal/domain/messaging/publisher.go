package messaging

import "context"

// Headers attached to every event published by this service.
const (
	HeaderEventType       = "event_type"
	HeaderEventID         = "event_id"
	HeaderAggregateType   = "aggregate_type"
	HeaderFailureReason   = "failure_reason"
	HeaderRetryCount      = "retry_count"
	HeaderReprocessedFrom = "reprocessed_from"
)

// Message is a single record handed to the bus.
type Message struct {
	Topic   string
	Key     string
	Value   []byte
	Headers map[string]string
}

// Publisher delivers a message to the bus. A nil error means the broker acknowledged it.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// Topics names the destinations used by the delivery pipeline.
type Topics struct {
	Main       string
	DeadLetter string
}
