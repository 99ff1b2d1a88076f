package deadletter

import (
	"context"
	"errors"
	"time"

	"github.com/railzwaylabs/stockflow/internal/domain/outbox"
)

var (
	ErrEventNotFound      = errors.New("dead letter event not found")
	ErrAlreadyResolved    = errors.New("dead letter event already resolved")
	ErrResolvedByRequired = errors.New("resolvedBy is required")
	ErrDuplicate          = errors.New("dead letter event already exists for outbox event")
)

// Event is an outbox event that exhausted its retries.
type Event struct {
	ID              int64            `json:"id,string"`
	OriginalEventID int64            `json:"original_event_id,string"`
	AggregateID     string           `json:"aggregate_id"`
	AggregateType   string           `json:"aggregate_type"`
	EventType       outbox.EventType `json:"event_type"`
	Payload         []byte           `json:"payload"`
	RetryCount      int              `json:"retry_count"`
	FailureReason   string           `json:"failure_reason"`
	MovedToDLQAt    time.Time        `json:"moved_to_dlq_at"`
	Resolved        bool             `json:"resolved"`
	ResolvedAt      *time.Time       `json:"resolved_at,omitempty"`
	ResolvedBy      string           `json:"resolved_by,omitempty"`
}

// FromOutbox captures an exhausted outbox event together with the reason it failed.
func FromOutbox(id int64, src *outbox.Event, reason string, now time.Time) *Event {
	return &Event{
		ID:              id,
		OriginalEventID: src.ID,
		AggregateID:     src.AggregateID,
		AggregateType:   src.AggregateType,
		EventType:       src.EventType,
		Payload:         src.Payload,
		RetryCount:      src.RetryCount,
		FailureReason:   reason,
		MovedToDLQAt:    now,
	}
}

// Stats summarises the dead-letter store.
type Stats struct {
	UnresolvedCount        int64            `json:"unresolvedCount"`
	ResolvedCount          int64            `json:"resolvedCount"`
	OldestUnresolvedAt     *time.Time       `json:"oldestUnresolvedAt,omitempty"`
	OldestUnresolvedAge    string           `json:"oldestUnresolvedAge,omitempty"`
	FailureReasonBreakdown map[string]int64 `json:"failureReasonBreakdown"`
}

type Repository interface {
	Create(ctx context.Context, event *Event) error
	FindByID(ctx context.Context, id int64) (*Event, error)
	// LockByID reads the row under an exclusive lock held until the surrounding transaction ends.
	LockByID(ctx context.Context, id int64) (*Event, error)
	// ListUnresolved returns unresolved events, newest first.
	ListUnresolved(ctx context.Context) ([]*Event, error)
	Count(ctx context.Context, resolved bool) (int64, error)
	// MarkResolved flips resolved exactly once and returns ErrAlreadyResolved otherwise.
	MarkResolved(ctx context.Context, id int64, resolvedBy string, at time.Time) error
}
