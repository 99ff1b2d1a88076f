package deadletter

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/railzwaylabs/stockflow/internal/config"
	"github.com/railzwaylabs/stockflow/internal/domain/deadletter"
	"github.com/railzwaylabs/stockflow/internal/domain/messaging"
	"github.com/railzwaylabs/stockflow/internal/domain/store"
)

// ResolvedBySystem marks events resolved by a successful reprocess.
const ResolvedBySystem = "SYSTEM"

var resolutions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "stockflow",
	Subsystem: "dlq",
	Name:      "resolutions_total",
	Help:      "Dead-letter events resolved, by method.",
}, []string{"method"})

// Service is the operator-facing view of the dead-letter store.
type Service struct {
	tx        store.Transactor
	publisher messaging.Publisher
	topics    messaging.Topics
	timeout   time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

func NewService(tx store.Transactor, publisher messaging.Publisher, cfg *config.Config, logger *zap.Logger) *Service {
	timeout := cfg.OutboxPublishTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Service{
		tx:        tx,
		publisher: publisher,
		topics:    messaging.Topics{Main: cfg.KafkaMainTopic, DeadLetter: cfg.KafkaDLQTopic},
		timeout:   timeout,
		logger:    logger.Named("deadletter.service"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// GetUnresolvedEvents lists unresolved events, newest first.
func (s *Service) GetUnresolvedEvents(ctx context.Context) ([]*deadletter.Event, error) {
	events, err := s.tx.Repositories().DeadLetters.ListUnresolved(ctx)
	if err != nil {
		return nil, fmt.Errorf("list unresolved dead letters: %w", err)
	}
	if events == nil {
		events = []*deadletter.Event{}
	}
	return events, nil
}

func (s *Service) GetStats(ctx context.Context) (*deadletter.Stats, error) {
	repo := s.tx.Repositories().DeadLetters

	unresolved, err := repo.ListUnresolved(ctx)
	if err != nil {
		return nil, fmt.Errorf("list unresolved dead letters: %w", err)
	}
	resolved, err := repo.Count(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("count resolved dead letters: %w", err)
	}

	stats := &deadletter.Stats{
		UnresolvedCount:        int64(len(unresolved)),
		ResolvedCount:          resolved,
		FailureReasonBreakdown: make(map[string]int64),
	}
	for _, e := range unresolved {
		stats.FailureReasonBreakdown[e.FailureReason]++
		if stats.OldestUnresolvedAt == nil || e.MovedToDLQAt.Before(*stats.OldestUnresolvedAt) {
			at := e.MovedToDLQAt
			stats.OldestUnresolvedAt = &at
		}
	}
	if stats.OldestUnresolvedAt != nil {
		stats.OldestUnresolvedAge = s.now().Sub(*stats.OldestUnresolvedAt).Round(time.Second).String()
	}
	return stats, nil
}

// ReprocessEvent republishes the payload to the main topic. The row stays locked
// while publishing, so concurrent reprocess or resolve calls wait and then see it
// resolved. The event is resolved only after the bus acknowledged it.
func (s *Service) ReprocessEvent(ctx context.Context, id int64) (*deadletter.Event, error) {
	var event *deadletter.Event
	err := s.tx.WithinTx(ctx, func(ctx context.Context, repos store.Repositories) error {
		locked, err := repos.DeadLetters.LockByID(ctx, id)
		if err != nil {
			return fmt.Errorf("lock dead letter %d: %w", id, err)
		}
		if locked == nil {
			return fmt.Errorf("%w: %d", deadletter.ErrEventNotFound, id)
		}
		if locked.Resolved {
			return fmt.Errorf("%w: %d", deadletter.ErrAlreadyResolved, id)
		}

		if err := s.publish(ctx, locked); err != nil {
			s.logger.Error("dlq_reprocess_failed",
				zap.Int64("dlq_id", id),
				zap.Int64("original_event_id", locked.OriginalEventID),
				zap.Error(err),
			)
			return fmt.Errorf("republish dead letter %d: %w", id, err)
		}

		now := s.now()
		if err := repos.DeadLetters.MarkResolved(ctx, id, ResolvedBySystem, now); err != nil {
			return err
		}
		if err := repos.Outbox.MarkRepublished(ctx, locked.OriginalEventID, now); err != nil {
			return fmt.Errorf("mark outbox event %d republished: %w", locked.OriginalEventID, err)
		}
		locked.Resolved = true
		locked.ResolvedAt = &now
		locked.ResolvedBy = ResolvedBySystem
		event = locked
		return nil
	})
	if err != nil {
		return nil, err
	}

	resolutions.WithLabelValues("reprocess").Inc()
	s.logger.Info("dlq_event_reprocessed",
		zap.Int64("dlq_id", id),
		zap.Int64("original_event_id", event.OriginalEventID),
		zap.String("event_type", string(event.EventType)),
	)
	return event, nil
}

// GetEvent returns one dead-letter event.
func (s *Service) GetEvent(ctx context.Context, id int64) (*deadletter.Event, error) {
	return s.find(ctx, id)
}

// MarkAsResolved closes an event without republishing it.
func (s *Service) MarkAsResolved(ctx context.Context, id int64, resolvedBy string) (*deadletter.Event, error) {
	resolvedBy = strings.TrimSpace(resolvedBy)
	if resolvedBy == "" {
		return nil, deadletter.ErrResolvedByRequired
	}
	event, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if event.Resolved {
		return nil, fmt.Errorf("%w: %d", deadletter.ErrAlreadyResolved, id)
	}

	now := s.now()
	if err := s.tx.Repositories().DeadLetters.MarkResolved(ctx, id, resolvedBy, now); err != nil {
		return nil, err
	}

	event.Resolved = true
	event.ResolvedAt = &now
	event.ResolvedBy = resolvedBy
	resolutions.WithLabelValues("manual").Inc()
	s.logger.Info("dlq_event_resolved", zap.Int64("dlq_id", id), zap.String("resolved_by", resolvedBy))
	return event, nil
}

func (s *Service) find(ctx context.Context, id int64) (*deadletter.Event, error) {
	event, err := s.tx.Repositories().DeadLetters.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if event == nil {
		return nil, fmt.Errorf("%w: %d", deadletter.ErrEventNotFound, id)
	}
	return event, nil
}

func (s *Service) publish(ctx context.Context, event *deadletter.Event) error {
	pctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	return s.publisher.Publish(pctx, messaging.Message{
		Topic: s.topics.Main,
		Key:   event.AggregateID,
		Value: event.Payload,
		Headers: map[string]string{
			messaging.HeaderEventType:       string(event.EventType),
			messaging.HeaderEventID:         strconv.FormatInt(event.OriginalEventID, 10),
			messaging.HeaderAggregateType:   event.AggregateType,
			messaging.HeaderReprocessedFrom: strconv.FormatInt(event.ID, 10),
		},
	})
}
