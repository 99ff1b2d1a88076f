package outbox

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/railzwaylabs/stockflow/internal/config"
	"github.com/railzwaylabs/stockflow/internal/domain/deadletter"
	"github.com/railzwaylabs/stockflow/internal/domain/lease"
	"github.com/railzwaylabs/stockflow/internal/domain/messaging"
	"github.com/railzwaylabs/stockflow/internal/domain/outbox"
	"github.com/railzwaylabs/stockflow/internal/domain/store"
	"github.com/railzwaylabs/stockflow/pkg/snowflake"
)

const (
	leaseKey            = "stockflow:lease:outbox-dispatcher"
	maxFailureReasonLen = 1000
)

type Config struct {
	PollInterval   time.Duration
	PublishTimeout time.Duration
	BatchSize      int
	MaxRetries     int
	LeaseTTL       time.Duration
	Topics         messaging.Topics
}

// BatchResult counts what happened to each event of one poll.
type BatchResult struct {
	Fetched      int
	Published    int
	Retried      int
	DeadLettered int
	Dropped      int
	Failed       int
}

// Dispatcher drains the outbox onto the bus. Events that keep failing are
// escalated to the dead-letter topic so they never block the queue.
type Dispatcher struct {
	tx        store.Transactor
	publisher messaging.Publisher
	ids       snowflake.Generator
	locker    lease.Locker
	logger    *zap.Logger
	cfg       Config
	now       func() time.Time
}

func NewDispatcher(tx store.Transactor, publisher messaging.Publisher, ids snowflake.Generator, locker lease.Locker, cfg *config.Config, logger *zap.Logger) *Dispatcher {
	return newDispatcher(tx, publisher, ids, locker, Config{
		PollInterval:   cfg.OutboxPollInterval,
		PublishTimeout: cfg.OutboxPublishTimeout,
		BatchSize:      cfg.OutboxBatchSize,
		MaxRetries:     cfg.OutboxMaxRetries,
		LeaseTTL:       cfg.LeaseTTL,
		Topics:         messaging.Topics{Main: cfg.KafkaMainTopic, DeadLetter: cfg.KafkaDLQTopic},
	}, logger)
}

func newDispatcher(tx store.Transactor, publisher messaging.Publisher, ids snowflake.Generator, locker lease.Locker, cfg Config, logger *zap.Logger) *Dispatcher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 10 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 3
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = 30 * time.Second
	}
	if locker == nil {
		locker = lease.Noop{}
	}
	return &Dispatcher{
		tx:        tx,
		publisher: publisher,
		ids:       ids,
		locker:    locker,
		logger:    logger.Named("outbox.dispatcher"),
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Run polls the outbox until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	d.poll(ctx)

	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.poll(ctx)
		}
	}
}

func (d *Dispatcher) poll(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("outbox_poll_panic", zap.Any("panic", r))
		}
	}()

	release, acquired, err := d.locker.TryLock(ctx, leaseKey, d.cfg.LeaseTTL)
	if err != nil {
		d.logger.Warn("outbox_lease_failed", zap.Error(err))
		return
	}
	if !acquired {
		return
	}
	defer release(context.WithoutCancel(ctx))

	if _, err := d.ProcessBatch(ctx); err != nil {
		d.logger.Error("outbox_poll_failed", zap.Error(err))
	}
}

// ProcessBatch publishes one batch of unpublished events, oldest first.
// A failing event never stops the rest of the batch.
func (d *Dispatcher) ProcessBatch(ctx context.Context) (BatchResult, error) {
	var result BatchResult
	started := time.Now()
	defer func() { batchDuration.Observe(time.Since(started).Seconds()) }()

	events, err := d.tx.Repositories().Outbox.ListUnpublished(ctx, d.cfg.BatchSize)
	if err != nil {
		return result, fmt.Errorf("list unpublished events: %w", err)
	}
	result.Fetched = len(events)

	for _, event := range events {
		if ctx.Err() != nil {
			break
		}
		d.dispatch(ctx, event, &result)
	}

	if result.Fetched > 0 {
		d.logger.Debug("outbox_batch_processed",
			zap.Int("fetched", result.Fetched),
			zap.Int("published", result.Published),
			zap.Int("retried", result.Retried),
			zap.Int("dead_lettered", result.DeadLettered),
			zap.Int("dropped", result.Dropped),
		)
	}
	return result, nil
}

func (d *Dispatcher) dispatch(ctx context.Context, event *outbox.Event, result *BatchResult) {
	err := d.publish(ctx, d.message(d.cfg.Topics.Main, event))
	if err == nil {
		if err := d.tx.Repositories().Outbox.MarkPublished(ctx, event.ID, d.now()); err != nil {
			// The event will be published again on the next poll; consumers dedupe by event_id.
			result.Failed++
			d.logger.Error("outbox_mark_published_failed", d.eventFields(event, zap.Error(err))...)
			return
		}
		result.Published++
		eventsPublished.WithLabelValues(string(event.EventType)).Inc()
		d.logger.Debug("outbox_event_published", d.eventFields(event)...)
		return
	}

	if event.RetryCount < d.cfg.MaxRetries {
		if err := d.tx.Repositories().Outbox.IncrementRetry(ctx, event.ID); err != nil {
			result.Failed++
			d.logger.Error("outbox_increment_retry_failed", d.eventFields(event, zap.Error(err))...)
			return
		}
		result.Retried++
		eventsRetried.Inc()
		d.logger.Warn("outbox_publish_failed",
			d.eventFields(event, zap.Int("attempt", event.RetryCount+1), zap.Error(err))...)
		return
	}

	d.escalate(ctx, event, err, result)
}

// escalate moves an exhausted event to the dead-letter topic and store.
func (d *Dispatcher) escalate(ctx context.Context, event *outbox.Event, cause error, result *BatchResult) {
	reason := failureReason(cause)
	now := d.now()

	msg := d.message(d.cfg.Topics.DeadLetter, event)
	msg.Headers[messaging.HeaderFailureReason] = reason
	msg.Headers[messaging.HeaderRetryCount] = strconv.Itoa(event.RetryCount)

	if err := d.publish(ctx, msg); err != nil {
		// Nothing else can carry the event; it is marked published so the queue keeps moving.
		dlqPublishFailures.Inc()
		d.logger.Error("outbox_dead_letter_publish_failed",
			d.eventFields(event,
				zap.String("severity", "CRITICAL"),
				zap.String("failure_reason", reason),
				zap.ByteString("payload", event.Payload),
				zap.Error(err),
			)...)
		if err := d.tx.Repositories().Outbox.MarkPublished(ctx, event.ID, now); err != nil {
			result.Failed++
			d.logger.Error("outbox_mark_published_failed", d.eventFields(event, zap.Error(err))...)
			return
		}
		result.Dropped++
		return
	}

	err := d.tx.WithinTx(ctx, func(ctx context.Context, repos store.Repositories) error {
		dl := deadletter.FromOutbox(d.ids.GenerateID(), event, reason, now)
		if err := repos.DeadLetters.Create(ctx, dl); err != nil && !errors.Is(err, deadletter.ErrDuplicate) {
			return fmt.Errorf("create dead letter event: %w", err)
		}
		return repos.Outbox.MarkPublished(ctx, event.ID, now)
	})
	if err != nil {
		result.Failed++
		d.logger.Error("outbox_dead_letter_store_failed", d.eventFields(event, zap.Error(err))...)
		return
	}

	result.DeadLettered++
	eventsDeadLettered.WithLabelValues(string(event.EventType)).Inc()
	d.logger.Error("outbox_event_dead_lettered",
		d.eventFields(event, zap.String("failure_reason", reason))...)
}

func (d *Dispatcher) publish(ctx context.Context, msg messaging.Message) error {
	pctx, cancel := context.WithTimeout(ctx, d.cfg.PublishTimeout)
	defer cancel()
	return d.publisher.Publish(pctx, msg)
}

func (d *Dispatcher) message(topic string, event *outbox.Event) messaging.Message {
	headers := make(map[string]string, len(event.Headers)+5)
	for k, v := range event.Headers {
		headers[k] = v
	}
	headers[messaging.HeaderEventType] = string(event.EventType)
	headers[messaging.HeaderEventID] = strconv.FormatInt(event.ID, 10)
	headers[messaging.HeaderAggregateType] = event.AggregateType

	return messaging.Message{
		Topic:   topic,
		Key:     event.AggregateID,
		Value:   event.Payload,
		Headers: headers,
	}
}

func (d *Dispatcher) eventFields(event *outbox.Event, extra ...zap.Field) []zap.Field {
	fields := []zap.Field{
		zap.Int64("event_id", event.ID),
		zap.String("event_type", string(event.EventType)),
		zap.String("aggregate_id", event.AggregateID),
		zap.Int("retry_count", event.RetryCount),
	}
	return append(fields, extra...)
}

// failureReason keeps the last publish error as is, cut on a rune boundary.
func failureReason(err error) string {
	if err == nil {
		return "unknown error"
	}
	reason := strings.ToValidUTF8(err.Error(), "")
	if len(reason) <= maxFailureReasonLen {
		return reason
	}
	cut := maxFailureReasonLen
	for cut > 0 && !utf8.RuneStart(reason[cut]) {
		cut--
	}
	return reason[:cut]
}
