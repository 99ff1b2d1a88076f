package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	otelkafka "github.com/Trendyol/otel-kafka-konsumer"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/railzwaylabs/stockflow/internal/config"
	"github.com/railzwaylabs/stockflow/internal/domain/messaging"
)

type messageReader interface {
	ReadMessage(ctx context.Context) (*kafkago.Message, error)
	Close() error
}

// DLQMonitor consumes the dead-letter topic and reports every message at error level.
// It never acts on the messages; operators resolve them through the admin API.
type DLQMonitor struct {
	reader  messageReader
	logger  *zap.Logger
	backoff time.Duration
}

// NewDLQMonitor returns a monitor whose Run is a no-op when KAFKA_DLQ_MONITOR_ENABLED is off.
func NewDLQMonitor(lc fx.Lifecycle, cfg *config.Config, logger *zap.Logger) (*DLQMonitor, error) {
	m := &DLQMonitor{
		logger:  logger.Named("kafka.dlq_monitor"),
		backoff: time.Second,
	}
	if !cfg.KafkaDLQMonitorEnabled {
		return m, nil
	}

	reader, err := otelkafka.NewReader(kafkago.NewReader(kafkago.ReaderConfig{
		Brokers: cfg.KafkaBrokers,
		Topic:   cfg.KafkaDLQTopic,
		GroupID: cfg.KafkaDLQMonitorGroup,
	}))
	if err != nil {
		return nil, fmt.Errorf("instrument kafka reader: %w", err)
	}
	m.reader = reader

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return m.reader.Close()
		},
	})
	return m, nil
}

func (m *DLQMonitor) Enabled() bool {
	return m.reader != nil
}

func (m *DLQMonitor) Run(ctx context.Context) {
	if m.reader == nil {
		return
	}
	m.logger.Info("dlq_monitor_started")

	for {
		msg, err := m.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				m.logger.Info("dlq_monitor_stopped")
				return
			}
			m.logger.Warn("dlq_monitor_read_failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(m.backoff):
			}
			continue
		}
		m.observe(msg)
	}
}

func (m *DLQMonitor) observe(msg *kafkago.Message) {
	headers := headerMap(msg.Headers)
	m.logger.Error("dead_letter_message_observed",
		zap.String("topic", msg.Topic),
		zap.Int("partition", msg.Partition),
		zap.Int64("offset", msg.Offset),
		zap.String("key", string(msg.Key)),
		zap.String("event_type", headers[messaging.HeaderEventType]),
		zap.String("event_id", headers[messaging.HeaderEventID]),
		zap.String("failure_reason", headers[messaging.HeaderFailureReason]),
		zap.String("retry_count", headers[messaging.HeaderRetryCount]),
	)
	dlqMessagesObserved.Inc()
}
