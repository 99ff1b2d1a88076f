package kafka

import (
	"context"
	"fmt"
	"sort"
	"time"

	otelkafka "github.com/Trendyol/otel-kafka-konsumer"
	kafkago "github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/railzwaylabs/stockflow/internal/config"
	"github.com/railzwaylabs/stockflow/internal/domain/messaging"
	"github.com/railzwaylabs/stockflow/pkg/telemetry"
)

type messageWriter interface {
	WriteMessage(ctx context.Context, msg kafkago.Message) error
	Close() error
}

// Publisher writes to any topic through a single instrumented writer.
// Messages are keyed by aggregate id so one aggregate stays on one partition.
type Publisher struct {
	writer messageWriter
	logger *zap.Logger
}

func NewPublisher(lc fx.Lifecycle, cfg *config.Config, tp *telemetry.Provider, logger *zap.Logger) (*Publisher, error) {
	if len(cfg.KafkaBrokers) == 0 {
		return nil, fmt.Errorf("KAFKA_BROKERS is empty")
	}

	base := &kafkago.Writer{
		Addr:                   kafkago.TCP(cfg.KafkaBrokers...),
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}

	writer, err := otelkafka.NewWriter(base,
		otelkafka.WithTracerProvider(tp.TracerProvider),
		otelkafka.WithPropagator(propagation.TraceContext{}),
		otelkafka.WithAttributes([]attribute.KeyValue{
			attribute.String("messaging.kafka.client_id", cfg.AppName),
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("instrument kafka writer: %w", err)
	}

	p := newPublisher(writer, logger)
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return p.Close()
		},
	})
	return p, nil
}

func newPublisher(writer messageWriter, logger *zap.Logger) *Publisher {
	return &Publisher{
		writer: writer,
		logger: logger.Named("kafka.publisher"),
	}
}

// Publish blocks until the broker acknowledges the write or ctx ends.
func (p *Publisher) Publish(ctx context.Context, msg messaging.Message) error {
	if msg.Topic == "" {
		return fmt.Errorf("publish: topic is required")
	}
	if err := p.writer.WriteMessage(ctx, toKafkaMessage(msg)); err != nil {
		return fmt.Errorf("write to %s: %w", msg.Topic, err)
	}
	p.logger.Debug("kafka_message_written",
		zap.String("topic", msg.Topic),
		zap.String("key", msg.Key),
	)
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

func toKafkaMessage(msg messaging.Message) kafkago.Message {
	keys := make([]string, 0, len(msg.Headers))
	for k := range msg.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	headers := make([]kafkago.Header, 0, len(keys))
	for _, k := range keys {
		headers = append(headers, kafkago.Header{Key: k, Value: []byte(msg.Headers[k])})
	}

	return kafkago.Message{
		Topic:   msg.Topic,
		Key:     []byte(msg.Key),
		Value:   msg.Value,
		Headers: headers,
	}
}

func headerMap(headers []kafkago.Header) map[string]string {
	out := make(map[string]string, len(headers))
	for _, h := range headers {
		out[h.Key] = string(h.Value)
	}
	return out
}
