package kafka

import (
	"context"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"
	"go.uber.org/zap"

	"github.com/railzwaylabs/stockflow/internal/domain/messaging"
)

func TestPublisher_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	container, err := tckafka.Run(ctx, "confluentinc/confluent-local:7.5.0", tckafka.WithClusterID("stockflow-test"))
	require.NoError(t, err)
	defer func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to teardown container: %v", err)
		}
	}()

	brokers, err := container.Brokers(ctx)
	require.NoError(t, err)

	const topic = "inventory-events"
	writer := &kafkago.Writer{
		Addr:                   kafkago.TCP(brokers...),
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: true,
	}
	p := newPublisher(&plainWriter{writer}, zap.NewNop())
	defer p.Close()

	publishCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	require.Eventually(t, func() bool {
		return p.Publish(publishCtx, messaging.Message{
			Topic:   topic,
			Key:     "order-1",
			Value:   []byte(`{"orderId":"order-1"}`),
			Headers: map[string]string{messaging.HeaderEventType: "STOCK_RESERVED"},
		}) == nil
	}, 30*time.Second, time.Second, "topic auto-creation can take a few attempts")

	reader := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:   brokers,
		Topic:     topic,
		Partition: 0,
		MinBytes:  1,
		MaxBytes:  1 << 20,
	})
	defer reader.Close()

	readCtx, cancelRead := context.WithTimeout(ctx, 30*time.Second)
	defer cancelRead()
	msg, err := reader.ReadMessage(readCtx)
	require.NoError(t, err)

	assert.Equal(t, "order-1", string(msg.Key))
	assert.JSONEq(t, `{"orderId":"order-1"}`, string(msg.Value))
	assert.Equal(t, "STOCK_RESERVED", headerMap(msg.Headers)[messaging.HeaderEventType])
}

// plainWriter adapts an uninstrumented kafka-go writer to messageWriter.
type plainWriter struct {
	w *kafkago.Writer
}

func (p *plainWriter) WriteMessage(ctx context.Context, msg kafkago.Message) error {
	return p.w.WriteMessages(ctx, msg)
}

func (p *plainWriter) Close() error { return p.w.Close() }
