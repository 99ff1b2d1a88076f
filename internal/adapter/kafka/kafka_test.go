package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/railzwaylabs/stockflow/internal/config"
	"github.com/railzwaylabs/stockflow/internal/domain/messaging"
	"github.com/railzwaylabs/stockflow/pkg/testhelper"
)

type fakeWriter struct {
	mu       sync.Mutex
	messages []kafkago.Message
	err      error
	closed   bool
}

func (w *fakeWriter) WriteMessage(_ context.Context, msg kafkago.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msg)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

type fakeReader struct {
	mu       sync.Mutex
	messages []*kafkago.Message
}

func (r *fakeReader) ReadMessage(ctx context.Context) (*kafkago.Message, error) {
	r.mu.Lock()
	if len(r.messages) > 0 {
		msg := r.messages[0]
		r.messages = r.messages[1:]
		r.mu.Unlock()
		return msg, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return nil, ctx.Err()
}

func (r *fakeReader) Close() error { return nil }

func TestPublisher_Publish(t *testing.T) {
	writer := &fakeWriter{}
	p := newPublisher(writer, zap.NewNop())

	err := p.Publish(context.Background(), messaging.Message{
		Topic: "inventory-events",
		Key:   "order-1",
		Value: []byte(`{"orderId":"order-1"}`),
		Headers: map[string]string{
			messaging.HeaderEventType: "STOCK_RESERVED",
			messaging.HeaderEventID:   "42",
		},
	})
	require.NoError(t, err)
	require.Len(t, writer.messages, 1)

	msg := writer.messages[0]
	assert.Equal(t, "inventory-events", msg.Topic)
	assert.Equal(t, []byte("order-1"), msg.Key)
	assert.Equal(t, []kafkago.Header{
		{Key: messaging.HeaderEventID, Value: []byte("42")},
		{Key: messaging.HeaderEventType, Value: []byte("STOCK_RESERVED")},
	}, msg.Headers)

	require.NoError(t, p.Close())
	assert.True(t, writer.closed)
}

func TestPublisher_Errors(t *testing.T) {
	t.Run("missing topic", func(t *testing.T) {
		p := newPublisher(&fakeWriter{}, zap.NewNop())
		assert.Error(t, p.Publish(context.Background(), messaging.Message{Key: "k"}))
	})

	t.Run("broker failure wrapped", func(t *testing.T) {
		boom := errors.New("leader not available")
		p := newPublisher(&fakeWriter{err: boom}, zap.NewNop())
		err := p.Publish(context.Background(), messaging.Message{Topic: "t"})
		assert.ErrorIs(t, err, boom)
	})
}

func guardConfig() *config.Config {
	return &config.Config{
		PublishRateLimit:                  0,
		PublishCircuitBreakerEnabled:      true,
		PublishCircuitBreakerMaxRequests:  1,
		PublishCircuitBreakerInterval:     time.Minute,
		PublishCircuitBreakerTimeout:      time.Minute,
		PublishCircuitBreakerFailureRatio: 0.5,
		PublishCircuitBreakerMinRequests:  3,
	}
}

func TestGuardedPublisher_BreakerOpens(t *testing.T) {
	boom := errors.New("broker down")
	next := &testhelper.MockPublisher{
		PublishFn: func(context.Context, messaging.Message) error { return boom },
	}
	g := NewGuardedPublisher(next, guardConfig(), zap.NewNop())

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, g.Publish(context.Background(), messaging.Message{Topic: "t"}), boom)
	}
	assert.Equal(t, 3, next.Calls)

	err := g.Publish(context.Background(), messaging.Message{Topic: "t"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, boom)
	assert.Equal(t, 3, next.Calls, "open breaker must not reach the broker")
}

func TestGuardedPublisher_PassesThrough(t *testing.T) {
	next := &testhelper.MockPublisher{}
	g := NewGuardedPublisher(next, guardConfig(), zap.NewNop())

	for i := 0; i < 5; i++ {
		require.NoError(t, g.Publish(context.Background(), messaging.Message{Topic: "t", Key: "k"}))
	}
	assert.Len(t, next.Published("t"), 5)
}

func TestGuardedPublisher_RateLimitRespectsContext(t *testing.T) {
	cfg := guardConfig()
	cfg.PublishRateLimit = 1
	cfg.PublishRateBurst = 1
	next := &testhelper.MockPublisher{}
	g := NewGuardedPublisher(next, cfg, zap.NewNop())

	require.NoError(t, g.Publish(context.Background(), messaging.Message{Topic: "t"}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, g.Publish(ctx, messaging.Message{Topic: "t"}))
	assert.Equal(t, 1, next.Calls)
}

func TestDLQMonitor_ObservesUntilCancelled(t *testing.T) {
	reader := &fakeReader{messages: []*kafkago.Message{
		{Topic: "inventory-events-dlq", Key: []byte("order-1"), Headers: []kafkago.Header{
			{Key: messaging.HeaderFailureReason, Value: []byte("timeout")},
		}},
		{Topic: "inventory-events-dlq", Key: []byte("order-2")},
	}}
	m := &DLQMonitor{reader: reader, logger: zap.NewNop(), backoff: time.Millisecond}
	require.True(t, m.Enabled())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		reader.mu.Lock()
		defer reader.mu.Unlock()
		return len(reader.messages) == 0
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop")
	}
}

func TestDLQMonitor_DisabledReturnsImmediately(t *testing.T) {
	m := &DLQMonitor{logger: zap.NewNop()}
	assert.False(t, m.Enabled())
	m.Run(context.Background())
}
