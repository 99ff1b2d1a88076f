package testhelper

import (
	"context"
	"sync"

	"github.com/railzwaylabs/stockflow/internal/domain/messaging"
)

// MockPublisher is a mock implementation of messaging.Publisher for testing.
type MockPublisher struct {
	mu       sync.Mutex
	Messages []messaging.Message
	Calls    int
	// PublishFn decides the outcome of each call. Nil means success.
	PublishFn func(ctx context.Context, msg messaging.Message) error
}

func (m *MockPublisher) Publish(ctx context.Context, msg messaging.Message) error {
	m.mu.Lock()
	m.Calls++
	fn := m.PublishFn
	m.mu.Unlock()

	if fn != nil {
		if err := fn(ctx, msg); err != nil {
			return err
		}
	}

	m.mu.Lock()
	m.Messages = append(m.Messages, msg)
	m.mu.Unlock()
	return nil
}

// Published returns the messages acknowledged for the topic.
func (m *MockPublisher) Published(topic string) []messaging.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []messaging.Message
	for _, msg := range m.Messages {
		if msg.Topic == topic {
			out = append(out, msg)
		}
	}
	return out
}

// FailTopic returns a PublishFn that rejects every message for the topic.
func FailTopic(topic string, err error) func(context.Context, messaging.Message) error {
	return func(_ context.Context, msg messaging.Message) error {
		if msg.Topic == topic {
			return err
		}
		return nil
	}
}

// SequentialIDs is a deterministic id generator.
type SequentialIDs struct {
	mu   sync.Mutex
	next int64
}

func (g *SequentialIDs) GenerateID() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	return g.next
}
