package outbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/railzwaylabs/stockflow/internal/domain/messaging"
	"github.com/railzwaylabs/stockflow/internal/domain/outbox"
	"github.com/railzwaylabs/stockflow/pkg/testhelper"
)

var topics = messaging.Topics{Main: "inventory-events", DeadLetter: "inventory-events-dlq"}

type dispatcherFixture struct {
	dispatcher *Dispatcher
	store      *testhelper.MemoryStore
	publisher  *testhelper.MockPublisher
	ids        *testhelper.SequentialIDs
}

func newDispatcherFixture(t *testing.T) *dispatcherFixture {
	t.Helper()
	f := &dispatcherFixture{
		store:     testhelper.NewMemoryStore(),
		publisher: &testhelper.MockPublisher{},
		ids:       &testhelper.SequentialIDs{},
	}
	f.dispatcher = newDispatcher(f.store, f.publisher, f.ids, nil, Config{
		PollInterval:   10 * time.Millisecond,
		PublishTimeout: 50 * time.Millisecond,
		BatchSize:      100,
		MaxRetries:     3,
		Topics:         topics,
	}, zap.NewNop())
	return f
}

func (f *dispatcherFixture) enqueue(t *testing.T, aggregateID string, createdAt time.Time) *outbox.Event {
	t.Helper()
	event := outbox.NewEvent(f.ids.GenerateID(), outbox.AggregateOrder, aggregateID, outbox.EventStockReserved, []byte(`{"orderId":"`+aggregateID+`"}`), createdAt)
	event.Headers[outbox.HeaderCorrelationID] = "corr-" + aggregateID
	require.NoError(t, f.store.Repositories().Outbox.Enqueue(context.Background(), event))
	return event
}

func (f *dispatcherFixture) event(t *testing.T, id int64) *outbox.Event {
	t.Helper()
	e, err := f.store.Repositories().Outbox.FindByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, e)
	return e
}

func TestProcessBatch_PublishesOldestFirst(t *testing.T) {
	f := newDispatcherFixture(t)
	base := time.Now().UTC()
	second := f.enqueue(t, "order-2", base.Add(time.Second))
	first := f.enqueue(t, "order-1", base)

	res, err := f.dispatcher.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Published)

	msgs := f.publisher.Published(topics.Main)
	require.Len(t, msgs, 2)
	assert.Equal(t, "order-1", msgs[0].Key)
	assert.Equal(t, "order-2", msgs[1].Key)
	assert.Equal(t, string(outbox.EventStockReserved), msgs[0].Headers[messaging.HeaderEventType])
	assert.Equal(t, "corr-order-1", msgs[0].Headers[outbox.HeaderCorrelationID])
	assert.Equal(t, first.Payload, msgs[0].Value)

	assert.True(t, f.event(t, first.ID).Published)
	assert.NotNil(t, f.event(t, second.ID).PublishedAt)

	res, err = f.dispatcher.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Fetched, "published events are inert")
}

func TestProcessBatch_RetryThenDeadLetter(t *testing.T) {
	f := newDispatcherFixture(t)
	event := f.enqueue(t, "order-1", time.Now().UTC())
	f.publisher.PublishFn = testhelper.FailTopic(topics.Main, errors.New("broker unavailable"))

	for attempt := 1; attempt <= 3; attempt++ {
		res, err := f.dispatcher.ProcessBatch(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, res.Retried)

		stored := f.event(t, event.ID)
		assert.Equal(t, attempt, stored.RetryCount)
		assert.False(t, stored.Published)
		assert.Empty(t, f.store.DeadLetterEvents())
	}

	res, err := f.dispatcher.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.DeadLettered)

	stored := f.event(t, event.ID)
	assert.True(t, stored.Published)
	assert.Equal(t, 3, stored.RetryCount)

	dead := f.store.DeadLetterEvents()
	require.Len(t, dead, 1)
	assert.Equal(t, event.ID, dead[0].OriginalEventID)
	assert.Equal(t, 3, dead[0].RetryCount)
	assert.False(t, dead[0].Resolved)
	assert.Equal(t, "broker unavailable", dead[0].FailureReason)

	dlq := f.publisher.Published(topics.DeadLetter)
	require.Len(t, dlq, 1)
	assert.Equal(t, "order-1", dlq[0].Key)
	assert.Equal(t, "broker unavailable", dlq[0].Headers[messaging.HeaderFailureReason])

	res, err = f.dispatcher.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Fetched)
	assert.Len(t, f.store.DeadLetterEvents(), 1)
}

func TestProcessBatch_DeadLetterPublishFailureStillMarksPublished(t *testing.T) {
	f := newDispatcherFixture(t)
	event := f.enqueue(t, "order-1", time.Now().UTC())
	f.publisher.PublishFn = func(context.Context, messaging.Message) error { return errors.New("cluster down") }

	for i := 0; i < 4; i++ {
		_, err := f.dispatcher.ProcessBatch(context.Background())
		require.NoError(t, err)
	}

	stored := f.event(t, event.ID)
	assert.True(t, stored.Published)
	assert.Empty(t, f.store.DeadLetterEvents())
}

func TestProcessBatch_MarkPublishedFailureLeavesEventQueued(t *testing.T) {
	f := newDispatcherFixture(t)
	event := f.enqueue(t, "order-1", time.Now().UTC())
	f.store.MarkPublishedErr = errors.New("connection reset")

	res, err := f.dispatcher.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Zero(t, res.Published)
	assert.Len(t, f.publisher.Published(topics.Main), 1)

	stored := f.event(t, event.ID)
	assert.False(t, stored.Published)
	assert.Zero(t, stored.RetryCount)

	f.store.MarkPublishedErr = nil
	res, err = f.dispatcher.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Published)
	assert.True(t, f.event(t, event.ID).Published)
}

func TestProcessBatch_DeadLetterStoreFailureRollsBack(t *testing.T) {
	f := newDispatcherFixture(t)
	event := f.enqueue(t, "order-1", time.Now().UTC())
	for i := 0; i < 3; i++ {
		require.NoError(t, f.store.Repositories().Outbox.IncrementRetry(context.Background(), event.ID))
	}
	f.publisher.PublishFn = testhelper.FailTopic(topics.Main, errors.New("broker unavailable"))
	f.store.MarkPublishedErr = errors.New("connection reset")

	res, err := f.dispatcher.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Zero(t, res.DeadLettered)
	assert.Empty(t, f.store.DeadLetterEvents(), "dead letter row is rolled back with the published mark")
	assert.False(t, f.event(t, event.ID).Published)

	f.store.MarkPublishedErr = nil
	res, err = f.dispatcher.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.DeadLettered)
	assert.Len(t, f.store.DeadLetterEvents(), 1)
	assert.True(t, f.event(t, event.ID).Published)
}

func TestProcessBatch_FailingEventDoesNotStarveOthers(t *testing.T) {
	f := newDispatcherFixture(t)
	base := time.Now().UTC()
	bad := f.enqueue(t, "poison", base)
	good := f.enqueue(t, "order-2", base.Add(time.Second))
	f.publisher.PublishFn = func(_ context.Context, msg messaging.Message) error {
		if msg.Topic == topics.Main && msg.Key == "poison" {
			return errors.New("message too large")
		}
		return nil
	}

	res, err := f.dispatcher.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Published)
	assert.Equal(t, 1, res.Retried)
	assert.True(t, f.event(t, good.ID).Published)
	assert.False(t, f.event(t, bad.ID).Published)
}

func TestProcessBatch_PublishTimeoutCountsAsFailure(t *testing.T) {
	f := newDispatcherFixture(t)
	event := f.enqueue(t, "order-1", time.Now().UTC())
	f.publisher.PublishFn = func(ctx context.Context, _ messaging.Message) error {
		<-ctx.Done()
		return ctx.Err()
	}

	res, err := f.dispatcher.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Retried)
	assert.Equal(t, 1, f.event(t, event.ID).RetryCount)
}

func TestProcessBatch_RespectsBatchSize(t *testing.T) {
	f := newDispatcherFixture(t)
	f.dispatcher.cfg.BatchSize = 2
	base := time.Now().UTC()
	for i := 0; i < 5; i++ {
		f.enqueue(t, "order", base.Add(time.Duration(i)*time.Millisecond))
	}

	res, err := f.dispatcher.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Fetched)
	assert.Len(t, f.publisher.Published(topics.Main), 2)
}

func TestRun_StopsOnCancel(t *testing.T) {
	f := newDispatcherFixture(t)
	f.enqueue(t, "order-1", time.Now().UTC())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.dispatcher.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return len(f.publisher.Published(topics.Main)) == 1 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop")
	}
}

func TestRun_RecoversFromPanic(t *testing.T) {
	f := newDispatcherFixture(t)
	f.enqueue(t, "order-1", time.Now().UTC())
	calls := 0
	f.publisher.PublishFn = func(context.Context, messaging.Message) error {
		calls++
		if calls == 1 {
			panic("publisher bug")
		}
		return nil
	}

	assert.NotPanics(t, func() { f.dispatcher.poll(context.Background()) })
	f.dispatcher.poll(context.Background())
	assert.Len(t, f.publisher.Published(topics.Main), 1)
}

func TestFailureReason(t *testing.T) {
	long := strings.Repeat("€", 400)

	tests := []struct {
		name string
		err  error
		want string
	}{
		{"verbatim", errors.New("kafka: leader not available"), "kafka: leader not available"},
		{"nil", nil, "unknown error"},
		{"wrapped", fmt.Errorf("publish: %w", context.DeadlineExceeded), "publish: context deadline exceeded"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, failureReason(tt.err))
		})
	}

	t.Run("truncates on rune boundary", func(t *testing.T) {
		got := failureReason(errors.New(long))
		assert.True(t, utf8.ValidString(got))
		assert.LessOrEqual(t, len(got), maxFailureReasonLen)
		assert.Equal(t, 999, len(got))
		assert.True(t, strings.HasPrefix(long, got))
	})
}
