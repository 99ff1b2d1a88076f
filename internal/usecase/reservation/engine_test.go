package reservation

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/railzwaylabs/stockflow/internal/config"
	"github.com/railzwaylabs/stockflow/internal/domain/inventory"
	"github.com/railzwaylabs/stockflow/internal/domain/outbox"
	"github.com/railzwaylabs/stockflow/pkg/telemetry/correlation"
	"github.com/railzwaylabs/stockflow/pkg/testhelper"
)

type fixture struct {
	engine *Engine
	store  *testhelper.MemoryStore
	clock  time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store: testhelper.NewMemoryStore(),
		clock: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.engine = NewEngine(f.store, &testhelper.SequentialIDs{}, &config.Config{ReservationTTL: 15 * time.Minute}, zap.NewNop())
	f.engine.now = func() time.Time { return f.clock }
	return f
}

func (f *fixture) seed(t *testing.T, sku string, available, reorderLevel int) uuid.UUID {
	t.Helper()
	productID := uuid.New()
	_, err := f.engine.CreateInventory(context.Background(), CreateInventoryInput{
		ProductID:       productID,
		ProductName:     "Product " + sku,
		SKU:             sku,
		InitialQuantity: available,
		ReorderLevel:    reorderLevel,
		ReorderQuantity: 50,
	})
	require.NoError(t, err)
	return productID
}

func (f *fixture) record(t *testing.T, productID uuid.UUID) *inventory.Record {
	t.Helper()
	rec := f.store.Record(productID)
	require.NotNil(t, rec)
	return rec
}

func TestReserveStock_HappyPath(t *testing.T) {
	f := newFixture(t)
	productID := f.seed(t, "SKU-1", 100, 10)
	orderID := uuid.New()

	got, err := f.engine.ReserveStock(context.Background(), orderID, []inventory.Item{{ProductID: productID, Quantity: 5}})
	require.NoError(t, err)
	require.Len(t, got, 1)

	assert.Equal(t, inventory.ReservationPending, got[0].Status)
	assert.Equal(t, 5, got[0].Quantity)
	require.NotNil(t, got[0].ExpiresAt)
	assert.Equal(t, f.clock.Add(15*time.Minute), *got[0].ExpiresAt)

	rec := f.record(t, productID)
	assert.Equal(t, 95, rec.QuantityAvailable)
	assert.Equal(t, 5, rec.QuantityReserved)
	assert.Equal(t, 100, rec.TotalStock())

	reserved := f.store.OutboxEventsOfType(outbox.EventStockReserved)
	require.Len(t, reserved, 1)
	assert.Equal(t, orderID.String(), reserved[0].AggregateID)
	assert.Equal(t, outbox.AggregateOrder, reserved[0].AggregateType)
	assert.False(t, reserved[0].Published)
	assert.Empty(t, f.store.OutboxEventsOfType(outbox.EventLowStockAlert))

	var payload orderEventPayload
	require.NoError(t, json.Unmarshal(reserved[0].Payload, &payload))
	assert.Equal(t, orderID, payload.OrderID)
	require.Len(t, payload.Reservations, 1)

	var reservationMovements int
	for _, m := range f.store.Movements() {
		if m.Type == inventory.MovementReservation {
			reservationMovements++
			assert.Equal(t, 100, m.PreviousQuantity)
			assert.Equal(t, 95, m.NewQuantity)
			assert.Equal(t, inventory.ReferenceTypeOrder, m.ReferenceType)
		}
	}
	assert.Equal(t, 1, reservationMovements)
}

func TestReserveStock_InsufficientStockRejectsWholeOrder(t *testing.T) {
	f := newFixture(t)
	a := f.seed(t, "SKU-A", 100, 0)
	b := f.seed(t, "SKU-B", 2, 0)
	eventsBefore := len(f.store.OutboxEvents())

	_, err := f.engine.ReserveStock(context.Background(), uuid.New(), []inventory.Item{
		{ProductID: a, Quantity: 3},
		{ProductID: b, Quantity: 3},
	})

	require.ErrorIs(t, err, inventory.ErrInsufficientStock)
	assert.Equal(t, 100, f.record(t, a).QuantityAvailable)
	assert.Equal(t, 2, f.record(t, b).QuantityAvailable)
	assert.Empty(t, f.store.AllReservations())
	assert.Len(t, f.store.OutboxEvents(), eventsBefore)
}

func TestReserveStock_LockedPassFailureRollsBackEarlierItems(t *testing.T) {
	f := newFixture(t)
	a := f.seed(t, "SKU-A", 10, 0)
	b := f.seed(t, "SKU-B", 10, 0)
	first, second := a, b
	if b.String() < a.String() {
		first, second = b, a
	}

	// Another writer drains the second product after the unlocked check passed.
	f.store.BeforeLock = func(rec *inventory.Record) {
		if rec.ProductID == second {
			rec.QuantityAvailable = 1
		}
	}

	_, err := f.engine.ReserveStock(context.Background(), uuid.New(), []inventory.Item{
		{ProductID: a, Quantity: 5},
		{ProductID: b, Quantity: 5},
	})

	require.ErrorIs(t, err, inventory.ErrInsufficientStock)
	rec := f.record(t, first)
	assert.Equal(t, 10, rec.QuantityAvailable)
	assert.Equal(t, 0, rec.QuantityReserved)
	assert.Empty(t, f.store.AllReservations())
	assert.Empty(t, f.store.OutboxEventsOfType(outbox.EventStockReserved))
}

func TestReserveStock_Idempotent(t *testing.T) {
	f := newFixture(t)
	productID := f.seed(t, "SKU-1", 20, 0)
	orderID := uuid.New()
	items := []inventory.Item{{ProductID: productID, Quantity: 4}}

	first, err := f.engine.ReserveStock(context.Background(), orderID, items)
	require.NoError(t, err)
	second, err := f.engine.ReserveStock(context.Background(), orderID, items)
	require.NoError(t, err)

	assert.Equal(t, first[0].ID, second[0].ID)
	assert.Equal(t, 16, f.record(t, productID).QuantityAvailable)
	assert.Len(t, f.store.OutboxEventsOfType(outbox.EventStockReserved), 1)
	assert.Len(t, f.store.AllReservations(), 1)
}

func TestReserveStock_ConcurrentRetriesOfSameOrder(t *testing.T) {
	f := newFixture(t)
	productID := f.seed(t, "SKU-1", 5, 0)
	orderID := uuid.New()
	items := []inventory.Item{{ProductID: productID, Quantity: 4}}

	const callers = 5
	results := make([][]*inventory.Reservation, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.engine.ReserveStock(context.Background(), orderID, items)
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		require.Len(t, results[i], 1)
		assert.Equal(t, results[0][0].ID, results[i][0].ID)
	}
	assert.Equal(t, 1, f.record(t, productID).QuantityAvailable)
	assert.Len(t, f.store.OutboxEventsOfType(outbox.EventStockReserved), 1)

	locks := f.store.OrderLocks()
	require.Len(t, locks, callers)
	for _, id := range locks {
		assert.Equal(t, orderID, id)
	}
}

func TestReserveStock_OutboxWriteFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	productID := f.seed(t, "SKU-1", 10, 0)
	f.store.EnqueueErr = func(event *outbox.Event) error {
		if event.EventType == outbox.EventStockReserved {
			return errors.New("disk full")
		}
		return nil
	}

	_, err := f.engine.ReserveStock(context.Background(), uuid.New(), []inventory.Item{{ProductID: productID, Quantity: 3}})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	rec := f.record(t, productID)
	assert.Equal(t, 10, rec.QuantityAvailable)
	assert.Zero(t, rec.QuantityReserved)
	assert.Empty(t, f.store.AllReservations())
	assert.Empty(t, f.store.OutboxEventsOfType(outbox.EventStockReserved))
}

func TestReserveStock_LowStockAlert(t *testing.T) {
	f := newFixture(t)
	productID := f.seed(t, "SKU-1", 12, 10)

	_, err := f.engine.ReserveStock(context.Background(), uuid.New(), []inventory.Item{{ProductID: productID, Quantity: 2}})
	require.NoError(t, err)

	alerts := f.store.OutboxEventsOfType(outbox.EventLowStockAlert)
	require.Len(t, alerts, 1)
	assert.Equal(t, productID.String(), alerts[0].AggregateID)
	assert.Equal(t, outbox.AggregateInventory, alerts[0].AggregateType)
}

func TestReserveStock_Validation(t *testing.T) {
	f := newFixture(t)
	productID := f.seed(t, "SKU-1", 5, 0)

	tests := []struct {
		name    string
		orderID uuid.UUID
		items   []inventory.Item
		wantErr error
	}{
		{"nil order", uuid.Nil, []inventory.Item{{ProductID: productID, Quantity: 1}}, inventory.ErrInvalidRequest},
		{"no items", uuid.New(), nil, inventory.ErrInvalidRequest},
		{"zero quantity", uuid.New(), []inventory.Item{{ProductID: productID, Quantity: 0}}, inventory.ErrInvalidRequest},
		{"nil product", uuid.New(), []inventory.Item{{Quantity: 1}}, inventory.ErrInvalidRequest},
		{"unknown product", uuid.New(), []inventory.Item{{ProductID: uuid.New(), Quantity: 1}}, inventory.ErrInventoryNotFound},
		{"merged lines exceed stock", uuid.New(), []inventory.Item{{ProductID: productID, Quantity: 3}, {ProductID: productID, Quantity: 3}}, inventory.ErrInsufficientStock},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.ReserveStock(context.Background(), tt.orderID, tt.items)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
	assert.Equal(t, 5, f.record(t, productID).QuantityAvailable)
}

func TestReserveStock_SerializationFailureAbortsTransaction(t *testing.T) {
	f := newFixture(t)
	productID := f.seed(t, "SKU-1", 10, 0)
	f.engine.encode = func(any) ([]byte, error) { return nil, errors.New("boom") }

	_, err := f.engine.ReserveStock(context.Background(), uuid.New(), []inventory.Item{{ProductID: productID, Quantity: 1}})

	require.ErrorIs(t, err, inventory.ErrSerialization)
	assert.Equal(t, 10, f.record(t, productID).QuantityAvailable)
	assert.Empty(t, f.store.AllReservations())
}

func TestReserveStock_CorrelationIDStoredInHeaders(t *testing.T) {
	f := newFixture(t)
	productID := f.seed(t, "SKU-1", 10, 0)
	ctx := correlation.ContextWithCorrelationID(context.Background(), "corr-123")

	_, err := f.engine.ReserveStock(ctx, uuid.New(), []inventory.Item{{ProductID: productID, Quantity: 1}})
	require.NoError(t, err)

	events := f.store.OutboxEventsOfType(outbox.EventStockReserved)
	require.Len(t, events, 1)
	assert.Equal(t, "corr-123", events[0].Headers[outbox.HeaderCorrelationID])
}

func TestReserveStock_ConcurrentOrdersNeverOversell(t *testing.T) {
	f := newFixture(t)
	productID := f.seed(t, "SKU-1", 10, 0)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.ReserveStock(context.Background(), uuid.New(), []inventory.Item{{ProductID: productID, Quantity: 1}})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, inventory.ErrInsufficientStock)
		}()
	}
	wg.Wait()

	rec := f.record(t, productID)
	assert.Equal(t, 10, succeeded)
	assert.Equal(t, 0, rec.QuantityAvailable)
	assert.Equal(t, 10, rec.QuantityReserved)
}

func TestConfirmReservation(t *testing.T) {
	f := newFixture(t)
	productID := f.seed(t, "SKU-1", 100, 0)
	orderID := uuid.New()
	_, err := f.engine.ReserveStock(context.Background(), orderID, []inventory.Item{{ProductID: productID, Quantity: 5}})
	require.NoError(t, err)

	got, err := f.engine.ConfirmReservation(context.Background(), orderID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, inventory.ReservationConfirmed, got[0].Status)
	assert.NotNil(t, got[0].ConfirmedAt)

	rec := f.record(t, productID)
	assert.Equal(t, 95, rec.QuantityAvailable)
	assert.Equal(t, 0, rec.QuantityReserved)
	assert.Len(t, f.store.OutboxEventsOfType(outbox.EventReservationConfirmed), 1)

	// Confirming again is a no-op.
	again, err := f.engine.ConfirmReservation(context.Background(), orderID)
	require.NoError(t, err)
	assert.Equal(t, inventory.ReservationConfirmed, again[0].Status)
	assert.Len(t, f.store.OutboxEventsOfType(outbox.EventReservationConfirmed), 1)
	assert.Equal(t, 0, f.record(t, productID).QuantityReserved)
}

func TestConfirmReservation_ExpiredFails(t *testing.T) {
	f := newFixture(t)
	productID := f.seed(t, "SKU-1", 10, 0)
	orderID := uuid.New()
	_, err := f.engine.ReserveStock(context.Background(), orderID, []inventory.Item{{ProductID: productID, Quantity: 2}})
	require.NoError(t, err)

	f.clock = f.clock.Add(16 * time.Minute)
	_, err = f.engine.ConfirmReservation(context.Background(), orderID)

	require.ErrorIs(t, err, inventory.ErrInvalidReservationState)
	rec := f.record(t, productID)
	assert.Equal(t, 8, rec.QuantityAvailable)
	assert.Equal(t, 2, rec.QuantityReserved)
	assert.Equal(t, inventory.ReservationPending, f.store.AllReservations()[0].Status)
}

func TestConfirmReservation_ReleasedFails(t *testing.T) {
	f := newFixture(t)
	productID := f.seed(t, "SKU-1", 10, 0)
	orderID := uuid.New()
	_, err := f.engine.ReserveStock(context.Background(), orderID, []inventory.Item{{ProductID: productID, Quantity: 2}})
	require.NoError(t, err)
	_, err = f.engine.ReleaseReservation(context.Background(), orderID)
	require.NoError(t, err)

	_, err = f.engine.ConfirmReservation(context.Background(), orderID)
	assert.ErrorIs(t, err, inventory.ErrInvalidReservationState)
}

func TestConfirmReservation_UnknownOrder(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.ConfirmReservation(context.Background(), uuid.New())
	assert.ErrorIs(t, err, inventory.ErrReservationNotFound)
}

func TestReleaseReservation(t *testing.T) {
	f := newFixture(t)
	a := f.seed(t, "SKU-A", 10, 0)
	b := f.seed(t, "SKU-B", 10, 0)
	orderID := uuid.New()
	_, err := f.engine.ReserveStock(context.Background(), orderID, []inventory.Item{
		{ProductID: a, Quantity: 3},
		{ProductID: b, Quantity: 4},
	})
	require.NoError(t, err)

	got, err := f.engine.ReleaseReservation(context.Background(), orderID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	for _, res := range got {
		assert.Equal(t, inventory.ReservationReleased, res.Status)
		assert.NotNil(t, res.ReleasedAt)
	}
	for _, id := range []uuid.UUID{a, b} {
		rec := f.record(t, id)
		assert.Equal(t, 10, rec.QuantityAvailable)
		assert.Equal(t, 0, rec.QuantityReserved)
	}
	assert.Len(t, f.store.OutboxEventsOfType(outbox.EventReservationReleased), 1)

	_, err = f.engine.ReleaseReservation(context.Background(), orderID)
	require.NoError(t, err)
	assert.Len(t, f.store.OutboxEventsOfType(outbox.EventReservationReleased), 1)
	assert.Equal(t, 10, f.record(t, a).QuantityAvailable)
}

func TestReleaseReservation_ConfirmedFails(t *testing.T) {
	f := newFixture(t)
	productID := f.seed(t, "SKU-1", 10, 0)
	orderID := uuid.New()
	_, err := f.engine.ReserveStock(context.Background(), orderID, []inventory.Item{{ProductID: productID, Quantity: 2}})
	require.NoError(t, err)
	_, err = f.engine.ConfirmReservation(context.Background(), orderID)
	require.NoError(t, err)

	_, err = f.engine.ReleaseReservation(context.Background(), orderID)
	require.ErrorIs(t, err, inventory.ErrInvalidReservationState)
	assert.Equal(t, 8, f.record(t, productID).QuantityAvailable)
}

func TestReleaseReservation_ExpiredPendingIsReleased(t *testing.T) {
	f := newFixture(t)
	productID := f.seed(t, "SKU-1", 10, 0)
	orderID := uuid.New()
	_, err := f.engine.ReserveStock(context.Background(), orderID, []inventory.Item{{ProductID: productID, Quantity: 2}})
	require.NoError(t, err)

	f.clock = f.clock.Add(time.Hour)
	got, err := f.engine.ReleaseReservation(context.Background(), orderID)
	require.NoError(t, err)
	assert.Equal(t, inventory.ReservationReleased, got[0].Status)
	assert.Equal(t, 10, f.record(t, productID).QuantityAvailable)
}

func TestCheckStock(t *testing.T) {
	f := newFixture(t)
	productID := f.seed(t, "SKU-1", 5, 0)

	check, err := f.engine.CheckStock(context.Background(), productID, 5)
	require.NoError(t, err)
	assert.True(t, check.Available)

	check, err = f.engine.CheckStock(context.Background(), productID, 6)
	require.NoError(t, err)
	assert.False(t, check.Available)

	_, err = f.engine.CheckStock(context.Background(), uuid.New(), 1)
	assert.ErrorIs(t, err, inventory.ErrInventoryNotFound)

	_, err = f.engine.CheckStock(context.Background(), productID, 0)
	assert.ErrorIs(t, err, inventory.ErrInvalidRequest)
}

func TestCheckStockBatch_UnknownProductIsUnavailable(t *testing.T) {
	f := newFixture(t)
	productID := f.seed(t, "SKU-1", 5, 0)
	unknown := uuid.New()

	checks, err := f.engine.CheckStockBatch(context.Background(), []inventory.Item{
		{ProductID: productID, Quantity: 2},
		{ProductID: unknown, Quantity: 1},
	})
	require.NoError(t, err)
	require.Len(t, checks, 2)
	assert.True(t, checks[0].Available)
	assert.Equal(t, 5, checks[0].QuantityAvailable)
	assert.False(t, checks[1].Available)
	assert.Equal(t, unknown, checks[1].ProductID)
}

func TestGetReservations(t *testing.T) {
	f := newFixture(t)
	productID := f.seed(t, "SKU-1", 5, 0)
	orderID := uuid.New()
	_, err := f.engine.ReserveStock(context.Background(), orderID, []inventory.Item{{ProductID: productID, Quantity: 1}})
	require.NoError(t, err)

	got, err := f.engine.GetReservations(context.Background(), orderID)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	_, err = f.engine.GetReservations(context.Background(), uuid.New())
	assert.ErrorIs(t, err, inventory.ErrReservationNotFound)
}
