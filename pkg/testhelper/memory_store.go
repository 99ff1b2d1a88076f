package testhelper

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/railzwaylabs/stockflow/internal/domain/deadletter"
	"github.com/railzwaylabs/stockflow/internal/domain/inventory"
	"github.com/railzwaylabs/stockflow/internal/domain/outbox"
	"github.com/railzwaylabs/stockflow/internal/domain/store"
)

// MemoryStore is an in-memory store.Transactor for unit tests.
// Transactions are serialized by a single mutex and rolled back from a snapshot on error,
// which gives the same all-or-nothing behaviour as the postgres transactor.
type MemoryStore struct {
	mu sync.Mutex

	inventory    map[int64]*inventory.Record
	deleted      map[int64]time.Time
	movements    []*inventory.Movement
	reservations map[int64]*inventory.Reservation
	outbox       map[int64]*outbox.Event
	deadLetters  map[int64]*deadletter.Event
	orderLocks   []uuid.UUID

	// BeforeLock runs while a record is being locked, with the stored row.
	// Tests use it to simulate a concurrent writer between the unlocked and locked passes.
	BeforeLock func(rec *inventory.Record)
	// EnqueueErr, when set, is returned by outbox Enqueue for matching events.
	EnqueueErr func(event *outbox.Event) error
	// MarkPublishedErr, when set, is returned by outbox MarkPublished.
	MarkPublishedErr error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		inventory:    make(map[int64]*inventory.Record),
		deleted:      make(map[int64]time.Time),
		reservations: make(map[int64]*inventory.Reservation),
		outbox:       make(map[int64]*outbox.Event),
		deadLetters:  make(map[int64]*deadletter.Event),
	}
}

// Repositories returns auto-commit repositories that lock the store per call.
func (s *MemoryStore) Repositories() store.Repositories {
	return s.repos(false)
}

func (s *MemoryStore) WithinTx(ctx context.Context, fn func(ctx context.Context, repos store.Repositories) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snapshot()
	if err := fn(ctx, s.repos(true)); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

func (s *MemoryStore) repos(inTx bool) store.Repositories {
	r := &memRepos{s: s, inTx: inTx}
	return store.Repositories{
		Inventory:    (*memInventory)(r),
		Movements:    (*memMovements)(r),
		Reservations: (*memReservations)(r),
		Outbox:       (*memOutbox)(r),
		DeadLetters:  (*memDeadLetters)(r),
	}
}

type snapshot struct {
	inventory    map[int64]*inventory.Record
	deleted      map[int64]time.Time
	movements    []*inventory.Movement
	reservations map[int64]*inventory.Reservation
	outbox       map[int64]*outbox.Event
	deadLetters  map[int64]*deadletter.Event
}

func (s *MemoryStore) snapshot() snapshot {
	snap := snapshot{
		inventory:    make(map[int64]*inventory.Record, len(s.inventory)),
		deleted:      make(map[int64]time.Time, len(s.deleted)),
		movements:    make([]*inventory.Movement, len(s.movements)),
		reservations: make(map[int64]*inventory.Reservation, len(s.reservations)),
		outbox:       make(map[int64]*outbox.Event, len(s.outbox)),
		deadLetters:  make(map[int64]*deadletter.Event, len(s.deadLetters)),
	}
	for k, v := range s.inventory {
		snap.inventory[k] = cloneRecord(v)
	}
	for k, v := range s.deleted {
		snap.deleted[k] = v
	}
	copy(snap.movements, s.movements)
	for k, v := range s.reservations {
		snap.reservations[k] = cloneReservation(v)
	}
	for k, v := range s.outbox {
		snap.outbox[k] = cloneEvent(v)
	}
	for k, v := range s.deadLetters {
		snap.deadLetters[k] = cloneDeadLetter(v)
	}
	return snap
}

func (s *MemoryStore) restore(snap snapshot) {
	s.inventory = snap.inventory
	s.deleted = snap.deleted
	s.movements = snap.movements
	s.reservations = snap.reservations
	s.outbox = snap.outbox
	s.deadLetters = snap.deadLetters
}

// Inspection helpers.

func (s *MemoryStore) Record(productID uuid.UUID) *inventory.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec := s.findByProduct(productID); rec != nil {
		return cloneRecord(rec)
	}
	return nil
}

func (s *MemoryStore) OutboxEvents() []*outbox.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*outbox.Event, 0, len(s.outbox))
	for _, e := range s.outbox {
		out = append(out, cloneEvent(e))
	}
	sortEvents(out)
	return out
}

func (s *MemoryStore) OutboxEventsOfType(eventType outbox.EventType) []*outbox.Event {
	var out []*outbox.Event
	for _, e := range s.OutboxEvents() {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

func (s *MemoryStore) DeadLetterEvents() []*deadletter.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*deadletter.Event, 0, len(s.deadLetters))
	for _, e := range s.deadLetters {
		out = append(out, cloneDeadLetter(e))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// OrderLocks lists the orders passed to LockOrder, in call order.
func (s *MemoryStore) OrderLocks() []uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uuid.UUID(nil), s.orderLocks...)
}

func (s *MemoryStore) Movements() []*inventory.Movement {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*inventory.Movement, len(s.movements))
	copy(out, s.movements)
	return out
}

func (s *MemoryStore) AllReservations() []*inventory.Reservation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*inventory.Reservation, 0, len(s.reservations))
	for _, r := range s.reservations {
		out = append(out, cloneReservation(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *MemoryStore) findByProduct(productID uuid.UUID) *inventory.Record {
	for id, rec := range s.inventory {
		if _, gone := s.deleted[id]; gone {
			continue
		}
		if rec.ProductID == productID {
			return rec
		}
	}
	return nil
}

type memRepos struct {
	s    *MemoryStore
	inTx bool
}

func (r *memRepos) lock() func() {
	if r.inTx {
		return func() {}
	}
	r.s.mu.Lock()
	return r.s.mu.Unlock
}

// Inventory

type memInventory memRepos

func (r *memInventory) base() *memRepos { return (*memRepos)(r) }

func (r *memInventory) FindByProductID(_ context.Context, productID uuid.UUID) (*inventory.Record, error) {
	defer r.base().lock()()
	if rec := r.s.findByProduct(productID); rec != nil {
		return cloneRecord(rec), nil
	}
	return nil, nil
}

func (r *memInventory) FindBySKU(_ context.Context, sku string) (*inventory.Record, error) {
	defer r.base().lock()()
	for id, rec := range r.s.inventory {
		if _, gone := r.s.deleted[id]; gone {
			continue
		}
		if rec.SKU == sku {
			return cloneRecord(rec), nil
		}
	}
	return nil, nil
}

func (r *memInventory) LockByProductID(_ context.Context, productID uuid.UUID) (*inventory.Record, error) {
	defer r.base().lock()()
	rec := r.s.findByProduct(productID)
	if rec == nil {
		return nil, nil
	}
	if r.s.BeforeLock != nil {
		r.s.BeforeLock(rec)
	}
	return cloneRecord(rec), nil
}

func (r *memInventory) List(_ context.Context, offset, limit int) ([]*inventory.Record, int64, error) {
	defer r.base().lock()()
	all := make([]*inventory.Record, 0, len(r.s.inventory))
	for id, rec := range r.s.inventory {
		if _, gone := r.s.deleted[id]; gone {
			continue
		}
		all = append(all, cloneRecord(rec))
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID > all[j].ID
	})
	total := int64(len(all))
	if offset >= len(all) {
		return []*inventory.Record{}, total, nil
	}
	end := len(all)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return all[offset:end], total, nil
}

func (r *memInventory) ListLowStock(_ context.Context) ([]*inventory.Record, error) {
	defer r.base().lock()()
	var out []*inventory.Record
	for id, rec := range r.s.inventory {
		if _, gone := r.s.deleted[id]; gone {
			continue
		}
		if rec.IsLowStock() {
			out = append(out, cloneRecord(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QuantityAvailable < out[j].QuantityAvailable })
	return out, nil
}

func (r *memInventory) Create(_ context.Context, record *inventory.Record) error {
	defer r.base().lock()()
	if r.s.findByProduct(record.ProductID) != nil {
		return inventory.ErrDuplicateInventory
	}
	for id, rec := range r.s.inventory {
		if _, gone := r.s.deleted[id]; !gone && rec.SKU == record.SKU {
			return inventory.ErrDuplicateInventory
		}
	}
	r.s.inventory[record.ID] = cloneRecord(record)
	return nil
}

func (r *memInventory) Save(_ context.Context, record *inventory.Record) error {
	defer r.base().lock()()
	if _, ok := r.s.inventory[record.ID]; !ok {
		return inventory.ErrInventoryNotFound
	}
	r.s.inventory[record.ID] = cloneRecord(record)
	return nil
}

func (r *memInventory) SoftDelete(_ context.Context, id int64, at time.Time) error {
	defer r.base().lock()()
	if _, ok := r.s.inventory[id]; !ok {
		return inventory.ErrInventoryNotFound
	}
	r.s.deleted[id] = at
	return nil
}

// Movements

type memMovements memRepos

func (r *memMovements) Append(_ context.Context, movement *inventory.Movement) error {
	defer (*memRepos)(r).lock()()
	m := *movement
	r.s.movements = append(r.s.movements, &m)
	return nil
}

func (r *memMovements) ListByInventoryID(_ context.Context, inventoryID int64, limit int) ([]*inventory.Movement, error) {
	defer (*memRepos)(r).lock()()
	var out []*inventory.Movement
	for i := len(r.s.movements) - 1; i >= 0; i-- {
		m := r.s.movements[i]
		if m.InventoryID != inventoryID {
			continue
		}
		c := *m
		out = append(out, &c)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Reservations

type memReservations memRepos

// LockOrder records the call. Transactions are already serialized.
func (r *memReservations) LockOrder(_ context.Context, orderID uuid.UUID) error {
	defer (*memRepos)(r).lock()()
	r.s.orderLocks = append(r.s.orderLocks, orderID)
	return nil
}

func (r *memReservations) FindByOrderID(_ context.Context, orderID uuid.UUID) ([]*inventory.Reservation, error) {
	defer (*memRepos)(r).lock()()
	return r.byOrder(orderID), nil
}

func (r *memReservations) LockByOrderID(_ context.Context, orderID uuid.UUID) ([]*inventory.Reservation, error) {
	defer (*memRepos)(r).lock()()
	return r.byOrder(orderID), nil
}

func (r *memReservations) byOrder(orderID uuid.UUID) []*inventory.Reservation {
	var out []*inventory.Reservation
	for _, res := range r.s.reservations {
		if res.OrderID == orderID {
			out = append(out, cloneReservation(res))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].ProductID[:], out[j].ProductID[:]) < 0
	})
	return out
}

func (r *memReservations) ExistsPendingForProduct(_ context.Context, productID uuid.UUID) (bool, error) {
	defer (*memRepos)(r).lock()()
	for _, res := range r.s.reservations {
		if res.ProductID == productID && res.Status == inventory.ReservationPending {
			return true, nil
		}
	}
	return false, nil
}

func (r *memReservations) ListExpiredPending(_ context.Context, before time.Time, afterID int64, limit int) ([]*inventory.Reservation, error) {
	defer (*memRepos)(r).lock()()
	var out []*inventory.Reservation
	for _, res := range r.s.reservations {
		if res.ID > afterID && res.Status == inventory.ReservationPending && res.ExpiresAt != nil && res.ExpiresAt.Before(before) {
			out = append(out, cloneReservation(res))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memReservations) Create(_ context.Context, reservation *inventory.Reservation) error {
	defer (*memRepos)(r).lock()()
	for _, res := range r.s.reservations {
		if res.OrderID == reservation.OrderID && res.ProductID == reservation.ProductID {
			return inventory.ErrDuplicateReservation
		}
	}
	r.s.reservations[reservation.ID] = cloneReservation(reservation)
	return nil
}

func (r *memReservations) Save(_ context.Context, reservation *inventory.Reservation) error {
	defer (*memRepos)(r).lock()()
	if _, ok := r.s.reservations[reservation.ID]; !ok {
		return inventory.ErrReservationNotFound
	}
	r.s.reservations[reservation.ID] = cloneReservation(reservation)
	return nil
}

// Outbox

type memOutbox memRepos

func (r *memOutbox) Enqueue(_ context.Context, event *outbox.Event) error {
	defer (*memRepos)(r).lock()()
	if r.s.EnqueueErr != nil {
		if err := r.s.EnqueueErr(event); err != nil {
			return err
		}
	}
	r.s.outbox[event.ID] = cloneEvent(event)
	return nil
}

func (r *memOutbox) FindByID(_ context.Context, id int64) (*outbox.Event, error) {
	defer (*memRepos)(r).lock()()
	if e, ok := r.s.outbox[id]; ok {
		return cloneEvent(e), nil
	}
	return nil, nil
}

func (r *memOutbox) ListUnpublished(_ context.Context, limit int) ([]*outbox.Event, error) {
	defer (*memRepos)(r).lock()()
	var out []*outbox.Event
	for _, e := range r.s.outbox {
		if !e.Published {
			out = append(out, cloneEvent(e))
		}
	}
	sortEvents(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memOutbox) MarkPublished(_ context.Context, id int64, at time.Time) error {
	defer (*memRepos)(r).lock()()
	if r.s.MarkPublishedErr != nil {
		return r.s.MarkPublishedErr
	}
	e, ok := r.s.outbox[id]
	if !ok {
		return nil
	}
	e.MarkPublished(at)
	return nil
}

func (r *memOutbox) MarkRepublished(_ context.Context, id int64, at time.Time) error {
	defer (*memRepos)(r).lock()()
	e, ok := r.s.outbox[id]
	if !ok {
		return nil
	}
	e.MarkPublished(at)
	e.RetryCount = 0
	return nil
}

func (r *memOutbox) IncrementRetry(_ context.Context, id int64) error {
	defer (*memRepos)(r).lock()()
	if e, ok := r.s.outbox[id]; ok {
		e.RetryCount++
	}
	return nil
}

func (r *memOutbox) DeleteUnpublishedByAggregate(_ context.Context, aggregateType, aggregateID string) error {
	defer (*memRepos)(r).lock()()
	for id, e := range r.s.outbox {
		if !e.Published && e.AggregateType == aggregateType && e.AggregateID == aggregateID {
			delete(r.s.outbox, id)
		}
	}
	return nil
}

// Dead letters

type memDeadLetters memRepos

func (r *memDeadLetters) Create(_ context.Context, event *deadletter.Event) error {
	defer (*memRepos)(r).lock()()
	for _, e := range r.s.deadLetters {
		if e.OriginalEventID == event.OriginalEventID {
			return deadletter.ErrDuplicate
		}
	}
	r.s.deadLetters[event.ID] = cloneDeadLetter(event)
	return nil
}

func (r *memDeadLetters) FindByID(_ context.Context, id int64) (*deadletter.Event, error) {
	defer (*memRepos)(r).lock()()
	if e, ok := r.s.deadLetters[id]; ok {
		return cloneDeadLetter(e), nil
	}
	return nil, nil
}

func (r *memDeadLetters) LockByID(ctx context.Context, id int64) (*deadletter.Event, error) {
	return r.FindByID(ctx, id)
}

func (r *memDeadLetters) ListUnresolved(_ context.Context) ([]*deadletter.Event, error) {
	defer (*memRepos)(r).lock()()
	var out []*deadletter.Event
	for _, e := range r.s.deadLetters {
		if !e.Resolved {
			out = append(out, cloneDeadLetter(e))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].MovedToDLQAt.Equal(out[j].MovedToDLQAt) {
			return out[i].MovedToDLQAt.After(out[j].MovedToDLQAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (r *memDeadLetters) Count(_ context.Context, resolved bool) (int64, error) {
	defer (*memRepos)(r).lock()()
	var n int64
	for _, e := range r.s.deadLetters {
		if e.Resolved == resolved {
			n++
		}
	}
	return n, nil
}

func (r *memDeadLetters) MarkResolved(_ context.Context, id int64, resolvedBy string, at time.Time) error {
	defer (*memRepos)(r).lock()()
	e, ok := r.s.deadLetters[id]
	if !ok {
		return deadletter.ErrEventNotFound
	}
	if e.Resolved {
		return deadletter.ErrAlreadyResolved
	}
	e.Resolved = true
	e.ResolvedAt = &at
	e.ResolvedBy = resolvedBy
	return nil
}

// Cloning keeps callers from mutating stored rows outside a transaction.

func sortEvents(events []*outbox.Event) {
	sort.Slice(events, func(i, j int) bool {
		if !events[i].CreatedAt.Equal(events[j].CreatedAt) {
			return events[i].CreatedAt.Before(events[j].CreatedAt)
		}
		return events[i].ID < events[j].ID
	})
}

func cloneRecord(r *inventory.Record) *inventory.Record {
	c := *r
	return &c
}

func cloneReservation(r *inventory.Reservation) *inventory.Reservation {
	c := *r
	c.ExpiresAt = cloneTime(r.ExpiresAt)
	c.ConfirmedAt = cloneTime(r.ConfirmedAt)
	c.ReleasedAt = cloneTime(r.ReleasedAt)
	return &c
}

func cloneEvent(e *outbox.Event) *outbox.Event {
	c := *e
	c.Payload = append([]byte(nil), e.Payload...)
	c.PublishedAt = cloneTime(e.PublishedAt)
	c.Headers = make(map[string]string, len(e.Headers))
	for k, v := range e.Headers {
		c.Headers[k] = v
	}
	return &c
}

func cloneDeadLetter(e *deadletter.Event) *deadletter.Event {
	c := *e
	c.Payload = append([]byte(nil), e.Payload...)
	c.ResolvedAt = cloneTime(e.ResolvedAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
