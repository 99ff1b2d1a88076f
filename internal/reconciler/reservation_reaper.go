package reconciler

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/railzwaylabs/stockflow/internal/config"
	"github.com/railzwaylabs/stockflow/internal/domain/inventory"
	"github.com/railzwaylabs/stockflow/internal/domain/lease"
	"github.com/railzwaylabs/stockflow/internal/domain/store"
)

const reaperLeaseKey = "stockflow:lease:reservation-reaper"

var reapedOrders = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "stockflow",
	Subsystem: "reaper",
	Name:      "orders_total",
	Help:      "Expired orders processed by the reservation reaper, by outcome.",
}, []string{"outcome"})

// Releaser returns an order's held stock.
type Releaser interface {
	ReleaseReservation(ctx context.Context, orderID uuid.UUID) ([]*inventory.Reservation, error)
}

// SweepResult summarises one reaper pass.
type SweepResult struct {
	Expired  int
	Orders   int
	Released int
	Failed   int
}

// ReservationReaper reclaims stock held by pending reservations past their deadline.
type ReservationReaper struct {
	reservations inventory.ReservationRepository
	releaser     Releaser
	locker       lease.Locker
	logger       *zap.Logger
	interval     time.Duration
	batchSize    int
	leaseTTL     time.Duration
	now          func() time.Time
}

func NewReservationReaper(tx store.Transactor, releaser Releaser, locker lease.Locker, cfg *config.Config, logger *zap.Logger) *ReservationReaper {
	interval := cfg.ReaperInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	batchSize := cfg.ReaperBatchSize
	if batchSize <= 0 {
		batchSize = 500
	}
	leaseTTL := cfg.LeaseTTL
	if leaseTTL <= 0 {
		leaseTTL = time.Minute
	}
	if locker == nil {
		locker = lease.Noop{}
	}
	return &ReservationReaper{
		reservations: tx.Repositories().Reservations,
		releaser:     releaser,
		locker:       locker,
		logger:       logger.Named("reservation.reaper"),
		interval:     interval,
		batchSize:    batchSize,
		leaseTTL:     leaseTTL,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func (r *ReservationReaper) Run(ctx context.Context) {
	r.sweepSafely(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweepSafely(ctx)
		}
	}
}

func (r *ReservationReaper) sweepSafely(ctx context.Context) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("reaper_sweep_panic", zap.Any("panic", rec))
		}
	}()

	release, acquired, err := r.locker.TryLock(ctx, reaperLeaseKey, r.leaseTTL)
	if err != nil {
		r.logger.Warn("reaper_lease_failed", zap.Error(err))
		return
	}
	if !acquired {
		return
	}
	defer release(context.WithoutCancel(ctx))

	if _, err := r.Sweep(ctx); err != nil {
		r.logger.Error("reaper_sweep_failed", zap.Error(err))
	}
}

// Sweep releases every order that owns an expired pending reservation. Rows are
// read in id pages, so orders that keep failing never hide newer ones.
// A failing order is counted and the sweep moves on.
func (r *ReservationReaper) Sweep(ctx context.Context) (SweepResult, error) {
	var result SweepResult
	now := r.now()
	seen := make(map[uuid.UUID]struct{})

	var afterID int64
	for ctx.Err() == nil {
		page, err := r.reservations.ListExpiredPending(ctx, now, afterID, r.batchSize)
		if err != nil {
			return result, err
		}
		if len(page) == 0 {
			break
		}
		result.Expired += len(page)
		afterID = page[len(page)-1].ID

		for _, res := range page {
			if ctx.Err() != nil {
				break
			}
			if _, ok := seen[res.OrderID]; ok {
				continue
			}
			seen[res.OrderID] = struct{}{}
			result.Orders++
			r.release(ctx, res.OrderID, &result)
		}

		if len(page) < r.batchSize {
			break
		}
	}
	if result.Expired == 0 {
		return result, nil
	}

	r.logger.Info("reaper_sweep_completed",
		zap.Int("expired_reservations", result.Expired),
		zap.Int("orders", result.Orders),
		zap.Int("released", result.Released),
		zap.Int("failed", result.Failed),
	)
	return result, nil
}

func (r *ReservationReaper) release(ctx context.Context, orderID uuid.UUID, result *SweepResult) {
	if _, err := r.releaser.ReleaseReservation(ctx, orderID); err != nil {
		result.Failed++
		reapedOrders.WithLabelValues("failed").Inc()
		r.logger.Warn("reaper_release_failed", zap.String("order_id", orderID.String()), zap.Error(err))
		return
	}
	result.Released++
	reapedOrders.WithLabelValues("released").Inc()
}
