package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/railzwaylabs/stockflow/internal/adapter/kafka"
	"github.com/railzwaylabs/stockflow/internal/adapter/redislease"
	"github.com/railzwaylabs/stockflow/internal/adapter/repository/postgres"
	"github.com/railzwaylabs/stockflow/internal/api"
	"github.com/railzwaylabs/stockflow/internal/config"
	"github.com/railzwaylabs/stockflow/internal/deadletter"
	"github.com/railzwaylabs/stockflow/internal/domain/messaging"
	"github.com/railzwaylabs/stockflow/internal/domain/store"
	"github.com/railzwaylabs/stockflow/internal/outbox"
	"github.com/railzwaylabs/stockflow/internal/reconciler"
	"github.com/railzwaylabs/stockflow/internal/usecase/reservation"
	"github.com/railzwaylabs/stockflow/pkg/db"
	zaplog "github.com/railzwaylabs/stockflow/pkg/log"
	"github.com/railzwaylabs/stockflow/pkg/snowflake"
	"github.com/railzwaylabs/stockflow/pkg/telemetry"
	"github.com/railzwaylabs/stockflow/sql/migrations"
)

// RunServer starts the HTTP server and background workers.
func RunServer() {
	app := fx.New(
		fx.Provide(
			// Config
			config.Load,

			// Infrastructure (Adapters)
			kafka.NewPublisher,
			kafka.NewDLQMonitor,
			redislease.New,

			// Domain Adapters (Bind Interfaces)
			fx.Annotate(
				postgres.NewStore,
				fx.As(new(store.Transactor)),
			),
			newPublisher,

			// Use Cases
			reservation.NewEngine,
			newReleaser,
			deadletter.NewService,

			// Workers
			outbox.NewDispatcher,
			reconciler.NewReservationReaper,

			// API
			api.NewRouter,
		),
		telemetry.Module, // Tracing and log export
		zaplog.Module,    // Logger Module
		db.Module,        // Database Module
		snowflake.Module, // Snowflake ID Module
		fx.WithLogger(func(logger *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: logger.Named("fx")}
		}),
		fx.Invoke(registerHooks),
	)

	app.Run()
}

// newPublisher puts the rate limiter and circuit breaker in front of Kafka.
func newPublisher(k *kafka.Publisher, cfg *config.Config, logger *zap.Logger) messaging.Publisher {
	return kafka.NewGuardedPublisher(k, cfg, logger)
}

func newReleaser(engine *reservation.Engine) reconciler.Releaser {
	return engine
}

// RunMigrations executes database migrations (up or down).
func RunMigrations(command string) error {
	if command == "" {
		command = "up"
	}

	cfg := config.Load()
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	logger.Info("migration_started", zap.String("command", command))

	d, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("load migration files: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", d, db.URL(cfg))
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	defer m.Close()

	switch command {
	case "up":
		err = m.Up()
	case "down":
		err = m.Down()
	default:
		return fmt.Errorf("unknown migration command: %s", command)
	}
	if errors.Is(err, migrate.ErrNoChange) {
		logger.Info("migration_no_change", zap.String("command", command))
		return nil
	}
	if err != nil {
		return fmt.Errorf("migration %s failed: %w", command, err)
	}

	logger.Info("migration_applied", zap.String("command", command))
	return nil
}

func registerHooks(
	lc fx.Lifecycle,
	cfg *config.Config,
	router *api.Router,
	dispatcher *outbox.Dispatcher,
	reaper *reconciler.ReservationReaper,
	monitor *kafka.DLQMonitor,
	logger *zap.Logger,
) {
	var workersCancel context.CancelFunc

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			logger.Info("Starting HTTP server", zap.String("port", cfg.Port))

			workersCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
			workersCancel = cancel

			go dispatcher.Run(workersCtx)
			go reaper.Run(workersCtx)
			if monitor.Enabled() {
				go monitor.Run(workersCtx)
			}

			go func() {
				if err := router.Run(); err != nil && err != http.ErrServerClosed {
					logger.Fatal("Server failed to start", zap.Error(err))
				}
			}()

			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("Shutting down HTTP server gracefully...")

			if workersCancel != nil {
				workersCancel()
			}

			shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			defer cancel()

			if err := router.Shutdown(shutdownCtx); err != nil {
				logger.Error("Server forced to shutdown", zap.Error(err))
				return err
			}

			logger.Info("HTTP server stopped gracefully")
			return nil
		},
	})
}
