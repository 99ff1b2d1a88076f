package kafka

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/railzwaylabs/stockflow/internal/config"
	"github.com/railzwaylabs/stockflow/internal/domain/messaging"
	"github.com/railzwaylabs/stockflow/pkg/resilience"
)

// GuardedPublisher rate limits publishes and stops calling a broker that keeps failing.
// Refused calls surface as ordinary publish errors, so the dispatcher retries them later.
type GuardedPublisher struct {
	next    messaging.Publisher
	breaker resilience.CircuitBreaker
	limiter *resilience.RateLimiter
}

func NewGuardedPublisher(next messaging.Publisher, cfg *config.Config, logger *zap.Logger) *GuardedPublisher {
	log := logger.Named("kafka.guard")
	breaker := resilience.NewCircuitBreaker(resilience.BreakerConfig{
		Name:         "kafka-publish",
		Enabled:      cfg.PublishCircuitBreakerEnabled,
		MaxRequests:  cfg.PublishCircuitBreakerMaxRequests,
		Interval:     cfg.PublishCircuitBreakerInterval,
		Timeout:      cfg.PublishCircuitBreakerTimeout,
		FailureRatio: cfg.PublishCircuitBreakerFailureRatio,
		MinRequests:  cfg.PublishCircuitBreakerMinRequests,
		OnStateChange: func(name, from, to string) {
			log.Warn("publish_circuit_state_changed",
				zap.String("breaker", name),
				zap.String("from", from),
				zap.String("to", to),
			)
		},
	})

	return &GuardedPublisher{
		next:    next,
		breaker: breaker,
		limiter: resilience.NewRateLimiter(cfg.PublishRateLimit, cfg.PublishRateBurst),
	}
}

func (g *GuardedPublisher) Publish(ctx context.Context, msg messaging.Message) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("publish rate limit: %w", err)
	}
	err := g.breaker.Execute(func() error {
		return g.next.Publish(ctx, msg)
	})
	if err != nil && resilience.IsOpen(err) {
		return fmt.Errorf("publish to %s: %w", msg.Topic, err)
	}
	return err
}
