package redislease

import (
	"context"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/railzwaylabs/stockflow/internal/config"
	"github.com/railzwaylabs/stockflow/internal/domain/lease"
)

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker is a single-key lease held with SET NX PX.
type Locker struct {
	rdb    *redis.Client
	logger *zap.Logger
}

func NewLocker(rdb *redis.Client, logger *zap.Logger) *Locker {
	return &Locker{rdb: rdb, logger: logger.Named("lease")}
}

// New returns the Redis locker when LEASE_REDIS_ADDR is set and lease.Noop otherwise.
func New(lc fx.Lifecycle, cfg *config.Config, logger *zap.Logger) lease.Locker {
	if cfg.LeaseRedisAddr == "" {
		return lease.Noop{}
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.LeaseRedisAddr,
		Password: cfg.LeaseRedisPassword,
		DB:       cfg.LeaseRedisDB,
	})
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := rdb.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("ping lease redis: %w", err)
			}
			return nil
		},
		OnStop: func(context.Context) error {
			return rdb.Close()
		},
	})
	return NewLocker(rdb, logger)
}

func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(context.Context), bool, error) {
	token := ulid.Make().String()

	ok, err := l.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire lease %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}

	release := func(ctx context.Context) {
		if err := releaseScript.Run(ctx, l.rdb, []string{key}, token).Err(); err != nil {
			l.logger.Warn("lease_release_failed", zap.String("key", key), zap.Error(err))
		}
	}
	return release, true, nil
}
