package lease

import (
	"context"
	"time"
)

// Locker grants a time-bound exclusive lease so that only one instance runs a sweep.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (release func(context.Context), acquired bool, err error)
}

// Noop always grants the lease. Used when a single instance runs the workers.
type Noop struct{}

func (Noop) TryLock(context.Context, string, time.Duration) (func(context.Context), bool, error) {
	return func(context.Context) {}, true, nil
}
