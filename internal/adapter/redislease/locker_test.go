package redislease

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
)

func setupRedis(t *testing.T) *redis.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping redis integration test in short mode")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	rdb := redis.NewClient(&redis.Options{Addr: endpoint})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestLocker_Exclusive(t *testing.T) {
	rdb := setupRedis(t)
	ctx := context.Background()

	a := NewLocker(rdb, zap.NewNop())
	b := NewLocker(rdb, zap.NewNop())

	release, ok, err := a.TryLock(ctx, "outbox-dispatcher", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = b.TryLock(ctx, "outbox-dispatcher", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	release(ctx)

	releaseB, ok, err := b.TryLock(ctx, "outbox-dispatcher", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	releaseB(ctx)
}

func TestLocker_StaleReleaseKeepsNewHolder(t *testing.T) {
	rdb := setupRedis(t)
	ctx := context.Background()
	l := NewLocker(rdb, zap.NewNop())

	staleRelease, ok, err := l.TryLock(ctx, "reaper", 50*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	time.Sleep(100 * time.Millisecond)

	_, ok, err = l.TryLock(ctx, "reaper", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	staleRelease(ctx)

	_, ok, err = l.TryLock(ctx, "reaper", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "expired holder must not drop the new lease")
}
