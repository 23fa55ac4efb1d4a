package distributed

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLease_UnreachableRedis(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 50 * time.Millisecond})
	defer client.Close()

	l := NewLease(client, "livecast:test:lease", "", time.Second)
	err := l.Acquire(context.Background())

	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrLeaseHeld)
	assert.False(t, l.Held())
	assert.NoError(t, l.Release(context.Background()), "releasing an unheld lease is a no-op")
}

func TestLease_Exclusive(t *testing.T) {
	addr := os.Getenv("LIVECAST_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("LIVECAST_TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	ctx := context.Background()
	key := "livecast:test:lease:" + randomHolder()
	defer client.Del(ctx, key)

	first := NewLease(client, key, "a", 2*time.Second)
	second := NewLease(client, key, "b", 2*time.Second)

	require.NoError(t, first.Acquire(ctx))
	require.NoError(t, first.Acquire(ctx))
	assert.ErrorIs(t, second.Acquire(ctx), ErrLeaseHeld)

	require.NoError(t, second.Release(ctx))
	assert.Equal(t, "a", client.Get(ctx, key).Val(), "a non-holder must not delete the key")

	require.NoError(t, first.Release(ctx))
	require.NoError(t, second.Acquire(ctx))
	require.NoError(t, second.Release(ctx))
}
