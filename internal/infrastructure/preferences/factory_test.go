package preferences

import (
	"context"
	"testing"
	"time"

	"livecast/internal/infrastructure/preferences/memory"
	"livecast/pkg/config"
	"livecast/pkg/retry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestFactory_MemoryWhenRedisDisabled(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Redis.Enabled = false

	f := NewFactory(context.Background(), cfg, zaptest.NewLogger(t).Sugar())
	defer f.Close()

	assert.False(t, f.IsUsingRedis())
	assert.Nil(t, f.RedisClient())
	assert.IsType(t, &memory.Store{}, f.Store())
	assert.Same(t, f.Store(), f.MemoryStore())
	assert.NoError(t, f.HealthCheck(context.Background()))
}

func TestFactory_FallsBackWhenRedisUnreachable(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Redis.Enabled = true
	cfg.Redis.Address = "127.0.0.1:1"

	retryCfg := retry.DefaultConfig()
	retryCfg.MaxAttempts = 2
	retryCfg.InitialDelay = time.Millisecond
	retryCfg.Jitter = false

	f := newFactory(context.Background(), cfg, retryCfg, zaptest.NewLogger(t).Sugar())
	defer f.Close()

	assert.False(t, f.IsUsingRedis())
	require.IsType(t, &memory.Store{}, f.Store())
	assert.NoError(t, f.Store().SetInt(context.Background(), "stream_video_fps", 30))
}
