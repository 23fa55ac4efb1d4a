package preferences

import (
	"context"
	"time"

	"livecast/internal/core/ports"
	"livecast/internal/infrastructure/preferences/memory"
	redisprefs "livecast/internal/infrastructure/preferences/redis"
	"livecast/pkg/config"
	"livecast/pkg/retry"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const readCacheTTL = 30 * time.Second

// Factory selects the preference backend, falling back to memory when Redis
// is disabled or unreachable.
type Factory struct {
	useRedis    bool
	redisClient *redis.Client
	store       ports.PreferenceStore
	logger      *zap.SugaredLogger
}

func NewFactory(ctx context.Context, cfg *config.Config, logger *zap.SugaredLogger) *Factory {
	return newFactory(ctx, cfg, retry.DefaultConfig(), logger)
}

func newFactory(ctx context.Context, cfg *config.Config, retryCfg retry.Config, logger *zap.SugaredLogger) *Factory {
	f := &Factory{
		useRedis: cfg.Redis.Enabled,
		logger:   logger,
	}

	if cfg.Redis.Enabled {
		client, err := redisprefs.NewClient(ctx, redisprefs.ClientOptions{
			Address:   cfg.Redis.Address,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			PoolSize:  cfg.Redis.PoolSize,
			KeyPrefix: cfg.Redis.KeyPrefix,
		}, retryCfg, logger)
		if err != nil {
			logger.Warnw("failed to connect to Redis, falling back to memory preferences",
				"error", err,
			)
			f.useRedis = false
		} else {
			f.redisClient = client
			f.store = redisprefs.NewStore(client, cfg.Redis.KeyPrefix, readCacheTTL, logger)
			logger.Info("using Redis preferences")
		}
	}

	if !f.useRedis {
		f.store = memory.NewStore()
		logger.Info("using memory preferences")
	}

	return f
}

// Store returns the selected backend.
func (f *Factory) Store() ports.PreferenceStore {
	return f.store
}

// RedisClient is nil when preferences live in memory.
func (f *Factory) RedisClient() *redis.Client {
	return f.redisClient
}

// MemoryStore is nil when preferences live in Redis.
func (f *Factory) MemoryStore() *memory.Store {
	s, _ := f.store.(*memory.Store)
	return s
}

func (f *Factory) IsUsingRedis() bool {
	return f.useRedis && f.redisClient != nil
}

func (f *Factory) HealthCheck(ctx context.Context) error {
	return f.store.Ping(ctx)
}

func (f *Factory) Close() error {
	if s, ok := f.store.(*redisprefs.Store); ok {
		s.Close()
	}
	if f.redisClient != nil {
		return f.redisClient.Close()
	}
	return nil
}
