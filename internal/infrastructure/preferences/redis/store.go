package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"livecast/internal/core/ports"
	"livecast/pkg/cache"
	"livecast/pkg/circuitbreaker"
	"livecast/pkg/tracing"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// HashKey is the hash holding every preference under prefix.
func HashKey(prefix string) string {
	return prefix + "prefs"
}

// Store persists preferences as fields of a single Redis hash. Values are
// stored in their string form and parsed on read. Reads go through a small
// TTL cache and every round trip is guarded by a circuit breaker.
type Store struct {
	client  redis.UniversalClient
	hashKey string
	breaker *circuitbreaker.CircuitBreaker
	cache   *cache.Cache[string]
	logger  *zap.SugaredLogger
}

type lookup struct {
	value string
	found bool
}

func NewStore(client redis.UniversalClient, prefix string, cacheTTL time.Duration, logger *zap.SugaredLogger) *Store {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	cbCfg := circuitbreaker.DefaultConfig()
	cbCfg.Name = "preferences"
	cbCfg.Timeout = 10 * time.Second

	return &Store{
		client:  client,
		hashKey: HashKey(prefix),
		breaker: circuitbreaker.New(cbCfg, circuitbreaker.OnStateChange(func(name string, from, to circuitbreaker.State) {
			logger.Warnw("preference store circuit changed state",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		})),
		cache:  cache.New[string](cacheTTL, 0),
		logger: logger,
	}
}

var _ ports.PreferenceStore = (*Store)(nil)

func (s *Store) GetString(ctx context.Context, key string) (string, bool, error) {
	return s.get(ctx, key)
}

func (s *Store) SetString(ctx context.Context, key, value string) error {
	return s.set(ctx, key, value)
}

func (s *Store) GetInt(ctx context.Context, key string) (int, bool, error) {
	return parsed(s, ctx, key, strconv.Atoi)
}

func (s *Store) SetInt(ctx context.Context, key string, value int) error {
	return s.set(ctx, key, strconv.Itoa(value))
}

func (s *Store) GetBool(ctx context.Context, key string) (bool, bool, error) {
	return parsed(s, ctx, key, strconv.ParseBool)
}

func (s *Store) SetBool(ctx context.Context, key string, value bool) error {
	return s.set(ctx, key, strconv.FormatBool(value))
}

func (s *Store) GetFloat(ctx context.Context, key string) (float64, bool, error) {
	return parsed(s, ctx, key, func(raw string) (float64, error) {
		return strconv.ParseFloat(raw, 64)
	})
}

func (s *Store) SetFloat(ctx context.Context, key string, value float64) error {
	return s.set(ctx, key, strconv.FormatFloat(value, 'f', -1, 64))
}

func (s *Store) Ping(ctx context.Context) error {
	return s.breaker.Execute(ctx, func() error {
		return s.client.Ping(ctx).Err()
	})
}

// Close stops the read cache. The client belongs to the caller.
func (s *Store) Close() {
	s.cache.Stop()
}

func (s *Store) get(ctx context.Context, key string) (string, bool, error) {
	if v, ok := s.cache.Get(key); ok {
		return v, true, nil
	}

	ctx, span := tracing.TracePreferenceOperation(ctx, "get", key)
	defer span.End()

	res, err := circuitbreaker.Call(ctx, s.breaker, func() (lookup, error) {
		v, err := s.client.HGet(ctx, s.hashKey, key).Result()
		if errors.Is(err, redis.Nil) {
			return lookup{}, nil
		}
		if err != nil {
			return lookup{}, err
		}
		return lookup{value: v, found: true}, nil
	})
	if err != nil {
		tracing.RecordError(ctx, err)
		return "", false, fmt.Errorf("failed to read preference %q: %w", key, err)
	}
	if res.found {
		s.cache.Set(key, res.value)
	}
	return res.value, res.found, nil
}

func (s *Store) set(ctx context.Context, key, value string) error {
	ctx, span := tracing.TracePreferenceOperation(ctx, "set", key)
	defer span.End()

	err := s.breaker.Execute(ctx, func() error {
		return s.client.HSet(ctx, s.hashKey, key, value).Err()
	})
	if err != nil {
		s.cache.Delete(key)
		tracing.RecordError(ctx, err)
		return fmt.Errorf("failed to write preference %q: %w", key, err)
	}
	s.cache.Set(key, value)
	return nil
}

func parsed[T any](s *Store, ctx context.Context, key string, parse func(string) (T, error)) (T, bool, error) {
	var zero T
	raw, ok, err := s.get(ctx, key)
	if err != nil || !ok {
		return zero, false, err
	}
	v, err := parse(raw)
	if err != nil {
		return zero, false, fmt.Errorf("preference %q: %w", key, err)
	}
	return v, true, nil
}
