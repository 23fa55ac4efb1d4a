package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"livecast/internal/core/domain"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const currentSchemaVersion = 1

// Migration upgrades the preference hash in place.
type Migration struct {
	Version int
	Up      func(ctx context.Context, client redis.UniversalClient, hashKey string) error
}

// Migrate runs every migration newer than the stored schema version.
func Migrate(ctx context.Context, client redis.UniversalClient, prefix string, logger *zap.SugaredLogger) error {
	versionKey := prefix + "schema:version"
	hashKey := HashKey(prefix)

	currentVersion, err := getSchemaVersion(ctx, client, versionKey)
	if err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}
	if currentVersion >= currentSchemaVersion {
		if logger != nil {
			logger.Debugw("preference schema is up to date", "version", currentVersion)
		}
		return nil
	}

	for _, m := range migrations() {
		if m.Version <= currentVersion {
			continue
		}
		if logger != nil {
			logger.Infow("running preference migration", "version", m.Version)
		}
		if err := m.Up(ctx, client, hashKey); err != nil {
			return fmt.Errorf("migration %d failed: %w", m.Version, err)
		}
		if err := client.Set(ctx, versionKey, m.Version, 0).Err(); err != nil {
			return fmt.Errorf("failed to update schema version: %w", err)
		}
	}
	return nil
}

func getSchemaVersion(ctx context.Context, client redis.UniversalClient, key string) (int, error) {
	val, err := client.Get(ctx, key).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return val, nil
}

func migrations() []Migration {
	return []Migration{
		{
			// Resolution preferences used to hold the "WxH" size itself.
			Version: 1,
			Up: func(ctx context.Context, client redis.UniversalClient, hashKey string) error {
				for _, field := range []string{"stream_resolution_index", "record_resolution_index"} {
					raw, err := client.HGet(ctx, hashKey, field).Result()
					if errors.Is(err, redis.Nil) {
						continue
					}
					if err != nil {
						return err
					}
					index, ok := legacyResolution(raw)
					if !ok {
						continue
					}
					if err := client.HSet(ctx, hashKey, field, index).Err(); err != nil {
						return err
					}
				}
				return nil
			},
		},
	}
}

// legacyResolution maps a stored "WxH" value to its resolution index. Values
// that are already integers are left alone.
func legacyResolution(raw string) (int, bool) {
	if _, err := strconv.Atoi(raw); err == nil {
		return 0, false
	}
	return domain.ResolutionIndex(raw)
}
