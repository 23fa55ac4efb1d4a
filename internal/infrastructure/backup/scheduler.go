package backup

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"livecast/pkg/backup"

	"go.uber.org/zap"
)

// SettingsSource exposes the current settings. The in-memory preference
// store implements it.
type SettingsSource interface {
	Snapshot() map[string]any
}

type Config struct {
	Interval time.Duration
	Retain   int
}

// Scheduler writes a settings snapshot on every interval when the settings
// changed since the last one, and a final one when its context ends.
type Scheduler struct {
	service *backup.Service
	source  SettingsSource
	cfg     Config
	logger  *zap.SugaredLogger

	mu   sync.Mutex
	last map[string]any
}

func NewScheduler(service *backup.Service, source SettingsSource, cfg Config, logger *zap.SugaredLogger) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Retain < 1 {
		cfg.Retain = 5
	}
	return &Scheduler{
		service: service,
		source:  source,
		cfg:     cfg,
		logger:  logger,
	}
}

// Start blocks until ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.run(ctx)
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			s.run(final)
			cancel()
			return
		}
	}
}

func (s *Scheduler) run(ctx context.Context) {
	name, written, err := s.RunOnce(ctx)
	if err != nil {
		s.logger.Errorw("failed to write settings snapshot", "error", err)
		return
	}
	if !written {
		return
	}
	s.logger.Infow("settings snapshot written", "snapshot", name)

	if removed, err := s.service.Prune(ctx, s.cfg.Retain); err != nil {
		s.logger.Warnw("failed to prune settings snapshots", "error", err)
	} else if removed > 0 {
		s.logger.Debugw("pruned settings snapshots", "removed", removed)
	}
}

// RunOnce writes a snapshot unless nothing changed since the previous one.
func (s *Scheduler) RunOnce(ctx context.Context) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.source.Snapshot()
	if s.last != nil && maps.Equal(current, s.last) {
		return "", false, nil
	}

	settings, err := toSettings(current)
	if err != nil {
		return "", false, err
	}
	name, err := s.service.Create(ctx, &backup.Snapshot{
		Settings: settings,
		Metadata: map[string]string{"trigger": "scheduled"},
	})
	if err != nil {
		return "", false, err
	}
	s.last = current
	return name, true, nil
}

// Seed marks values as already persisted, typically right after a restore.
func (s *Scheduler) Seed(values map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = maps.Clone(values)
}

func toSettings(values map[string]any) ([]backup.Setting, error) {
	keys := slices.Sorted(maps.Keys(values))
	out := make([]backup.Setting, 0, len(keys))
	for _, key := range keys {
		kind, err := kindOf(values[key])
		if err != nil {
			return nil, fmt.Errorf("setting %q: %w", key, err)
		}
		out = append(out, backup.Setting{Key: key, Kind: kind, Value: values[key]})
	}
	return out, nil
}

func kindOf(v any) (string, error) {
	switch v.(type) {
	case string:
		return kindString, nil
	case int:
		return kindInt, nil
	case bool:
		return kindBool, nil
	case float64:
		return kindFloat, nil
	default:
		return "", fmt.Errorf("unsupported value type %T", v)
	}
}
