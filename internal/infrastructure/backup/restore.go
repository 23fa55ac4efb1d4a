package backup

import (
	"context"
	"errors"
	"fmt"

	"livecast/internal/core/ports"
	"livecast/pkg/backup"
)

const (
	kindString = "string"
	kindInt    = "int"
	kindBool   = "bool"
	kindFloat  = "float"
)

// RestoreLatest loads the newest snapshot into store. It returns the name of
// the snapshot applied, or "" when there is none.
func RestoreLatest(ctx context.Context, service *backup.Service, store ports.PreferenceStore) (string, int, error) {
	snap, name, err := service.Latest(ctx)
	if errors.Is(err, backup.ErrNoSnapshots) {
		return "", 0, nil
	}
	if err != nil {
		return "", 0, err
	}

	restored := 0
	for _, setting := range snap.Settings {
		if err := apply(ctx, store, setting); err != nil {
			return name, restored, fmt.Errorf("snapshot %s: %w", name, err)
		}
		restored++
	}
	return name, restored, nil
}

// apply writes one setting back with its original type. JSON decodes every
// number as float64, so ints are narrowed here.
func apply(ctx context.Context, store ports.PreferenceStore, s backup.Setting) error {
	switch s.Kind {
	case kindString:
		v, ok := s.Value.(string)
		if !ok {
			return mismatch(s)
		}
		return store.SetString(ctx, s.Key, v)
	case kindInt:
		v, ok := s.Value.(float64)
		if !ok || v != float64(int(v)) {
			return mismatch(s)
		}
		return store.SetInt(ctx, s.Key, int(v))
	case kindBool:
		v, ok := s.Value.(bool)
		if !ok {
			return mismatch(s)
		}
		return store.SetBool(ctx, s.Key, v)
	case kindFloat:
		v, ok := s.Value.(float64)
		if !ok {
			return mismatch(s)
		}
		return store.SetFloat(ctx, s.Key, v)
	default:
		return fmt.Errorf("setting %q has unknown kind %q", s.Key, s.Kind)
	}
}

func mismatch(s backup.Setting) error {
	return fmt.Errorf("setting %q: %T is not a valid %s", s.Key, s.Value, s.Kind)
}
