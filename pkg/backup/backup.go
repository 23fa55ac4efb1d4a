package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"
)

const (
	namePrefix = "settings-"
	nameSuffix = ".json"
	timeLayout = "20060102-150405.000"
)

// ErrNoSnapshots is returned by Latest when storage holds nothing to restore.
var ErrNoSnapshots = errors.New("no snapshots available")

// Setting is one typed preference value.
type Setting struct {
	Key   string      `json:"key"`
	Kind  string      `json:"kind"`
	Value interface{} `json:"value"`
}

// Snapshot is the persisted form of the settings store.
type Snapshot struct {
	Version   string            `json:"version"`
	Timestamp time.Time         `json:"timestamp"`
	Settings  []Setting         `json:"settings"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Storage defines where snapshots are kept.
type Storage interface {
	Save(ctx context.Context, name string, data io.Reader) error
	Load(ctx context.Context, name string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, name string) error
}

type Service struct {
	storage Storage
	version string
	now     func() time.Time
}

func NewService(storage Storage, version string) *Service {
	return &Service{
		storage: storage,
		version: version,
		now:     time.Now,
	}
}

// Create stamps and stores snap, returning its name.
func (s *Service) Create(ctx context.Context, snap *Snapshot) (string, error) {
	snap.Version = s.version
	snap.Timestamp = s.now().UTC()

	data, err := json.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	name := namePrefix + snap.Timestamp.Format(timeLayout) + nameSuffix
	if err := s.storage.Save(ctx, name, bytes.NewReader(data)); err != nil {
		return "", fmt.Errorf("failed to save snapshot: %w", err)
	}
	return name, nil
}

func (s *Service) Load(ctx context.Context, name string) (*Snapshot, error) {
	r, err := s.storage.Load(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}
	defer r.Close()

	var snap Snapshot
	if err := json.NewDecoder(r).Decode(&snap); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot %s: %w", name, err)
	}
	if snap.Version == "" {
		return nil, fmt.Errorf("invalid snapshot %s: missing version", name)
	}
	return &snap, nil
}

// List returns snapshot names, oldest first.
func (s *Service) List(ctx context.Context) ([]string, error) {
	names, err := s.storage.List(ctx, namePrefix)
	if err != nil {
		return nil, err
	}
	names = slices.DeleteFunc(names, func(n string) bool { return !strings.HasSuffix(n, nameSuffix) })
	slices.Sort(names)
	return names, nil
}

// Latest loads the newest snapshot.
func (s *Service) Latest(ctx context.Context) (*Snapshot, string, error) {
	names, err := s.List(ctx)
	if err != nil {
		return nil, "", err
	}
	if len(names) == 0 {
		return nil, "", ErrNoSnapshots
	}
	name := names[len(names)-1]
	snap, err := s.Load(ctx, name)
	return snap, name, err
}

func (s *Service) Delete(ctx context.Context, name string) error {
	return s.storage.Delete(ctx, name)
}

// Prune keeps the newest keep snapshots and deletes the rest.
func (s *Service) Prune(ctx context.Context, keep int) (int, error) {
	names, err := s.List(ctx)
	if err != nil {
		return 0, err
	}
	if keep < 1 {
		keep = 1
	}
	removed := 0
	for _, name := range names[:max(len(names)-keep, 0)] {
		if err := s.storage.Delete(ctx, name); err != nil {
			return removed, fmt.Errorf("failed to delete snapshot %s: %w", name, err)
		}
		removed++
	}
	return removed, nil
}
