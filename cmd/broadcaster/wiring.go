package main

import (
	"context"

	"livecast/internal/core/ports"
	"livecast/internal/infrastructure/backup"
	"livecast/internal/infrastructure/distributed"
	"livecast/internal/infrastructure/preferences/memory"
	snapshots "livecast/pkg/backup"
	"livecast/pkg/config"
	redislease "livecast/pkg/distributed"

	"go.uber.org/zap"
)

// statusSinkOrNil keeps a nil *EventBus from becoming a non-nil interface.
func statusSinkOrNil(bus *distributed.EventBus) ports.StatusSink {
	if bus == nil {
		return nil
	}
	return bus
}

// startSnapshots restores the newest settings snapshot into store and starts
// the periodic writer. The returned channel closes once the final snapshot is
// written after ctx ends.
func startSnapshots(ctx context.Context, cfg *config.Config, store *memory.Store, log *zap.SugaredLogger) (<-chan struct{}, error) {
	storage, err := snapshots.NewFileStorage(cfg.Snapshots.Directory)
	if err != nil {
		return nil, err
	}
	service := snapshots.NewService(storage, "1")

	name, restored, err := backup.RestoreLatest(ctx, service, store)
	if err != nil {
		log.Warnw("failed to restore settings snapshot", "snapshot", name, "error", err)
	} else if name != "" {
		log.Infow("restored settings snapshot", "snapshot", name, "settings", restored)
	}

	scheduler := backup.NewScheduler(service, store, backup.Config{
		Interval: cfg.Snapshots.Interval,
		Retain:   cfg.Snapshots.Retain,
	}, log)
	scheduler.Seed(store.Snapshot())

	done := make(chan struct{})
	go func() {
		defer close(done)
		scheduler.Start(ctx)
	}()
	return done, nil
}

func leaseOrNil(lease *redislease.Lease) ports.PublisherLease {
	if lease == nil {
		return nil
	}
	return lease
}
