package services

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"livecast/internal/core/domain"
	"livecast/internal/core/ports"
	"livecast/pkg/utils"

	"go.uber.org/zap"
)

type trackedStats struct {
	name  string
	state atomic.Int32
	last  atomic.Pointer[domain.ConnectionStatistics]
}

// StatisticsCollector samples per-connection transport counters on a fixed
// tick and publishes a status update for the UI after every pass.
type StatisticsCollector struct {
	source   ports.StatsSource
	sink     ports.StatusSink
	metrics  ports.MetricsRecorder
	logger   *zap.SugaredLogger
	interval time.Duration
	now      func() time.Time

	conns   sync.Map // domain.ConnectionID -> *trackedStats
	session atomic.Pointer[domain.BroadcastSession]

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewStatisticsCollector(
	source ports.StatsSource,
	sink ports.StatusSink,
	metrics ports.MetricsRecorder,
	interval time.Duration,
	logger *zap.SugaredLogger,
) *StatisticsCollector {
	if interval <= 0 {
		interval = time.Second
	}
	return &StatisticsCollector{
		source:   source,
		sink:     sinkOrNoop(sink),
		metrics:  metricsOrNoop(metrics),
		logger:   loggerOrNop(logger),
		interval: interval,
		now:      time.Now,
	}
}

// Track allocates statistics for a newly registered connection.
func (s *StatisticsCollector) Track(id domain.ConnectionID, name string) {
	t := &trackedStats{name: name}
	t.state.Store(int32(domain.StateInitialized))
	t.last.Store(&domain.ConnectionStatistics{ConnectionID: id, Name: name, UpdatedAt: s.now()})
	s.conns.Store(id, t)
}

// MarkState records the latest connection state. Counters are only read
// while a connection is in RECORD.
func (s *StatisticsCollector) MarkState(id domain.ConnectionID, state domain.ConnectionState) {
	if v, ok := s.conns.Load(id); ok {
		v.(*trackedStats).state.Store(int32(state))
	}
}

// Remove drops the statistics of a released connection. Idempotent.
func (s *StatisticsCollector) Remove(id domain.ConnectionID) {
	if _, loaded := s.conns.LoadAndDelete(id); loaded {
		s.metrics.ConnectionStatsRemoved(id)
	}
}

// Snapshot returns the latest statistics of one connection.
func (s *StatisticsCollector) Snapshot(id domain.ConnectionID) (domain.ConnectionStatistics, bool) {
	v, ok := s.conns.Load(id)
	if !ok {
		return domain.ConnectionStatistics{}, false
	}
	return *v.(*trackedStats).last.Load(), true
}

// Refresh reads the engine counters for every connection in RECORD.
func (s *StatisticsCollector) Refresh() {
	now := s.now()
	s.conns.Range(func(key, value interface{}) bool {
		id := key.(domain.ConnectionID)
		t := value.(*trackedStats)
		if domain.ConnectionState(t.state.Load()) != domain.StateRecord {
			return true
		}

		var st domain.ConnectionStatistics
		err := guardEngine(s.logger, "read counters", func() error {
			st = domain.ConnectionStatistics{
				ConnectionID:         id,
				Name:                 t.name,
				Bandwidth:            s.source.Bandwidth(id),
				Traffic:              s.source.Traffic(id),
				PacketLossIncreasing: s.source.IsPacketLossIncreasing(id),
				UpdatedAt:            now,
			}
			return nil
		})
		if err != nil {
			return true
		}

		// Skip the store if the connection was removed while we were reading.
		if cur, ok := s.conns.Load(id); ok && cur == t {
			t.last.Store(&st)
			s.metrics.ConnectionStats(st)
		}
		return true
	})
}

// Lines returns one display line per tracked connection, ordered by id.
func (s *StatisticsCollector) Lines() []domain.ConnectionStatusLine {
	var lines []domain.ConnectionStatusLine
	s.conns.Range(func(key, value interface{}) bool {
		t := value.(*trackedStats)
		st := t.last.Load()
		lines = append(lines, domain.ConnectionStatusLine{
			ConnectionID:   key.(domain.ConnectionID),
			Name:           t.name,
			State:          domain.ConnectionState(t.state.Load()).String(),
			Bandwidth:      utils.FormatBandwidth(st.Bandwidth),
			Traffic:        utils.FormatTraffic(st.Traffic),
			LossIncreasing: st.PacketLossIncreasing,
		})
		return true
	})
	sort.Slice(lines, func(i, j int) bool { return lines[i].ConnectionID < lines[j].ConnectionID })
	return lines
}

// Tick runs one refresh and publishes the resulting status.
func (s *StatisticsCollector) Tick() domain.StatusUpdate {
	s.Refresh()

	now := s.now()
	update := domain.StatusUpdate{
		Connections: s.Lines(),
		At:          now,
	}
	if sess := s.session.Load(); sess != nil {
		update.SessionID = sess.ID
		update.Elapsed = now.Sub(sess.StartedAt)
	}
	update.ElapsedText = utils.FormatElapsed(update.Elapsed)

	s.sink.PublishStatus(update)
	return update
}

// Start begins the periodic tick for a session. A running tick is restarted.
func (s *StatisticsCollector) Start(session domain.BroadcastSession) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	s.stopLocked()
	s.session.Store(&session)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done

	go s.loop(ctx, done)
	s.logger.Infow("statistics collection started", "session_id", session.ID, "interval", s.interval)
}

// Stop halts the tick and waits for it to exit. Safe to call when stopped.
func (s *StatisticsCollector) Stop() {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.stopLocked() {
		s.logger.Infow("statistics collection stopped")
	}
}

func (s *StatisticsCollector) stopLocked() bool {
	if s.cancel == nil {
		return false
	}
	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil
	s.session.Store(nil)
	return true
}

func (s *StatisticsCollector) Running() bool {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	return s.cancel != nil
}

func (s *StatisticsCollector) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick()
		}
	}
}
