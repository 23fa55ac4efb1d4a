package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"livecast/internal/core/domain"
	"livecast/internal/core/ports"
	"livecast/pkg/tracing"

	"go.uber.org/zap"
)

type QualityConfig struct {
	Enabled          bool
	TargetFPS        float64
	AnalysisInterval time.Duration
	Hysteresis       time.Duration
	HistorySize      int
	TrendWindow      int
	Initial          domain.EncoderSettings
}

func DefaultQualityConfig() QualityConfig {
	return QualityConfig{
		Enabled:          true,
		TargetFPS:        30,
		AnalysisInterval: 5 * time.Second,
		Hysteresis:       2 * time.Second,
		HistorySize:      100,
		TrendWindow:      30,
		Initial:          domain.EncoderSettings{Bitrate: 2_500_000, Width: 1280, Height: 720, FPS: 30},
	}
}

// SettingsApplier is the part of ConfigApplier the controller needs.
type SettingsApplier interface {
	ApplyChange(ctx context.Context, key string, value interface{}, reason string) (domain.ConfigurationChange, error)
}

// QualityStats is a diagnostic snapshot of the controller.
type QualityStats struct {
	Running      bool                    `json:"running"`
	Successes    int64                   `json:"successes"`
	Failures     int64                   `json:"failures"`
	SuccessRatio float64                 `json:"success_ratio"`
	HistorySize  int                     `json:"history_size"`
	Current      domain.EncoderSettings  `json:"current"`
	LastDecision *domain.QualityDecision `json:"last_decision,omitempty"`
	Tracked      []domain.ConnectionID   `json:"tracked_connections"`
}

// QualityController scores performance samples, detects the trend and
// pushes encoder adjustments through the ConfigApplier.
type QualityController struct {
	cfg     QualityConfig
	sampler *PerformanceSampler
	applier SettingsApplier
	metrics ports.MetricsRecorder
	logger  *zap.SugaredLogger
	now     func() time.Time

	// analysis state, owned by whoever holds mu
	mu         sync.Mutex
	history    []domain.PerformanceSample
	current    domain.EncoderSettings
	lastAdjust time.Time
	drops      int64

	currentView  atomic.Pointer[domain.EncoderSettings]
	lastDecision atomic.Pointer[domain.QualityDecision]
	historyLen   atomic.Int64
	successes    atomic.Int64
	failures     atomic.Int64
	tracked      sync.Map // domain.ConnectionID -> string

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewQualityController(
	cfg QualityConfig,
	sampler *PerformanceSampler,
	applier SettingsApplier,
	metrics ports.MetricsRecorder,
	logger *zap.SugaredLogger,
) *QualityController {
	def := DefaultQualityConfig()
	if cfg.TargetFPS <= 0 {
		cfg.TargetFPS = def.TargetFPS
	}
	if cfg.AnalysisInterval <= 0 {
		cfg.AnalysisInterval = def.AnalysisInterval
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = def.HistorySize
	}
	if cfg.TrendWindow <= 0 {
		cfg.TrendWindow = def.TrendWindow
	}
	if cfg.Initial == (domain.EncoderSettings{}) {
		cfg.Initial = def.Initial
	}

	q := &QualityController{
		cfg:     cfg,
		sampler: sampler,
		applier: applier,
		metrics: metricsOrNoop(metrics),
		logger:  loggerOrNop(logger),
		now:     time.Now,
		history: make([]domain.PerformanceSample, 0, cfg.HistorySize),
		current: ClampSettings(cfg.Initial),
	}
	q.publishCurrent()
	return q
}

// TrackConnection adds a connection to the set the controller is tuning for.
func (q *QualityController) TrackConnection(id domain.ConnectionID, name string) {
	q.tracked.Store(id, name)
}

// UntrackConnection is idempotent.
func (q *QualityController) UntrackConnection(id domain.ConnectionID) {
	q.tracked.Delete(id)
}

// Start launches the analysis loop. It runs on every delivered frame and on
// the analysis interval. No-op when disabled or already running.
func (q *QualityController) Start() {
	if !q.cfg.Enabled {
		return
	}
	q.runMu.Lock()
	defer q.runMu.Unlock()
	if q.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	q.cancel = cancel
	q.done = make(chan struct{})
	go q.loop(ctx, q.done)
	q.logger.Infow("quality controller started",
		"target_fps", q.cfg.TargetFPS,
		"interval", q.cfg.AnalysisInterval,
		"hysteresis", q.cfg.Hysteresis,
	)
}

// Stop halts analysis, waits for the loop to exit and clears the sample
// history so a new session starts fresh.
func (q *QualityController) Stop() {
	q.runMu.Lock()
	if q.cancel != nil {
		q.cancel()
		<-q.done
		q.cancel = nil
		q.done = nil
		q.logger.Infow("quality controller stopped",
			"successes", q.successes.Load(),
			"failures", q.failures.Load(),
		)
	}
	q.runMu.Unlock()

	q.mu.Lock()
	q.history = q.history[:0]
	q.lastAdjust = time.Time{}
	q.historyLen.Store(0)
	q.mu.Unlock()

	if q.sampler != nil {
		q.sampler.Reset()
	}
	q.tracked.Range(func(key, _ interface{}) bool {
		q.tracked.Delete(key)
		return true
	})
}

func (q *QualityController) Running() bool {
	q.runMu.Lock()
	defer q.runMu.Unlock()
	return q.cancel != nil
}

func (q *QualityController) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(q.cfg.AnalysisInterval)
	defer ticker.Stop()

	var notify <-chan struct{}
	if q.sampler != nil {
		notify = q.sampler.Notify()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.Analyze(ctx)
		case <-notify:
			q.Analyze(ctx)
		}
	}
}

// Ingest appends samples to the bounded history, scoring each one.
func (q *QualityController) Ingest(samples ...domain.PerformanceSample) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ingestLocked(samples)
}

func (q *QualityController) ingestLocked(samples []domain.PerformanceSample) {
	for _, s := range samples {
		s.Score = ScoreSample(s, q.cfg.TargetFPS)
		if len(q.history) == q.cfg.HistorySize {
			copy(q.history, q.history[1:])
			q.history = q.history[:len(q.history)-1]
		}
		q.history = append(q.history, s)
	}
	q.historyLen.Store(int64(len(q.history)))
}

// Analyze drains pending samples and runs one evaluation cycle. ok is false
// when there is no history to evaluate.
func (q *QualityController) Analyze(ctx context.Context) (domain.QualityDecision, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.sampler != nil {
		if dropped := q.sampler.Dropped(); dropped > q.drops {
			q.metrics.SamplesDropped(int(dropped - q.drops))
			q.drops = dropped
		}
		q.ingestLocked(q.sampler.Drain())
	}
	if len(q.history) == 0 {
		return domain.QualityDecision{}, false
	}

	scores := make([]float64, len(q.history))
	for i, s := range q.history {
		scores[i] = s.Score
	}

	now := q.now()
	sinceLast := time.Duration(-1)
	if !q.lastAdjust.IsZero() {
		sinceLast = now.Sub(q.lastAdjust)
	}

	decision := Decide(scores, q.current, q.cfg.TrendWindow, sinceLast, q.cfg.Hysteresis, now)
	q.metrics.QualityDecision(decision)
	q.lastDecision.Store(&decision)

	if decision.ShouldAdjust {
		if q.applyLocked(ctx, decision) > 0 {
			q.lastAdjust = now
		}
	}
	return decision, true
}

type settingPush struct {
	field string
	key   string
	value interface{}
	set   func(*domain.EncoderSettings)
}

// applyLocked pushes only the fields that differ and returns how many were
// accepted.
func (q *QualityController) applyLocked(ctx context.Context, d domain.QualityDecision) int {
	if q.applier == nil {
		return 0
	}
	target := d.Target
	var pushes []settingPush
	if target.Bitrate != q.current.Bitrate {
		pushes = append(pushes, settingPush{"bitrate", KeyVideoBitrate, target.Bitrate,
			func(s *domain.EncoderSettings) { s.Bitrate = target.Bitrate }})
	}
	if target.Width != q.current.Width || target.Height != q.current.Height {
		pushes = append(pushes, settingPush{"resolution", KeyVideoSize, fmt.Sprintf("%dx%d", target.Width, target.Height),
			func(s *domain.EncoderSettings) { s.Width, s.Height = target.Width, target.Height }})
	}
	if target.FPS != q.current.FPS {
		pushes = append(pushes, settingPush{"fps", KeyVideoFPS, target.FPS,
			func(s *domain.EncoderSettings) { s.FPS = target.FPS }})
	}
	if len(pushes) == 0 {
		return 0
	}

	ctx, span := tracing.TraceQualityAdjustment(ctx, d.Adjustment.String(), d.Score, d.Trend.String())
	defer span.End()

	reason := fmt.Sprintf("quality %s: score %.1f, predicted %.1f, trend %s",
		d.Adjustment, d.Score, d.PredictedScore, d.Trend)

	applied := 0
	for _, p := range pushes {
		if _, err := q.applier.ApplyChange(ctx, p.key, p.value, reason); err != nil {
			q.failures.Add(1)
			q.metrics.AdjustmentApplied(p.field, false)
			tracing.RecordError(ctx, err)
			q.logger.Warnw("quality adjustment rejected",
				"field", p.field,
				"value", p.value,
				"error", err,
			)
			continue
		}
		p.set(&q.current)
		q.successes.Add(1)
		q.metrics.AdjustmentApplied(p.field, true)
		applied++
	}
	q.publishCurrent()

	q.logger.Infow("quality adjustment applied",
		"adjustment", d.Adjustment.String(),
		"score", d.Score,
		"predicted", d.PredictedScore,
		"trend", d.Trend.String(),
		"applied", applied,
		"requested", len(pushes),
		"bitrate", q.current.Bitrate,
		"width", q.current.Width,
		"height", q.current.Height,
		"fps", q.current.FPS,
	)
	return applied
}

// ObserveChange keeps the controller's view of the encoder in sync with
// settings changed outside the controller.
func (q *QualityController) ObserveChange(change domain.ConfigurationChange) {
	q.mu.Lock()
	defer q.mu.Unlock()

	switch change.Key {
	case KeyVideoBitrate:
		if v, ok := change.NewValue.(int); ok {
			q.current.Bitrate = v
		}
	case KeyVideoFPS:
		if v, ok := change.NewValue.(int); ok {
			q.current.FPS = v
		}
	case KeyVideoSize:
		if v, ok := change.NewValue.(string); ok {
			var w, h int
			if _, err := fmt.Sscanf(v, "%dx%d", &w, &h); err == nil {
				q.current.Width, q.current.Height = w, h
			}
		}
	case KeyStreamResolutionIndex:
		if idx, ok := change.NewValue.(int); ok {
			if size, err := domain.ResolutionAt(idx); err == nil {
				var w, h int
				if _, err := fmt.Sscanf(size, "%dx%d", &w, &h); err == nil {
					q.current.Width, q.current.Height = w, h
				}
			}
		}
	default:
		return
	}
	// Kept as the encoder runs it; only decision targets are clamped.
	q.publishCurrent()
}

func (q *QualityController) publishCurrent() {
	cur := q.current
	q.currentView.Store(&cur)
}

// Current returns the encoder settings the controller believes are active.
func (q *QualityController) Current() domain.EncoderSettings {
	return *q.currentView.Load()
}

func (q *QualityController) Stats() QualityStats {
	st := QualityStats{
		Running:      q.Running(),
		Successes:    q.successes.Load(),
		Failures:     q.failures.Load(),
		HistorySize:  int(q.historyLen.Load()),
		Current:      q.Current(),
		LastDecision: q.lastDecision.Load(),
	}
	if total := st.Successes + st.Failures; total > 0 {
		st.SuccessRatio = float64(st.Successes) / float64(total)
	}
	q.tracked.Range(func(key, _ interface{}) bool {
		st.Tracked = append(st.Tracked, key.(domain.ConnectionID))
		return true
	})
	sort.Slice(st.Tracked, func(i, j int) bool { return st.Tracked[i] < st.Tracked[j] })
	return st
}
