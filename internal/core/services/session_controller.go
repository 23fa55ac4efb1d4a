package services

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"livecast/internal/core/domain"
	"livecast/internal/core/ports"
	apperrors "livecast/pkg/errors"
	"livecast/pkg/logger"
	"livecast/pkg/tracing"
	"livecast/pkg/utils"
	"livecast/pkg/validation"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// SessionStatus is the read-only view served to the control API.
type SessionStatus struct {
	Broadcasting   bool                          `json:"broadcasting"`
	Session        *domain.BroadcastSession      `json:"session,omitempty"`
	Elapsed        string                        `json:"elapsed"`
	Muted          bool                          `json:"muted"`
	CaptureReady   bool                          `json:"capture_ready"`
	PendingRetries int64                         `json:"pending_retries"`
	Connections    []domain.ConnectionStatusLine `json:"connections"`
	Quality        QualityStats                  `json:"quality"`
}

// SessionController composes the lifecycle manager, statistics collector and
// quality controller into one broadcast start/stop surface.
type SessionController struct {
	engine  ports.CaptureControl
	network ports.NetworkMonitor
	manager *ConnectionManager
	stats   *StatisticsCollector
	quality *QualityController
	sampler *PerformanceSampler
	applier *ConfigApplier
	lease   ports.PublisherLease
	logger  *zap.SugaredLogger
	now     func() time.Time

	requireNetwork bool
	targets        []domain.Connection

	mu      sync.Mutex
	session atomic.Pointer[domain.BroadcastSession]
	muted   atomic.Bool
}

type SessionDeps struct {
	Engine         ports.CaptureControl
	Network        ports.NetworkMonitor
	Manager        *ConnectionManager
	Stats          *StatisticsCollector
	Quality        *QualityController
	Sampler        *PerformanceSampler
	Applier        *ConfigApplier
	Lease          ports.PublisherLease // optional
	Logger         *zap.SugaredLogger
	Targets        []domain.Connection
	RequireNetwork bool
}

func NewSessionController(deps SessionDeps) *SessionController {
	s := &SessionController{
		engine:         deps.Engine,
		network:        deps.Network,
		manager:        deps.Manager,
		stats:          deps.Stats,
		quality:        deps.Quality,
		sampler:        deps.Sampler,
		applier:        deps.Applier,
		lease:          deps.Lease,
		logger:         loggerOrNop(deps.Logger),
		now:            time.Now,
		requireNetwork: deps.RequireNetwork,
		targets:        deps.Targets,
	}
	// Runs under the manager's lock: must not call back into the manager.
	s.manager.OnTeardown(s.onTeardown)
	return s
}

// Start begins a broadcast to the configured targets, or to targets when
// given. It fails without side effects when a precondition does not hold.
func (s *SessionController) Start(ctx context.Context, targets ...domain.Connection) (domain.BroadcastSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(targets) == 0 {
		targets = s.targets
	}
	if s.requireNetwork && s.network != nil && !s.network.IsConnected() {
		return domain.BroadcastSession{}, apperrors.NewPreconditionError("network is not available", domain.ErrNetworkUnavailable)
	}
	if len(targets) == 0 {
		return domain.BroadcastSession{}, apperrors.NewConfigurationError("no connections configured", domain.ErrEmptyTargetList)
	}
	if !s.manager.CaptureReady() {
		return domain.BroadcastSession{}, apperrors.NewPreconditionError("capture is not ready", domain.ErrCaptureNotReady)
	}
	leased := false
	if s.lease != nil && !s.manager.IsBroadcasting() {
		if err := s.lease.Acquire(ctx); err != nil {
			return domain.BroadcastSession{}, apperrors.WrapError(err, apperrors.ErrCodeConflict, "another publisher holds the broadcast", 409)
		}
		leased = true
	}

	session := domain.BroadcastSession{ID: uuid.New().String(), StartedAt: s.now()}
	ctx = logger.WithSessionID(ctx, session.ID)
	ctx, span := tracing.TraceBroadcast(ctx, "start", session.ID)
	defer span.End()

	// Armed under the manager lock so a terminal event cannot tear down
	// before the session exists.
	ok, err := s.manager.StartBroadcastThen(ctx, targets, func() {
		s.session.Store(&session)
		if s.stats != nil {
			s.stats.Start(session)
		}
		if s.quality != nil {
			s.quality.Start()
		}
	})
	if !ok {
		tracing.RecordError(ctx, err)
		s.logger.Warnw("broadcast start failed", "session_id", session.ID, "error", err)
		if leased {
			s.releaseLease()
		}
		return domain.BroadcastSession{}, err
	}

	s.logger.Infow("broadcast session started",
		"session_id", session.ID,
		"targets", len(targets),
		"active", s.manager.ActiveCount(),
	)
	return session, nil
}

// Stop ends the current broadcast. Every timer of the session is stopped
// before it returns, so Start may be called again right away.
func (s *SessionController) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.session.Load()
	if sess != nil {
		var span trace.Span
		ctx, span = tracing.TraceBroadcast(ctx, "stop", sess.ID)
		defer span.End()
	}

	if s.stats != nil {
		s.stats.Stop()
	}
	if s.quality != nil {
		s.quality.Stop()
	}
	s.manager.ReleaseConnections()
	s.session.Store(nil)
	s.muted.Store(false)

	if sess != nil {
		tracing.MeasureDuration(ctx, sess.StartedAt)
		s.logger.Infow("broadcast session stopped",
			"session_id", sess.ID,
			"duration", utils.FormatElapsed(s.now().Sub(sess.StartedAt)),
		)
	}
}

func (s *SessionController) onTeardown() {
	if s.stats != nil {
		s.stats.Stop()
	}
	if sess := s.session.Swap(nil); sess != nil {
		s.logger.Infow("broadcast session ended", "session_id", sess.ID)
	}
	s.muted.Store(false)
	// Holds the manager lock for at most the release timeout.
	s.releaseLease()
}

func (s *SessionController) releaseLease() {
	if s.lease == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.lease.Release(ctx); err != nil {
		s.logger.Warnw("failed to release publisher lease", "error", err)
	}
}

// ToggleMute silences or restores the audio capture path only.
func (s *SessionController) ToggleMute(muted bool) error {
	err := guardEngine(s.logger, "set silence", func() error {
		s.engine.SetSilence(muted)
		return nil
	})
	if err != nil {
		return err
	}
	s.muted.Store(muted)
	s.logger.Infow("mute toggled", "muted", muted)
	return nil
}

func (s *SessionController) ZoomTo(factor float64) error {
	if err := validation.ValidateZoom(factor); err != nil {
		return apperrors.WrapError(err, apperrors.ErrCodeInvalidInput, "invalid zoom", 400)
	}
	if err := guardEngine(s.logger, "zoom", func() error { return s.engine.ZoomTo(factor) }); err != nil {
		return apperrors.NewAdjustmentError("zoom rejected", err)
	}
	return nil
}

// ApplySetting applies one runtime setting and keeps the quality controller
// in sync with encoder changes made by the operator.
func (s *SessionController) ApplySetting(ctx context.Context, key string, value interface{}, reason string) (domain.ConfigurationChange, error) {
	if sess := s.session.Load(); sess != nil {
		ctx = logger.WithSessionID(ctx, sess.ID)
	}
	change, err := s.applier.ApplyChange(ctx, key, value, reason)
	if err != nil {
		return change, err
	}
	if s.quality != nil {
		s.quality.ObserveChange(change)
	}
	return change, nil
}

// OnFrameMetrics is called from the frame delivery path. It never blocks.
func (s *SessionController) OnFrameMetrics(m domain.FrameMetrics) {
	if s.sampler != nil && s.manager.IsBroadcasting() {
		s.sampler.Offer(m)
	}
}

// Run dispatches engine events until ctx is done.
func (s *SessionController) Run(ctx context.Context) {
	s.manager.Run(ctx)
}

func (s *SessionController) Session() (domain.BroadcastSession, bool) {
	if sess := s.session.Load(); sess != nil {
		return *sess, true
	}
	return domain.BroadcastSession{}, false
}

func (s *SessionController) Status() SessionStatus {
	st := SessionStatus{
		Broadcasting:   s.manager.IsBroadcasting(),
		Muted:          s.muted.Load(),
		CaptureReady:   s.manager.CaptureReady(),
		PendingRetries: s.manager.PendingRetries(),
		Elapsed:        utils.FormatElapsed(0),
	}
	if sess := s.session.Load(); sess != nil {
		st.Session = sess
		st.Elapsed = utils.FormatElapsed(s.now().Sub(sess.StartedAt))
	}
	if s.stats != nil {
		st.Connections = s.stats.Lines()
	}
	if s.quality != nil {
		st.Quality = s.quality.Stats()
	}
	return st
}
