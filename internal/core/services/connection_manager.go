package services

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"livecast/internal/core/domain"
	"livecast/internal/core/ports"
	apperrors "livecast/pkg/errors"
	"livecast/pkg/logger"
	"livecast/pkg/retry"
	"livecast/pkg/tracing"
	"livecast/pkg/utils"
	"livecast/pkg/validation"

	"go.uber.org/zap"
)

const DefaultRetryDelay = 3 * time.Second

type ManagerConfig struct {
	RetryDelay    time.Duration
	MaxRetries    int // 0 retries forever
	RecordOnStart bool
}

// ConnectionTracker is notified as connections come and go. The quality
// controller implements it.
type ConnectionTracker interface {
	TrackConnection(id domain.ConnectionID, name string)
	UntrackConnection(id domain.ConnectionID)
	Stop()
}

type activeEntry struct {
	conn         domain.Connection
	state        atomic.Int32
	registeredAt time.Time
}

// ConnectionManager creates, tracks and tears down the outbound connections
// of one broadcast and retries transient failures.
//
// Structural changes (register, release, retry bookkeeping, teardown) are
// serialised by mu. The maps and counters are safe to read without it.
type ConnectionManager struct {
	engine    ports.StreamingEngine
	stats     *StatisticsCollector
	quality   ConnectionTracker
	sink      ports.StatusSink
	metrics   ports.MetricsRecorder
	logger    *zap.SugaredLogger
	clog      *logger.ContextLogger
	scheduler *retry.Scheduler
	cfg       ManagerConfig
	now       func() time.Time

	mu      sync.Mutex
	baseCtx context.Context

	active       sync.Map // domain.ConnectionID -> *activeEntry
	activeCount  atomic.Int64
	pending      atomic.Int64
	broadcasting atomic.Bool
	captureReady atomic.Bool

	onTeardown atomic.Pointer[func()]
}

func NewConnectionManager(
	engine ports.StreamingEngine,
	stats *StatisticsCollector,
	quality ConnectionTracker,
	sink ports.StatusSink,
	metrics ports.MetricsRecorder,
	cfg ManagerConfig,
	logger *zap.SugaredLogger,
	opts ...retry.SchedulerOption,
) *ConnectionManager {
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	retryCfg := retry.FixedConfig(cfg.RetryDelay)
	retryCfg.MaxAttempts = cfg.MaxRetries

	return &ConnectionManager{
		engine:    engine,
		stats:     stats,
		quality:   quality,
		sink:      sinkOrNoop(sink),
		metrics:   metricsOrNoop(metrics),
		logger:    loggerOrNop(logger),
		clog:      contextLogger(logger),
		scheduler: retry.NewScheduler(retryCfg, opts...),
		cfg:       cfg,
		now:       time.Now,
		baseCtx:   context.Background(),
	}
}

// OnTeardown registers a hook run once each time the broadcast is torn down.
func (m *ConnectionManager) OnTeardown(fn func()) {
	m.onTeardown.Store(&fn)
}

// CaptureReady reports whether both audio and video capture are running.
func (m *ConnectionManager) CaptureReady() bool {
	ready := false
	_ = guardEngine(m.logger, "query capture", func() error {
		ready = m.engine.IsAudioCaptureStarted() && m.engine.IsVideoCaptureStarted()
		return nil
	})
	m.captureReady.Store(ready)
	return ready
}

// StartBroadcast registers every configured connection. It returns true when
// at least one connection was registered.
func (m *ConnectionManager) StartBroadcast(ctx context.Context, conns []domain.Connection) (bool, error) {
	return m.StartBroadcastThen(ctx, conns, nil)
}

// StartBroadcastThen is StartBroadcast with a hook run under the manager lock
// once the broadcast is up, before any engine event can be applied. The hook
// must not call back into the manager.
func (m *ConnectionManager) StartBroadcastThen(ctx context.Context, conns []domain.Connection, onStarted func()) (bool, error) {
	if len(conns) == 0 {
		return false, apperrors.NewConfigurationError("no connections configured", domain.ErrEmptyTargetList)
	}
	if !m.CaptureReady() {
		return false, apperrors.NewPreconditionError("capture is not ready", domain.ErrCaptureNotReady)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.broadcasting.Load() {
		return false, apperrors.WrapError(domain.ErrBroadcastActive, apperrors.ErrCodeConflict, "broadcast already active", 409)
	}
	m.baseCtx = context.WithoutCancel(ctx)
	m.broadcasting.Store(true)

	var firstErr error
	for _, c := range conns {
		id, err := m.createLocked(ctx, c)
		if id != domain.InvalidConnectionID {
			continue
		}
		if firstErr == nil {
			firstErr = err
		}
		if retryable(err) {
			m.scheduleRetryLocked(c, 0)
		}
	}

	if m.activeCount.Load() == 0 {
		m.clog.Sugar(ctx).Warnw("no connection registered, broadcast not started",
			"configured", len(conns),
			"error", firstErr,
		)
		m.teardownLocked()
		if firstErr == nil {
			firstErr = apperrors.NewTransportError("no connection registered", domain.ErrConnectionRejected)
		}
		return false, firstErr
	}

	if m.cfg.RecordOnStart {
		if err := guardEngine(m.logger, "start record", m.engine.StartRecord); err != nil {
			m.notice("", "recording failed: "+err.Error(), "record")
		}
	}

	if onStarted != nil {
		onStarted()
	}

	m.clog.Sugar(ctx).Infow("broadcast started",
		"configured", len(conns),
		"active", m.activeCount.Load(),
		"pending_retries", m.pending.Load(),
	)
	return true, nil
}

// CreateConnection validates c and asks the engine to open it. It returns
// InvalidConnectionID when the connection was not registered.
func (m *ConnectionManager) CreateConnection(ctx context.Context, c domain.Connection) domain.ConnectionID {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, _ := m.createLocked(ctx, c)
	return id
}

func (m *ConnectionManager) createLocked(ctx context.Context, c domain.Connection) (domain.ConnectionID, error) {
	if err := validation.ValidateConnection(c); err != nil {
		appErr := apperrors.NewConfigurationError("invalid connection "+c.Name, err)
		m.notice(c.Name, "Invalid connection settings: "+err.Error(), "configuration")
		m.clog.Sugar(ctx).Warnw("connection rejected by validation", "connection_name", c.Name, "error", err)
		return domain.InvalidConnectionID, appErr
	}
	if c.Protocol == "" {
		u, _ := url.Parse(c.URL)
		c.Protocol, _ = validation.ProtocolForScheme(u.Scheme)
	}

	ctx, span := tracing.TraceConnection(ctx, "create", c.Name, string(c.Protocol))
	defer span.End()

	id := domain.InvalidConnectionID
	err := guardEngine(m.logger, "create connection", func() error {
		var cerr error
		id, cerr = m.open(c)
		return cerr
	})
	if err == nil && id == domain.InvalidConnectionID {
		err = apperrors.NewTransportError("engine rejected connection "+c.Name, domain.ErrConnectionRejected)
	}
	if err == nil {
		if _, dup := m.active.Load(id); dup {
			err = apperrors.NewTransportError(
				fmt.Sprintf("engine reused connection id %d", id), domain.ErrConnectionRejected)
			id = domain.InvalidConnectionID
		}
	}
	if err != nil {
		tracing.RecordError(ctx, err)
		m.notice(c.Name, "Could not create connection "+c.Name, "transport")
		m.clog.Sugar(ctx).Warnw("connection not created",
			"connection_name", c.Name,
			"protocol", c.Protocol,
			"url", utils.MaskStreamURL(c.URL),
			"error", err,
		)
		return domain.InvalidConnectionID, err
	}

	entry := &activeEntry{conn: c, registeredAt: m.now()}
	entry.state.Store(int32(domain.StateInitialized))
	m.active.Store(id, entry)
	m.activeCount.Add(1)

	if m.stats != nil {
		m.stats.Track(id, c.Name)
	}
	if m.quality != nil {
		m.quality.TrackConnection(id, c.Name)
	}
	m.metrics.ConnectionRegistered(c.Protocol)

	m.clog.Sugar(logger.WithConnectionID(ctx, int(id))).Infow("connection registered",
		"connection_name", c.Name,
		"protocol", c.Protocol,
		"url", utils.MaskStreamURL(c.URL),
	)
	return id, nil
}

// open builds the protocol-specific request and hands it to the factory.
func (m *ConnectionManager) open(c domain.Connection) (domain.ConnectionID, error) {
	mode := c.Mode
	if mode == "" {
		mode = domain.ModeAudioVideo
	}

	switch c.Protocol {
	case domain.ProtocolSRT:
		cfg, err := buildSRTConfig(c, mode)
		if err != nil {
			return domain.InvalidConnectionID, apperrors.NewConfigurationError("invalid srt target", err)
		}
		return m.engine.CreateSRTConnection(cfg), nil

	case domain.ProtocolRIST:
		cfg := ports.RISTConfig{URI: c.URL, Mode: mode}
		if c.RIST != nil {
			cfg.Profile = c.RIST.Profile
		}
		return m.engine.CreateRISTConnection(cfg), nil

	default:
		auth := c.Auth
		if auth == "" {
			auth = domain.AuthNone
		}
		return m.engine.CreateConnection(ports.ConnectionConfig{
			URI:      c.URL,
			Mode:     mode,
			Auth:     auth,
			Username: c.Username,
			Password: c.Password,
		}), nil
	}
}

// buildSRTConfig splits host and port out of the url. streamid and
// passphrase query parameters override the configured options.
func buildSRTConfig(c domain.Connection, mode domain.Mode) (ports.SRTConfig, error) {
	u, err := url.Parse(c.URL)
	if err != nil {
		return ports.SRTConfig{}, err
	}
	host, portStr, err := net.SplitHostPort(u.Host)
	if err != nil {
		return ports.SRTConfig{}, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return ports.SRTConfig{}, fmt.Errorf("invalid srt port %q", portStr)
	}

	cfg := ports.SRTConfig{Host: host, Port: port, Mode: mode}
	if o := c.SRT; o != nil {
		cfg.Latency = int(o.Latency / time.Millisecond)
		cfg.MaxBandwidth = o.MaxBandwidth
		cfg.Passphrase = o.Passphrase
		cfg.KeyLength = o.KeyLength
		cfg.StreamID = o.StreamID
	}
	q := u.Query()
	if v := q.Get("streamid"); v != "" {
		cfg.StreamID = v
	}
	if v := q.Get("passphrase"); v != "" {
		cfg.Passphrase = v
	}
	return cfg, nil
}

// Run dispatches engine events until ctx is done or the channel closes.
func (m *ConnectionManager) Run(ctx context.Context) {
	events := m.engine.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				m.logger.Infow("engine event channel closed")
				return
			}
			m.HandleEvent(ev)
		}
	}
}

// HandleEvent applies one engine event.
func (m *ConnectionManager) HandleEvent(ev domain.ConnectionEvent) {
	switch ev.Kind {
	case domain.EventConnectionState:
		m.onStateChanged(ev)
	case domain.EventRecordState:
		m.onRecordState(ev)
	case domain.EventCaptureState:
		m.onCaptureState(ev)
	default:
		m.logger.Warnw("unknown engine event", "kind", ev.Kind)
	}
}

func (m *ConnectionManager) onStateChanged(ev domain.ConnectionEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.active.Load(ev.ConnectionID)
	if !ok {
		m.logger.Debugw("state change for unknown connection",
			"connection_id", ev.ConnectionID,
			"state", ev.State.String(),
		)
		return
	}
	entry := v.(*activeEntry)

	if !ev.State.Terminal() {
		entry.state.Store(int32(ev.State))
		if m.stats != nil {
			m.stats.MarkState(ev.ConnectionID, ev.State)
		}
		m.connectionLog(ev.ConnectionID).Infow("connection state changed",
			"connection_name", entry.conn.Name,
			"state", ev.State.String(),
		)
		return
	}

	m.releaseLocked(ev.ConnectionID)

	retried := false
	if ev.Status != domain.StatusAuthFailed && m.broadcasting.Load() {
		retried = m.scheduleRetryLocked(entry.conn, 0)
	}
	m.metrics.DisconnectObserved(ev.Status, retried)
	m.notice(entry.conn.Name, disconnectMessage(entry.conn.Name, ev), disconnectKind(ev.Status))

	m.connectionLog(ev.ConnectionID).Warnw("connection lost",
		"connection_name", entry.conn.Name,
		"state", ev.State.String(),
		"status", ev.Status.String(),
		"info", ev.Info,
		"retry_scheduled", retried,
		"pending_retries", m.pending.Load(),
	)

	m.maybeTeardownLocked()
}

func (m *ConnectionManager) onRecordState(ev domain.ConnectionEvent) {
	switch ev.Record {
	case domain.RecordFailed:
		m.notice("", "Recording failed", "record")
		m.logger.Warnw("record failed", "info", ev.Info)
	case domain.RecordStarted:
		m.logger.Infow("record started")
	case domain.RecordStopped:
		m.logger.Infow("record stopped")
	}
}

func (m *ConnectionManager) onCaptureState(ev domain.ConnectionEvent) {
	if ev.Capture == domain.CaptureFailed {
		m.captureReady.Store(false)
		m.notice("", fmt.Sprintf("%s capture failed", ev.Track), "capture")
		m.logger.Warnw("capture failed", "track", ev.Track, "info", ev.Info)
		return
	}
	m.logger.Infow("capture state changed",
		"track", ev.Track,
		"started", ev.Capture == domain.CaptureStarted,
	)
}

// scheduleRetryLocked arms a retry of the same connection configuration.
func (m *ConnectionManager) scheduleRetryLocked(c domain.Connection, attempt int) bool {
	gen := m.scheduler.Generation()
	delay, ok := m.scheduler.Schedule(attempt, func() {
		m.fireRetry(gen, c, attempt)
	})
	if !ok {
		m.sessionLog().Warnw("retry limit reached", "connection_name", c.Name, "attempt", attempt)
		return false
	}
	n := m.pending.Add(1)
	m.metrics.RetryScheduled()
	m.metrics.PendingRetries(n)
	m.sessionLog().Infow("retry scheduled",
		"connection_name", c.Name,
		"attempt", attempt+1,
		"delay", delay,
		"pending_retries", n,
	)
	return true
}

func (m *ConnectionManager) fireRetry(gen uint64, c domain.Connection, attempt int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Teardown already reset the counter.
	if gen != m.scheduler.Generation() || !m.broadcasting.Load() {
		return
	}
	m.metrics.RetryFired()

	id, err := m.createLocked(m.baseCtx, c)
	if id == domain.InvalidConnectionID && retryable(err) {
		m.scheduleRetryLocked(c, attempt+1)
	}

	n := m.pending.Add(-1)
	m.metrics.PendingRetries(n)
	m.maybeTeardownLocked()
}

// sessionLog carries the ids of the running broadcast. Callers hold m.mu.
func (m *ConnectionManager) sessionLog() *zap.SugaredLogger {
	return m.clog.Sugar(m.baseCtx)
}

func (m *ConnectionManager) connectionLog(id domain.ConnectionID) *zap.SugaredLogger {
	return m.clog.Sugar(logger.WithConnectionID(m.baseCtx, int(id)))
}

func (m *ConnectionManager) maybeTeardownLocked() {
	if m.activeCount.Load() == 0 && m.pending.Load() == 0 {
		m.teardownLocked()
	}
}

// ReleaseConnection removes one connection. Idempotent.
func (m *ConnectionManager) ReleaseConnection(id domain.ConnectionID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.releaseLocked(id)
}

func (m *ConnectionManager) releaseLocked(id domain.ConnectionID) bool {
	v, ok := m.active.LoadAndDelete(id)
	if !ok {
		return false
	}
	entry := v.(*activeEntry)
	m.activeCount.Add(-1)

	if m.stats != nil {
		m.stats.Remove(id)
	}
	if m.quality != nil {
		m.quality.UntrackConnection(id)
	}
	_ = guardEngine(m.logger, "release connection", func() error {
		m.engine.ReleaseConnection(id)
		return nil
	})
	m.metrics.ConnectionReleased(entry.conn.Protocol)

	m.logger.Infow("connection released",
		"connection_id", id,
		"connection_name", entry.conn.Name,
	)
	return true
}

// ReleaseConnections tears the whole broadcast down: pending retries are
// cancelled, every connection is released, recording stops and mute resets.
func (m *ConnectionManager) ReleaseConnections() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.teardownLocked()
}

func (m *ConnectionManager) teardownLocked() {
	wasOn := m.broadcasting.Swap(false)

	cancelled := m.scheduler.CancelAll()
	m.pending.Store(0)
	m.metrics.PendingRetries(0)

	var ids []domain.ConnectionID
	m.active.Range(func(key, _ interface{}) bool {
		ids = append(ids, key.(domain.ConnectionID))
		return true
	})
	for _, id := range ids {
		m.releaseLocked(id)
	}

	_ = guardEngine(m.logger, "stop record", func() error {
		m.engine.StopRecord()
		return nil
	})
	_ = guardEngine(m.logger, "reset mute", func() error {
		m.engine.SetSilence(false)
		return nil
	})
	if m.quality != nil {
		m.quality.Stop()
	}

	if !wasOn {
		return
	}
	m.sessionLog().Infow("broadcast torn down",
		"released", len(ids),
		"cancelled_retries", cancelled,
	)
	if fn := m.onTeardown.Load(); fn != nil {
		(*fn)()
	}
}

func (m *ConnectionManager) IsBroadcasting() bool {
	return m.broadcasting.Load()
}

func (m *ConnectionManager) PendingRetries() int64 {
	return m.pending.Load()
}

func (m *ConnectionManager) ActiveCount() int {
	return int(m.activeCount.Load())
}

// ActiveConnections returns the registered connections ordered by id.
func (m *ConnectionManager) ActiveConnections() []domain.ActiveConnection {
	var out []domain.ActiveConnection
	m.active.Range(func(key, value interface{}) bool {
		e := value.(*activeEntry)
		out = append(out, domain.ActiveConnection{
			ID:           key.(domain.ConnectionID),
			Config:       e.conn,
			State:        domain.ConnectionState(e.state.Load()),
			RegisteredAt: e.registeredAt,
		})
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// State returns the last reported state of a registered connection.
func (m *ConnectionManager) State(id domain.ConnectionID) (domain.ConnectionState, bool) {
	v, ok := m.active.Load(id)
	if !ok {
		return 0, false
	}
	return domain.ConnectionState(v.(*activeEntry).state.Load()), true
}

func (m *ConnectionManager) notice(name, msg, kind string) {
	m.sink.PublishNotice(domain.Notice{
		ConnectionName: name,
		Message:        msg,
		Kind:           kind,
		At:             m.now(),
	})
}

// retryable reports whether a failed creation is worth retrying. Validation
// errors need a configuration change first.
func retryable(err error) bool {
	return err != nil && !apperrors.Is(err, apperrors.ErrCodeConfiguration)
}

func disconnectKind(s domain.Status) string {
	if s == domain.StatusAuthFailed {
		return "auth"
	}
	return "transport"
}

// disconnectMessage builds the toast text from the status and any engine
// supplied details.
func disconnectMessage(name string, ev domain.ConnectionEvent) string {
	var b strings.Builder
	switch ev.Status {
	case domain.StatusAuthFailed:
		fmt.Fprintf(&b, "%s: authentication failed, check credentials", name)
	case domain.StatusConnectionFailed:
		fmt.Fprintf(&b, "%s: could not connect to server", name)
	case domain.StatusSuccess:
		fmt.Fprintf(&b, "%s: connection closed", name)
	default:
		fmt.Fprintf(&b, "%s: unknown connection error", name)
	}
	if len(ev.Info) > 0 {
		keys := make([]string, 0, len(ev.Info))
		for k := range ev.Info {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, k+"="+ev.Info[k])
		}
		fmt.Fprintf(&b, " (%s)", strings.Join(parts, ", "))
	}
	return b.String()
}
