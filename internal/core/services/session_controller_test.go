package services

import (
	"context"
	"testing"
	"time"

	"livecast/internal/core/domain"
	apperrors "livecast/pkg/errors"
	"livecast/pkg/retry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type staticNetwork bool

func (n staticNetwork) IsConnected() bool { return bool(n) }

type sessionFixture struct {
	ctrl    *SessionController
	engine  *fakeEngine
	encoder *MockEncoder
	timers  *retry.ManualTimers
	quality *QualityController
	stats   *StatisticsCollector
}

func newSessionFixture(t *testing.T, network bool, targets ...domain.Connection) *sessionFixture {
	logger := zaptest.NewLogger(t).Sugar()
	f := &sessionFixture{
		engine:  newFakeEngine(),
		encoder: &MockEncoder{},
		timers:  &retry.ManualTimers{},
	}
	sink := &recordingSink{}
	sampler := NewPerformanceSampler(DefaultSampleQueueSize)
	applier := NewConfigApplier(f.encoder, newMapPrefs(), sink, nil, logger)

	qcfg := DefaultQualityConfig()
	qcfg.AnalysisInterval = time.Hour
	f.quality = NewQualityController(qcfg, sampler, applier, nil, logger)
	f.stats = NewStatisticsCollector(f.engine, sink, nil, time.Hour, logger)
	manager := NewConnectionManager(f.engine, f.stats, f.quality, sink, nil, ManagerConfig{}, logger,
		retry.WithAfterFunc(f.timers.AfterFunc))

	f.ctrl = NewSessionController(SessionDeps{
		Engine:         f.engine,
		Network:        staticNetwork(network),
		Manager:        manager,
		Stats:          f.stats,
		Quality:        f.quality,
		Sampler:        sampler,
		Applier:        applier,
		Logger:         logger,
		Targets:        targets,
		RequireNetwork: true,
	})
	return f
}

func TestSessionController_StartStop(t *testing.T) {
	f := newSessionFixture(t, true, primary, backup)

	sess, err := f.ctrl.Start(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, sess.ID)

	st := f.ctrl.Status()
	assert.True(t, st.Broadcasting)
	require.NotNil(t, st.Session)
	assert.Equal(t, sess.ID, st.Session.ID)
	assert.Len(t, st.Connections, 2)
	assert.True(t, f.stats.Running())
	assert.True(t, f.quality.Running())

	f.ctrl.Stop(context.Background())

	st = f.ctrl.Status()
	assert.False(t, st.Broadcasting)
	assert.Nil(t, st.Session)
	assert.Empty(t, st.Connections)
	assert.False(t, f.stats.Running())
	assert.False(t, f.quality.Running())

	_, err = f.ctrl.Start(context.Background())
	require.NoError(t, err, "a stopped session can be restarted immediately")
	f.ctrl.Stop(context.Background())
}

func TestSessionController_NetworkPrecondition(t *testing.T) {
	f := newSessionFixture(t, false, primary)

	_, err := f.ctrl.Start(context.Background())

	assert.True(t, apperrors.Is(err, apperrors.ErrCodePrecondition))
	assert.Empty(t, f.engine.createdURIs())
	assert.False(t, f.ctrl.Status().Broadcasting)
}

func TestSessionController_CapturePrecondition(t *testing.T) {
	f := newSessionFixture(t, true, primary)
	f.engine.audio = false

	_, err := f.ctrl.Start(context.Background())

	assert.True(t, apperrors.Is(err, apperrors.ErrCodePrecondition))
	assert.Empty(t, f.engine.createdURIs())
}

func TestSessionController_EmptyTargets(t *testing.T) {
	f := newSessionFixture(t, true)

	_, err := f.ctrl.Start(context.Background())

	assert.True(t, apperrors.Is(err, apperrors.ErrCodeConfiguration))
}

func TestSessionController_ExplicitTargetsOverrideConfigured(t *testing.T) {
	f := newSessionFixture(t, true, primary)

	_, err := f.ctrl.Start(context.Background(), backup)
	require.NoError(t, err)

	assert.Equal(t, []string{backup.URL}, f.engine.createdURIs())
	f.ctrl.Stop(context.Background())
}

func TestSessionController_AutomaticTeardownEndsSession(t *testing.T) {
	f := newSessionFixture(t, true, primary)
	_, err := f.ctrl.Start(context.Background())
	require.NoError(t, err)

	f.ctrl.manager.HandleEvent(domain.NewStateEvent(1, domain.StateDisconnected, domain.StatusAuthFailed, nil))

	_, active := f.ctrl.Session()
	assert.False(t, active)
	assert.False(t, f.stats.Running())
	assert.False(t, f.quality.Running())
}

func TestSessionController_TeardownDuringStartLeavesNothingRunning(t *testing.T) {
	f := newSessionFixture(t, true, primary)
	f.engine.onCreate = func(id domain.ConnectionID) {
		f.engine.events <- domain.NewStateEvent(id, domain.StateDisconnected, domain.StatusAuthFailed, nil)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.ctrl.Run(ctx)

	_, err := f.ctrl.Start(ctx)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, active := f.ctrl.Session()
		return !active && !f.ctrl.manager.IsBroadcasting() && !f.stats.Running() && !f.quality.Running()
	}, time.Second, 5*time.Millisecond)

	assert.Never(t, func() bool {
		return f.stats.Running() || f.quality.Running()
	}, 50*time.Millisecond, 5*time.Millisecond)
}

func TestSessionController_ToggleMuteAndZoom(t *testing.T) {
	f := newSessionFixture(t, true, primary)

	require.NoError(t, f.ctrl.ToggleMute(true))
	assert.True(t, f.ctrl.Status().Muted)
	f.engine.mu.Lock()
	assert.True(t, f.engine.silenced)
	f.engine.mu.Unlock()

	require.NoError(t, f.ctrl.ZoomTo(2))
	err := f.ctrl.ZoomTo(40)
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeInvalidInput))
}

func TestSessionController_ApplySettingUpdatesQualityView(t *testing.T) {
	f := newSessionFixture(t, true, primary)
	f.encoder.On("SetVideoBitrate", 4_000_000).Return(nil).Once()

	change, err := f.ctrl.ApplySetting(context.Background(), KeyVideoBitrate, 4_000_000, "operator")

	require.NoError(t, err)
	assert.Equal(t, 4_000_000, change.NewValue)
	assert.Equal(t, 4_000_000, f.quality.Current().Bitrate)
	f.encoder.AssertExpectations(t)
}

func TestSessionController_FrameMetricsOnlyWhileBroadcasting(t *testing.T) {
	f := newSessionFixture(t, true, primary)
	f.encoder.On("SetVideoBitrate", mock.Anything).Return(nil).Maybe()
	f.encoder.On("SetVideoSize", mock.Anything, mock.Anything).Return(nil).Maybe()
	f.encoder.On("SetFrameRate", mock.Anything).Return(nil).Maybe()

	f.ctrl.OnFrameMetrics(frame(30))
	assert.Equal(t, int64(0), f.ctrl.sampler.Offered())

	_, err := f.ctrl.Start(context.Background())
	require.NoError(t, err)
	f.ctrl.OnFrameMetrics(frame(30))
	assert.Equal(t, int64(1), f.ctrl.sampler.Offered())
	f.ctrl.Stop(context.Background())
}

type fakeLease struct {
	acquireErr error
	acquired   int
	released   int
}

func (l *fakeLease) Acquire(context.Context) error {
	if l.acquireErr != nil {
		return l.acquireErr
	}
	l.acquired++
	return nil
}

func (l *fakeLease) Release(context.Context) error {
	l.released++
	return nil
}

func TestSessionController_LeaseHeldElsewhere(t *testing.T) {
	f := newSessionFixture(t, true, primary)
	f.ctrl.lease = &fakeLease{acquireErr: assert.AnError}

	_, err := f.ctrl.Start(context.Background())

	assert.True(t, apperrors.Is(err, apperrors.ErrCodeConflict))
	assert.Empty(t, f.engine.createdURIs())
}

func TestSessionController_LeaseFollowsSession(t *testing.T) {
	f := newSessionFixture(t, true, primary)
	lease := &fakeLease{}
	f.ctrl.lease = lease

	_, err := f.ctrl.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, lease.acquired)

	_, err = f.ctrl.Start(context.Background())
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeConflict))
	assert.Equal(t, 0, lease.released, "a rejected second start keeps the running session's lease")

	f.ctrl.Stop(context.Background())
	assert.Equal(t, 1, lease.released)
}

func TestSessionController_TeardownReleasesLease(t *testing.T) {
	f := newSessionFixture(t, true, primary)
	lease := &fakeLease{}
	f.ctrl.lease = lease
	_, err := f.ctrl.Start(context.Background())
	require.NoError(t, err)

	f.ctrl.manager.HandleEvent(domain.NewStateEvent(1, domain.StateDisconnected, domain.StatusAuthFailed, nil))

	assert.Equal(t, 1, lease.released)
}
