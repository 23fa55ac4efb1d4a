package services

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"livecast/internal/core/domain"
	"livecast/internal/core/ports"

	"github.com/stretchr/testify/mock"
)

// fakeEngine is a scriptable StreamingEngine.
type fakeEngine struct {
	mu       sync.Mutex
	nextID   int
	failURIs map[string]int // remaining failures per uri, -1 for always
	panics   bool
	released []domain.ConnectionID
	created  []string
	srt      []ports.SRTConfig

	audio, video  bool
	silenced      bool
	recordStarted int
	recordStopped int
	zoom          float64

	bandwidth map[domain.ConnectionID]int64
	traffic   map[domain.ConnectionID]int64

	events chan domain.ConnectionEvent

	// onCreate runs for every registered id, with the engine lock held.
	onCreate func(id domain.ConnectionID)
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		nextID:    1,
		failURIs:  map[string]int{},
		audio:     true,
		video:     true,
		bandwidth: map[domain.ConnectionID]int64{},
		traffic:   map[domain.ConnectionID]int64{},
		events:    make(chan domain.ConnectionEvent, 16),
	}
}

func (e *fakeEngine) failFor(uri string, times int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failURIs[uri] = times
}

func (e *fakeEngine) create(uri string) domain.ConnectionID {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.panics {
		panic("engine exploded")
	}
	e.created = append(e.created, uri)
	if n, ok := e.failURIs[uri]; ok && n != 0 {
		if n > 0 {
			e.failURIs[uri] = n - 1
		}
		return domain.InvalidConnectionID
	}
	id := domain.ConnectionID(e.nextID)
	e.nextID++
	if e.onCreate != nil {
		e.onCreate(id)
	}
	return id
}

func (e *fakeEngine) CreateConnection(cfg ports.ConnectionConfig) domain.ConnectionID {
	return e.create(cfg.URI)
}

func (e *fakeEngine) CreateSRTConnection(cfg ports.SRTConfig) domain.ConnectionID {
	e.mu.Lock()
	e.srt = append(e.srt, cfg)
	e.mu.Unlock()
	return e.create(fmt.Sprintf("srt://%s:%d", cfg.Host, cfg.Port))
}

func (e *fakeEngine) CreateRISTConnection(cfg ports.RISTConfig) domain.ConnectionID {
	return e.create(cfg.URI)
}

func (e *fakeEngine) ReleaseConnection(id domain.ConnectionID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.released = append(e.released, id)
}

func (e *fakeEngine) Bandwidth(id domain.ConnectionID) int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.bandwidth[id]
}

func (e *fakeEngine) Traffic(id domain.ConnectionID) int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.traffic[id]
}

func (e *fakeEngine) IsPacketLossIncreasing(id domain.ConnectionID) bool {
	return false
}

func (e *fakeEngine) IsAudioCaptureStarted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.audio
}

func (e *fakeEngine) IsVideoCaptureStarted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.video
}

func (e *fakeEngine) StartRecord() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.recordStarted++
	return nil
}

func (e *fakeEngine) StopRecord() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.recordStopped++
}

func (e *fakeEngine) SetSilence(muted bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.silenced = muted
}

func (e *fakeEngine) ZoomTo(factor float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.zoom = factor
	return nil
}

func (e *fakeEngine) Events() <-chan domain.ConnectionEvent {
	return e.events
}

func (e *fakeEngine) releasedIDs() []domain.ConnectionID {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]domain.ConnectionID(nil), e.released...)
}

func (e *fakeEngine) createdURIs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.created...)
}

// recordingSink keeps everything published to it.
type recordingSink struct {
	mu       sync.Mutex
	statuses []domain.StatusUpdate
	notices  []domain.Notice
	changes  []domain.ConfigurationChange
}

func (s *recordingSink) PublishStatus(u domain.StatusUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, u)
}

func (s *recordingSink) PublishNotice(n domain.Notice) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notices = append(s.notices, n)
}

func (s *recordingSink) PublishChange(c domain.ConfigurationChange) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.changes = append(s.changes, c)
}

func (s *recordingSink) Notices() []domain.Notice {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Notice(nil), s.notices...)
}

func (s *recordingSink) Changes() []domain.ConfigurationChange {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.ConfigurationChange(nil), s.changes...)
}

// MockEncoder mocks the encoder configuration collaborator.
type MockEncoder struct {
	mock.Mock
}

func (m *MockEncoder) SetVideoBitrate(bps int) error {
	args := m.Called(bps)
	return args.Error(0)
}

func (m *MockEncoder) SetVideoSize(width, height int) error {
	args := m.Called(width, height)
	return args.Error(0)
}

func (m *MockEncoder) SetFrameRate(fps int) error {
	args := m.Called(fps)
	return args.Error(0)
}

func (m *MockEncoder) SetAudioBitrate(bps int) error {
	args := m.Called(bps)
	return args.Error(0)
}

func (m *MockEncoder) SetRecordSize(width, height int) error {
	args := m.Called(width, height)
	return args.Error(0)
}

var errStoreDown = errors.New("store down")

// mapPrefs is an in-memory PreferenceStore.
type mapPrefs struct {
	mu     sync.Mutex
	values map[string]interface{}
	failOn map[string]bool
}

func newMapPrefs() *mapPrefs {
	return &mapPrefs{values: map[string]interface{}{}, failOn: map[string]bool{}}
}

func (p *mapPrefs) get(key string) (interface{}, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.values[key]
	return v, ok
}

func (p *mapPrefs) set(key string, v interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failOn[key] {
		return errStoreDown
	}
	p.values[key] = v
	return nil
}

func (p *mapPrefs) GetString(_ context.Context, key string) (string, bool, error) {
	v, ok := p.get(key)
	s, isStr := v.(string)
	return s, ok && isStr, nil
}

func (p *mapPrefs) SetString(_ context.Context, key, value string) error {
	return p.set(key, value)
}

func (p *mapPrefs) GetInt(_ context.Context, key string) (int, bool, error) {
	v, ok := p.get(key)
	i, isInt := v.(int)
	return i, ok && isInt, nil
}

func (p *mapPrefs) SetInt(_ context.Context, key string, value int) error {
	return p.set(key, value)
}

func (p *mapPrefs) GetBool(_ context.Context, key string) (bool, bool, error) {
	v, ok := p.get(key)
	b, isBool := v.(bool)
	return b, ok && isBool, nil
}

func (p *mapPrefs) SetBool(_ context.Context, key string, value bool) error {
	return p.set(key, value)
}

func (p *mapPrefs) GetFloat(_ context.Context, key string) (float64, bool, error) {
	v, ok := p.get(key)
	f, isFloat := v.(float64)
	return f, ok && isFloat, nil
}

func (p *mapPrefs) SetFloat(_ context.Context, key string, value float64) error {
	return p.set(key, value)
}

func (p *mapPrefs) Ping(context.Context) error {
	return nil
}

// countingTracker records quality tracking calls from the manager.
type countingTracker struct {
	mu      sync.Mutex
	tracked map[domain.ConnectionID]string
	stops   int
}

func newCountingTracker() *countingTracker {
	return &countingTracker{tracked: map[domain.ConnectionID]string{}}
}

func (c *countingTracker) TrackConnection(id domain.ConnectionID, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tracked[id] = name
}

func (c *countingTracker) UntrackConnection(id domain.ConnectionID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.tracked, id)
}

func (c *countingTracker) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stops++
}

func (c *countingTracker) snapshot() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tracked), c.stops
}
