// Package loopback is an in-process streaming engine. Connections walk the
// CONNECTED, SETUP, RECORD handshake on a timer and then packetize synthetic
// media as RTP so that bandwidth and traffic counters move like a real
// encoder output. A far-end receiver parses that RTP, counts sequence gaps
// and answers with RTCP receiver reports.
package loopback

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/url"
	"strings"
	"sync"
	"time"

	"livecast/internal/core/domain"
	"livecast/internal/core/ports"

	"go.uber.org/zap"
)

type Config struct {
	// HandshakeStep is the delay between consecutive state events.
	HandshakeStep time.Duration
	// PacketInterval is how often media is packetized per connection.
	PacketInterval time.Duration
	// ReportInterval is how often bandwidth is recomputed and a receiver
	// report is produced.
	ReportInterval time.Duration
	EventBuffer    int
	VideoBitrate   int
	AudioBitrate   int
	Width          int
	Height         int
	FPS            int
}

func DefaultConfig() Config {
	return Config{
		HandshakeStep:  200 * time.Millisecond,
		PacketInterval: 100 * time.Millisecond,
		ReportInterval: time.Second,
		EventBuffer:    64,
		VideoBitrate:   2_500_000,
		AudioBitrate:   128_000,
		Width:          1280,
		Height:         720,
		FPS:            30,
	}
}

var (
	ErrNotCapturing   = errors.New("capture is not running")
	ErrInvalidEncoder = errors.New("encoder parameter must be positive")
	ErrZoomRange      = errors.New("zoom factor out of range")
)

// Engine implements ports.StreamingEngine, ports.EncoderConfigurator and
// ports.NetworkMonitor.
type Engine struct {
	cfg    Config
	logger *zap.SugaredLogger

	mu       sync.RWMutex
	nextID   domain.ConnectionID
	links    map[domain.ConnectionID]*link
	scripted map[string]domain.Status

	audio     bool
	video     bool
	recording bool
	muted     bool
	online    bool
	zoom      float64
	encoder   EncoderState

	events chan domain.ConnectionEvent
	done   chan struct{}
	once   sync.Once
}

// EncoderState is the encoder configuration currently in effect.
type EncoderState struct {
	VideoBitrate int
	AudioBitrate int
	Width        int
	Height       int
	FPS          int
	RecordWidth  int
	RecordHeight int
}

var (
	_ ports.StreamingEngine     = (*Engine)(nil)
	_ ports.EncoderConfigurator = (*Engine)(nil)
	_ ports.NetworkMonitor      = (*Engine)(nil)
)

func New(cfg Config, logger *zap.SugaredLogger) *Engine {
	def := DefaultConfig()
	if cfg.HandshakeStep <= 0 {
		cfg.HandshakeStep = def.HandshakeStep
	}
	if cfg.PacketInterval <= 0 {
		cfg.PacketInterval = def.PacketInterval
	}
	if cfg.ReportInterval <= 0 {
		cfg.ReportInterval = def.ReportInterval
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = def.EventBuffer
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	return &Engine{
		cfg:      cfg,
		logger:   logger,
		nextID:   1,
		links:    make(map[domain.ConnectionID]*link),
		scripted: make(map[string]domain.Status),
		online:   true,
		zoom:     1,
		encoder: EncoderState{
			VideoBitrate: cfg.VideoBitrate,
			AudioBitrate: cfg.AudioBitrate,
			Width:        cfg.Width,
			Height:       cfg.Height,
			FPS:          cfg.FPS,
			RecordWidth:  cfg.Width,
			RecordHeight: cfg.Height,
		},
		events: make(chan domain.ConnectionEvent, cfg.EventBuffer),
		done:   make(chan struct{}),
	}
}

func (e *Engine) Events() <-chan domain.ConnectionEvent {
	return e.events
}

// Close stops every connection. Events emitted afterwards are discarded.
func (e *Engine) Close() {
	e.once.Do(func() {
		close(e.done)
		e.mu.Lock()
		for id, l := range e.links {
			l.cancel()
			delete(e.links, id)
		}
		e.mu.Unlock()
	})
}

func (e *Engine) emit(ev domain.ConnectionEvent) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	select {
	case e.events <- ev:
	case <-e.done:
	}
}

// FailNext makes the next connection to uri end in DISCONNECTED with status
// right after CONNECTED.
func (e *Engine) FailNext(uri string, status domain.Status) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.scripted[uri] = status
}

// Disconnect drops an established connection as if the server closed it.
func (e *Engine) Disconnect(id domain.ConnectionID, status domain.Status, info map[string]string) bool {
	e.mu.Lock()
	l, ok := e.links[id]
	if ok {
		l.cancel()
		delete(e.links, id)
	}
	e.mu.Unlock()
	if !ok {
		return false
	}
	go e.emit(domain.NewStateEvent(id, domain.StateDisconnected, status, info))
	return true
}

// SetPacketLoss drops fraction/256 (RTCP scale) of id's packets before they
// reach the receiver.
func (e *Engine) SetPacketLoss(id domain.ConnectionID, fraction uint8) {
	e.mu.RLock()
	l, ok := e.links[id]
	e.mu.RUnlock()
	if ok {
		l.setLoss(fraction)
	}
}

func (e *Engine) CreateConnection(cfg ports.ConnectionConfig) domain.ConnectionID {
	u, err := url.Parse(cfg.URI)
	if err != nil || u.Scheme == "" || u.Host == "" {
		e.logger.Warnw("rejecting connection with unusable uri", "error", err)
		return domain.InvalidConnectionID
	}
	if (cfg.Auth != "" && cfg.Auth != domain.AuthNone) && cfg.Username == "" {
		return domain.InvalidConnectionID
	}
	return e.open(cfg.URI, domain.Protocol(strings.ToLower(u.Scheme)), cfg.Mode)
}

func (e *Engine) CreateSRTConnection(cfg ports.SRTConfig) domain.ConnectionID {
	if cfg.Host == "" || cfg.Port <= 0 || cfg.Port > 65535 {
		return domain.InvalidConnectionID
	}
	return e.open(fmt.Sprintf("srt://%s:%d", cfg.Host, cfg.Port), domain.ProtocolSRT, cfg.Mode)
}

func (e *Engine) CreateRISTConnection(cfg ports.RISTConfig) domain.ConnectionID {
	if cfg.URI == "" {
		return domain.InvalidConnectionID
	}
	return e.open(cfg.URI, domain.ProtocolRIST, cfg.Mode)
}

func (e *Engine) open(uri string, protocol domain.Protocol, mode domain.Mode) domain.ConnectionID {
	e.mu.Lock()
	if !e.online {
		e.mu.Unlock()
		return domain.InvalidConnectionID
	}
	id := e.nextID
	e.nextID++
	failure, scripted := e.scripted[uri]
	delete(e.scripted, uri)

	ctx, cancel := context.WithCancel(context.Background())
	l := newLink(id, protocol, mode, rand.Uint32(), cancel)
	e.links[id] = l
	e.mu.Unlock()

	e.logger.Debugw("loopback connection created", "connection_id", id, "protocol", protocol)

	go e.run(ctx, l, failure, scripted)
	return id
}

func (e *Engine) ReleaseConnection(id domain.ConnectionID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if l, ok := e.links[id]; ok {
		l.cancel()
		delete(e.links, id)
	}
}

// ActiveLinks returns the number of connections the engine still holds.
func (e *Engine) ActiveLinks() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.links)
}

func (e *Engine) run(ctx context.Context, l *link, failure domain.Status, fail bool) {
	step := func(state domain.ConnectionState, status domain.Status) bool {
		select {
		case <-ctx.Done():
			return false
		case <-e.done:
			return false
		case <-time.After(e.cfg.HandshakeStep):
		}
		l.setState(state)
		e.emit(domain.NewStateEvent(l.id, state, status, nil))
		return true
	}

	if !step(domain.StateConnected, domain.StatusSuccess) {
		return
	}
	if fail {
		e.mu.Lock()
		delete(e.links, l.id)
		e.mu.Unlock()
		l.cancel()
		l.setState(domain.StateDisconnected)
		e.emit(domain.NewStateEvent(l.id, domain.StateDisconnected, failure, map[string]string{"reason": "scripted failure"}))
		return
	}
	if !step(domain.StateSetup, domain.StatusSuccess) || !step(domain.StateRecord, domain.StatusSuccess) {
		return
	}

	packets := time.NewTicker(e.cfg.PacketInterval)
	reports := time.NewTicker(e.cfg.ReportInterval)
	defer packets.Stop()
	defer reports.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.done:
			return
		case <-packets.C:
			video, audio := e.outputRates(l.mode)
			if err := l.packetize(video, audio, e.cfg.PacketInterval); err != nil {
				e.logger.Warnw("packetization failed", "connection_id", l.id, "error", err)
			}
		case <-reports.C:
			if err := l.report(e.cfg.ReportInterval); err != nil {
				e.logger.Warnw("receiver report failed", "connection_id", l.id, "error", err)
			}
		}
	}
}

// outputRates returns the bitrates currently leaving the encoder for mode.
func (e *Engine) outputRates(mode domain.Mode) (video, audio int) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.video && mode != domain.ModeAudioOnly {
		video = e.encoder.VideoBitrate
	}
	if e.audio && !e.muted && mode != domain.ModeVideoOnly {
		audio = e.encoder.AudioBitrate
	}
	return video, audio
}

func (e *Engine) lookup(id domain.ConnectionID) (*link, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	l, ok := e.links[id]
	return l, ok
}

func (e *Engine) Bandwidth(id domain.ConnectionID) int64 {
	if l, ok := e.lookup(id); ok {
		return l.bandwidth.Load()
	}
	return 0
}

func (e *Engine) Traffic(id domain.ConnectionID) int64 {
	if l, ok := e.lookup(id); ok {
		return l.traffic.Load()
	}
	return 0
}

func (e *Engine) IsPacketLossIncreasing(id domain.ConnectionID) bool {
	if l, ok := e.lookup(id); ok {
		return l.lossIncreasing()
	}
	return false
}
