package loopback

import (
	"livecast/internal/core/domain"
)

// StartCapture brings both capture tracks up and reports each one.
func (e *Engine) StartCapture() {
	e.mu.Lock()
	e.audio, e.video = true, true
	e.mu.Unlock()

	for _, track := range []domain.MediaTrack{domain.TrackAudio, domain.TrackVideo} {
		e.emit(domain.ConnectionEvent{Kind: domain.EventCaptureState, Track: track, Capture: domain.CaptureStarted})
	}
}

// StopCapture stops one track, or both when track is empty.
func (e *Engine) StopCapture(track domain.MediaTrack) {
	e.mu.Lock()
	if track == "" || track == domain.TrackAudio {
		e.audio = false
	}
	if track == "" || track == domain.TrackVideo {
		e.video = false
	}
	e.mu.Unlock()

	for _, t := range []domain.MediaTrack{domain.TrackAudio, domain.TrackVideo} {
		if track == "" || track == t {
			e.emit(domain.ConnectionEvent{Kind: domain.EventCaptureState, Track: t, Capture: domain.CaptureStopped})
		}
	}
}

func (e *Engine) IsAudioCaptureStarted() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.audio
}

func (e *Engine) IsVideoCaptureStarted() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.video
}

func (e *Engine) StartRecord() error {
	e.mu.Lock()
	if !e.video {
		e.mu.Unlock()
		go e.emit(domain.ConnectionEvent{Kind: domain.EventRecordState, Record: domain.RecordFailed})
		return ErrNotCapturing
	}
	e.recording = true
	e.mu.Unlock()

	// Record events are emitted off the caller's goroutine; callers may hold
	// locks that the event consumer needs.
	go e.emit(domain.ConnectionEvent{Kind: domain.EventRecordState, Record: domain.RecordStarted})
	return nil
}

func (e *Engine) StopRecord() {
	e.mu.Lock()
	was := e.recording
	e.recording = false
	e.mu.Unlock()

	if was {
		go e.emit(domain.ConnectionEvent{Kind: domain.EventRecordState, Record: domain.RecordStopped})
	}
}

func (e *Engine) Recording() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.recording
}

func (e *Engine) SetSilence(muted bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.muted = muted
}

func (e *Engine) Muted() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.muted
}

func (e *Engine) ZoomTo(factor float64) error {
	if factor < 1 || factor > 16 {
		return ErrZoomRange
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.zoom = factor
	return nil
}

func (e *Engine) Zoom() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.zoom
}

func (e *Engine) SetVideoBitrate(bps int) error {
	return e.setEncoder(func(s *EncoderState) { s.VideoBitrate = bps }, bps)
}

func (e *Engine) SetVideoSize(width, height int) error {
	return e.setEncoder(func(s *EncoderState) { s.Width, s.Height = width, height }, width, height)
}

func (e *Engine) SetFrameRate(fps int) error {
	return e.setEncoder(func(s *EncoderState) { s.FPS = fps }, fps)
}

func (e *Engine) SetAudioBitrate(bps int) error {
	return e.setEncoder(func(s *EncoderState) { s.AudioBitrate = bps }, bps)
}

func (e *Engine) SetRecordSize(width, height int) error {
	return e.setEncoder(func(s *EncoderState) { s.RecordWidth, s.RecordHeight = width, height }, width, height)
}

func (e *Engine) setEncoder(apply func(*EncoderState), values ...int) error {
	for _, v := range values {
		if v <= 0 {
			return ErrInvalidEncoder
		}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	apply(&e.encoder)
	return nil
}

// Encoder returns the encoder configuration in effect.
func (e *Engine) Encoder() EncoderState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.encoder
}

func (e *Engine) IsConnected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.online
}

// SetConnected toggles simulated device connectivity. While offline every
// connection request is rejected.
func (e *Engine) SetConnected(online bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.online = online
}
