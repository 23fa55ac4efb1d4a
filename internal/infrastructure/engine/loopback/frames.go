package loopback

import (
	"context"
	"math/rand"
	"time"

	"livecast/internal/core/domain"
)

// RunFrames delivers one frame-metrics event per frame at the configured
// encoder frame rate until ctx is done. Delivery stops while video capture
// is down. Load rises with bitrate and resolution, so aggressive encoder
// settings produce worse samples.
func (e *Engine) RunFrames(ctx context.Context, deliver func(domain.FrameMetrics)) {
	for {
		enc := e.Encoder()
		fps := max(enc.FPS, 1)
		interval := time.Second / time.Duration(fps)

		select {
		case <-ctx.Done():
			return
		case <-e.done:
			return
		case <-time.After(interval):
		}

		if !e.IsVideoCaptureStarted() {
			continue
		}
		deliver(e.synthesize(enc, interval))
	}
}

func (e *Engine) synthesize(enc EncoderState, interval time.Duration) domain.FrameMetrics {
	load := float64(enc.Width*enc.Height) / (1920 * 1080)
	load = 0.6*load + 0.4*float64(enc.VideoBitrate)/8_000_000
	jitter := (rand.Float64() - 0.5) * 0.1

	e.mu.RLock()
	links := len(e.links)
	var lossy int
	for _, l := range e.links {
		if l.lossIncreasing() {
			lossy++
		}
	}
	e.mu.RUnlock()

	stability := 1.0
	if links > 0 {
		stability = 1 - float64(lossy)/float64(links)
	}

	frameTime := time.Duration(float64(interval) * clamp01(0.5+load/2+jitter))
	return domain.FrameMetrics{
		Timestamp:        time.Now(),
		FPS:              float64(enc.FPS) * clamp01(1.1-load/2+jitter),
		FrameTime:        frameTime,
		MemoryPressure:   clamp01(0.2 + load/2 + jitter),
		GPUUtilization:   clamp01(0.3 + load/2 + jitter),
		NetworkStability: stability,
	}
}

func clamp01(v float64) float64 {
	return min(max(v, 0), 1)
}
