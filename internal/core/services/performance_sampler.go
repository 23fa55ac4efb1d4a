package services

import (
	"sync/atomic"
	"time"

	"livecast/internal/core/domain"
)

const (
	DefaultSampleQueueSize = 100
	frameTimeWindow        = 30
)

// PerformanceSampler turns frame-metrics events into PerformanceSamples and
// hands them to a single consumer. Offer is called by exactly one producer
// (the frame delivery path) and never blocks: when the queue is full the
// oldest queued sample is dropped.
type PerformanceSampler struct {
	queue  chan domain.PerformanceSample
	notify chan struct{}

	// producer-owned
	frameTimes [frameTimeWindow]float64
	frameCount int

	offered atomic.Int64
	dropped atomic.Int64
}

func NewPerformanceSampler(capacity int) *PerformanceSampler {
	if capacity <= 0 {
		capacity = DefaultSampleQueueSize
	}
	return &PerformanceSampler{
		queue:  make(chan domain.PerformanceSample, capacity),
		notify: make(chan struct{}, 1),
	}
}

// Offer records one frame-metrics event.
func (p *PerformanceSampler) Offer(m domain.FrameMetrics) {
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}

	frameMs := float64(m.FrameTime) / float64(time.Millisecond)
	p.frameTimes[p.frameCount%frameTimeWindow] = frameMs
	p.frameCount++

	sample := domain.PerformanceSample{
		Timestamp:         m.Timestamp,
		FPS:               m.FPS,
		FrameTime:         m.FrameTime,
		FrameTimeVariance: p.variance(),
		MemoryPressure:    m.MemoryPressure,
		GPUUtilization:    m.GPUUtilization,
		NetworkStability:  m.NetworkStability,
	}

	p.offered.Add(1)
	for {
		select {
		case p.queue <- sample:
			select {
			case p.notify <- struct{}{}:
			default:
			}
			return
		default:
		}
		select {
		case <-p.queue:
			p.dropped.Add(1)
		default:
		}
	}
}

func (p *PerformanceSampler) variance() float64 {
	n := min(p.frameCount, frameTimeWindow)
	if n < 2 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += p.frameTimes[i]
	}
	mean := sum / float64(n)
	var sq float64
	for i := 0; i < n; i++ {
		d := p.frameTimes[i] - mean
		sq += d * d
	}
	return sq / float64(n)
}

// Drain returns every queued sample in arrival order without blocking.
func (p *PerformanceSampler) Drain() []domain.PerformanceSample {
	var out []domain.PerformanceSample
	for {
		select {
		case s := <-p.queue:
			out = append(out, s)
		default:
			return out
		}
	}
}

// Notify fires at least once after one or more Offers.
func (p *PerformanceSampler) Notify() <-chan struct{} {
	return p.notify
}

func (p *PerformanceSampler) Dropped() int64 {
	return p.dropped.Load()
}

func (p *PerformanceSampler) Offered() int64 {
	return p.offered.Load()
}

// Reset discards queued samples. Must be called from the consumer side.
func (p *PerformanceSampler) Reset() {
	p.Drain()
	select {
	case <-p.notify:
	default:
	}
}
