package services

import (
	"sync"
	"testing"
	"time"

	"livecast/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func frame(fps float64) domain.FrameMetrics {
	return domain.FrameMetrics{
		FPS:              fps,
		FrameTime:        time.Duration(float64(time.Second) / fps),
		GPUUtilization:   0.6,
		NetworkStability: 1,
	}
}

func TestPerformanceSampler_DropsOldestWhenFull(t *testing.T) {
	s := NewPerformanceSampler(3)

	for i := 1; i <= 5; i++ {
		s.Offer(frame(float64(i * 10)))
	}

	samples := s.Drain()
	require.Len(t, samples, 3)
	assert.Equal(t, 30.0, samples[0].FPS)
	assert.Equal(t, 40.0, samples[1].FPS)
	assert.Equal(t, 50.0, samples[2].FPS)
	assert.Equal(t, int64(2), s.Dropped())
	assert.Equal(t, int64(5), s.Offered())
}

func TestPerformanceSampler_NotifiesConsumer(t *testing.T) {
	s := NewPerformanceSampler(0)

	s.Offer(frame(30))
	s.Offer(frame(30))

	select {
	case <-s.Notify():
	default:
		t.Fatal("expected a notification")
	}
	assert.Len(t, s.Drain(), 2)
	assert.Empty(t, s.Drain())
}

func TestPerformanceSampler_FrameTimeVariance(t *testing.T) {
	s := NewPerformanceSampler(10)

	s.Offer(domain.FrameMetrics{FPS: 30, FrameTime: 30 * time.Millisecond})
	s.Offer(domain.FrameMetrics{FPS: 30, FrameTime: 40 * time.Millisecond})

	samples := s.Drain()
	require.Len(t, samples, 2)
	assert.Equal(t, 0.0, samples[0].FrameTimeVariance)
	assert.InDelta(t, 25.0, samples[1].FrameTimeVariance, 1e-9)
	assert.False(t, samples[0].Timestamp.IsZero())
}

func TestPerformanceSampler_Reset(t *testing.T) {
	s := NewPerformanceSampler(10)
	s.Offer(frame(30))

	s.Reset()

	assert.Empty(t, s.Drain())
	select {
	case <-s.Notify():
		t.Fatal("notification should have been cleared")
	default:
	}
}

func TestPerformanceSampler_ProducerNeverBlocks(t *testing.T) {
	s := NewPerformanceSampler(DefaultSampleQueueSize)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 10_000; i++ {
			s.Offer(frame(30))
		}
	}()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("producer blocked")
	}
	assert.LessOrEqual(t, len(s.Drain()), DefaultSampleQueueSize)
}
