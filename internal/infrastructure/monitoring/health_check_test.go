package monitoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type captureStub struct{ audio, video bool }

func (c captureStub) IsAudioCaptureStarted() bool { return c.audio }
func (c captureStub) IsVideoCaptureStarted() bool { return c.video }
func (captureStub) StartRecord() error { return nil }
func (captureStub) StopRecord() {}
func (captureStub) SetSilence(bool) {}
func (captureStub) ZoomTo(float64) error { return nil }

func TestHealthChecker_CheckAll(t *testing.T) {
	h := NewHealthChecker()
	h.AddCheck("ok", func(context.Context) (bool, error) { return true, nil }, 0, time.Second)
	h.AddCheck("broken", func(context.Context) (bool, error) { return false, errors.New("down") }, 0, time.Second)

	status := h.CheckAll(context.Background())

	assert.Equal(t, "unhealthy", status.Status)
	assert.Equal(t, "healthy", status.Checks["ok"])
	assert.Equal(t, "down", status.Checks["broken"])
}

func TestHealthChecker_ReadinessOnlyChecks(t *testing.T) {
	h := NewHealthChecker()
	h.AddCaptureCheck(captureStub{audio: true}, time.Second)

	assert.Equal(t, "healthy", h.CheckAll(context.Background()).Status)

	ready := h.CheckReadiness(context.Background())
	assert.Equal(t, "unhealthy", ready.Status)
	assert.Equal(t, errCaptureNotRunning.Error(), ready.Checks["capture"])
	assert.False(t, h.IsReady(context.Background()))
}

func TestHealthChecker_TimeoutIsApplied(t *testing.T) {
	h := NewHealthChecker()
	h.AddCheck("slow", func(ctx context.Context) (bool, error) {
		<-ctx.Done()
		return false, ctx.Err()
	}, 0, 10*time.Millisecond)

	status := h.CheckAll(context.Background())

	assert.Equal(t, context.DeadlineExceeded.Error(), status.Checks["slow"])
}
