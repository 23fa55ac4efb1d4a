package monitoring

import (
	"context"
	"errors"
	"time"

	"livecast/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

var (
	errCaptureNotRunning = errors.New("capture is not running")
	errNetworkDown       = errors.New("network is not available")
)

// AddRedisCheck adds a Redis liveness check
func (h *HealthChecker) AddRedisCheck(client redis.UniversalClient, interval, timeout time.Duration) {
	h.AddCheck("redis", func(ctx context.Context) (bool, error) {
		if err := client.Ping(ctx).Err(); err != nil {
			return false, err
		}
		return true, nil
	}, interval, timeout)
}

// AddPreferenceStoreCheck verifies the settings store answers.
func (h *HealthChecker) AddPreferenceStoreCheck(store ports.PreferenceStore, interval, timeout time.Duration) {
	h.AddCheck("preferences", func(ctx context.Context) (bool, error) {
		if err := store.Ping(ctx); err != nil {
			return false, err
		}
		return true, nil
	}, interval, timeout)
}

// AddCaptureCheck gates readiness on the capture pipeline producing audio and video.
func (h *HealthChecker) AddCaptureCheck(capture ports.CaptureControl, timeout time.Duration) {
	h.AddReadinessCheck("capture", func(context.Context) (bool, error) {
		if !capture.IsAudioCaptureStarted() || !capture.IsVideoCaptureStarted() {
			return false, errCaptureNotRunning
		}
		return true, nil
	}, 0, timeout)
}

func (h *HealthChecker) AddNetworkCheck(network ports.NetworkMonitor, timeout time.Duration) {
	h.AddReadinessCheck("network", func(context.Context) (bool, error) {
		if !network.IsConnected() {
			return false, errNetworkDown
		}
		return true, nil
	}, 0, timeout)
}
