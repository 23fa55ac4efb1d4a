package services

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"livecast/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseSettings() domain.EncoderSettings {
	return domain.EncoderSettings{Bitrate: 2_500_000, Width: 1280, Height: 720, FPS: 30}
}

func TestScoreSample(t *testing.T) {
	healthy := domain.PerformanceSample{FPS: 30, GPUUtilization: 0.6, NetworkStability: 1}

	tests := []struct {
		name   string
		mutate func(*domain.PerformanceSample)
		want   float64
	}{
		{"healthy", func(*domain.PerformanceSample) {}, 100},
		{"half frame rate", func(s *domain.PerformanceSample) { s.FPS = 15 }, 50},
		{"fps above target is capped", func(s *domain.PerformanceSample) { s.FPS = 60 }, 100},
		{"frame time jitter", func(s *domain.PerformanceSample) { s.FrameTimeVariance = 6 }, 90},
		{"memory pressure", func(s *domain.PerformanceSample) { s.MemoryPressure = 0.9 }, 82},
		{"gpu overload", func(s *domain.PerformanceSample) { s.GPUUtilization = 0.95 }, 80},
		{"gpu headroom is clamped", func(s *domain.PerformanceSample) { s.GPUUtilization = 0.2 }, 100},
		{"unstable network", func(s *domain.PerformanceSample) { s.NetworkStability = 0.5 }, 50},
		{"zero fps", func(s *domain.PerformanceSample) { s.FPS = 0 }, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := healthy
			tt.mutate(&s)
			assert.InDelta(t, tt.want, ScoreSample(s, 30), 1e-9)
		})
	}
}

func TestDetectTrend(t *testing.T) {
	t.Run("strictly decreasing is degrading", func(t *testing.T) {
		scores := []float64{90, 85, 80, 75, 70, 65, 60, 55, 50, 45}
		assert.Equal(t, domain.TrendDegrading, DetectTrend(scores, 30))
	})

	t.Run("flat is stable", func(t *testing.T) {
		scores := make([]float64, 20)
		for i := range scores {
			scores[i] = 70
		}
		assert.Equal(t, domain.TrendStable, DetectTrend(scores, 30))
	})

	t.Run("rising is improving", func(t *testing.T) {
		scores := make([]float64, 12)
		for i := range scores {
			scores[i] = 40 + float64(i)*3
		}
		assert.Equal(t, domain.TrendImproving, DetectTrend(scores, 30))
	})

	t.Run("fewer than ten samples is stable", func(t *testing.T) {
		assert.Equal(t, domain.TrendStable, DetectTrend([]float64{90, 70, 50, 30, 10}, 30))
	})

	t.Run("only the window is considered", func(t *testing.T) {
		var scores []float64
		for i := 0; i < 10; i++ {
			scores = append(scores, 100-float64(i)*10)
		}
		for i := 0; i < 30; i++ {
			scores = append(scores, 50)
		}
		assert.Equal(t, domain.TrendStable, DetectTrend(scores, 30))
	})

	t.Run("gentle slope stays stable", func(t *testing.T) {
		scores := make([]float64, 15)
		for i := range scores {
			scores[i] = 80 - float64(i)
		}
		assert.Equal(t, domain.TrendStable, DetectTrend(scores, 30))
	})
}

func TestPredictScore(t *testing.T) {
	assert.Equal(t, 75.0, PredictScore(20, domain.TrendDegrading, 0))
	assert.Equal(t, 100.0, PredictScore(98, domain.TrendImproving, 5))
	assert.Equal(t, 0.0, PredictScore(5, domain.TrendDegrading, 5))
	assert.Equal(t, 62.0, PredictScore(62, domain.TrendStable, 5))
}

func TestShouldAdjust(t *testing.T) {
	tests := []struct {
		name      string
		score     float64
		predicted float64
		trend     domain.Trend
		sinceLast time.Duration
		want      bool
	}{
		{"within hysteresis", 10, 10, domain.TrendDegrading, time.Second, false},
		{"poor score, no prior adjustment", 50, 50, domain.TrendStable, -1, true},
		{"poor prediction", 62, 45, domain.TrendStable, 5 * time.Second, true},
		{"headroom", 95, 95, domain.TrendStable, 5 * time.Second, true},
		{"headroom while improving", 95, 100, domain.TrendImproving, 5 * time.Second, false},
		{"degrading", 75, 65, domain.TrendDegrading, 5 * time.Second, true},
		{"comfortable", 75, 75, domain.TrendStable, 5 * time.Second, false},
		{"exactly at hysteresis", 50, 50, domain.TrendStable, 2 * time.Second, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ShouldAdjust(tt.score, tt.predicted, tt.trend, tt.sinceLast, 2*time.Second)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecide_DecreasingSeriesAdjusts(t *testing.T) {
	scores := []float64{90, 85, 80, 75, 70, 65, 60, 55, 50, 45}

	d := Decide(scores, baseSettings(), 30, -1, 2*time.Second, time.Now())

	assert.Equal(t, domain.TrendDegrading, d.Trend)
	assert.True(t, d.ShouldAdjust)
	assert.Equal(t, domain.AdjustReduce, d.Adjustment)
	assert.Equal(t, 45.0, d.Score)
	assert.Equal(t, 35.0, d.PredictedScore)
}

func TestComputeAdjustment_SevereReduce(t *testing.T) {
	kind, target := ComputeAdjustment(25, domain.TrendStable, baseSettings())

	assert.Equal(t, domain.AdjustReduce, kind)
	assert.Equal(t, 2_000_000, target.Bitrate)
	assert.Equal(t, 1024, target.Width)
	assert.Equal(t, 576, target.Height)
	assert.Equal(t, 25, target.FPS)
}

func TestComputeAdjustment_ReduceFloors(t *testing.T) {
	current := domain.EncoderSettings{Bitrate: 600_000, Width: 700, Height: 394, FPS: 16}

	kind, target := ComputeAdjustment(10, domain.TrendDegrading, current)

	assert.Equal(t, domain.AdjustReduce, kind)
	assert.Equal(t, MinBitrate, target.Bitrate)
	assert.Equal(t, 640, target.Width)
	assert.Equal(t, 360, target.Height)
	assert.Equal(t, MinFPS, target.FPS)
}

func TestComputeAdjustment_MildReduceKeepsResolution(t *testing.T) {
	kind, target := ComputeAdjustment(55, domain.TrendStable, baseSettings())

	assert.Equal(t, domain.AdjustReduce, kind)
	assert.Equal(t, 2_000_000, target.Bitrate)
	assert.Equal(t, 1280, target.Width)
	assert.Equal(t, 720, target.Height)
	assert.Equal(t, 30, target.FPS)
}

func TestComputeAdjustment_IncreaseCapsFrameRate(t *testing.T) {
	current := baseSettings()
	current.FPS = 55

	kind, target := ComputeAdjustment(96, domain.TrendStable, current)

	assert.Equal(t, domain.AdjustIncrease, kind)
	assert.Equal(t, 60, target.FPS)
	assert.Equal(t, 2_750_000, target.Bitrate)
	assert.Equal(t, 1408, target.Width)
	assert.Equal(t, 792, target.Height)
}

func TestComputeAdjustment_IncreaseAboveCeilingKeepsResolution(t *testing.T) {
	current := domain.EncoderSettings{Bitrate: 7_500_000, Width: 1280, Height: 720, FPS: 30}

	kind, target := ComputeAdjustment(88, domain.TrendStable, current)

	assert.Equal(t, domain.AdjustIncrease, kind)
	assert.Equal(t, 8_250_000, target.Bitrate)
	assert.Equal(t, 1280, target.Width)
	assert.Equal(t, 30, target.FPS)
}

func TestComputeAdjustment_Maintain(t *testing.T) {
	kind, target := ComputeAdjustment(75, domain.TrendDegrading, baseSettings())

	assert.Equal(t, domain.AdjustMaintain, kind)
	assert.Equal(t, baseSettings(), target)
}

func TestDecide_NoAdjustmentKeepsCurrent(t *testing.T) {
	current := domain.EncoderSettings{Bitrate: 3_000_000, Width: 1920, Height: 1080, FPS: 30}
	scores := []float64{75, 76, 74, 75}

	d := Decide(scores, current, 30, -1, 2*time.Second, time.Now())

	assert.False(t, d.ShouldAdjust)
	assert.Equal(t, domain.AdjustMaintain, d.Adjustment)
	assert.Equal(t, current, d.Target)
}

func TestDecide_PoorScoreAlwaysReduces(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 200; i++ {
		score := rng.Float64() * 59.99
		scores := []float64{score}
		d := Decide(scores, baseSettings(), 30, -1, 2*time.Second, time.Now())
		require.True(t, d.ShouldAdjust, "score %.2f", score)
		require.Equal(t, domain.AdjustReduce, d.Adjustment, "score %.2f", score)
	}
}

func TestDecide_TargetsAlwaysWithinBounds(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	trends := []domain.Trend{domain.TrendStable, domain.TrendImproving, domain.TrendDegrading}

	for i := 0; i < 1000; i++ {
		current := domain.EncoderSettings{
			Bitrate: rng.Intn(20_000_000),
			Width:   rng.Intn(5000),
			Height:  rng.Intn(3000),
			FPS:     rng.Intn(120),
		}
		score := rng.Float64() * 100
		_, target := ComputeAdjustment(score, trends[rng.Intn(len(trends))], current)

		require.GreaterOrEqual(t, target.Bitrate, MinBitrate)
		require.LessOrEqual(t, target.Bitrate, MaxBitrate)
		require.GreaterOrEqual(t, target.Width, MinWidth)
		require.LessOrEqual(t, target.Width, MaxWidth)
		require.Equal(t, int(math.Round(float64(target.Width)*9/16)), target.Height)
		require.GreaterOrEqual(t, target.FPS, MinFPS)
		require.LessOrEqual(t, target.FPS, MaxFPS)
	}
}

func TestClampSettings(t *testing.T) {
	got := ClampSettings(domain.EncoderSettings{Bitrate: 50_000_000, Width: 100, Height: 1000, FPS: 240})

	assert.Equal(t, domain.EncoderSettings{Bitrate: MaxBitrate, Width: MinWidth, Height: 270, FPS: MaxFPS}, got)
}
