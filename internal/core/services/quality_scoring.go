package services

import (
	"math"
	"time"

	"livecast/internal/core/domain"
)

// Scoring and adjustment bounds.
const (
	MinBitrate = 500_000
	MaxBitrate = 10_000_000
	MinWidth   = 480
	MaxWidth   = 3840
	MinFPS     = 15
	MaxFPS     = 60

	poorScore            = 60.0
	poorPrediction       = 50.0
	headroomScore        = 90.0
	increaseScore        = 85.0
	resolutionDropScore  = 40.0
	frameRateDropScore   = 30.0
	frameRateRaiseScore  = 95.0
	trendSlopeThreshold  = 2.0
	minTrendSamples      = 10
	neutralPrediction    = 75.0
	varianceThresholdMs2 = 5.0

	increaseBitrateCeiling = 8_000_000
	increaseMaxWidth       = 1920
	increaseMaxHeight      = 1080
	reduceMinWidth         = 640
	reduceMinHeight        = 480
)

// ScoreSample maps one performance observation to [0, 100].
func ScoreSample(s domain.PerformanceSample, targetFPS float64) float64 {
	score := 100.0

	if targetFPS > 0 {
		score *= math.Min(s.FPS/targetFPS, 1.0)
	}
	if s.FrameTimeVariance > varianceThresholdMs2 {
		score *= 0.9
	}
	if s.MemoryPressure > 0.8 {
		score *= 1 - s.MemoryPressure*0.2
	}
	switch {
	case s.GPUUtilization > 0.9:
		score *= 0.8
	case s.GPUUtilization < 0.5:
		score *= 1.1
	}
	if s.NetworkStability < 0.8 {
		score *= s.NetworkStability
	}

	return clampFloat(score, 0, 100)
}

// DetectTrend fits a least squares line through the last window scores,
// oldest first, and classifies its slope.
func DetectTrend(scores []float64, window int) domain.Trend {
	if len(scores) < minTrendSamples {
		return domain.TrendStable
	}
	if window > 0 && len(scores) > window {
		scores = scores[len(scores)-window:]
	}

	slope := regressionSlope(scores)
	switch {
	case slope > trendSlopeThreshold:
		return domain.TrendImproving
	case slope < -trendSlopeThreshold:
		return domain.TrendDegrading
	default:
		return domain.TrendStable
	}
}

func regressionSlope(ys []float64) float64 {
	n := float64(len(ys))
	if n < 2 {
		return 0
	}
	var sumX, sumY, sumXY, sumXX float64
	for i, y := range ys {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0
	}
	return (n*sumXY - sumX*sumY) / denom
}

// PredictScore extrapolates the near-future score from the current one.
func PredictScore(current float64, trend domain.Trend, samples int) float64 {
	if samples < 1 {
		return neutralPrediction
	}
	switch trend {
	case domain.TrendImproving:
		return math.Min(100, current+5)
	case domain.TrendDegrading:
		return math.Max(0, current-10)
	default:
		return current
	}
}

// ShouldAdjust applies the hysteresis gate and the eligibility rules.
// sinceLast is negative when no adjustment has been applied yet.
func ShouldAdjust(score, predicted float64, trend domain.Trend, sinceLast, hysteresis time.Duration) bool {
	if sinceLast >= 0 && sinceLast < hysteresis {
		return false
	}
	switch {
	case score < poorScore || predicted < poorPrediction:
		return true
	case score > headroomScore && trend == domain.TrendStable:
		return true
	case trend == domain.TrendDegrading:
		return true
	}
	return false
}

// ComputeAdjustment derives target encoder settings from the current ones.
// The result always satisfies ClampSettings.
func ComputeAdjustment(score float64, trend domain.Trend, current domain.EncoderSettings) (domain.AdjustmentKind, domain.EncoderSettings) {
	target := current

	switch {
	case score < poorScore:
		target.Bitrate = scaleInt(current.Bitrate, 0.8)
		if score < resolutionDropScore {
			target.Width = max(scaleInt(current.Width, 0.8), reduceMinWidth)
			target.Height = max(scaleInt(current.Height, 0.8), reduceMinHeight)
		}
		if score < frameRateDropScore {
			target.FPS = max(current.FPS-5, MinFPS)
		}
		return domain.AdjustReduce, ClampSettings(target)

	case score > increaseScore && trend == domain.TrendStable:
		target.Bitrate = scaleInt(current.Bitrate, 1.1)
		if current.Width < increaseMaxWidth && target.Bitrate < increaseBitrateCeiling {
			target.Width = min(scaleInt(current.Width, 1.1), increaseMaxWidth)
			target.Height = min(scaleInt(current.Height, 1.1), increaseMaxHeight)
		}
		if current.FPS < MaxFPS && score > frameRateRaiseScore {
			target.FPS = min(current.FPS+5, MaxFPS)
		}
		return domain.AdjustIncrease, ClampSettings(target)
	}

	return domain.AdjustMaintain, ClampSettings(target)
}

// ClampSettings enforces the hard encoder bounds. Height is always derived
// from width at 16:9.
func ClampSettings(s domain.EncoderSettings) domain.EncoderSettings {
	s.Bitrate = clampInt(s.Bitrate, MinBitrate, MaxBitrate)
	s.Width = clampInt(s.Width, MinWidth, MaxWidth)
	s.Height = int(math.Round(float64(s.Width) * 9 / 16))
	s.FPS = clampInt(s.FPS, MinFPS, MaxFPS)
	return s
}

// Decide runs one full evaluation over a chronological score history.
func Decide(scores []float64, current domain.EncoderSettings, window int, sinceLast, hysteresis time.Duration, now time.Time) domain.QualityDecision {
	d := domain.QualityDecision{
		Timestamp:      now,
		PredictedScore: neutralPrediction,
		Trend:          domain.TrendStable,
		Adjustment:     domain.AdjustMaintain,
		Target:         current,
	}
	if len(scores) == 0 {
		return d
	}

	d.Score = scores[len(scores)-1]
	d.Trend = DetectTrend(scores, window)
	d.PredictedScore = PredictScore(d.Score, d.Trend, len(scores))
	d.ShouldAdjust = ShouldAdjust(d.Score, d.PredictedScore, d.Trend, sinceLast, hysteresis)
	if d.ShouldAdjust {
		d.Adjustment, d.Target = ComputeAdjustment(d.Score, d.Trend, current)
	}
	return d
}

func scaleInt(v int, f float64) int {
	return int(math.Round(float64(v) * f))
}

func clampFloat(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func clampInt(v, lo, hi int) int {
	return max(lo, min(hi, v))
}
