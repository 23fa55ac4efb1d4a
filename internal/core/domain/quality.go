package domain

import "time"

type Trend int

const (
	TrendStable Trend = iota
	TrendImproving
	TrendDegrading
)

func (t Trend) String() string {
	switch t {
	case TrendImproving:
		return "IMPROVING"
	case TrendDegrading:
		return "DEGRADING"
	default:
		return "STABLE"
	}
}

type AdjustmentKind int

const (
	AdjustMaintain AdjustmentKind = iota
	AdjustIncrease
	AdjustReduce
)

func (k AdjustmentKind) String() string {
	switch k {
	case AdjustIncrease:
		return "INCREASE"
	case AdjustReduce:
		return "REDUCE"
	default:
		return "MAINTAIN"
	}
}

// EncoderSettings are the encoding parameters the quality controller tunes.
type EncoderSettings struct {
	Bitrate int `json:"bitrate"` // bits per second
	Width   int `json:"width"`
	Height  int `json:"height"`
	FPS     int `json:"fps"`
}

type QualityDecision struct {
	Timestamp      time.Time
	Score          float64
	PredictedScore float64
	Trend          Trend
	ShouldAdjust   bool
	Adjustment     AdjustmentKind
	Target         EncoderSettings
}
