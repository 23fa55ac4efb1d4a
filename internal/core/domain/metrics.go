package domain

import "time"

// ConnectionStatistics is a snapshot of the transport counters of one connection.
type ConnectionStatistics struct {
	ConnectionID         ConnectionID
	Name                 string
	Bandwidth            int64 // bits per second
	Traffic              int64 // bytes
	PacketLossIncreasing bool
	UpdatedAt            time.Time
}

// FrameMetrics is delivered by the capture pipeline once per frame-metrics event.
type FrameMetrics struct {
	Timestamp        time.Time
	FPS              float64
	FrameTime        time.Duration
	MemoryPressure   float64 // 0-1
	GPUUtilization   float64 // 0-1
	NetworkStability float64 // 0-1
}

type PerformanceSample struct {
	Timestamp         time.Time
	FPS               float64
	FrameTime         time.Duration
	FrameTimeVariance float64 // ms^2
	Score             float64 // 0-100
	MemoryPressure    float64
	GPUUtilization    float64
	NetworkStability  float64
}
