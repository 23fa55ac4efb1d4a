package ports

import (
	"livecast/internal/core/domain"
)

// ConnectionConfig is the generic (RTMP/RTSP) connection request handed to the engine.
type ConnectionConfig struct {
	URI      string
	Mode     domain.Mode
	Auth     domain.AuthKind
	Username string
	Password string
}

type SRTConfig struct {
	Host         string
	Port         int
	Mode         domain.Mode
	Latency      int // milliseconds
	MaxBandwidth int64
	Passphrase   string
	KeyLength    int
	StreamID     string
}

type RISTConfig struct {
	URI     string
	Mode    domain.Mode
	Profile domain.RISTProfile
}

// ConnectionFactory creates and releases outbound connections. Creation is
// asynchronous: a valid id only means registration succeeded, the outcome is
// reported later through the event channel.
type ConnectionFactory interface {
	CreateConnection(cfg ConnectionConfig) domain.ConnectionID
	CreateSRTConnection(cfg SRTConfig) domain.ConnectionID
	CreateRISTConnection(cfg RISTConfig) domain.ConnectionID
	ReleaseConnection(id domain.ConnectionID)
}

// StatsSource exposes the per-connection transport counters.
type StatsSource interface {
	Bandwidth(id domain.ConnectionID) int64
	Traffic(id domain.ConnectionID) int64
	IsPacketLossIncreasing(id domain.ConnectionID) bool
}

type CaptureControl interface {
	IsAudioCaptureStarted() bool
	IsVideoCaptureStarted() bool
	StartRecord() error
	StopRecord()
	SetSilence(muted bool)
	ZoomTo(factor float64) error
}

// StreamingEngine is the native media engine contract the core drives.
type StreamingEngine interface {
	ConnectionFactory
	StatsSource
	CaptureControl
	Events() <-chan domain.ConnectionEvent
}

// EncoderConfigurator receives accepted encoder parameter changes.
type EncoderConfigurator interface {
	SetVideoBitrate(bps int) error
	SetVideoSize(width, height int) error
	SetFrameRate(fps int) error
	SetAudioBitrate(bps int) error
	SetRecordSize(width, height int) error
}

// NetworkMonitor reports device connectivity.
type NetworkMonitor interface {
	IsConnected() bool
}
