package domain

import (
	"time"
)

// ConnectionID is assigned by the streaming engine when a connection is created.
type ConnectionID int

// InvalidConnectionID is returned by the engine when a connection could not be created.
const InvalidConnectionID ConnectionID = -1

type Protocol string

const (
	ProtocolRTMP Protocol = "rtmp"
	ProtocolRTSP Protocol = "rtsp"
	ProtocolSRT  Protocol = "srt"
	ProtocolRIST Protocol = "rist"
)

type Mode string

const (
	ModeAudioVideo Mode = "audio_video"
	ModeVideoOnly  Mode = "video"
	ModeAudioOnly  Mode = "audio"
)

type AuthKind string

const (
	AuthNone      AuthKind = "none"
	AuthDefault   AuthKind = "default"
	AuthLimelight AuthKind = "llnw"
	AuthPeriscope AuthKind = "periscope"
	AuthRTMP      AuthKind = "rtmp"
	AuthAkamai    AuthKind = "akamai"
)

type SRTOptions struct {
	Latency      time.Duration `yaml:"latency" json:"latency"`
	MaxBandwidth int64         `yaml:"max_bandwidth" json:"max_bandwidth"`
	Passphrase   string        `yaml:"passphrase" json:"passphrase,omitempty"`
	KeyLength    int           `yaml:"key_length" json:"key_length,omitempty"`
	StreamID     string        `yaml:"stream_id" json:"stream_id,omitempty"`
}

type RISTProfile int

const (
	RISTProfileSimple RISTProfile = iota
	RISTProfileMain
	RISTProfileAdvanced
)

type RISTOptions struct {
	Profile RISTProfile `yaml:"profile" json:"profile"`
}

// Connection is one configured outbound publishing target.
type Connection struct {
	Name     string       `yaml:"name" json:"name"`
	URL      string       `yaml:"url" json:"url"`
	Protocol Protocol     `yaml:"protocol" json:"protocol"`
	Mode     Mode         `yaml:"mode" json:"mode"`
	Auth     AuthKind     `yaml:"auth" json:"auth"`
	Username string       `yaml:"username" json:"username,omitempty"`
	Password string       `yaml:"password" json:"password,omitempty"`
	SRT      *SRTOptions  `yaml:"srt,omitempty" json:"srt,omitempty"`
	RIST     *RISTOptions `yaml:"rist,omitempty" json:"rist,omitempty"`
}

// RequiresCredentials reports whether the auth kind needs a username/password pair.
func (c Connection) RequiresCredentials() bool {
	return c.Auth != "" && c.Auth != AuthNone
}

// ActiveConnection is a connection registered with the engine under an id.
type ActiveConnection struct {
	ID           ConnectionID
	Config       Connection
	State        ConnectionState
	RegisteredAt time.Time
}

type ConnectionState int

const (
	StateInitialized ConnectionState = iota
	StateConnected
	StateSetup
	StateRecord
	StateIdle
	StateDisconnected
)

func (s ConnectionState) String() string {
	switch s {
	case StateInitialized:
		return "INITIALIZED"
	case StateConnected:
		return "CONNECTED"
	case StateSetup:
		return "SETUP"
	case StateRecord:
		return "RECORD"
	case StateIdle:
		return "IDLE"
	case StateDisconnected:
		return "DISCONNECTED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether the state ends the current connection attempt.
func (s ConnectionState) Terminal() bool {
	return s == StateIdle || s == StateDisconnected
}

// Status is the engine-reported outcome attached to a state change.
type Status int

const (
	StatusSuccess Status = iota
	StatusConnectionFailed
	StatusAuthFailed
	StatusUnknownFailure
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "SUCCESS"
	case StatusConnectionFailed:
		return "CONN_FAIL"
	case StatusAuthFailed:
		return "AUTH_FAIL"
	default:
		return "UNKNOWN_FAIL"
	}
}
