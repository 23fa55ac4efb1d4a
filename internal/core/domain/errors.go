package domain

import "errors"

var (
	ErrEmptyTargetList     = errors.New("no connections configured")
	ErrCaptureNotReady     = errors.New("audio and video capture are not running")
	ErrNetworkUnavailable  = errors.New("network is not available")
	ErrBroadcastActive     = errors.New("broadcast already active")
	ErrConnectionRejected  = errors.New("engine rejected connection")
	ErrConnectionNotFound  = errors.New("connection not found")
	ErrUnknownSetting      = errors.New("unknown setting")
	ErrInvalidSettingValue = errors.New("invalid setting value")
	ErrResolutionIndex     = errors.New("resolution index out of range")
)
