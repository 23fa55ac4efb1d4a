package domain

import (
	"fmt"
	"time"
)

type SettingCategory string

const (
	CategoryStreaming SettingCategory = "streaming"
	CategoryRecording SettingCategory = "recording"
	CategoryAudio     SettingCategory = "audio"
	CategoryVisual    SettingCategory = "visual"
	CategoryNetwork   SettingCategory = "network"
	CategoryAdvanced  SettingCategory = "advanced"
)

// ConfigurationChange describes one runtime setting mutation.
type ConfigurationChange struct {
	Key             string          `json:"key"`
	OldValue        interface{}     `json:"old_value"`
	NewValue        interface{}     `json:"new_value"`
	Category        SettingCategory `json:"category"`
	Reason          string          `json:"reason"`
	Timestamp       time.Time       `json:"timestamp"`
	RequiresRestart bool            `json:"requires_restart"`
}

// Resolutions is the fixed index -> "WxH" lookup table shared by streaming
// and recording resolution changes.
var Resolutions = [...]string{
	"480x360",
	"640x480",
	"854x480",
	"960x540",
	"1280x720",
	"1920x1080",
	"2560x1440",
	"3840x2160",
}

// ResolutionAt returns the "WxH" entry for index.
func ResolutionAt(index int) (string, error) {
	if index < 0 || index >= len(Resolutions) {
		return "", fmt.Errorf("%w: %d", ErrResolutionIndex, index)
	}
	return Resolutions[index], nil
}

// ResolutionIndex is the inverse of ResolutionAt.
func ResolutionIndex(size string) (int, bool) {
	for i, s := range Resolutions {
		if s == size {
			return i, true
		}
	}
	return -1, false
}
