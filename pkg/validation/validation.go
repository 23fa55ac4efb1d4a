package validation

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"livecast/internal/core/domain"
)

var (
	// ConnectionNameRegex validates display names used in status lines and metrics labels
	ConnectionNameRegex = regexp.MustCompile(`^[a-zA-Z0-9 _.\-]+$`)

	// SettingKeyRegex validates preference keys
	SettingKeyRegex = regexp.MustCompile(`^[a-z][a-z0-9_.]*$`)
)

var allowedSchemes = map[domain.Protocol][]string{
	domain.ProtocolRTMP: {"rtmp", "rtmps"},
	domain.ProtocolRTSP: {"rtsp", "rtsps"},
	domain.ProtocolSRT:  {"srt"},
	domain.ProtocolRIST: {"rist"},
}

// ProtocolForScheme infers the protocol from a URL scheme.
func ProtocolForScheme(scheme string) (domain.Protocol, bool) {
	scheme = strings.ToLower(scheme)
	for proto, schemes := range allowedSchemes {
		for _, s := range schemes {
			if s == scheme {
				return proto, true
			}
		}
	}
	return "", false
}

// ValidateConnection checks everything that can be known about a target
// before it is handed to the engine.
func ValidateConnection(c domain.Connection) error {
	if err := ValidateConnectionName(c.Name); err != nil {
		return err
	}

	u, err := ValidateStreamURL(c.URL)
	if err != nil {
		return err
	}

	proto := c.Protocol
	if proto == "" {
		inferred, ok := ProtocolForScheme(u.Scheme)
		if !ok {
			return fmt.Errorf("unsupported URL scheme %q", u.Scheme)
		}
		proto = inferred
	}
	schemes, ok := allowedSchemes[proto]
	if !ok {
		return fmt.Errorf("unsupported protocol %q", proto)
	}
	if !containsFold(schemes, u.Scheme) {
		return fmt.Errorf("URL scheme %q does not match protocol %s", u.Scheme, proto)
	}

	switch c.Mode {
	case "", domain.ModeAudioVideo, domain.ModeAudioOnly, domain.ModeVideoOnly:
	default:
		return fmt.Errorf("invalid mode %q", c.Mode)
	}

	switch c.Auth {
	case "", domain.AuthNone, domain.AuthDefault, domain.AuthLimelight,
		domain.AuthPeriscope, domain.AuthRTMP, domain.AuthAkamai:
	default:
		return fmt.Errorf("invalid auth kind %q", c.Auth)
	}
	if c.RequiresCredentials() {
		if strings.TrimSpace(c.Username) == "" || c.Password == "" {
			return fmt.Errorf("auth %s requires username and password", c.Auth)
		}
	}

	if c.SRT != nil {
		if proto != domain.ProtocolSRT {
			return fmt.Errorf("srt options set on %s connection", proto)
		}
		if err := ValidateSRTOptions(*c.SRT); err != nil {
			return err
		}
	}
	if c.RIST != nil {
		if proto != domain.ProtocolRIST {
			return fmt.Errorf("rist options set on %s connection", proto)
		}
		if err := ValidateRISTProfile(c.RIST.Profile); err != nil {
			return err
		}
	}
	return nil
}

// ValidateConnectionName validates connection display name
func ValidateConnectionName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("connection name is required")
	}
	if utf8.RuneCountInString(name) > 64 {
		return fmt.Errorf("connection name is too long (max 64 characters)")
	}
	if !ConnectionNameRegex.MatchString(name) {
		return fmt.Errorf("connection name contains invalid characters")
	}
	return nil
}

// ValidateStreamURL validates an ingest URL and returns it parsed
func ValidateStreamURL(urlStr string) (*url.URL, error) {
	if strings.TrimSpace(urlStr) == "" {
		return nil, fmt.Errorf("URL is required")
	}
	u, err := url.Parse(urlStr)
	if err != nil {
		return nil, fmt.Errorf("invalid URL format: %w", err)
	}
	if u.Scheme == "" {
		return nil, fmt.Errorf("URL must have a scheme")
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("URL must have a host")
	}
	return u, nil
}

// ValidateSRTOptions validates SRT socket options
func ValidateSRTOptions(o domain.SRTOptions) error {
	if o.Latency < 0 || o.Latency > 8*time.Second {
		return fmt.Errorf("srt latency must be within [0, 8s]")
	}
	if o.MaxBandwidth < 0 {
		return fmt.Errorf("srt max bandwidth must be >= 0")
	}
	if o.Passphrase != "" {
		n := len(o.Passphrase)
		if n < 10 || n > 79 {
			return fmt.Errorf("srt passphrase must be 10 to 79 characters")
		}
	}
	switch o.KeyLength {
	case 0, 16, 24, 32:
	default:
		return fmt.Errorf("srt key length must be 16, 24 or 32")
	}
	if len(o.StreamID) > 512 {
		return fmt.Errorf("srt stream id is too long (max 512 characters)")
	}
	return nil
}

// ValidateRISTProfile validates RIST profile
func ValidateRISTProfile(p domain.RISTProfile) error {
	if p < domain.RISTProfileSimple || p > domain.RISTProfileAdvanced {
		return fmt.Errorf("invalid rist profile %d", p)
	}
	return nil
}

// ValidateBitrate validates a video bitrate in bits per second
func ValidateBitrate(bps int) error {
	if bps < 100_000 {
		return fmt.Errorf("bitrate must be at least 100000 bps")
	}
	if bps > 50_000_000 {
		return fmt.Errorf("bitrate is too high (max 50000000 bps)")
	}
	return nil
}

// ValidateAudioBitrate validates an audio bitrate in bits per second
func ValidateAudioBitrate(bps int) error {
	if bps < 8_000 || bps > 512_000 {
		return fmt.Errorf("audio bitrate must be within [8000, 512000] bps")
	}
	return nil
}

// ValidateFrameRate validates frame rate
func ValidateFrameRate(fps int) error {
	if fps < 1 || fps > 120 {
		return fmt.Errorf("frame rate must be within [1, 120]")
	}
	return nil
}

// ParseSize parses a "WxH" string
func ParseSize(size string) (width, height int, err error) {
	if _, err := fmt.Sscanf(strings.ToLower(strings.TrimSpace(size)), "%dx%d", &width, &height); err != nil {
		return 0, 0, fmt.Errorf("invalid size %q: %w", size, err)
	}
	if width <= 0 || height <= 0 {
		return 0, 0, fmt.Errorf("invalid size %q", size)
	}
	return width, height, nil
}

// ValidateSettingKey validates preference key
func ValidateSettingKey(key string) error {
	if key == "" {
		return fmt.Errorf("setting key is required")
	}
	if len(key) > 100 {
		return fmt.Errorf("setting key is too long (max 100 characters)")
	}
	if !SettingKeyRegex.MatchString(key) {
		return fmt.Errorf("invalid setting key format")
	}
	return nil
}

// ValidateZoom validates zoom level
func ValidateZoom(level float64) error {
	if level < 1.0 || level > 16.0 {
		return fmt.Errorf("zoom level must be within [1, 16]")
	}
	return nil
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
