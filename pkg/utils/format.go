package utils

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// FormatBandwidth renders bits per second using decimal units.
func FormatBandwidth(bps int64) string {
	switch {
	case bps < 0:
		return "0 bps"
	case bps < 1_000:
		return fmt.Sprintf("%d bps", bps)
	case bps < 1_000_000:
		return fmt.Sprintf("%.2f Kbps", float64(bps)/1e3)
	case bps < 1_000_000_000:
		return fmt.Sprintf("%.2f Mbps", float64(bps)/1e6)
	default:
		return fmt.Sprintf("%.2f Gbps", float64(bps)/1e9)
	}
}

// FormatTraffic renders a byte count using binary units.
func FormatTraffic(bytes int64) string {
	const unit = 1024
	if bytes < 0 {
		bytes = 0
	}
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit && exp < 4; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTP"[exp])
}

// MaskSensitive masks sensitive information
func MaskSensitive(s string, visibleChars int) string {
	if len(s) <= visibleChars {
		return strings.Repeat("*", len(s))
	}
	return s[:visibleChars] + strings.Repeat("*", len(s)-visibleChars)
}

// MaskStreamURL hides credentials, query and the stream key (last path
// segment) of an ingest URL so it can be logged.
func MaskStreamURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return MaskSensitive(raw, 8)
	}
	path := u.Path
	if idx := strings.LastIndex(path, "/"); idx >= 0 && idx < len(path)-1 {
		path = path[:idx+1] + MaskSensitive(path[idx+1:], 2)
	}
	return fmt.Sprintf("%s://%s%s", u.Scheme, u.Host, path)
}

// FormatElapsed renders a broadcast clock as HH:MM:SS. Hours keep growing past 99.
func FormatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total%3600)/60, total%60)
}
