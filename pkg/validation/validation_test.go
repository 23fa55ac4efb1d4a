package validation

import (
	"strings"
	"testing"
	"time"

	"livecast/internal/core/domain"
)

func TestValidateConnection(t *testing.T) {
	tests := []struct {
		name    string
		conn    domain.Connection
		wantErr bool
	}{
		{"rtmp", domain.Connection{Name: "main", URL: "rtmp://live.example.com/app/key", Protocol: domain.ProtocolRTMP}, false},
		{"rtmps inferred", domain.Connection{Name: "main", URL: "rtmps://live.example.com/app/key"}, false},
		{"srt with options", domain.Connection{
			Name: "srt", URL: "srt://10.0.0.1:9000", Protocol: domain.ProtocolSRT,
			SRT: &domain.SRTOptions{Latency: 120 * time.Millisecond, Passphrase: "0123456789", KeyLength: 16},
		}, false},
		{"rist", domain.Connection{
			Name: "rist", URL: "rist://10.0.0.1:5000", Protocol: domain.ProtocolRIST,
			RIST: &domain.RISTOptions{Profile: domain.RISTProfileMain},
		}, false},
		{"empty name", domain.Connection{URL: "rtmp://a/b"}, true},
		{"empty url", domain.Connection{Name: "x"}, true},
		{"no host", domain.Connection{Name: "x", URL: "rtmp:///app"}, true},
		{"scheme mismatch", domain.Connection{Name: "x", URL: "http://a/b", Protocol: domain.ProtocolRTMP}, true},
		{"unknown scheme", domain.Connection{Name: "x", URL: "ftp://a/b"}, true},
		{"missing credentials", domain.Connection{Name: "x", URL: "rtmp://a/b", Auth: domain.AuthAkamai}, true},
		{"credentials present", domain.Connection{Name: "x", URL: "rtmp://a/b", Auth: domain.AuthAkamai, Username: "u", Password: "p"}, false},
		{"srt options on rtmp", domain.Connection{Name: "x", URL: "rtmp://a/b", SRT: &domain.SRTOptions{}}, true},
		{"short passphrase", domain.Connection{
			Name: "x", URL: "srt://a:1", SRT: &domain.SRTOptions{Passphrase: "short"},
		}, true},
		{"bad rist profile", domain.Connection{
			Name: "x", URL: "rist://a:1", RIST: &domain.RISTOptions{Profile: 7},
		}, true},
		{"bad mode", domain.Connection{Name: "x", URL: "rtmp://a/b", Mode: "data"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateConnection(tt.conn)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateConnection() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateConnectionName(t *testing.T) {
	if err := ValidateConnectionName("Primary ingest-1"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := ValidateConnectionName(strings.Repeat("a", 65)); err == nil {
		t.Error("expected error for long name")
	}
	if err := ValidateConnectionName("bad<name>"); err == nil {
		t.Error("expected error for invalid characters")
	}
}

func TestParseSize(t *testing.T) {
	w, h, err := ParseSize("1920x1080")
	if err != nil || w != 1920 || h != 1080 {
		t.Errorf("ParseSize() = %d, %d, %v", w, h, err)
	}
	for _, bad := range []string{"", "1920", "x1080", "0x0", "-1x5"} {
		if _, _, err := ParseSize(bad); err == nil {
			t.Errorf("ParseSize(%q) should fail", bad)
		}
	}
}

func TestValidateBitrate(t *testing.T) {
	tests := []struct {
		bps     int
		wantErr bool
	}{
		{500_000, false},
		{10_000_000, false},
		{99_999, true},
		{60_000_000, true},
	}
	for _, tt := range tests {
		if err := ValidateBitrate(tt.bps); (err != nil) != tt.wantErr {
			t.Errorf("ValidateBitrate(%d) error = %v, wantErr %v", tt.bps, err, tt.wantErr)
		}
	}
}

func TestValidateSettingKey(t *testing.T) {
	if err := ValidateSettingKey("stream_video_bitrate"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	for _, bad := range []string{"", "Stream", "1key", "key with space"} {
		if err := ValidateSettingKey(bad); err == nil {
			t.Errorf("ValidateSettingKey(%q) should fail", bad)
		}
	}
}

func TestValidateZoomAndFrameRate(t *testing.T) {
	if err := ValidateZoom(2.5); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := ValidateZoom(0.5); err == nil {
		t.Error("expected zoom below 1 to fail")
	}
	if err := ValidateFrameRate(0); err == nil {
		t.Error("expected fps 0 to fail")
	}
}
