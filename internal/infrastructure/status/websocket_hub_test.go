package status

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"livecast/internal/core/domain"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) map[string]json.RawMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg map[string]json.RawMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func waitForClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return h.ClientCount() == n }, 2*time.Second, 10*time.Millisecond)
}

func TestHub_NewSubscriberGetsLastStatus(t *testing.T) {
	h := NewHub(DefaultHubConfig(), zaptest.NewLogger(t).Sugar())
	srv := httptest.NewServer(h)
	defer srv.Close()
	defer h.Close()

	h.PublishStatus(domain.StatusUpdate{SessionID: "s-1", ElapsedText: "00:00:05"})

	conn := dial(t, srv)
	defer conn.Close()

	msg := readMessage(t, conn)
	assert.JSONEq(t, `"status"`, string(msg["type"]))
	var update domain.StatusUpdate
	require.NoError(t, json.Unmarshal(msg["payload"], &update))
	assert.Equal(t, "s-1", update.SessionID)
}

func TestHub_BroadcastsNotices(t *testing.T) {
	h := NewHub(DefaultHubConfig(), zaptest.NewLogger(t).Sugar())
	srv := httptest.NewServer(h)
	defer srv.Close()
	defer h.Close()

	a, b := dial(t, srv), dial(t, srv)
	defer a.Close()
	defer b.Close()
	waitForClients(t, h, 2)

	h.PublishNotice(domain.Notice{ConnectionName: "backup", Message: "connection lost", Kind: "transport"})

	for _, conn := range []*websocket.Conn{a, b} {
		msg := readMessage(t, conn)
		assert.JSONEq(t, `"notice"`, string(msg["type"]))
	}
}

func TestHub_SlowSubscriberIsDropped(t *testing.T) {
	cfg := DefaultHubConfig()
	cfg.ClientBuffer = 1
	h := NewHub(cfg, zaptest.NewLogger(t).Sugar())

	c := &client{id: "slow", send: make(chan []byte, 1)}
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()

	h.PublishChange(domain.ConfigurationChange{Key: "stream_video_fps", NewValue: 25})
	assert.Equal(t, 1, h.ClientCount())

	h.PublishChange(domain.ConfigurationChange{Key: "stream_video_fps", NewValue: 30})
	assert.Equal(t, 0, h.ClientCount())
}

func TestHub_CheckOrigin(t *testing.T) {
	cfg := DefaultHubConfig()
	cfg.AllowedOrigins = []string{"dashboard.local:8080"}
	h := NewHub(cfg, nil)

	req := httptest.NewRequest("GET", "/ws/status", nil)
	req.Header.Set("Origin", "http://dashboard.local:8080")
	assert.True(t, h.checkOrigin(req))

	req.Header.Set("Origin", "http://evil.example")
	assert.False(t, h.checkOrigin(req))
}
