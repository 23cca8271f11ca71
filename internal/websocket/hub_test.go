package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cardauth/internal/config"
)

func testWSConfig() config.WebSocketConfig {
	return config.WebSocketConfig{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		PingPeriod:      30 * time.Second,
		PongWait:        60 * time.Second,
	}
}

// dialTestHub stands up a hub behind an httptest server and dials it
func dialTestHub(t *testing.T) (*Hub, *websocket.Conn) {
	t.Helper()

	hub := NewHub(nil)
	hub.Start()
	t.Cleanup(hub.Stop)

	upgrader := NewUpgrader(hub, testWSConfig(), nil)
	srv := httptest.NewServer(upgrader)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })

	// Registration goes through the hub loop; wait for it to land
	require.Eventually(t, func() bool {
		return hub.ClientCount() == 1
	}, time.Second, 10*time.Millisecond)

	return hub, conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestHubBroadcastReachesClient(t *testing.T) {
	hub, conn := dialTestHub(t)

	hub.Broadcast(TypeAuthStatus, map[string]any{"loggedIn": true})

	msg := readMessage(t, conn)
	assert.Equal(t, TypeAuthStatus, msg.Type)
	assert.False(t, msg.Timestamp.IsZero())

	payload, ok := msg.Payload.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, true, payload["loggedIn"])
}

func TestHubClientDisconnect(t *testing.T) {
	hub, conn := dialTestHub(t)

	conn.Close()

	assert.Eventually(t, func() bool {
		return hub.ClientCount() == 0
	}, time.Second, 10*time.Millisecond)
}

func TestHubBroadcastAfterStop(t *testing.T) {
	hub := NewHub(nil)
	hub.Start()
	hub.Stop()

	// Must not block or panic with no loop running
	hub.Broadcast(TypeNotification, notificationPayload{Level: LevelError, Message: "x"})
	assert.Equal(t, 0, hub.ClientCount())
}

func TestHubStartIdempotent(t *testing.T) {
	hub := NewHub(nil)
	hub.Start()
	hub.Start()
	hub.Stop()
	hub.Stop()
}

func TestNotifierBroadcastsLevels(t *testing.T) {
	hub, conn := dialTestHub(t)
	notifier := NewNotifier(hub)

	notifier.Success(context.Background(), "Login successful. Valid until: permanent")
	msg := readMessage(t, conn)
	assert.Equal(t, TypeNotification, msg.Type)
	payload := msg.Payload.(map[string]interface{})
	assert.Equal(t, LevelSuccess, payload["level"])
	assert.Equal(t, "Login successful. Valid until: permanent", payload["message"])

	notifier.Error(context.Background(), "verification failed")
	msg = readMessage(t, conn)
	payload = msg.Payload.(map[string]interface{})
	assert.Equal(t, LevelError, payload["level"])
}

func TestUpgradeAfterStopClosesConnection(t *testing.T) {
	hub := NewHub(nil)
	hub.Start()
	hub.Stop()

	upgrader := NewUpgrader(hub, testWSConfig(), nil)
	srv := httptest.NewServer(upgrader)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if resp != nil {
		resp.Body.Close()
	}
	if err != nil {
		// The handler tore the connection down before the handshake
		// completed; nothing registered either way.
		assert.Equal(t, 0, hub.ClientCount())
		return
	}
	t.Cleanup(func() { conn.Close() })

	// The handler must hand the connection back immediately rather than
	// park on registration, so the peer sees the socket close.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err)
	assert.Equal(t, 0, hub.ClientCount())
}

func TestUpgraderRejectsPlainHTTP(t *testing.T) {
	hub := NewHub(nil)
	hub.Start()
	t.Cleanup(hub.Stop)

	upgrader := NewUpgrader(hub, testWSConfig(), nil)
	srv := httptest.NewServer(upgrader)
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
