package api

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opspulse/opspulse/pkg/models"
)

func TestWebSocketAlertFeed(t *testing.T) {
	server, _, manager := newTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go server.hub.Run(ctx)

	ts := httptest.NewServer(server.Router())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/ws"

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)

	defer func() {
		_ = resp.Body.Close()
		_ = conn.Close()
	}()

	// Give the hub a moment to register the client before broadcasting.
	require.Eventually(t, func() bool {
		server.hub.mu.RLock()
		defer server.hub.mu.RUnlock()

		return len(server.hub.clients) == 1
	}, time.Second, 10*time.Millisecond)

	manager.SetOnAlert(server.hub.BroadcastAlert)
	server.hub.BroadcastAlert(models.AlertInstance{
		Type:         "high_error_rate",
		Severity:     models.SeverityCritical,
		Message:      "API error rate is 6.0% (threshold 5.0%)",
		Timestamp:    time.Now(),
		Threshold:    5,
		CurrentValue: 6,
	})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg struct {
		Type  string               `json:"type"`
		Alert models.AlertInstance `json:"alert"`
	}

	require.NoError(t, json.Unmarshal(payload, &msg))
	assert.Equal(t, "alert", msg.Type)
	assert.Equal(t, "high_error_rate", msg.Alert.Type)
	assert.InDelta(t, 6.0, msg.Alert.CurrentValue, 0.001)
}

// Broadcasts racing keepalive pings must go through the same writer; run
// under -race this catches any second goroutine touching the connection.
func TestWebSocketBroadcastDuringPings(t *testing.T) {
	server, _, _ := newTestServer(t)
	server.hub.pingInterval = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go server.hub.Run(ctx)

	ts := httptest.NewServer(server.Router())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/ws"

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)

	defer func() {
		_ = resp.Body.Close()
		_ = conn.Close()
	}()

	require.Eventually(t, func() bool {
		server.hub.mu.RLock()
		defer server.hub.mu.RUnlock()

		return len(server.hub.clients) == 1
	}, time.Second, 10*time.Millisecond)

	const broadcasts = 50

	done := make(chan struct{})

	go func() {
		defer close(done)

		for i := 0; i < broadcasts; i++ {
			server.hub.BroadcastAlert(models.AlertInstance{
				Type:      "high_error_rate",
				Severity:  models.SeverityWarning,
				Message:   "API error rate is 6.0% (threshold 5.0%)",
				Timestamp: time.Now(),
			})
			time.Sleep(time.Millisecond)
		}
	}()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	// Pings are handled by the default handler inside ReadMessage; only the
	// broadcast frames surface here.
	received := 0
	for received < broadcasts {
		_, payload, err := conn.ReadMessage()
		require.NoError(t, err)

		var msg struct {
			Type string `json:"type"`
		}

		require.NoError(t, json.Unmarshal(payload, &msg))
		require.Equal(t, "alert", msg.Type)
		received++
	}

	<-done
}
