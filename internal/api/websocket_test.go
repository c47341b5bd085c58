package api

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestWebsocketStreamsSnapshots(t *testing.T) {
	server := newTestAPIServer(t)
	token := registerAndLogin(t, server.URL)

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("ws dial: %v", err)
	}
	defer conn.Close()

	// Give the handler a beat to subscribe, then trigger activity. The demo
	// tick publishes a snapshot on its own if the command races the subscribe.
	time.Sleep(100 * time.Millisecond)
	order := map[string]any{"symbol": "BTCUSDT", "side": "BUY", "type": "MARKET", "quantity": 0.01}
	if code := doJSONRequest(t, http.MethodPost, server.URL+"/api/orders", token, order, nil); code != http.StatusCreated {
		t.Fatalf("place order status = %d", code)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	sawSnapshot := false
	for !sawSnapshot {
		var env struct {
			Type    string         `json:"type"`
			Payload map[string]any `json:"payload"`
		}
		if err := conn.ReadJSON(&env); err != nil {
			t.Fatalf("ws read: %v", err)
		}
		if env.Type != "snapshot" {
			continue
		}
		sawSnapshot = true
		if _, ok := env.Payload["tickers"]; !ok {
			t.Fatalf("snapshot envelope missing tickers: %v", env.Payload)
		}
		if env.Payload["mode"] != "DEMO" {
			t.Fatalf("snapshot mode = %v, want DEMO", env.Payload["mode"])
		}
	}
}
