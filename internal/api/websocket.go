package api

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"futures-desk/internal/events"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type wsEnvelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// websocket streams snapshot updates, store row changes, notifications and
// mode transitions to the dashboard, replacing client-side polling for
// reactive views.
func (s *Server) websocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("ws upgrade error: %v", err)
		return
	}
	defer conn.Close()

	if s.Bus == nil {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"bus not ready"}`))
		return
	}

	changes, unsubChanges := s.Bus.Subscribe(events.EventStoreChange, 100)
	defer unsubChanges()
	notifications, unsubNotes := s.Bus.Subscribe(events.EventNotification, 100)
	defer unsubNotes()
	transitions, unsubModes := s.Bus.Subscribe(events.EventModeChange, 8)
	defer unsubModes()
	snapshots, unsubSnaps := s.Bus.Subscribe(events.EventSnapshot, 16)
	defer unsubSnaps()

	// Reader goroutine: we send only, but the close handshake needs a read.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		var env wsEnvelope
		select {
		case msg, ok := <-changes:
			if !ok {
				return
			}
			env = wsEnvelope{Type: "store.change", Payload: msg}
		case msg, ok := <-notifications:
			if !ok {
				return
			}
			env = wsEnvelope{Type: "notification", Payload: msg}
		case msg, ok := <-transitions:
			if !ok {
				return
			}
			env = wsEnvelope{Type: "mode.change", Payload: msg}
		case msg, ok := <-snapshots:
			if !ok {
				return
			}
			env = wsEnvelope{Type: "snapshot", Payload: msg}
		case <-closed:
			return
		}
		if err := conn.WriteJSON(env); err != nil {
			log.Printf("ws write error: %v", err)
			return
		}
	}
}
