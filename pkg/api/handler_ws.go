package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/EckmanTechLLC/thereceipts/pkg/events"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const (
	// keepaliveInterval is the server heartbeat period.
	keepaliveInterval = 30 * time.Second
	wsWriteTimeout    = 10 * time.Second
)

// clientMessage is the client → server frame ("ping" keepalives).
type clientMessage struct {
	Type string `json:"type"`
}

// handleWebsocket streams a session's progress events. Subscribing replays
// any events published before the client connected (ring buffer); the
// server sends a keepalive heartbeat and answers client pings with pongs.
func (s *Server) handleWebsocket(c *gin.Context) {
	sessionID := c.Param("session_id")
	if sessionID == "" {
		badRequest(c, "session_id is required")
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Warn("Websocket upgrade failed", "session_id", sessionID, "error", err)
		return
	}
	defer conn.Close()

	ch, cancel := s.deps.Bus.Subscribe(sessionID)
	defer cancel()

	// Read loop: drains client frames and forwards ping requests. All
	// writes stay on the main loop — gorilla connections allow only one
	// concurrent writer.
	done := make(chan struct{})
	pings := make(chan struct{}, 1)
	go func() {
		defer close(done)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var msg clientMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}
			if msg.Type == "ping" {
				select {
				case pings <- struct{}{}:
				default:
				}
			}
		}
	}()

	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-c.Request.Context().Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			if err := writeJSON(conn, event); err != nil {
				slog.Warn("Websocket write failed",
					"session_id", sessionID, "event_type", event.Type, "error", err)
				return
			}
		case <-pings:
			if err := writeJSON(conn, map[string]string{"type": "pong"}); err != nil {
				return
			}
		case <-ticker.C:
			keepalive := events.New(events.EventKeepalive, sessionID)
			if err := writeJSON(conn, keepalive); err != nil {
				return
			}
		}
	}
}

func writeJSON(conn *websocket.Conn, v any) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteJSON(v)
}
