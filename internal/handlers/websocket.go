package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"aggronation/internal/events"
	"aggronation/pkg/logging"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Clients only send control frames
	maxMessageSize = 512
)

const (
	MessageTypeEvent     = "event"
	MessageTypeHeartbeat = "heartbeat"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// StreamMessage is one frame on the websocket stream.
type StreamMessage struct {
	Type      string        `json:"type"`
	Event     *events.Event `json:"event,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// WebSocket forwards subsequent events and periodic heartbeats over a
// websocket. The subscription is released when the peer goes away.
func (h *EventsHandler) WebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.WithError(err).Error("Failed to upgrade WebSocket connection")
		return
	}
	defer conn.Close()

	eventType := streamType(c)
	listener := h.bus.Listen(eventType, listenerBuffer)
	defer listener.Close()

	h.logger.WithField("event_type", eventType).Info("WebSocket client connected")

	gone := make(chan struct{})
	go readPump(conn, gone, h.logger)

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-gone:
			h.logger.WithField("dropped", listener.Dropped()).Info("WebSocket client disconnected")
			return
		case evt := <-listener.C:
			if err := writeJSON(conn, StreamMessage{Type: MessageTypeEvent, Event: &evt, Timestamp: evt.Timestamp}); err != nil {
				return
			}
		case now := <-heartbeat.C:
			if err := writeJSON(conn, StreamMessage{Type: MessageTypeHeartbeat, Timestamp: now.UTC()}); err != nil {
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func writeJSON(conn *websocket.Conn, msg StreamMessage) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(msg)
}

// readPump discards inbound frames and closes gone once the peer is lost.
func readPump(conn *websocket.Conn, gone chan<- struct{}, logger logging.Logger) {
	defer close(gone)

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logger.WithError(err).Warn("WebSocket connection error")
			}
			return
		}
	}
}
