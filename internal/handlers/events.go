package handlers

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"aggronation/internal/events"
	"aggronation/pkg/logging"
)

const (
	defaultRecentLimit = 50
	defaultHeartbeat   = 30 * time.Second
	listenerBuffer     = 64
)

// EventsHandler serves recent history and live streams of bus events.
type EventsHandler struct {
	bus       *events.Bus
	heartbeat time.Duration
	logger    logging.Logger
}

func NewEventsHandler(bus *events.Bus, heartbeat time.Duration, logger logging.Logger) *EventsHandler {
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
	return &EventsHandler{bus: bus, heartbeat: heartbeat, logger: logger}
}

// Recent returns up to limit buffered events, oldest first.
func (h *EventsHandler) Recent(c *gin.Context) {
	limit := defaultRecentLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}
	if limit > h.bus.Capacity() {
		limit = h.bus.Capacity()
	}

	recent := h.bus.RecentEvents(limit)
	c.JSON(http.StatusOK, gin.H{"events": recent, "count": len(recent)})
}

// Stream pushes every subsequent event as server-sent events, plus a
// heartbeat event on a fixed period. Nothing is replayed on connect.
func (h *EventsHandler) Stream(c *gin.Context) {
	eventType := streamType(c)
	listener := h.bus.Listen(eventType, listenerBuffer)
	defer listener.Close()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	h.logger.WithField("event_type", eventType).Debug("Event stream opened")

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	ctx := c.Request.Context()
	c.Stream(func(_ io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case evt := <-listener.C:
			c.SSEvent(evt.Type, evt)
			return true
		case now := <-heartbeat.C:
			c.SSEvent("heartbeat", gin.H{"timestamp": now.UTC()})
			return true
		}
	})

	h.logger.WithFields(logging.Fields{
		"event_type": eventType,
		"dropped":    listener.Dropped(),
	}).Debug("Event stream closed")
}

func streamType(c *gin.Context) string {
	if t := c.Query("type"); t != "" {
		return t
	}
	return events.TypeAll
}
