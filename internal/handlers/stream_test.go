package handlers

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aggronation/internal/events"
)

func TestEventStreamForwardsEventsAndHeartbeats(t *testing.T) {
	h := newHarness(t)
	srv := httptest.NewServer(h.router)
	defer srv.Close()

	h.bus.Emit(events.Event{Type: events.TypeIngestion, Action: events.ActionCompleted, SourceID: "before-connect"})

	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/events/stream?type=ingestion", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	require.Equal(t, 1, h.bus.SubscriberCount())

	h.bus.Emit(events.Event{Type: events.TypeHealth, Action: events.ActionUpdated, SourceID: "filtered"})
	h.bus.Emit(events.Event{Type: events.TypeIngestion, Action: events.ActionFailed, SourceID: "live"})

	lines := make(chan string, 64)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	var sawEvent, sawHeartbeat bool
	timeout := time.After(5 * time.Second)
	for !(sawEvent && sawHeartbeat) {
		select {
		case line, ok := <-lines:
			require.True(t, ok, "stream closed early")
			assert.NotContains(t, line, "before-connect", "history must not be replayed")
			assert.NotContains(t, line, "filtered")
			if strings.Contains(line, `"source_id":"live"`) {
				sawEvent = true
			}
			if strings.HasPrefix(line, "event:heartbeat") {
				sawHeartbeat = true
			}
		case <-timeout:
			t.Fatalf("event=%v heartbeat=%v", sawEvent, sawHeartbeat)
		}
	}

	cancel()
	assert.Eventually(t, func() bool { return h.bus.SubscriberCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestWebSocketStream(t *testing.T) {
	h := newHarness(t)
	srv := httptest.NewServer(h.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return h.bus.SubscriberCount() == 1 }, 2*time.Second, 5*time.Millisecond)
	h.bus.Emit(events.Event{Type: events.TypeContent, Action: events.ActionCreated, SourceID: "s1"})

	var sawEvent, sawHeartbeat bool
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for !(sawEvent && sawHeartbeat) {
		var msg StreamMessage
		require.NoError(t, conn.ReadJSON(&msg))
		switch msg.Type {
		case MessageTypeEvent:
			require.NotNil(t, msg.Event)
			assert.Equal(t, "s1", msg.Event.SourceID)
			assert.Equal(t, events.ActionCreated, msg.Event.Action)
			sawEvent = true
		case MessageTypeHeartbeat:
			sawHeartbeat = true
		}
	}

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return h.bus.SubscriberCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}
