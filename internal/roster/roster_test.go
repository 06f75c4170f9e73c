package roster

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubDeliversPerSession(t *testing.T) {
	ctx := context.Background()
	hub := NewHub(4)
	a, cancelA := hub.Subscribe("s1")
	defer cancelA()
	b, cancelB := hub.Subscribe("s2")
	defer cancelB()
	assert.Equal(t, 1, hub.Subscribers("s1"))

	ev, err := NewEvent(EventMarked, "s1", map[string]string{"student_name": "Ada"})
	require.NoError(t, err)
	require.NoError(t, hub.Publish(ctx, ev))

	got := <-a
	assert.Equal(t, EventMarked, got.Type)
	assert.JSONEq(t, `{"student_name":"Ada"}`, string(got.Data))
	select {
	case <-b:
		t.Fatal("s2 subscriber received s1 event")
	default:
	}
}

func TestHubCancelIsIdempotent(t *testing.T) {
	hub := NewHub(1)
	ch, cancel := hub.Subscribe("s1")
	cancel()
	cancel()
	_, ok := <-ch
	assert.False(t, ok)
	assert.Zero(t, hub.Subscribers("s1"))
	require.NoError(t, hub.Publish(context.Background(), Event{Type: EventMarked, SessionID: "s1"}))
}

func TestHubDropsForSlowSubscriber(t *testing.T) {
	ctx := context.Background()
	hub := NewHub(1)
	ch, cancel := hub.Subscribe("s1")
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			_ = hub.Publish(ctx, Event{Type: EventMarked, SessionID: "s1"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
	assert.Len(t, ch, 1)
}

func TestStreamSendsSnapshotThenEvents(t *testing.T) {
	hub := NewHub(4)
	streamer := NewStreamer(hub, nil)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		snap, _ := NewEvent(EventSnapshot, "s1", []string{})
		_ = streamer.Serve(w, r, streamer.Subscribe("s1"), snap)
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var ev Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, EventSnapshot, ev.Type)
	assert.Equal(t, 1, hub.Subscribers("s1"))

	marked, _ := NewEvent(EventMarked, "s1", map[string]string{"status": "present"})
	require.NoError(t, hub.Publish(context.Background(), marked))
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, EventMarked, ev.Type)
	assert.JSONEq(t, `{"status":"present"}`, string(ev.Data))

	require.NoError(t, hub.Publish(context.Background(), Event{Type: EventClosed, SessionID: "s1"}))
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, EventClosed, ev.Type)
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

func TestStreamKeepsEventsPublishedBeforeUpgrade(t *testing.T) {
	hub := NewHub(4)
	streamer := NewStreamer(hub, nil)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sub := streamer.Subscribe("s1")
		// A mark lands while the snapshot is being built.
		marked, _ := NewEvent(EventMarked, "s1", map[string]string{"student_id": "u1"})
		_ = hub.Publish(r.Context(), marked)
		snap, _ := NewEvent(EventSnapshot, "s1", []string{})
		_ = streamer.Serve(w, r, sub, snap)
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var ev Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, EventSnapshot, ev.Type)
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, EventMarked, ev.Type)
	assert.JSONEq(t, `{"student_id":"u1"}`, string(ev.Data))
}

func TestSubscriptionCloseReleasesHub(t *testing.T) {
	hub := NewHub(1)
	sub := NewStreamer(hub, nil).Subscribe("s1")
	assert.Equal(t, 1, hub.Subscribers("s1"))
	sub.Close()
	sub.Close()
	assert.Zero(t, hub.Subscribers("s1"))
}
