package roster

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"qrattend/internal/metrics"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// Streamer upgrades HTTP requests to websocket roster streams.
type Streamer struct {
	hub      *Hub
	upgrader websocket.Upgrader
}

// NewStreamer creates a streamer. allowOrigin decides cross-origin upgrades;
// nil accepts same-origin requests only.
func NewStreamer(hub *Hub, allowOrigin func(r *http.Request) bool) *Streamer {
	return &Streamer{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     allowOrigin,
		},
	}
}

// Subscription is a hub subscription held for one stream.
type Subscription struct {
	SessionID string
	events    <-chan Event
	cancel    func()
}

// Close releases the subscription. It is safe to call more than once.
func (sub *Subscription) Close() { sub.cancel() }

// Subscribe registers for sessionID's events. Call it before reading the
// snapshot so nothing published in between is lost; an entry may then show
// up both in the snapshot and as a marked event.
func (s *Streamer) Subscribe(sessionID string) *Subscription {
	events, cancel := s.hub.Subscribe(sessionID)
	return &Subscription{SessionID: sessionID, events: events, cancel: cancel}
}

// Serve upgrades the connection, sends snapshot and then every event queued
// on sub until the client goes away or the session closes. It closes sub.
func (s *Streamer) Serve(w http.ResponseWriter, r *http.Request, sub *Subscription, snapshot Event) error {
	defer sub.Close()
	events := sub.events

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	metrics.RosterSubscribers.Inc()
	defer metrics.RosterSubscribers.Dec()

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	if err := writeEvent(conn, snapshot); err != nil {
		return err
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := writeEvent(conn, ev); err != nil {
				return err
			}
			if ev.Type == EventClosed {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"),
					time.Now().Add(writeWait))
				return nil
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return err
			}
		case <-gone:
			return nil
		case <-r.Context().Done():
			return nil
		}
	}
}

func writeEvent(conn *websocket.Conn, ev Event) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(ev)
}
