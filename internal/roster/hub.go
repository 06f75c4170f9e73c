// Package roster fans live attendance events out to lecturers watching a session.
package roster

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Event types pushed to roster subscribers.
const (
	EventSnapshot = "roster.snapshot"
	EventMarked   = "attendance.marked"
	EventClosed   = "session.closed"
)

// Event is one message on a session's stream.
type Event struct {
	Type      string          `json:"type"`
	SessionID string          `json:"session_id"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewEvent encodes data into an event.
func NewEvent(typ, sessionID string, data any) (Event, error) {
	ev := Event{Type: typ, SessionID: sessionID}
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return Event{}, fmt.Errorf("encode %s event: %w", typ, err)
		}
		ev.Data = b
	}
	return ev, nil
}

// Publisher delivers events to every subscriber of ev.SessionID.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

type subscriber struct {
	ch   chan Event
	once sync.Once
}

// Hub is an in-process Publisher. Subscribers that fall behind lose events
// rather than stalling the publisher.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[*subscriber]struct{}
	buffer int
}

// NewHub creates a hub whose subscriber channels hold buffer events.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 16
	}
	return &Hub{subs: make(map[string]map[*subscriber]struct{}), buffer: buffer}
}

// Subscribe registers interest in a session. The returned cancel func
// unregisters and closes the channel; it may be called more than once.
func (h *Hub) Subscribe(sessionID string) (<-chan Event, func()) {
	s := &subscriber{ch: make(chan Event, h.buffer)}
	h.mu.Lock()
	set, ok := h.subs[sessionID]
	if !ok {
		set = make(map[*subscriber]struct{})
		h.subs[sessionID] = set
	}
	set[s] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		s.once.Do(func() {
			h.mu.Lock()
			delete(h.subs[sessionID], s)
			if len(h.subs[sessionID]) == 0 {
				delete(h.subs, sessionID)
			}
			h.mu.Unlock()
			close(s.ch)
		})
	}
	return s.ch, cancel
}

// Publish never blocks.
func (h *Hub) Publish(_ context.Context, ev Event) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.subs[ev.SessionID] {
		select {
		case s.ch <- ev:
		default:
		}
	}
	return nil
}

// Subscribers reports how many streams watch a session.
func (h *Hub) Subscribers(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[sessionID])
}
