// Package events fans pipeline notifications out to in-process subscribers.
package events

import (
	"log/slog"
	"sync"
	"time"

	"github.com/codebuildervaibhav/meetcap/internal/types"
)

// Event types
const (
	SegmentFinalized     = "segment.finalized"
	TranscriptionUpdated = "transcription.updated"
	UploadUpdated        = "upload.updated"
	SessionState         = "session.state"
	MeetingAssembled     = "meeting.assembled"
)

// Event is one pipeline notification
type Event struct {
	Type      string             `json:"type"`
	MeetingID string             `json:"meeting_id,omitempty"`
	SegmentID string             `json:"segment_id,omitempty"`
	State     types.SessionState `json:"state,omitempty"`
	Segment   *types.Segment     `json:"segment,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
}

// Publisher accepts events
type Publisher interface {
	Publish(e Event)
}

// Hub delivers each published event to every subscriber without blocking.
// A subscriber whose buffer is full misses the event.
type Hub struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]chan Event
	closed bool
}

// NewHub creates an empty hub
func NewHub() *Hub {
	return &Hub{subs: make(map[int]chan Event)}
}

// Subscribe registers a subscriber with the given buffer size
func (h *Hub) Subscribe(buffer int) (int, <-chan Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch := make(chan Event, buffer)
	if h.closed {
		close(ch)
		return -1, ch
	}
	h.nextID++
	h.subs[h.nextID] = ch
	return h.nextID, ch
}

// Unsubscribe removes a subscriber and closes its channel
func (h *Hub) Unsubscribe(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(ch)
	}
}

// Len reports the number of subscribers
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Publish sends e to all subscribers
func (h *Hub) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, ch := range h.subs {
		select {
		case ch <- e:
		default:
			slog.Warn("Dropping event for slow subscriber", "subscriber", id, "type", e.Type)
		}
	}
}

// Close unsubscribes everyone
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
	h.closed = true
}

// Discard is a Publisher that drops everything
type Discard struct{}

func (Discard) Publish(Event) {}
