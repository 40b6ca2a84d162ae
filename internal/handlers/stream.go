package handlers

import (
	"log/slog"

	"github.com/gofiber/websocket/v2"

	"github.com/codebuildervaibhav/meetcap/internal/events"
)

// Subscriber is the part of the event hub the stream needs
type Subscriber interface {
	Subscribe(buffer int) (int, <-chan events.Event)
	Unsubscribe(id int)
}

// StreamHandler pushes pipeline events to WebSocket clients as JSON
type StreamHandler struct {
	hub    Subscriber
	logger *slog.Logger
}

// NewStreamHandler creates a new stream handler
func NewStreamHandler(hub Subscriber, logger *slog.Logger) *StreamHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamHandler{hub: hub, logger: logger}
}

// Handle streams events until the client disconnects. ?meeting=<id> limits the
// stream to one meeting.
func (h *StreamHandler) Handle(c *websocket.Conn) {
	defer c.Close()

	meetingID := c.Query("meeting")
	id, ch := h.hub.Subscribe(64)
	defer h.hub.Unsubscribe(id)

	h.logger.Info("Event stream connected", "remote", c.RemoteAddr().String(), "meeting", meetingID)

	// Drain client frames so close and ping are processed
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			h.logger.Info("Event stream disconnected", "remote", c.RemoteAddr().String())
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if meetingID != "" && ev.MeetingID != meetingID {
				continue
			}
			if err := c.WriteJSON(ev); err != nil {
				h.logger.Warn("Event stream write failed", "error", err)
				return
			}
		}
	}
}
