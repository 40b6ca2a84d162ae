package assembler

import (
	"context"
	"time"

	"github.com/codebuildervaibhav/meetcap/internal/events"
)

// DefaultResyncInterval is used by Follow when no interval is given
const DefaultResyncInterval = 5 * time.Minute

// resyncWindow bounds how many recent meetings a resync inspects
const resyncWindow = 50

// Subscriber is the part of the event hub Follow needs
type Subscriber interface {
	Subscribe(buffer int) (int, <-chan events.Event)
	Unsubscribe(id int)
}

// Follow reassembles complete meetings whenever one of their segments gets a
// late transcription outcome. Live meetings are skipped; Stop assembles them.
// The hub drops events for a full subscriber, so every resync interval the
// recent complete meetings are also checked with Resync.
// It returns when ctx is done or the hub closes.
func (a *Assembler) Follow(ctx context.Context, hub Subscriber, resync time.Duration) error {
	if resync <= 0 {
		resync = DefaultResyncInterval
	}
	id, ch := hub.Subscribe(256)
	defer hub.Unsubscribe(id)

	ticker := a.clock.NewTicker(resync)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
			n, err := a.Resync(ctx)
			if err != nil {
				a.logger.Error("Transcript resync failed", "error", err)
			} else if n > 0 {
				a.logger.Warn("Reassembled meetings with stale transcripts", "count", n)
			}
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			if ev.Type != events.TranscriptionUpdated || ev.MeetingID == "" {
				continue
			}
			m, err := a.store.GetMeeting(ev.MeetingID)
			if err != nil {
				a.logger.Warn("Auto-reassemble lookup failed", "meeting", ev.MeetingID, "error", err)
				continue
			}
			if !m.IsComplete {
				continue
			}
			if _, err := a.Reassemble(ctx, m.ID); err != nil {
				a.logger.Error("Auto-reassemble failed", "meeting", m.ID, "error", err)
			}
		}
	}
}

// Resync reassembles recent complete meetings whose stored transcript no
// longer matches their segments. It reports how many were rebuilt.
func (a *Assembler) Resync(ctx context.Context) (int, error) {
	meetings, err := a.store.ListMeetings(resyncWindow)
	if err != nil {
		return 0, err
	}

	rebuilt := 0
	for _, m := range meetings {
		if ctx.Err() != nil {
			return rebuilt, ctx.Err()
		}
		if !m.IsComplete || m.IsRecording {
			continue
		}
		segments, err := a.store.ListSegments(m.ID)
		if err != nil {
			return rebuilt, err
		}
		if BuildTranscript(segments, a.minChars) == m.Transcript {
			continue
		}
		if _, err := a.Reassemble(ctx, m.ID); err != nil {
			return rebuilt, err
		}
		rebuilt++
	}
	return rebuilt, nil
}
