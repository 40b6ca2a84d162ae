package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/codebuildervaibhav/meetcap/internal/clock"
	"github.com/codebuildervaibhav/meetcap/internal/events"
	"github.com/codebuildervaibhav/meetcap/internal/types"
)

// Controller owns the capture device and at most one live session
type Controller struct {
	ctx  context.Context
	deps Deps
	cfg  Config

	mu      sync.Mutex
	current *Session

	// transcriptions dispatched by any session, including stopped ones
	work sync.WaitGroup
}

// NewController creates a controller. ctx bounds the uploads and
// transcriptions its sessions start, so it should live as long as the process.
func NewController(ctx context.Context, deps Deps, cfg Config) *Controller {
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if deps.Publisher == nil {
		deps.Publisher = events.Discard{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if cfg.SegmentLength <= 0 {
		cfg.SegmentLength = 30 * time.Second
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = 10 * time.Second
	}
	return &Controller{ctx: ctx, deps: deps, cfg: cfg}
}

// StartSession begins recording a new meeting
func (c *Controller) StartSession(ctx context.Context, title string) (Status, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != nil {
		if st := c.current.Status().State; st == types.StateActive || st == types.StatePaused {
			return Status{}, types.Errorf(types.KindInvalidState, "start", "a session is already %s", st)
		}
	}

	s := newSession(c.ctx, c.deps, c.cfg, &c.work)
	if err := s.start(ctx, title); err != nil {
		return Status{}, err
	}
	c.current = s
	return s.Status(), nil
}

// PauseSession pauses the live session
func (c *Controller) PauseSession() (Status, error) {
	s, err := c.live("pause")
	if err != nil {
		return Status{}, err
	}
	if err := s.Pause(); err != nil {
		return Status{}, err
	}
	return s.Status(), nil
}

// ResumeSession resumes the paused session
func (c *Controller) ResumeSession() (Status, error) {
	s, err := c.live("resume")
	if err != nil {
		return Status{}, err
	}
	if err := s.Resume(); err != nil {
		return Status{}, err
	}
	return s.Status(), nil
}

// StopSession stops the live session and returns the assembled meeting
func (c *Controller) StopSession(ctx context.Context) (*types.MeetingRecord, error) {
	s, err := c.live("stop")
	if err != nil {
		return nil, err
	}
	return s.Stop(ctx)
}

// Current reports the live or most recently stopped session
func (c *Controller) Current() Status {
	c.mu.Lock()
	s := c.current
	c.mu.Unlock()
	if s == nil {
		return Status{State: types.StateIdle}
	}
	return s.Status()
}

// Wait blocks until the live session's boundary timer has stopped and every
// transcription started by any session has finished. Earlier sessions have
// already stopped their timers.
func (c *Controller) Wait() {
	c.mu.Lock()
	s := c.current
	c.mu.Unlock()
	if s != nil {
		s.loops.Wait()
	}
	c.work.Wait()
}

// Shutdown stops a live session so its last segment is kept
func (c *Controller) Shutdown(ctx context.Context) {
	c.mu.Lock()
	s := c.current
	c.mu.Unlock()
	if s == nil {
		return
	}
	if st := s.Status().State; st != types.StateActive && st != types.StatePaused {
		return
	}
	if _, err := s.Stop(ctx); err != nil {
		c.deps.Logger.Error("Failed to stop session on shutdown", "error", err)
	}
}

// RecoverInterrupted closes meetings left recording by a crash. Each is ended
// at the end of its last segment and assembled as complete.
func (c *Controller) RecoverInterrupted(ctx context.Context) (int, error) {
	meetings, err := c.deps.Store.ListRecordingMeetings()
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, m := range meetings {
		if live := c.Current(); live.MeetingID == m.ID && live.State != types.StateStopped {
			continue
		}

		segments, err := c.deps.Store.ListSegments(m.ID)
		if err != nil {
			return recovered, err
		}
		end := m.StartTime
		for _, seg := range segments {
			segEnd := seg.CapturedAt.Add(time.Duration(seg.DurationSeconds * float64(time.Second)))
			if segEnd.After(end) {
				end = segEnd
			}
		}

		if _, err := c.deps.Store.UpdateMeeting(m.ID, func(m *types.Meeting) error {
			m.EndTime = &end
			m.IsRecording = false
			return nil
		}); err != nil {
			return recovered, err
		}
		if _, err := c.deps.Assembler.Assemble(ctx, m.ID, true); err != nil {
			return recovered, err
		}

		c.deps.Logger.Warn("Recovered interrupted meeting",
			"meeting", m.ID,
			"title", m.Title,
			"segments", len(segments),
			"ended_at", end)
		recovered++
	}
	return recovered, nil
}

func (c *Controller) live(op string) (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return nil, types.Errorf(types.KindInvalidState, op, "no session")
	}
	return c.current, nil
}
