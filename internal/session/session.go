// Package session drives a meeting recording: segment boundaries, pause and
// resume, and the hand-off of each finalised segment to upload and transcription.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/codebuildervaibhav/meetcap/internal/capture"
	"github.com/codebuildervaibhav/meetcap/internal/clock"
	"github.com/codebuildervaibhav/meetcap/internal/events"
	"github.com/codebuildervaibhav/meetcap/internal/types"
)

// Store is the persistence a session writes to
type Store interface {
	CreateMeeting(m *types.Meeting) error
	DeleteMeeting(id string) error
	UpdateMeeting(id string, fn func(*types.Meeting) error) (*types.Meeting, error)
	SaveSegment(seg *types.Segment) error
	ListSegments(meetingID string) ([]types.Segment, error)
	ListRecordingMeetings() ([]types.Meeting, error)
}

// Layout decides where segment audio is written
type Layout interface {
	SegmentPath(meetingID string, index int, ext string) (string, error)
}

// Enqueuer accepts finalised segments for upload
type Enqueuer interface {
	Enqueue(ctx context.Context, seg *types.Segment) error
}

// Processor transcribes one segment and records the outcome
type Processor interface {
	Process(ctx context.Context, seg types.Segment)
}

// Assembler builds the meeting transcript when a session stops
type Assembler interface {
	Assemble(ctx context.Context, meetingID string, markComplete bool) (*types.MeetingRecord, error)
}

// Deps are the collaborators of a session
type Deps struct {
	Device      capture.Device
	Store       Store
	Layout      Layout
	Uploads     Enqueuer
	Transcriber Processor
	Assembler   Assembler
	Publisher   events.Publisher
	Clock       clock.Clock
	Logger      *slog.Logger
}

// Config tunes segmenting
type Config struct {
	SegmentLength time.Duration
	FlushTimeout  time.Duration
}

// Status is a snapshot of the session for callers outside the package
type Status struct {
	State            types.SessionState `json:"state"`
	MeetingID        string             `json:"meeting_id,omitempty"`
	Title            string             `json:"title,omitempty"`
	StartTime        *time.Time         `json:"start_time,omitempty"`
	CurrentSegment   int                `json:"current_segment,omitempty"`
	SegmentsRecorded int                `json:"segments_recorded"`
	FlushFailures    int                `json:"flush_failures"`
	PausedSeconds    float64            `json:"paused_seconds"`
	ElapsedSeconds   float64            `json:"elapsed_seconds"`
}

// Session is one meeting recording. All methods and boundary ticks are
// serialised by mu, so only one goroutine ever touches the open segment.
type Session struct {
	deps Deps
	cfg  Config
	ctx  context.Context // bounds uploads and transcriptions started by the session

	mu      sync.Mutex
	state   types.SessionState
	meeting types.Meeting

	nextIndex int
	open      bool
	openIndex int
	openedAt  time.Time

	ticker clock.Ticker
	stop   chan struct{}
	gen    int

	pausedAt time.Time
	paused   time.Duration

	recorded      int
	flushFailures int

	loops sync.WaitGroup
	work  *sync.WaitGroup // shared by every session of a controller
}

func newSession(ctx context.Context, deps Deps, cfg Config, work *sync.WaitGroup) *Session {
	return &Session{
		deps:      deps,
		cfg:       cfg,
		ctx:       ctx,
		work:      work,
		state:     types.StateIdle,
		nextIndex: 1,
	}
}

// start checks the device, records the meeting and opens segment 1
func (s *Session) start(ctx context.Context, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if s.state != types.StateIdle {
		return types.Errorf(types.KindInvalidState, "start", "session is %s", s.state)
	}
	if err := s.deps.Device.Available(); err != nil {
		if !errors.Is(err, types.ErrDeviceUnavailable) {
			err = types.NewError(types.KindDeviceUnavailable, "start", err)
		}
		return err
	}

	now := s.deps.Clock.Now()
	if title == "" {
		title = "Meeting " + now.Local().Format("2006-01-02 15:04")
	}
	s.meeting = types.Meeting{
		ID:          uuid.NewString(),
		Title:       title,
		StartTime:   now,
		IsRecording: true,
	}
	if err := s.deps.Store.CreateMeeting(&s.meeting); err != nil {
		return err
	}

	if err := s.openSegment(); err != nil {
		// A meeting left behind here is still flagged as recording, so the
		// next RecoverInterrupted closes it.
		if delErr := s.deps.Store.DeleteMeeting(s.meeting.ID); delErr != nil {
			s.deps.Logger.Error("Failed to remove meeting after aborted start",
				"meeting", s.meeting.ID,
				"error", delErr)
		}
		if !errors.Is(err, types.ErrDeviceUnavailable) {
			err = types.NewError(types.KindDeviceUnavailable, "start", err)
		}
		return err
	}

	s.arm()
	s.setState(types.StateActive)
	s.deps.Logger.Info("Recording started",
		"meeting", s.meeting.ID,
		"title", title,
		"device", s.deps.Device.Name(),
		"segment_length", s.cfg.SegmentLength)
	return nil
}

// Pause closes the open segment and stops the boundary timer
func (s *Session) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != types.StateActive {
		return types.Errorf(types.KindInvalidState, "pause", "session is %s", s.state)
	}
	s.disarm()
	if s.open {
		s.finalize()
	}
	s.pausedAt = s.deps.Clock.Now()
	s.setState(types.StatePaused)
	s.deps.Logger.Info("Recording paused", "meeting", s.meeting.ID)
	return nil
}

// Resume opens the next segment and restarts the boundary timer
func (s *Session) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != types.StatePaused {
		return types.Errorf(types.KindInvalidState, "resume", "session is %s", s.state)
	}
	s.closePause()
	s.persistPaused()

	if err := s.openSegment(); err != nil {
		s.deps.Logger.Error("Failed to open segment on resume", "meeting", s.meeting.ID, "error", err)
	}
	s.arm()
	s.setState(types.StateActive)
	s.deps.Logger.Info("Recording resumed", "meeting", s.meeting.ID, "paused", s.paused)
	return nil
}

// Stop flushes the last segment, closes the meeting and assembles it. The
// transcript reflects whatever transcriptions have landed by then.
func (s *Session) Stop(ctx context.Context) (*types.MeetingRecord, error) {
	s.mu.Lock()
	if s.state != types.StateActive && s.state != types.StatePaused {
		state := s.state
		s.mu.Unlock()
		return nil, types.Errorf(types.KindInvalidState, "stop", "session is %s", state)
	}

	s.disarm()
	if s.open {
		s.finalize()
	}
	if s.state == types.StatePaused {
		s.closePause()
	}

	end := s.deps.Clock.Now()
	paused := s.paused.Seconds()
	meetingID := s.meeting.ID
	_, err := s.deps.Store.UpdateMeeting(meetingID, func(m *types.Meeting) error {
		m.EndTime = &end
		m.IsRecording = false
		m.PausedSeconds = paused
		return nil
	})
	if err != nil {
		s.deps.Logger.Error("Failed to close meeting", "meeting", meetingID, "error", err)
	}
	s.setState(types.StateStopped)
	recorded, failures := s.recorded, s.flushFailures
	s.mu.Unlock()

	s.loops.Wait()

	s.deps.Logger.Info("Recording stopped",
		"meeting", meetingID,
		"segments", recorded,
		"flush_failures", failures,
		"paused", time.Duration(paused*float64(time.Second)))

	rec, err := s.deps.Assembler.Assemble(ctx, meetingID, true)
	if err != nil {
		return nil, fmt.Errorf("assemble meeting %s: %w", meetingID, err)
	}
	return rec, nil
}

// Status returns a snapshot of the session
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		State:            s.state,
		MeetingID:        s.meeting.ID,
		Title:            s.meeting.Title,
		SegmentsRecorded: s.recorded,
		FlushFailures:    s.flushFailures,
	}
	if s.meeting.ID == "" {
		return st
	}
	start := s.meeting.StartTime
	st.StartTime = &start
	if s.open {
		st.CurrentSegment = s.openIndex
	}

	now := s.deps.Clock.Now()
	paused := s.paused
	if s.state == types.StatePaused {
		paused += now.Sub(s.pausedAt)
	}
	st.PausedSeconds = paused.Seconds()
	if s.state != types.StateStopped {
		st.ElapsedSeconds = (now.Sub(start) - paused).Seconds()
	}
	return st
}

// openSegment starts the device on the next index. Caller holds mu.
func (s *Session) openSegment() error {
	index := s.nextIndex
	path, err := s.deps.Layout.SegmentPath(s.meeting.ID, index, ".wav")
	if err != nil {
		return err
	}
	if err := s.deps.Device.Start(path); err != nil {
		return err
	}
	s.nextIndex++
	s.open = true
	s.openIndex = index
	s.openedAt = s.deps.Clock.Now()
	return nil
}

// finalize flushes the open segment, persists it, then hands it to the upload
// queue and the transcriber. A failed flush or save produces no segment and
// its index is reused. Caller holds mu.
func (s *Session) finalize() {
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.FlushTimeout)
	captured, err := s.deps.Device.StopAndFlush(ctx)
	cancel()

	index, capturedAt := s.openIndex, s.openedAt
	s.open = false
	if err != nil {
		s.flushFailures++
		s.nextIndex = index
		s.deps.Logger.Error("Segment flush failed, skipping",
			"meeting", s.meeting.ID,
			"index", index,
			"kind", types.KindCaptureFlushFailed.String(),
			"error", err)
		return
	}

	seg := &types.Segment{
		ID:              uuid.NewString(),
		MeetingID:       s.meeting.ID,
		SegmentIndex:    index,
		AudioLocalPath:  captured.Path,
		DurationSeconds: captured.Duration.Seconds(),
		CapturedAt:      capturedAt,
		UploadState:     types.UploadPending,
	}
	if err := s.deps.Store.SaveSegment(seg); err != nil {
		s.nextIndex = index
		s.deps.Logger.Error("Failed to save segment, discarding audio",
			"meeting", s.meeting.ID,
			"index", index,
			"error", err)
		if rmErr := os.Remove(captured.Path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			s.deps.Logger.Warn("Failed to remove unsaved segment audio", "path", captured.Path, "error", rmErr)
		}
		return
	}
	s.recorded++

	s.deps.Logger.Info("Segment finalized",
		"meeting", s.meeting.ID,
		"index", index,
		"duration", captured.Duration.Round(time.Millisecond))
	s.deps.Publisher.Publish(events.Event{
		Type:      events.SegmentFinalized,
		MeetingID: seg.MeetingID,
		SegmentID: seg.ID,
		Segment:   seg,
	})

	if err := s.deps.Uploads.Enqueue(s.ctx, seg); err != nil {
		s.deps.Logger.Error("Failed to enqueue upload", "segment", seg.ID, "error", err)
	}

	snapshot := *seg
	s.work.Add(1)
	go func() {
		defer s.work.Done()
		s.deps.Transcriber.Process(s.ctx, snapshot)
	}()
}

// arm starts the boundary timer. Ticks from a previous arm carry a stale
// generation and are ignored. Caller holds mu.
func (s *Session) arm() {
	s.gen++
	gen := s.gen
	ticker := s.deps.Clock.NewTicker(s.cfg.SegmentLength)
	stop := make(chan struct{})
	s.ticker, s.stop = ticker, stop

	s.loops.Add(1)
	go func() {
		defer s.loops.Done()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C():
				s.boundary(gen)
			}
		}
	}()
}

// disarm stops the boundary timer. Caller holds mu.
func (s *Session) disarm() {
	s.gen++
	if s.ticker != nil {
		s.ticker.Stop()
		close(s.stop)
		s.ticker, s.stop = nil, nil
	}
}

func (s *Session) boundary(gen int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.gen || s.state != types.StateActive {
		return
	}
	if s.open {
		s.finalize()
	}
	if err := s.openSegment(); err != nil {
		s.deps.Logger.Error("Failed to open next segment", "meeting", s.meeting.ID, "index", s.nextIndex, "error", err)
	}
}

func (s *Session) closePause() {
	if !s.pausedAt.IsZero() {
		s.paused += s.deps.Clock.Now().Sub(s.pausedAt)
		s.pausedAt = time.Time{}
	}
}

func (s *Session) persistPaused() {
	paused := s.paused.Seconds()
	if _, err := s.deps.Store.UpdateMeeting(s.meeting.ID, func(m *types.Meeting) error {
		m.PausedSeconds = paused
		return nil
	}); err != nil {
		s.deps.Logger.Error("Failed to record paused time", "meeting", s.meeting.ID, "error", err)
	}
}

func (s *Session) setState(state types.SessionState) {
	s.state = state
	s.deps.Publisher.Publish(events.Event{
		Type:      events.SessionState,
		MeetingID: s.meeting.ID,
		State:     state,
	})
}
