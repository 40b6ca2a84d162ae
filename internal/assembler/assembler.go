// Package assembler builds a meeting's transcript from its transcribed segments.
package assembler

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/codebuildervaibhav/meetcap/internal/clock"
	"github.com/codebuildervaibhav/meetcap/internal/events"
	"github.com/codebuildervaibhav/meetcap/internal/types"
)

// DefaultMinSegmentChars drops fragments like "uh" or "." from transcripts
const DefaultMinSegmentChars = 2

// Store is the persistence the assembler reads and writes
type Store interface {
	GetMeeting(id string) (*types.Meeting, error)
	UpdateMeeting(id string, fn func(*types.Meeting) error) (*types.Meeting, error)
	ListMeetings(limit int) ([]types.Meeting, error)
	ListSegments(meetingID string) ([]types.Segment, error)
}

// TranscriptWriter persists an assembled record outside the store
type TranscriptWriter interface {
	SaveTranscript(rec *types.MeetingRecord) (string, error)
}

// Assembler turns segment transcriptions into a meeting transcript
type Assembler struct {
	store    Store
	writer   TranscriptWriter
	pub      events.Publisher
	clock    clock.Clock
	minChars int
	logger   *slog.Logger
}

// New creates an assembler. writer and pub may be nil.
func New(store Store, writer TranscriptWriter, pub events.Publisher, clk clock.Clock, minChars int, logger *slog.Logger) *Assembler {
	if pub == nil {
		pub = events.Discard{}
	}
	if clk == nil {
		clk = clock.New()
	}
	if minChars <= 0 {
		minChars = DefaultMinSegmentChars
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{
		store:    store,
		writer:   writer,
		pub:      pub,
		clock:    clk,
		minChars: minChars,
		logger:   logger,
	}
}

// Assemble recomputes the meeting's transcript and duration and stores the
// snapshot. markComplete flags the meeting complete; otherwise the flag is left
// as it was.
func (a *Assembler) Assemble(ctx context.Context, meetingID string, markComplete bool) (*types.MeetingRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	segments, err := a.store.ListSegments(meetingID)
	if err != nil {
		return nil, err
	}
	transcript := BuildTranscript(segments, a.minChars)
	now := a.clock.Now()

	meeting, err := a.store.UpdateMeeting(meetingID, func(m *types.Meeting) error {
		m.Transcript = transcript
		m.TotalDurationSeconds = Duration(m, now)
		m.AssembledAt = &now
		if markComplete {
			m.IsComplete = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	rec := &types.MeetingRecord{Meeting: *meeting, Segments: segments, Transcript: transcript}

	if a.writer != nil {
		path, err := a.writer.SaveTranscript(rec)
		if err != nil {
			a.logger.Error("Failed to write transcript file", "meeting", meetingID, "error", err)
		} else if path != meeting.TranscriptPath {
			if m, err := a.store.UpdateMeeting(meetingID, func(m *types.Meeting) error {
				m.TranscriptPath = path
				return nil
			}); err == nil {
				rec.Meeting = *m
			}
		}
	}

	a.logger.Info("Meeting assembled",
		"meeting", meetingID,
		"segments", len(segments),
		"chars", len(transcript),
		"duration_seconds", rec.Meeting.TotalDurationSeconds,
		"complete", rec.Meeting.IsComplete)

	a.pub.Publish(events.Event{Type: events.MeetingAssembled, MeetingID: meetingID})
	return rec, nil
}

// Reassemble rebuilds the transcript after late transcriptions, keeping the
// completion flag unchanged
func (a *Assembler) Reassemble(ctx context.Context, meetingID string) (*types.MeetingRecord, error) {
	return a.Assemble(ctx, meetingID, false)
}

// Record loads a meeting with its segments without reassembling
func (a *Assembler) Record(meetingID string) (*types.MeetingRecord, error) {
	meeting, err := a.store.GetMeeting(meetingID)
	if err != nil {
		return nil, err
	}
	segments, err := a.store.ListSegments(meetingID)
	if err != nil {
		return nil, err
	}
	return &types.MeetingRecord{Meeting: *meeting, Segments: segments, Transcript: meeting.Transcript}, nil
}

// BuildTranscript joins the trimmed text of transcribed segments, in index
// order, skipping anything of minChars characters or fewer
func BuildTranscript(segments []types.Segment, minChars int) string {
	parts := make([]string, 0, len(segments))
	for _, s := range sortedByIndex(segments) {
		if !s.IsTranscribed {
			continue
		}
		text := strings.TrimSpace(s.TranscriptionText)
		if utf8.RuneCountInString(text) <= minChars {
			continue
		}
		parts = append(parts, text)
	}
	return strings.Join(parts, " ")
}

// Duration is wall time from start to end (or now while recording) less time
// spent paused, in seconds
func Duration(m *types.Meeting, now time.Time) float64 {
	end := now
	if m.EndTime != nil {
		end = *m.EndTime
	}
	d := end.Sub(m.StartTime).Seconds() - m.PausedSeconds
	if d < 0 {
		return 0
	}
	return d
}

func sortedByIndex(segments []types.Segment) []types.Segment {
	out := make([]types.Segment, len(segments))
	copy(out, segments)
	slices.SortStableFunc(out, func(a, b types.Segment) int {
		return cmp.Compare(a.SegmentIndex, b.SegmentIndex)
	})
	return out
}
