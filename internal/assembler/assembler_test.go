package assembler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codebuildervaibhav/meetcap/internal/clock"
	"github.com/codebuildervaibhav/meetcap/internal/events"
	"github.com/codebuildervaibhav/meetcap/internal/storage"
	"github.com/codebuildervaibhav/meetcap/internal/types"
)

var start = time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC)

type env struct {
	db  *storage.MetadataDB
	out string
	hub *events.Hub
	clk *clock.Fake
	a   *Assembler
}

func newEnv(t *testing.T) *env {
	t.Helper()
	dir := t.TempDir()
	db, err := storage.NewMetadataDB(filepath.Join(dir, "meetcap.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	end := start.Add(100 * time.Second)
	require.NoError(t, db.CreateMeeting(&types.Meeting{
		ID:            "m1",
		Title:         "Design review",
		StartTime:     start,
		EndTime:       &end,
		PausedSeconds: 20,
	}))

	e := &env{
		db:  db,
		out: filepath.Join(dir, "outputs"),
		hub: events.NewHub(),
		clk: clock.NewFake(end),
	}
	ls := storage.NewLocalStorage(filepath.Join(dir, "audio"), e.out)
	e.a = New(db, ls, e.hub, e.clk, 0, nil)
	return e
}

func (e *env) addSegment(t *testing.T, index int, text string, errMsg string) {
	t.Helper()
	seg := &types.Segment{
		ID:           fmt.Sprintf("s%d", index),
		MeetingID:    "m1",
		SegmentIndex: index,
		CapturedAt:   start.Add(time.Duration(index) * 30 * time.Second),
	}
	if errMsg != "" {
		seg.SetTranscriptionFailed(errMsg)
	} else {
		seg.SetTranscribed(text)
	}
	require.NoError(t, e.db.SaveSegment(seg))
}

func TestBuildTranscriptFiltersAndOrders(t *testing.T) {
	msg := "timeout"
	segs := []types.Segment{
		{SegmentIndex: 3, IsTranscribed: true, TranscriptionText: " third "},
		{SegmentIndex: 1, IsTranscribed: true, TranscriptionText: "first"},
		{SegmentIndex: 2, TranscriptionError: &msg},
		{SegmentIndex: 4, IsTranscribed: true, TranscriptionText: " ok "},
		{SegmentIndex: 5, IsTranscribed: true, TranscriptionText: "   "},
		{SegmentIndex: 6},
		{SegmentIndex: 7, IsTranscribed: true, TranscriptionText: "yes"},
	}

	assert.Equal(t, "first third yes", BuildTranscript(segs, 2))
	assert.Equal(t, "first third", BuildTranscript(segs, 3))
	assert.Equal(t, 3, segs[0].SegmentIndex, "input is not reordered")
}

func TestDuration(t *testing.T) {
	m := &types.Meeting{StartTime: start, PausedSeconds: 15}
	assert.Equal(t, 45.0, Duration(m, start.Add(time.Minute)))

	end := start.Add(10 * time.Second)
	m.EndTime = &end
	assert.Equal(t, 0.0, Duration(m, start.Add(time.Hour)), "never negative")
}

func TestAssembleMarksCompleteAndWritesFiles(t *testing.T) {
	e := newEnv(t)
	e.addSegment(t, 2, "world", "")
	e.addSegment(t, 1, "hello", "")
	e.addSegment(t, 3, "", "max attempts exceeded")

	_, ch := e.hub.Subscribe(4)

	rec, err := e.a.Assemble(context.Background(), "m1", true)
	require.NoError(t, err)
	assert.Equal(t, "hello world", rec.Transcript)
	assert.True(t, rec.Meeting.IsComplete)
	assert.Equal(t, 80.0, rec.Meeting.TotalDurationSeconds)
	assert.Equal(t, 3, rec.Meeting.SegmentCount)
	require.Len(t, rec.Segments, 3)

	stored, err := e.db.GetMeeting("m1")
	require.NoError(t, err)
	assert.Equal(t, "hello world", stored.Transcript)
	require.NotEmpty(t, stored.TranscriptPath)

	body, err := os.ReadFile(stored.TranscriptPath)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(body))
	assert.FileExists(t, stored.TranscriptPath[:len(stored.TranscriptPath)-len(".txt")]+"_meta.json")

	select {
	case ev := <-ch:
		assert.Equal(t, events.MeetingAssembled, ev.Type)
		assert.Equal(t, "m1", ev.MeetingID)
	case <-time.After(time.Second):
		t.Fatal("no meeting.assembled event")
	}
}

func TestReassembleIsDeterministicAndKeepsCompletion(t *testing.T) {
	e := newEnv(t)
	e.addSegment(t, 1, "alpha", "")
	e.addSegment(t, 2, "beta", "")
	ctx := context.Background()

	first, err := e.a.Assemble(ctx, "m1", true)
	require.NoError(t, err)

	e.clk.Advance(time.Hour)
	second, err := e.a.Reassemble(ctx, "m1")
	require.NoError(t, err)

	assert.Equal(t, first.Transcript, second.Transcript)
	assert.Equal(t, first.Meeting.TotalDurationSeconds, second.Meeting.TotalDurationSeconds)
	assert.Equal(t, first.Meeting.TranscriptPath, second.Meeting.TranscriptPath)
	assert.True(t, second.Meeting.IsComplete)

	files, err := filepath.Glob(filepath.Join(e.out, "*", "*", "*", "*.txt"))
	require.NoError(t, err)
	assert.Len(t, files, 1, "reassembly overwrites in place")
}

func TestReassemblePicksUpLateTranscription(t *testing.T) {
	e := newEnv(t)
	e.addSegment(t, 1, "early", "")
	require.NoError(t, e.db.SaveSegment(&types.Segment{ID: "late", MeetingID: "m1", SegmentIndex: 2, CapturedAt: start}))
	ctx := context.Background()

	rec, err := e.a.Assemble(ctx, "m1", false)
	require.NoError(t, err)
	assert.Equal(t, "early", rec.Transcript)
	assert.False(t, rec.Meeting.IsComplete)

	_, err = e.db.UpdateSegment("late", func(s *types.Segment) error {
		s.SetTranscribed("arrival")
		return nil
	})
	require.NoError(t, err)

	rec, err = e.a.Reassemble(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "early arrival", rec.Transcript)
	assert.False(t, rec.Meeting.IsComplete)
}

func TestAssembleUnknownMeeting(t *testing.T) {
	e := newEnv(t)
	_, err := e.a.Assemble(context.Background(), "nope", true)
	assert.ErrorIs(t, err, types.ErrNotFound)

	_, err = e.a.Record("nope")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestFollowReassemblesCompleteMeetings(t *testing.T) {
	e := newEnv(t)
	e.addSegment(t, 1, "opening remarks", "")
	e.addSegment(t, 2, "", "timeout")
	_, err := e.a.Assemble(context.Background(), "m1", true)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.a.Follow(ctx, e.hub, time.Hour) }()
	require.Eventually(t, func() bool { return e.hub.Len() == 1 }, time.Second, 5*time.Millisecond)

	_, err = e.db.UpdateSegment("s2", func(s *types.Segment) error {
		s.SetTranscribed("late words")
		return nil
	})
	require.NoError(t, err)
	e.hub.Publish(events.Event{Type: events.TranscriptionUpdated, MeetingID: "m1", SegmentID: "s2"})

	require.Eventually(t, func() bool {
		rec, err := e.a.Record("m1")
		return err == nil && rec.Transcript == "opening remarks late words"
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestFollowResyncCatchesMissedEvents(t *testing.T) {
	e := newEnv(t)
	e.addSegment(t, 1, "opening remarks", "")
	e.addSegment(t, 2, "", "timeout")
	_, err := e.a.Assemble(context.Background(), "m1", true)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.a.Follow(ctx, e.hub, time.Minute) }()
	require.Eventually(t, func() bool { return e.clk.ActiveTickers() == 1 }, time.Second, 5*time.Millisecond)

	// The transcription lands but its event never reaches Follow
	_, err = e.db.UpdateSegment("s2", func(s *types.Segment) error {
		s.SetTranscribed("late words")
		return nil
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		e.clk.Advance(time.Minute)
		rec, err := e.a.Record("m1")
		return err == nil && rec.Transcript == "opening remarks late words"
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.Zero(t, e.clk.ActiveTickers())
}

func TestResyncSkipsUpToDateAndLiveMeetings(t *testing.T) {
	e := newEnv(t)
	e.addSegment(t, 1, "opening remarks", "")
	_, err := e.a.Assemble(context.Background(), "m1", true)
	require.NoError(t, err)

	require.NoError(t, e.db.CreateMeeting(&types.Meeting{ID: "live", Title: "live", StartTime: start, IsRecording: true}))
	require.NoError(t, e.db.SaveSegment(&types.Segment{ID: "l1", MeetingID: "live", SegmentIndex: 1, CapturedAt: start,
		IsTranscribed: true, TranscriptionText: "not yet assembled"}))

	n, err := e.a.Resync(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = e.db.UpdateSegment("s1", func(s *types.Segment) error {
		s.SetTranscribed("corrected remarks")
		return nil
	})
	require.NoError(t, err)

	n, err = e.a.Resync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	m, err := e.db.GetMeeting("m1")
	require.NoError(t, err)
	assert.Equal(t, "corrected remarks", m.Transcript)
	live, err := e.db.GetMeeting("live")
	require.NoError(t, err)
	assert.Empty(t, live.Transcript)
}
