package transcription

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codebuildervaibhav/meetcap/internal/events"
	"github.com/codebuildervaibhav/meetcap/internal/storage"
	"github.com/codebuildervaibhav/meetcap/internal/types"
)

type fakeTranscriber struct {
	mu      sync.Mutex
	results map[string]types.TranscriptionResult
	calls   map[string]int
}

func (f *fakeTranscriber) TranscribeWithRetry(_ context.Context, path string, _ int) types.TranscriptionResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[path]++
	return f.results[path]
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(e events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *recordingPublisher) count(typ string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.Type == typ {
			n++
		}
	}
	return n
}

func setupService(t *testing.T) (*storage.MetadataDB, *fakeTranscriber, *recordingPublisher, *Service) {
	t.Helper()
	db, err := storage.NewMetadataDB(filepath.Join(t.TempDir(), "meetcap.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, db.CreateMeeting(&types.Meeting{ID: "m1", Title: "t", StartTime: time.Now()}))

	ft := &fakeTranscriber{results: map[string]types.TranscriptionResult{}, calls: map[string]int{}}
	pub := &recordingPublisher{}
	return db, ft, pub, NewService(ft, db, pub, 3, nil)
}

func addSegment(t *testing.T, db *storage.MetadataDB, index int, path string) types.Segment {
	t.Helper()
	seg := types.Segment{
		ID:             path,
		MeetingID:      "m1",
		SegmentIndex:   index,
		AudioLocalPath: path,
		CapturedAt:     time.Now(),
	}
	require.NoError(t, db.SaveSegment(&seg))
	return seg
}

func TestProcessStoresTextAndPublishesOnce(t *testing.T) {
	db, ft, pub, svc := setupService(t)
	seg := addSegment(t, db, 1, "a.wav")
	ft.results["a.wav"] = types.TranscriptionResult{Text: "hello", Attempts: 1}

	svc.Process(context.Background(), seg)

	got, err := db.GetSegment(seg.ID)
	require.NoError(t, err)
	assert.True(t, got.IsTranscribed)
	assert.Equal(t, "hello", got.TranscriptionText)
	assert.Nil(t, got.TranscriptionError)
	assert.Equal(t, 1, pub.count(events.TranscriptionUpdated))
}

func TestProcessStoresFailure(t *testing.T) {
	db, ft, pub, svc := setupService(t)
	seg := addSegment(t, db, 1, "b.wav")
	ft.results["b.wav"] = types.TranscriptionResult{
		Attempts: 3,
		Err:      types.NewError(types.KindMaxAttemptsExceeded, "transcribe", errors.New("timeout x3")),
	}

	svc.Process(context.Background(), seg)

	got, err := db.GetSegment(seg.ID)
	require.NoError(t, err)
	assert.False(t, got.IsTranscribed)
	require.NotNil(t, got.TranscriptionError)
	assert.Contains(t, *got.TranscriptionError, "timeout x3")
	assert.Equal(t, 1, pub.count(events.TranscriptionUpdated))
}

func TestRecoverPendingDispatchesUntranscribed(t *testing.T) {
	db, ft, pub, svc := setupService(t)
	done := addSegment(t, db, 1, "done.wav")
	addSegment(t, db, 2, "pending.wav")
	_, err := db.UpdateSegment(done.ID, func(s *types.Segment) error { s.SetTranscribed("x"); return nil })
	require.NoError(t, err)
	ft.results["pending.wav"] = types.TranscriptionResult{Text: "late"}

	n, err := svc.RecoverPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	svc.Wait()

	assert.Equal(t, 0, ft.calls["done.wav"])
	assert.Equal(t, 1, ft.calls["pending.wav"])
	assert.Equal(t, 1, pub.count(events.TranscriptionUpdated))
}

func TestProcessLeavesSegmentPendingOnShutdown(t *testing.T) {
	db, ft, pub, svc := setupService(t)
	seg := addSegment(t, db, 1, "c.wav")
	ft.results["c.wav"] = types.TranscriptionResult{Err: context.Canceled}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	svc.Process(ctx, seg)

	got, err := db.GetSegment(seg.ID)
	require.NoError(t, err)
	assert.True(t, got.TranscriptionPending())
	assert.Zero(t, pub.count(events.TranscriptionUpdated))
}
