package queue

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codebuildervaibhav/meetcap/internal/clock"
	"github.com/codebuildervaibhav/meetcap/internal/events"
	"github.com/codebuildervaibhav/meetcap/internal/storage"
	"github.com/codebuildervaibhav/meetcap/internal/types"
)

type fakeTransport struct {
	mu    sync.Mutex
	calls int
	sent  []string // segment IDs in call order
	errs  []error  // consumed first
	fail  error    // returned once errs is empty
}

func (f *fakeTransport) Name() string { return "fake" }

func (f *fakeTransport) Upload(_ context.Context, seg *types.Segment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.sent = append(f.sent, seg.ID)
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return err
	}
	return f.fail
}

func (f *fakeTransport) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeTransport) sentIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

type switchProber struct{ up atomic.Bool }

func (p *switchProber) Reachable(context.Context) bool { return p.up.Load() }

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(e events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *recordingPublisher) last() events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.events[len(p.events)-1]
}

type fixture struct {
	db        *storage.MetadataDB
	clk       *clock.Fake
	transport *fakeTransport
	prober    *switchProber
	pub       *recordingPublisher
	q         *UploadQueue
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := storage.NewMetadataDB(filepath.Join(t.TempDir(), "meetcap.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.CreateMeeting(&types.Meeting{ID: "m1", Title: "sync", StartTime: time.Unix(1000, 0)}))

	f := &fixture{
		db:        db,
		clk:       clock.NewFake(time.Unix(1000, 0)),
		transport: &fakeTransport{},
		prober:    &switchProber{},
		pub:       &recordingPublisher{},
	}
	f.prober.up.Store(true)
	f.q = NewUploadQueue(db, f.transport, Config{PollInterval: 30 * time.Second},
		WithClock(f.clk), WithProber(f.prober), WithPublisher(f.pub))
	return f
}

func (f *fixture) segment(t *testing.T, index int) *types.Segment {
	t.Helper()
	seg := &types.Segment{
		ID:             "seg-" + string(rune('0'+index)),
		MeetingID:      "m1",
		SegmentIndex:   index,
		AudioLocalPath: "/tmp/unused.wav",
		CapturedAt:     f.clk.Now(),
	}
	require.NoError(t, f.db.SaveSegment(seg))
	return seg
}

func TestEnqueueIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.prober.up.Store(false)
	seg := f.segment(t, 1)

	ctx := context.Background()
	require.NoError(t, f.q.Enqueue(ctx, seg))
	require.NoError(t, f.q.Enqueue(ctx, seg))
	f.q.Wait()

	tasks, err := f.q.Pending()
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, seg.ID, tasks[0].SegmentID)
	assert.Equal(t, DefaultMaxAttempts, tasks[0].MaxAttempts)
	assert.Zero(t, f.transport.callCount(), "unreachable endpoint is not called")
}

func TestEnqueueSkipsUploadedSegment(t *testing.T) {
	f := newFixture(t)
	seg := f.segment(t, 1)
	seg.UploadState = types.UploadUploaded

	require.NoError(t, f.q.Enqueue(context.Background(), seg))
	f.q.Wait()

	tasks, err := f.q.Pending()
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestUploadSuccessMarksSegmentAndDeletesTask(t *testing.T) {
	f := newFixture(t)
	seg := f.segment(t, 1)

	require.NoError(t, f.q.Enqueue(context.Background(), seg))
	f.q.Wait()

	got, err := f.db.GetSegment(seg.ID)
	require.NoError(t, err)
	assert.Equal(t, types.UploadUploaded, got.UploadState)
	assert.Equal(t, 1, got.UploadAttempts)
	require.NotNil(t, got.UploadedAt)
	assert.True(t, got.UploadedAt.Equal(f.clk.Now()))

	_, err = f.db.GetTask(seg.ID)
	assert.ErrorIs(t, err, types.ErrNotFound)

	ev := f.pub.last()
	assert.Equal(t, events.UploadUpdated, ev.Type)
	assert.Equal(t, seg.ID, ev.SegmentID)
}

func TestFailedUploadWaitsForBackoff(t *testing.T) {
	f := newFixture(t)
	f.transport.errs = []error{types.NewError(types.KindTransport, "upload", errors.New("connection reset"))}
	seg := f.segment(t, 1)
	ctx := context.Background()

	require.NoError(t, f.q.Enqueue(ctx, seg))
	f.q.Wait()
	assert.Equal(t, 1, f.transport.callCount())

	task, err := f.db.GetTask(seg.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, task.Attempts)
	assert.True(t, task.NextEligibleAt.Equal(f.clk.Now().Add(2*time.Second)))
	assert.Contains(t, task.LastError, "connection reset")

	got, err := f.db.GetSegment(seg.ID)
	require.NoError(t, err)
	assert.Equal(t, types.UploadPending, got.UploadState)
	assert.Equal(t, 1, got.UploadAttempts)

	f.q.ProcessOnce(ctx)
	f.clk.Advance(time.Second)
	f.q.ProcessOnce(ctx)
	assert.Equal(t, 1, f.transport.callCount(), "not due yet")

	f.clk.Advance(time.Second)
	f.q.ProcessOnce(ctx)
	assert.Equal(t, 2, f.transport.callCount())

	got, err = f.db.GetSegment(seg.ID)
	require.NoError(t, err)
	assert.Equal(t, types.UploadUploaded, got.UploadState)
	assert.Equal(t, 2, got.UploadAttempts)
}

func TestFiveFailuresDeadLetter(t *testing.T) {
	f := newFixture(t)
	f.transport.fail = types.Rejected("upload", 503, "unavailable")
	seg := f.segment(t, 1)
	ctx := context.Background()

	require.NoError(t, f.q.Enqueue(ctx, seg))
	f.q.Wait()
	for i := 0; i < 10; i++ {
		f.clk.Advance(5 * time.Minute)
		f.q.ProcessOnce(ctx)
	}

	assert.Equal(t, 5, f.transport.callCount(), "no sixth attempt")

	got, err := f.db.GetSegment(seg.ID)
	require.NoError(t, err)
	assert.Equal(t, types.UploadFailed, got.UploadState)
	assert.Equal(t, 5, got.UploadAttempts)
	assert.Nil(t, got.UploadedAt)

	dead, err := f.q.DeadLetters()
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, 5, dead[0].Attempts)
	assert.Contains(t, dead[0].LastError, "503")
}

func TestNonRetryableFailureDeadLettersAndRequeues(t *testing.T) {
	f := newFixture(t)
	f.transport.errs = []error{types.Errorf(types.KindInvalidAudio, "upload", "file missing")}
	seg := f.segment(t, 1)
	ctx := context.Background()

	require.NoError(t, f.q.Enqueue(ctx, seg))
	f.q.Wait()

	dead, err := f.q.DeadLetters()
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, 1, dead[0].Attempts)

	require.NoError(t, f.q.Requeue(ctx, seg.ID))
	f.q.Wait()

	got, err := f.db.GetSegment(seg.ID)
	require.NoError(t, err)
	assert.Equal(t, types.UploadUploaded, got.UploadState)
	assert.Equal(t, 2, f.transport.callCount())

	assert.ErrorIs(t, f.q.Requeue(ctx, seg.ID), types.ErrNotFound)
}

func TestRequeueRejectsLiveTask(t *testing.T) {
	f := newFixture(t)
	f.prober.up.Store(false)
	seg := f.segment(t, 1)
	ctx := context.Background()

	require.NoError(t, f.q.Enqueue(ctx, seg))
	f.q.Wait()
	assert.ErrorIs(t, f.q.Requeue(ctx, seg.ID), types.ErrInvalidState)
}

func TestRunResumesWhenConnectivityReturns(t *testing.T) {
	f := newFixture(t)
	f.prober.up.Store(false)
	seg := f.segment(t, 1)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, f.q.Enqueue(ctx, seg))
	f.q.Wait()

	done := make(chan error, 1)
	go func() { done <- f.q.Run(ctx) }()
	require.Eventually(t, func() bool { return f.clk.ActiveTickers() == 1 }, time.Second, 5*time.Millisecond)

	// First poll observes the outage
	f.clk.Advance(30 * time.Second)
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, f.transport.callCount())

	f.prober.up.Store(true)
	require.Eventually(t, func() bool {
		f.clk.Advance(30 * time.Second)
		return f.transport.callCount() == 1
	}, time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.Zero(t, f.clk.ActiveTickers())
}

func TestQueueStateSurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meetcap.db")
	clk := clock.NewFake(time.Unix(1000, 0))
	ctx := context.Background()

	db, err := storage.NewMetadataDB(path)
	require.NoError(t, err)
	require.NoError(t, db.CreateMeeting(&types.Meeting{ID: "m1", Title: "sync", StartTime: clk.Now()}))
	failing := &fakeTransport{fail: types.NewError(types.KindTransport, "upload", errors.New("connection reset"))}
	q := NewUploadQueue(db, failing, Config{PollInterval: 30 * time.Second}, WithClock(clk))

	flaky := &types.Segment{ID: "seg-flaky", MeetingID: "m1", SegmentIndex: 0, CapturedAt: clk.Now()}
	done := &types.Segment{ID: "seg-done", MeetingID: "m1", SegmentIndex: 1, CapturedAt: clk.Now()}
	require.NoError(t, db.SaveSegment(flaky))
	require.NoError(t, db.SaveSegment(done))

	// Two failed attempts for the first segment
	require.NoError(t, q.Enqueue(ctx, flaky))
	q.Wait()
	clk.Advance(5 * time.Minute)
	q.ProcessOnce(ctx)

	// The second goes through while the first is backing off
	failing.mu.Lock()
	failing.fail = nil
	failing.mu.Unlock()
	require.NoError(t, q.Enqueue(ctx, done))
	q.Wait()
	assert.Equal(t, []string{"seg-flaky", "seg-flaky", "seg-done"}, failing.sentIDs())

	task, err := db.GetTask(flaky.ID)
	require.NoError(t, err)
	require.Equal(t, 2, task.Attempts)
	require.NoError(t, db.Close())

	// Restart against the same file
	db, err = storage.NewMetadataDB(path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	restarted := &fakeTransport{fail: types.Rejected("upload", 503, "unavailable")}
	q = NewUploadQueue(db, restarted, Config{PollInterval: 30 * time.Second}, WithClock(clk))

	task, err = db.GetTask(flaky.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, task.Attempts, "attempts persisted across restart")

	for i := 0; i < 10; i++ {
		clk.Advance(5 * time.Minute)
		q.ProcessOnce(ctx)
	}

	assert.Equal(t, []string{"seg-flaky", "seg-flaky", "seg-flaky"}, restarted.sentIDs(),
		"three more attempts, uploaded segment never resent")

	got, err := db.GetSegment(flaky.ID)
	require.NoError(t, err)
	assert.Equal(t, types.UploadFailed, got.UploadState)
	assert.Equal(t, 5, got.UploadAttempts)

	dead, err := q.DeadLetters()
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, flaky.ID, dead[0].SegmentID)
	assert.Equal(t, 5, dead[0].Attempts)

	uploaded, err := db.GetSegment(done.ID)
	require.NoError(t, err)
	assert.Equal(t, types.UploadUploaded, uploaded.UploadState)
	assert.Equal(t, 1, uploaded.UploadAttempts)
}
