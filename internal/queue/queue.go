// Package queue uploads finalised segments with persistent retry state.
package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/codebuildervaibhav/meetcap/internal/backoff"
	"github.com/codebuildervaibhav/meetcap/internal/clock"
	"github.com/codebuildervaibhav/meetcap/internal/events"
	"github.com/codebuildervaibhav/meetcap/internal/types"
)

// DefaultMaxAttempts is the number of uploads tried before a task is dead-lettered
const DefaultMaxAttempts = 5

// Store is the persistence the queue needs
type Store interface {
	InsertTask(task *types.UploadTask) (bool, error)
	GetTask(segmentID string) (*types.UploadTask, error)
	SaveTask(task *types.UploadTask) error
	DeleteTask(segmentID string) error
	ListDueTasks(now time.Time) ([]types.UploadTask, error)
	ListTasks(deadLettered bool) ([]types.UploadTask, error)
	GetSegment(id string) (*types.Segment, error)
	UpdateSegment(id string, fn func(*types.Segment) error) (*types.Segment, error)
}

// Config tunes the queue
type Config struct {
	MaxAttempts  int
	Backoff      backoff.Policy
	Timeout      time.Duration // per upload
	PollInterval time.Duration
}

// UploadQueue moves segment audio to remote storage. Every counter change is
// written through to the store so a restart resumes where it left off.
type UploadQueue struct {
	store     Store
	transport Transport
	prober    Prober
	clock     clock.Clock
	pub       events.Publisher
	logger    *slog.Logger
	cfg       Config

	running atomic.Bool
	rerun   atomic.Bool
	wg      sync.WaitGroup

	mu        sync.Mutex
	reachable bool
}

// Option customises an UploadQueue
type Option func(*UploadQueue)

// WithClock replaces the wall clock
func WithClock(clk clock.Clock) Option {
	return func(q *UploadQueue) { q.clock = clk }
}

// WithPublisher sets where upload.updated events go
func WithPublisher(p events.Publisher) Option {
	return func(q *UploadQueue) { q.pub = p }
}

// WithProber sets the reachability check
func WithProber(p Prober) Option {
	return func(q *UploadQueue) { q.prober = p }
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(q *UploadQueue) { q.logger = l }
}

// NewUploadQueue creates a queue over store that sends through transport
func NewUploadQueue(store Store, transport Transport, cfg Config, opts ...Option) *UploadQueue {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Backoff.Base == 0 {
		cfg.Backoff = backoff.Upload
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}

	q := &UploadQueue{
		store:     store,
		transport: transport,
		prober:    AlwaysReachable{},
		clock:     clock.New(),
		pub:       events.Discard{},
		logger:    slog.Default(),
		cfg:       cfg,
		reachable: true,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue records an upload task for seg and kicks a background drain.
// Enqueueing the same segment twice leaves a single task.
func (q *UploadQueue) Enqueue(ctx context.Context, seg *types.Segment) error {
	if seg.UploadState == types.UploadUploaded {
		return nil
	}

	now := q.clock.Now()
	inserted, err := q.store.InsertTask(&types.UploadTask{
		SegmentID:      seg.ID,
		MaxAttempts:    q.cfg.MaxAttempts,
		NextEligibleAt: now,
		CreatedAt:      now,
	})
	if err != nil {
		return err
	}
	if inserted {
		q.logger.Debug("Upload enqueued", "segment", seg.ID, "meeting", seg.MeetingID, "index", seg.SegmentIndex)
	}

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		q.ProcessOnce(ctx)
	}()
	return nil
}

// ProcessOnce drains every due task. Concurrent callers coalesce into the
// running drain, which goes round again so nothing enqueued meanwhile is missed.
func (q *UploadQueue) ProcessOnce(ctx context.Context) {
	q.rerun.Store(true)
	for {
		if !q.running.CompareAndSwap(false, true) {
			return
		}
		for q.rerun.Swap(false) {
			if ctx.Err() != nil {
				break
			}
			q.drain(ctx)
		}
		q.running.Store(false)
		if !q.rerun.Load() || ctx.Err() != nil {
			return
		}
	}
}

// Run polls reachability until ctx is done. A drain is triggered when
// connectivity comes back and whenever reachable tasks are due.
func (q *UploadQueue) Run(ctx context.Context) error {
	q.logger.Info("Upload queue started", "transport", q.transport.Name(), "poll_interval", q.cfg.PollInterval)

	ticker := q.clock.NewTicker(q.cfg.PollInterval)
	defer ticker.Stop()

	q.ProcessOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			q.wg.Wait()
			q.logger.Info("Upload queue stopped")
			return nil
		case <-ticker.C():
			q.poll(ctx)
		}
	}
}

func (q *UploadQueue) poll(ctx context.Context) {
	up := q.prober.Reachable(ctx)

	q.mu.Lock()
	was := q.reachable
	q.reachable = up
	q.mu.Unlock()

	switch {
	case !up:
		if was {
			q.logger.Warn("Upload endpoint unreachable, uploads paused")
		}
	case !was:
		q.logger.Info("Upload endpoint reachable again, resuming uploads")
		q.ProcessOnce(ctx)
	default:
		due, err := q.store.ListDueTasks(q.clock.Now())
		if err != nil {
			q.logger.Error("Failed to list due uploads", "error", err)
			return
		}
		if len(due) > 0 {
			q.ProcessOnce(ctx)
		}
	}
}

// Wait blocks until background drains started by Enqueue have returned
func (q *UploadQueue) Wait() {
	q.wg.Wait()
}

// DeadLetters lists tasks that exhausted their attempts
func (q *UploadQueue) DeadLetters() ([]types.UploadTask, error) {
	return q.store.ListTasks(true)
}

// Pending lists live tasks
func (q *UploadQueue) Pending() ([]types.UploadTask, error) {
	return q.store.ListTasks(false)
}

// Requeue gives a dead-lettered task a fresh set of attempts
func (q *UploadQueue) Requeue(ctx context.Context, segmentID string) error {
	task, err := q.store.GetTask(segmentID)
	if err != nil {
		return err
	}
	if !task.DeadLettered {
		return types.Errorf(types.KindInvalidState, "requeue", "upload for segment %s is not dead-lettered", segmentID)
	}

	task.Attempts = 0
	task.DeadLettered = false
	task.LastError = ""
	task.MaxAttempts = q.cfg.MaxAttempts
	task.NextEligibleAt = q.clock.Now()
	if err := q.store.SaveTask(task); err != nil {
		return err
	}
	seg, err := q.store.UpdateSegment(segmentID, func(s *types.Segment) error {
		s.UploadState = types.UploadPending
		return nil
	})
	if err != nil && !errors.Is(err, types.ErrNotFound) {
		return err
	}
	if seg != nil {
		q.publish(seg)
	}
	q.logger.Info("Upload requeued", "segment", segmentID)

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		q.ProcessOnce(ctx)
	}()
	return nil
}

func (q *UploadQueue) publish(seg *types.Segment) {
	q.pub.Publish(events.Event{
		Type:      events.UploadUpdated,
		MeetingID: seg.MeetingID,
		SegmentID: seg.ID,
		Segment:   seg,
	})
}
