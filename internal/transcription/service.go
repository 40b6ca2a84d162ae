package transcription

import (
	"context"
	"log/slog"
	"sync"

	"github.com/codebuildervaibhav/meetcap/internal/events"
	"github.com/codebuildervaibhav/meetcap/internal/types"
)

// Transcriber is the retrying transcription call the service depends on
type Transcriber interface {
	TranscribeWithRetry(ctx context.Context, path string, maxAttempts int) types.TranscriptionResult
}

// SegmentStore is the subset of the store used by the service
type SegmentStore interface {
	UpdateSegment(id string, fn func(*types.Segment) error) (*types.Segment, error)
	ListPendingTranscriptions() ([]types.Segment, error)
}

// Service transcribes finalised segments and records the outcome on the segment
type Service struct {
	client      Transcriber
	store       SegmentStore
	pub         events.Publisher
	maxAttempts int
	logger      *slog.Logger

	wg sync.WaitGroup
}

// NewService creates a transcription service
func NewService(client Transcriber, store SegmentStore, pub events.Publisher, maxAttempts int, logger *slog.Logger) *Service {
	if pub == nil {
		pub = events.Discard{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		client:      client,
		store:       store,
		pub:         pub,
		maxAttempts: maxAttempts,
		logger:      logger,
	}
}

// Dispatch processes seg in the background
func (s *Service) Dispatch(ctx context.Context, seg types.Segment) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.Process(ctx, seg)
	}()
}

// Wait blocks until dispatched work has finished
func (s *Service) Wait() {
	s.wg.Wait()
}

// Process transcribes one segment (with retries) and stores text or error.
// Exactly one TranscriptionUpdated event is published per terminal outcome.
func (s *Service) Process(ctx context.Context, seg types.Segment) {
	res := s.client.TranscribeWithRetry(ctx, seg.AudioLocalPath, s.maxAttempts)
	if ctx.Err() != nil && !res.OK() {
		// Shutting down; leave the segment pending so it is picked up on restart
		s.logger.Info("Transcription interrupted", "segment", seg.ID, "index", seg.SegmentIndex)
		return
	}

	updated, err := s.store.UpdateSegment(seg.ID, func(cur *types.Segment) error {
		if res.OK() {
			cur.SetTranscribed(res.Text)
		} else {
			cur.SetTranscriptionFailed(res.Err.Error())
		}
		return nil
	})
	if err != nil {
		s.logger.Error("Failed to store transcription", "segment", seg.ID, "error", err)
		return
	}

	if res.OK() {
		s.logger.Info("Segment transcribed",
			"meeting", seg.MeetingID,
			"index", seg.SegmentIndex,
			"attempts", res.Attempts,
			"chars", len(res.Text))
	} else {
		s.logger.Error("Segment transcription failed",
			"meeting", seg.MeetingID,
			"index", seg.SegmentIndex,
			"attempts", res.Attempts,
			"kind", types.KindOf(res.Err).String(),
			"error", res.Err)
	}

	s.pub.Publish(events.Event{
		Type:      events.TranscriptionUpdated,
		MeetingID: updated.MeetingID,
		SegmentID: updated.ID,
		Segment:   updated,
	})
}

// RecoverPending dispatches every segment that has neither text nor error,
// e.g. segments whose transcription was cut short by a restart.
func (s *Service) RecoverPending(ctx context.Context) (int, error) {
	pending, err := s.store.ListPendingTranscriptions()
	if err != nil {
		return 0, err
	}
	for _, seg := range pending {
		s.Dispatch(ctx, seg)
	}
	if len(pending) > 0 {
		s.logger.Info("Re-dispatched pending transcriptions", "count", len(pending))
	}
	return len(pending), nil
}
