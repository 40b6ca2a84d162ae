package queue

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/codebuildervaibhav/meetcap/internal/types"
)

// drain uploads every task that is due right now, oldest first
func (q *UploadQueue) drain(ctx context.Context) {
	if !q.prober.Reachable(ctx) {
		q.logger.Debug("Upload endpoint unreachable, skipping drain")
		return
	}

	tasks, err := q.store.ListDueTasks(q.clock.Now())
	if err != nil {
		q.logger.Error("Failed to list due uploads", "error", err)
		return
	}

	for _, task := range tasks {
		if ctx.Err() != nil {
			return
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					q.logger.Error("PANIC uploading segment",
						"segment", task.SegmentID,
						"panic", r,
						"stack", string(debug.Stack()))
					q.recordFailure(task, nil, fmt.Errorf("upload panic: %v", r))
				}
			}()
			q.processTask(ctx, task)
		}()
	}
}

// processTask makes one upload attempt for task
func (q *UploadQueue) processTask(ctx context.Context, task types.UploadTask) {
	seg, err := q.store.GetSegment(task.SegmentID)
	if errors.Is(err, types.ErrNotFound) {
		q.logger.Warn("Dropping upload for missing segment", "segment", task.SegmentID)
		q.deleteTask(task.SegmentID)
		return
	}
	if err != nil {
		q.logger.Error("Failed to load segment for upload", "segment", task.SegmentID, "error", err)
		return
	}
	if seg.UploadState == types.UploadUploaded {
		q.deleteTask(task.SegmentID)
		return
	}

	if _, err := q.store.UpdateSegment(seg.ID, func(s *types.Segment) error {
		s.UploadState = types.UploadUploading
		return nil
	}); err != nil {
		q.logger.Error("Failed to mark segment uploading", "segment", seg.ID, "error", err)
		return
	}

	uploadCtx, cancel := context.WithTimeout(ctx, q.cfg.Timeout)
	err = q.transport.Upload(uploadCtx, seg)
	if err != nil && errors.Is(uploadCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, types.ErrTimeout) {
		err = types.NewError(types.KindTimeout, "upload", err)
	}
	cancel()

	if err != nil && ctx.Err() != nil {
		// Shutdown, not a failed attempt
		q.updateSegment(seg.ID, func(s *types.Segment) { s.UploadState = types.UploadPending })
		return
	}
	if err != nil {
		q.recordFailure(task, seg, err)
		return
	}

	now := q.clock.Now()
	updated := q.updateSegment(seg.ID, func(s *types.Segment) {
		s.UploadState = types.UploadUploaded
		s.UploadAttempts++
		s.LastUploadAttemptAt = &now
		s.UploadedAt = &now
	})
	q.deleteTask(seg.ID)

	q.logger.Info("Segment uploaded",
		"meeting", seg.MeetingID,
		"index", seg.SegmentIndex,
		"attempt", task.Attempts+1,
		"transport", q.transport.Name())
	if updated != nil {
		q.publish(updated)
	}
}

// recordFailure counts a failed attempt and either schedules the next one or
// dead-letters the task. Non-retryable errors dead-letter immediately.
func (q *UploadQueue) recordFailure(task types.UploadTask, seg *types.Segment, uploadErr error) {
	now := q.clock.Now()
	task.Attempts++
	task.LastError = uploadErr.Error()

	dead := task.Attempts >= task.MaxAttempts || !types.Retryable(uploadErr)
	if dead {
		task.DeadLettered = true
	} else {
		task.NextEligibleAt = now.Add(q.cfg.Backoff.Delay(task.Attempts))
	}
	if err := q.store.SaveTask(&task); err != nil {
		q.logger.Error("Failed to save upload task", "segment", task.SegmentID, "error", err)
	}

	updated := q.updateSegment(task.SegmentID, func(s *types.Segment) {
		s.UploadAttempts++
		s.LastUploadAttemptAt = &now
		if dead {
			s.UploadState = types.UploadFailed
		} else {
			s.UploadState = types.UploadPending
		}
	})

	meetingID, index := "", 0
	if seg != nil {
		meetingID, index = seg.MeetingID, seg.SegmentIndex
	}
	if dead {
		q.logger.Error("Upload dead-lettered",
			"segment", task.SegmentID,
			"meeting", meetingID,
			"index", index,
			"attempts", task.Attempts,
			"kind", types.KindOf(uploadErr).String(),
			"error", uploadErr)
	} else {
		q.logger.Warn("Upload attempt failed",
			"segment", task.SegmentID,
			"meeting", meetingID,
			"index", index,
			"attempt", task.Attempts,
			"max_attempts", task.MaxAttempts,
			"retry_at", task.NextEligibleAt,
			"error", uploadErr)
	}
	if updated != nil {
		q.publish(updated)
	}
}

func (q *UploadQueue) updateSegment(id string, fn func(*types.Segment)) *types.Segment {
	seg, err := q.store.UpdateSegment(id, func(s *types.Segment) error {
		fn(s)
		return nil
	})
	if err != nil {
		q.logger.Error("Failed to update segment upload state", "segment", id, "error", err)
		return nil
	}
	return seg
}

func (q *UploadQueue) deleteTask(segmentID string) {
	if err := q.store.DeleteTask(segmentID); err != nil {
		q.logger.Error("Failed to delete upload task", "segment", segmentID, "error", err)
	}
}
