package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/codebuildervaibhav/meetcap/internal/types"
)

const segmentColumns = `id, meeting_id, segment_index, audio_path, duration, captured_at, is_transcribed,
	transcription_text, transcription_error, upload_state, upload_attempts, last_upload_attempt_at, uploaded_at`

// SaveSegment persists a newly captured segment and bumps the meeting's segment count
// in the same transaction.
func (mdb *MetadataDB) SaveSegment(seg *types.Segment) error {
	if seg.UploadState == "" {
		seg.UploadState = types.UploadPending
	}

	tx, err := mdb.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`INSERT INTO segments (`+segmentColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		seg.ID, seg.MeetingID, seg.SegmentIndex, seg.AudioLocalPath, seg.DurationSeconds,
		toMillis(seg.CapturedAt), seg.IsTranscribed, seg.TranscriptionText, nullString(seg.TranscriptionError),
		string(seg.UploadState), seg.UploadAttempts, nullMillis(seg.LastUploadAttemptAt), nullMillis(seg.UploadedAt))
	if isUniqueViolation(err) {
		return types.Errorf(types.KindInvalidState, "save segment",
			"segment %d of meeting %s already exists", seg.SegmentIndex, seg.MeetingID)
	}
	if err != nil {
		return fmt.Errorf("failed to save segment %s: %w", seg.ID, err)
	}

	_, err = tx.Exec(`UPDATE meetings SET segment_count = (SELECT COUNT(*) FROM segments WHERE meeting_id = ?)
	WHERE id = ?`, seg.MeetingID, seg.MeetingID)
	if err != nil {
		return fmt.Errorf("failed to update segment count: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit segment %s: %w", seg.ID, err)
	}
	return nil
}

// GetSegment retrieves a segment by ID
func (mdb *MetadataDB) GetSegment(id string) (*types.Segment, error) {
	row := mdb.db.QueryRow(`SELECT `+segmentColumns+` FROM segments WHERE id = ?`, id)
	seg, err := scanSegment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.Errorf(types.KindNotFound, "get segment", "segment %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get segment %s: %w", id, err)
	}
	return seg, nil
}

// UpdateSegment applies fn under the segment's lock and writes the mutable fields back.
// Concurrent transcription and upload updates to the same segment never overwrite each other.
func (mdb *MetadataDB) UpdateSegment(id string, fn func(*types.Segment) error) (*types.Segment, error) {
	unlock := mdb.locks.Lock("segment:" + id)
	defer unlock()

	seg, err := mdb.GetSegment(id)
	if err != nil {
		return nil, err
	}
	if err := fn(seg); err != nil {
		return nil, err
	}

	_, err = mdb.db.Exec(`
	UPDATE segments SET audio_path = ?, duration = ?, is_transcribed = ?, transcription_text = ?,
		transcription_error = ?, upload_state = ?, upload_attempts = ?, last_upload_attempt_at = ?, uploaded_at = ?
	WHERE id = ?`,
		seg.AudioLocalPath, seg.DurationSeconds, seg.IsTranscribed, seg.TranscriptionText,
		nullString(seg.TranscriptionError), string(seg.UploadState), seg.UploadAttempts,
		nullMillis(seg.LastUploadAttemptAt), nullMillis(seg.UploadedAt), id)
	if err != nil {
		return nil, fmt.Errorf("failed to update segment %s: %w", id, err)
	}
	return seg, nil
}

// ListSegments returns a meeting's segments ordered by index
func (mdb *MetadataDB) ListSegments(meetingID string) ([]types.Segment, error) {
	return mdb.querySegments(`SELECT `+segmentColumns+` FROM segments WHERE meeting_id = ?
	ORDER BY segment_index`, meetingID)
}

// ListPendingTranscriptions returns segments with neither text nor error, oldest first
func (mdb *MetadataDB) ListPendingTranscriptions() ([]types.Segment, error) {
	return mdb.querySegments(`SELECT ` + segmentColumns + ` FROM segments
	WHERE is_transcribed = 0 AND transcription_error IS NULL AND audio_path != ''
	ORDER BY captured_at`)
}

// ListExpiredAudio returns uploaded segments of complete meetings that still hold
// local audio and were uploaded before cutoff
func (mdb *MetadataDB) ListExpiredAudio(cutoff time.Time) ([]types.Segment, error) {
	return mdb.querySegments(`SELECT `+segmentColumns+` FROM segments
	WHERE meeting_id IN (SELECT id FROM meetings WHERE is_complete = 1)
		AND upload_state = ? AND audio_path != '' AND uploaded_at IS NOT NULL AND uploaded_at < ?
	ORDER BY uploaded_at`, string(types.UploadUploaded), toMillis(cutoff))
}

func (mdb *MetadataDB) querySegments(query string, args ...any) ([]types.Segment, error) {
	rows, err := mdb.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list segments: %w", err)
	}
	defer rows.Close()

	var segments []types.Segment
	for rows.Next() {
		seg, err := scanSegment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan segment: %w", err)
		}
		segments = append(segments, *seg)
	}
	return segments, rows.Err()
}

func scanSegment(r rowScanner) (*types.Segment, error) {
	var (
		seg                   types.Segment
		capturedAt            int64
		txErr                 sql.NullString
		state                 string
		lastAttempt, uploaded sql.NullInt64
	)
	err := r.Scan(&seg.ID, &seg.MeetingID, &seg.SegmentIndex, &seg.AudioLocalPath, &seg.DurationSeconds,
		&capturedAt, &seg.IsTranscribed, &seg.TranscriptionText, &txErr, &state, &seg.UploadAttempts,
		&lastAttempt, &uploaded)
	if err != nil {
		return nil, err
	}
	seg.CapturedAt = fromMillis(capturedAt)
	if txErr.Valid {
		msg := txErr.String
		seg.TranscriptionError = &msg
	}
	seg.UploadState = types.UploadState(state)
	seg.LastUploadAttemptAt = fromNullMillis(lastAttempt)
	seg.UploadedAt = fromNullMillis(uploaded)
	return &seg, nil
}
