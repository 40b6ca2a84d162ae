package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/codebuildervaibhav/meetcap/internal/types"
)

// SnapshotVersion is written into every export
const SnapshotVersion = 1

// ErrInvalidSnapshot is returned by Import for documents it cannot read
var ErrInvalidSnapshot = errors.New("invalid export document")

// Snapshot is the JSON document produced by Export and read by Import
type Snapshot struct {
	Version     int                `json:"version"`
	ExportedAt  time.Time          `json:"exported_at"`
	Meetings    []types.Meeting    `json:"meetings"`
	Segments    []types.Segment    `json:"segments"`
	UploadTasks []types.UploadTask `json:"upload_tasks"`
}

// ImportResult counts the rows Import actually inserted
type ImportResult struct {
	Meetings    int `json:"meetings"`
	Segments    int `json:"segments"`
	UploadTasks int `json:"upload_tasks"`
}

// Export writes every meeting, segment and upload task to w as one JSON
// document read inside a single transaction.
func (mdb *MetadataDB) Export(w io.Writer) error {
	tx, err := mdb.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin export: %w", err)
	}
	defer tx.Rollback()

	snap := Snapshot{
		Version:     SnapshotVersion,
		ExportedAt:  time.Now().UTC(),
		Meetings:    []types.Meeting{},
		Segments:    []types.Segment{},
		UploadTasks: []types.UploadTask{},
	}

	if err := scanAll(tx, `SELECT `+meetingColumns+` FROM meetings ORDER BY start_time, id`, func(r rowScanner) error {
		m, err := scanMeeting(r)
		if err == nil {
			snap.Meetings = append(snap.Meetings, *m)
		}
		return err
	}); err != nil {
		return fmt.Errorf("failed to export meetings: %w", err)
	}

	if err := scanAll(tx, `SELECT `+segmentColumns+` FROM segments ORDER BY meeting_id, segment_index`, func(r rowScanner) error {
		seg, err := scanSegment(r)
		if err == nil {
			snap.Segments = append(snap.Segments, *seg)
		}
		return err
	}); err != nil {
		return fmt.Errorf("failed to export segments: %w", err)
	}

	if err := scanAll(tx, `SELECT `+taskColumns+` FROM upload_tasks ORDER BY created_at, segment_id`, func(r rowScanner) error {
		task, err := scanTask(r)
		if err == nil {
			snap.UploadTasks = append(snap.UploadTasks, *task)
		}
		return err
	}); err != nil {
		return fmt.Errorf("failed to export upload tasks: %w", err)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snap); err != nil {
		return fmt.Errorf("failed to encode export: %w", err)
	}
	return nil
}

// Import restores a document written by Export in one transaction. Rows whose
// key already exists are left untouched.
func (mdb *MetadataDB) Import(r io.Reader) (*ImportResult, error) {
	var snap Snapshot
	if err := json.NewDecoder(r).Decode(&snap); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}
	if snap.Version < 1 || snap.Version > SnapshotVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrInvalidSnapshot, snap.Version)
	}

	tx, err := mdb.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin import: %w", err)
	}
	defer tx.Rollback()

	var res ImportResult
	for _, m := range snap.Meetings {
		n, err := execCount(tx, `INSERT OR IGNORE INTO meetings (`+meetingColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			m.ID, m.Title, toMillis(m.StartTime), nullMillis(m.EndTime), secondsToMillis(m.PausedSeconds),
			m.TotalDurationSeconds, m.SegmentCount, m.IsComplete, m.IsRecording, m.Transcript,
			m.TranscriptPath, nullMillis(m.AssembledAt))
		if err != nil {
			return nil, fmt.Errorf("failed to import meeting %s: %w", m.ID, err)
		}
		res.Meetings += n
	}

	touched := make(map[string]bool)
	for _, seg := range snap.Segments {
		if seg.UploadState == "" {
			seg.UploadState = types.UploadPending
		}
		n, err := execCount(tx, `INSERT OR IGNORE INTO segments (`+segmentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			seg.ID, seg.MeetingID, seg.SegmentIndex, seg.AudioLocalPath, seg.DurationSeconds,
			toMillis(seg.CapturedAt), seg.IsTranscribed, seg.TranscriptionText, nullString(seg.TranscriptionError),
			string(seg.UploadState), seg.UploadAttempts, nullMillis(seg.LastUploadAttemptAt), nullMillis(seg.UploadedAt))
		if err != nil {
			return nil, fmt.Errorf("failed to import segment %s: %w", seg.ID, err)
		}
		if n > 0 {
			touched[seg.MeetingID] = true
		}
		res.Segments += n
	}

	for _, task := range snap.UploadTasks {
		n, err := execCount(tx, `INSERT OR IGNORE INTO upload_tasks (`+taskColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			task.SegmentID, task.Attempts, task.MaxAttempts, toMillis(task.NextEligibleAt), task.LastError,
			task.DeadLettered, toMillis(task.CreatedAt))
		if err != nil {
			return nil, fmt.Errorf("failed to import upload task %s: %w", task.SegmentID, err)
		}
		res.UploadTasks += n
	}

	for id := range touched {
		_, err := tx.Exec(`UPDATE meetings SET segment_count = (SELECT COUNT(*) FROM segments WHERE meeting_id = ?)
		WHERE id = ?`, id, id)
		if err != nil {
			return nil, fmt.Errorf("failed to update segment count: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit import: %w", err)
	}
	return &res, nil
}

func scanAll(tx *sql.Tx, query string, fn func(rowScanner) error) error {
	rows, err := tx.Query(query)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		if err := fn(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}

func execCount(tx *sql.Tx, query string, args ...any) (int, error) {
	res, err := tx.Exec(query, args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
