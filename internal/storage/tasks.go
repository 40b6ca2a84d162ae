package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/codebuildervaibhav/meetcap/internal/types"
)

const taskColumns = `segment_id, attempts, max_attempts, next_eligible_at, last_error, dead_lettered, created_at`

// InsertTask adds an upload task unless one already exists for the segment.
// It reports whether a row was inserted.
func (mdb *MetadataDB) InsertTask(task *types.UploadTask) (bool, error) {
	res, err := mdb.db.Exec(`INSERT OR IGNORE INTO upload_tasks (`+taskColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		task.SegmentID, task.Attempts, task.MaxAttempts, toMillis(task.NextEligibleAt), task.LastError,
		task.DeadLettered, toMillis(task.CreatedAt))
	if err != nil {
		return false, fmt.Errorf("failed to insert upload task %s: %w", task.SegmentID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n == 1, nil
}

// GetTask retrieves the upload task for a segment
func (mdb *MetadataDB) GetTask(segmentID string) (*types.UploadTask, error) {
	row := mdb.db.QueryRow(`SELECT `+taskColumns+` FROM upload_tasks WHERE segment_id = ?`, segmentID)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.Errorf(types.KindNotFound, "get task", "no upload task for segment %s", segmentID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get upload task %s: %w", segmentID, err)
	}
	return task, nil
}

// SaveTask writes the task's counters back
func (mdb *MetadataDB) SaveTask(task *types.UploadTask) error {
	_, err := mdb.db.Exec(`UPDATE upload_tasks SET attempts = ?, max_attempts = ?, next_eligible_at = ?,
		last_error = ?, dead_lettered = ? WHERE segment_id = ?`,
		task.Attempts, task.MaxAttempts, toMillis(task.NextEligibleAt), task.LastError, task.DeadLettered,
		task.SegmentID)
	if err != nil {
		return fmt.Errorf("failed to save upload task %s: %w", task.SegmentID, err)
	}
	return nil
}

// DeleteTask removes a segment's upload task
func (mdb *MetadataDB) DeleteTask(segmentID string) error {
	if _, err := mdb.db.Exec(`DELETE FROM upload_tasks WHERE segment_id = ?`, segmentID); err != nil {
		return fmt.Errorf("failed to delete upload task %s: %w", segmentID, err)
	}
	return nil
}

// ListDueTasks returns live tasks eligible at now, oldest first
func (mdb *MetadataDB) ListDueTasks(now time.Time) ([]types.UploadTask, error) {
	return mdb.queryTasks(`SELECT `+taskColumns+` FROM upload_tasks
	WHERE dead_lettered = 0 AND next_eligible_at <= ? ORDER BY created_at, segment_id`, toMillis(now))
}

// ListTasks returns all live tasks, or all dead-lettered ones
func (mdb *MetadataDB) ListTasks(deadLettered bool) ([]types.UploadTask, error) {
	return mdb.queryTasks(`SELECT `+taskColumns+` FROM upload_tasks
	WHERE dead_lettered = ? ORDER BY created_at, segment_id`, deadLettered)
}

func (mdb *MetadataDB) queryTasks(query string, args ...any) ([]types.UploadTask, error) {
	rows, err := mdb.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list upload tasks: %w", err)
	}
	defer rows.Close()

	var tasks []types.UploadTask
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan upload task: %w", err)
		}
		tasks = append(tasks, *task)
	}
	return tasks, rows.Err()
}

func scanTask(r rowScanner) (*types.UploadTask, error) {
	var (
		task            types.UploadTask
		next, createdAt int64
	)
	err := r.Scan(&task.SegmentID, &task.Attempts, &task.MaxAttempts, &next, &task.LastError,
		&task.DeadLettered, &createdAt)
	if err != nil {
		return nil, err
	}
	task.NextEligibleAt = fromMillis(next)
	task.CreatedAt = fromMillis(createdAt)
	return &task, nil
}
