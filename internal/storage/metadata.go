package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/codebuildervaibhav/meetcap/internal/types"
	_ "modernc.org/sqlite"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS meetings (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	start_time INTEGER NOT NULL,
	end_time INTEGER,
	paused_ms INTEGER NOT NULL DEFAULT 0,
	total_duration REAL NOT NULL DEFAULT 0,
	segment_count INTEGER NOT NULL DEFAULT 0,
	is_complete INTEGER NOT NULL DEFAULT 0,
	is_recording INTEGER NOT NULL DEFAULT 0,
	transcript TEXT NOT NULL DEFAULT '',
	transcript_path TEXT NOT NULL DEFAULT '',
	assembled_at INTEGER
);

CREATE TABLE IF NOT EXISTS segments (
	id TEXT PRIMARY KEY,
	meeting_id TEXT NOT NULL,
	segment_index INTEGER NOT NULL,
	audio_path TEXT NOT NULL DEFAULT '',
	duration REAL NOT NULL DEFAULT 0,
	captured_at INTEGER NOT NULL,
	is_transcribed INTEGER NOT NULL DEFAULT 0,
	transcription_text TEXT NOT NULL DEFAULT '',
	transcription_error TEXT,
	upload_state TEXT NOT NULL,
	upload_attempts INTEGER NOT NULL DEFAULT 0,
	last_upload_attempt_at INTEGER,
	uploaded_at INTEGER,
	UNIQUE (meeting_id, segment_index)
);

CREATE TABLE IF NOT EXISTS upload_tasks (
	segment_id TEXT PRIMARY KEY,
	attempts INTEGER NOT NULL DEFAULT 0,
	max_attempts INTEGER NOT NULL,
	next_eligible_at INTEGER NOT NULL,
	last_error TEXT NOT NULL DEFAULT '',
	dead_lettered INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_segments_meeting ON segments(meeting_id, segment_index);
CREATE INDEX IF NOT EXISTS idx_meetings_start ON meetings(start_time);
CREATE INDEX IF NOT EXISTS idx_tasks_due ON upload_tasks(dead_lettered, next_eligible_at);
`

// MetadataDB is the SQLite-backed store for meetings, segments and upload tasks
type MetadataDB struct {
	db    *sql.DB
	locks *keyedMutex
}

// NewMetadataDB opens (or creates) the database at dbPath
func NewMetadataDB(dbPath string) (*MetadataDB, error) {
	if dir := filepath.Dir(dbPath); dir != "" && dbPath != ":memory:" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection serialises writers; per-row read-modify-write is covered by keyed locks
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return &MetadataDB{db: db, locks: newKeyedMutex()}, nil
}

// Close closes the database connection
func (mdb *MetadataDB) Close() error {
	return mdb.db.Close()
}

// CreateMeeting inserts a new meeting row
func (mdb *MetadataDB) CreateMeeting(m *types.Meeting) error {
	_, err := mdb.db.Exec(`
	INSERT INTO meetings (id, title, start_time, end_time, paused_ms, total_duration, segment_count,
		is_complete, is_recording, transcript, transcript_path, assembled_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.Title, toMillis(m.StartTime), nullMillis(m.EndTime), secondsToMillis(m.PausedSeconds),
		m.TotalDurationSeconds, m.SegmentCount, m.IsComplete, m.IsRecording, m.Transcript,
		m.TranscriptPath, nullMillis(m.AssembledAt))
	if err != nil {
		return fmt.Errorf("failed to create meeting %s: %w", m.ID, err)
	}
	return nil
}

const meetingColumns = `id, title, start_time, end_time, paused_ms, total_duration, segment_count,
	is_complete, is_recording, transcript, transcript_path, assembled_at`

// GetMeeting retrieves a meeting by ID
func (mdb *MetadataDB) GetMeeting(id string) (*types.Meeting, error) {
	row := mdb.db.QueryRow(`SELECT `+meetingColumns+` FROM meetings WHERE id = ?`, id)
	m, err := scanMeeting(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.Errorf(types.KindNotFound, "get meeting", "meeting %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get meeting %s: %w", id, err)
	}
	return m, nil
}

// UpdateMeeting applies fn to the stored meeting under the meeting's lock and writes it back.
// SegmentCount is owned by SaveSegment and is not written here.
func (mdb *MetadataDB) UpdateMeeting(id string, fn func(*types.Meeting) error) (*types.Meeting, error) {
	unlock := mdb.locks.Lock("meeting:" + id)
	defer unlock()

	m, err := mdb.GetMeeting(id)
	if err != nil {
		return nil, err
	}
	if err := fn(m); err != nil {
		return nil, err
	}

	_, err = mdb.db.Exec(`
	UPDATE meetings SET title = ?, start_time = ?, end_time = ?, paused_ms = ?, total_duration = ?,
		is_complete = ?, is_recording = ?, transcript = ?, transcript_path = ?, assembled_at = ?
	WHERE id = ?`,
		m.Title, toMillis(m.StartTime), nullMillis(m.EndTime), secondsToMillis(m.PausedSeconds),
		m.TotalDurationSeconds, m.IsComplete, m.IsRecording, m.Transcript, m.TranscriptPath,
		nullMillis(m.AssembledAt), id)
	if err != nil {
		return nil, fmt.Errorf("failed to update meeting %s: %w", id, err)
	}
	return m, nil
}

// DeleteMeeting removes a meeting with its segments and their upload tasks.
// Audio files are left to the caller.
func (mdb *MetadataDB) DeleteMeeting(id string) error {
	unlock := mdb.locks.Lock("meeting:" + id)
	defer unlock()

	tx, err := mdb.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM upload_tasks WHERE segment_id IN (SELECT id FROM segments WHERE meeting_id = ?)`, id); err != nil {
		return fmt.Errorf("failed to delete upload tasks of meeting %s: %w", id, err)
	}
	if _, err := tx.Exec(`DELETE FROM segments WHERE meeting_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete segments of meeting %s: %w", id, err)
	}
	res, err := tx.Exec(`DELETE FROM meetings WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete meeting %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return types.Errorf(types.KindNotFound, "delete meeting", "meeting %s not found", id)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delete of meeting %s: %w", id, err)
	}
	return nil
}

// ListMeetings returns the most recent meetings first
func (mdb *MetadataDB) ListMeetings(limit int) ([]types.Meeting, error) {
	if limit <= 0 {
		limit = 50
	}
	return mdb.queryMeetings(`SELECT `+meetingColumns+` FROM meetings ORDER BY start_time DESC LIMIT ?`, limit)
}

// ListRecordingMeetings returns meetings still flagged as recording, e.g. after a crash
func (mdb *MetadataDB) ListRecordingMeetings() ([]types.Meeting, error) {
	return mdb.queryMeetings(`SELECT ` + meetingColumns + ` FROM meetings WHERE is_recording = 1 ORDER BY start_time`)
}

func (mdb *MetadataDB) queryMeetings(query string, args ...any) ([]types.Meeting, error) {
	rows, err := mdb.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list meetings: %w", err)
	}
	defer rows.Close()

	var meetings []types.Meeting
	for rows.Next() {
		m, err := scanMeeting(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan meeting: %w", err)
		}
		meetings = append(meetings, *m)
	}
	return meetings, rows.Err()
}

// Stats summarises what is stored
func (mdb *MetadataDB) Stats() (*types.StorageStats, error) {
	var s types.StorageStats
	err := mdb.db.QueryRow(`
	SELECT
		(SELECT COUNT(*) FROM meetings),
		(SELECT COUNT(*) FROM segments),
		(SELECT COUNT(*) FROM segments WHERE upload_state = ?),
		(SELECT COUNT(*) FROM upload_tasks WHERE dead_lettered = 0),
		(SELECT COUNT(*) FROM upload_tasks WHERE dead_lettered = 1),
		(SELECT COUNT(*) FROM segments WHERE is_transcribed = 1),
		(SELECT COUNT(*) FROM segments WHERE transcription_error IS NOT NULL)`,
		string(types.UploadUploaded),
	).Scan(&s.Meetings, &s.Segments, &s.Uploaded, &s.PendingUploads, &s.DeadLettered,
		&s.Transcribed, &s.TranscriptFails)
	if err != nil {
		return nil, fmt.Errorf("failed to compute stats: %w", err)
	}

	rows, err := mdb.db.Query(`SELECT audio_path FROM segments WHERE audio_path != ''`)
	if err != nil {
		return nil, fmt.Errorf("failed to list audio paths: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			continue
		}
		if info, err := os.Stat(path); err == nil {
			s.AudioBytes += info.Size()
		}
	}
	return &s, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMeeting(r rowScanner) (*types.Meeting, error) {
	var (
		m                types.Meeting
		start, pausedMs  int64
		end, assembledAt sql.NullInt64
	)
	err := r.Scan(&m.ID, &m.Title, &start, &end, &pausedMs, &m.TotalDurationSeconds, &m.SegmentCount,
		&m.IsComplete, &m.IsRecording, &m.Transcript, &m.TranscriptPath, &assembledAt)
	if err != nil {
		return nil, err
	}
	m.StartTime = fromMillis(start)
	m.EndTime = fromNullMillis(end)
	m.AssembledAt = fromNullMillis(assembledAt)
	m.PausedSeconds = float64(pausedMs) / 1000
	return &m, nil
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func fromNullMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMillis(v.Int64)
	return &t
}

func secondsToMillis(s float64) int64 {
	return int64(s * 1000)
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// keyedMutex hands out one mutex per key, dropping it when unused
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedEntry)}
}

func (k *keyedMutex) Lock(key string) (unlock func()) {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &keyedEntry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
