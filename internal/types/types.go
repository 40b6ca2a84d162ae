package types

import "time"

// UploadState tracks a segment's progress through the upload queue
type UploadState string

// Upload state constants
const (
	UploadPending   UploadState = "PENDING"
	UploadUploading UploadState = "UPLOADING"
	UploadUploaded  UploadState = "UPLOADED"
	UploadFailed    UploadState = "FAILED"
)

// SessionState is the lifecycle state of a recording session
type SessionState string

// Session state constants
const (
	StateIdle    SessionState = "idle"
	StateActive  SessionState = "active"
	StatePaused  SessionState = "paused"
	StateStopped SessionState = "stopped"
)

// Segment is one fixed-length slice of a meeting's audio
type Segment struct {
	ID                  string      `json:"id"`
	MeetingID           string      `json:"meeting_id"`
	SegmentIndex        int         `json:"segment_index"`
	AudioLocalPath      string      `json:"audio_local_path"`
	DurationSeconds     float64     `json:"duration_seconds"`
	CapturedAt          time.Time   `json:"captured_at"`
	IsTranscribed       bool        `json:"is_transcribed"`
	TranscriptionText   string      `json:"transcription_text,omitempty"`
	TranscriptionError  *string     `json:"transcription_error,omitempty"`
	UploadState         UploadState `json:"upload_state"`
	UploadAttempts      int         `json:"upload_attempts"`
	LastUploadAttemptAt *time.Time  `json:"last_upload_attempt_at,omitempty"`
	UploadedAt          *time.Time  `json:"uploaded_at,omitempty"`
}

// TranscriptionPending reports whether the segment has neither text nor error yet
func (s *Segment) TranscriptionPending() bool {
	return !s.IsTranscribed && s.TranscriptionError == nil
}

// SetTranscribed records a successful transcription and clears any earlier error
func (s *Segment) SetTranscribed(text string) {
	s.IsTranscribed = true
	s.TranscriptionText = text
	s.TranscriptionError = nil
}

// SetTranscriptionFailed records a terminal transcription failure
func (s *Segment) SetTranscriptionFailed(msg string) {
	s.IsTranscribed = false
	s.TranscriptionText = ""
	s.TranscriptionError = &msg
}

// Meeting is a recording spanning one or more segments
type Meeting struct {
	ID                   string     `json:"id"`
	Title                string     `json:"title"`
	StartTime            time.Time  `json:"start_time"`
	EndTime              *time.Time `json:"end_time,omitempty"`
	PausedSeconds        float64    `json:"paused_seconds"`
	TotalDurationSeconds float64    `json:"total_duration_seconds"`
	SegmentCount         int        `json:"segment_count"`
	IsComplete           bool       `json:"is_complete"`
	IsRecording          bool       `json:"is_recording"`
	Transcript           string     `json:"transcript"`
	TranscriptPath       string     `json:"transcript_path,omitempty"`
	AssembledAt          *time.Time `json:"assembled_at,omitempty"`
}

// MeetingRecord is the assembled view of a meeting
type MeetingRecord struct {
	Meeting    Meeting   `json:"meeting"`
	Segments   []Segment `json:"segments"`
	Transcript string    `json:"transcript"`
}

// UploadTask is a queued upload for one segment
type UploadTask struct {
	SegmentID      string    `json:"segment_id"`
	Attempts       int       `json:"attempts"`
	MaxAttempts    int       `json:"max_attempts"`
	NextEligibleAt time.Time `json:"next_eligible_at"`
	LastError      string    `json:"last_error,omitempty"`
	DeadLettered   bool      `json:"dead_lettered"`
	CreatedAt      time.Time `json:"created_at"`
}

// TranscriptionResult is the outcome of one transcription request
type TranscriptionResult struct {
	Text     string
	Language string
	Attempts int
	Err      error
}

// OK reports whether the transcription succeeded
func (r TranscriptionResult) OK() bool {
	return r.Err == nil
}

// StorageStats summarises segment storage
type StorageStats struct {
	Meetings        int   `json:"meetings"`
	Segments        int   `json:"segments"`
	Uploaded        int   `json:"uploaded"`
	PendingUploads  int   `json:"pending_uploads"`
	DeadLettered    int   `json:"dead_lettered"`
	Transcribed     int   `json:"transcribed"`
	TranscriptFails int   `json:"transcription_failures"`
	AudioBytes      int64 `json:"audio_bytes"`
}
