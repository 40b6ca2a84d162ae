package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/codebuildervaibhav/meetcap/internal/events"
	"github.com/codebuildervaibhav/meetcap/internal/session"
	"github.com/codebuildervaibhav/meetcap/internal/types"
)

type Formatter struct {
	w io.Writer
}

func NewFormatter(w io.Writer) *Formatter {
	return &Formatter{w: w}
}

func (f *Formatter) Status(st session.Status) {
	switch st.State {
	case types.StateActive:
		fmt.Fprintf(f.w, "🔴 Recording %q (segment %d, %s elapsed)\n",
			st.Title, st.CurrentSegment, formatDuration(seconds(st.ElapsedSeconds)))
	case types.StatePaused:
		fmt.Fprintf(f.w, "⏸️  Paused %q (%d segments, %s elapsed)\n",
			st.Title, st.SegmentsRecorded, formatDuration(seconds(st.ElapsedSeconds)))
	case types.StateStopped:
		fmt.Fprintf(f.w, "⏹️  Last session %q stopped (%d segments)\n", st.Title, st.SegmentsRecorded)
	default:
		fmt.Fprintf(f.w, "💤 Idle\n")
	}
	if st.FlushFailures > 0 {
		f.Warning(fmt.Sprintf("%d segment(s) could not be captured", st.FlushFailures))
	}
}

func (f *Formatter) MeetingStopped(rec *types.MeetingRecord) {
	m := rec.Meeting
	fmt.Fprintf(f.w, "⏹️  Recording stopped (%s, %d segments)\n",
		formatDuration(seconds(m.TotalDurationSeconds)), len(rec.Segments))
	if m.TranscriptPath != "" {
		fmt.Fprintf(f.w, "✅ Transcript saved: %s\n", m.TranscriptPath)
	}
}

func (f *Formatter) MeetingListHeader() {
	fmt.Fprintf(f.w, "📁 Meetings:\n\n")
}

func (f *Formatter) MeetingListItem(m types.Meeting) {
	status := ""
	switch {
	case m.IsRecording:
		status = " 🔴"
	case m.IsComplete && m.Transcript != "":
		status = " ✅"
	case m.IsComplete:
		status = " 📝"
	}
	fmt.Fprintf(f.w, "  %s  %s  %-30s %8s%s\n",
		m.ID, m.StartTime.Local().Format("2006-01-02 15:04"), m.Title,
		formatDuration(seconds(m.TotalDurationSeconds)), status)
}

func (f *Formatter) UploadTask(t types.UploadTask) {
	line := fmt.Sprintf("  %s  attempts %d/%d", t.SegmentID, t.Attempts, t.MaxAttempts)
	if t.LastError != "" {
		line += "  " + t.LastError
	}
	fmt.Fprintln(f.w, line)
}

func (f *Formatter) Stats(st *types.StorageStats) {
	fmt.Fprintf(f.w, "📊 Storage:\n\n")
	fmt.Fprintf(f.w, "  Meetings:               %d\n", st.Meetings)
	fmt.Fprintf(f.w, "  Segments:               %d\n", st.Segments)
	fmt.Fprintf(f.w, "  Transcribed:            %d\n", st.Transcribed)
	fmt.Fprintf(f.w, "  Transcription failures: %d\n", st.TranscriptFails)
	fmt.Fprintf(f.w, "  Uploaded:               %d\n", st.Uploaded)
	fmt.Fprintf(f.w, "  Pending uploads:        %d\n", st.PendingUploads)
	fmt.Fprintf(f.w, "  Dead-lettered:          %d\n", st.DeadLettered)
	fmt.Fprintf(f.w, "  Audio on disk:          %.1f MB\n", float64(st.AudioBytes)/(1024*1024))
}

func (f *Formatter) Event(ev events.Event) {
	at := ev.Timestamp.Local().Format("15:04:05")
	switch ev.Type {
	case events.SessionState:
		fmt.Fprintf(f.w, "%s  session   %s %s\n", at, ev.MeetingID, ev.State)
	case events.SegmentFinalized:
		fmt.Fprintf(f.w, "%s  segment   %s #%d captured\n", at, ev.MeetingID, segmentIndex(ev))
	case events.TranscriptionUpdated:
		detail := "transcribed"
		if ev.Segment != nil && ev.Segment.TranscriptionError != nil {
			detail = "failed: " + *ev.Segment.TranscriptionError
		}
		fmt.Fprintf(f.w, "%s  transcript %s #%d %s\n", at, ev.MeetingID, segmentIndex(ev), detail)
	case events.UploadUpdated:
		state := ""
		if ev.Segment != nil {
			state = string(ev.Segment.UploadState)
		}
		fmt.Fprintf(f.w, "%s  upload    %s #%d %s\n", at, ev.MeetingID, segmentIndex(ev), state)
	case events.MeetingAssembled:
		fmt.Fprintf(f.w, "%s  assembled %s\n", at, ev.MeetingID)
	default:
		fmt.Fprintf(f.w, "%s  %s %s\n", at, ev.Type, ev.MeetingID)
	}
}

func (f *Formatter) Error(msg string) {
	fmt.Fprintf(f.w, "❌ %s\n", msg)
}

func (f *Formatter) Info(msg string) {
	fmt.Fprintf(f.w, "ℹ️  %s\n", msg)
}

func (f *Formatter) Success(msg string) {
	fmt.Fprintf(f.w, "✅ %s\n", msg)
}

func (f *Formatter) Warning(msg string) {
	fmt.Fprintf(f.w, "⚠️  %s\n", msg)
}

func segmentIndex(ev events.Event) int {
	if ev.Segment == nil {
		return 0
	}
	return ev.Segment.SegmentIndex
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh%02dm%02ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%02ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
