package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/codebuildervaibhav/meetcap/internal/types"
)

// LocalStorage lays out segment audio and assembled transcripts on disk
type LocalStorage struct {
	audioDir  string
	outputDir string
}

// NewLocalStorage creates a new local storage handler
func NewLocalStorage(audioDir, outputDir string) *LocalStorage {
	return &LocalStorage{
		audioDir:  audioDir,
		outputDir: outputDir,
	}
}

// SegmentPath returns where a segment's audio lives: <audio>/<meeting>/segment_0001.wav
func (ls *LocalStorage) SegmentPath(meetingID string, index int, ext string) (string, error) {
	dir := filepath.Join(ls.audioDir, meetingID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create segment directory: %w", err)
	}
	if ext == "" {
		ext = ".wav"
	}
	return filepath.Join(dir, fmt.Sprintf("segment_%04d%s", index, ext)), nil
}

// RemoveAudio deletes a segment's audio file; a missing file is not an error
func (ls *LocalStorage) RemoveAudio(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove %s: %w", path, err)
	}
	// Drop the meeting directory once it is empty
	dir := filepath.Dir(path)
	if entries, err := os.ReadDir(dir); err == nil && len(entries) == 0 {
		os.Remove(dir)
	}
	return nil
}

// SaveTranscript writes the assembled transcript and its metadata.
// Files are named from the meeting start time so reassembly overwrites them.
func (ls *LocalStorage) SaveTranscript(rec *types.MeetingRecord) (string, error) {
	start := rec.Meeting.StartTime.Local()

	// Create dated directory structure: outputs/2025/01/23/
	dateDir := filepath.Join(ls.outputDir,
		fmt.Sprintf("%d", start.Year()),
		fmt.Sprintf("%02d", start.Month()),
		fmt.Sprintf("%02d", start.Day()))

	if err := os.MkdirAll(dateDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create date directory: %w", err)
	}

	// Generate filename: 20250123_143022_standup.txt
	baseFilename := fmt.Sprintf("%s_%s", start.Format("20060102_150405"), sanitizeFilename(rec.Meeting.Title))

	txtPath := filepath.Join(dateDir, baseFilename+".txt")
	metaPath := filepath.Join(dateDir, baseFilename+"_meta.json")

	if err := atomicWrite(txtPath, []byte(rec.Transcript)); err != nil {
		return "", fmt.Errorf("failed to save transcript: %w", err)
	}

	transcribed, failed := 0, 0
	for _, s := range rec.Segments {
		switch {
		case s.IsTranscribed:
			transcribed++
		case s.TranscriptionError != nil:
			failed++
		}
	}

	metadata := map[string]interface{}{
		"meeting_id":           rec.Meeting.ID,
		"title":                rec.Meeting.Title,
		"start_time":           rec.Meeting.StartTime,
		"end_time":             rec.Meeting.EndTime,
		"duration_seconds":     rec.Meeting.TotalDurationSeconds,
		"paused_seconds":       rec.Meeting.PausedSeconds,
		"segment_count":        rec.Meeting.SegmentCount,
		"segments_transcribed": transcribed,
		"segments_failed":      failed,
		"word_count":           len(strings.Fields(rec.Transcript)),
		"is_complete":          rec.Meeting.IsComplete,
		"assembled_at":         rec.Meeting.AssembledAt,
		"local_path":           txtPath,
	}

	metaJSON, err := json.MarshalIndent(metadata, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal metadata: %w", err)
	}

	if err := atomicWrite(metaPath, metaJSON); err != nil {
		return "", fmt.Errorf("failed to save metadata: %w", err)
	}

	return txtPath, nil
}

// atomicWrite writes to a temp file in the same directory and renames it into place
func atomicWrite(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}

// sanitizeFilename replaces characters that are unsafe in file names
func sanitizeFilename(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "meeting"
	}
	result := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', ' ':
			return '_'
		}
		return r
	}, name)
	if len(result) > 100 {
		result = result[:100]
	}
	return result
}
