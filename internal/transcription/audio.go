package transcription

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/youpy/go-wav"

	"github.com/codebuildervaibhav/meetcap/internal/types"
)

var supportedFormats = []string{".mp3", ".wav", ".m4a", ".ogg", ".flac", ".webm", ".mp4", ".mpeg", ".mpga"}

// ValidateAudioFormat checks if the file format is supported
func ValidateAudioFormat(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	for _, format := range supportedFormats {
		if ext == format {
			return true
		}
	}
	return false
}

// ValidateAudio rejects payloads the provider would refuse: missing, too small,
// too large, unsupported, or (for WAV) an unreadable header.
func ValidateAudio(path string, minBytes, maxBytes int64) error {
	const op = "validate audio"

	if !ValidateAudioFormat(path) {
		return types.Errorf(types.KindInvalidAudio, op, "unsupported format %q", filepath.Ext(path))
	}

	info, err := os.Stat(path)
	if err != nil {
		return types.NewError(types.KindInvalidAudio, op, err)
	}
	if info.IsDir() {
		return types.Errorf(types.KindInvalidAudio, op, "%s is a directory", path)
	}
	if info.Size() < minBytes {
		return types.Errorf(types.KindInvalidAudio, op, "file too small: %d bytes (min %d)", info.Size(), minBytes)
	}
	if maxBytes > 0 && info.Size() > maxBytes {
		return types.Errorf(types.KindInvalidAudio, op, "file too large: %.1fMB (max %.1fMB)",
			mb(info.Size()), mb(maxBytes))
	}

	if strings.EqualFold(filepath.Ext(path), ".wav") {
		if err := validateWAVHeader(path); err != nil {
			return types.NewError(types.KindInvalidAudio, op, err)
		}
	}
	return nil
}

func validateWAVHeader(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	format, err := wav.NewReader(f).Format()
	if err != nil {
		return fmt.Errorf("bad WAV header: %w", err)
	}
	if format.NumChannels == 0 || format.SampleRate == 0 {
		return fmt.Errorf("bad WAV format: %d channels at %dHz", format.NumChannels, format.SampleRate)
	}
	return nil
}

func mb(n int64) float64 {
	return float64(n) / (1024 * 1024)
}
