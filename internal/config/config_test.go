package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cfg.SegmentLength())
	assert.Equal(t, 60*time.Second, cfg.TranscriptionTimeout())
	assert.Equal(t, 3, cfg.Transcription.MaxAttempts)
	assert.Equal(t, 5, cfg.Upload.MaxAttempts)
	assert.Equal(t, 30*time.Second, cfg.PollInterval())
	assert.Equal(t, 7*24*time.Hour, cfg.Retention())
	assert.Equal(t, []string{"streaming", "buffered"}, cfg.Transcription.Strategies)
	assert.Equal(t, 2, cfg.Assembler.MinSegmentChars)
	assert.Equal(t, 5*time.Minute, cfg.ResyncInterval())
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9000
recording:
  segment_seconds: 10
  device: generator
upload:
  transport: http
  endpoint: http://localhost:9999/upload
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 10*time.Second, cfg.SegmentLength())
	assert.Equal(t, "generator", cfg.Recording.Device)
	assert.Equal(t, "http://localhost:9999/upload", cfg.Upload.Endpoint)
}

func TestLoadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[transcription]
model = "whisper-large"
max_attempts = 4

[cleanup]
retention_days = 2
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "whisper-large", cfg.Transcription.Model)
	assert.Equal(t, 4, cfg.Transcription.MaxAttempts)
	assert.Equal(t, 48*time.Hour, cfg.Retention())
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("MEETCAP_PORT", "7777")
	t.Setenv("MEETCAP_DEVICE", "generator")
	t.Setenv("MEETCAP_TRANSCRIPTION_API_KEY", "sk-test")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7777, cfg.Server.Port)
	assert.Equal(t, "generator", cfg.Recording.Device)
	assert.Equal(t, "sk-test", cfg.Transcription.APIKey)
}

func TestValidateRejectsUnknownValues(t *testing.T) {
	cfg := Default()
	cfg.Recording.Device = "tape"
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Upload.Transport = "http"
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Transcription.Strategies = []string{"carrier-pigeon"}
	assert.Error(t, cfg.Validate())
}
