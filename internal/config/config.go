package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server struct {
		Port int    `yaml:"port" toml:"port"`
		Host string `yaml:"host" toml:"host"`
	} `yaml:"server" toml:"server"`

	Log struct {
		Level string `yaml:"level" toml:"level"`
	} `yaml:"log" toml:"log"`

	Recording struct {
		SegmentSeconds      int      `yaml:"segment_seconds" toml:"segment_seconds"`
		AudioDir            string   `yaml:"audio_dir" toml:"audio_dir"`
		Device              string   `yaml:"device" toml:"device"` // ffmpeg, generator or portaudio
		FFmpegFormat        string   `yaml:"ffmpeg_format" toml:"ffmpeg_format"`
		FFmpegInput         string   `yaml:"ffmpeg_input" toml:"ffmpeg_input"`
		FFmpegExtraArgs     []string `yaml:"ffmpeg_extra_args" toml:"ffmpeg_extra_args"`
		SampleRate          int      `yaml:"sample_rate" toml:"sample_rate"`
		FlushTimeoutSeconds int      `yaml:"flush_timeout_seconds" toml:"flush_timeout_seconds"`
	} `yaml:"recording" toml:"recording"`

	Storage struct {
		Database  string `yaml:"database" toml:"database"`
		OutputDir string `yaml:"output_dir" toml:"output_dir"`
	} `yaml:"storage" toml:"storage"`

	Transcription struct {
		Endpoint       string   `yaml:"endpoint" toml:"endpoint"`
		APIKey         string   `yaml:"api_key" toml:"api_key"`
		Model          string   `yaml:"model" toml:"model"`
		Language       string   `yaml:"language" toml:"language"`
		TimeoutSeconds int      `yaml:"timeout_seconds" toml:"timeout_seconds"`
		MaxAttempts    int      `yaml:"max_attempts" toml:"max_attempts"`
		MaxFileSizeMB  int      `yaml:"max_file_size_mb" toml:"max_file_size_mb"`
		MinFileBytes   int64    `yaml:"min_file_bytes" toml:"min_file_bytes"`
		Strategies     []string `yaml:"strategies" toml:"strategies"`
	} `yaml:"transcription" toml:"transcription"`

	Upload struct {
		Transport           string `yaml:"transport" toml:"transport"` // http, gdrive or none
		Endpoint            string `yaml:"endpoint" toml:"endpoint"`
		Token               string `yaml:"token" toml:"token"`
		MaxAttempts         int    `yaml:"max_attempts" toml:"max_attempts"`
		BackoffBaseSeconds  int    `yaml:"backoff_base_seconds" toml:"backoff_base_seconds"`
		BackoffMaxSeconds   int    `yaml:"backoff_max_seconds" toml:"backoff_max_seconds"`
		PollIntervalSeconds int    `yaml:"poll_interval_seconds" toml:"poll_interval_seconds"`
		TimeoutSeconds      int    `yaml:"timeout_seconds" toml:"timeout_seconds"`
		ProbeURL            string `yaml:"probe_url" toml:"probe_url"`
	} `yaml:"upload" toml:"upload"`

	GoogleDrive struct {
		CredentialsFile string `yaml:"credentials_file" toml:"credentials_file"`
		TokenFile       string `yaml:"token_file" toml:"token_file"`
		FolderName      string `yaml:"folder_name" toml:"folder_name"`
	} `yaml:"google_drive" toml:"google_drive"`

	Assembler struct {
		MinSegmentChars       int  `yaml:"min_segment_chars" toml:"min_segment_chars"`
		AutoReassemble        bool `yaml:"auto_reassemble" toml:"auto_reassemble"`
		ResyncIntervalSeconds int  `yaml:"resync_interval_seconds" toml:"resync_interval_seconds"`
	} `yaml:"assembler" toml:"assembler"`

	Cleanup struct {
		IntervalMinutes int `yaml:"interval_minutes" toml:"interval_minutes"`
		RetentionDays   int `yaml:"retention_days" toml:"retention_days"`
	} `yaml:"cleanup" toml:"cleanup"`

	IPC struct {
		CommandFile string `yaml:"command_file" toml:"command_file"`
	} `yaml:"ipc" toml:"ipc"`
}

// Default returns a Config populated with defaults
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Load reads configuration from a YAML or TOML file, then applies
// defaults and MEETCAP_* environment overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	cfg := &Config{}
	if path != "" {
		if err := decodeFile(path, cfg); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load config %s: %w", path, err)
		}
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeFile(path string, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		_, err := toml.DecodeFile(path, cfg)
		return err
	default:
		file, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return yaml.Unmarshal(file, cfg)
	}
}

func applyDefaults(cfg *Config) {
	setDefault(&cfg.Server.Host, "127.0.0.1")
	setDefaultInt(&cfg.Server.Port, 8420)
	setDefault(&cfg.Log.Level, "info")

	setDefaultInt(&cfg.Recording.SegmentSeconds, 30)
	setDefault(&cfg.Recording.AudioDir, "data/audio")
	setDefault(&cfg.Recording.Device, "ffmpeg")
	setDefaultInt(&cfg.Recording.SampleRate, 16000)
	setDefaultInt(&cfg.Recording.FlushTimeoutSeconds, 5)

	setDefault(&cfg.Storage.Database, "data/meetcap.db")
	setDefault(&cfg.Storage.OutputDir, "data/transcripts")

	setDefault(&cfg.Transcription.Endpoint, "https://api.openai.com/v1/audio/transcriptions")
	setDefault(&cfg.Transcription.Model, "whisper-1")
	setDefault(&cfg.Transcription.Language, "en")
	setDefaultInt(&cfg.Transcription.TimeoutSeconds, 60)
	setDefaultInt(&cfg.Transcription.MaxAttempts, 3)
	setDefaultInt(&cfg.Transcription.MaxFileSizeMB, 25)
	if cfg.Transcription.MinFileBytes == 0 {
		cfg.Transcription.MinFileBytes = 1024
	}
	if len(cfg.Transcription.Strategies) == 0 {
		cfg.Transcription.Strategies = []string{"streaming", "buffered"}
	}

	setDefault(&cfg.Upload.Transport, "none")
	setDefaultInt(&cfg.Upload.MaxAttempts, 5)
	setDefaultInt(&cfg.Upload.BackoffBaseSeconds, 2)
	setDefaultInt(&cfg.Upload.BackoffMaxSeconds, 300)
	setDefaultInt(&cfg.Upload.PollIntervalSeconds, 30)
	setDefaultInt(&cfg.Upload.TimeoutSeconds, 60)

	setDefault(&cfg.GoogleDrive.CredentialsFile, "config/credentials.json")
	setDefault(&cfg.GoogleDrive.TokenFile, "config/token.json")
	setDefault(&cfg.GoogleDrive.FolderName, "Meetings")

	setDefaultInt(&cfg.Assembler.MinSegmentChars, 2)
	setDefaultInt(&cfg.Assembler.ResyncIntervalSeconds, 300)

	setDefaultInt(&cfg.Cleanup.IntervalMinutes, 60)
	setDefaultInt(&cfg.Cleanup.RetentionDays, 7)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MEETCAP_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v, ok := envInt("MEETCAP_PORT"); ok {
		cfg.Server.Port = v
	}
	if v := os.Getenv("MEETCAP_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("MEETCAP_DEVICE"); v != "" {
		cfg.Recording.Device = v
	}
	if v, ok := envInt("MEETCAP_SEGMENT_SECONDS"); ok {
		cfg.Recording.SegmentSeconds = v
	}
	if v := os.Getenv("MEETCAP_DATABASE"); v != "" {
		cfg.Storage.Database = v
	}
	if v := os.Getenv("MEETCAP_TRANSCRIPTION_ENDPOINT"); v != "" {
		cfg.Transcription.Endpoint = v
	}
	// OPENAI_API_KEY is accepted as a fallback
	if v := os.Getenv("MEETCAP_TRANSCRIPTION_API_KEY"); v != "" {
		cfg.Transcription.APIKey = v
	} else if v := os.Getenv("OPENAI_API_KEY"); v != "" && cfg.Transcription.APIKey == "" {
		cfg.Transcription.APIKey = v
	}
	if v := os.Getenv("MEETCAP_UPLOAD_TRANSPORT"); v != "" {
		cfg.Upload.Transport = v
	}
	if v := os.Getenv("MEETCAP_UPLOAD_ENDPOINT"); v != "" {
		cfg.Upload.Endpoint = v
	}
	if v := os.Getenv("MEETCAP_UPLOAD_TOKEN"); v != "" {
		cfg.Upload.Token = v
	}
	if v := os.Getenv("MEETCAP_COMMAND_FILE"); v != "" {
		cfg.IPC.CommandFile = v
	}
}

// Validate checks values that defaults cannot repair
func (c *Config) Validate() error {
	switch c.Recording.Device {
	case "ffmpeg", "generator", "portaudio":
	default:
		return fmt.Errorf("unknown recording device %q", c.Recording.Device)
	}
	switch c.Upload.Transport {
	case "http":
		if c.Upload.Endpoint == "" {
			return fmt.Errorf("upload.endpoint is required for the http transport")
		}
	case "gdrive", "none":
	default:
		return fmt.Errorf("unknown upload transport %q", c.Upload.Transport)
	}
	for _, s := range c.Transcription.Strategies {
		if s != "streaming" && s != "buffered" {
			return fmt.Errorf("unknown transcription strategy %q", s)
		}
	}
	return nil
}

// Addr is the HTTP listen address
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// SegmentLength is the recording boundary interval
func (c *Config) SegmentLength() time.Duration {
	return seconds(c.Recording.SegmentSeconds)
}

// FlushTimeout bounds a capture device stop-and-flush
func (c *Config) FlushTimeout() time.Duration {
	return seconds(c.Recording.FlushTimeoutSeconds)
}

// TranscriptionTimeout bounds one transcription attempt
func (c *Config) TranscriptionTimeout() time.Duration {
	return seconds(c.Transcription.TimeoutSeconds)
}

// UploadTimeout bounds one upload call
func (c *Config) UploadTimeout() time.Duration {
	return seconds(c.Upload.TimeoutSeconds)
}

// PollInterval is the upload queue reachability poll period
func (c *Config) PollInterval() time.Duration {
	return seconds(c.Upload.PollIntervalSeconds)
}

// ResyncInterval is how often Follow checks complete meetings for stale transcripts
func (c *Config) ResyncInterval() time.Duration {
	return seconds(c.Assembler.ResyncIntervalSeconds)
}

// CleanupInterval is the retention sweep period
func (c *Config) CleanupInterval() time.Duration {
	return time.Duration(c.Cleanup.IntervalMinutes) * time.Minute
}

// Retention is how long uploaded audio of complete meetings is kept
func (c *Config) Retention() time.Duration {
	return time.Duration(c.Cleanup.RetentionDays) * 24 * time.Hour
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func setDefault(v *string, def string) {
	if *v == "" {
		*v = def
	}
}

func setDefaultInt(v *int, def int) {
	if *v == 0 {
		*v = def
	}
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}
