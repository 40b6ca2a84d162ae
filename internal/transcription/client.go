// Package transcription sends segment audio to a remote speech-to-text service.
package transcription

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/codebuildervaibhav/meetcap/internal/backoff"
	"github.com/codebuildervaibhav/meetcap/internal/clock"
	"github.com/codebuildervaibhav/meetcap/internal/types"
)

// Config configures the transcription client
type Config struct {
	Endpoint     string
	APIKey       string
	Model        string
	Language     string
	Timeout      time.Duration // per attempt
	MinFileBytes int64
	MaxFileBytes int64
	Strategies   []string
	Backoff      backoff.Policy
}

// Client transcribes one audio file per call
type Client struct {
	cfg        Config
	http       *http.Client
	strategies []Strategy
	clock      clock.Clock
	logger     *slog.Logger
}

// Option customises a Client
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithClock replaces the wall clock used for retry sleeps
func WithClock(clk clock.Clock) Option {
	return func(c *Client) { c.clock = clk }
}

// WithStrategies replaces the configured strategy list
func WithStrategies(s ...Strategy) Option {
	return func(c *Client) { c.strategies = s }
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a transcription client
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("transcription endpoint is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxFileBytes == 0 {
		cfg.MaxFileBytes = 25 << 20
	}
	if cfg.Backoff.Base == 0 {
		cfg.Backoff = backoff.Transcription
	}
	if len(cfg.Strategies) == 0 {
		cfg.Strategies = []string{"streaming", "buffered"}
	}

	c := &Client{
		cfg:    cfg,
		http:   &http.Client{},
		clock:  clock.New(),
		logger: slog.Default(),
	}
	for _, name := range cfg.Strategies {
		s, err := NewStrategy(name)
		if err != nil {
			return nil, err
		}
		c.strategies = append(c.strategies, s)
	}
	for _, opt := range opts {
		opt(c)
	}
	if len(c.strategies) == 0 {
		return nil, errors.New("at least one transcription strategy is required")
	}
	return c, nil
}

// Transcribe makes one attempt: validate, then try each strategy in order under a
// single timeout. Only a transport-level failure moves on to the next strategy.
func (c *Client) Transcribe(ctx context.Context, path string) types.TranscriptionResult {
	if err := ValidateAudio(path, c.cfg.MinFileBytes, c.cfg.MaxFileBytes); err != nil {
		return types.TranscriptionResult{Err: err}
	}

	attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req := Request{
		Endpoint: c.cfg.Endpoint,
		APIKey:   c.cfg.APIKey,
		Model:    c.cfg.Model,
		Language: c.cfg.Language,
		Path:     path,
	}

	var lastErr error
	for i, s := range c.strategies {
		resp, err := s.Send(attemptCtx, c.http, req)
		if err == nil {
			return types.TranscriptionResult{
				Text:     strings.TrimSpace(resp.Text),
				Language: resp.Language,
			}
		}
		lastErr = err

		if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, types.ErrTimeout) {
			lastErr = types.NewError(types.KindTimeout, s.Name(), err)
		}
		if types.KindOf(lastErr) != types.KindTransport {
			break
		}
		if i < len(c.strategies)-1 {
			c.logger.Warn("Transcription strategy failed, falling back",
				"strategy", s.Name(),
				"next", c.strategies[i+1].Name(),
				"file", filepath.Base(path),
				"error", err)
		}
	}
	return types.TranscriptionResult{Err: lastErr}
}

// TranscribeWithRetry wraps Transcribe with exponential backoff between attempts.
// It returns the first success, or the last failure once maxAttempts are spent.
// Invalid audio is never retried.
func (c *Client) TranscribeWithRetry(ctx context.Context, path string, maxAttempts int) types.TranscriptionResult {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var res types.TranscriptionResult
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		res = c.Transcribe(ctx, path)
		res.Attempts = attempt
		if res.OK() {
			if attempt > 1 {
				c.logger.Info("Transcription succeeded after retry", "file", filepath.Base(path), "attempt", attempt)
			}
			return res
		}
		if !types.Retryable(res.Err) || ctx.Err() != nil {
			return res
		}
		if attempt == maxAttempts {
			break
		}

		delay := c.cfg.Backoff.Delay(attempt)
		c.logger.Warn("Transcription attempt failed",
			"file", filepath.Base(path),
			"attempt", attempt,
			"max_attempts", maxAttempts,
			"retry_in", delay,
			"error", res.Err)
		if err := c.clock.Sleep(ctx, delay); err != nil {
			return res
		}
	}

	res.Err = &types.Error{
		Kind: types.KindMaxAttemptsExceeded,
		Op:   "transcribe",
		Err:  fmt.Errorf("%d attempts: %w", maxAttempts, res.Err),
	}
	return res
}

// HealthCheck verifies the provider is reachable and the key is accepted
func (c *Client) HealthCheck(ctx context.Context) error {
	url := modelsURL(c.cfg.Endpoint)
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create health request: %w", err)
	}
	setAuth(req, c.cfg.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return classifyTransportErr(ctx, "health check", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return types.Rejected("health check", resp.StatusCode, truncate(body, 200))
	}
	return nil
}

// modelsURL maps .../audio/transcriptions to .../models
func modelsURL(endpoint string) string {
	if i := strings.Index(endpoint, "/audio/transcriptions"); i >= 0 {
		return endpoint[:i] + "/models"
	}
	return endpoint
}
