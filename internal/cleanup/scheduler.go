// Package cleanup reclaims disk space from audio that is safely uploaded.
package cleanup

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/codebuildervaibhav/meetcap/internal/clock"
	"github.com/codebuildervaibhav/meetcap/internal/types"
)

// Store is the persistence the sweep needs
type Store interface {
	ListExpiredAudio(cutoff time.Time) ([]types.Segment, error)
	UpdateSegment(id string, fn func(*types.Segment) error) (*types.Segment, error)
}

// AudioRemover deletes a segment's audio file
type AudioRemover interface {
	RemoveAudio(path string) error
}

// Scheduler periodically deletes local audio of uploaded segments from
// complete meetings once it is older than the retention period. Segment rows
// are kept; only AudioLocalPath is cleared.
type Scheduler struct {
	store     Store
	audio     AudioRemover
	audioDir  string
	interval  time.Duration
	retention time.Duration
	clock     clock.Clock
	logger    *slog.Logger
}

// NewScheduler creates a new cleanup scheduler
func NewScheduler(store Store, audio AudioRemover, audioDir string, interval, retention time.Duration, clk clock.Clock, logger *slog.Logger) *Scheduler {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:     store,
		audio:     audio,
		audioDir:  audioDir,
		interval:  interval,
		retention: retention,
		clock:     clk,
		logger:    logger,
	}
}

// Run sweeps once at startup and then every interval until ctx is done
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("Cleanup scheduler started", "interval", s.interval, "retention", s.retention)

	s.sweepAndLog(ctx)

	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Cleanup scheduler stopped")
			return nil
		case <-ticker.C():
			s.sweepAndLog(ctx)
		}
	}
}

func (s *Scheduler) sweepAndLog(ctx context.Context) {
	if _, err := s.Sweep(ctx); err != nil {
		s.logger.Error("Cleanup sweep failed", "error", err)
	}
	s.cleanStaleLogs()
}

// Sweep deletes expired audio and returns how many segments were cleared
func (s *Scheduler) Sweep(ctx context.Context) (int, error) {
	cutoff := s.clock.Now().Add(-s.retention)
	segments, err := s.store.ListExpiredAudio(cutoff)
	if err != nil {
		return 0, err
	}

	var deletedSize int64
	cleared := 0
	for _, seg := range segments {
		if ctx.Err() != nil {
			break
		}
		if info, err := os.Stat(seg.AudioLocalPath); err == nil {
			deletedSize += info.Size()
		}
		if err := s.audio.RemoveAudio(seg.AudioLocalPath); err != nil {
			s.logger.Warn("Failed to delete segment audio", "segment", seg.ID, "path", seg.AudioLocalPath, "error", err)
			continue
		}
		if _, err := s.store.UpdateSegment(seg.ID, func(cur *types.Segment) error {
			cur.AudioLocalPath = ""
			return nil
		}); err != nil {
			s.logger.Error("Failed to clear segment audio path", "segment", seg.ID, "error", err)
			continue
		}
		cleared++
	}

	if cleared > 0 {
		s.logger.Info("Cleanup complete",
			"segments", cleared,
			"freed_mb", float64(deletedSize)/(1024*1024))
	}
	return cleared, nil
}

// cleanStaleLogs removes ffmpeg diagnostics kept from failed flushes once
// they are past retention
func (s *Scheduler) cleanStaleLogs() {
	if s.audioDir == "" {
		return
	}
	now := s.clock.Now()
	err := filepath.WalkDir(s.audioDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // Skip entries we can't access
		}
		if d.IsDir() || !strings.HasSuffix(path, ".ffmpeg.log") {
			return nil
		}
		info, err := d.Info()
		if err != nil || now.Sub(info.ModTime()) <= s.retention {
			return nil
		}
		if err := os.Remove(path); err != nil {
			s.logger.Warn("Failed to delete old capture log", "path", path, "error", err)
		}
		return nil
	})
	if err != nil {
		s.logger.Warn("Error scanning audio directory", "error", err)
	}
}
