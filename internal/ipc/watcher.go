package ipc

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/codebuildervaibhav/meetcap/internal/session"
	"github.com/codebuildervaibhav/meetcap/internal/types"
)

// Controller is the session control the watcher drives
type Controller interface {
	StartSession(ctx context.Context, title string) (session.Status, error)
	PauseSession() (session.Status, error)
	ResumeSession() (session.Status, error)
	StopSession(ctx context.Context) (*types.MeetingRecord, error)
}

// Watcher executes commands written to a file. fsnotify is used when
// available with a polling ticker as a fallback.
type Watcher struct {
	path         string
	ctrl         Controller
	logger       *slog.Logger
	pollInterval time.Duration
	settle       time.Duration
}

// NewWatcher creates a watcher for the command file at path
func NewWatcher(path string, ctrl Controller, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		path:         path,
		ctrl:         ctrl,
		logger:       logger,
		pollInterval: time.Second,
		settle:       50 * time.Millisecond,
	}
}

// Run watches the command file until ctx is done. Commands already in the
// file at startup are executed.
func (w *Watcher) Run(ctx context.Context) error {
	dir := filepath.Dir(w.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	w.check(ctx)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger.Warn("fsnotify not available, falling back to polling", "error", err)
		return w.poll(ctx)
	}
	defer func() {
		if err := watcher.Close(); err != nil {
			w.logger.Warn("Failed to close watcher", "error", err)
		}
	}()

	if err := watcher.Add(dir); err != nil {
		w.logger.Warn("Failed to watch command directory, falling back to polling", "error", err)
		return w.poll(ctx)
	}

	w.logger.Info("Command watcher started", "path", w.path, "mode", "fsnotify")

	// Polling also runs in case events are missed
	pollTicker := time.NewTicker(w.pollInterval)
	defer pollTicker.Stop()

	target := filepath.Clean(w.path)
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				w.logger.Warn("fsnotify watcher closed, switching to polling")
				return w.poll(ctx)
			}
			if filepath.Clean(event.Name) == target && event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				w.settleWrite(ctx)
				w.check(ctx)
			}

		case <-pollTicker.C:
			w.check(ctx)

		case err, ok := <-watcher.Errors:
			if !ok {
				w.logger.Warn("fsnotify error channel closed, switching to polling")
				return w.poll(ctx)
			}
			w.logger.Warn("File watcher error", "error", err)
		}
	}
}

func (w *Watcher) poll(ctx context.Context) error {
	w.logger.Info("Command watcher started", "path", w.path, "mode", "polling", "interval", w.pollInterval)

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.check(ctx)
		}
	}
}

// settleWrite gives the writer time to finish before the file is read
func (w *Watcher) settleWrite(ctx context.Context) {
	t := time.NewTimer(w.settle)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (w *Watcher) check(ctx context.Context) {
	req, err := ReadCommand(w.path)
	if err != nil {
		w.logger.Warn("Ignoring command", "path", w.path, "error", err)
		return
	}
	if req.Command == "" {
		return
	}
	w.Handle(ctx, req)
}

// Handle executes one request against the controller. Failures are logged;
// the watcher keeps running.
func (w *Watcher) Handle(ctx context.Context, req Request) {
	w.logger.Info("Received command", "command", req.Command, "title", req.Title)

	var err error
	switch req.Command {
	case CmdStart:
		var st session.Status
		if st, err = w.ctrl.StartSession(ctx, req.Title); err == nil {
			w.logger.Info("Session started from command file", "meeting", st.MeetingID)
		}
	case CmdPause:
		_, err = w.ctrl.PauseSession()
	case CmdResume:
		_, err = w.ctrl.ResumeSession()
	case CmdStop:
		var rec *types.MeetingRecord
		if rec, err = w.ctrl.StopSession(ctx); err == nil {
			w.logger.Info("Session stopped from command file", "meeting", rec.Meeting.ID, "segments", len(rec.Segments))
		}
	default:
		w.logger.Warn("Unknown command", "command", req.Command)
		return
	}
	if err != nil {
		w.logger.Error("Command failed", "command", req.Command, "error", err)
	}
}
