package ipc

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codebuildervaibhav/meetcap/internal/session"
	"github.com/codebuildervaibhav/meetcap/internal/types"
)

type recordingController struct {
	mu    sync.Mutex
	calls []string
}

func (r *recordingController) record(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, s)
}

func (r *recordingController) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func (r *recordingController) StartSession(_ context.Context, title string) (session.Status, error) {
	r.record("start:" + title)
	return session.Status{State: types.StateActive, MeetingID: "m1"}, nil
}

func (r *recordingController) PauseSession() (session.Status, error) {
	r.record("pause")
	return session.Status{State: types.StatePaused}, nil
}

func (r *recordingController) ResumeSession() (session.Status, error) {
	r.record("resume")
	return session.Status{}, types.Errorf(types.KindInvalidState, "resume", "session is active")
}

func (r *recordingController) StopSession(context.Context) (*types.MeetingRecord, error) {
	r.record("stop")
	return &types.MeetingRecord{Meeting: types.Meeting{ID: "m1"}}, nil
}

func TestParseRequest(t *testing.T) {
	req, err := ParseRequest("  START Weekly sync \n")
	require.NoError(t, err)
	assert.Equal(t, Request{Command: CmdStart, Title: "Weekly sync"}, req)

	req, err = ParseRequest("stop")
	require.NoError(t, err)
	assert.Equal(t, CmdStop, req.Command)

	req, err = ParseRequest("")
	require.NoError(t, err)
	assert.Zero(t, req)

	_, err = ParseRequest("toggle")
	assert.Error(t, err)
}

func TestReadCommandClearsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cmd", "command.txt")

	req, err := ReadCommand(path)
	require.NoError(t, err)
	assert.Zero(t, req, "missing file is not an error")

	require.NoError(t, WriteCommand(path, Request{Command: CmdStart, Title: "Retro"}))
	req, err = ReadCommand(path)
	require.NoError(t, err)
	assert.Equal(t, "Retro", req.Title)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Empty(t, data)

	req, err = ReadCommand(path)
	require.NoError(t, err)
	assert.Zero(t, req)
}

func TestWatcherDispatchesCommands(t *testing.T) {
	path := filepath.Join(t.TempDir(), "command.txt")
	ctrl := &recordingController{}
	w := NewWatcher(path, ctrl, nil)
	w.pollInterval = 20 * time.Millisecond

	// Present before Run starts
	require.NoError(t, WriteCommand(path, Request{Command: CmdStart, Title: "Design review"}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool { return len(ctrl.Calls()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "start:Design review", ctrl.Calls()[0])

	require.NoError(t, WriteCommand(path, Request{Command: CmdPause}))
	require.Eventually(t, func() bool { return len(ctrl.Calls()) == 2 }, 2*time.Second, 10*time.Millisecond)

	// A failing command does not stop the watcher
	require.NoError(t, WriteCommand(path, Request{Command: CmdResume}))
	require.Eventually(t, func() bool { return len(ctrl.Calls()) == 3 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, WriteCommand(path, Request{Command: CmdStop}))
	require.Eventually(t, func() bool { return len(ctrl.Calls()) == 4 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"start:Design review", "pause", "resume", "stop"}, ctrl.Calls())

	cancel()
	require.NoError(t, <-done)
}

func TestWatcherIgnoresGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "command.txt")
	ctrl := &recordingController{}
	w := NewWatcher(path, ctrl, nil)

	require.NoError(t, os.WriteFile(path, []byte("launch the rockets\n"), 0644))
	w.check(context.Background())
	assert.Empty(t, ctrl.Calls())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Empty(t, data, "invalid commands are consumed too")
}
