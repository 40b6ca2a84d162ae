package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/codebuildervaibhav/meetcap/internal/types"
)

// FFmpegDevice records each segment with its own ffmpeg process
type FFmpegDevice struct {
	opts  Options
	clock interface{ Now() time.Time }

	mu      sync.Mutex
	cmd     *exec.Cmd
	done    chan error
	path    string
	started time.Time
	logFile *os.File
}

// NewFFmpegDevice creates an ffmpeg-backed device
func NewFFmpegDevice(opts Options, clk interface{ Now() time.Time }) *FFmpegDevice {
	if opts.FFmpegFormat == "" {
		opts.FFmpegFormat, opts.FFmpegInput = defaultInput()
	}
	return &FFmpegDevice{opts: opts, clock: clk}
}

func defaultInput() (format, input string) {
	switch runtime.GOOS {
	case "darwin":
		return "avfoundation", ":default"
	case "windows":
		return "dshow", "audio=default"
	default:
		return "pulse", "default"
	}
}

func (d *FFmpegDevice) Name() string { return "ffmpeg" }

// Available checks that ffmpeg is installed
func (d *FFmpegDevice) Available() error {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return types.NewError(types.KindDeviceUnavailable, "ffmpeg", fmt.Errorf("ffmpeg not found in PATH"))
	}
	return nil
}

func (d *FFmpegDevice) Start(path string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cmd != nil {
		return errors.New("ffmpeg already recording")
	}

	args := []string{"-hide_banner", "-loglevel", "warning",
		"-f", d.opts.FFmpegFormat,
		"-i", d.opts.FFmpegInput,
		"-ac", "1",
		"-ar", strconv.Itoa(d.opts.SampleRate),
		"-c:a", "pcm_s16le",
	}
	args = append(args, d.opts.FFmpegArgs...)
	args = append(args, "-y", path)

	cmd := exec.Command("ffmpeg", args...)

	// Log stderr for diagnostics
	if logFile, err := os.Create(path + ".ffmpeg.log"); err == nil {
		cmd.Stderr = logFile
		d.logFile = logFile
	}

	if err := cmd.Start(); err != nil {
		d.closeLog(false)
		return types.NewError(types.KindDeviceUnavailable, "ffmpeg start", err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	d.cmd, d.done, d.path, d.started = cmd, done, path, d.clock.Now()
	return nil
}

// StopAndFlush interrupts ffmpeg so it finalises the WAV header, waiting up to ctx's deadline
func (d *FFmpegDevice) StopAndFlush(ctx context.Context) (Capture, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cmd == nil {
		return Capture{}, flushFailed(d.Name(), errors.New("not recording"))
	}
	cmd, done, path, started := d.cmd, d.done, d.path, d.started
	d.cmd, d.done, d.path = nil, nil, ""

	if err := cmd.Process.Signal(os.Interrupt); err != nil {
		cmd.Process.Kill()
		d.closeLog(true)
		return Capture{}, flushFailed(d.Name(), err)
	}

	select {
	case err := <-done:
		// ffmpeg exits 255 on SIGINT after writing the file
		var exitErr *exec.ExitError
		if err != nil && !errors.As(err, &exitErr) {
			d.closeLog(true)
			return Capture{}, flushFailed(d.Name(), err)
		}
	case <-ctx.Done():
		cmd.Process.Kill()
		<-done
		d.closeLog(true)
		return Capture{}, flushFailed(d.Name(), fmt.Errorf("ffmpeg did not exit: %w", ctx.Err()))
	}

	info, err := os.Stat(path)
	if err != nil || info.Size() <= 44 {
		d.closeLog(true)
		return Capture{}, flushFailed(d.Name(), fmt.Errorf("no audio written to %s", path))
	}

	d.closeLog(false)
	return Capture{Path: path, Duration: d.clock.Now().Sub(started)}, nil
}

// closeLog closes the stderr log, keeping it only when something went wrong
func (d *FFmpegDevice) closeLog(keep bool) {
	if d.logFile == nil {
		return
	}
	name := d.logFile.Name()
	d.logFile.Close()
	d.logFile = nil
	if keep {
		slog.Warn("ffmpeg capture failed", "log", name)
		return
	}
	os.Remove(name)
}
