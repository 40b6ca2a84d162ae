// Package capture records audio into per-segment files.
package capture

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/youpy/go-wav"

	"github.com/codebuildervaibhav/meetcap/internal/types"
)

// Capture describes one flushed segment file
type Capture struct {
	Path     string
	Duration time.Duration
}

// Device is a capture source with start / stop-and-flush semantics.
// Start begins writing a new segment to path; StopAndFlush finalises it.
type Device interface {
	Name() string
	Available() error
	Start(path string) error
	StopAndFlush(ctx context.Context) (Capture, error)
}

// Options shared by the built-in devices
type Options struct {
	SampleRate   int
	FFmpegFormat string
	FFmpegInput  string
	FFmpegArgs   []string
}

// New builds the named device
func New(name string, opts Options, clk interface{ Now() time.Time }) (Device, error) {
	if opts.SampleRate == 0 {
		opts.SampleRate = 16000
	}
	switch name {
	case "ffmpeg":
		return NewFFmpegDevice(opts, clk), nil
	case "generator":
		return NewGeneratorDevice(opts.SampleRate, clk), nil
	case "portaudio":
		return newPortAudio(opts.SampleRate, clk)
	default:
		return nil, fmt.Errorf("unknown capture device %q", name)
	}
}

// writeWAV writes mono 16-bit PCM samples to path
func writeWAV(path string, samples []int16, sampleRate int) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	w := wav.NewWriter(f, uint32(len(samples)), 1, uint32(sampleRate), 16)
	buf := make([]wav.Sample, len(samples))
	for i, s := range samples {
		buf[i].Values[0] = int(s)
	}
	if err := w.WriteSamples(buf); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func flushFailed(device string, err error) error {
	return types.NewError(types.KindCaptureFlushFailed, device+" flush", err)
}
