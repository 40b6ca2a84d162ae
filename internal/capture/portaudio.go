//go:build portaudio

package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/codebuildervaibhav/meetcap/internal/types"
)

const framesPerBuffer = 1024

// PortAudioDevice records from the default input device into memory and writes
// a WAV file on flush.
type PortAudioDevice struct {
	sampleRate int
	clock      interface{ Now() time.Time }

	mu      sync.Mutex
	stream  *portaudio.Stream
	samples []int16
	path    string
	started time.Time
}

func newPortAudio(sampleRate int, clk interface{ Now() time.Time }) (Device, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, types.NewError(types.KindDeviceUnavailable, "portaudio", err)
	}
	return &PortAudioDevice{sampleRate: sampleRate, clock: clk}, nil
}

func (p *PortAudioDevice) Name() string { return "portaudio" }

// Available checks that a default input device exists
func (p *PortAudioDevice) Available() error {
	dev, err := portaudio.DefaultInputDevice()
	if err != nil {
		return types.NewError(types.KindDeviceUnavailable, "portaudio", err)
	}
	if dev.MaxInputChannels < 1 {
		return types.NewError(types.KindDeviceUnavailable, "portaudio",
			fmt.Errorf("device %s has no input channels", dev.Name))
	}
	return nil
}

func (p *PortAudioDevice) Start(path string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stream != nil {
		return errors.New("portaudio already recording")
	}

	p.samples = p.samples[:0]
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(p.sampleRate), framesPerBuffer, func(in []int16) {
		p.mu.Lock()
		p.samples = append(p.samples, in...)
		p.mu.Unlock()
	})
	if err != nil {
		return types.NewError(types.KindDeviceUnavailable, "portaudio open", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return types.NewError(types.KindDeviceUnavailable, "portaudio start", err)
	}

	p.stream, p.path, p.started = stream, path, p.clock.Now()
	return nil
}

func (p *PortAudioDevice) StopAndFlush(ctx context.Context) (Capture, error) {
	p.mu.Lock()
	stream, path, started := p.stream, p.path, p.started
	p.stream, p.path = nil, ""
	p.mu.Unlock()

	if stream == nil {
		return Capture{}, flushFailed(p.Name(), errors.New("not recording"))
	}

	// Stop outside the lock; the callback takes it
	stopErr := stream.Stop()
	stream.Close()
	if stopErr != nil {
		return Capture{}, flushFailed(p.Name(), stopErr)
	}
	if err := ctx.Err(); err != nil {
		return Capture{}, flushFailed(p.Name(), err)
	}

	p.mu.Lock()
	samples := make([]int16, len(p.samples))
	copy(samples, p.samples)
	p.mu.Unlock()

	if err := writeWAV(path, samples, p.sampleRate); err != nil {
		return Capture{}, flushFailed(p.Name(), err)
	}
	return Capture{Path: path, Duration: p.clock.Now().Sub(started)}, nil
}
