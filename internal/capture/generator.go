package capture

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"
)

// GeneratorDevice synthesises a quiet tone for the elapsed time of each segment.
// It needs no hardware, which makes it useful for demos and integration tests.
type GeneratorDevice struct {
	sampleRate int
	clock      interface{ Now() time.Time }
	freq       float64

	mu      sync.Mutex
	path    string
	started time.Time
}

// NewGeneratorDevice creates a generator at the given sample rate
func NewGeneratorDevice(sampleRate int, clk interface{ Now() time.Time }) *GeneratorDevice {
	return &GeneratorDevice{sampleRate: sampleRate, clock: clk, freq: 440}
}

func (g *GeneratorDevice) Name() string { return "generator" }

func (g *GeneratorDevice) Available() error { return nil }

func (g *GeneratorDevice) Start(path string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.path != "" {
		return errors.New("generator already recording")
	}
	g.path = path
	g.started = g.clock.Now()
	return nil
}

func (g *GeneratorDevice) StopAndFlush(ctx context.Context) (Capture, error) {
	g.mu.Lock()
	path, started := g.path, g.started
	g.path = ""
	g.mu.Unlock()

	if path == "" {
		return Capture{}, flushFailed(g.Name(), errors.New("not recording"))
	}
	if err := ctx.Err(); err != nil {
		return Capture{}, flushFailed(g.Name(), err)
	}

	elapsed := g.clock.Now().Sub(started)
	n := int(elapsed.Seconds() * float64(g.sampleRate))
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = int16(2000 * math.Sin(2*math.Pi*g.freq*float64(i)/float64(g.sampleRate)))
	}

	if err := writeWAV(path, samples, g.sampleRate); err != nil {
		return Capture{}, flushFailed(g.Name(), err)
	}
	return Capture{Path: path, Duration: elapsed}, nil
}
