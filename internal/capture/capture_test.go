package capture

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/youpy/go-wav"

	"github.com/codebuildervaibhav/meetcap/internal/clock"
	"github.com/codebuildervaibhav/meetcap/internal/types"
)

func TestGeneratorWritesWAVForElapsedTime(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	dev := NewGeneratorDevice(8000, clk)
	path := filepath.Join(t.TempDir(), "segment_0001.wav")

	require.NoError(t, dev.Available())
	require.NoError(t, dev.Start(path))
	assert.Error(t, dev.Start(path), "double start")

	clk.Advance(2 * time.Second)
	c, err := dev.StopAndFlush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, path, c.Path)
	assert.Equal(t, 2*time.Second, c.Duration)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	format, err := wav.NewReader(f).Format()
	require.NoError(t, err)
	assert.Equal(t, uint16(1), format.NumChannels)
	assert.Equal(t, uint32(8000), format.SampleRate)
	assert.Equal(t, uint16(16), format.BitsPerSample)

	info, err := f.Stat()
	require.NoError(t, err)
	assert.Equal(t, int64(44+2*16000), info.Size())
}

func TestGeneratorFlushWithoutStart(t *testing.T) {
	dev := NewGeneratorDevice(8000, clock.NewFake(time.Now()))
	_, err := dev.StopAndFlush(context.Background())
	assert.ErrorIs(t, err, types.ErrCaptureFlushFailed)
}

func TestNewUnknownDevice(t *testing.T) {
	_, err := New("tape", Options{}, clock.New())
	assert.Error(t, err)

	dev, err := New("generator", Options{}, clock.New())
	require.NoError(t, err)
	assert.Equal(t, "generator", dev.Name())
}
