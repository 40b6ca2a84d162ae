package types

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorIsMatchesByKind(t *testing.T) {
	err := NewError(KindTimeout, "transcribe", context.DeadlineExceeded)
	wrapped := fmt.Errorf("segment 3: %w", err)

	assert.ErrorIs(t, wrapped, ErrTimeout)
	assert.NotErrorIs(t, wrapped, ErrTransport)
	assert.ErrorIs(t, wrapped, context.DeadlineExceeded)
	assert.Equal(t, KindTimeout, KindOf(wrapped))
}

func TestRejectedCarriesStatus(t *testing.T) {
	err := Rejected("upload", 503, "busy")

	var e *Error
	assert.True(t, errors.As(err, &e))
	assert.Equal(t, 503, e.StatusCode)
	assert.Contains(t, err.Error(), "upload: remote_rejected: status 503")
}

func TestRetryable(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{NewError(KindInvalidAudio, "validate", errors.New("empty")), false},
		{NewError(KindDeviceUnavailable, "start", nil), false},
		{NewError(KindTimeout, "transcribe", nil), true},
		{NewError(KindTransport, "transcribe", nil), true},
		{Rejected("transcribe", 400, "bad"), true},
		{errors.New("plain"), true},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, Retryable(c.err), c.err.Error())
	}
}

func TestSegmentTranscriptionExclusive(t *testing.T) {
	var s Segment
	assert.True(t, s.TranscriptionPending())

	s.SetTranscriptionFailed("boom")
	assert.False(t, s.IsTranscribed)
	assert.NotNil(t, s.TranscriptionError)

	s.SetTranscribed("hello")
	assert.True(t, s.IsTranscribed)
	assert.Nil(t, s.TranscriptionError)
	assert.False(t, s.TranscriptionPending())
}
