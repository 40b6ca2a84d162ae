package types

import (
	"errors"
	"fmt"
)

// Kind classifies pipeline failures
type Kind int

const (
	KindUnknown Kind = iota
	KindDeviceUnavailable
	KindCaptureFlushFailed
	KindInvalidAudio
	KindTransport
	KindTimeout
	KindRemoteRejected
	KindMaxAttemptsExceeded
	KindInvalidState
	KindNotFound
)

var kindNames = map[Kind]string{
	KindUnknown:             "unknown",
	KindDeviceUnavailable:   "device_unavailable",
	KindCaptureFlushFailed:  "capture_flush_failed",
	KindInvalidAudio:        "invalid_audio",
	KindTransport:           "transport_error",
	KindTimeout:             "timeout",
	KindRemoteRejected:      "remote_rejected",
	KindMaxAttemptsExceeded: "max_attempts_exceeded",
	KindInvalidState:        "invalid_state",
	KindNotFound:            "not_found",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Sentinels for errors.Is matching by kind
var (
	ErrDeviceUnavailable   = &Error{Kind: KindDeviceUnavailable}
	ErrCaptureFlushFailed  = &Error{Kind: KindCaptureFlushFailed}
	ErrInvalidAudio        = &Error{Kind: KindInvalidAudio}
	ErrTransport           = &Error{Kind: KindTransport}
	ErrTimeout             = &Error{Kind: KindTimeout}
	ErrRemoteRejected      = &Error{Kind: KindRemoteRejected}
	ErrMaxAttemptsExceeded = &Error{Kind: KindMaxAttemptsExceeded}
	ErrInvalidState        = &Error{Kind: KindInvalidState}
	ErrNotFound            = &Error{Kind: KindNotFound}
)

// Error is a classified pipeline error.
// StatusCode is set for KindRemoteRejected.
type Error struct {
	Kind       Kind
	Op         string
	StatusCode int
	Err        error
}

// NewError builds an Error of the given kind
func NewError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds an Error with a formatted message
func Errorf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// Rejected builds a KindRemoteRejected error carrying the HTTP status
func Rejected(op string, status int, body string) *Error {
	return &Error{
		Kind:       KindRemoteRejected,
		Op:         op,
		StatusCode: status,
		Err:        fmt.Errorf("status %d: %s", status, body),
	}
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf extracts the kind of err, or KindUnknown
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Retryable reports whether another attempt may succeed.
// Remote rejections are retryable at this level.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindInvalidAudio, KindDeviceUnavailable, KindInvalidState, KindNotFound:
		return false
	}
	return true
}
