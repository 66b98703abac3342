package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound = errors.New("not found")

	// ErrSessionBusy is returned when a user already has the maximum number
	// of events queued behind an in-flight request.
	ErrSessionBusy = errors.New("session is still processing")

	// ErrStaleSession is returned when a result arrives for a history that
	// was cleared after the request started.
	ErrStaleSession = errors.New("session was reset")

	ErrReplyTargetNotFound = errors.New("reply target not found")
	ErrReplyToAudio        = errors.New("audio messages cannot be replied to")
)

// UnsupportedContentError rejects an inbound event before it reaches history.
type UnsupportedContentError struct {
	Kind     EventKind
	MimeType string
	Reason   string
}

func (e *UnsupportedContentError) Error() string {
	if e.MimeType == "" {
		return fmt.Sprintf("unsupported %s content: %s", e.Kind, e.Reason)
	}
	return fmt.Sprintf("unsupported %s content %q: %s", e.Kind, e.MimeType, e.Reason)
}

// ProtocolViolationError means a caller tried to break role alternation.
type ProtocolViolationError struct {
	Previous Role
	Next     Role
}

func (e *ProtocolViolationError) Error() string {
	if e.Previous == "" {
		return fmt.Sprintf("history must start with a %s turn, got %s", RoleUser, e.Next)
	}
	return fmt.Sprintf("cannot append %s turn after %s turn", e.Next, e.Previous)
}

type ConfigurationError struct {
	Field string
	Err   error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration %s: %v", e.Field, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

type BackendErrorKind int

const (
	BackendTransient BackendErrorKind = iota
	BackendRateLimited
	BackendPermanent
)

func (k BackendErrorKind) String() string {
	switch k {
	case BackendTransient:
		return "transient"
	case BackendRateLimited:
		return "rate_limited"
	case BackendPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// BackendError is how backend adapters report a failed round trip.
// RetryAfter is the server-provided hint, zero when absent.
type BackendError struct {
	Kind       BackendErrorKind
	StatusCode int
	RetryAfter time.Duration
	Err        error
}

func (e *BackendError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("backend %s error (status %d): %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("backend %s error: %v", e.Kind, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }
