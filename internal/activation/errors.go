package activation

import (
	"errors"
	"fmt"
)

// FailureKind classifies why an item stopped being playable
type FailureKind int

const (
	// FailureNetwork means metadata could not be fetched after retries
	FailureNetwork FailureKind = iota
	// FailurePlayback means the player reported an error
	FailurePlayback
	// FailureStall means playback was requested but never progressed
	FailureStall
)

// String returns the string representation of FailureKind
func (k FailureKind) String() string {
	switch k {
	case FailureNetwork:
		return "network"
	case FailurePlayback:
		return "playback"
	case FailureStall:
		return "stall"
	default:
		return "unknown"
	}
}

// MarshalText encodes the kind by name
func (k FailureKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Failure is the last error recorded for an item
type Failure struct {
	Kind    FailureKind `json:"kind"`
	Message string      `json:"message"`
	Cause   error       `json:"-"`

	// Recoverable is false once automatic retries are exhausted
	Recoverable bool `json:"recoverable"`
}

// NewFailure creates a recoverable Failure
func NewFailure(kind FailureKind, message string, cause error) *Failure {
	return &Failure{
		Kind:        kind,
		Message:     message,
		Cause:       cause,
		Recoverable: true,
	}
}

// Error implements the error interface
func (f *Failure) Error() string {
	if f.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", f.Kind, f.Message, f.Cause)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

// Unwrap implements error unwrapping for errors.Is and errors.As
func (f *Failure) Unwrap() error {
	return f.Cause
}

// terminal returns a copy marked as no longer automatically recoverable
func (f *Failure) terminal() *Failure {
	if f == nil {
		return nil
	}
	cp := *f
	cp.Recoverable = false
	return &cp
}

// ErrControllerClosed is returned by every operation after Close
var ErrControllerClosed = errors.New("controller closed")

// IsControllerClosed checks if the error is a closed-controller error
func IsControllerClosed(err error) bool {
	return errors.Is(err, ErrControllerClosed)
}
