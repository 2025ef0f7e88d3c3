package geo

import (
	"context"
	"errors"
)

type Kind int

const (
	KindUnknown Kind = iota
	KindPermissionDenied
	KindUnavailable
	KindTimedOut
	KindInterrupted
	KindUnsupported
)

func (k Kind) String() string {
	switch k {
	case KindPermissionDenied:
		return "permission_denied"
	case KindUnavailable:
		return "unavailable"
	case KindTimedOut:
		return "timed_out"
	case KindInterrupted:
		return "interrupted"
	case KindUnsupported:
		return "unsupported"
	default:
		return "unknown"
	}
}

// Error is the only error type Acquirer returns.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindPermissionDenied:
		return "Location permission denied"
	case KindUnavailable:
		return "Location unavailable"
	case KindTimedOut:
		return "Location request timed out"
	case KindInterrupted:
		return "Location request was interrupted. Please try again."
	case KindUnsupported:
		return "Geolocation is not supported on this device"
	default:
		return "Unable to get location"
	}
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Retryable() bool { return e.Kind == KindInterrupted }

func NewError(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// KindOf reports the kind of err, KindUnknown for foreign errors.
func KindOf(err error) Kind {
	var gerr *Error
	if errors.As(err, &gerr) {
		return gerr.Kind
	}
	return KindUnknown
}

func classify(err error) *Error {
	var gerr *Error
	if errors.As(err, &gerr) {
		return gerr
	}
	switch {
	case errors.Is(err, context.Canceled):
		return NewError(KindInterrupted, err)
	case errors.Is(err, context.DeadlineExceeded):
		return NewError(KindTimedOut, err)
	default:
		return NewError(KindUnknown, err)
	}
}
