package reqpipe

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateRequest is matched by failures rejected at the dedup gate
	ErrDuplicateRequest = errors.New("duplicate request in flight")

	// ErrNetwork is matched by failures where no response was obtained
	ErrNetwork = errors.New("network error")

	// ErrTimeout is matched by failures where the deadline passed before a response arrived
	ErrTimeout = errors.New("request timed out")

	// ErrHTTP is matched by failures carrying a failing HTTP status
	ErrHTTP = errors.New("http error")

	// ErrBusiness is matched by failures carrying a failing business code
	ErrBusiness = errors.New("business error")

	// ErrInternal is matched by failures where a callback panicked inside Send
	ErrInternal = errors.New("internal error")

	// ErrNilTransport is returned by New when no transport is supplied
	ErrNilTransport = errors.New("transport cannot be nil")
)

// Kind classifies a failed outcome.
type Kind int

const (
	KindDuplicateRequest Kind = iota + 1
	KindNetwork
	KindTimeout
	KindHTTP
	KindBusiness
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindDuplicateRequest:
		return "DuplicateRequest"
	case KindNetwork:
		return "NetworkError"
	case KindTimeout:
		return "TimeoutError"
	case KindHTTP:
		return "HttpError"
	case KindBusiness:
		return "BusinessError"
	case KindInternal:
		return "InternalError"
	default:
		return "Unknown"
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindDuplicateRequest:
		return ErrDuplicateRequest
	case KindNetwork:
		return ErrNetwork
	case KindTimeout:
		return ErrTimeout
	case KindHTTP:
		return ErrHTTP
	case KindBusiness:
		return ErrBusiness
	case KindInternal:
		return ErrInternal
	default:
		return nil
	}
}

// Error is the failure half of an Outcome.
type Error struct {
	Kind Kind
	// Status is the HTTP status for KindHTTP, or the business code for KindBusiness.
	Status  int
	Message string
	// Detail is the server-supplied message, if any.
	Detail string
	Cause  error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindHTTP, KindBusiness:
		return fmt.Sprintf("%s(%d): %s", e.Kind, e.Status, e.Message)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports kind equality against the package sentinels, so callers can write
// errors.Is(err, reqpipe.ErrTimeout).
func (e *Error) Is(target error) bool {
	if s := e.Kind.sentinel(); s != nil && target == s {
		return true
	}
	// Timeouts are a NetworkError variant for retry purposes.
	return e.Kind == KindTimeout && target == ErrNetwork
}

// Transport reports whether the failure produced no response at all.
func (e *Error) Transport() bool {
	return e.Kind == KindNetwork || e.Kind == KindTimeout
}

// AsError extracts the *Error from err, if any.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
