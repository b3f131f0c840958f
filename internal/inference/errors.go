package inference

import (
	"errors"
	"fmt"
)

var (
	ErrLoadFailure      = errors.New("load failure")
	ErrTokenization     = errors.New("tokenization failure")
	ErrCapacityExceeded = errors.New("capacity exceeded")
	ErrDecodeFailure    = errors.New("decode failure")
	ErrInvalidRequest   = errors.New("invalid request")

	// ErrTokenOverflow is wrapped by Vocabulary implementations when a text
	// needs more tokens than the caller allowed.
	ErrTokenOverflow = errors.New("token buffer overflow")
)

// Error ties a failure to its taxonomy kind. errors.Is matches both the kind
// sentinel and anything in the cause chain.
type Error struct {
	Kind error
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(kind error, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// LoadError wraps err as a load failure.
func LoadError(op string, err error) error {
	return newError(ErrLoadFailure, op, err)
}

// Kind returns the taxonomy sentinel for err, or nil when err is not one of
// ours.
func Kind(err error) error {
	for _, k := range []error{ErrLoadFailure, ErrTokenization, ErrCapacityExceeded, ErrDecodeFailure, ErrInvalidRequest} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// KindName is a short label for metrics and wire errors.
func KindName(err error) string {
	switch Kind(err) {
	case ErrLoadFailure:
		return "load"
	case ErrTokenization:
		return "tokenization"
	case ErrCapacityExceeded:
		return "capacity"
	case ErrDecodeFailure:
		return "decode"
	case ErrInvalidRequest:
		return "invalid_request"
	default:
		return "internal"
	}
}
