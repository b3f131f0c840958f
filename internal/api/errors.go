package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/samcharles93/lantern/internal/engine"
	"github.com/samcharles93/lantern/internal/inference"
)

// ErrInvalidRequest marks malformed HTTP input. It also matches
// inference.ErrInvalidRequest so both layers report the same kind.
var ErrInvalidRequest = inference.ErrInvalidRequest

type invalidRequestError struct {
	msg string
}

func (e invalidRequestError) Error() string {
	return e.msg
}

func (e invalidRequestError) Unwrap() error {
	return ErrInvalidRequest
}

func newInvalidRequest(format string, args ...any) error {
	return invalidRequestError{msg: fmt.Sprintf(format, args...)}
}

// statusFor maps an engine error to an HTTP status and error type.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, engine.ErrUnknownHandle):
		return http.StatusNotFound, "not_found_error"
	case errors.Is(err, inference.ErrInvalidRequest), errors.Is(err, inference.ErrTokenization):
		return http.StatusBadRequest, "invalid_request_error"
	case errors.Is(err, inference.ErrCapacityExceeded):
		return http.StatusRequestEntityTooLarge, "capacity_error"
	case errors.Is(err, inference.ErrLoadFailure):
		return http.StatusUnprocessableEntity, "load_error"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout_error"
	case errors.Is(err, context.Canceled):
		// nginx's "client closed request"; nobody is usually listening.
		return 499, "cancelled"
	case errors.Is(err, inference.ErrDecodeFailure):
		return http.StatusInternalServerError, "decode_error"
	default:
		return http.StatusInternalServerError, "server_error"
	}
}
