package api

import (
	"io"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/labstack/echo/v5"

	"github.com/samcharles93/lantern/internal/inference"
)

func writeBadRequest(c *echo.Context, msg string) error {
	return writeError(c, http.StatusBadRequest, "invalid_request_error", msg, "", "")
}

func writeError(c *echo.Context, status int, errType, msg, param, code string) error {
	return c.JSON(status, map[string]any{
		"error": ResponseError{
			Message: msg,
			Type:    errType,
			Code:    code,
			Param:   param,
		},
	})
}

// writeEngineError reports err with the status its kind maps to.
func writeEngineError(c *echo.Context, err error) error {
	status, errType := statusFor(err)
	return writeError(c, status, errType, err.Error(), "", errorCode(err))
}

func errorCode(err error) string {
	if kind := inference.KindName(err); kind != "internal" {
		return kind
	}
	return ""
}

func decodeJSON[T any](r io.Reader) (T, error) {
	var out T
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		if err == io.EOF {
			return out, newInvalidRequest("request body is required")
		}
		return out, newInvalidRequest("invalid JSON: %v", err)
	}
	return out, nil
}
