package api

import (
	"fmt"
	"io"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/labstack/echo/v5"
)

// SSEStreamWriter writes named server-sent events. Headers are committed
// on the first event so an error raised before any output can still be
// returned as a plain JSON response.
type SSEStreamWriter struct {
	res     http.ResponseWriter
	w       io.Writer
	flusher func()
	begun   bool
	err     error
}

func NewSSEStreamWriter(c *echo.Context) (*SSEStreamWriter, error) {
	res := c.Response()
	flusher, ok := res.(interface{ Flush() })
	if !ok {
		return nil, fmt.Errorf("streaming unsupported")
	}
	return &SSEStreamWriter{res: res, w: res, flusher: flusher.Flush}, nil
}

func (s *SSEStreamWriter) Started() bool {
	return s.begun
}

// Err is the first write error, if any.
func (s *SSEStreamWriter) Err() error {
	return s.err
}

func (s *SSEStreamWriter) Token(piece string) error {
	return s.send("token", tokenEvent{Piece: piece})
}

func (s *SSEStreamWriter) Done(ev doneEvent) error {
	return s.send("done", ev)
}

func (s *SSEStreamWriter) Failed(status int, e ResponseError) error {
	return s.send("error", map[string]any{"status": status, "error": e})
}

func (s *SSEStreamWriter) send(event string, payload any) error {
	if s.err != nil {
		return s.err
	}
	if !s.begun {
		h := s.res.Header()
		h.Set(echo.HeaderContentType, "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		s.res.WriteHeader(http.StatusOK)
		s.begun = true
	}
	b, err := json.Marshal(payload)
	if err != nil {
		s.err = err
		return err
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, b); err != nil {
		s.err = err
		return err
	}
	s.flush()
	return nil
}

func (s *SSEStreamWriter) flush() {
	if s.flusher != nil {
		s.flusher()
	}
}
