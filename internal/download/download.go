// Package download fetches model files over HTTP.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
)

// Progress receives the completed percentage. It is called only when the
// integer percentage increases, and never when the server does not send a
// content length.
type Progress func(percent int)

type Options struct {
	Client   *http.Client
	Progress Progress
	// BufferSize is the copy buffer; 32 KiB when zero.
	BufferSize int
}

// Fetch downloads url into dest. The body is streamed to a temporary file in
// dest's directory and renamed over dest once complete, so a failed or
// cancelled fetch never leaves a partial dest behind.
func Fetch(ctx context.Context, url, dest string, opts Options) error {
	client := opts.Client
	if client == nil {
		client = http.DefaultClient
	}
	bufSize := opts.BufferSize
	if bufSize <= 0 {
		bufSize = 32 * 1024
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return &StatusError{URL: url, Code: resp.StatusCode, Status: resp.Status}
	}

	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dest)+".*.part")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	ok := false
	defer func() {
		if !ok {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	w := &progressWriter{w: tmp, total: resp.ContentLength, report: opts.Progress, last: -1}
	if _, err := io.CopyBuffer(w, resp.Body, make([]byte, bufSize)); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("download %s: %w", url, err)
	}
	if resp.ContentLength > 0 && w.n != resp.ContentLength {
		return fmt.Errorf("download %s: %w (got %d of %d bytes)", url, io.ErrUnexpectedEOF, w.n, resp.ContentLength)
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return err
	}
	ok = true
	return nil
}

type progressWriter struct {
	w      io.Writer
	n      int64
	total  int64
	report Progress
	last   int
}

func (p *progressWriter) Write(b []byte) (int, error) {
	n, err := p.w.Write(b)
	p.n += int64(n)
	if p.report != nil && p.total > 0 {
		pct := int(p.n * 100 / p.total)
		if pct > p.last {
			p.last = pct
			p.report(pct)
		}
	}
	if err == nil && n < len(b) {
		err = io.ErrShortWrite
	}
	return n, err
}

// IsNotFound reports whether err came from a 404 response.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == http.StatusNotFound
}

// StatusError is returned for non-200 responses.
type StatusError struct {
	URL    string
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch %s: unexpected status %s", e.URL, e.Status)
}
