package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/samcharles93/lantern/internal/engine"
	"github.com/samcharles93/lantern/internal/logger"
	"github.com/samcharles93/lantern/internal/toy"
)

func newBangRunner(t *testing.T, p engine.Params) (*runner, *bytes.Buffer, *bytes.Buffer) {
	t.Helper()

	m, err := toy.LoadManifest(filepath.Join("..", "..", "internal", "toy", "testdata", "tiny.json"))
	if err != nil {
		t.Fatalf("LoadManifest: %v", err)
	}
	m.Bias = map[string]float32{"!": 100}
	p.ModelPath = filepath.Join(t.TempDir(), "bang.json")
	if err := toy.WriteManifest(p.ModelPath, m); err != nil {
		t.Fatalf("WriteManifest: %v", err)
	}
	h, err := engine.Initialize(context.Background(), toy.Backend{}, p)
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	t.Cleanup(func() { _ = h.Release() })

	var out, stats bytes.Buffer
	return &runner{
		h:         h,
		log:       logger.Discard(),
		out:       &out,
		stats:     &stats,
		maxNew:    3,
		showStats: true,
	}, &out, &stats
}

func TestRunnerGenerate(t *testing.T) {
	r, out, stats := newBangRunner(t, engine.Params{ContextSize: 64})
	if err := r.generate(context.Background(), "hello world"); err != nil {
		t.Fatalf("generate: %v", err)
	}
	if out.String() != "!!!\n" {
		t.Fatalf("output = %q", out.String())
	}
	if !strings.Contains(stats.String(), "stop=length prompt=3 generated=3") {
		t.Fatalf("stats = %q", stats.String())
	}
}

func TestRunnerInteractiveRecoversFromCapacityErrors(t *testing.T) {
	withTTY(t, false)
	r, out, stats := newBangRunner(t, engine.Params{ContextSize: 4})
	r.maxNew = 1

	in := strings.NewReader("hello world hello\n\nhello\n/exit\nhello\n")
	if err := r.interactive(context.Background(), in); err != nil {
		t.Fatalf("interactive: %v", err)
	}
	if !strings.Contains(stats.String(), "error:") {
		t.Fatalf("expected capacity error on stderr, got %q", stats.String())
	}
	// one newline for the failed call, then "!" for "hello"; input after
	// /exit is never read
	if out.String() != "\n!\n" {
		t.Fatalf("output = %q", out.String())
	}
}
