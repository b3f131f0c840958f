package engine

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/samcharles93/lantern/internal/inference"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	dir := t.TempDir()
	mustWriteFile(t, filepath.Join(dir, "tiny.json"), "{}")
	r := NewRegistry(RegistryConfig{
		Backend:   &fakeBackend{name: "fake/" + t.Name()},
		ModelsDir: dir,
		ModelExt:  ".json",
	})
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestRegistryLifecycle(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t)
	info, err := r.Load(context.Background(), Params{ModelPath: "tiny"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if info.ID == "" || info.ModelPath != filepath.Join(r.ModelsDir(), "tiny.json") {
		t.Fatalf("unexpected info: %+v", info)
	}
	if got := r.List(); len(got) != 1 || got[0].ID != info.ID {
		t.Fatalf("List = %+v", got)
	}

	res, err := r.Generate(context.Background(), info.ID, &inference.Request{Prompt: "a", MaxNewTokens: 4}, nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.Text == "" {
		t.Fatal("expected generated text")
	}

	if err := r.Release(info.ID); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := r.Release(info.ID); !errors.Is(err, ErrUnknownHandle) {
		t.Fatalf("second Release: expected ErrUnknownHandle, got %v", err)
	}
	if _, err := r.Generate(context.Background(), info.ID, &inference.Request{Prompt: "a"}, nil); !errors.Is(err, ErrUnknownHandle) {
		t.Fatalf("Generate after release: expected ErrUnknownHandle, got %v", err)
	}
	if len(r.List()) != 0 {
		t.Fatal("released handle still listed")
	}
}

func TestRegistryLoadMissingModel(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t)
	if _, err := r.Load(context.Background(), Params{ModelPath: "nope"}); !errors.Is(err, inference.ErrLoadFailure) {
		t.Fatalf("expected ErrLoadFailure, got %v", err)
	}
}

func TestRegistrySerialisesCallsPerHandle(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t)
	info, err := r.Load(context.Background(), Params{ModelPath: "tiny"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.Generate(context.Background(), info.ID, &inference.Request{Prompt: "hello", MaxNewTokens: 8}, nil); err != nil {
				t.Errorf("Generate: %v", err)
			}
		}()
	}
	wg.Wait()

	r.mu.RLock()
	fc := r.entries[info.ID].h.ctx.(*fakeContext)
	r.mu.RUnlock()
	if fc.overlap.Load() {
		t.Fatal("decode calls overlapped on one handle")
	}
}

func TestRegistryCancelledBeforeStart(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t)
	info, err := r.Load(context.Background(), Params{ModelPath: "tiny"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := r.Generate(ctx, info.ID, &inference.Request{Prompt: "a"}, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRegistryAvailable(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t)
	got, err := r.Available()
	if err != nil || len(got) != 1 || got[0] != "tiny" {
		t.Fatalf("Available = %v, %v", got, err)
	}
}
