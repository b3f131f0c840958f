package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/samcharles93/lantern/internal/batch"
	"github.com/samcharles93/lantern/internal/inference"
)

type fakeBackend struct {
	name     string
	inits    atomic.Int32
	initErr  error
	loadErr  error
	maxCtx   int
	closeLog *[]string
}

func (b *fakeBackend) Name() string { return b.name }

func (b *fakeBackend) Init() error {
	b.inits.Add(1)
	return b.initErr
}

func (b *fakeBackend) LoadModel(_ context.Context, path string) (Model, error) {
	if b.loadErr != nil {
		return nil, b.loadErr
	}
	return &fakeModel{maxCtx: b.maxCtx, closeLog: b.closeLog}, nil
}

type fakeModel struct {
	maxCtx   int
	closeLog *[]string
}

func (m *fakeModel) Vocabulary() inference.Vocabulary { return fakeVocab{} }

func (m *fakeModel) NewContext(p ContextParams) (Context, error) {
	if m.maxCtx > 0 && p.Size > m.maxCtx {
		return nil, fmt.Errorf("cannot allocate %d tokens", p.Size)
	}
	return &fakeContext{nCtx: p.Size, closeLog: m.closeLog}, nil
}

func (m *fakeModel) Close() error {
	if m.closeLog != nil {
		*m.closeLog = append(*m.closeLog, "model")
	}
	return nil
}

type fakeContext struct {
	nCtx     int
	closeLog *[]string
	last     []batch.Slot
	busy     atomic.Int32
	overlap  atomic.Bool
}

func (c *fakeContext) Decode(b *batch.Batch) error {
	if c.busy.Add(1) > 1 {
		c.overlap.Store(true)
	}
	defer c.busy.Add(-1)
	c.last = append(c.last[:0], b.Slots()...)
	return nil
}

func (c *fakeContext) Logits(i int) ([]float32, error) {
	row := make([]float32, 8)
	if c.last[i].Pos >= 2 {
		row[1] = 1
	} else {
		row[5] = 1
	}
	return row, nil
}

func (c *fakeContext) ContextSize() int { return c.nCtx }

func (c *fakeContext) Close() error {
	if c.closeLog != nil {
		*c.closeLog = append(*c.closeLog, "context")
	}
	return nil
}

// fakeVocab turns every byte into one token; token 1 is EOS.
type fakeVocab struct{}

func (fakeVocab) Tokenize(text string, maxTokens int) ([]inference.Token, error) {
	if len(text) > maxTokens {
		return nil, inference.ErrTokenOverflow
	}
	toks := make([]inference.Token, len(text))
	for i := range text {
		toks[i] = inference.Token(text[i] % 8)
	}
	return toks, nil
}

func (fakeVocab) TokenToPiece(tok inference.Token) string { return fmt.Sprintf("[%d]", tok) }
func (fakeVocab) EOS() inference.Token                    { return 1 }
func (fakeVocab) Size() int                               { return 8 }

func newBackend(t *testing.T) *fakeBackend {
	return &fakeBackend{name: "fake/" + t.Name(), closeLog: new([]string)}
}

func TestInitializeGenerateRelease(t *testing.T) {
	t.Parallel()

	b := newBackend(t)
	h, err := Initialize(context.Background(), b, Params{ModelPath: "m"})
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if got := h.Params(); got.Threads != DefaultThreads || got.ContextSize != DefaultContextSize || got.BatchSize != DefaultBatchSize {
		t.Fatalf("defaults not applied: %+v", got)
	}

	// prompt "a" is one token at position 0; step 0 decodes at 1 and emits
	// [5], step 1 decodes at 2 whose logits pick EOS.
	res, err := h.Generate(context.Background(), &inference.Request{Prompt: "a", MaxNewTokens: 10}, nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.Text != "[5][5]" || res.StopReason != inference.StopEOS {
		t.Fatalf("unexpected result: %q %s", res.Text, res.StopReason)
	}

	if err := h.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if got := strings.Join(*b.closeLog, ","); got != "context,model" {
		t.Fatalf("release order = %s, want context,model", got)
	}
	if err := h.Release(); err != nil {
		t.Fatalf("second Release: %v", err)
	}
	if len(*b.closeLog) != 2 {
		t.Fatalf("second release closed again: %v", *b.closeLog)
	}
	if _, err := h.Generate(context.Background(), &inference.Request{Prompt: "a"}, nil); !errors.Is(err, ErrReleased) {
		t.Fatalf("expected ErrReleased, got %v", err)
	}
}

func TestReleaseNilHandle(t *testing.T) {
	t.Parallel()

	var h *Handle
	if err := h.Release(); err != nil {
		t.Fatalf("nil Release: %v", err)
	}
}

func TestBackendInitRunsOnce(t *testing.T) {
	t.Parallel()

	b := &fakeBackend{name: "fake/" + t.Name()}
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, err := Initialize(context.Background(), b, Params{ModelPath: "m"})
			if err != nil {
				t.Errorf("Initialize: %v", err)
				return
			}
			_ = h.Release()
		}()
	}
	wg.Wait()
	if n := b.inits.Load(); n != 1 {
		t.Fatalf("backend init ran %d times", n)
	}
}

func TestInitializeLoadFailures(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		backend *fakeBackend
		params  Params
	}{
		{name: "missing path", backend: &fakeBackend{name: "fake/missing-path"}, params: Params{}},
		{name: "negative threads", backend: &fakeBackend{name: "fake/negative"}, params: Params{ModelPath: "m", Threads: -1}},
		{name: "init error", backend: &fakeBackend{name: "fake/init-error", initErr: errors.New("no device")}, params: Params{ModelPath: "m"}},
		{name: "load error", backend: &fakeBackend{name: "fake/load-error", loadErr: errors.New("bad magic")}, params: Params{ModelPath: "m"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			h, err := Initialize(context.Background(), tc.backend, tc.params)
			if !errors.Is(err, inference.ErrLoadFailure) {
				t.Fatalf("expected ErrLoadFailure, got %v", err)
			}
			if h != nil {
				t.Fatal("expected nil handle")
			}
		})
	}
}

func TestContextAllocationFailureClosesModel(t *testing.T) {
	t.Parallel()

	b := newBackend(t)
	b.maxCtx = 512
	_, err := Initialize(context.Background(), b, Params{ModelPath: "m", ContextSize: 4096})
	if !errors.Is(err, inference.ErrLoadFailure) {
		t.Fatalf("expected ErrLoadFailure, got %v", err)
	}
	if got := strings.Join(*b.closeLog, ","); got != "model" {
		t.Fatalf("expected model to be closed, got %q", got)
	}
}

func TestEngineWrapperSeesBatches(t *testing.T) {
	t.Parallel()

	var seen atomic.Int32
	wrap := func(inner inference.InferenceEngine) inference.InferenceEngine {
		return countingEngine{InferenceEngine: inner, n: &seen}
	}
	h, err := Initialize(context.Background(), newBackend(t), Params{ModelPath: "m", BatchSize: 2}, WithEngineWrapper(wrap))
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer h.Release()

	if _, err := h.Generate(context.Background(), &inference.Request{Prompt: "abcde", MaxNewTokens: 0}, nil); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if seen.Load() != 3 {
		t.Fatalf("wrapper saw %d batches, want 3", seen.Load())
	}
}

type countingEngine struct {
	inference.InferenceEngine
	n *atomic.Int32
}

func (c countingEngine) Decode(b *batch.Batch) error {
	c.n.Add(1)
	return c.InferenceEngine.Decode(b)
}

func TestResolveModelPath(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	mustWriteFile(t, filepath.Join(dir, "tiny.json"), "{}")

	got, err := ResolveModelPath("tiny", dir, ".json")
	if err != nil || got != filepath.Join(dir, "tiny.json") {
		t.Fatalf("bare name: got %q, %v", got, err)
	}
	got, err = ResolveModelPath("tiny.json", dir, ".json")
	if err != nil || got != filepath.Join(dir, "tiny.json") {
		t.Fatalf("relative file: got %q, %v", got, err)
	}
	abs := filepath.Join(dir, "tiny.json")
	if got, err = ResolveModelPath(abs, "", ".json"); err != nil || got != abs {
		t.Fatalf("absolute: got %q, %v", got, err)
	}

	for _, name := range []string{"missing", filepath.Join(dir, "missing.json"), ""} {
		_, err := ResolveModelPath(name, dir, ".json")
		if !errors.Is(err, inference.ErrLoadFailure) {
			t.Fatalf("%q: expected ErrLoadFailure, got %v", name, err)
		}
	}
	if _, err := ResolveModelPath("missing", dir, ".json"); !strings.Contains(err.Error(), "model file not found") {
		t.Fatalf("unexpected message: %v", err)
	}
}

func TestDiscoverModels(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	mustWriteFile(t, filepath.Join(dir, "beta.json"), "{}")
	mustWriteFile(t, filepath.Join(dir, "alpha.json"), "{}")
	mustWriteFile(t, filepath.Join(dir, "notes.txt"), "x")

	got, err := DiscoverModels(dir, ".json")
	if err != nil {
		t.Fatalf("DiscoverModels: %v", err)
	}
	if strings.Join(got, ",") != "alpha,beta" {
		t.Fatalf("got %v", got)
	}
}

func TestModelExtensionIgnoresCase(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	mustWriteFile(t, filepath.Join(dir, "Big.JSON"), "{}")

	names, err := DiscoverModels(dir, ".json")
	if err != nil {
		t.Fatalf("DiscoverModels: %v", err)
	}
	if len(names) != 1 || names[0] != "Big" {
		t.Fatalf("names = %v, want [Big]", names)
	}

	files, err := ModelFiles(dir, ".json")
	if err != nil || len(files) != 1 || files[0] != filepath.Join(dir, "Big.JSON") {
		t.Fatalf("files = %v, %v", files, err)
	}

	got, err := ResolveModelPath(names[0], dir, ".json")
	if err != nil {
		t.Fatalf("ResolveModelPath(%q): %v", names[0], err)
	}
	if got != filepath.Join(dir, "Big.JSON") {
		t.Fatalf("resolved %q", got)
	}
}

func mustWriteFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
