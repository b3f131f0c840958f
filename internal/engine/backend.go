package engine

import (
	"context"
	"sync"

	"github.com/samcharles93/lantern/internal/inference"
)

// Backend loads models for one runtime (a native library, the toy model...).
type Backend interface {
	Name() string
	// Init performs process-wide setup. It is called at most once per backend
	// name, before the first model load.
	Init() error
	LoadModel(ctx context.Context, path string) (Model, error)
}

// Model is immutable once loaded and is shared by every context created from
// it.
type Model interface {
	Vocabulary() inference.Vocabulary
	NewContext(p ContextParams) (Context, error)
	Close() error
}

// Context owns the mutable decode state of one model.
type Context interface {
	inference.InferenceEngine
	Close() error
}

type ContextParams struct {
	Size         int
	BatchSize    int
	Threads      int
	BatchThreads int
}

type backendInit struct {
	once sync.Once
	err  error
}

var backendInits sync.Map // name -> *backendInit

// InitBackend runs b.Init once for the lifetime of the process. Later calls
// return the first result.
func InitBackend(b Backend) error {
	v, _ := backendInits.LoadOrStore(b.Name(), &backendInit{})
	bi := v.(*backendInit)
	bi.once.Do(func() {
		bi.err = b.Init()
	})
	return bi.err
}
