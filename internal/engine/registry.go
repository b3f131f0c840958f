package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/samcharles93/lantern/internal/inference"
)

// ErrUnknownHandle is returned for ids that were never loaded or have been
// released.
var ErrUnknownHandle = errors.New("unknown engine handle")

type RegistryConfig struct {
	Backend   Backend
	ModelsDir string
	// ModelExt is appended to bare model names when resolving them.
	ModelExt string
	Options  []Option
}

// Info describes a loaded handle.
type Info struct {
	ID        string    `json:"id"`
	Backend   string    `json:"backend"`
	ModelPath string    `json:"model"`
	Params    Params    `json:"-"`
	LoadedAt  time.Time `json:"loaded_at"`
}

// Registry maps opaque ids to handles. Calls against one id are serialised;
// different ids run independently.
type Registry struct {
	cfg     RegistryConfig
	mu      sync.RWMutex
	entries map[string]*registryEntry
}

type registryEntry struct {
	mu   sync.Mutex
	h    *Handle
	info Info
}

func NewRegistry(cfg RegistryConfig) *Registry {
	return &Registry{
		cfg:     cfg,
		entries: make(map[string]*registryEntry),
	}
}

// Load resolves p.ModelPath, initialises a handle and returns its id.
func (r *Registry) Load(ctx context.Context, p Params) (Info, error) {
	path, err := ResolveModelPath(p.ModelPath, r.cfg.ModelsDir, r.cfg.ModelExt)
	if err != nil {
		return Info{}, err
	}
	p.ModelPath = path

	h, err := Initialize(ctx, r.cfg.Backend, p, r.cfg.Options...)
	if err != nil {
		return Info{}, err
	}
	info := Info{
		ID:        uuid.NewString(),
		Backend:   h.Backend(),
		ModelPath: path,
		Params:    h.Params(),
		LoadedAt:  time.Now().UTC(),
	}

	r.mu.Lock()
	r.entries[info.ID] = &registryEntry{h: h, info: info}
	r.mu.Unlock()
	return info, nil
}

// Generate runs req on the handle with the given id, waiting for any call
// already in flight on that handle.
func (r *Registry) Generate(ctx context.Context, id string, req *inference.Request, stream inference.StreamFunc) (*inference.Result, error) {
	e, err := r.entry(id)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res, err := e.h.Generate(ctx, req, stream)
	if errors.Is(err, ErrReleased) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownHandle, id)
	}
	return res, err
}

// Get returns the info for id.
func (r *Registry) Get(id string) (Info, error) {
	e, err := r.entry(id)
	if err != nil {
		return Info{}, err
	}
	return e.info, nil
}

// Release forgets id and frees its handle once no call is in flight.
func (r *Registry) Release(id string) error {
	r.mu.Lock()
	e, ok := r.entries[strings.TrimSpace(id)]
	if ok {
		delete(r.entries, e.info.ID)
	}
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownHandle, id)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.h.Release()
}

// List returns the loaded handles, oldest first.
func (r *Registry) List() []Info {
	r.mu.RLock()
	out := make([]Info, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.info)
	}
	r.mu.RUnlock()

	slices.SortFunc(out, func(a, b Info) int {
		if c := a.LoadedAt.Compare(b.LoadedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

// Close releases every handle.
func (r *Registry) Close() error {
	var errs []error
	for _, info := range r.List() {
		if err := r.Release(info.ID); err != nil && !errors.Is(err, ErrUnknownHandle) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ModelsDir is the directory bare model names are resolved against.
func (r *Registry) ModelsDir() string { return r.cfg.ModelsDir }

// Available lists model files in the models directory.
func (r *Registry) Available() ([]string, error) {
	if strings.TrimSpace(r.cfg.ModelsDir) == "" {
		return nil, nil
	}
	return DiscoverModels(r.cfg.ModelsDir, r.cfg.ModelExt)
}

func (r *Registry) entry(id string) (*registryEntry, error) {
	r.mu.RLock()
	e, ok := r.entries[strings.TrimSpace(id)]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownHandle, id)
	}
	return e, nil
}
