// Package engine owns the model/context pair behind a generation handle.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/samcharles93/lantern/internal/inference"
	"github.com/samcharles93/lantern/internal/logger"
	"github.com/samcharles93/lantern/internal/metrics"
)

const (
	DefaultThreads      = 8
	DefaultContextSize  = 2048
	DefaultBatchSize    = inference.DefaultBatchSize
	DefaultMaxNewTokens = 512
	DefaultTemperature  = 0.2
)

// ErrReleased is returned by a handle after Release.
var ErrReleased = errors.New("engine handle released")

// Params is fixed at Initialize time.
type Params struct {
	ModelPath   string
	Threads     int
	ContextSize int
	BatchSize   int
}

func DefaultParams() Params {
	return Params{
		Threads:     DefaultThreads,
		ContextSize: DefaultContextSize,
		BatchSize:   DefaultBatchSize,
	}
}

// withDefaults fills zero fields and rejects negative ones.
func (p Params) withDefaults() (Params, error) {
	if strings.TrimSpace(p.ModelPath) == "" {
		return p, fmt.Errorf("model path is required")
	}
	if p.Threads < 0 || p.ContextSize < 0 || p.BatchSize < 0 {
		return p, fmt.Errorf("threads, context size and batch size must be positive")
	}
	if p.Threads == 0 {
		p.Threads = DefaultThreads
	}
	if p.ContextSize == 0 {
		p.ContextSize = DefaultContextSize
	}
	if p.BatchSize == 0 {
		p.BatchSize = DefaultBatchSize
	}
	return p, nil
}

type Option func(*options)

type options struct {
	log  logger.Logger
	wrap func(inference.InferenceEngine) inference.InferenceEngine
}

func WithLogger(l logger.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithEngineWrapper decorates the inference engine seen by the generation
// loop, e.g. to record every submitted batch.
func WithEngineWrapper(fn func(inference.InferenceEngine) inference.InferenceEngine) Option {
	return func(o *options) { o.wrap = fn }
}

// Handle owns exactly one model and one context. It is not safe for
// concurrent Generate calls; see Registry for serialised access.
type Handle struct {
	backend string
	params  Params
	model   Model
	ctx     Context
	engine  inference.InferenceEngine
	log     logger.Logger

	mu       sync.Mutex
	released bool
}

// Initialize runs the backend's one-time setup, loads the model and creates
// its context. Every failure wraps inference.ErrLoadFailure.
func Initialize(ctx context.Context, b Backend, p Params, opts ...Option) (*Handle, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = logger.Discard()
	}
	if b == nil {
		return nil, inference.LoadError("initialize", fmt.Errorf("backend is required"))
	}

	p, err := p.withDefaults()
	if err != nil {
		return nil, inference.LoadError("initialize", err)
	}
	if err := InitBackend(b); err != nil {
		return nil, inference.LoadError("backend init", err)
	}

	log := o.log.With("backend", b.Name(), "model", p.ModelPath)
	log.Info("loading model", "threads", p.Threads, "n_ctx", p.ContextSize, "n_batch", p.BatchSize)

	model, err := safeLoad(ctx, b, p.ModelPath)
	if err != nil {
		log.Error("failed to load model", "error", err)
		return nil, inference.LoadError("load model", err)
	}
	if model == nil {
		return nil, inference.LoadError("load model", fmt.Errorf("backend returned no model"))
	}

	mctx, err := model.NewContext(ContextParams{
		Size:         p.ContextSize,
		BatchSize:    p.BatchSize,
		Threads:      p.Threads,
		BatchThreads: p.Threads,
	})
	if err != nil {
		log.Error("failed to create context", "error", err)
		return nil, inference.LoadError("create context", errors.Join(err, model.Close()))
	}

	var eng inference.InferenceEngine = mctx
	if o.wrap != nil {
		eng = o.wrap(mctx)
	}

	log.Info("model loaded", "vocab", model.Vocabulary().Size())
	metrics.HandleLoaded()
	return &Handle{
		backend: b.Name(),
		params:  p,
		model:   model,
		ctx:     mctx,
		engine:  eng,
		log:     log,
	}, nil
}

func safeLoad(ctx context.Context, b Backend, path string) (m Model, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in LoadModel: %v", rec)
		}
	}()
	return b.LoadModel(ctx, path)
}

func (h *Handle) Params() Params { return h.params }

func (h *Handle) Backend() string { return h.backend }

func (h *Handle) Vocabulary() inference.Vocabulary { return h.model.Vocabulary() }

// Generate runs one generation call against the handle's context.
func (h *Handle) Generate(ctx context.Context, req *inference.Request, stream inference.StreamFunc) (*inference.Result, error) {
	if h == nil {
		return nil, ErrReleased
	}
	h.mu.Lock()
	released := h.released
	h.mu.Unlock()
	if released {
		return nil, ErrReleased
	}

	gen := &inference.Generator{
		Engine:    h.engine,
		Vocab:     h.model.Vocabulary(),
		BatchSize: h.params.BatchSize,
		Log:       h.log,
	}
	res, err := gen.Run(ctx, req, stream)
	if res != nil {
		metrics.RecordGeneration(string(res.StopReason), res.Stats.PromptTokens, res.Stats.PrefillBatches,
			res.Stats.DecodeSteps, res.Stats.TokensGenerated, res.Stats.Duration)
		if res.DecodeErr != nil {
			metrics.RecordError(inference.KindName(res.DecodeErr))
		}
	} else if err != nil {
		metrics.RecordError(inference.KindName(err))
		h.log.Warn("generation failed", "error", err)
	}
	return res, err
}

// Close implements inference.Engine.
func (h *Handle) Close() error {
	return h.Release()
}

// Release frees the context and then the model. A nil handle and a handle
// that was already released are no-ops.
func (h *Handle) Release() error {
	if h == nil {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return nil
	}
	h.released = true
	metrics.HandleReleased()

	var errs []error
	if h.ctx != nil {
		if err := h.ctx.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close context: %w", err))
		}
	}
	if h.model != nil {
		if err := h.model.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close model: %w", err))
		}
	}
	h.log.Info("model released")
	return errors.Join(errs...)
}

var _ inference.Engine = (*Handle)(nil)
