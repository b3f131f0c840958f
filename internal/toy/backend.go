package toy

import (
	"context"
	"fmt"

	"github.com/samcharles93/lantern/internal/engine"
	"github.com/samcharles93/lantern/internal/inference"
	"github.com/samcharles93/lantern/internal/logger"
)

// Backend loads toy manifests.
type Backend struct {
	Log logger.Logger
}

func (Backend) Name() string { return "toy" }

func (b Backend) Init() error {
	if b.Log != nil {
		b.Log.Debug("toy backend ready")
	}
	return nil
}

func (Backend) LoadModel(ctx context.Context, path string) (engine.Model, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m, err := LoadManifest(path)
	if err != nil {
		return nil, err
	}
	return NewModel(m), nil
}

// Model pairs a vocabulary with its weights.
type Model struct {
	manifest *Manifest
	vocab    *Vocab
	lm       *ToyLM
}

func NewModel(m *Manifest) *Model {
	lm := NewToyLM(len(m.Vocab), m.Hidden, m.Seed)
	for piece, score := range m.Bias {
		if i := indexOf(m.Vocab, piece); i >= 0 {
			lm.Bias[i] = score
		}
	}
	return &Model{manifest: m, vocab: NewVocab(m), lm: lm}
}

func (m *Model) Name() string { return m.manifest.Name }

func (m *Model) Vocabulary() inference.Vocabulary { return m.vocab }

func (m *Model) NewContext(p engine.ContextParams) (engine.Context, error) {
	if p.Size <= 0 || p.BatchSize <= 0 {
		return nil, fmt.Errorf("toy: context size and batch size must be positive")
	}
	if limit := m.manifest.MaxContext; limit > 0 && p.Size > limit {
		return nil, fmt.Errorf("toy: cannot allocate context of %d tokens (model maximum %d)", p.Size, limit)
	}
	return newContext(m.lm, p.Size, p.BatchSize, max(p.Threads, p.BatchThreads)), nil
}

func (m *Model) Close() error { return nil }

var _ engine.Backend = Backend{}
