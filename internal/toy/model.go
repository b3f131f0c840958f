package toy

import (
	"fmt"
	"math/rand/v2"

	ggtensor "gorgonia.org/tensor"
)

// prevWeight scales the previous token's embedding in the hidden state.
const prevWeight = 0.5

// ToyLM is an embedding matrix, a projection back to vocabulary logits and a
// bias vector. The hidden state of a position is its token embedding plus a
// scaled embedding of the token before it.
type ToyLM struct {
	Vocab  int
	Hidden int

	Emb  []float32       // [Vocab x Hidden], row major
	W    *ggtensor.Dense // [Hidden x Vocab]
	Bias []float32       // [Vocab]
}

// NewToyLM fills the weights deterministically from seed. Biases start at
// zero.
func NewToyLM(vocab, hidden int, seed int64) *ToyLM {
	rng := rand.New(rand.NewPCG(uint64(seed), 0x9e3779b97f4a7c15))
	emb := make([]float32, vocab*hidden)
	for i := range emb {
		emb[i] = rng.Float32()*2 - 1
	}
	w := make([]float32, hidden*vocab)
	for i := range w {
		w[i] = rng.Float32()*2 - 1
	}
	return &ToyLM{
		Vocab:  vocab,
		Hidden: hidden,
		Emb:    emb,
		W:      ggtensor.New(ggtensor.WithShape(hidden, vocab), ggtensor.WithBacking(w)),
		Bias:   make([]float32, vocab),
	}
}

func (m *ToyLM) embRow(tok int) []float32 {
	return m.Emb[tok*m.Hidden : (tok+1)*m.Hidden]
}

// Forward returns the logits for tok given the token before it (prev < 0 at
// the start of a sequence). It only reads the weights, so concurrent calls
// are safe.
func (m *ToyLM) Forward(tok, prev int) ([]float32, error) {
	if tok < 0 || tok >= m.Vocab {
		return nil, fmt.Errorf("token %d out of range [0,%d)", tok, m.Vocab)
	}
	h := make([]float32, m.Hidden)
	copy(h, m.embRow(tok))
	if prev >= 0 && prev < m.Vocab {
		for i, v := range m.embRow(prev) {
			h[i] += prevWeight * v
		}
	}

	ht := ggtensor.New(ggtensor.WithShape(1, m.Hidden), ggtensor.WithBacking(h))
	out, err := ggtensor.MatMul(ht, m.W)
	if err != nil {
		return nil, fmt.Errorf("project hidden state: %w", err)
	}
	raw, ok := out.Data().([]float32)
	if !ok || len(raw) != m.Vocab {
		return nil, fmt.Errorf("unexpected projection output %T", out.Data())
	}
	logits := make([]float32, m.Vocab)
	for j, v := range raw {
		logits[j] = v + m.Bias[j]
	}
	return logits, nil
}
