package logits

import (
	"errors"
	"math"

	"github.com/samcharles93/lantern/internal/batch"
)

// ErrEmptyLogits is returned when there is nothing to choose from.
var ErrEmptyLogits = errors.New("logits: empty vector")

// Sampler selects the next token from one logit vector. The vector is owned
// by the engine and is only valid until the next decode, so implementations
// must not retain it.
type Sampler interface {
	Sample(logits []float32) (batch.Token, error)
}

// Params carries the caller's sampling knobs. Only greedy selection is
// implemented; Temperature is accepted so hosts can pass it through.
type Params struct {
	Temperature float64
}

// ForParams returns the sampler for a parameter set. Every set currently maps
// to Greedy; stochastic policies plug in here behind the same interface.
func ForParams(Params) Sampler {
	return Greedy{}
}

// Greedy picks the highest-scoring token. It is a pure function of the
// vector: the first maximum wins ties.
type Greedy struct{}

func (Greedy) Sample(logits []float32) (batch.Token, error) {
	i, err := Argmax(logits)
	if err != nil {
		return 0, err
	}
	return batch.Token(i), nil
}

// Argmax returns the index of the first maximum in x using a strict-greater
// scan. It is O(len(x)), i.e. one pass over the vocabulary per decode step.
// NaN entries never win.
func Argmax(x []float32) (int, error) {
	if len(x) == 0 {
		return 0, ErrEmptyLogits
	}
	bestI := 0
	bestV := float32(math.Inf(-1))
	for i, v := range x {
		if v > bestV {
			bestV = v
			bestI = i
		}
	}
	return bestI, nil
}
