package inference

import (
	"errors"
	"fmt"

	"github.com/samcharles93/lantern/internal/batch"
	"github.com/samcharles93/lantern/internal/logits"
)

// The helpers below turn collaborator panics into errors so one bad backend
// call cannot take the host process down.

func safeTokenize(v Vocabulary, text string, maxTokens int) (toks []Token, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = newError(ErrTokenization, "tokenize", fmt.Errorf("panic in Tokenize: %v", rec))
		}
	}()
	toks, err = v.Tokenize(text, maxTokens)
	switch {
	case errors.Is(err, ErrTokenOverflow):
		return nil, newError(ErrCapacityExceeded, "tokenize", err)
	case err != nil:
		return nil, newError(ErrTokenization, "tokenize", err)
	case len(toks) == 0:
		return nil, newError(ErrTokenization, "tokenize", fmt.Errorf("prompt produced no tokens"))
	}
	return toks, nil
}

func safeDecode(eng InferenceEngine, b *batch.Batch) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in Decode: %v", rec)
		}
	}()
	return eng.Decode(b)
}

func safeLogits(eng InferenceEngine, i int) (row []float32, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in Logits: %v", rec)
		}
	}()
	return eng.Logits(i)
}

func safeSample(s logits.Sampler, row []float32) (tok Token, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in Sample: %v", rec)
		}
	}()
	return s.Sample(row)
}
