package inference

import (
	"fmt"

	"github.com/samcharles93/lantern/internal/batch"
)

type PrefillResult struct {
	Batches int
	// OutputIndex is the slot in the last batch whose logits were requested.
	OutputIndex int
}

// Prefill feeds tokens to eng in consecutive chunks of at most b.Cap() slots,
// starting at position 0 on the default sequence. Only the final slot of the
// final chunk requests logits. Any decode error aborts the whole prefill.
func Prefill(eng InferenceEngine, b *batch.Batch, tokens []Token) (PrefillResult, error) {
	var res PrefillResult
	if len(tokens) == 0 {
		return res, newError(ErrTokenization, "prefill", fmt.Errorf("empty prompt"))
	}

	spans := batch.Chunks(len(tokens), b.Cap())
	for i, sp := range spans {
		output := batch.NoOutput
		if i == len(spans)-1 {
			output = sp.Len() - 1
		}
		if err := batch.Fill(b, tokens[sp.Start:sp.End], batch.Pos(sp.Start), output); err != nil {
			return res, newError(ErrDecodeFailure, "prefill", err)
		}
		if err := safeDecode(eng, b); err != nil {
			return res, newError(ErrDecodeFailure, fmt.Sprintf("prefill chunk %d/%d", i+1, len(spans)), err)
		}
		res.Batches++
		res.OutputIndex = output
	}
	return res, nil
}
