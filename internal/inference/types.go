package inference

import (
	"context"
	"time"

	"github.com/samcharles93/lantern/internal/batch"
	"github.com/samcharles93/lantern/internal/logits"
)

// DefaultBatchSize is the prefill chunk size used when a generator does not
// set one.
const DefaultBatchSize = 128

// DefaultHeartbeat is how many decode steps pass between progress logs.
const DefaultHeartbeat = 10

type Token = batch.Token

type StreamFunc func(piece string)

// Engine is the request-level surface implemented by a loaded model.
type Engine interface {
	Generate(ctx context.Context, req *Request, stream StreamFunc) (*Result, error)
	Close() error
}

// Vocabulary converts between text and token ids.
//
// Tokenize must fail with an error wrapping ErrTokenOverflow when text would
// produce more than maxTokens tokens. It must never truncate.
type Vocabulary interface {
	Tokenize(text string, maxTokens int) ([]Token, error)
	TokenToPiece(tok Token) string
	EOS() Token
	Size() int
}

// InferenceEngine is the stateful decode primitive behind a context. Decode
// appends every slot of b to the KV cache and is atomic: it either accepts the
// whole batch or fails. Logits returns the row for slot i of the most
// recently decoded batch; the slice is only valid until the next Decode.
type InferenceEngine interface {
	Decode(b *batch.Batch) error
	Logits(i int) ([]float32, error)
	ContextSize() int
}

// CacheClearer is implemented by engines that can drop a sequence from their
// KV cache.
type CacheClearer interface {
	ClearSeq(seq batch.SeqID) error
}

type Request struct {
	Prompt       string
	MaxNewTokens int
	Sampling     logits.Params
}

type Result struct {
	Text       string
	StopReason StopReason
	Stats      Stats

	// DecodeErr is set when decoding failed after prefill. The call still
	// succeeds with whatever text was produced before the failure.
	DecodeErr error
}

type Stats struct {
	PromptTokens    int
	PrefillBatches  int
	DecodeSteps     int
	TokensGenerated int
	PrefillDuration time.Duration
	Duration        time.Duration
	TPS             float64
}

// State is a phase of one generation call.
type State int

const (
	StatePrefilling State = iota
	StateDecoding
	StateStoppedEOS
	StateStoppedLength
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePrefilling:
		return "prefilling"
	case StateDecoding:
		return "decoding"
	case StateStoppedEOS:
		return "stopped_eos"
	case StateStoppedLength:
		return "stopped_length"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

type StopReason string

const (
	StopEOS         StopReason = "eos"
	StopLength      StopReason = "length"
	StopContextFull StopReason = "context_full"
	StopDecodeError StopReason = "decode_error"
	StopCancelled   StopReason = "cancelled"
)
