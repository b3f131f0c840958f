package inference

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/samcharles93/lantern/internal/batch"
	"github.com/samcharles93/lantern/internal/logger"
	"github.com/samcharles93/lantern/internal/logits"
)

// Generator runs prefill followed by greedy decode against one engine. It is
// not safe for concurrent use: every call mutates the engine's KV cache.
type Generator struct {
	Engine InferenceEngine
	Vocab  Vocabulary

	// Sampler overrides the policy chosen from the request's sampling params.
	Sampler logits.Sampler

	// BatchSize is the prefill chunk size. It must not exceed the n_batch the
	// engine's context was created with. Zero means DefaultBatchSize.
	BatchSize int

	// Heartbeat is the number of decode steps between debug progress lines.
	// Zero means DefaultHeartbeat; negative disables it.
	Heartbeat int

	// OnState, when set, observes every state transition.
	OnState func(State)

	Log logger.Logger
}

// Run executes one generation call.
//
// Tokenization, capacity and prefill failures return an error and no result.
// A decode failure after prefill ends the call early with StopDecodeError and
// the text produced so far. Cancellation is checked between decode steps; a
// cancelled call returns its partial result together with ctx.Err().
func (g *Generator) Run(ctx context.Context, req *Request, stream StreamFunc) (*Result, error) {
	if ctx == nil {
		return nil, newError(ErrInvalidRequest, "generate", fmt.Errorf("context is required"))
	}
	if req == nil {
		return nil, newError(ErrInvalidRequest, "generate", fmt.Errorf("request is required"))
	}
	if req.MaxNewTokens < 0 {
		return nil, newError(ErrInvalidRequest, "generate", fmt.Errorf("max new tokens must be >= 0, got %d", req.MaxNewTokens))
	}
	if g.BatchSize < 0 {
		return nil, newError(ErrInvalidRequest, "generate", fmt.Errorf("batch size must be >= 0, got %d", g.BatchSize))
	}
	if g.Engine == nil || g.Vocab == nil {
		return nil, newError(ErrInvalidRequest, "generate", fmt.Errorf("generator is not configured"))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	log := g.Log
	if log == nil {
		log = logger.Discard()
	}
	sampler := g.Sampler
	if sampler == nil {
		sampler = logits.ForParams(req.Sampling)
	}
	nBatch := g.BatchSize
	if nBatch == 0 {
		nBatch = DefaultBatchSize
	}

	start := time.Now()
	g.transition(StatePrefilling)

	nCtx := g.Engine.ContextSize()
	tokens, err := safeTokenize(g.Vocab, req.Prompt, nCtx)
	if err != nil {
		g.transition(StateFailed)
		return nil, err
	}
	if len(tokens) > nCtx {
		g.transition(StateFailed)
		return nil, newError(ErrCapacityExceeded, "tokenize", fmt.Errorf("%d prompt tokens exceed context of %d", len(tokens), nCtx))
	}

	if c, ok := g.Engine.(CacheClearer); ok {
		if err := c.ClearSeq(batch.DefaultSeq); err != nil {
			g.transition(StateFailed)
			return nil, newError(ErrDecodeFailure, "clear cache", err)
		}
	}

	b := batch.New(nBatch)
	pre, err := Prefill(g.Engine, b, tokens)
	if err != nil {
		g.transition(StateFailed)
		return nil, err
	}
	row, err := safeLogits(g.Engine, pre.OutputIndex)
	if err != nil {
		g.transition(StateFailed)
		return nil, newError(ErrDecodeFailure, "prefill logits", err)
	}

	res := &Result{StopReason: StopLength}
	res.Stats.PromptTokens = len(tokens)
	res.Stats.PrefillBatches = pre.Batches
	res.Stats.PrefillDuration = time.Since(start)
	log.Debug("prefill complete", "tokens", len(tokens), "batches", pre.Batches, "n_batch", nBatch)

	g.transition(StateDecoding)
	heartbeat := g.Heartbeat
	if heartbeat == 0 {
		heartbeat = DefaultHeartbeat
	}
	decodeStart := time.Now()

	var sb strings.Builder
	var ctxErr error
	promptLen := batch.Pos(len(tokens))
	for step := 0; step < req.MaxNewTokens; step++ {
		if err := ctx.Err(); err != nil {
			res.StopReason = StopCancelled
			ctxErr = err
			break
		}

		next, err := safeSample(sampler, row)
		if err != nil {
			res.StopReason = StopDecodeError
			res.DecodeErr = newError(ErrDecodeFailure, fmt.Sprintf("sample step %d", step), err)
			break
		}
		if next == g.Vocab.EOS() {
			res.StopReason = StopEOS
			break
		}

		piece := g.Vocab.TokenToPiece(next)
		sb.WriteString(piece)
		res.Stats.TokensGenerated++
		if stream != nil {
			stream(piece)
		}
		if heartbeat > 0 && step%heartbeat == 0 {
			log.Debug("generation heartbeat", "step", step, "token", next, "piece", piece)
		}

		pos := promptLen + batch.Pos(step)
		if int(pos) >= nCtx {
			res.StopReason = StopContextFull
			break
		}
		if err := batch.Fill(b, []Token{next}, pos, 0); err != nil {
			res.StopReason = StopDecodeError
			res.DecodeErr = newError(ErrDecodeFailure, fmt.Sprintf("decode step %d", step), err)
			break
		}
		if err := safeDecode(g.Engine, b); err != nil {
			res.StopReason = StopDecodeError
			res.DecodeErr = newError(ErrDecodeFailure, fmt.Sprintf("decode step %d", step), err)
			break
		}
		res.Stats.DecodeSteps++

		row, err = safeLogits(g.Engine, 0)
		if err != nil {
			res.StopReason = StopDecodeError
			res.DecodeErr = newError(ErrDecodeFailure, fmt.Sprintf("logits step %d", step), err)
			break
		}
	}

	res.Text = sb.String()
	res.Stats.Duration = time.Since(start)
	if d := time.Since(decodeStart).Seconds(); d > 0 {
		res.Stats.TPS = float64(res.Stats.TokensGenerated) / d
	}

	switch res.StopReason {
	case StopEOS:
		g.transition(StateStoppedEOS)
	default:
		g.transition(StateStoppedLength)
	}
	if res.DecodeErr != nil {
		log.Warn("generation stopped early", "error", res.DecodeErr, "tokens", res.Stats.TokensGenerated)
	}
	log.Debug("generation complete", "stop_reason", res.StopReason, "tokens", res.Stats.TokensGenerated, "tps", res.Stats.TPS)
	return res, ctxErr
}

func (g *Generator) transition(s State) {
	if g.OnState != nil {
		g.OnState(s)
	}
}
