package rpc

import "github.com/samcharles93/lantern/internal/inference"

type LoadRequest struct {
	Model       string `json:"model"`
	Threads     int    `json:"threads,omitempty"`
	ContextSize int    `json:"context_size,omitempty"`
	BatchSize   int    `json:"batch_size,omitempty"`
}

type Handle struct {
	ID          string `json:"id"`
	Model       string `json:"model"`
	Backend     string `json:"backend"`
	Threads     int    `json:"threads"`
	ContextSize int    `json:"context_size"`
	BatchSize   int    `json:"batch_size"`
}

type GenerateRequest struct {
	ID           string   `json:"id"`
	Prompt       string   `json:"prompt"`
	MaxNewTokens *int     `json:"max_new_tokens,omitempty"`
	Temperature  *float64 `json:"temperature,omitempty"`
}

type Usage struct {
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	PrefillBatches   int     `json:"prefill_batches"`
	DecodeSteps      int     `json:"decode_steps"`
	DurationMS       int64   `json:"duration_ms"`
	TokensPerSecond  float64 `json:"tokens_per_second"`
}

type GenerateResponse struct {
	Text       string `json:"text"`
	StopReason string `json:"stop_reason"`
	Usage      Usage  `json:"usage"`

	// Error is set when decoding failed after some tokens were produced.
	Error string `json:"error,omitempty"`
}

// GenerateChunk is one message of a streamed generation. The last chunk has
// Done set and carries the stop reason and usage.
type GenerateChunk struct {
	Piece      string `json:"piece,omitempty"`
	Done       bool   `json:"done,omitempty"`
	StopReason string `json:"stop_reason,omitempty"`
	Usage      *Usage `json:"usage,omitempty"`
	Error      string `json:"error,omitempty"`
}

type ReleaseRequest struct {
	ID string `json:"id"`
}

type ReleaseResponse struct {
	ID       string `json:"id"`
	Released bool   `json:"released"`
}

type ListRequest struct{}

type ListResponse struct {
	Handles []Handle `json:"handles"`
}

func usageFrom(s inference.Stats) Usage {
	return Usage{
		PromptTokens:     s.PromptTokens,
		CompletionTokens: s.TokensGenerated,
		PrefillBatches:   s.PrefillBatches,
		DecodeSteps:      s.DecodeSteps,
		DurationMS:       s.Duration.Milliseconds(),
		TokensPerSecond:  s.TPS,
	}
}

func responseFrom(res *inference.Result) *GenerateResponse {
	return &GenerateResponse{
		Text:       res.Text,
		StopReason: string(res.StopReason),
		Usage:      usageFrom(res.Stats),
		Error:      decodeError(res),
	}
}

func doneChunk(res *inference.Result) *GenerateChunk {
	usage := usageFrom(res.Stats)
	return &GenerateChunk{Done: true, StopReason: string(res.StopReason), Usage: &usage, Error: decodeError(res)}
}

func decodeError(res *inference.Result) string {
	if res.DecodeErr == nil {
		return ""
	}
	return res.DecodeErr.Error()
}
