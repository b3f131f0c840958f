package api

import (
	"time"

	"github.com/samcharles93/lantern/internal/engine"
	"github.com/samcharles93/lantern/internal/inference"
)

type LoadRequest struct {
	Model       string `json:"model"`
	Threads     int    `json:"threads,omitempty"`
	ContextSize int    `json:"context_size,omitempty"`
	BatchSize   int    `json:"batch_size,omitempty"`
}

type HandleResponse struct {
	ID          string    `json:"id"`
	Object      string    `json:"object"`
	Model       string    `json:"model"`
	Backend     string    `json:"backend"`
	Threads     int       `json:"threads"`
	ContextSize int       `json:"context_size"`
	BatchSize   int       `json:"batch_size"`
	LoadedAt    time.Time `json:"loaded_at"`
}

type ListResponse struct {
	Object    string           `json:"object"`
	Data      []HandleResponse `json:"data"`
	Available []string         `json:"available"`
}

type GenerateRequest struct {
	Prompt       string   `json:"prompt"`
	MaxNewTokens *int     `json:"max_new_tokens,omitempty"`
	Temperature  *float64 `json:"temperature,omitempty"`
	Stream       bool     `json:"stream,omitempty"`
}

type Usage struct {
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TotalTokens      int     `json:"total_tokens"`
	PrefillBatches   int     `json:"prefill_batches"`
	DecodeSteps      int     `json:"decode_steps"`
	DurationMS       int64   `json:"duration_ms"`
	TokensPerSecond  float64 `json:"tokens_per_second"`
}

type GenerateResponse struct {
	ID         string `json:"id"`
	Object     string `json:"object"`
	Handle     string `json:"handle"`
	Text       string `json:"text"`
	StopReason string `json:"stop_reason"`
	Usage      Usage  `json:"usage"`
	// Error is set when decoding failed after some tokens were produced.
	Error string `json:"error,omitempty"`
}

type ReleaseResponse struct {
	ID       string `json:"id"`
	Object   string `json:"object"`
	Released bool   `json:"released"`
}

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Handles int    `json:"handles"`
}

type ResponseError struct {
	Message string `json:"message,omitempty"`
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
	Param   string `json:"param,omitempty"`
}

type tokenEvent struct {
	Piece string `json:"piece"`
}

type doneEvent struct {
	ID         string `json:"id"`
	StopReason string `json:"stop_reason"`
	Usage      Usage  `json:"usage"`
	Error      string `json:"error,omitempty"`
}

func handleFrom(info engine.Info) HandleResponse {
	return HandleResponse{
		ID:          info.ID,
		Object:      "handle",
		Model:       info.ModelPath,
		Backend:     info.Backend,
		Threads:     info.Params.Threads,
		ContextSize: info.Params.ContextSize,
		BatchSize:   info.Params.BatchSize,
		LoadedAt:    info.LoadedAt,
	}
}

func usageFrom(s inference.Stats) Usage {
	return Usage{
		PromptTokens:     s.PromptTokens,
		CompletionTokens: s.TokensGenerated,
		TotalTokens:      s.PromptTokens + s.TokensGenerated,
		PrefillBatches:   s.PrefillBatches,
		DecodeSteps:      s.DecodeSteps,
		DurationMS:       s.Duration.Milliseconds(),
		TokensPerSecond:  s.TPS,
	}
}
