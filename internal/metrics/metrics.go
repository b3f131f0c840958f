// Package metrics holds the Prometheus collectors for generation calls and
// loaded handles.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	GenerationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lantern_generations_total",
		Help: "Completed generation calls by stop reason",
	}, []string{"stop_reason"})

	GenerationErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lantern_generation_errors_total",
		Help: "Failed generation or load calls by error kind",
	}, []string{"kind"})

	PrefillBatches = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lantern_prefill_batches_total",
		Help: "Prompt chunks submitted to the inference engine",
	})

	DecodeSteps = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lantern_decode_steps_total",
		Help: "Single-token decode batches submitted to the inference engine",
	})

	GeneratedTokens = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lantern_generated_tokens_total",
		Help: "Tokens emitted as text",
	})

	PromptTokens = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "lantern_prompt_tokens",
		Help:    "Distribution of prompt lengths in tokens",
		Buckets: []float64{8, 32, 128, 256, 512, 1024, 2048, 4096, 8192},
	})

	GenerationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "lantern_generation_duration_seconds",
		Help:    "Wall time of generation calls",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	})

	HandlesActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lantern_handles_active",
		Help: "Engine handles currently loaded",
	})
)

// RecordGeneration records one successful (possibly partial) call.
func RecordGeneration(stopReason string, promptTokens, prefillBatches, decodeSteps, generated int, d time.Duration) {
	GenerationsTotal.WithLabelValues(stopReason).Inc()
	PromptTokens.Observe(float64(promptTokens))
	PrefillBatches.Add(float64(prefillBatches))
	DecodeSteps.Add(float64(decodeSteps))
	GeneratedTokens.Add(float64(generated))
	GenerationDuration.Observe(d.Seconds())
}

func RecordError(kind string) {
	GenerationErrors.WithLabelValues(kind).Inc()
}

func HandleLoaded() {
	HandlesActive.Inc()
}

func HandleReleased() {
	HandlesActive.Dec()
}

// Handler serves the default registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}
