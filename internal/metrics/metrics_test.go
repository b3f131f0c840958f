package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordGeneration(t *testing.T) {
	before := testutil.ToFloat64(GenerationsTotal.WithLabelValues("eos"))
	steps := testutil.ToFloat64(DecodeSteps)
	tokens := testutil.ToFloat64(GeneratedTokens)

	RecordGeneration("eos", 5, 3, 1, 1, 20*time.Millisecond)

	if got := testutil.ToFloat64(GenerationsTotal.WithLabelValues("eos")); got != before+1 {
		t.Fatalf("generations{eos} = %v, want %v", got, before+1)
	}
	if got := testutil.ToFloat64(DecodeSteps); got != steps+1 {
		t.Fatalf("decode steps = %v, want %v", got, steps+1)
	}
	if got := testutil.ToFloat64(GeneratedTokens); got != tokens+1 {
		t.Fatalf("generated tokens = %v, want %v", got, tokens+1)
	}
}

func TestRecordError(t *testing.T) {
	before := testutil.ToFloat64(GenerationErrors.WithLabelValues("capacity"))
	RecordError("capacity")
	if got := testutil.ToFloat64(GenerationErrors.WithLabelValues("capacity")); got != before+1 {
		t.Fatalf("errors{capacity} = %v, want %v", got, before+1)
	}
}

func TestHandleGauge(t *testing.T) {
	before := testutil.ToFloat64(HandlesActive)
	HandleLoaded()
	HandleLoaded()
	HandleReleased()
	if got := testutil.ToFloat64(HandlesActive); got != before+1 {
		t.Fatalf("handles active = %v, want %v", got, before+1)
	}
	HandleReleased()
}

func TestHandlerExposesCollectors(t *testing.T) {
	RecordGeneration("length", 1, 1, 0, 0, time.Millisecond)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	for _, name := range []string{"lantern_generations_total", "lantern_prompt_tokens_bucket", "lantern_handles_active"} {
		if !strings.Contains(string(body), name) {
			t.Fatalf("exposition missing %s", name)
		}
	}
}
