package api

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/labstack/echo/v5"

	"github.com/samcharles93/lantern/internal/engine"
	"github.com/samcharles93/lantern/internal/toy"
)

// newTestEcho serves a models directory holding "bang", a tiny model biased
// towards emitting "!".
func newTestEcho(t *testing.T) *echo.Echo {
	t.Helper()

	m, err := toy.LoadManifest(filepath.Join("..", "toy", "testdata", "tiny.json"))
	if err != nil {
		t.Fatalf("LoadManifest: %v", err)
	}
	m.Bias = map[string]float32{"!": 100}
	dir := t.TempDir()
	if err := toy.WriteManifest(filepath.Join(dir, "bang.json"), m); err != nil {
		t.Fatalf("WriteManifest: %v", err)
	}

	reg := engine.NewRegistry(engine.RegistryConfig{
		Backend:   toy.Backend{},
		ModelsDir: dir,
		ModelExt:  toy.ModelExt,
	})
	t.Cleanup(func() { _ = reg.Close() })

	e := echo.New()
	NewServer(reg, nil, 4).Register(e)
	return e
}

func doJSON(t *testing.T, e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %s: %v", rec.Body.String(), err)
	}
	return out
}

func loadBang(t *testing.T, e *echo.Echo, body string) HandleResponse {
	t.Helper()
	rec := doJSON(t, e, http.MethodPost, "/v1/models", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("load status: got %d body=%s", rec.Code, rec.Body.String())
	}
	return decodeBody[HandleResponse](t, rec)
}

func TestLoadGenerateReleaseLifecycle(t *testing.T) {
	t.Parallel()

	e := newTestEcho(t)
	h := loadBang(t, e, `{"model":"bang","context_size":64,"batch_size":2}`)
	if h.ID == "" || h.Backend != "toy" || h.ContextSize != 64 || h.BatchSize != 2 {
		t.Fatalf("unexpected handle: %+v", h)
	}

	listRec := doJSON(t, e, http.MethodGet, "/v1/models", "")
	list := decodeBody[ListResponse](t, listRec)
	if len(list.Data) != 1 || list.Data[0].ID != h.ID {
		t.Fatalf("list data = %+v", list.Data)
	}
	if len(list.Available) != 1 || list.Available[0] != "bang" {
		t.Fatalf("list available = %v", list.Available)
	}

	genRec := doJSON(t, e, http.MethodPost, "/v1/models/"+h.ID+"/generate", `{"prompt":"hello world"}`)
	if genRec.Code != http.StatusOK {
		t.Fatalf("generate status: got %d body=%s", genRec.Code, genRec.Body.String())
	}
	gen := decodeBody[GenerateResponse](t, genRec)
	if gen.Text != "!!!!" || gen.StopReason != "length" {
		t.Fatalf("unexpected generation: %+v", gen)
	}
	if gen.Usage.PromptTokens != 3 || gen.Usage.CompletionTokens != 4 || gen.Usage.PrefillBatches != 2 || !strings.HasPrefix(gen.ID, "gen-") {
		t.Fatalf("unexpected usage: %+v", gen)
	}

	getRec := doJSON(t, e, http.MethodGet, "/v1/models/"+h.ID, "")
	if getRec.Code != http.StatusOK {
		t.Fatalf("get status: got %d", getRec.Code)
	}

	delRec := doJSON(t, e, http.MethodDelete, "/v1/models/"+h.ID, "")
	if delRec.Code != http.StatusOK {
		t.Fatalf("release status: got %d body=%s", delRec.Code, delRec.Body.String())
	}
	if rel := decodeBody[ReleaseResponse](t, delRec); !rel.Released || rel.ID != h.ID {
		t.Fatalf("unexpected release: %+v", rel)
	}

	if rec := doJSON(t, e, http.MethodDelete, "/v1/models/"+h.ID, ""); rec.Code != http.StatusNotFound {
		t.Fatalf("second release: got %d", rec.Code)
	}
	if rec := doJSON(t, e, http.MethodPost, "/v1/models/"+h.ID+"/generate", `{"prompt":"x"}`); rec.Code != http.StatusNotFound {
		t.Fatalf("generate after release: got %d", rec.Code)
	}
}

func TestGenerateMaxNewTokensOverride(t *testing.T) {
	t.Parallel()

	e := newTestEcho(t)
	h := loadBang(t, e, `{"model":"bang","context_size":64}`)
	rec := doJSON(t, e, http.MethodPost, "/v1/models/"+h.ID+"/generate", `{"prompt":"hello","max_new_tokens":2,"temperature":0.7}`)
	gen := decodeBody[GenerateResponse](t, rec)
	if gen.Text != "!!" {
		t.Fatalf("got %q", gen.Text)
	}

	rec = doJSON(t, e, http.MethodPost, "/v1/models/"+h.ID+"/generate", `{"prompt":"hello","max_new_tokens":0}`)
	gen = decodeBody[GenerateResponse](t, rec)
	if gen.Text != "" || gen.StopReason != "length" || gen.Usage.DecodeSteps != 0 {
		t.Fatalf("zero budget: %+v", gen)
	}
}

func TestGenerateStreamEmitsTokensThenDone(t *testing.T) {
	t.Parallel()

	e := newTestEcho(t)
	h := loadBang(t, e, `{"model":"bang","context_size":64}`)
	rec := doJSON(t, e, http.MethodPost, "/v1/models/"+h.ID+"/generate", `{"prompt":"hello world","max_new_tokens":3,"stream":true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("stream status: got %d body=%s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get(echo.HeaderContentType); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	var events []string
	var pieces []string
	var done doneEvent
	sc := bufio.NewScanner(strings.NewReader(rec.Body.String()))
	event := ""
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
			events = append(events, event)
		case strings.HasPrefix(line, "data: "):
			data := []byte(strings.TrimPrefix(line, "data: "))
			switch event {
			case "token":
				var tok tokenEvent
				if err := json.Unmarshal(data, &tok); err != nil {
					t.Fatalf("token event: %v", err)
				}
				pieces = append(pieces, tok.Piece)
			case "done":
				if err := json.Unmarshal(data, &done); err != nil {
					t.Fatalf("done event: %v", err)
				}
			}
		}
	}
	if strings.Join(events, ",") != "token,token,token,done" {
		t.Fatalf("events = %v", events)
	}
	if strings.Join(pieces, "") != "!!!" {
		t.Fatalf("pieces = %v", pieces)
	}
	if done.StopReason != "length" || done.Usage.CompletionTokens != 3 {
		t.Fatalf("done = %+v", done)
	}
}

func TestStreamErrorBeforeOutputIsJSON(t *testing.T) {
	t.Parallel()

	e := newTestEcho(t)
	h := loadBang(t, e, `{"model":"bang","context_size":4}`)
	rec := doJSON(t, e, http.MethodPost, "/v1/models/"+h.ID+"/generate", `{"prompt":"hello world hello","stream":true}`)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status: got %d body=%s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get(echo.HeaderContentType); !strings.HasPrefix(ct, echo.MIMEApplicationJSON) {
		t.Fatalf("content type = %q", ct)
	}
}

func TestErrorStatuses(t *testing.T) {
	t.Parallel()

	e := newTestEcho(t)
	small := loadBang(t, e, `{"model":"bang","context_size":4}`)

	cases := []struct {
		name   string
		method string
		path   string
		body   string
		status int
		code   string
	}{
		{name: "missing model", method: http.MethodPost, path: "/v1/models", body: `{"model":"nope"}`, status: http.StatusUnprocessableEntity, code: "load"},
		{name: "empty model", method: http.MethodPost, path: "/v1/models", body: `{}`, status: http.StatusBadRequest},
		{name: "bad json", method: http.MethodPost, path: "/v1/models", body: `{`, status: http.StatusBadRequest, code: "invalid_request"},
		{name: "unknown field", method: http.MethodPost, path: "/v1/models", body: `{"modle":"bang"}`, status: http.StatusBadRequest, code: "invalid_request"},
		{name: "oversized context", method: http.MethodPost, path: "/v1/models", body: `{"model":"bang","context_size":100000}`, status: http.StatusUnprocessableEntity, code: "load"},
		{name: "unknown handle", method: http.MethodPost, path: "/v1/models/nope/generate", body: `{"prompt":"x"}`, status: http.StatusNotFound},
		{name: "negative budget", method: http.MethodPost, path: "/v1/models/" + small.ID + "/generate", body: `{"prompt":"x","max_new_tokens":-1}`, status: http.StatusBadRequest, code: "invalid_request"},
		{name: "over capacity", method: http.MethodPost, path: "/v1/models/" + small.ID + "/generate", body: `{"prompt":"hello world hello"}`, status: http.StatusRequestEntityTooLarge, code: "capacity"},
		{name: "unknown get", method: http.MethodGet, path: "/v1/models/nope", status: http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doJSON(t, e, tc.method, tc.path, tc.body)
			if rec.Code != tc.status {
				t.Fatalf("status: got %d want %d body=%s", rec.Code, tc.status, rec.Body.String())
			}
			body := decodeBody[map[string]ResponseError](t, rec)
			if body["error"].Message == "" || body["error"].Code != tc.code {
				t.Fatalf("unexpected error body: %s", rec.Body.String())
			}
		})
	}
}

func TestHealthAndMetrics(t *testing.T) {
	t.Parallel()

	e := newTestEcho(t)
	rec := doJSON(t, e, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("health status: got %d", rec.Code)
	}
	if h := decodeBody[HealthResponse](t, rec); h.Status != "ok" || h.Version == "" {
		t.Fatalf("unexpected health: %+v", h)
	}

	rec = doJSON(t, e, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "lantern_handles_active") {
		t.Fatalf("metrics: %d %s", rec.Code, rec.Body.String())
	}
}
