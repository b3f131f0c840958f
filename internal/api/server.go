package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v5"

	"github.com/samcharles93/lantern/internal/engine"
	"github.com/samcharles93/lantern/internal/inference"
	"github.com/samcharles93/lantern/internal/logger"
	"github.com/samcharles93/lantern/internal/logits"
	"github.com/samcharles93/lantern/internal/metrics"
	"github.com/samcharles93/lantern/internal/version"
)

// Server exposes an engine registry over HTTP.
type Server struct {
	reg    *engine.Registry
	log    logger.Logger
	maxNew int
}

func NewServer(reg *engine.Registry, log logger.Logger, defaultMaxNewTokens int) *Server {
	if log == nil {
		log = logger.Discard()
	}
	if defaultMaxNewTokens <= 0 {
		defaultMaxNewTokens = engine.DefaultMaxNewTokens
	}
	return &Server{
		reg:    reg,
		log:    log.WithGroup("http"),
		maxNew: defaultMaxNewTokens,
	}
}

func (s *Server) Register(e *echo.Echo) {
	e.GET("/healthz", s.handleHealth)
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	e.POST("/v1/models", s.handleLoad)
	e.GET("/v1/models", s.handleList)
	e.GET("/v1/models/:id", s.handleGet)
	e.DELETE("/v1/models/:id", s.handleRelease)
	e.POST("/v1/models/:id/generate", s.handleGenerate)
}

func (s *Server) handleHealth(c *echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{
		Status:  "ok",
		Version: version.String(),
		Handles: len(s.reg.List()),
	})
}

func (s *Server) handleLoad(c *echo.Context) error {
	req, err := decodeJSON[LoadRequest](c.Request().Body)
	if err != nil {
		return writeEngineError(c, err)
	}
	if req.Model == "" {
		return writeError(c, http.StatusBadRequest, "invalid_request_error", "model is required", "model", "")
	}
	info, err := s.reg.Load(c.Request().Context(), engine.Params{
		ModelPath:   req.Model,
		Threads:     req.Threads,
		ContextSize: req.ContextSize,
		BatchSize:   req.BatchSize,
	})
	if err != nil {
		s.log.Warn("load failed", "model", req.Model, "error", err)
		return writeEngineError(c, err)
	}
	s.log.Info("model loaded", "id", info.ID, "model", info.ModelPath)
	return c.JSON(http.StatusCreated, handleFrom(info))
}

func (s *Server) handleList(c *echo.Context) error {
	infos := s.reg.List()
	out := ListResponse{
		Object:    "list",
		Data:      make([]HandleResponse, 0, len(infos)),
		Available: []string{},
	}
	for _, info := range infos {
		out.Data = append(out.Data, handleFrom(info))
	}
	available, err := s.reg.Available()
	if err != nil {
		s.log.Warn("model discovery failed", "dir", s.reg.ModelsDir(), "error", err)
	} else if available != nil {
		out.Available = available
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleGet(c *echo.Context) error {
	info, err := s.reg.Get(c.Param("id"))
	if err != nil {
		return writeEngineError(c, err)
	}
	return c.JSON(http.StatusOK, handleFrom(info))
}

func (s *Server) handleRelease(c *echo.Context) error {
	id := c.Param("id")
	if err := s.reg.Release(id); err != nil {
		return writeEngineError(c, err)
	}
	s.log.Info("model released", "id", id)
	return c.JSON(http.StatusOK, ReleaseResponse{ID: id, Object: "handle.released", Released: true})
}

func (s *Server) handleGenerate(c *echo.Context) error {
	body, err := decodeJSON[GenerateRequest](c.Request().Body)
	if err != nil {
		return writeEngineError(c, err)
	}
	req := &inference.Request{Prompt: body.Prompt, MaxNewTokens: s.maxNew}
	if body.MaxNewTokens != nil {
		req.MaxNewTokens = *body.MaxNewTokens
	}
	if body.Temperature != nil {
		req.Sampling = logits.Params{Temperature: *body.Temperature}
	}

	id := c.Param("id")
	genID := "gen-" + uuid.NewString()
	if body.Stream {
		return s.generateStream(c, id, genID, req)
	}

	res, err := s.reg.Generate(c.Request().Context(), id, req, nil)
	if err != nil {
		s.logFailure(id, err)
		return writeEngineError(c, err)
	}
	out := GenerateResponse{
		ID:         genID,
		Object:     "generation",
		Handle:     id,
		Text:       res.Text,
		StopReason: string(res.StopReason),
		Usage:      usageFrom(res.Stats),
	}
	if res.DecodeErr != nil {
		out.Error = res.DecodeErr.Error()
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) generateStream(c *echo.Context, id, genID string, req *inference.Request) error {
	w, err := NewSSEStreamWriter(c)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}

	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()
	res, err := s.reg.Generate(ctx, id, req, func(piece string) {
		if w.Token(piece) != nil {
			cancel()
		}
	})
	if w.Err() != nil {
		s.log.Debug("stream closed by client", "id", id, "error", w.Err())
		return nil
	}
	if err != nil {
		s.logFailure(id, err)
		if !w.Started() {
			return writeEngineError(c, err)
		}
		status, errType := statusFor(err)
		return w.Failed(status, ResponseError{Message: err.Error(), Type: errType, Code: errorCode(err)})
	}

	ev := doneEvent{ID: genID, StopReason: string(res.StopReason), Usage: usageFrom(res.Stats)}
	if res.DecodeErr != nil {
		ev.Error = res.DecodeErr.Error()
	}
	return w.Done(ev)
}

func (s *Server) logFailure(id string, err error) {
	if errors.Is(err, context.Canceled) {
		s.log.Debug("generation cancelled", "id", id)
		return
	}
	s.log.Warn("generation failed", "id", id, "kind", inference.KindName(err), "error", err)
}
