package rpc

import (
	"context"
	"fmt"

	"github.com/samcharles93/lantern/internal/engine"
	"github.com/samcharles93/lantern/internal/inference"
	"github.com/samcharles93/lantern/internal/logger"
	"github.com/samcharles93/lantern/internal/logits"
)

// Server implements GeneratorServer on top of an engine registry.
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
	return &Server{reg: reg, log: log.WithGroup("grpc"), maxNew: defaultMaxNewTokens}
}

func (s *Server) Load(ctx context.Context, in *LoadRequest) (*Handle, error) {
	info, err := s.reg.Load(ctx, engine.Params{
		ModelPath:   in.Model,
		Threads:     in.Threads,
		ContextSize: in.ContextSize,
		BatchSize:   in.BatchSize,
	})
	if err != nil {
		s.log.Warn("load failed", "model", in.Model, "error", err)
		return nil, toStatus(err)
	}
	h := handleFrom(info)
	return &h, nil
}

func (s *Server) Generate(ctx context.Context, in *GenerateRequest) (*GenerateResponse, error) {
	req, err := s.request(in)
	if err != nil {
		return nil, toStatus(err)
	}
	res, err := s.reg.Generate(ctx, in.ID, req, nil)
	if err != nil {
		return nil, toStatus(err)
	}
	return responseFrom(res), nil
}

func (s *Server) GenerateStream(in *GenerateRequest, out ChunkSender) error {
	req, err := s.request(in)
	if err != nil {
		return toStatus(err)
	}

	ctx, cancel := context.WithCancel(out.Context())
	defer cancel()
	var sendErr error
	res, err := s.reg.Generate(ctx, in.ID, req, func(piece string) {
		if sendErr != nil {
			return
		}
		if sendErr = out.Send(&GenerateChunk{Piece: piece}); sendErr != nil {
			cancel()
		}
	})
	if sendErr != nil {
		return sendErr
	}
	if err != nil {
		return toStatus(err)
	}
	return out.Send(doneChunk(res))
}

func (s *Server) Release(_ context.Context, in *ReleaseRequest) (*ReleaseResponse, error) {
	if err := s.reg.Release(in.ID); err != nil {
		return nil, toStatus(err)
	}
	return &ReleaseResponse{ID: in.ID, Released: true}, nil
}

func (s *Server) List(context.Context, *ListRequest) (*ListResponse, error) {
	infos := s.reg.List()
	out := &ListResponse{Handles: make([]Handle, 0, len(infos))}
	for _, info := range infos {
		out.Handles = append(out.Handles, handleFrom(info))
	}
	return out, nil
}

func (s *Server) request(in *GenerateRequest) (*inference.Request, error) {
	if in.ID == "" {
		return nil, fmt.Errorf("%w: id is required", inference.ErrInvalidRequest)
	}
	req := &inference.Request{Prompt: in.Prompt, MaxNewTokens: s.maxNew}
	if in.MaxNewTokens != nil {
		req.MaxNewTokens = *in.MaxNewTokens
	}
	if in.Temperature != nil {
		req.Sampling = logits.Params{Temperature: *in.Temperature}
	}
	return req, nil
}

func handleFrom(info engine.Info) Handle {
	return Handle{
		ID:          info.ID,
		Model:       info.ModelPath,
		Backend:     info.Backend,
		Threads:     info.Params.Threads,
		ContextSize: info.Params.ContextSize,
		BatchSize:   info.Params.BatchSize,
	}
}

var _ GeneratorServer = (*Server)(nil)
