// Package rpc exposes an engine registry over gRPC. Messages are plain Go
// structs carried by a JSON codec, so the service is declared by hand rather
// than generated from protobuf.
package rpc

import (
	"context"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/samcharles93/lantern/internal/engine"
	"github.com/samcharles93/lantern/internal/inference"
)

const ServiceName = "lantern.v1.Generator"

const (
	methodLoad     = "/" + ServiceName + "/Load"
	methodGenerate = "/" + ServiceName + "/Generate"
	methodStream   = "/" + ServiceName + "/GenerateStream"
	methodRelease  = "/" + ServiceName + "/Release"
	methodList     = "/" + ServiceName + "/List"
)

// GeneratorServer is the server side of lantern.v1.Generator.
type GeneratorServer interface {
	Load(context.Context, *LoadRequest) (*Handle, error)
	Generate(context.Context, *GenerateRequest) (*GenerateResponse, error)
	GenerateStream(*GenerateRequest, ChunkSender) error
	Release(context.Context, *ReleaseRequest) (*ReleaseResponse, error)
	List(context.Context, *ListRequest) (*ListResponse, error)
}

// ChunkSender is the server end of a GenerateStream call.
type ChunkSender interface {
	Send(*GenerateChunk) error
	Context() context.Context
}

type chunkSender struct {
	grpc.ServerStream
}

func (s chunkSender) Send(c *GenerateChunk) error { return s.ServerStream.SendMsg(c) }

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*GeneratorServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Load", Handler: unary(methodLoad, GeneratorServer.Load)},
		{MethodName: "Generate", Handler: unary(methodGenerate, GeneratorServer.Generate)},
		{MethodName: "Release", Handler: unary(methodRelease, GeneratorServer.Release)},
		{MethodName: "List", Handler: unary(methodList, GeneratorServer.List)},
	},
	Streams: []grpc.StreamDesc{{
		StreamName:    "GenerateStream",
		Handler:       generateStreamHandler,
		ServerStreams: true,
	}},
	Metadata: "lantern/v1/generator",
}

func unary[Req, Resp any](method string, call func(GeneratorServer, context.Context, *Req) (*Resp, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(GeneratorServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(GeneratorServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func generateStreamHandler(srv any, stream grpc.ServerStream) error {
	in := new(GenerateRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(GeneratorServer).GenerateStream(in, chunkSender{stream})
}

// Register adds the generator service and a health service reporting it as
// serving. The returned health server lets callers flip the status on
// shutdown.
func Register(s *grpc.Server, srv GeneratorServer) *health.Server {
	s.RegisterService(&serviceDesc, srv)
	hs := health.NewServer()
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(s, hs)
	return hs
}

// toStatus maps the error taxonomy onto gRPC codes.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	code := codes.Internal
	switch {
	case errors.Is(err, engine.ErrUnknownHandle):
		code = codes.NotFound
	case errors.Is(err, inference.ErrInvalidRequest), errors.Is(err, inference.ErrTokenization):
		code = codes.InvalidArgument
	case errors.Is(err, inference.ErrCapacityExceeded):
		code = codes.OutOfRange
	case errors.Is(err, inference.ErrLoadFailure):
		code = codes.FailedPrecondition
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	}
	return status.Error(code, err.Error())
}
