package rpc

import (
	"context"
	"errors"
	"io"

	"google.golang.org/grpc"
)

// Client calls lantern.v1.Generator with the JSON codec.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) invoke(ctx context.Context, method string, in, out any) error {
	return c.cc.Invoke(ctx, method, in, out, grpc.CallContentSubtype(ContentSubtype))
}

func (c *Client) Load(ctx context.Context, in *LoadRequest) (*Handle, error) {
	out := new(Handle)
	if err := c.invoke(ctx, methodLoad, in, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Generate(ctx context.Context, in *GenerateRequest) (*GenerateResponse, error) {
	out := new(GenerateResponse)
	if err := c.invoke(ctx, methodGenerate, in, out); err != nil {
		return nil, err
	}
	return out, nil
}

// GenerateStream calls fn for every streamed piece and returns the final
// chunk.
func (c *Client) GenerateStream(ctx context.Context, in *GenerateRequest, fn func(piece string)) (*GenerateChunk, error) {
	cs, err := c.cc.NewStream(ctx, &serviceDesc.Streams[0], methodStream, grpc.CallContentSubtype(ContentSubtype))
	if err != nil {
		return nil, err
	}
	if err := cs.SendMsg(in); err != nil {
		return nil, err
	}
	if err := cs.CloseSend(); err != nil {
		return nil, err
	}
	for {
		chunk := new(GenerateChunk)
		err := cs.RecvMsg(chunk)
		if errors.Is(err, io.EOF) {
			return nil, io.ErrUnexpectedEOF
		}
		if err != nil {
			return nil, err
		}
		if chunk.Done {
			// drain so the stream is released
			_ = cs.RecvMsg(new(GenerateChunk))
			return chunk, nil
		}
		if fn != nil {
			fn(chunk.Piece)
		}
	}
}

func (c *Client) Release(ctx context.Context, id string) (*ReleaseResponse, error) {
	out := new(ReleaseResponse)
	if err := c.invoke(ctx, methodRelease, &ReleaseRequest{ID: id}, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) List(ctx context.Context) (*ListResponse, error) {
	out := new(ListResponse)
	if err := c.invoke(ctx, methodList, &ListRequest{}, out); err != nil {
		return nil, err
	}
	return out, nil
}
