package control

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client calls the Control service and returns responses as plain maps.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client { return &Client{cc: cc} }

// Dial opens an insecure connection to a control server.
func Dial(addr string, opts ...grpc.DialOption) (*grpc.ClientConn, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	return grpc.NewClient(addr, opts...)
}

func (c *Client) invoke(ctx context.Context, name string, in map[string]any) (map[string]any, error) {
	req, err := structpb.NewStruct(in)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+name, req, out); err != nil {
		return nil, err
	}
	return out.AsMap(), nil
}

func (c *Client) Start(ctx context.Context, sessionID string) (map[string]any, error) {
	return c.invoke(ctx, "Start", map[string]any{"session_id": sessionID})
}

func (c *Client) DeliverTurn(ctx context.Context, sessionID, text string) (map[string]any, error) {
	return c.invoke(ctx, "DeliverTurn", map[string]any{"session_id": sessionID, "text": text})
}

func (c *Client) Terminate(ctx context.Context, sessionID string) (map[string]any, error) {
	return c.invoke(ctx, "Terminate", map[string]any{"session_id": sessionID})
}

func (c *Client) State(ctx context.Context, sessionID string) (map[string]any, error) {
	return c.invoke(ctx, "State", map[string]any{"session_id": sessionID})
}
