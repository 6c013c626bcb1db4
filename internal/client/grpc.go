package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/alfredjeanlab/gpuctl/internal/model"
	"github.com/alfredjeanlab/gpuctl/internal/rpc"
)

// GRPCClient implements Watcher using the gRPC watch service.
type GRPCClient struct {
	conn  *grpc.ClientConn
	token string
}

var _ Watcher = (*GRPCClient)(nil)

// NewGRPCClient connects to the given gRPC address and returns a client.
func NewGRPCClient(addr, token string, opts ...grpc.DialOption) (*GRPCClient, error) {
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("grpc dial: %w", err)
	}
	return &GRPCClient{conn: conn, token: token}, nil
}

func (c *GRPCClient) Close() error {
	return c.conn.Close()
}

func (c *GRPCClient) outgoing(ctx context.Context) context.Context {
	if c.token == "" {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+c.token)
}

// Health queries the standard gRPC health service.
func (c *GRPCClient) Health(ctx context.Context) (string, error) {
	resp, err := healthpb.NewHealthClient(c.conn).Check(ctx, &healthpb.HealthCheckRequest{
		Service: rpc.ServiceName,
	})
	if err != nil {
		return "", err
	}
	return strings.ToLower(resp.GetStatus().String()), nil
}

// Watch opens the Watch RPC and calls fn for every message until the server
// ends the stream, ctx is cancelled, or fn returns an error.
func (c *GRPCClient) Watch(ctx context.Context, kind model.Kind, opts WatchOptions, fn func(WatchEvent) error) error {
	req, err := rpc.WatchRequest{
		Kind:      string(kind),
		Fields:    opts.Fields,
		Search:    opts.Search,
		Filter:    opts.Filter,
		Heartbeat: opts.Heartbeat,
	}.Encode()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := c.conn.NewStream(c.outgoing(ctx), &rpc.WatchStreamDesc, rpc.WatchMethod)
	if err != nil {
		return fmt.Errorf("opening watch: %w", err)
	}
	if err := stream.SendMsg(req); err != nil {
		return fmt.Errorf("sending watch request: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		return fmt.Errorf("closing watch send: %w", err)
	}

	for {
		msg := new(structpb.Struct)
		if err := stream.RecvMsg(msg); err != nil {
			if errors.Is(err, io.EOF) || status.Code(err) == codes.Canceled {
				return nil
			}
			return err
		}
		ev, err := toWatchEvent(kind, msg)
		if err != nil {
			return err
		}
		if err := fn(ev); err != nil {
			if errors.Is(err, ErrStopWatch) {
				return nil
			}
			return err
		}
	}
}

func toWatchEvent(kind model.Kind, msg *structpb.Struct) (WatchEvent, error) {
	m, err := rpc.DecodeEvent(msg)
	if err != nil {
		return WatchEvent{}, err
	}
	ev := WatchEvent{Type: m.Type}
	if len(m.Data) > 0 {
		rec, err := model.Decode(kind, m.Data)
		if err != nil {
			return WatchEvent{}, err
		}
		ev.Data = rec
	}
	return ev, nil
}
