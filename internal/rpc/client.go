package rpc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

var (
	errConnectionShutdown       = errors.New("connection shutdown")
	errConnectionStateUnchanged = errors.New("connection state did not change")
)

// Client calls the RoomDirectory and health services.
type Client struct {
	conn *grpc.ClientConn
	addr string
}

// NewClient connects to addr and waits until the connection is ready or ctx
// ends. Extra dial options are appended to the defaults.
func NewClient(ctx context.Context, addr string, opts ...grpc.DialOption) (*Client, error) {
	kacp := keepalive.ClientParameters{
		Time:                2 * time.Minute,
		Timeout:             10 * time.Second,
		PermitWithoutStream: false,
	}
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
	}, opts...)

	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	if err := waitForReady(ctx, conn); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("server at %s not ready: %w", addr, err)
	}
	return &Client{conn: conn, addr: addr}, nil
}

func waitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Idle:
			conn.Connect()
		case connectivity.Shutdown:
			return errConnectionShutdown
		}

		if !conn.WaitForStateChange(ctx, state) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w from %s", errConnectionStateUnchanged, state)
		}
	}
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// GetRoom fetches one room.
func (c *Client) GetRoom(ctx context.Context, id string) (map[string]any, error) {
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, methodGetRoom, wrapperspb.String(id), out); err != nil {
		return nil, err
	}
	return out.AsMap(), nil
}

// ListRooms fetches every room.
func (c *Client) ListRooms(ctx context.Context) ([]any, error) {
	out := new(structpb.ListValue)
	if err := c.conn.Invoke(ctx, methodListRooms, &emptypb.Empty{}, out); err != nil {
		return nil, err
	}
	return out.AsSlice(), nil
}

// DashboardCounts fetches the aggregate tiles.
func (c *Client) DashboardCounts(ctx context.Context) (map[string]any, error) {
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, methodDashboardCounts, &emptypb.Empty{}, out); err != nil {
		return nil, err
	}
	return out.AsMap(), nil
}

// Health returns the serving status of service ("" for the whole server).
func (c *Client) Health(ctx context.Context, service string) (string, error) {
	resp, err := healthpb.NewHealthClient(c.conn).Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return "", fmt.Errorf("health check failed: %w", err)
	}
	return resp.GetStatus().String(), nil
}
