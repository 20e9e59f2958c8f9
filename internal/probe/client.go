// Package probe is a client for the gRPC health service exposed by the API.
package probe

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Client wraps a health connection.
type Client struct {
	conn   *grpc.ClientConn
	health healthpb.HealthClient
}

// Dial creates a client with insecure transport unless opts override it.
func Dial(target string, opts ...grpc.DialOption) (*Client, error) {
	if len(opts) == 0 {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn, health: healthpb.NewHealthClient(conn)}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// Check returns nil only when service reports SERVING. An empty service asks
// for the overall server status.
func (c *Client) Check(ctx context.Context, service string) error {
	resp, err := c.health.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return err
	}
	if st := resp.GetStatus(); st != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("service %q is %s", service, st)
	}
	return nil
}
