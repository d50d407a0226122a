package provider

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// GRPCProvider implements Provider for gRPC.
// Callers use Conn() with generated clients; the provider itself only knows
// the standard health service.
type GRPCProvider struct {
	*BaseProvider
	endpoint string
	conn     *grpc.ClientConn
	health   healthpb.HealthClient
}

// NewGRPCProvider creates a new gRPC provider. The connection is established lazily.
func NewGRPCProvider(name, endpoint string, opts ...grpc.DialOption) (*GRPCProvider, error) {
	// Parse endpoint to determine if TLS is needed
	target := endpoint
	if strings.HasPrefix(endpoint, "https://") || strings.HasSuffix(endpoint, ":443") {
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})))
		target = strings.TrimPrefix(target, "https://")
	} else if len(opts) == 0 {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
		target = strings.TrimPrefix(target, "http://")
	}

	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create grpc client for %s: %w", target, err)
	}

	return &GRPCProvider{
		BaseProvider: NewBaseProvider(name),
		endpoint:     endpoint,
		conn:         conn,
		health:       healthpb.NewHealthClient(conn),
	}, nil
}

// Conn returns the underlying gRPC connection.
func (p *GRPCProvider) Conn() *grpc.ClientConn {
	return p.conn
}

// Check calls grpc.health.v1.Health/Check for service ("" = whole server).
func (p *GRPCProvider) Check(ctx context.Context, service string) error {
	start := time.Now()
	resp, err := p.health.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		p.RecordFailure()
		return fmt.Errorf("%s: health check: %w", p.Name, err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		p.RecordFailure()
		return fmt.Errorf("%s: service %q is %s", p.Name, service, resp.GetStatus())
	}
	p.RecordSuccess(time.Since(start))
	return nil
}

// Close cleans up resources.
func (p *GRPCProvider) Close() error {
	return p.conn.Close()
}
