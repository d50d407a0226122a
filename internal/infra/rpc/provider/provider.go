// Package provider implements the transports used to reach external services.
//
// This package contains:
//   - Provider interface: core abstraction for a remote endpoint
//   - HTTPProvider: JSON-RPC and REST over HTTP, rate limited
//   - GRPCProvider: a managed gRPC client connection
//   - ProviderMonitor: latency and throttle tracking
package provider

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Provider defines the core interface for any remote endpoint (HTTP or gRPC).
type Provider interface {
	// GetName returns provider identifier (e.g., "stacks-api", "attestation")
	GetName() string

	// GetHealth returns current health metrics
	GetHealth() HealthStatus

	// IsAvailable checks if the provider is healthy enough to use
	IsAvailable() bool

	// Close cleans up resources
	Close() error
}

// HealthStatus represents the health state of a provider.
type HealthStatus struct {
	Available     bool
	Latency       time.Duration
	ErrorRate     float64
	LastSuccessAt time.Time
	LastFailureAt time.Time
	MonitorStats  *MonitorStats `json:"monitor_stats,omitempty"`
}

// StatusError is returned when the remote answers with a non-2xx status.
type StatusError struct {
	Provider string
	Code     int
	Body     string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: http %d %s", e.Provider, e.Code, http.StatusText(e.Code))
	}
	return fmt.Sprintf("%s: http %d: %s", e.Provider, e.Code, e.Body)
}

// StatusCode returns the HTTP status the remote answered with.
func (e *StatusError) StatusCode() int {
	return e.Code
}

// NotFound reports whether the remote answered 404.
func (e *StatusError) NotFound() bool {
	return e.Code == http.StatusNotFound
}

// RPCError is a JSON-RPC error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Caller is satisfied by HTTPProvider and lets adapters be tested with fakes.
type Caller interface {
	Call(ctx context.Context, method string, params []any, out any) error
}

// RESTClient is satisfied by HTTPProvider.
type RESTClient interface {
	Get(ctx context.Context, path string, out any) error
	Post(ctx context.Context, path string, body any, out any) error
}
