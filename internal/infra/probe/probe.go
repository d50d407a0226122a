// Package probe checks whether external services answer.
package probe

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/vietddude/conductor/internal/infra/rpc/provider"
)

// Func adapts a plain function to a named probe.
type Func struct {
	ProbeName string
	Fn        func(ctx context.Context) error
}

func (f Func) Name() string                    { return f.ProbeName }
func (f Func) Check(ctx context.Context) error { return f.Fn(ctx) }

// HTTP probes a URL and expects a 2xx answer.
type HTTP struct {
	name   string
	url    string
	client *http.Client
}

func NewHTTP(name, url string, timeout time.Duration) *HTTP {
	return &HTTP{name: name, url: url, client: &http.Client{Timeout: timeout}}
}

func (p *HTTP) Name() string { return p.name }

func (p *HTTP) Check(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return fmt.Errorf("%s: create request: %w", p.name, err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", p.name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%s: http %d", p.name, resp.StatusCode)
	}
	return nil
}

// GRPC probes the standard grpc.health.v1 service.
type GRPC struct {
	name     string
	service  string
	provider *provider.GRPCProvider
}

func NewGRPC(name, endpoint, service string) (*GRPC, error) {
	p, err := provider.NewGRPCProvider(name, endpoint)
	if err != nil {
		return nil, err
	}
	return &GRPC{name: name, service: service, provider: p}, nil
}

func (p *GRPC) Name() string { return p.name }

func (p *GRPC) Check(ctx context.Context) error {
	return p.provider.Check(ctx, p.service)
}

func (p *GRPC) Close() error {
	return p.provider.Close()
}
