// Package pools reads pool listings, reserves and analytics from the pool
// discovery service.
package pools

import (
	"context"
	"fmt"
	"net/url"

	"github.com/vietddude/conductor/internal/core/domain"
	"github.com/vietddude/conductor/internal/infra/rpc/provider"
)

// Client talks to the discovery REST API.
type Client struct {
	rest provider.RESTClient
}

func NewClient(rest provider.RESTClient) *Client {
	return &Client{rest: rest}
}

func poolPath(id string, suffix string) string {
	return "/pools/" + url.PathEscape(id) + suffix
}

// GetAllPools lists every known pool.
func (c *Client) GetAllPools(ctx context.Context) ([]domain.Pool, error) {
	var out []domain.Pool
	if err := c.rest.Get(ctx, "/pools", &out); err != nil {
		return nil, fmt.Errorf("failed to list pools: %w", err)
	}
	return out, nil
}

// GetPoolMetadata returns nil without error when the pool is unknown.
func (c *Client) GetPoolMetadata(ctx context.Context, id string) (*domain.PoolMetadata, error) {
	var out domain.PoolMetadata
	err := c.rest.Get(ctx, poolPath(id, ""), &out)
	if provider.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pool metadata: %w", err)
	}
	return &out, nil
}

func (c *Client) GetPoolReserves(ctx context.Context, id string) (*domain.PoolReserves, error) {
	var out domain.PoolReserves
	if err := c.rest.Get(ctx, poolPath(id, "/reserves"), &out); err != nil {
		return nil, fmt.Errorf("failed to get pool reserves: %w", err)
	}
	return &out, nil
}

func (c *Client) GetPoolAnalytics(ctx context.Context, id string) (*domain.PoolAnalytics, error) {
	var out domain.PoolAnalytics
	if err := c.rest.Get(ctx, poolPath(id, "/analytics"), &out); err != nil {
		return nil, fmt.Errorf("failed to get pool analytics: %w", err)
	}
	return &out, nil
}

// Ping checks the service is reachable.
func (c *Client) Ping(ctx context.Context) error {
	return c.rest.Get(ctx, "/health", nil)
}
