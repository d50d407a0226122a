// Package attestation fetches burn attestations from the attestation service.
package attestation

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/vietddude/conductor/internal/infra/rpc/provider"
)

// ErrPending is returned while the attestation is not yet available.
var ErrPending = errors.New("attestation pending")

const statusComplete = "complete"

// Client talks to GET /v1/attestations/{messageHash}.
type Client struct {
	rest provider.RESTClient
}

func NewClient(rest provider.RESTClient) *Client {
	return &Client{rest: rest}
}

type response struct {
	Attestation string `json:"attestation"`
	Status      string `json:"status"`
}

// Fetch returns the attestation for messageID, or ErrPending.
func (c *Client) Fetch(ctx context.Context, messageID string) (string, error) {
	if messageID == "" {
		return "", fmt.Errorf("invalid attestation request: message id required")
	}
	var resp response
	err := c.rest.Get(ctx, "/v1/attestations/"+url.PathEscape(messageID), &resp)
	if provider.IsNotFound(err) {
		return "", ErrPending
	}
	if err != nil {
		return "", fmt.Errorf("failed to fetch attestation: %w", err)
	}
	if resp.Status != statusComplete || resp.Attestation == "" || resp.Attestation == "PENDING" {
		return "", ErrPending
	}
	return resp.Attestation, nil
}

// Lookup is Fetch with the pending state reported as ready == false.
func (c *Client) Lookup(ctx context.Context, messageID string) (string, bool, error) {
	att, err := c.Fetch(ctx, messageID)
	if errors.Is(err, ErrPending) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return att, true, nil
}

// Ping checks the service is reachable.
func (c *Client) Ping(ctx context.Context) error {
	err := c.rest.Get(ctx, "/health", nil)
	if err != nil && !provider.IsNotFound(err) {
		return err
	}
	return nil
}
