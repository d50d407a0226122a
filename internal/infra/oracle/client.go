// Package oracle reads exchange rates from a CoinGecko-compatible price API.
package oracle

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/vietddude/conductor/internal/infra/rpc/provider"
)

// Client resolves asset symbols to price ids and queries /simple/price.
type Client struct {
	rest provider.RESTClient
	ids  map[string]string
}

// NewClient creates a client. ids maps asset symbols (e.g. "STX") to price
// ids (e.g. "blockstack"); unmapped symbols are sent lower-cased.
func NewClient(rest provider.RESTClient, ids map[string]string) *Client {
	norm := make(map[string]string, len(ids))
	for k, v := range ids {
		norm[strings.ToUpper(k)] = v
	}
	return &Client{rest: rest, ids: norm}
}

func (c *Client) priceID(symbol string) string {
	if id, ok := c.ids[strings.ToUpper(symbol)]; ok {
		return id
	}
	return strings.ToLower(symbol)
}

// GetRate returns how many units of quote one unit of base is worth.
func (c *Client) GetRate(ctx context.Context, base, quote string) (decimal.Decimal, error) {
	if strings.EqualFold(base, quote) {
		return decimal.NewFromInt(1), nil
	}
	baseID, quoteID := c.priceID(base), c.priceID(quote)

	// Both legs are priced in USD.
	q := url.Values{}
	q.Set("ids", baseID+","+quoteID)
	q.Set("vs_currencies", "usd")

	var resp map[string]map[string]decimal.Decimal
	if err := c.rest.Get(ctx, "/simple/price?"+q.Encode(), &resp); err != nil {
		return decimal.Zero, fmt.Errorf("failed to fetch rate %s/%s: %w", base, quote, err)
	}

	basePrice, ok := resp[baseID]["usd"]
	if !ok || !basePrice.IsPositive() {
		return decimal.Zero, fmt.Errorf("rate unavailable for %s", base)
	}
	quotePrice, ok := resp[quoteID]["usd"]
	if !ok || !quotePrice.IsPositive() {
		return decimal.Zero, fmt.Errorf("rate unavailable for %s", quote)
	}
	return basePrice.DivRound(quotePrice, 18), nil
}

// Ping checks the service is reachable.
func (c *Client) Ping(ctx context.Context) error {
	return c.rest.Get(ctx, "/ping", nil)
}
