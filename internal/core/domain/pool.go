package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PoolDelimiter joins the two asset identifiers of a pool id.
const PoolDelimiter = "-"

// PoolID identifies an AMM pool by its two assets, e.g. "USDCx-STX".
type PoolID struct {
	AssetA string
	AssetB string
}

// ParsePoolID parses "<assetA>-<assetB>".
func ParsePoolID(s string) (PoolID, error) {
	parts := strings.Split(s, PoolDelimiter)
	if len(parts) != 2 {
		return PoolID{}, fmt.Errorf("invalid pool id %q: expected <assetA>%s<assetB>", s, PoolDelimiter)
	}
	a, b := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
	if a == "" || b == "" || a != parts[0] || b != parts[1] {
		return PoolID{}, fmt.Errorf("invalid pool id %q: empty or padded asset", s)
	}
	if a == b {
		return PoolID{}, fmt.Errorf("invalid pool id %q: assets must differ", s)
	}
	return PoolID{AssetA: a, AssetB: b}, nil
}

func (p PoolID) String() string {
	return p.AssetA + PoolDelimiter + p.AssetB
}

// Matches reports whether the pool pairs a and b, in either order.
func (p PoolID) Matches(a, b string) bool {
	return (p.AssetA == a && p.AssetB == b) || (p.AssetA == b && p.AssetB == a)
}

// Pool is a pool listing entry from the discovery service.
type Pool struct {
	ID     string `json:"id"`
	AssetA string `json:"asset_a"`
	AssetB string `json:"asset_b"`
}

// PoolReserves is the on-chain reserve state of a pool.
type PoolReserves struct {
	PoolID    string          `json:"pool_id"`
	ReserveA  decimal.Decimal `json:"reserve_a"`
	ReserveB  decimal.Decimal `json:"reserve_b"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// IsZero reports whether both reserves are empty.
func (r PoolReserves) IsZero() bool {
	return r.ReserveA.IsZero() && r.ReserveB.IsZero()
}

// PoolMetadata is descriptive data owned by the discovery service.
type PoolMetadata struct {
	PoolID   string `json:"pool_id"`
	Name     string `json:"name"`
	AssetA   string `json:"asset_a"`
	AssetB   string `json:"asset_b"`
	FeeBps   int    `json:"fee_bps"`
	Contract string `json:"contract"`
}

// PoolAnalytics is the analytics view of a pool.
type PoolAnalytics struct {
	PoolID    string          `json:"pool_id"`
	TVL       decimal.Decimal `json:"tvl"`
	Volume24h decimal.Decimal `json:"volume_24h"`
	APR       decimal.Decimal `json:"apr"`
}

// PoolConsistencySnapshot is the result of cross-checking a pool's views.
type PoolConsistencySnapshot struct {
	PoolID     string   `json:"pool_id"`
	Issues     []string `json:"issues"`
	Consistent bool     `json:"consistent"`
}
