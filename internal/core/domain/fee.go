package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// RatesUsed records the conversion applied to a fee quote.
type RatesUsed struct {
	GasAsset        string          `json:"gas_asset"`
	SettlementAsset string          `json:"settlement_asset"`
	Rate            decimal.Decimal `json:"rate"`
}

// FeeEstimate is a sponsor fee quote. It must be refreshed after ValidUntil.
type FeeEstimate struct {
	GasUnits             uint64          `json:"gas_units"`
	FeeInGasAsset        decimal.Decimal `json:"fee_in_gas_asset"`
	FeeInSettlementAsset decimal.Decimal `json:"fee_in_settlement_asset"`
	RatesUsed            RatesUsed       `json:"rates_used"`
	Markup               decimal.Decimal `json:"markup"`
	EstimatedAt          time.Time       `json:"estimated_at"`
	ValidUntil           time.Time       `json:"valid_until"`
}

// Expired reports whether the quote is stale at now.
func (f FeeEstimate) Expired(now time.Time) bool {
	return now.After(f.ValidUntil)
}
