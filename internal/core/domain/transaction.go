package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vietddude/conductor/internal/core/apperror"
)

// Kind identifies the operation a Transaction tracks.
type Kind string

const (
	KindDeposit         Kind = "deposit"
	KindWithdrawal      Kind = "withdrawal"
	KindSwap            Kind = "swap"
	KindAddLiquidity    Kind = "add-liquidity"
	KindRemoveLiquidity Kind = "remove-liquidity"
)

// IsBridge reports whether the kind moves value across chains.
func (k Kind) IsBridge() bool {
	return k == KindDeposit || k == KindWithdrawal
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindDeposit, KindWithdrawal, KindSwap, KindAddLiquidity, KindRemoveLiquidity:
		return true
	}
	return false
}

// Step is a progress marker finer than Status.
type Step string

const (
	StepApproval     Step = "approval"
	StepBurn         Step = "burn"
	StepConfirmation Step = "confirmation"
	StepAttestation  Step = "attestation"
	StepMint         Step = "mint"
	StepExecution    Step = "execution"
	StepDone         Step = "done"
)

// Participants are the addresses on either side of an operation.
type Participants struct {
	Source      string `json:"source"`
	Destination string `json:"destination,omitempty"`
}

// Linkage ties the source-chain burn to its attestation.
type Linkage struct {
	MessageID   string `json:"message_id"`
	Attestation string `json:"attestation,omitempty"`
}

// Transaction is the lifecycle envelope shared by every kind.
// Kind-specific fields live in Payload.
type Transaction struct {
	ID             string                 `json:"id"`
	Kind           Kind                   `json:"kind"`
	Status         Status                 `json:"status"`
	Step           Step                   `json:"current_step"`
	SourceRef      string                 `json:"source_ref"`
	DestinationRef string                 `json:"destination_ref,omitempty"`
	Linkage        *Linkage               `json:"linkage,omitempty"`
	Participants   Participants           `json:"participants"`
	Payload        Payload                `json:"-"`
	CreatedAt      time.Time              `json:"created_at"`
	UpdatedAt      time.Time              `json:"updated_at"`
	CompletedAt    *time.Time             `json:"completed_at,omitempty"`
	LastError      *apperror.UnifiedError `json:"last_error,omitempty"`
	RetryCount     int                    `json:"retry_count"`
	IsSponsored    bool                   `json:"is_sponsored"`
	SponsorFee     *decimal.Decimal       `json:"sponsor_fee,omitempty"`
	Version        int64                  `json:"-"`
}

// Clone returns a deep copy safe to mutate.
func (t *Transaction) Clone() *Transaction {
	c := *t
	if t.Linkage != nil {
		l := *t.Linkage
		c.Linkage = &l
	}
	if t.CompletedAt != nil {
		ts := *t.CompletedAt
		c.CompletedAt = &ts
	}
	if t.SponsorFee != nil {
		f := *t.SponsorFee
		c.SponsorFee = &f
	}
	return &c
}

// Bridge returns the bridge payload when the transaction is a deposit or withdrawal.
func (t *Transaction) Bridge() (BridgePayload, bool) {
	p, ok := t.Payload.(BridgePayload)
	return p, ok
}

// SourceChain returns the chain that SourceRef lives on.
func (t *Transaction) SourceChain() ChainID {
	if t.Payload == nil {
		return ""
	}
	return t.Payload.Chain()
}

// MarshalJSON inlines the payload under "payload".
func (t Transaction) MarshalJSON() ([]byte, error) {
	type envelope Transaction
	var payload json.RawMessage
	if t.Payload != nil {
		raw, err := json.Marshal(t.Payload)
		if err != nil {
			return nil, err
		}
		payload = raw
	}
	return json.Marshal(struct {
		envelope
		Payload json.RawMessage `json:"payload,omitempty"`
	}{envelope(t), payload})
}

// Payload is the kind-specific part of a Transaction. The set of
// implementations is closed: BridgePayload, SwapPayload and LiquidityPayload.
type Payload interface {
	// Kinds lists the transaction kinds this payload may back.
	Kinds() []Kind
	// Chain is the chain the source reference lives on.
	Chain() ChainID
	// Validate checks the required fields.
	Validate() error

	sealed()
}

// BridgePayload backs deposits and withdrawals.
type BridgePayload struct {
	SourceChain      ChainID         `json:"source_chain"`
	DestinationChain ChainID         `json:"destination_chain"`
	Asset            string          `json:"asset"`
	Amount           decimal.Decimal `json:"amount"`
}

func (BridgePayload) Kinds() []Kind    { return []Kind{KindDeposit, KindWithdrawal} }
func (p BridgePayload) Chain() ChainID { return p.SourceChain }
func (BridgePayload) sealed()          {}

func (p BridgePayload) Validate() error {
	switch {
	case p.SourceChain == "" || p.DestinationChain == "":
		return fmt.Errorf("source and destination chain are required")
	case p.SourceChain == p.DestinationChain:
		return fmt.Errorf("source and destination chain must differ")
	case p.Asset == "":
		return fmt.Errorf("asset is required")
	case !p.Amount.IsPositive():
		return fmt.Errorf("amount must be positive")
	}
	return nil
}

// SwapPayload backs AMM swaps.
type SwapPayload struct {
	Network      ChainID         `json:"network"`
	InputAsset   string          `json:"input_asset"`
	OutputAsset  string          `json:"output_asset"`
	AmountIn     decimal.Decimal `json:"amount_in"`
	MinAmountOut decimal.Decimal `json:"min_amount_out"`
}

func (SwapPayload) Kinds() []Kind    { return []Kind{KindSwap} }
func (p SwapPayload) Chain() ChainID { return p.Network }
func (SwapPayload) sealed()          {}

func (p SwapPayload) Validate() error {
	switch {
	case p.Network == "":
		return fmt.Errorf("network is required")
	case p.InputAsset == "" || p.OutputAsset == "":
		return fmt.Errorf("input and output asset are required")
	case p.InputAsset == p.OutputAsset:
		return fmt.Errorf("input and output asset must differ")
	case !p.AmountIn.IsPositive():
		return fmt.Errorf("amount in must be positive")
	case p.MinAmountOut.IsNegative():
		return fmt.Errorf("min amount out must not be negative")
	}
	return nil
}

// LiquidityPayload backs add-liquidity and remove-liquidity.
type LiquidityPayload struct {
	Network ChainID         `json:"network"`
	AssetA  string          `json:"asset_a"`
	AssetB  string          `json:"asset_b"`
	AmountA decimal.Decimal `json:"amount_a"`
	AmountB decimal.Decimal `json:"amount_b"`
	Shares  decimal.Decimal `json:"shares"`
}

func (LiquidityPayload) Kinds() []Kind    { return []Kind{KindAddLiquidity, KindRemoveLiquidity} }
func (p LiquidityPayload) Chain() ChainID { return p.Network }
func (LiquidityPayload) sealed()          {}

func (p LiquidityPayload) Validate() error {
	switch {
	case p.Network == "":
		return fmt.Errorf("network is required")
	case p.AssetA == "" || p.AssetB == "":
		return fmt.Errorf("both pool assets are required")
	case p.AssetA == p.AssetB:
		return fmt.Errorf("pool assets must differ")
	case p.AmountA.IsNegative() || p.AmountB.IsNegative() || p.Shares.IsNegative():
		return fmt.Errorf("amounts must not be negative")
	case p.AmountA.IsZero() && p.AmountB.IsZero() && p.Shares.IsZero():
		return fmt.Errorf("amount must be positive")
	}
	return nil
}

// PoolID returns the pool the liquidity operation targets.
func (p LiquidityPayload) PoolID() PoolID {
	return PoolID{AssetA: p.AssetA, AssetB: p.AssetB}
}

// Supports reports whether the payload variant may back kind.
func Supports(p Payload, kind Kind) bool {
	for _, k := range p.Kinds() {
		if k == kind {
			return true
		}
	}
	return false
}

// UnmarshalPayload decodes the variant that backs kind.
func UnmarshalPayload(kind Kind, raw []byte) (Payload, error) {
	switch kind {
	case KindDeposit, KindWithdrawal:
		var p BridgePayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode bridge payload: %w", err)
		}
		return p, nil
	case KindSwap:
		var p SwapPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode swap payload: %w", err)
		}
		return p, nil
	case KindAddLiquidity, KindRemoveLiquidity:
		var p LiquidityPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode liquidity payload: %w", err)
		}
		return p, nil
	}
	return nil, fmt.Errorf("unknown transaction kind %q", kind)
}
