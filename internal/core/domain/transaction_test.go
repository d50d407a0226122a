package domain

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
)

func TestSupports(t *testing.T) {
	bridge := BridgePayload{}
	if !Supports(bridge, KindDeposit) || !Supports(bridge, KindWithdrawal) {
		t.Error("bridge payload should back deposits and withdrawals")
	}
	if Supports(bridge, KindSwap) {
		t.Error("bridge payload should not back swaps")
	}
	if !Supports(LiquidityPayload{}, KindRemoveLiquidity) {
		t.Error("liquidity payload should back remove-liquidity")
	}
}

func TestPayloadValidate(t *testing.T) {
	ok := BridgePayload{
		SourceChain:      ChainIDEthereum,
		DestinationChain: ChainIDStacks,
		Asset:            "USDC",
		Amount:           decimal.NewFromInt(1_000_000),
	}
	if err := ok.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	zero := ok
	zero.Amount = decimal.Zero
	if err := zero.Validate(); err == nil {
		t.Error("expected zero amount to be rejected")
	}

	swap := SwapPayload{Network: ChainIDStacks, InputAsset: "STX", OutputAsset: "STX", AmountIn: decimal.NewFromInt(1)}
	if err := swap.Validate(); err == nil {
		t.Error("expected identical swap assets to be rejected")
	}
}

func TestUnmarshalPayload_UsesKind(t *testing.T) {
	raw := []byte(`{"network":"stacks","asset_a":"USDCx","asset_b":"STX","amount_a":"10","amount_b":"5","shares":"0"}`)
	p, err := UnmarshalPayload(KindAddLiquidity, raw)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	lp, ok := p.(LiquidityPayload)
	if !ok {
		t.Fatalf("expected LiquidityPayload, got %T", p)
	}
	if lp.PoolID().String() != "USDCx-STX" {
		t.Errorf("unexpected pool id %s", lp.PoolID())
	}

	if _, err := UnmarshalPayload(Kind("bogus"), raw); err == nil {
		t.Error("expected unknown kind to fail")
	}
}

func TestTransaction_MarshalIncludesPayload(t *testing.T) {
	tx := Transaction{
		ID:      "tx-1",
		Kind:    KindSwap,
		Status:  StatusPending,
		Payload: SwapPayload{Network: ChainIDStacks, InputAsset: "STX", OutputAsset: "USDCx", AmountIn: decimal.NewFromInt(3)},
	}
	data, err := json.Marshal(tx)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	payload, ok := out["payload"].(map[string]any)
	if !ok {
		t.Fatalf("expected payload object, got %v", out["payload"])
	}
	if payload["input_asset"] != "STX" {
		t.Errorf("unexpected payload %v", payload)
	}
	if out["id"] != "tx-1" {
		t.Errorf("expected envelope fields, got %v", out)
	}
}
