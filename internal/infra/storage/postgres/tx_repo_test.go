package postgres

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vietddude/conductor/internal/core/apperror"
	"github.com/vietddude/conductor/internal/core/domain"
)

func TestTxRowRoundTrip(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Microsecond)
	fee := decimal.RequireFromString("0.25")
	tx := &domain.Transaction{
		ID:        "tx-1",
		Kind:      domain.KindDeposit,
		Status:    domain.StatusComplete,
		Step:      domain.StepDone,
		SourceRef: "0xabc",
		Linkage:   &domain.Linkage{MessageID: "0xmsg", Attestation: "0xproof"},
		Participants: domain.Participants{
			Source:      "0xsender",
			Destination: "SP2RECIPIENT",
		},
		Payload: domain.BridgePayload{
			SourceChain:      domain.ChainIDEthereum,
			DestinationChain: domain.ChainIDStacks,
			Asset:            "USDC",
			Amount:           decimal.RequireFromString("10.5"),
		},
		CreatedAt:   now,
		UpdatedAt:   now,
		CompletedAt: &now,
		LastError:   apperror.Classify(errors.New("network timeout"), nil),
		RetryCount:  2,
		IsSponsored: true,
		SponsorFee:  &fee,
		Version:     4,
	}

	row, err := toRow(tx)
	if err != nil {
		t.Fatal(err)
	}
	got, err := row.toDomain()
	if err != nil {
		t.Fatal(err)
	}

	p, ok := got.Bridge()
	if !ok || !p.Amount.Equal(tx.Payload.(domain.BridgePayload).Amount) {
		t.Fatalf("payload = %#v", got.Payload)
	}
	if got.Linkage.Attestation != "0xproof" || got.LastError.Kind != apperror.KindNetwork || got.LastError.Cause() != "network timeout" {
		t.Fatalf("linkage/last error lost: %+v %+v", got.Linkage, got.LastError)
	}
	if !got.SponsorFee.Equal(fee) || got.CompletedAt == nil || got.Version != 4 {
		t.Fatalf("got %+v", got)
	}
	if got.Participants != tx.Participants {
		t.Fatalf("participants = %+v", got.Participants)
	}
}

func TestTxRowNullables(t *testing.T) {
	tx := &domain.Transaction{
		ID:      "tx-2",
		Kind:    domain.KindSwap,
		Status:  domain.StatusPending,
		Payload: domain.SwapPayload{Network: domain.ChainIDStacks, InputAsset: "STX", OutputAsset: "USDCx", AmountIn: decimal.NewFromInt(1)},
	}
	row, err := toRow(tx)
	if err != nil {
		t.Fatal(err)
	}
	if row.Linkage.Valid || row.LastError.Valid || row.SponsorFee.Valid || row.CompletedAt.Valid {
		t.Fatalf("expected NULL columns, got %+v", row)
	}
	got, err := row.toDomain()
	if err != nil {
		t.Fatal(err)
	}
	if got.Linkage != nil || got.LastError != nil || got.SponsorFee != nil || got.CompletedAt != nil {
		t.Fatalf("expected nil pointers, got %+v", got)
	}
	if _, ok := got.Payload.(domain.SwapPayload); !ok {
		t.Fatalf("payload = %T", got.Payload)
	}
}
