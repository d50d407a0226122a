package domain

import "testing"

func TestCanTransition_Bridge(t *testing.T) {
	path := []Status{StatusPending, StatusConfirming, StatusAttesting, StatusMinting, StatusComplete}
	for i := 0; i < len(path)-1; i++ {
		if !CanTransition(KindDeposit, path[i], path[i+1]) {
			t.Errorf("expected %s -> %s to be valid", path[i], path[i+1])
		}
	}

	for _, from := range path[:len(path)-1] {
		if !CanTransition(KindWithdrawal, from, StatusFailed) {
			t.Errorf("expected %s -> failed to be valid", from)
		}
	}

	// No skipping and no going back
	if CanTransition(KindDeposit, StatusPending, StatusAttesting) {
		t.Error("pending -> attesting should be invalid")
	}
	if CanTransition(KindDeposit, StatusMinting, StatusConfirming) {
		t.Error("minting -> confirming should be invalid")
	}
}

func TestCanTransition_Direct(t *testing.T) {
	for _, kind := range []Kind{KindSwap, KindAddLiquidity, KindRemoveLiquidity} {
		if !CanTransition(kind, StatusPending, StatusComplete) {
			t.Errorf("%s: pending -> complete should be valid", kind)
		}
		if !CanTransition(kind, StatusPending, StatusFailed) {
			t.Errorf("%s: pending -> failed should be valid", kind)
		}
		if CanTransition(kind, StatusPending, StatusConfirming) {
			t.Errorf("%s: pending -> confirming should be invalid", kind)
		}
	}
}

func TestCanTransition_TerminalIsFinal(t *testing.T) {
	kinds := []Kind{KindDeposit, KindWithdrawal, KindSwap, KindAddLiquidity, KindRemoveLiquidity}
	for _, kind := range kinds {
		for _, terminal := range []Status{StatusComplete, StatusFailed} {
			for _, to := range StatusesFor(kind) {
				if CanTransition(kind, terminal, to) {
					t.Errorf("%s: %s -> %s should be invalid", kind, terminal, to)
				}
			}
		}
	}
}

func TestTransition_IsValid(t *testing.T) {
	tx := &Transaction{ID: "tx-1", Kind: KindSwap, Status: StatusComplete, Step: StepDone}
	tr := NewTransition(tx, StatusPending, "confirmed")
	if !tr.IsValid() {
		t.Error("expected pending -> complete swap transition to be valid")
	}
	if tr.TransactionID != "tx-1" || tr.To != StatusComplete {
		t.Errorf("unexpected transition %+v", tr)
	}
}
