package apperror

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
)

type statusErr int

func (e statusErr) Error() string {
	if e == 400 {
		return fmt.Sprintf("node: http %d: invalid params", int(e))
	}
	return fmt.Sprintf("node: http %d", int(e))
}

func (e statusErr) StatusCode() int { return int(e) }

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"insufficient balance", errors.New("Insufficient balance for transfer"), KindInsufficientBalance},
		{"insufficient funds", errors.New("insufficient funds for gas * price + value"), KindInsufficientBalance},
		{"slippage", errors.New("Slippage tolerance exceeded"), KindSlippageExceeded},
		{"too little received", errors.New("UniswapV2: TOO LITTLE RECEIVED"), KindSlippageExceeded},
		{"validation", errors.New("invalid pool id"), KindValidation},
		{"required", errors.New("amount is required"), KindValidation},
		{"cache", errors.New("redis: connection pool exhausted"), KindCache},
		{"timeout text", errors.New("request timeout after 30s"), KindNetwork},
		{"econnrefused", errors.New("connect ECONNREFUSED 127.0.0.1:443"), KindNetwork},
		{"gateway", errors.New("unexpected status 503"), KindNetwork},
		{"internal server error text", errors.New("upstream: 500 Internal Server Error"), KindNetwork},
		{"status 500", fmt.Errorf("all endpoints failed: %w", statusErr(500)), KindNetwork},
		{"status 429", statusErr(429), KindNetwork},
		{"status 400 with body", statusErr(400), KindValidation},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), KindNetwork},
		{"revert", errors.New("execution reverted"), KindContract},
		{"abort", errors.New("transaction abort_by_response"), KindContract},
		{"nonce", errors.New("nonce too low"), KindContract},
		{"unknown", errors.New("something odd happened"), KindUnknown},
		{"balance beats validation", errors.New("invalid: insufficient balance"), KindInsufficientBalance},
		{"cache beats network", errors.New("redis timeout"), KindCache},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err, nil)
			if got.Kind != tt.want {
				t.Fatalf("Classify(%q) = %s, want %s", tt.err, got.Kind, tt.want)
			}
			if got.Retryable != IsRetryable(tt.want) {
				t.Errorf("retryable = %v, want %v", got.Retryable, IsRetryable(tt.want))
			}
			if !HasPrefix(got.Code, tt.want) {
				t.Errorf("code %q lacks prefix %q", got.Code, tt.want.CodePrefix())
			}
			if len(got.Suggestions) == 0 {
				t.Error("expected suggestions")
			}
		})
	}
}

func TestClassifyRetryableKinds(t *testing.T) {
	for k := range kinds {
		want := k == KindContract || k == KindSlippageExceeded || k == KindNetwork
		if IsRetryable(k) != want {
			t.Errorf("IsRetryable(%s) = %v, want %v", k, IsRetryable(k), want)
		}
	}
}

func TestClassifyKeepsUnifiedError(t *testing.T) {
	orig := New(KindSlippageExceeded, "", nil)
	wrapped := fmt.Errorf("swap: %w", orig)
	if got := Classify(wrapped, nil); got != orig {
		t.Fatalf("expected the original error back, got %v", got)
	}
}

func TestClassifyHidesCause(t *testing.T) {
	got := Classify(errors.New("dial tcp 10.0.0.7:5432: connection refused"), map[string]any{"op": "fetch"})
	if strings.Contains(got.Message, "10.0.0.7") {
		t.Fatalf("message leaks raw cause: %q", got.Message)
	}
	if got.Cause() == "" || got.Details["op"] != "fetch" {
		t.Fatalf("details = %v", got.Details)
	}
}

func TestMarshalOmitsCause(t *testing.T) {
	ue := Classify(errors.New("dial tcp 10.0.0.7:5432: connection refused"), map[string]any{"transaction_id": "tx-1"})
	raw, err := json.Marshal(struct {
		LastError *UnifiedError `json:"last_error"`
	}{ue})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(raw), "10.0.0.7") || strings.Contains(string(raw), `"cause"`) {
		t.Fatalf("cause leaked: %s", raw)
	}
	if !strings.Contains(string(raw), `"transaction_id":"tx-1"`) {
		t.Fatalf("other details dropped: %s", raw)
	}
	if ue.Cause() == "" {
		t.Fatal("marshalling mutated the error")
	}

	bare, _ := json.Marshal(Classify(errors.New("network down"), nil))
	if strings.Contains(string(bare), `"details"`) {
		t.Fatalf("empty details rendered: %s", bare)
	}
}

func TestClassifyCodesUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		code := Classify(errors.New("network down"), nil).Code
		if seen[code] {
			t.Fatalf("duplicate code %s", code)
		}
		seen[code] = true
	}
}

func TestClassifyDoesNotMutateDetails(t *testing.T) {
	details := map[string]any{"a": 1}
	Classify(errors.New("x"), details)
	if len(details) != 1 {
		t.Fatalf("caller details mutated: %v", details)
	}
}

func TestIsKind(t *testing.T) {
	if !IsKind(errors.New("execution reverted"), KindContract) {
		t.Error("expected contract kind")
	}
	if IsKind(nil, KindUnknown) {
		t.Error("nil is not an error of any kind")
	}
	if !errors.Is(fmt.Errorf("w: %w", New(KindCache, "", nil)), &UnifiedError{Kind: KindCache}) {
		t.Error("errors.Is should match by kind")
	}
}

func TestFormatResponse(t *testing.T) {
	ue := Classify(errors.New("secret host db-7 unavailable"), nil)
	resp := FormatResponse(ue)
	if resp.Success {
		t.Fatal("success must be false")
	}
	if resp.Error.Code != ue.Code || !resp.Error.Retryable {
		t.Fatalf("body = %+v", resp.Error)
	}
	raw, err := json.Marshal(resp)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(raw), "db-7") || strings.Contains(string(raw), "details") {
		t.Fatalf("response leaks details: %s", raw)
	}
}
