package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vietddude/conductor/internal/core/apperror"
	"github.com/vietddude/conductor/internal/core/domain"
	"github.com/vietddude/conductor/internal/core/retry"
	"github.com/vietddude/conductor/internal/infra/rpc/provider"
	"github.com/vietddude/conductor/internal/infra/storage"
	"github.com/vietddude/conductor/internal/infra/storage/memory"
)

type fakeChain struct {
	mu       sync.Mutex
	receipts map[string]domain.Receipt
	err      error
	calls    atomic.Int32
}

func (f *fakeChain) Observe(ctx context.Context, chain domain.ChainID, ref string) (domain.Receipt, error) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return domain.Receipt{}, f.err
	}
	return f.receipts[ref], nil
}

func (f *fakeChain) set(ref string, r domain.Receipt) {
	f.mu.Lock()
	f.receipts[ref] = r
	f.mu.Unlock()
}

type fakeAttestations struct {
	mu     sync.Mutex
	proofs map[string]string
}

func (f *fakeAttestations) Lookup(ctx context.Context, messageID string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.proofs[messageID]
	return p, ok, nil
}

type fakeMints struct {
	mu    sync.Mutex
	mints map[string]string
	last  domain.MintQuery
}

func (f *fakeMints) FindMint(ctx context.Context, chain domain.ChainID, q domain.MintQuery) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.last = q
	ref, ok := f.mints[q.MessageID]
	return ref, ok, nil
}

type harness struct {
	monitor *Monitor
	repo    *memory.TxRepo
	chain   *fakeChain
	attest  *fakeAttestations
	mints   *fakeMints

	mu          sync.Mutex
	transitions []domain.Transition
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := &harness{
		repo:   memory.NewTxRepo(),
		chain:  &fakeChain{receipts: make(map[string]domain.Receipt)},
		attest: &fakeAttestations{proofs: make(map[string]string)},
		mints:  &fakeMints{mints: make(map[string]string)},
	}
	exec := retry.NewExecutor(logger).WithDefaults(retry.Options{
		MaxAttempts: 1,
		BaseDelay:   time.Millisecond,
		MaxDelay:    time.Millisecond,
	})
	h.monitor = NewMonitor(cfg, h.repo, Sources{
		Confirmations: h.chain,
		Attestations:  h.attest,
		Mints:         h.mints,
	}, exec, logger)
	h.monitor.OnTransition(func(tr domain.Transition) {
		h.mu.Lock()
		h.transitions = append(h.transitions, tr)
		h.mu.Unlock()
	})
	return h
}

func (h *harness) statuses() []domain.Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]domain.Status, 0, len(h.transitions))
	for _, tr := range h.transitions {
		out = append(out, tr.To)
	}
	return out
}

func deposit(ref string) *domain.Transaction {
	return &domain.Transaction{
		Kind:      domain.KindDeposit,
		SourceRef: ref,
		Participants: domain.Participants{
			Source:      "0xAbC0000000000000000000000000000000000001",
			Destination: "SP2J6ZY48GV1EZ5V2V5RB9MP66SW86PYKKNRV9EJ7",
		},
		Payload: domain.BridgePayload{
			SourceChain:      domain.ChainIDEthereum,
			DestinationChain: domain.ChainIDStacks,
			Asset:            "USDC",
			Amount:           decimal.NewFromInt(1_000_000),
		},
	}
}

func swap(ref, source string) *domain.Transaction {
	return &domain.Transaction{
		Kind:         domain.KindSwap,
		SourceRef:    ref,
		Participants: domain.Participants{Source: source},
		Payload: domain.SwapPayload{
			Network:      domain.ChainIDStacks,
			InputAsset:   "USDCx",
			OutputAsset:  "STX",
			AmountIn:     decimal.NewFromInt(100),
			MinAmountOut: decimal.NewFromInt(40),
		},
	}
}

func mustGet(t *testing.T, m *Monitor, id string) *domain.Transaction {
	t.Helper()
	tx, err := m.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get %s: %v", id, err)
	}
	return tx
}

func TestRecordDefaults(t *testing.T) {
	h := newHarness(t, Config{})
	in := deposit("0xburn")
	in.Status = domain.StatusComplete
	in.RetryCount = 7

	tx, err := h.monitor.Record(context.Background(), in)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if tx.ID == "" || tx.Status != domain.StatusPending || tx.RetryCount != 0 {
		t.Fatalf("unexpected record: %+v", tx)
	}
	if tx.Step != domain.StepBurn || tx.CompletedAt != nil || tx.IsSponsored {
		t.Fatalf("unexpected lifecycle fields: %+v", tx)
	}
	if got := mustGet(t, h.monitor, tx.ID); got.SourceRef != "0xburn" {
		t.Fatalf("stored source ref = %q", got.SourceRef)
	}
}

func TestRecordValidation(t *testing.T) {
	h := newHarness(t, Config{})
	zeroFee := decimal.Zero

	tests := []struct {
		name   string
		mutate func(tx *domain.Transaction)
	}{
		{"unknown kind", func(tx *domain.Transaction) { tx.Kind = "teleport" }},
		{"missing payload", func(tx *domain.Transaction) { tx.Payload = nil }},
		{"payload mismatch", func(tx *domain.Transaction) { tx.Kind = domain.KindSwap }},
		{"missing source ref", func(tx *domain.Transaction) { tx.SourceRef = "" }},
		{"missing participant", func(tx *domain.Transaction) { tx.Participants.Source = "" }},
		{"zero amount", func(tx *domain.Transaction) {
			p := tx.Payload.(domain.BridgePayload)
			p.Amount = decimal.Zero
			tx.Payload = p
		}},
		{"sponsored without fee", func(tx *domain.Transaction) { tx.IsSponsored = true }},
		{"sponsored zero fee", func(tx *domain.Transaction) {
			tx.IsSponsored = true
			tx.SponsorFee = &zeroFee
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := deposit("0xref")
			tt.mutate(tx)
			_, err := h.monitor.Record(context.Background(), tx)
			if !apperror.IsKind(err, apperror.KindValidation) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
		})
	}

	same := swap("0xswap", "SP1")
	p := same.Payload.(domain.SwapPayload)
	p.OutputAsset = p.InputAsset
	same.Payload = p
	if _, err := h.monitor.Record(context.Background(), same); !apperror.IsKind(err, apperror.KindValidation) {
		t.Fatalf("identical swap assets: %v", err)
	}

	all, _ := h.monitor.GetAll(context.Background())
	if len(all) != 0 {
		t.Fatalf("invalid transactions were stored: %d", len(all))
	}
}

func TestDepositThreePasses(t *testing.T) {
	h := newHarness(t, Config{RequiredConfirmations: 1})
	ctx := context.Background()

	tx, err := h.monitor.Record(ctx, deposit("0xburn"))
	if err != nil {
		t.Fatal(err)
	}

	// Pass 1: source confirmed, attestation not yet available.
	h.chain.set("0xburn", domain.Receipt{Included: true, Confirmations: 3, MessageID: "0xmsg"})
	if err := h.monitor.ProcessQueue(ctx); err != nil {
		t.Fatal(err)
	}
	if got := mustGet(t, h.monitor, tx.ID); got.Status != domain.StatusAttesting {
		t.Fatalf("after pass 1 status = %s", got.Status)
	}

	// Pass 2: attestation available, mint not yet seen.
	h.attest.proofs["0xmsg"] = "0xproof"
	if err := h.monitor.ProcessQueue(ctx); err != nil {
		t.Fatal(err)
	}
	got := mustGet(t, h.monitor, tx.ID)
	if got.Status != domain.StatusMinting || got.Linkage == nil || got.Linkage.Attestation != "0xproof" {
		t.Fatalf("after pass 2: %+v linkage %+v", got, got.Linkage)
	}

	// Pass 3: destination mint found.
	h.mints.mints["0xmsg"] = "0xmint"
	if err := h.monitor.ProcessQueue(ctx); err != nil {
		t.Fatal(err)
	}
	got = mustGet(t, h.monitor, tx.ID)
	if got.Status != domain.StatusComplete || got.Step != domain.StepDone {
		t.Fatalf("after pass 3: %s/%s", got.Status, got.Step)
	}
	if got.CompletedAt == nil || got.DestinationRef != "0xmint" || got.RetryCount != 0 {
		t.Fatalf("final record: %+v", got)
	}

	want := []domain.Status{domain.StatusConfirming, domain.StatusAttesting, domain.StatusMinting, domain.StatusComplete}
	gotSeq := h.statuses()
	if len(gotSeq) != len(want) {
		t.Fatalf("transitions = %v, want %v", gotSeq, want)
	}
	for i := range want {
		if gotSeq[i] != want[i] {
			t.Fatalf("transitions = %v, want %v", gotSeq, want)
		}
	}
	if h.transitions[0].From != domain.StatusPending {
		t.Fatalf("first transition from %s", h.transitions[0].From)
	}

	q := h.mints.last
	if q.Recipient != "SP2J6ZY48GV1EZ5V2V5RB9MP66SW86PYKKNRV9EJ7" || q.Amount == nil || q.Amount.Int64() != 1_000_000 {
		t.Fatalf("mint query = %+v", q)
	}
}

func TestProcessQueueIdempotent(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	tx, err := h.monitor.Record(ctx, swap("0xswap", "SP1"))
	if err != nil {
		t.Fatal(err)
	}
	h.chain.set("0xswap", domain.Receipt{Included: true, Confirmations: 1})
	if err := h.monitor.ProcessQueue(ctx); err != nil {
		t.Fatal(err)
	}
	done := mustGet(t, h.monitor, tx.ID)
	if done.Status != domain.StatusComplete || done.CompletedAt == nil {
		t.Fatalf("swap not completed: %+v", done)
	}

	calls := h.chain.calls.Load()
	for i := 0; i < 2; i++ {
		if err := h.monitor.ProcessQueue(ctx); err != nil {
			t.Fatal(err)
		}
	}
	again := mustGet(t, h.monitor, tx.ID)
	if again.Version != done.Version || !again.UpdatedAt.Equal(done.UpdatedAt) {
		t.Fatal("terminal transaction was rewritten")
	}
	if h.chain.calls.Load() != calls {
		t.Fatal("terminal transaction was polled")
	}
	if n := len(h.statuses()); n != 1 {
		t.Fatalf("transitions = %d, want 1", n)
	}
}

func TestUnchangedPassIsNoop(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	tx, _ := h.monitor.Record(ctx, deposit("0xslow"))
	for i := 0; i < 3; i++ {
		if err := h.monitor.ProcessQueue(ctx); err != nil {
			t.Fatal(err)
		}
	}
	got := mustGet(t, h.monitor, tx.ID)
	if got.Status != domain.StatusPending || got.Version != 1 || got.RetryCount != 0 {
		t.Fatalf("unexpected change: %+v", got)
	}
}

func TestRetryCeiling(t *testing.T) {
	h := newHarness(t, Config{MaxRetries: 2})
	ctx := context.Background()
	h.chain.err = errors.New("dial tcp: connection refused")

	tx, _ := h.monitor.Record(ctx, deposit("0xburn"))
	for pass := 1; pass <= 2; pass++ {
		if err := h.monitor.ProcessQueue(ctx); err != nil {
			t.Fatal(err)
		}
		got := mustGet(t, h.monitor, tx.ID)
		if got.Status != domain.StatusPending || got.RetryCount != pass {
			t.Fatalf("pass %d: status %s retry %d", pass, got.Status, got.RetryCount)
		}
		if got.LastError == nil || got.LastError.Kind != apperror.KindNetwork {
			t.Fatalf("pass %d: last error %+v", pass, got.LastError)
		}
	}

	if err := h.monitor.ProcessQueue(ctx); err != nil {
		t.Fatal(err)
	}
	got := mustGet(t, h.monitor, tx.ID)
	if got.Status != domain.StatusFailed || got.RetryCount != 2 {
		t.Fatalf("after ceiling: status %s retry %d", got.Status, got.RetryCount)
	}
	if got.CompletedAt != nil {
		t.Fatal("failed transaction has CompletedAt")
	}
}

func TestServerErrorIsRetried(t *testing.T) {
	h := newHarness(t, Config{MaxRetries: 3})
	ctx := context.Background()
	h.chain.err = fmt.Errorf("all endpoints failed for chain ethereum: %w",
		&provider.StatusError{Provider: "ethereum", Code: 500})

	tx, _ := h.monitor.Record(ctx, deposit("0xburn"))
	if err := h.monitor.ProcessQueue(ctx); err != nil {
		t.Fatal(err)
	}
	got := mustGet(t, h.monitor, tx.ID)
	if got.Status != domain.StatusPending || got.RetryCount != 1 {
		t.Fatalf("status %s retry %d", got.Status, got.RetryCount)
	}
	if got.LastError.Kind != apperror.KindNetwork || !got.LastError.Retryable {
		t.Fatalf("last error %+v", got.LastError)
	}
}

func TestNonRetryableFailureIsTerminal(t *testing.T) {
	h := newHarness(t, Config{MaxRetries: 5})
	ctx := context.Background()
	h.chain.err = errors.New("insufficient funds for gas * price + value")

	tx, _ := h.monitor.Record(ctx, deposit("0xburn"))
	if err := h.monitor.ProcessQueue(ctx); err != nil {
		t.Fatal(err)
	}
	got := mustGet(t, h.monitor, tx.ID)
	if got.Status != domain.StatusFailed || got.RetryCount != 0 {
		t.Fatalf("status %s retry %d", got.Status, got.RetryCount)
	}
	if got.LastError.Kind != apperror.KindInsufficientBalance {
		t.Fatalf("kind = %s", got.LastError.Kind)
	}
}

func TestAbortedSourceFails(t *testing.T) {
	h := newHarness(t, Config{MaxRetries: 0})
	ctx := context.Background()

	tx, _ := h.monitor.Record(ctx, swap("0xswap", "SP1"))
	h.chain.set("0xswap", domain.Receipt{Included: true, Confirmations: 1, Aborted: true, Reason: "transaction abort_by_response"})
	if err := h.monitor.ProcessQueue(ctx); err != nil {
		t.Fatal(err)
	}
	got := mustGet(t, h.monitor, tx.ID)
	if got.Status != domain.StatusFailed || got.LastError.Kind != apperror.KindContract {
		t.Fatalf("status %s error %+v", got.Status, got.LastError)
	}
}

func TestTimeoutForcesFailure(t *testing.T) {
	h := newHarness(t, Config{TransactionTimeout: time.Minute, MaxRetries: 10})
	ctx := context.Background()

	tx, _ := h.monitor.Record(ctx, deposit("0xburn"))
	h.monitor.now = func() time.Time { return time.Now().Add(2 * time.Minute) }

	if err := h.monitor.ProcessQueue(ctx); err != nil {
		t.Fatal(err)
	}
	got := mustGet(t, h.monitor, tx.ID)
	if got.Status != domain.StatusFailed || got.LastError.Kind != apperror.KindNetwork {
		t.Fatalf("status %s error %+v", got.Status, got.LastError)
	}
	if h.chain.calls.Load() != 0 {
		t.Fatal("expired transaction should not be polled")
	}
}

func TestOverlappingPassesTransitionOnce(t *testing.T) {
	h := newHarness(t, Config{Concurrency: 4})
	ctx := context.Background()

	const n = 20
	for i := 0; i < n; i++ {
		ref := "0xswap" + string(rune('a'+i))
		if _, err := h.monitor.Record(ctx, swap(ref, "SP1")); err != nil {
			t.Fatal(err)
		}
		h.chain.set(ref, domain.Receipt{Included: true, Confirmations: 1})
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = h.monitor.ProcessQueue(ctx)
		}()
	}
	wg.Wait()
	_ = h.monitor.ProcessQueue(ctx)

	if got := len(h.statuses()); got != n {
		t.Fatalf("transitions = %d, want %d", got, n)
	}
}

func TestGetByAddressPagination(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := h.monitor.Record(ctx, swap("0xs"+string(rune('0'+i)), "SPALICE")); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := h.monitor.Record(ctx, swap("0xother", "SPBOB")); err != nil {
		t.Fatal(err)
	}
	dep := deposit("0xdep")
	dep.Participants.Destination = "SPALICE"
	if _, err := h.monitor.Record(ctx, dep); err != nil {
		t.Fatal(err)
	}

	page, err := h.monitor.GetByAddress(ctx, "spalice", 4, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Transactions) != 4 || !page.HasMore {
		t.Fatalf("page 1: %d items, hasMore %v", len(page.Transactions), page.HasMore)
	}
	page, err = h.monitor.GetByAddress(ctx, "SPALICE", 4, 4)
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Transactions) != 2 || page.HasMore {
		t.Fatalf("page 2: %d items, hasMore %v", len(page.Transactions), page.HasMore)
	}

	if _, err := h.monitor.GetByAddress(ctx, "", 10, 0); !apperror.IsKind(err, apperror.KindValidation) {
		t.Fatalf("empty address: %v", err)
	}
	if _, err := h.monitor.GetByAddress(ctx, "SPALICE", 10, -1); !apperror.IsKind(err, apperror.KindValidation) {
		t.Fatalf("negative offset: %v", err)
	}
}

func TestGetMissing(t *testing.T) {
	h := newHarness(t, Config{})
	if _, err := h.monitor.Get(context.Background(), "nope"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
	if _, found, err := h.monitor.FindBySourceRef(context.Background(), "nope"); found || err != nil {
		t.Fatalf("found = %v, err = %v", found, err)
	}
}
