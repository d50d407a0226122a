// Package lifecycle drives recorded transactions through their status graph.
//
// The Monitor owns no timer. An external scheduler calls ProcessQueue, and
// every pass reads the authoritative state from the repository.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/conductor/internal/core/apperror"
	"github.com/vietddude/conductor/internal/core/domain"
	"github.com/vietddude/conductor/internal/core/retry"
	"github.com/vietddude/conductor/internal/infra/storage"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Config controls queue processing.
type Config struct {
	// Concurrency bounds how many transactions one pass works on at once.
	Concurrency int
	// RequiredConfirmations is the source depth needed before attesting.
	RequiredConfirmations uint64
	// MaxRetries is the number of retryable failures tolerated per transaction.
	MaxRetries int
	// TransactionTimeout fails any transaction older than this.
	TransactionTimeout time.Duration
	// CallTimeout bounds each external call.
	CallTimeout time.Duration
	Retry       retry.Options
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:           8,
		RequiredConfirmations: 1,
		MaxRetries:            3,
		TransactionTimeout:    time.Hour,
		CallTimeout:           15 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Concurrency <= 0 {
		c.Concurrency = def.Concurrency
	}
	if c.RequiredConfirmations == 0 {
		c.RequiredConfirmations = def.RequiredConfirmations
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.TransactionTimeout <= 0 {
		c.TransactionTimeout = def.TransactionTimeout
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = def.CallTimeout
	}
	return c
}

// ConfirmationSource reports what a chain knows about a transaction.
type ConfirmationSource interface {
	Observe(ctx context.Context, chain domain.ChainID, ref string) (domain.Receipt, error)
}

// AttestationSource reports whether a burn has been attested.
type AttestationSource interface {
	Lookup(ctx context.Context, messageID string) (attestation string, ready bool, err error)
}

// MintSource finds the destination-side mint of a bridge transfer.
type MintSource interface {
	FindMint(ctx context.Context, chain domain.ChainID, q domain.MintQuery) (ref string, found bool, err error)
}

// Sources groups the collaborators the Monitor polls.
type Sources struct {
	Confirmations ConfirmationSource
	Attestations  AttestationSource
	Mints         MintSource
}

// Page is one slice of an address listing.
type Page struct {
	Transactions []*domain.Transaction `json:"transactions"`
	HasMore      bool                  `json:"has_more"`
}

// Monitor records transactions and advances them through their lifecycle.
type Monitor struct {
	cfg     Config
	repo    storage.TransactionRepository
	sources Sources
	exec    *retry.Executor
	logger  *slog.Logger
	now     func() time.Time

	mu        sync.Mutex
	inFlight  map[string]struct{}
	observers []func(domain.Transition)
}

// NewMonitor creates a Monitor.
func NewMonitor(
	cfg Config,
	repo storage.TransactionRepository,
	sources Sources,
	exec *retry.Executor,
	logger *slog.Logger,
) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	if exec == nil {
		exec = retry.NewExecutor(logger)
	}
	return &Monitor{
		cfg:      cfg.withDefaults(),
		repo:     repo,
		sources:  sources,
		exec:     exec,
		logger:   logger.With("component", "lifecycle"),
		now:      time.Now,
		inFlight: make(map[string]struct{}),
	}
}

// OnTransition registers fn to be called after every persisted status change.
func (m *Monitor) OnTransition(fn func(domain.Transition)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, fn)
}

func (m *Monitor) notify(t domain.Transition) {
	m.mu.Lock()
	observers := append([]func(domain.Transition){}, m.observers...)
	m.mu.Unlock()
	for _, fn := range observers {
		fn(t)
	}
}

// Record validates tx and stores it as a new pending transaction.
// Lifecycle fields set by the caller are ignored.
func (m *Monitor) Record(ctx context.Context, tx *domain.Transaction) (*domain.Transaction, error) {
	if err := validate(tx); err != nil {
		return nil, err
	}

	now := m.now().UTC()
	rec := &domain.Transaction{
		ID:           uuid.NewString(),
		Kind:         tx.Kind,
		Status:       domain.StatusPending,
		Step:         domain.InitialStep(tx.Kind),
		SourceRef:    tx.SourceRef,
		Participants: tx.Participants,
		Payload:      tx.Payload,
		CreatedAt:    now,
		UpdatedAt:    now,
		IsSponsored:  tx.IsSponsored,
	}
	if tx.IsSponsored {
		fee := *tx.SponsorFee
		rec.SponsorFee = &fee
	}

	if err := m.repo.Create(ctx, rec); err != nil {
		return nil, apperror.Classify(fmt.Errorf("failed to record transaction: %w", err), map[string]any{
			"kind": string(tx.Kind),
		})
	}

	m.logger.Info("Transaction recorded",
		"id", rec.ID,
		"kind", rec.Kind,
		"source_ref", rec.SourceRef,
		"sponsored", rec.IsSponsored,
	)
	return rec.Clone(), nil
}

// ValidateDraft checks everything Record checks except the source
// reference, which is unknown until the transaction is broadcast.
func (m *Monitor) ValidateDraft(tx *domain.Transaction) error {
	if tx == nil {
		return apperror.Validation("transaction is required")
	}
	draft := *tx
	if draft.SourceRef == "" {
		draft.SourceRef = "draft"
	}
	return validate(&draft)
}

func validate(tx *domain.Transaction) error {
	switch {
	case tx == nil:
		return apperror.Validation("transaction is required")
	case !tx.Kind.Valid():
		return apperror.Validation("invalid transaction kind %q", tx.Kind)
	case tx.Payload == nil:
		return apperror.Validation("payload is required for %s", tx.Kind)
	case !domain.Supports(tx.Payload, tx.Kind):
		return apperror.Validation("payload does not match kind %s", tx.Kind)
	case tx.SourceRef == "":
		return apperror.Validation("source reference is required")
	case tx.Participants.Source == "":
		return apperror.Validation("source participant is required")
	case tx.IsSponsored && (tx.SponsorFee == nil || !tx.SponsorFee.IsPositive()):
		return apperror.Validation("sponsored transaction must carry a positive fee")
	}
	if err := tx.Payload.Validate(); err != nil {
		return apperror.Validation("invalid %s payload: %s", tx.Kind, err)
	}
	return nil
}

// Get returns the transaction with id. A missing id wraps storage.ErrNotFound.
func (m *Monitor) Get(ctx context.Context, id string) (*domain.Transaction, error) {
	tx, err := m.repo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction %s: %w", id, err)
	}
	return tx, nil
}

// GetByAddress lists transactions where address is the source or
// destination participant, newest first.
func (m *Monitor) GetByAddress(ctx context.Context, address string, limit, offset int) (Page, error) {
	if address == "" {
		return Page{}, apperror.Validation("address is required")
	}
	if offset < 0 {
		return Page{}, apperror.Validation("offset must be non-negative")
	}
	if limit <= 0 {
		limit = DefaultPageSize
	}
	limit = min(limit, MaxPageSize)

	txs, err := m.repo.ListByAddress(ctx, address, limit, offset)
	if err != nil {
		return Page{}, fmt.Errorf("failed to list transactions: %w", err)
	}
	page := Page{Transactions: txs}
	if len(txs) > limit {
		page.Transactions = txs[:limit]
		page.HasMore = true
	}
	if page.Transactions == nil {
		page.Transactions = []*domain.Transaction{}
	}
	return page, nil
}

// GetAll lists every transaction, newest first.
func (m *Monitor) GetAll(ctx context.Context) ([]*domain.Transaction, error) {
	txs, err := m.repo.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	return txs, nil
}

// FindBySourceRef returns the transaction recorded for sourceRef, if any.
func (m *Monitor) FindBySourceRef(ctx context.Context, sourceRef string) (*domain.Transaction, bool, error) {
	tx, err := m.repo.GetBySourceRef(ctx, sourceRef)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to look up source ref: %w", err)
	}
	return tx, true, nil
}
