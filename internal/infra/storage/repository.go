package storage

import (
	"context"
	"errors"

	"github.com/vietddude/conductor/internal/core/domain"
)

var (
	// ErrNotFound is returned when a transaction doesn't exist
	ErrNotFound = errors.New("transaction not found")

	// ErrConflict is returned when an update was based on a stale version
	ErrConflict = errors.New("transaction version conflict")

	// ErrDuplicate is returned when creating a transaction whose id already exists
	ErrDuplicate = errors.New("transaction already exists")
)

// TransactionRepository handles transaction storage operations.
// Implementations store copies: callers never share memory with the store.
type TransactionRepository interface {
	// Create persists a new transaction with Version 1
	Create(ctx context.Context, tx *domain.Transaction) error

	// Get retrieves a transaction by id
	Get(ctx context.Context, id string) (*domain.Transaction, error)

	// GetBySourceRef retrieves the oldest transaction with the given source reference
	GetBySourceRef(ctx context.Context, sourceRef string) (*domain.Transaction, error)

	// Update writes tx if the stored version equals tx.Version, then bumps tx.Version
	Update(ctx context.Context, tx *domain.Transaction) error

	// ListActive retrieves every non-terminal transaction, oldest first
	ListActive(ctx context.Context) ([]*domain.Transaction, error)

	// ListByAddress retrieves transactions where address is the source or
	// destination participant, newest first. It fetches one extra row so the
	// caller can tell whether more exist.
	ListByAddress(ctx context.Context, address string, limit, offset int) ([]*domain.Transaction, error)

	// ListAll retrieves every transaction, newest first
	ListAll(ctx context.Context) ([]*domain.Transaction, error)

	// Ping checks the store is reachable
	Ping(ctx context.Context) error
}
