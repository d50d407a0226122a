package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/vietddude/conductor/internal/core/domain"
	"github.com/vietddude/conductor/internal/infra/storage"
)

// TxRepo is an in-process TransactionRepository.
type TxRepo struct {
	txs map[string]*domain.Transaction
	mu  sync.RWMutex
}

func NewTxRepo() *TxRepo {
	return &TxRepo{
		txs: make(map[string]*domain.Transaction),
	}
}

func (r *TxRepo) Create(ctx context.Context, tx *domain.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.txs[tx.ID]; ok {
		return storage.ErrDuplicate
	}
	tx.Version = 1
	r.txs[tx.ID] = tx.Clone()
	return nil
}

func (r *TxRepo) Get(ctx context.Context, id string) (*domain.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tx, ok := r.txs[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return tx.Clone(), nil
}

func (r *TxRepo) GetBySourceRef(ctx context.Context, sourceRef string) (*domain.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var found *domain.Transaction
	for _, tx := range r.txs {
		if tx.SourceRef != sourceRef {
			continue
		}
		if found == nil || tx.CreatedAt.Before(found.CreatedAt) {
			found = tx
		}
	}
	if found == nil {
		return nil, storage.ErrNotFound
	}
	return found.Clone(), nil
}

func (r *TxRepo) Update(ctx context.Context, tx *domain.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.txs[tx.ID]
	if !ok {
		return storage.ErrNotFound
	}
	if cur.Version != tx.Version {
		return storage.ErrConflict
	}
	tx.Version++
	r.txs[tx.ID] = tx.Clone()
	return nil
}

func (r *TxRepo) ListActive(ctx context.Context) ([]*domain.Transaction, error) {
	out := r.filter(func(tx *domain.Transaction) bool { return !tx.Status.IsTerminal() })
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *TxRepo) ListByAddress(ctx context.Context, address string, limit, offset int) ([]*domain.Transaction, error) {
	out := r.filter(func(tx *domain.Transaction) bool {
		return strings.EqualFold(tx.Participants.Source, address) ||
			strings.EqualFold(tx.Participants.Destination, address)
	})
	newestFirst(out)
	return page(out, limit, offset), nil
}

func (r *TxRepo) ListAll(ctx context.Context) ([]*domain.Transaction, error) {
	out := r.filter(func(*domain.Transaction) bool { return true })
	newestFirst(out)
	return out, nil
}

func (r *TxRepo) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (r *TxRepo) filter(keep func(*domain.Transaction) bool) []*domain.Transaction {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domain.Transaction
	for _, tx := range r.txs {
		if keep(tx) {
			out = append(out, tx.Clone())
		}
	}
	return out
}

func newestFirst(txs []*domain.Transaction) {
	sort.Slice(txs, func(i, j int) bool {
		if txs[i].CreatedAt.Equal(txs[j].CreatedAt) {
			return txs[i].ID > txs[j].ID
		}
		return txs[i].CreatedAt.After(txs[j].CreatedAt)
	})
}

// page returns up to limit+1 rows starting at offset.
func page(txs []*domain.Transaction, limit, offset int) []*domain.Transaction {
	if offset >= len(txs) {
		return nil
	}
	txs = txs[offset:]
	if limit > 0 && len(txs) > limit+1 {
		txs = txs[:limit+1]
	}
	return txs
}
