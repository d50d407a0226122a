package memory

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/vietddude/conductor/internal/core/domain"
	"github.com/vietddude/conductor/internal/infra/storage"
)

func newTx(id, source string, created time.Time) *domain.Transaction {
	return &domain.Transaction{
		ID:           id,
		Kind:         domain.KindSwap,
		Status:       domain.StatusPending,
		SourceRef:    "ref-" + id,
		Participants: domain.Participants{Source: source},
		CreatedAt:    created,
		UpdatedAt:    created,
	}
}

func TestTxRepoCreateGetCopies(t *testing.T) {
	ctx := context.Background()
	repo := NewTxRepo()
	tx := newTx("a", "SP1", time.Now())
	if err := repo.Create(ctx, tx); err != nil {
		t.Fatal(err)
	}
	if err := repo.Create(ctx, tx); !errors.Is(err, storage.ErrDuplicate) {
		t.Fatalf("second create err = %v, want ErrDuplicate", err)
	}

	tx.Status = domain.StatusFailed
	got, err := repo.Get(ctx, "a")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.StatusPending || got.Version != 1 {
		t.Fatalf("stored copy changed: %+v", got)
	}

	if _, err := repo.Get(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestTxRepoUpdateConflict(t *testing.T) {
	ctx := context.Background()
	repo := NewTxRepo()
	_ = repo.Create(ctx, newTx("a", "SP1", time.Now()))

	first, _ := repo.Get(ctx, "a")
	second, _ := repo.Get(ctx, "a")

	first.Status = domain.StatusComplete
	if err := repo.Update(ctx, first); err != nil {
		t.Fatal(err)
	}
	if first.Version != 2 {
		t.Fatalf("version = %d, want 2", first.Version)
	}

	second.Status = domain.StatusFailed
	if err := repo.Update(ctx, second); !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("stale update err = %v, want ErrConflict", err)
	}

	got, _ := repo.Get(ctx, "a")
	if got.Status != domain.StatusComplete {
		t.Fatalf("status = %s, want complete", got.Status)
	}
}

func TestTxRepoListActive(t *testing.T) {
	ctx := context.Background()
	repo := NewTxRepo()
	now := time.Now()
	_ = repo.Create(ctx, newTx("b", "SP1", now))
	_ = repo.Create(ctx, newTx("a", "SP1", now.Add(-time.Minute)))
	done := newTx("c", "SP1", now)
	done.Status = domain.StatusComplete
	_ = repo.Create(ctx, done)

	active, _ := repo.ListActive(ctx)
	if len(active) != 2 || active[0].ID != "a" || active[1].ID != "b" {
		t.Fatalf("active = %v", ids(active))
	}
}

func TestTxRepoListByAddressPaging(t *testing.T) {
	ctx := context.Background()
	repo := NewTxRepo()
	now := time.Now()
	for i := 0; i < 5; i++ {
		_ = repo.Create(ctx, newTx(fmt.Sprintf("t%d", i), "SP1", now.Add(time.Duration(i)*time.Second)))
	}
	other := newTx("x", "SP2", now)
	other.Participants.Destination = "sp1"
	_ = repo.Create(ctx, other)

	got, _ := repo.ListByAddress(ctx, "SP1", 2, 0)
	if len(got) != 3 || got[0].ID != "t4" || got[1].ID != "t3" {
		t.Fatalf("page 1 = %v", ids(got))
	}
	got, _ = repo.ListByAddress(ctx, "SP1", 2, 4)
	if len(got) != 2 {
		t.Fatalf("last page = %v", ids(got))
	}
	got, _ = repo.ListByAddress(ctx, "SP1", 2, 10)
	if len(got) != 0 {
		t.Fatalf("past end = %v", ids(got))
	}
}

func TestTxRepoGetBySourceRef(t *testing.T) {
	ctx := context.Background()
	repo := NewTxRepo()
	tx := newTx("a", "SP1", time.Now())
	_ = repo.Create(ctx, tx)

	got, err := repo.GetBySourceRef(ctx, "ref-a")
	if err != nil || got.ID != "a" {
		t.Fatalf("got %v, err %v", got, err)
	}
	if _, err := repo.GetBySourceRef(ctx, "nope"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func ids(txs []*domain.Transaction) []string {
	out := make([]string, len(txs))
	for i, tx := range txs {
		out[i] = tx.ID
	}
	return out
}
