package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx/types"
	"github.com/shopspring/decimal"

	"github.com/vietddude/conductor/internal/core/apperror"
	"github.com/vietddude/conductor/internal/core/domain"
	"github.com/vietddude/conductor/internal/infra/storage"
)

// TxRepo implements storage.TransactionRepository using PostgreSQL.
type TxRepo struct {
	db *DB
}

// NewTxRepo creates a new PostgreSQL transaction repository.
func NewTxRepo(db *DB) *TxRepo {
	return &TxRepo{db: db}
}

const txColumns = `id, kind, status, current_step, source_ref, destination_ref,
	source_address, destination_address, payload, linkage, last_error,
	retry_count, is_sponsored, sponsor_fee, version, created_at, updated_at, completed_at`

// storedError persists a UnifiedError with its cause, which the
// caller-facing JSON form omits.
type storedError apperror.UnifiedError

type txRow struct {
	ID                 string              `db:"id"`
	Kind               string              `db:"kind"`
	Status             string              `db:"status"`
	Step               string              `db:"current_step"`
	SourceRef          string              `db:"source_ref"`
	DestinationRef     string              `db:"destination_ref"`
	SourceAddress      string              `db:"source_address"`
	DestinationAddress string              `db:"destination_address"`
	Payload            types.JSONText      `db:"payload"`
	Linkage            types.NullJSONText  `db:"linkage"`
	LastError          types.NullJSONText  `db:"last_error"`
	RetryCount         int                 `db:"retry_count"`
	IsSponsored        bool                `db:"is_sponsored"`
	SponsorFee         decimal.NullDecimal `db:"sponsor_fee"`
	Version            int64               `db:"version"`
	CreatedAt          time.Time           `db:"created_at"`
	UpdatedAt          time.Time           `db:"updated_at"`
	CompletedAt        sql.NullTime        `db:"completed_at"`
}

func toRow(tx *domain.Transaction) (*txRow, error) {
	row := &txRow{
		ID:                 tx.ID,
		Kind:               string(tx.Kind),
		Status:             string(tx.Status),
		Step:               string(tx.Step),
		SourceRef:          tx.SourceRef,
		DestinationRef:     tx.DestinationRef,
		SourceAddress:      tx.Participants.Source,
		DestinationAddress: tx.Participants.Destination,
		RetryCount:         tx.RetryCount,
		IsSponsored:        tx.IsSponsored,
		Version:            tx.Version,
		CreatedAt:          tx.CreatedAt.UTC(),
		UpdatedAt:          tx.UpdatedAt.UTC(),
	}

	payload, err := json.Marshal(tx.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	row.Payload = payload

	if tx.Linkage != nil {
		raw, err := json.Marshal(tx.Linkage)
		if err != nil {
			return nil, fmt.Errorf("failed to encode linkage: %w", err)
		}
		row.Linkage = types.NullJSONText{JSONText: raw, Valid: true}
	}
	if tx.LastError != nil {
		raw, err := json.Marshal((*storedError)(tx.LastError))
		if err != nil {
			return nil, fmt.Errorf("failed to encode last error: %w", err)
		}
		row.LastError = types.NullJSONText{JSONText: raw, Valid: true}
	}
	if tx.SponsorFee != nil {
		row.SponsorFee = decimal.NullDecimal{Decimal: *tx.SponsorFee, Valid: true}
	}
	if tx.CompletedAt != nil {
		row.CompletedAt = sql.NullTime{Time: tx.CompletedAt.UTC(), Valid: true}
	}
	return row, nil
}

func (t *txRow) toDomain() (*domain.Transaction, error) {
	tx := &domain.Transaction{
		ID:             t.ID,
		Kind:           domain.Kind(t.Kind),
		Status:         domain.Status(t.Status),
		Step:           domain.Step(t.Step),
		SourceRef:      t.SourceRef,
		DestinationRef: t.DestinationRef,
		Participants: domain.Participants{
			Source:      t.SourceAddress,
			Destination: t.DestinationAddress,
		},
		RetryCount:  t.RetryCount,
		IsSponsored: t.IsSponsored,
		Version:     t.Version,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}

	payload, err := domain.UnmarshalPayload(tx.Kind, t.Payload)
	if err != nil {
		return nil, fmt.Errorf("transaction %s: %w", t.ID, err)
	}
	tx.Payload = payload

	if t.Linkage.Valid {
		var l domain.Linkage
		if err := json.Unmarshal(t.Linkage.JSONText, &l); err != nil {
			return nil, fmt.Errorf("transaction %s: decode linkage: %w", t.ID, err)
		}
		tx.Linkage = &l
	}
	if t.LastError.Valid {
		var ue apperror.UnifiedError
		if err := json.Unmarshal(t.LastError.JSONText, &ue); err != nil {
			return nil, fmt.Errorf("transaction %s: decode last error: %w", t.ID, err)
		}
		tx.LastError = &ue
	}
	if t.SponsorFee.Valid {
		fee := t.SponsorFee.Decimal
		tx.SponsorFee = &fee
	}
	if t.CompletedAt.Valid {
		ts := t.CompletedAt.Time
		tx.CompletedAt = &ts
	}
	return tx, nil
}

// Create inserts a new transaction.
func (r *TxRepo) Create(ctx context.Context, tx *domain.Transaction) error {
	row, err := toRow(tx)
	if err != nil {
		return err
	}
	row.Version = 1

	query := `
		INSERT INTO transactions (` + txColumns + `)
		VALUES (:id, :kind, :status, :current_step, :source_ref, :destination_ref,
			:source_address, :destination_address, :payload, :linkage, :last_error,
			:retry_count, :is_sponsored, :sponsor_fee, :version, :created_at, :updated_at, :completed_at)
		ON CONFLICT (id) DO NOTHING
	`
	res, err := r.db.NamedExecContext(ctx, query, row)
	if err != nil {
		return fmt.Errorf("failed to create transaction: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrDuplicate
	}
	tx.Version = 1
	return nil
}

// Get retrieves a transaction by id.
func (r *TxRepo) Get(ctx context.Context, id string) (*domain.Transaction, error) {
	return r.getOne(ctx, `SELECT `+txColumns+` FROM transactions WHERE id = $1`, id)
}

// GetBySourceRef retrieves the oldest transaction with the given source reference.
func (r *TxRepo) GetBySourceRef(ctx context.Context, sourceRef string) (*domain.Transaction, error) {
	return r.getOne(ctx, `SELECT `+txColumns+` FROM transactions WHERE source_ref = $1 ORDER BY created_at ASC LIMIT 1`, sourceRef)
}

func (r *TxRepo) getOne(ctx context.Context, query string, arg any) (*domain.Transaction, error) {
	var row txRow
	if err := r.db.GetContext(ctx, &row, query, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return row.toDomain()
}

// Update writes tx guarded by its version.
func (r *TxRepo) Update(ctx context.Context, tx *domain.Transaction) error {
	row, err := toRow(tx)
	if err != nil {
		return err
	}

	query := `
		UPDATE transactions SET
			status = :status,
			current_step = :current_step,
			destination_ref = :destination_ref,
			destination_address = :destination_address,
			payload = :payload,
			linkage = :linkage,
			last_error = :last_error,
			retry_count = :retry_count,
			is_sponsored = :is_sponsored,
			sponsor_fee = :sponsor_fee,
			updated_at = :updated_at,
			completed_at = :completed_at,
			version = version + 1
		WHERE id = :id AND version = :version
	`
	res, err := r.db.NamedExecContext(ctx, query, row)
	if err != nil {
		return fmt.Errorf("failed to update transaction: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update transaction: %w", err)
	}
	if n == 0 {
		var exists bool
		if err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM transactions WHERE id = $1)`, tx.ID); err != nil {
			return fmt.Errorf("failed to check transaction: %w", err)
		}
		if !exists {
			return storage.ErrNotFound
		}
		return storage.ErrConflict
	}
	tx.Version++
	return nil
}

// ListActive retrieves non-terminal transactions, oldest first.
func (r *TxRepo) ListActive(ctx context.Context) ([]*domain.Transaction, error) {
	query := `SELECT ` + txColumns + ` FROM transactions
		WHERE status NOT IN ($1, $2)
		ORDER BY created_at ASC`
	return r.list(ctx, query, string(domain.StatusComplete), string(domain.StatusFailed))
}

// ListByAddress retrieves up to limit+1 transactions touching address, newest first.
func (r *TxRepo) ListByAddress(ctx context.Context, address string, limit, offset int) ([]*domain.Transaction, error) {
	query := `SELECT ` + txColumns + ` FROM transactions
		WHERE lower(source_address) = lower($1) OR lower(destination_address) = lower($1)
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`
	return r.list(ctx, query, address, limit+1, offset)
}

// ListAll retrieves every transaction, newest first.
func (r *TxRepo) ListAll(ctx context.Context) ([]*domain.Transaction, error) {
	return r.list(ctx, `SELECT `+txColumns+` FROM transactions ORDER BY created_at DESC, id DESC`)
}

// Ping checks connectivity.
func (r *TxRepo) Ping(ctx context.Context) error {
	return r.db.Health(ctx)
}

func (r *TxRepo) list(ctx context.Context, query string, args ...any) ([]*domain.Transaction, error) {
	var rows []txRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	out := make([]*domain.Transaction, 0, len(rows))
	for i := range rows {
		tx, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, nil
}
