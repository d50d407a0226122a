package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vietddude/conductor/internal/core/apperror"
	"github.com/vietddude/conductor/internal/core/domain"
	"github.com/vietddude/conductor/internal/core/retry"
	"github.com/vietddude/conductor/internal/infra/storage"
	"github.com/vietddude/conductor/internal/metrics"
)

// errStale means another writer changed the record first.
var errStale = errors.New("stale transaction")

// ProcessQueue runs one pass over every non-terminal transaction.
// Per-transaction failures are recorded on the transaction, not returned.
func (m *Monitor) ProcessQueue(ctx context.Context) error {
	start := time.Now()
	defer func() {
		metrics.QueuePassDuration.Observe(time.Since(start).Seconds())
	}()

	active, err := m.repo.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("failed to list active transactions: %w", err)
	}
	metrics.ActiveTransactions.Set(float64(len(active)))
	if len(active) == 0 {
		return nil
	}

	var g errgroup.Group
	g.SetLimit(m.cfg.Concurrency)
	for _, tx := range active {
		if !m.acquire(tx.ID) {
			m.logger.Debug("Transaction already in flight, skipping", "id", tx.ID)
			continue
		}
		g.Go(func() error {
			defer m.release(tx.ID)
			m.process(ctx, tx)
			return nil
		})
	}
	_ = g.Wait()
	return ctx.Err()
}

func (m *Monitor) acquire(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, busy := m.inFlight[id]; busy {
		return false
	}
	m.inFlight[id] = struct{}{}
	return true
}

func (m *Monitor) release(id string) {
	m.mu.Lock()
	delete(m.inFlight, id)
	m.mu.Unlock()
}

// process advances tx as far as its collaborators allow in one pass.
func (m *Monitor) process(ctx context.Context, tx *domain.Transaction) {
	for !tx.Status.IsTerminal() {
		if ctx.Err() != nil {
			return
		}
		if age := m.now().Sub(tx.CreatedAt); age > m.cfg.TransactionTimeout {
			m.expire(ctx, tx, age)
			return
		}

		next, advanced, err := m.step(ctx, tx)
		if err != nil {
			m.fail(ctx, tx, err)
			return
		}
		if !advanced {
			return
		}
		if err := m.save(ctx, next, tx.Status, ""); err != nil {
			return
		}
		tx = next
	}
}

// step performs the work for the current status on a copy of tx.
func (m *Monitor) step(ctx context.Context, tx *domain.Transaction) (*domain.Transaction, bool, error) {
	next := tx.Clone()
	if !tx.Kind.IsBridge() {
		ok, err := m.settleDirect(ctx, next)
		return next, ok, err
	}

	var (
		ok  bool
		err error
	)
	switch tx.Status {
	case domain.StatusPending:
		ok, err = m.observeBurn(ctx, next)
	case domain.StatusConfirming:
		ok, err = m.awaitConfirmations(ctx, next)
	case domain.StatusAttesting:
		ok, err = m.awaitAttestation(ctx, next)
	case domain.StatusMinting:
		ok, err = m.awaitMint(ctx, next)
	default:
		err = fmt.Errorf("%w: no step for status %s", domain.ErrInvalidTransition, tx.Status)
	}
	return next, ok, err
}

func (m *Monitor) observeBurn(ctx context.Context, tx *domain.Transaction) (bool, error) {
	rec, err := m.observe(ctx, tx)
	if err != nil || !rec.Included {
		return false, err
	}
	if rec.MessageID != "" {
		tx.Linkage = &domain.Linkage{MessageID: rec.MessageID}
	}
	return true, moveTo(tx, domain.StatusConfirming, domain.StepConfirmation)
}

func (m *Monitor) awaitConfirmations(ctx context.Context, tx *domain.Transaction) (bool, error) {
	rec, err := m.observe(ctx, tx)
	if err != nil || !rec.Included || rec.Confirmations < m.cfg.RequiredConfirmations {
		return false, err
	}
	messageID := rec.MessageID
	if messageID == "" && tx.Linkage != nil {
		messageID = tx.Linkage.MessageID
	}
	if messageID == "" {
		messageID = tx.SourceRef
	}
	tx.Linkage = &domain.Linkage{MessageID: messageID}
	return true, moveTo(tx, domain.StatusAttesting, domain.StepAttestation)
}

func (m *Monitor) awaitAttestation(ctx context.Context, tx *domain.Transaction) (bool, error) {
	if tx.Linkage == nil || tx.Linkage.MessageID == "" {
		return false, apperror.New(apperror.KindContract, "The burn did not emit a cross-chain message", map[string]any{
			"transaction_id": tx.ID,
		})
	}
	type result struct {
		proof string
		ready bool
	}
	res, _, err := retry.Do(ctx, m.exec, m.retryOptions("lifecycle.attestation"), func(ctx context.Context) (result, error) {
		ctx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
		defer cancel()
		proof, ready, err := m.sources.Attestations.Lookup(ctx, tx.Linkage.MessageID)
		return result{proof, ready}, err
	})
	if err != nil || !res.ready {
		return false, err
	}
	tx.Linkage.Attestation = res.proof
	return true, moveTo(tx, domain.StatusMinting, domain.StepMint)
}

func (m *Monitor) awaitMint(ctx context.Context, tx *domain.Transaction) (bool, error) {
	p, ok := tx.Bridge()
	if !ok {
		return false, apperror.Validation("transaction %s has no bridge payload", tx.ID)
	}
	q := domain.MintQuery{
		Recipient: tx.Participants.Destination,
		Asset:     p.Asset,
	}
	if q.Recipient == "" {
		q.Recipient = tx.Participants.Source
	}
	if tx.Linkage != nil {
		q.MessageID = tx.Linkage.MessageID
		q.Attestation = tx.Linkage.Attestation
	}
	if p.Amount.IsInteger() {
		q.Amount = p.Amount.BigInt()
	}

	type result struct {
		ref   string
		found bool
	}
	res, _, err := retry.Do(ctx, m.exec, m.retryOptions("lifecycle.mint"), func(ctx context.Context) (result, error) {
		ctx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
		defer cancel()
		ref, found, err := m.sources.Mints.FindMint(ctx, p.DestinationChain, q)
		return result{ref, found}, err
	})
	if err != nil || !res.found {
		return false, err
	}
	tx.DestinationRef = res.ref
	if err := moveTo(tx, domain.StatusComplete, domain.StepDone); err != nil {
		return false, err
	}
	completed := m.now().UTC()
	tx.CompletedAt = &completed
	return true, nil
}

// settleDirect completes a swap or liquidity operation once its source
// transaction is confirmed.
func (m *Monitor) settleDirect(ctx context.Context, tx *domain.Transaction) (bool, error) {
	rec, err := m.observe(ctx, tx)
	if err != nil || !rec.Included || rec.Confirmations < m.cfg.RequiredConfirmations {
		return false, err
	}
	tx.DestinationRef = tx.SourceRef
	if err := moveTo(tx, domain.StatusComplete, domain.StepDone); err != nil {
		return false, err
	}
	completed := m.now().UTC()
	tx.CompletedAt = &completed
	return true, nil
}

// observe reads the source receipt. An on-chain abort is a ContractError.
func (m *Monitor) observe(ctx context.Context, tx *domain.Transaction) (domain.Receipt, error) {
	chain := tx.SourceChain()
	rec, _, err := retry.Do(ctx, m.exec, m.retryOptions("lifecycle.observe"), func(ctx context.Context) (domain.Receipt, error) {
		ctx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
		defer cancel()
		return m.sources.Confirmations.Observe(ctx, chain, tx.SourceRef)
	})
	if err != nil {
		return rec, err
	}
	if rec.Aborted {
		return rec, apperror.New(apperror.KindContract, "", map[string]any{
			"cause":      rec.Reason,
			"chain":      string(chain),
			"source_ref": tx.SourceRef,
		})
	}
	return rec, nil
}

func (m *Monitor) retryOptions(label string) retry.Options {
	opts := m.cfg.Retry
	opts.Label = label
	return opts
}

func moveTo(tx *domain.Transaction, to domain.Status, step domain.Step) error {
	if !domain.CanTransition(tx.Kind, tx.Status, to) {
		return fmt.Errorf("%w: %s %s -> %s", domain.ErrInvalidTransition, tx.Kind, tx.Status, to)
	}
	tx.Status = to
	tx.Step = step
	return nil
}

// fail records err on tx and either spends one retry or fails it.
func (m *Monitor) fail(ctx context.Context, tx *domain.Transaction, err error) {
	if ctx.Err() != nil {
		return
	}
	ue := apperror.Classify(err, map[string]any{
		"transaction_id": tx.ID,
		"status":         string(tx.Status),
	})
	metrics.FailuresTotal.WithLabelValues("lifecycle", ue.Kind.String()).Inc()

	next := tx.Clone()
	next.LastError = ue
	if ue.Retryable && tx.RetryCount < m.cfg.MaxRetries {
		next.RetryCount++
		m.logger.Warn("Transaction step failed, will retry",
			"id", tx.ID,
			"status", tx.Status,
			"retry_count", next.RetryCount,
			"kind", ue.Kind,
			"code", ue.Code,
			"cause", ue.Cause(),
		)
		_ = m.save(ctx, next, tx.Status, "")
		return
	}

	next.Status = domain.StatusFailed
	m.logger.Warn("Transaction failed",
		"id", tx.ID,
		"from", tx.Status,
		"retry_count", tx.RetryCount,
		"kind", ue.Kind,
		"code", ue.Code,
		"retryable", ue.Retryable,
		"cause", ue.Cause(),
	)
	_ = m.save(ctx, next, tx.Status, ue.Code)
}

func (m *Monitor) expire(ctx context.Context, tx *domain.Transaction, age time.Duration) {
	ue := apperror.New(apperror.KindNetwork, "The transaction did not complete within the allowed time", map[string]any{
		"transaction_id": tx.ID,
		"status":         string(tx.Status),
		"age":            age.Round(time.Second).String(),
		"timeout":        m.cfg.TransactionTimeout.String(),
	})
	metrics.FailuresTotal.WithLabelValues("lifecycle", ue.Kind.String()).Inc()

	next := tx.Clone()
	next.LastError = ue
	next.Status = domain.StatusFailed
	m.logger.Warn("Transaction timed out", "id", tx.ID, "status", tx.Status, "age", age)
	_ = m.save(ctx, next, tx.Status, ue.Code)
}

// save persists next with a version check. When the status changed it
// reports the transition.
func (m *Monitor) save(ctx context.Context, next *domain.Transaction, from domain.Status, reason string) error {
	next.UpdatedAt = m.now().UTC()
	if err := m.repo.Update(ctx, next); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			m.logger.Debug("Transaction changed by another writer, dropping update", "id", next.ID)
			return errStale
		}
		m.logger.Error("Failed to persist transaction", "id", next.ID, "error", err)
		return err
	}
	if next.Status == from {
		return nil
	}

	metrics.TransitionsTotal.WithLabelValues(string(next.Kind), string(from), string(next.Status)).Inc()
	m.logger.Info("Transaction advanced",
		"id", next.ID,
		"kind", next.Kind,
		"from", from,
		"to", next.Status,
		"step", next.Step,
	)
	m.notify(domain.NewTransition(next, from, reason))
	return nil
}
