// Package consistency cross-checks the pool views held by independent
// subsystems and pre-validates AMM operations against the pool listing.
package consistency

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vietddude/conductor/internal/core/apperror"
	"github.com/vietddude/conductor/internal/core/domain"
	"github.com/vietddude/conductor/internal/core/retry"
	"github.com/vietddude/conductor/internal/metrics"
)

// PoolsCacheKey holds the cached pool listing.
const PoolsCacheKey = "pools:all"

// PoolDirectory is the pool discovery service.
type PoolDirectory interface {
	GetAllPools(ctx context.Context) ([]domain.Pool, error)
	// GetPoolMetadata returns nil when the pool is unknown.
	GetPoolMetadata(ctx context.Context, id string) (*domain.PoolMetadata, error)
}

// ReserveSource reads on-chain pool reserves.
type ReserveSource interface {
	GetPoolReserves(ctx context.Context, id string) (*domain.PoolReserves, error)
}

// AnalyticsSource reads pool analytics.
type AnalyticsSource interface {
	GetPoolAnalytics(ctx context.Context, id string) (*domain.PoolAnalytics, error)
}

// Cache is a byte cache.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

// Config controls the validator.
type Config struct {
	PoolCacheTTL time.Duration
	FetchTimeout time.Duration
	Retry        retry.Options
}

func (c Config) withDefaults() Config {
	if c.PoolCacheTTL <= 0 {
		c.PoolCacheTTL = time.Minute
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 10 * time.Second
	}
	return c
}

// OperationRequest describes an AMM operation before it is signed.
type OperationRequest struct {
	Operation   domain.Kind `json:"operation"`
	AssetA      string      `json:"asset_a"`
	AssetB      string      `json:"asset_b"`
	Participant string      `json:"participant,omitempty"`
}

// ValidationResult is the outcome of ValidateOperation.
type ValidationResult struct {
	Valid bool                   `json:"valid"`
	Error *apperror.UnifiedError `json:"error,omitempty"`
}

// Validator checks pool state across subsystems.
type Validator struct {
	cfg       Config
	directory PoolDirectory
	reserves  ReserveSource
	analytics AnalyticsSource
	cache     Cache
	exec      *retry.Executor
	logger    *slog.Logger
}

// NewValidator creates a Validator. cache may be nil.
func NewValidator(
	cfg Config,
	directory PoolDirectory,
	reserves ReserveSource,
	analytics AnalyticsSource,
	cache Cache,
	exec *retry.Executor,
	logger *slog.Logger,
) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	if exec == nil {
		exec = retry.NewExecutor(logger)
	}
	return &Validator{
		cfg:       cfg.withDefaults(),
		directory: directory,
		reserves:  reserves,
		analytics: analytics,
		cache:     cache,
		exec:      exec,
		logger:    logger.With("component", "consistency"),
	}
}

// EnsureConsistency fetches reserves, metadata and analytics for poolID
// concurrently and reports every disagreement between them.
func (v *Validator) EnsureConsistency(ctx context.Context, poolID string) domain.PoolConsistencySnapshot {
	snap := domain.PoolConsistencySnapshot{PoolID: poolID, Issues: []string{}}

	id, err := domain.ParsePoolID(poolID)
	if err != nil {
		snap.Issues = append(snap.Issues, err.Error())
		metrics.ConsistencyIssuesTotal.WithLabelValues("malformed").Inc()
		return snap
	}

	var (
		reserves  *domain.PoolReserves
		meta      *domain.PoolMetadata
		analytics *domain.PoolAnalytics
		errs      [3]*apperror.UnifiedError
	)
	var g errgroup.Group
	g.Go(func() error {
		reserves, errs[0] = fetch(ctx, v, "consistency.reserves", func(ctx context.Context) (*domain.PoolReserves, error) {
			return v.reserves.GetPoolReserves(ctx, poolID)
		})
		return nil
	})
	g.Go(func() error {
		meta, errs[1] = fetch(ctx, v, "consistency.metadata", func(ctx context.Context) (*domain.PoolMetadata, error) {
			return v.directory.GetPoolMetadata(ctx, poolID)
		})
		return nil
	})
	g.Go(func() error {
		analytics, errs[2] = fetch(ctx, v, "consistency.analytics", func(ctx context.Context) (*domain.PoolAnalytics, error) {
			return v.analytics.GetPoolAnalytics(ctx, poolID)
		})
		return nil
	})
	_ = g.Wait()

	for i, name := range []string{"reserves", "metadata", "analytics"} {
		if errs[i] != nil {
			snap.Issues = append(snap.Issues, fmt.Sprintf("failed to fetch %s: %s (%s)", name, errs[i].Message, errs[i].Code))
		}
	}
	snap.Issues = append(snap.Issues, compare(id, reserves, meta, analytics, errs[1] == nil)...)
	snap.Consistent = len(snap.Issues) == 0

	if !snap.Consistent {
		metrics.ConsistencyIssuesTotal.WithLabelValues(poolID).Add(float64(len(snap.Issues)))
		v.logger.Warn("Pool views disagree", "pool", poolID, "issues", snap.Issues)
		v.invalidate(ctx, poolID)
	}
	return snap
}

// compare runs the semantic checks on whatever was fetched. A nil metadata
// is only meaningful when its fetch succeeded.
func compare(id domain.PoolID, r *domain.PoolReserves, m *domain.PoolMetadata, a *domain.PoolAnalytics, metaFetched bool) []string {
	var issues []string
	if r != nil {
		if r.ReserveA.IsNegative() || r.ReserveB.IsNegative() {
			issues = append(issues, fmt.Sprintf("negative reserves: %s/%s", r.ReserveA, r.ReserveB))
		}
		if metaFetched && m == nil && !r.IsZero() {
			issues = append(issues, "metadata missing for pool with non-zero reserves")
		}
		if a != nil && a.TVL.IsPositive() && r.IsZero() {
			issues = append(issues, fmt.Sprintf("analytics reports TVL %s but reserves are zero", a.TVL))
		}
	}
	if m != nil && !id.Matches(m.AssetA, m.AssetB) {
		issues = append(issues, fmt.Sprintf("metadata assets %s/%s do not match pool %s", m.AssetA, m.AssetB, id))
	}
	return issues
}

// invalidate drops the cached pool listing so the next read goes to the
// directory.
func (v *Validator) invalidate(ctx context.Context, poolID string) {
	if v.cache == nil {
		return
	}
	if err := v.cache.Del(ctx, PoolsCacheKey); err != nil {
		ue := cacheError(err, "invalidate", PoolsCacheKey)
		v.logger.Warn("Failed to invalidate pool cache", "pool", poolID, "kind", ue.Kind, "code", ue.Code)
	}
}

// ValidateOperation checks an AMM operation can be attempted. Swaps need a
// listed pool for the pair; liquidity operations may create one.
func (v *Validator) ValidateOperation(ctx context.Context, req OperationRequest) ValidationResult {
	switch {
	case req.AssetA == "" || req.AssetB == "":
		return invalid(apperror.Validation("both assets are required"))
	case req.AssetA == req.AssetB:
		return invalid(apperror.Validation("assets must differ"))
	}

	switch req.Operation {
	case domain.KindSwap:
		pools, err := v.listPools(ctx)
		if err != nil {
			return invalid(err)
		}
		for _, p := range pools {
			if poolOf(p).Matches(req.AssetA, req.AssetB) {
				return ValidationResult{Valid: true}
			}
		}
		return invalid(apperror.Validation("no pool exists for %s/%s", req.AssetA, req.AssetB))
	case domain.KindAddLiquidity, domain.KindRemoveLiquidity:
		return ValidationResult{Valid: true}
	}
	return invalid(apperror.Validation("unsupported operation %q", req.Operation))
}

func invalid(err *apperror.UnifiedError) ValidationResult {
	return ValidationResult{Valid: false, Error: err}
}

func poolOf(p domain.Pool) domain.PoolID {
	if p.AssetA != "" && p.AssetB != "" {
		return domain.PoolID{AssetA: p.AssetA, AssetB: p.AssetB}
	}
	id, _ := domain.ParsePoolID(p.ID)
	return id
}

// listPools reads the pool listing through the cache. Cache failures fall
// back to the directory.
func (v *Validator) listPools(ctx context.Context) ([]domain.Pool, *apperror.UnifiedError) {
	if v.cache != nil {
		raw, found, err := v.cache.Get(ctx, PoolsCacheKey)
		switch {
		case err != nil:
			ue := cacheError(err, "get", PoolsCacheKey)
			v.logger.Warn("Pool cache unavailable, reading directory", "kind", ue.Kind, "code", ue.Code)
		case found:
			var pools []domain.Pool
			if err := json.Unmarshal(raw, &pools); err == nil {
				return pools, nil
			}
			v.logger.Warn("Discarding unreadable pool cache entry")
		}
	}

	pools, ue := fetch(ctx, v, "consistency.pools", v.directory.GetAllPools)
	if ue != nil {
		return nil, ue
	}

	if v.cache != nil {
		raw, err := json.Marshal(pools)
		if err == nil {
			err = v.cache.Set(ctx, PoolsCacheKey, raw, v.cfg.PoolCacheTTL)
		}
		if err != nil {
			ue := cacheError(err, "set", PoolsCacheKey)
			v.logger.Warn("Failed to cache pool listing", "kind", ue.Kind, "code", ue.Code)
		}
	}
	return pools, nil
}

func fetch[T any](ctx context.Context, v *Validator, label string, op func(ctx context.Context) (T, error)) (T, *apperror.UnifiedError) {
	opts := v.cfg.Retry
	opts.Label = label
	out, _, err := retry.Do(ctx, v.exec, opts, func(ctx context.Context) (T, error) {
		ctx, cancel := context.WithTimeout(ctx, v.cfg.FetchTimeout)
		defer cancel()
		return op(ctx)
	})
	if err != nil {
		return out, apperror.Classify(err, map[string]any{"label": label})
	}
	return out, nil
}

func cacheError(err error, op, key string) *apperror.UnifiedError {
	return apperror.New(apperror.KindCache, "", map[string]any{
		"cause": err.Error(),
		"op":    op,
		"key":   key,
	})
}
