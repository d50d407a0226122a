// Package retry re-invokes operations that fail with a transient error.
//
// Every failure is run through apperror.Classify. Non-retryable kinds are
// returned after a single invocation; retryable kinds back off exponentially
// until the attempt budget is spent.
package retry

import (
	"context"
	"errors"
	"log/slog"
	"time"

	goretry "github.com/sethvargo/go-retry"

	"github.com/vietddude/conductor/internal/core/apperror"
	"github.com/vietddude/conductor/internal/metrics"
)

// Options controls one retried operation.
type Options struct {
	// Label names the operation in logs and metrics.
	Label string
	// MaxAttempts is the total number of invocations, including the first.
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultOptions provides sensible defaults.
var DefaultOptions = Options{
	MaxAttempts: 3,
	BaseDelay:   time.Second,
	MaxDelay:    30 * time.Second,
}

func (o Options) merge(def Options) Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = def.MaxAttempts
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = def.BaseDelay
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = def.MaxDelay
	}
	if o.MaxDelay < o.BaseDelay {
		o.MaxDelay = o.BaseDelay
	}
	if o.Label == "" {
		o.Label = "operation"
	}
	return o
}

// Stats reports what happened during Do.
type Stats struct {
	Attempts int
}

// Executor holds the defaults and logger shared by retried operations.
type Executor struct {
	defaults Options
	logger   *slog.Logger
}

// NewExecutor creates an Executor using DefaultOptions.
func NewExecutor(logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		defaults: DefaultOptions,
		logger:   logger.With("component", "retry"),
	}
}

// WithDefaults returns a copy of e whose zero-valued Options fields fall back to def.
func (e *Executor) WithDefaults(def Options) *Executor {
	c := *e
	c.defaults = def.merge(DefaultOptions)
	return &c
}

// Defaults returns the fallback options.
func (e *Executor) Defaults() Options {
	return e.defaults
}

// Do runs op until it succeeds, fails with a non-retryable error, or
// opts.MaxAttempts invocations have been made. The returned error is a
// *apperror.UnifiedError, except when ctx is done, in which case ctx.Err()
// is returned as is.
func Do[T any](ctx context.Context, e *Executor, opts Options, op func(ctx context.Context) (T, error)) (T, Stats, error) {
	if e == nil {
		e = NewExecutor(nil)
	}
	opts = opts.merge(e.defaults)

	backoff := goretry.NewExponential(opts.BaseDelay)
	backoff = goretry.WithCappedDuration(opts.MaxDelay, backoff)
	backoff = goretry.WithMaxRetries(uint64(opts.MaxAttempts-1), backoff)

	var (
		result  T
		stats   Stats
		lastErr *apperror.UnifiedError
	)
	err := goretry.Do(ctx, backoff, func(ctx context.Context) error {
		stats.Attempts++
		if stats.Attempts > 1 {
			metrics.RetryAttemptsTotal.WithLabelValues(opts.Label).Inc()
		}

		v, err := op(ctx)
		if err == nil {
			result = v
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		lastErr = apperror.Classify(err, map[string]any{"label": opts.Label})
		if !lastErr.Retryable {
			return lastErr
		}
		if stats.Attempts < opts.MaxAttempts {
			e.logger.Debug("Operation failed, retrying",
				"label", opts.Label,
				"attempt", stats.Attempts,
				"max_attempts", opts.MaxAttempts,
				"kind", lastErr.Kind,
				"code", lastErr.Code,
			)
		}
		return goretry.RetryableError(lastErr)
	})
	if err == nil {
		return result, stats, nil
	}

	var zero T
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		if ctx.Err() != nil {
			return zero, stats, ctx.Err()
		}
	}
	if lastErr == nil {
		lastErr = apperror.Classify(err, map[string]any{"label": opts.Label})
	}
	if stats.Attempts > 1 {
		e.logger.Warn("Operation failed after retries",
			"label", opts.Label,
			"attempts", stats.Attempts,
			"kind", lastErr.Kind,
			"code", lastErr.Code,
		)
	}
	metrics.FailuresTotal.WithLabelValues(opts.Label, lastErr.Kind.String()).Inc()
	return zero, stats, lastErr
}

// Run is Do for operations without a result.
func Run(ctx context.Context, e *Executor, opts Options, op func(ctx context.Context) error) (Stats, error) {
	_, stats, err := Do(ctx, e, opts, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return stats, err
}
