// Package routing spreads one chain's calls over several node endpoints.
//
// The Router rotates round-robin over healthy endpoints and moves a call to
// the next endpoint when the current one fails with a transport, throttling
// or server error. An endpoint that fails repeatedly is skipped until its
// cooldown elapses.
package routing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/vietddude/conductor/internal/infra/rpc/provider"
	"github.com/vietddude/conductor/internal/metrics"
)

const (
	defaultFailureThreshold = 5
	defaultCooldown         = 30 * time.Second
)

// Endpoint is one node the Router can send calls to.
type Endpoint interface {
	provider.Provider
	provider.Caller
	provider.RESTClient
}

type endpointState struct {
	consecutiveFails int
	openUntil        time.Time
}

// Router implements provider.Caller and provider.RESTClient over a set of
// endpoints for one chain.
type Router struct {
	chain     string
	endpoints []Endpoint
	threshold int
	cooldown  time.Duration
	logger    *slog.Logger
	now       func() time.Time

	mu     sync.Mutex
	next   int
	states map[string]*endpointState
}

// Option configures a Router.
type Option func(*Router)

// WithCircuitBreaker skips an endpoint for cooldown after threshold
// consecutive failures.
func WithCircuitBreaker(threshold int, cooldown time.Duration) Option {
	return func(r *Router) {
		if threshold > 0 {
			r.threshold = threshold
		}
		if cooldown > 0 {
			r.cooldown = cooldown
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) {
		r.logger = l
	}
}

// NewRouter creates a router for chain. Endpoints are tried in the given order
// on the first call.
func NewRouter(chain string, endpoints []Endpoint, opts ...Option) *Router {
	r := &Router{
		chain:     chain,
		endpoints: endpoints,
		threshold: defaultFailureThreshold,
		cooldown:  defaultCooldown,
		logger:    slog.Default(),
		now:       time.Now,
		states:    make(map[string]*endpointState, len(endpoints)),
	}
	for _, opt := range opts {
		opt(r)
	}
	for _, e := range endpoints {
		r.states[e.GetName()] = &endpointState{}
	}
	return r
}

// Call makes a JSON-RPC call on the first endpoint that answers.
func (r *Router) Call(ctx context.Context, method string, params []any, out any) error {
	return r.try(ctx, method, func(e Endpoint) error {
		return e.Call(ctx, method, params, out)
	})
}

// Get performs a REST GET on the first endpoint that answers.
func (r *Router) Get(ctx context.Context, path string, out any) error {
	return r.try(ctx, path, func(e Endpoint) error {
		return e.Get(ctx, path, out)
	})
}

// Post performs a REST POST on the first endpoint that answers.
func (r *Router) Post(ctx context.Context, path string, body any, out any) error {
	return r.try(ctx, path, func(e Endpoint) error {
		return e.Post(ctx, path, body, out)
	})
}

// Endpoints returns the names of all endpoints with their health.
func (r *Router) Endpoints() map[string]provider.HealthStatus {
	out := make(map[string]provider.HealthStatus, len(r.endpoints))
	for _, e := range r.endpoints {
		out[e.GetName()] = e.GetHealth()
	}
	return out
}

// Close closes every endpoint.
func (r *Router) Close() error {
	var errs []error
	for _, e := range r.endpoints {
		errs = append(errs, e.Close())
	}
	return errors.Join(errs...)
}

func (r *Router) try(ctx context.Context, label string, fn func(Endpoint) error) error {
	candidates := r.candidates()
	if len(candidates) == 0 {
		return fmt.Errorf("no endpoints for chain %s", r.chain)
	}

	var lastErr error
	for i, e := range candidates {
		err := fn(e)
		if err == nil {
			r.recordSuccess(e.GetName())
			return nil
		}
		if ctx.Err() != nil || !ShouldFailover(err) {
			return err
		}

		lastErr = err
		r.recordFailure(e.GetName())
		if i < len(candidates)-1 {
			metrics.ProviderFailoversTotal.WithLabelValues(r.chain, e.GetName()).Inc()
			r.logger.Warn("Failing over to next endpoint",
				"chain", r.chain,
				"from", e.GetName(),
				"to", candidates[i+1].GetName(),
				"call", label,
				"error", err,
			)
		}
	}
	if len(candidates) == 1 {
		return lastErr
	}
	return fmt.Errorf("all endpoints failed for chain %s: %w", r.chain, lastErr)
}

// candidates returns usable endpoints starting at the round-robin cursor.
// When every endpoint is tripped, all of them are returned so calls keep
// probing for recovery.
func (r *Router) candidates() []Endpoint {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(r.endpoints)
	if n == 0 {
		return nil
	}
	start := r.next
	r.next = (r.next + 1) % n

	now := r.now()
	ordered := make([]Endpoint, 0, n)
	usable := make([]Endpoint, 0, n)
	for i := range n {
		e := r.endpoints[(start+i)%n]
		ordered = append(ordered, e)
		if now.Before(r.states[e.GetName()].openUntil) || !e.IsAvailable() {
			continue
		}
		usable = append(usable, e)
	}
	if len(usable) == 0 {
		return ordered
	}
	return usable
}

func (r *Router) recordSuccess(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.states[name]
	st.consecutiveFails = 0
	st.openUntil = time.Time{}
}

func (r *Router) recordFailure(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.states[name]
	st.consecutiveFails++
	if st.consecutiveFails >= r.threshold {
		st.openUntil = r.now().Add(r.cooldown)
		st.consecutiveFails = 0
		r.logger.Warn("Endpoint circuit opened", "chain", r.chain, "endpoint", name, "cooldown", r.cooldown)
	}
}

// ShouldFailover reports whether err is the endpoint's fault rather than the
// request's. JSON-RPC errors, 404s and other 4xx answers are returned as-is.
func ShouldFailover(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var rpcErr *provider.RPCError
	if errors.As(err, &rpcErr) {
		// -32005: limit exceeded
		return rpcErr.Code == -32005
	}
	var se *provider.StatusError
	if errors.As(err, &se) {
		switch {
		case se.Code == http.StatusTooManyRequests, se.Code == http.StatusForbidden, se.Code == http.StatusUnauthorized:
			return true
		case se.Code >= 500:
			return true
		default:
			return false
		}
	}
	return true
}
