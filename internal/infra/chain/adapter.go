package chain

import (
	"context"
	"fmt"
	"sort"

	"github.com/vietddude/conductor/internal/core/domain"
)

// Adapter is the boundary between the orchestrator and one chain.
type Adapter interface {
	// ChainID returns the chain identifier
	ChainID() domain.ChainID

	// Observe reports inclusion, depth and outcome of a submitted transaction.
	// A transaction the chain has not seen yet returns a zero Receipt.
	Observe(ctx context.Context, ref string) (domain.Receipt, error)

	// Broadcast submits a signed transaction and returns its reference
	Broadcast(ctx context.Context, raw []byte) (string, error)

	// FindMint looks for the destination-side mint of a bridge transfer
	FindMint(ctx context.Context, q domain.MintQuery) (ref string, found bool, err error)

	// Ping checks the node is reachable
	Ping(ctx context.Context) error
}

// Registry routes calls to the adapter of the requested chain.
type Registry struct {
	adapters map[domain.ChainID]Adapter
}

// NewRegistry creates a registry from adapters.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[domain.ChainID]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.ChainID()] = a
	}
	return r
}

// Get returns the adapter for chain.
func (r *Registry) Get(chain domain.ChainID) (Adapter, error) {
	a, ok := r.adapters[chain]
	if !ok {
		return nil, fmt.Errorf("invalid chain %q: no adapter configured", chain)
	}
	return a, nil
}

// Chains lists configured chains in a stable order.
func (r *Registry) Chains() []domain.ChainID {
	out := make([]domain.ChainID, 0, len(r.adapters))
	for id := range r.adapters {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (r *Registry) Observe(ctx context.Context, chain domain.ChainID, ref string) (domain.Receipt, error) {
	a, err := r.Get(chain)
	if err != nil {
		return domain.Receipt{}, err
	}
	return a.Observe(ctx, ref)
}

func (r *Registry) FindMint(ctx context.Context, chain domain.ChainID, q domain.MintQuery) (string, bool, error) {
	a, err := r.Get(chain)
	if err != nil {
		return "", false, err
	}
	return a.FindMint(ctx, q)
}

func (r *Registry) Broadcast(ctx context.Context, chain domain.ChainID, raw []byte) (string, error) {
	a, err := r.Get(chain)
	if err != nil {
		return "", err
	}
	return a.Broadcast(ctx, raw)
}

// Ping checks every adapter and returns the first failure.
func (r *Registry) Ping(ctx context.Context) error {
	for _, id := range r.Chains() {
		if err := r.adapters[id].Ping(ctx); err != nil {
			return fmt.Errorf("%s: %w", id, err)
		}
	}
	return nil
}
