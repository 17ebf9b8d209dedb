// Package registry holds the set of Smart Yield pools known to the service
// and keeps it fresh from the upstream API.
package registry

import (
	"sort"
	"sync"

	"github.com/alanyoungcy/syport/internal/domain"
)

// Registry is a concurrency-safe pool registry keyed by pool address. It is
// empty until the first successful refresh.
type Registry struct {
	mu    sync.RWMutex
	pools map[string]domain.Pool
	ready chan struct{}
	once  sync.Once
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		pools: make(map[string]domain.Pool),
		ready: make(chan struct{}),
	}
}

// Replace swaps the registry contents for pools, decorating each with its
// display metadata. Pools without an address are skipped. The first
// non-empty Replace closes the Ready channel.
func (r *Registry) Replace(pools []domain.Pool) {
	next := make(map[string]domain.Pool, len(pools))
	for _, p := range pools {
		if p.SmartYieldAddress == "" {
			continue
		}
		next[domain.AddressKey(p.SmartYieldAddress)] = Decorate(p)
	}

	r.mu.Lock()
	r.pools = next
	r.mu.Unlock()

	if len(next) > 0 {
		r.once.Do(func() { close(r.ready) })
	}
}

// Snapshot returns a copy of the registry map. Callers may keep it.
func (r *Registry) Snapshot() map[string]domain.Pool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]domain.Pool, len(r.pools))
	for k, v := range r.pools {
		out[k] = v
	}
	return out
}

// Get looks up a pool by address.
func (r *Registry) Get(address string) (domain.Pool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.pools[domain.AddressKey(address)]
	return p, ok
}

// Len returns the number of known pools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.pools)
}

// Ready is closed once the registry has been populated for the first time.
func (r *Registry) Ready() <-chan struct{} {
	return r.ready
}

// List returns all pools ordered by protocol id, then underlying symbol.
func (r *Registry) List() []domain.Pool {
	r.mu.RLock()
	out := make([]domain.Pool, 0, len(r.pools))
	for _, p := range r.pools {
		out = append(out, p)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].ProtocolID != out[j].ProtocolID {
			return out[i].ProtocolID < out[j].ProtocolID
		}
		if out[i].UnderlyingSymbol != out[j].UnderlyingSymbol {
			return out[i].UnderlyingSymbol < out[j].UnderlyingSymbol
		}
		return out[i].SmartYieldAddress < out[j].SmartYieldAddress
	})
	return out
}

// Filters lists the distinct originator markets and underlying tokens that
// can be used to filter redemptions.
type Filters struct {
	Originators []domain.MarketMeta `json:"originators"`
	Tokens      []string            `json:"tokens"`
}

// Filters returns the filter values present in the registry, sorted.
func (r *Registry) Filters() Filters {
	seenMarket := make(map[string]bool)
	seenToken := make(map[string]bool)
	f := Filters{Originators: []domain.MarketMeta{}, Tokens: []string{}}

	for _, p := range r.List() {
		if p.ProtocolID != "" && !seenMarket[p.ProtocolID] {
			seenMarket[p.ProtocolID] = true
			m := domain.MarketMeta{ID: p.ProtocolID, Name: p.ProtocolID}
			if p.Market != nil {
				m = *p.Market
			}
			f.Originators = append(f.Originators, m)
		}
		if p.UnderlyingSymbol != "" && !seenToken[p.UnderlyingSymbol] {
			seenToken[p.UnderlyingSymbol] = true
			f.Tokens = append(f.Tokens, p.UnderlyingSymbol)
		}
	}
	sort.Strings(f.Tokens)
	return f
}
