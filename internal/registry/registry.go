package registry

import (
	"fmt"
	"reflect"
	"slices"
	"sync"

	"testbed/internal/api"
	"testbed/pkg/logging"
)

// Entry is one provider registered under one contract.
type Entry struct {
	Contract reflect.Type
	Name     string
	Rank     int
	// Order is the registration position, used as the tie-break.
	Order    int
	Provider api.Provider
}

// Option adjusts an entry at registration time.
type Option func(*Entry)

// Rank sets the provider rank. Higher ranks win when no selector is given.
func Rank(rank int) Option {
	return func(e *Entry) { e.Rank = rank }
}

// Builder collects provider registrations. It is used once, at startup,
// and produces an immutable Registry.
type Builder struct {
	mu      sync.Mutex
	entries []Entry
	err     error
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Provide registers p under the contract T, which must be an interface type.
func Provide[T api.Provider](b *Builder, p T, opts ...Option) {
	contract := reflect.TypeFor[T]()
	b.mu.Lock()
	defer b.mu.Unlock()

	if contract.Kind() != reflect.Interface {
		b.setErr(fmt.Errorf("contract %s is not an interface type", contract))
		return
	}
	if any(p) == nil {
		b.setErr(fmt.Errorf("nil provider registered for %s", contract))
		return
	}
	e := Entry{
		Contract: contract,
		Name:     p.ProviderName(),
		Order:    len(b.entries),
		Provider: p,
	}
	for _, opt := range opts {
		opt(&e)
	}
	b.entries = append(b.entries, e)
}

func (b *Builder) setErr(err error) {
	if b.err == nil {
		b.err = err
	}
}

// Build freezes the registrations into a Registry.
func (b *Builder) Build() (*Registry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return nil, b.err
	}

	r := &Registry{
		all:        slices.Clone(b.entries),
		byContract: make(map[reflect.Type][]Entry),
	}
	for _, e := range r.all {
		r.byContract[e.Contract] = append(r.byContract[e.Contract], e)
	}
	for c, entries := range r.byContract {
		slices.SortStableFunc(entries, func(a, b Entry) int {
			if a.Rank != b.Rank {
				return b.Rank - a.Rank
			}
			return a.Order - b.Order
		})
		r.byContract[c] = entries
	}
	logging.Debug("Registry", "Built provider registry with %d entries", len(r.all))
	return r, nil
}

// Registry indexes providers by contract. It is read-only after Build and
// safe for concurrent use without locking.
type Registry struct {
	all        []Entry
	byContract map[reflect.Type][]Entry
}

// Entries returns every registration in selection order per contract,
// contracts in order of first registration.
func (r *Registry) Entries() []Entry {
	var (
		seen []reflect.Type
		out  []Entry
	)
	for _, e := range r.all {
		if slices.Contains(seen, e.Contract) {
			continue
		}
		seen = append(seen, e.Contract)
		out = append(out, r.byContract[e.Contract]...)
	}
	return out
}

// Lookup returns every provider of contract T in selection order:
// highest rank first, registration order on ties.
func Lookup[T api.Provider](r *Registry) []T {
	entries := r.byContract[reflect.TypeFor[T]()]
	out := make([]T, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Provider.(T))
	}
	return out
}

// LookupOne returns the provider of contract T named selector, or the
// first in selection order when selector is empty.
func LookupOne[T api.Provider](r *Registry, selector string) (T, error) {
	var zero T
	p, ok := r.find(reflect.TypeFor[T](), selector, nil)
	if !ok {
		return zero, &api.ProviderNotFoundError{Contract: reflect.TypeFor[T](), Selector: selector}
	}
	return p.(T), nil
}

// ResourceProvider returns the resource provider of the given kind
// matching selector.
func (r *Registry) ResourceProvider(kind api.ResourceKind, selector string) (api.ResourceProvider, error) {
	contract := reflect.TypeFor[api.ResourceProvider]()
	p, ok := r.find(contract, selector, func(p api.Provider) bool {
		return p.(api.ResourceProvider).Kind() == kind
	})
	if !ok {
		return nil, &api.ProviderNotFoundError{Contract: contract, Selector: fmt.Sprintf("%s/%s", kind, selector)}
	}
	return p.(api.ResourceProvider), nil
}

func (r *Registry) find(contract reflect.Type, selector string, accept func(api.Provider) bool) (api.Provider, bool) {
	for _, e := range r.byContract[contract] {
		if accept != nil && !accept(e.Provider) {
			continue
		}
		if selector == "" || e.Name == selector {
			return e.Provider, true
		}
	}
	return nil, false
}
