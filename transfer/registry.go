package transfer

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/alphabill-org/transferout/types"
)

/*
Registry is the ordered collection of transfer providers.

Priority order is deterministic: providers listed in the priority list come
first (in list order), followed by the rest of the registered providers in
registration order.
*/
type Registry struct {
	mu        sync.RWMutex
	providers map[types.ProviderID]*registration
	// registration order
	order    []types.ProviderID
	priority []types.ProviderID
}

type registration struct {
	id       types.ProviderID
	provider Provider
	timeout  time.Duration
}

type RegisterOption func(*registration)

/*
WithTimeout sets the time limit for single Transfer/Recover call of the
provider. Zero means no limit.
*/
func WithTimeout(d time.Duration) RegisterOption {
	return func(r *registration) {
		r.timeout = d
	}
}

// Entry is read-only view of a registered provider.
type Entry struct {
	ID       types.ProviderID
	Provider Provider
	Timeout  time.Duration
}

func NewRegistry(priority ...types.ProviderID) (*Registry, error) {
	for i, id := range priority {
		if id == "" {
			return nil, fmt.Errorf("priority list item %d is empty", i)
		}
		if slices.Contains(priority[:i], id) {
			return nil, fmt.Errorf("provider %q is listed more than once in the priority list", id)
		}
	}
	return &Registry{
		providers: make(map[types.ProviderID]*registration),
		priority:  slices.Clone(priority),
	}, nil
}

func (r *Registry) Register(id types.ProviderID, p Provider, opts ...RegisterOption) error {
	if id == "" {
		return fmt.Errorf("provider id must not be empty")
	}
	if p == nil {
		return fmt.Errorf("registering %q: %w", id, ErrNilProvider)
	}

	reg := &registration{id: id, provider: p}
	for _, o := range opts {
		o(reg)
	}
	if reg.timeout < 0 {
		return fmt.Errorf("registering %q: negative timeout %s", id, reg.timeout)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.providers[id]; ok {
		return fmt.Errorf("registering %q: %w", id, ErrDuplicateProvider)
	}
	r.providers[id] = reg
	r.order = append(r.order, id)
	return nil
}

/*
Validate checks that the registry is usable by the coordinator: at least one
provider is registered and every id in the priority list is registered.
*/
func (r *Registry) Validate() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.providers) == 0 {
		return ErrNoProviders
	}
	for _, id := range r.priority {
		if _, ok := r.providers[id]; !ok {
			return fmt.Errorf("priority list item %q: %w", id, ErrUnknownProvider)
		}
	}
	return nil
}

func (r *Registry) Lookup(id types.ProviderID) (Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.providers[id]
	if !ok {
		return Entry{}, fmt.Errorf("%w %q", ErrUnknownProvider, id)
	}
	return reg.entry(), nil
}

// Ordered returns all registered providers in priority order.
func (r *Registry) Ordered() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make([]Entry, 0, len(r.providers))
	for _, id := range r.priority {
		if reg, ok := r.providers[id]; ok {
			entries = append(entries, reg.entry())
		}
	}
	for _, id := range r.order {
		if !slices.Contains(r.priority, id) {
			entries = append(entries, r.providers[id].entry())
		}
	}
	return entries
}

/*
Chain returns the continuation chain for a transfer: when "hint" is not
empty that provider is first, followed by the rest in priority order.
*/
func (r *Registry) Chain(hint types.ProviderID) ([]Entry, error) {
	ordered := r.Ordered()
	if hint == "" {
		return ordered, nil
	}
	idx := slices.IndexFunc(ordered, func(e Entry) bool { return e.ID == hint })
	if idx < 0 {
		return nil, fmt.Errorf("provider hint: %w %q", ErrUnknownProvider, hint)
	}
	chain := make([]Entry, 0, len(ordered))
	chain = append(chain, ordered[idx])
	chain = append(chain, ordered[:idx]...)
	return append(chain, ordered[idx+1:]...), nil
}

// AnyActive returns true when any of the registered providers has an outstanding transfer.
func (r *Registry) AnyActive() bool {
	for _, e := range r.Ordered() {
		if e.Provider.Active() {
			return true
		}
	}
	return false
}

func (reg *registration) entry() Entry {
	return Entry{ID: reg.id, Provider: reg.provider, Timeout: reg.timeout}
}
