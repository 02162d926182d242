// Package adapters defines the contract upstream source integrations
// implement and a registry the scheduler dispatches through.
package adapters

import (
	"context"
	"strings"
	"sync"

	"github.com/cargolink/tracker/errs"
	"github.com/cargolink/tracker/internal/domain"
)

// Source normalizes upstream tracking payloads into canonical events for one
// registered source. Fetch returns the events currently known upstream for
// the shipment; errors carry a transient or permanent upstream kind.
type Source interface {
	// SourceID returns the registry identifier the adapter ingests under.
	SourceID() string
	Fetch(ctx context.Context, shipment domain.Shipment) ([]domain.CanonicalEvent, error)
}

// Registry indexes adapters by source id.
type Registry struct {
	mu      sync.RWMutex
	sources map[string]Source
}

// NewRegistry constructs an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{sources: make(map[string]Source)}
}

// Register adds an adapter, replacing any previous registration for its id.
func (r *Registry) Register(src Source) error {
	if src == nil {
		return errs.Validation("adapter registry", "source adapter required")
	}
	id := strings.TrimSpace(src.SourceID())
	if id == "" {
		return errs.Validation("adapter registry", "source id required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[id] = src
	return nil
}

// Lookup returns the adapter registered for the source id.
func (r *Registry) Lookup(id string) (Source, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	src, ok := r.sources[id]
	return src, ok
}

// All returns every registered adapter.
func (r *Registry) All() []Source {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Source, 0, len(r.sources))
	for _, src := range r.sources {
		out = append(out, src)
	}
	return out
}
