// Package adapters maps source type tags to the plugins that fetch them.
package adapters

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"aggronation/internal/models"
)

var ErrUnsupportedType = errors.New("unsupported source type")

// Adapter turns a source into canonical items. A returned error means the
// whole call failed and no items should be persisted.
type Adapter interface {
	Fetch(ctx context.Context, src models.Source) ([]models.CanonicalItem, error)
}

// AdapterFunc lets a plain function act as an Adapter.
type AdapterFunc func(ctx context.Context, src models.Source) ([]models.CanonicalItem, error)

func (f AdapterFunc) Fetch(ctx context.Context, src models.Source) ([]models.CanonicalItem, error) {
	return f(ctx, src)
}

// Registry is populated at startup and read on every fetch cycle.
type Registry struct {
	mu       sync.RWMutex
	adapters map[models.SourceType]Adapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[models.SourceType]Adapter)}
}

// Register installs a for t, replacing any previous adapter.
func (r *Registry) Register(t models.SourceType, a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[t] = a
}

// Lookup returns the adapter for t or an error wrapping ErrUnsupportedType.
func (r *Registry) Lookup(t models.SourceType) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[t]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, t)
	}
	return a, nil
}

// Types lists registered type tags in sorted order.
func (r *Registry) Types() []models.SourceType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.SourceType, 0, len(r.adapters))
	for t := range r.adapters {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
