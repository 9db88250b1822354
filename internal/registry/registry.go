// Package registry caches the list of today's sales.
//
// The cache is read-mostly and refreshed only by full reload. Totals
// and statuses are server-computed, so the list is replaced wholesale
// after every mutation rather than patched incrementally; a partially
// updated list could show totals no server ever produced.
package registry

import (
	"context"
	"log/slog"
	"sync"

	"github.com/alryyan1/salesync/internal/facade"
	"github.com/alryyan1/salesync/internal/sale"
)

// Registry holds the sales recorded today, optionally filtered to one
// operator. Safe for concurrent use.
type Registry struct {
	svc      facade.SaleService
	operator *int64

	mu    sync.RWMutex
	sales []sale.Sale
}

// Option configures a Registry.
type Option func(*Registry)

// FilterByOperator limits the registry to sales recorded by the given
// operator. Without it the registry holds every operator's sales.
func FilterByOperator(id int64) Option {
	return func(r *Registry) {
		r.operator = &id
	}
}

// New creates an empty registry backed by the given facade.
// The registry holds no data until the first Refresh.
func New(svc facade.SaleService, opts ...Option) *Registry {
	r := &Registry{
		svc:   svc,
		sales: []sale.Sale{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Refresh reloads the full list from the facade. On failure the cached
// list is left untouched.
func (r *Registry) Refresh(ctx context.Context) error {
	sales, err := r.svc.GetTodaysSales(ctx, facade.TodayQuery{OperatorID: r.operator})
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.sales = sales
	r.mu.Unlock()

	slog.Debug("registry refreshed", "sales", len(sales), "filtered", r.operator != nil)
	return nil
}

// Sales returns a deep copy of the cached list, ordered by sale id.
func (r *Registry) Sales() []sale.Sale {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]sale.Sale, len(r.sales))
	for i, s := range r.sales {
		out[i] = s.Clone()
	}
	return out
}

// Find returns the cached sale with the given id.
func (r *Registry) Find(id int64) (sale.Sale, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, s := range r.sales {
		if s.ID == id {
			return s.Clone(), true
		}
	}
	return sale.Sale{}, false
}

// Latest returns the most recently created sale, by highest id.
// Used after settling a fresh sale to select it for the receipt.
func (r *Registry) Latest() (sale.Sale, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.sales) == 0 {
		return sale.Sale{}, false
	}
	latest := r.sales[0]
	for _, s := range r.sales[1:] {
		if s.ID > latest.ID {
			latest = s
		}
	}
	return latest.Clone(), true
}

// Len returns the number of cached sales.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sales)
}
