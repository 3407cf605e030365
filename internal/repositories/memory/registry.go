// Package memory implements the repository contracts in process. Units of work are serialized behind
// a single mutex and roll back to a snapshot on failure. It backs local development and tests.
package memory

import (
	"context"
	"maps"
	"sync"
	"time"

	domain "github.com/finitefield/pos-api/internal/domain"
	"github.com/finitefield/pos-api/internal/repositories"
)

type txKey struct{}

// Registry is an in-memory repositories.Registry.
type Registry struct {
	mu    sync.Mutex
	state *state
	clock func() time.Time
}

// Option customises the registry.
type Option func(*Registry)

// WithSeed loads reference data into the registry.
func WithSeed(seed Seed) Option {
	return func(r *Registry) {
		r.state.apply(seed)
	}
}

// WithClock overrides the clock used for generated timestamps.
func WithClock(clock func() time.Time) Option {
	return func(r *Registry) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// NewRegistry builds an empty registry and applies options in order.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		state: newState(),
		clock: time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

var _ repositories.Registry = (*Registry)(nil)

// Close is a no-op.
func (r *Registry) Close(context.Context) error { return nil }

// Ping always succeeds.
func (r *Registry) Ping(context.Context) error { return nil }

// RunInTx serializes fn against every other unit of work and restores the previous state when fn fails.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if r.inTx(ctx) {
		return fn(ctx)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	snapshot := r.state.clone()
	if err := fn(context.WithValue(ctx, txKey{}, r)); err != nil {
		r.state = snapshot
		return err
	}
	return nil
}

func (r *Registry) Orders() repositories.OrderRepository                  { return orderRepository{r} }
func (r *Registry) Catalog() repositories.CatalogRepository               { return catalogRepository{r} }
func (r *Registry) Tables() repositories.TableRepository                  { return tableRepository{r} }
func (r *Registry) Promotions() repositories.PromotionRepository          { return promotionRepository{r} }
func (r *Registry) PromotionUsage() repositories.PromotionUsageRepository { return usageRepository{r} }
func (r *Registry) Ledger() repositories.LedgerRepository                 { return ledgerRepository{r} }
func (r *Registry) Customers() repositories.CustomerRepository            { return customerRepository{r} }
func (r *Registry) Counters() repositories.CounterRepository              { return counterRepository{r} }

func (r *Registry) inTx(ctx context.Context) bool {
	owner, _ := ctx.Value(txKey{}).(*Registry)
	return owner == r
}

// withState runs fn under the registry lock, or directly when ctx already belongs to a unit of work.
func (r *Registry) withState(ctx context.Context, fn func(*state) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.inTx(ctx) {
		return fn(r.state)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn(r.state)
}

func (r *Registry) now() time.Time {
	return r.clock().UTC()
}

type state struct {
	orders           map[string]domain.Order
	catalog          map[string]domain.CatalogItem
	recipes          map[string]domain.Recipe
	combos           map[string]domain.Combo
	tables           map[string]domain.Table
	promotions       map[string]domain.Promotion
	usage            map[string]domain.PromotionUsage
	ledgerCategories map[string]domain.LedgerCategory
	ledger           map[string]domain.LedgerTransaction
	ledgerOrder      []string
	customers        map[string]domain.Customer
	groups           map[string]domain.CustomerGroup
	counters         map[string]int64
}

func newState() *state {
	return &state{
		orders:           make(map[string]domain.Order),
		catalog:          make(map[string]domain.CatalogItem),
		recipes:          make(map[string]domain.Recipe),
		combos:           make(map[string]domain.Combo),
		tables:           make(map[string]domain.Table),
		promotions:       make(map[string]domain.Promotion),
		usage:            make(map[string]domain.PromotionUsage),
		ledgerCategories: make(map[string]domain.LedgerCategory),
		ledger:           make(map[string]domain.LedgerTransaction),
		customers:        make(map[string]domain.Customer),
		groups:           make(map[string]domain.CustomerGroup),
		counters:         make(map[string]int64),
	}
}

// clone copies every table. Stored values are replaced on write, never mutated in place, so copying
// the maps is enough to snapshot them.
func (s *state) clone() *state {
	return &state{
		orders:           maps.Clone(s.orders),
		catalog:          maps.Clone(s.catalog),
		recipes:          maps.Clone(s.recipes),
		combos:           maps.Clone(s.combos),
		tables:           maps.Clone(s.tables),
		promotions:       maps.Clone(s.promotions),
		usage:            maps.Clone(s.usage),
		ledgerCategories: maps.Clone(s.ledgerCategories),
		ledger:           maps.Clone(s.ledger),
		ledgerOrder:      append([]string(nil), s.ledgerOrder...),
		customers:        maps.Clone(s.customers),
		groups:           maps.Clone(s.groups),
		counters:         maps.Clone(s.counters),
	}
}
