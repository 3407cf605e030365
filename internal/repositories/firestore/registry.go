package firestore

import (
	"context"
	"errors"
	"time"

	pfirestore "github.com/finitefield/pos-api/internal/platform/firestore"
	"github.com/finitefield/pos-api/internal/repositories"
)

// Registry wires every Firestore repository behind repositories.Registry.
type Registry struct {
	provider *pfirestore.Provider
	unit     *pfirestore.UnitOfWork

	orders     *OrderRepository
	catalog    *CatalogRepository
	tables     *TableRepository
	promotions *PromotionRepository
	usage      *PromotionUsageRepository
	ledger     *LedgerRepository
	customers  *CustomerRepository
	counters   *CounterRepository
}

var _ repositories.Registry = (*Registry)(nil)

// Option configures the repositories built by NewRegistry.
type Option func(*options)

type options struct {
	clock func() time.Time
	tx    []pfirestore.TxOption
}

// WithClock replaces time.Now for the timestamps repositories stamp themselves.
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithTxOptions forwards transaction settings to the shared unit of work.
func WithTxOptions(opts ...pfirestore.TxOption) Option {
	return func(o *options) {
		o.tx = append(o.tx, opts...)
	}
}

func newOptions(opts []Option) options {
	o := options{clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

func (o options) now() time.Time {
	return o.clock().UTC()
}

// NewRegistry builds all repositories on the shared provider.
func NewRegistry(provider *pfirestore.Provider, opts ...Option) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("firestore registry requires provider")
	}
	cfg := newOptions(opts)
	reg := &Registry{provider: provider, unit: pfirestore.NewUnitOfWork(provider, cfg.tx...)}

	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	var err error
	reg.orders, err = NewOrderRepository(provider)
	collect(err)
	reg.catalog, err = NewCatalogRepository(provider)
	collect(err)
	reg.tables, err = NewTableRepository(provider)
	collect(err)
	reg.promotions, err = NewPromotionRepository(provider, opts...)
	collect(err)
	reg.usage, err = NewPromotionUsageRepository(provider)
	collect(err)
	reg.ledger, err = NewLedgerRepository(provider, opts...)
	collect(err)
	reg.customers, err = NewCustomerRepository(provider)
	collect(err)
	reg.counters, err = NewCounterRepository(provider, opts...)
	collect(err)
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return reg, nil
}

// Provider exposes the shared client provider to stores living outside the registry.
func (r *Registry) Provider() *pfirestore.Provider { return r.provider }

func (r *Registry) Close(ctx context.Context) error { return r.provider.Close(ctx) }
func (r *Registry) Ping(ctx context.Context) error  { return r.provider.Ping(ctx) }

func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.unit.RunInTx(ctx, fn)
}

func (r *Registry) Orders() repositories.OrderRepository                  { return r.orders }
func (r *Registry) Catalog() repositories.CatalogRepository               { return r.catalog }
func (r *Registry) Tables() repositories.TableRepository                  { return r.tables }
func (r *Registry) Promotions() repositories.PromotionRepository          { return r.promotions }
func (r *Registry) PromotionUsage() repositories.PromotionUsageRepository { return r.usage }
func (r *Registry) Ledger() repositories.LedgerRepository                 { return r.ledger }
func (r *Registry) Customers() repositories.CustomerRepository            { return r.customers }
func (r *Registry) Counters() repositories.CounterRepository              { return r.counters }
