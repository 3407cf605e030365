package repositories

import (
	"context"
	"time"

	domain "github.com/finitefield/pos-api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error
	Ping(ctx context.Context) error

	Orders() OrderRepository
	Catalog() CatalogRepository
	Tables() TableRepository
	Promotions() PromotionRepository
	PromotionUsage() PromotionUsageRepository
	Ledger() LedgerRepository
	Customers() CustomerRepository
	Counters() CounterRepository

	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork groups repository operations in a single atomic boundary. Repository calls made with
// the context passed to fn participate in the same transaction.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// OrderRepository persists orders together with their embedded item arena.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	Update(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	// ListOpenByTable returns PENDING and IN_PROGRESS orders seated at the table, oldest first.
	ListOpenByTable(ctx context.Context, tableID string) ([]domain.Order, error)
}

// CatalogRepository is the read contract the engine needs from the inventory catalog.
type CatalogRepository interface {
	GetItem(ctx context.Context, itemID string) (domain.CatalogItem, error)
	// GetRecipe returns an empty recipe when the item has none.
	GetRecipe(ctx context.Context, itemID string) (domain.Recipe, error)
	GetCombo(ctx context.Context, comboID string) (domain.Combo, error)
}

// TableRepository is the table registry.
type TableRepository interface {
	GetTable(ctx context.Context, tableID string) (domain.Table, error)
	SetStatus(ctx context.Context, tableID string, status domain.TableStatus, at time.Time) error
}

// PromotionRepository loads promotions and maintains the running usage counter.
type PromotionRepository interface {
	FindByID(ctx context.Context, promotionID string) (domain.Promotion, error)
	FindByCode(ctx context.Context, code string) (domain.Promotion, error)
	// AdjustUsage adds delta to the usage counter. A positive delta fails with a conflict error when it
	// would exceed limit (limit <= 0 means unlimited).
	AdjustUsage(ctx context.Context, promotionID string, delta int, limit int) (int, error)
}

// PromotionUsageRepository is the append-only usage ledger used to enforce caps.
type PromotionUsageRepository interface {
	CountUsage(ctx context.Context, promotionID string, customerID string) (int, error)
	RecordUsage(ctx context.Context, usage domain.PromotionUsage) error
	// DeleteUsage removes the usage recorded for the order. Missing records are not an error.
	DeleteUsage(ctx context.Context, promotionID string, orderID string) error
}

// LedgerRepository is the finance ledger write contract.
type LedgerRepository interface {
	// EnsureCategory returns the category with the given id, creating it from the template when absent.
	EnsureCategory(ctx context.Context, category domain.LedgerCategory) (domain.LedgerCategory, error)
	PostTransaction(ctx context.Context, txn domain.LedgerTransaction) (string, error)
	CancelTransaction(ctx context.Context, transactionID string, at time.Time) error
	ListByReference(ctx context.Context, refType domain.LedgerReferenceType, refID string) ([]domain.LedgerTransaction, error)
}

// CustomerRepository stores customer profiles and tier definitions.
type CustomerRepository interface {
	FindByID(ctx context.Context, customerID string) (domain.Customer, error)
	Update(ctx context.Context, customer domain.Customer) error
	ListGroups(ctx context.Context) ([]domain.CustomerGroup, error)
}

// CounterRepository provides monotonically increasing sequences.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
}
