package reporting

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	domain "github.com/finitefield/pos-api/internal/domain"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS order_snapshots (
	order_id        TEXT PRIMARY KEY,
	code            TEXT NOT NULL,
	table_id        TEXT,
	customer_id     TEXT,
	staff_id        TEXT NOT NULL,
	status          TEXT NOT NULL,
	payment_status  TEXT NOT NULL,
	payment_method  TEXT,
	subtotal        BIGINT NOT NULL,
	discount_amount BIGINT NOT NULL,
	total_amount    BIGINT NOT NULL,
	paid_amount     BIGINT NOT NULL,
	promotion_code  TEXT,
	items           JSONB NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL,
	completed_at    TIMESTAMPTZ,
	canceled_at     TIMESTAMPTZ,
	captured_at     TIMESTAMPTZ NOT NULL
)`

// captured_at guards the upsert so a late, older snapshot never overwrites a newer one.
const upsertSQL = `
INSERT INTO order_snapshots (
	order_id, code, table_id, customer_id, staff_id, status, payment_status, payment_method,
	subtotal, discount_amount, total_amount, paid_amount, promotion_code, items,
	created_at, completed_at, canceled_at, captured_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
ON CONFLICT (order_id) DO UPDATE SET
	code = EXCLUDED.code,
	table_id = EXCLUDED.table_id,
	customer_id = EXCLUDED.customer_id,
	staff_id = EXCLUDED.staff_id,
	status = EXCLUDED.status,
	payment_status = EXCLUDED.payment_status,
	payment_method = EXCLUDED.payment_method,
	subtotal = EXCLUDED.subtotal,
	discount_amount = EXCLUDED.discount_amount,
	total_amount = EXCLUDED.total_amount,
	paid_amount = EXCLUDED.paid_amount,
	promotion_code = EXCLUDED.promotion_code,
	items = EXCLUDED.items,
	completed_at = EXCLUDED.completed_at,
	canceled_at = EXCLUDED.canceled_at,
	captured_at = EXCLUDED.captured_at
WHERE order_snapshots.captured_at <= EXCLUDED.captured_at`

// Execer is satisfied by *pgxpool.Pool and pgx.Tx.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type snapshotItem struct {
	ID           string `json:"id"`
	CatalogID    string `json:"catalog_item_id,omitempty"`
	CategoryID   string `json:"category_id,omitempty"`
	ParentItemID string `json:"parent_item_id,omitempty"`
	Name         string `json:"name"`
	Quantity     int    `json:"quantity"`
	UnitPrice    int64  `json:"unit_price"`
	TotalPrice   int64  `json:"total_price"`
	Status       string `json:"status"`
	IsTopping    bool   `json:"is_topping,omitempty"`
	IsGift       bool   `json:"is_gift,omitempty"`
}

// PostgresProjector upserts order snapshots into the reporting database.
type PostgresProjector struct {
	db   Execer
	pool *pgxpool.Pool
}

// Connect opens a pool for databaseURL, verifies it and ensures the snapshot table exists.
func Connect(ctx context.Context, databaseURL string) (*PostgresProjector, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("reporting: open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("reporting: ping: %w", err)
	}
	p := &PostgresProjector{db: pool, pool: pool}
	if err := p.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

// NewPostgresProjector wraps an existing connection.
func NewPostgresProjector(db Execer) (*PostgresProjector, error) {
	if db == nil {
		return nil, errors.New("reporting: database is required")
	}
	return &PostgresProjector{db: db}, nil
}

func (p *PostgresProjector) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("reporting: ensure schema: %w", err)
	}
	return nil
}

// ProjectOrder satisfies services.OrderProjector.
func (p *PostgresProjector) ProjectOrder(ctx context.Context, snapshot domain.OrderSnapshot) error {
	order := snapshot.Order
	if order.ID == "" {
		return errors.New("reporting: order id is required")
	}
	items := make([]snapshotItem, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, snapshotItem{
			ID:           item.ID,
			CatalogID:    deref(item.CatalogItemID),
			CategoryID:   deref(item.CategoryID),
			ParentItemID: deref(item.ParentItemID),
			Name:         item.Name,
			Quantity:     item.Quantity,
			UnitPrice:    item.UnitPrice,
			TotalPrice:   item.TotalPrice,
			Status:       string(item.Status),
			IsTopping:    item.IsTopping,
			IsGift:       item.IsGift,
		})
	}
	itemsJSON, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("reporting: marshal items: %w", err)
	}

	var method *string
	if order.PaymentMethod != nil {
		m := string(*order.PaymentMethod)
		method = &m
	}
	var promoCode *string
	if order.Promotion != nil {
		promoCode = &order.Promotion.Code
	}

	_, err = p.db.Exec(ctx, upsertSQL,
		order.ID, order.Code, order.TableID, order.CustomerID, order.StaffID,
		string(order.Status), string(order.PaymentStatus), method,
		order.Subtotal, order.DiscountAmount, order.TotalAmount, order.PaidAmount, promoCode, itemsJSON,
		order.CreatedAt.UTC(), order.CompletedAt, order.CanceledAt, snapshot.CapturedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("reporting: upsert order %s: %w", order.ID, err)
	}
	return nil
}

func (p *PostgresProjector) Ping(ctx context.Context) error {
	if p.pool == nil {
		return nil
	}
	return p.pool.Ping(ctx)
}

func (p *PostgresProjector) Close() {
	if p != nil && p.pool != nil {
		p.pool.Close()
	}
}

func deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
