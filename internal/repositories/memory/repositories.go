package memory

import (
	"cmp"
	"context"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/finitefield/pos-api/internal/domain"
)

type orderRepository struct{ r *Registry }

func (o orderRepository) Insert(ctx context.Context, order domain.Order) error {
	return o.r.withState(ctx, func(s *state) error {
		if _, exists := s.orders[order.ID]; exists {
			return conflict("order", order.ID, "already exists")
		}
		s.orders[order.ID] = copyOrder(order)
		return nil
	})
}

func (o orderRepository) Update(ctx context.Context, order domain.Order) error {
	return o.r.withState(ctx, func(s *state) error {
		if _, exists := s.orders[order.ID]; !exists {
			return notFound("order", order.ID)
		}
		s.orders[order.ID] = copyOrder(order)
		return nil
	})
}

func (o orderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	var out domain.Order
	err := o.r.withState(ctx, func(s *state) error {
		order, ok := s.orders[orderID]
		if !ok {
			return notFound("order", orderID)
		}
		out = copyOrder(order)
		return nil
	})
	return out, err
}

func (o orderRepository) ListOpenByTable(ctx context.Context, tableID string) ([]domain.Order, error) {
	var out []domain.Order
	err := o.r.withState(ctx, func(s *state) error {
		for _, order := range s.orders {
			if order.Status.IsClosed() || order.TableID == nil || *order.TableID != tableID {
				continue
			}
			out = append(out, copyOrder(order))
		}
		return nil
	})
	slices.SortFunc(out, func(a, b domain.Order) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out, err
}

type catalogRepository struct{ r *Registry }

func (c catalogRepository) GetItem(ctx context.Context, itemID string) (domain.CatalogItem, error) {
	var out domain.CatalogItem
	err := c.r.withState(ctx, func(s *state) error {
		item, ok := s.catalog[itemID]
		if !ok {
			return notFound("catalog item", itemID)
		}
		out = item
		return nil
	})
	return out, err
}

func (c catalogRepository) GetRecipe(ctx context.Context, itemID string) (domain.Recipe, error) {
	out := domain.Recipe{ItemID: itemID}
	err := c.r.withState(ctx, func(s *state) error {
		if recipe, ok := s.recipes[itemID]; ok {
			out = domain.Recipe{ItemID: itemID, Ingredients: slices.Clone(recipe.Ingredients)}
		}
		return nil
	})
	return out, err
}

func (c catalogRepository) GetCombo(ctx context.Context, comboID string) (domain.Combo, error) {
	var out domain.Combo
	err := c.r.withState(ctx, func(s *state) error {
		combo, ok := s.combos[comboID]
		if !ok {
			return notFound("combo", comboID)
		}
		combo.Members = slices.Clone(combo.Members)
		out = combo
		return nil
	})
	return out, err
}

type tableRepository struct{ r *Registry }

func (t tableRepository) GetTable(ctx context.Context, tableID string) (domain.Table, error) {
	var out domain.Table
	err := t.r.withState(ctx, func(s *state) error {
		table, ok := s.tables[tableID]
		if !ok {
			return notFound("table", tableID)
		}
		out = table
		return nil
	})
	return out, err
}

func (t tableRepository) SetStatus(ctx context.Context, tableID string, status domain.TableStatus, at time.Time) error {
	return t.r.withState(ctx, func(s *state) error {
		table, ok := s.tables[tableID]
		if !ok {
			return notFound("table", tableID)
		}
		table.Status = status
		table.UpdatedAt = at.UTC()
		s.tables[tableID] = table
		return nil
	})
}

type promotionRepository struct{ r *Registry }

func (p promotionRepository) FindByID(ctx context.Context, promotionID string) (domain.Promotion, error) {
	var out domain.Promotion
	err := p.r.withState(ctx, func(s *state) error {
		promo, ok := s.promotions[promotionID]
		if !ok {
			return notFound("promotion", promotionID)
		}
		out = promo
		return nil
	})
	return out, err
}

func (p promotionRepository) FindByCode(ctx context.Context, code string) (domain.Promotion, error) {
	var out domain.Promotion
	err := p.r.withState(ctx, func(s *state) error {
		for _, promo := range s.promotions {
			if promo.Code != "" && promo.Code == code {
				out = promo
				return nil
			}
		}
		return notFound("promotion code", code)
	})
	return out, err
}

func (p promotionRepository) AdjustUsage(ctx context.Context, promotionID string, delta int, limit int) (int, error) {
	var count int
	err := p.r.withState(ctx, func(s *state) error {
		promo, ok := s.promotions[promotionID]
		if !ok {
			return notFound("promotion", promotionID)
		}
		next := promo.UsageCount + delta
		if delta > 0 && limit > 0 && next > limit {
			return conflict("promotion", promotionID, "usage limit reached")
		}
		promo.UsageCount = max(0, next)
		promo.UpdatedAt = p.r.now()
		s.promotions[promotionID] = promo
		count = promo.UsageCount
		return nil
	})
	return count, err
}

type usageRepository struct{ r *Registry }

func usageKey(promotionID, orderID string) string {
	return promotionID + "_" + orderID
}

func (u usageRepository) CountUsage(ctx context.Context, promotionID string, customerID string) (int, error) {
	count := 0
	err := u.r.withState(ctx, func(s *state) error {
		for _, usage := range s.usage {
			if usage.PromotionID == promotionID && usage.CustomerID == customerID {
				count++
			}
		}
		return nil
	})
	return count, err
}

func (u usageRepository) RecordUsage(ctx context.Context, usage domain.PromotionUsage) error {
	return u.r.withState(ctx, func(s *state) error {
		key := usageKey(usage.PromotionID, usage.OrderID)
		if _, exists := s.usage[key]; exists {
			return conflict("promotion usage", key, "already recorded")
		}
		s.usage[key] = usage
		return nil
	})
}

func (u usageRepository) DeleteUsage(ctx context.Context, promotionID string, orderID string) error {
	return u.r.withState(ctx, func(s *state) error {
		delete(s.usage, usageKey(promotionID, orderID))
		return nil
	})
}

type ledgerRepository struct{ r *Registry }

func (l ledgerRepository) EnsureCategory(ctx context.Context, category domain.LedgerCategory) (domain.LedgerCategory, error) {
	var out domain.LedgerCategory
	err := l.r.withState(ctx, func(s *state) error {
		if existing, ok := s.ledgerCategories[category.ID]; ok {
			out = existing
			return nil
		}
		if category.CreatedAt.IsZero() {
			category.CreatedAt = l.r.now()
		}
		s.ledgerCategories[category.ID] = category
		out = category
		return nil
	})
	return out, err
}

func (l ledgerRepository) PostTransaction(ctx context.Context, txn domain.LedgerTransaction) (string, error) {
	err := l.r.withState(ctx, func(s *state) error {
		if _, ok := s.ledgerCategories[txn.CategoryID]; !ok {
			return notFound("ledger category", txn.CategoryID)
		}
		if txn.ID == "" {
			txn.ID = "txn_" + ulid.Make().String()
		}
		if _, exists := s.ledger[txn.ID]; exists {
			return conflict("ledger transaction", txn.ID, "already exists")
		}
		if txn.Status == "" {
			txn.Status = domain.LedgerTransactionPosted
		}
		s.ledger[txn.ID] = txn
		s.ledgerOrder = append(s.ledgerOrder, txn.ID)
		return nil
	})
	if err != nil {
		return "", err
	}
	return txn.ID, nil
}

func (l ledgerRepository) CancelTransaction(ctx context.Context, transactionID string, at time.Time) error {
	return l.r.withState(ctx, func(s *state) error {
		txn, ok := s.ledger[transactionID]
		if !ok {
			return notFound("ledger transaction", transactionID)
		}
		at = at.UTC()
		txn.Status = domain.LedgerTransactionCanceled
		txn.CanceledAt = &at
		s.ledger[transactionID] = txn
		return nil
	})
}

func (l ledgerRepository) ListByReference(ctx context.Context, refType domain.LedgerReferenceType, refID string) ([]domain.LedgerTransaction, error) {
	var out []domain.LedgerTransaction
	err := l.r.withState(ctx, func(s *state) error {
		for _, id := range s.ledgerOrder {
			txn := s.ledger[id]
			if txn.ReferenceType == refType && txn.ReferenceID == refID {
				out = append(out, txn)
			}
		}
		return nil
	})
	return out, err
}

type customerRepository struct{ r *Registry }

func (c customerRepository) FindByID(ctx context.Context, customerID string) (domain.Customer, error) {
	var out domain.Customer
	err := c.r.withState(ctx, func(s *state) error {
		customer, ok := s.customers[customerID]
		if !ok {
			return notFound("customer", customerID)
		}
		out = customer
		return nil
	})
	return out, err
}

func (c customerRepository) Update(ctx context.Context, customer domain.Customer) error {
	return c.r.withState(ctx, func(s *state) error {
		if _, ok := s.customers[customer.ID]; !ok {
			return notFound("customer", customer.ID)
		}
		s.customers[customer.ID] = customer
		return nil
	})
}

func (c customerRepository) ListGroups(ctx context.Context) ([]domain.CustomerGroup, error) {
	var out []domain.CustomerGroup
	err := c.r.withState(ctx, func(s *state) error {
		out = slices.Collect(maps.Values(s.groups))
		return nil
	})
	slices.SortFunc(out, func(a, b domain.CustomerGroup) int {
		return cmp.Compare(b.Priority, a.Priority)
	})
	return out, err
}

type counterRepository struct{ r *Registry }

func (c counterRepository) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	if step <= 0 {
		step = 1
	}
	var value int64
	err := c.r.withState(ctx, func(s *state) error {
		value = s.counters[counterID] + step
		s.counters[counterID] = value
		return nil
	})
	return value, err
}

func copyOrder(order domain.Order) domain.Order {
	cloned := order
	cloned.Items = make([]domain.OrderItem, len(order.Items))
	for i, item := range order.Items {
		item.Customization = maps.Clone(item.Customization)
		cloned.Items[i] = item
	}
	if order.Promotion != nil {
		promo := *order.Promotion
		cloned.Promotion = &promo
	}
	return cloned
}
