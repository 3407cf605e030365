package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	domain "github.com/finitefield/pos-api/internal/domain"
	"github.com/finitefield/pos-api/internal/repositories"
)

const ledgerTransactionIDPrefix = "txn_"

var (
	otherExpenseCategory = domain.LedgerCategory{
		ID:        "other_expense",
		Name:      "Other expense",
		Direction: domain.LedgerDirectionExpense,
		System:    true,
	}
	salesIncomeCategory = domain.LedgerCategory{
		ID:        "sales_income",
		Name:      "Sales income",
		Direction: domain.LedgerDirectionIncome,
		System:    true,
	}
)

// LossAccountantDeps bundles collaborators for loss accounting.
type LossAccountantDeps struct {
	Catalog     repositories.CatalogRepository
	Ledger      repositories.LedgerRepository
	Clock       func() time.Time
	IDGenerator func() string
}

// LossAccountant values canceled in-production items at cost and posts the loss to the ledger.
type LossAccountant struct {
	catalog repositories.CatalogRepository
	ledger  repositories.LedgerRepository
	clock   func() time.Time
	newID   func() string
}

// NewLossAccountant validates dependencies and builds the accountant.
func NewLossAccountant(deps LossAccountantDeps) (*LossAccountant, error) {
	if deps.Catalog == nil {
		return nil, errors.New("loss accountant: catalog repository is required")
	}
	if deps.Ledger == nil {
		return nil, errors.New("loss accountant: ledger repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	return &LossAccountant{
		catalog: deps.Catalog,
		ledger:  deps.Ledger,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID: idGen,
	}, nil
}

// Record posts the cost of a reduction when the canceled item had already reached the kitchen and
// returns the loss amount. Items canceled while PENDING cost nothing.
func (l *LossAccountant) Record(ctx context.Context, order domain.Order, reduced ReduceResult, staffID string) (int64, error) {
	if !reduced.PreviousStatus.InKitchen() || reduced.CanceledQuantity <= 0 {
		return 0, nil
	}

	unitCost, err := l.unitCost(ctx, reduced.Canceled)
	if err != nil {
		return 0, err
	}
	loss := unitCost * int64(reduced.CanceledQuantity)

	if reduced.Full {
		for _, topping := range reduced.CanceledToppings {
			cost, err := l.unitCost(ctx, topping)
			if err != nil {
				return 0, err
			}
			loss += cost * int64(topping.Quantity)
		}
	}
	if loss <= 0 {
		return 0, nil
	}

	category, err := l.ledger.EnsureCategory(ctx, otherExpenseCategory)
	if err != nil {
		return 0, mapRepositoryError(err)
	}
	txn := domain.LedgerTransaction{
		ID:            ledgerTransactionIDPrefix + l.newID(),
		CategoryID:    category.ID,
		Amount:        loss,
		Direction:     domain.LedgerDirectionExpense,
		ReferenceType: domain.LedgerReferenceOrder,
		ReferenceID:   order.ID,
		Description:   fmt.Sprintf("Loss on canceled %s x%d (order %s)", reduced.Canceled.Name, reduced.CanceledQuantity, order.Code),
		StaffID:       staffID,
		Status:        domain.LedgerTransactionPosted,
		CreatedAt:     l.clock(),
	}
	if _, err := l.ledger.PostTransaction(ctx, txn); err != nil {
		return 0, mapRepositoryError(err)
	}
	return loss, nil
}

// unitCost prefers the catalog average cost, then the recipe cost, then the sold unit price.
func (l *LossAccountant) unitCost(ctx context.Context, item domain.OrderItem) (int64, error) {
	if item.CatalogItemID == nil {
		return item.UnitPrice, nil
	}
	itemID := *item.CatalogItemID

	catalogItem, err := l.catalog.GetItem(ctx, itemID)
	switch {
	case err == nil:
		if catalogItem.AvgUnitCost > 0 {
			return catalogItem.AvgUnitCost, nil
		}
	case errors.Is(mapRepositoryError(err), ErrResourceNotFound):
		return item.UnitPrice, nil
	default:
		return 0, mapRepositoryError(err)
	}

	recipe, err := l.catalog.GetRecipe(ctx, itemID)
	if err != nil && !errors.Is(mapRepositoryError(err), ErrResourceNotFound) {
		return 0, mapRepositoryError(err)
	}
	cost := decimal.Zero
	for _, ingredient := range recipe.Ingredients {
		cost = cost.Add(ingredient.Quantity.Mul(decimal.NewFromInt(ingredient.AvgUnitCost)))
	}
	if recipeCost := roundMoney(cost); recipeCost > 0 {
		return recipeCost, nil
	}
	return item.UnitPrice, nil
}
