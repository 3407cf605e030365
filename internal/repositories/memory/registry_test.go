package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/finitefield/pos-api/internal/domain"
	"github.com/finitefield/pos-api/internal/repositories"
)

func TestRunInTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry(WithSeed(Seed{Tables: []domain.Table{{ID: "tbl_1", Name: "T1"}}}))

	boom := errors.New("boom")
	err := reg.RunInTx(ctx, func(txCtx context.Context) error {
		require.NoError(t, reg.Orders().Insert(txCtx, domain.Order{ID: "ord_1", Status: domain.OrderStatusPending}))
		require.NoError(t, reg.Tables().SetStatus(txCtx, "tbl_1", domain.TableStatusOccupied, time.Now()))
		_, err := reg.Counters().Next(txCtx, "order-code-20251001", 1)
		require.NoError(t, err)
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = reg.Orders().FindByID(ctx, "ord_1")
	var repoErr repositories.RepositoryError
	require.ErrorAs(t, err, &repoErr)
	assert.True(t, repoErr.IsNotFound())

	table, err := reg.Tables().GetTable(ctx, "tbl_1")
	require.NoError(t, err)
	assert.Equal(t, domain.TableStatusAvailable, table.Status)

	next, err := reg.Counters().Next(ctx, "order-code-20251001", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), next)
}

func TestOrdersAreCopiedOnReadAndWrite(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry()
	order := domain.Order{
		ID:     "ord_1",
		Status: domain.OrderStatusPending,
		Items:  []domain.OrderItem{{ID: "itm_1", Quantity: 1, Customization: map[string]string{"ice": "less"}}},
	}
	require.NoError(t, reg.Orders().Insert(ctx, order))
	order.Items[0].Quantity = 5
	order.Items[0].Customization["ice"] = "none"

	stored, err := reg.Orders().FindByID(ctx, "ord_1")
	require.NoError(t, err)
	assert.Equal(t, 1, stored.Items[0].Quantity)
	assert.Equal(t, "less", stored.Items[0].Customization["ice"])
}

func TestListOpenByTableSkipsClosedOrders(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry()
	table := "tbl_1"
	base := time.Date(2025, 10, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, reg.Orders().Insert(ctx, domain.Order{ID: "ord_b", TableID: &table, Status: domain.OrderStatusInProgress, CreatedAt: base.Add(time.Minute)}))
	require.NoError(t, reg.Orders().Insert(ctx, domain.Order{ID: "ord_a", TableID: &table, Status: domain.OrderStatusPending, CreatedAt: base}))
	require.NoError(t, reg.Orders().Insert(ctx, domain.Order{ID: "ord_c", TableID: &table, Status: domain.OrderStatusCompleted, CreatedAt: base}))

	open, err := reg.Orders().ListOpenByTable(ctx, table)
	require.NoError(t, err)
	require.Len(t, open, 2)
	assert.Equal(t, "ord_a", open[0].ID)
	assert.Equal(t, "ord_b", open[1].ID)
}

func TestAdjustUsageEnforcesLimit(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry(WithSeed(Seed{Promotions: []domain.Promotion{{ID: "prm_1", Code: "lunch10", UsageCount: 1}}}))

	count, err := reg.Promotions().AdjustUsage(ctx, "prm_1", 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	_, err = reg.Promotions().AdjustUsage(ctx, "prm_1", 1, 2)
	var repoErr repositories.RepositoryError
	require.ErrorAs(t, err, &repoErr)
	assert.True(t, repoErr.IsConflict())

	count, err = reg.Promotions().AdjustUsage(ctx, "prm_1", -5, 0)
	require.NoError(t, err)
	assert.Zero(t, count)

	promo, err := reg.Promotions().FindByCode(ctx, "LUNCH10")
	require.NoError(t, err)
	assert.Equal(t, "prm_1", promo.ID)
}

func TestUsageRecordsAreKeyedByOrder(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry()
	usage := domain.PromotionUsage{ID: "pus_1", PromotionID: "prm_1", CustomerID: "cus_1", OrderID: "ord_1"}
	require.NoError(t, reg.PromotionUsage().RecordUsage(ctx, usage))
	require.Error(t, reg.PromotionUsage().RecordUsage(ctx, usage))

	count, err := reg.PromotionUsage().CountUsage(ctx, "prm_1", "cus_1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.NoError(t, reg.PromotionUsage().DeleteUsage(ctx, "prm_1", "ord_1"))
	require.NoError(t, reg.PromotionUsage().DeleteUsage(ctx, "prm_1", "ord_1"))
	count, err = reg.PromotionUsage().CountUsage(ctx, "prm_1", "cus_1")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestLedgerRequiresCategory(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry()
	_, err := reg.Ledger().PostTransaction(ctx, domain.LedgerTransaction{CategoryID: "sales_income", Amount: 1000})
	require.Error(t, err)

	_, err = reg.Ledger().EnsureCategory(ctx, domain.LedgerCategory{ID: "sales_income", Direction: domain.LedgerDirectionIncome})
	require.NoError(t, err)
	id, err := reg.Ledger().PostTransaction(ctx, domain.LedgerTransaction{
		CategoryID:    "sales_income",
		Amount:        1000,
		ReferenceType: domain.LedgerReferenceOrder,
		ReferenceID:   "ord_1",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	require.NoError(t, reg.Ledger().CancelTransaction(ctx, id, time.Now()))
	txns, err := reg.Ledger().ListByReference(ctx, domain.LedgerReferenceOrder, "ord_1")
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.Equal(t, domain.LedgerTransactionCanceled, txns[0].Status)
}

func TestCanceledContextIsRejected(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewRegistry().Orders().FindByID(ctx, "ord_1")
	require.ErrorIs(t, err, context.Canceled)
}
