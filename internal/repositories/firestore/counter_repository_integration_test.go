//go:build integration

package firestore

import (
	"context"
	"errors"
	"os"
	"slices"
	"sync"
	"testing"
	"time"

	domain "github.com/finitefield/pos-api/internal/domain"
	pconfig "github.com/finitefield/pos-api/internal/platform/config"
	pfirestore "github.com/finitefield/pos-api/internal/platform/firestore"
	"github.com/finitefield/pos-api/internal/repositories"
)

func newEmulatorRegistry(t *testing.T, opts ...Option) *Registry {
	t.Helper()
	host := os.Getenv("FIRESTORE_EMULATOR_HOST")
	if host == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}
	provider := pfirestore.NewProvider(pconfig.FirestoreConfig{ProjectID: "pos-repo-test", EmulatorHost: host})
	reg, err := NewRegistry(provider, opts...)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	t.Cleanup(func() { _ = reg.Close(context.Background()) })
	return reg
}

func TestCounterRepositoryIntegration(t *testing.T) {
	reg := newEmulatorRegistry(t)
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	counterID := "order-code-" + time.Now().UTC().Format("150405.000000")
	const workers = 16
	results := make([]int64, workers)
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(idx int) {
			defer wg.Done()
			value, err := reg.Counters().Next(ctx, counterID, 1)
			if err != nil {
				t.Errorf("next(%d): %v", idx, err)
				return
			}
			results[idx] = value
		}(i)
	}
	wg.Wait()

	slices.Sort(results)
	for i, val := range results {
		if val != int64(i+1) {
			t.Fatalf("expected sequence %d at position %d, got %d", i+1, i, val)
		}
	}
}

func TestLedgerCategoryUsesRegistryClock(t *testing.T) {
	fixed := time.Date(2025, 10, 1, 12, 0, 0, 0, time.UTC)
	reg := newEmulatorRegistry(t, WithClock(func() time.Time { return fixed }))
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	categoryID := "cat_it_" + time.Now().UTC().Format("150405.000000")
	category, err := reg.Ledger().EnsureCategory(ctx, domain.LedgerCategory{ID: categoryID, Name: "Other", Direction: domain.LedgerDirectionExpense})
	if err != nil {
		t.Fatalf("EnsureCategory: %v", err)
	}
	if !category.CreatedAt.Equal(fixed) {
		t.Fatalf("expected createdAt from the registry clock, got %s", category.CreatedAt)
	}
}

func TestOrderUnitOfWorkIntegration(t *testing.T) {
	reg := newEmulatorRegistry(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	tableID := "tbl_it_" + time.Now().UTC().Format("150405.000000")
	now := time.Now().UTC().Truncate(time.Millisecond)
	order := domain.Order{
		ID:            "ord_it_" + tableID,
		Code:          "ORD-IT",
		TableID:       &tableID,
		Status:        domain.OrderStatusPending,
		PaymentStatus: domain.PaymentStatusUnpaid,
		Items: []domain.OrderItem{{
			ID:         "itm_1",
			Name:       "Pho",
			Quantity:   2,
			UnitPrice:  65000,
			TotalPrice: 130000,
			Status:     domain.ItemStatusPending,
		}},
		Subtotal:    130000,
		TotalAmount: 130000,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err := reg.RunInTx(ctx, func(txCtx context.Context) error {
		if err := reg.Orders().Insert(txCtx, order); err != nil {
			return err
		}
		// the buffered insert is visible to later reads in the same unit
		_, err := reg.Orders().FindByID(txCtx, order.ID)
		return err
	})
	if err != nil {
		t.Fatalf("RunInTx: %v", err)
	}

	stored, err := reg.Orders().FindByID(ctx, order.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if len(stored.Items) != 1 || stored.Items[0].Quantity != 2 || stored.TotalAmount != 130000 {
		t.Fatalf("unexpected stored order %+v", stored)
	}

	open, err := reg.Orders().ListOpenByTable(ctx, tableID)
	if err != nil {
		t.Fatalf("ListOpenByTable: %v", err)
	}
	if len(open) != 1 {
		t.Fatalf("expected one open order, got %d", len(open))
	}

	err = reg.Orders().Insert(ctx, order)
	var repoErr repositories.RepositoryError
	if !errors.As(err, &repoErr) || !repoErr.IsConflict() {
		t.Fatalf("expected conflict on duplicate insert, got %v", err)
	}
}
