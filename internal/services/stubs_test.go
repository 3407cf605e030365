package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	domain "github.com/finitefield/pos-api/internal/domain"
)

type stubCatalogRepo struct {
	getItemFn   func(context.Context, string) (domain.CatalogItem, error)
	getRecipeFn func(context.Context, string) (domain.Recipe, error)
	getComboFn  func(context.Context, string) (domain.Combo, error)
}

func (s *stubCatalogRepo) GetItem(ctx context.Context, itemID string) (domain.CatalogItem, error) {
	if s.getItemFn != nil {
		return s.getItemFn(ctx, itemID)
	}
	return domain.CatalogItem{}, stubRepositoryError{notFound: true}
}

func (s *stubCatalogRepo) GetRecipe(ctx context.Context, itemID string) (domain.Recipe, error) {
	if s.getRecipeFn != nil {
		return s.getRecipeFn(ctx, itemID)
	}
	return domain.Recipe{ItemID: itemID}, nil
}

func (s *stubCatalogRepo) GetCombo(ctx context.Context, comboID string) (domain.Combo, error) {
	if s.getComboFn != nil {
		return s.getComboFn(ctx, comboID)
	}
	return domain.Combo{}, stubRepositoryError{notFound: true}
}

type stubUsageRepo struct {
	countFn  func(context.Context, string, string) (int, error)
	recordFn func(context.Context, domain.PromotionUsage) error
	deleteFn func(context.Context, string, string) error
}

func (s *stubUsageRepo) CountUsage(ctx context.Context, promotionID, customerID string) (int, error) {
	if s.countFn != nil {
		return s.countFn(ctx, promotionID, customerID)
	}
	return 0, nil
}

func (s *stubUsageRepo) RecordUsage(ctx context.Context, usage domain.PromotionUsage) error {
	if s.recordFn != nil {
		return s.recordFn(ctx, usage)
	}
	return nil
}

func (s *stubUsageRepo) DeleteUsage(ctx context.Context, promotionID, orderID string) error {
	if s.deleteFn != nil {
		return s.deleteFn(ctx, promotionID, orderID)
	}
	return nil
}

type stubPromotionRepo struct {
	findByIDFn   func(context.Context, string) (domain.Promotion, error)
	findByCodeFn func(context.Context, string) (domain.Promotion, error)
	adjustFn     func(context.Context, string, int, int) (int, error)
}

func (s *stubPromotionRepo) FindByID(ctx context.Context, promotionID string) (domain.Promotion, error) {
	if s.findByIDFn != nil {
		return s.findByIDFn(ctx, promotionID)
	}
	return domain.Promotion{}, stubRepositoryError{notFound: true}
}

func (s *stubPromotionRepo) FindByCode(ctx context.Context, code string) (domain.Promotion, error) {
	if s.findByCodeFn != nil {
		return s.findByCodeFn(ctx, code)
	}
	return domain.Promotion{}, stubRepositoryError{notFound: true}
}

func (s *stubPromotionRepo) AdjustUsage(ctx context.Context, promotionID string, delta, limit int) (int, error) {
	if s.adjustFn != nil {
		return s.adjustFn(ctx, promotionID, delta, limit)
	}
	return delta, nil
}

type stubLedgerRepo struct {
	mu           sync.Mutex
	categories   map[string]domain.LedgerCategory
	transactions []domain.LedgerTransaction
	postFn       func(context.Context, domain.LedgerTransaction) (string, error)
}

func (s *stubLedgerRepo) EnsureCategory(_ context.Context, category domain.LedgerCategory) (domain.LedgerCategory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.categories == nil {
		s.categories = make(map[string]domain.LedgerCategory)
	}
	if existing, ok := s.categories[category.ID]; ok {
		return existing, nil
	}
	s.categories[category.ID] = category
	return category, nil
}

func (s *stubLedgerRepo) PostTransaction(ctx context.Context, txn domain.LedgerTransaction) (string, error) {
	if s.postFn != nil {
		return s.postFn(ctx, txn)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if txn.ID == "" {
		txn.ID = fmt.Sprintf("txn_%d", len(s.transactions)+1)
	}
	s.transactions = append(s.transactions, txn)
	return txn.ID, nil
}

func (s *stubLedgerRepo) CancelTransaction(_ context.Context, transactionID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.transactions {
		if s.transactions[i].ID == transactionID {
			s.transactions[i].Status = domain.LedgerTransactionCanceled
			s.transactions[i].CanceledAt = &at
			return nil
		}
	}
	return stubRepositoryError{notFound: true}
}

func (s *stubLedgerRepo) ListByReference(_ context.Context, refType domain.LedgerReferenceType, refID string) ([]domain.LedgerTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.LedgerTransaction
	for _, txn := range s.transactions {
		if txn.ReferenceType == refType && txn.ReferenceID == refID {
			out = append(out, txn)
		}
	}
	return out, nil
}

type stubRepositoryError struct {
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e stubRepositoryError) Error() string       { return "repository error" }
func (e stubRepositoryError) IsNotFound() bool    { return e.notFound }
func (e stubRepositoryError) IsConflict() bool    { return e.conflict }
func (e stubRepositoryError) IsUnavailable() bool { return e.unavailable }

type captureOrderEvents struct {
	mu     sync.Mutex
	events []OrderEvent
}

func (c *captureOrderEvents) PublishOrderEvent(_ context.Context, event OrderEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

func (c *captureOrderEvents) types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.events))
	for _, event := range c.events {
		out = append(out, event.Type)
	}
	return out
}

func sequentialIDs(prefix string) func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("%s%03d", prefix, n)
	}
}

func fixedClock(now time.Time) func() time.Time {
	return func() time.Time { return now }
}
