package services

import (
	"context"
	"testing"
	"time"

	domain "github.com/finitefield/pos-api/internal/domain"
)

type stubCustomerRepo struct {
	customers map[string]domain.Customer
	groups    []domain.CustomerGroup
	updates   int
}

func (s *stubCustomerRepo) FindByID(_ context.Context, id string) (domain.Customer, error) {
	customer, ok := s.customers[id]
	if !ok {
		return domain.Customer{}, stubRepositoryError{notFound: true}
	}
	return customer, nil
}

func (s *stubCustomerRepo) Update(_ context.Context, customer domain.Customer) error {
	s.updates++
	s.customers[customer.ID] = customer
	return nil
}

func (s *stubCustomerRepo) ListGroups(context.Context) ([]domain.CustomerGroup, error) {
	return s.groups, nil
}

func TestCustomerServiceIncrementAndReassign(t *testing.T) {
	now := time.Date(2025, 10, 1, 20, 0, 0, 0, time.UTC)
	repo := &stubCustomerRepo{
		customers: map[string]domain.Customer{
			"cus_1": {ID: "cus_1", TotalSpent: 900000, OrderCount: 9},
		},
		groups: []domain.CustomerGroup{
			{ID: "grp_silver", MinSpent: 500000, MinOrders: 5, Priority: 1},
			{ID: "grp_gold", MinSpent: 1000000, MinOrders: 10, Priority: 2},
			{ID: "grp_vip", MinSpent: 5000000, MinOrders: 50, Priority: 3},
		},
	}
	svc, err := NewCustomerService(CustomerServiceDeps{Customers: repo, Clock: fixedClock(now)})
	if err != nil {
		t.Fatalf("NewCustomerService: %v", err)
	}

	customer, err := svc.IncrementStats(context.Background(), "cus_1", 150000, now)
	if err != nil {
		t.Fatalf("IncrementStats: %v", err)
	}
	if customer.TotalSpent != 1050000 || customer.OrderCount != 10 || customer.LastOrderAt == nil {
		t.Fatalf("unexpected stats %+v", customer)
	}

	customer, err = svc.ReassignTier(context.Background(), "cus_1")
	if err != nil {
		t.Fatalf("ReassignTier: %v", err)
	}
	if customer.GroupID == nil || *customer.GroupID != "grp_gold" {
		t.Fatalf("expected gold tier, got %v", customer.GroupID)
	}

	updates := repo.updates
	if _, err := svc.ReassignTier(context.Background(), "cus_1"); err != nil {
		t.Fatalf("ReassignTier: %v", err)
	}
	if repo.updates != updates {
		t.Fatalf("unchanged tier must not write")
	}
}

func TestCustomerServiceUnknownCustomer(t *testing.T) {
	svc, err := NewCustomerService(CustomerServiceDeps{Customers: &stubCustomerRepo{customers: map[string]domain.Customer{}}})
	if err != nil {
		t.Fatalf("NewCustomerService: %v", err)
	}
	if _, err := svc.Get(context.Background(), "cus_missing"); err == nil {
		t.Fatalf("expected not found error")
	}
}
