package services

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	domain "github.com/finitefield/pos-api/internal/domain"
	"github.com/finitefield/pos-api/internal/repositories"
)

// CustomerServiceDeps bundles collaborators for customer tiering.
type CustomerServiceDeps struct {
	Customers repositories.CustomerRepository
	Clock     func() time.Time
	Logger    func(context.Context, string, map[string]any)
}

type customerService struct {
	customers repositories.CustomerRepository
	clock     func() time.Time
	logger    func(context.Context, string, map[string]any)
}

// NewCustomerService constructs the customer tier service.
func NewCustomerService(deps CustomerServiceDeps) (CustomerService, error) {
	if deps.Customers == nil {
		return nil, errors.New("customer service: customer repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &customerService{
		customers: deps.Customers,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

func (s *customerService) Get(ctx context.Context, customerID string) (domain.Customer, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return domain.Customer{}, validationError("customer id is required")
	}
	customer, err := s.customers.FindByID(ctx, customerID)
	if err != nil {
		return domain.Customer{}, mapRepositoryError(err)
	}
	return customer, nil
}

func (s *customerService) IncrementStats(ctx context.Context, customerID string, amount int64, at time.Time) (domain.Customer, error) {
	customer, err := s.Get(ctx, customerID)
	if err != nil {
		return domain.Customer{}, err
	}
	if amount < 0 {
		return domain.Customer{}, validationError("spend amount must not be negative")
	}
	at = at.UTC()
	customer.TotalSpent += amount
	customer.OrderCount++
	customer.LastOrderAt = &at
	customer.UpdatedAt = s.clock()
	if err := s.customers.Update(ctx, customer); err != nil {
		return domain.Customer{}, mapRepositoryError(err)
	}
	return customer, nil
}

// ReassignTier moves the customer into the highest-priority group whose thresholds are met.
func (s *customerService) ReassignTier(ctx context.Context, customerID string) (domain.Customer, error) {
	customer, err := s.Get(ctx, customerID)
	if err != nil {
		return domain.Customer{}, err
	}
	groups, err := s.customers.ListGroups(ctx)
	if err != nil {
		return domain.Customer{}, mapRepositoryError(err)
	}

	next := qualifyingGroup(customer, groups)
	if ptrEqual(customer.GroupID, next) {
		return customer, nil
	}
	previous := customer.GroupID
	customer.GroupID = next
	customer.UpdatedAt = s.clock()
	if err := s.customers.Update(ctx, customer); err != nil {
		return domain.Customer{}, mapRepositoryError(err)
	}
	s.logger(ctx, "customer.tier.changed", map[string]any{
		"customerId": customer.ID,
		"from":       derefString(previous),
		"to":         derefString(next),
	})
	return customer, nil
}

func qualifyingGroup(customer domain.Customer, groups []domain.CustomerGroup) *string {
	ordered := slices.Clone(groups)
	slices.SortStableFunc(ordered, func(a, b domain.CustomerGroup) int {
		return cmp.Compare(b.Priority, a.Priority)
	})
	for _, group := range ordered {
		if customer.TotalSpent >= group.MinSpent && customer.OrderCount >= group.MinOrders {
			return valuePtr(group.ID)
		}
	}
	return nil
}

func ptrEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
