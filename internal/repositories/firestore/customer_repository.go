package firestore

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"time"

	domain "github.com/finitefield/pos-api/internal/domain"
	pfirestore "github.com/finitefield/pos-api/internal/platform/firestore"
)

const (
	customersCollection      = "customers"
	customerGroupsCollection = "customerGroups"
)

type customerDocument struct {
	ID          string     `firestore:"id"`
	Name        string     `firestore:"name"`
	Phone       string     `firestore:"phone"`
	GroupID     *string    `firestore:"groupId"`
	TotalSpent  int64      `firestore:"totalSpent"`
	OrderCount  int        `firestore:"orderCount"`
	LastOrderAt *time.Time `firestore:"lastOrderAt"`
	UpdatedAt   time.Time  `firestore:"updatedAt"`
}

type customerGroupDocument struct {
	ID        string `firestore:"id"`
	Name      string `firestore:"name"`
	MinSpent  int64  `firestore:"minSpent"`
	MinOrders int    `firestore:"minOrders"`
	Priority  int    `firestore:"priority"`
}

type CustomerRepository struct {
	customers *pfirestore.Collection[customerDocument]
	groups    *pfirestore.Collection[customerGroupDocument]
}

func NewCustomerRepository(provider *pfirestore.Provider) (*CustomerRepository, error) {
	if provider == nil {
		return nil, errors.New("customer repository requires firestore provider")
	}
	return &CustomerRepository{
		customers: pfirestore.NewCollection[customerDocument](provider, customersCollection),
		groups:    pfirestore.NewCollection[customerGroupDocument](provider, customerGroupsCollection),
	}, nil
}

func (r *CustomerRepository) FindByID(ctx context.Context, customerID string) (domain.Customer, error) {
	doc, err := r.customers.Get(ctx, customerID)
	if err != nil {
		return domain.Customer{}, err
	}
	return domain.Customer{
		ID:          customerID,
		Name:        doc.Name,
		Phone:       doc.Phone,
		GroupID:     doc.GroupID,
		TotalSpent:  doc.TotalSpent,
		OrderCount:  doc.OrderCount,
		LastOrderAt: utcPtr(doc.LastOrderAt),
		UpdatedAt:   doc.UpdatedAt.UTC(),
	}, nil
}

func (r *CustomerRepository) Update(ctx context.Context, customer domain.Customer) error {
	exists, err := r.customers.Exists(ctx, customer.ID)
	if err != nil {
		return err
	}
	if !exists {
		return pfirestore.NotFound("customers.update", "customer %s not found", customer.ID)
	}
	return r.customers.Set(ctx, customer.ID, customerDocument{
		ID:          customer.ID,
		Name:        customer.Name,
		Phone:       customer.Phone,
		GroupID:     customer.GroupID,
		TotalSpent:  customer.TotalSpent,
		OrderCount:  customer.OrderCount,
		LastOrderAt: customer.LastOrderAt,
		UpdatedAt:   customer.UpdatedAt.UTC(),
	})
}

// ListGroups returns tiers ordered by priority, highest first.
func (r *CustomerRepository) ListGroups(ctx context.Context) ([]domain.CustomerGroup, error) {
	docs, err := r.groups.Query(ctx, nil)
	if err != nil {
		return nil, err
	}
	out := make([]domain.CustomerGroup, 0, len(docs))
	for _, doc := range docs {
		out = append(out, domain.CustomerGroup{
			ID:        doc.ID,
			Name:      doc.Name,
			MinSpent:  doc.MinSpent,
			MinOrders: doc.MinOrders,
			Priority:  doc.Priority,
		})
	}
	slices.SortFunc(out, func(a, b domain.CustomerGroup) int {
		return cmp.Compare(b.Priority, a.Priority)
	})
	return out, nil
}
