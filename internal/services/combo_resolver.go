package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	domain "github.com/finitefield/pos-api/internal/domain"
	"github.com/finitefield/pos-api/internal/repositories"
)

// ComboResolver validates combo membership and keeps combo groups priced.
type ComboResolver struct {
	catalog repositories.CatalogRepository
	clock   func() time.Time
}

// NewComboResolver builds a resolver over the catalog. A nil clock defaults to time.Now.
func NewComboResolver(catalog repositories.CatalogRepository, clock func() time.Time) (*ComboResolver, error) {
	if catalog == nil {
		return nil, errors.New("combo resolver: catalog repository is required")
	}
	if clock == nil {
		clock = time.Now
	}
	return &ComboResolver{
		catalog: catalog,
		clock: func() time.Time {
			return clock().UTC()
		},
	}, nil
}

// ResolveMembership returns the membership entry for itemID inside comboID.
func (r *ComboResolver) ResolveMembership(ctx context.Context, comboID, itemID string) (domain.ComboMember, error) {
	combo, err := r.catalog.GetCombo(ctx, comboID)
	if err != nil {
		mapped := mapRepositoryError(err)
		if errors.Is(mapped, ErrResourceNotFound) {
			return domain.ComboMember{}, fmt.Errorf("%w: combo %s does not exist", ErrComboMembership, comboID)
		}
		return domain.ComboMember{}, mapped
	}
	if !combo.Available(r.clock()) {
		return domain.ComboMember{}, fmt.Errorf("%w: combo %s is not available", ErrComboMembership, comboID)
	}
	member, ok := combo.Member(itemID)
	if !ok {
		return domain.ComboMember{}, fmt.Errorf("%w: item %s is not part of combo %s", ErrComboMembership, itemID, comboID)
	}
	return member, nil
}

// Reprice re-runs pro-ration for every listed combo group present on the order. With no ids given it
// reprices every combo on the order.
func (r *ComboResolver) Reprice(ctx context.Context, agg *OrderAggregate, comboIDs ...string) error {
	if len(comboIDs) == 0 {
		comboIDs = agg.ComboIDs()
	}
	seen := make(map[string]struct{}, len(comboIDs))
	for _, comboID := range comboIDs {
		if _, dup := seen[comboID]; dup {
			continue
		}
		seen[comboID] = struct{}{}
		if err := r.repriceGroup(ctx, agg, comboID); err != nil {
			return err
		}
	}
	agg.RecomputeTotals()
	return nil
}

func (r *ComboResolver) repriceGroup(ctx context.Context, agg *OrderAggregate, comboID string) error {
	members := agg.ComboMembers(comboID)
	if len(members) == 0 {
		return nil
	}
	combo, err := r.catalog.GetCombo(ctx, comboID)
	if err != nil {
		return mapRepositoryError(err)
	}

	lines := make([]ComboLine, len(members))
	for i, item := range members {
		line := ComboLine{BasePrice: item.BasePrice, Quantity: item.Quantity}
		if item.CatalogItemID != nil {
			if member, ok := combo.Member(*item.CatalogItemID); ok {
				line.ExtraPrice = member.ExtraPrice
			}
		}
		lines[i] = line
	}

	prices := ProRateCombo(combo.ComboPrice, lines)
	for i, item := range members {
		agg.SetUnitPrice(item.ID, prices[i])
	}
	return nil
}
