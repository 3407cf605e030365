package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// CatalogItem is the subset of catalog data the order engine reads.
type CatalogItem struct {
	ID           string
	Name         string
	CategoryID   string
	SellingPrice int64
	AvgUnitCost  int64
	Active       bool
}

// RecipeIngredient is one line of an item's bill of materials.
type RecipeIngredient struct {
	IngredientID string
	Name         string
	Quantity     decimal.Decimal
	AvgUnitCost  int64
}

// Recipe lists the ingredients consumed to produce one unit of a catalog item.
type Recipe struct {
	ItemID      string
	Ingredients []RecipeIngredient
}

// Combo is a bundle sold at a fixed price across a set of eligible members.
type Combo struct {
	ID         string
	Name       string
	ComboPrice int64
	Active     bool
	StartsAt   *time.Time
	EndsAt     *time.Time
	Members    []ComboMember
}

// ComboMember marks a catalog item as selectable inside a combo.
type ComboMember struct {
	ItemID     string
	ExtraPrice int64
}

// Member returns the membership entry for itemID when present.
func (c Combo) Member(itemID string) (ComboMember, bool) {
	for _, member := range c.Members {
		if member.ItemID == itemID {
			return member, true
		}
	}
	return ComboMember{}, false
}

// Available reports whether the combo can be sold at the given instant.
func (c Combo) Available(now time.Time) bool {
	if !c.Active {
		return false
	}
	if c.StartsAt != nil && now.Before(*c.StartsAt) {
		return false
	}
	if c.EndsAt != nil && now.After(*c.EndsAt) {
		return false
	}
	return true
}

// TableStatus captures dining table occupancy.
type TableStatus string

const (
	TableStatusAvailable TableStatus = "AVAILABLE"
	TableStatusOccupied  TableStatus = "OCCUPIED"
)

// Table is a dining table tracked by the table registry.
type Table struct {
	ID        string
	Name      string
	Status    TableStatus
	UpdatedAt time.Time
}
