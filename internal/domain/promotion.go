package domain

import (
	"errors"
	"fmt"
	"time"
)

// PromotionType tags the discount algorithm a promotion uses.
type PromotionType string

const (
	PromotionTypePercentage  PromotionType = "PERCENTAGE"
	PromotionTypeFixedAmount PromotionType = "FIXED_AMOUNT"
	PromotionTypeFixedPrice  PromotionType = "FIXED_PRICE"
	PromotionTypeGift        PromotionType = "GIFT"
)

// Promotion describes a discount or gift rule. Exactly one rule struct matching Type is set.
type Promotion struct {
	ID     string
	Code   string
	Name   string
	Type   PromotionType
	Active bool

	Percentage  *PercentageRule
	FixedAmount *FixedAmountRule
	FixedPrice  *FixedPriceRule
	Gift        *GiftRule

	MinOrderValue       *int64
	StartsAt            *time.Time
	EndsAt              *time.Time
	MaxTotalUsage       *int
	MaxUsagePerCustomer *int
	UsageCount          int

	Items     ItemScope
	Combos    ComboScope
	Customers CustomerScope

	CreatedAt time.Time
	UpdatedAt time.Time
}

// PercentageRule discounts a percentage of the applicable subtotal.
type PercentageRule struct {
	Percent     int64
	MaxDiscount *int64
}

// FixedAmountRule discounts a flat amount.
type FixedAmountRule struct {
	Amount int64
}

// FixedPriceRule sells every applicable unit (or combo) at Price.
type FixedPriceRule struct {
	Price int64
}

// GiftRule grants free items. MinOrderValue on the promotion participates in the gift policy.
type GiftRule struct {
	BuyQuantity     int
	GetQuantity     int
	RequireSameItem bool
	Gifts           []GiftOption
}

// GiftOption is a catalog item that may be handed out by a gift promotion.
type GiftOption struct {
	ItemID      string
	Name        string
	MaxQuantity int
}

// ItemScope targets catalog items and categories.
type ItemScope struct {
	AllItems      bool
	ItemIDs       []string
	AllCategories bool
	CategoryIDs   []string
}

// Empty reports whether the scope references nothing.
func (s ItemScope) Empty() bool {
	return !s.AllItems && !s.AllCategories && len(s.ItemIDs) == 0 && len(s.CategoryIDs) == 0
}

// ComboScope targets combos.
type ComboScope struct {
	AllCombos bool
	ComboIDs  []string
}

// Empty reports whether the scope references nothing.
func (s ComboScope) Empty() bool {
	return !s.AllCombos && len(s.ComboIDs) == 0
}

// CustomerScope restricts who may use a promotion.
type CustomerScope struct {
	AllCustomers      bool
	AllCustomerGroups bool
	CustomerIDs       []string
	CustomerGroupIDs  []string
	ApplyToWalkIn     bool
}

// PromotionClass is derived from which scope a promotion populates.
type PromotionClass string

const (
	PromotionClassItem  PromotionClass = "ITEM"
	PromotionClassCombo PromotionClass = "COMBO"
)

// Class infers whether the promotion targets combos or items/categories.
func (p Promotion) Class() PromotionClass {
	if !p.Combos.Empty() {
		return PromotionClassCombo
	}
	return PromotionClassItem
}

// Validate checks the structural rules every stored promotion must satisfy.
func (p Promotion) Validate() error {
	var errs []error
	if p.ID == "" {
		errs = append(errs, errors.New("promotion id is required"))
	}
	if !p.Items.Empty() && !p.Combos.Empty() {
		errs = append(errs, errors.New("item scope and combo scope are mutually exclusive"))
	}

	set := 0
	for _, present := range []bool{p.Percentage != nil, p.FixedAmount != nil, p.FixedPrice != nil, p.Gift != nil} {
		if present {
			set++
		}
	}
	if set > 1 {
		errs = append(errs, errors.New("only one rule may be configured"))
	}

	switch p.Type {
	case PromotionTypePercentage:
		if p.Percentage == nil {
			errs = append(errs, errors.New("percentage rule is required"))
		} else if p.Percentage.Percent <= 0 || p.Percentage.Percent > 100 {
			errs = append(errs, fmt.Errorf("percent must be within (0, 100], got %d", p.Percentage.Percent))
		}
	case PromotionTypeFixedAmount:
		if p.FixedAmount == nil {
			errs = append(errs, errors.New("fixed amount rule is required"))
		} else if p.FixedAmount.Amount <= 0 {
			errs = append(errs, errors.New("fixed amount must be positive"))
		}
	case PromotionTypeFixedPrice:
		if p.FixedPrice == nil {
			errs = append(errs, errors.New("fixed price rule is required"))
		} else if p.FixedPrice.Price < 0 {
			errs = append(errs, errors.New("fixed price must not be negative"))
		}
	case PromotionTypeGift:
		if p.Gift == nil {
			errs = append(errs, errors.New("gift rule is required"))
		} else {
			if len(p.Gift.Gifts) == 0 {
				errs = append(errs, errors.New("gift rule requires at least one gift option"))
			}
			if p.Gift.BuyQuantity < 0 || p.Gift.GetQuantity < 0 {
				errs = append(errs, errors.New("gift quantities must not be negative"))
			}
		}
	default:
		errs = append(errs, fmt.Errorf("unknown promotion type %q", p.Type))
	}

	if p.StartsAt != nil && p.EndsAt != nil && p.EndsAt.Before(*p.StartsAt) {
		errs = append(errs, errors.New("promotion window ends before it starts"))
	}
	return errors.Join(errs...)
}

// PromotionUsage records one use of a promotion by a known customer on an order.
type PromotionUsage struct {
	ID          string
	PromotionID string
	CustomerID  string
	OrderID     string
	Discount    int64
	UsedAt      time.Time
}

// GiftSelection is a caller-chosen gift line.
type GiftSelection struct {
	ItemID   string
	Quantity int
}
