package services

import (
	"github.com/shopspring/decimal"

	domain "github.com/finitefield/pos-api/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// ComboLine is one member row of a combo group being priced.
type ComboLine struct {
	BasePrice  int64
	Quantity   int
	ExtraPrice int64
}

// ProRateCombo splits comboPrice across the lines proportionally to base × quantity and returns the
// unit price of each line, extra price included. When the group has no priced members the base price
// is returned unchanged.
func ProRateCombo(comboPrice int64, lines []ComboLine) []int64 {
	prices := make([]int64, len(lines))
	var actualTotal int64
	for _, line := range lines {
		if line.Quantity > 0 && line.BasePrice > 0 {
			actualTotal += line.BasePrice * int64(line.Quantity)
		}
	}
	if actualTotal == 0 {
		for i, line := range lines {
			prices[i] = line.BasePrice
		}
		return prices
	}

	total := decimal.NewFromInt(actualTotal)
	price := decimal.NewFromInt(comboPrice)
	for i, line := range lines {
		share := decimal.NewFromInt(line.BasePrice).Div(total).Mul(price)
		prices[i] = roundMoney(share) + line.ExtraPrice
	}
	return prices
}

// PercentageDiscount returns min(applicable × percent / 100, maxDiscount, applicable).
func PercentageDiscount(applicable int64, percent int64, maxDiscount *int64) int64 {
	if applicable <= 0 || percent <= 0 {
		return 0
	}
	discount := roundMoney(decimal.NewFromInt(applicable).Mul(decimal.NewFromInt(percent)).Div(hundred))
	if maxDiscount != nil && *maxDiscount >= 0 && discount > *maxDiscount {
		discount = *maxDiscount
	}
	return min(discount, applicable)
}

// FixedAmountDiscount never exceeds the applicable subtotal.
func FixedAmountDiscount(applicable int64, amount int64) int64 {
	if applicable <= 0 || amount <= 0 {
		return 0
	}
	return min(amount, applicable)
}

// FixedPriceDiscount returns max(0, applicable − price × quantity).
func FixedPriceDiscount(applicable int64, price int64, quantity int) int64 {
	if quantity <= 0 {
		return 0
	}
	return max(0, applicable-price*int64(quantity))
}

// GiftPolicyInput is the order-side data a gift policy is evaluated against.
type GiftPolicyInput struct {
	Subtotal      int64
	MinOrderValue *int64
	// Units is the total applicable quantity; UnitsByItem is the same split by catalog item.
	Units       int
	UnitsByItem map[string]int
}

// GiftCount evaluates the gift policies in order: minimum order value and buy quantity together,
// minimum order value alone, buy quantity alone. Zero means no policy is satisfied.
func GiftCount(rule domain.GiftRule, in GiftPolicyInput) int {
	get := rule.GetQuantity
	if get <= 0 {
		get = 1
	}
	hasMin := in.MinOrderValue != nil && *in.MinOrderValue > 0
	hasBuy := rule.BuyQuantity > 0

	switch {
	case hasMin && hasBuy:
		if in.Subtotal < *in.MinOrderValue {
			return 0
		}
		return buyGetCount(rule, get, in)
	case hasMin:
		if in.Subtotal < *in.MinOrderValue {
			return 0
		}
		return get
	case hasBuy:
		return buyGetCount(rule, get, in)
	default:
		return 0
	}
}

func buyGetCount(rule domain.GiftRule, get int, in GiftPolicyInput) int {
	if rule.RequireSameItem {
		count := 0
		for _, units := range in.UnitsByItem {
			count += (units / rule.BuyQuantity) * get
		}
		return count
	}
	return (in.Units / rule.BuyQuantity) * get
}

func roundMoney(value decimal.Decimal) int64 {
	return value.Round(0).IntPart()
}
