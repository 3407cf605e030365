package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/finitefield/pos-api/internal/domain"
	pfirestore "github.com/finitefield/pos-api/internal/platform/firestore"
)

const (
	promotionsCollection     = "promotions"
	promotionUsageCollection = "promotionUsages"
)

type promotionDocument struct {
	ID     string `firestore:"id"`
	Code   string `firestore:"code"`
	Name   string `firestore:"name"`
	Type   string `firestore:"type"`
	Active bool   `firestore:"active"`

	Percent     int64              `firestore:"percent,omitempty"`
	MaxDiscount *int64             `firestore:"maxDiscount"`
	Amount      int64              `firestore:"amount,omitempty"`
	Price       *int64             `firestore:"price"`
	Gift        *giftRuleDocument  `firestore:"gift"`
	Items       itemScopeDocument  `firestore:"items"`
	Combos      comboScopeDocument `firestore:"combos"`
	Customers   customerScopeDoc   `firestore:"customers"`

	MinOrderValue       *int64     `firestore:"minOrderValue"`
	StartsAt            *time.Time `firestore:"startsAt"`
	EndsAt              *time.Time `firestore:"endsAt"`
	MaxTotalUsage       *int       `firestore:"maxTotalUsage"`
	MaxUsagePerCustomer *int       `firestore:"maxUsagePerCustomer"`
	UsageCount          int        `firestore:"usageCount"`

	CreatedAt time.Time `firestore:"createdAt"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

type giftRuleDocument struct {
	BuyQuantity     int                  `firestore:"buyQuantity"`
	GetQuantity     int                  `firestore:"getQuantity"`
	RequireSameItem bool                 `firestore:"requireSameItem"`
	Options         []giftOptionDocument `firestore:"options"`
}

type giftOptionDocument struct {
	ItemID      string `firestore:"itemId"`
	Name        string `firestore:"name"`
	MaxQuantity int    `firestore:"maxQuantity"`
}

type itemScopeDocument struct {
	AllItems      bool     `firestore:"allItems"`
	ItemIDs       []string `firestore:"itemIds"`
	AllCategories bool     `firestore:"allCategories"`
	CategoryIDs   []string `firestore:"categoryIds"`
}

type comboScopeDocument struct {
	AllCombos bool     `firestore:"allCombos"`
	ComboIDs  []string `firestore:"comboIds"`
}

type customerScopeDoc struct {
	AllCustomers      bool     `firestore:"allCustomers"`
	AllCustomerGroups bool     `firestore:"allCustomerGroups"`
	CustomerIDs       []string `firestore:"customerIds"`
	CustomerGroupIDs  []string `firestore:"customerGroupIds"`
	ApplyToWalkIn     bool     `firestore:"applyToWalkIn"`
}

// PromotionRepository loads promotions and keeps the usage counter on the promotion document.
type PromotionRepository struct {
	promotions *pfirestore.Collection[promotionDocument]
	opts       options
}

func NewPromotionRepository(provider *pfirestore.Provider, opts ...Option) (*PromotionRepository, error) {
	if provider == nil {
		return nil, errors.New("promotion repository requires firestore provider")
	}
	return &PromotionRepository{
		promotions: pfirestore.NewCollection[promotionDocument](provider, promotionsCollection),
		opts:       newOptions(opts),
	}, nil
}

func (r *PromotionRepository) FindByID(ctx context.Context, promotionID string) (domain.Promotion, error) {
	doc, err := r.promotions.Get(ctx, strings.TrimSpace(promotionID))
	if err != nil {
		return domain.Promotion{}, err
	}
	return doc.toDomain(), nil
}

// FindByCode matches the stored code exactly; callers normalise it first.
func (r *PromotionRepository) FindByCode(ctx context.Context, code string) (domain.Promotion, error) {
	docs, err := r.promotions.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("code", "==", code).Limit(1)
	})
	if err != nil {
		return domain.Promotion{}, err
	}
	if len(docs) == 0 {
		return domain.Promotion{}, pfirestore.NotFound("promotions.find_by_code", "promotion code %s not found", code)
	}
	return docs[0].toDomain(), nil
}

func (r *PromotionRepository) AdjustUsage(ctx context.Context, promotionID string, delta int, limit int) (int, error) {
	doc, err := r.promotions.Get(ctx, promotionID)
	if err != nil {
		return 0, err
	}
	next := doc.UsageCount + delta
	if delta > 0 && limit > 0 && next > limit {
		return 0, pfirestore.Conflict("promotions.adjust_usage", "promotion %s reached its usage limit %d", promotionID, limit)
	}
	doc.UsageCount = max(0, next)
	doc.UpdatedAt = r.opts.now()
	if err := r.promotions.Set(ctx, promotionID, doc); err != nil {
		return 0, err
	}
	return doc.UsageCount, nil
}

// Save writes a promotion as-is. Used by seeding tools and tests.
func (r *PromotionRepository) Save(ctx context.Context, promo domain.Promotion) error {
	return r.promotions.Set(ctx, promo.ID, newPromotionDocument(promo))
}

func newPromotionDocument(p domain.Promotion) promotionDocument {
	doc := promotionDocument{
		ID:                  p.ID,
		Code:                p.Code,
		Name:                p.Name,
		Type:                string(p.Type),
		Active:              p.Active,
		MinOrderValue:       p.MinOrderValue,
		StartsAt:            p.StartsAt,
		EndsAt:              p.EndsAt,
		MaxTotalUsage:       p.MaxTotalUsage,
		MaxUsagePerCustomer: p.MaxUsagePerCustomer,
		UsageCount:          p.UsageCount,
		Items: itemScopeDocument{
			AllItems:      p.Items.AllItems,
			ItemIDs:       p.Items.ItemIDs,
			AllCategories: p.Items.AllCategories,
			CategoryIDs:   p.Items.CategoryIDs,
		},
		Combos: comboScopeDocument{AllCombos: p.Combos.AllCombos, ComboIDs: p.Combos.ComboIDs},
		Customers: customerScopeDoc{
			AllCustomers:      p.Customers.AllCustomers,
			AllCustomerGroups: p.Customers.AllCustomerGroups,
			CustomerIDs:       p.Customers.CustomerIDs,
			CustomerGroupIDs:  p.Customers.CustomerGroupIDs,
			ApplyToWalkIn:     p.Customers.ApplyToWalkIn,
		},
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
	if p.Percentage != nil {
		doc.Percent = p.Percentage.Percent
		doc.MaxDiscount = p.Percentage.MaxDiscount
	}
	if p.FixedAmount != nil {
		doc.Amount = p.FixedAmount.Amount
	}
	if p.FixedPrice != nil {
		price := p.FixedPrice.Price
		doc.Price = &price
	}
	if g := p.Gift; g != nil {
		doc.Gift = &giftRuleDocument{BuyQuantity: g.BuyQuantity, GetQuantity: g.GetQuantity, RequireSameItem: g.RequireSameItem}
		for _, opt := range g.Gifts {
			doc.Gift.Options = append(doc.Gift.Options, giftOptionDocument{ItemID: opt.ItemID, Name: opt.Name, MaxQuantity: opt.MaxQuantity})
		}
	}
	return doc
}

func (d promotionDocument) toDomain() domain.Promotion {
	p := domain.Promotion{
		ID:                  d.ID,
		Code:                d.Code,
		Name:                d.Name,
		Type:                domain.PromotionType(d.Type),
		Active:              d.Active,
		MinOrderValue:       d.MinOrderValue,
		StartsAt:            utcPtr(d.StartsAt),
		EndsAt:              utcPtr(d.EndsAt),
		MaxTotalUsage:       d.MaxTotalUsage,
		MaxUsagePerCustomer: d.MaxUsagePerCustomer,
		UsageCount:          d.UsageCount,
		Items: domain.ItemScope{
			AllItems:      d.Items.AllItems,
			ItemIDs:       d.Items.ItemIDs,
			AllCategories: d.Items.AllCategories,
			CategoryIDs:   d.Items.CategoryIDs,
		},
		Combos: domain.ComboScope{AllCombos: d.Combos.AllCombos, ComboIDs: d.Combos.ComboIDs},
		Customers: domain.CustomerScope{
			AllCustomers:      d.Customers.AllCustomers,
			AllCustomerGroups: d.Customers.AllCustomerGroups,
			CustomerIDs:       d.Customers.CustomerIDs,
			CustomerGroupIDs:  d.Customers.CustomerGroupIDs,
			ApplyToWalkIn:     d.Customers.ApplyToWalkIn,
		},
		CreatedAt: d.CreatedAt.UTC(),
		UpdatedAt: d.UpdatedAt.UTC(),
	}
	switch p.Type {
	case domain.PromotionTypePercentage:
		p.Percentage = &domain.PercentageRule{Percent: d.Percent, MaxDiscount: d.MaxDiscount}
	case domain.PromotionTypeFixedAmount:
		p.FixedAmount = &domain.FixedAmountRule{Amount: d.Amount}
	case domain.PromotionTypeFixedPrice:
		if d.Price != nil {
			p.FixedPrice = &domain.FixedPriceRule{Price: *d.Price}
		}
	case domain.PromotionTypeGift:
		if d.Gift != nil {
			rule := &domain.GiftRule{BuyQuantity: d.Gift.BuyQuantity, GetQuantity: d.Gift.GetQuantity, RequireSameItem: d.Gift.RequireSameItem}
			for _, opt := range d.Gift.Options {
				rule.Gifts = append(rule.Gifts, domain.GiftOption{ItemID: opt.ItemID, Name: opt.Name, MaxQuantity: opt.MaxQuantity})
			}
			p.Gift = rule
		}
	}
	return p
}

type usageDocument struct {
	ID          string    `firestore:"id"`
	PromotionID string    `firestore:"promotionId"`
	CustomerID  string    `firestore:"customerId"`
	OrderID     string    `firestore:"orderId"`
	Discount    int64     `firestore:"discount"`
	UsedAt      time.Time `firestore:"usedAt"`
}

// PromotionUsageRepository keys usage documents by promotion and order so each order is recorded once.
type PromotionUsageRepository struct {
	usage *pfirestore.Collection[usageDocument]
}

func NewPromotionUsageRepository(provider *pfirestore.Provider) (*PromotionUsageRepository, error) {
	if provider == nil {
		return nil, errors.New("promotion usage repository requires firestore provider")
	}
	return &PromotionUsageRepository{usage: pfirestore.NewCollection[usageDocument](provider, promotionUsageCollection)}, nil
}

func usageDocumentID(promotionID, orderID string) string {
	return promotionID + "_" + orderID
}

func (r *PromotionUsageRepository) CountUsage(ctx context.Context, promotionID string, customerID string) (int, error) {
	docs, err := r.usage.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("promotionId", "==", promotionID).Where("customerId", "==", customerID)
	})
	if err != nil {
		return 0, err
	}
	return len(docs), nil
}

func (r *PromotionUsageRepository) RecordUsage(ctx context.Context, usage domain.PromotionUsage) error {
	id := usageDocumentID(usage.PromotionID, usage.OrderID)
	exists, err := r.usage.Exists(ctx, id)
	if err != nil {
		return err
	}
	if exists {
		return pfirestore.Conflict("promotion_usage.record", "usage %s already recorded", id)
	}
	return r.usage.Set(ctx, id, usageDocument{
		ID:          usage.ID,
		PromotionID: usage.PromotionID,
		CustomerID:  usage.CustomerID,
		OrderID:     usage.OrderID,
		Discount:    usage.Discount,
		UsedAt:      usage.UsedAt.UTC(),
	})
}

func (r *PromotionUsageRepository) DeleteUsage(ctx context.Context, promotionID string, orderID string) error {
	return r.usage.Delete(ctx, usageDocumentID(promotionID, orderID))
}
