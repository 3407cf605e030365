package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/finitefield/pos-api/internal/domain"
	"github.com/finitefield/pos-api/internal/platform/textutil"
	"github.com/finitefield/pos-api/internal/repositories"
)

const (
	usageIDPrefix          = "pus_"
	giftCancelReason       = "promotion removed"
	promotionEventApplied  = "promotion.applied"
	promotionEventReversed = "promotion.reversed"
)

// PromotionEngineDeps bundles collaborators for the promotion engine.
type PromotionEngineDeps struct {
	Promotions  repositories.PromotionRepository
	Usage       repositories.PromotionUsageRepository
	Catalog     repositories.CatalogRepository
	Eligibility *PromotionEligibilityEvaluator
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(context.Context, string, map[string]any)
}

// PromotionEngine evaluates, applies and reverses promotions on an order aggregate. It must be called
// inside the unit of work that persists the aggregate.
type PromotionEngine struct {
	promotions  repositories.PromotionRepository
	usage       repositories.PromotionUsageRepository
	catalog     repositories.CatalogRepository
	eligibility *PromotionEligibilityEvaluator
	clock       func() time.Time
	newID       func() string
	logger      func(context.Context, string, map[string]any)
}

// PromotionRef names a promotion by id or by customer-facing code.
type PromotionRef struct {
	PromotionID string
	Code        string
}

// ApplyPromotionInput is the engine-level apply request.
type ApplyPromotionInput struct {
	Promotion PromotionRef
	Customer  *domain.Customer
	Gifts     []domain.GiftSelection
}

// ApplyPromotionResult reports what the engine changed.
type ApplyPromotionResult struct {
	Promotion domain.Promotion
	Applied   domain.AppliedPromotion
	GiftItems []domain.OrderItem
}

// NewPromotionEngine validates dependencies and builds the engine.
func NewPromotionEngine(deps PromotionEngineDeps) (*PromotionEngine, error) {
	if deps.Promotions == nil {
		return nil, errors.New("promotion engine: promotion repository is required")
	}
	if deps.Usage == nil {
		return nil, errors.New("promotion engine: usage repository is required")
	}
	if deps.Catalog == nil {
		return nil, errors.New("promotion engine: catalog repository is required")
	}
	eligibility := deps.Eligibility
	if eligibility == nil {
		built, err := NewPromotionEligibilityEvaluator(deps.Usage)
		if err != nil {
			return nil, err
		}
		eligibility = built
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &PromotionEngine{
		promotions:  deps.Promotions,
		usage:       deps.Usage,
		catalog:     deps.Catalog,
		eligibility: eligibility,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

// Load resolves a promotion reference. Codes are matched after normalization.
func (e *PromotionEngine) Load(ctx context.Context, ref PromotionRef) (domain.Promotion, error) {
	var (
		promo domain.Promotion
		err   error
	)
	switch {
	case strings.TrimSpace(ref.PromotionID) != "":
		promo, err = e.promotions.FindByID(ctx, strings.TrimSpace(ref.PromotionID))
	case strings.TrimSpace(ref.Code) != "":
		promo, err = e.promotions.FindByCode(ctx, textutil.NormalizeCode(ref.Code))
	default:
		return domain.Promotion{}, validationError("promotion id or code is required")
	}
	if err != nil {
		mapped := mapRepositoryError(err)
		if errors.Is(mapped, ErrResourceNotFound) {
			return domain.Promotion{}, fmt.Errorf("%w: promotion %s%s", ErrResourceNotFound, ref.PromotionID, ref.Code)
		}
		return domain.Promotion{}, mapped
	}
	if err := promo.Validate(); err != nil {
		return domain.Promotion{}, validationError("promotion %s: %v", promo.ID, err)
	}
	return promo, nil
}

// Apply attaches a promotion to the order: eligibility, discount or gift rows, usage record and usage
// counter increment.
func (e *PromotionEngine) Apply(ctx context.Context, agg *OrderAggregate, input ApplyPromotionInput) (ApplyPromotionResult, error) {
	if err := agg.EnsureOpen(); err != nil {
		return ApplyPromotionResult{}, err
	}
	if current := agg.Promotion(); current != nil {
		return ApplyPromotionResult{}, fmt.Errorf("%w: %s", ErrPromotionAlreadyApplied, current.PromotionID)
	}

	promo, err := e.Load(ctx, input.Promotion)
	if err != nil {
		return ApplyPromotionResult{}, err
	}

	now := e.clock()
	order := agg.Order()
	verdict, err := e.eligibility.Evaluate(ctx, promo, input.Customer, EligibilityContext{Subtotal: order.Subtotal, At: now})
	if err != nil {
		return ApplyPromotionResult{}, err
	}
	if !verdict.Eligible {
		return ApplyPromotionResult{}, &PromotionIneligibleError{PromotionID: promo.ID, Reason: verdict.Reason}
	}

	scope, err := e.applicable(ctx, promo, order)
	if err != nil {
		return ApplyPromotionResult{}, err
	}

	applied := domain.AppliedPromotion{
		PromotionID: promo.ID,
		Code:        promo.Code,
		Type:        promo.Type,
		AppliedAt:   now,
	}
	var gifts []domain.OrderItem

	switch promo.Type {
	case domain.PromotionTypePercentage:
		applied.Discount = PercentageDiscount(scope.subtotal, promo.Percentage.Percent, promo.Percentage.MaxDiscount)
	case domain.PromotionTypeFixedAmount:
		applied.Discount = FixedAmountDiscount(scope.subtotal, promo.FixedAmount.Amount)
	case domain.PromotionTypeFixedPrice:
		applied.Discount = FixedPriceDiscount(scope.subtotal, promo.FixedPrice.Price, scope.quantity)
	case domain.PromotionTypeGift:
		count := GiftCount(*promo.Gift, GiftPolicyInput{
			Subtotal:      order.Subtotal,
			MinOrderValue: promo.MinOrderValue,
			Units:         scope.quantity,
			UnitsByItem:   scope.unitsByItem,
		})
		if count == 0 {
			return ApplyPromotionResult{}, fmt.Errorf("%w: promotion %s", ErrInsufficientGiftCondition, promo.ID)
		}
		selections, err := selectGifts(*promo.Gift, count, input.Gifts)
		if err != nil {
			return ApplyPromotionResult{}, err
		}
		gifts, err = e.addGiftRows(ctx, agg, *promo.Gift, selections)
		if err != nil {
			return ApplyPromotionResult{}, err
		}
		for _, selection := range selections {
			applied.GiftCount += selection.Quantity
		}
	default:
		return ApplyPromotionResult{}, validationError("unsupported promotion type %q", promo.Type)
	}

	limit := 0
	if promo.MaxTotalUsage != nil {
		limit = *promo.MaxTotalUsage
	}
	usageCount, err := e.promotions.AdjustUsage(ctx, promo.ID, 1, limit)
	if err != nil {
		mapped := mapRepositoryError(err)
		if errors.Is(mapped, ErrConflict) {
			return ApplyPromotionResult{}, &PromotionIneligibleError{PromotionID: promo.ID, Reason: ReasonUsageExhausted}
		}
		return ApplyPromotionResult{}, mapped
	}
	promo.UsageCount = usageCount

	if input.Customer != nil {
		usage := domain.PromotionUsage{
			ID:          usageIDPrefix + e.newID(),
			PromotionID: promo.ID,
			CustomerID:  input.Customer.ID,
			OrderID:     agg.ID(),
			Discount:    applied.Discount,
			UsedAt:      now,
		}
		if err := e.usage.RecordUsage(ctx, usage); err != nil {
			return ApplyPromotionResult{}, mapRepositoryError(err)
		}
	}

	agg.SetDiscount(&applied, applied.Discount)
	e.logger(ctx, promotionEventApplied, map[string]any{
		"orderId":     agg.ID(),
		"promotionId": promo.ID,
		"discount":    applied.Discount,
		"giftCount":   applied.GiftCount,
	})

	return ApplyPromotionResult{Promotion: promo, Applied: applied, GiftItems: gifts}, nil
}

// Unapply reverses a promotion: usage record deleted, counter decremented, gift rows canceled and the
// discount cleared.
func (e *PromotionEngine) Unapply(ctx context.Context, agg *OrderAggregate, promotionID string) error {
	if err := agg.EnsureOpen(); err != nil {
		return err
	}
	current := agg.Promotion()
	if current == nil || current.PromotionID != promotionID {
		return fmt.Errorf("%w: %s", ErrPromotionNotApplied, promotionID)
	}
	order := agg.Order()

	if order.CustomerID != nil {
		if err := e.usage.DeleteUsage(ctx, promotionID, order.ID); err != nil {
			return mapRepositoryError(err)
		}
	}
	if _, err := e.promotions.AdjustUsage(ctx, promotionID, -1, 0); err != nil {
		mapped := mapRepositoryError(err)
		if !errors.Is(mapped, ErrResourceNotFound) {
			return mapped
		}
	}

	for _, item := range order.Items {
		if item.IsGift && item.Live() {
			if _, err := agg.RemoveItem(item.ID, giftCancelReason); err != nil {
				return err
			}
		}
	}
	agg.SetDiscount(nil, 0)

	e.logger(ctx, promotionEventReversed, map[string]any{
		"orderId":     order.ID,
		"promotionId": promotionID,
	})
	return nil
}

// Reverse unapplies whatever promotion the order carries; it is a no-op without one.
func (e *PromotionEngine) Reverse(ctx context.Context, agg *OrderAggregate) error {
	current := agg.Promotion()
	if current == nil {
		return nil
	}
	return e.Unapply(ctx, agg, current.PromotionID)
}

type applicableScope struct {
	subtotal    int64
	quantity    int
	unitsByItem map[string]int
}

func (e *PromotionEngine) applicable(ctx context.Context, promo domain.Promotion, order domain.Order) (applicableScope, error) {
	scope := applicableScope{unitsByItem: make(map[string]int)}

	if promo.Class() == domain.PromotionClassCombo {
		seen := make(map[string]struct{})
		for _, item := range order.Items {
			if !item.Live() || item.IsGift || item.ComboID == nil {
				continue
			}
			comboID := *item.ComboID
			if _, dup := seen[comboID]; dup {
				continue
			}
			if !promo.Combos.AllCombos && !slices.Contains(promo.Combos.ComboIDs, comboID) {
				continue
			}
			seen[comboID] = struct{}{}
			combo, err := e.catalog.GetCombo(ctx, comboID)
			if err != nil {
				return applicableScope{}, mapRepositoryError(err)
			}
			scope.subtotal += combo.ComboPrice
			scope.quantity++
			scope.unitsByItem[comboID]++
		}
		return scope, nil
	}

	items := promo.Items
	for _, item := range order.Items {
		if !item.Live() || item.IsGift {
			continue
		}
		if !itemInScope(items, item) {
			continue
		}
		scope.subtotal += item.TotalPrice
		scope.quantity += item.Quantity
		if item.CatalogItemID != nil {
			scope.unitsByItem[*item.CatalogItemID] += item.Quantity
		}
	}
	return scope, nil
}

func itemInScope(scope domain.ItemScope, item domain.OrderItem) bool {
	if scope.AllItems && item.CatalogItemID != nil {
		return true
	}
	if scope.AllCategories && item.CategoryID != nil {
		return true
	}
	if item.CatalogItemID != nil && slices.Contains(scope.ItemIDs, *item.CatalogItemID) {
		return true
	}
	if item.CategoryID != nil && slices.Contains(scope.CategoryIDs, *item.CategoryID) {
		return true
	}
	return false
}

func selectGifts(rule domain.GiftRule, count int, requested []domain.GiftSelection) ([]domain.GiftSelection, error) {
	options := make(map[string]domain.GiftOption, len(rule.Gifts))
	for _, option := range rule.Gifts {
		options[option.ItemID] = option
	}

	if len(requested) > 0 {
		total := 0
		perItem := make(map[string]int, len(requested))
		for _, selection := range requested {
			option, ok := options[selection.ItemID]
			if !ok {
				return nil, validationError("gift %s is not offered by this promotion", selection.ItemID)
			}
			if selection.Quantity <= 0 {
				return nil, validationError("gift %s quantity must be positive", selection.ItemID)
			}
			perItem[selection.ItemID] += selection.Quantity
			if option.MaxQuantity > 0 && perItem[selection.ItemID] > option.MaxQuantity {
				return nil, validationError("gift %s exceeds its maximum of %d", selection.ItemID, option.MaxQuantity)
			}
			total += selection.Quantity
		}
		if total != count {
			return nil, validationError("selected %d gifts, exactly %d required", total, count)
		}
		return slices.Clone(requested), nil
	}

	remaining := count
	var selections []domain.GiftSelection
	for _, option := range rule.Gifts {
		if remaining == 0 {
			break
		}
		take := remaining
		if option.MaxQuantity > 0 && take > option.MaxQuantity {
			take = option.MaxQuantity
		}
		selections = append(selections, domain.GiftSelection{ItemID: option.ItemID, Quantity: take})
		remaining -= take
	}
	if len(selections) == 0 {
		return nil, fmt.Errorf("%w: no gift options available", ErrInsufficientGiftCondition)
	}
	if remaining > 0 {
		return nil, fmt.Errorf("%w: gift options cover %d of %d gifts", ErrInsufficientGiftCondition, count-remaining, count)
	}
	return selections, nil
}

func (e *PromotionEngine) addGiftRows(ctx context.Context, agg *OrderAggregate, rule domain.GiftRule, selections []domain.GiftSelection) ([]domain.OrderItem, error) {
	names := make(map[string]string, len(rule.Gifts))
	for _, option := range rule.Gifts {
		names[option.ItemID] = option.Name
	}

	rows := make([]domain.OrderItem, 0, len(selections))
	for _, selection := range selections {
		row := domain.OrderItem{
			CatalogItemID: valuePtr(selection.ItemID),
			Name:          names[selection.ItemID],
			Quantity:      selection.Quantity,
			IsGift:        true,
		}
		catalogItem, err := e.catalog.GetItem(ctx, selection.ItemID)
		switch {
		case err == nil:
			row.BasePrice = catalogItem.SellingPrice
			row.CategoryID = optionalString(catalogItem.CategoryID)
			if row.Name == "" {
				row.Name = catalogItem.Name
			}
		case errors.Is(mapRepositoryError(err), ErrResourceNotFound):
		default:
			return nil, mapRepositoryError(err)
		}
		added, err := agg.AddItem(row)
		if err != nil {
			return nil, err
		}
		rows = append(rows, added)
	}
	return rows, nil
}
