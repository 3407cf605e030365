package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/finitefield/pos-api/internal/domain"
	"github.com/finitefield/pos-api/internal/platform/textutil"
	"github.com/finitefield/pos-api/internal/repositories"
)

const (
	orderIDPrefix          = "ord_"
	itemIDPrefix           = "itm_"
	orderCodeCounterPrefix = "order-code-"

	orderEventCreated          = "order.created"
	orderEventItemsChanged     = "order.items.changed"
	orderEventSentToKitchen    = "order.sent_to_kitchen"
	orderEventCompleted        = "order.completed"
	orderEventCanceled         = "order.canceled"
	orderEventTableTransferred = "order.table.transferred"
	orderEventMerged           = "order.merged"
	orderEventSplit            = "order.split"
	orderEventPromotionApplied = "order.promotion.applied"
	orderEventPromotionRemoved = "order.promotion.removed"

	ticketReasonSend     = "send"
	ticketReasonCheckout = "checkout_catch_up"

	autoCancelReason    = "all items canceled"
	defaultCancelReason = "canceled by staff"
)

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders     repositories.OrderRepository
	Catalog    repositories.CatalogRepository
	Tables     repositories.TableRepository
	Promotions repositories.PromotionRepository
	Usage      repositories.PromotionUsageRepository
	Ledger     repositories.LedgerRepository
	Counters   repositories.CounterRepository
	Customers  CustomerService
	UnitOfWork repositories.UnitOfWork

	Payments  PaymentVerifier
	Events    OrderEventPublisher
	Kitchen   KitchenDispatcher
	Projector OrderProjector
	Receipts  ReceiptArchiver
	Metrics   OrderMetrics

	Currency    string
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders     repositories.OrderRepository
	catalog    repositories.CatalogRepository
	tables     repositories.TableRepository
	ledger     repositories.LedgerRepository
	counters   repositories.CounterRepository
	customers  CustomerService
	unitOfWork repositories.UnitOfWork

	combos     *ComboResolver
	promotions *PromotionEngine
	losses     *LossAccountant

	payments  PaymentVerifier
	events    OrderEventPublisher
	kitchen   KitchenDispatcher
	projector OrderProjector
	receipts  ReceiptArchiver
	metrics   OrderMetrics

	currency string
	clock    func() time.Time
	newID    func() string
	logger   func(context.Context, string, map[string]any)
}

// NewOrderService validates dependencies and assembles the lifecycle service with its engines.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	switch {
	case deps.Orders == nil:
		return nil, errors.New("order service: order repository is required")
	case deps.Catalog == nil:
		return nil, errors.New("order service: catalog repository is required")
	case deps.Tables == nil:
		return nil, errors.New("order service: table repository is required")
	case deps.Promotions == nil:
		return nil, errors.New("order service: promotion repository is required")
	case deps.Usage == nil:
		return nil, errors.New("order service: promotion usage repository is required")
	case deps.Ledger == nil:
		return nil, errors.New("order service: ledger repository is required")
	case deps.Counters == nil:
		return nil, errors.New("order service: counter repository is required")
	case deps.Customers == nil:
		return nil, errors.New("order service: customer service is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	utcClock := func() time.Time {
		return clock().UTC()
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	currency := strings.ToUpper(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = "VND"
	}

	combos, err := NewComboResolver(deps.Catalog, utcClock)
	if err != nil {
		return nil, err
	}
	engine, err := NewPromotionEngine(PromotionEngineDeps{
		Promotions:  deps.Promotions,
		Usage:       deps.Usage,
		Catalog:     deps.Catalog,
		Clock:       utcClock,
		IDGenerator: idGen,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}
	losses, err := NewLossAccountant(LossAccountantDeps{
		Catalog:     deps.Catalog,
		Ledger:      deps.Ledger,
		Clock:       utcClock,
		IDGenerator: idGen,
	})
	if err != nil {
		return nil, err
	}

	return &orderService{
		orders:     deps.Orders,
		catalog:    deps.Catalog,
		tables:     deps.Tables,
		ledger:     deps.Ledger,
		counters:   deps.Counters,
		customers:  deps.Customers,
		unitOfWork: unit,
		combos:     combos,
		promotions: engine,
		losses:     losses,
		payments:   deps.Payments,
		events:     deps.Events,
		kitchen:    deps.Kitchen,
		projector:  deps.Projector,
		receipts:   deps.Receipts,
		metrics:    deps.Metrics,
		currency:   currency,
		clock:      utcClock,
		newID:      idGen,
		logger:     logger,
	}, nil
}

func (s *orderService) Create(ctx context.Context, cmd CreateOrderCommand) (domain.Order, error) {
	staffID := strings.TrimSpace(cmd.StaffID)
	if staffID == "" {
		return domain.Order{}, validationError("staff id is required")
	}
	tableID := trimmedPtr(cmd.TableID)
	customerID := trimmedPtr(cmd.CustomerID)

	var (
		created domain.Order
		fx      commitEffects
	)
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		fx = commitEffects{}
		now := s.now()

		if tableID != nil {
			if err := s.occupyTable(txCtx, *tableID, now, false); err != nil {
				return err
			}
		}
		if customerID != nil {
			if _, err := s.customers.Get(txCtx, *customerID); err != nil {
				return err
			}
		}
		code, err := s.nextOrderCode(txCtx, now)
		if err != nil {
			return err
		}

		order := domain.Order{
			ID:            orderIDPrefix + s.newID(),
			Code:          code,
			TableID:       tableID,
			CustomerID:    customerID,
			StaffID:       staffID,
			Status:        domain.OrderStatusPending,
			PaymentStatus: domain.PaymentStatusUnpaid,
			Notes:         textutil.SanitizeText(cmd.Notes),
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := s.orders.Insert(txCtx, order); err != nil {
			return mapRepositoryError(err)
		}
		created = order
		fx.event(order, orderEventCreated, "", staffID, nil)
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}

	s.afterCommit(ctx, fx)
	return created, nil
}

func (s *orderService) GetByID(ctx context.Context, orderID string) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, validationError("order id is required")
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return domain.Order{}, mapRepositoryError(err)
	}
	return order, nil
}

func (s *orderService) ListByTable(ctx context.Context, tableID string) ([]domain.Order, error) {
	tableID = strings.TrimSpace(tableID)
	if tableID == "" {
		return nil, validationError("table id is required")
	}
	orders, err := s.orders.ListOpenByTable(ctx, tableID)
	if err != nil {
		return nil, mapRepositoryError(err)
	}
	return orders, nil
}

func (s *orderService) AddItem(ctx context.Context, cmd AddItemCommand) (domain.Order, error) {
	if cmd.Quantity <= 0 {
		return domain.Order{}, validationError("quantity must be positive")
	}
	if cmd.ParentItemID != nil && cmd.ComboID != nil {
		return domain.Order{}, validationError("toppings cannot belong to a combo")
	}
	if cmd.ParentItemID != nil && len(cmd.Toppings) > 0 {
		return domain.Order{}, validationError("toppings cannot carry toppings")
	}

	return s.mutateOrder(ctx, cmd.OrderID, func(txCtx context.Context, agg *OrderAggregate, fx *commitEffects) error {
		if err := agg.EnsureOpen(); err != nil {
			return err
		}
		line, err := s.buildLine(txCtx, strings.TrimSpace(cmd.CatalogItemID), cmd.Name, cmd.UnitPrice, cmd.Notes, cmd.Customization)
		if err != nil {
			return err
		}
		line.Quantity = cmd.Quantity

		if cmd.ComboID != nil {
			comboID := strings.TrimSpace(*cmd.ComboID)
			if line.CatalogItemID == nil {
				return validationError("combo lines require a catalog item")
			}
			if _, err := s.combos.ResolveMembership(txCtx, comboID, *line.CatalogItemID); err != nil {
				return err
			}
			line.ComboID = &comboID
		}
		if cmd.ParentItemID != nil {
			parent, ok := agg.Item(strings.TrimSpace(*cmd.ParentItemID))
			if !ok {
				return notFound("order item", *cmd.ParentItemID)
			}
			line.IsTopping = true
			line.ParentItemID = valuePtr(parent.ID)
			line.Quantity = cmd.Quantity * parent.Quantity
		}

		main, err := agg.AddItem(line)
		if err != nil {
			return err
		}
		for _, topping := range cmd.Toppings {
			if topping.Quantity <= 0 {
				return validationError("topping quantity must be positive")
			}
			toppingLine, err := s.buildLine(txCtx, strings.TrimSpace(topping.CatalogItemID), "", nil, "", nil)
			if err != nil {
				return err
			}
			toppingLine.IsTopping = true
			toppingLine.ParentItemID = valuePtr(main.ID)
			toppingLine.Quantity = topping.Quantity * main.Quantity
			if _, err := agg.AddItem(toppingLine); err != nil {
				return err
			}
		}

		if main.ComboID != nil {
			if err := s.combos.Reprice(txCtx, agg, *main.ComboID); err != nil {
				return err
			}
		}
		fx.event(agg.Order(), orderEventItemsChanged, "", cmd.StaffID, map[string]any{"added": main.ID})
		return nil
	})
}

func (s *orderService) UpdateItem(ctx context.Context, cmd UpdateItemCommand) (domain.Order, error) {
	itemID := strings.TrimSpace(cmd.ItemID)
	if itemID == "" {
		return domain.Order{}, validationError("item id is required")
	}
	if cmd.Quantity == nil && cmd.Notes == nil && cmd.Customization == nil && cmd.Status == nil {
		return domain.Order{}, validationError("nothing to update")
	}

	return s.mutateOrder(ctx, cmd.OrderID, func(txCtx context.Context, agg *OrderAggregate, fx *commitEffects) error {
		item, ok := agg.Item(itemID)
		if !ok {
			return notFound("order item", itemID)
		}

		if cmd.Status != nil && *cmd.Status == domain.ItemStatusCanceled {
			quantity := cmd.StatusQuantity
			if quantity <= 0 {
				quantity = item.Quantity
			}
			return s.reduce(txCtx, agg, fx, itemID, quantity, cmd.Reason, cmd.StaffID)
		}

		if cmd.Quantity != nil || cmd.Notes != nil || cmd.Customization != nil {
			_, err := agg.UpdateItem(itemID, func(row *domain.OrderItem) error {
				if cmd.Quantity != nil && *cmd.Quantity != row.Quantity {
					if row.Status != domain.ItemStatusPending {
						return fmt.Errorf("%w: quantity of a %s item can only be reduced", ErrInvalidStatusTransition, row.Status)
					}
					quantity := *cmd.Quantity
					if row.IsTopping && row.ParentItemID != nil {
						if parent, ok := agg.Item(*row.ParentItemID); ok {
							quantity *= parent.Quantity
						}
					}
					row.Quantity = quantity
				}
				if cmd.Notes != nil {
					row.Notes = textutil.SanitizeText(*cmd.Notes)
				}
				if cmd.Customization != nil {
					row.Customization = textutil.NormalizeStringMap(*cmd.Customization)
				}
				return nil
			})
			if err != nil {
				return err
			}
			if item.ComboID != nil {
				if err := s.combos.Reprice(txCtx, agg, *item.ComboID); err != nil {
					return err
				}
			}
		}

		if cmd.Status != nil {
			if _, err := agg.ChangeItemStatus(itemID, *cmd.Status, cmd.StatusQuantity); err != nil {
				return err
			}
			if agg.Status() == domain.OrderStatusPending && *cmd.Status != domain.ItemStatusPending {
				if err := agg.TransitionTo(domain.OrderStatusInProgress); err != nil {
					return err
				}
			}
		}
		fx.event(agg.Order(), orderEventItemsChanged, "", cmd.StaffID, map[string]any{"updated": itemID})
		return nil
	})
}

func (s *orderService) ReduceItem(ctx context.Context, cmd ReduceItemCommand) (domain.Order, error) {
	itemID := strings.TrimSpace(cmd.ItemID)
	if itemID == "" {
		return domain.Order{}, validationError("item id is required")
	}
	if cmd.Quantity <= 0 {
		return domain.Order{}, validationError("reduce quantity must be positive")
	}
	return s.mutateOrder(ctx, cmd.OrderID, func(txCtx context.Context, agg *OrderAggregate, fx *commitEffects) error {
		return s.reduce(txCtx, agg, fx, itemID, cmd.Quantity, cmd.Reason, cmd.StaffID)
	})
}

func (s *orderService) SendToKitchen(ctx context.Context, cmd SendToKitchenCommand) (domain.Order, error) {
	return s.mutateOrder(ctx, cmd.OrderID, func(_ context.Context, agg *OrderAggregate, fx *commitEffects) error {
		if err := agg.EnsureOpen(); err != nil {
			return err
		}
		ids := cmd.ItemIDs
		explicit := len(ids) > 0
		if !explicit {
			ids = agg.LiveMainItemIDs()
		}

		var sent []string
		for _, id := range ids {
			item, ok := agg.Item(strings.TrimSpace(id))
			if !ok {
				return notFound("order item", id)
			}
			if item.Status != domain.ItemStatusPending || item.IsTopping {
				if explicit {
					return fmt.Errorf("%w: item %s is %s", ErrInvalidStatusTransition, item.ID, item.Status)
				}
				continue
			}
			if _, err := agg.ChangeItemStatus(item.ID, domain.ItemStatusPreparing, 0); err != nil {
				return err
			}
			sent = append(sent, item.ID)
		}
		if len(sent) == 0 {
			return validationError("order has no pending items to send")
		}

		previous := agg.Status()
		if err := agg.TransitionTo(domain.OrderStatusInProgress); err != nil {
			return err
		}
		order := agg.Order()
		fx.ticket(s.buildTicket(agg, sent, ticketReasonSend))
		fx.event(order, orderEventSentToKitchen, previous, cmd.StaffID, map[string]any{"items": len(sent)})
		return nil
	})
}

func (s *orderService) Checkout(ctx context.Context, cmd CheckoutCommand) (domain.Order, error) {
	method := domain.PaymentMethod(strings.ToUpper(strings.TrimSpace(string(cmd.PaymentMethod))))
	switch method {
	case domain.PaymentMethodCash, domain.PaymentMethodCard, domain.PaymentMethodTransfer:
	default:
		return domain.Order{}, validationError("unsupported payment method %q", cmd.PaymentMethod)
	}
	if cmd.PaidAmount != nil && *cmd.PaidAmount < 0 {
		return domain.Order{}, validationError("paid amount must not be negative")
	}
	paymentRef := trimmedPtr(cmd.PaymentRef)

	return s.mutateOrder(ctx, cmd.OrderID, func(txCtx context.Context, agg *OrderAggregate, fx *commitEffects) error {
		current := agg.Order()
		if current.PaymentStatus == domain.PaymentStatusPaid || current.Status.IsClosed() {
			return fmt.Errorf("%w: order %s is %s", ErrOrderClosed, current.ID, current.Status)
		}

		if cmd.Promotion != nil && (cmd.Promotion.PromotionID != "" || cmd.Promotion.Code != "") {
			if applied := agg.Promotion(); applied == nil {
				customer, err := s.orderCustomer(txCtx, current)
				if err != nil {
					return err
				}
				result, err := s.promotions.Apply(txCtx, agg, ApplyPromotionInput{
					Promotion: *cmd.Promotion,
					Customer:  customer,
					Gifts:     cmd.Gifts,
				})
				if err != nil {
					return err
				}
				fx.promotion(result.Applied)
			} else if !promotionMatches(*applied, *cmd.Promotion) {
				return fmt.Errorf("%w: %s", ErrPromotionAlreadyApplied, applied.PromotionID)
			}
		}

		total := agg.Order().TotalAmount
		var paid int64
		if cmd.PaidAmount != nil {
			paid = *cmd.PaidAmount
		}
		// Only a verified card intent may stand in for an omitted paid amount.
		verifyCard := method == domain.PaymentMethodCard && paymentRef != nil && s.payments != nil
		if paid < total && (cmd.PaidAmount != nil || !verifyCard) {
			return fmt.Errorf("%w: paid %d of %d", ErrInsufficientPayment, paid, total)
		}

		if verifyCard {
			err := s.payments.VerifyPayment(txCtx, PaymentVerification{
				Reference: *paymentRef,
				Amount:    total,
				Currency:  s.currency,
				OrderID:   current.ID,
			})
			if err != nil {
				if errors.Is(err, ErrPaymentVerification) {
					return err
				}
				return fmt.Errorf("%w: %v", ErrPaymentVerification, err)
			}
			if cmd.PaidAmount == nil {
				paid = total
			}
		}

		var catchUp []string
		for _, id := range agg.LiveMainItemIDs() {
			item, _ := agg.Item(id)
			if item.Status != domain.ItemStatusPending {
				continue
			}
			if _, err := agg.ChangeItemStatus(id, domain.ItemStatusPreparing, 0); err != nil {
				return err
			}
			catchUp = append(catchUp, id)
		}

		previous := agg.Status()
		if err := agg.TransitionTo(domain.OrderStatusCompleted); err != nil {
			return err
		}
		agg.Mutate(func(o *domain.Order) {
			o.PaymentStatus = domain.PaymentStatusPaid
			o.PaymentMethod = valuePtr(method)
			o.PaymentRef = paymentRef
			o.PaidAmount = paid
			o.ChangeAmount = paid - total
		})
		order := agg.Order()

		if order.TableID != nil {
			if err := s.releaseTable(txCtx, *order.TableID, order.ID); err != nil {
				return err
			}
		}
		if order.CustomerID != nil {
			if _, err := s.customers.IncrementStats(txCtx, *order.CustomerID, total, s.now()); err != nil {
				return err
			}
			if _, err := s.customers.ReassignTier(txCtx, *order.CustomerID); err != nil {
				return err
			}
		}
		if total > 0 {
			if err := s.postIncome(txCtx, order, method, cmd.StaffID); err != nil {
				return err
			}
		}

		if len(catchUp) > 0 {
			fx.ticket(s.buildTicket(agg, catchUp, ticketReasonCheckout))
		}
		fx.checkout(order)
		fx.event(order, orderEventCompleted, previous, cmd.StaffID, map[string]any{
			"paymentMethod": string(method),
			"total":         total,
		})
		return nil
	})
}

func (s *orderService) Cancel(ctx context.Context, cmd CancelOrderCommand) (domain.Order, error) {
	reason := textutil.SanitizeText(cmd.Reason)
	if reason == "" {
		reason = defaultCancelReason
	}
	return s.mutateOrder(ctx, cmd.OrderID, func(txCtx context.Context, agg *OrderAggregate, fx *commitEffects) error {
		if agg.Status().IsClosed() {
			return fmt.Errorf("%w: order %s is %s", ErrOrderClosed, agg.ID(), agg.Status())
		}
		return s.closeAsCanceled(txCtx, agg, fx, reason, cmd.StaffID)
	})
}

func (s *orderService) TransferTable(ctx context.Context, cmd TransferTableCommand) (domain.Order, error) {
	tableID := strings.TrimSpace(cmd.TableID)
	if tableID == "" {
		return domain.Order{}, validationError("table id is required")
	}
	return s.mutateOrder(ctx, cmd.OrderID, func(txCtx context.Context, agg *OrderAggregate, fx *commitEffects) error {
		if err := agg.EnsureOpen(); err != nil {
			return err
		}
		order := agg.Order()
		if order.TableID != nil && *order.TableID == tableID {
			return validationError("order is already seated at table %s", tableID)
		}
		if err := s.occupyTable(txCtx, tableID, s.now(), true); err != nil {
			return err
		}
		previousTable := order.TableID
		agg.Mutate(func(o *domain.Order) {
			o.TableID = valuePtr(tableID)
		})
		if previousTable != nil {
			if err := s.releaseTable(txCtx, *previousTable, order.ID); err != nil {
				return err
			}
		}
		fx.event(agg.Order(), orderEventTableTransferred, "", cmd.StaffID, map[string]any{
			"from": derefString(previousTable),
			"to":   tableID,
		})
		return nil
	})
}

func (s *orderService) MergeOrders(ctx context.Context, cmd MergeOrdersCommand) (domain.Order, error) {
	sourceID := strings.TrimSpace(cmd.SourceOrderID)
	targetID := strings.TrimSpace(cmd.TargetOrderID)
	if sourceID == "" || targetID == "" {
		return domain.Order{}, validationError("source and target order ids are required")
	}
	if sourceID == targetID {
		return domain.Order{}, validationError("cannot merge an order into itself")
	}

	var (
		merged domain.Order
		fx     commitEffects
	)
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		fx = commitEffects{}
		source, err := s.loadAggregate(txCtx, sourceID)
		if err != nil {
			return err
		}
		target, err := s.loadAggregate(txCtx, targetID)
		if err != nil {
			return err
		}
		if err := source.EnsureOpen(); err != nil {
			return err
		}
		if err := target.EnsureOpen(); err != nil {
			return err
		}

		if err := s.promotions.Reverse(txCtx, source); err != nil {
			return err
		}

		var moved []domain.OrderItem
		for _, id := range source.LiveMainItemIDs() {
			moved = append(moved, source.Detach(id)...)
		}
		if len(moved) == 0 {
			return validationError("order %s has no live items to merge", sourceID)
		}
		if err := target.Attach(moved); err != nil {
			return err
		}
		if err := s.combos.Reprice(txCtx, target); err != nil {
			return err
		}
		if target.Status() == domain.OrderStatusPending && slices.ContainsFunc(moved, func(item domain.OrderItem) bool {
			return item.Live() && item.Status != domain.ItemStatusPending
		}) {
			if err := target.TransitionTo(domain.OrderStatusInProgress); err != nil {
				return err
			}
		}

		previous := source.Status()
		targetCode := target.Order().Code
		source.Mutate(func(o *domain.Order) {
			o.MergedInto = valuePtr(targetID)
			o.CancelReason = valuePtr("merged into " + targetCode)
		})
		if err := source.TransitionTo(domain.OrderStatusCancelled); err != nil {
			return err
		}
		sourceOrder := source.Order()
		if sourceOrder.TableID != nil {
			if err := s.releaseTable(txCtx, *sourceOrder.TableID, sourceOrder.ID); err != nil {
				return err
			}
		}

		if err := s.orders.Update(txCtx, sourceOrder); err != nil {
			return mapRepositoryError(err)
		}
		merged = target.Order()
		if err := s.orders.Update(txCtx, merged); err != nil {
			return mapRepositoryError(err)
		}

		fx.event(sourceOrder, orderEventCanceled, previous, cmd.StaffID, map[string]any{"mergedInto": targetID})
		fx.event(merged, orderEventMerged, "", cmd.StaffID, map[string]any{"source": sourceID, "items": len(moved)})
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}
	s.afterCommit(ctx, fx)
	return merged, nil
}

func (s *orderService) SplitOrder(ctx context.Context, cmd SplitOrderCommand) (SplitOrderResult, error) {
	sourceID := strings.TrimSpace(cmd.SourceOrderID)
	if sourceID == "" {
		return SplitOrderResult{}, validationError("source order id is required")
	}
	if len(cmd.Lines) == 0 {
		return SplitOrderResult{}, validationError("split requires at least one line")
	}
	staffID := strings.TrimSpace(cmd.StaffID)
	if staffID == "" {
		return SplitOrderResult{}, validationError("staff id is required")
	}

	var (
		result SplitOrderResult
		fx     commitEffects
	)
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		fx = commitEffects{}
		now := s.now()
		source, err := s.loadAggregate(txCtx, sourceID)
		if err != nil {
			return err
		}
		if err := source.EnsureOpen(); err != nil {
			return err
		}

		var moved []domain.OrderItem
		for _, line := range cmd.Lines {
			item, ok := source.Item(strings.TrimSpace(line.ItemID))
			if !ok {
				return notFound("order item", line.ItemID)
			}
			quantity := line.Quantity
			if quantity <= 0 {
				quantity = item.Quantity
			}
			rows, err := source.SplitOff(item.ID, quantity)
			if err != nil {
				return err
			}
			moved = append(moved, rows...)
		}
		if !hasLiveSaleItems(source) {
			return validationError("split must leave at least one item on order %s", sourceID)
		}

		sourceOrder := source.Order()
		tableID := trimmedPtr(cmd.TableID)
		if tableID == nil {
			tableID = sourceOrder.TableID
		} else if sourceOrder.TableID == nil || *sourceOrder.TableID != *tableID {
			if err := s.occupyTable(txCtx, *tableID, now, false); err != nil {
				return err
			}
		}
		code, err := s.nextOrderCode(txCtx, now)
		if err != nil {
			return err
		}

		created := NewOrderAggregate(domain.Order{
			ID:            orderIDPrefix + s.newID(),
			Code:          code,
			TableID:       tableID,
			CustomerID:    sourceOrder.CustomerID,
			StaffID:       staffID,
			Status:        domain.OrderStatusPending,
			PaymentStatus: domain.PaymentStatusUnpaid,
			SplitFrom:     valuePtr(sourceID),
			CreatedAt:     now,
			UpdatedAt:     now,
		}, s.nextItemID, now)
		if err := created.Attach(moved); err != nil {
			return err
		}
		if slices.ContainsFunc(moved, func(item domain.OrderItem) bool {
			return item.Live() && item.Status != domain.ItemStatusPending
		}) {
			if err := created.TransitionTo(domain.OrderStatusInProgress); err != nil {
				return err
			}
		}
		if err := s.combos.Reprice(txCtx, source); err != nil {
			return err
		}
		if err := s.combos.Reprice(txCtx, created); err != nil {
			return err
		}

		result.Source = source.Order()
		result.Created = created.Order()
		if err := s.orders.Update(txCtx, result.Source); err != nil {
			return mapRepositoryError(err)
		}
		if err := s.orders.Insert(txCtx, result.Created); err != nil {
			return mapRepositoryError(err)
		}

		fx.event(result.Source, orderEventSplit, "", staffID, map[string]any{"created": result.Created.ID})
		fx.event(result.Created, orderEventCreated, "", staffID, map[string]any{"splitFrom": sourceID})
		return nil
	})
	if err != nil {
		return SplitOrderResult{}, err
	}
	s.afterCommit(ctx, fx)
	return result, nil
}

func (s *orderService) ApplyPromotion(ctx context.Context, cmd ApplyPromotionCommand) (domain.Order, error) {
	ref := PromotionRef{PromotionID: strings.TrimSpace(cmd.PromotionID), Code: strings.TrimSpace(cmd.Code)}
	if ref.PromotionID == "" && ref.Code == "" {
		return domain.Order{}, validationError("promotion id or code is required")
	}
	return s.mutateOrder(ctx, cmd.OrderID, func(txCtx context.Context, agg *OrderAggregate, fx *commitEffects) error {
		customer, err := s.orderCustomer(txCtx, agg.Order())
		if err != nil {
			return err
		}
		result, err := s.promotions.Apply(txCtx, agg, ApplyPromotionInput{
			Promotion: ref,
			Customer:  customer,
			Gifts:     cmd.Gifts,
		})
		if err != nil {
			return err
		}
		fx.promotion(result.Applied)
		fx.event(agg.Order(), orderEventPromotionApplied, "", cmd.StaffID, map[string]any{
			"promotionId": result.Applied.PromotionID,
			"discount":    result.Applied.Discount,
			"giftCount":   result.Applied.GiftCount,
		})
		return nil
	})
}

func (s *orderService) RemovePromotion(ctx context.Context, cmd RemovePromotionCommand) (domain.Order, error) {
	return s.mutateOrder(ctx, cmd.OrderID, func(txCtx context.Context, agg *OrderAggregate, fx *commitEffects) error {
		promotionID := strings.TrimSpace(cmd.PromotionID)
		if promotionID == "" {
			applied := agg.Promotion()
			if applied == nil {
				return fmt.Errorf("%w: order %s has no promotion", ErrPromotionNotApplied, agg.ID())
			}
			promotionID = applied.PromotionID
		}
		if err := s.promotions.Unapply(txCtx, agg, promotionID); err != nil {
			return err
		}
		fx.event(agg.Order(), orderEventPromotionRemoved, "", cmd.StaffID, map[string]any{"promotionId": promotionID})
		return nil
	})
}

// mutateOrder loads one order, runs fn against its aggregate and persists the result in one unit of work.
func (s *orderService) mutateOrder(ctx context.Context, orderID string, fn func(context.Context, *OrderAggregate, *commitEffects) error) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, validationError("order id is required")
	}

	var (
		updated domain.Order
		fx      commitEffects
	)
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		fx = commitEffects{}
		agg, err := s.loadAggregate(txCtx, orderID)
		if err != nil {
			return err
		}
		if err := fn(txCtx, agg, &fx); err != nil {
			return err
		}
		updated = agg.Order()
		if err := s.orders.Update(txCtx, updated); err != nil {
			return mapRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}

	fx.snapshot(updated)
	s.afterCommit(ctx, fx)
	return updated, nil
}

func (s *orderService) reduce(ctx context.Context, agg *OrderAggregate, fx *commitEffects, itemID string, quantity int, reason, staffID string) error {
	item, ok := agg.Item(itemID)
	if !ok {
		return notFound("order item", itemID)
	}
	reduced, err := agg.ReduceItem(itemID, quantity, textutil.SanitizeText(reason))
	if err != nil {
		return err
	}
	loss, err := s.losses.Record(ctx, agg.Order(), reduced, staffID)
	if err != nil {
		return err
	}
	if loss > 0 {
		fx.loss(loss)
		s.logger(ctx, "order.item.loss.recorded", map[string]any{
			"orderId":  agg.ID(),
			"itemId":   itemID,
			"quantity": reduced.CanceledQuantity,
			"amount":   loss,
		})
	}
	if item.ComboID != nil {
		if err := s.combos.Reprice(ctx, agg, *item.ComboID); err != nil {
			return err
		}
	}

	if agg.ShouldAutoCancel() {
		return s.closeAsCanceled(ctx, agg, fx, autoCancelReason, staffID)
	}
	fx.event(agg.Order(), orderEventItemsChanged, "", staffID, map[string]any{
		"reduced":  itemID,
		"quantity": reduced.CanceledQuantity,
	})
	return nil
}

func (s *orderService) closeAsCanceled(ctx context.Context, agg *OrderAggregate, fx *commitEffects, reason, staffID string) error {
	if err := s.promotions.Reverse(ctx, agg); err != nil {
		return err
	}
	previous := agg.Status()
	if err := agg.TransitionTo(domain.OrderStatusCancelled); err != nil {
		return err
	}
	agg.Mutate(func(o *domain.Order) {
		o.CancelReason = valuePtr(reason)
	})
	order := agg.Order()
	if order.TableID != nil {
		if err := s.releaseTable(ctx, *order.TableID, order.ID); err != nil {
			return err
		}
	}
	fx.cancellation(reason)
	fx.event(order, orderEventCanceled, previous, staffID, map[string]any{"reason": reason})
	return nil
}

func (s *orderService) buildLine(ctx context.Context, catalogItemID, name string, unitPrice *int64, notes string, customization map[string]string) (domain.OrderItem, error) {
	line := domain.OrderItem{
		Notes:         textutil.SanitizeText(notes),
		Customization: textutil.NormalizeStringMap(customization),
	}
	if catalogItemID == "" {
		name = textutil.SanitizeText(name)
		if name == "" {
			return domain.OrderItem{}, validationError("custom items require a name")
		}
		if unitPrice == nil || *unitPrice < 0 {
			return domain.OrderItem{}, validationError("custom items require a non-negative unit price")
		}
		line.Name = name
		line.BasePrice = *unitPrice
		line.UnitPrice = *unitPrice
		return line, nil
	}

	item, err := s.catalog.GetItem(ctx, catalogItemID)
	if err != nil {
		return domain.OrderItem{}, mapRepositoryError(err)
	}
	if !item.Active {
		return domain.OrderItem{}, validationError("catalog item %s is not available", catalogItemID)
	}
	line.CatalogItemID = valuePtr(item.ID)
	line.CategoryID = optionalString(item.CategoryID)
	line.Name = item.Name
	line.BasePrice = item.SellingPrice
	line.UnitPrice = item.SellingPrice
	return line, nil
}

func (s *orderService) buildTicket(agg *OrderAggregate, mainItemIDs []string, reason string) KitchenTicket {
	order := agg.Order()
	ticket := KitchenTicket{
		OrderID:      order.ID,
		OrderCode:    order.Code,
		TableID:      derefString(order.TableID),
		Reason:       reason,
		DispatchedAt: s.now(),
	}
	for _, id := range mainItemIDs {
		item, ok := agg.Item(id)
		if !ok {
			continue
		}
		ticket.Items = append(ticket.Items, kitchenLine(item))
		for _, topping := range agg.LiveToppings(id) {
			ticket.Items = append(ticket.Items, kitchenLine(topping))
		}
	}
	return ticket
}

func kitchenLine(item domain.OrderItem) KitchenTicketItem {
	return KitchenTicketItem{
		ItemID:        item.ID,
		ParentItemID:  derefString(item.ParentItemID),
		Name:          item.Name,
		Quantity:      item.Quantity,
		Notes:         item.Notes,
		Customization: maps.Clone(item.Customization),
		IsGift:        item.IsGift,
	}
}

func (s *orderService) postIncome(ctx context.Context, order domain.Order, method domain.PaymentMethod, staffID string) error {
	category, err := s.ledger.EnsureCategory(ctx, salesIncomeCategory)
	if err != nil {
		return mapRepositoryError(err)
	}
	_, err = s.ledger.PostTransaction(ctx, domain.LedgerTransaction{
		ID:            ledgerTransactionIDPrefix + s.newID(),
		CategoryID:    category.ID,
		Amount:        order.TotalAmount,
		Direction:     domain.LedgerDirectionIncome,
		ReferenceType: domain.LedgerReferenceOrder,
		ReferenceID:   order.ID,
		Description:   "Sale " + order.Code,
		PaymentMethod: valuePtr(method),
		StaffID:       strings.TrimSpace(staffID),
		Status:        domain.LedgerTransactionPosted,
		CreatedAt:     s.now(),
	})
	return mapRepositoryError(err)
}

func (s *orderService) occupyTable(ctx context.Context, tableID string, now time.Time, requireAvailable bool) error {
	table, err := s.tables.GetTable(ctx, tableID)
	if err != nil {
		return mapRepositoryError(err)
	}
	if table.Status == domain.TableStatusOccupied {
		if requireAvailable {
			return fmt.Errorf("%w: table %s is occupied", ErrConflict, tableID)
		}
		return nil
	}
	return mapRepositoryError(s.tables.SetStatus(ctx, tableID, domain.TableStatusOccupied, now))
}

// releaseTable frees the table unless another open order, besides the excluded ones, still sits there.
func (s *orderService) releaseTable(ctx context.Context, tableID string, excludeOrderIDs ...string) error {
	open, err := s.orders.ListOpenByTable(ctx, tableID)
	if err != nil {
		return mapRepositoryError(err)
	}
	for _, order := range open {
		if !slices.Contains(excludeOrderIDs, order.ID) {
			return nil
		}
	}
	return mapRepositoryError(s.tables.SetStatus(ctx, tableID, domain.TableStatusAvailable, s.now()))
}

func (s *orderService) orderCustomer(ctx context.Context, order domain.Order) (*domain.Customer, error) {
	if order.CustomerID == nil {
		return nil, nil
	}
	customer, err := s.customers.Get(ctx, *order.CustomerID)
	if err != nil {
		return nil, err
	}
	return &customer, nil
}

func (s *orderService) loadAggregate(ctx context.Context, orderID string) (*OrderAggregate, error) {
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, mapRepositoryError(err)
	}
	return NewOrderAggregate(order, s.nextItemID, s.now()), nil
}

func (s *orderService) nextOrderCode(ctx context.Context, now time.Time) (string, error) {
	day := now.Format("20060102")
	seq, err := s.counters.Next(ctx, orderCodeCounterPrefix+day, 1)
	if err != nil {
		return "", mapRepositoryError(err)
	}
	return fmt.Sprintf("ORD-%s-%06d", day, seq), nil
}

func (s *orderService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.unitOfWork == nil {
		return fn(ctx)
	}
	return s.unitOfWork.RunInTx(ctx, fn)
}

func (s *orderService) now() time.Time {
	return s.clock()
}

func (s *orderService) nextItemID() string {
	return itemIDPrefix + s.newID()
}

// afterCommit runs side effects once the unit of work committed. Failures are logged, never returned.
func (s *orderService) afterCommit(ctx context.Context, fx commitEffects) {
	for _, event := range fx.events {
		s.publishEvent(ctx, event)
	}
	for _, ticket := range fx.tickets {
		if s.kitchen == nil {
			break
		}
		if err := s.kitchen.DispatchTicket(ctx, ticket); err != nil {
			s.logger(ctx, "order.kitchen.dispatch.failed", map[string]any{
				"order": ticket.OrderID,
				"items": len(ticket.Items),
				"error": err.Error(),
			})
		}
	}
	for _, order := range fx.snapshots {
		if s.projector == nil {
			break
		}
		if err := s.projector.ProjectOrder(ctx, domain.OrderSnapshot{Order: order, CapturedAt: s.now()}); err != nil {
			s.logger(ctx, "order.projection.failed", map[string]any{
				"order": order.ID,
				"error": err.Error(),
			})
		}
	}
	for _, order := range fx.checkouts {
		if s.receipts != nil {
			location, err := s.receipts.ArchiveReceipt(ctx, order)
			if err != nil {
				s.logger(ctx, "order.receipt.archive.failed", map[string]any{
					"order": order.ID,
					"error": err.Error(),
				})
			} else {
				s.logger(ctx, "order.receipt.archived", map[string]any{
					"order":    order.ID,
					"location": location,
				})
			}
		}
		if s.metrics != nil && order.PaymentMethod != nil {
			s.metrics.OrderCheckedOut(ctx, order.TotalAmount, *order.PaymentMethod)
		}
	}
	if s.metrics == nil {
		return
	}
	for _, reason := range fx.cancellations {
		s.metrics.OrderCanceled(ctx, reason)
	}
	for _, amount := range fx.losses {
		s.metrics.LossRecorded(ctx, amount)
	}
	for _, applied := range fx.promotions {
		s.metrics.PromotionApplied(ctx, applied.Type, applied.Discount)
	}
}

func (s *orderService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if event.Metadata != nil {
		event.Metadata = maps.Clone(event.Metadata)
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = s.now()
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":   event.Type,
			"order":  event.OrderID,
			"error":  err.Error(),
			"status": event.CurrentStatus,
		})
	}
}

// commitEffects collects side effects produced inside a unit of work. It is reset on every attempt.
type commitEffects struct {
	events        []OrderEvent
	tickets       []KitchenTicket
	snapshots     []domain.Order
	checkouts     []domain.Order
	cancellations []string
	losses        []int64
	promotions    []domain.AppliedPromotion
}

func (fx *commitEffects) event(order domain.Order, eventType string, previous domain.OrderStatus, actorID string, metadata map[string]any) {
	fx.events = append(fx.events, OrderEvent{
		Type:           eventType,
		OrderID:        order.ID,
		OrderCode:      order.Code,
		PreviousStatus: string(previous),
		CurrentStatus:  string(order.Status),
		ActorID:        strings.TrimSpace(actorID),
		OccurredAt:     order.UpdatedAt,
		Metadata:       metadata,
	})
	if !slices.ContainsFunc(fx.snapshots, func(o domain.Order) bool { return o.ID == order.ID }) {
		fx.snapshots = append(fx.snapshots, order)
	}
}

// snapshot records the final state of an order, replacing any intermediate one.
func (fx *commitEffects) snapshot(order domain.Order) {
	for i := range fx.snapshots {
		if fx.snapshots[i].ID == order.ID {
			fx.snapshots[i] = order
			return
		}
	}
	fx.snapshots = append(fx.snapshots, order)
}

func (fx *commitEffects) ticket(ticket KitchenTicket) { fx.tickets = append(fx.tickets, ticket) }
func (fx *commitEffects) checkout(order domain.Order) { fx.checkouts = append(fx.checkouts, order) }
func (fx *commitEffects) cancellation(reason string) {
	fx.cancellations = append(fx.cancellations, reason)
}
func (fx *commitEffects) loss(amount int64) { fx.losses = append(fx.losses, amount) }
func (fx *commitEffects) promotion(applied domain.AppliedPromotion) {
	fx.promotions = append(fx.promotions, applied)
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

func promotionMatches(applied domain.AppliedPromotion, ref PromotionRef) bool {
	if id := strings.TrimSpace(ref.PromotionID); id != "" {
		return applied.PromotionID == id
	}
	return applied.Code != "" && applied.Code == textutil.NormalizeCode(ref.Code)
}

func hasLiveSaleItems(agg *OrderAggregate) bool {
	for _, id := range agg.LiveMainItemIDs() {
		if item, ok := agg.Item(id); ok && !item.IsGift {
			return true
		}
	}
	return false
}

func trimmedPtr(v *string) *string {
	if v == nil {
		return nil
	}
	return optionalString(strings.TrimSpace(*v))
}
