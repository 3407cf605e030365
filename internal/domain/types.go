package domain

import (
	"time"
)

// OrderStatus enumerates valid lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusPending indicates the order is open and nothing was sent to the kitchen yet.
	OrderStatusPending OrderStatus = "PENDING"
	// OrderStatusInProgress indicates at least one dispatch to the kitchen happened.
	OrderStatusInProgress OrderStatus = "IN_PROGRESS"
	// OrderStatusCompleted indicates the order was checked out. Terminal.
	OrderStatusCompleted OrderStatus = "COMPLETED"
	// OrderStatusCancelled indicates the order was abandoned. Terminal.
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

// IsClosed reports whether no further structural mutation is permitted.
func (s OrderStatus) IsClosed() bool {
	return s == OrderStatusCompleted || s == OrderStatusCancelled
}

// OrderItemStatus enumerates kitchen states for individual order lines.
type OrderItemStatus string

const (
	ItemStatusPending           OrderItemStatus = "PENDING"
	ItemStatusPreparing         OrderItemStatus = "PREPARING"
	ItemStatusWaitingIngredient OrderItemStatus = "WAITING_INGREDIENT"
	ItemStatusOutOfStock        OrderItemStatus = "OUT_OF_STOCK"
	ItemStatusCompleted         OrderItemStatus = "COMPLETED"
	ItemStatusServed            OrderItemStatus = "SERVED"
	ItemStatusCanceled          OrderItemStatus = "CANCELED"
)

// InKitchen reports whether kitchen resources may already have been consumed for the item.
// OUT_OF_STOCK lines never started cooking.
func (s OrderItemStatus) InKitchen() bool {
	switch s {
	case ItemStatusPreparing, ItemStatusWaitingIngredient, ItemStatusCompleted, ItemStatusServed:
		return true
	}
	return false
}

// PaymentStatus tracks whether an order has been settled.
type PaymentStatus string

const (
	PaymentStatusUnpaid PaymentStatus = "UNPAID"
	PaymentStatusPaid   PaymentStatus = "PAID"
)

// PaymentMethod enumerates accepted tender types at checkout.
type PaymentMethod string

const (
	PaymentMethodCash     PaymentMethod = "CASH"
	PaymentMethodCard     PaymentMethod = "CARD"
	PaymentMethodTransfer PaymentMethod = "TRANSFER"
)

// Order is the aggregate root for a single table or takeaway ticket.
type Order struct {
	ID            string
	Code          string
	TableID       *string
	CustomerID    *string
	StaffID       string
	Status        OrderStatus
	PaymentStatus PaymentStatus
	PaymentMethod *PaymentMethod
	PaymentRef    *string

	Subtotal       int64
	DiscountAmount int64
	TotalAmount    int64
	PaidAmount     int64
	ChangeAmount   int64

	Promotion *AppliedPromotion
	Items     []OrderItem

	Notes        string
	CancelReason *string
	MergedInto   *string
	SplitFrom    *string

	CreatedAt       time.Time
	UpdatedAt       time.Time
	SentToKitchenAt *time.Time
	CompletedAt     *time.Time
	CanceledAt      *time.Time
}

// AppliedPromotion snapshots the promotion attached to an order.
type AppliedPromotion struct {
	PromotionID string
	Code        string
	Type        PromotionType
	Discount    int64
	GiftCount   int
	AppliedAt   time.Time
}

// OrderItem is a single line on an order. Toppings reference their parent by id.
type OrderItem struct {
	ID            string
	CatalogItemID *string
	CategoryID    *string
	ComboID       *string
	ParentItemID  *string
	Name          string
	Quantity      int
	BasePrice     int64
	UnitPrice     int64
	TotalPrice    int64
	Status        OrderItemStatus
	IsTopping     bool
	IsGift        bool
	Customization map[string]string
	Notes         string
	CancelReason  *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Live reports whether the item still counts towards the order totals.
func (i OrderItem) Live() bool {
	return i.Status != ItemStatusCanceled
}

// OrderSnapshot is the read model exposed to reporting consumers.
type OrderSnapshot struct {
	Order      Order
	CapturedAt time.Time
}
