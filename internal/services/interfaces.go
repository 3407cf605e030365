package services

import (
	"context"
	"time"

	domain "github.com/finitefield/pos-api/internal/domain"
)

// OrderService is the order lifecycle facade. Every mutating call runs as one unit of work.
type OrderService interface {
	Create(ctx context.Context, cmd CreateOrderCommand) (domain.Order, error)
	GetByID(ctx context.Context, orderID string) (domain.Order, error)
	ListByTable(ctx context.Context, tableID string) ([]domain.Order, error)
	AddItem(ctx context.Context, cmd AddItemCommand) (domain.Order, error)
	UpdateItem(ctx context.Context, cmd UpdateItemCommand) (domain.Order, error)
	ReduceItem(ctx context.Context, cmd ReduceItemCommand) (domain.Order, error)
	SendToKitchen(ctx context.Context, cmd SendToKitchenCommand) (domain.Order, error)
	Checkout(ctx context.Context, cmd CheckoutCommand) (domain.Order, error)
	Cancel(ctx context.Context, cmd CancelOrderCommand) (domain.Order, error)
	TransferTable(ctx context.Context, cmd TransferTableCommand) (domain.Order, error)
	MergeOrders(ctx context.Context, cmd MergeOrdersCommand) (domain.Order, error)
	SplitOrder(ctx context.Context, cmd SplitOrderCommand) (SplitOrderResult, error)
	ApplyPromotion(ctx context.Context, cmd ApplyPromotionCommand) (domain.Order, error)
	RemovePromotion(ctx context.Context, cmd RemovePromotionCommand) (domain.Order, error)
}

// CustomerService maintains customer statistics and tier membership.
type CustomerService interface {
	Get(ctx context.Context, customerID string) (domain.Customer, error)
	IncrementStats(ctx context.Context, customerID string, amount int64, at time.Time) (domain.Customer, error)
	ReassignTier(ctx context.Context, customerID string) (domain.Customer, error)
}

// OrderEventPublisher publishes order domain events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// OrderEvent captures metadata for emitted order domain events.
type OrderEvent struct {
	Type           string
	OrderID        string
	OrderCode      string
	PreviousStatus string
	CurrentStatus  string
	ActorID        string
	OccurredAt     time.Time
	Metadata       map[string]any
}

// KitchenDispatcher delivers preparation tickets to the kitchen display.
type KitchenDispatcher interface {
	DispatchTicket(ctx context.Context, ticket KitchenTicket) error
}

// KitchenTicket lists the lines the kitchen should start preparing.
type KitchenTicket struct {
	OrderID      string
	OrderCode    string
	TableID      string
	Reason       string
	Items        []KitchenTicketItem
	DispatchedAt time.Time
}

// KitchenTicketItem is a single ticket line. Toppings carry their parent id.
type KitchenTicketItem struct {
	ItemID        string
	ParentItemID  string
	Name          string
	Quantity      int
	Notes         string
	Customization map[string]string
	IsGift        bool
}

// OrderProjector mirrors order snapshots into the reporting store.
type OrderProjector interface {
	ProjectOrder(ctx context.Context, snapshot domain.OrderSnapshot) error
}

// ReceiptArchiver stores a rendered receipt for a completed order and returns its location.
type ReceiptArchiver interface {
	ArchiveReceipt(ctx context.Context, order domain.Order) (string, error)
}

// PaymentVerifier confirms an electronic payment with the processor.
type PaymentVerifier interface {
	VerifyPayment(ctx context.Context, req PaymentVerification) error
}

// PaymentVerification describes the payment the processor must confirm.
type PaymentVerification struct {
	Reference string
	Amount    int64
	Currency  string
	OrderID   string
}

// OrderMetrics records business counters for the order lifecycle.
type OrderMetrics interface {
	OrderCheckedOut(ctx context.Context, total int64, method domain.PaymentMethod)
	OrderCanceled(ctx context.Context, reason string)
	LossRecorded(ctx context.Context, amount int64)
	PromotionApplied(ctx context.Context, promotionType domain.PromotionType, discount int64)
}

// CreateOrderCommand opens an order, optionally seated at a table and tied to a customer.
type CreateOrderCommand struct {
	TableID    *string
	CustomerID *string
	StaffID    string
	Notes      string
}

// ToppingInput adds a topping alongside a main item. Quantity is per unit of the parent.
type ToppingInput struct {
	CatalogItemID string
	Quantity      int
}

// AddItemCommand adds a catalog line, or a custom line when CatalogItemID is empty.
type AddItemCommand struct {
	OrderID       string
	StaffID       string
	CatalogItemID string
	ComboID       *string
	ParentItemID  *string
	Name          string
	UnitPrice     *int64
	Quantity      int
	Notes         string
	Customization map[string]string
	Toppings      []ToppingInput
}

// UpdateItemCommand edits a line. A status change may target a partial quantity.
type UpdateItemCommand struct {
	OrderID        string
	ItemID         string
	StaffID        string
	Quantity       *int
	Notes          *string
	Customization  *map[string]string
	Status         *domain.OrderItemStatus
	StatusQuantity int
	Reason         string
}

// ReduceItemCommand cancels quantity units of a line.
type ReduceItemCommand struct {
	OrderID  string
	ItemID   string
	StaffID  string
	Quantity int
	Reason   string
}

// SendToKitchenCommand dispatches pending lines. Empty ItemIDs sends every pending line.
type SendToKitchenCommand struct {
	OrderID string
	StaffID string
	ItemIDs []string
}

// CheckoutCommand settles an order. A nil PaidAmount is accepted only for card
// payments whose PaymentRef verifies for the full total.
type CheckoutCommand struct {
	OrderID       string
	StaffID       string
	PaymentMethod domain.PaymentMethod
	PaidAmount    *int64
	PaymentRef    *string
	Promotion     *PromotionRef
	Gifts         []domain.GiftSelection
}

// CancelOrderCommand abandons an open order.
type CancelOrderCommand struct {
	OrderID string
	StaffID string
	Reason  string
}

// TransferTableCommand moves an open order to another table.
type TransferTableCommand struct {
	OrderID string
	StaffID string
	TableID string
}

// MergeOrdersCommand moves every live line of the source into the target.
type MergeOrdersCommand struct {
	SourceOrderID string
	TargetOrderID string
	StaffID       string
}

// SplitLine selects a quantity of a line to move; zero moves the whole line.
type SplitLine struct {
	ItemID   string
	Quantity int
}

// SplitOrderCommand moves lines into a new order.
type SplitOrderCommand struct {
	SourceOrderID string
	StaffID       string
	Lines         []SplitLine
	TableID       *string
}

// SplitOrderResult returns both orders after a split.
type SplitOrderResult struct {
	Source  domain.Order
	Created domain.Order
}

// ApplyPromotionCommand attaches a promotion by id or code.
type ApplyPromotionCommand struct {
	OrderID     string
	StaffID     string
	PromotionID string
	Code        string
	Gifts       []domain.GiftSelection
}

// RemovePromotionCommand detaches the applied promotion. An empty id removes whatever is applied.
type RemovePromotionCommand struct {
	OrderID     string
	StaffID     string
	PromotionID string
}
