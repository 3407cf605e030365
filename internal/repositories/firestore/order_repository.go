package firestore

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/finitefield/pos-api/internal/domain"
	pfirestore "github.com/finitefield/pos-api/internal/platform/firestore"
)

const ordersCollection = "orders"

type orderDocument struct {
	ID            string  `firestore:"id"`
	Code          string  `firestore:"code"`
	TableID       *string `firestore:"tableId"`
	CustomerID    *string `firestore:"customerId"`
	StaffID       string  `firestore:"staffId"`
	Status        string  `firestore:"status"`
	PaymentStatus string  `firestore:"paymentStatus"`
	PaymentMethod *string `firestore:"paymentMethod"`
	PaymentRef    *string `firestore:"paymentRef"`

	Subtotal       int64 `firestore:"subtotal"`
	DiscountAmount int64 `firestore:"discountAmount"`
	TotalAmount    int64 `firestore:"totalAmount"`
	PaidAmount     int64 `firestore:"paidAmount"`
	ChangeAmount   int64 `firestore:"changeAmount"`

	Promotion *appliedPromotionDocument `firestore:"promotion"`
	Items     []orderItemDocument       `firestore:"items"`

	Notes        string  `firestore:"notes"`
	CancelReason *string `firestore:"cancelReason"`
	MergedInto   *string `firestore:"mergedInto"`
	SplitFrom    *string `firestore:"splitFrom"`

	CreatedAt       time.Time  `firestore:"createdAt"`
	UpdatedAt       time.Time  `firestore:"updatedAt"`
	SentToKitchenAt *time.Time `firestore:"sentToKitchenAt"`
	CompletedAt     *time.Time `firestore:"completedAt"`
	CanceledAt      *time.Time `firestore:"canceledAt"`
}

type appliedPromotionDocument struct {
	PromotionID string    `firestore:"promotionId"`
	Code        string    `firestore:"code"`
	Type        string    `firestore:"type"`
	Discount    int64     `firestore:"discount"`
	GiftCount   int       `firestore:"giftCount"`
	AppliedAt   time.Time `firestore:"appliedAt"`
}

type orderItemDocument struct {
	ID            string            `firestore:"id"`
	CatalogItemID *string           `firestore:"catalogItemId"`
	CategoryID    *string           `firestore:"categoryId"`
	ComboID       *string           `firestore:"comboId"`
	ParentItemID  *string           `firestore:"parentItemId"`
	Name          string            `firestore:"name"`
	Quantity      int               `firestore:"quantity"`
	BasePrice     int64             `firestore:"basePrice"`
	UnitPrice     int64             `firestore:"unitPrice"`
	TotalPrice    int64             `firestore:"totalPrice"`
	Status        string            `firestore:"status"`
	IsTopping     bool              `firestore:"isTopping"`
	IsGift        bool              `firestore:"isGift"`
	Customization map[string]string `firestore:"customization,omitempty"`
	Notes         string            `firestore:"notes,omitempty"`
	CancelReason  *string           `firestore:"cancelReason"`
	CreatedAt     time.Time         `firestore:"createdAt"`
	UpdatedAt     time.Time         `firestore:"updatedAt"`
}

// OrderRepository stores orders with their items embedded in one document.
type OrderRepository struct {
	orders *pfirestore.Collection[orderDocument]
}

func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{orders: pfirestore.NewCollection[orderDocument](provider, ordersCollection)}, nil
}

func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	exists, err := r.orders.Exists(ctx, order.ID)
	if err != nil {
		return err
	}
	if exists {
		return pfirestore.Conflict("orders.insert", "order %s already exists", order.ID)
	}
	return r.orders.Set(ctx, order.ID, newOrderDocument(order))
}

func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	exists, err := r.orders.Exists(ctx, order.ID)
	if err != nil {
		return err
	}
	if !exists {
		return pfirestore.NotFound("orders.update", "order %s not found", order.ID)
	}
	return r.orders.Set(ctx, order.ID, newOrderDocument(order))
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	doc, err := r.orders.Get(ctx, strings.TrimSpace(orderID))
	if err != nil {
		return domain.Order{}, err
	}
	return doc.toDomain(), nil
}

func (r *OrderRepository) ListOpenByTable(ctx context.Context, tableID string) ([]domain.Order, error) {
	docs, err := r.orders.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("tableId", "==", tableID).
			Where("status", "in", []string{string(domain.OrderStatusPending), string(domain.OrderStatusInProgress)})
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		out = append(out, doc.toDomain())
	}
	slices.SortFunc(out, func(a, b domain.Order) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out, nil
}

func newOrderDocument(order domain.Order) orderDocument {
	doc := orderDocument{
		ID:              order.ID,
		Code:            order.Code,
		TableID:         order.TableID,
		CustomerID:      order.CustomerID,
		StaffID:         order.StaffID,
		Status:          string(order.Status),
		PaymentStatus:   string(order.PaymentStatus),
		PaymentRef:      order.PaymentRef,
		Subtotal:        order.Subtotal,
		DiscountAmount:  order.DiscountAmount,
		TotalAmount:     order.TotalAmount,
		PaidAmount:      order.PaidAmount,
		ChangeAmount:    order.ChangeAmount,
		Notes:           order.Notes,
		CancelReason:    order.CancelReason,
		MergedInto:      order.MergedInto,
		SplitFrom:       order.SplitFrom,
		CreatedAt:       order.CreatedAt.UTC(),
		UpdatedAt:       order.UpdatedAt.UTC(),
		SentToKitchenAt: order.SentToKitchenAt,
		CompletedAt:     order.CompletedAt,
		CanceledAt:      order.CanceledAt,
		Items:           make([]orderItemDocument, 0, len(order.Items)),
	}
	if order.PaymentMethod != nil {
		method := string(*order.PaymentMethod)
		doc.PaymentMethod = &method
	}
	if p := order.Promotion; p != nil {
		doc.Promotion = &appliedPromotionDocument{
			PromotionID: p.PromotionID,
			Code:        p.Code,
			Type:        string(p.Type),
			Discount:    p.Discount,
			GiftCount:   p.GiftCount,
			AppliedAt:   p.AppliedAt,
		}
	}
	for _, item := range order.Items {
		doc.Items = append(doc.Items, orderItemDocument{
			ID:            item.ID,
			CatalogItemID: item.CatalogItemID,
			CategoryID:    item.CategoryID,
			ComboID:       item.ComboID,
			ParentItemID:  item.ParentItemID,
			Name:          item.Name,
			Quantity:      item.Quantity,
			BasePrice:     item.BasePrice,
			UnitPrice:     item.UnitPrice,
			TotalPrice:    item.TotalPrice,
			Status:        string(item.Status),
			IsTopping:     item.IsTopping,
			IsGift:        item.IsGift,
			Customization: item.Customization,
			Notes:         item.Notes,
			CancelReason:  item.CancelReason,
			CreatedAt:     item.CreatedAt,
			UpdatedAt:     item.UpdatedAt,
		})
	}
	return doc
}

func (d orderDocument) toDomain() domain.Order {
	order := domain.Order{
		ID:              d.ID,
		Code:            d.Code,
		TableID:         d.TableID,
		CustomerID:      d.CustomerID,
		StaffID:         d.StaffID,
		Status:          domain.OrderStatus(d.Status),
		PaymentStatus:   domain.PaymentStatus(d.PaymentStatus),
		PaymentRef:      d.PaymentRef,
		Subtotal:        d.Subtotal,
		DiscountAmount:  d.DiscountAmount,
		TotalAmount:     d.TotalAmount,
		PaidAmount:      d.PaidAmount,
		ChangeAmount:    d.ChangeAmount,
		Notes:           d.Notes,
		CancelReason:    d.CancelReason,
		MergedInto:      d.MergedInto,
		SplitFrom:       d.SplitFrom,
		CreatedAt:       d.CreatedAt.UTC(),
		UpdatedAt:       d.UpdatedAt.UTC(),
		SentToKitchenAt: utcPtr(d.SentToKitchenAt),
		CompletedAt:     utcPtr(d.CompletedAt),
		CanceledAt:      utcPtr(d.CanceledAt),
		Items:           make([]domain.OrderItem, 0, len(d.Items)),
	}
	if d.PaymentMethod != nil {
		method := domain.PaymentMethod(*d.PaymentMethod)
		order.PaymentMethod = &method
	}
	if p := d.Promotion; p != nil {
		order.Promotion = &domain.AppliedPromotion{
			PromotionID: p.PromotionID,
			Code:        p.Code,
			Type:        domain.PromotionType(p.Type),
			Discount:    p.Discount,
			GiftCount:   p.GiftCount,
			AppliedAt:   p.AppliedAt.UTC(),
		}
	}
	for _, item := range d.Items {
		order.Items = append(order.Items, domain.OrderItem{
			ID:            item.ID,
			CatalogItemID: item.CatalogItemID,
			CategoryID:    item.CategoryID,
			ComboID:       item.ComboID,
			ParentItemID:  item.ParentItemID,
			Name:          item.Name,
			Quantity:      item.Quantity,
			BasePrice:     item.BasePrice,
			UnitPrice:     item.UnitPrice,
			TotalPrice:    item.TotalPrice,
			Status:        domain.OrderItemStatus(item.Status),
			IsTopping:     item.IsTopping,
			IsGift:        item.IsGift,
			Customization: item.Customization,
			Notes:         item.Notes,
			CancelReason:  item.CancelReason,
			CreatedAt:     item.CreatedAt.UTC(),
			UpdatedAt:     item.UpdatedAt.UTC(),
		})
	}
	return order
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
