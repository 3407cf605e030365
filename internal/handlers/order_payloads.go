package handlers

import (
	"time"

	domain "github.com/finitefield/pos-api/internal/domain"
)

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderListResponse struct {
	TableID string         `json:"table_id"`
	Orders  []orderPayload `json:"orders"`
}

type splitOrderResponse struct {
	Source  orderPayload `json:"source"`
	Created orderPayload `json:"created"`
}

type orderPayload struct {
	ID              string            `json:"id"`
	Code            string            `json:"code"`
	TableID         *string           `json:"table_id,omitempty"`
	CustomerID      *string           `json:"customer_id,omitempty"`
	StaffID         string            `json:"staff_id"`
	Status          string            `json:"status"`
	PaymentStatus   string            `json:"payment_status"`
	PaymentMethod   string            `json:"payment_method,omitempty"`
	PaymentRef      *string           `json:"payment_ref,omitempty"`
	Subtotal        int64             `json:"subtotal"`
	DiscountAmount  int64             `json:"discount_amount"`
	TotalAmount     int64             `json:"total_amount"`
	PaidAmount      int64             `json:"paid_amount"`
	ChangeAmount    int64             `json:"change_amount"`
	Promotion       *promotionPayload `json:"promotion,omitempty"`
	Items           []itemPayload     `json:"items"`
	Notes           string            `json:"notes,omitempty"`
	CancelReason    *string           `json:"cancel_reason,omitempty"`
	MergedInto      *string           `json:"merged_into,omitempty"`
	SplitFrom       *string           `json:"split_from,omitempty"`
	CreatedAt       string            `json:"created_at"`
	UpdatedAt       string            `json:"updated_at"`
	SentToKitchenAt string            `json:"sent_to_kitchen_at,omitempty"`
	CompletedAt     string            `json:"completed_at,omitempty"`
	CanceledAt      string            `json:"canceled_at,omitempty"`
}

type promotionPayload struct {
	PromotionID string `json:"promotion_id"`
	Code        string `json:"code,omitempty"`
	Type        string `json:"type"`
	Discount    int64  `json:"discount"`
	GiftCount   int    `json:"gift_count,omitempty"`
	AppliedAt   string `json:"applied_at"`
}

type itemPayload struct {
	ID            string            `json:"id"`
	CatalogItemID *string           `json:"catalog_item_id,omitempty"`
	ComboID       *string           `json:"combo_id,omitempty"`
	ParentItemID  *string           `json:"parent_item_id,omitempty"`
	Name          string            `json:"name"`
	Quantity      int               `json:"quantity"`
	BasePrice     int64             `json:"base_price"`
	UnitPrice     int64             `json:"unit_price"`
	TotalPrice    int64             `json:"total_price"`
	Status        string            `json:"status"`
	IsTopping     bool              `json:"is_topping,omitempty"`
	IsGift        bool              `json:"is_gift,omitempty"`
	Customization map[string]string `json:"customization,omitempty"`
	Notes         string            `json:"notes,omitempty"`
	CancelReason  *string           `json:"cancel_reason,omitempty"`
}

func buildOrderPayload(order domain.Order) orderPayload {
	payload := orderPayload{
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
		Items:           make([]itemPayload, 0, len(order.Items)),
		Notes:           order.Notes,
		CancelReason:    order.CancelReason,
		MergedInto:      order.MergedInto,
		SplitFrom:       order.SplitFrom,
		CreatedAt:       formatTime(order.CreatedAt),
		UpdatedAt:       formatTime(order.UpdatedAt),
		SentToKitchenAt: formatTimePtr(order.SentToKitchenAt),
		CompletedAt:     formatTimePtr(order.CompletedAt),
		CanceledAt:      formatTimePtr(order.CanceledAt),
	}
	if order.PaymentMethod != nil {
		payload.PaymentMethod = string(*order.PaymentMethod)
	}
	if p := order.Promotion; p != nil {
		payload.Promotion = &promotionPayload{
			PromotionID: p.PromotionID,
			Code:        p.Code,
			Type:        string(p.Type),
			Discount:    p.Discount,
			GiftCount:   p.GiftCount,
			AppliedAt:   formatTime(p.AppliedAt),
		}
	}
	for _, item := range order.Items {
		payload.Items = append(payload.Items, itemPayload{
			ID:            item.ID,
			CatalogItemID: item.CatalogItemID,
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
		})
	}
	return payload
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}
