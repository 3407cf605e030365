package handlers

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/finitefield/pos-api/internal/domain"
	"github.com/finitefield/pos-api/internal/platform/auth"
	"github.com/finitefield/pos-api/internal/platform/httpx"
	"github.com/finitefield/pos-api/internal/services"
)

const maxOrderBodySize = 32 * 1024

// OrderHandlers exposes the order lifecycle endpoints to authenticated staff.
type OrderHandlers struct {
	orders             services.OrderService
	limiter            rateLimiter
	promotionsDisabled bool
}

// OrderHandlerOption customises OrderHandlers.
type OrderHandlerOption func(*OrderHandlers)

// WithMutationRateLimit caps mutating requests per staff member within window.
func WithMutationRateLimit(limit int, window time.Duration) OrderHandlerOption {
	return func(h *OrderHandlers) {
		h.limiter = newStaffRateLimiter(limit, window, time.Now)
	}
}

// WithPromotionsDisabled rejects promotion endpoints and promotion references at checkout.
func WithPromotionsDisabled() OrderHandlerOption {
	return func(h *OrderHandlers) {
		h.promotionsDisabled = true
	}
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(orders services.OrderService, opts ...OrderHandlerOption) *OrderHandlers {
	h := &OrderHandlers{orders: orders}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/", h.createOrder)
	r.Get("/{orderID}", h.getOrder)
	r.Post("/{orderID}/items", h.addItem)
	r.Patch("/{orderID}/items/{itemID}", h.updateItem)
	r.Post("/{orderID}/items/{itemID}:reduce", h.reduceItem)
	r.Post("/{orderID}:send-to-kitchen", h.sendToKitchen)
	r.With(auth.RequireRole(auth.RoleCashier, auth.RoleManager)).Post("/{orderID}:checkout", h.checkout)
	r.With(auth.RequireRole(auth.RoleManager)).Post("/{orderID}:cancel", h.cancelOrder)
	r.Post("/{orderID}:transfer", h.transferTable)
	r.Post("/{orderID}:merge", h.mergeOrders)
	r.Post("/{orderID}:split", h.splitOrder)
	r.Post("/{orderID}/promotion", h.applyPromotion)
	r.Delete("/{orderID}/promotion", h.removePromotion)
}

// TableRoutes registers the /tables endpoints.
func (h *OrderHandlers) TableRoutes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/{tableID}/orders", h.listTableOrders)
}

type createOrderRequest struct {
	TableID    *string `json:"table_id"`
	CustomerID *string `json:"customer_id"`
	Notes      string  `json:"notes"`
}

type toppingRequest struct {
	CatalogItemID string `json:"catalog_item_id"`
	Quantity      int    `json:"quantity"`
}

type addItemRequest struct {
	CatalogItemID string            `json:"catalog_item_id"`
	ComboID       *string           `json:"combo_id"`
	ParentItemID  *string           `json:"parent_item_id"`
	Name          string            `json:"name"`
	UnitPrice     *int64            `json:"unit_price"`
	Quantity      int               `json:"quantity"`
	Notes         string            `json:"notes"`
	Customization map[string]string `json:"customization"`
	Toppings      []toppingRequest  `json:"toppings"`
}

type updateItemRequest struct {
	Quantity       *int               `json:"quantity"`
	Notes          *string            `json:"notes"`
	Customization  *map[string]string `json:"customization"`
	Status         *string            `json:"status"`
	StatusQuantity int                `json:"status_quantity"`
	Reason         string             `json:"reason"`
}

type reduceItemRequest struct {
	Quantity int    `json:"quantity"`
	Reason   string `json:"reason"`
}

type sendToKitchenRequest struct {
	ItemIDs []string `json:"item_ids"`
}

type giftRequest struct {
	ItemID   string `json:"item_id"`
	Quantity int    `json:"quantity"`
}

type checkoutRequest struct {
	PaymentMethod string        `json:"payment_method"`
	PaidAmount    *int64        `json:"paid_amount"`
	PaymentRef    *string       `json:"payment_ref"`
	PromotionID   string        `json:"promotion_id"`
	PromotionCode string        `json:"promotion_code"`
	Gifts         []giftRequest `json:"gifts"`
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

type transferTableRequest struct {
	TableID string `json:"table_id"`
}

type mergeOrdersRequest struct {
	SourceOrderID string `json:"source_order_id"`
}

type splitLineRequest struct {
	ItemID   string `json:"item_id"`
	Quantity int    `json:"quantity"`
}

type splitOrderRequest struct {
	Lines   []splitLineRequest `json:"lines"`
	TableID *string            `json:"table_id"`
}

type applyPromotionRequest struct {
	PromotionID string        `json:"promotion_id"`
	Code        string        `json:"code"`
	Gifts       []giftRequest `json:"gifts"`
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	staffID, ok := h.begin(w, r, true)
	if !ok {
		return
	}
	var req createOrderRequest
	if err := httpx.DecodeJSON(r, maxOrderBodySize, &req); err != nil {
		httpx.WriteDecodeError(w, r, err)
		return
	}
	order, err := h.orders.Create(r.Context(), services.CreateOrderCommand{
		TableID:    req.TableID,
		CustomerID: req.CustomerID,
		StaffID:    staffID,
		Notes:      req.Notes,
	})
	h.respondOrder(w, r, http.StatusCreated, order, err)
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.begin(w, r, false); !ok {
		return
	}
	order, err := h.orders.GetByID(r.Context(), orderIDParam(r))
	h.respondOrder(w, r, http.StatusOK, order, err)
}

func (h *OrderHandlers) listTableOrders(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.begin(w, r, false); !ok {
		return
	}
	tableID := strings.TrimSpace(chi.URLParam(r, "tableID"))
	orders, err := h.orders.ListByTable(r.Context(), tableID)
	if err != nil {
		writeOrderError(r.Context(), w, err)
		return
	}
	items := make([]orderPayload, 0, len(orders))
	for _, order := range orders {
		items = append(items, buildOrderPayload(order))
	}
	httpx.WriteJSON(w, http.StatusOK, orderListResponse{TableID: tableID, Orders: items})
}

func (h *OrderHandlers) addItem(w http.ResponseWriter, r *http.Request) {
	staffID, ok := h.begin(w, r, true)
	if !ok {
		return
	}
	var req addItemRequest
	if err := httpx.DecodeJSON(r, maxOrderBodySize, &req); err != nil {
		httpx.WriteDecodeError(w, r, err)
		return
	}
	toppings := make([]services.ToppingInput, 0, len(req.Toppings))
	for _, t := range req.Toppings {
		toppings = append(toppings, services.ToppingInput{CatalogItemID: t.CatalogItemID, Quantity: t.Quantity})
	}
	order, err := h.orders.AddItem(r.Context(), services.AddItemCommand{
		OrderID:       orderIDParam(r),
		StaffID:       staffID,
		CatalogItemID: strings.TrimSpace(req.CatalogItemID),
		ComboID:       req.ComboID,
		ParentItemID:  req.ParentItemID,
		Name:          req.Name,
		UnitPrice:     req.UnitPrice,
		Quantity:      req.Quantity,
		Notes:         req.Notes,
		Customization: req.Customization,
		Toppings:      toppings,
	})
	h.respondOrder(w, r, http.StatusOK, order, err)
}

func (h *OrderHandlers) updateItem(w http.ResponseWriter, r *http.Request) {
	staffID, ok := h.begin(w, r, true)
	if !ok {
		return
	}
	var req updateItemRequest
	if err := httpx.DecodeJSON(r, maxOrderBodySize, &req); err != nil {
		httpx.WriteDecodeError(w, r, err)
		return
	}
	cmd := services.UpdateItemCommand{
		OrderID:        orderIDParam(r),
		ItemID:         strings.TrimSpace(chi.URLParam(r, "itemID")),
		StaffID:        staffID,
		Quantity:       req.Quantity,
		Notes:          req.Notes,
		Customization:  req.Customization,
		StatusQuantity: req.StatusQuantity,
		Reason:         req.Reason,
	}
	if req.Status != nil {
		status, err := parseItemStatus(*req.Status)
		if err != nil {
			httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
			return
		}
		cmd.Status = &status
	}
	order, err := h.orders.UpdateItem(r.Context(), cmd)
	h.respondOrder(w, r, http.StatusOK, order, err)
}

func (h *OrderHandlers) reduceItem(w http.ResponseWriter, r *http.Request) {
	staffID, ok := h.begin(w, r, true)
	if !ok {
		return
	}
	var req reduceItemRequest
	if err := httpx.DecodeJSON(r, maxOrderBodySize, &req); err != nil {
		httpx.WriteDecodeError(w, r, err)
		return
	}
	order, err := h.orders.ReduceItem(r.Context(), services.ReduceItemCommand{
		OrderID:  orderIDParam(r),
		ItemID:   strings.TrimSpace(chi.URLParam(r, "itemID")),
		StaffID:  staffID,
		Quantity: req.Quantity,
		Reason:   req.Reason,
	})
	h.respondOrder(w, r, http.StatusOK, order, err)
}

func (h *OrderHandlers) sendToKitchen(w http.ResponseWriter, r *http.Request) {
	staffID, ok := h.begin(w, r, true)
	if !ok {
		return
	}
	var req sendToKitchenRequest
	if err := httpx.DecodeJSON(r, maxOrderBodySize, &req); err != nil {
		httpx.WriteDecodeError(w, r, err)
		return
	}
	order, err := h.orders.SendToKitchen(r.Context(), services.SendToKitchenCommand{
		OrderID: orderIDParam(r),
		StaffID: staffID,
		ItemIDs: req.ItemIDs,
	})
	h.respondOrder(w, r, http.StatusOK, order, err)
}

func (h *OrderHandlers) checkout(w http.ResponseWriter, r *http.Request) {
	staffID, ok := h.begin(w, r, true)
	if !ok {
		return
	}
	var req checkoutRequest
	if err := httpx.DecodeJSON(r, maxOrderBodySize, &req); err != nil {
		httpx.WriteDecodeError(w, r, err)
		return
	}
	cmd := services.CheckoutCommand{
		OrderID:       orderIDParam(r),
		StaffID:       staffID,
		PaymentMethod: domain.PaymentMethod(strings.ToUpper(strings.TrimSpace(req.PaymentMethod))),
		PaidAmount:    req.PaidAmount,
		PaymentRef:    req.PaymentRef,
		Gifts:         giftSelections(req.Gifts),
	}
	if req.PromotionID != "" || req.PromotionCode != "" {
		if h.promotionsDisabled {
			writePromotionsDisabled(w, r)
			return
		}
		cmd.Promotion = &services.PromotionRef{PromotionID: req.PromotionID, Code: req.PromotionCode}
	}
	order, err := h.orders.Checkout(r.Context(), cmd)
	h.respondOrder(w, r, http.StatusOK, order, err)
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	staffID, ok := h.begin(w, r, true)
	if !ok {
		return
	}
	var req cancelOrderRequest
	if err := httpx.DecodeJSON(r, maxOrderBodySize, &req); err != nil {
		httpx.WriteDecodeError(w, r, err)
		return
	}
	order, err := h.orders.Cancel(r.Context(), services.CancelOrderCommand{
		OrderID: orderIDParam(r),
		StaffID: staffID,
		Reason:  req.Reason,
	})
	h.respondOrder(w, r, http.StatusOK, order, err)
}

func (h *OrderHandlers) transferTable(w http.ResponseWriter, r *http.Request) {
	staffID, ok := h.begin(w, r, true)
	if !ok {
		return
	}
	var req transferTableRequest
	if err := httpx.DecodeJSON(r, maxOrderBodySize, &req); err != nil {
		httpx.WriteDecodeError(w, r, err)
		return
	}
	order, err := h.orders.TransferTable(r.Context(), services.TransferTableCommand{
		OrderID: orderIDParam(r),
		StaffID: staffID,
		TableID: strings.TrimSpace(req.TableID),
	})
	h.respondOrder(w, r, http.StatusOK, order, err)
}

func (h *OrderHandlers) mergeOrders(w http.ResponseWriter, r *http.Request) {
	staffID, ok := h.begin(w, r, true)
	if !ok {
		return
	}
	var req mergeOrdersRequest
	if err := httpx.DecodeJSON(r, maxOrderBodySize, &req); err != nil {
		httpx.WriteDecodeError(w, r, err)
		return
	}
	order, err := h.orders.MergeOrders(r.Context(), services.MergeOrdersCommand{
		SourceOrderID: strings.TrimSpace(req.SourceOrderID),
		TargetOrderID: orderIDParam(r),
		StaffID:       staffID,
	})
	h.respondOrder(w, r, http.StatusOK, order, err)
}

func (h *OrderHandlers) splitOrder(w http.ResponseWriter, r *http.Request) {
	staffID, ok := h.begin(w, r, true)
	if !ok {
		return
	}
	var req splitOrderRequest
	if err := httpx.DecodeJSON(r, maxOrderBodySize, &req); err != nil {
		httpx.WriteDecodeError(w, r, err)
		return
	}
	lines := make([]services.SplitLine, 0, len(req.Lines))
	for _, line := range req.Lines {
		lines = append(lines, services.SplitLine{ItemID: strings.TrimSpace(line.ItemID), Quantity: line.Quantity})
	}
	result, err := h.orders.SplitOrder(r.Context(), services.SplitOrderCommand{
		SourceOrderID: orderIDParam(r),
		StaffID:       staffID,
		Lines:         lines,
		TableID:       req.TableID,
	})
	if err != nil {
		writeOrderError(r.Context(), w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, splitOrderResponse{
		Source:  buildOrderPayload(result.Source),
		Created: buildOrderPayload(result.Created),
	})
}

func (h *OrderHandlers) applyPromotion(w http.ResponseWriter, r *http.Request) {
	staffID, ok := h.begin(w, r, true)
	if !ok {
		return
	}
	if h.promotionsDisabled {
		writePromotionsDisabled(w, r)
		return
	}
	var req applyPromotionRequest
	if err := httpx.DecodeJSON(r, maxOrderBodySize, &req); err != nil {
		httpx.WriteDecodeError(w, r, err)
		return
	}
	order, err := h.orders.ApplyPromotion(r.Context(), services.ApplyPromotionCommand{
		OrderID:     orderIDParam(r),
		StaffID:     staffID,
		PromotionID: strings.TrimSpace(req.PromotionID),
		Code:        req.Code,
		Gifts:       giftSelections(req.Gifts),
	})
	h.respondOrder(w, r, http.StatusOK, order, err)
}

func (h *OrderHandlers) removePromotion(w http.ResponseWriter, r *http.Request) {
	staffID, ok := h.begin(w, r, true)
	if !ok {
		return
	}
	if h.promotionsDisabled {
		writePromotionsDisabled(w, r)
		return
	}
	order, err := h.orders.RemovePromotion(r.Context(), services.RemovePromotionCommand{
		OrderID:     orderIDParam(r),
		StaffID:     staffID,
		PromotionID: strings.TrimSpace(r.URL.Query().Get("promotion_id")),
	})
	h.respondOrder(w, r, http.StatusOK, order, err)
}

func writePromotionsDisabled(w http.ResponseWriter, r *http.Request) {
	httpx.WriteError(r.Context(), w, httpx.NewError("promotions_disabled", "promotions are disabled", http.StatusForbidden))
}

// begin checks the service and the caller. Mutations also pass through the per-staff rate limit.
func (h *OrderHandlers) begin(w http.ResponseWriter, r *http.Request, mutation bool) (string, bool) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return "", false
	}
	staffID := auth.StaffID(ctx)
	if staffID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return "", false
	}
	if mutation && h.limiter != nil {
		if ok, wait := h.limiter.Allow(staffID); !ok {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many order changes; retry shortly", http.StatusTooManyRequests))
			return "", false
		}
	}
	return staffID, true
}

func (h *OrderHandlers) respondOrder(w http.ResponseWriter, r *http.Request, status int, order domain.Order, err error) {
	if err != nil {
		writeOrderError(r.Context(), w, err)
		return
	}
	httpx.WriteJSON(w, status, orderResponse{Order: buildOrderPayload(order)})
}

func orderIDParam(r *http.Request) string {
	return strings.TrimSpace(chi.URLParam(r, "orderID"))
}

func giftSelections(gifts []giftRequest) []domain.GiftSelection {
	if len(gifts) == 0 {
		return nil
	}
	out := make([]domain.GiftSelection, 0, len(gifts))
	for _, g := range gifts {
		out = append(out, domain.GiftSelection{ItemID: strings.TrimSpace(g.ItemID), Quantity: g.Quantity})
	}
	return out
}

func parseItemStatus(raw string) (domain.OrderItemStatus, error) {
	status := domain.OrderItemStatus(strings.ToUpper(strings.TrimSpace(raw)))
	switch status {
	case domain.ItemStatusPending, domain.ItemStatusPreparing, domain.ItemStatusWaitingIngredient,
		domain.ItemStatusOutOfStock, domain.ItemStatusCompleted, domain.ItemStatusServed, domain.ItemStatusCanceled:
		return status, nil
	}
	return "", fmt.Errorf("unknown item status %q", raw)
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	var ineligible *services.PromotionIneligibleError
	if errors.As(err, &ineligible) {
		httpx.WriteError(ctx, w, httpx.NewError("promotion_ineligible", ineligible.Reason, http.StatusUnprocessableEntity).
			WithDetails(map[string]any{"promotion_id": ineligible.PromotionID, "reason": ineligible.Reason}))
		return
	}

	switch {
	case errors.Is(err, services.ErrValidation):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrResourceNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("not_found", err.Error(), http.StatusNotFound))
	case errors.Is(err, services.ErrOrderClosed):
		httpx.WriteError(ctx, w, httpx.NewError("order_closed", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrInvalidStatusTransition):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_status_transition", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrPromotionAlreadyApplied):
		httpx.WriteError(ctx, w, httpx.NewError("promotion_already_applied", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrPromotionNotApplied):
		httpx.WriteError(ctx, w, httpx.NewError("promotion_not_applied", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrConflict):
		httpx.WriteError(ctx, w, httpx.NewError("conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrComboMembership):
		httpx.WriteError(ctx, w, httpx.NewError("combo_membership", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrInsufficientGiftCondition):
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_gift_condition", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrInsufficientPayment):
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_payment", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrPaymentVerification):
		httpx.WriteError(ctx, w, httpx.NewError("payment_verification_failed", err.Error(), http.StatusPaymentRequired))
	case errors.Is(err, services.ErrUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("unavailable", "order storage unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order request", http.StatusInternalServerError))
	}
}
