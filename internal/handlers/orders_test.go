package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	domain "github.com/finitefield/pos-api/internal/domain"
	"github.com/finitefield/pos-api/internal/platform/auth"
	"github.com/finitefield/pos-api/internal/services"
)

type stubOrderService struct {
	createFn          func(context.Context, services.CreateOrderCommand) (domain.Order, error)
	getFn             func(context.Context, string) (domain.Order, error)
	listByTableFn     func(context.Context, string) ([]domain.Order, error)
	addItemFn         func(context.Context, services.AddItemCommand) (domain.Order, error)
	updateItemFn      func(context.Context, services.UpdateItemCommand) (domain.Order, error)
	reduceItemFn      func(context.Context, services.ReduceItemCommand) (domain.Order, error)
	sendToKitchenFn   func(context.Context, services.SendToKitchenCommand) (domain.Order, error)
	checkoutFn        func(context.Context, services.CheckoutCommand) (domain.Order, error)
	cancelFn          func(context.Context, services.CancelOrderCommand) (domain.Order, error)
	transferFn        func(context.Context, services.TransferTableCommand) (domain.Order, error)
	mergeFn           func(context.Context, services.MergeOrdersCommand) (domain.Order, error)
	splitFn           func(context.Context, services.SplitOrderCommand) (services.SplitOrderResult, error)
	applyPromotionFn  func(context.Context, services.ApplyPromotionCommand) (domain.Order, error)
	removePromotionFn func(context.Context, services.RemovePromotionCommand) (domain.Order, error)
}

var errNotStubbed = errors.New("not implemented")

func (s *stubOrderService) Create(ctx context.Context, cmd services.CreateOrderCommand) (domain.Order, error) {
	if s.createFn != nil {
		return s.createFn(ctx, cmd)
	}
	return domain.Order{}, errNotStubbed
}

func (s *stubOrderService) GetByID(ctx context.Context, orderID string) (domain.Order, error) {
	if s.getFn != nil {
		return s.getFn(ctx, orderID)
	}
	return domain.Order{}, errNotStubbed
}

func (s *stubOrderService) ListByTable(ctx context.Context, tableID string) ([]domain.Order, error) {
	if s.listByTableFn != nil {
		return s.listByTableFn(ctx, tableID)
	}
	return nil, errNotStubbed
}

func (s *stubOrderService) AddItem(ctx context.Context, cmd services.AddItemCommand) (domain.Order, error) {
	if s.addItemFn != nil {
		return s.addItemFn(ctx, cmd)
	}
	return domain.Order{}, errNotStubbed
}

func (s *stubOrderService) UpdateItem(ctx context.Context, cmd services.UpdateItemCommand) (domain.Order, error) {
	if s.updateItemFn != nil {
		return s.updateItemFn(ctx, cmd)
	}
	return domain.Order{}, errNotStubbed
}

func (s *stubOrderService) ReduceItem(ctx context.Context, cmd services.ReduceItemCommand) (domain.Order, error) {
	if s.reduceItemFn != nil {
		return s.reduceItemFn(ctx, cmd)
	}
	return domain.Order{}, errNotStubbed
}

func (s *stubOrderService) SendToKitchen(ctx context.Context, cmd services.SendToKitchenCommand) (domain.Order, error) {
	if s.sendToKitchenFn != nil {
		return s.sendToKitchenFn(ctx, cmd)
	}
	return domain.Order{}, errNotStubbed
}

func (s *stubOrderService) Checkout(ctx context.Context, cmd services.CheckoutCommand) (domain.Order, error) {
	if s.checkoutFn != nil {
		return s.checkoutFn(ctx, cmd)
	}
	return domain.Order{}, errNotStubbed
}

func (s *stubOrderService) Cancel(ctx context.Context, cmd services.CancelOrderCommand) (domain.Order, error) {
	if s.cancelFn != nil {
		return s.cancelFn(ctx, cmd)
	}
	return domain.Order{}, errNotStubbed
}

func (s *stubOrderService) TransferTable(ctx context.Context, cmd services.TransferTableCommand) (domain.Order, error) {
	if s.transferFn != nil {
		return s.transferFn(ctx, cmd)
	}
	return domain.Order{}, errNotStubbed
}

func (s *stubOrderService) MergeOrders(ctx context.Context, cmd services.MergeOrdersCommand) (domain.Order, error) {
	if s.mergeFn != nil {
		return s.mergeFn(ctx, cmd)
	}
	return domain.Order{}, errNotStubbed
}

func (s *stubOrderService) SplitOrder(ctx context.Context, cmd services.SplitOrderCommand) (services.SplitOrderResult, error) {
	if s.splitFn != nil {
		return s.splitFn(ctx, cmd)
	}
	return services.SplitOrderResult{}, errNotStubbed
}

func (s *stubOrderService) ApplyPromotion(ctx context.Context, cmd services.ApplyPromotionCommand) (domain.Order, error) {
	if s.applyPromotionFn != nil {
		return s.applyPromotionFn(ctx, cmd)
	}
	return domain.Order{}, errNotStubbed
}

func (s *stubOrderService) RemovePromotion(ctx context.Context, cmd services.RemovePromotionCommand) (domain.Order, error) {
	if s.removePromotionFn != nil {
		return s.removePromotionFn(ctx, cmd)
	}
	return domain.Order{}, errNotStubbed
}

var _ services.OrderService = (*stubOrderService)(nil)

func newOrderTestRouter(svc services.OrderService, roles []string, opts ...OrderHandlerOption) http.Handler {
	h := NewOrderHandlers(svc, opts...)
	return NewRouter(
		WithStaffMiddlewares(auth.TrustedHeader(roles...)),
		WithOrderRoutes(h.Routes),
		WithTableRoutes(h.TableRoutes),
	)
}

func doRequest(t *testing.T, handler http.Handler, method, path, body, staffID string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if staffID != "" {
		req.Header.Set(auth.StaffHeader, staffID)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func sampleOrder() domain.Order {
	table := "T1"
	now := time.Date(2025, 10, 1, 5, 0, 0, 0, time.UTC)
	return domain.Order{
		ID:            "ord_1",
		Code:          "ORD-20251001-000001",
		TableID:       &table,
		StaffID:       "stf-1",
		Status:        domain.OrderStatusPending,
		PaymentStatus: domain.PaymentStatusUnpaid,
		Subtotal:      130000,
		TotalAmount:   130000,
		Items: []domain.OrderItem{{
			ID: "itm_1", Name: "Pho", Quantity: 2, UnitPrice: 65000, TotalPrice: 130000, Status: domain.ItemStatusPending,
		}},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func decodeOrder(t *testing.T, rr *httptest.ResponseRecorder) orderPayload {
	t.Helper()
	var resp orderResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v (%s)", err, rr.Body.String())
	}
	return resp.Order
}

func TestOrderHandlers_CreateOrder(t *testing.T) {
	var captured services.CreateOrderCommand
	svc := &stubOrderService{createFn: func(ctx context.Context, cmd services.CreateOrderCommand) (domain.Order, error) {
		captured = cmd
		return sampleOrder(), nil
	}}
	router := newOrderTestRouter(svc, nil)

	rr := doRequest(t, router, http.MethodPost, "/api/v1/orders", `{"table_id":"T1","notes":"window seat"}`, "stf-1")
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.StaffID != "stf-1" || captured.TableID == nil || *captured.TableID != "T1" || captured.Notes != "window seat" {
		t.Fatalf("unexpected command %+v", captured)
	}
	order := decodeOrder(t, rr)
	if order.ID != "ord_1" || order.TotalAmount != 130000 || len(order.Items) != 1 || order.CreatedAt != "2025-10-01T05:00:00Z" {
		t.Fatalf("unexpected payload %+v", order)
	}
}

func TestOrderHandlers_RequiresStaff(t *testing.T) {
	router := newOrderTestRouter(&stubOrderService{}, nil)
	rr := doRequest(t, router, http.MethodGet, "/api/v1/orders/ord_1", "", "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestOrderHandlers_RejectsUnknownFields(t *testing.T) {
	router := newOrderTestRouter(&stubOrderService{}, nil)
	rr := doRequest(t, router, http.MethodPost, "/api/v1/orders/ord_1/items", `{"catalog_item_id":"pho","price":1}`, "stf-1")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestOrderHandlers_AddItemWithToppings(t *testing.T) {
	var captured services.AddItemCommand
	svc := &stubOrderService{addItemFn: func(ctx context.Context, cmd services.AddItemCommand) (domain.Order, error) {
		captured = cmd
		return sampleOrder(), nil
	}}
	router := newOrderTestRouter(svc, nil)

	body := `{"catalog_item_id":" pho ","quantity":2,"notes":"no onion","toppings":[{"catalog_item_id":"egg","quantity":1}]}`
	rr := doRequest(t, router, http.MethodPost, "/api/v1/orders/ord_1/items", body, "stf-1")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.OrderID != "ord_1" || captured.CatalogItemID != "pho" || captured.Quantity != 2 {
		t.Fatalf("unexpected command %+v", captured)
	}
	if len(captured.Toppings) != 1 || captured.Toppings[0].CatalogItemID != "egg" {
		t.Fatalf("expected topping to be forwarded, got %+v", captured.Toppings)
	}
}

func TestOrderHandlers_UpdateItemStatus(t *testing.T) {
	var captured services.UpdateItemCommand
	svc := &stubOrderService{updateItemFn: func(ctx context.Context, cmd services.UpdateItemCommand) (domain.Order, error) {
		captured = cmd
		return sampleOrder(), nil
	}}
	router := newOrderTestRouter(svc, nil)

	rr := doRequest(t, router, http.MethodPatch, "/api/v1/orders/ord_1/items/itm_1", `{"status":"served","status_quantity":1}`, "stf-1")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.ItemID != "itm_1" || captured.Status == nil || *captured.Status != domain.ItemStatusServed || captured.StatusQuantity != 1 {
		t.Fatalf("unexpected command %+v", captured)
	}

	rr = doRequest(t, router, http.MethodPatch, "/api/v1/orders/ord_1/items/itm_1", `{"status":"eaten"}`, "stf-1")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown status, got %d", rr.Code)
	}
}

func TestOrderHandlers_ReduceItemAndSendToKitchen(t *testing.T) {
	var reduced services.ReduceItemCommand
	var sent services.SendToKitchenCommand
	svc := &stubOrderService{
		reduceItemFn: func(ctx context.Context, cmd services.ReduceItemCommand) (domain.Order, error) {
			reduced = cmd
			return sampleOrder(), nil
		},
		sendToKitchenFn: func(ctx context.Context, cmd services.SendToKitchenCommand) (domain.Order, error) {
			sent = cmd
			return sampleOrder(), nil
		},
	}
	router := newOrderTestRouter(svc, nil)

	rr := doRequest(t, router, http.MethodPost, "/api/v1/orders/ord_1/items/itm_1:reduce", `{"quantity":1,"reason":"guest changed mind"}`, "stf-1")
	if rr.Code != http.StatusOK || reduced.ItemID != "itm_1" || reduced.Quantity != 1 || reduced.Reason != "guest changed mind" {
		t.Fatalf("unexpected reduce result %d %+v", rr.Code, reduced)
	}

	rr = doRequest(t, router, http.MethodPost, "/api/v1/orders/ord_1:send-to-kitchen", "", "stf-1")
	if rr.Code != http.StatusOK || sent.OrderID != "ord_1" || len(sent.ItemIDs) != 0 {
		t.Fatalf("unexpected send result %d %+v", rr.Code, sent)
	}
}

func TestOrderHandlers_CheckoutRequiresCashier(t *testing.T) {
	var captured services.CheckoutCommand
	svc := &stubOrderService{checkoutFn: func(ctx context.Context, cmd services.CheckoutCommand) (domain.Order, error) {
		captured = cmd
		order := sampleOrder()
		order.Status = domain.OrderStatusCompleted
		order.PaidAmount = 150000
		order.ChangeAmount = 20000
		return order, nil
	}}
	body := `{"payment_method":"cash","paid_amount":150000,"promotion_code":"lunch10","gifts":[{"item_id":"itm_1","quantity":1}]}`

	rr := doRequest(t, newOrderTestRouter(svc, []string{auth.RoleStaff}), http.MethodPost, "/api/v1/orders/ord_1:checkout", body, "stf-1")
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for plain staff, got %d", rr.Code)
	}

	rr = doRequest(t, newOrderTestRouter(svc, []string{auth.RoleCashier}), http.MethodPost, "/api/v1/orders/ord_1:checkout", body, "stf-1")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.PaymentMethod != domain.PaymentMethodCash || captured.PaidAmount == nil || *captured.PaidAmount != 150000 {
		t.Fatalf("unexpected command %+v", captured)
	}
	if captured.Promotion == nil || captured.Promotion.Code != "lunch10" || len(captured.Gifts) != 1 {
		t.Fatalf("expected promotion and gifts, got %+v", captured)
	}
	if order := decodeOrder(t, rr); order.ChangeAmount != 20000 || order.Status != "COMPLETED" {
		t.Fatalf("unexpected payload %+v", order)
	}
}

func TestOrderHandlers_CheckoutWithoutPaidAmount(t *testing.T) {
	var captured services.CheckoutCommand
	svc := &stubOrderService{checkoutFn: func(ctx context.Context, cmd services.CheckoutCommand) (domain.Order, error) {
		captured = cmd
		return domain.Order{}, services.ErrInsufficientPayment
	}}

	rr := doRequest(t, newOrderTestRouter(svc, []string{auth.RoleCashier}), http.MethodPost, "/api/v1/orders/ord_1:checkout", `{"payment_method":"transfer"}`, "stf-1")
	if captured.PaidAmount != nil {
		t.Fatalf("omitted paid_amount should stay unset, got %d", *captured.PaidAmount)
	}
	if rr.Code != http.StatusUnprocessableEntity || decodeErrorCode(t, rr) != "insufficient_payment" {
		t.Fatalf("expected 422 insufficient_payment, got %d %s", rr.Code, rr.Body.String())
	}
}

func TestOrderHandlers_CancelRequiresManager(t *testing.T) {
	svc := &stubOrderService{cancelFn: func(ctx context.Context, cmd services.CancelOrderCommand) (domain.Order, error) {
		if cmd.Reason != "walked out" {
			t.Fatalf("unexpected reason %q", cmd.Reason)
		}
		order := sampleOrder()
		order.Status = domain.OrderStatusCancelled
		return order, nil
	}}

	rr := doRequest(t, newOrderTestRouter(svc, []string{auth.RoleCashier}), http.MethodPost, "/api/v1/orders/ord_1:cancel", `{"reason":"walked out"}`, "stf-1")
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for cashier, got %d", rr.Code)
	}
	rr = doRequest(t, newOrderTestRouter(svc, []string{auth.RoleManager}), http.MethodPost, "/api/v1/orders/ord_1:cancel", `{"reason":"walked out"}`, "mgr-1")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestOrderHandlers_TransferMergeSplit(t *testing.T) {
	var transfer services.TransferTableCommand
	var merge services.MergeOrdersCommand
	var split services.SplitOrderCommand
	svc := &stubOrderService{
		transferFn: func(ctx context.Context, cmd services.TransferTableCommand) (domain.Order, error) {
			transfer = cmd
			return sampleOrder(), nil
		},
		mergeFn: func(ctx context.Context, cmd services.MergeOrdersCommand) (domain.Order, error) {
			merge = cmd
			return sampleOrder(), nil
		},
		splitFn: func(ctx context.Context, cmd services.SplitOrderCommand) (services.SplitOrderResult, error) {
			split = cmd
			created := sampleOrder()
			created.ID = "ord_2"
			return services.SplitOrderResult{Source: sampleOrder(), Created: created}, nil
		},
	}
	router := newOrderTestRouter(svc, nil)

	rr := doRequest(t, router, http.MethodPost, "/api/v1/orders/ord_1:transfer", `{"table_id":"T9"}`, "stf-1")
	if rr.Code != http.StatusOK || transfer.TableID != "T9" {
		t.Fatalf("unexpected transfer %d %+v", rr.Code, transfer)
	}

	rr = doRequest(t, router, http.MethodPost, "/api/v1/orders/ord_1:merge", `{"source_order_id":"ord_7"}`, "stf-1")
	if rr.Code != http.StatusOK || merge.TargetOrderID != "ord_1" || merge.SourceOrderID != "ord_7" {
		t.Fatalf("unexpected merge %d %+v", rr.Code, merge)
	}

	rr = doRequest(t, router, http.MethodPost, "/api/v1/orders/ord_1:split", `{"lines":[{"item_id":"itm_1","quantity":1}]}`, "stf-1")
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp splitOrderResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode split: %v", err)
	}
	if resp.Created.ID != "ord_2" || resp.Source.ID != "ord_1" || len(split.Lines) != 1 || split.Lines[0].Quantity != 1 {
		t.Fatalf("unexpected split %+v %+v", resp, split)
	}
}

func TestOrderHandlers_Promotions(t *testing.T) {
	var applied services.ApplyPromotionCommand
	var removed services.RemovePromotionCommand
	svc := &stubOrderService{
		applyPromotionFn: func(ctx context.Context, cmd services.ApplyPromotionCommand) (domain.Order, error) {
			applied = cmd
			order := sampleOrder()
			order.Promotion = &domain.AppliedPromotion{PromotionID: "promo_1", Code: "LUNCH10", Type: domain.PromotionTypePercentage, Discount: 13000}
			return order, nil
		},
		removePromotionFn: func(ctx context.Context, cmd services.RemovePromotionCommand) (domain.Order, error) {
			removed = cmd
			return sampleOrder(), nil
		},
	}
	router := newOrderTestRouter(svc, nil)

	rr := doRequest(t, router, http.MethodPost, "/api/v1/orders/ord_1/promotion", `{"code":"lunch10"}`, "stf-1")
	if rr.Code != http.StatusOK || applied.Code != "lunch10" {
		t.Fatalf("unexpected apply %d %+v", rr.Code, applied)
	}
	if order := decodeOrder(t, rr); order.Promotion == nil || order.Promotion.Discount != 13000 {
		t.Fatalf("expected promotion payload, got %+v", order.Promotion)
	}

	rr = doRequest(t, router, http.MethodDelete, "/api/v1/orders/ord_1/promotion?promotion_id=promo_1", "", "stf-1")
	if rr.Code != http.StatusOK || removed.PromotionID != "promo_1" {
		t.Fatalf("unexpected remove %d %+v", rr.Code, removed)
	}
}

func TestOrderHandlers_ListTableOrders(t *testing.T) {
	svc := &stubOrderService{listByTableFn: func(ctx context.Context, tableID string) ([]domain.Order, error) {
		if tableID != "T1" {
			t.Fatalf("unexpected table %q", tableID)
		}
		return []domain.Order{sampleOrder()}, nil
	}}
	rr := doRequest(t, newOrderTestRouter(svc, nil), http.MethodGet, "/api/v1/tables/T1/orders", "", "stf-1")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var resp orderListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.TableID != "T1" || len(resp.Orders) != 1 {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestOrderHandlers_ErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("%w: quantity must be positive", services.ErrValidation), http.StatusBadRequest, "invalid_request"},
		{fmt.Errorf("%w: order \"ord_1\"", services.ErrResourceNotFound), http.StatusNotFound, "not_found"},
		{fmt.Errorf("%w: order ord_1 is COMPLETED", services.ErrOrderClosed), http.StatusConflict, "order_closed"},
		{fmt.Errorf("%w: SERVED -> PENDING", services.ErrInvalidStatusTransition), http.StatusConflict, "invalid_status_transition"},
		{fmt.Errorf("%w: table T1 occupied", services.ErrConflict), http.StatusConflict, "conflict"},
		{&services.PromotionIneligibleError{PromotionID: "promo_1", Reason: "minimum order amount not reached"}, http.StatusUnprocessableEntity, "promotion_ineligible"},
		{fmt.Errorf("%w: paid 100 of 200", services.ErrInsufficientPayment), http.StatusUnprocessableEntity, "insufficient_payment"},
		{fmt.Errorf("%w: intent pi_1 is processing", services.ErrPaymentVerification), http.StatusPaymentRequired, "payment_verification_failed"},
		{fmt.Errorf("%w: deadline", services.ErrUnavailable), http.StatusServiceUnavailable, "unavailable"},
		{errors.New("boom"), http.StatusInternalServerError, "order_error"},
	}
	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			svc := &stubOrderService{getFn: func(context.Context, string) (domain.Order, error) { return domain.Order{}, tc.err }}
			rr := doRequest(t, newOrderTestRouter(svc, nil), http.MethodGet, "/api/v1/orders/ord_1", "", "stf-1")
			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rr.Code)
			}
			var body map[string]any
			if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body["error"] != tc.code {
				t.Fatalf("expected code %s, got %v", tc.code, body["error"])
			}
		})
	}
}

func TestOrderHandlers_MutationRateLimit(t *testing.T) {
	svc := &stubOrderService{createFn: func(context.Context, services.CreateOrderCommand) (domain.Order, error) {
		return sampleOrder(), nil
	}}
	router := newOrderTestRouter(svc, nil, WithMutationRateLimit(2, time.Minute))

	for i := 0; i < 2; i++ {
		if rr := doRequest(t, router, http.MethodPost, "/api/v1/orders", `{}`, "stf-1"); rr.Code != http.StatusCreated {
			t.Fatalf("request %d: expected 201, got %d", i, rr.Code)
		}
	}
	rr := doRequest(t, router, http.MethodPost, "/api/v1/orders", `{}`, "stf-1")
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}
	if rr := doRequest(t, router, http.MethodPost, "/api/v1/orders", `{}`, "stf-2"); rr.Code != http.StatusCreated {
		t.Fatalf("expected other staff to pass, got %d", rr.Code)
	}
}

func TestOrderHandlers_PromotionsDisabled(t *testing.T) {
	called := false
	svc := &stubOrderService{
		applyPromotionFn: func(context.Context, services.ApplyPromotionCommand) (domain.Order, error) {
			called = true
			return sampleOrder(), nil
		},
		checkoutFn: func(context.Context, services.CheckoutCommand) (domain.Order, error) {
			called = true
			return sampleOrder(), nil
		},
	}
	router := newOrderTestRouter(svc, nil, WithPromotionsDisabled())

	rr := doRequest(t, router, http.MethodPost, "/api/v1/orders/ord_1/promotion", `{"code":"lunch10"}`, "stf-1")
	if rr.Code != http.StatusForbidden || decodeErrorCode(t, rr) != "promotions_disabled" {
		t.Fatalf("expected 403 promotions_disabled, got %d %s", rr.Code, rr.Body.String())
	}
	rr = doRequest(t, router, http.MethodPost, "/api/v1/orders/ord_1:checkout", `{"payment_method":"cash","paid_amount":1000,"promotion_code":"LUNCH10"}`, "stf-1")
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected checkout with promotion to be rejected, got %d", rr.Code)
	}
	if called {
		t.Fatalf("service should not be called while promotions are disabled")
	}
}

func decodeErrorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	code, _ := body["error"].(string)
	return code
}
