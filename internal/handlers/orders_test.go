package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	domain "github.com/storyforge/api/internal/domain"
	"github.com/storyforge/api/internal/services"
)

func newOrderRouter(orders *stubOrderService, checkout *stubCheckoutService) http.Handler {
	var checkoutService services.CheckoutService
	if checkout != nil {
		checkoutService = checkout
	}
	h := NewOrderHandlers(nil, orders, checkoutService)
	return NewRouter(
		WithMiddlewares(identityMiddleware(testIdentity())),
		WithOrderRoutes(h.Routes),
	)
}

func pendingOrder() services.Order {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	return services.Order{
		ID:          "ord_1",
		UserID:      "usr_1",
		BookID:      "bk_1",
		Format:      domain.FormatPremiumPrint,
		Status:      domain.OrderStatusPending,
		TotalAmount: 3499,
		Currency:    domain.DefaultCurrency,
		ShippingAddress: &domain.Address{
			Name:       "Jean Dupont",
			Line1:      "1 rue de la Paix",
			PostalCode: "75002",
			City:       "Paris",
			Country:    "FR",
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestCreateOrderEndpoint(t *testing.T) {
	var captured services.CreateOrderCommand
	orders := &stubOrderService{
		createFn: func(_ context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
			captured = cmd
			return pendingOrder(), nil
		},
	}

	body := []byte(`{
		"book_id": "bk_1",
		"format": "premium_print",
		"shipping_address": {
			"name": "Jean Dupont",
			"line1": "1 rue de la Paix",
			"postal_code": "75002",
			"city": "Paris",
			"country": "FR"
		}
	}`)
	rec, env := doRequest(t, newOrderRouter(orders, nil), http.MethodPost, "/api/v1/orders", body)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201 (body %s)", rec.Code, rec.Body.String())
	}
	if captured.ActorID != "usr_1" || captured.BookID != "bk_1" {
		t.Fatalf("captured = %+v", captured)
	}
	if captured.Format != domain.FormatPremiumPrint {
		t.Fatalf("format = %q", captured.Format)
	}
	if captured.ShippingAddress == nil || captured.ShippingAddress.City != "Paris" {
		t.Fatalf("shipping address = %+v", captured.ShippingAddress)
	}

	var payload orderPayload
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if payload.TotalAmount != "34.99" || payload.Currency != "EUR" {
		t.Fatalf("payload amount = %q %q", payload.TotalAmount, payload.Currency)
	}
	if payload.Status != "pending" {
		t.Fatalf("payload status = %q", payload.Status)
	}
}

func TestCreateOrderEndpointUnknownFormat(t *testing.T) {
	orders := &stubOrderService{
		createFn: func(context.Context, services.CreateOrderCommand) (services.Order, error) {
			return services.Order{}, domain.ErrInvalidFormat
		},
	}

	rec, env := doRequest(t, newOrderRouter(orders, nil), http.MethodPost, "/api/v1/orders", []byte(`{"book_id":"bk_1","format":"vinyl"}`))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if code := errorCode(t, env); code != "invalid_format" {
		t.Fatalf("code = %q, want invalid_format", code)
	}
}

func TestGetOrderEndpointNotFound(t *testing.T) {
	orders := &stubOrderService{
		getFn: func(context.Context, string, string) (services.Order, error) {
			return services.Order{}, services.ErrOrderNotFound
		},
	}

	rec, env := doRequest(t, newOrderRouter(orders, nil), http.MethodGet, "/api/v1/orders/ord_missing", nil)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if code := errorCode(t, env); code != "order_not_found" {
		t.Fatalf("code = %q, want order_not_found", code)
	}
}

func TestListOrdersEndpointFiltersStatus(t *testing.T) {
	var captured services.OrderListFilter
	orders := &stubOrderService{
		listFn: func(_ context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error) {
			captured = filter
			return domain.CursorPage[services.Order]{Items: []services.Order{pendingOrder()}}, nil
		},
	}

	rec, env := doRequest(t, newOrderRouter(orders, nil), http.MethodGet, "/api/v1/orders?status=pending,paid", nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", rec.Code, rec.Body.String())
	}
	if captured.ActorID != "usr_1" {
		t.Fatalf("ActorID = %q", captured.ActorID)
	}
	if len(captured.Status) != 2 || captured.Status[0] != domain.OrderStatusPending || captured.Status[1] != domain.OrderStatusPaid {
		t.Fatalf("status filter = %v", captured.Status)
	}

	var payload listPayload[orderPayload]
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if len(payload.Items) != 1 || payload.Items[0].ID != "ord_1" {
		t.Fatalf("payload = %+v", payload)
	}
}

func TestListOrdersEndpointRejectsUnknownStatus(t *testing.T) {
	rec, env := doRequest(t, newOrderRouter(&stubOrderService{}, nil), http.MethodGet, "/api/v1/orders?status=shipped", nil)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if code := errorCode(t, env); code != "invalid_request" {
		t.Fatalf("code = %q, want invalid_request", code)
	}
}

func TestListOrdersEndpointMalformedPageToken(t *testing.T) {
	orders := &stubOrderService{
		listFn: func(_ context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error) {
			if filter.Pagination.PageToken != "" {
				return domain.CursorPage[services.Order]{}, fmt.Errorf("%w: bad page token", services.ErrOrderInvalidInput)
			}
			return domain.CursorPage[services.Order]{}, nil
		},
	}

	rec, env := doRequest(t, newOrderRouter(orders, nil), http.MethodGet, "/api/v1/orders?page_token=@@not-a-token@@", nil)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 (body %s)", rec.Code, rec.Body.String())
	}
	if code := errorCode(t, env); code != "invalid_request" {
		t.Fatalf("code = %q, want invalid_request", code)
	}
}

func TestUpdateOrderEndpointChangesFormat(t *testing.T) {
	var captured services.UpdateOrderCommand
	orders := &stubOrderService{
		updateFn: func(_ context.Context, cmd services.UpdateOrderCommand) (services.Order, error) {
			captured = cmd
			order := pendingOrder()
			order.Format = domain.FormatPDF
			order.TotalAmount = 999
			return order, nil
		},
	}

	rec, env := doRequest(t, newOrderRouter(orders, nil), http.MethodPut, "/api/v1/orders/ord_1", []byte(`{"format":"pdf"}`))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", rec.Code, rec.Body.String())
	}
	if captured.OrderID != "ord_1" || captured.Format == nil || *captured.Format != domain.FormatPDF {
		t.Fatalf("captured = %+v", captured)
	}
	if captured.ShippingAddress != nil {
		t.Fatalf("address should stay nil when absent from the body")
	}

	var payload orderPayload
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if payload.TotalAmount != "9.99" {
		t.Fatalf("total = %q, want 9.99", payload.TotalAmount)
	}
}

func TestUpdateOrderEndpointInvalidState(t *testing.T) {
	orders := &stubOrderService{
		updateFn: func(context.Context, services.UpdateOrderCommand) (services.Order, error) {
			return services.Order{}, services.ErrOrderInvalidState
		},
	}

	rec, env := doRequest(t, newOrderRouter(orders, nil), http.MethodPut, "/api/v1/orders/ord_1", []byte(`{"format":"pdf"}`))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if code := errorCode(t, env); code != "order_invalid_state" {
		t.Fatalf("code = %q, want order_invalid_state", code)
	}
}

func TestDeleteOrderEndpoint(t *testing.T) {
	var deleted string
	orders := &stubOrderService{
		deleteFn: func(_ context.Context, orderID, actorID string) error {
			deleted = orderID
			if actorID != "usr_1" {
				t.Fatalf("actorID = %q", actorID)
			}
			return nil
		},
	}

	rec, env := doRequest(t, newOrderRouter(orders, nil), http.MethodDelete, "/api/v1/orders/ord_1", nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if deleted != "ord_1" {
		t.Fatalf("deleted = %q", deleted)
	}
	if env.Status != "success" {
		t.Fatalf("envelope status = %q", env.Status)
	}
}

func TestStartCheckoutEndpoint(t *testing.T) {
	expires := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	var captured services.StartCheckoutCommand
	checkout := &stubCheckoutService{
		startFn: func(_ context.Context, cmd services.StartCheckoutCommand) (services.CheckoutRedirect, error) {
			captured = cmd
			return services.CheckoutRedirect{
				SessionID:   "cs_test_1",
				RedirectURL: "https://checkout.stripe.com/c/pay/cs_test_1",
				ExpiresAt:   expires,
			}, nil
		},
	}

	rec, env := doRequest(t, newOrderRouter(&stubOrderService{}, checkout), http.MethodPost, "/api/v1/orders/ord_1/checkout", nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", rec.Code, rec.Body.String())
	}
	if captured.OrderID != "ord_1" || captured.ActorID != "usr_1" {
		t.Fatalf("captured = %+v", captured)
	}
	if captured.CustomerEmail != "parent@example.com" {
		t.Fatalf("customer email = %q", captured.CustomerEmail)
	}

	var data map[string]string
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if data["session_id"] != "cs_test_1" {
		t.Fatalf("session_id = %q", data["session_id"])
	}
	if data["redirect_url"] != "https://checkout.stripe.com/c/pay/cs_test_1" {
		t.Fatalf("redirect_url = %q", data["redirect_url"])
	}
	if data["expires_at"] != expires.Format(time.RFC3339) {
		t.Fatalf("expires_at = %q", data["expires_at"])
	}
}

func TestStartCheckoutEndpointRequiresPendingOrder(t *testing.T) {
	checkout := &stubCheckoutService{
		startFn: func(context.Context, services.StartCheckoutCommand) (services.CheckoutRedirect, error) {
			return services.CheckoutRedirect{}, services.ErrOrderInvalidState
		},
	}

	rec, env := doRequest(t, newOrderRouter(&stubOrderService{}, checkout), http.MethodPost, "/api/v1/orders/ord_1/checkout", nil)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if code := errorCode(t, env); code != "order_invalid_state" {
		t.Fatalf("code = %q, want order_invalid_state", code)
	}
}

func TestStartCheckoutEndpointProviderFailure(t *testing.T) {
	checkout := &stubCheckoutService{
		startFn: func(context.Context, services.StartCheckoutCommand) (services.CheckoutRedirect, error) {
			return services.CheckoutRedirect{}, errors.New("gateway unreachable")
		},
	}

	rec, env := doRequest(t, newOrderRouter(&stubOrderService{}, checkout), http.MethodPost, "/api/v1/orders/ord_1/checkout", nil)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if code := errorCode(t, env); code != "order_error" {
		t.Fatalf("code = %q, want order_error", code)
	}
}
