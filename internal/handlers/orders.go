package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/storyforge/api/internal/domain"
	"github.com/storyforge/api/internal/platform/auth"
	"github.com/storyforge/api/internal/platform/httpx"
	"github.com/storyforge/api/internal/services"
)

const maxOrderBodySize = 16 * 1024

var validOrderStatuses = map[domain.OrderStatus]struct{}{
	domain.OrderStatusPending: {},
	domain.OrderStatusPaid:    {},
	domain.OrderStatusFailed:  {},
	domain.OrderStatusExpired: {},
}

type addressRequest struct {
	Name       string `json:"name"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2"`
	PostalCode string `json:"postal_code"`
	City       string `json:"city"`
	Country    string `json:"country"`
}

type createOrderRequest struct {
	BookID          string          `json:"book_id"`
	Format          string          `json:"format"`
	ShippingAddress *addressRequest `json:"shipping_address"`
}

type updateOrderRequest struct {
	Format          *string         `json:"format"`
	ShippingAddress *addressRequest `json:"shipping_address"`
}

// OrderHandlers exposes order lifecycle and checkout endpoints.
type OrderHandlers struct {
	authn    *auth.Authenticator
	orders   services.OrderService
	checkout services.CheckoutService
	extra    []func(http.Handler) http.Handler
}

// NewOrderHandlers constructs a new OrderHandlers instance. Extra middleware
// runs after authentication, which lets request-deduplication layers see the
// resolved identity.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService, checkout services.CheckoutService, extra ...func(http.Handler) http.Handler) *OrderHandlers {
	return &OrderHandlers{
		authn:    authn,
		orders:   orders,
		checkout: checkout,
		extra:    extra,
	}
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireAuth())
	}
	for _, mw := range h.extra {
		if mw != nil {
			r.Use(mw)
		}
	}
	r.Post("/", h.createOrder)
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
	r.Put("/{orderID}", h.updateOrder)
	r.Delete("/{orderID}", h.deleteOrder)
	r.Post("/{orderID}/checkout", h.startCheckout)
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req createOrderRequest
	if !decodeJSONBody(ctx, w, r, maxOrderBodySize, &req) {
		return
	}

	order, err := h.orders.CreateOrder(ctx, services.CreateOrderCommand{
		ActorID:         strings.TrimSpace(identity.UID),
		BookID:          req.BookID,
		Format:          domain.BookFormat(strings.TrimSpace(req.Format)),
		ShippingAddress: buildAddress(req.ShippingAddress),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	httpx.WriteSuccess(w, http.StatusCreated, "order created", buildOrderPayload(order))
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	pagination, err := parsePagination(r)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	var statuses []domain.OrderStatus
	for _, raw := range parseFilterValues(r.URL.Query()["status"]) {
		status := domain.OrderStatus(strings.ToLower(raw))
		if _, ok := validOrderStatuses[status]; !ok {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", fmt.Sprintf("unknown order status %q", raw), http.StatusBadRequest))
			return
		}
		statuses = append(statuses, status)
	}

	page, err := h.orders.ListOrders(ctx, services.OrderListFilter{
		ActorID:    strings.TrimSpace(identity.UID),
		Status:     statuses,
		Pagination: pagination,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	items := make([]orderPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, buildOrderPayload(order))
	}

	httpx.WriteSuccess(w, http.StatusOK, "", listPayload[orderPayload]{
		Items:         items,
		NextPageToken: page.NextPageToken,
	})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.GetOrder(ctx, orderID, strings.TrimSpace(identity.UID))
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	httpx.WriteSuccess(w, http.StatusOK, "", buildOrderPayload(order))
}

func (h *OrderHandlers) updateOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	var req updateOrderRequest
	if !decodeJSONBody(ctx, w, r, maxOrderBodySize, &req) {
		return
	}

	cmd := services.UpdateOrderCommand{
		OrderID:         orderID,
		ActorID:         strings.TrimSpace(identity.UID),
		ShippingAddress: buildAddress(req.ShippingAddress),
	}
	if req.Format != nil {
		format := domain.BookFormat(strings.TrimSpace(*req.Format))
		cmd.Format = &format
	}

	order, err := h.orders.UpdateOrder(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	httpx.WriteSuccess(w, http.StatusOK, "order updated", buildOrderPayload(order))
}

func (h *OrderHandlers) deleteOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	if err := h.orders.DeleteOrder(ctx, orderID, strings.TrimSpace(identity.UID)); err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	httpx.WriteSuccess(w, http.StatusOK, "order deleted", nil)
}

func (h *OrderHandlers) startCheckout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout is not configured", http.StatusServiceUnavailable))
		return
	}

	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	redirect, err := h.checkout.StartCheckout(ctx, services.StartCheckoutCommand{
		OrderID:       orderID,
		ActorID:       strings.TrimSpace(identity.UID),
		CustomerEmail: strings.TrimSpace(identity.Email),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	httpx.WriteSuccess(w, http.StatusOK, "checkout session created", map[string]any{
		"session_id":   redirect.SessionID,
		"redirect_url": redirect.RedirectURL,
		"expires_at":   redirect.ExpiresAt.Format(time.RFC3339),
	})
}

type addressPayload struct {
	Name       string `json:"name"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	PostalCode string `json:"postal_code"`
	City       string `json:"city"`
	Country    string `json:"country"`
}

type orderPayload struct {
	ID                string          `json:"id"`
	BookID            string          `json:"book_id"`
	Format            string          `json:"format"`
	Status            string          `json:"status"`
	TotalAmount       string          `json:"total_amount"`
	Currency          string          `json:"currency"`
	ShippingAddress   *addressPayload `json:"shipping_address,omitempty"`
	PaymentID         string          `json:"payment_id,omitempty"`
	CheckoutSessionID string          `json:"checkout_session_id,omitempty"`
	CreatedAt         string          `json:"created_at"`
	UpdatedAt         string          `json:"updated_at"`
}

func buildOrderPayload(order services.Order) orderPayload {
	payload := orderPayload{
		ID:          order.ID,
		BookID:      order.BookID,
		Format:      string(order.Format),
		Status:      string(order.Status),
		TotalAmount: domain.FormatAmount(order.TotalAmount),
		Currency:    order.Currency,
		CreatedAt:   order.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   order.UpdatedAt.Format(time.RFC3339),
	}
	if order.ShippingAddress != nil {
		payload.ShippingAddress = &addressPayload{
			Name:       order.ShippingAddress.Name,
			Line1:      order.ShippingAddress.Line1,
			Line2:      order.ShippingAddress.Line2,
			PostalCode: order.ShippingAddress.PostalCode,
			City:       order.ShippingAddress.City,
			Country:    order.ShippingAddress.Country,
		}
	}
	if order.PaymentID != nil {
		payload.PaymentID = *order.PaymentID
	}
	if order.CheckoutSessionID != nil {
		payload.CheckoutSessionID = *order.CheckoutSessionID
	}
	return payload
}

func buildAddress(req *addressRequest) *services.Address {
	if req == nil {
		return nil
	}
	return &services.Address{
		Name:       req.Name,
		Line1:      req.Line1,
		Line2:      req.Line2,
		PostalCode: req.PostalCode,
		City:       req.City,
		Country:    req.Country,
	}
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, domain.ErrInvalidFormat):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_format", fmt.Sprintf("format must be one of %v", domain.Formats()), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("order_invalid_state", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", err.Error(), http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order request", http.StatusInternalServerError))
	}
}
