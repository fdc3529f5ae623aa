package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/storyforge/api/internal/domain"
	"github.com/storyforge/api/internal/payments"
	"github.com/storyforge/api/internal/repositories"
)

// ErrWebhookSignature indicates the webhook payload failed signature
// verification. Nothing is read or written when this is returned.
var ErrWebhookSignature = errors.New("payment: invalid webhook signature")

// PrintFulfiller submits paid physical orders to the print partner.
type PrintFulfiller interface {
	SubmitPrintOrder(ctx context.Context, order Order) error
}

// PaymentReconcilerDeps bundles collaborators for webhook reconciliation.
type PaymentReconcilerDeps struct {
	Orders      repositories.OrderRepository
	Provider    payments.Provider
	Fulfillment PrintFulfiller
	Clock       func() time.Time
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type paymentReconciler struct {
	orders      repositories.OrderRepository
	provider    payments.Provider
	fulfillment PrintFulfiller
	clock       func() time.Time
	logger      func(context.Context, string, map[string]any)
}

// NewPaymentReconciler wires dependencies into a PaymentReconciler.
func NewPaymentReconciler(deps PaymentReconcilerDeps) (PaymentReconciler, error) {
	if deps.Orders == nil {
		return nil, errors.New("payment reconciler: order repository is required")
	}
	if deps.Provider == nil {
		return nil, errors.New("payment reconciler: payment provider is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &paymentReconciler{
		orders:      deps.Orders,
		provider:    deps.Provider,
		fulfillment: deps.Fulfillment,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// Reconcile verifies the delivery and applies it to the referenced order.
// Verification happens before any state is touched; everything after it is a
// single compare-and-swap out of pending, so redeliveries and out-of-order
// events collapse to no-ops.
func (r *paymentReconciler) Reconcile(ctx context.Context, payload []byte, signatureHeader string) error {
	event, err := r.provider.VerifyEvent(payload, signatureHeader)
	if err != nil {
		if errors.Is(err, payments.ErrInvalidSignature) {
			return fmt.Errorf("%w: %v", ErrWebhookSignature, err)
		}
		return fmt.Errorf("payment: verify event: %w", err)
	}

	target, ok := targetStatus(event.Kind)
	if !ok {
		r.logger(ctx, "payment.webhook.ignored", map[string]any{
			"event": event.ID,
			"type":  event.Type,
		})
		return nil
	}

	orderID := strings.TrimSpace(event.OrderID)
	if orderID == "" {
		r.logger(ctx, "payment.webhook.no_order", map[string]any{
			"event":   event.ID,
			"type":    event.Type,
			"session": event.SessionID,
		})
		return nil
	}

	var paymentID *string
	if target == domain.OrderStatusPaid && event.PaymentIntentID != "" {
		intent := event.PaymentIntentID
		paymentID = &intent
	}

	applied, err := r.orders.TransitionFromPending(ctx, orderID, target, paymentID)
	if err != nil {
		return fmt.Errorf("payment: transition order %s: %w", orderID, r.mapRepositoryError(err))
	}
	if !applied {
		// Unknown order or one that already reached a terminal status.
		r.logger(ctx, "payment.webhook.noop", map[string]any{
			"event":  event.ID,
			"order":  orderID,
			"status": string(target),
		})
		return nil
	}

	r.logger(ctx, "payment.webhook.applied", map[string]any{
		"event":  event.ID,
		"order":  orderID,
		"status": string(target),
	})

	if target == domain.OrderStatusPaid {
		r.requestFulfillment(ctx, orderID)
	}

	return nil
}

// requestFulfillment hands paid physical orders to the print partner. It runs
// after the status CAS and must never fail reconciliation.
func (r *paymentReconciler) requestFulfillment(ctx context.Context, orderID string) {
	if r.fulfillment == nil {
		return
	}

	order, err := r.orders.FindByID(ctx, orderID)
	if err != nil {
		r.logger(ctx, "payment.fulfillment.load_failed", map[string]any{
			"order": orderID,
			"error": err.Error(),
		})
		return
	}
	if !order.Format.Physical() {
		return
	}

	if err := r.fulfillment.SubmitPrintOrder(ctx, order); err != nil {
		r.logger(ctx, "payment.fulfillment.submit_failed", map[string]any{
			"order": orderID,
			"error": err.Error(),
		})
	}
}

func (r *paymentReconciler) mapRepositoryError(err error) error {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsUnavailable() {
		return fmt.Errorf("repository unavailable: %w", err)
	}
	return err
}

func targetStatus(kind payments.EventKind) (domain.OrderStatus, bool) {
	switch kind {
	case payments.EventCheckoutCompleted:
		return domain.OrderStatusPaid, true
	case payments.EventCheckoutExpired:
		return domain.OrderStatusExpired, true
	case payments.EventCheckoutFailed:
		return domain.OrderStatusFailed, true
	}
	return "", false
}
