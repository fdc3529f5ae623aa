package payments

import (
	"context"
	"errors"
	"time"
)

// ErrInvalidSignature is returned when a webhook payload fails signature
// verification. No payload field may be trusted when this error is returned.
var ErrInvalidSignature = errors.New("payments: invalid webhook signature")

// EventKind normalises the PSP webhook event vocabulary.
type EventKind string

const (
	// EventCheckoutCompleted indicates the checkout session was paid.
	EventCheckoutCompleted EventKind = "checkout_completed"
	// EventCheckoutExpired indicates the checkout session lapsed without payment.
	EventCheckoutExpired EventKind = "checkout_expired"
	// EventCheckoutFailed indicates an asynchronous payment attempt failed.
	EventCheckoutFailed EventKind = "checkout_failed"
	// EventUnhandled covers event types the reconciler does not act on.
	EventUnhandled EventKind = "unhandled"
)

// Event is a verified, normalised webhook notification.
type Event struct {
	ID              string
	Kind            EventKind
	Type            string
	OrderID         string
	SessionID       string
	PaymentIntentID string
}

// CheckoutLineItem describes a single line item to include in a checkout session.
type CheckoutLineItem struct {
	Name        string
	Description string
	Quantity    int64
	Amount      int64
	Currency    string
}

// CheckoutSessionRequest captures the payload required to create a checkout session.
type CheckoutSessionRequest struct {
	Amount         int64
	Currency       string
	CustomerEmail  string
	SuccessURL     string
	CancelURL      string
	Metadata       map[string]string
	IdempotencyKey string
	ExpiresAt      time.Time
	Items          []CheckoutLineItem
}

// CheckoutSession represents the PSP session returned to the client.
type CheckoutSession struct {
	ID          string
	Provider    string
	RedirectURL string
	IntentID    string
	ExpiresAt   time.Time
}

// Provider defines the contract for PSP adapters to implement.
type Provider interface {
	// CreateCheckoutSession opens a hosted payment page for the given amount.
	CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (CheckoutSession, error)
	// VerifyEvent authenticates a raw webhook delivery and normalises it. It
	// must return ErrInvalidSignature before reading any payload content when
	// the signature does not match.
	VerifyEvent(payload []byte, signatureHeader string) (Event, error)
}
