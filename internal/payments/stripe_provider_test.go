package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v78"
)

type stubSessionAPI struct {
	params  *stripe.CheckoutSessionParams
	session *stripe.CheckoutSession
	err     error
}

func (s *stubSessionAPI) New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	s.params = params
	if s.err != nil {
		return nil, s.err
	}
	return s.session, nil
}

func newTestProvider(t *testing.T, sessions stripeSessionAPI) *StripeProvider {
	t.Helper()
	provider, err := NewStripeProvider(StripeProviderConfig{
		WebhookSecret: "whsec_test",
		Sessions:      sessions,
		Clock: func() time.Time {
			return time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
		},
	})
	if err != nil {
		t.Fatalf("NewStripeProvider: %v", err)
	}
	return provider
}

func signPayload(secret string, payload []byte, at time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", at.Unix(), payload)
	return fmt.Sprintf("t=%d,v1=%s", at.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func TestCreateCheckoutSessionBuildsLineItemAndMetadata(t *testing.T) {
	stub := &stubSessionAPI{
		session: &stripe.CheckoutSession{
			ID:        "cs_test_123",
			URL:       "https://checkout.stripe.com/pay/cs_test_123",
			ExpiresAt: time.Date(2026, 3, 10, 12, 30, 0, 0, time.UTC).Unix(),
		},
	}
	provider := newTestProvider(t, stub)

	session, err := provider.CreateCheckoutSession(context.Background(), CheckoutSessionRequest{
		Amount:     2499,
		Currency:   "EUR",
		SuccessURL: "https://app.example.com/success",
		CancelURL:  "https://app.example.com/cancel",
		Metadata:   map[string]string{MetadataOrderIDKey: "ord_abc"},
		Items: []CheckoutLineItem{
			{Name: "Printed book", Quantity: 1, Amount: 2499, Currency: "EUR"},
		},
	})
	if err != nil {
		t.Fatalf("CreateCheckoutSession: %v", err)
	}

	if session.ID != "cs_test_123" {
		t.Fatalf("unexpected session id %s", session.ID)
	}
	if session.RedirectURL != "https://checkout.stripe.com/pay/cs_test_123" {
		t.Fatalf("unexpected redirect url %s", session.RedirectURL)
	}
	if stub.params == nil {
		t.Fatal("expected session params to be captured")
	}
	if got := stub.params.Metadata[MetadataOrderIDKey]; got != "ord_abc" {
		t.Fatalf("expected order metadata, got %q", got)
	}
	if len(stub.params.LineItems) != 1 {
		t.Fatalf("expected 1 line item, got %d", len(stub.params.LineItems))
	}
	line := stub.params.LineItems[0]
	if *line.PriceData.UnitAmount != 2499 {
		t.Fatalf("unexpected unit amount %d", *line.PriceData.UnitAmount)
	}
	if *line.PriceData.Currency != "eur" {
		t.Fatalf("unexpected currency %s", *line.PriceData.Currency)
	}
	if stub.params.PaymentIntentData == nil || stub.params.PaymentIntentData.Metadata[MetadataOrderIDKey] != "ord_abc" {
		t.Fatal("expected metadata propagated to payment intent")
	}
}

func TestVerifyEventCompleted(t *testing.T) {
	provider := newTestProvider(t, &stubSessionAPI{})

	payload := []byte(`{
		"id": "evt_1",
		"api_version": "2024-04-10",
		"type": "checkout.session.completed",
		"data": {
			"object": {
				"id": "cs_test_123",
				"payment_intent": "pi_123",
				"metadata": {"order_id": "ord_abc"}
			}
		}
	}`)
	header := signPayload("whsec_test", payload, time.Now())

	event, err := provider.VerifyEvent(payload, header)
	if err != nil {
		t.Fatalf("VerifyEvent: %v", err)
	}
	if event.Kind != EventCheckoutCompleted {
		t.Fatalf("unexpected kind %s", event.Kind)
	}
	if event.OrderID != "ord_abc" {
		t.Fatalf("unexpected order id %s", event.OrderID)
	}
	if event.SessionID != "cs_test_123" {
		t.Fatalf("unexpected session id %s", event.SessionID)
	}
	if event.PaymentIntentID != "pi_123" {
		t.Fatalf("unexpected payment intent %s", event.PaymentIntentID)
	}
}

func TestVerifyEventRejectsBadSignature(t *testing.T) {
	provider := newTestProvider(t, &stubSessionAPI{})

	payload := []byte(`{"id":"evt_1","type":"checkout.session.completed","data":{"object":{}}}`)
	header := signPayload("whsec_wrong", payload, time.Now())

	_, err := provider.VerifyEvent(payload, header)
	if !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestVerifyEventRejectsStaleTimestamp(t *testing.T) {
	provider := newTestProvider(t, &stubSessionAPI{})

	payload := []byte(`{"id":"evt_1","type":"checkout.session.completed","data":{"object":{}}}`)
	header := signPayload("whsec_test", payload, time.Now().Add(-time.Hour))

	_, err := provider.VerifyEvent(payload, header)
	if !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature for stale timestamp, got %v", err)
	}
}

func TestVerifyEventUnhandledType(t *testing.T) {
	provider := newTestProvider(t, &stubSessionAPI{})

	payload := []byte(`{"id":"evt_2","api_version":"2024-04-10","type":"invoice.paid","data":{"object":{}}}`)
	header := signPayload("whsec_test", payload, time.Now())

	event, err := provider.VerifyEvent(payload, header)
	if err != nil {
		t.Fatalf("VerifyEvent: %v", err)
	}
	if event.Kind != EventUnhandled {
		t.Fatalf("expected unhandled kind, got %s", event.Kind)
	}
	if event.OrderID != "" {
		t.Fatalf("expected empty order id, got %s", event.OrderID)
	}
}

func TestVerifyEventExpired(t *testing.T) {
	provider := newTestProvider(t, &stubSessionAPI{})

	payload := []byte(`{
		"id": "evt_3",
		"api_version": "2024-04-10",
		"type": "checkout.session.expired",
		"data": {"object": {"id": "cs_test_456", "metadata": {"order_id": "ord_def"}}}
	}`)
	header := signPayload("whsec_test", payload, time.Now())

	event, err := provider.VerifyEvent(payload, header)
	if err != nil {
		t.Fatalf("VerifyEvent: %v", err)
	}
	if event.Kind != EventCheckoutExpired {
		t.Fatalf("unexpected kind %s", event.Kind)
	}
	if event.OrderID != "ord_def" {
		t.Fatalf("unexpected order id %s", event.OrderID)
	}
}
