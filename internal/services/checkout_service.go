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

const defaultCheckoutLifetime = 30 * time.Minute

// CheckoutServiceDeps bundles collaborators for checkout session creation.
type CheckoutServiceDeps struct {
	Orders     repositories.OrderRepository
	Books      repositories.BookRepository
	Provider   payments.Provider
	UnitOfWork repositories.UnitOfWork
	SuccessURL string
	CancelURL  string
	Lifetime   time.Duration
	Clock      func() time.Time
	Logger     func(ctx context.Context, event string, fields map[string]any)
}

type checkoutService struct {
	orders     repositories.OrderRepository
	books      repositories.BookRepository
	provider   payments.Provider
	unitOfWork repositories.UnitOfWork
	successURL string
	cancelURL  string
	lifetime   time.Duration
	clock      func() time.Time
	logger     func(context.Context, string, map[string]any)
}

// NewCheckoutService wires dependencies into a CheckoutService.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Orders == nil {
		return nil, errors.New("checkout service: order repository is required")
	}
	if deps.Books == nil {
		return nil, errors.New("checkout service: book repository is required")
	}
	if deps.Provider == nil {
		return nil, errors.New("checkout service: payment provider is required")
	}
	if strings.TrimSpace(deps.SuccessURL) == "" {
		return nil, errors.New("checkout service: success url is required")
	}
	if strings.TrimSpace(deps.CancelURL) == "" {
		return nil, errors.New("checkout service: cancel url is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}

	lifetime := deps.Lifetime
	if lifetime <= 0 {
		lifetime = defaultCheckoutLifetime
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &checkoutService{
		orders:     deps.Orders,
		books:      deps.Books,
		provider:   deps.Provider,
		unitOfWork: unit,
		successURL: strings.TrimSpace(deps.SuccessURL),
		cancelURL:  strings.TrimSpace(deps.CancelURL),
		lifetime:   lifetime,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// StartCheckout opens a gateway session for a pending order and records the
// session id on the order so webhook deliveries can be tied back to it.
func (s *checkoutService) StartCheckout(ctx context.Context, cmd StartCheckoutCommand) (CheckoutRedirect, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return CheckoutRedirect{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	actorID := strings.TrimSpace(cmd.ActorID)
	if actorID == "" {
		return CheckoutRedirect{}, fmt.Errorf("%w: actor id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return CheckoutRedirect{}, s.mapRepositoryError(err)
	}
	if order.UserID != actorID {
		return CheckoutRedirect{}, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	if order.Status != domain.OrderStatusPending {
		return CheckoutRedirect{}, fmt.Errorf("%w: order is %s", ErrOrderInvalidState, order.Status)
	}
	if order.Format.Physical() && order.ShippingAddress == nil {
		return CheckoutRedirect{}, fmt.Errorf("%w: shipping address is required for %s orders", ErrOrderInvalidInput, order.Format)
	}

	book, err := s.books.FindByID(ctx, order.BookID)
	if err != nil {
		return CheckoutRedirect{}, s.mapRepositoryError(err)
	}

	expiresAt := s.clock().Add(s.lifetime)
	session, err := s.provider.CreateCheckoutSession(ctx, payments.CheckoutSessionRequest{
		Amount:         order.TotalAmount,
		Currency:       order.Currency,
		CustomerEmail:  strings.TrimSpace(cmd.CustomerEmail),
		SuccessURL:     s.successURL,
		CancelURL:      s.cancelURL,
		IdempotencyKey: order.ID,
		ExpiresAt:      expiresAt,
		Metadata: map[string]string{
			payments.MetadataOrderIDKey: order.ID,
		},
		Items: []payments.CheckoutLineItem{
			{
				Name:        lineItemName(book),
				Description: formatDescription(order.Format),
				Quantity:    1,
				Amount:      order.TotalAmount,
				Currency:    order.Currency,
			},
		},
	})
	if err != nil {
		return CheckoutRedirect{}, fmt.Errorf("checkout: create session: %w", err)
	}

	err = s.runInTx(ctx, func(ctx context.Context) error {
		order.CheckoutSessionID = &session.ID
		order.UpdatedAt = s.clock()
		if err := s.orders.Update(ctx, order); err != nil {
			return s.mapRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return CheckoutRedirect{}, err
	}

	s.logger(ctx, "checkout.session.started", map[string]any{
		"order":   order.ID,
		"session": session.ID,
		"amount":  order.TotalAmount,
	})

	redirect := CheckoutRedirect{
		SessionID:   session.ID,
		RedirectURL: session.RedirectURL,
		ExpiresAt:   session.ExpiresAt,
	}
	if redirect.ExpiresAt.IsZero() {
		redirect.ExpiresAt = expiresAt
	}
	return redirect, nil
}

func (s *checkoutService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("checkout: repository unavailable: %w", err)
		}
	}

	return err
}

func (s *checkoutService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.unitOfWork == nil {
		return fn(ctx)
	}
	return s.unitOfWork.RunInTx(ctx, fn)
}

func lineItemName(book Book) string {
	if title := strings.TrimSpace(book.Title); title != "" {
		return title
	}
	return "Personalized book"
}

func formatDescription(format BookFormat) string {
	switch format {
	case domain.FormatPDF:
		return "Digital PDF edition"
	case domain.FormatPrint:
		return "Printed edition"
	case domain.FormatPremiumPrint:
		return "Premium hardcover edition"
	}
	return string(format)
}
