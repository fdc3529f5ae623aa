package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/storyforge/api/internal/domain"
	"github.com/storyforge/api/internal/platform/pagination"
	"github.com/storyforge/api/internal/repositories"
)

const orderIDPrefix = "ord_"

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located or is not
	// visible to the acting user.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvalidState indicates the order already left the pending state.
	ErrOrderInvalidState = errors.New("order: not pending")
	// ErrOrderConflict indicates concurrent updates or duplicate writes.
	ErrOrderConflict = errors.New("order: conflict")
)

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders      repositories.OrderRepository
	Books       repositories.BookRepository
	UnitOfWork  repositories.UnitOfWork
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders     repositories.OrderRepository
	books      repositories.BookRepository
	unitOfWork repositories.UnitOfWork
	clock      func() time.Time
	newID      func() string
	logger     func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Books == nil {
		return nil, errors.New("order service: book repository is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders:     deps.Orders,
		books:      deps.Books,
		unitOfWork: unit,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

func (s *orderService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	actorID := strings.TrimSpace(cmd.ActorID)
	if actorID == "" {
		return Order{}, fmt.Errorf("%w: actor id is required", ErrOrderInvalidInput)
	}
	bookID := strings.TrimSpace(cmd.BookID)
	if bookID == "" {
		return Order{}, fmt.Errorf("%w: book id is required", ErrOrderInvalidInput)
	}

	price, err := domain.PriceFor(cmd.Format)
	if err != nil {
		return Order{}, err
	}

	address, err := normalizeAddress(cmd.ShippingAddress)
	if err != nil {
		return Order{}, err
	}

	book, err := s.books.FindByID(ctx, bookID)
	if err != nil {
		return Order{}, s.mapBookLookupError(err)
	}
	if book.UserID != actorID {
		// Foreign books read as absent so ownership is not probeable.
		return Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, bookID)
	}

	now := s.now()
	order := Order{
		ID:              orderIDPrefix + s.newID(),
		UserID:          actorID,
		BookID:          book.ID,
		Format:          cmd.Format,
		Status:          domain.OrderStatusPending,
		TotalAmount:     price,
		Currency:        domain.DefaultCurrency,
		ShippingAddress: address,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.orders.Insert(ctx, order); err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	s.logger(ctx, "order.created", map[string]any{
		"order":  order.ID,
		"book":   order.BookID,
		"format": string(order.Format),
		"amount": order.TotalAmount,
	})

	return order, nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID, actorID string) (Order, error) {
	return s.loadOwnedOrder(ctx, orderID, actorID)
}

func (s *orderService) ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error) {
	actorID := strings.TrimSpace(filter.ActorID)
	if actorID == "" {
		return domain.CursorPage[Order]{}, fmt.Errorf("%w: actor id is required", ErrOrderInvalidInput)
	}

	page, err := s.orders.List(ctx, repositories.OrderListFilter{
		UserID:     actorID,
		Status:     filter.Status,
		Pagination: filter.Pagination,
	})
	if err != nil {
		return domain.CursorPage[Order]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *orderService) UpdateOrder(ctx context.Context, cmd UpdateOrderCommand) (Order, error) {
	if cmd.Format == nil && cmd.ShippingAddress == nil {
		return Order{}, fmt.Errorf("%w: nothing to update", ErrOrderInvalidInput)
	}

	var updated Order
	err := s.runInTx(ctx, func(ctx context.Context) error {
		order, err := s.loadOwnedOrder(ctx, cmd.OrderID, cmd.ActorID)
		if err != nil {
			return err
		}
		if order.Status != domain.OrderStatusPending {
			return fmt.Errorf("%w: order is %s", ErrOrderInvalidState, order.Status)
		}

		if cmd.Format != nil {
			price, err := domain.PriceFor(*cmd.Format)
			if err != nil {
				return err
			}
			order.Format = *cmd.Format
			order.TotalAmount = price
		}
		if cmd.ShippingAddress != nil {
			address, err := normalizeAddress(cmd.ShippingAddress)
			if err != nil {
				return err
			}
			order.ShippingAddress = address
		}

		order.UpdatedAt = s.now()
		if err := s.orders.Update(ctx, order); err != nil {
			return s.mapRepositoryError(err)
		}
		updated = order
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	return updated, nil
}

func (s *orderService) DeleteOrder(ctx context.Context, orderID, actorID string) error {
	return s.runInTx(ctx, func(ctx context.Context) error {
		order, err := s.loadOwnedOrder(ctx, orderID, actorID)
		if err != nil {
			return err
		}
		if order.Status != domain.OrderStatusPending {
			return fmt.Errorf("%w: order is %s", ErrOrderInvalidState, order.Status)
		}
		if err := s.orders.Delete(ctx, order.ID); err != nil {
			return s.mapRepositoryError(err)
		}
		s.logger(ctx, "order.deleted", map[string]any{"order": order.ID})
		return nil
	})
}

func (s *orderService) loadOwnedOrder(ctx context.Context, orderID, actorID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return Order{}, fmt.Errorf("%w: actor id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	if order.UserID != actorID {
		return Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	return order, nil
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, pagination.ErrInvalidPageToken) {
		return fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("order: repository unavailable: %w", err)
		}
	}

	return err
}

// mapBookLookupError hides book existence behind the order not-found sentinel.
func (s *orderService) mapBookLookupError(err error) error {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsNotFound() {
		return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
	}
	return s.mapRepositoryError(err)
}

func (s *orderService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.unitOfWork == nil {
		return fn(ctx)
	}
	return s.unitOfWork.RunInTx(ctx, fn)
}

func (s *orderService) now() time.Time {
	return s.clock()
}

// normalizeAddress trims the fields and enforces the required ones. A nil
// address stays nil; physical-format enforcement happens at checkout.
func normalizeAddress(address *Address) (*Address, error) {
	if address == nil {
		return nil, nil
	}

	cleaned := Address{
		Name:       strings.TrimSpace(address.Name),
		Line1:      strings.TrimSpace(address.Line1),
		Line2:      strings.TrimSpace(address.Line2),
		PostalCode: strings.TrimSpace(address.PostalCode),
		City:       strings.TrimSpace(address.City),
		Country:    strings.ToUpper(strings.TrimSpace(address.Country)),
	}

	switch {
	case cleaned.Name == "":
		return nil, fmt.Errorf("%w: shipping address name is required", ErrOrderInvalidInput)
	case cleaned.Line1 == "":
		return nil, fmt.Errorf("%w: shipping address line1 is required", ErrOrderInvalidInput)
	case cleaned.PostalCode == "":
		return nil, fmt.Errorf("%w: shipping address postal code is required", ErrOrderInvalidInput)
	case cleaned.City == "":
		return nil, fmt.Errorf("%w: shipping address city is required", ErrOrderInvalidInput)
	case len(cleaned.Country) != 2:
		return nil, fmt.Errorf("%w: shipping address country must be a two-letter code", ErrOrderInvalidInput)
	}

	return &cleaned, nil
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}
