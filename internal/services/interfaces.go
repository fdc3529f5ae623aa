package services

import (
	"context"
	"time"

	domain "github.com/storyforge/api/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination  = domain.Pagination
	Book        = domain.Book
	BookContent = domain.BookContent
	BookPage    = domain.BookPage
	BookStatus  = domain.BookStatus
	BookFormat  = domain.BookFormat
	Order       = domain.Order
	OrderStatus = domain.OrderStatus
	Address     = domain.Address
	User        = domain.User
)

// BookService manages the book catalogue owned by each user.
type BookService interface {
	CreateBook(ctx context.Context, cmd CreateBookCommand) (Book, error)
	GetBook(ctx context.Context, bookID, actorID string) (Book, error)
	ListBooks(ctx context.Context, filter BookListFilter) (domain.CursorPage[Book], error)
	UpdateBook(ctx context.Context, cmd UpdateBookCommand) (Book, error)
	DeleteBook(ctx context.Context, bookID, actorID string) error
}

// CreateBookCommand carries the inputs for a new draft book.
type CreateBookCommand struct {
	ActorID   string
	Title     string
	ChildName string
	ChildAge  int
	Theme     string
}

// UpdateBookCommand mutates a draft book. Nil fields are left untouched.
type UpdateBookCommand struct {
	BookID    string
	ActorID   string
	Title     *string
	ChildName *string
	ChildAge  *int
	Theme     *string
}

// BookListFilter narrows book listings to the acting user.
type BookListFilter struct {
	ActorID    string
	Status     []domain.BookStatus
	Pagination Pagination
}

// OrderService owns the order lifecycle up to payment: create, mutate while
// pending, delete while pending, and reads scoped to the owning user.
type OrderService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	GetOrder(ctx context.Context, orderID, actorID string) (Order, error)
	ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error)
	UpdateOrder(ctx context.Context, cmd UpdateOrderCommand) (Order, error)
	DeleteOrder(ctx context.Context, orderID, actorID string) error
}

// CreateOrderCommand carries the inputs for a new pending order.
type CreateOrderCommand struct {
	ActorID         string
	BookID          string
	Format          BookFormat
	ShippingAddress *Address
}

// UpdateOrderCommand mutates a pending order. Nil fields are left untouched;
// a format change recomputes the total from the price catalog.
type UpdateOrderCommand struct {
	OrderID         string
	ActorID         string
	Format          *BookFormat
	ShippingAddress *Address
}

// OrderListFilter narrows order listings to the acting user.
type OrderListFilter struct {
	ActorID    string
	Status     []domain.OrderStatus
	Pagination Pagination
}

// CheckoutService starts a payment session at the gateway for a pending order.
type CheckoutService interface {
	StartCheckout(ctx context.Context, cmd StartCheckoutCommand) (CheckoutRedirect, error)
}

// StartCheckoutCommand identifies the order to pay for.
type StartCheckoutCommand struct {
	OrderID       string
	ActorID       string
	CustomerEmail string
}

// CheckoutRedirect is returned to the client to hand control to the gateway.
type CheckoutRedirect struct {
	SessionID   string
	RedirectURL string
	ExpiresAt   time.Time
}

// PaymentReconciler applies gateway webhook deliveries to order state.
type PaymentReconciler interface {
	Reconcile(ctx context.Context, payload []byte, signatureHeader string) error
}

// GenerationDispatcher queues asynchronous story generation for draft books.
type GenerationDispatcher interface {
	Dispatch(ctx context.Context, bookID, actorID string) (GenerationJob, error)
	CompleteGeneration(ctx context.Context, cmd CompleteGenerationCommand) error
}

// GenerationJob acknowledges an accepted generation request.
type GenerationJob struct {
	JobID    string
	BookID   string
	QueuedAt time.Time
}

// GenerationJobMessage is the wire payload published to the generation topic.
type GenerationJobMessage struct {
	JobID    string    `json:"jobId"`
	BookID   string    `json:"bookId"`
	UserID   string    `json:"userId"`
	QueuedAt time.Time `json:"queuedAt"`
}

// GenerationPublisher hands generation jobs to the queue backend.
type GenerationPublisher interface {
	PublishGenerationJob(ctx context.Context, message GenerationJobMessage) (string, error)
}

// CompleteGenerationCommand records the outcome of a generation job. Exactly
// one of Content or FailReason is expected.
type CompleteGenerationCommand struct {
	BookID     string
	Content    *BookContent
	FailReason *string
}

// UserService resolves the authenticated profile, creating the account row on
// first sight of a verified token.
type UserService interface {
	EnsureProfile(ctx context.Context, cmd EnsureProfileCommand) (User, error)
}

// EnsureProfileCommand carries the identity claims of the current request.
type EnsureProfileCommand struct {
	UserID    string
	Email     string
	Firstname string
	Lastname  string
	Roles     []string
}
