package repositories

import (
	"context"

	domain "github.com/storyforge/api/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// OrderListFilter narrows order listings.
type OrderListFilter struct {
	UserID     string
	Status     []domain.OrderStatus
	Pagination domain.Pagination
}

// OrderRepository persists orders. Implementations must provide atomic
// single-row updates; TransitionFromPending in particular is the
// compare-and-swap the payment reconciler relies on.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error

	// Update and Delete only touch rows still in the pending state. A row
	// that left pending since the caller read it yields a conflict error.
	Update(ctx context.Context, order domain.Order) error
	Delete(ctx context.Context, orderID string) error

	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
	CountByBook(ctx context.Context, bookID string) (int, error)

	// TransitionFromPending atomically moves the order out of pending.
	// It returns true when the row was updated, false when the order either
	// does not exist or is no longer pending. paymentID is stored only when
	// non-nil.
	TransitionFromPending(ctx context.Context, orderID string, status domain.OrderStatus, paymentID *string) (bool, error)
}

// BookListFilter narrows book listings.
type BookListFilter struct {
	UserID     string
	Status     []domain.BookStatus
	Pagination domain.Pagination
}

// BookRepository persists books and their generated content.
type BookRepository interface {
	Insert(ctx context.Context, book domain.Book) error
	Update(ctx context.Context, book domain.Book) error
	Delete(ctx context.Context, bookID string) error
	FindByID(ctx context.Context, bookID string) (domain.Book, error)
	List(ctx context.Context, filter BookListFilter) (domain.CursorPage[domain.Book], error)

	// TransitionStatus atomically moves the book from one status to another,
	// returning false when the current status no longer matches.
	TransitionStatus(ctx context.Context, bookID string, from, to domain.BookStatus) (bool, error)
}

// UserRepository resolves account records.
type UserRepository interface {
	Insert(ctx context.Context, user domain.User) error
	FindByID(ctx context.Context, userID string) (domain.User, error)
	FindByEmail(ctx context.Context, email string) (domain.User, error)
}

// HealthRepository reports persistence reachability for readiness probes.
type HealthRepository interface {
	Ping(ctx context.Context) error
}
