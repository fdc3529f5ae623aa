package domain

import (
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// CursorPage wraps a page of results together with the continuation token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// RangeQuery represents inclusive range filters for numeric or timestamp fields.
type RangeQuery[T comparable] struct {
	From *T
	To   *T
}

// BookStatus describes the generation lifecycle of a book.
type BookStatus string

const (
	// BookStatusDraft indicates the book has been created but not generated yet.
	BookStatusDraft BookStatus = "draft"
	// BookStatusGenerating indicates a generation job is in flight.
	BookStatusGenerating BookStatus = "generating"
	// BookStatusCompleted indicates story and artwork have been generated.
	BookStatusCompleted BookStatus = "completed"
	// BookStatusFailed indicates the last generation attempt failed.
	BookStatusFailed BookStatus = "failed"
)

// BookPage holds one spread of the generated story.
type BookPage struct {
	Text     string
	ImageURL string
}

// BookContent aggregates the generated story and artwork references.
type BookContent struct {
	Title         string
	CoverImageURL string
	Pages         []BookPage
	Conclusion    string
}

// Book is a personalised children's book owned by a single user.
type Book struct {
	ID         string
	UserID     string
	Title      string
	ChildName  string
	ChildAge   int
	Theme      string
	Status     BookStatus
	Content    *BookContent
	FailReason *string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// OrderStatus enumerates the order lifecycle states. An order starts pending
// and moves to exactly one of the terminal states; terminal states never
// transition again.
type OrderStatus string

const (
	// OrderStatusPending is the initial state, before payment confirmation.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusPaid indicates the payment gateway confirmed the payment.
	OrderStatusPaid OrderStatus = "paid"
	// OrderStatusFailed indicates the gateway reported a payment failure.
	OrderStatusFailed OrderStatus = "failed"
	// OrderStatusExpired indicates the checkout session lapsed unpaid.
	OrderStatusExpired OrderStatus = "expired"
)

// Terminal reports whether the status permits no further transitions.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusPaid, OrderStatusFailed, OrderStatusExpired:
		return true
	}
	return false
}

// Address captures the shipping destination for physical formats.
type Address struct {
	Name       string
	Line1      string
	Line2      string
	PostalCode string
	City       string
	Country    string
}

// Order is a purchase request for one book in one output format. TotalAmount
// is derived from the format via the price catalog and kept in minor units.
type Order struct {
	ID                string
	UserID            string
	BookID            string
	Format            BookFormat
	Status            OrderStatus
	TotalAmount       int64
	Currency          string
	ShippingAddress   *Address
	PaymentID         *string
	CheckoutSessionID *string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// User is the account owning books and orders. Authentication happens at the
// HTTP boundary; services only ever see the user id as an explicit actor.
type User struct {
	ID        string
	Email     string
	Firstname string
	Lastname  string
	Roles     []string
	CreatedAt time.Time
}
