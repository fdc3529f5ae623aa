package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	domain "github.com/storyforge/api/internal/domain"
	"github.com/storyforge/api/internal/platform/pagination"
	"github.com/storyforge/api/internal/repositories"
)

const orderColumns = `id, user_id, book_id, format, status, total_amount, currency,
	shipping_address, payment_id, checkout_session_id, created_at, updated_at`

// OrderRepository is the Postgres implementation of repositories.OrderRepository.
type OrderRepository struct {
	db *DB
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs an order repository over the shared handle.
func NewOrderRepository(db *DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// Insert persists a new order row.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	address, err := marshalAddress(order.ShippingAddress)
	if err != nil {
		return newError("orders: insert", err)
	}

	_, err = r.db.querier(ctx).Exec(ctx, `
		INSERT INTO orders (id, user_id, book_id, format, status, total_amount, currency,
			shipping_address, payment_id, checkout_session_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		order.ID, order.UserID, order.BookID, string(order.Format), string(order.Status),
		order.TotalAmount, order.Currency, address, order.PaymentID, order.CheckoutSessionID,
		order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		return newError("orders: insert", err)
	}
	return nil
}

// Update rewrites the mutable columns of an order that is still pending.
// Terminal transitions belong to TransitionFromPending; the status guard in
// the WHERE clause keeps a stale read from overwriting a row that a webhook
// reconciled between the caller's load and this write.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	address, err := marshalAddress(order.ShippingAddress)
	if err != nil {
		return newError("orders: update", err)
	}

	tag, err := r.db.querier(ctx).Exec(ctx, `
		UPDATE orders
		SET format = $2, status = $3, total_amount = $4, shipping_address = $5,
			payment_id = $6, checkout_session_id = $7, updated_at = $8
		WHERE id = $1 AND status = $9`,
		order.ID, string(order.Format), string(order.Status), order.TotalAmount,
		address, order.PaymentID, order.CheckoutSessionID, order.UpdatedAt,
		string(domain.OrderStatusPending),
	)
	if err != nil {
		return newError("orders: update", err)
	}
	if tag.RowsAffected() == 0 {
		return r.missedPendingWrite(ctx, "orders: update", order.ID)
	}
	return nil
}

// Delete permanently removes the order row while it is still pending.
func (r *OrderRepository) Delete(ctx context.Context, orderID string) error {
	tag, err := r.db.querier(ctx).Exec(ctx,
		`DELETE FROM orders WHERE id = $1 AND status = $2`,
		orderID, string(domain.OrderStatusPending),
	)
	if err != nil {
		return newError("orders: delete", err)
	}
	if tag.RowsAffected() == 0 {
		return r.missedPendingWrite(ctx, "orders: delete", orderID)
	}
	return nil
}

// missedPendingWrite explains a zero-row pending-guarded write: either the
// row is gone, or it left the pending state after the caller read it.
func (r *OrderRepository) missedPendingWrite(ctx context.Context, op, orderID string) error {
	var status string
	err := r.db.querier(ctx).QueryRow(ctx,
		`SELECT status FROM orders WHERE id = $1`, orderID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return notFoundError(op, "order")
	}
	if err != nil {
		return newError(op, err)
	}
	return conflictError(op, fmt.Sprintf("order is %s, not pending", status))
}

// FindByID loads a single order.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	row := r.db.querier(ctx).QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM orders WHERE id = $1`, orderColumns), orderID)
	order, err := scanOrder(row)
	if err != nil {
		return domain.Order{}, newError("orders: find", err)
	}
	return order, nil
}

// List returns the user's orders newest first with keyset pagination.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, newError("orders: list", err)
	}

	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}

	var (
		conds = []string{"user_id = $1"}
		args  = []any{filter.UserID}
	)
	if len(filter.Status) > 0 {
		statuses := make([]string, 0, len(filter.Status))
		for _, s := range filter.Status {
			statuses = append(statuses, string(s))
		}
		args = append(args, statuses)
		conds = append(conds, fmt.Sprintf("status = ANY($%d)", len(args)))
	}
	if !cursor.IsZero() {
		args = append(args, cursor.CreatedAt, cursor.ID)
		conds = append(conds, fmt.Sprintf("(created_at, id) < ($%d, $%d)", len(args)-1, len(args)))
	}
	args = append(args, pageSize+1)

	query := fmt.Sprintf(`SELECT %s FROM orders WHERE %s ORDER BY created_at DESC, id DESC LIMIT $%d`,
		orderColumns, strings.Join(conds, " AND "), len(args))

	rows, err := r.db.querier(ctx).Query(ctx, query, args...)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, newError("orders: list", err)
	}
	defer rows.Close()

	orders := make([]domain.Order, 0, pageSize)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, newError("orders: list", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return domain.CursorPage[domain.Order]{}, newError("orders: list", err)
	}

	page := domain.CursorPage[domain.Order]{Items: orders}
	if len(orders) > pageSize {
		page.Items = orders[:pageSize]
		last := page.Items[len(page.Items)-1]
		token, err := pagination.EncodeToken(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
		if err != nil {
			return domain.CursorPage[domain.Order]{}, newError("orders: list", err)
		}
		page.NextPageToken = token
	}
	return page, nil
}

// CountByBook reports how many orders reference the given book.
func (r *OrderRepository) CountByBook(ctx context.Context, bookID string) (int, error) {
	var count int
	err := r.db.querier(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM orders WHERE book_id = $1`, bookID).Scan(&count)
	if err != nil {
		return 0, newError("orders: count by book", err)
	}
	return count, nil
}

// TransitionFromPending is the compare-and-swap used by payment
// reconciliation: the status column only changes when the row is still
// pending, so duplicate or conflicting webhook deliveries cannot race each
// other into a mixed state.
func (r *OrderRepository) TransitionFromPending(ctx context.Context, orderID string, status domain.OrderStatus, paymentID *string) (bool, error) {
	tag, err := r.db.querier(ctx).Exec(ctx, `
		UPDATE orders
		SET status = $2, payment_id = COALESCE($3, payment_id), updated_at = now()
		WHERE id = $1 AND status = $4`,
		orderID, string(status), paymentID, string(domain.OrderStatusPending),
	)
	if err != nil {
		return false, newError("orders: transition", err)
	}
	return tag.RowsAffected() > 0, nil
}

func marshalAddress(address *domain.Address) ([]byte, error) {
	if address == nil {
		return nil, nil
	}
	return json.Marshal(address)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		order   domain.Order
		format  string
		status  string
		address []byte
	)
	err := row.Scan(&order.ID, &order.UserID, &order.BookID, &format, &status,
		&order.TotalAmount, &order.Currency, &address, &order.PaymentID,
		&order.CheckoutSessionID, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		return domain.Order{}, err
	}
	order.Format = domain.BookFormat(format)
	order.Status = domain.OrderStatus(status)
	if len(address) > 0 {
		order.ShippingAddress = &domain.Address{}
		if err := json.Unmarshal(address, order.ShippingAddress); err != nil {
			return domain.Order{}, err
		}
	}
	return order, nil
}
