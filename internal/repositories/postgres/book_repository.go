package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	domain "github.com/storyforge/api/internal/domain"
	"github.com/storyforge/api/internal/platform/pagination"
	"github.com/storyforge/api/internal/repositories"
)

const bookColumns = `id, user_id, title, child_name, child_age, theme, status,
	content, fail_reason, created_at, updated_at`

// BookRepository is the Postgres implementation of repositories.BookRepository.
type BookRepository struct {
	db *DB
}

var _ repositories.BookRepository = (*BookRepository)(nil)

// NewBookRepository constructs a book repository over the shared handle.
func NewBookRepository(db *DB) *BookRepository {
	return &BookRepository{db: db}
}

// Insert persists a new book row.
func (r *BookRepository) Insert(ctx context.Context, book domain.Book) error {
	content, err := marshalContent(book.Content)
	if err != nil {
		return newError("books: insert", err)
	}

	_, err = r.db.querier(ctx).Exec(ctx, `
		INSERT INTO books (id, user_id, title, child_name, child_age, theme, status,
			content, fail_reason, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		book.ID, book.UserID, book.Title, book.ChildName, book.ChildAge, book.Theme,
		string(book.Status), content, book.FailReason, book.CreatedAt, book.UpdatedAt,
	)
	if err != nil {
		return newError("books: insert", err)
	}
	return nil
}

// Update rewrites the mutable columns of an existing book.
func (r *BookRepository) Update(ctx context.Context, book domain.Book) error {
	content, err := marshalContent(book.Content)
	if err != nil {
		return newError("books: update", err)
	}

	tag, err := r.db.querier(ctx).Exec(ctx, `
		UPDATE books
		SET title = $2, child_name = $3, child_age = $4, theme = $5, status = $6,
			content = $7, fail_reason = $8, updated_at = $9
		WHERE id = $1`,
		book.ID, book.Title, book.ChildName, book.ChildAge, book.Theme,
		string(book.Status), content, book.FailReason, book.UpdatedAt,
	)
	if err != nil {
		return newError("books: update", err)
	}
	if tag.RowsAffected() == 0 {
		return notFoundError("books: update", "book")
	}
	return nil
}

// Delete permanently removes the book row. The orders foreign key restricts
// deletion while orders still reference the book; the violation surfaces as a
// conflict.
func (r *BookRepository) Delete(ctx context.Context, bookID string) error {
	tag, err := r.db.querier(ctx).Exec(ctx, `DELETE FROM books WHERE id = $1`, bookID)
	if err != nil {
		return newError("books: delete", err)
	}
	if tag.RowsAffected() == 0 {
		return notFoundError("books: delete", "book")
	}
	return nil
}

// FindByID loads a single book.
func (r *BookRepository) FindByID(ctx context.Context, bookID string) (domain.Book, error) {
	row := r.db.querier(ctx).QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM books WHERE id = $1`, bookColumns), bookID)
	book, err := scanBook(row)
	if err != nil {
		return domain.Book{}, newError("books: find", err)
	}
	return book, nil
}

// List returns the user's books newest first with keyset pagination.
func (r *BookRepository) List(ctx context.Context, filter repositories.BookListFilter) (domain.CursorPage[domain.Book], error) {
	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Book]{}, newError("books: list", err)
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

	query := fmt.Sprintf(`SELECT %s FROM books WHERE %s ORDER BY created_at DESC, id DESC LIMIT $%d`,
		bookColumns, strings.Join(conds, " AND "), len(args))

	rows, err := r.db.querier(ctx).Query(ctx, query, args...)
	if err != nil {
		return domain.CursorPage[domain.Book]{}, newError("books: list", err)
	}
	defer rows.Close()

	books := make([]domain.Book, 0, pageSize)
	for rows.Next() {
		book, err := scanBook(rows)
		if err != nil {
			return domain.CursorPage[domain.Book]{}, newError("books: list", err)
		}
		books = append(books, book)
	}
	if err := rows.Err(); err != nil {
		return domain.CursorPage[domain.Book]{}, newError("books: list", err)
	}

	page := domain.CursorPage[domain.Book]{Items: books}
	if len(books) > pageSize {
		page.Items = books[:pageSize]
		last := page.Items[len(page.Items)-1]
		token, err := pagination.EncodeToken(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
		if err != nil {
			return domain.CursorPage[domain.Book]{}, newError("books: list", err)
		}
		page.NextPageToken = token
	}
	return page, nil
}

// TransitionStatus atomically swaps the book status, guarding the generation
// pipeline against double dispatch.
func (r *BookRepository) TransitionStatus(ctx context.Context, bookID string, from, to domain.BookStatus) (bool, error) {
	tag, err := r.db.querier(ctx).Exec(ctx, `
		UPDATE books SET status = $2, updated_at = now()
		WHERE id = $1 AND status = $3`,
		bookID, string(to), string(from),
	)
	if err != nil {
		return false, newError("books: transition", err)
	}
	return tag.RowsAffected() > 0, nil
}

func marshalContent(content *domain.BookContent) ([]byte, error) {
	if content == nil {
		return nil, nil
	}
	return json.Marshal(content)
}

func scanBook(row rowScanner) (domain.Book, error) {
	var (
		book    domain.Book
		status  string
		content []byte
	)
	err := row.Scan(&book.ID, &book.UserID, &book.Title, &book.ChildName, &book.ChildAge,
		&book.Theme, &status, &content, &book.FailReason, &book.CreatedAt, &book.UpdatedAt)
	if err != nil {
		return domain.Book{}, err
	}
	book.Status = domain.BookStatus(status)
	if len(content) > 0 {
		book.Content = &domain.BookContent{}
		if err := json.Unmarshal(content, book.Content); err != nil {
			return domain.Book{}, err
		}
	}
	return book, nil
}
