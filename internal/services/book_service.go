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

const bookIDPrefix = "bk_"

const (
	minChildAge = 1
	maxChildAge = 12
)

var (
	// ErrBookInvalidInput signals the caller provided invalid data.
	ErrBookInvalidInput = errors.New("book: invalid input")
	// ErrBookNotFound indicates the book could not be located or is not
	// visible to the acting user.
	ErrBookNotFound = errors.New("book: not found")
	// ErrBookInvalidState indicates the book status forbids the operation.
	ErrBookInvalidState = errors.New("book: invalid state")
	// ErrBookConflict indicates the book is still referenced by orders.
	ErrBookConflict = errors.New("book: conflict")
)

// BookServiceDeps bundles collaborators required to construct the book service.
type BookServiceDeps struct {
	Books       repositories.BookRepository
	Orders      repositories.OrderRepository
	UnitOfWork  repositories.UnitOfWork
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type bookService struct {
	books      repositories.BookRepository
	orders     repositories.OrderRepository
	unitOfWork repositories.UnitOfWork
	clock      func() time.Time
	newID      func() string
	logger     func(context.Context, string, map[string]any)
}

// NewBookService wires dependencies into a concrete BookService implementation.
func NewBookService(deps BookServiceDeps) (BookService, error) {
	if deps.Books == nil {
		return nil, errors.New("book service: book repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("book service: order repository is required")
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

	return &bookService{
		books:      deps.Books,
		orders:     deps.Orders,
		unitOfWork: unit,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

func (s *bookService) CreateBook(ctx context.Context, cmd CreateBookCommand) (Book, error) {
	actorID := strings.TrimSpace(cmd.ActorID)
	if actorID == "" {
		return Book{}, fmt.Errorf("%w: actor id is required", ErrBookInvalidInput)
	}
	title := strings.TrimSpace(cmd.Title)
	if title == "" {
		return Book{}, fmt.Errorf("%w: title is required", ErrBookInvalidInput)
	}
	childName := strings.TrimSpace(cmd.ChildName)
	if childName == "" {
		return Book{}, fmt.Errorf("%w: child name is required", ErrBookInvalidInput)
	}
	if cmd.ChildAge < minChildAge || cmd.ChildAge > maxChildAge {
		return Book{}, fmt.Errorf("%w: child age must be between %d and %d", ErrBookInvalidInput, minChildAge, maxChildAge)
	}
	theme := strings.TrimSpace(cmd.Theme)
	if theme == "" {
		return Book{}, fmt.Errorf("%w: theme is required", ErrBookInvalidInput)
	}

	now := s.clock()
	book := Book{
		ID:        bookIDPrefix + s.newID(),
		UserID:    actorID,
		Title:     title,
		ChildName: childName,
		ChildAge:  cmd.ChildAge,
		Theme:     theme,
		Status:    domain.BookStatusDraft,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.books.Insert(ctx, book); err != nil {
		return Book{}, s.mapRepositoryError(err)
	}

	s.logger(ctx, "book.created", map[string]any{
		"book":  book.ID,
		"theme": book.Theme,
	})

	return book, nil
}

func (s *bookService) GetBook(ctx context.Context, bookID, actorID string) (Book, error) {
	return s.loadOwnedBook(ctx, bookID, actorID)
}

func (s *bookService) ListBooks(ctx context.Context, filter BookListFilter) (domain.CursorPage[Book], error) {
	actorID := strings.TrimSpace(filter.ActorID)
	if actorID == "" {
		return domain.CursorPage[Book]{}, fmt.Errorf("%w: actor id is required", ErrBookInvalidInput)
	}

	page, err := s.books.List(ctx, repositories.BookListFilter{
		UserID:     actorID,
		Status:     filter.Status,
		Pagination: filter.Pagination,
	})
	if err != nil {
		return domain.CursorPage[Book]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *bookService) UpdateBook(ctx context.Context, cmd UpdateBookCommand) (Book, error) {
	if cmd.Title == nil && cmd.ChildName == nil && cmd.ChildAge == nil && cmd.Theme == nil {
		return Book{}, fmt.Errorf("%w: nothing to update", ErrBookInvalidInput)
	}

	var updated Book
	err := s.runInTx(ctx, func(ctx context.Context) error {
		book, err := s.loadOwnedBook(ctx, cmd.BookID, cmd.ActorID)
		if err != nil {
			return err
		}
		// Personalisation can only change before a successful generation;
		// failed books stay editable so the inputs can be fixed and retried.
		if book.Status != domain.BookStatusDraft && book.Status != domain.BookStatusFailed {
			return fmt.Errorf("%w: book is %s", ErrBookInvalidState, book.Status)
		}

		if cmd.Title != nil {
			title := strings.TrimSpace(*cmd.Title)
			if title == "" {
				return fmt.Errorf("%w: title cannot be empty", ErrBookInvalidInput)
			}
			book.Title = title
		}
		if cmd.ChildName != nil {
			name := strings.TrimSpace(*cmd.ChildName)
			if name == "" {
				return fmt.Errorf("%w: child name cannot be empty", ErrBookInvalidInput)
			}
			book.ChildName = name
		}
		if cmd.ChildAge != nil {
			if *cmd.ChildAge < minChildAge || *cmd.ChildAge > maxChildAge {
				return fmt.Errorf("%w: child age must be between %d and %d", ErrBookInvalidInput, minChildAge, maxChildAge)
			}
			book.ChildAge = *cmd.ChildAge
		}
		if cmd.Theme != nil {
			theme := strings.TrimSpace(*cmd.Theme)
			if theme == "" {
				return fmt.Errorf("%w: theme cannot be empty", ErrBookInvalidInput)
			}
			book.Theme = theme
		}

		book.UpdatedAt = s.clock()
		if err := s.books.Update(ctx, book); err != nil {
			return s.mapRepositoryError(err)
		}
		updated = book
		return nil
	})
	if err != nil {
		return Book{}, err
	}
	return updated, nil
}

func (s *bookService) DeleteBook(ctx context.Context, bookID, actorID string) error {
	return s.runInTx(ctx, func(ctx context.Context) error {
		book, err := s.loadOwnedBook(ctx, bookID, actorID)
		if err != nil {
			return err
		}

		count, err := s.orders.CountByBook(ctx, book.ID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		if count > 0 {
			return fmt.Errorf("%w: book is referenced by %d order(s)", ErrBookConflict, count)
		}

		// The FK on orders restricts deletion, so a racing order creation
		// still surfaces here as a conflict.
		if err := s.books.Delete(ctx, book.ID); err != nil {
			return s.mapRepositoryError(err)
		}

		s.logger(ctx, "book.deleted", map[string]any{"book": book.ID})
		return nil
	})
}

func (s *bookService) loadOwnedBook(ctx context.Context, bookID, actorID string) (Book, error) {
	bookID = strings.TrimSpace(bookID)
	if bookID == "" {
		return Book{}, fmt.Errorf("%w: book id is required", ErrBookInvalidInput)
	}
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return Book{}, fmt.Errorf("%w: actor id is required", ErrBookInvalidInput)
	}

	book, err := s.books.FindByID(ctx, bookID)
	if err != nil {
		return Book{}, s.mapRepositoryError(err)
	}
	if book.UserID != actorID {
		return Book{}, fmt.Errorf("%w: %s", ErrBookNotFound, bookID)
	}
	return book, nil
}

func (s *bookService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, pagination.ErrInvalidPageToken) {
		return fmt.Errorf("%w: %v", ErrBookInvalidInput, err)
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrBookNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrBookConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("book: repository unavailable: %w", err)
		}
	}

	return err
}

func (s *bookService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.unitOfWork == nil {
		return fn(ctx)
	}
	return s.unitOfWork.RunInTx(ctx, fn)
}
