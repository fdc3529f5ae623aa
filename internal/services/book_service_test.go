package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	domain "github.com/storyforge/api/internal/domain"
	"github.com/storyforge/api/internal/platform/pagination"
	"github.com/storyforge/api/internal/repositories"
)

func newBookServiceForTest(t *testing.T, books *stubBookRepo, orders *stubOrderRepo, now time.Time) BookService {
	t.Helper()
	svc, err := NewBookService(BookServiceDeps{
		Books:       books,
		Orders:      orders,
		UnitOfWork:  &stubUnitOfWork{},
		Clock:       func() time.Time { return now },
		IDGenerator: func() string { return "000TEST" },
	})
	if err != nil {
		t.Fatalf("new book service: %v", err)
	}
	return svc
}

func TestBookServiceCreateBook(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 2, 10, 14, 0, 0, 0, time.UTC)

	var inserted domain.Book
	books := &stubBookRepo{
		insertFn: func(_ context.Context, book domain.Book) error {
			inserted = book
			return nil
		},
	}
	svc := newBookServiceForTest(t, books, &stubOrderRepo{}, now)

	book, err := svc.CreateBook(ctx, CreateBookCommand{
		ActorID:   "usr_1",
		Title:     "Nina et le dragon",
		ChildName: "Nina",
		ChildAge:  6,
		Theme:     "dragons",
	})
	if err != nil {
		t.Fatalf("create book: %v", err)
	}

	if book.ID != "bk_000TEST" {
		t.Fatalf("unexpected book id %s", book.ID)
	}
	if book.Status != domain.BookStatusDraft {
		t.Fatalf("expected draft status got %s", book.Status)
	}
	if inserted.ChildName != "Nina" || inserted.ChildAge != 6 {
		t.Fatalf("personalisation not persisted: %+v", inserted)
	}
	if !inserted.CreatedAt.Equal(now) {
		t.Fatalf("expected created at %v got %v", now, inserted.CreatedAt)
	}
}

func TestBookServiceCreateBookValidation(t *testing.T) {
	ctx := context.Background()
	svc := newBookServiceForTest(t, &stubBookRepo{}, &stubOrderRepo{}, time.Now())

	cases := []struct {
		name string
		cmd  CreateBookCommand
	}{
		{"missing child name", CreateBookCommand{ActorID: "usr_1", Title: "T", ChildAge: 6, Theme: "space"}},
		{"age too low", CreateBookCommand{ActorID: "usr_1", Title: "T", ChildName: "Nina", ChildAge: 0, Theme: "space"}},
		{"age too high", CreateBookCommand{ActorID: "usr_1", Title: "T", ChildName: "Nina", ChildAge: 13, Theme: "space"}},
		{"missing theme", CreateBookCommand{ActorID: "usr_1", Title: "T", ChildName: "Nina", ChildAge: 6}},
		{"missing title", CreateBookCommand{ActorID: "usr_1", ChildName: "Nina", ChildAge: 6, Theme: "space"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.CreateBook(ctx, tc.cmd); !errors.Is(err, ErrBookInvalidInput) {
				t.Fatalf("expected ErrBookInvalidInput got %v", err)
			}
		})
	}
}

func TestBookServiceUpdateBookDraftOnly(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 2, 11, 9, 0, 0, 0, time.UTC)

	var updated domain.Book
	books := &stubBookRepo{
		findFn: func(_ context.Context, id string) (domain.Book, error) {
			return domain.Book{ID: id, UserID: "usr_1", Title: "Old", ChildName: "Nina", ChildAge: 6, Theme: "space", Status: domain.BookStatusDraft}, nil
		},
		updateFn: func(_ context.Context, book domain.Book) error {
			updated = book
			return nil
		},
	}
	svc := newBookServiceForTest(t, books, &stubOrderRepo{}, now)

	theme := "pirates"
	book, err := svc.UpdateBook(ctx, UpdateBookCommand{BookID: "bk_1", ActorID: "usr_1", Theme: &theme})
	if err != nil {
		t.Fatalf("update book: %v", err)
	}
	if book.Theme != "pirates" || updated.Theme != "pirates" {
		t.Fatalf("theme not updated: %s / %s", book.Theme, updated.Theme)
	}

	books.findFn = func(_ context.Context, id string) (domain.Book, error) {
		return domain.Book{ID: id, UserID: "usr_1", Status: domain.BookStatusCompleted}, nil
	}
	_, err = svc.UpdateBook(ctx, UpdateBookCommand{BookID: "bk_1", ActorID: "usr_1", Theme: &theme})
	if !errors.Is(err, ErrBookInvalidState) {
		t.Fatalf("expected ErrBookInvalidState got %v", err)
	}
}

func TestBookServiceGetBookHiddenFromNonOwner(t *testing.T) {
	ctx := context.Background()
	books := &stubBookRepo{
		findFn: func(_ context.Context, id string) (domain.Book, error) {
			return domain.Book{ID: id, UserID: "usr_owner"}, nil
		},
	}
	svc := newBookServiceForTest(t, books, &stubOrderRepo{}, time.Now())

	_, err := svc.GetBook(ctx, "bk_1", "usr_intruder")
	if !errors.Is(err, ErrBookNotFound) {
		t.Fatalf("expected ErrBookNotFound got %v", err)
	}
}

func TestBookServiceDeleteBookBlockedWhileOrdered(t *testing.T) {
	ctx := context.Background()
	books := &stubBookRepo{
		findFn: func(_ context.Context, id string) (domain.Book, error) {
			return domain.Book{ID: id, UserID: "usr_1", Status: domain.BookStatusCompleted}, nil
		},
	}
	orders := &stubOrderRepo{
		countFn: func(_ context.Context, bookID string) (int, error) {
			return 2, nil
		},
	}
	svc := newBookServiceForTest(t, books, orders, time.Now())

	err := svc.DeleteBook(ctx, "bk_1", "usr_1")
	if !errors.Is(err, ErrBookConflict) {
		t.Fatalf("expected ErrBookConflict got %v", err)
	}
}

func TestBookServiceDeleteBookRaceSurfacesAsConflict(t *testing.T) {
	ctx := context.Background()
	books := &stubBookRepo{
		findFn: func(_ context.Context, id string) (domain.Book, error) {
			return domain.Book{ID: id, UserID: "usr_1"}, nil
		},
		deleteFn: func(context.Context, string) error {
			// Order created between the count and the delete; the FK rejects it.
			return conflictRepoError{}
		},
	}
	svc := newBookServiceForTest(t, books, &stubOrderRepo{}, time.Now())

	err := svc.DeleteBook(ctx, "bk_1", "usr_1")
	if !errors.Is(err, ErrBookConflict) {
		t.Fatalf("expected ErrBookConflict got %v", err)
	}
}

func TestBookServiceDeleteBookUnordered(t *testing.T) {
	ctx := context.Background()
	deleted := ""
	books := &stubBookRepo{
		findFn: func(_ context.Context, id string) (domain.Book, error) {
			return domain.Book{ID: id, UserID: "usr_1"}, nil
		},
		deleteFn: func(_ context.Context, id string) error {
			deleted = id
			return nil
		},
	}
	svc := newBookServiceForTest(t, books, &stubOrderRepo{}, time.Now())

	if err := svc.DeleteBook(ctx, "bk_1", "usr_1"); err != nil {
		t.Fatalf("delete book: %v", err)
	}
	if deleted != "bk_1" {
		t.Fatalf("expected bk_1 deleted got %q", deleted)
	}
}

func TestBookServiceListBooksScopedToActor(t *testing.T) {
	ctx := context.Background()
	var captured repositories.BookListFilter
	books := &stubBookRepo{
		listFn: func(_ context.Context, filter repositories.BookListFilter) (domain.CursorPage[domain.Book], error) {
			captured = filter
			return domain.CursorPage[domain.Book]{Items: []domain.Book{{ID: "bk_1"}}}, nil
		},
	}
	svc := newBookServiceForTest(t, books, &stubOrderRepo{}, time.Now())

	page, err := svc.ListBooks(ctx, BookListFilter{
		ActorID:    "usr_1",
		Status:     []domain.BookStatus{domain.BookStatusCompleted},
		Pagination: Pagination{PageSize: 5},
	})
	if err != nil {
		t.Fatalf("list books: %v", err)
	}
	if captured.UserID != "usr_1" {
		t.Fatalf("expected filter scoped to usr_1 got %s", captured.UserID)
	}
	if len(page.Items) != 1 {
		t.Fatalf("expected 1 item got %d", len(page.Items))
	}
}

func TestBookServiceListBooksMalformedPageToken(t *testing.T) {
	ctx := context.Background()
	books := &stubBookRepo{
		listFn: func(context.Context, repositories.BookListFilter) (domain.CursorPage[domain.Book], error) {
			return domain.CursorPage[domain.Book]{}, fmt.Errorf("books: list: %w", pagination.ErrInvalidPageToken)
		},
	}
	svc := newBookServiceForTest(t, books, &stubOrderRepo{}, time.Now())

	_, err := svc.ListBooks(ctx, BookListFilter{
		ActorID:    "usr_1",
		Pagination: Pagination{PageToken: "not-base64"},
	})
	if !errors.Is(err, ErrBookInvalidInput) {
		t.Fatalf("expected ErrBookInvalidInput got %v", err)
	}
}
