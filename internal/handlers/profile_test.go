package handlers

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/storyforge/api/internal/services"
)

func newProfiledBookRouter(users *stubUserService, books *stubBookService) http.Handler {
	h := NewBookHandlers(nil, books, nil, nil, ProfileMiddleware(users))
	return NewRouter(
		WithMiddlewares(identityMiddleware(testIdentity())),
		WithBookRoutes(h.Routes),
	)
}

func TestProfileMiddlewareProvisionsBeforeCreate(t *testing.T) {
	var calls []string
	users := &stubUserService{
		ensureFn: func(_ context.Context, cmd services.EnsureProfileCommand) (services.User, error) {
			calls = append(calls, "ensure")
			if cmd.UserID != "usr_1" || cmd.Email != "parent@example.com" {
				t.Fatalf("unexpected provisioning command %+v", cmd)
			}
			return services.User{ID: cmd.UserID}, nil
		},
	}
	books := &stubBookService{
		createFn: func(_ context.Context, _ services.CreateBookCommand) (services.Book, error) {
			calls = append(calls, "create")
			return draftBook(), nil
		},
	}

	body := []byte(`{"title":"Leo et le dragon","child_name":"Leo","child_age":6,"theme":"dragons"}`)
	rec, _ := doRequest(t, newProfiledBookRouter(users, books), http.MethodPost, "/api/v1/books", body)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201 (body %s)", rec.Code, rec.Body.String())
	}
	if len(calls) != 2 || calls[0] != "ensure" || calls[1] != "create" {
		t.Fatalf("calls = %v, want provisioning before create", calls)
	}
}

func TestProfileMiddlewareSkipsReads(t *testing.T) {
	ensured := false
	users := &stubUserService{
		ensureFn: func(_ context.Context, _ services.EnsureProfileCommand) (services.User, error) {
			ensured = true
			return services.User{}, nil
		},
	}

	rec, _ := doRequest(t, newProfiledBookRouter(users, &stubBookService{}), http.MethodGet, "/api/v1/books", nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ensured {
		t.Fatal("profile was provisioned on a read")
	}
}

func TestProfileMiddlewareFailureBlocksRequest(t *testing.T) {
	users := &stubUserService{
		ensureFn: func(_ context.Context, _ services.EnsureProfileCommand) (services.User, error) {
			return services.User{}, errors.New("repository down")
		},
	}
	books := &stubBookService{
		createFn: func(_ context.Context, _ services.CreateBookCommand) (services.Book, error) {
			t.Fatal("book creation must not run without an account row")
			return services.Book{}, nil
		},
	}

	body := []byte(`{"title":"Leo et le dragon","child_name":"Leo","child_age":6,"theme":"dragons"}`)
	rec, env := doRequest(t, newProfiledBookRouter(users, books), http.MethodPost, "/api/v1/books", body)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if code := errorCode(t, env); code != "profile_error" {
		t.Fatalf("code = %q, want profile_error", code)
	}
}
