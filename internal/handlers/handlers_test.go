package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	domain "github.com/storyforge/api/internal/domain"
	"github.com/storyforge/api/internal/platform/auth"
	"github.com/storyforge/api/internal/services"
)

// identityMiddleware injects a fixed identity so route tests exercise the
// handlers without a live token verifier.
func identityMiddleware(identity *auth.Identity) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), identity)))
		})
	}
}

func testIdentity() *auth.Identity {
	return &auth.Identity{UID: "usr_1", Email: "parent@example.com", Roles: []string{auth.RoleUser}}
}

type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Errors  map[string]any  `json:"errors"`
}

func doRequest(t *testing.T, handler http.Handler, method, target string, body []byte) (*httptest.ResponseRecorder, envelope) {
	t.Helper()

	var reader *bytes.Reader
	if body == nil {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	var env envelope
	if ct := rec.Header().Get("Content-Type"); ct == "application/json" {
		if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
			t.Fatalf("decode envelope: %v (body %s)", err, rec.Body.String())
		}
	}
	return rec, env
}

func errorCode(t *testing.T, env envelope) string {
	t.Helper()
	code, _ := env.Errors["code"].(string)
	return code
}

type stubBookService struct {
	createFn func(ctx context.Context, cmd services.CreateBookCommand) (services.Book, error)
	getFn    func(ctx context.Context, bookID, actorID string) (services.Book, error)
	listFn   func(ctx context.Context, filter services.BookListFilter) (domain.CursorPage[services.Book], error)
	updateFn func(ctx context.Context, cmd services.UpdateBookCommand) (services.Book, error)
	deleteFn func(ctx context.Context, bookID, actorID string) error
}

func (s *stubBookService) CreateBook(ctx context.Context, cmd services.CreateBookCommand) (services.Book, error) {
	if s.createFn != nil {
		return s.createFn(ctx, cmd)
	}
	return services.Book{}, nil
}

func (s *stubBookService) GetBook(ctx context.Context, bookID, actorID string) (services.Book, error) {
	if s.getFn != nil {
		return s.getFn(ctx, bookID, actorID)
	}
	return services.Book{}, services.ErrBookNotFound
}

func (s *stubBookService) ListBooks(ctx context.Context, filter services.BookListFilter) (domain.CursorPage[services.Book], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[services.Book]{}, nil
}

func (s *stubBookService) UpdateBook(ctx context.Context, cmd services.UpdateBookCommand) (services.Book, error) {
	if s.updateFn != nil {
		return s.updateFn(ctx, cmd)
	}
	return services.Book{}, nil
}

func (s *stubBookService) DeleteBook(ctx context.Context, bookID, actorID string) error {
	if s.deleteFn != nil {
		return s.deleteFn(ctx, bookID, actorID)
	}
	return nil
}

type stubOrderService struct {
	createFn func(ctx context.Context, cmd services.CreateOrderCommand) (services.Order, error)
	getFn    func(ctx context.Context, orderID, actorID string) (services.Order, error)
	listFn   func(ctx context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error)
	updateFn func(ctx context.Context, cmd services.UpdateOrderCommand) (services.Order, error)
	deleteFn func(ctx context.Context, orderID, actorID string) error
}

func (s *stubOrderService) CreateOrder(ctx context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
	if s.createFn != nil {
		return s.createFn(ctx, cmd)
	}
	return services.Order{}, nil
}

func (s *stubOrderService) GetOrder(ctx context.Context, orderID, actorID string) (services.Order, error) {
	if s.getFn != nil {
		return s.getFn(ctx, orderID, actorID)
	}
	return services.Order{}, services.ErrOrderNotFound
}

func (s *stubOrderService) ListOrders(ctx context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[services.Order]{}, nil
}

func (s *stubOrderService) UpdateOrder(ctx context.Context, cmd services.UpdateOrderCommand) (services.Order, error) {
	if s.updateFn != nil {
		return s.updateFn(ctx, cmd)
	}
	return services.Order{}, nil
}

func (s *stubOrderService) DeleteOrder(ctx context.Context, orderID, actorID string) error {
	if s.deleteFn != nil {
		return s.deleteFn(ctx, orderID, actorID)
	}
	return nil
}

type stubCheckoutService struct {
	startFn func(ctx context.Context, cmd services.StartCheckoutCommand) (services.CheckoutRedirect, error)
}

func (s *stubCheckoutService) StartCheckout(ctx context.Context, cmd services.StartCheckoutCommand) (services.CheckoutRedirect, error) {
	if s.startFn != nil {
		return s.startFn(ctx, cmd)
	}
	return services.CheckoutRedirect{}, nil
}

type stubDispatcher struct {
	dispatchFn func(ctx context.Context, bookID, actorID string) (services.GenerationJob, error)
	completeFn func(ctx context.Context, cmd services.CompleteGenerationCommand) error
}

func (s *stubDispatcher) Dispatch(ctx context.Context, bookID, actorID string) (services.GenerationJob, error) {
	if s.dispatchFn != nil {
		return s.dispatchFn(ctx, bookID, actorID)
	}
	return services.GenerationJob{}, nil
}

func (s *stubDispatcher) CompleteGeneration(ctx context.Context, cmd services.CompleteGenerationCommand) error {
	if s.completeFn != nil {
		return s.completeFn(ctx, cmd)
	}
	return nil
}

type stubUserService struct {
	ensureFn func(ctx context.Context, cmd services.EnsureProfileCommand) (services.User, error)
}

func (s *stubUserService) EnsureProfile(ctx context.Context, cmd services.EnsureProfileCommand) (services.User, error) {
	if s.ensureFn != nil {
		return s.ensureFn(ctx, cmd)
	}
	return services.User{}, nil
}

type stubReconciler struct {
	reconcileFn func(ctx context.Context, payload []byte, signature string) error
}

func (s *stubReconciler) Reconcile(ctx context.Context, payload []byte, signature string) error {
	if s.reconcileFn != nil {
		return s.reconcileFn(ctx, payload, signature)
	}
	return nil
}

type stubPDFService struct {
	bookPDFFn func(ctx context.Context, book domain.Book) ([]byte, error)
}

func (s *stubPDFService) BookPDF(ctx context.Context, book domain.Book) ([]byte, error) {
	if s.bookPDFFn != nil {
		return s.bookPDFFn(ctx, book)
	}
	return nil, nil
}
