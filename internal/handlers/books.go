package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/storyforge/api/internal/domain"
	"github.com/storyforge/api/internal/platform/auth"
	"github.com/storyforge/api/internal/platform/httpx"
	"github.com/storyforge/api/internal/services"
)

const (
	maxBookBodySize = 16 * 1024

	generationRateLimit  = 5
	generationRateWindow = time.Hour
)

var validBookStatuses = map[domain.BookStatus]struct{}{
	domain.BookStatusDraft:      {},
	domain.BookStatusGenerating: {},
	domain.BookStatusCompleted:  {},
	domain.BookStatusFailed:     {},
}

type createBookRequest struct {
	Title     string `json:"title"`
	ChildName string `json:"child_name"`
	ChildAge  int    `json:"child_age"`
	Theme     string `json:"theme"`
}

type updateBookRequest struct {
	Title     *string `json:"title"`
	ChildName *string `json:"child_name"`
	ChildAge  *int    `json:"child_age"`
	Theme     *string `json:"theme"`
}

type pdfService interface {
	BookPDF(ctx context.Context, book domain.Book) ([]byte, error)
}

// BookHandlers exposes book CRUD, generation, and PDF delivery endpoints.
type BookHandlers struct {
	authn      *auth.Authenticator
	books      services.BookService
	generation services.GenerationDispatcher
	pdf        pdfService
	genLimiter rateLimiter
	extra      []func(http.Handler) http.Handler
}

// NewBookHandlers constructs a new BookHandlers instance. Generation requests
// are throttled per user because each job fans out into paid model calls.
// Extra middleware runs after authentication, so profile provisioning and
// request-deduplication layers see the resolved identity.
func NewBookHandlers(authn *auth.Authenticator, books services.BookService, generation services.GenerationDispatcher, pdf pdfService, extra ...func(http.Handler) http.Handler) *BookHandlers {
	return &BookHandlers{
		authn:      authn,
		books:      books,
		generation: generation,
		pdf:        pdf,
		genLimiter: newSimpleRateLimiter(generationRateLimit, generationRateWindow, nil),
		extra:      extra,
	}
}

// Routes registers the /books endpoints.
func (h *BookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireAuth())
	}
	for _, mw := range h.extra {
		if mw != nil {
			r.Use(mw)
		}
	}
	r.Post("/", h.createBook)
	r.Get("/", h.listBooks)
	r.Get("/{bookID}", h.getBook)
	r.Put("/{bookID}", h.updateBook)
	r.Delete("/{bookID}", h.deleteBook)
	r.Post("/{bookID}:generate", h.generateBook)
	r.Get("/{bookID}/pdf", h.downloadPDF)
}

func (h *BookHandlers) createBook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.books == nil {
		httpx.WriteError(ctx, w, httpx.NewError("book_service_unavailable", "book service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req createBookRequest
	if !decodeJSONBody(ctx, w, r, maxBookBodySize, &req) {
		return
	}

	book, err := h.books.CreateBook(ctx, services.CreateBookCommand{
		ActorID:   strings.TrimSpace(identity.UID),
		Title:     req.Title,
		ChildName: req.ChildName,
		ChildAge:  req.ChildAge,
		Theme:     req.Theme,
	})
	if err != nil {
		writeBookError(ctx, w, err)
		return
	}

	httpx.WriteSuccess(w, http.StatusCreated, "book created", buildBookPayload(book))
}

func (h *BookHandlers) listBooks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.books == nil {
		httpx.WriteError(ctx, w, httpx.NewError("book_service_unavailable", "book service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	pagination, err := parsePagination(r)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	var statuses []domain.BookStatus
	for _, raw := range parseFilterValues(r.URL.Query()["status"]) {
		status := domain.BookStatus(strings.ToLower(raw))
		if _, ok := validBookStatuses[status]; !ok {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", fmt.Sprintf("unknown book status %q", raw), http.StatusBadRequest))
			return
		}
		statuses = append(statuses, status)
	}

	page, err := h.books.ListBooks(ctx, services.BookListFilter{
		ActorID:    strings.TrimSpace(identity.UID),
		Status:     statuses,
		Pagination: pagination,
	})
	if err != nil {
		writeBookError(ctx, w, err)
		return
	}

	items := make([]bookPayload, 0, len(page.Items))
	for _, book := range page.Items {
		items = append(items, buildBookPayload(book))
	}

	httpx.WriteSuccess(w, http.StatusOK, "", listPayload[bookPayload]{
		Items:         items,
		NextPageToken: page.NextPageToken,
	})
}

func (h *BookHandlers) getBook(w http.ResponseWriter, r *http.Request) {
	book, ok := h.loadBook(w, r)
	if !ok {
		return
	}
	httpx.WriteSuccess(w, http.StatusOK, "", buildBookPayload(book))
}

func (h *BookHandlers) updateBook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.books == nil {
		httpx.WriteError(ctx, w, httpx.NewError("book_service_unavailable", "book service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	bookID := strings.TrimSpace(chi.URLParam(r, "bookID"))
	if bookID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "book id is required", http.StatusBadRequest))
		return
	}

	var req updateBookRequest
	if !decodeJSONBody(ctx, w, r, maxBookBodySize, &req) {
		return
	}

	book, err := h.books.UpdateBook(ctx, services.UpdateBookCommand{
		BookID:    bookID,
		ActorID:   strings.TrimSpace(identity.UID),
		Title:     req.Title,
		ChildName: req.ChildName,
		ChildAge:  req.ChildAge,
		Theme:     req.Theme,
	})
	if err != nil {
		writeBookError(ctx, w, err)
		return
	}

	httpx.WriteSuccess(w, http.StatusOK, "book updated", buildBookPayload(book))
}

func (h *BookHandlers) deleteBook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.books == nil {
		httpx.WriteError(ctx, w, httpx.NewError("book_service_unavailable", "book service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	bookID := strings.TrimSpace(chi.URLParam(r, "bookID"))
	if bookID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "book id is required", http.StatusBadRequest))
		return
	}

	if err := h.books.DeleteBook(ctx, bookID, strings.TrimSpace(identity.UID)); err != nil {
		writeBookError(ctx, w, err)
		return
	}

	httpx.WriteSuccess(w, http.StatusOK, "book deleted", nil)
}

func (h *BookHandlers) generateBook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.generation == nil {
		httpx.WriteError(ctx, w, httpx.NewError("generation_unavailable", "generation is not configured", http.StatusServiceUnavailable))
		return
	}

	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	bookID := strings.TrimSpace(chi.URLParam(r, "bookID"))
	if bookID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "book id is required", http.StatusBadRequest))
		return
	}

	if h.genLimiter != nil && !h.genLimiter.Allow(identity.UID) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many generation requests, try again later", http.StatusTooManyRequests))
		return
	}

	job, err := h.generation.Dispatch(ctx, bookID, strings.TrimSpace(identity.UID))
	if err != nil {
		writeBookError(ctx, w, err)
		return
	}

	data := map[string]any{
		"book_id":   job.BookID,
		"queued_at": job.QueuedAt.Format(time.RFC3339),
	}
	if job.JobID != "" {
		data["job_id"] = job.JobID
	}
	httpx.WriteSuccess(w, http.StatusOK, "generation queued", data)
}

func (h *BookHandlers) downloadPDF(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.pdf == nil {
		httpx.WriteError(ctx, w, httpx.NewError("pdf_unavailable", "pdf delivery is not configured", http.StatusServiceUnavailable))
		return
	}

	book, ok := h.loadBook(w, r)
	if !ok {
		return
	}
	if book.Status != domain.BookStatusCompleted {
		httpx.WriteError(ctx, w, httpx.NewError("book_invalid_state", "book has not been generated yet", http.StatusBadRequest))
		return
	}

	pdf, err := h.pdf.BookPDF(ctx, book)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("pdf_error", "failed to assemble pdf", http.StatusInternalServerError))
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Length", strconv.Itoa(len(pdf)))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", book.ID+".pdf"))
	w.WriteHeader(http.StatusOK)
	w.Write(pdf)
}

// loadBook resolves the path book for the authenticated user, writing the
// error response itself when it fails.
func (h *BookHandlers) loadBook(w http.ResponseWriter, r *http.Request) (services.Book, bool) {
	ctx := r.Context()
	if h.books == nil {
		httpx.WriteError(ctx, w, httpx.NewError("book_service_unavailable", "book service unavailable", http.StatusServiceUnavailable))
		return services.Book{}, false
	}

	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return services.Book{}, false
	}

	bookID := strings.TrimSpace(chi.URLParam(r, "bookID"))
	if bookID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "book id is required", http.StatusBadRequest))
		return services.Book{}, false
	}

	book, err := h.books.GetBook(ctx, bookID, strings.TrimSpace(identity.UID))
	if err != nil {
		writeBookError(ctx, w, err)
		return services.Book{}, false
	}
	return book, true
}

type listPayload[T any] struct {
	Items         []T    `json:"items"`
	NextPageToken string `json:"next_page_token,omitempty"`
}

type bookPayload struct {
	ID         string              `json:"id"`
	Title      string              `json:"title"`
	ChildName  string              `json:"child_name"`
	ChildAge   int                 `json:"child_age"`
	Theme      string              `json:"theme"`
	Status     string              `json:"status"`
	Content    *bookContentPayload `json:"content,omitempty"`
	FailReason string              `json:"fail_reason,omitempty"`
	CreatedAt  string              `json:"created_at"`
	UpdatedAt  string              `json:"updated_at"`
}

type bookContentPayload struct {
	Title         string            `json:"title"`
	CoverImageURL string            `json:"cover_image_url,omitempty"`
	Pages         []bookPagePayload `json:"pages"`
	Conclusion    string            `json:"conclusion,omitempty"`
}

type bookPagePayload struct {
	Text     string `json:"text"`
	ImageURL string `json:"image_url,omitempty"`
}

func buildBookPayload(book services.Book) bookPayload {
	payload := bookPayload{
		ID:        book.ID,
		Title:     book.Title,
		ChildName: book.ChildName,
		ChildAge:  book.ChildAge,
		Theme:     book.Theme,
		Status:    string(book.Status),
		CreatedAt: book.CreatedAt.Format(time.RFC3339),
		UpdatedAt: book.UpdatedAt.Format(time.RFC3339),
	}
	if book.FailReason != nil {
		payload.FailReason = *book.FailReason
	}
	if book.Content != nil {
		content := bookContentPayload{
			Title:         book.Content.Title,
			CoverImageURL: book.Content.CoverImageURL,
			Conclusion:    book.Content.Conclusion,
		}
		for _, page := range book.Content.Pages {
			content.Pages = append(content.Pages, bookPagePayload{Text: page.Text, ImageURL: page.ImageURL})
		}
		payload.Content = &content
	}
	return payload
}

// decodeJSONBody reads and unmarshals the request body, writing the error
// response itself when it fails.
func decodeJSONBody(ctx context.Context, w http.ResponseWriter, r *http.Request, limit int64, out any) bool {
	body, err := readLimitedBody(r, limit)
	if err != nil {
		switch {
		case errors.Is(err, errBodyTooLarge):
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		case errors.Is(err, errEmptyBody):
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body is required", http.StatusBadRequest))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		}
		return false
	}
	if err := json.Unmarshal(body, out); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return false
	}
	return true
}

func writeBookError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrBookInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrBookNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("book_not_found", "book not found", http.StatusNotFound))
	case errors.Is(err, services.ErrBookConflict):
		httpx.WriteError(ctx, w, httpx.NewError("book_conflict", "book is referenced by existing orders", http.StatusConflict))
	case errors.Is(err, services.ErrBookInvalidState), errors.Is(err, services.ErrGenerationInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("book_invalid_state", err.Error(), http.StatusBadRequest))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("book_error", "failed to process book request", http.StatusInternalServerError))
	}
}
