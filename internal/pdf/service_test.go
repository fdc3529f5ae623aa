package pdf

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	domain "github.com/storyforge/api/internal/domain"
	"github.com/storyforge/api/internal/platform/storage"
)

type stubRenderer struct {
	pdf   []byte
	err   error
	calls int
}

func (s *stubRenderer) Render(_ context.Context, _ []byte) ([]byte, error) {
	s.calls++
	return s.pdf, s.err
}

type memoryAssetCache struct {
	objects  map[string][]byte
	writeErr error
}

func (m *memoryAssetCache) Open(_ context.Context, objectPath string) (io.ReadCloser, string, error) {
	data, ok := m.objects[objectPath]
	if !ok {
		return nil, "", storage.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), "application/pdf", nil
}

func (m *memoryAssetCache) Write(_ context.Context, objectPath, _ string, data []byte) error {
	if m.writeErr != nil {
		return m.writeErr
	}
	if m.objects == nil {
		m.objects = make(map[string][]byte)
	}
	m.objects[objectPath] = data
	return nil
}

func completedBook() domain.Book {
	return domain.Book{
		ID:     "bk_1",
		UserID: "usr_1",
		Status: domain.BookStatusCompleted,
		Content: &domain.BookContent{
			Title:         "Nina et le dragon",
			CoverImageURL: "books/bk_1/cover.png",
			Pages: []domain.BookPage{
				{Text: "Il était une fois Nina.", ImageURL: "books/bk_1/pages/1.png"},
			},
			Conclusion: "Bravo Nina !",
		},
	}
}

func newServiceForTest(t *testing.T, renderer *stubRenderer, assets *memoryAssetCache) *Service {
	t.Helper()
	builder, err := NewBuilder()
	if err != nil {
		t.Fatalf("new builder: %v", err)
	}
	svc, err := NewService(ServiceDeps{
		Builder:  builder,
		Renderer: renderer,
		Assets:   assets,
		ImageURL: func(path string) string { return "https://assets.example/" + path },
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func TestServiceRendersAndCaches(t *testing.T) {
	renderer := &stubRenderer{pdf: []byte("%PDF-1.7 test")}
	assets := &memoryAssetCache{}
	svc := newServiceForTest(t, renderer, assets)

	pdf, err := svc.BookPDF(context.Background(), completedBook())
	if err != nil {
		t.Fatalf("book pdf: %v", err)
	}
	if !bytes.Equal(pdf, renderer.pdf) {
		t.Fatalf("unexpected pdf bytes")
	}
	if _, ok := assets.objects["books/bk_1/book.pdf"]; !ok {
		t.Fatal("rendered pdf not cached")
	}

	// Second request must come from the cache.
	if _, err := svc.BookPDF(context.Background(), completedBook()); err != nil {
		t.Fatalf("cached book pdf: %v", err)
	}
	if renderer.calls != 1 {
		t.Fatalf("expected 1 render call got %d", renderer.calls)
	}
}

func TestServiceCacheWriteFailureStillReturnsPDF(t *testing.T) {
	renderer := &stubRenderer{pdf: []byte("%PDF-1.7 test")}
	assets := &memoryAssetCache{writeErr: io.ErrClosedPipe}
	svc := newServiceForTest(t, renderer, assets)

	pdf, err := svc.BookPDF(context.Background(), completedBook())
	if err != nil {
		t.Fatalf("book pdf: %v", err)
	}
	if len(pdf) == 0 {
		t.Fatal("expected pdf bytes despite cache failure")
	}
}

func TestServiceRequiresContent(t *testing.T) {
	svc := newServiceForTest(t, &stubRenderer{pdf: []byte("x")}, &memoryAssetCache{})

	book := completedBook()
	book.Content = nil
	if _, err := svc.BookPDF(context.Background(), book); err == nil {
		t.Fatal("expected missing content error")
	}
}

func TestBuilderSanitisesStoryText(t *testing.T) {
	builder, err := NewBuilder()
	if err != nil {
		t.Fatalf("new builder: %v", err)
	}

	book := completedBook()
	book.Content.Pages[0].Text = `Il était une fois <script>alert("x")</script> Nina.`

	html, err := builder.BuildHTML(book, nil)
	if err != nil {
		t.Fatalf("build html: %v", err)
	}
	if strings.Contains(string(html), "<script>") {
		t.Fatal("markup must be stripped from story text")
	}
	if !strings.Contains(string(html), "Nina.") {
		t.Fatal("story text lost during sanitisation")
	}
}

func TestBuilderResolvesImageURLs(t *testing.T) {
	builder, err := NewBuilder()
	if err != nil {
		t.Fatalf("new builder: %v", err)
	}

	html, err := builder.BuildHTML(completedBook(), func(path string) string {
		return "https://assets.example/" + path
	})
	if err != nil {
		t.Fatalf("build html: %v", err)
	}
	if !strings.Contains(string(html), `src="https://assets.example/books/bk_1/cover.png"`) {
		t.Fatalf("cover url not resolved:\n%s", html)
	}
}

func TestRendererPostsMultipartHTML(t *testing.T) {
	var gotPath, gotContentType string
	var gotFile []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotContentType = r.Header.Get("Content-Type")
		file, _, err := r.FormFile("files")
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		defer file.Close()
		gotFile, _ = io.ReadAll(file)
		w.Write([]byte("%PDF-1.7 rendered"))
	}))
	defer server.Close()

	renderer, err := NewRenderer(server.URL, server.Client())
	if err != nil {
		t.Fatalf("new renderer: %v", err)
	}

	pdf, err := renderer.Render(context.Background(), []byte("<html>doc</html>"))
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if string(pdf) != "%PDF-1.7 rendered" {
		t.Fatalf("unexpected pdf %q", pdf)
	}
	if gotPath != "/forms/chromium/convert/html" {
		t.Fatalf("unexpected path %s", gotPath)
	}
	if !strings.HasPrefix(gotContentType, "multipart/form-data") {
		t.Fatalf("unexpected content type %s", gotContentType)
	}
	if string(gotFile) != "<html>doc</html>" {
		t.Fatalf("unexpected uploaded html %q", gotFile)
	}
}

func TestRendererSurfacesErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "conversion failed", http.StatusInternalServerError)
	}))
	defer server.Close()

	renderer, err := NewRenderer(server.URL, server.Client())
	if err != nil {
		t.Fatalf("new renderer: %v", err)
	}

	if _, err := renderer.Render(context.Background(), []byte("<html></html>")); err == nil {
		t.Fatal("expected renderer error")
	}
}
