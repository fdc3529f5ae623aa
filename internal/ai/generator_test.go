package ai

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	domain "github.com/storyforge/api/internal/domain"
)

type stubStoryGenerator struct {
	story Story
	err   error
}

func (s *stubStoryGenerator) GenerateStory(context.Context, string, int, string) (Story, error) {
	return s.story, s.err
}

type stubIllustrator struct {
	coverURL string
	pageURL  string
	err      error
}

func (s *stubIllustrator) GenerateCoverImage(context.Context, string, string) (string, error) {
	return s.coverURL, s.err
}

func (s *stubIllustrator) GeneratePageImage(context.Context, string, string) (string, error) {
	return s.pageURL, s.err
}

type captureAssetWriter struct {
	objects map[string][]byte
	err     error
}

func (c *captureAssetWriter) Write(_ context.Context, objectPath, _ string, data []byte) error {
	if c.err != nil {
		return c.err
	}
	if c.objects == nil {
		c.objects = make(map[string][]byte)
	}
	c.objects[objectPath] = data
	return nil
}

func TestBookGeneratorGenerate(t *testing.T) {
	imageServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("png-bytes"))
	}))
	defer imageServer.Close()

	assets := &captureAssetWriter{}
	gen, err := NewBookGenerator(BookGeneratorDeps{
		Story: &stubStoryGenerator{story: Story{
			Pages:      []string{"Page un.", "Page deux."},
			Conclusion: "Bravo Nina !",
		}},
		Illustrator: &stubIllustrator{coverURL: imageServer.URL + "/cover", pageURL: imageServer.URL + "/page"},
		Assets:      assets,
		HTTPClient:  imageServer.Client(),
	})
	if err != nil {
		t.Fatalf("new book generator: %v", err)
	}

	content, err := gen.Generate(context.Background(), domain.Book{
		ID:        "bk_1",
		ChildName: "Nina",
		ChildAge:  6,
		Theme:     "dragons",
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	if content.Title != "L'aventure de Nina" {
		t.Fatalf("unexpected title %q", content.Title)
	}
	if content.CoverImageURL != "books/bk_1/cover.png" {
		t.Fatalf("unexpected cover path %s", content.CoverImageURL)
	}
	if len(content.Pages) != 2 {
		t.Fatalf("expected 2 pages got %d", len(content.Pages))
	}
	if content.Pages[0].ImageURL != "books/bk_1/pages/1.png" {
		t.Fatalf("unexpected page path %s", content.Pages[0].ImageURL)
	}
	if content.Conclusion != "Bravo Nina !" {
		t.Fatalf("unexpected conclusion %q", content.Conclusion)
	}

	// Cover plus one object per page must be re-hosted.
	if len(assets.objects) != 3 {
		t.Fatalf("expected 3 stored objects got %d", len(assets.objects))
	}
	if string(assets.objects["books/bk_1/cover.png"]) != "png-bytes" {
		t.Fatalf("cover bytes not stored")
	}
}

func TestBookGeneratorKeepsExistingTitle(t *testing.T) {
	imageServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("png"))
	}))
	defer imageServer.Close()

	gen, err := NewBookGenerator(BookGeneratorDeps{
		Story:       &stubStoryGenerator{story: Story{Pages: []string{"Page."}, Conclusion: "Fin."}},
		Illustrator: &stubIllustrator{coverURL: imageServer.URL, pageURL: imageServer.URL},
		Assets:      &captureAssetWriter{},
		HTTPClient:  imageServer.Client(),
	})
	if err != nil {
		t.Fatalf("new book generator: %v", err)
	}

	content, err := gen.Generate(context.Background(), domain.Book{
		ID:        "bk_1",
		Title:     "Nina et le dragon",
		ChildName: "Nina",
		Theme:     "dragons",
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if content.Title != "Nina et le dragon" {
		t.Fatalf("expected title to be kept, got %q", content.Title)
	}
}

func TestBookGeneratorFailsOnEmptyStory(t *testing.T) {
	gen, err := NewBookGenerator(BookGeneratorDeps{
		Story:       &stubStoryGenerator{story: Story{}},
		Illustrator: &stubIllustrator{},
		Assets:      &captureAssetWriter{},
	})
	if err != nil {
		t.Fatalf("new book generator: %v", err)
	}

	if _, err := gen.Generate(context.Background(), domain.Book{ID: "bk_1", ChildName: "Nina"}); err == nil {
		t.Fatal("expected empty story error")
	}
}

func TestBookGeneratorPropagatesStoryError(t *testing.T) {
	wantErr := errors.New("model unavailable")
	gen, err := NewBookGenerator(BookGeneratorDeps{
		Story:       &stubStoryGenerator{err: wantErr},
		Illustrator: &stubIllustrator{},
		Assets:      &captureAssetWriter{},
	})
	if err != nil {
		t.Fatalf("new book generator: %v", err)
	}

	if _, err := gen.Generate(context.Background(), domain.Book{ID: "bk_1"}); !errors.Is(err, wantErr) {
		t.Fatalf("expected story error got %v", err)
	}
}

func TestBookGeneratorRejectsFailedDownload(t *testing.T) {
	imageServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer imageServer.Close()

	gen, err := NewBookGenerator(BookGeneratorDeps{
		Story:       &stubStoryGenerator{story: Story{Pages: []string{"Page."}}},
		Illustrator: &stubIllustrator{coverURL: imageServer.URL, pageURL: imageServer.URL},
		Assets:      &captureAssetWriter{},
		HTTPClient:  imageServer.Client(),
	})
	if err != nil {
		t.Fatalf("new book generator: %v", err)
	}

	if _, err := gen.Generate(context.Background(), domain.Book{ID: "bk_1", ChildName: "Nina"}); err == nil {
		t.Fatal("expected download failure")
	}
}
