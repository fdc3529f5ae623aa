package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	domain "github.com/storyforge/api/internal/domain"
	"github.com/storyforge/api/internal/platform/storage"
)

// Downloaded artwork larger than this is rejected.
const maxImageBytes = 10 << 20

type storyGenerator interface {
	GenerateStory(ctx context.Context, childName string, childAge int, theme string) (Story, error)
}

type illustrator interface {
	GenerateCoverImage(ctx context.Context, title, theme string) (string, error)
	GeneratePageImage(ctx context.Context, pageText, theme string) (string, error)
}

type assetWriter interface {
	Write(ctx context.Context, objectPath, contentType string, data []byte) error
}

// BookGeneratorDeps bundles collaborators for the generation worker.
type BookGeneratorDeps struct {
	Story       storyGenerator
	Illustrator illustrator
	Assets      assetWriter
	HTTPClient  *http.Client
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

// BookGenerator runs one generation job end to end: narrative, artwork, and
// re-hosting of the artwork in the asset store.
type BookGenerator struct {
	story       storyGenerator
	illustrator illustrator
	assets      assetWriter
	httpClient  *http.Client
	logger      func(context.Context, string, map[string]any)
}

// NewBookGenerator wires dependencies into a BookGenerator.
func NewBookGenerator(deps BookGeneratorDeps) (*BookGenerator, error) {
	if deps.Story == nil {
		return nil, errors.New("book generator: story generator is required")
	}
	if deps.Illustrator == nil {
		return nil, errors.New("book generator: illustrator is required")
	}
	if deps.Assets == nil {
		return nil, errors.New("book generator: asset store is required")
	}

	httpClient := deps.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &BookGenerator{
		story:       deps.Story,
		illustrator: deps.Illustrator,
		assets:      deps.Assets,
		httpClient:  httpClient,
		logger:      logger,
	}, nil
}

// Generate produces the full content for a book. Image URLs in the returned
// content are asset-store object paths, not the transient provider URLs.
func (g *BookGenerator) Generate(ctx context.Context, book domain.Book) (domain.BookContent, error) {
	started := time.Now()

	story, err := g.story.GenerateStory(ctx, book.ChildName, book.ChildAge, book.Theme)
	if err != nil {
		return domain.BookContent{}, err
	}
	if len(story.Pages) == 0 {
		return domain.BookContent{}, errors.New("ai: story has no pages")
	}

	title := strings.TrimSpace(book.Title)
	if title == "" {
		title = "L'aventure de " + book.ChildName
	}

	coverURL, err := g.illustrator.GenerateCoverImage(ctx, title, book.Theme)
	if err != nil {
		return domain.BookContent{}, err
	}
	coverPath, err := storage.CoverImagePath(book.ID)
	if err != nil {
		return domain.BookContent{}, err
	}
	if err := g.rehostImage(ctx, coverURL, coverPath); err != nil {
		return domain.BookContent{}, err
	}

	pages := make([]domain.BookPage, 0, len(story.Pages))
	for i, text := range story.Pages {
		imageURL, err := g.illustrator.GeneratePageImage(ctx, text, book.Theme)
		if err != nil {
			return domain.BookContent{}, err
		}
		pagePath, err := storage.PageImagePath(book.ID, i+1)
		if err != nil {
			return domain.BookContent{}, err
		}
		if err := g.rehostImage(ctx, imageURL, pagePath); err != nil {
			return domain.BookContent{}, err
		}
		pages = append(pages, domain.BookPage{Text: text, ImageURL: pagePath})
	}

	g.logger(ctx, "ai.book.generated", map[string]any{
		"book":     book.ID,
		"pages":    len(pages),
		"duration": time.Since(started).String(),
	})

	return domain.BookContent{
		Title:         title,
		CoverImageURL: coverPath,
		Pages:         pages,
		Conclusion:    story.Conclusion,
	}, nil
}

// rehostImage downloads the provider-hosted artwork and stores it under the
// book's asset prefix. Provider URLs expire within hours.
func (g *BookGenerator) rehostImage(ctx context.Context, imageURL, objectPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return fmt.Errorf("ai: build image download: %w", err)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ai: download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ai: download image: unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return fmt.Errorf("ai: read image: %w", err)
	}
	if len(data) > maxImageBytes {
		return fmt.Errorf("ai: image exceeds %d bytes", maxImageBytes)
	}

	if err := g.assets.Write(ctx, objectPath, "image/png", data); err != nil {
		return fmt.Errorf("ai: store image: %w", err)
	}
	return nil
}
