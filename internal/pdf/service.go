package pdf

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	domain "github.com/storyforge/api/internal/domain"
	"github.com/storyforge/api/internal/platform/storage"
)

type htmlRenderer interface {
	Render(ctx context.Context, html []byte) ([]byte, error)
}

type assetCache interface {
	Open(ctx context.Context, objectPath string) (io.ReadCloser, string, error)
	Write(ctx context.Context, objectPath, contentType string, data []byte) error
}

// ServiceDeps bundles collaborators for PDF assembly.
type ServiceDeps struct {
	Builder  *Builder
	Renderer htmlRenderer
	Assets   assetCache
	ImageURL func(objectPath string) string
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

// Service assembles book PDFs on demand and caches the result in the asset
// store so repeat downloads skip the renderer.
type Service struct {
	builder  *Builder
	renderer htmlRenderer
	assets   assetCache
	imageURL func(string) string
	logger   func(context.Context, string, map[string]any)
}

// NewService wires dependencies into a PDF Service.
func NewService(deps ServiceDeps) (*Service, error) {
	if deps.Builder == nil {
		return nil, errors.New("pdf service: builder is required")
	}
	if deps.Renderer == nil {
		return nil, errors.New("pdf service: renderer is required")
	}
	if deps.Assets == nil {
		return nil, errors.New("pdf service: asset store is required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &Service{
		builder:  deps.Builder,
		renderer: deps.Renderer,
		assets:   deps.Assets,
		imageURL: deps.ImageURL,
		logger:   logger,
	}, nil
}

// BookPDF returns the rendered PDF for a completed book, rendering and caching
// it on first request.
func (s *Service) BookPDF(ctx context.Context, book domain.Book) ([]byte, error) {
	objectPath, err := storage.BookPDFPath(book.ID)
	if err != nil {
		return nil, err
	}

	if cached, err := s.readCached(ctx, objectPath); err == nil {
		return cached, nil
	} else if !errors.Is(err, storage.ErrObjectNotFound) {
		return nil, err
	}

	html, err := s.builder.BuildHTML(book, s.imageURL)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	pdf, err := s.renderer.Render(ctx, html)
	if err != nil {
		return nil, err
	}

	if err := s.assets.Write(ctx, objectPath, "application/pdf", pdf); err != nil {
		// The document is still usable this request; only the cache failed.
		s.logger(ctx, "pdf.cache.write_failed", map[string]any{
			"book":  book.ID,
			"error": err.Error(),
		})
	}

	s.logger(ctx, "pdf.rendered", map[string]any{
		"book":     book.ID,
		"bytes":    len(pdf),
		"duration": time.Since(started).String(),
	})

	return pdf, nil
}

func (s *Service) readCached(ctx context.Context, objectPath string) ([]byte, error) {
	reader, _, err := s.assets.Open(ctx, objectPath)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	pdf, err := io.ReadAll(io.LimitReader(reader, maxPDFBytes))
	if err != nil {
		return nil, fmt.Errorf("pdf: read cached document: %w", err)
	}
	return pdf, nil
}
