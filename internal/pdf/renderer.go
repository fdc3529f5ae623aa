package pdf

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// Rendered PDFs larger than this are rejected.
const maxPDFBytes = 50 << 20

// Renderer converts HTML into PDF bytes through an external conversion
// service (Gotenberg-compatible).
type Renderer struct {
	endpoint   string
	httpClient *http.Client
}

// NewRenderer validates the endpoint and builds a Renderer.
func NewRenderer(endpoint string, httpClient *http.Client) (*Renderer, error) {
	endpoint = strings.TrimRight(strings.TrimSpace(endpoint), "/")
	if endpoint == "" {
		return nil, errors.New("pdf renderer: endpoint is required")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 2 * time.Minute}
	}
	return &Renderer{endpoint: endpoint, httpClient: httpClient}, nil
}

// Render submits the HTML document and returns the PDF bytes.
func (r *Renderer) Render(ctx context.Context, html []byte) ([]byte, error) {
	var body bytes.Buffer
	form := multipart.NewWriter(&body)

	part, err := form.CreateFormFile("files", "index.html")
	if err != nil {
		return nil, fmt.Errorf("pdf renderer: build form: %w", err)
	}
	if _, err := part.Write(html); err != nil {
		return nil, fmt.Errorf("pdf renderer: write form: %w", err)
	}
	if err := form.Close(); err != nil {
		return nil, fmt.Errorf("pdf renderer: close form: %w", err)
	}

	url := r.endpoint + "/forms/chromium/convert/html"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return nil, fmt.Errorf("pdf renderer: build request: %w", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pdf renderer: call renderer: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return nil, fmt.Errorf("pdf renderer: unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	pdf, err := io.ReadAll(io.LimitReader(resp.Body, maxPDFBytes+1))
	if err != nil {
		return nil, fmt.Errorf("pdf renderer: read response: %w", err)
	}
	if len(pdf) > maxPDFBytes {
		return nil, fmt.Errorf("pdf renderer: document exceeds %d bytes", maxPDFBytes)
	}
	if len(pdf) == 0 {
		return nil, errors.New("pdf renderer: empty document")
	}
	return pdf, nil
}
