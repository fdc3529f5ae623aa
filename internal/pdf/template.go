package pdf

import (
	"bytes"
	"fmt"
	"html/template"

	"github.com/microcosm-cc/bluemonday"

	domain "github.com/storyforge/api/internal/domain"
)

const bookTemplate = `<!DOCTYPE html>
<html lang="fr">
<head>
<meta charset="utf-8">
<style>
  @page { size: A4 portrait; margin: 0; }
  body { font-family: Georgia, serif; margin: 0; }
  .page { height: 100vh; display: flex; flex-direction: column; align-items: center; justify-content: center; page-break-after: always; padding: 2.5em; box-sizing: border-box; }
  .cover h1 { font-size: 2.4em; text-align: center; }
  .cover img, .page img { max-width: 80%; max-height: 60vh; }
  .text { font-size: 1.3em; line-height: 1.6; margin-top: 1.5em; text-align: center; }
  .conclusion { font-style: italic; }
</style>
</head>
<body>
  <div class="page cover">
    <h1>{{.Title}}</h1>
    {{if .CoverImageURL}}<img src="{{.CoverImageURL}}" alt="">{{end}}
  </div>
  {{range .Pages}}
  <div class="page">
    {{if .ImageURL}}<img src="{{.ImageURL}}" alt="">{{end}}
    <p class="text">{{.Text}}</p>
  </div>
  {{end}}
  {{if .Conclusion}}
  <div class="page">
    <p class="text conclusion">{{.Conclusion}}</p>
  </div>
  {{end}}
</body>
</html>
`

type bookTemplateData struct {
	Title         string
	CoverImageURL string
	Pages         []bookTemplatePage
	Conclusion    string
}

type bookTemplatePage struct {
	ImageURL string
	Text     string
}

// Builder assembles the print layout for a book as HTML.
type Builder struct {
	tmpl   *template.Template
	policy *bluemonday.Policy
}

// NewBuilder parses the layout template. Generated story text is stripped of
// any markup before it reaches the template.
func NewBuilder() (*Builder, error) {
	tmpl, err := template.New("book").Parse(bookTemplate)
	if err != nil {
		return nil, fmt.Errorf("pdf builder: parse template: %w", err)
	}
	return &Builder{
		tmpl:   tmpl,
		policy: bluemonday.StrictPolicy(),
	}, nil
}

// BuildHTML renders the layout for a generated book. imageURL maps asset
// object paths to URLs the renderer can fetch.
func (b *Builder) BuildHTML(book domain.Book, imageURL func(objectPath string) string) ([]byte, error) {
	if book.Content == nil {
		return nil, fmt.Errorf("pdf builder: book %s has no content", book.ID)
	}
	if imageURL == nil {
		imageURL = func(path string) string { return path }
	}

	data := bookTemplateData{
		Title:      b.policy.Sanitize(book.Content.Title),
		Conclusion: b.policy.Sanitize(book.Content.Conclusion),
	}
	if book.Content.CoverImageURL != "" {
		data.CoverImageURL = imageURL(book.Content.CoverImageURL)
	}
	for _, page := range book.Content.Pages {
		rendered := bookTemplatePage{Text: b.policy.Sanitize(page.Text)}
		if page.ImageURL != "" {
			rendered.ImageURL = imageURL(page.ImageURL)
		}
		data.Pages = append(data.Pages, rendered)
	}

	var buf bytes.Buffer
	if err := b.tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("pdf builder: execute template: %w", err)
	}
	return buf.Bytes(), nil
}
