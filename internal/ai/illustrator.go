package ai

import (
	"context"
	"fmt"
)

// Prompts longer than this get truncated so page text never blows the image
// model's prompt budget.
const maxPromptExcerpt = 500

// Illustrator produces cover and page artwork for a book.
type Illustrator struct {
	client *Client
}

// NewIllustrator builds an Illustrator on top of an image client.
func NewIllustrator(client *Client) (*Illustrator, error) {
	if client == nil {
		return nil, fmt.Errorf("illustrator: client is required")
	}
	return &Illustrator{client: client}, nil
}

// GenerateCoverImage renders the book cover and returns the hosted image URL.
func (i *Illustrator) GenerateCoverImage(ctx context.Context, title, theme string) (string, error) {
	prompt := fmt.Sprintf(
		"Create a children's book cover illustration for a story titled '%s' with a %s theme. Make it colorful and child-friendly.",
		title, theme,
	)
	url, err := i.client.GenerateImage(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("generate cover image: %w", err)
	}
	return url, nil
}

// GeneratePageImage renders the illustration for a single page of text.
func (i *Illustrator) GeneratePageImage(ctx context.Context, pageText, theme string) (string, error) {
	prompt := fmt.Sprintf(
		"Create a children's book illustration for this text: '%s'. Theme is %s. Make it colorful and child-friendly.",
		excerpt(pageText), theme,
	)
	url, err := i.client.GenerateImage(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("generate page image: %w", err)
	}
	return url, nil
}

func excerpt(text string) string {
	runes := []rune(text)
	if len(runes) <= maxPromptExcerpt {
		return text
	}
	return string(runes[:maxPromptExcerpt])
}
