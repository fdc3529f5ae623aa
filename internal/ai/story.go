package ai

import (
	"context"
	"fmt"
	"strings"
)

const storyPageCount = 13

// Story is the raw narrative produced by the chat model, before illustration.
type Story struct {
	Pages      []string
	Conclusion string
}

// StoryGenerator produces the personalised narrative for a book.
type StoryGenerator struct {
	client *Client
}

// NewStoryGenerator builds a StoryGenerator on top of a chat client.
func NewStoryGenerator(client *Client) (*StoryGenerator, error) {
	if client == nil {
		return nil, fmt.Errorf("story generator: client is required")
	}
	return &StoryGenerator{client: client}, nil
}

// GenerateStory asks the model for the main narrative and a personalised
// conclusion. The story is written in French, as the shop ships to France.
func (g *StoryGenerator) GenerateStory(ctx context.Context, childName string, childAge int, theme string) (Story, error) {
	main, err := g.client.Complete(ctx, mainStoryPrompt(childName, childAge, theme))
	if err != nil {
		return Story{}, fmt.Errorf("generate story: %w", err)
	}

	conclusion, err := g.client.Complete(ctx, conclusionPrompt(childName, theme))
	if err != nil {
		return Story{}, fmt.Errorf("generate conclusion: %w", err)
	}

	return Story{
		Pages:      splitIntoPages(main),
		Conclusion: conclusion,
	}, nil
}

func mainStoryPrompt(childName string, childAge int, theme string) string {
	return fmt.Sprintf(
		"Écris une histoire pour enfant en %d parties courtes et simples. "+
			"L'histoire est pour %s, qui a %d ans. "+
			"Le thème est: %s. "+
			"L'histoire doit être adaptée à son âge, captivante et éducative. "+
			"Chaque partie doit faire environ 3-4 phrases. "+
			"L'histoire doit avoir un début, un développement et une fin. "+
			"Sépare chaque partie par une ligne vide.",
		storyPageCount, childName, childAge, theme,
	)
}

func conclusionPrompt(childName, theme string) string {
	return fmt.Sprintf(
		"Écris une courte conclusion positive et personnalisée pour %s "+
			"en lien avec le thème %s. La conclusion doit être encourageante "+
			"et faire 2-3 phrases maximum.",
		childName, theme,
	)
}

// splitIntoPages cuts the narrative on blank lines and caps it at the page
// count the layout supports.
func splitIntoPages(story string) []string {
	parts := strings.Split(story, "\n\n")
	pages := make([]string, 0, storyPageCount)
	for _, part := range parts {
		text := strings.TrimSpace(part)
		if text == "" {
			continue
		}
		pages = append(pages, text)
		if len(pages) == storyPageCount {
			break
		}
	}
	return pages
}
