// Package generator defines the content-generation collaborator consumed by
// the lifecycle service.
package generator

import (
	"context"
	"fmt"
	"strings"

	"postpilot/internal/models"
)

// ContentGenerator turns a source content item into platform-ready text and
// hashtags. AI-backed implementations live outside this repository.
type ContentGenerator interface {
	Generate(ctx context.Context, item *models.ContentItem, platform models.Platform) (text string, hashtags []string, err error)
}

// TemplateGenerator is the deterministic fallback used when no external
// generator is configured. It renders the item's title and link with a short
// platform-appropriate framing.
type TemplateGenerator struct{}

// NewTemplateGenerator creates the fallback generator.
func NewTemplateGenerator() *TemplateGenerator {
	return &TemplateGenerator{}
}

// Generate renders a simple share text from the item.
func (g *TemplateGenerator) Generate(_ context.Context, item *models.ContentItem, platform models.Platform) (string, []string, error) {
	if item.Title == "" || item.URL == "" {
		return "", nil, models.NewGenerationError(platform, fmt.Errorf("content item %d missing title or url", item.ID))
	}

	var b strings.Builder
	switch platform {
	case models.PlatformTwitter:
		b.WriteString(item.Title)
		b.WriteString("\n")
		b.WriteString(item.URL)
	case models.PlatformLinkedIn:
		b.WriteString(item.Title)
		if item.Summary != "" {
			b.WriteString("\n\n")
			b.WriteString(item.Summary)
		}
		b.WriteString("\n\n")
		b.WriteString(item.URL)
	default:
		return "", nil, models.NewGenerationError(platform, fmt.Errorf("unsupported platform"))
	}

	return b.String(), hashtagsFor(item), nil
}

// hashtagsFor derives a small tag set from the item title.
func hashtagsFor(item *models.ContentItem) []string {
	var tags []string
	for _, word := range strings.Fields(item.Title) {
		word = strings.Trim(word, ".,:;!?\"'()")
		if len(word) < 4 || len(tags) >= 3 {
			continue
		}
		if strings.EqualFold(word, "with") || strings.EqualFold(word, "from") || strings.EqualFold(word, "this") || strings.EqualFold(word, "that") {
			continue
		}
		tags = append(tags, strings.ToLower(word))
	}
	return tags
}
