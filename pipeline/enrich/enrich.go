// Package enrich rewrites product titles, descriptions and search tags with
// a language model.
package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jz-wilson/catalog-pricer/pipeline/catalog"
)

var (
	ErrEmptyCompletion = errors.New("empty completion")
	ErrMissingTitle    = errors.New("completion has no title_ar")
)

// Copy is the marketing copy the model returns for one product.
type Copy struct {
	Title       string   `json:"title_ar"`
	Description string   `json:"description_ar"`
	Tags        []string `json:"seo_tags_ar"`
}

// Apply attaches the copy to p.
func (c Copy) Apply(p *catalog.Product) {
	p.TitleAR = c.Title
	p.DescriptionAR = c.Description
	p.SEOTagsAR = c.Tags
}

// Enricher produces marketing copy for a product.
type Enricher interface {
	Enrich(ctx context.Context, p catalog.Product) (Copy, error)
}

// parseCopy decodes a completion into Copy. Models sometimes wrap the JSON in
// a fenced code block, which is unwrapped first.
func parseCopy(completion string) (Copy, error) {
	text := strings.TrimSpace(completion)
	if text == "" {
		return Copy{}, ErrEmptyCompletion
	}
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if nl := strings.IndexByte(text, '\n'); nl >= 0 {
			text = text[nl+1:]
		}
		text = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(text), "```"))
	}

	var c Copy
	if err := json.Unmarshal([]byte(text), &c); err != nil {
		return Copy{}, fmt.Errorf("completion is not the expected JSON: %w", err)
	}
	c.Title = strings.TrimSpace(c.Title)
	c.Description = strings.TrimSpace(c.Description)
	if c.Title == "" {
		return Copy{}, ErrMissingTitle
	}
	tags := c.Tags[:0]
	for _, tag := range c.Tags {
		if tag = strings.TrimSpace(tag); tag != "" {
			tags = append(tags, tag)
		}
	}
	c.Tags = tags
	return c, nil
}
