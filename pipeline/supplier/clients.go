package supplier

import (
	"context"

	"github.com/jz-wilson/catalog-pricer/pipeline/catalog"
)

// Client searches one supplier's catalog.
type Client interface {
	Name() string
	Search(ctx context.Context, q Query) ([]catalog.Product, error)
}

// ClientFactory creates supplier clients, enabling dependency injection for testing.
type ClientFactory interface {
	NewClient(s Settings) Client
}
