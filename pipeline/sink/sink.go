// Package sink persists priced products for downstream catalog ingestion.
package sink

import (
	"context"

	"github.com/jz-wilson/catalog-pricer/pipeline/catalog"
)

// Sink receives the priced products of one run.
type Sink interface {
	Name() string
	Write(ctx context.Context, run catalog.Run, products []catalog.Product) error
	Close() error
}

// JSONFileSink writes the products as an indented JSON array.
type JSONFileSink struct {
	Path string
}

func NewJSONFileSink(path string) *JSONFileSink {
	return &JSONFileSink{Path: path}
}

func (s *JSONFileSink) Name() string { return "json" }

func (s *JSONFileSink) Write(_ context.Context, _ catalog.Run, products []catalog.Product) error {
	return catalog.WriteFile(s.Path, products)
}

func (s *JSONFileSink) Close() error { return nil }
