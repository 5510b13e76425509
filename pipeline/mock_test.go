package pipeline

import (
	"context"
	"sync"

	"github.com/jz-wilson/catalog-pricer/pipeline/catalog"
	"github.com/jz-wilson/catalog-pricer/pipeline/enrich"
	"github.com/jz-wilson/catalog-pricer/pipeline/supplier"
)

// mockClient implements supplier.Client for testing.
type mockClient struct {
	name     string
	SearchFn func(ctx context.Context, q supplier.Query) ([]catalog.Product, error)
}

func (m *mockClient) Name() string { return m.name }

func (m *mockClient) Search(ctx context.Context, q supplier.Query) ([]catalog.Product, error) {
	return m.SearchFn(ctx, q)
}

// mockClientFactory implements supplier.ClientFactory for testing.
type mockClientFactory struct {
	clients map[string]*mockClient
}

func (f *mockClientFactory) NewClient(s supplier.Settings) supplier.Client {
	return f.clients[s.Name]
}

// mockEnricher implements enrich.Enricher for testing.
type mockEnricher struct {
	EnrichFn func(ctx context.Context, p catalog.Product) (enrich.Copy, error)
}

func (m *mockEnricher) Enrich(ctx context.Context, p catalog.Product) (enrich.Copy, error) {
	return m.EnrichFn(ctx, p)
}

// mockSink implements sink.Sink for testing.
type mockSink struct {
	name    string
	WriteFn func(ctx context.Context, run catalog.Run, products []catalog.Product) error

	mu      sync.Mutex
	runs    []catalog.Run
	written [][]catalog.Product
	closed  bool
}

func (m *mockSink) Name() string { return m.name }

func (m *mockSink) Write(ctx context.Context, run catalog.Run, products []catalog.Product) error {
	m.mu.Lock()
	m.runs = append(m.runs, run)
	m.written = append(m.written, products)
	m.mu.Unlock()
	if m.WriteFn != nil {
		return m.WriteFn(ctx, run, products)
	}
	return nil
}

func (m *mockSink) Close() error {
	m.closed = true
	return nil
}
