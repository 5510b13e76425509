package enrich

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jz-wilson/catalog-pricer/pipeline/catalog"
)

// mockEnricher implements Enricher for testing.
type mockEnricher struct {
	EnrichFn func(ctx context.Context, p catalog.Product) (Copy, error)
	calls    int
}

func (m *mockEnricher) Enrich(ctx context.Context, p catalog.Product) (Copy, error) {
	m.calls++
	return m.EnrichFn(ctx, p)
}

// mapCache implements Cache in memory.
type mapCache struct {
	items  map[string]Copy
	getErr error
	setErr error
}

func (m *mapCache) Get(ctx context.Context, key string) (Copy, bool, error) {
	if m.getErr != nil {
		return Copy{}, false, m.getErr
	}
	c, ok := m.items[key]
	return c, ok, nil
}

func (m *mapCache) Set(ctx context.Context, key string, c Copy) error {
	if m.setErr != nil {
		return m.setErr
	}
	if m.items == nil {
		m.items = map[string]Copy{}
	}
	m.items[key] = c
	return nil
}

// mockRedisClient implements redisClient for testing.
type mockRedisClient struct {
	GetFn func(ctx context.Context, key string) *redis.StringCmd
	SetFn func(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

func (m *mockRedisClient) Get(ctx context.Context, key string) *redis.StringCmd {
	return m.GetFn(ctx, key)
}

func (m *mockRedisClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	return m.SetFn(ctx, key, value, expiration)
}
