package enrich

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/jz-wilson/catalog-pricer/pipeline/catalog"
)

const (
	keyPrefix  = "catalog:enrich:"
	DefaultTTL = 30 * 24 * time.Hour
)

// Cache stores marketing copy by prompt key.
type Cache interface {
	Get(ctx context.Context, key string) (Copy, bool, error)
	Set(ctx context.Context, key string, c Copy) error
}

// CachedEnricher serves copy from the cache and falls back to next on a miss.
// Cache failures are logged and never fail the enrichment itself.
type CachedEnricher struct {
	next      Enricher
	cache     Cache
	namespace string
}

// NewCachedEnricher wraps next. The namespace (usually the model name) is part
// of every key so switching models does not serve stale copy.
func NewCachedEnricher(next Enricher, cache Cache, namespace string) *CachedEnricher {
	return &CachedEnricher{next: next, cache: cache, namespace: namespace}
}

func (e *CachedEnricher) Enrich(ctx context.Context, p catalog.Product) (Copy, error) {
	key := CacheKey(e.namespace, p)

	c, ok, err := e.cache.Get(ctx, key)
	if err != nil {
		log.WithError(err).Warnf("enrichment cache read failed [id=%s]", p.Label())
	} else if ok {
		log.Debugf("enrichment cache hit [id=%s]", p.Label())
		return c, nil
	}

	c, err = e.next.Enrich(ctx, p)
	if err != nil {
		return Copy{}, err
	}
	if err := e.cache.Set(ctx, key, c); err != nil {
		log.WithError(err).Warnf("enrichment cache write failed [id=%s]", p.Label())
	}
	return c, nil
}

// CacheKey hashes everything that shapes the completion.
func CacheKey(namespace string, p catalog.Product) string {
	h := sha256.New()
	h.Write([]byte(strings.Join([]string{namespace, SystemPrompt, BuildUserPrompt(p)}, "\x00")))
	return keyPrefix + hex.EncodeToString(h.Sum(nil))
}

// redisClient is the subset of *redis.Client used by RedisCache.
type redisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// RedisCache keeps copy as JSON strings with a TTL.
type RedisCache struct {
	client redisClient
	ttl    time.Duration
}

func NewRedisCache(client redisClient, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisCache{client: client, ttl: ttl}
}

func (r *RedisCache) Get(ctx context.Context, key string) (Copy, bool, error) {
	val, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return Copy{}, false, nil
	}
	if err != nil {
		return Copy{}, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	var c Copy
	if err := json.Unmarshal([]byte(val), &c); err != nil {
		return Copy{}, false, fmt.Errorf("decoding cached copy: %w", err)
	}
	return c, true, nil
}

func (r *RedisCache) Set(ctx context.Context, key string, c Copy) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding copy: %w", err)
	}
	if err := r.client.Set(ctx, key, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Connect initializes a Redis client from URL or host:port input and pings it.
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	var client *redis.Client
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client = redis.NewClient(opt)
	} else {
		client = redis.NewClient(&redis.Options{Addr: redisURL})
	}
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", redisURL, err)
	}
	return client, nil
}
