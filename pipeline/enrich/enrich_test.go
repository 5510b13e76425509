package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/redis/go-redis/v9"

	"github.com/jz-wilson/catalog-pricer/pipeline/catalog"
)

func chatServer(t *testing.T, status int, content string, inspect func(r *http.Request, body chatRequest)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var body chatRequest
		if err := json.Unmarshal(raw, &body); err != nil {
			t.Errorf("request body is not a chat request: %v", err)
		}
		if inspect != nil {
			inspect(r, body)
		}
		w.WriteHeader(status)
		if status != http.StatusOK {
			w.Write([]byte(content))
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": content}},
			},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testSettings(srv *httptest.Server) Settings {
	s := DefaultSettings()
	s.APIKey = "sk-test"
	s.BaseURL = srv.URL + "/v1"
	return s
}

func TestOpenAIClient_Enrich(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody chatRequest
	srv := chatServer(t, http.StatusOK,
		`{"title_ar": "ساعة أنيقة", "description_ar": "✅ مقاومة للماء", "seo_tags_ar": ["ساعة", " ", "هدية"]}`,
		func(r *http.Request, body chatRequest) {
			gotPath = r.URL.Path
			gotAuth = r.Header.Get("Authorization")
			gotBody = body
		})

	client := NewOpenAIClient(testSettings(srv), srv.Client())
	c, err := client.Enrich(context.Background(), catalog.Product{Title: "Watch", Category: "watches", Brand: "Acme"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Title != "ساعة أنيقة" {
		t.Errorf("unexpected title %q", c.Title)
	}
	if len(c.Tags) != 2 {
		t.Errorf("expected blank tags dropped, got %v", c.Tags)
	}
	if gotPath != "/v1/chat/completions" {
		t.Errorf("unexpected path %q", gotPath)
	}
	if gotAuth != "Bearer sk-test" {
		t.Errorf("unexpected auth header %q", gotAuth)
	}
	if gotBody.Model != DefaultModel || gotBody.Temperature != DefaultTemperature || gotBody.MaxTokens != DefaultMaxTokens {
		t.Errorf("unexpected model parameters: %+v", gotBody)
	}
	if len(gotBody.Messages) != 2 || gotBody.Messages[0].Role != "system" || gotBody.Messages[1].Role != "user" {
		t.Fatalf("unexpected messages: %+v", gotBody.Messages)
	}
	if !strings.Contains(gotBody.Messages[1].Content, "Watch") {
		t.Errorf("expected product title in user prompt")
	}
}

func TestOpenAIClient_ErrorStatus(t *testing.T) {
	srv := chatServer(t, http.StatusTooManyRequests, `{"error": "rate limited"}`, nil)

	_, err := NewOpenAIClient(testSettings(srv), srv.Client()).Enrich(context.Background(), catalog.Product{})
	if err == nil {
		t.Fatal("expected error on 429")
	}
	if !strings.Contains(err.Error(), "429") || !strings.Contains(err.Error(), "rate limited") {
		t.Errorf("expected status and body in error, got %v", err)
	}
}

func TestOpenAIClient_InvalidJSONCompletion(t *testing.T) {
	srv := chatServer(t, http.StatusOK, "عذراً، لا أستطيع", nil)

	_, err := NewOpenAIClient(testSettings(srv), srv.Client()).Enrich(context.Background(), catalog.Product{})
	if err == nil {
		t.Fatal("expected error for non-JSON completion")
	}
}

func TestOpenAIClient_MissingKey(t *testing.T) {
	client := NewOpenAIClient(Settings{}, nil)
	if _, err := client.Enrich(context.Background(), catalog.Product{}); err == nil {
		t.Fatal("expected error without api key")
	}
}

func TestParseCopy(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		title   string
		wantErr error
	}{
		{name: "plain", in: `{"title_ar": "عنوان"}`, title: "عنوان"},
		{name: "fenced", in: "```json\n{\"title_ar\": \"عنوان\"}\n```", title: "عنوان"},
		{name: "fenced no lang", in: "```\n{\"title_ar\": \"عنوان\"}```", title: "عنوان"},
		{name: "empty", in: "  ", wantErr: ErrEmptyCompletion},
		{name: "no title", in: `{"description_ar": "وصف"}`, wantErr: ErrMissingTitle},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := parseCopy(tt.in)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if c.Title != tt.title {
				t.Errorf("expected title %q, got %q", tt.title, c.Title)
			}
		})
	}
}

func TestBuildUserPrompt_TruncatesDescription(t *testing.T) {
	long := strings.Repeat("ب", 2000)
	prompt := BuildUserPrompt(catalog.Product{Description: long})
	if strings.Contains(prompt, strings.Repeat("ب", maxDescriptionRunes+1)) {
		t.Error("expected description to be truncated")
	}
	if !strings.Contains(prompt, strings.Repeat("ب", maxDescriptionRunes)) {
		t.Error("expected the first runes of the description to be kept")
	}
	if !utf8.ValidString(prompt) {
		t.Error("expected valid UTF-8 after truncation")
	}
}

func TestCopy_Apply(t *testing.T) {
	var p catalog.Product
	Copy{Title: "t", Description: "d", Tags: []string{"x"}}.Apply(&p)
	if !p.Enriched() || p.TitleAR != "t" || p.DescriptionAR != "d" || len(p.SEOTagsAR) != 1 {
		t.Errorf("unexpected product after apply: %+v", p)
	}
}

func TestCachedEnricher_HitSkipsNext(t *testing.T) {
	next := &mockEnricher{EnrichFn: func(ctx context.Context, p catalog.Product) (Copy, error) {
		return Copy{Title: "fresh"}, nil
	}}
	cache := &mapCache{}
	e := NewCachedEnricher(next, cache, "gpt-4o-mini")
	p := catalog.Product{ExternalID: "1", Title: "Bag"}

	for i := 0; i < 3; i++ {
		c, err := e.Enrich(context.Background(), p)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if c.Title != "fresh" {
			t.Errorf("unexpected title %q", c.Title)
		}
	}
	if next.calls != 1 {
		t.Errorf("expected one upstream call, got %d", next.calls)
	}
}

func TestCachedEnricher_CacheErrorsAreNotFatal(t *testing.T) {
	next := &mockEnricher{EnrichFn: func(ctx context.Context, p catalog.Product) (Copy, error) {
		return Copy{Title: "fresh"}, nil
	}}
	cache := &mapCache{getErr: errors.New("conn refused"), setErr: errors.New("conn refused")}

	c, err := NewCachedEnricher(next, cache, "m").Enrich(context.Background(), catalog.Product{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Title != "fresh" {
		t.Errorf("unexpected title %q", c.Title)
	}
}

func TestCachedEnricher_UpstreamErrorNotCached(t *testing.T) {
	next := &mockEnricher{EnrichFn: func(ctx context.Context, p catalog.Product) (Copy, error) {
		return Copy{}, errors.New("boom")
	}}
	cache := &mapCache{}
	if _, err := NewCachedEnricher(next, cache, "m").Enrich(context.Background(), catalog.Product{}); err == nil {
		t.Fatal("expected upstream error")
	}
	if len(cache.items) != 0 {
		t.Errorf("expected nothing cached, got %v", cache.items)
	}
}

func TestCacheKey(t *testing.T) {
	a := catalog.Product{Title: "Bag"}
	b := catalog.Product{Title: "Shoes"}
	if CacheKey("m", a) == CacheKey("m", b) {
		t.Error("expected different products to get different keys")
	}
	if CacheKey("m1", a) == CacheKey("m2", a) {
		t.Error("expected namespace to change the key")
	}
	if !strings.HasPrefix(CacheKey("m", a), "catalog:enrich:") {
		t.Errorf("unexpected key prefix: %s", CacheKey("m", a))
	}
}

func TestRedisCache_GetMiss(t *testing.T) {
	client := &mockRedisClient{GetFn: func(ctx context.Context, key string) *redis.StringCmd {
		return redis.NewStringResult("", redis.Nil)
	}}
	_, ok, err := NewRedisCache(client, 0).Get(context.Background(), "k")
	if err != nil || ok {
		t.Errorf("expected clean miss, got ok=%v err=%v", ok, err)
	}
}

func TestRedisCache_GetHit(t *testing.T) {
	client := &mockRedisClient{GetFn: func(ctx context.Context, key string) *redis.StringCmd {
		return redis.NewStringResult(`{"title_ar":"عنوان","seo_tags_ar":["a"]}`, nil)
	}}
	c, ok, err := NewRedisCache(client, 0).Get(context.Background(), "k")
	if err != nil || !ok {
		t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
	}
	if c.Title != "عنوان" || len(c.Tags) != 1 {
		t.Errorf("unexpected copy: %+v", c)
	}
}

func TestRedisCache_GetError(t *testing.T) {
	client := &mockRedisClient{GetFn: func(ctx context.Context, key string) *redis.StringCmd {
		return redis.NewStringResult("", errors.New("i/o timeout"))
	}}
	if _, _, err := NewRedisCache(client, 0).Get(context.Background(), "k"); err == nil {
		t.Fatal("expected error")
	}
}

func TestRedisCache_SetUsesTTL(t *testing.T) {
	var gotTTL time.Duration
	var gotValue string
	client := &mockRedisClient{SetFn: func(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
		gotTTL = expiration
		gotValue = string(value.([]byte))
		return redis.NewStatusResult("OK", nil)
	}}
	if err := NewRedisCache(client, time.Hour).Set(context.Background(), "k", Copy{Title: "t"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotTTL != time.Hour {
		t.Errorf("expected 1h ttl, got %v", gotTTL)
	}
	if !strings.Contains(gotValue, `"title_ar":"t"`) {
		t.Errorf("unexpected stored value %s", gotValue)
	}
}

func TestNewRedisCache_DefaultTTL(t *testing.T) {
	if c := NewRedisCache(&mockRedisClient{}, 0); c.ttl != DefaultTTL {
		t.Errorf("expected default ttl, got %v", c.ttl)
	}
}
