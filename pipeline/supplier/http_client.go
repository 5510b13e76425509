package supplier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/jz-wilson/catalog-pricer/pipeline/catalog"
)

// DefaultClientFactory creates production supplier clients.
// A single shared HTTP client is reused across suppliers for connection pooling.
type DefaultClientFactory struct {
	client *http.Client
}

func NewDefaultClientFactory() *DefaultClientFactory {
	return &DefaultClientFactory{
		client: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
	}
}

func (f *DefaultClientFactory) NewClient(s Settings) Client {
	return &HTTPClient{
		client:  f.client,
		name:    s.Name,
		baseURL: s.BaseURL,
		apiKey:  s.APIKey,
	}
}

// HTTPClient calls a supplier search REST API over HTTP.
type HTTPClient struct {
	client  *http.Client
	name    string
	baseURL string // overridable for tests
	apiKey  string
}

func (c *HTTPClient) Name() string {
	return c.name
}

// Search runs one search request and returns the listings tagged with the
// supplier name. Pagination is not followed.
func (c *HTTPClient) Search(ctx context.Context, q Query) ([]catalog.Product, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("%s: %w", c.name, ErrNotConfigured)
	}

	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing %s search URL: %w", c.name, err)
	}
	params := u.Query()
	for k, vs := range q.Values() {
		params[k] = vs
	}
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s products: %w", c.name, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(c.name, resp)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading %s response: %w", c.name, err)
	}

	products, skipped, err := decodeListings(body)
	if err != nil {
		return nil, fmt.Errorf("decoding %s response: %w", c.name, err)
	}
	if skipped > 0 {
		log.Warnf("Skipped %d unreadable listings [supplier=%s]", skipped, c.name)
	}

	for i := range products {
		products[i].Source = c.name
	}
	return products, nil
}

func statusError(name string, resp *http.Response) error {
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("%s API returned status %d: %s", name, resp.StatusCode, bytes.TrimSpace(body))
}

// envelopeKeys are the object keys suppliers wrap their result array in.
var envelopeKeys = []string{"products", "data", "items"}

// decodeListings accepts either a bare array or an object wrapping one.
func decodeListings(body []byte) ([]catalog.Product, int, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, 0, nil
	}
	if trimmed[0] == '[' {
		return catalog.Decode(trimmed)
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return nil, 0, err
	}
	for _, k := range envelopeKeys {
		if raw, ok := envelope[k]; ok {
			return decodeListings(raw)
		}
	}
	return nil, 0, fmt.Errorf("no product array in response (expected one of %v)", envelopeKeys)
}
