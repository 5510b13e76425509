// Package supplier fetches product listings from the dropshipping suppliers'
// search APIs.
package supplier

import (
	"errors"
	"net/url"
	"strconv"
	"strings"
)

const (
	AutoDrop = "autodrop"
	Makhazen = "makhazen"

	DefaultAutoDropURL = "https://api.autodrop.ai/v1/aliexpress/search"
	DefaultMakhazenURL = "https://api.makhazen.sa/v1/products/search"

	DefaultSort   = "orders_desc"
	DefaultLimit  = 50
	DefaultMarket = "sa"
)

// ErrNotConfigured is returned by Search when the supplier has no API key.
var ErrNotConfigured = errors.New("supplier api key not set")

// DefaultCategories is the storefront's launch assortment.
var DefaultCategories = []string{
	"men_tshirts", "women_abaya", "men_pants", "men_shirts", "shoes", "glasses",
	"watches", "bags", "beauty_serums", "beauty_cleansers", "moisturizers",
	"hair_care", "makeup_powder", "makeup_lipstick", "makeup_mascara",
}

// Settings describes one supplier endpoint.
type Settings struct {
	Name      string
	BaseURL   string
	APIKey    string
	MinOrders int
	Enabled   bool
}

// DefaultSettings returns the built-in settings for a known supplier name.
func DefaultSettings(name string) Settings {
	switch name {
	case AutoDrop:
		return Settings{Name: AutoDrop, BaseURL: DefaultAutoDropURL, MinOrders: 100, Enabled: true}
	case Makhazen:
		return Settings{Name: Makhazen, BaseURL: DefaultMakhazenURL, MinOrders: 50, Enabled: true}
	}
	return Settings{Name: name, Enabled: true}
}

// Query holds the search parameters sent to a supplier.
type Query struct {
	Categories []string
	Sort       string
	MinRating  float64
	MinOrders  int
	Limit      int
	Market     string
}

// Values encodes the query as URL parameters.
func (q Query) Values() url.Values {
	v := url.Values{}
	if len(q.Categories) > 0 {
		v.Set("categories", strings.Join(q.Categories, ","))
	}
	if q.Sort != "" {
		v.Set("sort", q.Sort)
	}
	if q.MinRating > 0 {
		v.Set("min_rating", strconv.FormatFloat(q.MinRating, 'f', -1, 64))
	}
	if q.MinOrders > 0 {
		v.Set("min_orders", strconv.Itoa(q.MinOrders))
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Market != "" {
		v.Set("market", q.Market)
	}
	return v
}
