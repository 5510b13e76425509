// Package catalog holds the normalized product record shared by every
// pipeline stage, plus the helpers to read, filter and write it.
package catalog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/jz-wilson/catalog-pricer/pricing"
)

// Product is the universal record produced by all suppliers. Keys the
// pipeline does not know about are kept in Extra and written back as-is.
type Product struct {
	ExternalID       string
	Source           string
	Title            string
	Description      string
	Category         string
	Brand            string
	Images           []string
	Rating           float64
	Orders           float64
	SupplierPrice    float64
	SupplierShipping float64

	TitleAR       string
	DescriptionAR string
	SEOTagsAR     []string
	FinalPrice    *float64

	Extra map[string]json.RawMessage
}

// Suppliers name the same thing differently; the first key is the one we write.
var (
	keysExternalID  = []string{"external_id", "id", "product_id"}
	keysSource      = []string{"source"}
	keysTitle       = []string{"title_raw", "title"}
	keysDescription = []string{"desc_raw", "description"}
	keysCategory    = []string{"category"}
	keysBrand       = []string{"brand"}
	keysImages      = []string{"images", "image_urls", "image"}
	keysRating      = []string{"rating"}
	keysOrders      = []string{"orders", "order_count"}
	keysPrice       = []string{"supplier_price", "price"}
	keysShipping    = []string{"supplier_shipping", "shipping_cost", "shipping"}
	keysTitleAR     = []string{"title_ar"}
	keysDescAR      = []string{"description_ar"}
	keysTagsAR      = []string{"seo_tags_ar"}
	keysFinalPrice  = []string{"final_price"}
)

// Cost returns the supplier side of the product for pricing.
func (p Product) Cost() pricing.ProductCost {
	return pricing.ProductCost{SupplierPrice: p.SupplierPrice, SupplierShipping: p.SupplierShipping}
}

// Key identifies a product across suppliers.
func (p Product) Key() string {
	id := p.ExternalID
	if id == "" {
		id = p.Title
	}
	return p.Source + ":" + id
}

// Label is the identifier used in log lines.
func (p Product) Label() string {
	if p.ExternalID != "" {
		return p.ExternalID
	}
	return p.Title
}

// Enriched reports whether the language-model copy has been attached.
func (p Product) Enriched() bool {
	return p.TitleAR != "" || p.DescriptionAR != "" || len(p.SEOTagsAR) > 0
}

func (p *Product) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("product record is not a JSON object: %w", err)
	}
	if fields == nil {
		return fmt.Errorf("product record is null")
	}

	*p = Product{
		ExternalID:       takeString(fields, keysExternalID),
		Source:           takeString(fields, keysSource),
		Title:            takeString(fields, keysTitle),
		Description:      takeString(fields, keysDescription),
		Category:         takeString(fields, keysCategory),
		Brand:            takeString(fields, keysBrand),
		Images:           takeStrings(fields, keysImages),
		Rating:           takeNumber(fields, keysRating),
		Orders:           takeNumber(fields, keysOrders),
		SupplierPrice:    takeNumber(fields, keysPrice),
		SupplierShipping: takeNumber(fields, keysShipping),
		TitleAR:          takeString(fields, keysTitleAR),
		DescriptionAR:    takeString(fields, keysDescAR),
		SEOTagsAR:        takeStrings(fields, keysTagsAR),
	}
	if raw, ok := take(fields, keysFinalPrice); ok {
		if v, ok := parseNumber(raw); ok {
			p.FinalPrice = &v
		}
	}
	if len(fields) > 0 {
		p.Extra = fields
	}
	return nil
}

func (p Product) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(p.Extra)+16)
	for k, v := range p.Extra {
		out[k] = v
	}

	out["external_id"] = p.ExternalID
	out["source"] = p.Source
	out["title_raw"] = p.Title
	out["desc_raw"] = p.Description
	out["category"] = p.Category
	out["brand"] = p.Brand
	out["images"] = nonNil(p.Images)
	out["rating"] = p.Rating
	out["orders"] = p.Orders
	out["supplier_price"] = p.SupplierPrice
	out["supplier_shipping"] = p.SupplierShipping

	if p.Enriched() {
		out["title_ar"] = p.TitleAR
		out["description_ar"] = p.DescriptionAR
		out["seo_tags_ar"] = nonNil(p.SEOTagsAR)
	}
	if p.FinalPrice != nil {
		out["final_price"] = *p.FinalPrice
	}
	return json.Marshal(out)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// take removes every alias from fields and returns the first one present.
func take(fields map[string]json.RawMessage, keys []string) (json.RawMessage, bool) {
	var found json.RawMessage
	ok := false
	for _, k := range keys {
		raw, present := fields[k]
		if !present {
			continue
		}
		delete(fields, k)
		if !ok && !isNull(raw) {
			found, ok = raw, true
		}
	}
	return found, ok
}

func isNull(raw json.RawMessage) bool {
	return len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func takeString(fields map[string]json.RawMessage, keys []string) string {
	raw, ok := take(fields, keys)
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	// numeric ids are common
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

func takeStrings(fields map[string]json.RawMessage, keys []string) []string {
	raw, ok := take(fields, keys)
	if !ok {
		return nil
	}
	var list []any
	if err := json.Unmarshal(raw, &list); err != nil {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil && strings.TrimSpace(s) != "" {
			return []string{strings.TrimSpace(s)}
		}
		return nil
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
			out = append(out, strings.TrimSpace(s))
		}
	}
	return out
}

// takeNumber treats missing, null and non-numeric values as 0.
func takeNumber(fields map[string]json.RawMessage, keys []string) float64 {
	raw, ok := take(fields, keys)
	if !ok {
		return 0
	}
	v, _ := parseNumber(raw)
	return v
}

func parseNumber(raw json.RawMessage) (float64, bool) {
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, false
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
