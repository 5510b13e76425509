package catalog

import (
	"strings"

	log "github.com/sirupsen/logrus"
)

// Rejection reasons reported by Filter.Apply.
const (
	RejectRating   = "rating"
	RejectOrders   = "orders"
	RejectCategory = "category"
	RejectImages   = "images"
)

const (
	DefaultMinRating = 4.6
	DefaultMinOrders = 50
)

// Filter holds the quality thresholds a listing must meet to be imported.
// An empty Categories list accepts every category.
type Filter struct {
	MinRating     float64
	MinOrders     float64
	Categories    []string
	RequireImages bool
}

// DefaultFilter returns the thresholds used when nothing is configured.
func DefaultFilter() Filter {
	return Filter{MinRating: DefaultMinRating, MinOrders: DefaultMinOrders}
}

// Reject returns the first threshold p fails, or "" if it passes.
func (f Filter) Reject(p Product) string {
	if p.Rating < f.MinRating {
		return RejectRating
	}
	if p.Orders < f.MinOrders {
		return RejectOrders
	}
	if len(f.Categories) > 0 && !ContainsFold(f.Categories, p.Category) {
		return RejectCategory
	}
	if f.RequireImages && len(p.Images) == 0 {
		return RejectImages
	}
	return ""
}

// Apply keeps the products that pass every threshold, in order, and counts
// the rejected ones per reason.
func (f Filter) Apply(products []Product) ([]Product, map[string]int) {
	kept := make([]Product, 0, len(products))
	rejected := map[string]int{}
	for _, p := range products {
		if reason := f.Reject(p); reason != "" {
			log.Debugf("Skipping product [id=%s, source=%s, reason=%s]", p.Label(), p.Source, reason)
			rejected[reason]++
			continue
		}
		kept = append(kept, p)
	}
	return kept, rejected
}

// Dedupe drops products whose Key was already seen, keeping the first.
func Dedupe(products []Product) ([]Product, int) {
	seen := make(map[string]struct{}, len(products))
	out := products[:0:0]
	for _, p := range products {
		k := p.Key()
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, p)
	}
	return out, len(products) - len(out)
}

// ContainsFold reports whether v is present in elems, ignoring case.
func ContainsFold(elems []string, v string) bool {
	for _, s := range elems {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}
