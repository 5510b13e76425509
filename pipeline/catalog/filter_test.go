package catalog

import "testing"

func TestFilter_Reject(t *testing.T) {
	f := Filter{MinRating: 4.6, MinOrders: 50, Categories: []string{"shoes", "Watches"}, RequireImages: true}
	good := Product{Rating: 4.6, Orders: 50, Category: "watches", Images: []string{"a.jpg"}}

	tests := []struct {
		name   string
		mutate func(p *Product)
		reason string
	}{
		{name: "passes on thresholds", mutate: func(p *Product) {}, reason: ""},
		{name: "low rating", mutate: func(p *Product) { p.Rating = 4.59 }, reason: RejectRating},
		{name: "few orders", mutate: func(p *Product) { p.Orders = 49 }, reason: RejectOrders},
		{name: "other category", mutate: func(p *Product) { p.Category = "bags" }, reason: RejectCategory},
		{name: "no images", mutate: func(p *Product) { p.Images = nil }, reason: RejectImages},
		{name: "rating checked first", mutate: func(p *Product) { p.Rating = 1; p.Orders = 0 }, reason: RejectRating},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := good
			tt.mutate(&p)
			if got := f.Reject(p); got != tt.reason {
				t.Errorf("expected reason %q, got %q", tt.reason, got)
			}
		})
	}
}

func TestFilter_EmptyCategoriesAcceptsAll(t *testing.T) {
	f := DefaultFilter()
	p := Product{Rating: 5, Orders: 1000, Category: "anything"}
	if got := f.Reject(p); got != "" {
		t.Errorf("expected product to pass, got %q", got)
	}
}

func TestFilter_ApplyKeepsOrderAndCounts(t *testing.T) {
	products := []Product{
		{ExternalID: "1", Rating: 4.9, Orders: 500},
		{ExternalID: "2", Rating: 3.0, Orders: 500},
		{ExternalID: "3", Rating: 4.7, Orders: 10},
		{ExternalID: "4", Rating: 4.6, Orders: 50},
		{ExternalID: "5"},
	}
	kept, rejected := DefaultFilter().Apply(products)
	if len(kept) != 2 || kept[0].ExternalID != "1" || kept[1].ExternalID != "4" {
		t.Fatalf("unexpected kept products: %+v", kept)
	}
	if rejected[RejectRating] != 2 || rejected[RejectOrders] != 1 {
		t.Errorf("unexpected rejection counts: %v", rejected)
	}
}

func TestDedupe(t *testing.T) {
	products := []Product{
		{ExternalID: "1", Source: "autodrop"},
		{ExternalID: "1", Source: "makhazen"},
		{ExternalID: "1", Source: "autodrop", Title: "dup"},
		{ExternalID: "2", Source: "autodrop"},
	}
	out, dropped := Dedupe(products)
	if dropped != 1 || len(out) != 3 {
		t.Fatalf("expected 3 kept and 1 dropped, got %d/%d", len(out), dropped)
	}
	if out[0].Title != "" {
		t.Error("expected the first occurrence to be kept")
	}
}

func TestContainsFold(t *testing.T) {
	if !ContainsFold([]string{"Shoes"}, "shoes") {
		t.Error("expected case-insensitive match")
	}
	if ContainsFold(nil, "shoes") {
		t.Error("expected no match on empty list")
	}
}
