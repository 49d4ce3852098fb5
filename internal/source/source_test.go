package source

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
)

func TestParsePrice(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"$12.99", "12.99", true},
		{"USD 7.50", "7.50", true},
		{"1,299.00", "1299.00", true},
		{"  $5  ", "5", true},
		{"free", "", false},
		{"", "", false},
		{"$0.00", "", false},
	}

	for _, c := range cases {
		got, ok := parsePrice(c.in)
		if ok != c.ok {
			t.Errorf("parsePrice(%q): expected ok=%v, got %v", c.in, c.ok, ok)
			continue
		}
		if ok && !got.Equal(decimal.RequireFromString(c.want)) {
			t.Errorf("parsePrice(%q): expected %s, got %s", c.in, c.want, got)
		}
	}
}

func TestProfitAndROI(t *testing.T) {
	profit, roi := profitAndROI(decimal.RequireFromString("10.00"), decimal.RequireFromString("16.00"))
	if !profit.Equal(decimal.RequireFromString("6.00")) {
		t.Errorf("Expected profit 6.00, got %s", profit)
	}
	if !roi.Equal(decimal.RequireFromString("60")) {
		t.Errorf("Expected ROI 60, got %s", roi)
	}

	// Zero cost never divides.
	_, roi = profitAndROI(decimal.Zero, decimal.RequireFromString("5.00"))
	if !roi.Equal(decimal.Zero) {
		t.Errorf("Expected ROI 0 for zero cost, got %s", roi)
	}
}

func TestStaticSourceDeterministicShape(t *testing.T) {
	ctx := context.Background()
	src := NewStaticSource()

	opps, err := src.Search(ctx, "wireless earbuds", 5)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(opps) != 5 {
		t.Fatalf("Expected 5 opportunities, got %d", len(opps))
	}

	for i, o := range opps {
		if o.ID == "" || o.Title == "" || o.SourceURL == "" {
			t.Errorf("Opportunity %d has empty identity fields: %+v", i, o)
		}
		if !o.EstimatedCost.IsPositive() {
			t.Errorf("Opportunity %d has non-positive cost %s", i, o.EstimatedCost)
		}
		if !o.EstimatedSalePrice.GreaterThan(o.EstimatedCost) {
			t.Errorf("Opportunity %d sale price %s not above cost %s", i, o.EstimatedSalePrice, o.EstimatedCost)
		}
		wantProfit := o.EstimatedSalePrice.Sub(o.EstimatedCost)
		if !o.EstimatedProfit.Equal(wantProfit) {
			t.Errorf("Opportunity %d profit %s != price-cost %s", i, o.EstimatedProfit, wantProfit)
		}
		if o.ConfidenceScore < 0.5 || o.ConfidenceScore > 1.0 {
			t.Errorf("Opportunity %d confidence %f out of range", i, o.ConfidenceScore)
		}
	}

	// Same query, same prices; identities are fresh per call.
	again, _ := src.Search(ctx, "wireless earbuds", 5)
	for i := range opps {
		if !opps[i].EstimatedCost.Equal(again[i].EstimatedCost) {
			t.Errorf("Expected deterministic cost for item %d", i)
		}
		if opps[i].ID == again[i].ID {
			t.Errorf("Expected fresh opportunity ids per search, item %d reused", i)
		}
	}
}

func TestStaticSourceZeroMax(t *testing.T) {
	opps, err := NewStaticSource().Search(context.Background(), "anything", 0)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(opps) != 0 {
		t.Errorf("Expected no opportunities for maxItems=0, got %d", len(opps))
	}
}
