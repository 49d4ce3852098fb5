package source

import (
	"strings"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// profitAndROI derives the profitability fields the autopilot consumes. The
// orchestrator never recomputes these; the source is the single owner of the
// margin math so nothing downstream double-counts it.
func profitAndROI(cost, salePrice decimal.Decimal) (profit, roiPct decimal.Decimal) {
	profit = salePrice.Sub(cost)
	if cost.IsPositive() {
		roiPct = profit.Div(cost).Mul(hundred).Round(2)
	} else {
		roiPct = decimal.Zero
	}
	return profit, roiPct
}

// parsePrice extracts a decimal amount from scraped price text like
// "$12.99", "USD 7.50" or "1,299.00".
func parsePrice(text string) (decimal.Decimal, bool) {
	var b strings.Builder
	for _, r := range text {
		if (r >= '0' && r <= '9') || r == '.' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(b.String())
	if err != nil || !d.IsPositive() {
		return decimal.Zero, false
	}
	return d, true
}
