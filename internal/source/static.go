package source

import (
	"context"
	"fmt"
	"hash/fnv"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"dropship-autopilot/internal/interfaces"
	"dropship-autopilot/internal/types"
)

// StaticSource produces deterministic opportunities for a query without any
// network access. Used in STATIC source mode for development and testing,
// mirroring the LIVE scraper's output shape.
type StaticSource struct{}

var _ interfaces.OpportunitySource = (*StaticSource)(nil)

func NewStaticSource() *StaticSource {
	return &StaticSource{}
}

// Search returns up to maxItems synthetic opportunities derived from the
// query text. Costs, margins and confidence vary per item so gate and
// capital paths all get exercised.
func (s *StaticSource) Search(ctx context.Context, query string, maxItems int) ([]types.Opportunity, error) {
	if maxItems <= 0 {
		return nil, nil
	}

	h := fnv.New32a()
	_, _ = h.Write([]byte(query))
	seed := h.Sum32()

	opps := make([]types.Opportunity, 0, maxItems)
	for i := 0; i < maxItems; i++ {
		// Cost cycles through 8.00..98.00; margin through 10%..80%.
		costCents := int64(800 + (int(seed)+i*1700)%9000)
		marginPct := int64(10 + (int(seed>>8)+i*13)%70)

		cost := decimal.NewFromInt(costCents).Div(hundred)
		price := cost.Mul(decimal.NewFromInt(100 + marginPct)).Div(hundred).Round(2)
		profit, roi := profitAndROI(cost, price)

		opps = append(opps, types.Opportunity{
			ID:                 uuid.NewString(),
			Title:              fmt.Sprintf("%s item %d", query, i+1),
			SourceURL:          fmt.Sprintf("https://static.supplier.test/%s/%d", query, i+1),
			EstimatedCost:      cost,
			EstimatedSalePrice: price,
			EstimatedProfit:    profit,
			ROIPct:             roi,
			ConfidenceScore:    0.5 + float64((int(seed)+i*31)%50)/100.0,
		})
	}
	return opps, nil
}
