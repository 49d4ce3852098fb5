package interfaces

import (
	"context"

	"dropship-autopilot/internal/types"
)

// OpportunitySource returns candidate opportunities for a search query. The
// autopilot trusts the source's cost/price/ROI fields as-is.
type OpportunitySource interface {
	Search(ctx context.Context, query string, maxItems int) ([]types.Opportunity, error)
}
