package sourceobs

import (
	"context"
	"time"

	"dropship-autopilot/internal/interfaces"
	"dropship-autopilot/internal/logger"
	"dropship-autopilot/internal/trace"
	"dropship-autopilot/internal/types"
)

type observableSource struct {
	source interfaces.OpportunitySource
}

var _ interfaces.OpportunitySource = (*observableSource)(nil)

func Wrap(src interfaces.OpportunitySource) interfaces.OpportunitySource {
	return &observableSource{source: src}
}

func (os *observableSource) Search(ctx context.Context, query string, maxItems int) ([]types.Opportunity, error) {
	ctx, span := trace.StartSpan(ctx, "source.Search")
	defer span.End()

	start := time.Now()

	opps, err := os.source.Search(ctx, query, maxItems)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Opportunity search failed", err,
			"query", query,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return nil, err
	}

	logger.InfoSkip(ctx, 1, "Opportunity search completed",
		"query", query,
		"opportunities", len(opps),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return opps, nil
}
