package publishobs

import (
	"context"
	"time"

	"dropship-autopilot/internal/interfaces"
	"dropship-autopilot/internal/logger"
	"dropship-autopilot/internal/trace"
	"dropship-autopilot/internal/types"
)

type observableGateway struct {
	gateway interfaces.PublishGateway
}

var _ interfaces.PublishGateway = (*observableGateway)(nil)

func Wrap(gw interfaces.PublishGateway) interfaces.PublishGateway {
	return &observableGateway{gateway: gw}
}

func (og *observableGateway) Publish(ctx context.Context, opp types.Opportunity, creds types.ResolvedCredentials) (types.PublishAttempt, error) {
	ctx, span := trace.StartSpan(ctx, "publish.Publish")
	defer span.End()

	start := time.Now()

	attempt, err := og.gateway.Publish(ctx, opp, creds)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Publish attempt failed", err,
			"opportunity_id", opp.ID,
			"environment", string(creds.Environment),
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return attempt, err
	}

	logger.InfoSkip(ctx, 1, "Publish attempt completed",
		"opportunity_id", opp.ID,
		"environment", string(creds.Environment),
		"listing_id", attempt.ListingID,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return attempt, nil
}
