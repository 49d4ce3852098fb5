package pilotobs

import (
	"context"
	"time"

	"dropship-autopilot/internal/interfaces"
	"dropship-autopilot/internal/logger"
	"dropship-autopilot/internal/trace"
	"dropship-autopilot/internal/types"
)

type observablePilot struct {
	pilot interfaces.Autopilot
}

var _ interfaces.Autopilot = (*observablePilot)(nil)

func Wrap(p interfaces.Autopilot) interfaces.Autopilot {
	return &observablePilot{pilot: p}
}

func (op *observablePilot) Start() error {
	return op.pilot.Start()
}

func (op *observablePilot) Stop() error {
	return op.pilot.Stop()
}

func (op *observablePilot) RunSingleCycle(ctx context.Context, query string) (*types.CycleResult, error) {
	ctx, span := trace.StartSpan(ctx, "pilot.RunSingleCycle")
	defer span.End()

	start := time.Now()
	logger.InfoSkip(ctx, 1, "Starting manual cycle", "query", query)

	res, err := op.pilot.RunSingleCycle(ctx, query)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Manual cycle failed", err,
			"query", query,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return nil, err
	}

	if res != nil {
		logger.InfoSkip(ctx, 1, "Manual cycle completed",
			"query", res.Query,
			"success", res.Success,
			"published", res.ProductsPublished,
			"queued", res.ProductsQueued,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
	return res, nil
}

func (op *observablePilot) UpdateConfig(ctx context.Context, cfg types.CycleConfig) error {
	ctx, span := trace.StartSpan(ctx, "pilot.UpdateConfig")
	defer span.End()
	return op.pilot.UpdateConfig(ctx, cfg)
}

func (op *observablePilot) Status() types.AutopilotStatus {
	return op.pilot.Status()
}

func (op *observablePilot) PerformanceReport(ctx context.Context) (types.PerformanceReport, error) {
	return op.pilot.PerformanceReport(ctx)
}

func (op *observablePilot) PublishApproved(ctx context.Context, approvalID string) (*types.PublishAttempt, error) {
	ctx, span := trace.StartSpan(ctx, "pilot.PublishApproved")
	defer span.End()

	start := time.Now()
	attempt, err := op.pilot.PublishApproved(ctx, approvalID)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Approved publish failed", err,
			"approval_id", approvalID,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return nil, err
	}

	logger.InfoSkip(ctx, 1, "Approved publish completed",
		"approval_id", approvalID,
		"listing_id", attempt.ListingID,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return attempt, nil
}
