package interfaces

import (
	"context"

	"dropship-autopilot/internal/types"
)

// Autopilot is the control surface of the cycle orchestrator.
type Autopilot interface {
	Start() error
	Stop() error
	RunSingleCycle(ctx context.Context, query string) (*types.CycleResult, error)
	UpdateConfig(ctx context.Context, cfg types.CycleConfig) error
	Status() types.AutopilotStatus
	PerformanceReport(ctx context.Context) (types.PerformanceReport, error)
	PublishApproved(ctx context.Context, approvalID string) (*types.PublishAttempt, error)
}
