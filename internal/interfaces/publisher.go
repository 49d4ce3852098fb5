package interfaces

import (
	"context"

	"dropship-autopilot/internal/types"
)

// PublishGateway performs the marketplace listing call. A non-success attempt
// is final for the cycle; retry policy belongs to future cycles.
type PublishGateway interface {
	Publish(ctx context.Context, opp types.Opportunity, creds types.ResolvedCredentials) (types.PublishAttempt, error)
}
