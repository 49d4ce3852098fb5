package interfaces

import (
	"context"

	"dropship-autopilot/internal/types"
)

// CredentialResolver resolves the environment and credential set for a user
// and marketplace. It never fails for "not found"; callers check Missing().
type CredentialResolver interface {
	Resolve(ctx context.Context, userID, marketplace string, explicitEnv types.Environment) (types.ResolvedCredentials, error)
}
