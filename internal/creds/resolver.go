// Package creds resolves which environment and credential set to use for a
// marketplace call.
package creds

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"dropship-autopilot/internal/db"
	"dropship-autopilot/internal/interfaces"
	"dropship-autopilot/internal/logger"
	"dropship-autopilot/internal/types"
)

// CredentialStore reads stored credential entries for one user.
type CredentialStore interface {
	FindActive(ctx context.Context, marketplace string, env types.Environment) (types.CredentialEntry, error)
}

// Resolver walks the credential precedence chain:
// explicit environment, then stored production, then stored sandbox, then the
// workflow default environment, and finally process environment variables.
// "Not found" is never an error; callers check ResolvedCredentials.Missing().
type Resolver struct {
	store      CredentialStore
	defaultEnv types.Environment
	cache      *gocache.Cache
}

var _ interfaces.CredentialResolver = (*Resolver)(nil)

// NewResolver creates a resolver. Resolutions are cached for ttl; the short
// TTL is what picks up credential writes made by the user-facing API.
func NewResolver(store CredentialStore, defaultEnv types.Environment, ttl time.Duration) *Resolver {
	if defaultEnv == "" {
		defaultEnv = types.EnvSandbox
	}
	return &Resolver{
		store:      store,
		defaultEnv: defaultEnv,
		cache:      gocache.New(ttl, 2*ttl),
	}
}

// Resolve picks the environment and credential set for a user and
// marketplace.
func (r *Resolver) Resolve(ctx context.Context, userID, marketplace string, explicitEnv types.Environment) (types.ResolvedCredentials, error) {
	key := fmt.Sprintf("%s|%s|%s", userID, marketplace, explicitEnv)
	if v, ok := r.cache.Get(key); ok {
		return v.(types.ResolvedCredentials), nil
	}

	res, err := r.resolve(ctx, userID, marketplace, explicitEnv)
	if err != nil {
		return types.ResolvedCredentials{}, err
	}
	r.cache.Set(key, res, gocache.DefaultExpiration)
	return res, nil
}

func (r *Resolver) resolve(ctx context.Context, userID, marketplace string, explicitEnv types.Environment) (types.ResolvedCredentials, error) {
	var warnings []string

	env := explicitEnv
	if env == "" {
		// No explicit choice: prefer production credentials, then sandbox,
		// then the user's default environment.
		switch {
		case r.hasStored(ctx, marketplace, types.EnvProduction):
			env = types.EnvProduction
		case r.hasStored(ctx, marketplace, types.EnvSandbox):
			env = types.EnvSandbox
		default:
			env = r.defaultEnv
			warnings = append(warnings, fmt.Sprintf("no stored credentials for %s; using default environment %s", marketplace, env))
		}
	}

	entry, err := r.store.FindActive(ctx, marketplace, env)
	if err == nil && len(entry.Credentials) > 0 {
		return types.ResolvedCredentials{
			Environment: env,
			Credentials: entry.Credentials,
			Source:      types.SourceDB,
			Warnings:    warnings,
		}, nil
	}
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		return types.ResolvedCredentials{}, fmt.Errorf("credential lookup for %s/%s: %w", marketplace, env, err)
	}

	// Env-var fallback keeps the system operable before interactive OAuth
	// setup has been completed.
	if creds := fromEnvVars(marketplace); len(creds) > 0 {
		warnings = append(warnings, fmt.Sprintf("using process environment credentials for %s", marketplace))
		logger.Debug(ctx, "Credentials resolved from environment variables",
			"user_id", userID, "marketplace", marketplace, "environment", string(env))
		return types.ResolvedCredentials{
			Environment: env,
			Credentials: creds,
			Source:      types.SourceEnvVar,
			Warnings:    warnings,
		}, nil
	}

	warnings = append(warnings, fmt.Sprintf("no credentials found for %s in %s or environment variables", marketplace, env))
	return types.ResolvedCredentials{
		Environment: env,
		Credentials: map[string]string{},
		Source:      types.SourceEnvVar,
		Warnings:    warnings,
	}, nil
}

func (r *Resolver) hasStored(ctx context.Context, marketplace string, env types.Environment) bool {
	entry, err := r.store.FindActive(ctx, marketplace, env)
	return err == nil && len(entry.Credentials) > 0
}

// fromEnvVars reads deployment-supplied credentials, e.g. EBAY_API_TOKEN and
// EBAY_CLIENT_ID for marketplace "ebay".
func fromEnvVars(marketplace string) map[string]string {
	prefix := strings.ToUpper(strings.ReplaceAll(marketplace, "-", "_"))
	creds := map[string]string{}
	if v := os.Getenv(prefix + "_API_TOKEN"); v != "" {
		creds["api_token"] = v
	}
	if v := os.Getenv(prefix + "_CLIENT_ID"); v != "" {
		creds["client_id"] = v
	}
	if v := os.Getenv(prefix + "_CLIENT_SECRET"); v != "" {
		creds["client_secret"] = v
	}
	return creds
}
