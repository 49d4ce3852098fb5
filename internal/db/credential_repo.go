package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"dropship-autopilot/internal/types"
)

// CredentialRepo reads stored marketplace credentials. Rows are written by
// the user-facing credential API upstream; the autopilot only reads.
type CredentialRepo struct{}

// FindActive returns the active credential entry for a user, marketplace and
// environment, preferring user scope over admin scope, or ErrNotFound.
func (r *CredentialRepo) FindActive(ctx context.Context, db *sql.DB, userID, marketplace string, env types.Environment) (types.CredentialEntry, error) {
	const q = `SELECT marketplace, environment, scope, is_active, credentials_json
FROM credentials
WHERE user_id = ? AND marketplace = ? AND environment = ? AND is_active = 1
ORDER BY CASE scope WHEN 'user' THEN 0 ELSE 1 END
LIMIT 1`

	var (
		entry     types.CredentialEntry
		envStr    string
		scope     string
		active    int
		credsJSON string
	)
	err := db.QueryRowContext(ctx, q, userID, marketplace, string(env)).Scan(
		&entry.Marketplace, &envStr, &scope, &active, &credsJSON,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return types.CredentialEntry{}, ErrNotFound
	}
	if err != nil {
		return types.CredentialEntry{}, fmt.Errorf("find credential: %w", err)
	}

	entry.Environment = types.Environment(envStr)
	entry.Scope = types.CredentialScope(scope)
	entry.IsActive = active != 0
	if err := json.Unmarshal([]byte(credsJSON), &entry.Credentials); err != nil {
		return types.CredentialEntry{}, fmt.Errorf("parse credentials: %w", err)
	}
	return entry, nil
}

// Upsert stores a credential entry. Exposed for tests and seeding; the
// production write path lives in the credential API service.
func (r *CredentialRepo) Upsert(ctx context.Context, db *sql.DB, userID string, entry types.CredentialEntry) error {
	credsJSON, err := json.Marshal(entry.Credentials)
	if err != nil {
		return fmt.Errorf("marshal credentials: %w", err)
	}

	active := 0
	if entry.IsActive {
		active = 1
	}
	const q = `INSERT INTO credentials (user_id, marketplace, environment, scope, is_active, credentials_json)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(user_id, marketplace, environment, scope) DO UPDATE SET
 is_active=excluded.is_active,
 credentials_json=excluded.credentials_json`
	_, err = db.ExecContext(ctx, q, userID, entry.Marketplace, string(entry.Environment),
		string(entry.Scope), active, string(credsJSON))
	if err != nil {
		return fmt.Errorf("upsert credential: %w", err)
	}
	return nil
}
