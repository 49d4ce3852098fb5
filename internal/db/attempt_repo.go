package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"dropship-autopilot/internal/types"
)

// AttemptRepo persists publish attempts. Attempts are append-only; a retry is
// a new row, never an update.
type AttemptRepo struct{}

// Insert records one gateway invocation.
func (r *AttemptRepo) Insert(ctx context.Context, db *sql.DB, userID string, a types.PublishAttempt) error {
	const q = `INSERT INTO publish_attempts (user_id, opportunity_id, marketplace, environment, success, listing_id, error, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	success := 0
	if a.Success {
		success = 1
	}
	ts := a.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := db.ExecContext(ctx, q,
		userID, a.OpportunityID, a.Marketplace, string(a.Environment),
		success, a.ListingID, a.Error, ts.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert attempt: %w", err)
	}
	return nil
}

// ListRecent returns up to limit attempts for a user, newest first.
func (r *AttemptRepo) ListRecent(ctx context.Context, db *sql.DB, userID string, limit int) ([]types.PublishAttempt, error) {
	const q = `SELECT opportunity_id, marketplace, environment, success, listing_id, error, created_at
FROM publish_attempts WHERE user_id = ? ORDER BY id DESC LIMIT ?`

	rows, err := db.QueryContext(ctx, q, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	defer rows.Close()

	var attempts []types.PublishAttempt
	for rows.Next() {
		var (
			a         types.PublishAttempt
			env       string
			success   int
			createdAt int64
		)
		if err := rows.Scan(&a.OpportunityID, &a.Marketplace, &env, &success, &a.ListingID, &a.Error, &createdAt); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		a.Environment = types.Environment(env)
		a.Success = success != 0
		a.Timestamp = time.Unix(createdAt, 0)
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}
