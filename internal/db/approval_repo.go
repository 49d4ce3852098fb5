package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"dropship-autopilot/internal/types"
)

// ErrAlreadyResolved is returned when resolving an approval that is no longer
// pending.
var ErrAlreadyResolved = errors.New("approval already resolved")

// ApprovalRepo persists the FIFO approval queue.
type ApprovalRepo struct{}

// Insert adds a pending approval.
func (r *ApprovalRepo) Insert(ctx context.Context, db *sql.DB, userID string, pa types.PendingApproval) error {
	oppJSON, err := json.Marshal(pa.Opportunity)
	if err != nil {
		return fmt.Errorf("marshal opportunity: %w", err)
	}

	const q = `INSERT INTO pending_approvals (id, user_id, opportunity_json, status, queued_at)
VALUES (?, ?, ?, ?, ?)`
	_, err = db.ExecContext(ctx, q, pa.ID, userID, string(oppJSON), string(pa.Status), pa.QueuedAt.Unix())
	if err != nil {
		return fmt.Errorf("insert approval: %w", err)
	}
	return nil
}

// Get returns one approval by id, or ErrNotFound.
func (r *ApprovalRepo) Get(ctx context.Context, db *sql.DB, id string) (types.PendingApproval, error) {
	const q = `SELECT id, opportunity_json, status, queued_at, resolved_at
FROM pending_approvals WHERE id = ?`

	var (
		pa         types.PendingApproval
		oppJSON    string
		status     string
		queuedAt   int64
		resolvedAt sql.NullInt64
	)
	err := db.QueryRowContext(ctx, q, id).Scan(&pa.ID, &oppJSON, &status, &queuedAt, &resolvedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return types.PendingApproval{}, ErrNotFound
	}
	if err != nil {
		return types.PendingApproval{}, fmt.Errorf("get approval: %w", err)
	}
	if err := json.Unmarshal([]byte(oppJSON), &pa.Opportunity); err != nil {
		return types.PendingApproval{}, fmt.Errorf("parse opportunity: %w", err)
	}
	pa.Status = types.ApprovalStatus(status)
	pa.QueuedAt = time.Unix(queuedAt, 0)
	if resolvedAt.Valid {
		t := time.Unix(resolvedAt.Int64, 0)
		pa.ResolvedAt = &t
	}
	return pa, nil
}

// List returns approvals for a user in queue order. An empty status returns
// all of them.
func (r *ApprovalRepo) List(ctx context.Context, db *sql.DB, userID string, status types.ApprovalStatus) ([]types.PendingApproval, error) {
	q := `SELECT id, opportunity_json, status, queued_at, resolved_at
FROM pending_approvals WHERE user_id = ?`
	args := []any{userID}
	if status != "" {
		q += ` AND status = ?`
		args = append(args, string(status))
	}
	q += ` ORDER BY queued_at ASC, id ASC`

	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list approvals: %w", err)
	}
	defer rows.Close()

	var approvals []types.PendingApproval
	for rows.Next() {
		var (
			pa         types.PendingApproval
			oppJSON    string
			st         string
			queuedAt   int64
			resolvedAt sql.NullInt64
		)
		if err := rows.Scan(&pa.ID, &oppJSON, &st, &queuedAt, &resolvedAt); err != nil {
			return nil, fmt.Errorf("scan approval: %w", err)
		}
		if err := json.Unmarshal([]byte(oppJSON), &pa.Opportunity); err != nil {
			return nil, fmt.Errorf("parse opportunity: %w", err)
		}
		pa.Status = types.ApprovalStatus(st)
		pa.QueuedAt = time.Unix(queuedAt, 0)
		if resolvedAt.Valid {
			t := time.Unix(resolvedAt.Int64, 0)
			pa.ResolvedAt = &t
		}
		approvals = append(approvals, pa)
	}
	return approvals, rows.Err()
}

// MarkResolved flips a pending approval to approved or rejected. A second
// call returns ErrAlreadyResolved.
func (r *ApprovalRepo) MarkResolved(ctx context.Context, db *sql.DB, id string, status types.ApprovalStatus) error {
	if status != types.ApprovalApproved && status != types.ApprovalRejected {
		return fmt.Errorf("invalid resolution status %q", status)
	}

	const q = `UPDATE pending_approvals SET status = ?, resolved_at = ?
WHERE id = ? AND status = 'pending'`
	res, err := db.ExecContext(ctx, q, string(status), time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("resolve approval: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("resolve approval: %w", err)
	}
	if n == 0 {
		// Distinguish a missing row from a double resolution.
		if _, err := r.Get(ctx, db, id); errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return ErrAlreadyResolved
	}
	return nil
}

// MarkPublished atomically claims an approved approval for publication. The
// guarded UPDATE means only one caller ever wins; a repeat or concurrent
// attempt returns ErrAlreadyResolved.
func (r *ApprovalRepo) MarkPublished(ctx context.Context, db *sql.DB, id string) error {
	const q = `UPDATE pending_approvals SET status = ?
WHERE id = ? AND status = ?`
	res, err := db.ExecContext(ctx, q, string(types.ApprovalPublished), id, string(types.ApprovalApproved))
	if err != nil {
		return fmt.Errorf("mark approval published: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark approval published: %w", err)
	}
	if n == 0 {
		if _, err := r.Get(ctx, db, id); errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return ErrAlreadyResolved
	}
	return nil
}
