package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"dropship-autopilot/internal/types"
)

// PurchaseRepo persists capital committed to pending purchases. Committed
// capital is always recomputed from these rows, never stored as an aggregate.
type PurchaseRepo struct{}

// Insert records a newly committed purchase.
func (r *PurchaseRepo) Insert(ctx context.Context, db *sql.DB, userID string, p types.PendingPurchase) error {
	const q = `INSERT INTO pending_purchases (id, user_id, opportunity_id, title, cost_usd, status, listing_id, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := db.ExecContext(ctx, q,
		p.ID, userID, p.OpportunityID, p.Title, p.Cost.String(),
		string(p.Status), p.ListingID, p.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert purchase: %w", err)
	}
	return nil
}

// SumOutstanding returns the total cost of PENDING and PROCESSING purchases.
func (r *PurchaseRepo) SumOutstanding(ctx context.Context, db *sql.DB, userID string) (decimal.Decimal, error) {
	const q = `SELECT cost_usd FROM pending_purchases
WHERE user_id = ? AND status IN ('PENDING', 'PROCESSING')`

	rows, err := db.QueryContext(ctx, q, userID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum purchases: %w", err)
	}
	defer rows.Close()

	total := decimal.Zero
	for rows.Next() {
		var cost string
		if err := rows.Scan(&cost); err != nil {
			return decimal.Zero, fmt.Errorf("scan purchase cost: %w", err)
		}
		d, err := decimal.NewFromString(cost)
		if err != nil {
			return decimal.Zero, fmt.Errorf("parse cost_usd: %w", err)
		}
		total = total.Add(d)
	}
	return total, rows.Err()
}

// ListByStatus returns purchases for a user in creation order.
func (r *PurchaseRepo) ListByStatus(ctx context.Context, db *sql.DB, userID string, status types.PurchaseStatus) ([]types.PendingPurchase, error) {
	const q = `SELECT id, opportunity_id, title, cost_usd, status, listing_id, created_at
FROM pending_purchases WHERE user_id = ? AND status = ? ORDER BY created_at ASC, id ASC`

	rows, err := db.QueryContext(ctx, q, userID, string(status))
	if err != nil {
		return nil, fmt.Errorf("list purchases: %w", err)
	}
	defer rows.Close()

	var purchases []types.PendingPurchase
	for rows.Next() {
		var (
			p         types.PendingPurchase
			cost, st  string
			createdAt int64
		)
		if err := rows.Scan(&p.ID, &p.OpportunityID, &p.Title, &cost, &st, &p.ListingID, &createdAt); err != nil {
			return nil, fmt.Errorf("scan purchase: %w", err)
		}
		if p.Cost, err = decimal.NewFromString(cost); err != nil {
			return nil, fmt.Errorf("parse cost_usd: %w", err)
		}
		p.Status = types.PurchaseStatus(st)
		p.CreatedAt = time.Unix(createdAt, 0)
		purchases = append(purchases, p)
	}
	return purchases, rows.Err()
}

// UpdateStatus moves a purchase through its lifecycle.
func (r *PurchaseRepo) UpdateStatus(ctx context.Context, db *sql.DB, id string, status types.PurchaseStatus) error {
	const q = `UPDATE pending_purchases SET status = ? WHERE id = ?`
	res, err := db.ExecContext(ctx, q, string(status), id)
	if err != nil {
		return fmt.Errorf("update purchase status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update purchase status: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
