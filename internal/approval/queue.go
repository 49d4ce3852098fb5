// Package approval holds opportunities waiting for a human decision under
// manual publication mode.
package approval

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"dropship-autopilot/internal/logger"
	"dropship-autopilot/internal/types"
)

// Store persists the queue. The production implementation is
// db.UserApprovals; tests use in-memory fakes.
type Store interface {
	Insert(ctx context.Context, pa types.PendingApproval) error
	Get(ctx context.Context, id string) (types.PendingApproval, error)
	List(ctx context.Context, status types.ApprovalStatus) ([]types.PendingApproval, error)
	MarkResolved(ctx context.Context, id string, status types.ApprovalStatus) error
	MarkPublished(ctx context.Context, id string) error
}

// Queue is a FIFO list of pending approvals keyed by opportunity identity.
type Queue struct {
	store Store
}

func NewQueue(store Store) *Queue {
	return &Queue{store: store}
}

// Enqueue adds an opportunity as a pending approval. No capital is reserved
// at this point; the reservation happens when the approval is published.
func (q *Queue) Enqueue(ctx context.Context, opp types.Opportunity) (types.PendingApproval, error) {
	pa := types.PendingApproval{
		ID:          uuid.NewString(),
		Opportunity: opp,
		QueuedAt:    time.Now(),
		Status:      types.ApprovalPending,
	}
	if err := q.store.Insert(ctx, pa); err != nil {
		return types.PendingApproval{}, fmt.Errorf("enqueue approval: %w", err)
	}
	logger.Info(ctx, "Opportunity queued for approval",
		"approval_id", pa.ID,
		"opportunity_id", opp.ID,
		"title", opp.Title,
	)
	return pa, nil
}

// Get returns one approval by id.
func (q *Queue) Get(ctx context.Context, id string) (types.PendingApproval, error) {
	return q.store.Get(ctx, id)
}

// List returns approvals in queue order, optionally filtered by status.
func (q *Queue) List(ctx context.Context, status types.ApprovalStatus) ([]types.PendingApproval, error) {
	return q.store.List(ctx, status)
}

// Resolve applies a human decision exactly once. It is the only way an
// approval changes status.
func (q *Queue) Resolve(ctx context.Context, id string, decision types.ApprovalStatus) (types.PendingApproval, error) {
	if decision != types.ApprovalApproved && decision != types.ApprovalRejected {
		return types.PendingApproval{}, fmt.Errorf("invalid approval decision %q", decision)
	}
	if err := q.store.MarkResolved(ctx, id, decision); err != nil {
		return types.PendingApproval{}, err
	}
	pa, err := q.store.Get(ctx, id)
	if err != nil {
		return types.PendingApproval{}, err
	}
	logger.Info(ctx, "Approval resolved",
		"approval_id", id,
		"decision", string(decision),
	)
	return pa, nil
}

// MarkPublished claims an approved approval for publication. At most one
// claim ever succeeds, so an approval cannot be published twice.
func (q *Queue) MarkPublished(ctx context.Context, id string) error {
	return q.store.MarkPublished(ctx, id)
}
