package db

import (
	"context"
	"database/sql"

	"github.com/shopspring/decimal"

	"dropship-autopilot/internal/types"
)

// User-bound wrappers pin a repo to one connection and tenant so the domain
// packages can consume narrow store interfaces without carrying *sql.DB and
// user ids through every call.

// UserPurchases binds PurchaseRepo to a user.
type UserPurchases struct {
	DB     *sql.DB
	UserID string
	repo   PurchaseRepo
}

func (s *UserPurchases) Insert(ctx context.Context, p types.PendingPurchase) error {
	return s.repo.Insert(ctx, s.DB, s.UserID, p)
}

func (s *UserPurchases) SumOutstanding(ctx context.Context) (decimal.Decimal, error) {
	return s.repo.SumOutstanding(ctx, s.DB, s.UserID)
}

func (s *UserPurchases) ListByStatus(ctx context.Context, status types.PurchaseStatus) ([]types.PendingPurchase, error) {
	return s.repo.ListByStatus(ctx, s.DB, s.UserID, status)
}

func (s *UserPurchases) UpdateStatus(ctx context.Context, id string, status types.PurchaseStatus) error {
	return s.repo.UpdateStatus(ctx, s.DB, id, status)
}

// UserCredentials binds CredentialRepo to a user.
type UserCredentials struct {
	DB     *sql.DB
	UserID string
	repo   CredentialRepo
}

func (s *UserCredentials) FindActive(ctx context.Context, marketplace string, env types.Environment) (types.CredentialEntry, error) {
	return s.repo.FindActive(ctx, s.DB, s.UserID, marketplace, env)
}

// UserApprovals binds ApprovalRepo to a user.
type UserApprovals struct {
	DB     *sql.DB
	UserID string
	repo   ApprovalRepo
}

func (s *UserApprovals) Insert(ctx context.Context, pa types.PendingApproval) error {
	return s.repo.Insert(ctx, s.DB, s.UserID, pa)
}

func (s *UserApprovals) Get(ctx context.Context, id string) (types.PendingApproval, error) {
	return s.repo.Get(ctx, s.DB, id)
}

func (s *UserApprovals) List(ctx context.Context, status types.ApprovalStatus) ([]types.PendingApproval, error) {
	return s.repo.List(ctx, s.DB, s.UserID, status)
}

func (s *UserApprovals) MarkResolved(ctx context.Context, id string, status types.ApprovalStatus) error {
	return s.repo.MarkResolved(ctx, s.DB, id, status)
}

func (s *UserApprovals) MarkPublished(ctx context.Context, id string) error {
	return s.repo.MarkPublished(ctx, s.DB, id)
}

// UserCycleResults binds CycleResultRepo to a user.
type UserCycleResults struct {
	DB     *sql.DB
	UserID string
	repo   CycleResultRepo
}

func (s *UserCycleResults) Append(ctx context.Context, res types.CycleResult) error {
	return s.repo.Append(ctx, s.DB, s.UserID, res)
}

func (s *UserCycleResults) ListRecent(ctx context.Context, limit int) ([]types.CycleResult, error) {
	return s.repo.ListRecent(ctx, s.DB, s.UserID, limit)
}

func (s *UserCycleResults) Aggregate(ctx context.Context) (types.PerformanceReport, error) {
	return s.repo.Aggregate(ctx, s.DB, s.UserID)
}

// UserConfig binds ConfigRepo to a user.
type UserConfig struct {
	DB     *sql.DB
	UserID string
	repo   ConfigRepo
}

func (s *UserConfig) Get(ctx context.Context) (types.CycleConfig, error) {
	return s.repo.Get(ctx, s.DB, s.UserID)
}

func (s *UserConfig) Replace(ctx context.Context, cfg types.CycleConfig) error {
	return s.repo.Replace(ctx, s.DB, s.UserID, cfg)
}

// UserAttempts binds AttemptRepo to a user.
type UserAttempts struct {
	DB     *sql.DB
	UserID string
	repo   AttemptRepo
}

func (s *UserAttempts) Insert(ctx context.Context, a types.PublishAttempt) error {
	return s.repo.Insert(ctx, s.DB, s.UserID, a)
}

func (s *UserAttempts) ListRecent(ctx context.Context, limit int) ([]types.PublishAttempt, error) {
	return s.repo.ListRecent(ctx, s.DB, s.UserID, limit)
}
