// Package ledger tracks working capital against committed and provisionally
// held funds for one user.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"dropship-autopilot/internal/interfaces"
	"dropship-autopilot/internal/logger"
	"dropship-autopilot/internal/types"
)

var (
	// ErrInsufficientCapital is returned when a reservation would push
	// available capital below zero. The ledger state is left untouched.
	ErrInsufficientCapital = errors.New("insufficient capital")

	// ErrReservationSpent is returned when a reservation is released or
	// committed more than once.
	ErrReservationSpent = errors.New("reservation already released or committed")
)

// PurchaseStore is the durable record of committed capital. The production
// implementation is db.UserPurchases; tests use in-memory fakes.
type PurchaseStore interface {
	Insert(ctx context.Context, p types.PendingPurchase) error
	SumOutstanding(ctx context.Context) (decimal.Decimal, error)
}

// Ledger guards every capital read and reservation with a single mutex so no
// two reservations can both succeed against a stale available snapshot.
type Ledger struct {
	mu      sync.Mutex
	working decimal.Decimal
	held    decimal.Decimal // active reservations not yet released or committed
	store   PurchaseStore
}

var _ interfaces.CapitalLedger = (*Ledger)(nil)

func New(store PurchaseStore, workingCapital decimal.Decimal) *Ledger {
	return &Ledger{
		working: workingCapital,
		held:    decimal.Zero,
		store:   store,
	}
}

// SetWorkingCapital applies a new working-capital total, typically after a
// config replace. Existing holds and commitments are unaffected.
func (l *Ledger) SetWorkingCapital(total decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.working = total
}

// Available returns working capital minus committed and held funds.
func (l *Ledger) Available(ctx context.Context) (decimal.Decimal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.availableLocked(ctx)
}

// Snapshot returns a point-in-time capital view.
func (l *Ledger) Snapshot(ctx context.Context) (types.CapitalSnapshot, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	committed, err := l.store.SumOutstanding(ctx)
	if err != nil {
		return types.CapitalSnapshot{}, fmt.Errorf("sum outstanding purchases: %w", err)
	}
	committed = committed.Add(l.held)
	return types.CapitalSnapshot{
		TotalWorkingCapital: l.working,
		CommittedCapital:    committed,
		AvailableCapital:    l.working.Sub(committed),
	}, nil
}

func (l *Ledger) availableLocked(ctx context.Context) (decimal.Decimal, error) {
	committed, err := l.store.SumOutstanding(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum outstanding purchases: %w", err)
	}
	return l.working.Sub(committed).Sub(l.held), nil
}

// TryReserve places a provisional hold for amount. It is the sole mutation
// entry point: the availability check and the hold happen under one lock, so
// available capital never goes negative. A reservation that would violate
// that is rejected without mutating state.
func (l *Ledger) TryReserve(ctx context.Context, amount decimal.Decimal) (interfaces.Reservation, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("reservation amount must be positive, got %s", amount)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	available, err := l.availableLocked(ctx)
	if err != nil {
		return nil, err
	}
	if amount.GreaterThan(available) {
		logger.Capital(ctx, "RESERVATION_REJECTED",
			"amount", amount.String(),
			"available", available.String(),
		)
		return nil, ErrInsufficientCapital
	}

	l.held = l.held.Add(amount)
	logger.Debug(ctx, "Capital reserved",
		"amount", amount.String(),
		"available_after", available.Sub(amount).String(),
	)
	return &reservation{ledger: l, amount: amount}, nil
}

// reservation is a hold that is released on publish failure or committed into
// a durable pending purchase on success. Exactly one of the two happens.
type reservation struct {
	ledger *Ledger
	amount decimal.Decimal
	spent  bool
}

func (r *reservation) Amount() decimal.Decimal { return r.amount }

// Release returns the held amount to the available pool. Safe to call after
// Commit or a prior Release; the extra call is a no-op.
func (r *reservation) Release() {
	r.ledger.mu.Lock()
	defer r.ledger.mu.Unlock()
	if r.spent {
		return
	}
	r.spent = true
	r.ledger.held = r.ledger.held.Sub(r.amount)
}

// Commit converts the hold into a durable pending purchase. The insert and
// the hold removal happen under the ledger lock so committed capital never
// double-counts with the hold.
func (r *reservation) Commit(ctx context.Context, opp types.Opportunity, listingID string) error {
	r.ledger.mu.Lock()
	defer r.ledger.mu.Unlock()
	if r.spent {
		return ErrReservationSpent
	}

	purchase := types.PendingPurchase{
		ID:            uuid.NewString(),
		OpportunityID: opp.ID,
		Title:         opp.Title,
		Cost:          r.amount,
		Status:        types.PurchasePending,
		ListingID:     listingID,
		CreatedAt:     time.Now(),
	}
	if err := r.ledger.store.Insert(ctx, purchase); err != nil {
		// The hold stays in place; the caller may still Release.
		return fmt.Errorf("record pending purchase: %w", err)
	}
	r.spent = true
	r.ledger.held = r.ledger.held.Sub(r.amount)
	return nil
}
