package interfaces

import (
	"context"

	"github.com/shopspring/decimal"

	"dropship-autopilot/internal/types"
)

// Reservation is a provisional hold against available capital. Exactly one of
// Release or Commit is called per reservation.
type Reservation interface {
	Amount() decimal.Decimal
	Release()
	Commit(ctx context.Context, opp types.Opportunity, listingID string) error
}

// CapitalLedger exposes the atomic available-capital query and the sole
// reservation entry point.
type CapitalLedger interface {
	Available(ctx context.Context) (decimal.Decimal, error)
	Snapshot(ctx context.Context) (types.CapitalSnapshot, error)
	TryReserve(ctx context.Context, amount decimal.Decimal) (Reservation, error)
	SetWorkingCapital(total decimal.Decimal)
}
