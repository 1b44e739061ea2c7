/*
Package invest manages investment positions and their earnings.

PURPOSE:
  A Position locks principal for a fixed number of periods and pays
  earnings under one of two payout policies:

    PERIODIC: principal x rate_per_period credited once per elapsed period
    MATURITY: principal x total_rate credited once, at end_time

  Either way, at end_time the principal moves back from locked to
  available and the position transitions ACTIVE -> COMPLETED exactly once.

ANCHORING:
  Period boundaries are anchored to StartTime, never to "now" or to the
  previous run's wall clock. period N is due once StartTime + N*PeriodLength
  has passed. Delayed or overlapping scheduler runs therefore converge:
  a late run credits every period that became due in the gap, a duplicate
  run finds every key already consumed.

SEE ALSO:
  - accrual.go: The engine that walks due positions
  - service.go: Position opening
*/
package invest

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/yield-engine/ledger"
)

// =============================================================================
// POSITION
// =============================================================================

type PayoutPolicy string

const (
	PayoutPeriodic PayoutPolicy = "PERIODIC"
	PayoutMaturity PayoutPolicy = "MATURITY"
)

type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusCompleted Status = "COMPLETED"
)

// Position is one investment instance. Principal is immutable after
// creation. The accrual engine is the only writer of TotalEarned,
// LastAccruedPeriod and Status.
type Position struct {
	ID        string
	AccountID ledger.AccountID

	Principal     ledger.Amount
	RatePerPeriod decimal.Decimal // per-period earning rate (PERIODIC)
	TotalRate     decimal.Decimal // lump-sum rate at maturity (MATURITY)
	PeriodLength  time.Duration
	Periods       int // number of periods until maturity
	Payout        PayoutPolicy

	StartTime time.Time
	EndTime   time.Time

	Status            Status
	TotalEarned       ledger.Amount
	LastAccruedPeriod int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// PeriodIndex returns how many whole periods have elapsed at t, anchored
// to StartTime. Values beyond Periods are capped: nothing accrues past
// maturity.
func (p *Position) PeriodIndex(t time.Time) int {
	if !t.After(p.StartTime) {
		return 0
	}
	idx := int(t.Sub(p.StartTime) / p.PeriodLength)
	if idx > p.Periods {
		return p.Periods
	}
	return idx
}

// Matured reports whether t is at or past EndTime.
func (p *Position) Matured(t time.Time) bool {
	return !t.Before(p.EndTime)
}

// PeriodEarning is the amount credited for one elapsed period.
func (p *Position) PeriodEarning() ledger.Amount {
	return p.Principal.Mul(p.RatePerPeriod)
}

// MaturityEarning is the single lump sum for MATURITY positions.
func (p *Position) MaturityEarning() ledger.Amount {
	return p.Principal.Mul(p.TotalRate)
}

// =============================================================================
// STORE
// =============================================================================

// Store handles persistence of positions.
type Store interface {
	CreatePosition(ctx context.Context, pos *Position) error

	// GetPosition returns the position or ErrPositionNotFound.
	GetPosition(ctx context.Context, id string) (*Position, error)

	// ListPositions returns positions for an account, optionally filtered
	// by status (nil means all), ordered by creation.
	ListPositions(ctx context.Context, accountID ledger.AccountID, status *Status) ([]Position, error)

	// ListActivePositions returns every ACTIVE position. The accrual
	// engine walks this on each tick.
	ListActivePositions(ctx context.Context) ([]Position, error)

	// UpdatePosition persists accrual progress and status transitions.
	UpdatePosition(ctx context.Context, pos *Position) error
}
