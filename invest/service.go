/*
service.go - Position opening

PURPOSE:
  Opens a position: one INVESTMENT_OPEN ledger mutation moves principal
  from available into locked, keyed by the position id, then the position
  record is created.

ORDERING:
  The mutation is applied before the record is inserted. If the insert
  fails, a retry with the same position id finds the key consumed, takes
  the no-op path and completes the insert. The reverse order would leave
  an ACTIVE position backed by unlocked funds.
*/
package invest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/yield-engine/ledger"
)

// OpenInput describes a position to open.
type OpenInput struct {
	AccountID     ledger.AccountID
	Principal     ledger.Amount
	RatePerPeriod decimal.Decimal
	TotalRate     decimal.Decimal
	PeriodLength  time.Duration
	Periods       int
	Payout        PayoutPolicy
}

// Service opens positions against the ledger.
type Service struct {
	Positions Store
	Mutator   *ledger.Mutator
	Clock     func() time.Time
}

func NewService(positions Store, mutator *ledger.Mutator) *Service {
	return &Service{Positions: positions, Mutator: mutator, Clock: time.Now}
}

// Open validates the input, debits principal into locked, and creates the
// ACTIVE position. Fails with InsufficientBalanceError when principal
// exceeds the available balance; no side effects in that case.
func (s *Service) Open(ctx context.Context, in OpenInput) (*Position, error) {
	if err := validateOpen(in); err != nil {
		return nil, err
	}

	acct, err := s.Mutator.Store().GetAccount(ctx, in.AccountID)
	if err != nil {
		return nil, err
	}
	if in.Principal.GreaterThan(acct.Available) {
		return nil, &ledger.InsufficientBalanceError{
			AccountID: in.AccountID,
			Available: acct.Available,
			Requested: in.Principal,
		}
	}

	now := s.Clock()
	pos := &Position{
		ID:            uuid.NewString(),
		AccountID:     in.AccountID,
		Principal:     in.Principal,
		RatePerPeriod: in.RatePerPeriod,
		TotalRate:     in.TotalRate,
		PeriodLength:  in.PeriodLength,
		Periods:       in.Periods,
		Payout:        in.Payout,
		StartTime:     now,
		EndTime:       now.Add(time.Duration(in.Periods) * in.PeriodLength),
		Status:        StatusActive,
		TotalEarned:   ledger.Zero(),
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	_, _, err = s.Mutator.Apply(ctx, in.AccountID, ledger.KindInvestmentOpen, pos.ID, in.Principal, ledger.OpenEffect)
	if err != nil {
		var iv *ledger.InvariantViolationError
		if errors.As(err, &iv) {
			// The pre-check raced a concurrent debit. Same outcome,
			// cleaner error for the caller.
			return nil, &ledger.InsufficientBalanceError{
				AccountID: in.AccountID,
				Available: iv.Computed.Add(in.Principal),
				Requested: in.Principal,
			}
		}
		return nil, err
	}

	if err := s.Positions.CreatePosition(ctx, pos); err != nil {
		return nil, fmt.Errorf("create position %s: %w", pos.ID, err)
	}
	return pos, nil
}

func validateOpen(in OpenInput) error {
	if !in.Principal.IsPositive() {
		return &ledger.ValidationError{Field: "principal", Message: "must be positive"}
	}
	if in.PeriodLength <= 0 {
		return &ledger.ValidationError{Field: "period_length", Message: "must be positive"}
	}
	if in.Periods <= 0 {
		return &ledger.ValidationError{Field: "periods", Message: "must be positive"}
	}
	switch in.Payout {
	case PayoutPeriodic:
		if in.RatePerPeriod.IsNegative() || in.RatePerPeriod.IsZero() {
			return &ledger.ValidationError{Field: "rate_per_period", Message: "must be positive"}
		}
	case PayoutMaturity:
		if in.TotalRate.IsNegative() || in.TotalRate.IsZero() {
			return &ledger.ValidationError{Field: "total_rate", Message: "must be positive"}
		}
	default:
		return &ledger.ValidationError{Field: "payout", Message: "must be PERIODIC or MATURITY"}
	}
	return nil
}
