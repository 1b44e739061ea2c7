/*
Package ledger provides the core balance bookkeeping engine.

PURPOSE:
  This package contains the types and the single mutation primitive that
  every balance-affecting path in the system goes through. Deposits,
  investment opens/closes, earnings, withdrawal holds/refunds and referral
  commissions all terminate here.

KEY CONCEPTS IN THIS FILE (types.go):
  - Amount:      A monetary quantity backed by decimal.Decimal
  - Account:     Authoritative balances plus lifetime totals
  - LedgerEntry: An immutable record of one balance mutation

DESIGN PRINCIPLES:
  1. Precision: decimal.Decimal everywhere, no floats in balance math
  2. Append-only: entries are never updated or deleted
  3. Idempotency: at most one entry per (kind, reference_id)
  4. Single writer: only the Mutator touches Account fields

SEE ALSO:
  - mutation.go: The idempotent mutation primitive and balance effects
  - store.go:    Persistence interface
  - errors.go:   Error taxonomy
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// AMOUNT - Monetary quantity
// =============================================================================

// Amount is a monetary value. All balance arithmetic uses decimals so that
// repeated accruals never drift the way float math does.
type Amount struct {
	Value decimal.Decimal
}

func NewAmount(value float64) Amount {
	return Amount{Value: decimal.NewFromFloat(value)}
}

func NewAmountFromInt(value int64) Amount {
	return Amount{Value: decimal.NewFromInt(value)}
}

// ParseAmount parses a decimal string like "125.50".
func ParseAmount(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Amount{}, err
	}
	return Amount{Value: d}, nil
}

func MustParseAmount(s string) Amount {
	a, err := ParseAmount(s)
	if err != nil {
		return Amount{}
	}
	return a
}

func Zero() Amount { return Amount{Value: decimal.Zero} }

func (a Amount) Add(b Amount) Amount          { return Amount{Value: a.Value.Add(b.Value)} }
func (a Amount) Sub(b Amount) Amount          { return Amount{Value: a.Value.Sub(b.Value)} }
func (a Amount) Mul(s decimal.Decimal) Amount { return Amount{Value: a.Value.Mul(s)} }
func (a Amount) Neg() Amount                  { return Amount{Value: a.Value.Neg()} }
func (a Amount) Abs() Amount                  { return Amount{Value: a.Value.Abs()} }
func (a Amount) IsNegative() bool             { return a.Value.IsNegative() }
func (a Amount) IsPositive() bool             { return a.Value.IsPositive() }
func (a Amount) IsZero() bool                 { return a.Value.IsZero() }
func (a Amount) Equal(b Amount) bool          { return a.Value.Equal(b.Value) }
func (a Amount) GreaterThan(b Amount) bool    { return a.Value.GreaterThan(b.Value) }
func (a Amount) LessThan(b Amount) bool       { return a.Value.LessThan(b.Value) }
func (a Amount) String() string               { return a.Value.String() }

// =============================================================================
// IDENTIFIERS
// =============================================================================

type AccountID string
type EntryID string

// =============================================================================
// ACCOUNT - Authoritative balance state
// =============================================================================

// Account holds the authoritative balances for one user.
//
// INVARIANTS:
//   - Available >= 0 and Locked >= 0 at all times
//   - TotalDeposited, TotalWithdrawn, TotalEarned are monotonically
//     non-decreasing
//
// Only the Mutator may change these fields. Anything else reading an
// Account sees a consistent snapshot; anything else writing one is a bug.
type Account struct {
	ID         AccountID
	ReferrerID *AccountID

	// Available is the spendable balance; Locked is principal currently
	// tied up in active positions.
	Available Amount
	Locked    Amount

	// Lifetime totals, bookkeeping only.
	TotalDeposited Amount
	TotalWithdrawn Amount
	TotalEarned    Amount

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Total returns Available + Locked, the combined balance the ledger conserves.
func (a *Account) Total() Amount {
	return a.Available.Add(a.Locked)
}

// =============================================================================
// LEDGER ENTRY - One immutable balance mutation
// =============================================================================

type EntryKind string

const (
	KindDeposit          EntryKind = "DEPOSIT"
	KindInvestmentOpen   EntryKind = "INVESTMENT_OPEN"
	KindEarning          EntryKind = "EARNING"
	KindInvestmentClose  EntryKind = "INVESTMENT_CLOSE"
	KindWithdrawalHold   EntryKind = "WITHDRAWAL_HOLD"
	KindWithdrawalRefund EntryKind = "WITHDRAWAL_REFUND"
	KindCommission       EntryKind = "COMMISSION"
)

// LedgerEntry records one applied mutation. Append-only: no update, no
// delete, ever. Corrections are new entries, not edits.
//
// The pair (Kind, ReferenceID) is unique across the ledger. That pair is
// the system's idempotency key: retried schedulers, replayed webhooks and
// duplicate chain notifications all collapse onto the same entry.
type LedgerEntry struct {
	ID        EntryID
	AccountID AccountID
	Kind      EntryKind

	// Amount is the signed magnitude of the mutation. Credits are
	// positive, the withdrawal hold is negative, and pure transfers
	// between Available and Locked (open/close) record the principal
	// that moved.
	Amount Amount

	// Combined balance (Available+Locked) before and after the mutation,
	// recorded for reconciliation.
	BalanceBefore Amount
	BalanceAfter  Amount

	ReferenceID string
	CreatedAt   time.Time
}

// TotalDelta returns this entry's contribution to the combined balance
// (Available+Locked). Transfers between the two buckets contribute zero;
// the account audit sums these deltas and compares against the balances.
func (e *LedgerEntry) TotalDelta() Amount {
	switch e.Kind {
	case KindDeposit, KindEarning, KindWithdrawalRefund, KindCommission:
		return e.Amount.Abs()
	case KindWithdrawalHold:
		return e.Amount.Abs().Neg()
	default:
		// INVESTMENT_OPEN and INVESTMENT_CLOSE move funds between
		// Available and Locked without changing the combined balance.
		return Zero()
	}
}
