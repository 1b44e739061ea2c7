/*
errors.go - Centralized error types for the ledger engine

PURPOSE:
  All error types in one place. Domain packages (invest, funding,
  referral) wrap these with additional context where useful.

ERROR CATEGORIES:
  1. Validation errors  - rejected before any mutation, zero side effects
  2. Balance errors     - a debit would exceed the available balance
  3. Invariant errors   - a computed balance would go negative
  4. Store errors       - persistence-level failures

NOTE ON DUPLICATES:
  A duplicate (kind, reference_id) is NOT an error at the Mutator level;
  the Mutator returns the existing entry as a successful no-op. The
  ErrDuplicateReference sentinel exists for Store implementations to
  signal the unique-constraint hit so the Mutator can take that path.
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrDuplicateReference is returned by Store implementations when an
	// entry with the same (kind, reference_id) already exists. The Mutator
	// converts this into a successful no-op.
	ErrDuplicateReference = errors.New("duplicate ledger reference")

	// ErrInsufficientBalance is returned when a debit exceeds the
	// available balance. Rejected with no side effects.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrInvariantViolation is returned when a mutation would drive a
	// balance negative. Fatal for that single mutation only.
	ErrInvariantViolation = errors.New("balance invariant violation")

	// ErrValidation is returned for malformed input (non-positive amount,
	// empty destination). Rejected before any mutation.
	ErrValidation = errors.New("validation failed")

	// ErrAccountNotFound is returned when the referenced account does not exist.
	ErrAccountNotFound = errors.New("account not found")

	// ErrAccountExists is returned when creating an account whose id is
	// already taken.
	ErrAccountExists = errors.New("account already exists")

	// ErrConcurrentModification is returned when a write lost a race and
	// should be retried.
	ErrConcurrentModification = errors.New("concurrent modification detected")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientBalanceError reports the shortfall on a rejected debit.
type InsufficientBalanceError struct {
	AccountID AccountID
	Available Amount
	Requested Amount
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance on %s: available %v, requested %v",
		e.AccountID, e.Available, e.Requested)
}

func (e *InsufficientBalanceError) Unwrap() error {
	return ErrInsufficientBalance
}

// InvariantViolationError reports which balance would have gone negative.
// These are logged for manual reconciliation; they never abort the engine
// or affect other accounts.
type InvariantViolationError struct {
	AccountID AccountID
	Kind      EntryKind
	Reference string
	Field     string // "available" or "locked"
	Computed  Amount
}

func (e *InvariantViolationError) Error() string {
	return fmt.Sprintf("invariant violation on %s: %s/%s would set %s to %v",
		e.AccountID, e.Kind, e.Reference, e.Field, e.Computed)
}

func (e *InvariantViolationError) Unwrap() error {
	return ErrInvariantViolation
}

// ValidationError reports malformed input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInsufficientBalance)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrAccountNotFound)
}
