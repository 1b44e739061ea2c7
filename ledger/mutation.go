/*
mutation.go - The idempotent ledger mutation primitive

PURPOSE:
  Every balance change in the system flows through Mutator.Apply. It is
  the sole writer of Account fields and the sole creator of LedgerEntry
  rows. Callers never touch balances directly.

APPLY SEMANTICS:
  1. If an entry with (kind, reference_id) already exists, return it
     unchanged as a successful no-op. Every caller is therefore safe to
     retry: duplicate scheduler ticks, replayed webhooks and repeated
     chain notifications all collapse onto the first application.
  2. Otherwise, under the per-account lock: read the account, apply the
     effect to a copy, reject with InvariantViolationError if any balance
     would go negative, then atomically persist the account and the entry.
  3. If the store reports ErrDuplicateReference (a concurrent first-writer
     won the unique index), re-read the winning entry and fall back to the
     no-op path.

SERIALIZATION:
  A striped per-account mutex serializes steps 1-2 for one account, so a
  concurrent accrual, withdrawal hold and commission credit on the same
  account cannot interleave into a lost update. Different accounts proceed
  in parallel. No external call is ever made while a lock is held.

OBSERVERS:
  After every successful Apply, new entry and idempotent replay alike,
  registered observers are notified outside the lock. Replays re-notify
  on purpose: an observer whose own keyed side effect failed transiently
  gets re-driven when the trigger is redelivered. The commission engine
  hangs off this hook.

SEE ALSO:
  - store.go:          Atomicity and uniqueness contract
  - referral:          EntryObserver implementation
*/
package ledger

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// EFFECTS - Named balance transformations
// =============================================================================

// Effect transforms an account's balances in place. Effects only compute;
// validation and persistence belong to the Mutator. An effect returns the
// name of the first balance field it would drive negative, or "".
type Effect func(acct *Account, amount Amount) string

// DepositEffect credits the available balance and the deposited total.
func DepositEffect(acct *Account, amount Amount) string {
	acct.Available = acct.Available.Add(amount)
	acct.TotalDeposited = acct.TotalDeposited.Add(amount)
	return ""
}

// OpenEffect moves principal from available into locked.
func OpenEffect(acct *Account, amount Amount) string {
	acct.Available = acct.Available.Sub(amount)
	acct.Locked = acct.Locked.Add(amount)
	if acct.Available.IsNegative() {
		return "available"
	}
	return ""
}

// EarnEffect credits an accrued earning.
func EarnEffect(acct *Account, amount Amount) string {
	acct.Available = acct.Available.Add(amount)
	acct.TotalEarned = acct.TotalEarned.Add(amount)
	return ""
}

// CloseEffect releases matured principal from locked back to available.
func CloseEffect(acct *Account, amount Amount) string {
	acct.Locked = acct.Locked.Sub(amount)
	acct.Available = acct.Available.Add(amount)
	if acct.Locked.IsNegative() {
		return "locked"
	}
	return ""
}

// HoldEffect removes a requested withdrawal from the available balance.
// The held funds live on the withdrawal request until completion or refund.
func HoldEffect(acct *Account, amount Amount) string {
	acct.Available = acct.Available.Sub(amount.Abs())
	if acct.Available.IsNegative() {
		return "available"
	}
	return ""
}

// RefundEffect restores a rejected or expired withdrawal hold.
func RefundEffect(acct *Account, amount Amount) string {
	acct.Available = acct.Available.Add(amount.Abs())
	return ""
}

// CommissionEffect credits a referrer commission.
func CommissionEffect(acct *Account, amount Amount) string {
	acct.Available = acct.Available.Add(amount)
	return ""
}

// =============================================================================
// ENTRY OBSERVER
// =============================================================================

// EntryObserver is notified after every successful Apply, including the
// idempotent no-op path. Observers must key their own side effects on
// the entry so a re-notification is safe; the replay is what retries a
// side effect that failed the first time around.
type EntryObserver interface {
	OnEntryApplied(ctx context.Context, entry *LedgerEntry)
}

// =============================================================================
// ACCOUNT LOCKS - Striped per-account serialization
// =============================================================================

const lockStripes = 64

type accountLocks struct {
	stripes [lockStripes]sync.Mutex
}

func (l *accountLocks) lock(id AccountID) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(id))
	return &l.stripes[h.Sum32()%lockStripes]
}

// =============================================================================
// MUTATOR - The single gate for balance changes
// =============================================================================

type Mutator struct {
	store     Store
	locks     accountLocks
	observers []EntryObserver
	clock     func() time.Time
}

func NewMutator(store Store) *Mutator {
	return &Mutator{store: store, clock: time.Now}
}

// AddObserver registers an observer for newly applied entries.
// Not safe to call after the Mutator is in use.
func (m *Mutator) AddObserver(o EntryObserver) {
	m.observers = append(m.observers, o)
}

// SetClock overrides the time source. Tests only.
func (m *Mutator) SetClock(clock func() time.Time) {
	m.clock = clock
}

// Store exposes the underlying store for read-only queries.
func (m *Mutator) Store() Store {
	return m.store
}

// Apply runs the idempotent mutation described in the file header.
// It returns the entry, whether it was newly applied (false means the
// idempotency key was already consumed), and an error.
func (m *Mutator) Apply(
	ctx context.Context,
	accountID AccountID,
	kind EntryKind,
	referenceID string,
	amount Amount,
	effect Effect,
) (*LedgerEntry, bool, error) {
	if referenceID == "" {
		return nil, false, &ValidationError{Field: "reference_id", Message: "must not be empty"}
	}

	entry, applied, err := m.apply(ctx, accountID, kind, referenceID, amount, effect)
	if err != nil {
		return nil, false, err
	}

	// Replays notify too, so an observer side effect that failed
	// transiently is re-driven by the next redelivery.
	for _, o := range m.observers {
		o.OnEntryApplied(ctx, entry)
	}
	return entry, applied, nil
}

func (m *Mutator) apply(
	ctx context.Context,
	accountID AccountID,
	kind EntryKind,
	referenceID string,
	amount Amount,
	effect Effect,
) (*LedgerEntry, bool, error) {
	mu := m.locks.lock(accountID)
	mu.Lock()
	defer mu.Unlock()

	// Fast path: key already consumed.
	existing, err := m.store.FindEntry(ctx, kind, referenceID)
	if err != nil {
		return nil, false, fmt.Errorf("lookup entry %s/%s: %w", kind, referenceID, err)
	}
	if existing != nil {
		return existing, false, nil
	}

	acct, err := m.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, false, err
	}

	before := acct.Total()
	if field := effect(acct, amount); field != "" {
		var computed Amount
		if field == "locked" {
			computed = acct.Locked
		} else {
			computed = acct.Available
		}
		return nil, false, &InvariantViolationError{
			AccountID: accountID,
			Kind:      kind,
			Reference: referenceID,
			Field:     field,
			Computed:  computed,
		}
	}
	now := m.clock()
	acct.UpdatedAt = now

	entry := &LedgerEntry{
		ID:            EntryID(uuid.NewString()),
		AccountID:     accountID,
		Kind:          kind,
		Amount:        amount,
		BalanceBefore: before,
		BalanceAfter:  acct.Total(),
		ReferenceID:   referenceID,
		CreatedAt:     now,
	}

	err = m.store.ApplyMutation(ctx, acct, entry)
	if errors.Is(err, ErrDuplicateReference) {
		// A concurrent writer for the same key won the unique index.
		// Their entry is the truth; ours never happened.
		winner, ferr := m.store.FindEntry(ctx, kind, referenceID)
		if ferr != nil {
			return nil, false, ferr
		}
		return winner, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("apply %s/%s: %w", kind, referenceID, err)
	}
	return entry, true, nil
}

// RecordWithdrawn bumps total_withdrawn when a withdrawal completes. The
// funds left the available balance at hold time, so there is no entry and
// no balance change; this is lifetime-total bookkeeping, serialized under
// the same per-account lock as everything else. Exactly-once is guaranteed
// by the caller's APPROVED -> COMPLETED status transition.
func (m *Mutator) RecordWithdrawn(ctx context.Context, accountID AccountID, amount Amount) error {
	mu := m.locks.lock(accountID)
	mu.Lock()
	defer mu.Unlock()

	acct, err := m.store.GetAccount(ctx, accountID)
	if err != nil {
		return err
	}
	acct.TotalWithdrawn = acct.TotalWithdrawn.Add(amount.Abs())
	acct.UpdatedAt = m.clock()
	return m.store.UpdateAccount(ctx, acct)
}

// =============================================================================
// AUDIT - Ledger-derived balance check
// =============================================================================

// AuditResult compares the account's stored balances against the balance
// derived by replaying its ledger. The ledger is authoritative; any cached
// or denormalized balance must be rebuildable from it.
type AuditResult struct {
	AccountID  AccountID
	Stored     Amount // Available + Locked on the account row
	Derived    Amount // Sum of entry deltas
	Consistent bool
}

// Audit replays the account's entries and checks conservation: the sum of
// entry deltas must equal Available + Locked.
func (m *Mutator) Audit(ctx context.Context, accountID AccountID) (*AuditResult, error) {
	mu := m.locks.lock(accountID)
	mu.Lock()
	defer mu.Unlock()

	acct, err := m.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	entries, err := m.store.Entries(ctx, accountID)
	if err != nil {
		return nil, err
	}

	derived := Zero()
	for i := range entries {
		derived = derived.Add(entries[i].TotalDelta())
	}

	stored := acct.Total()
	return &AuditResult{
		AccountID:  accountID,
		Stored:     stored,
		Derived:    derived,
		Consistent: stored.Equal(derived),
	}, nil
}
