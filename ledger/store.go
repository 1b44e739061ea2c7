/*
store.go - Persistence interface for accounts and ledger entries

PURPOSE:
  Defines the interface between the mutation primitive and the database.
  Implementations must make ApplyMutation atomic: the account update and
  the entry insert either both land or neither does.

APPEND-ONLY CONTRACT:
  Entries are write-once. There is no way to update or delete an entry
  through this interface.

UNIQUENESS:
  Implementations must enforce uniqueness on (kind, reference_id), via a
  unique index or an equivalent atomic check, and report a violation as
  ErrDuplicateReference. The Mutator relies on this to close the race
  between two concurrent first-writers.

IMPLEMENTATIONS:
  - store/sqlite:  Production SQLite (WAL, unique indexes)
  - ledger/store:  In-memory, for tests
*/
package ledger

import "context"

// Store handles persistence of accounts and ledger entries.
type Store interface {
	// CreateAccount inserts a new account with zero balances. Returns
	// ErrAccountExists if the id is already taken.
	CreateAccount(ctx context.Context, acct *Account) error

	// GetAccount returns the account or ErrAccountNotFound.
	GetAccount(ctx context.Context, id AccountID) (*Account, error)

	// UpdateAccount persists account fields without writing an entry.
	// Reserved for bookkeeping-only mutations (withdrawal completion);
	// callers other than the Mutator must not use it.
	UpdateAccount(ctx context.Context, acct *Account) error

	// FindEntry returns the entry with the given idempotency pair, or
	// (nil, nil) if none exists.
	FindEntry(ctx context.Context, kind EntryKind, referenceID string) (*LedgerEntry, error)

	// ApplyMutation atomically writes the updated account and inserts the
	// entry. Returns ErrDuplicateReference if (kind, reference_id) is
	// already taken.
	ApplyMutation(ctx context.Context, acct *Account, entry *LedgerEntry) error

	// Entries returns all entries for an account ordered by creation.
	Entries(ctx context.Context, accountID AccountID) ([]LedgerEntry, error)
}
