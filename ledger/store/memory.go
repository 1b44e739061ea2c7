// Package store provides an in-memory ledger.Store for tests and dev.
package store

import (
	"context"
	"sync"

	"github.com/warp/yield-engine/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu       sync.RWMutex
	accounts map[ledger.AccountID]ledger.Account
	entries  map[ledger.AccountID][]ledger.LedgerEntry
	byRef    map[refKey]ledger.LedgerEntry
}

type refKey struct {
	Kind      ledger.EntryKind
	Reference string
}

func NewMemory() *Memory {
	return &Memory{
		accounts: make(map[ledger.AccountID]ledger.Account),
		entries:  make(map[ledger.AccountID][]ledger.LedgerEntry),
		byRef:    make(map[refKey]ledger.LedgerEntry),
	}
}

func (m *Memory) CreateAccount(_ context.Context, acct *ledger.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[acct.ID]; ok {
		return ledger.ErrAccountExists
	}
	m.accounts[acct.ID] = *acct
	return nil
}

func (m *Memory) GetAccount(_ context.Context, id ledger.AccountID) (*ledger.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	acct, ok := m.accounts[id]
	if !ok {
		return nil, ledger.ErrAccountNotFound
	}
	copied := acct
	return &copied, nil
}

func (m *Memory) UpdateAccount(_ context.Context, acct *ledger.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[acct.ID]; !ok {
		return ledger.ErrAccountNotFound
	}
	m.accounts[acct.ID] = *acct
	return nil
}

func (m *Memory) FindEntry(_ context.Context, kind ledger.EntryKind, referenceID string) (*ledger.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.byRef[refKey{Kind: kind, Reference: referenceID}]
	if !ok {
		return nil, nil
	}
	copied := entry
	return &copied, nil
}

// ApplyMutation writes account and entry under one lock, mirroring the
// atomicity the SQLite store gets from a transaction.
func (m *Memory) ApplyMutation(_ context.Context, acct *ledger.Account, entry *ledger.LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := refKey{Kind: entry.Kind, Reference: entry.ReferenceID}
	if _, ok := m.byRef[k]; ok {
		return ledger.ErrDuplicateReference
	}
	if _, ok := m.accounts[acct.ID]; !ok {
		return ledger.ErrAccountNotFound
	}

	m.accounts[acct.ID] = *acct
	m.entries[entry.AccountID] = append(m.entries[entry.AccountID], *entry)
	m.byRef[k] = *entry
	return nil
}

func (m *Memory) Entries(_ context.Context, accountID ledger.AccountID) ([]ledger.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]ledger.LedgerEntry, len(m.entries[accountID]))
	copy(result, m.entries[accountID])
	return result, nil
}
