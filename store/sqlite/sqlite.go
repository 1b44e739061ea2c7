/*
Package sqlite provides the SQLite-backed implementation of every storage
interface in the engine.

INTERFACES IMPLEMENTED:
  ledger.Store:            Accounts and the append-only entry log
  invest.Store:            Positions
  funding.DepositStore:    Deposit records
  funding.WithdrawalStore: Withdrawal requests

IDEMPOTENCY ENFORCEMENT:
  The entries table carries UNIQUE(kind, reference_id). ApplyMutation
  reports a violation as ledger.ErrDuplicateReference so the Mutator can
  fall back to the no-op path. Deposit records carry a unique tx_hash for
  the same reason.

APPEND-ONLY ENFORCEMENT:
  There are no UPDATE or DELETE statements against the entries table.

ATOMICITY:
  ApplyMutation wraps the account update and entry insert in one SQL
  transaction. TransitionWithdrawal is a single conditional UPDATE, which
  is the compare-and-swap the withdrawal workflow relies on.

WAL MODE:
  Opened with WAL for better read concurrency and crash recovery.

AMOUNTS AND TIMES:
  Amounts are stored as decimal strings (never floats), times as RFC3339.

SEE ALSO:
  - ledger/store.go:     Interface contract
  - ledger/store:        In-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/yield-engine/funding"
	"github.com/warp/yield-engine/invest"
	"github.com/warp/yield-engine/ledger"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// The sqlite3 driver serializes writes anyway; a single connection
	// avoids SQLITE_BUSY under concurrent accrual workers.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	-- Accounts (balances, only ever written through the Mutator)
	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		referrer_id TEXT,
		available TEXT NOT NULL,
		locked TEXT NOT NULL,
		total_deposited TEXT NOT NULL,
		total_withdrawn TEXT NOT NULL,
		total_earned TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Ledger entries (append-only, no UPDATE or DELETE ever)
	CREATE TABLE IF NOT EXISTS entries (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		amount TEXT NOT NULL,
		balance_before TEXT NOT NULL,
		balance_after TEXT NOT NULL,
		reference_id TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	-- CRITICAL: the system's idempotency guarantee. At most one entry
	-- per (kind, reference_id).
	CREATE UNIQUE INDEX IF NOT EXISTS idx_entries_kind_reference
		ON entries(kind, reference_id);
	CREATE INDEX IF NOT EXISTS idx_entries_account
		ON entries(account_id, created_at);

	-- Positions
	CREATE TABLE IF NOT EXISTS positions (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		principal TEXT NOT NULL,
		rate_per_period TEXT NOT NULL,
		total_rate TEXT NOT NULL,
		period_length_ns INTEGER NOT NULL,
		periods INTEGER NOT NULL,
		payout TEXT NOT NULL,
		start_time TEXT NOT NULL,
		end_time TEXT NOT NULL,
		status TEXT NOT NULL,
		total_earned TEXT NOT NULL,
		last_accrued_period INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_positions_account
		ON positions(account_id);
	CREATE INDEX IF NOT EXISTS idx_positions_status
		ON positions(status);

	-- Deposit records, deduplicated by external tx hash
	CREATE TABLE IF NOT EXISTS deposits (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		tx_hash TEXT NOT NULL UNIQUE,
		amount TEXT NOT NULL,
		status TEXT NOT NULL,
		confirmations INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_deposits_account
		ON deposits(account_id);

	-- Withdrawal requests
	CREATE TABLE IF NOT EXISTS withdrawals (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		destination TEXT NOT NULL,
		status TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		tx_ref TEXT NOT NULL DEFAULT '',
		expires_at TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_withdrawals_account
		ON withdrawals(account_id);
	CREATE INDEX IF NOT EXISTS idx_withdrawals_status_expiry
		ON withdrawals(status, expires_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// ACCOUNTS + ENTRIES (ledger.Store interface)
// =============================================================================

func (s *Store) CreateAccount(ctx context.Context, acct *ledger.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var referrer sql.NullString
	if acct.ReferrerID != nil {
		referrer = sql.NullString{String: string(*acct.ReferrerID), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts
		(id, referrer_id, available, locked, total_deposited, total_withdrawn, total_earned, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		acct.ID, referrer,
		acct.Available.String(), acct.Locked.String(),
		acct.TotalDeposited.String(), acct.TotalWithdrawn.String(), acct.TotalEarned.String(),
		acct.CreatedAt.UTC().Format(time.RFC3339Nano),
		acct.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ledger.ErrAccountExists
		}
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

func (s *Store) GetAccount(ctx context.Context, id ledger.AccountID) (*ledger.Account, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, referrer_id, available, locked, total_deposited, total_withdrawn, total_earned, created_at, updated_at
		FROM accounts WHERE id = ?`, id)
	return scanAccount(row)
}

func (s *Store) UpdateAccount(ctx context.Context, acct *ledger.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE accounts
		SET available = ?, locked = ?, total_deposited = ?, total_withdrawn = ?, total_earned = ?, updated_at = ?
		WHERE id = ?`,
		acct.Available.String(), acct.Locked.String(),
		acct.TotalDeposited.String(), acct.TotalWithdrawn.String(), acct.TotalEarned.String(),
		acct.UpdatedAt.UTC().Format(time.RFC3339Nano),
		acct.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update account: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ledger.ErrAccountNotFound
	}
	return nil
}

func (s *Store) FindEntry(ctx context.Context, kind ledger.EntryKind, referenceID string) (*ledger.LedgerEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, account_id, kind, amount, balance_before, balance_after, reference_id, created_at
		FROM entries WHERE kind = ? AND reference_id = ?`, kind, referenceID)

	entry, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// ApplyMutation writes the account and the entry in one SQL transaction.
func (s *Store) ApplyMutation(ctx context.Context, acct *ledger.Account, entry *ledger.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO entries
		(id, account_id, kind, amount, balance_before, balance_after, reference_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.AccountID, entry.Kind,
		entry.Amount.String(), entry.BalanceBefore.String(), entry.BalanceAfter.String(),
		entry.ReferenceID,
		entry.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ledger.ErrDuplicateReference
		}
		return fmt.Errorf("failed to insert entry: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE accounts
		SET available = ?, locked = ?, total_deposited = ?, total_withdrawn = ?, total_earned = ?, updated_at = ?
		WHERE id = ?`,
		acct.Available.String(), acct.Locked.String(),
		acct.TotalDeposited.String(), acct.TotalWithdrawn.String(), acct.TotalEarned.String(),
		acct.UpdatedAt.UTC().Format(time.RFC3339Nano),
		acct.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update account: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ledger.ErrAccountNotFound
	}

	return tx.Commit()
}

func (s *Store) Entries(ctx context.Context, accountID ledger.AccountID) ([]ledger.LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, kind, amount, balance_before, balance_after, reference_id, created_at
		FROM entries WHERE account_id = ? ORDER BY created_at, id`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []ledger.LedgerEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	return entries, rows.Err()
}

// =============================================================================
// POSITIONS (invest.Store interface)
// =============================================================================

func (s *Store) CreatePosition(ctx context.Context, pos *invest.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO positions
		(id, account_id, principal, rate_per_period, total_rate, period_length_ns, periods,
		 payout, start_time, end_time, status, total_earned, last_accrued_period, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		pos.ID, pos.AccountID,
		pos.Principal.String(), pos.RatePerPeriod.String(), pos.TotalRate.String(),
		pos.PeriodLength.Nanoseconds(), pos.Periods, pos.Payout,
		pos.StartTime.UTC().Format(time.RFC3339Nano),
		pos.EndTime.UTC().Format(time.RFC3339Nano),
		pos.Status, pos.TotalEarned.String(), pos.LastAccruedPeriod,
		pos.CreatedAt.UTC().Format(time.RFC3339Nano),
		pos.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to create position: %w", err)
	}
	return nil
}

func (s *Store) GetPosition(ctx context.Context, id string) (*invest.Position, error) {
	row := s.db.QueryRowContext(ctx, selectPositions+` WHERE id = ?`, id)
	pos, err := scanPosition(row)
	if err == sql.ErrNoRows {
		return nil, invest.ErrPositionNotFound
	}
	return pos, err
}

func (s *Store) ListPositions(ctx context.Context, accountID ledger.AccountID, status *invest.Status) ([]invest.Position, error) {
	query := selectPositions + ` WHERE account_id = ?`
	args := []any{accountID}
	if status != nil {
		query += ` AND status = ?`
		args = append(args, *status)
	}
	query += ` ORDER BY created_at, id`
	return s.queryPositions(ctx, query, args...)
}

func (s *Store) ListActivePositions(ctx context.Context) ([]invest.Position, error) {
	return s.queryPositions(ctx, selectPositions+` WHERE status = ? ORDER BY created_at, id`, invest.StatusActive)
}

func (s *Store) UpdatePosition(ctx context.Context, pos *invest.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE positions
		SET status = ?, total_earned = ?, last_accrued_period = ?, updated_at = ?
		WHERE id = ?`,
		pos.Status, pos.TotalEarned.String(), pos.LastAccruedPeriod,
		pos.UpdatedAt.UTC().Format(time.RFC3339Nano),
		pos.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update position: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return invest.ErrPositionNotFound
	}
	return nil
}

func (s *Store) queryPositions(ctx context.Context, query string, args ...any) ([]invest.Position, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []invest.Position
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, *pos)
	}
	return positions, rows.Err()
}

// =============================================================================
// DEPOSITS (funding.DepositStore interface)
// =============================================================================

func (s *Store) CreateDeposit(ctx context.Context, dep *funding.Deposit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO deposits
		(id, account_id, tx_hash, amount, status, confirmations, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		dep.ID, dep.AccountID, dep.TxHash,
		dep.Amount.String(), dep.Status, dep.Confirmations,
		dep.CreatedAt.UTC().Format(time.RFC3339Nano),
		dep.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ledger.ErrDuplicateReference
		}
		return fmt.Errorf("failed to create deposit: %w", err)
	}
	return nil
}

func (s *Store) GetDepositByTxHash(ctx context.Context, txHash string) (*funding.Deposit, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, account_id, tx_hash, amount, status, confirmations, created_at, updated_at
		FROM deposits WHERE tx_hash = ?`, txHash)
	dep, err := scanDeposit(row)
	if err == sql.ErrNoRows {
		return nil, funding.ErrDepositNotFound
	}
	return dep, err
}

func (s *Store) UpdateDeposit(ctx context.Context, dep *funding.Deposit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE deposits SET status = ?, confirmations = ?, updated_at = ? WHERE id = ?`,
		dep.Status, dep.Confirmations,
		dep.UpdatedAt.UTC().Format(time.RFC3339Nano), dep.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update deposit: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return funding.ErrDepositNotFound
	}
	return nil
}

func (s *Store) ListDeposits(ctx context.Context, accountID ledger.AccountID) ([]funding.Deposit, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, tx_hash, amount, status, confirmations, created_at, updated_at
		FROM deposits WHERE account_id = ? ORDER BY created_at, id`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var deposits []funding.Deposit
	for rows.Next() {
		dep, err := scanDeposit(rows)
		if err != nil {
			return nil, err
		}
		deposits = append(deposits, *dep)
	}
	return deposits, rows.Err()
}

// =============================================================================
// WITHDRAWALS (funding.WithdrawalStore interface)
// =============================================================================

func (s *Store) CreateWithdrawal(ctx context.Context, w *funding.Withdrawal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO withdrawals
		(id, account_id, amount, destination, status, reason, tx_ref, expires_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		w.ID, w.AccountID, w.Amount.String(), w.Destination, w.Status, w.Reason, w.TxRef,
		w.ExpiresAt.UTC().Format(time.RFC3339Nano),
		w.CreatedAt.UTC().Format(time.RFC3339Nano),
		w.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to create withdrawal: %w", err)
	}
	return nil
}

func (s *Store) GetWithdrawal(ctx context.Context, id string) (*funding.Withdrawal, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, account_id, amount, destination, status, reason, tx_ref, expires_at, created_at, updated_at
		FROM withdrawals WHERE id = ?`, id)
	w, err := scanWithdrawal(row)
	if err == sql.ErrNoRows {
		return nil, funding.ErrWithdrawalNotFound
	}
	return w, err
}

func (s *Store) DeleteWithdrawal(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `DELETE FROM withdrawals WHERE id = ?`, id)
	return err
}

// TransitionWithdrawal is the workflow's compare-and-swap: one conditional
// UPDATE, so two racing decisions cannot both observe an eligible status.
func (s *Store) TransitionWithdrawal(ctx context.Context, id string, from []funding.WithdrawalStatus, to funding.WithdrawalStatus, reason, txRef string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	placeholders := make([]string, len(from))
	args := []any{to}
	if reason != "" {
		args = append(args, reason)
	}
	if txRef != "" {
		args = append(args, txRef)
	}
	args = append(args, time.Now().UTC().Format(time.RFC3339Nano), id)
	for i, f := range from {
		placeholders[i] = "?"
		args = append(args, f)
	}

	set := "status = ?"
	if reason != "" {
		set += ", reason = ?"
	}
	if txRef != "" {
		set += ", tx_ref = ?"
	}
	set += ", updated_at = ?"

	query := fmt.Sprintf(
		`UPDATE withdrawals SET %s WHERE id = ? AND status IN (%s)`,
		set, strings.Join(placeholders, ","),
	)
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to transition withdrawal: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListSweepableWithdrawals returns overdue PENDING requests plus any
// EXPIRED or REJECTED request still holding an unrefunded amount.
func (s *Store) ListSweepableWithdrawals(ctx context.Context, now time.Time) ([]funding.Withdrawal, error) {
	return s.queryWithdrawals(ctx, `
		SELECT id, account_id, amount, destination, status, reason, tx_ref, expires_at, created_at, updated_at
		FROM withdrawals
		WHERE (status = ? AND expires_at <= ?) OR status IN (?, ?)
		ORDER BY expires_at`,
		funding.WithdrawalPending, now.UTC().Format(time.RFC3339Nano),
		funding.WithdrawalExpired, funding.WithdrawalRejected)
}

func (s *Store) ListWithdrawals(ctx context.Context, accountID ledger.AccountID) ([]funding.Withdrawal, error) {
	return s.queryWithdrawals(ctx, `
		SELECT id, account_id, amount, destination, status, reason, tx_ref, expires_at, created_at, updated_at
		FROM withdrawals WHERE account_id = ? ORDER BY created_at, id`, accountID)
}

func (s *Store) queryWithdrawals(ctx context.Context, query string, args ...any) ([]funding.Withdrawal, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var withdrawals []funding.Withdrawal
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, err
		}
		withdrawals = append(withdrawals, *w)
	}
	return withdrawals, rows.Err()
}

// =============================================================================
// SCAN HELPERS
// =============================================================================

const selectPositions = `
	SELECT id, account_id, principal, rate_per_period, total_rate, period_length_ns, periods,
	       payout, start_time, end_time, status, total_earned, last_accrued_period, created_at, updated_at
	FROM positions`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*ledger.Account, error) {
	var (
		acct      ledger.Account
		referrer  sql.NullString
		available, locked, deposited, withdrawn, earned string
		createdAt, updatedAt string
	)
	err := row.Scan(&acct.ID, &referrer, &available, &locked, &deposited, &withdrawn, &earned, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ledger.ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	if referrer.Valid {
		id := ledger.AccountID(referrer.String)
		acct.ReferrerID = &id
	}
	if acct.Available, err = ledger.ParseAmount(available); err != nil {
		return nil, err
	}
	if acct.Locked, err = ledger.ParseAmount(locked); err != nil {
		return nil, err
	}
	if acct.TotalDeposited, err = ledger.ParseAmount(deposited); err != nil {
		return nil, err
	}
	if acct.TotalWithdrawn, err = ledger.ParseAmount(withdrawn); err != nil {
		return nil, err
	}
	if acct.TotalEarned, err = ledger.ParseAmount(earned); err != nil {
		return nil, err
	}
	acct.CreatedAt = parseTime(createdAt)
	acct.UpdatedAt = parseTime(updatedAt)
	return &acct, nil
}

func scanEntry(row rowScanner) (*ledger.LedgerEntry, error) {
	var (
		entry   ledger.LedgerEntry
		amount, before, after, createdAt string
	)
	err := row.Scan(&entry.ID, &entry.AccountID, &entry.Kind, &amount, &before, &after, &entry.ReferenceID, &createdAt)
	if err != nil {
		return nil, err
	}
	if entry.Amount, err = ledger.ParseAmount(amount); err != nil {
		return nil, err
	}
	if entry.BalanceBefore, err = ledger.ParseAmount(before); err != nil {
		return nil, err
	}
	if entry.BalanceAfter, err = ledger.ParseAmount(after); err != nil {
		return nil, err
	}
	entry.CreatedAt = parseTime(createdAt)
	return &entry, nil
}

func scanPosition(row rowScanner) (*invest.Position, error) {
	var (
		pos       invest.Position
		principal, ratePerPeriod, totalRate, totalEarned string
		periodNS  int64
		startTime, endTime, createdAt, updatedAt string
	)
	err := row.Scan(&pos.ID, &pos.AccountID, &principal, &ratePerPeriod, &totalRate,
		&periodNS, &pos.Periods, &pos.Payout, &startTime, &endTime,
		&pos.Status, &totalEarned, &pos.LastAccruedPeriod, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	if pos.Principal, err = ledger.ParseAmount(principal); err != nil {
		return nil, err
	}
	if pos.RatePerPeriod, err = decimal.NewFromString(ratePerPeriod); err != nil {
		return nil, err
	}
	if pos.TotalRate, err = decimal.NewFromString(totalRate); err != nil {
		return nil, err
	}
	if pos.TotalEarned, err = ledger.ParseAmount(totalEarned); err != nil {
		return nil, err
	}
	pos.PeriodLength = time.Duration(periodNS)
	pos.StartTime = parseTime(startTime)
	pos.EndTime = parseTime(endTime)
	pos.CreatedAt = parseTime(createdAt)
	pos.UpdatedAt = parseTime(updatedAt)
	return &pos, nil
}

func scanDeposit(row rowScanner) (*funding.Deposit, error) {
	var (
		dep    funding.Deposit
		amount, createdAt, updatedAt string
	)
	err := row.Scan(&dep.ID, &dep.AccountID, &dep.TxHash, &amount, &dep.Status, &dep.Confirmations, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	if dep.Amount, err = ledger.ParseAmount(amount); err != nil {
		return nil, err
	}
	dep.CreatedAt = parseTime(createdAt)
	dep.UpdatedAt = parseTime(updatedAt)
	return &dep, nil
}

func scanWithdrawal(row rowScanner) (*funding.Withdrawal, error) {
	var (
		w      funding.Withdrawal
		amount, expiresAt, createdAt, updatedAt string
	)
	err := row.Scan(&w.ID, &w.AccountID, &amount, &w.Destination, &w.Status, &w.Reason, &w.TxRef, &expiresAt, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	if w.Amount, err = ledger.ParseAmount(amount); err != nil {
		return nil, err
	}
	w.ExpiresAt = parseTime(expiresAt)
	w.CreatedAt = parseTime(createdAt)
	w.UpdatedAt = parseTime(updatedAt)
	return &w, nil
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
