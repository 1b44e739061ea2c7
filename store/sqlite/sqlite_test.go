package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/yield-engine/funding"
	"github.com/warp/yield-engine/invest"
	"github.com/warp/yield-engine/ledger"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedAccount(t *testing.T, s *Store, id string) *ledger.Account {
	t.Helper()
	acct := &ledger.Account{ID: ledger.AccountID(id)}
	require.NoError(t, s.CreateAccount(context.Background(), acct))
	return acct
}

func testEntry(acct *ledger.Account, kind ledger.EntryKind, ref, amount string) *ledger.LedgerEntry {
	return &ledger.LedgerEntry{
		ID:            ledger.EntryID("entry-" + ref + string(kind)),
		AccountID:     acct.ID,
		Kind:          kind,
		Amount:        ledger.MustParseAmount(amount),
		BalanceBefore: ledger.Zero(),
		BalanceAfter:  ledger.MustParseAmount(amount),
		ReferenceID:   ref,
		CreatedAt:     time.Now().UTC(),
	}
}

// =============================================================================
// ENTRY UNIQUENESS
// =============================================================================

func TestApplyMutation_DuplicateKindReference(t *testing.T) {
	// The unique index on (kind, reference_id) is the idempotency
	// backstop: the second insert must fail with ErrDuplicateReference
	// and leave the account row untouched.

	ctx := context.Background()
	s := newTestStore(t)
	acct := seedAccount(t, s, "acct-1")

	acct.Available = ledger.MustParseAmount("100")
	require.NoError(t, s.ApplyMutation(ctx, acct, testEntry(acct, ledger.KindDeposit, "tx-1", "100")))

	acct.Available = ledger.MustParseAmount("200")
	err := s.ApplyMutation(ctx, acct, testEntry(acct, ledger.KindDeposit, "tx-1", "100"))
	assert.ErrorIs(t, err, ledger.ErrDuplicateReference)

	got, err := s.GetAccount(ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, "100", got.Available.String())

	// Same reference under a different kind is a different key.
	acct.Available = ledger.MustParseAmount("200")
	err = s.ApplyMutation(ctx, acct, testEntry(acct, ledger.KindEarning, "tx-1", "100"))
	assert.NoError(t, err)
}

func TestFindEntry_MissingReturnsNil(t *testing.T) {
	s := newTestStore(t)

	entry, err := s.FindEntry(context.Background(), ledger.KindDeposit, "nope")
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestAccount_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	ref := ledger.AccountID("referrer")
	seedAccount(t, s, string(ref))

	acct := &ledger.Account{
		ID:             "acct-1",
		ReferrerID:     &ref,
		Available:      ledger.MustParseAmount("10.5"),
		Locked:         ledger.MustParseAmount("2.25"),
		TotalDeposited: ledger.MustParseAmount("12.75"),
		TotalWithdrawn: ledger.Zero(),
		TotalEarned:    ledger.Zero(),
	}
	require.NoError(t, s.CreateAccount(ctx, acct))

	got, err := s.GetAccount(ctx, "acct-1")
	require.NoError(t, err)
	require.NotNil(t, got.ReferrerID)
	assert.Equal(t, ref, *got.ReferrerID)
	assert.Equal(t, "10.5", got.Available.String())
	assert.Equal(t, "2.25", got.Locked.String())

	_, err = s.GetAccount(ctx, "missing")
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)

	// A taken id is a conflict, not an opaque driver error.
	err = s.CreateAccount(ctx, &ledger.Account{ID: "acct-1"})
	assert.ErrorIs(t, err, ledger.ErrAccountExists)
}

// =============================================================================
// POSITIONS
// =============================================================================

func TestPosition_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedAccount(t, s, "acct-1")

	start := time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC)
	pos := &invest.Position{
		ID:            "pos-1",
		AccountID:     "acct-1",
		Principal:     ledger.MustParseAmount("1000"),
		RatePerPeriod: decimal.RequireFromString("0.02"),
		TotalRate:     decimal.Zero,
		PeriodLength:  24 * time.Hour,
		Periods:       30,
		Payout:        invest.PayoutPeriodic,
		StartTime:     start,
		EndTime:       start.Add(30 * 24 * time.Hour),
		Status:        invest.StatusActive,
		TotalEarned:   ledger.Zero(),
		CreatedAt:     start,
		UpdatedAt:     start,
	}
	require.NoError(t, s.CreatePosition(ctx, pos))

	got, err := s.GetPosition(ctx, "pos-1")
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, got.PeriodLength)
	assert.True(t, got.StartTime.Equal(start))
	assert.Equal(t, "0.02", got.RatePerPeriod.String())

	got.Status = invest.StatusCompleted
	got.LastAccruedPeriod = 30
	require.NoError(t, s.UpdatePosition(ctx, got))

	active, err := s.ListActivePositions(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	completed := invest.StatusCompleted
	list, err := s.ListPositions(ctx, "acct-1", &completed)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 30, list[0].LastAccruedPeriod)

	_, err = s.GetPosition(ctx, "missing")
	assert.ErrorIs(t, err, invest.ErrPositionNotFound)
}

// =============================================================================
// WITHDRAWAL TRANSITIONS
// =============================================================================

func seedWithdrawal(t *testing.T, s *Store, id string, status funding.WithdrawalStatus, expires time.Time) {
	t.Helper()
	now := time.Now().UTC()
	w := &funding.Withdrawal{
		ID:          id,
		AccountID:   "acct-1",
		Amount:      ledger.MustParseAmount("10"),
		Destination: "addr",
		Status:      status,
		ExpiresAt:   expires,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	require.NoError(t, s.CreateWithdrawal(context.Background(), w))
}

func TestTransitionWithdrawal_CompareAndSwap(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedAccount(t, s, "acct-1")
	seedWithdrawal(t, s, "wd-1", funding.WithdrawalPending, time.Now().Add(time.Hour))

	// Wrong source status: no-op.
	ok, err := s.TransitionWithdrawal(ctx, "wd-1",
		[]funding.WithdrawalStatus{funding.WithdrawalApproved}, funding.WithdrawalCompleted, "", "tx")
	require.NoError(t, err)
	assert.False(t, ok)

	// Matching source status wins and records the reason.
	ok, err = s.TransitionWithdrawal(ctx, "wd-1",
		[]funding.WithdrawalStatus{funding.WithdrawalPending, funding.WithdrawalApproved},
		funding.WithdrawalRejected, "bad destination", "")
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := s.GetWithdrawal(ctx, "wd-1")
	require.NoError(t, err)
	assert.Equal(t, funding.WithdrawalRejected, got.Status)
	assert.Equal(t, "bad destination", got.Reason)

	// The swap is single-shot: replaying it finds the status gone.
	ok, err = s.TransitionWithdrawal(ctx, "wd-1",
		[]funding.WithdrawalStatus{funding.WithdrawalPending}, funding.WithdrawalRejected, "", "")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestListSweepableWithdrawals(t *testing.T) {
	// PENDING only when overdue; EXPIRED and REJECTED always, until the
	// refund moves them to REFUNDED.

	ctx := context.Background()
	s := newTestStore(t)
	seedAccount(t, s, "acct-1")

	now := time.Now().UTC()
	seedWithdrawal(t, s, "wd-overdue", funding.WithdrawalPending, now.Add(-time.Minute))
	seedWithdrawal(t, s, "wd-fresh", funding.WithdrawalPending, now.Add(time.Hour))
	seedWithdrawal(t, s, "wd-approved", funding.WithdrawalApproved, now.Add(-time.Minute))
	seedWithdrawal(t, s, "wd-stuck-expired", funding.WithdrawalExpired, now.Add(time.Hour))
	seedWithdrawal(t, s, "wd-stuck-rejected", funding.WithdrawalRejected, now.Add(time.Hour))
	seedWithdrawal(t, s, "wd-refunded", funding.WithdrawalRefunded, now.Add(-time.Minute))

	due, err := s.ListSweepableWithdrawals(ctx, now)
	require.NoError(t, err)
	ids := make([]string, 0, len(due))
	for _, w := range due {
		ids = append(ids, w.ID)
	}
	assert.ElementsMatch(t, []string{"wd-overdue", "wd-stuck-expired", "wd-stuck-rejected"}, ids)
}

func TestDeleteWithdrawal(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedAccount(t, s, "acct-1")
	seedWithdrawal(t, s, "wd-1", funding.WithdrawalPending, time.Now().Add(time.Hour))

	require.NoError(t, s.DeleteWithdrawal(ctx, "wd-1"))
	_, err := s.GetWithdrawal(ctx, "wd-1")
	assert.ErrorIs(t, err, funding.ErrWithdrawalNotFound)
}
