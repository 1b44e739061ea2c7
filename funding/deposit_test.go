package funding_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/yield-engine/funding"
	"github.com/warp/yield-engine/ledger"
	"github.com/warp/yield-engine/store/sqlite"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

type fixture struct {
	store   *sqlite.Store
	mutator *ledger.Mutator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return &fixture{store: st, mutator: ledger.NewMutator(st)}
}

func (f *fixture) createAccount(t *testing.T, id string) ledger.AccountID {
	t.Helper()
	acct := &ledger.Account{ID: ledger.AccountID(id)}
	require.NoError(t, f.store.CreateAccount(context.Background(), acct))
	return acct.ID
}

func (f *fixture) account(t *testing.T, id ledger.AccountID) *ledger.Account {
	t.Helper()
	acct, err := f.store.GetAccount(context.Background(), id)
	require.NoError(t, err)
	return acct
}

func transfer(account ledger.AccountID, hash, amount string, confirmations int) funding.ConfirmedTransfer {
	return funding.ConfirmedTransfer{
		AccountID:     account,
		TxHash:        hash,
		Amount:        amount,
		Confirmations: confirmations,
	}
}

// =============================================================================
// DEPOSIT RECONCILIATION
// =============================================================================

func TestReconciler_CreditsConfirmedTransfer(t *testing.T) {
	f := newFixture(t)
	id := f.createAccount(t, "acct-1")
	rec := funding.NewReconciler(f.store, f.mutator, 3, nil)

	dep, err := rec.OnConfirmedTransfer(context.Background(), transfer(id, "0xabc", "500", 6))
	require.NoError(t, err)
	assert.Equal(t, funding.DepositCredited, dep.Status)
	assert.Equal(t, "500", dep.Amount.String())

	acct := f.account(t, id)
	assert.Equal(t, "500", acct.Available.String())
	assert.Equal(t, "500", acct.TotalDeposited.String())
}

func TestReconciler_DuplicateTxHashCreditsOnce(t *testing.T) {
	// GIVEN: The watcher redelivers the same transfer five times
	// THEN: One DEPOSIT entry, one credit

	ctx := context.Background()
	f := newFixture(t)
	id := f.createAccount(t, "acct-1")
	rec := funding.NewReconciler(f.store, f.mutator, 3, nil)

	for i := 0; i < 5; i++ {
		dep, err := rec.OnConfirmedTransfer(ctx, transfer(id, "0xabc", "500", 6))
		require.NoError(t, err)
		assert.Equal(t, funding.DepositCredited, dep.Status)
	}

	acct := f.account(t, id)
	assert.Equal(t, "500", acct.Available.String())

	entries, err := f.store.Entries(ctx, id)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ledger.KindDeposit, entries[0].Kind)
	assert.Equal(t, "0xabc", entries[0].ReferenceID)

	deposits, err := f.store.ListDeposits(ctx, id)
	require.NoError(t, err)
	assert.Len(t, deposits, 1)
}

func TestReconciler_HoldsBelowConfirmationThreshold(t *testing.T) {
	// An underconfirmed transfer is recorded but not credited; the
	// credit lands when a later notification crosses the threshold.

	ctx := context.Background()
	f := newFixture(t)
	id := f.createAccount(t, "acct-1")
	rec := funding.NewReconciler(f.store, f.mutator, 3, nil)

	dep, err := rec.OnConfirmedTransfer(ctx, transfer(id, "0xabc", "500", 1))
	require.NoError(t, err)
	assert.Equal(t, funding.DepositPending, dep.Status)
	assert.True(t, f.account(t, id).Available.IsZero())

	// Confirmations only ratchet up.
	dep, err = rec.OnConfirmedTransfer(ctx, transfer(id, "0xabc", "500", 2))
	require.NoError(t, err)
	assert.Equal(t, funding.DepositPending, dep.Status)
	assert.Equal(t, 2, dep.Confirmations)

	dep, err = rec.OnConfirmedTransfer(ctx, transfer(id, "0xabc", "500", 3))
	require.NoError(t, err)
	assert.Equal(t, funding.DepositCredited, dep.Status)
	assert.Equal(t, "500", f.account(t, id).Available.String())
}

func TestReconciler_RejectsBadEvents(t *testing.T) {
	f := newFixture(t)
	id := f.createAccount(t, "acct-1")
	rec := funding.NewReconciler(f.store, f.mutator, 3, nil)
	ctx := context.Background()

	_, err := rec.OnConfirmedTransfer(ctx, transfer(id, "", "500", 6))
	assert.ErrorIs(t, err, ledger.ErrValidation)

	_, err = rec.OnConfirmedTransfer(ctx, transfer(id, "0x1", "not-a-number", 6))
	assert.ErrorIs(t, err, ledger.ErrValidation)

	_, err = rec.OnConfirmedTransfer(ctx, transfer(id, "0x2", "-5", 6))
	assert.ErrorIs(t, err, ledger.ErrValidation)

	_, err = rec.OnConfirmedTransfer(ctx, transfer("ghost", "0x3", "5", 6))
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)
}

// =============================================================================
// PAYMENT GATEWAY EVENTS
// =============================================================================

func TestReconciler_PaymentStatusSucceededCredits(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.createAccount(t, "acct-1")
	rec := funding.NewReconciler(f.store, f.mutator, 3, nil)

	ev := funding.PaymentStatus{
		OrderID:   "order-1",
		AccountID: id,
		Status:    "SUCCEEDED",
		Amount:    "75.50",
		TxRef:     "gw-001",
	}

	dep, err := rec.OnPaymentStatus(ctx, ev)
	require.NoError(t, err)
	require.NotNil(t, dep)
	assert.Equal(t, funding.DepositCredited, dep.Status)
	assert.Equal(t, "75.5", f.account(t, id).Available.String())

	// Gateway retries are as harmless as watcher redeliveries.
	_, err = rec.OnPaymentStatus(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, "75.5", f.account(t, id).Available.String())
}

func TestReconciler_PaymentStatusFailedIgnored(t *testing.T) {
	f := newFixture(t)
	id := f.createAccount(t, "acct-1")
	rec := funding.NewReconciler(f.store, f.mutator, 3, nil)

	dep, err := rec.OnPaymentStatus(context.Background(), funding.PaymentStatus{
		OrderID:   "order-1",
		AccountID: id,
		Status:    "FAILED",
		Amount:    "75.50",
		TxRef:     "gw-001",
	})
	require.NoError(t, err)
	assert.Nil(t, dep)
	assert.True(t, f.account(t, id).Available.IsZero())
}
