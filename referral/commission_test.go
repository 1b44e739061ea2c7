package referral_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/yield-engine/funding"
	"github.com/warp/yield-engine/invest"
	"github.com/warp/yield-engine/ledger"
	"github.com/warp/yield-engine/referral"
	"github.com/warp/yield-engine/store/sqlite"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

type fixture struct {
	store   *sqlite.Store
	mutator *ledger.Mutator
}

// newFixture wires a mutator with the commission observer at 5%.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	m := ledger.NewMutator(st)
	m.AddObserver(referral.NewEngine(st, m, decimal.RequireFromString("0.05"), nil))
	return &fixture{store: st, mutator: m}
}

func (f *fixture) createAccount(t *testing.T, id string, referrer *ledger.AccountID) ledger.AccountID {
	t.Helper()
	acct := &ledger.Account{ID: ledger.AccountID(id), ReferrerID: referrer}
	require.NoError(t, f.store.CreateAccount(context.Background(), acct))
	return acct.ID
}

func (f *fixture) available(t *testing.T, id ledger.AccountID) string {
	t.Helper()
	acct, err := f.store.GetAccount(context.Background(), id)
	require.NoError(t, err)
	return acct.Available.String()
}

// =============================================================================
// COMMISSION CREDITING
// =============================================================================

func TestCommission_OnDeposit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	referrer := f.createAccount(t, "referrer", nil)
	referee := f.createAccount(t, "referee", &referrer)

	_, _, err := f.mutator.Apply(ctx, referee, ledger.KindDeposit, "0xabc",
		ledger.MustParseAmount("1000"), ledger.DepositEffect)
	require.NoError(t, err)

	assert.Equal(t, "50", f.available(t, referrer))
	assert.Equal(t, "1000", f.available(t, referee))

	entries, err := f.store.Entries(ctx, referrer)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ledger.KindCommission, entries[0].Kind)
}

func TestCommission_OnPositionOpen(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	referrer := f.createAccount(t, "referrer", nil)
	referee := f.createAccount(t, "referee", &referrer)

	_, _, err := f.mutator.Apply(ctx, referee, ledger.KindDeposit, "0xabc",
		ledger.MustParseAmount("1000"), ledger.DepositEffect)
	require.NoError(t, err)

	svc := invest.NewService(f.store, f.mutator)
	_, err = svc.Open(ctx, invest.OpenInput{
		AccountID:     referee,
		Principal:     ledger.MustParseAmount("400"),
		RatePerPeriod: decimal.RequireFromString("0.02"),
		PeriodLength:  24 * time.Hour,
		Periods:       10,
		Payout:        invest.PayoutPeriodic,
	})
	require.NoError(t, err)

	// 50 from the deposit plus 20 from the opened position.
	assert.Equal(t, "70", f.available(t, referrer))
}

func TestCommission_RetriesDoNotDoublePay(t *testing.T) {
	// The deposit is replayed and the observer fires every time; the
	// keyed COMMISSION mutation pays once.

	ctx := context.Background()
	f := newFixture(t)
	referrer := f.createAccount(t, "referrer", nil)
	referee := f.createAccount(t, "referee", &referrer)

	for i := 0; i < 5; i++ {
		_, _, err := f.mutator.Apply(ctx, referee, ledger.KindDeposit, "0xabc",
			ledger.MustParseAmount("1000"), ledger.DepositEffect)
		require.NoError(t, err)
	}

	assert.Equal(t, "50", f.available(t, referrer))

	entries, err := f.store.Entries(ctx, referrer)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

// commissionFaultStore fails the first n COMMISSION mutations.
type commissionFaultStore struct {
	*sqlite.Store
	failures int
}

func (s *commissionFaultStore) ApplyMutation(ctx context.Context, acct *ledger.Account, entry *ledger.LedgerEntry) error {
	if entry.Kind == ledger.KindCommission && s.failures > 0 {
		s.failures--
		return errors.New("store unavailable")
	}
	return s.Store.ApplyMutation(ctx, acct, entry)
}

func TestCommission_FailedCreditRecoversOnReplay(t *testing.T) {
	// GIVEN: The commission credit fails transiently on the first deposit
	// WHEN: The chain watcher redelivers the same transfer
	// THEN: The replayed notification re-drives the credit

	ctx := context.Background()
	st, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	faulty := &commissionFaultStore{Store: st, failures: 1}
	m := ledger.NewMutator(faulty)
	m.AddObserver(referral.NewEngine(faulty, m, decimal.RequireFromString("0.05"), nil))
	f := &fixture{store: st, mutator: m}

	referrer := f.createAccount(t, "referrer", nil)
	referee := f.createAccount(t, "referee", &referrer)

	// The deposit itself lands; only the commission was lost.
	_, _, err = m.Apply(ctx, referee, ledger.KindDeposit, "0xabc",
		ledger.MustParseAmount("100"), ledger.DepositEffect)
	require.NoError(t, err)
	assert.Equal(t, "100", f.available(t, referee))
	assert.Equal(t, "0", f.available(t, referrer))

	_, applied, err := m.Apply(ctx, referee, ledger.KindDeposit, "0xabc",
		ledger.MustParseAmount("100"), ledger.DepositEffect)
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, "5", f.available(t, referrer))

	entries, err := f.store.Entries(ctx, referrer)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ledger.KindCommission, entries[0].Kind)
}

func TestCommission_NoReferrerNoCommission(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	loner := f.createAccount(t, "loner", nil)

	_, _, err := f.mutator.Apply(ctx, loner, ledger.KindDeposit, "0xabc",
		ledger.MustParseAmount("1000"), ledger.DepositEffect)
	require.NoError(t, err)

	entries, err := f.store.Entries(ctx, loner)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ledger.KindDeposit, entries[0].Kind)
}

func TestCommission_NonQualifyingKindsIgnored(t *testing.T) {
	// Earnings, refunds, and commissions themselves never cascade into
	// further commissions.

	ctx := context.Background()
	f := newFixture(t)
	referrer := f.createAccount(t, "referrer", nil)
	referee := f.createAccount(t, "referee", &referrer)

	_, _, err := f.mutator.Apply(ctx, referee, ledger.KindDeposit, "0xabc",
		ledger.MustParseAmount("100"), ledger.DepositEffect)
	require.NoError(t, err)

	_, _, err = f.mutator.Apply(ctx, referee, ledger.KindEarning, "pos-1|1",
		ledger.MustParseAmount("10"), ledger.EarnEffect)
	require.NoError(t, err)

	entries, err := f.store.Entries(ctx, referrer)
	require.NoError(t, err)
	assert.Len(t, entries, 1) // only the deposit commission

	// A withdrawing referee does not claw anything back either.
	wf := funding.NewWorkflow(f.store, f.mutator, time.Hour, nil)
	_, err = wf.Create(ctx, referee, ledger.MustParseAmount("10"), "addr-1")
	require.NoError(t, err)

	entries, err = f.store.Entries(ctx, referrer)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	assert.Equal(t, "5", f.available(t, referrer))
}
