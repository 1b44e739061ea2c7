package invest_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/yield-engine/invest"
	"github.com/warp/yield-engine/ledger"
	"github.com/warp/yield-engine/store/sqlite"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

type fixture struct {
	store   *sqlite.Store
	mutator *ledger.Mutator
	svc     *invest.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	m := ledger.NewMutator(st)
	return &fixture{store: st, mutator: m, svc: invest.NewService(st, m)}
}

func (f *fixture) fundedAccount(t *testing.T, id, amount string) ledger.AccountID {
	t.Helper()
	ctx := context.Background()
	acct := &ledger.Account{ID: ledger.AccountID(id)}
	require.NoError(t, f.store.CreateAccount(ctx, acct))
	_, _, err := f.mutator.Apply(ctx, acct.ID, ledger.KindDeposit, "seed-"+id,
		ledger.MustParseAmount(amount), ledger.DepositEffect)
	require.NoError(t, err)
	return acct.ID
}

func (f *fixture) account(t *testing.T, id ledger.AccountID) *ledger.Account {
	t.Helper()
	acct, err := f.store.GetAccount(context.Background(), id)
	require.NoError(t, err)
	return acct
}

func rate(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func periodicInput(id ledger.AccountID, principal, r string, periods int) invest.OpenInput {
	return invest.OpenInput{
		AccountID:     id,
		Principal:     ledger.MustParseAmount(principal),
		RatePerPeriod: rate(r),
		PeriodLength:  24 * time.Hour,
		Periods:       periods,
		Payout:        invest.PayoutPeriodic,
	}
}

// =============================================================================
// OPEN
// =============================================================================

func TestOpen_MovesPrincipalIntoLocked(t *testing.T) {
	f := newFixture(t)
	id := f.fundedAccount(t, "acct-1", "500")

	pos, err := f.svc.Open(context.Background(), periodicInput(id, "200", "0.02", 30))
	require.NoError(t, err)

	assert.Equal(t, invest.StatusActive, pos.Status)
	assert.Equal(t, "200", pos.Principal.String())
	assert.Equal(t, pos.StartTime.Add(30*24*time.Hour), pos.EndTime)

	acct := f.account(t, id)
	assert.Equal(t, "300", acct.Available.String())
	assert.Equal(t, "200", acct.Locked.String())
}

func TestOpen_InsufficientBalance(t *testing.T) {
	f := newFixture(t)
	id := f.fundedAccount(t, "acct-1", "100")

	_, err := f.svc.Open(context.Background(), periodicInput(id, "100.01", "0.02", 30))
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)

	// No partial effects.
	acct := f.account(t, id)
	assert.Equal(t, "100", acct.Available.String())
	assert.True(t, acct.Locked.IsZero())

	positions, err := f.store.ListPositions(context.Background(), id, nil)
	require.NoError(t, err)
	assert.Empty(t, positions)
}

func TestOpen_Validation(t *testing.T) {
	f := newFixture(t)
	id := f.fundedAccount(t, "acct-1", "100")
	ctx := context.Background()

	cases := []struct {
		name   string
		mutate func(*invest.OpenInput)
	}{
		{"zero principal", func(in *invest.OpenInput) { in.Principal = ledger.Zero() }},
		{"negative principal", func(in *invest.OpenInput) { in.Principal = ledger.MustParseAmount("-5") }},
		{"zero periods", func(in *invest.OpenInput) { in.Periods = 0 }},
		{"zero period length", func(in *invest.OpenInput) { in.PeriodLength = 0 }},
		{"zero rate", func(in *invest.OpenInput) { in.RatePerPeriod = decimal.Zero }},
		{"unknown payout", func(in *invest.OpenInput) { in.Payout = "SOMETIMES" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := periodicInput(id, "50", "0.02", 10)
			tc.mutate(&in)
			_, err := f.svc.Open(ctx, in)
			assert.ErrorIs(t, err, ledger.ErrValidation)
		})
	}
}

func TestOpen_MaturityRequiresTotalRate(t *testing.T) {
	f := newFixture(t)
	id := f.fundedAccount(t, "acct-1", "100")

	in := invest.OpenInput{
		AccountID:    id,
		Principal:    ledger.MustParseAmount("100"),
		PeriodLength: 24 * time.Hour,
		Periods:      5,
		Payout:       invest.PayoutMaturity,
	}
	_, err := f.svc.Open(context.Background(), in)
	assert.ErrorIs(t, err, ledger.ErrValidation)

	in.TotalRate = rate("1.2")
	_, err = f.svc.Open(context.Background(), in)
	assert.NoError(t, err)
}

// =============================================================================
// PERIOD MATH
// =============================================================================

func TestPosition_PeriodIndexAnchoredToStart(t *testing.T) {
	start := time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC)
	pos := &invest.Position{
		StartTime:    start,
		EndTime:      start.Add(10 * 24 * time.Hour),
		PeriodLength: 24 * time.Hour,
		Periods:      10,
	}

	assert.Equal(t, 0, pos.PeriodIndex(start))
	assert.Equal(t, 0, pos.PeriodIndex(start.Add(23*time.Hour)))
	assert.Equal(t, 1, pos.PeriodIndex(start.Add(24*time.Hour)))
	assert.Equal(t, 3, pos.PeriodIndex(start.Add(3*24*time.Hour+time.Minute)))
	// Capped at Periods no matter how late the clock runs.
	assert.Equal(t, 10, pos.PeriodIndex(start.Add(400*24*time.Hour)))

	assert.False(t, pos.Matured(start.Add(9*24*time.Hour)))
	assert.True(t, pos.Matured(start.Add(10*24*time.Hour)))
}
