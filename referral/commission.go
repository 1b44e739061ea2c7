/*
Package referral credits commissions to referrers.

PURPOSE:
  When an account with a referrer deposits or opens a position, the
  referrer earns amount x rate. The engine observes ledger entries and
  pays at most once per qualifying event: the COMMISSION mutation is
  keyed by the originating entry id, so however often the trigger is
  replayed, the notifications collapse onto one credit. The replays are
  load-bearing: a credit that failed transiently is re-attempted when
  the same trigger is next redelivered.

NON-GOALS:
  Tier/qualification rules. One commission entry per qualifying event,
  nothing more.
*/
package referral

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/yield-engine/ledger"
)

// Engine implements ledger.EntryObserver.
type Engine struct {
	Accounts ledger.Store
	Mutator  *ledger.Mutator
	Rate     decimal.Decimal
	Log      *zap.SugaredLogger
}

func NewEngine(accounts ledger.Store, mutator *ledger.Mutator, rate decimal.Decimal, log *zap.SugaredLogger) *Engine {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Engine{Accounts: accounts, Mutator: mutator, Rate: rate, Log: log}
}

// OnEntryApplied credits the referrer for qualifying entries. Failures
// are logged, not propagated: a commission must never fail the deposit
// or investment that triggered it. A failed credit is re-attempted on
// the next replay of the same trigger, and the keying makes that safe.
func (e *Engine) OnEntryApplied(ctx context.Context, entry *ledger.LedgerEntry) {
	switch entry.Kind {
	case ledger.KindDeposit, ledger.KindInvestmentOpen:
	default:
		return
	}
	if e.Rate.IsZero() || e.Rate.IsNegative() {
		return
	}

	acct, err := e.Accounts.GetAccount(ctx, entry.AccountID)
	if err != nil {
		e.Log.Warnw("commission: load account", "account", entry.AccountID, "error", err)
		return
	}
	if acct.ReferrerID == nil || *acct.ReferrerID == acct.ID {
		return
	}

	commission := entry.Amount.Abs().Mul(e.Rate)
	if !commission.IsPositive() {
		return
	}

	// Keyed by the originating entry id: exactly one commission per
	// qualifying event.
	_, applied, err := e.Mutator.Apply(ctx, *acct.ReferrerID, ledger.KindCommission,
		string(entry.ID), commission, ledger.CommissionEffect)
	if err != nil {
		e.Log.Warnw("commission: credit referrer",
			"referrer", *acct.ReferrerID, "origin", entry.ID, "error", err)
		return
	}
	if applied {
		e.Log.Infow("commission credited",
			"referrer", *acct.ReferrerID, "origin_kind", entry.Kind, "amount", commission)
	}
}
