/*
accrual.go - The accrual engine

PURPOSE:
  AccrueDue walks every ACTIVE position and settles what has become due:
  per-period earnings for PERIODIC positions, the lump sum for matured
  MATURITY positions, and the principal release + completion for anything
  past its end time.

IDEMPOTENCY KEYS:
  PERIODIC earning:  "<position_id>|<period_index>"
  MATURITY earning:  "<position_id>|final"
  Principal release: "<position_id>"

  Because each key is consumed at most once, ten overlapping scheduler
  ticks over three elapsed periods still produce exactly three EARNING
  entries. A tick after completion is a guaranteed no-op: the close key
  is already consumed.

CRASH RECOVERY:
  Position bookkeeping (TotalEarned, LastAccruedPeriod) is derived from
  the anchored period index, not incremented per run. If a previous run
  credited the ledger but died before updating the position, the next run
  finds the earning keys consumed, recomputes the same bookkeeping and
  converges.

FAILURE ISOLATION:
  One position failing never aborts the batch. Each position's outcome is
  reported independently; failures retry on the next tick, which is safe
  because of the keys above.

CONCURRENCY:
  Positions are processed across an ants worker pool. The only
  serialization point is the per-account lock inside the ledger Mutator.
*/
package invest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/yield-engine/ledger"
)

// =============================================================================
// REPORT
// =============================================================================

// Report summarizes one AccrueDue run.
type Report struct {
	Accrued   int // newly applied EARNING entries
	Completed int // positions transitioned to COMPLETED
	Errors    []PositionError
}

// PositionError records a failure isolated to one position.
type PositionError struct {
	PositionID string
	Err        error
}

func (pe PositionError) Error() string {
	return fmt.Sprintf("position %s: %v", pe.PositionID, pe.Err)
}

// =============================================================================
// ENGINE
// =============================================================================

type Engine struct {
	Positions Store
	Mutator   *ledger.Mutator
	Pool      *ants.Pool // nil processes positions serially
	Log       *zap.SugaredLogger
}

func NewEngine(positions Store, mutator *ledger.Mutator, pool *ants.Pool, log *zap.SugaredLogger) *Engine {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Engine{Positions: positions, Mutator: mutator, Pool: pool, Log: log}
}

// AccrueDue settles every ACTIVE position against the clock value now.
func (e *Engine) AccrueDue(ctx context.Context, now time.Time) Report {
	positions, err := e.Positions.ListActivePositions(ctx)
	if err != nil {
		return Report{Errors: []PositionError{{PositionID: "", Err: fmt.Errorf("list active positions: %w", err)}}}
	}

	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		report Report
	)

	process := func(pos Position) {
		defer wg.Done()
		accrued, completed, perr := e.accruePosition(ctx, &pos, now)

		mu.Lock()
		defer mu.Unlock()
		report.Accrued += accrued
		if completed {
			report.Completed++
		}
		if perr != nil {
			report.Errors = append(report.Errors, PositionError{PositionID: pos.ID, Err: perr})
		}
	}

	for _, pos := range positions {
		pos := pos
		wg.Add(1)
		if e.Pool != nil {
			if err := e.Pool.Submit(func() { process(pos) }); err != nil {
				// Pool rejected the task (released or overloaded);
				// fall back to inline processing.
				process(pos)
			}
		} else {
			process(pos)
		}
	}
	wg.Wait()

	if report.Accrued > 0 || report.Completed > 0 || len(report.Errors) > 0 {
		e.Log.Infow("accrual run finished",
			"accrued", report.Accrued,
			"completed", report.Completed,
			"errors", len(report.Errors),
		)
	}
	return report
}

// accruePosition settles one position. Returns the count of newly applied
// earnings and whether the position completed on this run.
func (e *Engine) accruePosition(ctx context.Context, pos *Position, now time.Time) (int, bool, error) {
	accrued := 0
	changed := false

	idx := pos.PeriodIndex(now)

	if pos.Payout == PayoutPeriodic && idx > pos.LastAccruedPeriod {
		earning := pos.PeriodEarning()
		for i := pos.LastAccruedPeriod + 1; i <= idx; i++ {
			ref := fmt.Sprintf("%s|%d", pos.ID, i)
			_, applied, err := e.Mutator.Apply(ctx, pos.AccountID, ledger.KindEarning, ref, earning, ledger.EarnEffect)
			if err != nil {
				// Persist whatever progressed before the failure so the
				// next tick resumes from the right period.
				if uerr := e.Positions.UpdatePosition(ctx, pos); uerr != nil {
					e.Log.Warnw("update position after partial accrual", "position", pos.ID, "error", uerr)
				}
				return accrued, false, err
			}
			if applied {
				accrued++
			}
			pos.LastAccruedPeriod = i
			pos.TotalEarned = earning.Mul(decimal.NewFromInt(int64(i)))
			changed = true
		}
	}

	if pos.Matured(now) {
		if pos.Payout == PayoutMaturity {
			ref := pos.ID + "|final"
			_, applied, err := e.Mutator.Apply(ctx, pos.AccountID, ledger.KindEarning, ref, pos.MaturityEarning(), ledger.EarnEffect)
			if err != nil {
				return accrued, false, err
			}
			if applied {
				accrued++
			}
			pos.TotalEarned = pos.MaturityEarning()
			pos.LastAccruedPeriod = pos.Periods
			changed = true
		}

		_, closedNow, err := e.Mutator.Apply(ctx, pos.AccountID, ledger.KindInvestmentClose, pos.ID, pos.Principal, ledger.CloseEffect)
		if err != nil {
			return accrued, false, err
		}
		pos.Status = StatusCompleted
		changed = true

		if err := e.Positions.UpdatePosition(ctx, pos); err != nil {
			return accrued, false, fmt.Errorf("update position: %w", err)
		}
		return accrued, closedNow, nil
	}

	if changed {
		pos.UpdatedAt = now
		if err := e.Positions.UpdatePosition(ctx, pos); err != nil {
			return accrued, false, fmt.Errorf("update position: %w", err)
		}
	}
	return accrued, false, nil
}
