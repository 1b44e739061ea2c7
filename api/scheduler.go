/*
scheduler.go - Background accrual and expiry scheduler

PURPOSE:
  Periodically runs the accrual engine over all active positions and
  sweeps expired withdrawal requests. Both operations are idempotent, so
  an extra tick (or a manual trigger racing a scheduled one) is harmless.

DESIGN:
  - Runs a background goroutine on a configurable tick interval
  - Each tick accrues due earnings, completes matured positions, then
    refunds expired withdrawal holds
  - RunNow serves the admin trigger endpoint and tests

USAGE:
  sched := NewAccrualScheduler(engine, workflow, interval, log)
  sched.Start()
  // ... later
  sched.Stop()

SEE ALSO:
  - handlers.go: TriggerAccrual endpoint (manual run)
  - invest/accrual.go: Engine.AccrueDue
  - funding/withdrawal.go: Workflow.ExpireSweep
*/
package api

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/yield-engine/funding"
	"github.com/warp/yield-engine/invest"
)

// AccrualScheduler drives periodic accrual runs and withdrawal expiry.
type AccrualScheduler struct {
	Engine   *invest.Engine
	Workflow *funding.Workflow
	Interval time.Duration
	Log      *zap.SugaredLogger

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewAccrualScheduler creates a scheduler. It does not start ticking
// until Start is called.
func NewAccrualScheduler(engine *invest.Engine, workflow *funding.Workflow, interval time.Duration, log *zap.SugaredLogger) *AccrualScheduler {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &AccrualScheduler{
		Engine:   engine,
		Workflow: workflow,
		Interval: interval,
		Log:      log,
	}
}

// Start begins the background loop. The first run happens immediately.
// A stopped scheduler may be started again.
func (s *AccrualScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		return
	}
	// Fresh channel per Start; the previous one was closed by Stop.
	s.stop = make(chan struct{})
	s.ticker = time.NewTicker(s.Interval)
	s.wg.Add(1)
	go s.run()

	s.Log.Infow("accrual scheduler started", "interval", s.Interval)
}

// Stop halts the loop and waits for an in-flight run to finish.
func (s *AccrualScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker == nil {
		return
	}
	s.ticker.Stop()
	close(s.stop)
	s.wg.Wait()
	s.ticker = nil

	s.Log.Infow("accrual scheduler stopped")
}

func (s *AccrualScheduler) run() {
	defer s.wg.Done()

	s.tick()
	for {
		select {
		case <-s.ticker.C:
			s.tick()
		case <-s.stop:
			return
		}
	}
}

func (s *AccrualScheduler) tick() {
	report, expired := s.RunNow(context.Background())
	if report.Accrued > 0 || report.Completed > 0 || expired > 0 || len(report.Errors) > 0 {
		s.Log.Infow("accrual run finished",
			"accrued", report.Accrued,
			"completed", report.Completed,
			"expired_withdrawals", expired,
			"errors", len(report.Errors))
	}
}

// RunNow executes one accrual pass and expiry sweep synchronously.
func (s *AccrualScheduler) RunNow(ctx context.Context) (invest.Report, int) {
	now := time.Now()

	report := s.Engine.AccrueDue(ctx, now)
	for _, pe := range report.Errors {
		s.Log.Warnw("position accrual failed", "position", pe.PositionID, "error", pe.Err)
	}

	expired, err := s.Workflow.ExpireSweep(ctx, now)
	if err != nil {
		s.Log.Warnw("withdrawal expiry sweep failed", "error", err)
	}

	return report, expired
}
