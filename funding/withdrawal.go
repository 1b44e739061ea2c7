/*
withdrawal.go - Withdrawal request state machine

PURPOSE:
  Drives a withdrawal from request through hold, decision and settlement:

     create ──▶ PENDING ──approve──▶ APPROVED ──complete──▶ COMPLETED
                  │  │                  │
                  │  └──expire──▶ EXPIRED ──refund──▶ REFUNDED
                  └─────reject──▶ REJECTED ──refund──▶ REFUNDED

  Funds leave the available balance at creation (WITHDRAWAL_HOLD) and are
  held on the request. Completion is bookkeeping only; rejection and
  expiry restore the hold (WITHDRAWAL_REFUND).

EXACTLY-ONCE REFUND:
  The refund mutation is keyed by the request id. An automatic expiry
  sweep racing a manual admin rejection resolves two ways: the status
  CAS lets only one transition win, and even if both reached the refund,
  the key admits a single WITHDRAWAL_REFUND entry. A refund that fails
  after the status transition is re-driven by the sweep until it lands.

STATUS TRANSITIONS:
  Transitions go through the store's compare-and-swap so concurrent
  decisions on the same request cannot both fire side effects.
*/
package funding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/yield-engine/ledger"
)

// =============================================================================
// WITHDRAWAL REQUEST
// =============================================================================

type WithdrawalStatus string

const (
	WithdrawalPending   WithdrawalStatus = "PENDING"
	WithdrawalApproved  WithdrawalStatus = "APPROVED"
	WithdrawalCompleted WithdrawalStatus = "COMPLETED"
	WithdrawalRejected  WithdrawalStatus = "REJECTED"
	WithdrawalExpired   WithdrawalStatus = "EXPIRED"
	WithdrawalRefunded  WithdrawalStatus = "REFUNDED"
)

type Withdrawal struct {
	ID          string
	AccountID   ledger.AccountID
	Amount      ledger.Amount
	Destination string
	Status      WithdrawalStatus
	Reason      string // rejection reason, if any
	TxRef       string // external payout reference, set on completion
	ExpiresAt   time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

var (
	// ErrWithdrawalNotFound is returned when the referenced request does not exist.
	ErrWithdrawalNotFound = errors.New("withdrawal not found")

	// ErrInvalidTransition is returned when a decision targets a request
	// that is not in an eligible status. The losing side of a decision
	// race sees this.
	ErrInvalidTransition = errors.New("invalid withdrawal status transition")
)

// WithdrawalStore handles persistence of withdrawal requests.
type WithdrawalStore interface {
	CreateWithdrawal(ctx context.Context, w *Withdrawal) error

	// GetWithdrawal returns the request or ErrWithdrawalNotFound.
	GetWithdrawal(ctx context.Context, id string) (*Withdrawal, error)

	// DeleteWithdrawal removes a request whose hold never landed. Only
	// the create path may call this.
	DeleteWithdrawal(ctx context.Context, id string) error

	// TransitionWithdrawal atomically moves the request from one of the
	// expected statuses to the target, recording reason/txRef when
	// non-empty. Returns false if the request was in none of them.
	TransitionWithdrawal(ctx context.Context, id string, from []WithdrawalStatus, to WithdrawalStatus, reason, txRef string) (bool, error)

	// ListSweepableWithdrawals returns PENDING requests whose ExpiresAt
	// is at or before now, plus EXPIRED and REJECTED requests whose
	// refund has not landed yet.
	ListSweepableWithdrawals(ctx context.Context, now time.Time) ([]Withdrawal, error)

	ListWithdrawals(ctx context.Context, accountID ledger.AccountID) ([]Withdrawal, error)
}

// =============================================================================
// WORKFLOW
// =============================================================================

type Workflow struct {
	Requests WithdrawalStore
	Mutator  *ledger.Mutator
	TTL      time.Duration
	Clock    func() time.Time
	Log      *zap.SugaredLogger
}

func NewWorkflow(requests WithdrawalStore, mutator *ledger.Mutator, ttl time.Duration, log *zap.SugaredLogger) *Workflow {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Workflow{Requests: requests, Mutator: mutator, TTL: ttl, Clock: time.Now, Log: log}
}

// Create opens a withdrawal request and holds the funds. Fails with
// InsufficientBalanceError when amount exceeds the available balance, with
// zero side effects.
func (wf *Workflow) Create(ctx context.Context, accountID ledger.AccountID, amount ledger.Amount, destination string) (*Withdrawal, error) {
	if !amount.IsPositive() {
		return nil, &ledger.ValidationError{Field: "amount", Message: "must be positive"}
	}
	if destination == "" {
		return nil, &ledger.ValidationError{Field: "destination", Message: "must not be empty"}
	}

	acct, err := wf.Mutator.Store().GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if amount.GreaterThan(acct.Available) {
		return nil, &ledger.InsufficientBalanceError{
			AccountID: accountID,
			Available: acct.Available,
			Requested: amount,
		}
	}

	now := wf.Clock()
	w := &Withdrawal{
		ID:          uuid.NewString(),
		AccountID:   accountID,
		Amount:      amount,
		Destination: destination,
		Status:      WithdrawalPending,
		ExpiresAt:   now.Add(wf.TTL),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := wf.Requests.CreateWithdrawal(ctx, w); err != nil {
		return nil, fmt.Errorf("create withdrawal: %w", err)
	}

	// The hold is keyed by the request id, so a crashed-and-retried
	// create cannot double-debit.
	_, _, err = wf.Mutator.Apply(ctx, accountID, ledger.KindWithdrawalHold, w.ID, amount.Neg(), ledger.HoldEffect)
	if err != nil {
		// No funds were held; the request must not stay visible, or a
		// later reject would refund money that never left.
		if derr := wf.Requests.DeleteWithdrawal(ctx, w.ID); derr != nil {
			wf.Log.Errorw("delete withdrawal after failed hold", "id", w.ID, "error", derr)
		}
		var iv *ledger.InvariantViolationError
		if errors.As(err, &iv) {
			return nil, &ledger.InsufficientBalanceError{
				AccountID: accountID,
				Available: iv.Computed.Add(amount),
				Requested: amount,
			}
		}
		return nil, err
	}
	return w, nil
}

// Approve moves PENDING -> APPROVED. No balance change: the funds were
// held at creation.
func (wf *Workflow) Approve(ctx context.Context, id string) (*Withdrawal, error) {
	ok, err := wf.Requests.TransitionWithdrawal(ctx, id,
		[]WithdrawalStatus{WithdrawalPending}, WithdrawalApproved, "", "")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, wf.transitionErr(ctx, id)
	}
	return wf.Requests.GetWithdrawal(ctx, id)
}

// Complete moves APPROVED -> COMPLETED after the external payout
// succeeded, and bumps total_withdrawn. The CAS fires at most once, so
// the bookkeeping is exactly-once even under retried admin calls.
func (wf *Workflow) Complete(ctx context.Context, id, txRef string) (*Withdrawal, error) {
	w, err := wf.Requests.GetWithdrawal(ctx, id)
	if err != nil {
		return nil, err
	}
	ok, err := wf.Requests.TransitionWithdrawal(ctx, id,
		[]WithdrawalStatus{WithdrawalApproved}, WithdrawalCompleted, "", txRef)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, wf.transitionErr(ctx, id)
	}
	if err := wf.Mutator.RecordWithdrawn(ctx, w.AccountID, w.Amount); err != nil {
		return nil, err
	}
	return wf.Requests.GetWithdrawal(ctx, id)
}

// Reject declines a PENDING or APPROVED request and refunds the hold.
func (wf *Workflow) Reject(ctx context.Context, id, reason string) (*Withdrawal, error) {
	return wf.decline(ctx, id, WithdrawalRejected, reason)
}

// Expire times out an overdue PENDING request and refunds the hold.
func (wf *Workflow) Expire(ctx context.Context, id string) (*Withdrawal, error) {
	return wf.decline(ctx, id, WithdrawalExpired, "expired")
}

func (wf *Workflow) decline(ctx context.Context, id string, to WithdrawalStatus, reason string) (*Withdrawal, error) {
	w, err := wf.Requests.GetWithdrawal(ctx, id)
	if err != nil {
		return nil, err
	}

	from := []WithdrawalStatus{WithdrawalPending, WithdrawalApproved}
	if to == WithdrawalExpired {
		// Only unapproved requests expire; approved ones wait for an
		// explicit decision.
		from = []WithdrawalStatus{WithdrawalPending}
	}

	ok, err := wf.Requests.TransitionWithdrawal(ctx, id, from, to, reason, "")
	if err != nil {
		return nil, err
	}
	if !ok && w.Status != to {
		// Lost the decision race, or the request already settled.
		return nil, wf.transitionErr(ctx, id)
	}

	// Keyed by request id: a sweep racing an admin reject yields exactly
	// one refund no matter who gets here.
	_, applied, err := wf.Mutator.Apply(ctx, w.AccountID, ledger.KindWithdrawalRefund, w.ID, w.Amount, ledger.RefundEffect)
	if err != nil {
		return nil, err
	}
	if applied {
		wf.Log.Infow("withdrawal refunded", "id", w.ID, "account", w.AccountID, "amount", w.Amount)
	}

	if _, err := wf.Requests.TransitionWithdrawal(ctx, id,
		[]WithdrawalStatus{to}, WithdrawalRefunded, "", ""); err != nil {
		return nil, err
	}
	return wf.Requests.GetWithdrawal(ctx, id)
}

// ExpireSweep expires every overdue PENDING request. It also re-drives
// EXPIRED and REJECTED requests whose refund was interrupted, so a
// transient store failure between the status swap and the refund cannot
// strand the hold. Failures are isolated per request and retried on the
// next sweep.
func (wf *Workflow) ExpireSweep(ctx context.Context, now time.Time) (int, error) {
	due, err := wf.Requests.ListSweepableWithdrawals(ctx, now)
	if err != nil {
		return 0, err
	}
	settled := 0
	for _, w := range due {
		var err error
		if w.Status == WithdrawalRejected {
			// The reject landed but its refund did not; finish it.
			_, err = wf.Reject(ctx, w.ID, w.Reason)
		} else {
			_, err = wf.Expire(ctx, w.ID)
		}
		if err != nil {
			if errors.Is(err, ErrInvalidTransition) {
				// An admin decision beat the sweep to it.
				continue
			}
			wf.Log.Warnw("settle withdrawal", "id", w.ID, "status", w.Status, "error", err)
			continue
		}
		settled++
	}
	return settled, nil
}

func (wf *Workflow) transitionErr(ctx context.Context, id string) error {
	w, err := wf.Requests.GetWithdrawal(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: request %s is %s", ErrInvalidTransition, id, w.Status)
}
