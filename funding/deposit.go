/*
Package funding moves money in and out of accounts.

deposit.go - Deposit reconciliation

PURPOSE:
  Consumes confirmed-transfer events from the chain watcher and payment
  gateway and credits balances. Events arrive at least once: duplicate
  watcher notifications and replayed webhooks are expected and must
  collapse onto a single credit.

DEDUPLICATION:
  The external transaction hash is the idempotency key. The DEPOSIT
  mutation is keyed by it, and the deposit record carries a unique index
  on it, so two notifications for the same "0xabc" produce exactly one
  DEPOSIT entry and one balance credit.

LIFECYCLE:
  PENDING    below the confirmation threshold
  CONFIRMED  threshold reached, credit not yet applied
  CREDITED   ledger mutation applied, exactly once
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
// DEPOSIT RECORD
// =============================================================================

type DepositStatus string

const (
	DepositPending   DepositStatus = "PENDING"
	DepositConfirmed DepositStatus = "CONFIRMED"
	DepositCredited  DepositStatus = "CREDITED"
)

type Deposit struct {
	ID            string
	AccountID     ledger.AccountID
	TxHash        string // unique external reference
	Amount        ledger.Amount
	Status        DepositStatus
	Confirmations int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ErrDepositNotFound is returned when the referenced deposit does not exist.
var ErrDepositNotFound = errors.New("deposit not found")

// DepositStore handles persistence of deposit records.
type DepositStore interface {
	CreateDeposit(ctx context.Context, dep *Deposit) error

	// GetDepositByTxHash returns the record or ErrDepositNotFound.
	GetDepositByTxHash(ctx context.Context, txHash string) (*Deposit, error)

	UpdateDeposit(ctx context.Context, dep *Deposit) error

	ListDeposits(ctx context.Context, accountID ledger.AccountID) ([]Deposit, error)
}

// =============================================================================
// CONFIRMED TRANSFER EVENT
// =============================================================================

// ConfirmedTransfer is the chain-watcher event. Delivery is at least once.
type ConfirmedTransfer struct {
	AccountID     ledger.AccountID `json:"account_id"`
	TxHash        string           `json:"tx_hash"`
	Amount        string           `json:"amount"`
	Confirmations int              `json:"confirmations"`
}

// =============================================================================
// RECONCILER
// =============================================================================

type Reconciler struct {
	Deposits         DepositStore
	Mutator          *ledger.Mutator
	MinConfirmations int
	Clock            func() time.Time
	Log              *zap.SugaredLogger
}

func NewReconciler(deposits DepositStore, mutator *ledger.Mutator, minConfirmations int, log *zap.SugaredLogger) *Reconciler {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Reconciler{
		Deposits:         deposits,
		Mutator:          mutator,
		MinConfirmations: minConfirmations,
		Clock:            time.Now,
		Log:              log,
	}
}

// OnConfirmedTransfer processes one chain-watcher event. Safe to call any
// number of times with the same tx hash.
func (r *Reconciler) OnConfirmedTransfer(ctx context.Context, ev ConfirmedTransfer) (*Deposit, error) {
	if ev.TxHash == "" {
		return nil, &ledger.ValidationError{Field: "tx_hash", Message: "must not be empty"}
	}
	amount, err := ledger.ParseAmount(ev.Amount)
	if err != nil || !amount.IsPositive() {
		return nil, &ledger.ValidationError{Field: "amount", Message: "must be a positive decimal"}
	}

	now := r.Clock()
	dep, err := r.Deposits.GetDepositByTxHash(ctx, ev.TxHash)
	switch {
	case errors.Is(err, ErrDepositNotFound):
		dep = &Deposit{
			ID:            uuid.NewString(),
			AccountID:     ev.AccountID,
			TxHash:        ev.TxHash,
			Amount:        amount,
			Status:        DepositPending,
			Confirmations: ev.Confirmations,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if cerr := r.Deposits.CreateDeposit(ctx, dep); cerr != nil {
			// Lost a create race with a duplicate notification; re-read.
			dep, err = r.Deposits.GetDepositByTxHash(ctx, ev.TxHash)
			if err != nil {
				return nil, fmt.Errorf("deposit %s: %w", ev.TxHash, cerr)
			}
		}
	case err != nil:
		return nil, err
	}

	if dep.Status == DepositCredited {
		return dep, nil
	}

	if ev.Confirmations > dep.Confirmations {
		dep.Confirmations = ev.Confirmations
	}
	if dep.Confirmations < r.MinConfirmations {
		dep.UpdatedAt = now
		if err := r.Deposits.UpdateDeposit(ctx, dep); err != nil {
			return nil, err
		}
		return dep, nil
	}

	if dep.Status == DepositPending {
		dep.Status = DepositConfirmed
	}

	// The tx hash is the idempotency key: a replay lands on the no-op path.
	_, applied, err := r.Mutator.Apply(ctx, dep.AccountID, ledger.KindDeposit, dep.TxHash, dep.Amount, ledger.DepositEffect)
	if err != nil {
		dep.UpdatedAt = now
		if uerr := r.Deposits.UpdateDeposit(ctx, dep); uerr != nil {
			r.Log.Warnw("update deposit after failed credit", "tx_hash", dep.TxHash, "error", uerr)
		}
		return nil, err
	}
	if applied {
		r.Log.Infow("deposit credited", "tx_hash", dep.TxHash, "account", dep.AccountID, "amount", dep.Amount)
	}

	dep.Status = DepositCredited
	dep.UpdatedAt = now
	if err := r.Deposits.UpdateDeposit(ctx, dep); err != nil {
		return nil, err
	}
	return dep, nil
}

// =============================================================================
// PAYMENT GATEWAY EVENTS
// =============================================================================

// PaymentStatus is the payment-gateway callback payload. The HTTP layer
// authenticates the signature before this ever reaches the reconciler.
type PaymentStatus struct {
	OrderID   string           `json:"order_id"`
	AccountID ledger.AccountID `json:"account_id"`
	Status    string           `json:"status"`
	Amount    string           `json:"amount"`
	TxRef     string           `json:"tx_ref"`
}

const paymentStatusSucceeded = "SUCCEEDED"

// OnPaymentStatus credits a successful gateway payment. The tx_ref plays
// the role of the chain hash; replayed webhooks are no-ops. Non-success
// statuses are acknowledged without effect.
func (r *Reconciler) OnPaymentStatus(ctx context.Context, ev PaymentStatus) (*Deposit, error) {
	if ev.Status != paymentStatusSucceeded {
		r.Log.Debugw("ignoring non-success payment status", "order_id", ev.OrderID, "status", ev.Status)
		return nil, nil
	}
	return r.OnConfirmedTransfer(ctx, ConfirmedTransfer{
		AccountID:     ev.AccountID,
		TxHash:        ev.TxRef,
		Amount:        ev.Amount,
		Confirmations: r.MinConfirmations,
	})
}
