/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

AMOUNTS:
  All monetary values cross the wire as decimal strings ("100.25"), never
  floats. Parsing happens in handlers; DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/warp/yield-engine/funding"
	"github.com/warp/yield-engine/invest"
	"github.com/warp/yield-engine/ledger"
)

// =============================================================================
// ACCOUNT TYPES
// =============================================================================

// CreateAccountRequest is the request to create an account.
type CreateAccountRequest struct {
	ID         string `json:"id,omitempty"`
	ReferrerID string `json:"referrer_id,omitempty"`
}

// AccountDTO represents an account in API responses.
type AccountDTO struct {
	ID             string `json:"id"`
	ReferrerID     string `json:"referrer_id,omitempty"`
	Available      string `json:"available"`
	Locked         string `json:"locked"`
	TotalDeposited string `json:"total_deposited"`
	TotalWithdrawn string `json:"total_withdrawn"`
	TotalEarned    string `json:"total_earned"`
	CreatedAt      string `json:"created_at"`
}

// AuditDTO reports a conservation check over one account's ledger.
type AuditDTO struct {
	AccountID  string `json:"account_id"`
	Stored     string `json:"stored"`
	Derived    string `json:"derived"`
	Consistent bool   `json:"consistent"`
}

// EntryDTO represents a single ledger entry.
type EntryDTO struct {
	ID            string `json:"id"`
	AccountID     string `json:"account_id"`
	Kind          string `json:"kind"`
	Amount        string `json:"amount"`
	BalanceBefore string `json:"balance_before"`
	BalanceAfter  string `json:"balance_after"`
	ReferenceID   string `json:"reference_id"`
	CreatedAt     string `json:"created_at"`
}

// =============================================================================
// POSITION TYPES
// =============================================================================

// OpenPositionRequest is the request to open an investment position.
// PeriodLength is a Go duration string ("24h", "168h").
type OpenPositionRequest struct {
	Principal     string `json:"principal"`
	RatePerPeriod string `json:"rate_per_period,omitempty"`
	TotalRate     string `json:"total_rate,omitempty"`
	PeriodLength  string `json:"period_length"`
	Periods       int    `json:"periods"`
	Payout        string `json:"payout"`
}

// PositionDTO represents an investment position.
type PositionDTO struct {
	ID                string `json:"id"`
	AccountID         string `json:"account_id"`
	Principal         string `json:"principal"`
	RatePerPeriod     string `json:"rate_per_period"`
	TotalRate         string `json:"total_rate"`
	PeriodLength      string `json:"period_length"`
	Periods           int    `json:"periods"`
	Payout            string `json:"payout"`
	StartTime         string `json:"start_time"`
	EndTime           string `json:"end_time"`
	Status            string `json:"status"`
	TotalEarned       string `json:"total_earned"`
	LastAccruedPeriod int    `json:"last_accrued_period"`
}

// AccrualReportDTO summarizes one accrual run.
type AccrualReportDTO struct {
	Accrued   int      `json:"accrued"`
	Completed int      `json:"completed"`
	Expired   int      `json:"expired_withdrawals"`
	Errors    []string `json:"errors,omitempty"`
}

// =============================================================================
// FUNDING TYPES
// =============================================================================

// DepositDTO represents a credited or pending deposit.
type DepositDTO struct {
	ID            string `json:"id"`
	AccountID     string `json:"account_id"`
	TxHash        string `json:"tx_hash"`
	Amount        string `json:"amount"`
	Status        string `json:"status"`
	Confirmations int    `json:"confirmations"`
	CreatedAt     string `json:"created_at"`
}

// CreateWithdrawalRequest is the request to submit a withdrawal.
type CreateWithdrawalRequest struct {
	Amount      string `json:"amount"`
	Destination string `json:"destination"`
}

// WithdrawalDTO represents a withdrawal request.
type WithdrawalDTO struct {
	ID          string `json:"id"`
	AccountID   string `json:"account_id"`
	Amount      string `json:"amount"`
	Destination string `json:"destination"`
	Status      string `json:"status"`
	Reason      string `json:"reason,omitempty"`
	TxRef       string `json:"tx_ref,omitempty"`
	ExpiresAt   string `json:"expires_at"`
	CreatedAt   string `json:"created_at"`
}

// WithdrawalDecisionRequest is the admin decision on a pending request.
// Action is one of "approve", "reject", "complete".
type WithdrawalDecisionRequest struct {
	Action string `json:"action"`
	Reason string `json:"reason,omitempty"`
	TxRef  string `json:"tx_ref,omitempty"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toAccountDTO(a *ledger.Account) AccountDTO {
	dto := AccountDTO{
		ID:             string(a.ID),
		Available:      a.Available.String(),
		Locked:         a.Locked.String(),
		TotalDeposited: a.TotalDeposited.String(),
		TotalWithdrawn: a.TotalWithdrawn.String(),
		TotalEarned:    a.TotalEarned.String(),
		CreatedAt:      a.CreatedAt.Format(time.RFC3339),
	}
	if a.ReferrerID != nil {
		dto.ReferrerID = string(*a.ReferrerID)
	}
	return dto
}

func toEntryDTO(e *ledger.LedgerEntry) EntryDTO {
	return EntryDTO{
		ID:            string(e.ID),
		AccountID:     string(e.AccountID),
		Kind:          string(e.Kind),
		Amount:        e.Amount.String(),
		BalanceBefore: e.BalanceBefore.String(),
		BalanceAfter:  e.BalanceAfter.String(),
		ReferenceID:   e.ReferenceID,
		CreatedAt:     e.CreatedAt.Format(time.RFC3339),
	}
}

func toEntryDTOs(entries []ledger.LedgerEntry) []EntryDTO {
	dtos := make([]EntryDTO, len(entries))
	for i := range entries {
		dtos[i] = toEntryDTO(&entries[i])
	}
	return dtos
}

func toPositionDTO(p *invest.Position) PositionDTO {
	return PositionDTO{
		ID:                p.ID,
		AccountID:         string(p.AccountID),
		Principal:         p.Principal.String(),
		RatePerPeriod:     p.RatePerPeriod.String(),
		TotalRate:         p.TotalRate.String(),
		PeriodLength:      p.PeriodLength.String(),
		Periods:           p.Periods,
		Payout:            string(p.Payout),
		StartTime:         p.StartTime.Format(time.RFC3339),
		EndTime:           p.EndTime.Format(time.RFC3339),
		Status:            string(p.Status),
		TotalEarned:       p.TotalEarned.String(),
		LastAccruedPeriod: p.LastAccruedPeriod,
	}
}

func toDepositDTO(d *funding.Deposit) DepositDTO {
	return DepositDTO{
		ID:            d.ID,
		AccountID:     string(d.AccountID),
		TxHash:        d.TxHash,
		Amount:        d.Amount.String(),
		Status:        string(d.Status),
		Confirmations: d.Confirmations,
		CreatedAt:     d.CreatedAt.Format(time.RFC3339),
	}
}

func toWithdrawalDTO(w *funding.Withdrawal) WithdrawalDTO {
	return WithdrawalDTO{
		ID:          w.ID,
		AccountID:   string(w.AccountID),
		Amount:      w.Amount.String(),
		Destination: w.Destination,
		Status:      string(w.Status),
		Reason:      w.Reason,
		TxRef:       w.TxRef,
		ExpiresAt:   w.ExpiresAt.Format(time.RFC3339),
		CreatedAt:   w.CreatedAt.Format(time.RFC3339),
	}
}
