/*
handlers.go - HTTP API handlers for the yield engine

PURPOSE:
  Exposes the ledger, investment, and funding engines via REST API.
  Handles HTTP request/response, JSON serialization, and delegates to
  domain logic.

ENDPOINTS:
  Accounts:
    POST   /api/accounts                    Create account
    GET    /api/accounts/{id}               Get account with balances
    GET    /api/accounts/{id}/ledger        Full entry history
    GET    /api/accounts/{id}/audit         Conservation check
    GET    /api/accounts/{id}/deposits      Deposit history
    GET    /api/accounts/{id}/withdrawals   Withdrawal history
    GET    /api/accounts/{id}/positions     Positions (?status=ACTIVE)
    POST   /api/accounts/{id}/positions     Open a position
    POST   /api/accounts/{id}/withdrawals   Submit a withdrawal

  Withdrawals:
    GET    /api/withdrawals/{id}            Get a single request
    POST   /api/admin/withdrawals/{id}/decision  Approve/reject/complete

  Admin:
    POST   /api/admin/accrue                Run accrual + expiry sweep now

  Ingestion:
    POST   /api/gateway/callback            Signed payment-gateway webhook
    POST   /api/chain/transfers             Direct transfer injection (dev)

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Account/position/request not found
  - 401: Bad gateway signature
  - 409: Conflict (decision race, invalid transition)
  - 422: Insufficient balance
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - scheduler.go: Background accrual ticker
*/
package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/yield-engine/funding"
	"github.com/warp/yield-engine/invest"
	"github.com/warp/yield-engine/ledger"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Mutator     *ledger.Mutator
	Invest      *invest.Service
	Positions   invest.Store
	Deposits    funding.DepositStore
	Withdrawals funding.WithdrawalStore
	Reconciler  *funding.Reconciler
	Workflow    *funding.Workflow
	Scheduler   *AccrualScheduler

	// GatewaySecret signs payment callbacks. Empty disables verification
	// (dev mode only).
	GatewaySecret string

	Log *zap.SugaredLogger
}

// =============================================================================
// ACCOUNT HANDLERS
// =============================================================================

// CreateAccount creates a new account with zero balances.
func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}

	acct := &ledger.Account{ID: ledger.AccountID(id)}
	if req.ReferrerID != "" {
		if req.ReferrerID == id {
			writeError(w, http.StatusBadRequest, "Account cannot refer itself", nil)
			return
		}
		ref := ledger.AccountID(req.ReferrerID)
		if _, err := h.Mutator.Store().GetAccount(r.Context(), ref); err != nil {
			if ledger.IsNotFound(err) {
				writeError(w, http.StatusBadRequest, "Referrer does not exist", nil)
				return
			}
			writeError(w, http.StatusInternalServerError, "Failed to check referrer", err)
			return
		}
		acct.ReferrerID = &ref
	}

	if err := h.Mutator.Store().CreateAccount(r.Context(), acct); err != nil {
		writeDomainError(w, "Failed to create account", err)
		return
	}

	writeJSON(w, http.StatusCreated, toAccountDTO(acct))
}

// GetAccount returns a single account with its balances.
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	id := ledger.AccountID(chi.URLParam(r, "id"))

	acct, err := h.Mutator.Store().GetAccount(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get account", err)
		return
	}

	writeJSON(w, http.StatusOK, toAccountDTO(acct))
}

// GetLedger returns the full entry history for an account.
func (h *Handler) GetLedger(w http.ResponseWriter, r *http.Request) {
	id := ledger.AccountID(chi.URLParam(r, "id"))
	ctx := r.Context()

	if _, err := h.Mutator.Store().GetAccount(ctx, id); err != nil {
		writeDomainError(w, "Failed to get account", err)
		return
	}

	entries, err := h.Mutator.Store().Entries(ctx, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list entries", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"entries": toEntryDTOs(entries)})
}

// GetAudit replays the account's ledger and reports whether the stored
// balances match the derived sum.
func (h *Handler) GetAudit(w http.ResponseWriter, r *http.Request) {
	id := ledger.AccountID(chi.URLParam(r, "id"))

	result, err := h.Mutator.Audit(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to audit account", err)
		return
	}

	writeJSON(w, http.StatusOK, AuditDTO{
		AccountID:  string(result.AccountID),
		Stored:     result.Stored.String(),
		Derived:    result.Derived.String(),
		Consistent: result.Consistent,
	})
}

// =============================================================================
// POSITION HANDLERS
// =============================================================================

// OpenPosition opens an investment position funded from the available
// balance.
func (h *Handler) OpenPosition(w http.ResponseWriter, r *http.Request) {
	accountID := ledger.AccountID(chi.URLParam(r, "id"))

	var req OpenPositionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	principal, err := ledger.ParseAmount(req.Principal)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid principal", err)
		return
	}
	periodLength, err := time.ParseDuration(req.PeriodLength)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid period_length (use a duration like \"24h\")", err)
		return
	}

	in := invest.OpenInput{
		AccountID:    accountID,
		Principal:    principal,
		PeriodLength: periodLength,
		Periods:      req.Periods,
		Payout:       invest.PayoutPolicy(req.Payout),
	}
	if req.RatePerPeriod != "" {
		if in.RatePerPeriod, err = decimal.NewFromString(req.RatePerPeriod); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid rate_per_period", err)
			return
		}
	}
	if req.TotalRate != "" {
		if in.TotalRate, err = decimal.NewFromString(req.TotalRate); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid total_rate", err)
			return
		}
	}

	pos, err := h.Invest.Open(r.Context(), in)
	if err != nil {
		writeDomainError(w, "Failed to open position", err)
		return
	}

	writeJSON(w, http.StatusCreated, toPositionDTO(pos))
}

// ListPositions returns an account's positions, optionally filtered by
// ?status=ACTIVE|COMPLETED.
func (h *Handler) ListPositions(w http.ResponseWriter, r *http.Request) {
	accountID := ledger.AccountID(chi.URLParam(r, "id"))

	var status *invest.Status
	if s := r.URL.Query().Get("status"); s != "" {
		st := invest.Status(s)
		if st != invest.StatusActive && st != invest.StatusCompleted {
			writeError(w, http.StatusBadRequest, "Invalid status filter", nil)
			return
		}
		status = &st
	}

	positions, err := h.Positions.ListPositions(r.Context(), accountID, status)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list positions", err)
		return
	}

	dtos := make([]PositionDTO, len(positions))
	for i := range positions {
		dtos[i] = toPositionDTO(&positions[i])
	}
	writeJSON(w, http.StatusOK, map[string]any{"positions": dtos})
}

// =============================================================================
// FUNDING HANDLERS
// =============================================================================

// ListDeposits returns an account's deposit history.
func (h *Handler) ListDeposits(w http.ResponseWriter, r *http.Request) {
	accountID := ledger.AccountID(chi.URLParam(r, "id"))

	deposits, err := h.Deposits.ListDeposits(r.Context(), accountID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list deposits", err)
		return
	}

	dtos := make([]DepositDTO, len(deposits))
	for i := range deposits {
		dtos[i] = toDepositDTO(&deposits[i])
	}
	writeJSON(w, http.StatusOK, map[string]any{"deposits": dtos})
}

// CreateWithdrawal submits a withdrawal request and places the hold.
func (h *Handler) CreateWithdrawal(w http.ResponseWriter, r *http.Request) {
	accountID := ledger.AccountID(chi.URLParam(r, "id"))

	var req CreateWithdrawalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	amount, err := ledger.ParseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}

	wd, err := h.Workflow.Create(r.Context(), accountID, amount, req.Destination)
	if err != nil {
		writeDomainError(w, "Failed to create withdrawal", err)
		return
	}

	writeJSON(w, http.StatusCreated, toWithdrawalDTO(wd))
}

// ListWithdrawals returns an account's withdrawal history.
func (h *Handler) ListWithdrawals(w http.ResponseWriter, r *http.Request) {
	accountID := ledger.AccountID(chi.URLParam(r, "id"))

	withdrawals, err := h.Withdrawals.ListWithdrawals(r.Context(), accountID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list withdrawals", err)
		return
	}

	dtos := make([]WithdrawalDTO, len(withdrawals))
	for i := range withdrawals {
		dtos[i] = toWithdrawalDTO(&withdrawals[i])
	}
	writeJSON(w, http.StatusOK, map[string]any{"withdrawals": dtos})
}

// GetWithdrawal returns a single withdrawal request.
func (h *Handler) GetWithdrawal(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	wd, err := h.Withdrawals.GetWithdrawal(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get withdrawal", err)
		return
	}

	writeJSON(w, http.StatusOK, toWithdrawalDTO(wd))
}

// DecideWithdrawal applies an admin decision to a withdrawal request.
// POST /api/admin/withdrawals/{id}/decision
func (h *Handler) DecideWithdrawal(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req WithdrawalDecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	var (
		wd  *funding.Withdrawal
		err error
	)
	switch req.Action {
	case "approve":
		wd, err = h.Workflow.Approve(r.Context(), id)
	case "reject":
		wd, err = h.Workflow.Reject(r.Context(), id, req.Reason)
	case "complete":
		wd, err = h.Workflow.Complete(r.Context(), id, req.TxRef)
	default:
		writeError(w, http.StatusBadRequest, "Action must be approve, reject, or complete", nil)
		return
	}
	if err != nil {
		writeDomainError(w, "Failed to apply decision", err)
		return
	}

	writeJSON(w, http.StatusOK, toWithdrawalDTO(wd))
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// TriggerAccrual runs an accrual pass and expiry sweep immediately.
// POST /api/admin/accrue
func (h *Handler) TriggerAccrual(w http.ResponseWriter, r *http.Request) {
	report, expired := h.Scheduler.RunNow(r.Context())

	dto := AccrualReportDTO{
		Accrued:   report.Accrued,
		Completed: report.Completed,
		Expired:   expired,
	}
	for _, pe := range report.Errors {
		dto.Errors = append(dto.Errors, pe.Error())
	}
	writeJSON(w, http.StatusOK, dto)
}

// =============================================================================
// INGESTION HANDLERS
// =============================================================================

// GatewayCallback receives signed payment-gateway status webhooks.
// The body is authenticated with HMAC-SHA256 over the raw bytes; the hex
// digest travels in X-Gateway-Signature. Unsigned or mis-signed requests
// are rejected before any state is touched.
func (h *Handler) GatewayCallback(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read body", err)
		return
	}

	if h.GatewaySecret != "" {
		mac := hmac.New(sha256.New, []byte(h.GatewaySecret))
		mac.Write(body)
		want := hex.EncodeToString(mac.Sum(nil))
		got := r.Header.Get("X-Gateway-Signature")
		if got == "" || !hmac.Equal([]byte(want), []byte(got)) {
			writeError(w, http.StatusUnauthorized, "Invalid gateway signature", nil)
			return
		}
	}

	var ev funding.PaymentStatus
	if err := json.Unmarshal(body, &ev); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid callback payload", err)
		return
	}

	dep, err := h.Reconciler.OnPaymentStatus(r.Context(), ev)
	if err != nil {
		writeDomainError(w, "Failed to process callback", err)
		return
	}
	if dep == nil {
		// Non-success status, acknowledged and ignored.
		writeJSON(w, http.StatusOK, map[string]any{"status": "ignored"})
		return
	}

	writeJSON(w, http.StatusOK, toDepositDTO(dep))
}

// InjectTransfer feeds a confirmed transfer event directly, bypassing
// Kafka. Dev and test convenience; the reconciler applies the same
// idempotency either way.
func (h *Handler) InjectTransfer(w http.ResponseWriter, r *http.Request) {
	var ev funding.ConfirmedTransfer
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	dep, err := h.Reconciler.OnConfirmedTransfer(r.Context(), ev)
	if err != nil {
		writeDomainError(w, "Failed to process transfer", err)
		return
	}

	writeJSON(w, http.StatusOK, toDepositDTO(dep))
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps domain errors onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	switch {
	case ledger.IsNotFound(err),
		errors.Is(err, invest.ErrPositionNotFound),
		errors.Is(err, funding.ErrWithdrawalNotFound),
		errors.Is(err, funding.ErrDepositNotFound):
		writeError(w, http.StatusNotFound, message, err)
	case errors.Is(err, ledger.ErrInsufficientBalance):
		writeError(w, http.StatusUnprocessableEntity, message, err)
	case errors.Is(err, funding.ErrInvalidTransition),
		errors.Is(err, ledger.ErrAccountExists):
		writeError(w, http.StatusConflict, message, err)
	case ledger.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}
