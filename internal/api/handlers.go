/**
 * @description
 * This file contains the HTTP handlers for the ledger-service's API endpoints.
 * Handlers are responsible for parsing incoming requests, calling the appropriate
 * methods on the application services, and writing the HTTP response. They act as
 * the bridge between the web layer and the business logic layer.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - internal/app, internal/domain, internal/store: For service logic, models, and custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/oldspringtb/ledger-service/internal/app"
	"github.com/oldspringtb/ledger-service/internal/domain"
	"github.com/oldspringtb/ledger-service/internal/store"
)

// LedgerHandlers holds the application services that handlers will use.
type LedgerHandlers struct {
	accounts    *app.AccountService
	otp         *app.OTPService
	coordinator *app.Coordinator
}

// NewLedgerHandlers creates a new instance of LedgerHandlers.
func NewLedgerHandlers(accounts *app.AccountService, otp *app.OTPService, coordinator *app.Coordinator) *LedgerHandlers {
	return &LedgerHandlers{accounts: accounts, otp: otp, coordinator: coordinator}
}

// otpRequestBody carries an OTP issue or resend request.
type otpRequestBody struct {
	Purpose     string `json:"purpose"`
	Destination string `json:"destination"`
	DisplayName string `json:"display_name"`
}

// otpIssuedResponse returns everything the client needs to confirm later. The
// code itself never appears here; it travels through the delivery channel.
type otpIssuedResponse struct {
	RequestID uuid.UUID `json:"request_id"`
	Purpose   string    `json:"purpose"`
	ExpiresAt time.Time `json:"expires_at"`
}

type otpVerifyBody struct {
	RequestID uuid.UUID `json:"request_id"`
	Code      string    `json:"code"`
}

type otpVerifiedResponse struct {
	RequestID  uuid.UUID  `json:"request_id"`
	Status     string     `json:"status"`
	ConsumedAt *time.Time `json:"consumed_at,omitempty"`
}

type stageActionBody struct {
	Action      domain.SensitiveAction `json:"action"`
	Destination string                 `json:"destination"`
	DisplayName string                 `json:"display_name"`
}

type confirmActionBody struct {
	RequestID uuid.UUID              `json:"request_id"`
	Code      string                 `json:"code"`
	Action    domain.SensitiveAction `json:"action"`
}

// ListAccountsHandler returns every account owned by the authenticated user.
func (h *LedgerHandlers) ListAccountsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetAuthUserID(r.Context())
	if !ok {
		http.Error(w, "Could not get user ID from context", http.StatusInternalServerError)
		return
	}

	accounts, err := h.accounts.List(r.Context(), userID)
	if err != nil {
		log.Printf("level=error component=api endpoint=list_accounts owner_id=%s err=%v", userID, err)
		h.writeError(w, http.StatusInternalServerError, "Unable to list accounts")
		return
	}
	if accounts == nil {
		accounts = []domain.Account{}
	}
	h.writeJSON(w, http.StatusOK, accounts)
}

// GetAccountHandler returns a single account owned by the authenticated user.
func (h *LedgerHandlers) GetAccountHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetAuthUserID(r.Context())
	if !ok {
		http.Error(w, "Could not get user ID from context", http.StatusInternalServerError)
		return
	}

	account, ok := h.ownedAccount(w, r, userID)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, account)
}

// ListTransactionsHandler returns an account's ledger entries, newest first.
func (h *LedgerHandlers) ListTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetAuthUserID(r.Context())
	if !ok {
		http.Error(w, "Could not get user ID from context", http.StatusInternalServerError)
		return
	}

	account, ok := h.ownedAccount(w, r, userID)
	if !ok {
		return
	}

	limit := parseQueryInt(r, "limit", 0)
	offset := parseQueryInt(r, "offset", 0)

	transactions, err := h.accounts.Transactions(r.Context(), account.ID, limit, offset)
	if err != nil {
		log.Printf("level=error component=api endpoint=list_transactions account_id=%s err=%v", account.ID, err)
		h.respondServiceError(w, err)
		return
	}
	if transactions == nil {
		transactions = []domain.Transaction{}
	}
	h.writeJSON(w, http.StatusOK, transactions)
}

// ListProductsHandler returns the account product catalog.
func (h *LedgerHandlers) ListProductsHandler(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.accounts.Catalog())
}

// RequestOTPHandler issues a fresh authorization code for a purpose.
func (h *LedgerHandlers) RequestOTPHandler(w http.ResponseWriter, r *http.Request) {
	h.issueOTP(w, r, "otp_request")
}

// ResendOTPHandler invalidates any outstanding code and issues a new one.
func (h *LedgerHandlers) ResendOTPHandler(w http.ResponseWriter, r *http.Request) {
	h.issueOTP(w, r, "otp_resend")
}

func (h *LedgerHandlers) issueOTP(w http.ResponseWriter, r *http.Request, endpoint string) {
	userID, ok := GetAuthUserID(r.Context())
	if !ok {
		http.Error(w, "Could not get user ID from context", http.StatusInternalServerError)
		return
	}

	var req otpRequestBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("level=warn component=api endpoint=%s outcome=reject reason=invalid_json err=%v", endpoint, err)
		http.Error(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
		return
	}
	if req.Purpose == "" {
		h.writeError(w, http.StatusBadRequest, "purpose is required")
		return
	}

	issued, err := h.otp.Request(r.Context(), userID, req.Purpose, req.Destination, req.DisplayName)
	if err != nil {
		if errors.Is(err, app.ErrOTPRateLimited) {
			h.writeError(w, http.StatusTooManyRequests, "Too many code requests. Please wait before retrying.")
			return
		}
		log.Printf("level=error component=api endpoint=%s user_id=%s err=%v", endpoint, userID, err)
		h.writeError(w, http.StatusInternalServerError, "Unable to issue code")
		return
	}

	h.writeJSON(w, http.StatusCreated, otpIssuedResponse{
		RequestID: issued.ID,
		Purpose:   issued.Purpose,
		ExpiresAt: issued.ExpiresAt,
	})
}

// VerifyOTPHandler consumes a code. A verified code is spent and cannot be
// used again, including by a later action confirm.
func (h *LedgerHandlers) VerifyOTPHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetAuthUserID(r.Context())
	if !ok {
		http.Error(w, "Could not get user ID from context", http.StatusInternalServerError)
		return
	}

	var req otpVerifyBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("level=warn component=api endpoint=otp_verify outcome=reject reason=invalid_json err=%v", err)
		http.Error(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	verified, err := h.otp.Verify(r.Context(), req.RequestID, req.Code)
	if err != nil {
		log.Printf("level=warn component=api endpoint=otp_verify outcome=failed request_id=%s user_id=%s err=%v", req.RequestID, userID, err)
		h.respondServiceError(w, err)
		return
	}
	if verified.UserID != userID {
		h.writeError(w, http.StatusNotFound, "Code request not found")
		return
	}

	h.writeJSON(w, http.StatusOK, otpVerifiedResponse{
		RequestID:  verified.ID,
		Status:     string(verified.Status),
		ConsumedAt: verified.ConsumedAt,
	})
}

// StageActionHandler validates a sensitive action and issues the gating code.
func (h *LedgerHandlers) StageActionHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetAuthUserID(r.Context())
	if !ok {
		http.Error(w, "Could not get user ID from context", http.StatusInternalServerError)
		return
	}

	var req stageActionBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("level=warn component=api endpoint=stage_action outcome=reject reason=invalid_json err=%v", err)
		http.Error(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	issued, err := h.coordinator.Stage(r.Context(), userID, req.Action, req.Destination, req.DisplayName)
	if err != nil {
		log.Printf("level=warn component=api endpoint=stage_action outcome=failed user_id=%s kind=%s err=%v", userID, req.Action.Kind, err)
		h.respondServiceError(w, err)
		return
	}

	log.Printf("level=info component=api endpoint=stage_action outcome=accepted user_id=%s kind=%s request_id=%s", userID, req.Action.Kind, issued.ID)
	h.writeJSON(w, http.StatusCreated, otpIssuedResponse{
		RequestID: issued.ID,
		Purpose:   issued.Purpose,
		ExpiresAt: issued.ExpiresAt,
	})
}

// ConfirmActionHandler verifies the code and commits the staged action.
func (h *LedgerHandlers) ConfirmActionHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetAuthUserID(r.Context())
	if !ok {
		http.Error(w, "Could not get user ID from context", http.StatusInternalServerError)
		return
	}

	var req confirmActionBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("level=warn component=api endpoint=confirm_action outcome=reject reason=invalid_json err=%v", err)
		http.Error(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	result, err := h.coordinator.Confirm(r.Context(), userID, req.RequestID, req.Code, req.Action)
	if err != nil {
		log.Printf("level=warn component=api endpoint=confirm_action outcome=failed user_id=%s kind=%s err=%v", userID, req.Action.Kind, err)
		h.respondServiceError(w, err)
		return
	}

	log.Printf("level=info component=api endpoint=confirm_action outcome=committed user_id=%s kind=%s", userID, req.Action.Kind)
	h.writeJSON(w, http.StatusOK, result)
}

// ApplyInterestHandler is the internal ops path for posting one month of
// interest to a single account.
func (h *LedgerHandlers) ApplyInterestHandler(w http.ResponseWriter, r *http.Request) {
	accountID, err := uuid.Parse(chi.URLParam(r, "accountID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid account ID")
		return
	}

	txn, err := h.accounts.ApplyMonthlyInterest(r.Context(), accountID)
	if err != nil {
		log.Printf("level=warn component=api endpoint=apply_interest outcome=failed account_id=%s err=%v", accountID, err)
		h.respondServiceError(w, err)
		return
	}
	if txn == nil {
		// Zero balance posts no entry.
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "no_interest_due"})
		return
	}
	h.writeJSON(w, http.StatusCreated, txn)
}

// ownedAccount resolves the accountID URL param and enforces ownership.
func (h *LedgerHandlers) ownedAccount(w http.ResponseWriter, r *http.Request, userID uuid.UUID) (*domain.Account, bool) {
	accountID, err := uuid.Parse(chi.URLParam(r, "accountID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid account ID")
		return nil, false
	}

	account, err := h.accounts.Get(r.Context(), accountID)
	if err != nil {
		h.respondServiceError(w, err)
		return nil, false
	}
	if account.OwnerID != userID {
		// Not-found rather than forbidden: don't leak other users' account IDs.
		h.writeError(w, http.StatusNotFound, "Account not found")
		return nil, false
	}
	return account, true
}

// respondServiceError maps service and store errors to HTTP statuses.
func (h *LedgerHandlers) respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrInsufficientFunds):
		h.writeError(w, http.StatusPaymentRequired, err.Error())
	case errors.Is(err, store.ErrInvalidAmount),
		errors.Is(err, app.ErrInvalidDeposit),
		errors.Is(err, app.ErrInvalidAdjustment),
		errors.Is(err, app.ErrInvalidDirection),
		errors.Is(err, app.ErrUnknownProduct),
		errors.Is(err, app.ErrUnknownActionKind),
		errors.Is(err, app.ErrMissingPayload):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrAccountNotFound), errors.Is(err, store.ErrOTPNotFound):
		h.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrAccountUnavailable),
		errors.Is(err, store.ErrProductLimitExceeded),
		errors.Is(err, store.ErrNonZeroBalance),
		errors.Is(err, app.ErrOTPAlreadyConsumed):
		h.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, app.ErrInvalidCode):
		h.writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, app.ErrOTPExpired):
		h.writeError(w, http.StatusGone, err.Error())
	case errors.Is(err, app.ErrOTPRateLimited):
		h.writeError(w, http.StatusTooManyRequests, err.Error())
	default:
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func parseQueryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return fallback
	}
	return value
}

// writeJSON is a helper for writing JSON responses.
func (h *LedgerHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *LedgerHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
