/**
 * @description
 * This file defines the `Repository` interface, the contract for the ledger's
 * system of record. It owns Account, Transaction, and OTPRequest records and
 * is where the balance and single-use invariants are enforced atomically.
 * Defining an interface decouples the business logic from the storage engine
 * and lets tests run against the in-memory implementation.
 *
 * @notes
 * - Every balance-mutating method serializes per account. TransferFunds and
 *   CloseAccount cover both touched accounts in one critical section, locks
 *   acquired in ascending account-id order.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/oldspringtb/ledger-service/internal/domain"
)

var (
	ErrAccountNotFound      = errors.New("account not found")
	ErrAccountUnavailable   = errors.New("account unavailable")
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrProductLimitExceeded = errors.New("product limit exceeded")
	ErrNonZeroBalance       = errors.New("account balance is not zero")
	ErrOTPNotFound          = errors.New("otp request not found")
	ErrOTPNotIssued         = errors.New("otp request is not in issued state")
)

// Repository defines the set of methods for interacting with the ledger.
type Repository interface {
	// Account methods.
	// CreateAccount inserts the account and, when opening is non-nil, its
	// opening deposit transaction in one atomic unit. It enforces the
	// per-owner product limit (maxPerOwner, 0 = unlimited) and marks the
	// owner's first account primary.
	CreateAccount(ctx context.Context, account *domain.Account, opening *domain.Transaction, maxPerOwner int) error
	GetAccount(ctx context.Context, accountID uuid.UUID) (*domain.Account, error)
	GetAccountsByOwner(ctx context.Context, ownerID uuid.UUID) ([]domain.Account, error)
	// CloseAccount drains any remainder into transferRemainderTo via a
	// transfer pair, marks the account closed, and reassigns the primary
	// flag to the owner's oldest remaining open account when needed. A
	// non-zero balance with a nil destination fails with ErrNonZeroBalance.
	CloseAccount(ctx context.Context, accountID uuid.UUID, transferRemainderTo *uuid.UUID) (*domain.TransferResult, error)
	ListInterestBearingAccounts(ctx context.Context) ([]domain.Account, error)
	// ListFeeChargeableAccounts returns active accounts carrying a monthly fee.
	ListFeeChargeableAccounts(ctx context.Context) ([]domain.Account, error)

	// Ledger methods.
	// AppendTransaction atomically applies the signed amount to the current
	// balance and writes a completed transaction carrying the resulting
	// balance. A result below zero fails with ErrInsufficientFunds and
	// leaves no trace.
	AppendTransaction(ctx context.Context, accountID uuid.UUID, txType domain.TransactionType, amount int64, description string) (*domain.Transaction, error)
	// TransferFunds debits from and credits to in a single critical section
	// covering both accounts; both legs commit or neither does. Both
	// accounts must be active.
	TransferFunds(ctx context.Context, fromAccountID, toAccountID uuid.UUID, amount int64, description string) (*domain.TransferResult, error)
	ListTransactions(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]domain.Transaction, error)

	// OTP methods.
	// ReplaceOutstandingOTP supersedes any issued request for the same
	// (user, purpose) pair and inserts the new one atomically, so no two
	// codes are ever live for one purpose.
	ReplaceOutstandingOTP(ctx context.Context, req *domain.OTPRequest) error
	GetOTPRequest(ctx context.Context, requestID uuid.UUID) (*domain.OTPRequest, error)
	// ConsumeOTPRequest marks an issued request consumed. It fails with
	// ErrOTPNotIssued when the request already reached a terminal state,
	// which keeps consumption single-use under races.
	ConsumeOTPRequest(ctx context.Context, requestID uuid.UUID, consumedAt time.Time) error
	// IncrementOTPAttempts records a failed verify and returns the new count.
	IncrementOTPAttempts(ctx context.Context, requestID uuid.UUID) (int, error)
	MarkOTPExpired(ctx context.Context, requestID uuid.UUID) error
	// ExpireOverdueOTPRequests sweeps issued requests whose expiry passed.
	ExpireOverdueOTPRequests(ctx context.Context, now time.Time) (int64, error)
}
