/**
 * @description
 * This file provides an in-memory implementation of the `Repository`
 * interface. It backs the test suite and serves as the bootstrap fallback
 * when no DATABASE_URL is configured, so the service can run locally without
 * Postgres.
 *
 * @notes
 * - Each account carries its own mutex; operations touching two accounts
 *   acquire both mutexes in ascending id order, mirroring the row-lock
 *   ordering of the Postgres implementation.
 * - All returned records are copies; internal state never escapes.
 */

package store

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oldspringtb/ledger-service/internal/domain"
)

type memoryAccount struct {
	mu      sync.Mutex
	account domain.Account
	ledger  []domain.Transaction
}

// MemoryRepository is a concrete implementation of the Repository interface
// held entirely in process memory.
type MemoryRepository struct {
	mu       sync.RWMutex // guards the maps and owner-level invariants
	accounts map[uuid.UUID]*memoryAccount
	otpMu    sync.Mutex
	otps     map[uuid.UUID]*domain.OTPRequest
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		accounts: make(map[uuid.UUID]*memoryAccount),
		otps:     make(map[uuid.UUID]*domain.OTPRequest),
	}
}

// orderedLock locks both account mutexes in ascending id order.
func orderedLock(a, b *memoryAccount) {
	if bytes.Compare(a.account.ID[:], b.account.ID[:]) > 0 {
		a, b = b, a
	}
	a.mu.Lock()
	b.mu.Lock()
}

func orderedUnlock(a, b *memoryAccount) {
	a.mu.Unlock()
	b.mu.Unlock()
}

// nextTimestamp keeps per-account ledger timestamps strictly increasing so
// replaying entries in created-at order matches commit order.
func nextTimestamp(ledger []domain.Transaction) time.Time {
	now := time.Now().UTC()
	if n := len(ledger); n > 0 && !ledger[n-1].CreatedAt.Before(now) {
		return ledger[n-1].CreatedAt.Add(time.Nanosecond)
	}
	return now
}

// appendLocked applies a signed amount to an account whose mutex is held.
func appendLocked(acct *memoryAccount, txType domain.TransactionType, amount int64, description string) (*domain.Transaction, error) {
	if acct.account.Status == domain.AccountStatusClosed {
		return nil, ErrAccountUnavailable
	}
	newBalance := acct.account.Balance + amount
	if newBalance < 0 {
		return nil, ErrInsufficientFunds
	}

	record := domain.Transaction{
		ID:               uuid.New(),
		AccountID:        acct.account.ID,
		Type:             txType,
		Amount:           amount,
		ResultingBalance: newBalance,
		Description:      description,
		Status:           domain.TransactionStatusCompleted,
		CreatedAt:        nextTimestamp(acct.ledger),
	}
	acct.ledger = append(acct.ledger, record)
	acct.account.Balance = newBalance
	acct.account.UpdatedAt = record.CreatedAt

	cp := record
	return &cp, nil
}

// CreateAccount inserts an account and its optional opening deposit atomically.
func (r *MemoryRepository) CreateAccount(ctx context.Context, account *domain.Account, opening *domain.Transaction, maxPerOwner int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	openCount, typeCount := 0, 0
	for _, existing := range r.accounts {
		if existing.account.OwnerID != account.OwnerID || existing.account.Status == domain.AccountStatusClosed {
			continue
		}
		openCount++
		if existing.account.Type == account.Type {
			typeCount++
		}
	}
	if maxPerOwner > 0 && typeCount >= maxPerOwner {
		return ErrProductLimitExceeded
	}

	now := time.Now().UTC()
	account.IsPrimary = openCount == 0
	account.Balance = 0
	account.CreatedAt = now
	account.UpdatedAt = now

	acct := &memoryAccount{account: *account}
	if opening != nil {
		record, err := appendLocked(acct, opening.Type, opening.Amount, opening.Description)
		if err != nil {
			return err
		}
		*opening = *record
		account.Balance = record.ResultingBalance
	}
	r.accounts[account.ID] = acct
	return nil
}

// GetAccount retrieves one account by id.
func (r *MemoryRepository) GetAccount(ctx context.Context, accountID uuid.UUID) (*domain.Account, error) {
	r.mu.RLock()
	acct, ok := r.accounts[accountID]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrAccountNotFound
	}

	acct.mu.Lock()
	cp := acct.account
	acct.mu.Unlock()
	return &cp, nil
}

// GetAccountsByOwner retrieves all accounts for an owner, oldest first.
func (r *MemoryRepository) GetAccountsByOwner(ctx context.Context, ownerID uuid.UUID) ([]domain.Account, error) {
	r.mu.RLock()
	matched := make([]*memoryAccount, 0, 4)
	for _, acct := range r.accounts {
		if acct.account.OwnerID == ownerID {
			matched = append(matched, acct)
		}
	}
	r.mu.RUnlock()

	accounts := make([]domain.Account, 0, len(matched))
	for _, acct := range matched {
		acct.mu.Lock()
		accounts = append(accounts, acct.account)
		acct.mu.Unlock()
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].CreatedAt.Before(accounts[j].CreatedAt) })
	return accounts, nil
}

// ListInterestBearingAccounts returns active accounts with a non-zero rate.
func (r *MemoryRepository) ListInterestBearingAccounts(ctx context.Context) ([]domain.Account, error) {
	r.mu.RLock()
	matched := make([]*memoryAccount, 0, len(r.accounts))
	for _, acct := range r.accounts {
		matched = append(matched, acct)
	}
	r.mu.RUnlock()

	var accounts []domain.Account
	for _, acct := range matched {
		acct.mu.Lock()
		if acct.account.Status == domain.AccountStatusActive && acct.account.InterestRate > 0 {
			accounts = append(accounts, acct.account)
		}
		acct.mu.Unlock()
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].CreatedAt.Before(accounts[j].CreatedAt) })
	return accounts, nil
}

// ListFeeChargeableAccounts returns active accounts with a monthly fee.
func (r *MemoryRepository) ListFeeChargeableAccounts(ctx context.Context) ([]domain.Account, error) {
	r.mu.RLock()
	matched := make([]*memoryAccount, 0, len(r.accounts))
	for _, acct := range r.accounts {
		matched = append(matched, acct)
	}
	r.mu.RUnlock()

	var accounts []domain.Account
	for _, acct := range matched {
		acct.mu.Lock()
		if acct.account.Status == domain.AccountStatusActive && acct.account.MonthlyFee > 0 {
			accounts = append(accounts, acct.account)
		}
		acct.mu.Unlock()
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].CreatedAt.Before(accounts[j].CreatedAt) })
	return accounts, nil
}

// AppendTransaction atomically applies a signed amount and records the entry.
func (r *MemoryRepository) AppendTransaction(ctx context.Context, accountID uuid.UUID, txType domain.TransactionType, amount int64, description string) (*domain.Transaction, error) {
	r.mu.RLock()
	acct, ok := r.accounts[accountID]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrAccountNotFound
	}

	acct.mu.Lock()
	defer acct.mu.Unlock()
	return appendLocked(acct, txType, amount, description)
}

// TransferFunds debits and credits under both account mutexes, acquired in
// ascending id order; either both legs commit or neither does.
func (r *MemoryRepository) TransferFunds(ctx context.Context, fromAccountID, toAccountID uuid.UUID, amount int64, description string) (*domain.TransferResult, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	r.mu.RLock()
	from, okFrom := r.accounts[fromAccountID]
	to, okTo := r.accounts[toAccountID]
	r.mu.RUnlock()
	if !okFrom || !okTo {
		return nil, ErrAccountNotFound
	}

	orderedLock(from, to)
	defer orderedUnlock(from, to)

	if from.account.Status != domain.AccountStatusActive || to.account.Status != domain.AccountStatusActive {
		return nil, ErrAccountUnavailable
	}
	if from.account.Balance-amount < 0 {
		return nil, ErrInsufficientFunds
	}

	debit, err := appendLocked(from, domain.TransactionTypeTransfer, -amount, description)
	if err != nil {
		return nil, err
	}
	credit, err := appendLocked(to, domain.TransactionTypeTransfer, amount, description)
	if err != nil {
		// Unreachable once the funds check passed; restore the debit so the
		// ledger never shows a one-legged transfer.
		from.ledger = from.ledger[:len(from.ledger)-1]
		from.account.Balance += amount
		return nil, err
	}

	return &domain.TransferResult{Debit: debit, Credit: credit}, nil
}

// CloseAccount drains any remainder, marks the account closed, and reassigns
// the primary flag under the repository-wide lock.
func (r *MemoryRepository) CloseAccount(ctx context.Context, accountID uuid.UUID, transferRemainderTo *uuid.UUID) (*domain.TransferResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	acct, ok := r.accounts[accountID]
	if !ok {
		return nil, ErrAccountNotFound
	}

	var target *memoryAccount
	if transferRemainderTo != nil {
		target, ok = r.accounts[*transferRemainderTo]
		if !ok {
			return nil, ErrAccountNotFound
		}
	}

	unlock := func() {
		if target != nil && target != acct {
			orderedUnlock(acct, target)
		} else {
			acct.mu.Unlock()
		}
	}
	if target != nil && target != acct {
		orderedLock(acct, target)
	} else {
		acct.mu.Lock()
	}

	if acct.account.Status == domain.AccountStatusClosed {
		unlock()
		return nil, ErrAccountUnavailable
	}

	var result *domain.TransferResult
	if acct.account.Balance > 0 {
		if target == nil || target == acct {
			unlock()
			return nil, ErrNonZeroBalance
		}
		remainder := acct.account.Balance
		debit, err := appendLocked(acct, domain.TransactionTypeTransfer, -remainder, "closing balance transfer")
		if err != nil {
			unlock()
			return nil, err
		}
		credit, err := appendLocked(target, domain.TransactionTypeTransfer, remainder, "closing balance transfer")
		if err != nil {
			acct.ledger = acct.ledger[:len(acct.ledger)-1]
			acct.account.Balance += remainder
			unlock()
			return nil, err
		}
		result = &domain.TransferResult{Debit: debit, Credit: credit}
	}

	wasPrimary := acct.account.IsPrimary
	ownerID := acct.account.OwnerID
	acct.account.Status = domain.AccountStatusClosed
	acct.account.IsPrimary = false
	acct.account.UpdatedAt = time.Now().UTC()
	unlock()

	// The successor write needs its own mutex: readers copy account structs
	// holding only the per-account lock. Taking it after the closing pair is
	// released keeps the lock ordering acyclic; r.mu still excludes racing
	// closes and opens for this owner.
	if wasPrimary {
		var successor *memoryAccount
		for _, candidate := range r.accounts {
			if candidate == acct || candidate.account.OwnerID != ownerID {
				continue
			}
			if candidate.account.Status == domain.AccountStatusClosed {
				continue
			}
			if successor == nil || candidate.account.CreatedAt.Before(successor.account.CreatedAt) {
				successor = candidate
			}
		}
		if successor != nil {
			successor.mu.Lock()
			successor.account.IsPrimary = true
			successor.mu.Unlock()
		}
	}

	return result, nil
}

// ListTransactions returns an account's ledger entries, newest first.
func (r *MemoryRepository) ListTransactions(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]domain.Transaction, error) {
	r.mu.RLock()
	acct, ok := r.accounts[accountID]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrAccountNotFound
	}
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	acct.mu.Lock()
	defer acct.mu.Unlock()

	out := make([]domain.Transaction, 0, limit)
	for i := len(acct.ledger) - 1 - offset; i >= 0 && len(out) < limit; i-- {
		out = append(out, acct.ledger[i])
	}
	return out, nil
}

// ReplaceOutstandingOTP supersedes the live code for (user, purpose) and
// inserts the replacement atomically.
func (r *MemoryRepository) ReplaceOutstandingOTP(ctx context.Context, req *domain.OTPRequest) error {
	r.otpMu.Lock()
	defer r.otpMu.Unlock()

	for _, existing := range r.otps {
		if existing.UserID == req.UserID && existing.Purpose == req.Purpose && existing.Status == domain.OTPStatusIssued {
			existing.Status = domain.OTPStatusSuperseded
		}
	}

	req.CreatedAt = time.Now().UTC()
	cp := *req
	r.otps[req.ID] = &cp
	return nil
}

// GetOTPRequest retrieves one OTP request by id.
func (r *MemoryRepository) GetOTPRequest(ctx context.Context, requestID uuid.UUID) (*domain.OTPRequest, error) {
	r.otpMu.Lock()
	defer r.otpMu.Unlock()

	req, ok := r.otps[requestID]
	if !ok {
		return nil, ErrOTPNotFound
	}
	cp := *req
	return &cp, nil
}

// ConsumeOTPRequest transitions issued -> consumed; any other starting state fails.
func (r *MemoryRepository) ConsumeOTPRequest(ctx context.Context, requestID uuid.UUID, consumedAt time.Time) error {
	r.otpMu.Lock()
	defer r.otpMu.Unlock()

	req, ok := r.otps[requestID]
	if !ok {
		return ErrOTPNotFound
	}
	if req.Status != domain.OTPStatusIssued {
		return ErrOTPNotIssued
	}
	req.Status = domain.OTPStatusConsumed
	req.ConsumedAt = &consumedAt
	return nil
}

// IncrementOTPAttempts records one failed verify attempt.
func (r *MemoryRepository) IncrementOTPAttempts(ctx context.Context, requestID uuid.UUID) (int, error) {
	r.otpMu.Lock()
	defer r.otpMu.Unlock()

	req, ok := r.otps[requestID]
	if !ok {
		return 0, ErrOTPNotFound
	}
	req.Attempts++
	return req.Attempts, nil
}

// MarkOTPExpired transitions a request to the expired terminal state.
func (r *MemoryRepository) MarkOTPExpired(ctx context.Context, requestID uuid.UUID) error {
	r.otpMu.Lock()
	defer r.otpMu.Unlock()

	req, ok := r.otps[requestID]
	if !ok {
		return ErrOTPNotFound
	}
	if req.Status != domain.OTPStatusIssued {
		return ErrOTPNotIssued
	}
	req.Status = domain.OTPStatusExpired
	return nil
}

// ExpireOverdueOTPRequests sweeps issued requests past their expiry.
func (r *MemoryRepository) ExpireOverdueOTPRequests(ctx context.Context, now time.Time) (int64, error) {
	r.otpMu.Lock()
	defer r.otpMu.Unlock()

	var swept int64
	for _, req := range r.otps {
		if req.Status == domain.OTPStatusIssued && !req.ExpiresAt.After(now) {
			req.Status = domain.OTPStatusExpired
			swept++
		}
	}
	return swept, nil
}
