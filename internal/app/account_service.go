/**
 * @description
 * This file contains the account-side business logic: opening and closing
 * accounts under the product catalog rules, balance adjustments from the
 * dashboard flows, and monthly interest/fee application. The ledger store
 * enforces balance atomicity; this layer owns the catalog semantics.
 *
 * @dependencies
 * - internal/domain, internal/store: Domain models and data access.
 * - pkg/rabbitmq: Ledger event publishing.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/oldspringtb/ledger-service/internal/domain"
	"github.com/oldspringtb/ledger-service/internal/store"
	"github.com/oldspringtb/ledger-service/pkg/rabbitmq"
)

var (
	ErrInvalidDeposit    = errors.New("initial deposit below product minimum")
	ErrUnknownProduct    = errors.New("unknown account product")
	ErrInvalidAdjustment = errors.New("invalid balance adjustment")
)

const ledgerEventsExchange = "oldspringtb.events"

// AccountService provides account lifecycle operations on top of the ledger store.
type AccountService struct {
	repo    store.Repository
	catalog *ProductCatalog
	events  rabbitmq.Publisher
}

// NewAccountService creates a new AccountService instance.
func NewAccountService(repo store.Repository, catalog *ProductCatalog, events rabbitmq.Publisher) *AccountService {
	return &AccountService{repo: repo, catalog: catalog, events: events}
}

// Open creates a new account under the requested product. The initial deposit
// is recorded as the account's first ledger entry so replaying the ledger from
// zero always reproduces the current balance.
func (s *AccountService) Open(ctx context.Context, ownerID uuid.UUID, input domain.OpenAccountInput) (*domain.Account, error) {
	spec, ok := s.catalog.Lookup(input.Type)
	if !ok {
		return nil, ErrUnknownProduct
	}
	if input.InitialDeposit < spec.MinimumDeposit {
		return nil, ErrInvalidDeposit
	}

	number, err := generateAccountNumber(spec.NumberPrefix)
	if err != nil {
		return nil, err
	}

	displayName := input.DisplayName
	if displayName == "" {
		displayName = spec.DisplayName
	}

	account := &domain.Account{
		ID:             uuid.New(),
		OwnerID:        ownerID,
		Type:           spec.Type,
		AccountNumber:  number,
		DisplayName:    displayName,
		Status:         domain.AccountStatusActive,
		InterestRate:   spec.InterestRate,
		MonthlyFee:     spec.MonthlyFee,
		MinimumBalance: spec.MinimumBalance,
	}
	if spec.Type == domain.AccountTypeCD {
		term := input.TermMonths
		if term <= 0 {
			term = spec.TermMonths
		}
		maturity := time.Now().UTC().AddDate(0, term, 0)
		account.TermMonths = term
		account.MaturityDate = &maturity
	}

	var opening *domain.Transaction
	if input.InitialDeposit > 0 {
		opening = &domain.Transaction{
			ID:               uuid.New(),
			AccountID:        account.ID,
			Type:             domain.TransactionTypeDeposit,
			Amount:           input.InitialDeposit,
			ResultingBalance: input.InitialDeposit,
			Description:      "opening deposit",
			Status:           domain.TransactionStatusCompleted,
		}
	}

	if err := s.repo.CreateAccount(ctx, account, opening, spec.MaxPerOwner); err != nil {
		return nil, fmt.Errorf("create account: %w", err)
	}

	log.Printf("level=info component=accounts msg=\"account opened\" account_id=%s owner_id=%s type=%s primary=%t", account.ID, ownerID, account.Type, account.IsPrimary)
	return account, nil
}

// Get returns one account.
func (s *AccountService) Get(ctx context.Context, accountID uuid.UUID) (*domain.Account, error) {
	return s.repo.GetAccount(ctx, accountID)
}

// List returns all accounts for an owner, oldest first.
func (s *AccountService) List(ctx context.Context, ownerID uuid.UUID) ([]domain.Account, error) {
	return s.repo.GetAccountsByOwner(ctx, ownerID)
}

// Transactions returns an account's ledger history, newest first.
func (s *AccountService) Transactions(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]domain.Transaction, error) {
	return s.repo.ListTransactions(ctx, accountID, limit, offset)
}

// Close closes the account after draining any remainder into the optional
// destination account; the store enforces the non-zero-balance rule and
// primary reassignment atomically.
func (s *AccountService) Close(ctx context.Context, accountID uuid.UUID, transferRemainderTo *uuid.UUID) (*domain.TransferResult, error) {
	if transferRemainderTo != nil && *transferRemainderTo == accountID {
		// Draining into the closing account itself is no drain at all.
		transferRemainderTo = nil
	}
	result, err := s.repo.CloseAccount(ctx, accountID, transferRemainderTo)
	if err != nil {
		return nil, err
	}
	log.Printf("level=info component=accounts msg=\"account closed\" account_id=%s drained=%t", accountID, result != nil)
	return result, nil
}

// Adjust applies one signed ledger entry for the bill-pay and deposit flows.
// Deposits and interest must credit; withdrawals and fees must debit.
func (s *AccountService) Adjust(ctx context.Context, payload domain.BalanceAdjustmentPayload) (*domain.Transaction, error) {
	if payload.Amount == 0 {
		return nil, ErrInvalidAdjustment
	}
	switch payload.Type {
	case domain.TransactionTypeDeposit, domain.TransactionTypeInterest:
		if payload.Amount < 0 {
			return nil, ErrInvalidAdjustment
		}
	case domain.TransactionTypeWithdrawal, domain.TransactionTypeFee:
		if payload.Amount > 0 {
			return nil, ErrInvalidAdjustment
		}
	default:
		return nil, ErrInvalidAdjustment
	}
	return s.repo.AppendTransaction(ctx, payload.AccountID, payload.Type, payload.Amount, payload.Description)
}

// monthlyInterest computes one month of interest in cents from an annualized
// percentage rate, rounding half away from zero.
func monthlyInterest(balance int64, annualRate float64) int64 {
	if balance <= 0 || annualRate <= 0 {
		return 0
	}
	return int64(math.Round(float64(balance) * annualRate / 100 / 12))
}

// ApplyMonthlyInterest appends one month of accrued interest. The service does
// not deduplicate by period; the scheduler guarantees at-most-once-per-month
// invocation.
func (s *AccountService) ApplyMonthlyInterest(ctx context.Context, accountID uuid.UUID) (*domain.Transaction, error) {
	account, err := s.repo.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account.Status != domain.AccountStatusActive {
		return nil, store.ErrAccountUnavailable
	}

	interest := monthlyInterest(account.Balance, account.InterestRate)
	if interest == 0 {
		return nil, nil
	}

	record, err := s.repo.AppendTransaction(ctx, accountID, domain.TransactionTypeInterest, interest, "monthly interest")
	if err != nil {
		return nil, err
	}

	if s.events != nil {
		if pubErr := s.events.Publish(ctx, ledgerEventsExchange, "ledger.interest.applied", record); pubErr != nil {
			log.Printf("level=warn component=accounts msg=\"interest event publish failed\" account_id=%s err=%v", accountID, pubErr)
		}
	}
	return record, nil
}

// ChargeMonthlyFee appends the product's monthly fee unless the balance sits
// at or above the fee-waiver minimum.
func (s *AccountService) ChargeMonthlyFee(ctx context.Context, accountID uuid.UUID) (*domain.Transaction, error) {
	account, err := s.repo.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account.Status != domain.AccountStatusActive || account.MonthlyFee <= 0 {
		return nil, nil
	}
	if account.MinimumBalance > 0 && account.Balance >= account.MinimumBalance {
		return nil, nil
	}

	fee := account.MonthlyFee
	if fee > account.Balance {
		// Never overdraw on a fee; collect what is there.
		fee = account.Balance
	}
	if fee == 0 {
		return nil, nil
	}
	return s.repo.AppendTransaction(ctx, accountID, domain.TransactionTypeFee, -fee, "monthly service fee")
}

// Catalog exposes the product lineup for the account-opening screens.
func (s *AccountService) Catalog() []domain.ProductSpec {
	return s.catalog.Products()
}
