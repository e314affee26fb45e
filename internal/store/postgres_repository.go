/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository`
 * interface. It contains all the SQL for the accounts, transactions, and
 * otp_requests tables.
 *
 * @notes
 * - Balance mutations run inside a database transaction with
 *   `SELECT ... FOR UPDATE` row locks. Transfers lock both account rows in a
 *   single query ordered by id, so two racing transfers over the same pair in
 *   opposite directions always acquire the locks in the same order.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oldspringtb/ledger-service/internal/domain"
)

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const accountColumns = `id, owner_id, type, account_number, display_name, balance, status,
	interest_rate, monthly_fee, minimum_balance, is_primary, term_months, maturity_date,
	created_at, updated_at`

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var account domain.Account
	err := row.Scan(
		&account.ID, &account.OwnerID, &account.Type, &account.AccountNumber,
		&account.DisplayName, &account.Balance, &account.Status, &account.InterestRate,
		&account.MonthlyFee, &account.MinimumBalance, &account.IsPrimary,
		&account.TermMonths, &account.MaturityDate, &account.CreatedAt, &account.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// CreateAccount inserts an account and its optional opening deposit atomically.
func (r *PostgresRepository) CreateAccount(ctx context.Context, account *domain.Account, opening *domain.Transaction, maxPerOwner int) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	// Two concurrent opens could both read count < maxPerOwner; serialize
	// opens per owner for the rest of the tx before counting.
	if _, err := tx.Exec(ctx,
		`SELECT pg_advisory_xact_lock(hashtextextended($1::text, 0))`,
		account.OwnerID,
	); err != nil {
		return err
	}

	if maxPerOwner > 0 {
		var count int
		err = tx.QueryRow(ctx,
			`SELECT COUNT(*) FROM accounts WHERE owner_id = $1 AND type = $2 AND status <> 'closed'`,
			account.OwnerID, account.Type,
		).Scan(&count)
		if err != nil {
			return err
		}
		if count >= maxPerOwner {
			return ErrProductLimitExceeded
		}
	}

	var openCount int
	err = tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM accounts WHERE owner_id = $1 AND status <> 'closed'`,
		account.OwnerID,
	).Scan(&openCount)
	if err != nil {
		return err
	}
	account.IsPrimary = openCount == 0

	err = tx.QueryRow(ctx, `
		INSERT INTO accounts (
			id, owner_id, type, account_number, display_name, balance, status,
			interest_rate, monthly_fee, minimum_balance, is_primary, term_months, maturity_date
		)
		VALUES ($1, $2, $3, $4, $5, 0, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at, updated_at
	`,
		account.ID, account.OwnerID, account.Type, account.AccountNumber,
		account.DisplayName, account.Status, account.InterestRate, account.MonthlyFee,
		account.MinimumBalance, account.IsPrimary, account.TermMonths, account.MaturityDate,
	).Scan(&account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		return err
	}

	if opening != nil {
		if err := insertTransaction(ctx, tx, opening); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx,
			`UPDATE accounts SET balance = $1, updated_at = NOW() WHERE id = $2`,
			opening.ResultingBalance, account.ID,
		); err != nil {
			return err
		}
		account.Balance = opening.ResultingBalance
	}

	return tx.Commit(ctx)
}

// GetAccount retrieves one account by id.
func (r *PostgresRepository) GetAccount(ctx context.Context, accountID uuid.UUID) (*domain.Account, error) {
	query := fmt.Sprintf(`SELECT %s FROM accounts WHERE id = $1`, accountColumns)
	return scanAccount(r.db.QueryRow(ctx, query, accountID))
}

// GetAccountsByOwner retrieves all accounts for an owner, oldest first.
func (r *PostgresRepository) GetAccountsByOwner(ctx context.Context, ownerID uuid.UUID) ([]domain.Account, error) {
	query := fmt.Sprintf(`SELECT %s FROM accounts WHERE owner_id = $1 ORDER BY created_at ASC`, accountColumns)
	rows, err := r.db.Query(ctx, query, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []domain.Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *account)
	}
	return accounts, rows.Err()
}

// ListInterestBearingAccounts returns active accounts with a non-zero rate.
func (r *PostgresRepository) ListInterestBearingAccounts(ctx context.Context) ([]domain.Account, error) {
	query := fmt.Sprintf(`SELECT %s FROM accounts WHERE status = 'active' AND interest_rate > 0 ORDER BY created_at ASC`, accountColumns)
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []domain.Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *account)
	}
	return accounts, rows.Err()
}

// ListFeeChargeableAccounts returns active accounts with a monthly fee.
func (r *PostgresRepository) ListFeeChargeableAccounts(ctx context.Context) ([]domain.Account, error) {
	query := fmt.Sprintf(`SELECT %s FROM accounts WHERE status = 'active' AND monthly_fee > 0 ORDER BY created_at ASC`, accountColumns)
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []domain.Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *account)
	}
	return accounts, rows.Err()
}

// AppendTransaction atomically applies a signed amount and records the entry.
func (r *PostgresRepository) AppendTransaction(ctx context.Context, accountID uuid.UUID, txType domain.TransactionType, amount int64, description string) (*domain.Transaction, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	record, err := appendTransactionLocked(ctx, tx, accountID, txType, amount, description)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return record, nil
}

// appendTransactionLocked locks the account row, applies the delta, and
// writes the completed transaction. Callers own the surrounding database tx.
func appendTransactionLocked(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, txType domain.TransactionType, amount int64, description string) (*domain.Transaction, error) {
	var balance int64
	var status domain.AccountStatus
	err := tx.QueryRow(ctx,
		`SELECT balance, status FROM accounts WHERE id = $1 FOR UPDATE`,
		accountID,
	).Scan(&balance, &status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	if status == domain.AccountStatusClosed {
		return nil, ErrAccountUnavailable
	}

	newBalance := balance + amount
	if newBalance < 0 {
		return nil, ErrInsufficientFunds
	}

	record := &domain.Transaction{
		ID:               uuid.New(),
		AccountID:        accountID,
		Type:             txType,
		Amount:           amount,
		ResultingBalance: newBalance,
		Description:      description,
		Status:           domain.TransactionStatusCompleted,
	}
	if err := insertTransaction(ctx, tx, record); err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx,
		`UPDATE accounts SET balance = $1, updated_at = NOW() WHERE id = $2`,
		newBalance, accountID,
	); err != nil {
		return nil, err
	}

	return record, nil
}

func insertTransaction(ctx context.Context, tx pgx.Tx, record *domain.Transaction) error {
	return tx.QueryRow(ctx, `
		INSERT INTO transactions (id, account_id, type, amount, resulting_balance, description, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`,
		record.ID, record.AccountID, record.Type, record.Amount,
		record.ResultingBalance, record.Description, record.Status,
	).Scan(&record.CreatedAt)
}

// TransferFunds debits and credits in one database transaction. Both account
// rows are locked by a single ordered query before any balance is read.
func (r *PostgresRepository) TransferFunds(ctx context.Context, fromAccountID, toAccountID uuid.UUID, amount int64, description string) (*domain.TransferResult, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	// Lock both rows in ascending id order regardless of transfer direction.
	rows, err := tx.Query(ctx,
		`SELECT id, status FROM accounts WHERE id = ANY($1) ORDER BY id FOR UPDATE`,
		[]uuid.UUID{fromAccountID, toAccountID},
	)
	if err != nil {
		return nil, err
	}
	statuses := make(map[uuid.UUID]domain.AccountStatus, 2)
	for rows.Next() {
		var id uuid.UUID
		var status domain.AccountStatus
		if err := rows.Scan(&id, &status); err != nil {
			rows.Close()
			return nil, err
		}
		statuses[id] = status
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(statuses) != 2 {
		return nil, ErrAccountNotFound
	}
	if statuses[fromAccountID] != domain.AccountStatusActive || statuses[toAccountID] != domain.AccountStatusActive {
		return nil, ErrAccountUnavailable
	}

	debit, err := appendTransactionLocked(ctx, tx, fromAccountID, domain.TransactionTypeTransfer, -amount, description)
	if err != nil {
		return nil, err
	}
	credit, err := appendTransactionLocked(ctx, tx, toAccountID, domain.TransactionTypeTransfer, amount, description)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &domain.TransferResult{Debit: debit, Credit: credit}, nil
}

// CloseAccount drains any remainder, marks the account closed, and reassigns
// the primary flag, all in one database transaction.
func (r *PostgresRepository) CloseAccount(ctx context.Context, accountID uuid.UUID, transferRemainderTo *uuid.UUID) (*domain.TransferResult, error) {
	// A self-target drain nets to zero and would close the account with its
	// balance intact; treat it as no destination.
	if transferRemainderTo != nil && *transferRemainderTo == accountID {
		transferRemainderTo = nil
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	lockIDs := []uuid.UUID{accountID}
	if transferRemainderTo != nil {
		lockIDs = append(lockIDs, *transferRemainderTo)
	}
	if _, err := tx.Exec(ctx,
		`SELECT id FROM accounts WHERE id = ANY($1) ORDER BY id FOR UPDATE`,
		lockIDs,
	); err != nil {
		return nil, err
	}

	var ownerID uuid.UUID
	var balance int64
	var status domain.AccountStatus
	var isPrimary bool
	err = tx.QueryRow(ctx,
		`SELECT owner_id, balance, status, is_primary FROM accounts WHERE id = $1`,
		accountID,
	).Scan(&ownerID, &balance, &status, &isPrimary)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	if status == domain.AccountStatusClosed {
		return nil, ErrAccountUnavailable
	}

	var result *domain.TransferResult
	if balance > 0 {
		if transferRemainderTo == nil {
			return nil, ErrNonZeroBalance
		}
		debit, err := appendTransactionLocked(ctx, tx, accountID, domain.TransactionTypeTransfer, -balance, "closing balance transfer")
		if err != nil {
			return nil, err
		}
		credit, err := appendTransactionLocked(ctx, tx, *transferRemainderTo, domain.TransactionTypeTransfer, balance, "closing balance transfer")
		if err != nil {
			return nil, err
		}
		result = &domain.TransferResult{Debit: debit, Credit: credit}
	}

	if _, err := tx.Exec(ctx,
		`UPDATE accounts SET status = 'closed', is_primary = FALSE, updated_at = NOW() WHERE id = $1`,
		accountID,
	); err != nil {
		return nil, err
	}

	if isPrimary {
		if _, err := tx.Exec(ctx, `
			UPDATE accounts SET is_primary = TRUE, updated_at = NOW()
			WHERE id = (
				SELECT id FROM accounts
				WHERE owner_id = $1 AND status <> 'closed' AND id <> $2
				ORDER BY created_at ASC
				LIMIT 1
			)
		`, ownerID, accountID); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return result, nil
}

// ListTransactions returns an account's ledger entries, newest first.
func (r *PostgresRepository) ListTransactions(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]domain.Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := r.db.Query(ctx, `
		SELECT id, account_id, type, amount, resulting_balance, description, status, created_at
		FROM transactions
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, accountID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transactions []domain.Transaction
	for rows.Next() {
		var record domain.Transaction
		err := rows.Scan(
			&record.ID, &record.AccountID, &record.Type, &record.Amount,
			&record.ResultingBalance, &record.Description, &record.Status, &record.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, record)
	}
	return transactions, rows.Err()
}

// ReplaceOutstandingOTP supersedes the live code for (user, purpose) and
// inserts the replacement in one database transaction.
func (r *PostgresRepository) ReplaceOutstandingOTP(ctx context.Context, req *domain.OTPRequest) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		UPDATE otp_requests SET status = 'superseded'
		WHERE user_id = $1 AND purpose = $2 AND status = 'issued'
	`, req.UserID, req.Purpose); err != nil {
		return err
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO otp_requests (id, user_id, purpose, code, status, expires_at, attempts)
		VALUES ($1, $2, $3, $4, $5, $6, 0)
		RETURNING created_at
	`,
		req.ID, req.UserID, req.Purpose, req.Code, req.Status, req.ExpiresAt,
	).Scan(&req.CreatedAt)
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// GetOTPRequest retrieves one OTP request by id.
func (r *PostgresRepository) GetOTPRequest(ctx context.Context, requestID uuid.UUID) (*domain.OTPRequest, error) {
	var req domain.OTPRequest
	err := r.db.QueryRow(ctx, `
		SELECT id, user_id, purpose, code, status, expires_at, consumed_at, attempts, created_at
		FROM otp_requests
		WHERE id = $1
	`, requestID).Scan(
		&req.ID, &req.UserID, &req.Purpose, &req.Code, &req.Status,
		&req.ExpiresAt, &req.ConsumedAt, &req.Attempts, &req.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOTPNotFound
		}
		return nil, err
	}
	return &req, nil
}

// ConsumeOTPRequest transitions issued -> consumed; any other starting state fails.
func (r *PostgresRepository) ConsumeOTPRequest(ctx context.Context, requestID uuid.UUID, consumedAt time.Time) error {
	result, err := r.db.Exec(ctx, `
		UPDATE otp_requests SET status = 'consumed', consumed_at = $2
		WHERE id = $1 AND status = 'issued'
	`, requestID, consumedAt)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrOTPNotIssued
	}
	return nil
}

// IncrementOTPAttempts records one failed verify attempt.
func (r *PostgresRepository) IncrementOTPAttempts(ctx context.Context, requestID uuid.UUID) (int, error) {
	var attempts int
	err := r.db.QueryRow(ctx, `
		UPDATE otp_requests SET attempts = attempts + 1
		WHERE id = $1
		RETURNING attempts
	`, requestID).Scan(&attempts)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrOTPNotFound
		}
		return 0, err
	}
	return attempts, nil
}

// MarkOTPExpired transitions a request to the expired terminal state.
func (r *PostgresRepository) MarkOTPExpired(ctx context.Context, requestID uuid.UUID) error {
	result, err := r.db.Exec(ctx, `
		UPDATE otp_requests SET status = 'expired'
		WHERE id = $1 AND status = 'issued'
	`, requestID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrOTPNotIssued
	}
	return nil
}

// ExpireOverdueOTPRequests sweeps issued requests past their expiry.
func (r *PostgresRepository) ExpireOverdueOTPRequests(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.Exec(ctx, `
		UPDATE otp_requests SET status = 'expired'
		WHERE status = 'issued' AND expires_at <= $1
	`, now)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}
