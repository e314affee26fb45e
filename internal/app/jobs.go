/**
 * @description
 * Scheduled job implementations: monthly interest posting, monthly fee
 * assessment, and the OTP expiry sweep.
 */
package app

import (
	"context"
	"errors"
	"log/slog"

	"github.com/oldspringtb/ledger-service/internal/store"
)

// Jobs contains the logic for all scheduled tasks.
type Jobs struct {
	repo     store.Repository
	accounts *AccountService
	otp      *OTPService
	logger   *slog.Logger
}

// NewJobs creates a new Jobs runner.
func NewJobs(repo store.Repository, accounts *AccountService, otp *OTPService, logger *slog.Logger) *Jobs {
	return &Jobs{
		repo:     repo,
		accounts: accounts,
		otp:      otp,
		logger:   logger,
	}
}

// PostMonthlyInterest credits one month of interest to every interest-bearing
// account. An account that races to closed between listing and posting is
// skipped, not failed.
func (j *Jobs) PostMonthlyInterest() {
	j.logger.Info("starting monthly interest job")
	ctx := context.Background()

	accounts, err := j.repo.ListInterestBearingAccounts(ctx)
	if err != nil {
		j.logger.Error("failed to list interest bearing accounts", "error", err)
		return
	}

	if len(accounts) == 0 {
		j.logger.Info("no interest bearing accounts to process")
		return
	}

	posted := 0
	for _, account := range accounts {
		txn, err := j.accounts.ApplyMonthlyInterest(ctx, account.ID)
		if err != nil {
			if errors.Is(err, store.ErrAccountUnavailable) || errors.Is(err, store.ErrAccountNotFound) {
				j.logger.Info("skipping account no longer eligible", "account_id", account.ID)
				continue
			}
			j.logger.Error("failed to post interest", "account_id", account.ID, "error", err)
			continue
		}
		if txn != nil {
			posted++
		}
	}

	j.logger.Info("monthly interest job finished", "accounts", len(accounts), "posted", posted)
}

// ChargeMonthlyFees assesses the monthly maintenance fee on every
// fee-carrying account; the service waives it above the minimum balance.
func (j *Jobs) ChargeMonthlyFees() {
	j.logger.Info("starting monthly fee job")
	ctx := context.Background()

	accounts, err := j.repo.ListFeeChargeableAccounts(ctx)
	if err != nil {
		j.logger.Error("failed to list fee chargeable accounts", "error", err)
		return
	}

	if len(accounts) == 0 {
		j.logger.Info("no fee chargeable accounts to process")
		return
	}

	charged := 0
	for _, account := range accounts {
		txn, err := j.accounts.ChargeMonthlyFee(ctx, account.ID)
		if err != nil {
			if errors.Is(err, store.ErrAccountUnavailable) || errors.Is(err, store.ErrAccountNotFound) {
				j.logger.Info("skipping account no longer eligible", "account_id", account.ID)
				continue
			}
			j.logger.Error("failed to charge monthly fee", "account_id", account.ID, "error", err)
			continue
		}
		if txn != nil {
			charged++
		}
	}

	j.logger.Info("monthly fee job finished", "accounts", len(accounts), "charged", charged)
}

// SweepExpiredOTPRequests expires issued OTP requests whose window passed.
func (j *Jobs) SweepExpiredOTPRequests() {
	ctx := context.Background()

	expired, err := j.otp.SweepExpired(ctx)
	if err != nil {
		j.logger.Error("failed to sweep expired otp requests", "error", err)
		return
	}
	if expired > 0 {
		j.logger.Info("expired overdue otp requests", "count", expired)
	}
}
