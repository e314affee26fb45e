/**
 * @description
 * Cron scheduler setup for scheduled ledger jobs.
 */
package app

import (
	"context"
	"log/slog"

	"github.com/oldspringtb/ledger-service/internal/config"
	"github.com/robfig/cron/v3"
)

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron   *cron.Cron
	jobs   *Jobs
	logger *slog.Logger
	config config.Config
}

// NewScheduler creates a new scheduler instance.
func NewScheduler(jobs *Jobs, logger *slog.Logger, cfg config.Config) *Scheduler {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger)))

	return &Scheduler{
		cron:   c,
		jobs:   jobs,
		logger: logger,
		config: cfg,
	}
}

// Start registers the jobs and starts the cron scheduler.
func (s *Scheduler) Start() {
	if _, err := s.cron.AddFunc(s.config.InterestJobSchedule, s.jobs.PostMonthlyInterest); err != nil {
		s.logger.Error("failed to schedule monthly interest job", "error", err)
	} else {
		s.logger.Info("scheduled monthly interest job", "schedule", s.config.InterestJobSchedule)
	}

	if _, err := s.cron.AddFunc(s.config.MonthlyFeeJobSchedule, s.jobs.ChargeMonthlyFees); err != nil {
		s.logger.Error("failed to schedule monthly fee job", "error", err)
	} else {
		s.logger.Info("scheduled monthly fee job", "schedule", s.config.MonthlyFeeJobSchedule)
	}

	if _, err := s.cron.AddFunc(s.config.OTPSweepSchedule, s.jobs.SweepExpiredOTPRequests); err != nil {
		s.logger.Error("failed to schedule otp sweep job", "error", err)
	} else {
		s.logger.Info("scheduled otp sweep job", "schedule", s.config.OTPSweepSchedule)
	}

	s.cron.Start()
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
