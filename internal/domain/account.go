/**
 * @description
 * This file defines the account-side domain models for the ledger service:
 * the Account entity, the product catalog describing each account type, and
 * the inputs used when opening accounts.
 *
 * @notes
 * - Amounts are stored as `int64` in cents, the smallest currency unit, which
 *   avoids floating-point inaccuracies with financial data.
 * - Interest rates are annualized percentages (e.g. 4.5 means 4.5% APY).
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// AccountType identifies the product an account was opened under.
type AccountType string

const (
	AccountTypeChecking    AccountType = "checking"
	AccountTypeSavings     AccountType = "savings"
	AccountTypeMoneyMarket AccountType = "money_market"
	AccountTypeCD          AccountType = "cd"
)

// AccountStatus is the lifecycle state of an account. Closure is a status
// transition, never a row deletion, so transaction history stays referable.
type AccountStatus string

const (
	AccountStatusActive   AccountStatus = "active"
	AccountStatusInactive AccountStatus = "inactive"
	AccountStatusBlocked  AccountStatus = "blocked"
	AccountStatusClosed   AccountStatus = "closed"
)

// Account represents a customer account and maps to the `accounts` table.
type Account struct {
	ID             uuid.UUID     `json:"id"`
	OwnerID        uuid.UUID     `json:"owner_id"`
	Type           AccountType   `json:"type"`
	AccountNumber  string        `json:"account_number"`
	DisplayName    string        `json:"display_name"`
	Balance        int64         `json:"balance"` // in cents
	Status         AccountStatus `json:"status"`
	InterestRate   float64       `json:"interest_rate"`   // annualized percent
	MonthlyFee     int64         `json:"monthly_fee"`     // in cents
	MinimumBalance int64         `json:"minimum_balance"` // in cents
	IsPrimary      bool          `json:"is_primary"`
	TermMonths     int           `json:"term_months,omitempty"`
	MaturityDate   *time.Time    `json:"maturity_date,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// ProductSpec describes one entry of the product catalog: the terms an
// account of a given type is opened under.
type ProductSpec struct {
	Type            AccountType `json:"type"`
	DisplayName     string      `json:"display_name"`
	MinimumDeposit  int64       `json:"minimum_deposit"` // in cents
	InterestRate    float64     `json:"interest_rate"`   // annualized percent
	MonthlyFee      int64       `json:"monthly_fee"`     // in cents
	MinimumBalance  int64       `json:"minimum_balance"` // in cents
	MaxPerOwner     int         `json:"max_per_owner"`   // 0 = unlimited
	TermMonths      int         `json:"term_months,omitempty"`
	NumberPrefix    string      `json:"-"`
	Features        []string    `json:"features,omitempty"`
}

// OpenAccountInput is the caller-supplied request to open a new account.
type OpenAccountInput struct {
	Type           AccountType `json:"type"`
	DisplayName    string      `json:"display_name,omitempty"`
	InitialDeposit int64       `json:"initial_deposit"` // in cents
	TermMonths     int         `json:"term_months,omitempty"`
}
