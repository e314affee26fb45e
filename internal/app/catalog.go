/**
 * @description
 * This file defines the product catalog: the terms each account type is
 * opened under, plus account-number generation. The catalog is the single
 * place where per-product limits, rates, and fees live; the ledger store only
 * ever sees the resolved numbers.
 */

package app

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/oldspringtb/ledger-service/internal/domain"
)

// ProductCatalog resolves an account type to its product terms.
type ProductCatalog struct {
	products map[domain.AccountType]domain.ProductSpec
}

// DefaultProductCatalog returns the retail product lineup. Checking is capped
// at 2 per owner and savings at 3; money market and CD are uncapped.
func DefaultProductCatalog() *ProductCatalog {
	products := map[domain.AccountType]domain.ProductSpec{
		domain.AccountTypeChecking: {
			Type:           domain.AccountTypeChecking,
			DisplayName:    "Everyday Checking",
			MinimumDeposit: 2500, // $25.00
			InterestRate:   0,
			MonthlyFee:     500, // $5.00, waived above the minimum balance
			MinimumBalance: 50000,
			MaxPerOwner:    2,
			NumberPrefix:   "11",
			Features:       []string{"debit_card", "bill_pay", "overdraft_alerts"},
		},
		domain.AccountTypeSavings: {
			Type:           domain.AccountTypeSavings,
			DisplayName:    "High-Yield Savings",
			MinimumDeposit: 10000, // $100.00
			InterestRate:   4.2,
			MonthlyFee:     0,
			MinimumBalance: 0,
			MaxPerOwner:    3,
			NumberPrefix:   "22",
			Features:       []string{"interest", "auto_save"},
		},
		domain.AccountTypeMoneyMarket: {
			Type:           domain.AccountTypeMoneyMarket,
			DisplayName:    "Money Market",
			MinimumDeposit: 250000, // $2,500.00
			InterestRate:   4.6,
			MonthlyFee:     1200,
			MinimumBalance: 250000,
			NumberPrefix:   "33",
			Features:       []string{"interest", "check_writing"},
		},
		domain.AccountTypeCD: {
			Type:           domain.AccountTypeCD,
			DisplayName:    "Certificate of Deposit",
			MinimumDeposit: 100000, // $1,000.00
			InterestRate:   5.1,
			MonthlyFee:     0,
			MinimumBalance: 0,
			TermMonths:     12,
			NumberPrefix:   "44",
			Features:       []string{"interest", "fixed_term"},
		},
	}
	return &ProductCatalog{products: products}
}

// Lookup returns the product spec for an account type.
func (c *ProductCatalog) Lookup(accountType domain.AccountType) (domain.ProductSpec, bool) {
	spec, ok := c.products[accountType]
	return spec, ok
}

// Products returns the catalog entries for display.
func (c *ProductCatalog) Products() []domain.ProductSpec {
	out := make([]domain.ProductSpec, 0, len(c.products))
	for _, spec := range c.products {
		out = append(out, spec)
	}
	return out
}

// generateAccountNumber produces a prefix-tagged 12-digit account number.
// Uniqueness per prefix is enforced by the accounts table constraint; the
// random tail makes collisions on a retry vanishingly rare.
func generateAccountNumber(prefix string) (string, error) {
	max := big.NewInt(1)
	digits := 12 - len(prefix)
	for i := 0; i < digits; i++ {
		max.Mul(max, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", fmt.Errorf("account number entropy: %w", err)
	}
	return fmt.Sprintf("%s%0*d", prefix, digits, n), nil
}
