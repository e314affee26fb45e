/**
 * @description
 * This file defines the Transaction domain model: the append-only audit record
 * for every balance movement in the ledger. For a given account, folding the
 * signed amounts of its completed transactions over an opening balance of zero
 * must reproduce every stored resulting balance exactly.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// TransactionType classifies a ledger entry.
type TransactionType string

const (
	TransactionTypeDeposit    TransactionType = "deposit"
	TransactionTypeWithdrawal TransactionType = "withdrawal"
	TransactionTypeTransfer   TransactionType = "transfer"
	TransactionTypeInterest   TransactionType = "interest"
	TransactionTypeFee        TransactionType = "fee"
)

// TransactionStatus is the settlement state of a ledger entry. A completed
// transaction is immutable; a pending one may only move to completed or failed.
type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "pending"
	TransactionStatusCompleted TransactionStatus = "completed"
	TransactionStatusFailed    TransactionStatus = "failed"
)

// Transaction represents one ledger entry and maps to the `transactions` table.
// Amount is signed: positive credits the account, negative debits it.
// ResultingBalance is the account balance immediately after this entry applied.
type Transaction struct {
	ID               uuid.UUID         `json:"id"`
	AccountID        uuid.UUID         `json:"account_id"`
	Type             TransactionType   `json:"type"`
	Amount           int64             `json:"amount"`            // in cents, signed
	ResultingBalance int64             `json:"resulting_balance"` // in cents
	Description      string            `json:"description"`
	Status           TransactionStatus `json:"status"`
	CreatedAt        time.Time         `json:"created_at"`
}

// TransferResult carries both legs of a committed internal transfer.
type TransferResult struct {
	Debit  *Transaction `json:"debit"`
	Credit *Transaction `json:"credit"`
}

// ExternalCounterparty identifies the far side of an external transfer. The
// ledger records it in the debit description; it holds no account row here.
type ExternalCounterparty struct {
	RoutingNumber string `json:"routing_number"`
	AccountNumber string `json:"account_number"`
	Name          string `json:"name,omitempty"`
}
