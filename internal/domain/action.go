/**
 * @description
 * This file defines the sensitive-action payloads staged by callers and
 * committed by the coordinator once the matching OTP verifies. The coordinator
 * persists none of this; the caller re-supplies the same payload at confirm
 * time.
 */

package domain

import (
	"github.com/google/uuid"
)

// ActionKind tags a staged sensitive action and doubles as the OTP purpose.
type ActionKind string

const (
	ActionKindTransfer         ActionKind = "transfer"
	ActionKindExternalTransfer ActionKind = "external_transfer"
	ActionKindOpenAccount      ActionKind = "open_account"
	ActionKindCloseAccount     ActionKind = "close_account"
	ActionKindAdjustment       ActionKind = "balance_adjustment"
	ActionKindCardAction       ActionKind = "card_action"
)

// SensitiveAction is the caller-held payload for an OTP-gated mutation.
// Exactly one payload field matching Kind is expected to be set.
type SensitiveAction struct {
	Kind             ActionKind                `json:"kind"`
	Transfer         *TransferPayload          `json:"transfer,omitempty"`
	ExternalTransfer *ExternalTransferPayload  `json:"external_transfer,omitempty"`
	OpenAccount      *OpenAccountInput         `json:"open_account,omitempty"`
	CloseAccount     *CloseAccountPayload      `json:"close_account,omitempty"`
	Adjustment       *BalanceAdjustmentPayload `json:"adjustment,omitempty"`
	CardAction       *CardActionPayload        `json:"card_action,omitempty"`
}

// TransferPayload moves funds between two ledger accounts.
type TransferPayload struct {
	FromAccountID uuid.UUID `json:"from_account_id"`
	ToAccountID   uuid.UUID `json:"to_account_id"`
	Amount        int64     `json:"amount"` // in cents
	Description   string    `json:"description,omitempty"`
}

// ExternalTransferPayload moves funds between a ledger account and an
// external counterparty. Direction "outbound" debits, "inbound" credits.
type ExternalTransferPayload struct {
	AccountID    uuid.UUID            `json:"account_id"`
	Counterparty ExternalCounterparty `json:"counterparty"`
	Amount       int64                `json:"amount"` // in cents
	Direction    string               `json:"direction"`
	Description  string               `json:"description,omitempty"`
}

// CloseAccountPayload closes an account, optionally draining any remainder.
type CloseAccountPayload struct {
	AccountID           uuid.UUID  `json:"account_id"`
	TransferRemainderTo *uuid.UUID `json:"transfer_remainder_to,omitempty"`
}

// BalanceAdjustmentPayload applies a single signed ledger entry, used by the
// bill-pay and deposit dashboard flows.
type BalanceAdjustmentPayload struct {
	AccountID   uuid.UUID       `json:"account_id"`
	Type        TransactionType `json:"type"`
	Amount      int64           `json:"amount"` // in cents, signed
	Description string          `json:"description,omitempty"`
}

// CardActionPayload is forwarded verbatim to the card collaborator; card
// state is not part of the ledger.
type CardActionPayload struct {
	CardID    string `json:"card_id"`
	Operation string `json:"operation"` // e.g. "freeze", "unfreeze"
}

// ActionResult is the outcome of a confirmed sensitive action. Fields are set
// according to the action kind that committed.
type ActionResult struct {
	Kind        ActionKind      `json:"kind"`
	Transfer    *TransferResult `json:"transfer,omitempty"`
	Transaction *Transaction    `json:"transaction,omitempty"`
	Account     *Account        `json:"account,omitempty"`
	Message     string          `json:"message,omitempty"`
}
