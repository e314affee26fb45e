/**
 * @description
 * This file contains the transfer engine: atomic money movement between two
 * ledger accounts, and the local leg of transfers to external counterparties.
 * The two-account critical section lives in the store; this layer owns
 * validation and the external-transfer event.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/oldspringtb/ledger-service/internal/domain"
	"github.com/oldspringtb/ledger-service/internal/store"
	"github.com/oldspringtb/ledger-service/pkg/rabbitmq"
)

var ErrInvalidDirection = errors.New("external transfer direction must be inbound or outbound")

// TransferEngine executes transfers on top of the ledger store.
type TransferEngine struct {
	repo   store.Repository
	events rabbitmq.Publisher
}

// NewTransferEngine creates a new TransferEngine instance.
func NewTransferEngine(repo store.Repository, events rabbitmq.Publisher) *TransferEngine {
	return &TransferEngine{repo: repo, events: events}
}

// Transfer moves amount between two ledger accounts. Both legs commit or
// neither does; a transfer to the source account itself is rejected.
func (e *TransferEngine) Transfer(ctx context.Context, fromAccountID, toAccountID uuid.UUID, amount int64, description string) (*domain.TransferResult, error) {
	if amount <= 0 {
		return nil, store.ErrInvalidAmount
	}
	if fromAccountID == toAccountID {
		return nil, store.ErrInvalidAmount
	}

	result, err := e.repo.TransferFunds(ctx, fromAccountID, toAccountID, amount, description)
	if err != nil {
		return nil, err
	}

	log.Printf("level=info component=transfers msg=\"transfer committed\" from=%s to=%s amount=%d", fromAccountID, toAccountID, amount)
	return result, nil
}

// ExternalTransfer records the local leg of a transfer whose far side lives
// outside the ledger. The counterparty's routing and account number go into
// the transaction description; initiation toward the network is published
// at-least-once while the local record is written exactly once.
func (e *TransferEngine) ExternalTransfer(ctx context.Context, payload domain.ExternalTransferPayload) (*domain.Transaction, error) {
	if payload.Amount <= 0 {
		return nil, store.ErrInvalidAmount
	}

	var delta int64
	switch payload.Direction {
	case "outbound":
		delta = -payload.Amount
	case "inbound":
		delta = payload.Amount
	default:
		return nil, ErrInvalidDirection
	}

	account, err := e.repo.GetAccount(ctx, payload.AccountID)
	if err != nil {
		return nil, err
	}
	if account.Status != domain.AccountStatusActive {
		return nil, store.ErrAccountUnavailable
	}

	description := fmt.Sprintf("external %s %s/%s", payload.Direction,
		payload.Counterparty.RoutingNumber, maskAccountNumber(payload.Counterparty.AccountNumber))
	if payload.Description != "" {
		description = fmt.Sprintf("%s: %s", description, payload.Description)
	}

	record, err := e.repo.AppendTransaction(ctx, payload.AccountID, domain.TransactionTypeTransfer, delta, description)
	if err != nil {
		return nil, err
	}

	if e.events != nil {
		if pubErr := e.events.Publish(ctx, ledgerEventsExchange, "transfer.external.initiated", record); pubErr != nil {
			log.Printf("level=warn component=transfers msg=\"external transfer event publish failed\" transaction_id=%s err=%v", record.ID, pubErr)
		}
	}
	return record, nil
}

// maskAccountNumber keeps only the last four digits of a counterparty number.
func maskAccountNumber(number string) string {
	if len(number) <= 4 {
		return number
	}
	return "****" + number[len(number)-4:]
}
