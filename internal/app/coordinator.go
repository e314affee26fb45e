/**
 * @description
 * This file contains the sensitive action coordinator: the single choke point
 * through which every OTP-gated mutation flows. Stage issues a code for the
 * action's purpose; Confirm verifies the submitted code and, only on success,
 * dispatches the caller-supplied payload to the owning service.
 *
 * @notes
 * - The coordinator holds no staged state. The caller re-submits the full
 *   action at confirm time, so a crashed coordinator loses nothing.
 * - OTP failures surface unchanged; a consumed code stays consumed even when
 *   the downstream mutation fails, and the caller must restage.
 */

package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/oldspringtb/ledger-service/internal/domain"
	"github.com/oldspringtb/ledger-service/internal/store"
)

var (
	ErrUnknownActionKind = errors.New("unknown sensitive action kind")
	ErrMissingPayload    = errors.New("action payload does not match kind")
)

// CardActionHandler executes card operations on behalf of the coordinator.
// Card state lives outside the ledger; the handler is the integration seam.
type CardActionHandler interface {
	Execute(ctx context.Context, userID uuid.UUID, payload domain.CardActionPayload) (string, error)
}

// Coordinator gates sensitive mutations behind OTP verification.
type Coordinator struct {
	otp       *OTPService
	transfers *TransferEngine
	accounts  *AccountService
	cards     CardActionHandler
}

// NewCoordinator creates a new Coordinator. A nil cards handler rejects
// card_action confirms with ErrUnknownActionKind.
func NewCoordinator(otp *OTPService, transfers *TransferEngine, accounts *AccountService, cards CardActionHandler) *Coordinator {
	return &Coordinator{
		otp:       otp,
		transfers: transfers,
		accounts:  accounts,
		cards:     cards,
	}
}

// Stage validates the action shape and issues an OTP whose purpose is the
// action kind. The returned request carries the ID the caller confirms with.
func (c *Coordinator) Stage(ctx context.Context, userID uuid.UUID, action domain.SensitiveAction, destination, displayName string) (*domain.OTPRequest, error) {
	if err := validateActionShape(action); err != nil {
		return nil, err
	}
	return c.otp.Request(ctx, userID, string(action.Kind), destination, displayName)
}

// Confirm verifies the code against the staged request and dispatches the
// action. The OTP purpose and user must match the action or the confirm is
// rejected after the code has been consumed.
func (c *Coordinator) Confirm(ctx context.Context, userID uuid.UUID, requestID uuid.UUID, code string, action domain.SensitiveAction) (*domain.ActionResult, error) {
	if err := validateActionShape(action); err != nil {
		return nil, err
	}

	req, err := c.otp.Verify(ctx, requestID, code)
	if err != nil {
		return nil, err
	}
	if req.UserID != userID || req.Purpose != string(action.Kind) {
		// The code is consumed either way; a mismatched confirm cannot be
		// replayed against the purpose it was issued for.
		return nil, fmt.Errorf("%w: otp purpose %q", ErrMissingPayload, req.Purpose)
	}

	return c.dispatch(ctx, userID, action)
}

// requireOwnedAccount resolves an account and checks it belongs to the acting
// user. A foreign account answers not-found, the same shape the read path
// gives, so confirm does not reveal which account IDs exist.
func (c *Coordinator) requireOwnedAccount(ctx context.Context, userID, accountID uuid.UUID) error {
	account, err := c.accounts.Get(ctx, accountID)
	if err != nil {
		return err
	}
	if account.OwnerID != userID {
		return store.ErrAccountNotFound
	}
	return nil
}

func (c *Coordinator) dispatch(ctx context.Context, userID uuid.UUID, action domain.SensitiveAction) (*domain.ActionResult, error) {
	switch action.Kind {
	case domain.ActionKindTransfer:
		p := action.Transfer
		if err := c.requireOwnedAccount(ctx, userID, p.FromAccountID); err != nil {
			return nil, err
		}
		result, err := c.transfers.Transfer(ctx, p.FromAccountID, p.ToAccountID, p.Amount, p.Description)
		if err != nil {
			return nil, err
		}
		return &domain.ActionResult{Kind: action.Kind, Transfer: result}, nil

	case domain.ActionKindExternalTransfer:
		if err := c.requireOwnedAccount(ctx, userID, action.ExternalTransfer.AccountID); err != nil {
			return nil, err
		}
		txn, err := c.transfers.ExternalTransfer(ctx, *action.ExternalTransfer)
		if err != nil {
			return nil, err
		}
		return &domain.ActionResult{Kind: action.Kind, Transaction: txn}, nil

	case domain.ActionKindOpenAccount:
		account, err := c.accounts.Open(ctx, userID, *action.OpenAccount)
		if err != nil {
			return nil, err
		}
		return &domain.ActionResult{Kind: action.Kind, Account: account}, nil

	case domain.ActionKindCloseAccount:
		p := action.CloseAccount
		if err := c.requireOwnedAccount(ctx, userID, p.AccountID); err != nil {
			return nil, err
		}
		if p.TransferRemainderTo != nil {
			if err := c.requireOwnedAccount(ctx, userID, *p.TransferRemainderTo); err != nil {
				return nil, err
			}
		}
		result, err := c.accounts.Close(ctx, p.AccountID, p.TransferRemainderTo)
		if err != nil {
			return nil, err
		}
		return &domain.ActionResult{Kind: action.Kind, Transfer: result, Message: "account closed"}, nil

	case domain.ActionKindAdjustment:
		if err := c.requireOwnedAccount(ctx, userID, action.Adjustment.AccountID); err != nil {
			return nil, err
		}
		txn, err := c.accounts.Adjust(ctx, *action.Adjustment)
		if err != nil {
			return nil, err
		}
		return &domain.ActionResult{Kind: action.Kind, Transaction: txn}, nil

	case domain.ActionKindCardAction:
		if c.cards == nil {
			return nil, ErrUnknownActionKind
		}
		message, err := c.cards.Execute(ctx, userID, *action.CardAction)
		if err != nil {
			return nil, err
		}
		return &domain.ActionResult{Kind: action.Kind, Message: message}, nil

	default:
		return nil, ErrUnknownActionKind
	}
}

// validateActionShape ensures exactly the payload matching Kind is present.
func validateActionShape(action domain.SensitiveAction) error {
	switch action.Kind {
	case domain.ActionKindTransfer:
		if action.Transfer == nil {
			return ErrMissingPayload
		}
	case domain.ActionKindExternalTransfer:
		if action.ExternalTransfer == nil {
			return ErrMissingPayload
		}
	case domain.ActionKindOpenAccount:
		if action.OpenAccount == nil {
			return ErrMissingPayload
		}
	case domain.ActionKindCloseAccount:
		if action.CloseAccount == nil {
			return ErrMissingPayload
		}
	case domain.ActionKindAdjustment:
		if action.Adjustment == nil {
			return ErrMissingPayload
		}
	case domain.ActionKindCardAction:
		if action.CardAction == nil {
			return ErrMissingPayload
		}
	default:
		return ErrUnknownActionKind
	}
	return nil
}
