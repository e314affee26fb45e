/**
 * @description
 * This file contains the card action dispatcher: the coordinator's handler for
 * OTP-gated card operations. Card state lives with an external collaborator;
 * the ledger's job ends at handing the verified request to it.
 *
 * @dependencies
 * - pkg/rabbitmq: Event publishing toward the card collaborator.
 */

package app

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/oldspringtb/ledger-service/internal/domain"
	"github.com/oldspringtb/ledger-service/pkg/rabbitmq"
)

const cardActionRoutingKey = "card.action.requested"

// cardActionEvent is the payload published toward the card collaborator.
type cardActionEvent struct {
	UserID    uuid.UUID `json:"user_id"`
	CardID    string    `json:"card_id"`
	Operation string    `json:"operation"`
}

// CardActionDispatcher implements CardActionHandler by publishing the verified
// operation to the events exchange. Unlike code delivery, the event is the
// action's only effect, so a publish failure fails the confirm.
type CardActionDispatcher struct {
	events rabbitmq.Publisher
}

// NewCardActionDispatcher creates a new CardActionDispatcher.
func NewCardActionDispatcher(events rabbitmq.Publisher) *CardActionDispatcher {
	return &CardActionDispatcher{events: events}
}

func (d *CardActionDispatcher) Execute(ctx context.Context, userID uuid.UUID, payload domain.CardActionPayload) (string, error) {
	if payload.CardID == "" || payload.Operation == "" {
		return "", ErrMissingPayload
	}
	if d.events == nil {
		return "", ErrUnknownActionKind
	}

	event := cardActionEvent{
		UserID:    userID,
		CardID:    payload.CardID,
		Operation: payload.Operation,
	}
	if err := d.events.Publish(ctx, ledgerEventsExchange, cardActionRoutingKey, event); err != nil {
		return "", fmt.Errorf("dispatch card action: %w", err)
	}

	log.Printf("level=info component=cards msg=\"card action dispatched\" user_id=%s card_id=%s operation=%s", userID, payload.CardID, payload.Operation)
	return fmt.Sprintf("card %s requested", payload.Operation), nil
}
