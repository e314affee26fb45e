package app

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/oldspringtb/ledger-service/internal/domain"
)

type failingPublisher struct{}

func (p *failingPublisher) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	return errors.New("broker unavailable")
}

func (p *failingPublisher) Close() {}

func TestCardActionDispatcher_PublishesRequestEvent(t *testing.T) {
	events := &capturePublisher{}
	dispatcher := NewCardActionDispatcher(events)
	user := uuid.New()

	message, err := dispatcher.Execute(context.Background(), user, domain.CardActionPayload{
		CardID:    "card_7",
		Operation: "freeze",
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if message != "card freeze requested" {
		t.Fatalf("unexpected message: %q", message)
	}

	published := events.byRoutingKey("card.action.requested")
	if len(published) != 1 {
		t.Fatalf("expected one card event, got %d", len(published))
	}
	event, ok := published[0].Body.(cardActionEvent)
	if !ok {
		t.Fatalf("unexpected event body: %T", published[0].Body)
	}
	if event.UserID != user || event.CardID != "card_7" || event.Operation != "freeze" {
		t.Fatalf("unexpected event payload: %+v", event)
	}
}

func TestCardActionDispatcher_RejectsIncompletePayload(t *testing.T) {
	dispatcher := NewCardActionDispatcher(&capturePublisher{})

	_, err := dispatcher.Execute(context.Background(), uuid.New(), domain.CardActionPayload{CardID: "card_7"})
	if !errors.Is(err, ErrMissingPayload) {
		t.Fatalf("expected ErrMissingPayload, got %v", err)
	}
}

func TestCardActionDispatcher_PublishFailureFailsTheAction(t *testing.T) {
	dispatcher := NewCardActionDispatcher(&failingPublisher{})

	_, err := dispatcher.Execute(context.Background(), uuid.New(), domain.CardActionPayload{
		CardID:    "card_7",
		Operation: "unfreeze",
	})
	if err == nil {
		t.Fatal("expected publish failure to fail the card action")
	}
}
