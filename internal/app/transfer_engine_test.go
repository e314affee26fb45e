package app

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/oldspringtb/ledger-service/internal/domain"
	"github.com/oldspringtb/ledger-service/internal/store"
)

func newTestTransferFixture(t *testing.T) (*TransferEngine, *AccountService, *store.MemoryRepository, *capturePublisher) {
	t.Helper()
	repo := store.NewMemoryRepository()
	events := &capturePublisher{}
	accounts := NewAccountService(repo, DefaultProductCatalog(), events)
	return NewTransferEngine(repo, events), accounts, repo, events
}

func TestTransfer_RejectsNonPositiveAmountAndSelfTransfer(t *testing.T) {
	engine, accounts, _, _ := newTestTransferFixture(t)
	ctx := context.Background()

	account, err := accounts.Open(ctx, uuid.New(), domain.OpenAccountInput{Type: domain.AccountTypeChecking, InitialDeposit: 10000})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	if _, err := engine.Transfer(ctx, account.ID, uuid.New(), 0, ""); !errors.Is(err, store.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount for zero amount, got %v", err)
	}
	if _, err := engine.Transfer(ctx, account.ID, uuid.New(), -500, ""); !errors.Is(err, store.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount for negative amount, got %v", err)
	}
	if _, err := engine.Transfer(ctx, account.ID, account.ID, 500, ""); !errors.Is(err, store.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount for self transfer, got %v", err)
	}
}

func TestTransfer_MovesFundsBetweenAccounts(t *testing.T) {
	engine, accounts, repo, _ := newTestTransferFixture(t)
	ctx := context.Background()
	owner := uuid.New()

	from, err := accounts.Open(ctx, owner, domain.OpenAccountInput{Type: domain.AccountTypeChecking, InitialDeposit: 10000})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	to, err := accounts.Open(ctx, owner, domain.OpenAccountInput{Type: domain.AccountTypeSavings, InitialDeposit: 10000})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	result, err := engine.Transfer(ctx, from.ID, to.ID, 4000, "savings sweep")
	if err != nil {
		t.Fatalf("Transfer failed: %v", err)
	}
	if result.Debit.ResultingBalance != 6000 || result.Credit.ResultingBalance != 14000 {
		t.Fatalf("unexpected resulting balances: debit %d credit %d", result.Debit.ResultingBalance, result.Credit.ResultingBalance)
	}

	gotFrom, _ := repo.GetAccount(ctx, from.ID)
	gotTo, _ := repo.GetAccount(ctx, to.ID)
	if gotFrom.Balance != 6000 || gotTo.Balance != 14000 {
		t.Fatalf("balances %d/%d after transfer", gotFrom.Balance, gotTo.Balance)
	}
}

func TestExternalTransfer_OutboundDebitsAndPublishes(t *testing.T) {
	engine, accounts, repo, events := newTestTransferFixture(t)
	ctx := context.Background()

	account, err := accounts.Open(ctx, uuid.New(), domain.OpenAccountInput{Type: domain.AccountTypeChecking, InitialDeposit: 10000})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	record, err := engine.ExternalTransfer(ctx, domain.ExternalTransferPayload{
		AccountID: account.ID,
		Counterparty: domain.ExternalCounterparty{
			RoutingNumber: "021000021",
			AccountNumber: "9876543210",
			Name:          "Landlord LLC",
		},
		Amount:    2500,
		Direction: "outbound",
	})
	if err != nil {
		t.Fatalf("ExternalTransfer failed: %v", err)
	}
	if record.Amount != -2500 {
		t.Fatalf("expected debit of 2500, got %d", record.Amount)
	}
	if strings.Contains(record.Description, "987654") {
		t.Fatalf("counterparty account number not masked: %q", record.Description)
	}
	if !strings.Contains(record.Description, "3210") {
		t.Fatalf("masked description should keep last four digits: %q", record.Description)
	}

	got, _ := repo.GetAccount(ctx, account.ID)
	if got.Balance != 7500 {
		t.Fatalf("expected balance 7500, got %d", got.Balance)
	}
	if published := events.byRoutingKey("transfer.external.initiated"); len(published) != 1 {
		t.Fatalf("expected one initiation event, got %d", len(published))
	}
}

func TestExternalTransfer_InboundCreditsAccount(t *testing.T) {
	engine, accounts, repo, _ := newTestTransferFixture(t)
	ctx := context.Background()

	account, err := accounts.Open(ctx, uuid.New(), domain.OpenAccountInput{Type: domain.AccountTypeChecking, InitialDeposit: 2500})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	record, err := engine.ExternalTransfer(ctx, domain.ExternalTransferPayload{
		AccountID:    account.ID,
		Counterparty: domain.ExternalCounterparty{RoutingNumber: "021000021", AccountNumber: "12345678"},
		Amount:       100000,
		Direction:    "inbound",
	})
	if err != nil {
		t.Fatalf("ExternalTransfer failed: %v", err)
	}
	if record.Amount != 100000 {
		t.Fatalf("expected credit of 100000, got %d", record.Amount)
	}

	got, _ := repo.GetAccount(ctx, account.ID)
	if got.Balance != 102500 {
		t.Fatalf("expected balance 102500, got %d", got.Balance)
	}
}

func TestExternalTransfer_RejectsUnknownDirection(t *testing.T) {
	engine, accounts, _, _ := newTestTransferFixture(t)
	ctx := context.Background()

	account, err := accounts.Open(ctx, uuid.New(), domain.OpenAccountInput{Type: domain.AccountTypeChecking, InitialDeposit: 2500})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	_, err = engine.ExternalTransfer(ctx, domain.ExternalTransferPayload{
		AccountID: account.ID,
		Amount:    100,
		Direction: "sideways",
	})
	if !errors.Is(err, ErrInvalidDirection) {
		t.Fatalf("expected ErrInvalidDirection, got %v", err)
	}
}
