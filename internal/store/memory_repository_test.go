package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/oldspringtb/ledger-service/internal/domain"
)

func newTestAccount(owner uuid.UUID, accountType domain.AccountType) *domain.Account {
	return &domain.Account{
		ID:            uuid.New(),
		OwnerID:       owner,
		Type:          accountType,
		AccountNumber: "119900" + uuid.NewString()[:6],
		DisplayName:   "test account",
		Status:        domain.AccountStatusActive,
	}
}

func mustCreateWithDeposit(t *testing.T, repo *MemoryRepository, owner uuid.UUID, accountType domain.AccountType, deposit int64) *domain.Account {
	t.Helper()
	account := newTestAccount(owner, accountType)
	var opening *domain.Transaction
	if deposit > 0 {
		opening = &domain.Transaction{Type: domain.TransactionTypeDeposit, Amount: deposit, Description: "opening deposit"}
	}
	if err := repo.CreateAccount(context.Background(), account, opening, 0); err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}
	return account
}

func TestCreateAccount_OpeningDepositIsFirstLedgerEntry(t *testing.T) {
	repo := NewMemoryRepository()
	owner := uuid.New()

	account := mustCreateWithDeposit(t, repo, owner, domain.AccountTypeChecking, 10000)

	got, err := repo.GetAccount(context.Background(), account.ID)
	if err != nil {
		t.Fatalf("GetAccount failed: %v", err)
	}
	if got.Balance != 10000 {
		t.Fatalf("expected balance 10000, got %d", got.Balance)
	}

	entries, err := repo.ListTransactions(context.Background(), account.ID, 10, 0)
	if err != nil {
		t.Fatalf("ListTransactions failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly one ledger entry, got %d", len(entries))
	}
	if entries[0].Type != domain.TransactionTypeDeposit || entries[0].ResultingBalance != 10000 {
		t.Fatalf("unexpected opening entry: %+v", entries[0])
	}
}

func TestCreateAccount_EnforcesPerOwnerProductLimit(t *testing.T) {
	repo := NewMemoryRepository()
	owner := uuid.New()
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := repo.CreateAccount(ctx, newTestAccount(owner, domain.AccountTypeChecking), nil, 2); err != nil {
			t.Fatalf("CreateAccount %d failed: %v", i, err)
		}
	}

	err := repo.CreateAccount(ctx, newTestAccount(owner, domain.AccountTypeChecking), nil, 2)
	if !errors.Is(err, ErrProductLimitExceeded) {
		t.Fatalf("expected ErrProductLimitExceeded, got %v", err)
	}

	// A different product is not constrained by the checking limit.
	if err := repo.CreateAccount(ctx, newTestAccount(owner, domain.AccountTypeSavings), nil, 3); err != nil {
		t.Fatalf("savings account should not hit checking limit: %v", err)
	}
}

func TestCreateAccount_ClosedAccountsDoNotCountTowardLimit(t *testing.T) {
	repo := NewMemoryRepository()
	owner := uuid.New()
	ctx := context.Background()

	first := newTestAccount(owner, domain.AccountTypeChecking)
	if err := repo.CreateAccount(ctx, first, nil, 1); err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}
	if _, err := repo.CloseAccount(ctx, first.ID, nil); err != nil {
		t.Fatalf("CloseAccount failed: %v", err)
	}

	if err := repo.CreateAccount(ctx, newTestAccount(owner, domain.AccountTypeChecking), nil, 1); err != nil {
		t.Fatalf("expected closed account to free the slot, got %v", err)
	}
}

func TestCreateAccount_FirstOpenAccountBecomesPrimary(t *testing.T) {
	repo := NewMemoryRepository()
	owner := uuid.New()

	first := mustCreateWithDeposit(t, repo, owner, domain.AccountTypeChecking, 0)
	second := mustCreateWithDeposit(t, repo, owner, domain.AccountTypeSavings, 0)

	gotFirst, _ := repo.GetAccount(context.Background(), first.ID)
	gotSecond, _ := repo.GetAccount(context.Background(), second.ID)
	if !gotFirst.IsPrimary {
		t.Fatal("expected first account to be primary")
	}
	if gotSecond.IsPrimary {
		t.Fatal("expected second account not to be primary")
	}
}

func TestAppendTransaction_InsufficientFundsLeavesNoTrace(t *testing.T) {
	repo := NewMemoryRepository()
	account := mustCreateWithDeposit(t, repo, uuid.New(), domain.AccountTypeChecking, 4000)
	ctx := context.Background()

	_, err := repo.AppendTransaction(ctx, account.ID, domain.TransactionTypeWithdrawal, -5000, "overdraw attempt")
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}

	got, _ := repo.GetAccount(ctx, account.ID)
	if got.Balance != 4000 {
		t.Fatalf("balance changed after rejected withdrawal: %d", got.Balance)
	}
	entries, _ := repo.ListTransactions(ctx, account.ID, 10, 0)
	if len(entries) != 1 {
		t.Fatalf("rejected withdrawal left a ledger entry: %d entries", len(entries))
	}
}

func TestTransferFunds_CommitsBothLegs(t *testing.T) {
	repo := NewMemoryRepository()
	owner := uuid.New()
	ctx := context.Background()

	from := mustCreateWithDeposit(t, repo, owner, domain.AccountTypeChecking, 10000)
	to := mustCreateWithDeposit(t, repo, owner, domain.AccountTypeSavings, 0)

	result, err := repo.TransferFunds(ctx, from.ID, to.ID, 4000, "rent split")
	if err != nil {
		t.Fatalf("TransferFunds failed: %v", err)
	}
	if result.Debit.Amount != -4000 || result.Debit.ResultingBalance != 6000 {
		t.Fatalf("unexpected debit leg: %+v", result.Debit)
	}
	if result.Credit.Amount != 4000 || result.Credit.ResultingBalance != 4000 {
		t.Fatalf("unexpected credit leg: %+v", result.Credit)
	}

	gotFrom, _ := repo.GetAccount(ctx, from.ID)
	gotTo, _ := repo.GetAccount(ctx, to.ID)
	if gotFrom.Balance != 6000 || gotTo.Balance != 4000 {
		t.Fatalf("balances %d/%d after transfer, want 6000/4000", gotFrom.Balance, gotTo.Balance)
	}
}

func TestTransferFunds_InsufficientFundsCommitsNeitherLeg(t *testing.T) {
	repo := NewMemoryRepository()
	owner := uuid.New()
	ctx := context.Background()

	from := mustCreateWithDeposit(t, repo, owner, domain.AccountTypeChecking, 1000)
	to := mustCreateWithDeposit(t, repo, owner, domain.AccountTypeSavings, 0)

	_, err := repo.TransferFunds(ctx, from.ID, to.ID, 2000, "too much")
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}

	gotFrom, _ := repo.GetAccount(ctx, from.ID)
	gotTo, _ := repo.GetAccount(ctx, to.ID)
	if gotFrom.Balance != 1000 || gotTo.Balance != 0 {
		t.Fatalf("balances %d/%d after failed transfer, want 1000/0", gotFrom.Balance, gotTo.Balance)
	}
	toEntries, _ := repo.ListTransactions(ctx, to.ID, 10, 0)
	if len(toEntries) != 0 {
		t.Fatalf("credit leg recorded on failed transfer: %d entries", len(toEntries))
	}
}

func TestTransferFunds_RejectsClosedAccounts(t *testing.T) {
	repo := NewMemoryRepository()
	owner := uuid.New()
	ctx := context.Background()

	from := mustCreateWithDeposit(t, repo, owner, domain.AccountTypeChecking, 1000)
	to := mustCreateWithDeposit(t, repo, owner, domain.AccountTypeSavings, 0)
	if _, err := repo.CloseAccount(ctx, to.ID, nil); err != nil {
		t.Fatalf("CloseAccount failed: %v", err)
	}

	_, err := repo.TransferFunds(ctx, from.ID, to.ID, 500, "to closed")
	if !errors.Is(err, ErrAccountUnavailable) {
		t.Fatalf("expected ErrAccountUnavailable, got %v", err)
	}
}

// Replaying the ledger from zero must reproduce the stored balance, and the
// entry timestamps must strictly increase so replay order is unambiguous.
func replayLedger(t *testing.T, repo *MemoryRepository, accountID uuid.UUID) {
	t.Helper()
	ctx := context.Background()

	entries, err := repo.ListTransactions(ctx, accountID, 100000, 0)
	if err != nil {
		t.Fatalf("ListTransactions failed: %v", err)
	}
	// Newest first; replay oldest first.
	var balance int64
	var prev time.Time
	for i := len(entries) - 1; i >= 0; i-- {
		entry := entries[i]
		if !prev.IsZero() && !entry.CreatedAt.After(prev) {
			t.Fatalf("ledger timestamps not strictly increasing: %v then %v", prev, entry.CreatedAt)
		}
		prev = entry.CreatedAt
		balance += entry.Amount
		if entry.ResultingBalance != balance {
			t.Fatalf("replay diverged at entry %s: replay %d, recorded %d", entry.ID, balance, entry.ResultingBalance)
		}
	}

	account, err := repo.GetAccount(ctx, accountID)
	if err != nil {
		t.Fatalf("GetAccount failed: %v", err)
	}
	if account.Balance != balance {
		t.Fatalf("replayed balance %d does not match stored balance %d", balance, account.Balance)
	}
}

func TestLedgerReplayReproducesBalance(t *testing.T) {
	repo := NewMemoryRepository()
	account := mustCreateWithDeposit(t, repo, uuid.New(), domain.AccountTypeChecking, 10000)
	ctx := context.Background()

	steps := []struct {
		txType domain.TransactionType
		amount int64
	}{
		{domain.TransactionTypeDeposit, 2500},
		{domain.TransactionTypeWithdrawal, -4000},
		{domain.TransactionTypeFee, -500},
		{domain.TransactionTypeInterest, 37},
		{domain.TransactionTypeDeposit, 100},
	}
	for _, step := range steps {
		if _, err := repo.AppendTransaction(ctx, account.ID, step.txType, step.amount, "step"); err != nil {
			t.Fatalf("AppendTransaction(%s %d) failed: %v", step.txType, step.amount, err)
		}
	}

	replayLedger(t, repo, account.ID)
}

func TestConcurrentTransfersConserveFunds(t *testing.T) {
	repo := NewMemoryRepository()
	owner := uuid.New()
	ctx := context.Background()

	a := mustCreateWithDeposit(t, repo, owner, domain.AccountTypeChecking, 50000)
	b := mustCreateWithDeposit(t, repo, owner, domain.AccountTypeSavings, 50000)

	const workers = 16
	const transfersPerWorker = 50

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			from, to := a.ID, b.ID
			if worker%2 == 0 {
				from, to = to, from
			}
			for j := 0; j < transfersPerWorker; j++ {
				_, err := repo.TransferFunds(ctx, from, to, 7, "concurrent")
				if err != nil && !errors.Is(err, ErrInsufficientFunds) {
					t.Errorf("unexpected transfer error: %v", err)
					return
				}
			}
		}(i)
	}
	wg.Wait()

	gotA, _ := repo.GetAccount(ctx, a.ID)
	gotB, _ := repo.GetAccount(ctx, b.ID)
	if gotA.Balance < 0 || gotB.Balance < 0 {
		t.Fatalf("negative balance after concurrent transfers: %d/%d", gotA.Balance, gotB.Balance)
	}
	if total := gotA.Balance + gotB.Balance; total != 100000 {
		t.Fatalf("funds not conserved: total %d, want 100000", total)
	}

	replayLedger(t, repo, a.ID)
	replayLedger(t, repo, b.ID)
}

func TestCloseAccount_NonZeroBalanceRequiresDestination(t *testing.T) {
	repo := NewMemoryRepository()
	account := mustCreateWithDeposit(t, repo, uuid.New(), domain.AccountTypeChecking, 2500)

	_, err := repo.CloseAccount(context.Background(), account.ID, nil)
	if !errors.Is(err, ErrNonZeroBalance) {
		t.Fatalf("expected ErrNonZeroBalance, got %v", err)
	}

	got, _ := repo.GetAccount(context.Background(), account.ID)
	if got.Status != domain.AccountStatusActive {
		t.Fatalf("account status changed after rejected close: %s", got.Status)
	}
}

func TestCloseAccount_DrainsRemainderAndReassignsPrimary(t *testing.T) {
	repo := NewMemoryRepository()
	owner := uuid.New()
	ctx := context.Background()

	primary := mustCreateWithDeposit(t, repo, owner, domain.AccountTypeChecking, 2500)
	second := mustCreateWithDeposit(t, repo, owner, domain.AccountTypeSavings, 0)

	result, err := repo.CloseAccount(ctx, primary.ID, &second.ID)
	if err != nil {
		t.Fatalf("CloseAccount failed: %v", err)
	}
	if result == nil || result.Debit.Amount != -2500 || result.Credit.Amount != 2500 {
		t.Fatalf("unexpected drain result: %+v", result)
	}

	closed, _ := repo.GetAccount(ctx, primary.ID)
	if closed.Status != domain.AccountStatusClosed || closed.Balance != 0 || closed.IsPrimary {
		t.Fatalf("unexpected closed account state: %+v", closed)
	}

	successor, _ := repo.GetAccount(ctx, second.ID)
	if successor.Balance != 2500 {
		t.Fatalf("remainder not drained to destination: balance %d", successor.Balance)
	}
	if !successor.IsPrimary {
		t.Fatal("expected primary flag reassigned to remaining open account")
	}
}

func TestCloseAccount_SelfDestinationIsNoDrain(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	account := mustCreateWithDeposit(t, repo, uuid.New(), domain.AccountTypeChecking, 2500)

	// Naming the closing account as its own remainder destination nets to
	// zero; the close must still demand a real destination.
	_, err := repo.CloseAccount(ctx, account.ID, &account.ID)
	if !errors.Is(err, ErrNonZeroBalance) {
		t.Fatalf("expected ErrNonZeroBalance, got %v", err)
	}

	got, _ := repo.GetAccount(ctx, account.ID)
	if got.Status != domain.AccountStatusActive || got.Balance != 2500 {
		t.Fatalf("self-destination close mutated account: %+v", got)
	}

	// With a zero balance the self destination is simply no destination.
	empty := mustCreateWithDeposit(t, repo, uuid.New(), domain.AccountTypeChecking, 0)
	if _, err := repo.CloseAccount(ctx, empty.ID, &empty.ID); err != nil {
		t.Fatalf("zero-balance self-destination close failed: %v", err)
	}
}

func TestCloseAccount_PrimaryReassignmentSafeUnderConcurrentReads(t *testing.T) {
	repo := NewMemoryRepository()
	owner := uuid.New()
	ctx := context.Background()

	primary := mustCreateWithDeposit(t, repo, owner, domain.AccountTypeChecking, 0)
	second := mustCreateWithDeposit(t, repo, owner, domain.AccountTypeSavings, 0)

	done := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				if _, err := repo.GetAccountsByOwner(ctx, owner); err != nil {
					t.Errorf("GetAccountsByOwner failed: %v", err)
					return
				}
				if _, err := repo.GetAccount(ctx, second.ID); err != nil {
					t.Errorf("GetAccount failed: %v", err)
					return
				}
			}
		}()
	}

	if _, err := repo.CloseAccount(ctx, primary.ID, nil); err != nil {
		t.Fatalf("CloseAccount failed: %v", err)
	}
	close(done)
	wg.Wait()

	successor, _ := repo.GetAccount(ctx, second.ID)
	if !successor.IsPrimary {
		t.Fatal("expected primary flag reassigned to remaining open account")
	}
}

func TestCreateAccount_ConcurrentOpensRespectProductLimit(t *testing.T) {
	repo := NewMemoryRepository()
	owner := uuid.New()
	ctx := context.Background()

	const workers = 8
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := repo.CreateAccount(ctx, newTestAccount(owner, domain.AccountTypeChecking), nil, 2)
			if err != nil && !errors.Is(err, ErrProductLimitExceeded) {
				t.Errorf("CreateAccount failed: %v", err)
			}
		}()
	}
	wg.Wait()

	accounts, err := repo.GetAccountsByOwner(ctx, owner)
	if err != nil {
		t.Fatalf("GetAccountsByOwner failed: %v", err)
	}
	if len(accounts) != 2 {
		t.Fatalf("expected exactly 2 checking accounts after racing opens, got %d", len(accounts))
	}
}

func TestReplaceOutstandingOTP_SupersedesLiveCode(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	user := uuid.New()

	first := &domain.OTPRequest{
		ID:        uuid.New(),
		UserID:    user,
		Purpose:   "transfer",
		Code:      "111111",
		Status:    domain.OTPStatusIssued,
		ExpiresAt: time.Now().Add(10 * time.Minute),
	}
	if err := repo.ReplaceOutstandingOTP(ctx, first); err != nil {
		t.Fatalf("ReplaceOutstandingOTP failed: %v", err)
	}

	second := &domain.OTPRequest{
		ID:        uuid.New(),
		UserID:    user,
		Purpose:   "transfer",
		Code:      "222222",
		Status:    domain.OTPStatusIssued,
		ExpiresAt: time.Now().Add(10 * time.Minute),
	}
	if err := repo.ReplaceOutstandingOTP(ctx, second); err != nil {
		t.Fatalf("ReplaceOutstandingOTP failed: %v", err)
	}

	got, err := repo.GetOTPRequest(ctx, first.ID)
	if err != nil {
		t.Fatalf("GetOTPRequest failed: %v", err)
	}
	if got.Status != domain.OTPStatusSuperseded {
		t.Fatalf("expected first request superseded, got %s", got.Status)
	}

	// Another purpose for the same user is untouched.
	other := &domain.OTPRequest{
		ID:        uuid.New(),
		UserID:    user,
		Purpose:   "close_account",
		Code:      "333333",
		Status:    domain.OTPStatusIssued,
		ExpiresAt: time.Now().Add(10 * time.Minute),
	}
	if err := repo.ReplaceOutstandingOTP(ctx, other); err != nil {
		t.Fatalf("ReplaceOutstandingOTP failed: %v", err)
	}
	gotSecond, _ := repo.GetOTPRequest(ctx, second.ID)
	if gotSecond.Status != domain.OTPStatusIssued {
		t.Fatalf("different purpose superseded the transfer code: %s", gotSecond.Status)
	}
}

func TestConsumeOTPRequest_IsSingleUse(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	req := &domain.OTPRequest{
		ID:        uuid.New(),
		UserID:    uuid.New(),
		Purpose:   "transfer",
		Code:      "123456",
		Status:    domain.OTPStatusIssued,
		ExpiresAt: time.Now().Add(10 * time.Minute),
	}
	if err := repo.ReplaceOutstandingOTP(ctx, req); err != nil {
		t.Fatalf("ReplaceOutstandingOTP failed: %v", err)
	}

	if err := repo.ConsumeOTPRequest(ctx, req.ID, time.Now()); err != nil {
		t.Fatalf("first consume failed: %v", err)
	}
	err := repo.ConsumeOTPRequest(ctx, req.ID, time.Now())
	if !errors.Is(err, ErrOTPNotIssued) {
		t.Fatalf("expected ErrOTPNotIssued on second consume, got %v", err)
	}
}

func TestExpireOverdueOTPRequests_SweepsOnlyOverdueIssued(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	now := time.Now()

	overdue := &domain.OTPRequest{
		ID: uuid.New(), UserID: uuid.New(), Purpose: "transfer",
		Code: "111111", Status: domain.OTPStatusIssued, ExpiresAt: now.Add(-time.Minute),
	}
	live := &domain.OTPRequest{
		ID: uuid.New(), UserID: uuid.New(), Purpose: "transfer",
		Code: "222222", Status: domain.OTPStatusIssued, ExpiresAt: now.Add(10 * time.Minute),
	}
	for _, req := range []*domain.OTPRequest{overdue, live} {
		if err := repo.ReplaceOutstandingOTP(ctx, req); err != nil {
			t.Fatalf("ReplaceOutstandingOTP failed: %v", err)
		}
	}

	swept, err := repo.ExpireOverdueOTPRequests(ctx, now)
	if err != nil {
		t.Fatalf("ExpireOverdueOTPRequests failed: %v", err)
	}
	if swept != 1 {
		t.Fatalf("expected 1 swept request, got %d", swept)
	}

	gotOverdue, _ := repo.GetOTPRequest(ctx, overdue.ID)
	gotLive, _ := repo.GetOTPRequest(ctx, live.ID)
	if gotOverdue.Status != domain.OTPStatusExpired {
		t.Fatalf("overdue request not expired: %s", gotOverdue.Status)
	}
	if gotLive.Status != domain.OTPStatusIssued {
		t.Fatalf("live request swept: %s", gotLive.Status)
	}
}
