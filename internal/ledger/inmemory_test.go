package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/sango-pay/sango_pay/internal/balance"
	"github.com/sango-pay/sango_pay/internal/money"
	"github.com/sango-pay/sango_pay/internal/transaction"
)

func TestInMemorySaveBalanceVersioning(t *testing.T) {
	store := NewInMemory()
	ctx := context.Background()
	userID := uuid.NewString()

	b := balance.New(userID, "USD", balance.KindSpendable)
	if err := b.Deposit(money.MustNew("10.00", "USD")); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	// Insert at expected version zero.
	if err := store.SaveBalance(ctx, b, 0); err != nil {
		t.Fatalf("insert: %v", err)
	}

	// A second insert of the same (user, kind) conflicts.
	dup := balance.New(userID, "USD", balance.KindSpendable)
	if err := dup.Deposit(money.MustNew("1.00", "USD")); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := store.SaveBalance(ctx, dup, 0); !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("expected conflict on duplicate insert, got %v", err)
	}

	// Update with the correct expected version succeeds.
	loaded, err := store.FindBalance(ctx, userID, balance.KindSpendable)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	prev := loaded.Version
	if err := loaded.Deposit(money.MustNew("5.00", "USD")); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := store.SaveBalance(ctx, loaded, prev); err != nil {
		t.Fatalf("update: %v", err)
	}

	// A stale writer with the old expected version is rejected.
	stale := loaded.Clone()
	if err := stale.Deposit(money.MustNew("1.00", "USD")); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := store.SaveBalance(ctx, stale, prev); !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("expected stale write rejection, got %v", err)
	}
}

func TestInMemoryIdempotencyKeyUnique(t *testing.T) {
	store := NewInMemory()
	ctx := context.Background()
	userID := uuid.NewString()

	first := transaction.New(userID, transaction.TypeDeposit, money.MustNew("5.00", "USD"), "key-1")
	if err := store.SaveTransaction(ctx, first); err != nil {
		t.Fatalf("save: %v", err)
	}

	// Updating the same transaction under its key is fine.
	if err := first.Complete(); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := store.SaveTransaction(ctx, first); err != nil {
		t.Fatalf("update: %v", err)
	}

	// A different transaction reusing the key is rejected.
	second := transaction.New(userID, transaction.TypeDeposit, money.MustNew("5.00", "USD"), "key-1")
	if err := store.SaveTransaction(ctx, second); !errors.Is(err, ErrDuplicateIdempotencyKey) {
		t.Fatalf("expected duplicate key error, got %v", err)
	}

	found, err := store.FindTransactionByIdempotencyKey(ctx, "key-1")
	if err != nil {
		t.Fatalf("find by key: %v", err)
	}
	if found.ID != first.ID || found.Status != transaction.StatusCompleted {
		t.Fatalf("unexpected transaction: %+v", found)
	}
}

func TestInMemoryFindStalePending(t *testing.T) {
	store := NewInMemory()
	ctx := context.Background()
	userID := uuid.NewString()

	stale := transaction.New(userID, transaction.TypePurchase, money.MustNew("5.00", "USD"), "stale-key")
	stale.CreatedAt = time.Now().UTC().Add(-time.Hour)
	if err := store.SaveTransaction(ctx, stale); err != nil {
		t.Fatalf("save stale: %v", err)
	}

	fresh := transaction.New(userID, transaction.TypePurchase, money.MustNew("5.00", "USD"), "fresh-key")
	if err := store.SaveTransaction(ctx, fresh); err != nil {
		t.Fatalf("save fresh: %v", err)
	}

	done := transaction.New(userID, transaction.TypePurchase, money.MustNew("5.00", "USD"), "done-key")
	done.CreatedAt = time.Now().UTC().Add(-time.Hour)
	if err := done.Complete(); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := store.SaveTransaction(ctx, done); err != nil {
		t.Fatalf("save done: %v", err)
	}

	out, err := store.FindStalePending(ctx, time.Now().UTC().Add(-10*time.Minute))
	if err != nil {
		t.Fatalf("find stale: %v", err)
	}
	if len(out) != 1 || out[0].ID != stale.ID {
		t.Fatalf("expected only the stale pending transaction, got %d", len(out))
	}
}

func TestInMemorySaveOperationAtomic(t *testing.T) {
	store := NewInMemory()
	ctx := context.Background()
	userID := uuid.NewString()

	seeded := SeedBalance(store, userID, balance.KindSpendable, money.MustNew("50.00", "USD"))

	working := seeded.Clone()
	prev := working.Version
	if declined, err := working.Withdraw(money.MustNew("20.00", "USD")); err != nil || declined {
		t.Fatalf("withdraw declined=%v err=%v", declined, err)
	}
	tx := transaction.New(userID, transaction.TypeWithdrawal, money.MustNew("20.00", "USD"), "op-key")
	tx.BalanceBefore = seeded.Current
	tx.BalanceAfter = working.Current
	if err := tx.Complete(); err != nil {
		t.Fatalf("complete: %v", err)
	}

	// Armed failure leaves both the balance and the transaction unwritten.
	boom := errors.New("boom")
	FailNextWrite(store, boom)
	if err := store.SaveOperation(ctx, working, prev, tx); !errors.Is(err, boom) {
		t.Fatalf("expected injected failure, got %v", err)
	}
	if got := StoredBalance(store, userID, balance.KindSpendable); got.Current.Formatted() != "50.00" {
		t.Fatalf("balance written despite failure: %s", got.Current.Formatted())
	}
	if _, err := store.FindTransactionByIdempotencyKey(ctx, "op-key"); !errors.Is(err, ErrTransactionNotFound) {
		t.Fatalf("transaction written despite failure: %v", err)
	}

	// Without the failure both writes land together.
	if err := store.SaveOperation(ctx, working, prev, tx); err != nil {
		t.Fatalf("save operation: %v", err)
	}
	if got := StoredBalance(store, userID, balance.KindSpendable); got.Current.Formatted() != "30.00" {
		t.Fatalf("expected 30.00, got %s", got.Current.Formatted())
	}
	if _, err := store.FindTransactionByIdempotencyKey(ctx, "op-key"); err != nil {
		t.Fatalf("transaction missing after save: %v", err)
	}
}
