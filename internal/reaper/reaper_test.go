package reaper

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/sango-pay/sango_pay/internal/ledger"
	"github.com/sango-pay/sango_pay/internal/lock"
	"github.com/sango-pay/sango_pay/internal/logging"
	"github.com/sango-pay/sango_pay/internal/money"
	"github.com/sango-pay/sango_pay/internal/transaction"
)

func newTestReaper(t *testing.T, cutoff time.Duration) (*Reaper, ledger.Store) {
	t.Helper()
	store := ledger.NewInMemory()
	locker := lock.NewMemory(time.Second)
	return New(store, locker, logging.Discard(), time.Minute, cutoff), store
}

func savePending(t *testing.T, store ledger.Store, age time.Duration) *transaction.Transaction {
	t.Helper()
	tx := transaction.New(uuid.NewString(), transaction.TypePurchase, money.MustNew("5.00", "USD"), uuid.NewString())
	tx.CreatedAt = time.Now().UTC().Add(-age)
	if err := store.SaveTransaction(context.Background(), tx); err != nil {
		t.Fatalf("save pending: %v", err)
	}
	return tx
}

func TestSweepCancelsStalePending(t *testing.T) {
	reaper, store := newTestReaper(t, 10*time.Minute)

	stale := savePending(t, store, time.Hour)
	fresh := savePending(t, store, time.Minute)

	cancelled, err := reaper.Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if cancelled != 1 {
		t.Fatalf("expected 1 cancellation, got %d", cancelled)
	}

	got, err := store.FindTransactionByID(context.Background(), stale.ID)
	if err != nil {
		t.Fatalf("find stale: %v", err)
	}
	if got.Status != transaction.StatusCancelled {
		t.Fatalf("expected CANCELLED, got %s", got.Status)
	}
	if got.CompletedAt == nil {
		t.Fatal("cancellation must set completedAt")
	}

	young, err := store.FindTransactionByID(context.Background(), fresh.ID)
	if err != nil {
		t.Fatalf("find fresh: %v", err)
	}
	if young.Status != transaction.StatusPending {
		t.Fatalf("fresh transaction must be untouched, got %s", young.Status)
	}
}

func TestSweepSkipsClaimedTransactions(t *testing.T) {
	store := ledger.NewInMemory()
	locker := lock.NewMemory(50 * time.Millisecond)
	reaper := New(store, locker, logging.Discard(), time.Minute, 10*time.Minute)

	stale := savePending(t, store, time.Hour)

	// Simulate an in-flight ledger call holding the balance lock.
	release := make(chan struct{})
	held := make(chan struct{})
	go func() {
		_ = locker.WithBalanceLock(context.Background(), stale.UserID+"/spendable", func(context.Context) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	cancelled, err := reaper.Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if cancelled != 0 {
		t.Fatalf("reaper must not touch a claimed transaction, cancelled %d", cancelled)
	}
	close(release)

	got, err := store.FindTransactionByID(context.Background(), stale.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.Status != transaction.StatusPending {
		t.Fatalf("claimed transaction mutated: %s", got.Status)
	}
}

func TestSweepSkipsCompletedUnderLock(t *testing.T) {
	reaper, store := newTestReaper(t, 10*time.Minute)

	stale := savePending(t, store, time.Hour)

	// The operation completed between the scan and the lock acquisition.
	got, err := store.FindTransactionByID(context.Background(), stale.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if err := got.Complete(); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := store.SaveTransaction(context.Background(), got); err != nil {
		t.Fatalf("save: %v", err)
	}

	cancelled, err := reaper.Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if cancelled != 0 {
		t.Fatalf("completed transaction must not be cancelled, got %d", cancelled)
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	store := ledger.NewInMemory()
	locker := lock.NewMemory(time.Second)
	reaper := New(store, locker, logging.Discard(), 10*time.Millisecond, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		reaper.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reaper did not stop on context cancellation")
	}
}
