package transaction

import (
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/sango-pay/sango_pay/internal/money"
)

func newPending(t *testing.T) *Transaction {
	t.Helper()
	return New(uuid.NewString(), TypeDeposit, money.MustNew("10.00", "USD"), uuid.NewString())
}

func TestNewStartsPending(t *testing.T) {
	tx := newPending(t)
	if tx.Status != StatusPending {
		t.Fatalf("expected PENDING, got %s", tx.Status)
	}
	if tx.ID == "" {
		t.Fatal("expected server-generated id")
	}
	if tx.CompletedAt != nil {
		t.Fatal("pending transaction must not have completedAt")
	}
}

func TestCompleteSetsCompletedAt(t *testing.T) {
	tx := newPending(t)
	if err := tx.Complete(); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if tx.Status != StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", tx.Status)
	}
	if tx.CompletedAt == nil {
		t.Fatal("expected completedAt to be set")
	}
}

func TestTerminalTransitionsAreIdempotent(t *testing.T) {
	tx := newPending(t)
	if err := tx.Complete(); err != nil {
		t.Fatalf("complete: %v", err)
	}
	first := *tx.CompletedAt

	// Second call must not error and must not move completedAt.
	if err := tx.Complete(); err != nil {
		t.Fatalf("repeat complete: %v", err)
	}
	if !tx.CompletedAt.Equal(first) {
		t.Fatal("repeat complete must not reset completedAt")
	}
}

func TestNoTransitionOutOfTerminal(t *testing.T) {
	cases := []struct {
		name  string
		enter func(*Transaction) error
		leave func(*Transaction) error
	}{
		{"completed to cancelled", (*Transaction).Complete, (*Transaction).Cancel},
		{"cancelled to completed", (*Transaction).Cancel, (*Transaction).Complete},
		{"failed to cancelled", func(tx *Transaction) error { return tx.Fail("INSUFFICIENT_FUNDS") }, (*Transaction).Cancel},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tx := newPending(t)
			if err := tc.enter(tx); err != nil {
				t.Fatalf("enter terminal: %v", err)
			}
			if err := tc.leave(tx); !errors.Is(err, ErrTerminalState) {
				t.Fatalf("expected terminal state error, got %v", err)
			}
		})
	}
}

func TestFailRecordsReason(t *testing.T) {
	tx := newPending(t)
	if err := tx.Fail("INSUFFICIENT_FUNDS"); err != nil {
		t.Fatalf("fail: %v", err)
	}
	if tx.FailureReason != "INSUFFICIENT_FUNDS" {
		t.Fatalf("expected failure reason, got %q", tx.FailureReason)
	}
}

func TestTypeDirection(t *testing.T) {
	credits := []Type{TypeDeposit, TypeRefund, TypeTransferIn}
	debits := []Type{TypeWithdrawal, TypePurchase, TypeTransferOut}

	for _, typ := range credits {
		if !typ.IsCredit() || typ.IsDebit() {
			t.Fatalf("%s should be a credit", typ)
		}
	}
	for _, typ := range debits {
		if !typ.IsDebit() || typ.IsCredit() {
			t.Fatalf("%s should be a debit", typ)
		}
	}
	if TypeAdjustment.IsCredit() || TypeAdjustment.IsDebit() {
		t.Fatal("adjustment carries its own sign")
	}
	if Type("BOGUS").Valid() {
		t.Fatal("unknown type must not validate")
	}
}
