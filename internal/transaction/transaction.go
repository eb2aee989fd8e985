package transaction

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/sango-pay/sango_pay/internal/money"
)

// ErrTerminalState indicates a transition out of a terminal status was
// attempted. Re-entering the same terminal status is a silent no-op.
var ErrTerminalState = errors.New("transaction already in a terminal state")

// Type classifies the direction and intent of a transaction. Amounts are
// always positive magnitudes; the type implies the sign.
type Type string

const (
	TypeDeposit     Type = "DEPOSIT"
	TypeWithdrawal  Type = "WITHDRAWAL"
	TypePurchase    Type = "PURCHASE"
	TypeRefund      Type = "REFUND"
	TypeAdjustment  Type = "ADJUSTMENT"
	TypeTransferIn  Type = "TRANSFER_IN"
	TypeTransferOut Type = "TRANSFER_OUT"
)

// IsCredit reports whether the type adds funds to the balance.
func (t Type) IsCredit() bool {
	switch t {
	case TypeDeposit, TypeRefund, TypeTransferIn:
		return true
	}
	return false
}

// IsDebit reports whether the type removes funds from the balance.
func (t Type) IsDebit() bool {
	switch t {
	case TypeWithdrawal, TypePurchase, TypeTransferOut:
		return true
	}
	return false
}

// Valid reports whether the type is one of the known transaction types.
func (t Type) Valid() bool {
	switch t {
	case TypeDeposit, TypeWithdrawal, TypePurchase, TypeRefund, TypeAdjustment, TypeTransferIn, TypeTransferOut:
		return true
	}
	return false
}

// Status is the transaction lifecycle state. PENDING is the only non-terminal
// state; COMPLETED, FAILED and CANCELLED are terminal.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
)

// Terminal reports whether the status permits no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Transaction is the immutable record of one balance mutation. The ID is
// server-generated and stable across retries of the same idempotency key.
// Only Status, FailureReason and CompletedAt change after creation.
type Transaction struct {
	ID             string
	UserID         string
	Type           Type
	Amount         money.Money
	BalanceBefore  money.Money
	BalanceAfter   money.Money
	OrderID        string
	Status         Status
	FailureReason  string
	PaymentMethod  string
	IdempotencyKey string
	LinkedID       string
	Description    string
	CreatedAt      time.Time
	CompletedAt    *time.Time
}

// New creates a PENDING transaction. BalanceBefore and BalanceAfter are
// snapshots set by the caller once the mutation result is known; they are
// never recomputed later.
func New(userID string, typ Type, amount money.Money, idempotencyKey string) *Transaction {
	return &Transaction{
		ID:             uuid.NewString(),
		UserID:         userID,
		Type:           typ,
		Amount:         amount,
		Status:         StatusPending,
		IdempotencyKey: idempotencyKey,
		CreatedAt:      time.Now().UTC(),
	}
}

// Complete marks the transaction COMPLETED. Calling it again is a no-op.
func (t *Transaction) Complete() error {
	return t.transition(StatusCompleted, "")
}

// Fail marks the transaction FAILED with a reason code. Idempotent.
func (t *Transaction) Fail(reason string) error {
	return t.transition(StatusFailed, reason)
}

// Cancel marks the transaction CANCELLED. Idempotent.
func (t *Transaction) Cancel() error {
	return t.transition(StatusCancelled, "")
}

// Terminal reports whether the transaction reached a terminal status.
func (t *Transaction) Terminal() bool {
	return t.Status.Terminal()
}

// Clone returns a copy safe to mutate independently.
func (t *Transaction) Clone() *Transaction {
	cp := *t
	if t.CompletedAt != nil {
		at := *t.CompletedAt
		cp.CompletedAt = &at
	}
	return &cp
}

func (t *Transaction) transition(target Status, reason string) error {
	if t.Status == target {
		return nil
	}
	if t.Status.Terminal() {
		return ErrTerminalState
	}
	now := time.Now().UTC()
	t.Status = target
	t.CompletedAt = &now
	if reason != "" {
		t.FailureReason = reason
	}
	return nil
}
