package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/sango-pay/sango_pay/internal/balance"
	"github.com/sango-pay/sango_pay/internal/money"
	"github.com/sango-pay/sango_pay/internal/transaction"
)

var (
	// ErrBalanceNotFound occurs when the user has no balance of the requested
	// kind and the operation is not a first funding event.
	ErrBalanceNotFound = errors.New("balance not found")

	// ErrTransactionNotFound occurs on lookups of unknown transaction ids.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrVersionConflict indicates an optimistic write lost the race: the
	// expected version no longer matches the stored one. The service retries
	// it; it never reaches callers directly.
	ErrVersionConflict = errors.New("balance version conflict")

	// ErrConcurrentModification is surfaced once version-conflict retries
	// are exhausted.
	ErrConcurrentModification = errors.New("concurrent modification, retries exhausted")

	// ErrDuplicateIdempotencyKey indicates a transaction with the same
	// idempotency key was persisted concurrently. The service resolves it by
	// returning the prior outcome; callers never see it as an error.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrInvalidRequest rejects malformed operation requests before any
	// state is touched.
	ErrInvalidRequest = errors.New("invalid operation request")
)

// Decline reason codes recorded on FAILED transactions and returned in
// outcomes. Declines are expected business results, not faults.
const (
	ReasonInvalidAmount     = "INVALID_AMOUNT"
	ReasonCurrencyMismatch  = "CURRENCY_MISMATCH"
	ReasonInsufficientFunds = "INSUFFICIENT_FUNDS"
	ReasonNegativeBalance   = "NEGATIVE_BALANCE_REJECTED"
	ReasonBalanceInactive   = "BALANCE_INACTIVE"
)

// OperationRequest is one caller-submitted balance operation. Amount carries
// the currency; for ADJUSTMENT it may be negative. The idempotency key makes
// retries safe: the same key is applied at most once. Target selects the
// sub-balance for DEPOSIT operations (default spendable); all other types
// always act on the spendable balance.
type OperationRequest struct {
	UserID         string
	Type           transaction.Type
	Amount         money.Money
	IdempotencyKey string
	Target         balance.Kind
	Description    string
	OrderID        string
	PaymentMethod  string
}

// targetKind resolves the sub-balance the operation acts on.
func (r OperationRequest) targetKind() balance.Kind {
	if r.Type == transaction.TypeDeposit && r.Target == balance.KindDeposit {
		return balance.KindDeposit
	}
	return balance.KindSpendable
}

// Outcome reports the terminal result of a processed operation. A declined
// operation has Status FAILED and a reason code; it is not an error.
type Outcome struct {
	TransactionID string
	Status        transaction.Status
	BalanceAfter  money.Money
	ErrorReason   string
}

// Applied reports whether the operation mutated the balance.
func (o Outcome) Applied() bool {
	return o.Status == transaction.StatusCompleted
}

// BalanceResponse is the read-model shape exposed to callers.
type BalanceResponse struct {
	UserID      string
	Current     money.Money
	Currency    string
	Active      bool
	LastUpdated time.Time
}

// Store is the persistence contract the ledger requires. The persisted
// aggregates plus their version counters are the single source of truth;
// no in-process cache is authoritative. Implementations must make the
// idempotency-key lookup a consistent read relative to the write path.
type Store interface {
	// FindBalance returns the user's sub-balance of the given kind, or
	// ErrBalanceNotFound.
	FindBalance(ctx context.Context, userID string, kind balance.Kind) (*balance.Balance, error)

	// FindBalanceByUserID returns the user's spendable balance.
	FindBalanceByUserID(ctx context.Context, userID string) (*balance.Balance, error)

	// SaveBalance writes the aggregate iff the stored version still equals
	// expectedVersion, otherwise ErrVersionConflict. expectedVersion zero
	// means the aggregate is new and must be inserted.
	SaveBalance(ctx context.Context, b *balance.Balance, expectedVersion int64) error

	// FindTransactionByID returns a transaction or ErrTransactionNotFound.
	FindTransactionByID(ctx context.Context, id string) (*transaction.Transaction, error)

	// FindTransactionByIdempotencyKey returns the transaction holding the
	// key, or ErrTransactionNotFound.
	FindTransactionByIdempotencyKey(ctx context.Context, key string) (*transaction.Transaction, error)

	// FindRecentByUserID lists the user's newest transactions, newest first.
	FindRecentByUserID(ctx context.Context, userID string, limit int) ([]*transaction.Transaction, error)

	// SaveTransaction inserts or updates a single transaction record.
	SaveTransaction(ctx context.Context, tx *transaction.Transaction) error

	// FindStalePending lists PENDING transactions created before the cutoff.
	FindStalePending(ctx context.Context, cutoff time.Time) ([]*transaction.Transaction, error)

	// SaveOperation persists a balance write and its transactions as one
	// atomic unit. Returns ErrVersionConflict or ErrDuplicateIdempotencyKey
	// with nothing applied.
	SaveOperation(ctx context.Context, b *balance.Balance, expectedVersion int64, txs ...*transaction.Transaction) error

	// SaveTransfer persists both sides of a dual-balance transfer and the
	// linked transaction pair atomically: either everything applies or
	// nothing does.
	SaveTransfer(ctx context.Context, from *balance.Balance, fromVersion int64, to *balance.Balance, toVersion int64, debit, credit *transaction.Transaction) error
}
