package balance

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sango-pay/sango_pay/internal/money"
)

var (
	// ErrInvalidAmount occurs when a mutation amount is zero or negative where
	// a positive amount is required.
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrNegativeBalance indicates a mutation would drive the current balance
	// below zero.
	ErrNegativeBalance = errors.New("balance would become negative")

	// ErrInactive indicates the balance has been deactivated and no longer
	// accepts mutations.
	ErrInactive = errors.New("balance is inactive")
)

// Kind names a sub-balance within a user's funds.
type Kind string

const (
	// KindSpendable holds funds usable for purchases and withdrawals.
	KindSpendable Kind = "spendable"
	// KindDeposit holds freshly added funds awaiting release to spendable.
	KindDeposit Kind = "deposit"
)

// Balance is the per-user balance aggregate. A user owns at most one balance
// per kind. currentBalance never goes negative; totalDeposited and totalSpent
// only grow except through audited operations. Every successful mutation
// bumps Version exactly once so stale writes are rejected at the store.
type Balance struct {
	ID             string
	UserID         string
	Kind           Kind
	Current        money.Money
	TotalDeposited money.Money
	TotalSpent     money.Money
	Currency       string
	Active         bool
	Version        int64
	UpdatedAt      time.Time
	Notes          []string
}

// New creates a zero-valued active balance for the user. Version starts at
// zero; the first persisted mutation takes it to one.
func New(userID, currency string, kind Kind) *Balance {
	now := time.Now().UTC()
	return &Balance{
		ID:             uuid.NewString(),
		UserID:         userID,
		Kind:           kind,
		Current:        money.Zero(currency),
		TotalDeposited: money.Zero(currency),
		TotalSpent:     money.Zero(currency),
		Currency:       currency,
		Active:         true,
		Version:        0,
		UpdatedAt:      now,
	}
}

// Deposit credits the balance and grows the deposited total.
func (b *Balance) Deposit(amount money.Money) error {
	if err := b.requireActive(); err != nil {
		return err
	}
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	current, err := b.Current.Add(amount)
	if err != nil {
		return err
	}
	deposited, err := b.TotalDeposited.Add(amount)
	if err != nil {
		return err
	}
	b.Current = current
	b.TotalDeposited = deposited
	b.touch()
	return nil
}

// Withdraw debits the balance and grows the spent total. Insufficient funds
// is reported as declined=true with no error and no state change, so callers
// can branch on it without exception-style control flow.
func (b *Balance) Withdraw(amount money.Money) (declined bool, err error) {
	if err := b.requireActive(); err != nil {
		return false, err
	}
	if !amount.IsPositive() {
		return false, ErrInvalidAmount
	}
	enough, err := b.Current.GreaterThanOrEqual(amount)
	if err != nil {
		return false, err
	}
	if !enough {
		return true, nil
	}
	current, err := b.Current.Sub(amount)
	if err != nil {
		return false, err
	}
	spent, err := b.TotalSpent.Add(amount)
	if err != nil {
		return false, err
	}
	b.Current = current
	b.TotalSpent = spent
	b.touch()
	return false, nil
}

// Refund credits the balance back and shrinks the spent total, clamped at
// zero so totalSpent never goes negative.
func (b *Balance) Refund(amount money.Money) error {
	if err := b.requireActive(); err != nil {
		return err
	}
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	current, err := b.Current.Add(amount)
	if err != nil {
		return err
	}
	reclaim, err := money.Min(amount, b.TotalSpent)
	if err != nil {
		return err
	}
	spent, err := b.TotalSpent.Sub(reclaim)
	if err != nil {
		return err
	}
	b.Current = current
	b.TotalSpent = spent
	b.touch()
	return nil
}

// Adjust applies a signed admin correction. The resulting balance must stay
// non-negative. The reason joins the append-only audit trail.
func (b *Balance) Adjust(amount money.Money, reason string) error {
	if err := b.requireActive(); err != nil {
		return err
	}
	if amount.IsZero() {
		return ErrInvalidAmount
	}
	current, err := b.Current.Add(amount)
	if err != nil {
		return err
	}
	if current.IsNegative() {
		return ErrNegativeBalance
	}
	b.Current = current
	b.appendNote("adjust %s: %s", amount.Formatted(), reason)
	b.touch()
	return nil
}

// TransferOut moves funds out toward a sibling sub-balance. Unlike Withdraw
// it leaves totalSpent untouched: a transfer is not spending. Insufficient
// funds is a decline, not an error.
func (b *Balance) TransferOut(amount money.Money) (declined bool, err error) {
	if err := b.requireActive(); err != nil {
		return false, err
	}
	if !amount.IsPositive() {
		return false, ErrInvalidAmount
	}
	enough, err := b.Current.GreaterThanOrEqual(amount)
	if err != nil {
		return false, err
	}
	if !enough {
		return true, nil
	}
	current, err := b.Current.Sub(amount)
	if err != nil {
		return false, err
	}
	b.Current = current
	b.touch()
	return false, nil
}

// TransferIn receives funds from a sibling sub-balance without growing
// totalDeposited.
func (b *Balance) TransferIn(amount money.Money) error {
	if err := b.requireActive(); err != nil {
		return err
	}
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	current, err := b.Current.Add(amount)
	if err != nil {
		return err
	}
	b.Current = current
	b.touch()
	return nil
}

// Deactivate soft-disables the balance. The aggregate is never hard-deleted.
func (b *Balance) Deactivate(reason string) {
	if !b.Active {
		return
	}
	b.Active = false
	b.appendNote("deactivated: %s", reason)
	b.touch()
}

// Activate re-enables a deactivated balance.
func (b *Balance) Activate(reason string) {
	if b.Active {
		return
	}
	b.Active = true
	b.appendNote("activated: %s", reason)
	b.touch()
}

// Clone returns a deep copy safe to mutate without touching the original.
func (b *Balance) Clone() *Balance {
	cp := *b
	cp.Notes = append([]string(nil), b.Notes...)
	return &cp
}

func (b *Balance) requireActive() error {
	if !b.Active {
		return ErrInactive
	}
	return nil
}

func (b *Balance) appendNote(format string, args ...any) {
	b.Notes = append(b.Notes, fmt.Sprintf(format, args...))
}

func (b *Balance) touch() {
	b.Version++
	b.UpdatedAt = time.Now().UTC()
}
