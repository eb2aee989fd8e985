package money

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrCurrencyMismatch occurs when two Money values with different currency
	// codes are combined or compared.
	ErrCurrencyMismatch = errors.New("currency mismatch")

	// ErrInvalidAmount indicates the amount string could not be parsed as an
	// exact decimal.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInvalidCurrency indicates the currency code is not a 3-letter code.
	ErrInvalidCurrency = errors.New("invalid currency code")
)

// Money pairs an exact decimal amount with a 3-letter currency code. Values
// are immutable; arithmetic returns new Money. A negative amount is allowed
// as an intermediate (e.g. a shortfall or a signed adjustment).
type Money struct {
	amount   decimal.Decimal
	currency string
}

// New parses a decimal amount string into Money tagged with the currency.
func New(amount, currency string) (Money, error) {
	if err := validCurrency(currency); err != nil {
		return Money{}, err
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return Money{}, fmt.Errorf("%w: %q", ErrInvalidAmount, amount)
	}
	return Money{amount: d, currency: currency}, nil
}

// MustNew is New for static amounts; it panics on parse failure.
func MustNew(amount, currency string) Money {
	m, err := New(amount, currency)
	if err != nil {
		panic(err)
	}
	return m
}

// FromDecimal wraps an existing decimal into Money.
func FromDecimal(d decimal.Decimal, currency string) (Money, error) {
	if err := validCurrency(currency); err != nil {
		return Money{}, err
	}
	return Money{amount: d, currency: currency}, nil
}

// Zero returns a zero-valued Money in the given currency.
func Zero(currency string) Money {
	return Money{amount: decimal.Zero, currency: currency}
}

// Amount exposes the underlying decimal value.
func (m Money) Amount() decimal.Decimal { return m.amount }

// Currency returns the 3-letter currency code.
func (m Money) Currency() string { return m.currency }

// Add returns m + o. Both values must share a currency.
func (m Money) Add(o Money) (Money, error) {
	if err := m.sameCurrency(o); err != nil {
		return Money{}, err
	}
	return Money{amount: m.amount.Add(o.amount), currency: m.currency}, nil
}

// Sub returns m - o. Both values must share a currency. The result may be
// negative; callers owning a balance invariant must check before applying.
func (m Money) Sub(o Money) (Money, error) {
	if err := m.sameCurrency(o); err != nil {
		return Money{}, err
	}
	return Money{amount: m.amount.Sub(o.amount), currency: m.currency}, nil
}

// Neg returns m with the sign flipped.
func (m Money) Neg() Money {
	return Money{amount: m.amount.Neg(), currency: m.currency}
}

// Abs returns the positive magnitude of m.
func (m Money) Abs() Money {
	return Money{amount: m.amount.Abs(), currency: m.currency}
}

// IsZero reports whether the amount is exactly zero.
func (m Money) IsZero() bool { return m.amount.IsZero() }

// IsPositive reports whether the amount is strictly greater than zero.
func (m Money) IsPositive() bool { return m.amount.IsPositive() }

// IsNegative reports whether the amount is strictly less than zero.
func (m Money) IsNegative() bool { return m.amount.IsNegative() }

// GreaterThanOrEqual reports m >= o for same-currency values.
func (m Money) GreaterThanOrEqual(o Money) (bool, error) {
	if err := m.sameCurrency(o); err != nil {
		return false, err
	}
	return m.amount.GreaterThanOrEqual(o.amount), nil
}

// LessThan reports m < o for same-currency values.
func (m Money) LessThan(o Money) (bool, error) {
	if err := m.sameCurrency(o); err != nil {
		return false, err
	}
	return m.amount.LessThan(o.amount), nil
}

// Equal reports whether both amount and currency match.
func (m Money) Equal(o Money) bool {
	return m.currency == o.currency && m.amount.Equal(o.amount)
}

// Min returns the smaller of two same-currency values.
func Min(a, b Money) (Money, error) {
	less, err := a.LessThan(b)
	if err != nil {
		return Money{}, err
	}
	if less {
		return a, nil
	}
	return b, nil
}

// Formatted renders the amount with exactly two fractional digits.
func (m Money) Formatted() string {
	return m.amount.StringFixed(2)
}

// String renders the value as "12.34 USD".
func (m Money) String() string {
	return m.Formatted() + " " + m.currency
}

func (m Money) sameCurrency(o Money) error {
	if m.currency != o.currency {
		return fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, m.currency, o.currency)
	}
	return nil
}

func validCurrency(code string) error {
	if len(code) != 3 {
		return fmt.Errorf("%w: %q", ErrInvalidCurrency, code)
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return fmt.Errorf("%w: %q", ErrInvalidCurrency, code)
		}
	}
	return nil
}
