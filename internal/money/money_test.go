package money

import (
	"errors"
	"testing"
)

func TestNewParsesExactDecimals(t *testing.T) {
	m, err := New("50.00", "USD")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if m.Formatted() != "50.00" {
		t.Fatalf("expected 50.00, got %s", m.Formatted())
	}
	if m.Currency() != "USD" {
		t.Fatalf("expected USD, got %s", m.Currency())
	}
}

func TestNewRejectsGarbage(t *testing.T) {
	if _, err := New("fifty", "USD"); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}
	if _, err := New("1.00", "usd"); !errors.Is(err, ErrInvalidCurrency) {
		t.Fatalf("expected invalid currency, got %v", err)
	}
	if _, err := New("1.00", "DOLLARS"); !errors.Is(err, ErrInvalidCurrency) {
		t.Fatalf("expected invalid currency, got %v", err)
	}
}

func TestArithmeticPreservesCents(t *testing.T) {
	a := MustNew("0.10", "USD")
	b := MustNew("0.20", "USD")

	sum, err := a.Add(b)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if sum.Formatted() != "0.30" {
		t.Fatalf("expected 0.30, got %s", sum.Formatted())
	}

	diff, err := sum.Sub(MustNew("0.05", "USD"))
	if err != nil {
		t.Fatalf("sub: %v", err)
	}
	if diff.Formatted() != "0.25" {
		t.Fatalf("expected 0.25, got %s", diff.Formatted())
	}
}

func TestArithmeticIsImmutable(t *testing.T) {
	a := MustNew("10.00", "USD")
	if _, err := a.Add(MustNew("5.00", "USD")); err != nil {
		t.Fatalf("add: %v", err)
	}
	if a.Formatted() != "10.00" {
		t.Fatalf("operand mutated: %s", a.Formatted())
	}
}

func TestCurrencyMismatch(t *testing.T) {
	usd := MustNew("5.00", "USD")
	eur := MustNew("5.00", "EUR")

	if _, err := usd.Add(eur); !errors.Is(err, ErrCurrencyMismatch) {
		t.Fatalf("expected currency mismatch on add, got %v", err)
	}
	if _, err := usd.Sub(eur); !errors.Is(err, ErrCurrencyMismatch) {
		t.Fatalf("expected currency mismatch on sub, got %v", err)
	}
	if _, err := usd.GreaterThanOrEqual(eur); !errors.Is(err, ErrCurrencyMismatch) {
		t.Fatalf("expected currency mismatch on compare, got %v", err)
	}
}

func TestNegativeIntermediate(t *testing.T) {
	shortfall, err := MustNew("10.00", "USD").Sub(MustNew("25.00", "USD"))
	if err != nil {
		t.Fatalf("sub: %v", err)
	}
	if !shortfall.IsNegative() {
		t.Fatalf("expected negative shortfall, got %s", shortfall)
	}
	if shortfall.Formatted() != "-15.00" {
		t.Fatalf("expected -15.00, got %s", shortfall.Formatted())
	}
	if shortfall.Abs().Formatted() != "15.00" {
		t.Fatalf("expected 15.00, got %s", shortfall.Abs().Formatted())
	}
}

func TestComparisons(t *testing.T) {
	a := MustNew("20.00", "USD")
	b := MustNew("30.00", "USD")

	ok, err := b.GreaterThanOrEqual(a)
	if err != nil || !ok {
		t.Fatalf("expected 30 >= 20, got %v err=%v", ok, err)
	}
	ok, err = a.GreaterThanOrEqual(a)
	if err != nil || !ok {
		t.Fatalf("expected 20 >= 20, got %v err=%v", ok, err)
	}

	lo, err := Min(a, b)
	if err != nil {
		t.Fatalf("min: %v", err)
	}
	if !lo.Equal(a) {
		t.Fatalf("expected min 20.00, got %s", lo)
	}
}

func TestZero(t *testing.T) {
	z := Zero("USD")
	if !z.IsZero() || z.IsPositive() || z.IsNegative() {
		t.Fatalf("zero predicates wrong: %s", z)
	}
	if z.String() != "0.00 USD" {
		t.Fatalf("expected 0.00 USD, got %s", z.String())
	}
}
