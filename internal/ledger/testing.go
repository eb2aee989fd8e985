package ledger

import (
	"context"

	"github.com/sango-pay/sango_pay/internal/balance"
	"github.com/sango-pay/sango_pay/internal/money"
)

// SeedBalance is a test helper that installs a funded balance directly in the
// in-memory store, bypassing the service path.
func SeedBalance(s Store, userID string, kind balance.Kind, amount money.Money) *balance.Balance {
	mem, ok := s.(*inMemoryStore)
	if !ok {
		return nil
	}
	b := balance.New(userID, amount.Currency(), kind)
	if amount.IsPositive() {
		if err := b.Deposit(amount); err != nil {
			panic(err)
		}
	}
	if b.Version == 0 {
		// Stored aggregates always carry at least one persisted mutation.
		b.Version = 1
	}
	mem.mu.Lock()
	defer mem.mu.Unlock()
	mem.balances[balanceKey(userID, kind)] = b.Clone()
	return b
}

// FailNextWrite arms the in-memory store to fail its next mutating call with
// err, for atomicity and fault-injection tests.
func FailNextWrite(s Store, err error) {
	if mem, ok := s.(*inMemoryStore); ok {
		mem.mu.Lock()
		defer mem.mu.Unlock()
		mem.failNext = err
	}
}

// StoredBalance reads a balance straight out of the in-memory store.
func StoredBalance(s Store, userID string, kind balance.Kind) *balance.Balance {
	mem, ok := s.(*inMemoryStore)
	if !ok {
		return nil
	}
	b, err := mem.FindBalance(context.Background(), userID, kind)
	if err != nil {
		return nil
	}
	return b
}
