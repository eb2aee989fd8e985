package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sango-pay/sango_pay/internal/balance"
	"github.com/sango-pay/sango_pay/internal/transaction"
)

type inMemoryStore struct {
	mu       sync.RWMutex
	balances map[string]*balance.Balance        // keyed by userID + "/" + kind
	byKey    map[string]string                  // idempotency key -> transaction id
	txs      map[string]*transaction.Transaction // keyed by transaction id
	failNext error
}

// NewInMemory creates a concurrency-safe in-memory store. It honors the same
// version-conflict and duplicate-key semantics as the Postgres store, which
// makes it usable for unit tests and development mode.
func NewInMemory() Store {
	return &inMemoryStore{
		balances: make(map[string]*balance.Balance),
		byKey:    make(map[string]string),
		txs:      make(map[string]*transaction.Transaction),
	}
}

func balanceKey(userID string, kind balance.Kind) string {
	return userID + "/" + string(kind)
}

func (s *inMemoryStore) FindBalance(_ context.Context, userID string, kind balance.Kind) (*balance.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.balances[balanceKey(userID, kind)]
	if !ok {
		return nil, ErrBalanceNotFound
	}
	return b.Clone(), nil
}

func (s *inMemoryStore) FindBalanceByUserID(ctx context.Context, userID string) (*balance.Balance, error) {
	return s.FindBalance(ctx, userID, balance.KindSpendable)
}

func (s *inMemoryStore) SaveBalance(_ context.Context, b *balance.Balance, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveBalanceLocked(b, expectedVersion)
}

func (s *inMemoryStore) FindTransactionByID(_ context.Context, id string) (*transaction.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tx, ok := s.txs[id]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	return tx.Clone(), nil
}

func (s *inMemoryStore) FindTransactionByIdempotencyKey(_ context.Context, key string) (*transaction.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byKey[key]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	return s.txs[id].Clone(), nil
}

func (s *inMemoryStore) FindRecentByUserID(_ context.Context, userID string, limit int) ([]*transaction.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*transaction.Transaction
	for _, tx := range s.txs {
		if tx.UserID == userID {
			out = append(out, tx.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *inMemoryStore) SaveTransaction(_ context.Context, tx *transaction.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return err
	}
	return s.saveTransactionLocked(tx)
}

func (s *inMemoryStore) FindStalePending(_ context.Context, cutoff time.Time) ([]*transaction.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*transaction.Transaction
	for _, tx := range s.txs {
		if tx.Status == transaction.StatusPending && tx.CreatedAt.Before(cutoff) {
			out = append(out, tx.Clone())
		}
	}
	return out, nil
}

func (s *inMemoryStore) SaveOperation(_ context.Context, b *balance.Balance, expectedVersion int64, txs ...*transaction.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return err
	}
	for _, tx := range txs {
		if err := s.checkDuplicateLocked(tx); err != nil {
			return err
		}
	}
	if err := s.saveBalanceLocked(b, expectedVersion); err != nil {
		return err
	}
	for _, tx := range txs {
		if err := s.saveTransactionLocked(tx); err != nil {
			return err
		}
	}
	return nil
}

func (s *inMemoryStore) SaveTransfer(_ context.Context, from *balance.Balance, fromVersion int64, to *balance.Balance, toVersion int64, debit, credit *transaction.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return err
	}
	if err := s.checkDuplicateLocked(debit); err != nil {
		return err
	}
	if err := s.checkDuplicateLocked(credit); err != nil {
		return err
	}
	// Validate both version checks before touching anything so a failure on
	// the credit side leaves the debit side unapplied.
	if err := s.checkVersionLocked(from, fromVersion); err != nil {
		return err
	}
	if err := s.checkVersionLocked(to, toVersion); err != nil {
		return err
	}
	if err := s.saveBalanceLocked(from, fromVersion); err != nil {
		return err
	}
	if err := s.saveBalanceLocked(to, toVersion); err != nil {
		return err
	}
	if err := s.saveTransactionLocked(debit); err != nil {
		return err
	}
	return s.saveTransactionLocked(credit)
}

func (s *inMemoryStore) saveBalanceLocked(b *balance.Balance, expectedVersion int64) error {
	if err := s.checkVersionLocked(b, expectedVersion); err != nil {
		return err
	}
	s.balances[balanceKey(b.UserID, b.Kind)] = b.Clone()
	return nil
}

func (s *inMemoryStore) checkVersionLocked(b *balance.Balance, expectedVersion int64) error {
	stored, exists := s.balances[balanceKey(b.UserID, b.Kind)]
	if expectedVersion == 0 {
		if exists {
			return ErrVersionConflict
		}
		return nil
	}
	if !exists || stored.Version != expectedVersion {
		return ErrVersionConflict
	}
	return nil
}

func (s *inMemoryStore) checkDuplicateLocked(tx *transaction.Transaction) error {
	if tx.IdempotencyKey == "" {
		return nil
	}
	if existing, ok := s.byKey[tx.IdempotencyKey]; ok && existing != tx.ID {
		return ErrDuplicateIdempotencyKey
	}
	return nil
}

func (s *inMemoryStore) saveTransactionLocked(tx *transaction.Transaction) error {
	if err := s.checkDuplicateLocked(tx); err != nil {
		return err
	}
	s.txs[tx.ID] = tx.Clone()
	if tx.IdempotencyKey != "" {
		s.byKey[tx.IdempotencyKey] = tx.ID
	}
	return nil
}

func (s *inMemoryStore) takeFailure() error {
	if s.failNext != nil {
		err := s.failNext
		s.failNext = nil
		return err
	}
	return nil
}
