package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sango-pay/sango_pay/internal/balance"
	"github.com/sango-pay/sango_pay/internal/money"
	"github.com/sango-pay/sango_pay/internal/transaction"
)

const pgUniqueViolation = "23505"

// PostgresStore persists balances and transactions in PostgreSQL. Optimistic
// version checks on balances are the primary conflict detector; atomic units
// run inside one pgx transaction.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgres constructs a Postgres-backed store.
func NewPostgres(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

const balanceColumns = `id, user_id, kind, currency, current_balance::text, total_deposited::text, total_spent::text, active, version, notes, updated_at`

func (s *PostgresStore) FindBalance(ctx context.Context, userID string, kind balance.Kind) (*balance.Balance, error) {
	row := s.db.QueryRow(ctx, `SELECT `+balanceColumns+` FROM balances WHERE user_id = $1 AND kind = $2`, userID, string(kind))
	return scanBalance(row)
}

func (s *PostgresStore) FindBalanceByUserID(ctx context.Context, userID string) (*balance.Balance, error) {
	return s.FindBalance(ctx, userID, balance.KindSpendable)
}

func (s *PostgresStore) SaveBalance(ctx context.Context, b *balance.Balance, expectedVersion int64) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		return saveBalanceTx(ctx, tx, b, expectedVersion)
	})
}

func (s *PostgresStore) FindTransactionByID(ctx context.Context, id string) (*transaction.Transaction, error) {
	row := s.db.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id)
	return scanTransaction(row)
}

func (s *PostgresStore) FindTransactionByIdempotencyKey(ctx context.Context, key string) (*transaction.Transaction, error) {
	row := s.db.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE idempotency_key = $1`, key)
	return scanTransaction(row)
}

func (s *PostgresStore) FindRecentByUserID(ctx context.Context, userID string, limit int) ([]*transaction.Transaction, error) {
	rows, err := s.db.Query(ctx, `SELECT `+transactionColumns+` FROM transactions
        WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*transaction.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SaveTransaction(ctx context.Context, t *transaction.Transaction) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		return saveTransactionTx(ctx, tx, t)
	})
}

func (s *PostgresStore) FindStalePending(ctx context.Context, cutoff time.Time) ([]*transaction.Transaction, error) {
	rows, err := s.db.Query(ctx, `SELECT `+transactionColumns+` FROM transactions
        WHERE status = $1 AND created_at < $2`, string(transaction.StatusPending), cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*transaction.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SaveOperation(ctx context.Context, b *balance.Balance, expectedVersion int64, txs ...*transaction.Transaction) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		if err := saveBalanceTx(ctx, tx, b, expectedVersion); err != nil {
			return err
		}
		for _, t := range txs {
			if err := saveTransactionTx(ctx, tx, t); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *PostgresStore) SaveTransfer(ctx context.Context, from *balance.Balance, fromVersion int64, to *balance.Balance, toVersion int64, debit, credit *transaction.Transaction) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		if err := saveBalanceTx(ctx, tx, from, fromVersion); err != nil {
			return err
		}
		if err := saveBalanceTx(ctx, tx, to, toVersion); err != nil {
			return err
		}
		if err := saveTransactionTx(ctx, tx, debit); err != nil {
			return err
		}
		return saveTransactionTx(ctx, tx, credit)
	})
}

func (s *PostgresStore) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func saveBalanceTx(ctx context.Context, tx pgx.Tx, b *balance.Balance, expectedVersion int64) error {
	notes, err := json.Marshal(b.Notes)
	if err != nil {
		return fmt.Errorf("encode notes: %w", err)
	}

	if expectedVersion == 0 {
		_, err := tx.Exec(ctx, `INSERT INTO balances
            (id, user_id, kind, currency, current_balance, total_deposited, total_spent, active, version, notes, updated_at)
            VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7::numeric, $8, $9, $10, $11)`,
			b.ID, b.UserID, string(b.Kind), b.Currency,
			b.Current.Amount().String(), b.TotalDeposited.Amount().String(), b.TotalSpent.Amount().String(),
			b.Active, b.Version, notes, b.UpdatedAt)
		if isUniqueViolation(err) {
			// Someone else inserted the same (user, kind) first.
			return ErrVersionConflict
		}
		return err
	}

	cmd, err := tx.Exec(ctx, `UPDATE balances SET
            current_balance = $1::numeric, total_deposited = $2::numeric, total_spent = $3::numeric,
            active = $4, version = $5, notes = $6, updated_at = $7
        WHERE id = $8 AND version = $9`,
		b.Current.Amount().String(), b.TotalDeposited.Amount().String(), b.TotalSpent.Amount().String(),
		b.Active, b.Version, notes, b.UpdatedAt, b.ID, expectedVersion)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrVersionConflict
	}
	return nil
}

const transactionColumns = `id, user_id, type, amount::text, currency, balance_before::text, balance_after::text,
    order_id, status, failure_reason, payment_method, idempotency_key, linked_transaction_id, description, created_at, completed_at`

func saveTransactionTx(ctx context.Context, tx pgx.Tx, t *transaction.Transaction) error {
	_, err := tx.Exec(ctx, `INSERT INTO transactions
        (id, user_id, type, amount, currency, balance_before, balance_after, order_id, status,
         failure_reason, payment_method, idempotency_key, linked_transaction_id, description, created_at, completed_at)
        VALUES ($1, $2, $3, $4::numeric, $5, $6::numeric, $7::numeric, $8, $9, $10, $11, $12, $13, $14, $15, $16)
        ON CONFLICT (id) DO UPDATE SET
            status = EXCLUDED.status,
            failure_reason = EXCLUDED.failure_reason,
            completed_at = EXCLUDED.completed_at`,
		t.ID, t.UserID, string(t.Type),
		t.Amount.Amount().String(), t.Amount.Currency(),
		t.BalanceBefore.Amount().String(), t.BalanceAfter.Amount().String(),
		nullable(t.OrderID), string(t.Status), nullable(t.FailureReason), nullable(t.PaymentMethod),
		t.IdempotencyKey, nullable(t.LinkedID), nullable(t.Description), t.CreatedAt, t.CompletedAt)
	if isUniqueViolation(err) {
		return ErrDuplicateIdempotencyKey
	}
	return err
}

func scanBalance(row pgx.Row) (*balance.Balance, error) {
	var (
		b                        balance.Balance
		kind                     string
		current, deposited, spent string
		notes                    []byte
	)
	err := row.Scan(&b.ID, &b.UserID, &kind, &b.Currency, &current, &deposited, &spent,
		&b.Active, &b.Version, &notes, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrBalanceNotFound
	}
	if err != nil {
		return nil, err
	}
	b.Kind = balance.Kind(kind)
	if b.Current, err = money.New(current, b.Currency); err != nil {
		return nil, fmt.Errorf("decode current balance: %w", err)
	}
	if b.TotalDeposited, err = money.New(deposited, b.Currency); err != nil {
		return nil, fmt.Errorf("decode total deposited: %w", err)
	}
	if b.TotalSpent, err = money.New(spent, b.Currency); err != nil {
		return nil, fmt.Errorf("decode total spent: %w", err)
	}
	if len(notes) > 0 {
		if err := json.Unmarshal(notes, &b.Notes); err != nil {
			return nil, fmt.Errorf("decode notes: %w", err)
		}
	}
	b.UpdatedAt = b.UpdatedAt.UTC()
	return &b, nil
}

func scanTransaction(row pgx.Row) (*transaction.Transaction, error) {
	var (
		t                              transaction.Transaction
		typ, status                    string
		amount, before, after, currency string
		orderID, failureReason         *string
		paymentMethod, linkedID, desc  *string
		completedAt                    *time.Time
	)
	err := row.Scan(&t.ID, &t.UserID, &typ, &amount, &currency, &before, &after,
		&orderID, &status, &failureReason, &paymentMethod, &t.IdempotencyKey, &linkedID, &desc,
		&t.CreatedAt, &completedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, err
	}
	t.Type = transaction.Type(typ)
	t.Status = transaction.Status(status)
	if t.Amount, err = money.New(amount, currency); err != nil {
		return nil, fmt.Errorf("decode amount: %w", err)
	}
	if t.BalanceBefore, err = money.New(before, currency); err != nil {
		return nil, fmt.Errorf("decode balance before: %w", err)
	}
	if t.BalanceAfter, err = money.New(after, currency); err != nil {
		return nil, fmt.Errorf("decode balance after: %w", err)
	}
	t.OrderID = deref(orderID)
	t.FailureReason = deref(failureReason)
	t.PaymentMethod = deref(paymentMethod)
	t.LinkedID = deref(linkedID)
	t.Description = deref(desc)
	t.CreatedAt = t.CreatedAt.UTC()
	if completedAt != nil {
		at := completedAt.UTC()
		t.CompletedAt = &at
	}
	return &t, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation && !strings.Contains(pgErr.ConstraintName, "pkey")
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
