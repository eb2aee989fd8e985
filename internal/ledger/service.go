package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sango-pay/sango_pay/internal/balance"
	"github.com/sango-pay/sango_pay/internal/lock"
	"github.com/sango-pay/sango_pay/internal/logging"
	"github.com/sango-pay/sango_pay/internal/money"
	"github.com/sango-pay/sango_pay/internal/notification"
	"github.com/sango-pay/sango_pay/internal/transaction"
)

const defaultMaxAttempts = 3

// Service orchestrates "mutate balance + record transaction" atomically, with
// idempotency, per-balance locking and bounded retries on version conflicts.
type Service struct {
	store       Store
	locker      lock.Locker
	notifier    notification.Notifier
	logger      *slog.Logger
	maxAttempts int
}

// NewService builds the ledger service. maxAttempts bounds the internal
// version-conflict retry loop; values below one fall back to the default.
func NewService(store Store, locker lock.Locker, notifier notification.Notifier, logger *slog.Logger, maxAttempts int) *Service {
	if maxAttempts < 1 {
		maxAttempts = defaultMaxAttempts
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Service{store: store, locker: locker, notifier: notifier, logger: logger, maxAttempts: maxAttempts}
}

// Process applies one operation request to the owner's spendable balance and
// records its transaction. Replays of the same idempotency key return the
// prior outcome without a second application. Business declines come back as
// FAILED outcomes with a reason code and a nil error.
func (s *Service) Process(ctx context.Context, req OperationRequest) (Outcome, error) {
	if err := validateRequest(req); err != nil {
		return Outcome{}, err
	}

	// Idempotency gate before any work. The store's unique key constraint
	// closes the race between this check and the write.
	if existing, err := s.store.FindTransactionByIdempotencyKey(ctx, req.IdempotencyKey); err == nil {
		return outcomeOf(existing), nil
	} else if !errors.Is(err, ErrTransactionNotFound) {
		return Outcome{}, fmt.Errorf("idempotency lookup: %w", err)
	}

	lockID := lockKey(req.UserID, req.targetKind())
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		var out Outcome
		err := s.locker.WithBalanceLock(ctx, lockID, func(ctx context.Context) error {
			var attemptErr error
			out, attemptErr = s.attempt(ctx, req)
			return attemptErr
		})
		switch {
		case err == nil:
			s.notifyOutcome(ctx, req, out)
			return out, nil
		case errors.Is(err, ErrVersionConflict):
			s.logger.Debug("version conflict, retrying", "user_id", req.UserID, "attempt", attempt)
			continue
		case errors.Is(err, ErrDuplicateIdempotencyKey):
			// Lost the race to a concurrent request with the same key:
			// return its outcome instead of applying twice.
			existing, lookupErr := s.store.FindTransactionByIdempotencyKey(ctx, req.IdempotencyKey)
			if lookupErr != nil {
				return Outcome{}, fmt.Errorf("resolve duplicate idempotency key: %w", lookupErr)
			}
			return outcomeOf(existing), nil
		default:
			return Outcome{}, err
		}
	}
	return Outcome{}, ErrConcurrentModification
}

// attempt runs one read-modify-write pass under the balance lock.
func (s *Service) attempt(ctx context.Context, req OperationRequest) (Outcome, error) {
	kind := req.targetKind()
	b, err := s.store.FindBalance(ctx, req.UserID, kind)
	if errors.Is(err, ErrBalanceNotFound) {
		if req.Type != transaction.TypeDeposit {
			return Outcome{}, ErrBalanceNotFound
		}
		// First funding event creates the aggregate.
		b = balance.New(req.UserID, req.Amount.Currency(), kind)
	} else if err != nil {
		return Outcome{}, fmt.Errorf("find balance: %w", err)
	}

	if b.Currency != req.Amount.Currency() {
		return s.decline(ctx, req, b, ReasonCurrencyMismatch)
	}

	expectedVersion := b.Version
	working := b.Clone()
	before := working.Current

	if reason, mutErr := applyMutation(working, req); mutErr != nil {
		return Outcome{}, mutErr
	} else if reason != "" {
		return s.decline(ctx, req, b, reason)
	}

	tx := newOperationTransaction(req)
	tx.BalanceBefore = before
	tx.BalanceAfter = working.Current
	if err := tx.Complete(); err != nil {
		return Outcome{}, err
	}

	if err := s.store.SaveOperation(ctx, working, expectedVersion, tx); err != nil {
		return Outcome{}, err
	}
	return outcomeOf(tx), nil
}

// decline records a FAILED transaction carrying the idempotency key so that
// replays of the declined request observe the same outcome. The balance
// itself is untouched.
func (s *Service) decline(ctx context.Context, req OperationRequest, b *balance.Balance, reason string) (Outcome, error) {
	tx := newOperationTransaction(req)
	tx.BalanceBefore = b.Current
	tx.BalanceAfter = b.Current
	if err := tx.Fail(reason); err != nil {
		return Outcome{}, err
	}
	if err := s.store.SaveTransaction(ctx, tx); err != nil {
		return Outcome{}, err
	}
	s.logger.Info("operation declined",
		"user_id", req.UserID, "type", string(req.Type), "reason", reason)
	return outcomeOf(tx), nil
}

// BalanceOf returns the read-model view of the user's spendable balance.
func (s *Service) BalanceOf(ctx context.Context, userID string) (BalanceResponse, error) {
	b, err := s.store.FindBalanceByUserID(ctx, userID)
	if err != nil {
		return BalanceResponse{}, err
	}
	return BalanceResponse{
		UserID:      b.UserID,
		Current:     b.Current,
		Currency:    b.Currency,
		Active:      b.Active,
		LastUpdated: b.UpdatedAt,
	}, nil
}

// History lists the user's most recent transactions, newest first.
func (s *Service) History(ctx context.Context, userID string, limit int) ([]*transaction.Transaction, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.store.FindRecentByUserID(ctx, userID, limit)
}

// Deactivate soft-disables the user's spendable balance with an audited
// reason. Subsequent operations are declined until reactivation.
func (s *Service) Deactivate(ctx context.Context, userID, reason string) error {
	return s.setActive(ctx, userID, false, reason)
}

// Activate re-enables a previously deactivated balance.
func (s *Service) Activate(ctx context.Context, userID, reason string) error {
	return s.setActive(ctx, userID, true, reason)
}

func (s *Service) setActive(ctx context.Context, userID string, active bool, reason string) error {
	lockID := lockKey(userID, balance.KindSpendable)
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		err := s.locker.WithBalanceLock(ctx, lockID, func(ctx context.Context) error {
			b, err := s.store.FindBalance(ctx, userID, balance.KindSpendable)
			if err != nil {
				return err
			}
			expectedVersion := b.Version
			if active {
				b.Activate(reason)
			} else {
				b.Deactivate(reason)
			}
			if b.Version == expectedVersion {
				return nil // already in the requested state
			}
			return s.store.SaveBalance(ctx, b, expectedVersion)
		})
		if errors.Is(err, ErrVersionConflict) {
			continue
		}
		return err
	}
	return ErrConcurrentModification
}

func (s *Service) notifyOutcome(ctx context.Context, req OperationRequest, out Outcome) {
	if s.notifier == nil || !out.Applied() {
		return
	}
	_ = s.notifier.Send(ctx, notification.Message{
		Kind:        notification.KindOperation,
		Destination: req.UserID,
		Body:        fmt.Sprintf("%s of %s applied, balance %s", req.Type, req.Amount.Abs(), out.BalanceAfter),
	})
}

func validateRequest(req OperationRequest) error {
	if req.UserID == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidRequest)
	}
	if req.IdempotencyKey == "" {
		return fmt.Errorf("%w: idempotency key is required", ErrInvalidRequest)
	}
	if !req.Type.Valid() || req.Type == transaction.TypeTransferIn || req.Type == transaction.TypeTransferOut {
		return fmt.Errorf("%w: unsupported operation type %q", ErrInvalidRequest, req.Type)
	}
	if req.Target == balance.KindDeposit && req.Type != transaction.TypeDeposit {
		return fmt.Errorf("%w: only deposits may target the deposit balance", ErrInvalidRequest)
	}
	if req.Target != "" && req.Target != balance.KindSpendable && req.Target != balance.KindDeposit {
		return fmt.Errorf("%w: unknown balance kind %q", ErrInvalidRequest, req.Target)
	}
	return nil
}

// applyMutation applies the requested mutation to the working copy. It
// returns a decline reason for expected business failures and an error only
// for faults.
func applyMutation(b *balance.Balance, req OperationRequest) (string, error) {
	var err error
	switch req.Type {
	case transaction.TypeDeposit:
		err = b.Deposit(req.Amount)
	case transaction.TypeWithdrawal, transaction.TypePurchase:
		var declined bool
		declined, err = b.Withdraw(req.Amount)
		if err == nil && declined {
			return ReasonInsufficientFunds, nil
		}
	case transaction.TypeRefund:
		err = b.Refund(req.Amount)
	case transaction.TypeAdjustment:
		err = b.Adjust(req.Amount, req.Description)
	}

	switch {
	case err == nil:
		return "", nil
	case errors.Is(err, balance.ErrInvalidAmount):
		return ReasonInvalidAmount, nil
	case errors.Is(err, balance.ErrNegativeBalance):
		return ReasonNegativeBalance, nil
	case errors.Is(err, balance.ErrInactive):
		return ReasonBalanceInactive, nil
	case errors.Is(err, money.ErrCurrencyMismatch):
		return ReasonCurrencyMismatch, nil
	default:
		return "", err
	}
}

func newOperationTransaction(req OperationRequest) *transaction.Transaction {
	tx := transaction.New(req.UserID, req.Type, req.Amount.Abs(), req.IdempotencyKey)
	tx.OrderID = req.OrderID
	tx.PaymentMethod = req.PaymentMethod
	tx.Description = req.Description
	return tx
}

func outcomeOf(tx *transaction.Transaction) Outcome {
	return Outcome{
		TransactionID: tx.ID,
		Status:        tx.Status,
		BalanceAfter:  tx.BalanceAfter,
		ErrorReason:   tx.FailureReason,
	}
}

func lockKey(userID string, kind balance.Kind) string {
	return userID + "/" + string(kind)
}
