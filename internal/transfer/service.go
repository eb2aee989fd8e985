package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sango-pay/sango_pay/internal/balance"
	"github.com/sango-pay/sango_pay/internal/ledger"
	"github.com/sango-pay/sango_pay/internal/lock"
	"github.com/sango-pay/sango_pay/internal/logging"
	"github.com/sango-pay/sango_pay/internal/money"
	"github.com/sango-pay/sango_pay/internal/notification"
	"github.com/sango-pay/sango_pay/internal/transaction"
)

const defaultMaxAttempts = 3

// creditKeySuffix derives the credit-side idempotency key from the caller's
// key, which is carried by the debit side.
const creditKeySuffix = ":credit"

// Service moves funds between a user's deposit and spendable sub-balances as
// one atomic unit: either both sides apply or neither does.
type Service struct {
	store       ledger.Store
	locker      lock.Locker
	notifier    notification.Notifier
	logger      *slog.Logger
	maxAttempts int
}

// NewService builds the transfer service.
func NewService(store ledger.Store, locker lock.Locker, notifier notification.Notifier, logger *slog.Logger, maxAttempts int) *Service {
	if maxAttempts < 1 {
		maxAttempts = defaultMaxAttempts
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Service{store: store, locker: locker, notifier: notifier, logger: logger, maxAttempts: maxAttempts}
}

// Input captures a deposit-to-spendable transfer request.
type Input struct {
	UserID         string
	Amount         money.Money
	IdempotencyKey string
}

// Result reports a transfer outcome. A declined transfer has Status FAILED
// and a reason code; it is not an error.
type Result struct {
	DebitTransactionID  string
	CreditTransactionID string
	Status              transaction.Status
	DepositBalance      money.Money
	SpendableBalance    money.Money
	ErrorReason         string
}

// Applied reports whether the transfer moved funds.
func (r Result) Applied() bool {
	return r.Status == transaction.StatusCompleted
}

// DepositToSpendable debits the deposit sub-balance and credits the spendable
// sub-balance by the same amount. Both sub-balances are locked in a fixed
// order (deposit first) so concurrent transfers cannot deadlock.
func (s *Service) DepositToSpendable(ctx context.Context, in Input) (Result, error) {
	if in.UserID == "" {
		return Result{}, fmt.Errorf("%w: user id is required", ledger.ErrInvalidRequest)
	}
	if in.IdempotencyKey == "" {
		return Result{}, fmt.Errorf("%w: idempotency key is required", ledger.ErrInvalidRequest)
	}

	if existing, err := s.store.FindTransactionByIdempotencyKey(ctx, in.IdempotencyKey); err == nil {
		return s.replay(ctx, existing)
	} else if !errors.Is(err, ledger.ErrTransactionNotFound) {
		return Result{}, fmt.Errorf("idempotency lookup: %w", err)
	}

	depositLock := lockKey(in.UserID, balance.KindDeposit)
	spendableLock := lockKey(in.UserID, balance.KindSpendable)

	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		var res Result
		err := s.locker.WithBalanceLock(ctx, depositLock, func(ctx context.Context) error {
			return s.locker.WithBalanceLock(ctx, spendableLock, func(ctx context.Context) error {
				var attemptErr error
				res, attemptErr = s.attempt(ctx, in)
				return attemptErr
			})
		})
		switch {
		case err == nil:
			s.notify(ctx, in, res)
			return res, nil
		case errors.Is(err, ledger.ErrVersionConflict):
			s.logger.Debug("transfer version conflict, retrying", "user_id", in.UserID, "attempt", attempt)
			continue
		case errors.Is(err, ledger.ErrDuplicateIdempotencyKey):
			existing, lookupErr := s.store.FindTransactionByIdempotencyKey(ctx, in.IdempotencyKey)
			if lookupErr != nil {
				return Result{}, fmt.Errorf("resolve duplicate idempotency key: %w", lookupErr)
			}
			return s.replay(ctx, existing)
		default:
			return Result{}, err
		}
	}
	return Result{}, ledger.ErrConcurrentModification
}

func (s *Service) attempt(ctx context.Context, in Input) (Result, error) {
	deposit, err := s.store.FindBalance(ctx, in.UserID, balance.KindDeposit)
	if err != nil {
		return Result{}, err
	}
	if deposit.Currency != in.Amount.Currency() {
		return s.decline(ctx, in, deposit, ledger.ReasonCurrencyMismatch)
	}

	spendable, err := s.store.FindBalance(ctx, in.UserID, balance.KindSpendable)
	if errors.Is(err, ledger.ErrBalanceNotFound) {
		// A user funded only via the deposit sub-balance gets the spendable
		// side on first transfer.
		spendable = balance.New(in.UserID, deposit.Currency, balance.KindSpendable)
	} else if err != nil {
		return Result{}, err
	}

	depositVersion := deposit.Version
	spendableVersion := spendable.Version
	workingFrom := deposit.Clone()
	workingTo := spendable.Clone()
	fromBefore := workingFrom.Current
	toBefore := workingTo.Current

	declined, err := workingFrom.TransferOut(in.Amount)
	if err != nil {
		if errors.Is(err, balance.ErrInvalidAmount) {
			return s.decline(ctx, in, deposit, ledger.ReasonInvalidAmount)
		}
		if errors.Is(err, balance.ErrInactive) {
			return s.decline(ctx, in, deposit, ledger.ReasonBalanceInactive)
		}
		return Result{}, err
	}
	if declined {
		return s.decline(ctx, in, deposit, ledger.ReasonInsufficientFunds)
	}
	if err := workingTo.TransferIn(in.Amount); err != nil {
		if errors.Is(err, balance.ErrInactive) {
			return s.decline(ctx, in, deposit, ledger.ReasonBalanceInactive)
		}
		return Result{}, err
	}

	debit := transaction.New(in.UserID, transaction.TypeTransferOut, in.Amount, in.IdempotencyKey)
	debit.BalanceBefore = fromBefore
	debit.BalanceAfter = workingFrom.Current
	credit := transaction.New(in.UserID, transaction.TypeTransferIn, in.Amount, in.IdempotencyKey+creditKeySuffix)
	credit.BalanceBefore = toBefore
	credit.BalanceAfter = workingTo.Current
	debit.LinkedID = credit.ID
	credit.LinkedID = debit.ID
	if err := debit.Complete(); err != nil {
		return Result{}, err
	}
	if err := credit.Complete(); err != nil {
		return Result{}, err
	}

	if err := s.store.SaveTransfer(ctx, workingFrom, depositVersion, workingTo, spendableVersion, debit, credit); err != nil {
		return Result{}, err
	}

	return Result{
		DebitTransactionID:  debit.ID,
		CreditTransactionID: credit.ID,
		Status:              transaction.StatusCompleted,
		DepositBalance:      workingFrom.Current,
		SpendableBalance:    workingTo.Current,
	}, nil
}

// decline records a FAILED debit-side transaction carrying the idempotency
// key. Neither balance changes.
func (s *Service) decline(ctx context.Context, in Input, deposit *balance.Balance, reason string) (Result, error) {
	tx := transaction.New(in.UserID, transaction.TypeTransferOut, in.Amount.Abs(), in.IdempotencyKey)
	tx.BalanceBefore = deposit.Current
	tx.BalanceAfter = deposit.Current
	if err := tx.Fail(reason); err != nil {
		return Result{}, err
	}
	if err := s.store.SaveTransaction(ctx, tx); err != nil {
		return Result{}, err
	}
	s.logger.Info("transfer declined", "user_id", in.UserID, "reason", reason)
	return Result{
		DebitTransactionID: tx.ID,
		Status:             transaction.StatusFailed,
		DepositBalance:     deposit.Current,
		ErrorReason:        reason,
	}, nil
}

// replay reconstructs the original result from the persisted debit-side
// transaction and, when applied, its linked credit side.
func (s *Service) replay(ctx context.Context, debit *transaction.Transaction) (Result, error) {
	res := Result{
		DebitTransactionID: debit.ID,
		Status:             debit.Status,
		DepositBalance:     debit.BalanceAfter,
		ErrorReason:        debit.FailureReason,
	}
	if debit.LinkedID == "" {
		return res, nil
	}
	credit, err := s.store.FindTransactionByID(ctx, debit.LinkedID)
	if err != nil {
		return Result{}, fmt.Errorf("resolve linked credit: %w", err)
	}
	res.CreditTransactionID = credit.ID
	res.SpendableBalance = credit.BalanceAfter
	return res, nil
}

func (s *Service) notify(ctx context.Context, in Input, res Result) {
	if s.notifier == nil || !res.Applied() {
		return
	}
	_ = s.notifier.Send(ctx, notification.Message{
		Kind:        notification.KindTransfer,
		Destination: in.UserID,
		Body:        fmt.Sprintf("%s released to spendable, balance %s", in.Amount, res.SpendableBalance),
	})
}

func lockKey(userID string, kind balance.Kind) string {
	return userID + "/" + string(kind)
}
