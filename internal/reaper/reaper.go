package reaper

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sango-pay/sango_pay/internal/balance"
	"github.com/sango-pay/sango_pay/internal/ledger"
	"github.com/sango-pay/sango_pay/internal/lock"
	"github.com/sango-pay/sango_pay/internal/logging"
	"github.com/sango-pay/sango_pay/internal/transaction"
)

// Reaper cancels transactions abandoned in PENDING past the cutoff. It takes
// the same per-balance lock as the ledger service, so it never races a
// legitimate in-flight completion.
type Reaper struct {
	store    ledger.Store
	locker   lock.Locker
	logger   *slog.Logger
	interval time.Duration
	cutoff   time.Duration
}

// New builds a reaper. interval is how often it scans; cutoff is how old a
// PENDING transaction must be before it is cancelled.
func New(store ledger.Store, locker lock.Locker, logger *slog.Logger, interval, cutoff time.Duration) *Reaper {
	if interval <= 0 {
		interval = time.Minute
	}
	if cutoff <= 0 {
		cutoff = 15 * time.Minute
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Reaper{store: store, locker: locker, logger: logger, interval: interval, cutoff: cutoff}
}

// Run loops until the context is cancelled. Sweep errors are logged and the
// loop keeps going; a broken store must not kill the process.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("reaper started", "interval", r.interval, "cutoff", r.cutoff)
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reaper stopped")
			return
		case <-ticker.C:
			cancelled, err := r.Sweep(ctx)
			if err != nil {
				r.logger.Error("reaper sweep failed", "error", err)
				continue
			}
			if cancelled > 0 {
				r.logger.Info("cancelled stale transactions", "count", cancelled)
			}
		}
	}
}

// Sweep cancels every PENDING transaction older than the cutoff and returns
// how many it cancelled.
func (r *Reaper) Sweep(ctx context.Context) (int, error) {
	stale, err := r.store.FindStalePending(ctx, time.Now().UTC().Add(-r.cutoff))
	if err != nil {
		return 0, err
	}

	cancelled := 0
	for _, tx := range stale {
		if err := r.reap(ctx, tx); err != nil {
			r.logger.Warn("failed to cancel stale transaction", "transaction_id", tx.ID, "error", err)
			continue
		}
		cancelled++
	}
	return cancelled, nil
}

func (r *Reaper) reap(ctx context.Context, stale *transaction.Transaction) error {
	return r.locker.WithBalanceLock(ctx, lockKeyFor(stale), func(ctx context.Context) error {
		// Re-read under the lock: an in-flight operation may have driven the
		// transaction to a terminal state since the scan.
		tx, err := r.store.FindTransactionByID(ctx, stale.ID)
		if err != nil {
			return err
		}
		if tx.Status != transaction.StatusPending {
			return nil
		}
		if err := tx.Cancel(); err != nil {
			if errors.Is(err, transaction.ErrTerminalState) {
				return nil
			}
			return err
		}
		return r.store.SaveTransaction(ctx, tx)
	})
}

// lockKeyFor matches the key scheme of the ledger and transfer services: the
// transfer debit side lives on the deposit sub-balance, everything else on
// spendable.
func lockKeyFor(tx *transaction.Transaction) string {
	kind := balance.KindSpendable
	if tx.Type == transaction.TypeTransferOut {
		kind = balance.KindDeposit
	}
	return tx.UserID + "/" + string(kind)
}
