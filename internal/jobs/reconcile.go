package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/Mekazstan/paygate/internal/payment"
	"github.com/Mekazstan/paygate/internal/store"
	"go.uber.org/zap"
)

// Payments is the part of payment.Manager the scheduled jobs drive.
type Payments interface {
	PendingTransactions(ctx context.Context, cutoff time.Time, limit int) ([]store.Transaction, error)
	Verify(ctx context.Context, reference, provider string) (*payment.VerificationResponse, error)
	RefreshHealth(ctx context.Context) map[string]bool
}

type ReconcileResult struct {
	Checked int
	Settled int
	Pending int
	Errors  int
}

// ReconcilePending re-verifies transactions still pending after olderThan.
// The provider is left for Verify to resolve so the stored provider id is
// used as the verification id. Verify writes the new status back to the store.
func ReconcilePending(ctx context.Context, payments Payments, olderThan time.Duration, limit int, logger *zap.Logger) (ReconcileResult, error) {
	var res ReconcileResult

	cutoff := time.Now().UTC().Add(-olderThan)
	txs, err := payments.PendingTransactions(ctx, cutoff, limit)
	if err != nil {
		return res, fmt.Errorf("failed to list pending transactions: %w", err)
	}

	logger.Info("reconciling pending transactions",
		zap.Int("count", len(txs)),
		zap.Time("created_before", cutoff))

	for _, tx := range txs {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Checked++

		v, err := payments.Verify(ctx, tx.Reference, "")
		if err != nil {
			res.Errors++
			logger.Warn("reconcile verify failed",
				zap.String("reference", tx.Reference),
				zap.String("provider", tx.Provider),
				zap.Error(err))
			continue
		}

		if v.IsPending() {
			res.Pending++
			continue
		}
		res.Settled++
		logger.Info("reconciled transaction",
			zap.String("reference", tx.Reference),
			zap.String("provider", tx.Provider),
			zap.String("status", v.Status))
	}

	return res, nil
}

// WarmHealthCache refreshes the memoized health of every enabled provider.
func WarmHealthCache(ctx context.Context, payments Payments, logger *zap.Logger) map[string]bool {
	health := payments.RefreshHealth(ctx)
	for name, ok := range health {
		if !ok {
			logger.Warn("payment provider unhealthy", zap.String("provider", name))
		}
	}
	logger.Info("provider health refreshed", zap.Int("providers", len(health)))
	return health
}
