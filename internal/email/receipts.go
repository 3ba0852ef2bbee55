package email

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Mekazstan/paygate/internal/cache"
	"github.com/Mekazstan/paygate/internal/events"
	"github.com/Mekazstan/paygate/internal/payment"
	"github.com/Mekazstan/paygate/internal/store"
	"go.uber.org/zap"
)

type Sender interface {
	SendPaymentReceipt(to string, data PaymentReceiptData) error
	SendPaymentFailed(to string, data PaymentReceiptData) error
}

type TransactionReader interface {
	GetByReference(ctx context.Context, reference string) (*store.Transaction, error)
}

const sentKeyPrefix = "email:receipt:"

// ReceiptListener mails the payer when a webhook settles a transaction. A
// cache marker per reference and outcome keeps redeliveries from mailing twice.
type ReceiptListener struct {
	sender Sender
	txs    TransactionReader
	cache  cache.Store
	ttl    time.Duration
	logger *zap.Logger
}

func NewReceiptListener(sender Sender, txs TransactionReader, c cache.Store, logger *zap.Logger) *ReceiptListener {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReceiptListener{
		sender: sender,
		txs:    txs,
		cache:  c,
		ttl:    7 * 24 * time.Hour,
		logger: logger,
	}
}

func (l *ReceiptListener) Handle(ctx context.Context, ev events.Event) error {
	if ev.Reference == "" || (ev.Status != payment.StatusSuccess && ev.Status != payment.StatusFailed) {
		return nil
	}

	marker := sentKeyPrefix + ev.Status + ":" + ev.Reference
	if l.cache != nil {
		if _, err := l.cache.Get(ctx, marker); err == nil {
			return nil
		}
	}

	tx, err := l.txs.GetByReference(ctx, ev.Reference)
	if errors.Is(err, store.ErrNotFound) {
		l.logger.Debug("no transaction for receipt", zap.String("reference", ev.Reference))
		return nil
	}
	if err != nil {
		return fmt.Errorf("load transaction %s: %w", ev.Reference, err)
	}
	if tx.Email == "" {
		return nil
	}

	data := PaymentReceiptData{
		Reference: tx.Reference,
		Provider:  tx.Provider,
		Amount:    tx.Amount.StringFixed(2),
		Currency:  tx.Currency,
	}
	if tx.Channel != nil {
		data.Channel = *tx.Channel
	}
	if tx.PaidAt != nil {
		data.PaidAt = tx.PaidAt.UTC().Format(time.RFC1123)
	}

	if ev.Status == payment.StatusSuccess {
		err = l.sender.SendPaymentReceipt(tx.Email, data)
	} else {
		err = l.sender.SendPaymentFailed(tx.Email, data)
	}
	if err != nil {
		return err
	}

	if l.cache != nil {
		if err := l.cache.Set(ctx, marker, "1", l.ttl); err != nil {
			l.logger.Warn("failed to mark receipt as sent",
				zap.String("reference", ev.Reference),
				zap.Error(err))
		}
	}
	return nil
}
