package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var ErrNotFound = errors.New("transaction not found")

// Transaction is the locally persisted view of a provider payment. It is
// keyed by Reference and never deleted.
type Transaction struct {
	ID        int64
	Reference string
	Provider  string
	Status    string
	Amount    decimal.Decimal
	Currency  string
	Email     string
	Channel   *string
	Metadata  map[string]any
	Customer  map[string]any
	PaidAt    *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// StatusUpdate carries the fields verify and webhook processing may change.
// Nil pointers leave the stored value untouched.
type StatusUpdate struct {
	Status  string
	PaidAt  *time.Time
	Channel *string
}

type TransactionStore interface {
	Create(ctx context.Context, tx *Transaction) error
	GetByReference(ctx context.Context, reference string) (*Transaction, error)
	UpdateStatus(ctx context.Context, reference string, upd StatusUpdate) error
	ListByStatus(ctx context.Context, status string, createdBefore time.Time, limit int) ([]Transaction, error)
}

// MetadataString returns the first non-empty string value among keys.
func (t *Transaction) MetadataString(keys ...string) string {
	if t == nil || t.Metadata == nil {
		return ""
	}
	for _, k := range keys {
		if v, ok := t.Metadata[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}
