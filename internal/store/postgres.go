package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Schema is applied by Migrate. Amounts are stored in major units.
const Schema = `
CREATE TABLE IF NOT EXISTS payment_transactions (
    id          BIGSERIAL PRIMARY KEY,
    reference   TEXT NOT NULL UNIQUE,
    provider    TEXT NOT NULL,
    status      TEXT NOT NULL,
    amount      NUMERIC(20, 8) NOT NULL,
    currency    CHAR(3) NOT NULL,
    email       TEXT NOT NULL,
    channel     TEXT,
    metadata    JSONB NOT NULL DEFAULT '{}'::jsonb,
    customer    JSONB NOT NULL DEFAULT '{}'::jsonb,
    paid_at     TIMESTAMPTZ,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS payment_transactions_status_created_idx
    ON payment_transactions (status, created_at);
`

type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.Exec(ctx, Schema)
	return err
}

func (s *PostgresStore) Create(ctx context.Context, tx *Transaction) error {
	query := `
        INSERT INTO payment_transactions (
            reference, provider, status, amount, currency, email,
            channel, metadata, customer, paid_at
        ) VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8, $9, $10)
        RETURNING id, created_at, updated_at
    `

	metadataJSON, err := marshalJSONMap(tx.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	customerJSON, err := marshalJSONMap(tx.Customer)
	if err != nil {
		return fmt.Errorf("failed to marshal customer: %w", err)
	}

	return s.db.QueryRow(ctx, query,
		tx.Reference,
		tx.Provider,
		tx.Status,
		tx.Amount.String(),
		tx.Currency,
		tx.Email,
		tx.Channel,
		metadataJSON,
		customerJSON,
		tx.PaidAt,
	).Scan(&tx.ID, &tx.CreatedAt, &tx.UpdatedAt)
}

const selectColumns = `
    id, reference, provider, status, amount::text, currency, email,
    channel, metadata, customer, paid_at, created_at, updated_at
`

func (s *PostgresStore) GetByReference(ctx context.Context, reference string) (*Transaction, error) {
	query := `SELECT ` + selectColumns + ` FROM payment_transactions WHERE reference = $1`

	tx, err := scanTransaction(s.db.QueryRow(ctx, query, reference))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return tx, nil
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, reference string, upd StatusUpdate) error {
	query := `
        UPDATE payment_transactions
        SET status = $2,
            paid_at = COALESCE($3, paid_at),
            channel = COALESCE($4, channel),
            updated_at = NOW()
        WHERE reference = $1
    `

	tag, err := s.db.Exec(ctx, query, reference, upd.Status, upd.PaidAt, upd.Channel)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListByStatus(ctx context.Context, status string, createdBefore time.Time, limit int) ([]Transaction, error) {
	query := `SELECT ` + selectColumns + `
        FROM payment_transactions
        WHERE status = $1 AND created_at < $2
        ORDER BY created_at
        LIMIT $3`

	rows, err := s.db.Query(ctx, query, status, createdBefore, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *tx)
	}
	return out, rows.Err()
}

func scanTransaction(row pgx.Row) (*Transaction, error) {
	var (
		tx           Transaction
		amount       string
		metadataJSON []byte
		customerJSON []byte
	)

	err := row.Scan(
		&tx.ID,
		&tx.Reference,
		&tx.Provider,
		&tx.Status,
		&amount,
		&tx.Currency,
		&tx.Email,
		&tx.Channel,
		&metadataJSON,
		&customerJSON,
		&tx.PaidAt,
		&tx.CreatedAt,
		&tx.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if tx.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("invalid stored amount %q: %w", amount, err)
	}
	if err := json.Unmarshal(metadataJSON, &tx.Metadata); err != nil {
		return nil, fmt.Errorf("invalid stored metadata: %w", err)
	}
	if err := json.Unmarshal(customerJSON, &tx.Customer); err != nil {
		return nil, fmt.Errorf("invalid stored customer: %w", err)
	}

	return &tx, nil
}

func marshalJSONMap(m map[string]any) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}
