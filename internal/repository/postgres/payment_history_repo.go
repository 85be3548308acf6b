// internal/repository/postgres/payment_history_repo.go
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cimamplify-service/internal/domain/billing"

	"github.com/jackc/pgx/v5/pgxpool"
)

type PaymentHistoryRepository struct {
	db *pgxpool.Pool
}

func NewPaymentHistoryRepository(db *pgxpool.Pool) *PaymentHistoryRepository {
	return &PaymentHistoryRepository{db: db}
}

func (r *PaymentHistoryRepository) Exists(ctx context.Context, paymentID string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM payment_history WHERE payment_id = $1)`

	var exists bool
	if err := r.db.QueryRow(ctx, query, paymentID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check payment history: %w", err)
	}
	return exists, nil
}

// Insert appends an entry. It reports false when an entry with the same
// payment id already exists; the existing row is never modified.
func (r *PaymentHistoryRepository) Insert(ctx context.Context, e *billing.HistoryEntry) (bool, error) {
	query := `
		INSERT INTO payment_history (
			payment_id, account_id, amount_cents, currency, status, coupon_code,
			period_start, period_end, description, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (payment_id) DO NOTHING
		RETURNING id, created_at
	`

	var metadataJSON []byte
	if e.Metadata != nil {
		var err error
		metadataJSON, err = json.Marshal(e.Metadata)
		if err != nil {
			return false, fmt.Errorf("failed to marshal metadata: %w", err)
		}
	}

	rows, err := r.db.Query(ctx, query,
		e.PaymentID, e.AccountID, e.AmountCents, e.Currency, e.Status, e.CouponCode,
		e.PeriodStart, e.PeriodEnd, e.Description, metadataJSON,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert payment history: %w", err)
	}
	defer rows.Close()

	inserted := false
	if rows.Next() {
		if err := rows.Scan(&e.ID, &e.CreatedAt); err != nil {
			return false, fmt.Errorf("failed to scan payment history: %w", err)
		}
		inserted = true
	}
	return inserted, rows.Err()
}

// SetPeriod records the coverage window once the claimed payment has been applied.
func (r *PaymentHistoryRepository) SetPeriod(ctx context.Context, paymentID string, start, end *time.Time) error {
	query := `UPDATE payment_history SET period_start = $2, period_end = $3 WHERE payment_id = $1`
	if _, err := r.db.Exec(ctx, query, paymentID, start, end); err != nil {
		return fmt.Errorf("failed to update payment period: %w", err)
	}
	return nil
}

// Release drops a claimed entry whose payment could not be applied, so a
// later delivery of the same payment can claim it again.
func (r *PaymentHistoryRepository) Release(ctx context.Context, paymentID string) error {
	query := `DELETE FROM payment_history WHERE payment_id = $1`
	if _, err := r.db.Exec(ctx, query, paymentID); err != nil {
		return fmt.Errorf("failed to release payment history: %w", err)
	}
	return nil
}

func (r *PaymentHistoryRepository) ListByAccount(ctx context.Context, accountID int64, limit int) ([]billing.HistoryEntry, error) {
	query := `
		SELECT id, payment_id, account_id, amount_cents, currency, status, coupon_code,
		       period_start, period_end, description, metadata, created_at
		FROM payment_history
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list payment history: %w", err)
	}
	defer rows.Close()

	entries := []billing.HistoryEntry{}
	for rows.Next() {
		var e billing.HistoryEntry
		var metadataJSON []byte
		if err := rows.Scan(
			&e.ID, &e.PaymentID, &e.AccountID, &e.AmountCents, &e.Currency, &e.Status, &e.CouponCode,
			&e.PeriodStart, &e.PeriodEnd, &e.Description, &metadataJSON, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan payment history: %w", err)
		}
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &e.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
