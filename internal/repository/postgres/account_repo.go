// internal/repository/postgres/account_repo.go
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cimamplify-service/internal/domain/account"
	"cimamplify-service/internal/domain/billing"
	"cimamplify-service/internal/domain/subscription"
	xerrors "cimamplify-service/internal/pkg/errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const accountColumns = `
	id, email, full_name, role,
	subscription_status, provider_subscription_id,
	current_period_start, current_period_end, cancel_at_period_end,
	canceled_at, last_auto_renew_attempt, last_inline_renew_attempt, expiry_notified_at,
	provider_customer_id, default_payment_method_id,
	card_brand, card_last4, card_exp_month, card_exp_year,
	created_at, updated_at
`

type AccountRepository struct {
	db *pgxpool.Pool
}

func NewAccountRepository(db *pgxpool.Pool) *AccountRepository {
	return &AccountRepository{db: db}
}

func scanAccount(row pgx.Row) (*account.Account, error) {
	var a account.Account
	s := &a.Subscription
	b := &a.Billing

	err := row.Scan(
		&a.ID, &a.Email, &a.FullName, &a.Role,
		&s.Status, &s.ProviderSubscriptionID,
		&s.CurrentPeriodStart, &s.CurrentPeriodEnd, &s.CancelAtPeriodEnd,
		&s.CanceledAt, &s.LastAutoRenewAttempt, &s.LastInlineRenewAttempt, &s.ExpiryNotifiedAt,
		&b.ProviderCustomerID, &b.DefaultPaymentMethodID,
		&b.CardBrand, &b.CardLast4, &b.CardExpMonth, &b.CardExpYear,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *AccountRepository) findOne(ctx context.Context, where string, arg interface{}) (*account.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE ` + where

	a, err := scanAccount(r.db.QueryRow(ctx, query, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, xerrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find account: %w", err)
	}
	return a, nil
}

// FindByID loads an account with its membership and billing state.
func (r *AccountRepository) FindByID(ctx context.Context, id int64) (*account.Account, error) {
	return r.findOne(ctx, "id = $1", id)
}

func (r *AccountRepository) FindByProviderCustomerID(ctx context.Context, customerID string) (*account.Account, error) {
	return r.findOne(ctx, "provider_customer_id = $1", customerID)
}

func (r *AccountRepository) FindByProviderSubscriptionID(ctx context.Context, subscriptionID string) (*account.Account, error) {
	return r.findOne(ctx, "provider_subscription_id = $1", subscriptionID)
}

// SaveSubscription overwrites the membership columns. Concurrent writers are
// last-write-wins.
func (r *AccountRepository) SaveSubscription(ctx context.Context, id int64, s subscription.Subscription) error {
	query := `
		UPDATE accounts
		SET subscription_status = $1, provider_subscription_id = $2,
		    current_period_start = $3, current_period_end = $4, cancel_at_period_end = $5,
		    canceled_at = $6, last_auto_renew_attempt = $7, last_inline_renew_attempt = $8,
		    expiry_notified_at = $9, updated_at = NOW()
		WHERE id = $10
	`

	result, err := r.db.Exec(ctx, query,
		s.Status, s.ProviderSubscriptionID,
		s.CurrentPeriodStart, s.CurrentPeriodEnd, s.CancelAtPeriodEnd,
		s.CanceledAt, s.LastAutoRenewAttempt, s.LastInlineRenewAttempt,
		s.ExpiryNotifiedAt, id,
	)
	if err != nil {
		return fmt.Errorf("failed to save subscription: %w", err)
	}
	if result.RowsAffected() == 0 {
		return xerrors.ErrNotFound
	}
	return nil
}

// SaveBilling overwrites the billing profile columns.
func (r *AccountRepository) SaveBilling(ctx context.Context, id int64, b billing.Profile) error {
	query := `
		UPDATE accounts
		SET provider_customer_id = $1, default_payment_method_id = $2,
		    card_brand = $3, card_last4 = $4, card_exp_month = $5, card_exp_year = $6,
		    updated_at = NOW()
		WHERE id = $7
	`

	result, err := r.db.Exec(ctx, query,
		b.ProviderCustomerID, b.DefaultPaymentMethodID,
		b.CardBrand, b.CardLast4, b.CardExpMonth, b.CardExpYear,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to save billing profile: %w", err)
	}
	if result.RowsAffected() == 0 {
		return xerrors.ErrNotFound
	}
	return nil
}

func (r *AccountRepository) MarkRenewAttempt(ctx context.Context, id int64, at time.Time) error {
	return r.touch(ctx, "last_auto_renew_attempt", id, at)
}

// MarkInlineRenewAttempt records a renewal tried from the access guard. It is
// kept apart from last_auto_renew_attempt so frequent visits never hold an
// account out of the sweeper's candidate list.
func (r *AccountRepository) MarkInlineRenewAttempt(ctx context.Context, id int64, at time.Time) error {
	return r.touch(ctx, "last_inline_renew_attempt", id, at)
}

func (r *AccountRepository) MarkExpiryNotified(ctx context.Context, id int64, at time.Time) error {
	return r.touch(ctx, "expiry_notified_at", id, at)
}

func (r *AccountRepository) touch(ctx context.Context, column string, id int64, at time.Time) error {
	query := fmt.Sprintf(`UPDATE accounts SET %s = $1, updated_at = NOW() WHERE id = $2`, column)

	result, err := r.db.Exec(ctx, query, at, id)
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", column, err)
	}
	if result.RowsAffected() == 0 {
		return xerrors.ErrNotFound
	}
	return nil
}

// ListRenewalCandidates returns advisors whose period has elapsed, who are still
// active or past due, have a card on file and were not attempted after attemptCutoff.
func (r *AccountRepository) ListRenewalCandidates(ctx context.Context, now, attemptCutoff time.Time, limit int) ([]account.Account, error) {
	query := `SELECT ` + accountColumns + `
		FROM accounts
		WHERE role = 'advisor'
		  AND subscription_status IN ('active', 'past_due')
		  AND current_period_end IS NOT NULL AND current_period_end <= $1
		  AND default_payment_method_id IS NOT NULL AND default_payment_method_id <> ''
		  AND (last_auto_renew_attempt IS NULL OR last_auto_renew_attempt < $2)
		ORDER BY current_period_end ASC
		LIMIT $3
	`
	return r.list(ctx, query, now, attemptCutoff, limit)
}

// ListUnnotifiedExpired returns advisors whose period has elapsed and who have
// not been told yet.
func (r *AccountRepository) ListUnnotifiedExpired(ctx context.Context, now time.Time, limit int) ([]account.Account, error) {
	query := `SELECT ` + accountColumns + `
		FROM accounts
		WHERE role = 'advisor'
		  AND subscription_status <> 'none'
		  AND current_period_end IS NOT NULL AND current_period_end <= $1
		  AND expiry_notified_at IS NULL
		ORDER BY current_period_end ASC
		LIMIT $2
	`
	return r.list(ctx, query, now, limit)
}

func (r *AccountRepository) list(ctx context.Context, query string, args ...interface{}) ([]account.Account, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []account.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, *a)
	}

	return accounts, rows.Err()
}
