// internal/repository/postgres/coupon_repo.go
package postgres

import (
	"context"
	"errors"
	"fmt"

	"cimamplify-service/internal/domain/coupon"
	xerrors "cimamplify-service/internal/pkg/errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const couponColumns = `
	id, code, type, value, is_active, expires_at, usage_limit, used_count,
	provider_coupon_id, created_at, updated_at
`

type CouponRepository struct {
	db *pgxpool.Pool
}

func NewCouponRepository(db *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{db: db}
}

func scanCoupon(row pgx.Row) (*coupon.Coupon, error) {
	var c coupon.Coupon
	err := row.Scan(
		&c.ID, &c.Code, &c.Type, &c.Value, &c.IsActive, &c.ExpiresAt, &c.UsageLimit, &c.UsedCount,
		&c.ProviderCouponID, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Create inserts a coupon. A duplicate code (case-insensitive) maps to ErrConflict.
func (r *CouponRepository) Create(ctx context.Context, c *coupon.Coupon) error {
	query := `
		INSERT INTO coupons (code, type, value, is_active, expires_at, usage_limit, provider_coupon_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, used_count, created_at, updated_at
	`

	err := r.db.QueryRow(ctx, query,
		coupon.NormalizeCode(c.Code), c.Type, c.Value, c.IsActive, c.ExpiresAt, c.UsageLimit, c.ProviderCouponID,
	).Scan(&c.ID, &c.UsedCount, &c.CreatedAt, &c.UpdatedAt)

	if isUniqueViolation(err) {
		return xerrors.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("failed to create coupon: %w", err)
	}
	return nil
}

// FindActiveByCode does a case-insensitive exact match on active coupons only.
func (r *CouponRepository) FindActiveByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	query := `SELECT ` + couponColumns + ` FROM coupons WHERE UPPER(code) = $1 AND is_active`

	c, err := scanCoupon(r.db.QueryRow(ctx, query, coupon.NormalizeCode(code)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, xerrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find coupon: %w", err)
	}
	return c, nil
}

func (r *CouponRepository) List(ctx context.Context) ([]coupon.Coupon, error) {
	query := `SELECT ` + couponColumns + ` FROM coupons ORDER BY created_at DESC`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list coupons: %w", err)
	}
	defer rows.Close()

	coupons := []coupon.Coupon{}
	for rows.Next() {
		c, err := scanCoupon(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan coupon: %w", err)
		}
		coupons = append(coupons, *c)
	}
	return coupons, rows.Err()
}

func (r *CouponRepository) Deactivate(ctx context.Context, code string) error {
	query := `UPDATE coupons SET is_active = FALSE, updated_at = NOW() WHERE UPPER(code) = $1`

	result, err := r.db.Exec(ctx, query, coupon.NormalizeCode(code))
	if err != nil {
		return fmt.Errorf("failed to deactivate coupon: %w", err)
	}
	if result.RowsAffected() == 0 {
		return xerrors.ErrNotFound
	}
	return nil
}

// IncrementUsage bumps used_count only while the coupon is still redeemable.
// The check and the increment are one statement, so concurrent redemptions
// can never push used_count past usage_limit.
func (r *CouponRepository) IncrementUsage(ctx context.Context, code string) error {
	query := `
		UPDATE coupons
		SET used_count = used_count + 1, updated_at = NOW()
		WHERE UPPER(code) = $1
		  AND is_active
		  AND (expires_at IS NULL OR expires_at > NOW())
		  AND (usage_limit IS NULL OR used_count < usage_limit)
	`

	result, err := r.db.Exec(ctx, query, coupon.NormalizeCode(code))
	if err != nil {
		return fmt.Errorf("failed to increment coupon usage: %w", err)
	}
	if result.RowsAffected() == 0 {
		return xerrors.InvalidState("coupon usage limit reached")
	}
	return nil
}
