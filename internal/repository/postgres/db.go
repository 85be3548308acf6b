// internal/repository/postgres/db.go
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DB bundles the repositories that share one pool.
type DB struct {
	pool *pgxpool.Pool

	Accounts *AccountRepository
	Coupons  *CouponRepository
	History  *PaymentHistoryRepository
	Advisors *AdvisorRepository
	Sellers  *SellerRepository
}

func NewDB(pool *pgxpool.Pool) *DB {
	return &DB{
		pool:     pool,
		Accounts: NewAccountRepository(pool),
		Coupons:  NewCouponRepository(pool),
		History:  NewPaymentHistoryRepository(pool),
		Advisors: NewAdvisorRepository(pool),
		Sellers:  NewSellerRepository(pool),
	}
}

// EnsureSchema creates the tables this service owns if they don't exist.
func (db *DB) EnsureSchema(ctx context.Context) error {
	if _, err := db.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
