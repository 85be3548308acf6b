// internal/repository/postgres/seller_repo.go
package postgres

import (
	"context"
	"errors"
	"fmt"

	"cimamplify-service/internal/domain/seller"
	xerrors "cimamplify-service/internal/pkg/errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type SellerRepository struct {
	db *pgxpool.Pool
}

func NewSellerRepository(db *pgxpool.Pool) *SellerRepository {
	return &SellerRepository{db: db}
}

func (r *SellerRepository) Upsert(ctx context.Context, p *seller.Profile) error {
	query := `
		INSERT INTO seller_profiles (account_id, company_name, industry, geography, annual_revenue)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (account_id) DO UPDATE SET
			company_name = EXCLUDED.company_name,
			industry = EXCLUDED.industry,
			geography = EXCLUDED.geography,
			annual_revenue = EXCLUDED.annual_revenue,
			updated_at = NOW()
		RETURNING id, created_at, updated_at
	`

	err := r.db.QueryRow(ctx, query,
		p.AccountID, p.CompanyName, p.Industry, p.Geography, p.AnnualRevenue,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert seller profile: %w", err)
	}
	return nil
}

func (r *SellerRepository) FindByAccountID(ctx context.Context, accountID int64) (*seller.Profile, error) {
	query := `
		SELECT id, account_id, company_name, industry, geography, annual_revenue, created_at, updated_at
		FROM seller_profiles
		WHERE account_id = $1
	`

	var p seller.Profile
	err := r.db.QueryRow(ctx, query, accountID).Scan(
		&p.ID, &p.AccountID, &p.CompanyName, &p.Industry, &p.Geography, &p.AnnualRevenue, &p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, xerrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find seller profile: %w", err)
	}
	return &p, nil
}
