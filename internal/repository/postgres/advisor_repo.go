// internal/repository/postgres/advisor_repo.go
package postgres

import (
	"context"
	"errors"
	"fmt"

	"cimamplify-service/internal/domain/advisor"
	xerrors "cimamplify-service/internal/pkg/errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const advisorColumns = `
	id, account_id, full_name, company_name, email, phone, website, description,
	industries, geographies, revenue_min, revenue_max, years_experience,
	worked_with_cimamplify, is_active, send_leads, created_at, updated_at
`

type AdvisorRepository struct {
	db *pgxpool.Pool
}

func NewAdvisorRepository(db *pgxpool.Pool) *AdvisorRepository {
	return &AdvisorRepository{db: db}
}

func scanAdvisor(row pgx.Row) (*advisor.Profile, error) {
	var p advisor.Profile
	err := row.Scan(
		&p.ID, &p.AccountID, &p.FullName, &p.CompanyName, &p.Email, &p.Phone, &p.Website, &p.Description,
		&p.Industries, &p.Geographies, &p.Revenue.Min, &p.Revenue.Max, &p.YearsExperience,
		&p.WorkedWithCimamplify, &p.IsActive, &p.SendLeads, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Upsert creates or replaces the profile owned by p.AccountID.
func (r *AdvisorRepository) Upsert(ctx context.Context, p *advisor.Profile) error {
	query := `
		INSERT INTO advisor_profiles (
			account_id, full_name, company_name, email, phone, website, description,
			industries, geographies, revenue_min, revenue_max, years_experience,
			worked_with_cimamplify, is_active, send_leads
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (account_id) DO UPDATE SET
			full_name = EXCLUDED.full_name,
			company_name = EXCLUDED.company_name,
			email = EXCLUDED.email,
			phone = EXCLUDED.phone,
			website = EXCLUDED.website,
			description = EXCLUDED.description,
			industries = EXCLUDED.industries,
			geographies = EXCLUDED.geographies,
			revenue_min = EXCLUDED.revenue_min,
			revenue_max = EXCLUDED.revenue_max,
			years_experience = EXCLUDED.years_experience,
			worked_with_cimamplify = EXCLUDED.worked_with_cimamplify,
			send_leads = EXCLUDED.send_leads,
			updated_at = NOW()
		RETURNING id, is_active, created_at, updated_at
	`

	err := r.db.QueryRow(ctx, query,
		p.AccountID, p.FullName, p.CompanyName, p.Email, p.Phone, p.Website, p.Description,
		p.Industries, p.Geographies, p.Revenue.Min, p.Revenue.Max, p.YearsExperience,
		p.WorkedWithCimamplify, p.IsActive, p.SendLeads,
	).Scan(&p.ID, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert advisor profile: %w", err)
	}
	return nil
}

func (r *AdvisorRepository) FindByAccountID(ctx context.Context, accountID int64) (*advisor.Profile, error) {
	query := `SELECT ` + advisorColumns + ` FROM advisor_profiles WHERE account_id = $1`

	p, err := scanAdvisor(r.db.QueryRow(ctx, query, accountID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, xerrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find advisor profile: %w", err)
	}
	return p, nil
}

// ListLeadAccepting returns every active advisor who opted in to leads. The
// finer matching criteria are applied in memory by the matching engine.
func (r *AdvisorRepository) ListLeadAccepting(ctx context.Context) ([]advisor.Profile, error) {
	query := `SELECT ` + advisorColumns + ` FROM advisor_profiles WHERE is_active AND send_leads ORDER BY id`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list advisor profiles: %w", err)
	}
	defer rows.Close()

	var profiles []advisor.Profile
	for rows.Next() {
		p, err := scanAdvisor(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan advisor profile: %w", err)
		}
		profiles = append(profiles, *p)
	}
	return profiles, rows.Err()
}
