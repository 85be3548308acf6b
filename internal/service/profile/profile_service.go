// internal/service/profile/profile_service.go
package profile

import (
	"context"
	"fmt"
	"strings"

	"cimamplify-service/internal/domain/advisor"
	"cimamplify-service/internal/domain/seller"
	xerrors "cimamplify-service/internal/pkg/errors"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

type AdvisorStore interface {
	Upsert(ctx context.Context, p *advisor.Profile) error
	FindByAccountID(ctx context.Context, accountID int64) (*advisor.Profile, error)
}

type SellerStore interface {
	Upsert(ctx context.Context, p *seller.Profile) error
	FindByAccountID(ctx context.Context, accountID int64) (*seller.Profile, error)
}

type ProfileService struct {
	advisors AdvisorStore
	sellers  SellerStore
	logger   *zap.Logger
}

func NewProfileService(advisors AdvisorStore, sellers SellerStore, logger *zap.Logger) *ProfileService {
	return &ProfileService{
		advisors: advisors,
		sellers:  sellers,
		logger:   logger,
	}
}

func (s *ProfileService) GetAdvisorProfile(ctx context.Context, accountID int64) (*advisor.Profile, error) {
	return s.advisors.FindByAccountID(ctx, accountID)
}

// UpsertAdvisorProfile stores the advisor's matching criteria. Leads are on
// unless the advisor opts out.
func (s *ProfileService) UpsertAdvisorProfile(ctx context.Context, accountID int64, req *advisor.UpsertProfileRequest) (*advisor.Profile, error) {
	if req.RevenueMin != nil && req.RevenueMax != nil && *req.RevenueMin > *req.RevenueMax {
		return nil, fmt.Errorf("%w: revenue_min cannot exceed revenue_max", xerrors.ErrInvalidInput)
	}

	sendLeads := true
	if req.SendLeads != nil {
		sendLeads = *req.SendLeads
	}

	p := &advisor.Profile{
		AccountID:            accountID,
		FullName:             strings.TrimSpace(req.FullName),
		CompanyName:          strings.TrimSpace(req.CompanyName),
		Email:                strings.ToLower(strings.TrimSpace(req.Email)),
		Phone:                strings.TrimSpace(req.Phone),
		Website:              strings.TrimSpace(req.Website),
		Description:          strings.TrimSpace(req.Description),
		Industries:           pq.StringArray(cleanList(req.Industries)),
		Geographies:          pq.StringArray(cleanList(req.Geographies)),
		Revenue:              advisor.RevenueRange{Min: req.RevenueMin, Max: req.RevenueMax},
		YearsExperience:      req.YearsExperience,
		WorkedWithCimamplify: req.WorkedWithCimamplify,
		IsActive:             true,
		SendLeads:            sendLeads,
	}

	if err := s.advisors.Upsert(ctx, p); err != nil {
		return nil, err
	}

	s.logger.Info("advisor profile saved",
		zap.Int64("account_id", accountID),
		zap.Int("industries", len(p.Industries)),
		zap.Int("geographies", len(p.Geographies)),
		zap.Bool("send_leads", p.SendLeads),
	)
	return p, nil
}

func (s *ProfileService) GetSellerProfile(ctx context.Context, accountID int64) (*seller.Profile, error) {
	return s.sellers.FindByAccountID(ctx, accountID)
}

func (s *ProfileService) UpsertSellerProfile(ctx context.Context, accountID int64, req *seller.UpsertProfileRequest) (*seller.Profile, error) {
	p := &seller.Profile{
		AccountID:     accountID,
		CompanyName:   strings.TrimSpace(req.CompanyName),
		Industry:      strings.TrimSpace(req.Industry),
		Geography:     normalizeGeography(req.Geography),
		AnnualRevenue: req.AnnualRevenue,
	}

	if err := s.sellers.Upsert(ctx, p); err != nil {
		return nil, err
	}

	s.logger.Info("seller profile saved", zap.Int64("account_id", accountID))
	return p, nil
}

// cleanList trims entries and drops blanks and case-insensitive duplicates.
func cleanList(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]bool, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		key := strings.ToLower(v)
		if v == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, v)
	}
	return out
}

// normalizeGeography tidies "Region>Sub" into "Region > Sub".
func normalizeGeography(g string) string {
	parts := strings.Split(g, ">")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return strings.Trim(strings.Join(parts, " > "), " >")
}
