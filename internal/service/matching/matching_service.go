// internal/service/matching/matching_service.go
package matching

import (
	"context"
	"fmt"

	"cimamplify-service/internal/domain/account"
	"cimamplify-service/internal/domain/advisor"
	"cimamplify-service/internal/domain/seller"
	xerrors "cimamplify-service/internal/pkg/errors"
	"cimamplify-service/internal/service/email"

	"go.uber.org/zap"
)

type SellerStore interface {
	FindByAccountID(ctx context.Context, accountID int64) (*seller.Profile, error)
}

type AdvisorStore interface {
	ListLeadAccepting(ctx context.Context) ([]advisor.Profile, error)
}

type AccountFinder interface {
	FindByID(ctx context.Context, id int64) (*account.Account, error)
}

type Introducer interface {
	Introduction(intro email.Introduction)
}

type MatchingService struct {
	sellers  SellerStore
	advisors AdvisorStore
	accounts AccountFinder
	notifier Introducer
	logger   *zap.Logger
}

func NewMatchingService(sellers SellerStore, advisors AdvisorStore, accounts AccountFinder, notifier Introducer, logger *zap.Logger) *MatchingService {
	return &MatchingService{
		sellers:  sellers,
		advisors: advisors,
		accounts: accounts,
		notifier: notifier,
		logger:   logger,
	}
}

// FindMatches returns the advisor cards that fit the seller's profile.
func (s *MatchingService) FindMatches(ctx context.Context, sellerAccountID int64, q advisor.MatchQuery) ([]advisor.Card, error) {
	matches, err := s.match(ctx, sellerAccountID, q.SortBy)
	if err != nil {
		return nil, err
	}

	page := Paginate(matches, q.Page, q.Limit)
	cards := make([]advisor.Card, 0, len(page))
	for i := range page {
		cards = append(cards, page[i].Card())
	}
	return cards, nil
}

func (s *MatchingService) GetMatchStats(ctx context.Context, sellerAccountID int64) (*advisor.MatchStats, error) {
	matches, err := s.match(ctx, sellerAccountID, "")
	if err != nil {
		return nil, err
	}
	return Stats(matches), nil
}

// Introduce emails a matched advisor on the seller's behalf. Advisors outside
// the seller's match set are reported as not found.
func (s *MatchingService) Introduce(ctx context.Context, sellerAccountID, advisorAccountID int64, message string) error {
	sp, err := s.sellerProfile(ctx, sellerAccountID)
	if err != nil {
		return err
	}

	all, err := s.advisors.ListLeadAccepting(ctx)
	if err != nil {
		return err
	}

	var target *advisor.Profile
	for _, a := range Match(sp, all, "") {
		if a.AccountID == advisorAccountID {
			a := a
			target = &a
			break
		}
	}
	if target == nil {
		return fmt.Errorf("advisor %d is not among your matches: %w", advisorAccountID, xerrors.ErrNotFound)
	}

	sellerAcc, err := s.accounts.FindByID(ctx, sellerAccountID)
	if err != nil {
		return err
	}

	s.notifier.Introduction(email.Introduction{
		Advisor:       email.Recipient{Email: target.Email, FullName: target.FullName},
		SellerName:    sellerAcc.FullName,
		SellerEmail:   sellerAcc.Email,
		SellerCompany: sp.CompanyName,
		Message:       message,
	})

	s.logger.Info("introduction requested",
		zap.Int64("seller_account_id", sellerAccountID),
		zap.Int64("advisor_account_id", advisorAccountID),
	)
	return nil
}

func (s *MatchingService) match(ctx context.Context, sellerAccountID int64, sortBy string) ([]advisor.Profile, error) {
	sp, err := s.sellerProfile(ctx, sellerAccountID)
	if err != nil {
		return nil, err
	}

	all, err := s.advisors.ListLeadAccepting(ctx)
	if err != nil {
		return nil, err
	}
	return Match(sp, all, sortBy), nil
}

func (s *MatchingService) sellerProfile(ctx context.Context, accountID int64) (*seller.Profile, error) {
	sp, err := s.sellers.FindByAccountID(ctx, accountID)
	if err != nil {
		if xerrors.Is(err, xerrors.ErrNotFound) {
			return nil, fmt.Errorf("complete your seller profile before matching: %w", xerrors.ErrNotFound)
		}
		return nil, err
	}
	return sp, nil
}
