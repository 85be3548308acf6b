// internal/service/coupon/coupon.go
package coupon

import (
	"context"
	"fmt"
	"math"
	"time"

	"cimamplify-service/internal/domain/coupon"
	xerrors "cimamplify-service/internal/pkg/errors"
	"cimamplify-service/internal/pkg/metrics"

	"go.uber.org/zap"
)

// MinimumChargeCents is the smallest amount the payment provider accepts.
const MinimumChargeCents int64 = 50

type Store interface {
	FindActiveByCode(ctx context.Context, code string) (*coupon.Coupon, error)
	IncrementUsage(ctx context.Context, code string) error
	Create(ctx context.Context, c *coupon.Coupon) error
	List(ctx context.Context) ([]coupon.Coupon, error)
	Deactivate(ctx context.Context, code string) error
}

type Service struct {
	store   Store
	metrics *metrics.BillingMetrics
	logger  *zap.Logger
	now     func() time.Time
}

func NewService(store Store, m *metrics.BillingMetrics, logger *zap.Logger) *Service {
	return &Service{
		store:   store,
		metrics: m,
		logger:  logger,
		now:     time.Now,
	}
}

// Validate looks a code up case-insensitively among active coupons and checks
// that it can still be redeemed.
func (s *Service) Validate(ctx context.Context, code string) (*coupon.Coupon, error) {
	code = coupon.NormalizeCode(code)
	if code == "" {
		return nil, fmt.Errorf("%w: coupon code is required", xerrors.ErrInvalidInput)
	}

	c, err := s.store.FindActiveByCode(ctx, code)
	if err != nil {
		if xerrors.Is(err, xerrors.ErrNotFound) {
			return nil, fmt.Errorf("coupon %s: %w", code, xerrors.ErrNotFound)
		}
		return nil, err
	}

	if c.Expired(s.now()) {
		return nil, xerrors.InvalidState("coupon has expired")
	}
	if c.Exhausted() {
		return nil, xerrors.InvalidState("coupon usage limit reached")
	}
	return c, nil
}

// Quote validates code and prices the fee with it.
func (s *Service) Quote(ctx context.Context, code string, feeCents int64, currency string) (*coupon.Quote, error) {
	c, err := s.Validate(ctx, code)
	if err != nil {
		return nil, err
	}

	q := &coupon.Quote{
		Code:          c.Code,
		Type:          c.Type,
		OriginalCents: feeCents,
		AmountCents:   ChargeableAmount(ApplyDiscount(feeCents, c)),
		Currency:      currency,
	}
	if c.Type == coupon.TypeFreeTrial {
		q.FreeDays = int(c.Value)
	}
	return q, nil
}

// IncrementUsage records one redemption. The store refuses the increment when
// the limit is already reached, which surfaces as ErrInvalidState.
func (s *Service) IncrementUsage(ctx context.Context, code string) error {
	code = coupon.NormalizeCode(code)
	if err := s.store.IncrementUsage(ctx, code); err != nil {
		s.logger.Warn("coupon usage increment refused", zap.String("code", code), zap.Error(err))
		return err
	}
	s.metrics.IncCouponRedeemed(code)
	return nil
}

// ========== Admin Operations ==========

func (s *Service) Create(ctx context.Context, req *coupon.CreateCouponRequest) (*coupon.Coupon, error) {
	if err := validateValue(req.Type, req.Value); err != nil {
		return nil, err
	}
	if req.ExpiresAt != nil && !req.ExpiresAt.After(s.now()) {
		return nil, fmt.Errorf("%w: expiry must be in the future", xerrors.ErrInvalidInput)
	}

	c := &coupon.Coupon{
		Code:       coupon.NormalizeCode(req.Code),
		Type:       req.Type,
		Value:      req.Value,
		IsActive:   true,
		ExpiresAt:  req.ExpiresAt,
		UsageLimit: req.UsageLimit,
	}
	if req.ProviderCouponID != "" {
		id := req.ProviderCouponID
		c.ProviderCouponID = &id
	}

	if err := s.store.Create(ctx, c); err != nil {
		if xerrors.Is(err, xerrors.ErrConflict) {
			return nil, fmt.Errorf("coupon %s already exists: %w", c.Code, xerrors.ErrConflict)
		}
		return nil, err
	}

	s.logger.Info("coupon created",
		zap.String("code", c.Code),
		zap.String("type", string(c.Type)),
		zap.Float64("value", c.Value),
	)
	return c, nil
}

func (s *Service) List(ctx context.Context) ([]coupon.Coupon, error) {
	return s.store.List(ctx)
}

func (s *Service) Deactivate(ctx context.Context, code string) error {
	if err := s.store.Deactivate(ctx, code); err != nil {
		return err
	}
	s.logger.Info("coupon deactivated", zap.String("code", coupon.NormalizeCode(code)))
	return nil
}

func validateValue(t coupon.Type, v float64) error {
	switch t {
	case coupon.TypePercentage:
		if v <= 0 || v > 100 {
			return fmt.Errorf("%w: percentage must be between 1 and 100", xerrors.ErrInvalidInput)
		}
	case coupon.TypeFixed:
		if v <= 0 {
			return fmt.Errorf("%w: fixed discount must be positive", xerrors.ErrInvalidInput)
		}
	case coupon.TypeFreeTrial:
		if v < 1 || v != math.Trunc(v) {
			return fmt.Errorf("%w: free trial must be a whole number of days", xerrors.ErrInvalidInput)
		}
	default:
		return fmt.Errorf("%w: unknown coupon type %q", xerrors.ErrInvalidInput, t)
	}
	return nil
}

// ApplyDiscount prices amountCents with c. Fixed values are in whole currency
// units; the result is never negative.
func ApplyDiscount(amountCents int64, c *coupon.Coupon) int64 {
	if c == nil {
		return amountCents
	}

	var out int64
	switch c.Type {
	case coupon.TypeFreeTrial:
		return 0
	case coupon.TypePercentage:
		out = int64(math.Round(float64(amountCents) * (1 - c.Value/100)))
	case coupon.TypeFixed:
		out = amountCents - int64(math.Round(c.Value*100))
	default:
		out = amountCents
	}
	if out < 0 {
		return 0
	}
	return out
}

// ChargeableAmount lifts a non-zero amount to the provider minimum. Zero
// stays zero and means no payment is taken.
func ChargeableAmount(amountCents int64) int64 {
	if amountCents <= 0 {
		return 0
	}
	if amountCents < MinimumChargeCents {
		return MinimumChargeCents
	}
	return amountCents
}
