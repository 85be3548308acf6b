// internal/service/subscription/subscription_service.go
package subscription

import (
	"context"
	"fmt"
	"time"

	"cimamplify-service/internal/domain/account"
	"cimamplify-service/internal/domain/billing"
	"cimamplify-service/internal/domain/coupon"
	"cimamplify-service/internal/domain/subscription"
	"cimamplify-service/internal/pkg/events"
	xerrors "cimamplify-service/internal/pkg/errors"
	"cimamplify-service/internal/pkg/metrics"
	"cimamplify-service/internal/pkg/stripe"
	"cimamplify-service/internal/service/email"

	"go.uber.org/zap"
)

const (
	BillingModePaymentIntent = "payment_intent"
	BillingModeSubscription  = "subscription"

	historyPageSize = 50
)

type AccountStore interface {
	FindByID(ctx context.Context, id int64) (*account.Account, error)
	FindByProviderCustomerID(ctx context.Context, customerID string) (*account.Account, error)
	FindByProviderSubscriptionID(ctx context.Context, subscriptionID string) (*account.Account, error)
	SaveSubscription(ctx context.Context, id int64, s subscription.Subscription) error
	SaveBilling(ctx context.Context, id int64, b billing.Profile) error
	MarkRenewAttempt(ctx context.Context, id int64, at time.Time) error
	MarkInlineRenewAttempt(ctx context.Context, id int64, at time.Time) error
}

type HistoryStore interface {
	Exists(ctx context.Context, paymentID string) (bool, error)
	Insert(ctx context.Context, e *billing.HistoryEntry) (bool, error)
	SetPeriod(ctx context.Context, paymentID string, start, end *time.Time) error
	Release(ctx context.Context, paymentID string) error
	ListByAccount(ctx context.Context, accountID int64, limit int) ([]billing.HistoryEntry, error)
}

type CouponService interface {
	Validate(ctx context.Context, code string) (*coupon.Coupon, error)
	Quote(ctx context.Context, code string, feeCents int64, currency string) (*coupon.Quote, error)
	IncrementUsage(ctx context.Context, code string) error
}

// Gateway is the slice of the payment provider the lifecycle needs.
type Gateway interface {
	Currency() string
	EnsureCustomer(ctx context.Context, accountID int64, email, name string, existingID *string) (string, error)
	CreatePaymentIntent(ctx context.Context, in stripe.PaymentIntentInput) (*billing.PaymentIntent, error)
	GetPaymentIntent(ctx context.Context, id string) (*billing.PaymentIntent, error)
	ChargeOffSession(ctx context.Context, in stripe.OffSessionCharge) (*billing.PaymentIntent, error)
	AttachPaymentMethod(ctx context.Context, customerID, paymentMethodID string) (*billing.PaymentMethod, error)
	GetPaymentMethod(ctx context.Context, id string) (*billing.PaymentMethod, error)
	CreateSubscription(ctx context.Context, in stripe.SubscriptionInput) (*billing.ProviderSubscription, string, error)
	SetCancelAtPeriodEnd(ctx context.Context, subscriptionID string, cancel bool) (*billing.ProviderSubscription, error)
	GetSubscription(ctx context.Context, subscriptionID string) (*billing.ProviderSubscription, error)
	GetInvoice(ctx context.Context, invoiceID string) (*billing.Invoice, error)
	PayInvoice(ctx context.Context, invoiceID, paymentMethodID, idempotencyKey string) (*billing.Invoice, error)
}

type Notifier interface {
	PaymentFailed(to email.Recipient, reason string)
	SubscriptionExpired(to email.Recipient, endedAt *time.Time)
}

type EventPublisher interface {
	PublishStatusChanged(ctx context.Context, evt events.StatusChanged) error
}

type Config struct {
	MembershipFeeCents  int64
	TrialDays           int
	BillingMode         string
	InlineRenewCooldown time.Duration
	InlineRenewTimeout  time.Duration
}

func (c Config) withDefaults() Config {
	if c.TrialDays <= 0 {
		c.TrialDays = 30
	}
	if c.BillingMode == "" {
		c.BillingMode = BillingModePaymentIntent
	}
	if c.InlineRenewCooldown <= 0 {
		c.InlineRenewCooldown = 15 * time.Minute
	}
	if c.InlineRenewTimeout <= 0 {
		c.InlineRenewTimeout = 10 * time.Second
	}
	return c
}

// SubscriptionService owns every write to an advisor's membership state.
type SubscriptionService struct {
	accounts  AccountStore
	history   HistoryStore
	coupons   CouponService
	gateway   Gateway
	notifier  Notifier
	publisher EventPublisher
	metrics   *metrics.BillingMetrics
	cfg       Config
	logger    *zap.Logger
	now       func() time.Time
}

func NewSubscriptionService(
	accounts AccountStore,
	history HistoryStore,
	coupons CouponService,
	gateway Gateway,
	notifier Notifier,
	publisher EventPublisher,
	m *metrics.BillingMetrics,
	cfg Config,
	logger *zap.Logger,
) *SubscriptionService {
	return &SubscriptionService{
		accounts:  accounts,
		history:   history,
		coupons:   coupons,
		gateway:   gateway,
		notifier:  notifier,
		publisher: publisher,
		metrics:   m,
		cfg:       cfg.withDefaults(),
		logger:    logger,
		now:       time.Now,
	}
}

// VerifyOptions carries what a confirmed payment learned about the account.
type VerifyOptions struct {
	Term                   subscription.Term
	CustomerID             *string
	PaymentMethod          *billing.PaymentMethod
	ProviderSubscriptionID *string
	// ProviderStart and ProviderEnd, when both set, replace the computed window.
	ProviderStart *time.Time
	ProviderEnd   *time.Time
}

// MarkPaymentVerified activates the membership for one more term. Paying
// inside a running cycle extends from the old end.
func (s *SubscriptionService) MarkPaymentVerified(ctx context.Context, accountID int64, opts VerifyOptions) (*account.Account, error) {
	acc, err := s.accounts.FindByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if err := s.markVerified(ctx, acc, opts, "payment_verified"); err != nil {
		return nil, err
	}
	return acc, nil
}

func (s *SubscriptionService) markVerified(ctx context.Context, acc *account.Account, opts VerifyOptions, reason string) error {
	now := s.now()
	term := opts.Term
	if term == (subscription.Term{}) {
		term = subscription.AnnualTerm
	}

	start, end := subscription.NextWindow(acc.Subscription, now, term)
	if opts.ProviderStart != nil && opts.ProviderEnd != nil {
		start, end = *opts.ProviderStart, *opts.ProviderEnd
	}

	next := acc.Subscription
	next.Status = subscription.StatusActive
	next.CurrentPeriodStart = &start
	next.CurrentPeriodEnd = &end
	next.CancelAtPeriodEnd = false
	next.CanceledAt = nil
	next.ExpiryNotifiedAt = nil
	next.LastAutoRenewAttempt = nil
	next.LastInlineRenewAttempt = nil
	if opts.ProviderSubscriptionID != nil && *opts.ProviderSubscriptionID != "" {
		next.ProviderSubscriptionID = opts.ProviderSubscriptionID
	}

	if opts.CustomerID != nil || opts.PaymentMethod != nil {
		profile := acc.Billing
		if opts.CustomerID != nil && *opts.CustomerID != "" {
			profile.ProviderCustomerID = opts.CustomerID
		}
		profile = profile.WithCard(opts.PaymentMethod)
		if err := s.accounts.SaveBilling(ctx, acc.ID, profile); err != nil {
			return fmt.Errorf("failed to save billing profile: %w", err)
		}
		acc.Billing = profile
	}

	return s.save(ctx, acc, next, reason)
}

// UpdateFromProvider merges a provider push into the stored membership.
func (s *SubscriptionService) UpdateFromProvider(ctx context.Context, accountID int64, upd subscription.ProviderUpdate) (*account.Account, error) {
	acc, err := s.accounts.FindByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if err := s.applyProviderUpdate(ctx, acc, upd, "provider_update"); err != nil {
		return nil, err
	}
	return acc, nil
}

func (s *SubscriptionService) applyProviderUpdate(ctx context.Context, acc *account.Account, upd subscription.ProviderUpdate, reason string) error {
	next := upd.Merge(acc.Subscription)
	switch {
	case next.Status.Entitling():
		next.CanceledAt = nil
	case next.Status == subscription.StatusCanceled && next.CanceledAt == nil:
		now := s.now()
		next.CanceledAt = &now
	}
	return s.save(ctx, acc, next, reason)
}

// CancelAtPeriodEnd stops renewals. Access continues until the paid period ends.
func (s *SubscriptionService) CancelAtPeriodEnd(ctx context.Context, accountID int64) (*subscription.StatusResponse, error) {
	acc, err := s.accounts.FindByID(ctx, accountID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if acc.Subscription.Status == subscription.StatusCanceled {
		return nil, xerrors.InvalidState("subscription is already canceled")
	}
	if !acc.Subscription.IsActive(now) {
		return nil, xerrors.InvalidState("no active subscription to cancel")
	}

	if id := acc.Subscription.ProviderSubscriptionID; id != nil && *id != "" {
		if _, err := s.gateway.SetCancelAtPeriodEnd(ctx, *id, true); err != nil {
			return nil, err
		}
	}

	next := acc.Subscription
	next.Status = subscription.StatusCanceled
	next.CancelAtPeriodEnd = true
	next.CanceledAt = &now
	if err := s.save(ctx, acc, next, "canceled_by_user"); err != nil {
		return nil, err
	}

	s.logger.Info("subscription set to cancel at period end",
		zap.Int64("account_id", acc.ID),
		zap.Timep("period_end", next.CurrentPeriodEnd),
	)
	return s.statusOf(acc, now), nil
}

// Resume undoes a cancellation while the paid period is still running. Once
// the period has ended it changes nothing; the advisor must pay again.
func (s *SubscriptionService) Resume(ctx context.Context, accountID int64) (*subscription.StatusResponse, error) {
	acc, err := s.accounts.FindByID(ctx, accountID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	sub := acc.Subscription
	if sub.Status != subscription.StatusCanceled || sub.CurrentPeriodEnd == nil || !sub.CurrentPeriodEnd.After(now) {
		return s.statusOf(acc, now), nil
	}

	if id := sub.ProviderSubscriptionID; id != nil && *id != "" {
		if _, err := s.gateway.SetCancelAtPeriodEnd(ctx, *id, false); err != nil {
			return nil, err
		}
	}

	sub.Status = subscription.StatusActive
	sub.CancelAtPeriodEnd = false
	sub.CanceledAt = nil
	if err := s.save(ctx, acc, sub, "resumed_by_user"); err != nil {
		return nil, err
	}
	return s.statusOf(acc, now), nil
}

func (s *SubscriptionService) GetStatus(ctx context.Context, accountID int64) (*subscription.StatusResponse, error) {
	acc, err := s.accounts.FindByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return s.statusOf(acc, s.now()), nil
}

// QuoteCoupon prices the membership fee with code without redeeming it.
func (s *SubscriptionService) QuoteCoupon(ctx context.Context, code string) (*coupon.Quote, error) {
	return s.coupons.Quote(ctx, code, s.cfg.MembershipFeeCents, s.gateway.Currency())
}

func (s *SubscriptionService) ListPaymentHistory(ctx context.Context, accountID int64) ([]billing.HistoryEntry, error) {
	entries, err := s.history.ListByAccount(ctx, accountID, historyPageSize)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []billing.HistoryEntry{}
	}
	return entries, nil
}

func (s *SubscriptionService) statusOf(acc *account.Account, now time.Time) *subscription.StatusResponse {
	resp := &subscription.StatusResponse{
		Subscription:      acc.Subscription,
		IsActive:          acc.Subscription.IsActive(now),
		IsPaymentVerified: acc.Subscription.PaymentVerified(now),
		DaysRemaining:     acc.Subscription.DaysRemaining(now),
		HasPaymentMethod:  acc.Billing.HasPaymentMethod(),
	}
	if acc.Billing.CardBrand != nil {
		resp.CardBrand = *acc.Billing.CardBrand
	}
	if acc.Billing.CardLast4 != nil {
		resp.CardLast4 = *acc.Billing.CardLast4
	}
	return resp
}

// save persists next, updates acc in place and announces status changes.
func (s *SubscriptionService) save(ctx context.Context, acc *account.Account, next subscription.Subscription, reason string) error {
	prev := acc.Subscription.Status
	if err := s.accounts.SaveSubscription(ctx, acc.ID, next); err != nil {
		return fmt.Errorf("failed to save subscription: %w", err)
	}
	acc.Subscription = next

	if prev == next.Status {
		return nil
	}

	s.metrics.IncTransition(string(next.Status))
	s.logger.Info("subscription status changed",
		zap.Int64("account_id", acc.ID),
		zap.String("from", string(prev)),
		zap.String("to", string(next.Status)),
		zap.String("reason", reason),
	)

	if s.publisher == nil {
		return nil
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	err := s.publisher.PublishStatusChanged(pubCtx, events.StatusChanged{
		AccountID:  acc.ID,
		From:       string(prev),
		To:         string(next.Status),
		PeriodEnd:  next.CurrentPeriodEnd,
		Reason:     reason,
		OccurredAt: s.now(),
	})
	if err != nil {
		s.logger.Warn("failed to publish status change", zap.Int64("account_id", acc.ID), zap.Error(err))
	}
	return nil
}

func recipientOf(acc *account.Account) email.Recipient {
	return email.Recipient{Email: acc.Email, FullName: acc.FullName}
}
