// internal/service/subscription/renewal.go
package subscription

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"cimamplify-service/internal/domain/account"
	"cimamplify-service/internal/domain/billing"
	"cimamplify-service/internal/domain/subscription"
	xerrors "cimamplify-service/internal/pkg/errors"
	"cimamplify-service/internal/pkg/stripe"

	"go.uber.org/zap"
)

const (
	RedirectPaymentMethod = "/billing/payment-method"
	RedirectReactivate    = "/billing/reactivate"
)

// AttemptRenewal charges the stored card once for the next term. It returns
// true when the membership was extended. A declined card is not an error; the
// attempt is recorded and false is returned.
func (s *SubscriptionService) AttemptRenewal(ctx context.Context, accountID int64) (bool, error) {
	acc, err := s.accounts.FindByID(ctx, accountID)
	if err != nil {
		return false, err
	}
	return s.renew(ctx, acc, false)
}

// renew charges the next term. inline marks attempts made from the access
// guard, which are tracked apart from the sweeper's.
func (s *SubscriptionService) renew(ctx context.Context, acc *account.Account, inline bool) (bool, error) {
	if !acc.Billing.HasPaymentMethod() {
		return false, xerrors.InvalidState("no payment method on file")
	}
	if !acc.Billing.HasCustomer() {
		return false, xerrors.InvalidState("no payment customer on file")
	}

	now := s.now()
	mark := s.accounts.MarkRenewAttempt
	if inline {
		mark = s.accounts.MarkInlineRenewAttempt
	}
	if err := mark(ctx, acc.ID, now); err != nil {
		s.logger.Warn("failed to record renewal attempt", zap.Int64("account_id", acc.ID), zap.Bool("inline", inline), zap.Error(err))
	}
	if inline {
		acc.Subscription.LastInlineRenewAttempt = &now
	} else {
		acc.Subscription.LastAutoRenewAttempt = &now
	}

	pmID := *acc.Billing.DefaultPaymentMethodID
	key := renewalKey(acc, pmID)

	if id := acc.Subscription.ProviderSubscriptionID; id != nil && *id != "" {
		done, ok, err := s.renewProviderSubscription(ctx, acc, *id, pmID, key)
		if done || err != nil {
			return ok, err
		}
	}

	pi, err := s.gateway.ChargeOffSession(ctx, stripe.OffSessionCharge{
		CustomerID:      *acc.Billing.ProviderCustomerID,
		PaymentMethodID: pmID,
		AmountCents:     s.cfg.MembershipFeeCents,
		Description:     "Advisor membership renewal",
		IdempotencyKey:  key,
		Metadata: map[string]string{
			billing.MetaAccountID: strconv.FormatInt(acc.ID, 10),
			billing.MetaPurpose:   purposeRenewal,
		},
	})
	if err != nil {
		s.metrics.ObserveCharge("renewal", false, s.cfg.MembershipFeeCents, s.gateway.Currency())
		return false, err
	}

	if !pi.Succeeded() {
		s.logger.Warn("renewal charge declined",
			zap.Int64("account_id", acc.ID),
			zap.String("payment_intent_id", pi.ID),
			zap.String("status", pi.Status),
			zap.String("reason", pi.LastError),
		)
		if pi.ID != "" {
			s.recordFailure(ctx, acc, pi.ID, pi.AmountCents, pi.Currency, declineReason(pi.LastError), "renewal")
		} else {
			s.metrics.ObserveCharge("renewal", false, s.cfg.MembershipFeeCents, s.gateway.Currency())
		}
		return false, nil
	}

	if err := s.applyCharge(ctx, acc, chargeFromIntent(pi, "renewal")); err != nil {
		return false, err
	}
	return true, nil
}

// Expire ends a lapsed membership after a failed renewal. An account that
// became active in the meantime is left alone.
func (s *SubscriptionService) Expire(ctx context.Context, accountID int64, reason string) error {
	acc, err := s.accounts.FindByID(ctx, accountID)
	if err != nil {
		return err
	}
	if acc.Subscription.IsActive(s.now()) || acc.Subscription.Status == subscription.StatusExpired {
		return nil
	}

	next := acc.Subscription
	next.Status = subscription.StatusExpired
	next.CancelAtPeriodEnd = false
	return s.save(ctx, acc, next, reason)
}

// renewProviderSubscription settles an open invoice on the provider
// subscription. done is false when the subscription has nothing to pay and the
// caller should fall back to a direct charge.
func (s *SubscriptionService) renewProviderSubscription(ctx context.Context, acc *account.Account, subscriptionID, pmID, key string) (done, ok bool, err error) {
	psub, err := s.gateway.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return true, false, err
	}

	inv := psub.LatestInvoice
	if inv == nil {
		return false, false, nil
	}

	switch {
	case inv.Status == billing.InvoiceOpen:
		paid, err := s.gateway.PayInvoice(ctx, inv.ID, pmID, key)
		if err != nil {
			return true, false, err
		}
		if !paid.Paid() {
			s.recordFailure(ctx, acc, inv.ID, inv.AmountDueCents, inv.Currency, "Renewal invoice could not be paid", "renewal")
			return true, false, nil
		}
		if err := s.applyCharge(ctx, acc, chargeFromInvoice(paid, "renewal")); err != nil {
			return true, false, err
		}
		return true, true, nil

	case inv.Paid() && subscription.ParseStatus(psub.Status).Entitling():
		// Paid at the provider but not reflected here yet.
		if err := s.applyCharge(ctx, acc, chargeFromInvoice(inv, "renewal")); err != nil {
			return true, false, err
		}
		return true, acc.Subscription.IsActive(s.now()), nil
	}

	return false, false, nil
}

// AccessDecision is the outcome of CheckAccess.
type AccessDecision struct {
	Allowed          bool
	Account          *account.Account
	Denied           *subscription.AccessDenied
	RenewalAttempted bool
}

// CheckAccess decides whether an account may use advisor features. Sellers
// and admins always pass. An advisor whose membership lapsed gets at most one
// inline renewal per cooldown window before being refused.
func (s *SubscriptionService) CheckAccess(ctx context.Context, accountID int64) (*AccessDecision, error) {
	acc, err := s.accounts.FindByID(ctx, accountID)
	if err != nil {
		return nil, err
	}

	if !acc.IsAdvisor() {
		s.metrics.IncGuard("not_advisor")
		return &AccessDecision{Allowed: true, Account: acc}, nil
	}

	now := s.now()
	if acc.Subscription.IsActive(now) {
		s.metrics.IncGuard("active")
		return &AccessDecision{Allowed: true, Account: acc}, nil
	}

	decision := &AccessDecision{Account: acc}
	if s.shouldRenewInline(acc) {
		decision.RenewalAttempted = true

		rctx, cancel := context.WithTimeout(ctx, s.cfg.InlineRenewTimeout)
		ok, err := s.renew(rctx, acc, true)
		cancel()
		if err != nil {
			s.logger.Warn("inline renewal failed", zap.Int64("account_id", acc.ID), zap.Error(err))
		}

		if ok {
			fresh, err := s.accounts.FindByID(ctx, accountID)
			if err != nil {
				return nil, err
			}
			decision.Account = fresh
			if fresh.Subscription.IsActive(s.now()) {
				s.metrics.IncGuard("renewed")
				decision.Allowed = true
				return decision, nil
			}
		}
	}

	s.metrics.IncGuard("denied")
	decision.Denied = denialFor(decision.Account)
	return decision, nil
}

func (s *SubscriptionService) shouldRenewInline(acc *account.Account) bool {
	sub := acc.Subscription
	if sub.Status == subscription.StatusCanceled || sub.Status == subscription.StatusNone {
		return false
	}
	if !acc.Billing.HasPaymentMethod() || !acc.Billing.HasCustomer() {
		return false
	}
	now := s.now()
	for _, last := range []*time.Time{sub.LastInlineRenewAttempt, sub.LastAutoRenewAttempt} {
		if last != nil && now.Sub(*last) < s.cfg.InlineRenewCooldown {
			return false
		}
	}
	return true
}

func denialFor(acc *account.Account) *subscription.AccessDenied {
	d := &subscription.AccessDenied{
		Code:             subscription.AccessDeniedCode,
		HasPaymentMethod: acc.Billing.HasPaymentMethod(),
		RedirectTo:       RedirectReactivate,
	}
	if !d.HasPaymentMethod {
		d.RedirectTo = RedirectPaymentMethod
	}
	return d
}

// renewalKey is stable for one period and card, so concurrent attempts from
// the guard and the sweeper collapse into one provider charge.
func renewalKey(acc *account.Account, pmID string) string {
	var periodEnd int64
	if acc.Subscription.CurrentPeriodEnd != nil {
		periodEnd = acc.Subscription.CurrentPeriodEnd.Unix()
	}
	return fmt.Sprintf("renew-%d-%d-%s", acc.ID, periodEnd, pmID)
}

func chargeFromInvoice(inv *billing.Invoice, origin string) charge {
	return charge{
		PaymentID:              inv.ID,
		Origin:                 origin,
		AmountCents:            inv.AmountPaidCents,
		Currency:               inv.Currency,
		CouponCode:             inv.Metadata[billing.MetaCouponCode],
		Description:            "Advisor membership invoice",
		Term:                   subscription.AnnualTerm,
		ProviderSubscriptionID: inv.SubscriptionID,
		ProviderStart:          inv.PeriodStart,
		ProviderEnd:            inv.PeriodEnd,
	}
}

func declineReason(msg string) string {
	if msg == "" {
		return "Renewal charge was declined"
	}
	return msg
}
