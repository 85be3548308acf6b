// internal/service/subscription/checkout.go
package subscription

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strconv"
	"time"

	"cimamplify-service/internal/domain/account"
	"cimamplify-service/internal/domain/billing"
	"cimamplify-service/internal/domain/coupon"
	"cimamplify-service/internal/domain/subscription"
	xerrors "cimamplify-service/internal/pkg/errors"
	"cimamplify-service/internal/pkg/stripe"
	couponsvc "cimamplify-service/internal/service/coupon"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

const (
	purposeMembership = "membership"
	purposeRenewal    = "renewal"
)

// charge describes a provider payment that has succeeded and must be applied
// to an account exactly once.
type charge struct {
	PaymentID              string
	Origin                 string
	AmountCents            int64
	Currency               string
	CouponCode             string
	PaymentMethodID        string
	Description            string
	Term                   subscription.Term
	Status                 billing.PaymentStatus
	ProviderSubscriptionID string
	ProviderStart          *time.Time
	ProviderEnd            *time.Time
}

// CreateCheckout prices the membership (with an optional coupon) and opens a
// payment with the provider. A coupon that covers the whole fee is redeemed
// directly and no payment is created.
func (s *SubscriptionService) CreateCheckout(ctx context.Context, accountID int64, couponCode string) (*subscription.CheckoutResponse, error) {
	acc, err := s.accounts.FindByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if !acc.IsAdvisor() {
		return nil, fmt.Errorf("%w: only advisors hold memberships", xerrors.ErrForbidden)
	}

	fee := s.cfg.MembershipFeeCents
	resp := &subscription.CheckoutResponse{
		AmountCents:   fee,
		OriginalCents: fee,
		Currency:      s.gateway.Currency(),
	}

	var c *coupon.Coupon
	if couponCode != "" {
		c, err = s.coupons.Validate(ctx, couponCode)
		if err != nil {
			return nil, err
		}
		resp.CouponCode = c.Code
		resp.AmountCents = couponsvc.ChargeableAmount(couponsvc.ApplyDiscount(fee, c))
	}

	if resp.AmountCents == 0 {
		if _, err := s.redeem(ctx, acc, c); err != nil {
			return nil, err
		}
		resp.Redeemed = true
		return resp, nil
	}

	// A provider subscription is billed at the price's full amount unless the
	// provider holds a matching coupon.
	if s.cfg.BillingMode == BillingModeSubscription && resp.AmountCents != resp.OriginalCents && !hasProviderCoupon(c) {
		return nil, xerrors.InvalidState("coupon not available for subscription billing")
	}

	customerID, err := s.ensureCustomer(ctx, acc)
	if err != nil {
		return nil, err
	}

	meta := map[string]string{
		billing.MetaAccountID: strconv.FormatInt(acc.ID, 10),
		billing.MetaPurpose:   purposeMembership,
	}
	if c != nil {
		meta[billing.MetaCouponCode] = c.Code
	}

	if s.cfg.BillingMode == BillingModeSubscription {
		return s.checkoutSubscription(ctx, acc, customerID, c, meta, resp)
	}

	pi, err := s.gateway.CreatePaymentIntent(ctx, stripe.PaymentIntentInput{
		CustomerID:  customerID,
		AmountCents: resp.AmountCents,
		Description: "Advisor annual membership",
		Metadata:    meta,
	})
	if err != nil {
		return nil, err
	}

	resp.PaymentIntentID = pi.ID
	resp.ClientSecret = pi.ClientSecret
	s.logger.Info("checkout created",
		zap.Int64("account_id", acc.ID),
		zap.String("payment_intent_id", pi.ID),
		zap.Int64("amount_cents", resp.AmountCents),
		zap.String("coupon", resp.CouponCode),
	)
	return resp, nil
}

func (s *SubscriptionService) checkoutSubscription(
	ctx context.Context,
	acc *account.Account,
	customerID string,
	c *coupon.Coupon,
	meta map[string]string,
	resp *subscription.CheckoutResponse,
) (*subscription.CheckoutResponse, error) {
	in := stripe.SubscriptionInput{
		CustomerID:     customerID,
		IdempotencyKey: fmt.Sprintf("checkout-%d-%s", acc.ID, newID()),
		Metadata:       meta,
	}
	if hasProviderCoupon(c) {
		in.ProviderCouponID = *c.ProviderCouponID
	}

	psub, secret, err := s.gateway.CreateSubscription(ctx, in)
	if err != nil {
		return nil, err
	}

	next := acc.Subscription
	next.ProviderSubscriptionID = &psub.ID
	if !next.IsActive(s.now()) {
		next.Status = subscription.ParseStatus(psub.Status)
	}
	if err := s.save(ctx, acc, next, "checkout_started"); err != nil {
		return nil, err
	}

	if psub.LatestInvoice != nil {
		resp.PaymentIntentID = psub.LatestInvoice.PaymentIntentID
	}
	resp.ClientSecret = secret
	return resp, nil
}

// ConfirmPayment is the client-side fallback to the payment webhooks. Whichever
// arrives first applies the payment; the other is a no-op. Intents raised by a
// subscription invoice are applied through that invoice, as the invoice
// webhook does.
func (s *SubscriptionService) ConfirmPayment(ctx context.Context, accountID int64, paymentIntentID string) (*subscription.StatusResponse, error) {
	acc, err := s.accounts.FindByID(ctx, accountID)
	if err != nil {
		return nil, err
	}

	pi, err := s.gateway.GetPaymentIntent(ctx, paymentIntentID)
	if err != nil {
		return nil, err
	}
	if !ownsIntent(acc, pi) {
		return nil, fmt.Errorf("%w: payment does not belong to this account", xerrors.ErrForbidden)
	}
	if !pi.Succeeded() {
		reason := pi.LastError
		if reason == "" {
			reason = "payment status is " + pi.Status
		}
		return nil, xerrors.Provider("payment confirmation failed", errors.New(reason))
	}

	ch := chargeFromIntent(pi, "checkout")
	if pi.InvoiceID != "" {
		inv, err := s.gateway.GetInvoice(ctx, pi.InvoiceID)
		if err != nil {
			return nil, err
		}
		if !inv.Paid() {
			return nil, xerrors.Provider("payment confirmation failed", errors.New("invoice status is "+inv.Status))
		}
		ch = chargeFromInvoice(inv, "checkout")
	}

	if err := s.applyCharge(ctx, acc, ch); err != nil {
		return nil, err
	}
	return s.statusOf(acc, s.now()), nil
}

// ownsIntent matches on the account id in metadata when the intent carries
// one, and otherwise on the provider customer.
func ownsIntent(acc *account.Account, pi *billing.PaymentIntent) bool {
	if raw := pi.Metadata[billing.MetaAccountID]; raw != "" {
		return raw == strconv.FormatInt(acc.ID, 10)
	}
	return pi.CustomerID != "" && acc.Billing.HasCustomer() && *acc.Billing.ProviderCustomerID == pi.CustomerID
}

func hasProviderCoupon(c *coupon.Coupon) bool {
	return c != nil && c.ProviderCouponID != nil && *c.ProviderCouponID != ""
}

// RedeemCoupon activates a membership from a coupon that covers the whole fee.
func (s *SubscriptionService) RedeemCoupon(ctx context.Context, accountID int64, code string) (*subscription.StatusResponse, error) {
	acc, err := s.accounts.FindByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if !acc.IsAdvisor() {
		return nil, fmt.Errorf("%w: only advisors hold memberships", xerrors.ErrForbidden)
	}

	c, err := s.coupons.Validate(ctx, code)
	if err != nil {
		return nil, err
	}
	if couponsvc.ChargeableAmount(couponsvc.ApplyDiscount(s.cfg.MembershipFeeCents, c)) > 0 {
		return nil, xerrors.InvalidState("coupon does not cover the membership fee, use checkout instead")
	}

	return s.redeem(ctx, acc, c)
}

func (s *SubscriptionService) redeem(ctx context.Context, acc *account.Account, c *coupon.Coupon) (*subscription.StatusResponse, error) {
	now := s.now()
	term := subscription.AnnualTerm
	if c != nil && c.Type == coupon.TypeFreeTrial {
		if acc.Subscription.IsActive(now) {
			return nil, xerrors.InvalidState("free trial is only available without an active membership")
		}
		days := int(c.Value)
		if days <= 0 {
			days = s.cfg.TrialDays
		}
		term = subscription.DaysTerm(days)
	}

	prev := acc.Subscription
	if err := s.markVerified(ctx, acc, VerifyOptions{Term: term}, "coupon_redeemed"); err != nil {
		return nil, err
	}

	// The usage increment is the atomic gate. When another redemption took the
	// last use in the meantime, the grant is undone.
	code := ""
	if c != nil {
		code = c.Code
		if err := s.coupons.IncrementUsage(ctx, code); err != nil {
			if rbErr := s.save(context.WithoutCancel(ctx), acc, prev, "coupon_refused"); rbErr != nil {
				s.logger.Error("failed to undo coupon grant",
					zap.Int64("account_id", acc.ID),
					zap.String("coupon", code),
					zap.Error(rbErr),
				)
			}
			return nil, err
		}
	}

	entry := &billing.HistoryEntry{
		PaymentID:   "coupon_" + newID(),
		AccountID:   acc.ID,
		Currency:    s.gateway.Currency(),
		Status:      billing.PaymentStatusFree,
		PeriodStart: acc.Subscription.CurrentPeriodStart,
		PeriodEnd:   acc.Subscription.CurrentPeriodEnd,
		Description: "Membership activated with coupon",
	}
	if code != "" {
		entry.CouponCode = &code
	}
	if _, err := s.history.Insert(ctx, entry); err != nil {
		s.logger.Error("failed to record coupon redemption", zap.Int64("account_id", acc.ID), zap.Error(err))
	}

	s.logger.Info("coupon redeemed",
		zap.Int64("account_id", acc.ID),
		zap.String("coupon", code),
		zap.Timep("period_end", acc.Subscription.CurrentPeriodEnd),
	)
	return s.statusOf(acc, now), nil
}

// AttachPaymentMethod stores a card for renewals and makes it the customer's default.
func (s *SubscriptionService) AttachPaymentMethod(ctx context.Context, accountID int64, paymentMethodID string) (*subscription.StatusResponse, error) {
	acc, err := s.accounts.FindByID(ctx, accountID)
	if err != nil {
		return nil, err
	}

	customerID, err := s.ensureCustomer(ctx, acc)
	if err != nil {
		return nil, err
	}

	pm, err := s.gateway.AttachPaymentMethod(ctx, customerID, paymentMethodID)
	if err != nil {
		return nil, err
	}

	profile := acc.Billing.WithCard(pm)
	if err := s.accounts.SaveBilling(ctx, acc.ID, profile); err != nil {
		return nil, fmt.Errorf("failed to save payment method: %w", err)
	}
	acc.Billing = profile

	s.logger.Info("payment method attached",
		zap.Int64("account_id", acc.ID),
		zap.String("brand", pm.Brand),
		zap.String("last4", pm.Last4),
	)
	return s.statusOf(acc, s.now()), nil
}

func (s *SubscriptionService) ensureCustomer(ctx context.Context, acc *account.Account) (string, error) {
	if acc.Billing.HasCustomer() {
		return *acc.Billing.ProviderCustomerID, nil
	}

	id, err := s.gateway.EnsureCustomer(ctx, acc.ID, acc.Email, acc.FullName, acc.Billing.ProviderCustomerID)
	if err != nil {
		return "", err
	}

	profile := acc.Billing
	profile.ProviderCustomerID = &id
	if err := s.accounts.SaveBilling(ctx, acc.ID, profile); err != nil {
		return "", fmt.Errorf("failed to save customer: %w", err)
	}
	acc.Billing = profile
	return id, nil
}

// applyCharge extends the membership for a successful payment. The payment id
// is claimed in the history before anything else, so of several concurrent or
// replayed deliveries only the one whose insert lands extends the window and
// counts the coupon.
func (s *SubscriptionService) applyCharge(ctx context.Context, acc *account.Account, ch charge) error {
	status := ch.Status
	if status == "" {
		status = billing.PaymentStatusSucceeded
	}
	entry := &billing.HistoryEntry{
		PaymentID:   ch.PaymentID,
		AccountID:   acc.ID,
		AmountCents: ch.AmountCents,
		Currency:    ch.Currency,
		Status:      status,
		Description: ch.Description,
		Metadata:    map[string]interface{}{"origin": ch.Origin},
	}
	if ch.CouponCode != "" {
		code := ch.CouponCode
		entry.CouponCode = &code
	}

	inserted, err := s.history.Insert(ctx, entry)
	if err != nil {
		return fmt.Errorf("failed to record payment: %w", err)
	}
	if !inserted {
		s.logger.Info("payment already applied",
			zap.Int64("account_id", acc.ID),
			zap.String("payment_id", ch.PaymentID),
		)
		return nil
	}

	// The caller may have loaded the account before another payment moved the
	// window; extend from the stored state.
	if fresh, err := s.accounts.FindByID(ctx, acc.ID); err == nil {
		*acc = *fresh
	}

	opts := VerifyOptions{
		Term:          ch.Term,
		ProviderStart: ch.ProviderStart,
		ProviderEnd:   ch.ProviderEnd,
	}
	if ch.ProviderSubscriptionID != "" {
		id := ch.ProviderSubscriptionID
		opts.ProviderSubscriptionID = &id
	}
	if ch.PaymentMethodID != "" && !samePaymentMethod(acc.Billing, ch.PaymentMethodID) {
		pm, err := s.gateway.GetPaymentMethod(ctx, ch.PaymentMethodID)
		if err != nil {
			s.logger.Warn("failed to load payment method details", zap.String("payment_method_id", ch.PaymentMethodID), zap.Error(err))
			pm = &billing.PaymentMethod{ID: ch.PaymentMethodID}
		}
		opts.PaymentMethod = pm
	}

	if err := s.markVerified(ctx, acc, opts, ch.Origin+"_succeeded"); err != nil {
		// Give the claim back so the provider's retry can apply the payment.
		if relErr := s.history.Release(context.WithoutCancel(ctx), ch.PaymentID); relErr != nil {
			s.logger.Error("failed to release payment claim",
				zap.String("payment_id", ch.PaymentID),
				zap.Error(relErr),
			)
		}
		return err
	}

	if err := s.history.SetPeriod(ctx, ch.PaymentID, acc.Subscription.CurrentPeriodStart, acc.Subscription.CurrentPeriodEnd); err != nil {
		s.logger.Warn("failed to record payment period", zap.String("payment_id", ch.PaymentID), zap.Error(err))
	}

	if ch.CouponCode != "" {
		if err := s.coupons.IncrementUsage(ctx, ch.CouponCode); err != nil {
			s.logger.Warn("coupon usage not counted for paid charge",
				zap.String("payment_id", ch.PaymentID),
				zap.String("coupon", ch.CouponCode),
				zap.Error(err),
			)
		}
	}

	s.metrics.ObserveCharge(ch.Origin, true, ch.AmountCents, ch.Currency)
	s.logger.Info("payment applied",
		zap.Int64("account_id", acc.ID),
		zap.String("payment_id", ch.PaymentID),
		zap.String("origin", ch.Origin),
		zap.Int64("amount_cents", ch.AmountCents),
		zap.Timep("period_end", acc.Subscription.CurrentPeriodEnd),
	)
	return nil
}

// recordFailure stores a failed attempt once and reports whether it was new.
func (s *SubscriptionService) recordFailure(ctx context.Context, acc *account.Account, paymentID string, amountCents int64, currency, reason, origin string) bool {
	entry := &billing.HistoryEntry{
		PaymentID:   paymentID + "_failed",
		AccountID:   acc.ID,
		AmountCents: amountCents,
		Currency:    currency,
		Status:      billing.PaymentStatusFailed,
		Description: reason,
		Metadata:    map[string]interface{}{"origin": origin},
	}
	inserted, err := s.history.Insert(ctx, entry)
	if err != nil {
		s.logger.Error("failed to record failed payment", zap.String("payment_id", paymentID), zap.Error(err))
		return false
	}
	s.metrics.ObserveCharge(origin, false, amountCents, currency)
	return inserted
}

func chargeFromIntent(pi *billing.PaymentIntent, origin string) charge {
	description := "Advisor annual membership"
	if pi.Metadata[billing.MetaPurpose] == purposeRenewal {
		description = "Advisor membership renewal"
	}
	return charge{
		PaymentID:       pi.ID,
		Origin:          origin,
		AmountCents:     pi.AmountCents,
		Currency:        pi.Currency,
		CouponCode:      pi.Metadata[billing.MetaCouponCode],
		PaymentMethodID: pi.PaymentMethodID,
		Description:     description,
		Term:            subscription.AnnualTerm,
	}
}

func samePaymentMethod(p billing.Profile, id string) bool {
	return p.DefaultPaymentMethodID != nil && *p.DefaultPaymentMethodID == id
}

func newID() string {
	return ulid.MustNew(ulid.Now(), rand.Reader).String()
}
