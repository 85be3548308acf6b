// internal/service/subscription/webhook.go
package subscription

import (
	"context"
	"fmt"
	"strconv"

	"cimamplify-service/internal/domain/account"
	"cimamplify-service/internal/domain/billing"
	"cimamplify-service/internal/domain/subscription"
	xerrors "cimamplify-service/internal/pkg/errors"

	"go.uber.org/zap"
)

// HandleEvent applies a verified provider event. Every branch is safe to
// replay. Events for unknown accounts are logged and acknowledged so the
// provider stops retrying them; other errors should be retried.
func (s *SubscriptionService) HandleEvent(ctx context.Context, evt *billing.Event) error {
	switch evt.Type {
	case billing.EventPaymentIntentSucceeded:
		return s.onPaymentIntentSucceeded(ctx, evt)
	case billing.EventSubscriptionCreated, billing.EventSubscriptionUpdated, billing.EventSubscriptionDeleted:
		return s.onSubscriptionChanged(ctx, evt)
	case billing.EventInvoicePaymentSucceeded:
		return s.onInvoicePaid(ctx, evt)
	case billing.EventInvoicePaymentFailed:
		return s.onInvoiceFailed(ctx, evt)
	default:
		s.logger.Debug("ignoring webhook event", zap.String("event_id", evt.ID), zap.String("type", string(evt.Type)))
		return nil
	}
}

func (s *SubscriptionService) onPaymentIntentSucceeded(ctx context.Context, evt *billing.Event) error {
	pi := evt.PaymentIntent
	if pi == nil {
		return fmt.Errorf("%w: event %s has no payment intent", xerrors.ErrInvalidInput, evt.ID)
	}

	// Intents raised by provider invoices carry no purpose; the invoice event covers them.
	purpose := pi.Metadata[billing.MetaPurpose]
	if purpose != purposeMembership && purpose != purposeRenewal {
		return nil
	}

	acc, err := s.resolveAccount(ctx, pi.Metadata, pi.CustomerID, "")
	if err != nil || acc == nil {
		return s.unresolved(evt, err)
	}
	return s.applyCharge(ctx, acc, chargeFromIntent(pi, "webhook"))
}

func (s *SubscriptionService) onSubscriptionChanged(ctx context.Context, evt *billing.Event) error {
	psub := evt.Subscription
	if psub == nil {
		return fmt.Errorf("%w: event %s has no subscription", xerrors.ErrInvalidInput, evt.ID)
	}

	acc, err := s.resolveAccount(ctx, psub.Metadata, psub.CustomerID, psub.ID)
	if err != nil || acc == nil {
		return s.unresolved(evt, err)
	}

	status := subscription.ParseStatus(psub.Status)
	if evt.Type == billing.EventSubscriptionDeleted {
		status = subscription.StatusCanceled
	}
	cancelAtEnd := psub.CancelAtPeriodEnd
	id := psub.ID

	upd := subscription.ProviderUpdate{
		SubscriptionID:     &id,
		Status:             status,
		CurrentPeriodStart: psub.CurrentPeriodStart,
		CurrentPeriodEnd:   psub.CurrentPeriodEnd,
		CancelAtPeriodEnd:  &cancelAtEnd,
	}
	// A provider subscription flagged to cancel is reported as active until it
	// ends; locally that is the canceled-with-access state.
	if status.Entitling() && cancelAtEnd {
		upd.Status = subscription.StatusCanceled
	}
	return s.applyProviderUpdate(ctx, acc, upd, string(evt.Type))
}

func (s *SubscriptionService) onInvoicePaid(ctx context.Context, evt *billing.Event) error {
	inv := evt.Invoice
	if inv == nil {
		return fmt.Errorf("%w: event %s has no invoice", xerrors.ErrInvalidInput, evt.ID)
	}

	acc, err := s.resolveAccount(ctx, inv.Metadata, inv.CustomerID, inv.SubscriptionID)
	if err != nil || acc == nil {
		return s.unresolved(evt, err)
	}
	return s.applyCharge(ctx, acc, chargeFromInvoice(inv, "webhook"))
}

// onInvoiceFailed retries the invoice once with the stored card. If that
// fails too the membership goes past due and the advisor is emailed.
func (s *SubscriptionService) onInvoiceFailed(ctx context.Context, evt *billing.Event) error {
	inv := evt.Invoice
	if inv == nil {
		return fmt.Errorf("%w: event %s has no invoice", xerrors.ErrInvalidInput, evt.ID)
	}

	acc, err := s.resolveAccount(ctx, inv.Metadata, inv.CustomerID, inv.SubscriptionID)
	if err != nil || acc == nil {
		return s.unresolved(evt, err)
	}

	paidAlready, err := s.history.Exists(ctx, inv.ID)
	if err != nil {
		return err
	}
	if paidAlready {
		return nil
	}

	reason := "Your card was declined."
	if acc.Billing.HasPaymentMethod() {
		paid, err := s.gateway.PayInvoice(ctx, inv.ID, *acc.Billing.DefaultPaymentMethodID, "retry-"+inv.ID)
		switch {
		case err != nil:
			s.logger.Warn("invoice retry failed", zap.String("invoice_id", inv.ID), zap.Error(err))
		case paid.Paid():
			s.logger.Info("invoice paid on retry", zap.Int64("account_id", acc.ID), zap.String("invoice_id", inv.ID))
			return s.applyCharge(ctx, acc, chargeFromInvoice(paid, "retry"))
		}
	} else {
		reason = "No payment method is on file."
	}

	next := acc.Subscription
	next.Status = subscription.StatusPastDue
	if err := s.save(ctx, acc, next, "invoice_payment_failed"); err != nil {
		return err
	}

	if s.recordFailure(ctx, acc, inv.ID, inv.AmountDueCents, inv.Currency, reason, "webhook") && s.notifier != nil {
		s.notifier.PaymentFailed(recipientOf(acc), reason)
	}
	return nil
}

// resolveAccount prefers the account id in metadata, then the subscription id,
// then the customer id. It returns nil, nil when nothing matches.
func (s *SubscriptionService) resolveAccount(ctx context.Context, meta map[string]string, customerID, subscriptionID string) (*account.Account, error) {
	if raw := meta[billing.MetaAccountID]; raw != "" {
		if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
			acc, err := s.accounts.FindByID(ctx, id)
			if err == nil {
				return acc, nil
			}
			if !xerrors.Is(err, xerrors.ErrNotFound) {
				return nil, err
			}
		}
	}

	if subscriptionID != "" {
		acc, err := s.accounts.FindByProviderSubscriptionID(ctx, subscriptionID)
		if err == nil {
			return acc, nil
		}
		if !xerrors.Is(err, xerrors.ErrNotFound) {
			return nil, err
		}
	}

	if customerID != "" {
		acc, err := s.accounts.FindByProviderCustomerID(ctx, customerID)
		if err == nil {
			return acc, nil
		}
		if !xerrors.Is(err, xerrors.ErrNotFound) {
			return nil, err
		}
	}
	return nil, nil
}

func (s *SubscriptionService) unresolved(evt *billing.Event, err error) error {
	if err != nil {
		return err
	}
	s.logger.Warn("webhook event matches no account",
		zap.String("event_id", evt.ID),
		zap.String("type", string(evt.Type)),
	)
	return nil
}
