// internal/pkg/stripe/mapper.go
package stripe

import (
	"time"

	"cimamplify-service/internal/domain/billing"

	"github.com/stripe/stripe-go/v78"
)

func unixPtr(ts int64) *time.Time {
	if ts == 0 {
		return nil
	}
	t := time.Unix(ts, 0).UTC()
	return &t
}

func toPaymentIntent(pi *stripe.PaymentIntent) *billing.PaymentIntent {
	if pi == nil {
		return nil
	}
	out := &billing.PaymentIntent{
		ID:           pi.ID,
		Status:       string(pi.Status),
		AmountCents:  pi.Amount,
		Currency:     string(pi.Currency),
		ClientSecret: pi.ClientSecret,
		Metadata:     pi.Metadata,
	}
	if pi.Customer != nil {
		out.CustomerID = pi.Customer.ID
	}
	if pi.PaymentMethod != nil {
		out.PaymentMethodID = pi.PaymentMethod.ID
	}
	if pi.Invoice != nil {
		out.InvoiceID = pi.Invoice.ID
	}
	if pi.LastPaymentError != nil {
		out.LastError = pi.LastPaymentError.Msg
	}
	return out
}

func toPaymentMethod(pm *stripe.PaymentMethod) *billing.PaymentMethod {
	if pm == nil {
		return nil
	}
	out := &billing.PaymentMethod{ID: pm.ID}
	if pm.Card != nil {
		out.Brand = string(pm.Card.Brand)
		out.Last4 = pm.Card.Last4
		out.ExpMonth = int(pm.Card.ExpMonth)
		out.ExpYear = int(pm.Card.ExpYear)
	}
	return out
}

// toInvoice prefers the subscription line period, which is the coverage the
// invoice pays for; the invoice's own period describes the previous cycle.
func toInvoice(inv *stripe.Invoice) *billing.Invoice {
	if inv == nil {
		return nil
	}
	out := &billing.Invoice{
		ID:              inv.ID,
		Status:          string(inv.Status),
		AmountDueCents:  inv.AmountDue,
		AmountPaidCents: inv.AmountPaid,
		Currency:        string(inv.Currency),
		PeriodStart:     unixPtr(inv.PeriodStart),
		PeriodEnd:       unixPtr(inv.PeriodEnd),
		Metadata:        invoiceMetadata(inv),
	}
	if inv.Customer != nil {
		out.CustomerID = inv.Customer.ID
	}
	if inv.Subscription != nil {
		out.SubscriptionID = inv.Subscription.ID
	}
	if inv.PaymentIntent != nil {
		out.PaymentIntentID = inv.PaymentIntent.ID
	}
	if inv.Lines != nil {
		for _, line := range inv.Lines.Data {
			if line == nil || line.Period == nil {
				continue
			}
			out.PeriodStart = unixPtr(line.Period.Start)
			out.PeriodEnd = unixPtr(line.Period.End)
			break
		}
	}
	return out
}

// invoiceMetadata merges the subscription's metadata snapshot under the
// invoice's own keys. Subscription invoices carry the account and coupon only
// in the snapshot.
func invoiceMetadata(inv *stripe.Invoice) map[string]string {
	if inv.SubscriptionDetails == nil || len(inv.SubscriptionDetails.Metadata) == 0 {
		return inv.Metadata
	}
	out := make(map[string]string, len(inv.Metadata)+len(inv.SubscriptionDetails.Metadata))
	for k, v := range inv.SubscriptionDetails.Metadata {
		out[k] = v
	}
	for k, v := range inv.Metadata {
		if v != "" {
			out[k] = v
		}
	}
	return out
}

func toSubscription(sub *stripe.Subscription) *billing.ProviderSubscription {
	if sub == nil {
		return nil
	}
	out := &billing.ProviderSubscription{
		ID:                 sub.ID,
		Status:             string(sub.Status),
		CurrentPeriodStart: unixPtr(sub.CurrentPeriodStart),
		CurrentPeriodEnd:   unixPtr(sub.CurrentPeriodEnd),
		CancelAtPeriodEnd:  sub.CancelAtPeriodEnd,
		Metadata:           sub.Metadata,
	}
	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
	}
	if sub.LatestInvoice != nil {
		out.LatestInvoice = toInvoice(sub.LatestInvoice)
	}
	return out
}
