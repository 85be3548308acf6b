// internal/domain/billing/provider.go
package billing

import "time"

// Provider-neutral views of the objects the payment gateway returns.

const (
	IntentSucceeded      = "succeeded"
	IntentRequiresAction = "requires_action"
	InvoicePaid          = "paid"
	InvoiceOpen          = "open"
)

type PaymentIntent struct {
	ID              string
	CustomerID      string
	PaymentMethodID string
	// InvoiceID is set when the intent was raised by a provider invoice.
	InvoiceID       string
	Status          string
	AmountCents     int64
	Currency        string
	ClientSecret    string
	LastError       string
	Metadata        map[string]string
}

func (p *PaymentIntent) Succeeded() bool {
	return p != nil && p.Status == IntentSucceeded
}

type Invoice struct {
	ID              string
	CustomerID      string
	SubscriptionID  string
	PaymentIntentID string
	Status          string
	AmountDueCents  int64
	AmountPaidCents int64
	Currency        string
	PeriodStart     *time.Time
	PeriodEnd       *time.Time
	Metadata        map[string]string
}

func (i *Invoice) Paid() bool {
	return i != nil && i.Status == InvoicePaid
}

type ProviderSubscription struct {
	ID                 string
	CustomerID         string
	Status             string
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	CancelAtPeriodEnd  bool
	LatestInvoice      *Invoice
	Metadata           map[string]string
}

type PaymentMethod struct {
	ID       string
	Brand    string
	Last4    string
	ExpMonth int
	ExpYear  int
}

// ChargeResult is the outcome of a single renewal charge.
type ChargeResult struct {
	PaymentID   string
	AmountCents int64
	Currency    string
	Succeeded   bool
	FailureMsg  string
	PeriodStart *time.Time
	PeriodEnd   *time.Time
}

// ========== Webhook events ==========

type EventType string

const (
	EventPaymentIntentSucceeded  EventType = "payment_intent.succeeded"
	EventSubscriptionCreated     EventType = "customer.subscription.created"
	EventSubscriptionUpdated     EventType = "customer.subscription.updated"
	EventSubscriptionDeleted     EventType = "customer.subscription.deleted"
	EventInvoicePaymentSucceeded EventType = "invoice.payment_succeeded"
	EventInvoicePaymentFailed    EventType = "invoice.payment_failed"
)

// Event is a verified webhook event with its object already decoded. Exactly
// one of the object pointers is set for the handled types.
type Event struct {
	ID            string
	Type          EventType
	Created       time.Time
	PaymentIntent *PaymentIntent
	Invoice       *Invoice
	Subscription  *ProviderSubscription
}

// Metadata keys written on provider objects.
const (
	MetaAccountID  = "account_id"
	MetaCouponCode = "coupon_code"
	MetaPurpose    = "purpose"
)
