// internal/domain/billing/entity.go
package billing

import "time"

// Profile holds the provider customer and the card used for renewals.
type Profile struct {
	ProviderCustomerID     *string `json:"provider_customer_id,omitempty" db:"provider_customer_id"`
	DefaultPaymentMethodID *string `json:"default_payment_method_id,omitempty" db:"default_payment_method_id"`
	CardBrand              *string `json:"card_brand,omitempty" db:"card_brand"`
	CardLast4              *string `json:"card_last4,omitempty" db:"card_last4"`
	CardExpMonth           *int    `json:"card_exp_month,omitempty" db:"card_exp_month"`
	CardExpYear            *int    `json:"card_exp_year,omitempty" db:"card_exp_year"`
}

func (p Profile) HasPaymentMethod() bool {
	return p.DefaultPaymentMethodID != nil && *p.DefaultPaymentMethodID != ""
}

func (p Profile) HasCustomer() bool {
	return p.ProviderCustomerID != nil && *p.ProviderCustomerID != ""
}

// WithCard returns a copy of p pointing at the given payment method.
func (p Profile) WithCard(pm *PaymentMethod) Profile {
	if pm == nil {
		return p
	}
	id := pm.ID
	p.DefaultPaymentMethodID = &id
	if pm.Brand != "" {
		brand := pm.Brand
		p.CardBrand = &brand
	}
	if pm.Last4 != "" {
		last4 := pm.Last4
		p.CardLast4 = &last4
	}
	if pm.ExpMonth > 0 {
		m := pm.ExpMonth
		p.CardExpMonth = &m
	}
	if pm.ExpYear > 0 {
		y := pm.ExpYear
		p.CardExpYear = &y
	}
	return p
}

type PaymentStatus string

const (
	PaymentStatusSucceeded PaymentStatus = "succeeded"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusFree      PaymentStatus = "free"
)

// HistoryEntry is an append-only record of a charge attempt. PaymentID is the
// provider id (or a locally generated one for free redemptions) and is unique.
type HistoryEntry struct {
	ID          int64                  `json:"id" db:"id"`
	PaymentID   string                 `json:"payment_id" db:"payment_id"`
	AccountID   int64                  `json:"account_id" db:"account_id"`
	AmountCents int64                  `json:"amount_cents" db:"amount_cents"`
	Currency    string                 `json:"currency" db:"currency"`
	Status      PaymentStatus          `json:"status" db:"status"`
	CouponCode  *string                `json:"coupon_code,omitempty" db:"coupon_code"`
	PeriodStart *time.Time             `json:"period_start,omitempty" db:"period_start"`
	PeriodEnd   *time.Time             `json:"period_end,omitempty" db:"period_end"`
	Description string                 `json:"description" db:"description"`
	Metadata    map[string]interface{} `json:"metadata,omitempty" db:"metadata"`
	CreatedAt   time.Time              `json:"created_at" db:"created_at"`
}
