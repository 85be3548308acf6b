// internal/domain/subscription/dto.go
package subscription

import "time"

// ProviderUpdate is a partial update pushed by the payment provider. Nil
// fields are left untouched on merge.
type ProviderUpdate struct {
	SubscriptionID     *string
	Status             Status
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	CancelAtPeriodEnd  *bool
}

// Merge applies the present fields of u onto s and returns the result.
func (u ProviderUpdate) Merge(s Subscription) Subscription {
	if u.SubscriptionID != nil {
		s.ProviderSubscriptionID = u.SubscriptionID
	}
	if u.Status != "" {
		s.Status = u.Status
	}
	if u.CurrentPeriodStart != nil {
		s.CurrentPeriodStart = u.CurrentPeriodStart
	}
	if u.CurrentPeriodEnd != nil {
		s.CurrentPeriodEnd = u.CurrentPeriodEnd
	}
	if u.CancelAtPeriodEnd != nil {
		s.CancelAtPeriodEnd = *u.CancelAtPeriodEnd
	}
	if s.Status.Entitling() {
		s.ExpiryNotifiedAt = nil
		s.LastAutoRenewAttempt = nil
		s.LastInlineRenewAttempt = nil
	}
	return s
}

// ========== Requests ==========

type CheckoutRequest struct {
	CouponCode string `json:"coupon_code" binding:"omitempty,max=64"`
}

type ConfirmPaymentRequest struct {
	PaymentIntentID string `json:"payment_intent_id" binding:"required"`
}

type RedeemCouponRequest struct {
	CouponCode string `json:"coupon_code" binding:"required,max=64"`
}

type AttachPaymentMethodRequest struct {
	PaymentMethodID string `json:"payment_method_id" binding:"required"`
}

// ========== Responses ==========

type CheckoutResponse struct {
	PaymentIntentID string `json:"payment_intent_id,omitempty"`
	ClientSecret    string `json:"client_secret,omitempty"`
	AmountCents     int64  `json:"amount_cents"`
	OriginalCents   int64  `json:"original_cents"`
	Currency        string `json:"currency"`
	CouponCode      string `json:"coupon_code,omitempty"`
	// Redeemed is set when the coupon covered the whole fee and no payment is needed.
	Redeemed bool `json:"redeemed"`
}

type StatusResponse struct {
	Subscription      Subscription `json:"subscription"`
	IsActive          bool         `json:"is_active"`
	IsPaymentVerified bool         `json:"is_payment_verified"`
	DaysRemaining     int          `json:"days_remaining"`
	HasPaymentMethod  bool         `json:"has_payment_method"`
	CardBrand         string       `json:"card_brand,omitempty"`
	CardLast4         string       `json:"card_last4,omitempty"`
}

// AccessDenied is the 402 payload returned by the access guard.
type AccessDenied struct {
	Code             string `json:"code"`
	HasPaymentMethod bool   `json:"hasPaymentMethod"`
	RedirectTo       string `json:"redirectTo"`
}

const AccessDeniedCode = "SUBSCRIPTION_EXPIRED"
