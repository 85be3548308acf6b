// internal/domain/coupon/dto.go
package coupon

import "time"

type CreateCouponRequest struct {
	Code             string     `json:"code" binding:"required,min=3,max=64"`
	Type             Type       `json:"type" binding:"required,oneof=percentage fixed free_trial"`
	Value            float64    `json:"value" binding:"required,gt=0"`
	ExpiresAt        *time.Time `json:"expires_at"`
	UsageLimit       *int       `json:"usage_limit" binding:"omitempty,gt=0"`
	ProviderCouponID string     `json:"provider_coupon_id"`
}

type ValidateCouponRequest struct {
	Code string `json:"code" binding:"required,max=64"`
}

// Quote is what a coupon does to the membership fee.
type Quote struct {
	Code          string `json:"code"`
	Type          Type   `json:"type"`
	OriginalCents int64  `json:"original_cents"`
	AmountCents   int64  `json:"amount_cents"`
	Currency      string `json:"currency"`
	FreeDays      int    `json:"free_days,omitempty"`
}
