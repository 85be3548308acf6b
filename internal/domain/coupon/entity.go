// internal/domain/coupon/entity.go
package coupon

import (
	"strings"
	"time"
)

type Type string

const (
	TypePercentage Type = "percentage"
	TypeFixed      Type = "fixed"
	TypeFreeTrial  Type = "free_trial"
)

func (t Type) Valid() bool {
	return t == TypePercentage || t == TypeFixed || t == TypeFreeTrial
}

// Coupon is a redeemable discount code. Value is a percentage for
// TypePercentage, whole currency units for TypeFixed and days for TypeFreeTrial.
type Coupon struct {
	ID               int64      `json:"id" db:"id"`
	Code             string     `json:"code" db:"code"`
	Type             Type       `json:"type" db:"type"`
	Value            float64    `json:"value" db:"value"`
	IsActive         bool       `json:"is_active" db:"is_active"`
	ExpiresAt        *time.Time `json:"expires_at,omitempty" db:"expires_at"`
	UsageLimit       *int       `json:"usage_limit,omitempty" db:"usage_limit"`
	UsedCount        int        `json:"used_count" db:"used_count"`
	ProviderCouponID *string    `json:"provider_coupon_id,omitempty" db:"provider_coupon_id"`
	CreatedAt        time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at" db:"updated_at"`
}

// NormalizeCode is the canonical stored form of a code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func (c *Coupon) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && !c.ExpiresAt.After(now)
}

func (c *Coupon) Exhausted() bool {
	return c.UsageLimit != nil && c.UsedCount >= *c.UsageLimit
}
