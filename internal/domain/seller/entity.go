// internal/domain/seller/entity.go
package seller

import "time"

// Profile describes the business a seller is bringing to market. Geography
// may be hierarchical, e.g. "North America > Canada".
type Profile struct {
	ID            int64     `json:"id" db:"id"`
	AccountID     int64     `json:"account_id" db:"account_id"`
	CompanyName   string    `json:"company_name" db:"company_name"`
	Industry      string    `json:"industry" db:"industry"`
	Geography     string    `json:"geography" db:"geography"`
	AnnualRevenue *float64  `json:"annual_revenue,omitempty" db:"annual_revenue"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}

type UpsertProfileRequest struct {
	CompanyName   string   `json:"company_name" validate:"required,max=200"`
	Industry      string   `json:"industry" validate:"omitempty,max=120"`
	Geography     string   `json:"geography" validate:"omitempty,max=240"`
	AnnualRevenue *float64 `json:"annual_revenue" validate:"omitempty,gte=0"`
}

type IntroductionRequest struct {
	Message string `json:"message" binding:"omitempty,max=2000"`
}
