// internal/domain/advisor/entity.go
package advisor

import (
	"time"

	"github.com/lib/pq"
)

// RevenueRange bounds are inclusive; a nil bound is unbounded on that side.
type RevenueRange struct {
	Min *float64 `json:"min,omitempty" db:"revenue_min"`
	Max *float64 `json:"max,omitempty" db:"revenue_max"`
}

// Contains reports whether v falls within the range.
func (r RevenueRange) Contains(v float64) bool {
	if r.Min != nil && v < *r.Min {
		return false
	}
	if r.Max != nil && v > *r.Max {
		return false
	}
	return true
}

type Profile struct {
	ID                   int64          `json:"id" db:"id"`
	AccountID            int64          `json:"account_id" db:"account_id"`
	FullName             string         `json:"full_name" db:"full_name"`
	CompanyName          string         `json:"company_name" db:"company_name"`
	Email                string         `json:"email" db:"email"`
	Phone                string         `json:"phone,omitempty" db:"phone"`
	Website              string         `json:"website,omitempty" db:"website"`
	Description          string         `json:"description,omitempty" db:"description"`
	Industries           pq.StringArray `json:"industries" db:"industries"`
	Geographies          pq.StringArray `json:"geographies" db:"geographies"`
	Revenue              RevenueRange   `json:"revenue_range"`
	YearsExperience      int            `json:"years_experience" db:"years_experience"`
	WorkedWithCimamplify bool           `json:"worked_with_cimamplify" db:"worked_with_cimamplify"`
	IsActive             bool           `json:"is_active" db:"is_active"`
	SendLeads            bool           `json:"send_leads" db:"send_leads"`
	CreatedAt            time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt            time.Time      `json:"updated_at" db:"updated_at"`
}

// AcceptsLeads is the eligibility gate applied before any other match criteria.
func (p *Profile) AcceptsLeads() bool {
	return p.IsActive && p.SendLeads
}
