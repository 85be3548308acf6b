// internal/domain/advisor/dto.go
package advisor

import "time"

// UpsertProfileRequest arrives either as JSON or as a multipart form where
// arrays are string-encoded and booleans are "true"/"false" strings. It is
// normalized by the binder before validation.
type UpsertProfileRequest struct {
	FullName             string   `json:"full_name" validate:"required,max=200"`
	CompanyName          string   `json:"company_name" validate:"required,max=200"`
	Email                string   `json:"email" validate:"required,email"`
	Phone                string   `json:"phone" validate:"omitempty,max=40"`
	Website              string   `json:"website" validate:"omitempty,url"`
	Description          string   `json:"description" validate:"omitempty,max=5000"`
	Industries           []string `json:"industries" validate:"required,min=1,dive,required,max=120"`
	Geographies          []string `json:"geographies" validate:"required,min=1,dive,required,max=120"`
	RevenueMin           *float64 `json:"revenue_min" validate:"omitempty,gte=0"`
	RevenueMax           *float64 `json:"revenue_max" validate:"omitempty,gte=0"`
	YearsExperience      int      `json:"years_experience" validate:"gte=0,lte=80"`
	WorkedWithCimamplify bool     `json:"worked_with_cimamplify"`
	SendLeads            *bool    `json:"send_leads"`
}

// Card is the advisor view returned to sellers.
type Card struct {
	AccountID            int64        `json:"account_id"`
	FullName             string       `json:"full_name"`
	CompanyName          string       `json:"company_name"`
	Email                string       `json:"email"`
	Phone                string       `json:"phone,omitempty"`
	Website              string       `json:"website,omitempty"`
	Description          string       `json:"description,omitempty"`
	Industries           []string     `json:"industries"`
	Geographies          []string     `json:"geographies"`
	Revenue              RevenueRange `json:"revenue_range"`
	YearsExperience      int          `json:"years_experience"`
	WorkedWithCimamplify bool         `json:"worked_with_cimamplify"`
	CreatedAt            time.Time    `json:"created_at"`
}

func (p *Profile) Card() Card {
	return Card{
		AccountID:            p.AccountID,
		FullName:             p.FullName,
		CompanyName:          p.CompanyName,
		Email:                p.Email,
		Phone:                p.Phone,
		Website:              p.Website,
		Description:          p.Description,
		Industries:           append([]string{}, p.Industries...),
		Geographies:          append([]string{}, p.Geographies...),
		Revenue:              p.Revenue,
		YearsExperience:      p.YearsExperience,
		WorkedWithCimamplify: p.WorkedWithCimamplify,
		CreatedAt:            p.CreatedAt,
	}
}

// MatchQuery carries the optional sort and pagination of a match listing.
type MatchQuery struct {
	SortBy string `form:"sort_by" binding:"omitempty,oneof=years company newest"`
	Page   int    `form:"page" binding:"omitempty,gte=1"`
	Limit  *int   `form:"limit" binding:"omitempty,gte=1,lte=100"`
}

type MatchStats struct {
	TotalMatches int      `json:"totalMatches"`
	Industries   []string `json:"industries"`
	Geographies  []string `json:"geographies"`
}
