// internal/domain/account/entity.go
package account

import (
	"time"

	"cimamplify-service/internal/domain/billing"
	"cimamplify-service/internal/domain/subscription"
)

type Role string

const (
	RoleAdvisor Role = "advisor"
	RoleSeller  Role = "seller"
	RoleAdmin   Role = "admin"
)

// Account is the row an authenticated identity maps to. Advisors carry the
// membership state; sellers and admins leave it at "none".
type Account struct {
	ID           int64                     `json:"id" db:"id"`
	Email        string                    `json:"email" db:"email"`
	FullName     string                    `json:"full_name" db:"full_name"`
	Role         Role                      `json:"role" db:"role"`
	Subscription subscription.Subscription `json:"subscription"`
	Billing      billing.Profile           `json:"billing"`
	CreatedAt    time.Time                 `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time                 `json:"updated_at" db:"updated_at"`
}

func (a *Account) IsAdvisor() bool {
	return a.Role == RoleAdvisor
}
