// internal/pkg/jwt/claims.go
package jwt

import (
	"errors"
	"fmt"

	"cimamplify-service/internal/domain/account"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are issued by the identity service. Only the account id, role and
// email are read here.
type Claims struct {
	AccountID int64  `json:"account_id"`
	Email     string `json:"email,omitempty"`
	Role      string `json:"role"`
	jwt.RegisteredClaims
}

func (c *Claims) HasRole(roles ...string) bool {
	for _, r := range roles {
		if c.Role == r {
			return true
		}
	}
	return false
}

// Validate is called by the parser once the registered claims have passed.
func (c *Claims) Validate() error {
	if c.AccountID <= 0 {
		return errors.New("token carries no account id")
	}
	switch account.Role(c.Role) {
	case account.RoleAdvisor, account.RoleSeller, account.RoleAdmin:
		return nil
	}
	return fmt.Errorf("unknown role %q", c.Role)
}
