// internal/middleware/auth_middleware.go
package middleware

import (
	"net/http"
	"strings"

	"cimamplify-service/internal/domain/account"
	"cimamplify-service/internal/pkg/jwt"
	"cimamplify-service/internal/pkg/response"

	"github.com/gin-gonic/gin"
)

const (
	ctxAccountID = "account_id"
	ctxRole      = "role"
	ctxEmail     = "email"
)

type TokenVerifier interface {
	Verify(token string) (*jwt.Claims, error)
}

// AuthMiddleware trusts tokens minted by the identity service and never
// touches the accounts table.
type AuthMiddleware struct {
	verifier TokenVerifier
}

func NewAuthMiddleware(verifier TokenVerifier) *AuthMiddleware {
	return &AuthMiddleware{verifier: verifier}
}

func (m *AuthMiddleware) Auth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			response.Unauthorized(c, "missing authorization token")
			return
		}

		claims, err := m.verifier.Verify(token)
		if err != nil {
			response.Error(c, http.StatusUnauthorized, "invalid or expired token", nil)
			return
		}

		c.Set(ctxAccountID, claims.AccountID)
		c.Set(ctxRole, account.Role(claims.Role))
		c.Set(ctxEmail, claims.Email)
		c.Next()
	}
}

// RequireRole lets through callers holding one of roles. Run it after Auth.
func (m *AuthMiddleware) RequireRole(roles ...account.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := GetRole(c)
		for _, r := range roles {
			if role == r {
				c.Next()
				return
			}
		}
		response.Forbidden(c, "this area is not available to your account type")
	}
}

// WithRole returns Auth followed by RequireRole.
func (m *AuthMiddleware) WithRole(roles ...account.Role) []gin.HandlerFunc {
	return []gin.HandlerFunc{m.Auth(), m.RequireRole(roles...)}
}

func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
