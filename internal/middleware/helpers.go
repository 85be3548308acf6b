// internal/middleware/helpers.go
package middleware

import (
	"cimamplify-service/internal/domain/account"
	"cimamplify-service/internal/domain/subscription"

	"github.com/gin-gonic/gin"
)

func GetAccountID(c *gin.Context) (int64, bool) {
	id, ok := c.Value(ctxAccountID).(int64)
	return id, ok
}

// MustGetAccountID is for handlers mounted behind Auth; a missing id is a
// routing bug.
func MustGetAccountID(c *gin.Context) int64 {
	id, ok := GetAccountID(c)
	if !ok {
		panic("account_id not found in context")
	}
	return id
}

func GetRole(c *gin.Context) account.Role {
	role, _ := c.Value(ctxRole).(account.Role)
	return role
}

// GetSubscription returns the membership the guard just checked.
func GetSubscription(c *gin.Context) (subscription.Subscription, bool) {
	s, ok := c.Value(ctxSubscription).(subscription.Subscription)
	return s, ok
}
