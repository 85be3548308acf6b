// internal/middleware/subscription_guard.go
package middleware

import (
	"context"

	"cimamplify-service/internal/pkg/response"
	subscriptionsvc "cimamplify-service/internal/service/subscription"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const ctxSubscription = "subscription"

type AccessChecker interface {
	CheckAccess(ctx context.Context, accountID int64) (*subscriptionsvc.AccessDecision, error)
}

// SubscriptionGuard refuses advisor requests without a live membership.
// MUST be used after Auth() middleware.
type SubscriptionGuard struct {
	checker AccessChecker
	logger  *zap.Logger
}

func NewSubscriptionGuard(checker AccessChecker, logger *zap.Logger) *SubscriptionGuard {
	return &SubscriptionGuard{checker: checker, logger: logger}
}

func (g *SubscriptionGuard) Require() gin.HandlerFunc {
	return func(c *gin.Context) {
		accountID, ok := GetAccountID(c)
		if !ok {
			response.Unauthorized(c, "authentication required")
			return
		}

		decision, err := g.checker.CheckAccess(c.Request.Context(), accountID)
		if err != nil {
			g.logger.Error("subscription check failed", zap.Int64("account_id", accountID), zap.Error(err))
			response.FromError(c, err, "failed to verify membership")
			return
		}

		if !decision.Allowed {
			response.PaymentRequired(c, "advisor membership has expired", decision.Denied)
			return
		}

		if decision.Account != nil {
			c.Set(ctxSubscription, decision.Account.Subscription)
		}
		c.Next()
	}
}
