// internal/app/router.go
package app

import (
	"cimamplify-service/internal/domain/account"
	adminHandler "cimamplify-service/internal/handlers/admin"
	advisorHandler "cimamplify-service/internal/handlers/advisor"
	couponHandler "cimamplify-service/internal/handlers/coupon"
	sellerHandler "cimamplify-service/internal/handlers/seller"
	subscriptionHandler "cimamplify-service/internal/handlers/subscription"
	"cimamplify-service/internal/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type Handlers struct {
	BillingHandler *subscriptionHandler.BillingHandler
	WebhookHandler *subscriptionHandler.WebhookHandler
	CouponHandler  *couponHandler.CouponHandler
	AdvisorHandler *advisorHandler.ProfileHandler
	SellerHandler  *sellerHandler.SellerHandler
	SweeperHandler *adminHandler.SweeperHandler
	AuthMiddleware *middleware.AuthMiddleware
	Guard          *middleware.SubscriptionGuard
	Registry       *prometheus.Registry
}

func SetupRouter(r *gin.Engine, logger *zap.Logger, h *Handlers) {
	api := r.Group("/api/v1")

	// ==================== Health Check ====================
	api.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok", "version": "1.0.0"})
	})

	// ==================== Metrics ====================
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.Registry, promhttp.HandlerOpts{})))

	// ==================== Provider Webhooks ====================
	api.POST("/webhooks/stripe", h.WebhookHandler.HandleStripe)

	advisorOnly := h.AuthMiddleware.WithRole(account.RoleAdvisor)
	sellerOnly := h.AuthMiddleware.WithRole(account.RoleSeller)
	adminOnly := h.AuthMiddleware.WithRole(account.RoleAdmin)

	// ==================== Billing (advisor) ====================
	billing := api.Group("/billing")
	billing.Use(advisorOnly...)
	{
		billing.GET("/status", h.BillingHandler.GetStatus)
		billing.GET("/history", h.BillingHandler.GetPaymentHistory)
		billing.POST("/checkout", h.BillingHandler.CreateCheckout)
		billing.POST("/confirm", h.BillingHandler.ConfirmPayment)
		billing.POST("/redeem", h.BillingHandler.RedeemCoupon)
		billing.POST("/cancel", h.BillingHandler.Cancel)
		billing.POST("/resume", h.BillingHandler.Resume)
		billing.PUT("/payment-method", h.BillingHandler.AttachPaymentMethod)
		billing.POST("/coupons/validate", h.BillingHandler.ValidateCoupon)
	}

	// ==================== Advisor Profile (membership required) ====================
	advisor := api.Group("/advisor")
	advisor.Use(advisorOnly...)
	advisor.Use(h.Guard.Require())
	{
		advisor.GET("/profile", h.AdvisorHandler.GetProfile)
		advisor.PUT("/profile", h.AdvisorHandler.UpdateProfile)
	}

	// ==================== Seller ====================
	seller := api.Group("/seller")
	seller.Use(sellerOnly...)
	{
		seller.GET("/profile", h.SellerHandler.GetProfile)
		seller.PUT("/profile", h.SellerHandler.UpdateProfile)
		seller.GET("/matches", h.SellerHandler.GetMatches)
		seller.GET("/matches/stats", h.SellerHandler.GetMatchStats)
		seller.POST("/matches/:advisor_id/introduce", h.SellerHandler.RequestIntroduction)
	}

	// ==================== Admin ====================
	admin := api.Group("/admin")
	admin.Use(adminOnly...)
	{
		admin.POST("/coupons", h.CouponHandler.CreateCoupon)
		admin.GET("/coupons", h.CouponHandler.ListCoupons)
		admin.PUT("/coupons/:code/deactivate", h.CouponHandler.DeactivateCoupon)

		admin.POST("/sweeper/renewals", h.SweeperHandler.RunRenewals)
		admin.POST("/sweeper/expiry-notices", h.SweeperHandler.RunExpiryNotices)
		admin.GET("/sweeper/status", h.SweeperHandler.GetStatus)
	}

	logger.Info("routes registered", zap.Int("count", len(r.Routes())))
}
