// internal/handlers/subscription/billing_handler.go
package subscription

import (
	"net/http"

	"cimamplify-service/internal/domain/coupon"
	"cimamplify-service/internal/domain/subscription"
	"cimamplify-service/internal/middleware"
	"cimamplify-service/internal/pkg/response"
	service "cimamplify-service/internal/service/subscription"

	"github.com/gin-gonic/gin"
)

type BillingHandler struct {
	subscriptionService *service.SubscriptionService
}

func NewBillingHandler(subscriptionService *service.SubscriptionService) *BillingHandler {
	return &BillingHandler{
		subscriptionService: subscriptionService,
	}
}

// GetStatus returns the caller's membership state
func (h *BillingHandler) GetStatus(c *gin.Context) {
	accountID := middleware.MustGetAccountID(c)

	result, err := h.subscriptionService.GetStatus(c.Request.Context(), accountID)
	if err != nil {
		response.FromError(c, err, "failed to get membership status")
		return
	}

	response.Success(c, http.StatusOK, "membership status retrieved successfully", result)
}

func (h *BillingHandler) GetPaymentHistory(c *gin.Context) {
	accountID := middleware.MustGetAccountID(c)

	result, err := h.subscriptionService.ListPaymentHistory(c.Request.Context(), accountID)
	if err != nil {
		response.FromError(c, err, "failed to get payment history")
		return
	}

	response.Success(c, http.StatusOK, "payment history retrieved successfully", result)
}

// CreateCheckout starts a membership payment. The coupon is optional.
func (h *BillingHandler) CreateCheckout(c *gin.Context) {
	accountID := middleware.MustGetAccountID(c)

	var req subscription.CheckoutRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.ValidationError(c, "invalid request", err)
			return
		}
	}

	result, err := h.subscriptionService.CreateCheckout(c.Request.Context(), accountID, req.CouponCode)
	if err != nil {
		response.FromError(c, err, "failed to create checkout")
		return
	}

	message := "checkout created successfully"
	if result.Redeemed {
		message = "coupon redeemed, membership activated"
	}
	response.Success(c, http.StatusCreated, message, result)
}

func (h *BillingHandler) ConfirmPayment(c *gin.Context) {
	accountID := middleware.MustGetAccountID(c)

	var req subscription.ConfirmPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, "invalid request", err)
		return
	}

	result, err := h.subscriptionService.ConfirmPayment(c.Request.Context(), accountID, req.PaymentIntentID)
	if err != nil {
		response.FromError(c, err, "payment confirmation failed")
		return
	}

	response.Success(c, http.StatusOK, "payment confirmed, membership activated", result)
}

func (h *BillingHandler) RedeemCoupon(c *gin.Context) {
	accountID := middleware.MustGetAccountID(c)

	var req subscription.RedeemCouponRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, "invalid request", err)
		return
	}

	result, err := h.subscriptionService.RedeemCoupon(c.Request.Context(), accountID, req.CouponCode)
	if err != nil {
		response.FromError(c, err, "failed to redeem coupon")
		return
	}

	response.Success(c, http.StatusOK, "coupon redeemed, membership activated", result)
}

func (h *BillingHandler) ValidateCoupon(c *gin.Context) {
	var req coupon.ValidateCouponRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, "invalid request", err)
		return
	}

	result, err := h.subscriptionService.QuoteCoupon(c.Request.Context(), req.Code)
	if err != nil {
		response.FromError(c, err, "coupon is not valid")
		return
	}

	response.Success(c, http.StatusOK, "coupon is valid", result)
}

// Cancel stops renewal; access continues until the period ends
func (h *BillingHandler) Cancel(c *gin.Context) {
	accountID := middleware.MustGetAccountID(c)

	result, err := h.subscriptionService.CancelAtPeriodEnd(c.Request.Context(), accountID)
	if err != nil {
		response.FromError(c, err, "failed to cancel membership")
		return
	}

	response.Success(c, http.StatusOK, "membership will end at the close of the current period", result)
}

func (h *BillingHandler) Resume(c *gin.Context) {
	accountID := middleware.MustGetAccountID(c)

	result, err := h.subscriptionService.Resume(c.Request.Context(), accountID)
	if err != nil {
		response.FromError(c, err, "failed to resume membership")
		return
	}

	message := "membership resumed successfully"
	if !result.IsActive {
		message = "membership period has ended, please renew"
	}
	response.Success(c, http.StatusOK, message, result)
}

func (h *BillingHandler) AttachPaymentMethod(c *gin.Context) {
	accountID := middleware.MustGetAccountID(c)

	var req subscription.AttachPaymentMethodRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, "invalid request", err)
		return
	}

	result, err := h.subscriptionService.AttachPaymentMethod(c.Request.Context(), accountID, req.PaymentMethodID)
	if err != nil {
		response.FromError(c, err, "failed to save payment method")
		return
	}

	response.Success(c, http.StatusOK, "payment method saved successfully", result)
}
