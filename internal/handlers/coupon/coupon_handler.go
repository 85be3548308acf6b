// internal/handlers/coupon/coupon_handler.go
package coupon

import (
	"net/http"

	"cimamplify-service/internal/domain/coupon"
	"cimamplify-service/internal/pkg/response"
	service "cimamplify-service/internal/service/coupon"

	"github.com/gin-gonic/gin"
)

type CouponHandler struct {
	couponService *service.Service
}

func NewCouponHandler(couponService *service.Service) *CouponHandler {
	return &CouponHandler{
		couponService: couponService,
	}
}

// ========== Admin Only Endpoints ==========

func (h *CouponHandler) CreateCoupon(c *gin.Context) {
	var req coupon.CreateCouponRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, "invalid request", err)
		return
	}

	result, err := h.couponService.Create(c.Request.Context(), &req)
	if err != nil {
		response.FromError(c, err, "failed to create coupon")
		return
	}

	response.Success(c, http.StatusCreated, "coupon created successfully", result)
}

func (h *CouponHandler) ListCoupons(c *gin.Context) {
	result, err := h.couponService.List(c.Request.Context())
	if err != nil {
		response.FromError(c, err, "failed to list coupons")
		return
	}
	if result == nil {
		result = []coupon.Coupon{}
	}

	response.Success(c, http.StatusOK, "coupons retrieved successfully", result)
}

func (h *CouponHandler) DeactivateCoupon(c *gin.Context) {
	code := c.Param("code")
	if code == "" {
		response.ValidationError(c, "coupon code is required", nil)
		return
	}

	if err := h.couponService.Deactivate(c.Request.Context(), code); err != nil {
		response.FromError(c, err, "failed to deactivate coupon")
		return
	}

	response.Success(c, http.StatusOK, "coupon deactivated successfully", nil)
}
