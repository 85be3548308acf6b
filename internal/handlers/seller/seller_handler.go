// internal/handlers/seller/seller_handler.go
package seller

import (
	"net/http"
	"strconv"

	"cimamplify-service/internal/domain/advisor"
	"cimamplify-service/internal/domain/seller"
	"cimamplify-service/internal/middleware"
	"cimamplify-service/internal/pkg/binder"
	"cimamplify-service/internal/pkg/response"
	matchingsvc "cimamplify-service/internal/service/matching"
	profilesvc "cimamplify-service/internal/service/profile"

	"github.com/gin-gonic/gin"
)

type SellerHandler struct {
	profileService  *profilesvc.ProfileService
	matchingService *matchingsvc.MatchingService
}

func NewSellerHandler(profileService *profilesvc.ProfileService, matchingService *matchingsvc.MatchingService) *SellerHandler {
	return &SellerHandler{
		profileService:  profileService,
		matchingService: matchingService,
	}
}

func (h *SellerHandler) GetProfile(c *gin.Context) {
	accountID := middleware.MustGetAccountID(c)

	result, err := h.profileService.GetSellerProfile(c.Request.Context(), accountID)
	if err != nil {
		response.FromError(c, err, "seller profile not found")
		return
	}

	response.Success(c, http.StatusOK, "seller profile retrieved successfully", result)
}

func (h *SellerHandler) UpdateProfile(c *gin.Context) {
	accountID := middleware.MustGetAccountID(c)

	var req seller.UpsertProfileRequest
	if err := binder.Bind(c, &req); err != nil {
		response.ValidationError(c, "invalid request", err)
		return
	}

	result, err := h.profileService.UpsertSellerProfile(c.Request.Context(), accountID, &req)
	if err != nil {
		response.FromError(c, err, "failed to save seller profile")
		return
	}

	response.Success(c, http.StatusOK, "seller profile saved successfully", result)
}

// GetMatches lists matching advisors. Without limit the full set is returned.
func (h *SellerHandler) GetMatches(c *gin.Context) {
	accountID := middleware.MustGetAccountID(c)

	var q advisor.MatchQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.ValidationError(c, "invalid query parameters", err)
		return
	}

	result, err := h.matchingService.FindMatches(c.Request.Context(), accountID, q)
	if err != nil {
		response.FromError(c, err, "failed to find matches")
		return
	}

	response.Success(c, http.StatusOK, "matches retrieved successfully", result)
}

func (h *SellerHandler) GetMatchStats(c *gin.Context) {
	accountID := middleware.MustGetAccountID(c)

	result, err := h.matchingService.GetMatchStats(c.Request.Context(), accountID)
	if err != nil {
		response.FromError(c, err, "failed to get match stats")
		return
	}

	response.Success(c, http.StatusOK, "match stats retrieved successfully", result)
}

func (h *SellerHandler) RequestIntroduction(c *gin.Context) {
	accountID := middleware.MustGetAccountID(c)

	advisorID, err := strconv.ParseInt(c.Param("advisor_id"), 10, 64)
	if err != nil {
		response.ValidationError(c, "invalid advisor ID", err)
		return
	}

	var req seller.IntroductionRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.ValidationError(c, "invalid request", err)
			return
		}
	}

	if err := h.matchingService.Introduce(c.Request.Context(), accountID, advisorID, req.Message); err != nil {
		response.FromError(c, err, "failed to request introduction")
		return
	}

	response.Success(c, http.StatusAccepted, "introduction sent", nil)
}
