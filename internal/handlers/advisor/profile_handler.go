// internal/handlers/advisor/profile_handler.go
package advisor

import (
	"net/http"

	"cimamplify-service/internal/domain/advisor"
	"cimamplify-service/internal/middleware"
	"cimamplify-service/internal/pkg/binder"
	"cimamplify-service/internal/pkg/response"
	service "cimamplify-service/internal/service/profile"

	"github.com/gin-gonic/gin"
)

type ProfileHandler struct {
	profileService *service.ProfileService
}

func NewProfileHandler(profileService *service.ProfileService) *ProfileHandler {
	return &ProfileHandler{
		profileService: profileService,
	}
}

func (h *ProfileHandler) GetProfile(c *gin.Context) {
	accountID := middleware.MustGetAccountID(c)

	result, err := h.profileService.GetAdvisorProfile(c.Request.Context(), accountID)
	if err != nil {
		response.FromError(c, err, "advisor profile not found")
		return
	}

	response.Success(c, http.StatusOK, "advisor profile retrieved successfully", result)
}

// UpdateProfile accepts JSON or a multipart form with string-encoded fields.
func (h *ProfileHandler) UpdateProfile(c *gin.Context) {
	accountID := middleware.MustGetAccountID(c)

	var req advisor.UpsertProfileRequest
	if err := binder.Bind(c, &req); err != nil {
		response.ValidationError(c, "invalid request", err)
		return
	}

	result, err := h.profileService.UpsertAdvisorProfile(c.Request.Context(), accountID, &req)
	if err != nil {
		response.FromError(c, err, "failed to save advisor profile")
		return
	}

	response.Success(c, http.StatusOK, "advisor profile saved successfully", result)
}
