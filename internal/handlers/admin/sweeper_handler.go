// internal/handlers/admin/sweeper_handler.go
package admin

import (
	"net/http"

	"cimamplify-service/internal/pkg/response"
	"cimamplify-service/internal/service/sweeper"

	"github.com/gin-gonic/gin"
)

type SweeperHandler struct {
	scheduler *sweeper.Scheduler
}

func NewSweeperHandler(scheduler *sweeper.Scheduler) *SweeperHandler {
	return &SweeperHandler{scheduler: scheduler}
}

// RunRenewals triggers the renewal sweep now (admin only)
func (h *SweeperHandler) RunRenewals(c *gin.Context) {
	result := h.scheduler.RunNow(c.Request.Context(), sweeper.SweepRenewal)
	h.respond(c, result)
}

// RunExpiryNotices triggers the expiry notice sweep now (admin only)
func (h *SweeperHandler) RunExpiryNotices(c *gin.Context) {
	result := h.scheduler.RunNow(c.Request.Context(), sweeper.SweepExpiry)
	h.respond(c, result)
}

func (h *SweeperHandler) GetStatus(c *gin.Context) {
	response.Success(c, http.StatusOK, "sweeper status retrieved successfully", h.scheduler.Status())
}

func (h *SweeperHandler) respond(c *gin.Context, result sweeper.Result) {
	switch {
	case result.Skipped:
		response.Error(c, http.StatusConflict, "sweep is already running", nil, result)
	case result.FetchError != "":
		response.Error(c, http.StatusInternalServerError, "sweep could not load accounts", nil, result)
	default:
		response.Success(c, http.StatusOK, "sweep completed", result)
	}
}
