package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/invigilo/invigilo-backend/internal/middleware"
	"github.com/invigilo/invigilo-backend/internal/response"
	"github.com/invigilo/invigilo-backend/internal/service"
)

// DashboardHandler handles the teacher dashboard endpoint.
type DashboardHandler struct {
	dashboardService *service.DashboardService
}

// NewDashboardHandler creates a new DashboardHandler.
func NewDashboardHandler(dashboardService *service.DashboardService) *DashboardHandler {
	return &DashboardHandler{dashboardService: dashboardService}
}

// GetDashboardData godoc
// GET /api/v1/teacher/dashboard
// Returns summary stat cards, exam status distribution, and recent
// terminated attempts for the authenticated teacher.
func (h *DashboardHandler) GetDashboardData(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	data, err := h.dashboardService.GetDashboardData(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, data)
}
