package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/invigilo/invigilo-backend/internal/relay"
	"github.com/invigilo/invigilo-backend/internal/response"
	"github.com/invigilo/invigilo-backend/internal/service"
)

// MonitorHandler serves the teacher-facing monitoring HTTP surface:
// live presence snapshots plus the persisted event history.
type MonitorHandler struct {
	monitorService *service.MonitorService
	hub            *relay.Hub
}

// NewMonitorHandler creates a new MonitorHandler.
func NewMonitorHandler(monitorService *service.MonitorService, hub *relay.Hub) *MonitorHandler {
	return &MonitorHandler{monitorService: monitorService, hub: hub}
}

// ActiveStudents godoc
// GET /api/v1/teacher/exams/:exam_id/active-students
// Live in-memory presence, not a database view.
func (h *MonitorHandler) ActiveStudents(c *gin.Context) {
	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"active_students": h.hub.ActiveStudents(examID),
	})
}

// Events godoc
// GET /api/v1/teacher/exams/:exam_id/events?limit=100
func (h *MonitorHandler) Events(c *gin.Context) {
	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	events, err := h.monitorService.History(c.Request.Context(), examID, limit)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"events": events})
}

// AttemptEvents godoc
// GET /api/v1/teacher/attempts/:attempt_id/events?limit=100
func (h *MonitorHandler) AttemptEvents(c *gin.Context) {
	attemptID, err := uuid.Parse(c.Param("attempt_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	events, err := h.monitorService.AttemptHistory(c.Request.Context(), attemptID, limit)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"events": events})
}

// ViolationCounts godoc
// GET /api/v1/teacher/exams/:exam_id/violations
// Per-student intentional violation totals from the durable log.
func (h *MonitorHandler) ViolationCounts(c *gin.Context) {
	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	counts, err := h.monitorService.ViolationCounts(c.Request.Context(), examID)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"violation_counts": counts})
}
