package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/invigilo/invigilo-backend/internal/middleware"
	"github.com/invigilo/invigilo-backend/internal/response"
	"github.com/invigilo/invigilo-backend/internal/service"
	"github.com/invigilo/invigilo-backend/internal/validator"
)

// AttemptHandler handles student-side attempt endpoints.
type AttemptHandler struct {
	attemptService *service.AttemptService
}

// NewAttemptHandler creates a new AttemptHandler.
func NewAttemptHandler(attemptService *service.AttemptService) *AttemptHandler {
	return &AttemptHandler{attemptService: attemptService}
}

// Start godoc
// POST /api/v1/student/exams/:exam_id/attempt
// Creates or resumes the attempt; the shuffle layout is rolled only on
// first start.
func (h *AttemptHandler) Start(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	started, err := h.attemptService.Start(c.Request.Context(), examID, claims.UserID)
	if err != nil {
		if errors.Is(err, service.ErrExamNotAvailable) {
			response.Fail(c, http.StatusForbidden, response.ErrExamNotAvailable)
			return
		}
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	status := http.StatusCreated
	if started.Resumed {
		status = http.StatusOK
	}
	response.Success(c, status, started)
}

// State godoc
// GET /api/v1/student/exams/:exam_id/attempt/state
// Reload-safe view: autosaved answers and remaining time.
func (h *AttemptHandler) State(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	state, err := h.attemptService.State(c.Request.Context(), examID, claims.UserID)
	if err != nil {
		response.Fail(c, http.StatusNotFound, response.ErrAttemptNotStarted)
		return
	}

	response.Success(c, http.StatusOK, state)
}

// Autosave godoc
// POST /api/v1/student/exams/:exam_id/attempt/answer
// HTTP fallback for clients whose monitoring socket is down; the
// WebSocket autosave action is the primary channel.
func (h *AttemptHandler) Autosave(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req struct {
		QuestionID string `json:"question_id" binding:"required,uuid"`
		Answer     string `json:"answer" binding:"required,max=10000"`
	}
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	questionID, err := uuid.Parse(req.QuestionID)
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	if err := h.attemptService.Autosave(c.Request.Context(), examID, claims.UserID, questionID, req.Answer); err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"status": "saved"})
}

// Submit godoc
// POST /api/v1/student/exams/:exam_id/attempt/submit
// Idempotent: a repeat submit (or a submit racing the termination
// controller) reports the attempt as already finished.
func (h *AttemptHandler) Submit(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	performed, score, err := h.attemptService.Submit(c.Request.Context(), examID, claims.UserID)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	if !performed {
		response.Fail(c, http.StatusConflict, response.ErrAttemptFinished)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"status": "submitted", "score": score})
}

// ListByExam godoc
// GET /api/v1/teacher/exams/:exam_id/attempts
func (h *AttemptHandler) ListByExam(c *gin.Context) {
	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	attempts, err := h.attemptService.ListByExam(c.Request.Context(), examID)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"attempts": attempts})
}
