package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/invigilo/invigilo-backend/internal/middleware"
	"github.com/invigilo/invigilo-backend/internal/model"
	"github.com/invigilo/invigilo-backend/internal/response"
	"github.com/invigilo/invigilo-backend/internal/service"
	"github.com/invigilo/invigilo-backend/internal/validator"
)

// ExamHandler handles teacher-side exam authoring endpoints.
type ExamHandler struct {
	examService *service.ExamService
}

// NewExamHandler creates a new ExamHandler.
func NewExamHandler(examService *service.ExamService) *ExamHandler {
	return &ExamHandler{examService: examService}
}

// Create godoc
// POST /api/v1/teacher/exams
func (h *ExamHandler) Create(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var req model.CreateExamRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	exam, err := h.examService.Create(c.Request.Context(), claims.UserID, &req)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{"exam": exam})
}

// List godoc
// GET /api/v1/teacher/exams
func (h *ExamHandler) List(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	exams, err := h.examService.ListByTeacher(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"exams": exams})
}

// Get godoc
// GET /api/v1/teacher/exams/:exam_id
func (h *ExamHandler) Get(c *gin.Context) {
	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	exam, err := h.examService.Get(c.Request.Context(), examID)
	if err != nil {
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"exam": exam})
}

// AddQuestion godoc
// POST /api/v1/teacher/exams/:exam_id/questions
func (h *ExamHandler) AddQuestion(c *gin.Context) {
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

	var req model.AddQuestionRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	question, err := h.examService.AddQuestion(c.Request.Context(), claims.UserID, examID, &req)
	if err != nil {
		if errors.Is(err, service.ErrNotExamOwner) {
			response.Fail(c, http.StatusForbidden, response.ErrNotExamOwner)
			return
		}
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidPayload)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{"question": question})
}

// Questions godoc
// GET /api/v1/teacher/exams/:exam_id/questions
// Source-order authoring view with grading fields intact.
func (h *ExamHandler) Questions(c *gin.Context) {
	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	questions, err := h.examService.Questions(c.Request.Context(), examID)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"questions": questions})
}

// SetStatus godoc
// PATCH /api/v1/teacher/exams/:exam_id/status
func (h *ExamHandler) SetStatus(c *gin.Context) {
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
		Status model.ExamStatus `json:"status" binding:"required,oneof=DRAFT PUBLISHED ONGOING COMPLETED ARCHIVED"`
	}
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	if err := h.examService.SetStatus(c.Request.Context(), claims.UserID, examID, req.Status); err != nil {
		if errors.Is(err, service.ErrNotExamOwner) {
			response.Fail(c, http.StatusForbidden, response.ErrNotExamOwner)
			return
		}
		response.Fail(c, http.StatusBadRequest, response.ErrActionForbidden)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"status": req.Status})
}
