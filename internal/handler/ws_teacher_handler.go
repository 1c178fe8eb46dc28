package handler

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/invigilo/invigilo-backend/internal/config"
	"github.com/invigilo/invigilo-backend/internal/middleware"
	"github.com/invigilo/invigilo-backend/internal/model"
	"github.com/invigilo/invigilo-backend/internal/proctor"
	"github.com/invigilo/invigilo-backend/internal/relay"
	"github.com/invigilo/invigilo-backend/internal/service"
	ws "github.com/invigilo/invigilo-backend/internal/websocket"
)

// examLoader is the slice of ExamService the teacher socket needs to
// check ownership before acting on an exam.
type examLoader interface {
	Get(ctx context.Context, examID uuid.UUID) (*model.Exam, error)
}

// WSTeacherHandler owns the teacher's monitoring WebSocket: live
// presence and violation feed in, direct messages and forced
// terminations out.
type WSTeacherHandler struct {
	hub             *relay.Hub
	proctorRegistry *proctor.Registry
	attemptService  *service.AttemptService
	exams           examLoader
	log             zerolog.Logger
	upgrader        websocket.Upgrader
}

// NewWSTeacherHandler creates a new WSTeacherHandler.
func NewWSTeacherHandler(
	cfg *config.Config,
	hub *relay.Hub,
	proctorRegistry *proctor.Registry,
	attemptService *service.AttemptService,
	examService *service.ExamService,
	log zerolog.Logger,
) *WSTeacherHandler {
	return &WSTeacherHandler{
		hub:             hub,
		proctorRegistry: proctorRegistry,
		attemptService:  attemptService,
		exams:           examService,
		log:             log.With().Str("component", "ws_teacher_handler").Logger(),
		upgrader:        buildUpgrader(cfg.AllowedOrigins),
	}
}

// Stream godoc
// WS /ws/v1/teacher/monitor?exam_id=...
// Without exam_id the socket watches every exam (global scope).
func (h *WSTeacherHandler) Stream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	scopeID := uuid.Nil
	if raw := c.Query("exam_id"); raw != "" {
		parsed, err := uuid.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid exam ID"})
			return
		}
		scopeID = parsed
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	wsLog := h.log.With().
		Int("teacher_id", claims.UserID).
		Str("exam_scope", scopeID.String()).
		Logger()

	var writeMu sync.Mutex
	write := func(v interface{}) {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = ws.WriteTyped(conn, v)
	}

	session := relay.NewSession(model.RoleTeacher)
	h.hub.JoinTeacher(session, scopeID)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for env := range session.Out() {
			write(env)
		}
	}()

	wsLog.Info().Msg("Teacher connected")

	for {
		var msg ws.RequestPayload
		if err := ws.ReadJSON(conn, &msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			break
		}

		switch msg.Action {
		case ws.ActionMessage:
			h.handleMessage(write, scopeID, &msg)
		case ws.ActionTerminate:
			h.handleTerminate(write, wsLog, scopeID, claims.UserID, &msg)
		case ws.ActionPing:
			write(ws.PongResponse{Event: ws.EventPong})
		default:
			wsLog.Warn().Str("action", string(msg.Action)).Msg("Unknown action")
			write(ws.ErrorResponse{Event: ws.EventError, Error: "unknown action: " + string(msg.Action)})
		}
	}

	h.hub.Leave(session)
	<-done
}

// targetExam resolves the exam a teacher action applies to: the socket's
// scope, or an explicit exam_id for globally scoped sockets.
func targetExam(scopeID uuid.UUID, msg *ws.RequestPayload) (uuid.UUID, bool) {
	if msg.ExamID != "" {
		parsed, err := uuid.Parse(msg.ExamID)
		if err != nil {
			return uuid.Nil, false
		}
		return parsed, true
	}
	if scopeID != uuid.Nil {
		return scopeID, true
	}
	return uuid.Nil, false
}

func (h *WSTeacherHandler) handleMessage(write func(interface{}), scopeID uuid.UUID, msg *ws.RequestPayload) {
	examID, ok := targetExam(scopeID, msg)
	if !ok || msg.StudentID == 0 || msg.Message == "" {
		write(ws.ErrorResponse{Event: ws.EventError, Error: "exam_id, student_id and message are required"})
		return
	}

	h.hub.SendMessage(examID, msg.StudentID, msg.Message)
	write(ws.AutosaveResponse{Event: ws.EventSuccess, Status: "sent"})
}

// handleTerminate force-ends a student's attempt: ownership check,
// durable state, then the one-time notice and presence removal.
func (h *WSTeacherHandler) handleTerminate(write func(interface{}), wsLog zerolog.Logger, scopeID uuid.UUID, teacherID int, msg *ws.RequestPayload) {
	examID, ok := targetExam(scopeID, msg)
	if !ok || msg.StudentID == 0 {
		write(ws.ErrorResponse{Event: ws.EventError, Error: "exam_id and student_id are required"})
		return
	}

	reason := msg.Reason
	if reason == "" {
		reason = "Terminated by the teacher"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	exam, err := h.exams.Get(ctx, examID)
	if err != nil {
		write(ws.ErrorResponse{Event: ws.EventError, Error: "exam not found"})
		return
	}
	if exam.TeacherID != teacherID {
		wsLog.Warn().Str("exam_id", examID.String()).Msg("Terminate rejected, exam belongs to another teacher")
		write(ws.ErrorResponse{Event: ws.EventError, Error: "exam belongs to another teacher"})
		return
	}

	performed, err := h.attemptService.Terminate(ctx, examID, msg.StudentID)
	if err != nil {
		wsLog.Error().Err(err).Int("student_id", msg.StudentID).Msg("Terminate failed")
		write(ws.ErrorResponse{Event: ws.EventError, Error: "terminate failed"})
		return
	}
	if !performed {
		write(ws.ErrorResponse{Event: ws.EventError, Error: "attempt is already finished"})
		return
	}

	h.proctorRegistry.Remove(examID, msg.StudentID)
	h.hub.Terminate(examID, msg.StudentID, reason)
	write(ws.AutosaveResponse{Event: ws.EventSuccess, Status: "terminated"})
}
