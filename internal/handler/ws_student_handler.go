package handler

import (
	"context"
	"net/http"
	"strings"
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

// buildUpgrader creates a WebSocket upgrader with origin validation.
// An empty allowedOrigins slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSStudentHandler owns the student's monitoring WebSocket: it feeds raw
// signals into the attempt's termination controller, relays activity to
// teachers, and serves autosave/submit on the same socket.
type WSStudentHandler struct {
	cfg             *config.Config
	hub             *relay.Hub
	proctorRegistry *proctor.Registry
	attemptService  *service.AttemptService
	examService     *service.ExamService
	monitorService  *service.MonitorService
	log             zerolog.Logger
	upgrader        websocket.Upgrader
}

// NewWSStudentHandler creates a new WSStudentHandler.
func NewWSStudentHandler(
	cfg *config.Config,
	hub *relay.Hub,
	proctorRegistry *proctor.Registry,
	attemptService *service.AttemptService,
	examService *service.ExamService,
	monitorService *service.MonitorService,
	log zerolog.Logger,
) *WSStudentHandler {
	return &WSStudentHandler{
		cfg:             cfg,
		hub:             hub,
		proctorRegistry: proctorRegistry,
		attemptService:  attemptService,
		examService:     examService,
		monitorService:  monitorService,
		log:             log.With().Str("component", "ws_student_handler").Logger(),
		upgrader:        buildUpgrader(cfg.AllowedOrigins),
	}
}

// Stream godoc
// WS /ws/v1/student/exams/:exam_id/stream
// Requires an IN_PROGRESS attempt. Every socket a student opens for the
// same attempt shares one registry-held monitor, so counters survive
// reconnects and duplicate tabs.
func (h *WSStudentHandler) Stream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid exam ID"})
		return
	}
	studentID := claims.UserID

	attempt, err := h.attemptService.Attempt(c.Request.Context(), examID, studentID)
	if err != nil || attempt.Status != model.AttemptStatusInProgress {
		c.JSON(http.StatusForbidden, gin.H{"error": "no in-progress attempt for this exam"})
		return
	}

	exam, err := h.examService.Get(c.Request.Context(), examID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "exam not found"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	wsLog := h.log.With().
		Int("student_id", studentID).
		Str("exam_id", examID.String()).
		Logger()

	// Socket writes come from two places (hub envelopes and direct
	// replies); gorilla allows one writer at a time.
	var writeMu sync.Mutex
	write := func(v interface{}) {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = ws.WriteTyped(conn, v)
	}

	monitor := h.proctorRegistry.GetOrCreate(examID, studentID, func() *proctor.Monitor {
		return h.buildMonitor(exam, attempt, wsLog)
	})

	session := relay.NewSession(model.RoleStudent)
	h.hub.JoinStudent(session, examID, studentID, time.Now())

	done := make(chan struct{})
	go func() {
		defer close(done)
		for env := range session.Out() {
			write(env)
		}
		// The hub closed the session (termination or slow-consumer
		// drop). Closing the socket stops the read loop from relaying
		// any further activity.
		conn.Close()
	}()

	wsLog.Info().Msg("Student connected")

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

		at := time.Now()
		if msg.Timestamp > 0 {
			at = time.UnixMilli(msg.Timestamp)
		}

		switch msg.Action {
		case ws.ActionSignal:
			h.handleSignal(monitor, examID, studentID, &msg, at)
		case ws.ActionHeartbeat:
			h.relayEvent(model.EventTypeHeartbeat, examID, studentID, &msg, at)
		case ws.ActionQuestion:
			h.relayEvent(model.EventTypeQuestion, examID, studentID, &msg, at)
		case ws.ActionWebcam:
			h.relayEvent(model.EventTypeWebcam, examID, studentID, &msg, at)
		case ws.ActionAutosave:
			h.handleAutosave(write, examID, studentID, &msg)
		case ws.ActionSubmit:
			h.handleSubmit(write, wsLog, examID, studentID)
		case ws.ActionPing:
			write(ws.PongResponse{Event: ws.EventPong})
		default:
			wsLog.Warn().Str("action", string(msg.Action)).Msg("Unknown action")
			write(ws.ErrorResponse{Event: ws.EventError, Error: "unknown action: " + string(msg.Action)})
		}
	}

	h.hub.Leave(session)
	<-done
	// The monitor stays registered so a reconnect resumes its counters;
	// it is removed only when the attempt reaches a terminal state.
}

// buildMonitor wires a fresh termination controller to the attempt. The
// callbacks run on background contexts: a termination triggered by the
// last message before a disconnect must still land.
func (h *WSStudentHandler) buildMonitor(exam *model.Exam, attempt *model.Attempt, wsLog zerolog.Logger) *proctor.Monitor {
	examID := exam.ID
	studentID := attempt.StudentID

	threshold := exam.Settings.MaxIntentionalViolations
	if threshold <= 0 {
		threshold = h.cfg.MaxIntentionalViolations
	}

	return proctor.NewMonitor(proctor.Config{
		ExamID:    examID,
		StudentID: studentID,
		AttemptID: attempt.ID,
		Threshold: threshold,
		Debounce:  h.cfg.ViolationDebounce,
		Transport: h.monitorService,
		OnTerminate: func(reason string) {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if _, err := h.attemptService.Terminate(ctx, examID, studentID); err != nil {
				wsLog.Error().Err(err).Msg("Failed to terminate attempt")
			}
			h.hub.Terminate(examID, studentID, reason)
			h.proctorRegistry.Remove(examID, studentID)
		},
		Submit: func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			// No-op when termination already finalized the attempt.
			if _, _, err := h.attemptService.Submit(ctx, examID, studentID); err != nil {
				wsLog.Error().Err(err).Msg("Auto-submit failed")
			}
		},
		Logger: wsLog,
	})
}

// handleSignal runs one raw signal through classification and, unless
// debounced, relays the adjudicated violation to teachers.
func (h *WSStudentHandler) handleSignal(monitor *proctor.Monitor, examID uuid.UUID, studentID int, msg *ws.RequestPayload, at time.Time) {
	kind := proctor.InferKind(msg.Description)
	outcome := monitor.Record(context.Background(), kind, msg.Description, at)

	if !outcome.Notify {
		return
	}

	intentional := outcome.Intentional
	h.hub.Relay(model.MonitoringEvent{
		Type: model.EventTypeViolation,
		Payload: model.EventPayload{
			StudentID:   studentID,
			ExamID:      examID,
			Timestamp:   at.UnixMilli(),
			Description: msg.Description,
			Severity:    outcome.Severity,
			Intentional: &intentional,
		},
	})
}

// relayEvent forwards non-violation activity (heartbeat, question
// navigation, webcam state) to the teacher rooms. These refresh presence
// but never touch violation counters.
func (h *WSStudentHandler) relayEvent(eventType model.EventType, examID uuid.UUID, studentID int, msg *ws.RequestPayload, at time.Time) {
	h.hub.Relay(model.MonitoringEvent{
		Type: eventType,
		Payload: model.EventPayload{
			StudentID:     studentID,
			ExamID:        examID,
			Timestamp:     at.UnixMilli(),
			QuestionIndex: msg.QuestionIndex,
			WebcamActive:  msg.WebcamActive,
		},
	})
}

func (h *WSStudentHandler) handleAutosave(write func(interface{}), examID uuid.UUID, studentID int, msg *ws.RequestPayload) {
	if msg.QID == "" || msg.Answer == "" {
		write(ws.ErrorResponse{Event: ws.EventError, Error: "q_id and ans are required"})
		return
	}

	questionID, err := uuid.Parse(msg.QID)
	if err != nil {
		write(ws.ErrorResponse{Event: ws.EventError, Error: "invalid q_id format"})
		return
	}

	if err := h.attemptService.Autosave(context.Background(), examID, studentID, questionID, msg.Answer); err != nil {
		h.log.Error().Err(err).Int("student_id", studentID).Msg("Autosave error")
		write(ws.ErrorResponse{Event: ws.EventError, Error: "save failed"})
		return
	}

	write(ws.AutosaveResponse{Event: ws.EventSuccess, Status: "saved"})
}

func (h *WSStudentHandler) handleSubmit(write func(interface{}), wsLog zerolog.Logger, examID uuid.UUID, studentID int) {
	performed, score, err := h.attemptService.Submit(context.Background(), examID, studentID)
	if err != nil {
		wsLog.Error().Err(err).Msg("Submit error")
		write(ws.ErrorResponse{Event: ws.EventError, Error: "submit failed"})
		return
	}
	if !performed {
		write(ws.ErrorResponse{Event: ws.EventError, Error: "attempt is already finished"})
		return
	}

	h.proctorRegistry.Remove(examID, studentID)
	wsLog.Info().Float64("score", score).Msg("Exam submitted and graded")
	write(ws.GradedResponse{Event: ws.EventGraded, Status: "completed", Score: score})
}
