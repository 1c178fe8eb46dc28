package relay

import (
	"github.com/google/uuid"
	"github.com/invigilo/invigilo-backend/internal/model"
)

// sendBuffer is the per-session outbound queue size. A session that
// cannot drain this many envelopes is considered dead and dropped.
const sendBuffer = 64

// Envelope is one server→client message on the monitoring channel.
type Envelope struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data,omitempty"`
}

// Wire event names, shared with the browser clients.
const (
	EventActiveStudents  = "active-students"
	EventStudentJoined   = "student-joined"
	EventStudentLeft     = "student-left"
	EventStudentInactive = "student-inactive"
	EventMonitoring      = "monitoring-event"
	EventTeacherMessage  = "teacher-message"
	EventExamTerminated  = "exam-terminated"
)

// Session is one connected monitoring client. The hub owns all session
// state transitions (CONNECTED → TEACHER_SUBSCRIBED | STUDENT_ACTIVE →
// REMOVED); the transport handler only drains Out and writes to the
// socket.
type Session struct {
	role      model.Role
	examID    uuid.UUID // uuid.Nil for a teacher with global scope
	studentID int

	send chan Envelope
}

// NewSession creates an unjoined session for a connection.
func NewSession(role model.Role) *Session {
	return &Session{
		role: role,
		send: make(chan Envelope, sendBuffer),
	}
}

// Out is the channel the transport handler drains. It is closed by the
// hub when the session is removed; the handler should then close the
// underlying socket.
func (s *Session) Out() <-chan Envelope {
	return s.send
}

// Role returns the session's role.
func (s *Session) Role() model.Role { return s.role }
