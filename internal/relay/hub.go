package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/invigilo/invigilo-backend/internal/model"
	"github.com/invigilo/invigilo-backend/internal/presence"
)

// Hub fans monitoring traffic out across three scopes: the global
// teacher group, per-exam groups, and per-student private groups. Every
// operation runs to completion on one internal loop before the next is
// processed, so the presence registry and room maps need no locking.
//
// The hub is single-process by design; presence does not survive a
// restart and is not shared across instances.
type Hub struct {
	registry *presence.Registry

	inactivityThreshold time.Duration
	sweepInterval       time.Duration

	teachers     map[*Session]bool
	examRooms    map[uuid.UUID]map[*Session]bool
	studentRooms map[string]map[*Session]bool

	ops    chan func()
	closed chan struct{}

	log zerolog.Logger
}

// Config tunes the hub's inactivity sweeper.
type Config struct {
	InactivityThreshold time.Duration
	SweepInterval       time.Duration
}

// NewHub creates a hub around an injected presence registry.
func NewHub(registry *presence.Registry, cfg Config, log zerolog.Logger) *Hub {
	if cfg.InactivityThreshold <= 0 {
		cfg.InactivityThreshold = 30 * time.Second
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 10 * time.Second
	}
	return &Hub{
		registry:            registry,
		inactivityThreshold: cfg.InactivityThreshold,
		sweepInterval:       cfg.SweepInterval,
		teachers:            make(map[*Session]bool),
		examRooms:           make(map[uuid.UUID]map[*Session]bool),
		studentRooms:        make(map[string]map[*Session]bool),
		ops:                 make(chan func()),
		closed:              make(chan struct{}),
		log:                 log.With().Str("component", "relay_hub").Logger(),
	}
}

// Run processes hub operations until the context is cancelled. It also
// owns the periodic inactivity sweep.
func (h *Hub) Run(ctx context.Context) {
	h.log.Info().
		Dur("sweep_interval", h.sweepInterval).
		Dur("inactivity_threshold", h.inactivityThreshold).
		Msg("Relay hub started")

	ticker := time.NewTicker(h.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			close(h.closed)
			h.log.Info().Msg("Relay hub stopped")
			return
		case op := <-h.ops:
			op()
		case <-ticker.C:
			h.sweep(time.Now())
		}
	}
}

// do runs fn on the hub loop and waits for it to complete, preserving
// the handle-to-completion ordering guarantee for callers.
func (h *Hub) do(fn func()) {
	done := make(chan struct{})
	select {
	case h.ops <- func() { fn(); close(done) }:
		<-done
	case <-h.closed:
	}
}

// JoinTeacher subscribes a session to the global teacher group and,
// when examID is non-nil, to that exam's group. The session immediately
// receives a snapshot of currently active students in its scope.
func (h *Hub) JoinTeacher(s *Session, examID uuid.UUID) {
	h.do(func() {
		s.examID = examID
		h.teachers[s] = true
		if examID != uuid.Nil {
			h.joinExamRoom(s, examID)
		}
		h.deliver(s, Envelope{Event: EventActiveStudents, Data: h.registry.Snapshot(examID)})
	})
}

// JoinStudent subscribes a session to its exam group and private group,
// refreshes presence, and notifies teachers with a join notice plus a
// refreshed snapshot.
func (h *Hub) JoinStudent(s *Session, examID uuid.UUID, studentID int, at time.Time) {
	h.do(func() {
		s.examID = examID
		s.studentID = studentID
		h.joinExamRoom(s, examID)

		k := studentKey(examID, studentID)
		room, ok := h.studentRooms[k]
		if !ok {
			room = make(map[*Session]bool)
			h.studentRooms[k] = room
		}
		room[s] = true

		h.registry.Touch(examID, studentID, at)
		h.broadcastTeachers(Envelope{Event: EventStudentJoined, Data: presenceNotice(examID, studentID, at)})
		h.broadcastTeachers(Envelope{Event: EventActiveStudents, Data: h.registry.Snapshot(examID)})
	})
}

// Leave removes the session from all rooms. For a student session it
// also removes the presence record and, if one existed, notifies
// teachers. Used for both explicit leave and socket disconnect.
func (h *Hub) Leave(s *Session) {
	h.do(func() { h.remove(s, true) })
}

// Relay fans a monitoring event out to the global teacher group and the
// event's exam group, refreshes the student's presence timestamp, and
// appends violations to the in-memory history ring.
func (h *Hub) Relay(event model.MonitoringEvent) {
	h.do(func() {
		p := event.Payload
		if p.ExamID != uuid.Nil && p.StudentID != 0 && p.Timestamp != 0 {
			// Presence only refreshes while the student holds a live
			// session; late events from a terminated socket must not
			// resurrect a record the hub just removed.
			if len(h.studentRooms[studentKey(p.ExamID, p.StudentID)]) > 0 {
				h.registry.Touch(p.ExamID, p.StudentID, event.Time())
				if event.Type == model.EventTypeViolation {
					h.registry.AppendViolation(p.ExamID, p.StudentID, event)
				}
			}
		}

		env := Envelope{Event: EventMonitoring, Data: event}
		h.broadcastTeachers(env)
		h.broadcastExam(p.ExamID, env)
	})
}

// SendMessage delivers a direct message to one student's private group.
// At-most-once: no persistence, no acknowledgement.
func (h *Hub) SendMessage(examID uuid.UUID, studentID int, text string) {
	h.do(func() {
		h.broadcastStudent(examID, studentID, Envelope{
			Event: EventTeacherMessage,
			Data: map[string]interface{}{
				"message":   text,
				"timestamp": time.Now().UnixMilli(),
			},
		})
	})
}

// Terminate is the teacher-initiated forced removal: the student's
// private group gets a one-time exam-terminated notice carrying the
// reason, presence is removed, teachers get a left notice plus a
// refreshed snapshot, and the student's sessions are closed. Durable
// attempt-state changes happen in the service layer before this is
// called.
func (h *Hub) Terminate(examID uuid.UUID, studentID int, reason string) {
	h.do(func() {
		h.broadcastStudent(examID, studentID, Envelope{
			Event: EventExamTerminated,
			Data: map[string]interface{}{
				"reason":    reason,
				"timestamp": time.Now().UnixMilli(),
			},
		})

		if h.registry.Remove(examID, studentID) {
			now := time.Now()
			h.broadcastTeachers(Envelope{Event: EventStudentLeft, Data: presenceNotice(examID, studentID, now)})
			h.broadcastTeachers(Envelope{Event: EventActiveStudents, Data: h.registry.Snapshot(examID)})
		}

		// Close the student's own sessions after the notice is queued;
		// the handler tears the socket down when its channel closes, so
		// a non-compliant client cannot keep relaying activity.
		for s := range h.studentRooms[studentKey(examID, studentID)] {
			h.remove(s, false)
		}

		h.log.Info().
			Str("exam_id", examID.String()).
			Int("student_id", studentID).
			Str("reason", reason).
			Msg("Teacher terminated attempt")
	})
}

// ActiveStudents returns a snapshot without joining, for HTTP surfaces.
func (h *Hub) ActiveStudents(examID uuid.UUID) []presence.Entry {
	var out []presence.Entry
	h.do(func() { out = h.registry.Snapshot(examID) })
	return out
}

// ─── loop-internal helpers (must only run on the hub loop) ──────────

// sweep reports — never removes — students whose presence is stale.
func (h *Hub) sweep(now time.Time) {
	cutoff := now.Add(-h.inactivityThreshold)
	for _, e := range h.registry.InactiveSince(cutoff) {
		h.broadcastTeachers(Envelope{Event: EventStudentInactive, Data: presenceNotice(e.ExamID, e.StudentID, now)})
	}
}

func (h *Hub) joinExamRoom(s *Session, examID uuid.UUID) {
	room, ok := h.examRooms[examID]
	if !ok {
		room = make(map[*Session]bool)
		h.examRooms[examID] = room
	}
	room[s] = true
}

// remove drops the session from every room and closes its channel. When
// notify is set and a student presence record was actually removed,
// teachers are told.
func (h *Hub) remove(s *Session, notify bool) {
	if _, ok := h.teachers[s]; !ok {
		if s.examID == uuid.Nil && s.studentID == 0 {
			// Session never joined anything; just close it.
			h.closeSession(s)
			return
		}
	}

	delete(h.teachers, s)
	if room, ok := h.examRooms[s.examID]; ok {
		delete(room, s)
		if len(room) == 0 {
			delete(h.examRooms, s.examID)
		}
	}

	if s.role == model.RoleStudent {
		k := studentKey(s.examID, s.studentID)
		if room, ok := h.studentRooms[k]; ok {
			delete(room, s)
			if len(room) == 0 {
				delete(h.studentRooms, k)
			}
		}

		if h.registry.Remove(s.examID, s.studentID) && notify {
			now := time.Now()
			h.broadcastTeachers(Envelope{Event: EventStudentLeft, Data: presenceNotice(s.examID, s.studentID, now)})
			h.broadcastTeachers(Envelope{Event: EventActiveStudents, Data: h.registry.Snapshot(s.examID)})
		}
	}

	h.closeSession(s)
}

func (h *Hub) closeSession(s *Session) {
	if s.send != nil {
		close(s.send)
		s.send = nil
	}
}

func (h *Hub) broadcastTeachers(env Envelope) {
	for s := range h.teachers {
		h.deliver(s, env)
	}
}

func (h *Hub) broadcastExam(examID uuid.UUID, env Envelope) {
	for s := range h.examRooms[examID] {
		h.deliver(s, env)
	}
}

func (h *Hub) broadcastStudent(examID uuid.UUID, studentID int, env Envelope) {
	for s := range h.studentRooms[studentKey(examID, studentID)] {
		h.deliver(s, env)
	}
}

// deliver enqueues without blocking; a session that cannot keep up is
// removed rather than allowed to stall the loop.
func (h *Hub) deliver(s *Session, env Envelope) {
	if s.send == nil {
		return
	}
	select {
	case s.send <- env:
	default:
		h.log.Warn().Str("role", string(s.role)).Msg("Dropping slow monitoring session")
		h.remove(s, false)
	}
}

func studentKey(examID uuid.UUID, studentID int) string {
	return fmt.Sprintf("%s:%d", examID, studentID)
}

func presenceNotice(examID uuid.UUID, studentID int, at time.Time) map[string]interface{} {
	return map[string]interface{}{
		"student_id": studentID,
		"exam_id":    examID.String(),
		"timestamp":  at.UnixMilli(),
	}
}
