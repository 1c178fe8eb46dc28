package relay

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/invigilo/invigilo-backend/internal/model"
	"github.com/invigilo/invigilo-backend/internal/presence"
)

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	// A long sweep interval keeps the periodic sweep out of the way;
	// tests drive sweeps explicitly through the hub loop.
	h := NewHub(presence.NewRegistry(), Config{
		InactivityThreshold: 30 * time.Second,
		SweepInterval:       time.Hour,
	}, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go h.Run(ctx)
	return h
}

func recv(t *testing.T, s *Session) Envelope {
	t.Helper()
	select {
	case env, ok := <-s.Out():
		if !ok {
			t.Fatal("session channel closed while expecting an envelope")
		}
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for envelope")
	}
	return Envelope{}
}

func recvEvent(t *testing.T, s *Session, event string) Envelope {
	t.Helper()
	for i := 0; i < 10; i++ {
		env := recv(t, s)
		if env.Event == event {
			return env
		}
	}
	t.Fatalf("never received %q", event)
	return Envelope{}
}

func TestJoinTeacherReceivesSnapshot(t *testing.T) {
	h := newTestHub(t)
	examID := uuid.New()

	student := NewSession(model.RoleStudent)
	h.JoinStudent(student, examID, 1, time.Now())

	teacher := NewSession(model.RoleTeacher)
	h.JoinTeacher(teacher, uuid.Nil)

	env := recv(t, teacher)
	if env.Event != EventActiveStudents {
		t.Fatalf("first envelope = %q, want %q", env.Event, EventActiveStudents)
	}
	entries, ok := env.Data.([]presence.Entry)
	if !ok {
		t.Fatalf("snapshot data type %T", env.Data)
	}
	if len(entries) != 1 || entries[0].StudentID != 1 {
		t.Fatalf("snapshot = %+v, want the one active student", entries)
	}
}

func TestStudentJoinAndLeaveNotices(t *testing.T) {
	h := newTestHub(t)
	examID := uuid.New()

	teacher := NewSession(model.RoleTeacher)
	h.JoinTeacher(teacher, examID)
	recvEvent(t, teacher, EventActiveStudents) // empty initial snapshot

	student := NewSession(model.RoleStudent)
	h.JoinStudent(student, examID, 7, time.Now())

	if env := recv(t, teacher); env.Event != EventStudentJoined {
		t.Fatalf("after join got %q, want %q", env.Event, EventStudentJoined)
	}
	if env := recv(t, teacher); env.Event != EventActiveStudents {
		t.Fatalf("join not followed by a snapshot, got %q", env.Event)
	}

	h.Leave(student)

	if env := recv(t, teacher); env.Event != EventStudentLeft {
		t.Fatalf("after leave got %q, want %q", env.Event, EventStudentLeft)
	}
	recvEvent(t, teacher, EventActiveStudents)
	if got := h.ActiveStudents(examID); len(got) != 0 {
		t.Fatalf("presence survived leave: %+v", got)
	}
}

func TestSweepReportsWithoutRemoving(t *testing.T) {
	h := newTestHub(t)
	examID := uuid.New()

	student := NewSession(model.RoleStudent)
	h.JoinStudent(student, examID, 3, time.Now().Add(-time.Minute))

	teacher := NewSession(model.RoleTeacher)
	h.JoinTeacher(teacher, uuid.Nil)
	recvEvent(t, teacher, EventActiveStudents)

	h.do(func() { h.sweep(time.Now()) })

	env := recvEvent(t, teacher, EventStudentInactive)
	notice, ok := env.Data.(map[string]interface{})
	if !ok || notice["student_id"] != 3 {
		t.Fatalf("inactive notice = %+v", env.Data)
	}
	// The sweep reports; it never evicts.
	if got := h.ActiveStudents(examID); len(got) != 1 {
		t.Fatalf("sweep removed presence: %+v", got)
	}

	// Repeat sweeps keep reporting until the student acts again.
	h.do(func() { h.sweep(time.Now()) })
	recvEvent(t, teacher, EventStudentInactive)
}

func TestTerminateDeliversReasonAndRemovesPresence(t *testing.T) {
	h := newTestHub(t)
	examID := uuid.New()

	student := NewSession(model.RoleStudent)
	h.JoinStudent(student, examID, 5, time.Now())

	teacher := NewSession(model.RoleTeacher)
	h.JoinTeacher(teacher, examID)
	recvEvent(t, teacher, EventActiveStudents)

	h.Terminate(examID, 5, "Terminated by the teacher")

	env := recvEvent(t, student, EventExamTerminated)
	data, ok := env.Data.(map[string]interface{})
	if !ok || data["reason"] != "Terminated by the teacher" {
		t.Fatalf("termination notice = %+v", env.Data)
	}

	if env := recv(t, teacher); env.Event != EventStudentLeft {
		t.Fatalf("teachers got %q after terminate, want %q", env.Event, EventStudentLeft)
	}
	if got := h.ActiveStudents(examID); len(got) != 0 {
		t.Fatalf("presence survived termination: %+v", got)
	}

	// A second terminate for the same student is a no-op for teachers.
	h.Terminate(examID, 5, "again")
	select {
	case env := <-teacher.Out():
		if env.Event == EventStudentLeft {
			t.Fatal("duplicate terminate produced a second left notice")
		}
	default:
	}
}

func TestTerminateClosesStudentSessions(t *testing.T) {
	h := newTestHub(t)
	examID := uuid.New()

	student := NewSession(model.RoleStudent)
	out := student.Out()
	h.JoinStudent(student, examID, 8, time.Now())

	h.Terminate(examID, 8, "enough")

	// The notice is queued before the close, so the session drains it
	// and then sees its channel closed.
	sawNotice := false
	closed := false
	deadline := time.After(2 * time.Second)
	for !closed {
		select {
		case env, ok := <-out:
			if !ok {
				closed = true
				break
			}
			if env.Event == EventExamTerminated {
				sawNotice = true
			}
		case <-deadline:
			t.Fatal("terminated session was never closed")
		}
	}
	if !sawNotice {
		t.Fatal("termination notice not delivered before the close")
	}

	// A heartbeat from the dead client must not resurrect presence.
	h.Relay(model.MonitoringEvent{
		Type: model.EventTypeHeartbeat,
		Payload: model.EventPayload{
			StudentID: 8,
			ExamID:    examID,
			Timestamp: time.Now().UnixMilli(),
		},
	})
	if got := h.ActiveStudents(examID); len(got) != 0 {
		t.Fatalf("presence resurrected after termination: %+v", got)
	}
}

func TestRelayFansOutAndRecordsViolations(t *testing.T) {
	h := newTestHub(t)
	examID := uuid.New()

	student := NewSession(model.RoleStudent)
	h.JoinStudent(student, examID, 9, time.Now().Add(-time.Minute))

	globalTeacher := NewSession(model.RoleTeacher)
	h.JoinTeacher(globalTeacher, uuid.Nil)
	recvEvent(t, globalTeacher, EventActiveStudents)

	examTeacher := NewSession(model.RoleTeacher)
	h.JoinTeacher(examTeacher, examID)
	recvEvent(t, examTeacher, EventActiveStudents)

	intentional := true
	event := model.MonitoringEvent{
		Type: model.EventTypeViolation,
		Payload: model.EventPayload{
			StudentID:   9,
			ExamID:      examID,
			Timestamp:   time.Now().UnixMilli(),
			Description: "Copy/Paste/Cut attempted",
			Severity:    model.SeverityHigh,
			Intentional: &intentional,
		},
	}
	h.Relay(event)

	// Both scopes see it. The exam-scoped teacher is in the global group
	// AND the exam room, so it receives the event twice.
	recvEvent(t, globalTeacher, EventMonitoring)
	recvEvent(t, examTeacher, EventMonitoring)

	var history []model.MonitoringEvent
	h.do(func() { history = h.registry.Violations(examID, 9) })
	if len(history) != 1 || history[0].Payload.Description != "Copy/Paste/Cut attempted" {
		t.Fatalf("violation history = %+v", history)
	}

	// The relay refreshed the student's presence timestamp.
	snap := h.ActiveStudents(examID)
	if len(snap) != 1 || snap[0].LastActivity != event.Payload.Timestamp {
		t.Fatalf("presence not refreshed by relay: %+v", snap)
	}
}

func TestHeartbeatRelayDoesNotRecordViolation(t *testing.T) {
	h := newTestHub(t)
	examID := uuid.New()

	student := NewSession(model.RoleStudent)
	h.JoinStudent(student, examID, 2, time.Now())

	h.Relay(model.MonitoringEvent{
		Type: model.EventTypeHeartbeat,
		Payload: model.EventPayload{
			StudentID: 2,
			ExamID:    examID,
			Timestamp: time.Now().UnixMilli(),
		},
	})

	var history []model.MonitoringEvent
	h.do(func() { history = h.registry.Violations(examID, 2) })
	if len(history) != 0 {
		t.Fatalf("heartbeat stored as violation: %+v", history)
	}
}

func TestSlowConsumerIsDropped(t *testing.T) {
	h := newTestHub(t)
	examID := uuid.New()

	student := NewSession(model.RoleStudent)
	out := student.Out()
	h.JoinStudent(student, examID, 4, time.Now())

	// Never drain the session; overflow its buffer.
	for i := 0; i < sendBuffer+5; i++ {
		h.SendMessage(examID, 4, "wake up")
	}

	// The hub must have closed the channel after dropping the session.
	closed := false
	deadline := time.After(2 * time.Second)
	for !closed {
		select {
		case _, ok := <-out:
			if !ok {
				closed = true
			}
		case <-deadline:
			t.Fatal("slow session was never dropped")
		}
	}
	if got := h.ActiveStudents(examID); len(got) != 0 {
		t.Fatalf("dropped session left presence behind: %+v", got)
	}
}
