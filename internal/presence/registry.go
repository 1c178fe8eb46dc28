package presence

import (
	"time"

	"github.com/google/uuid"
	"github.com/invigilo/invigilo-backend/internal/model"
)

// violationRingCap bounds the in-memory violation history per student.
const violationRingCap = 50

// Record is the ephemeral liveness entry for one student on one exam.
type Record struct {
	StudentID    int
	ExamID       uuid.UUID
	LastActivity time.Time
	Violations   []model.MonitoringEvent
}

// Entry is the snapshot form sent to teachers.
type Entry struct {
	StudentID    int       `json:"student_id"`
	ExamID       uuid.UUID `json:"exam_id"`
	LastActivity int64     `json:"last_activity"` // epoch milliseconds
}

// Registry is the authoritative in-memory map of active students. It is
// deliberately not safe for concurrent use: the relay's single event
// loop is the only writer, and all reads happen on that loop too. It
// holds no durable state — a restart loses everything, by design.
type Registry struct {
	// examID → studentID → record
	records map[uuid.UUID]map[int]*Record
}

func NewRegistry() *Registry {
	return &Registry{records: make(map[uuid.UUID]map[int]*Record)}
}

// Touch registers or refreshes a student's activity timestamp.
func (r *Registry) Touch(examID uuid.UUID, studentID int, at time.Time) {
	m, ok := r.records[examID]
	if !ok {
		m = make(map[int]*Record)
		r.records[examID] = m
	}
	rec, ok := m[studentID]
	if !ok {
		rec = &Record{StudentID: studentID, ExamID: examID}
		m[studentID] = rec
	}
	if at.After(rec.LastActivity) {
		rec.LastActivity = at
	}
}

// Remove deletes a student's record. Returns true if a record existed.
// Only explicit leave, disconnect, and teacher termination call this —
// never the inactivity sweep.
func (r *Registry) Remove(examID uuid.UUID, studentID int) bool {
	m, ok := r.records[examID]
	if !ok {
		return false
	}
	if _, ok := m[studentID]; !ok {
		return false
	}
	delete(m, studentID)
	if len(m) == 0 {
		delete(r.records, examID)
	}
	return true
}

// AppendViolation records a violation event in the student's capped ring.
// No-op if the student has no presence record.
func (r *Registry) AppendViolation(examID uuid.UUID, studentID int, event model.MonitoringEvent) {
	m, ok := r.records[examID]
	if !ok {
		return
	}
	rec, ok := m[studentID]
	if !ok {
		return
	}
	rec.Violations = append(rec.Violations, event)
	if len(rec.Violations) > violationRingCap {
		rec.Violations = rec.Violations[len(rec.Violations)-violationRingCap:]
	}
}

// Violations returns the student's recent violation history, or nil.
func (r *Registry) Violations(examID uuid.UUID, studentID int) []model.MonitoringEvent {
	m, ok := r.records[examID]
	if !ok {
		return nil
	}
	rec, ok := m[studentID]
	if !ok {
		return nil
	}
	out := make([]model.MonitoringEvent, len(rec.Violations))
	copy(out, rec.Violations)
	return out
}

// Snapshot lists active students for one exam, or for all exams when
// examID is uuid.Nil.
func (r *Registry) Snapshot(examID uuid.UUID) []Entry {
	var out []Entry
	appendExam := func(id uuid.UUID, m map[int]*Record) {
		for sid, rec := range m {
			out = append(out, Entry{
				StudentID:    sid,
				ExamID:       id,
				LastActivity: rec.LastActivity.UnixMilli(),
			})
		}
	}

	if examID != uuid.Nil {
		if m, ok := r.records[examID]; ok {
			appendExam(examID, m)
		}
		return out
	}
	for id, m := range r.records {
		appendExam(id, m)
	}
	return out
}

// InactiveSince returns entries whose last activity is older than the
// cutoff. Records are reported, never removed.
func (r *Registry) InactiveSince(cutoff time.Time) []Entry {
	var out []Entry
	for id, m := range r.records {
		for sid, rec := range m {
			if rec.LastActivity.Before(cutoff) {
				out = append(out, Entry{
					StudentID:    sid,
					ExamID:       id,
					LastActivity: rec.LastActivity.UnixMilli(),
				})
			}
		}
	}
	return out
}
