package presence

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/invigilo/invigilo-backend/internal/model"
)

func TestTouchCreatesAndRefreshes(t *testing.T) {
	r := NewRegistry()
	examID := uuid.New()
	base := time.Now()

	r.Touch(examID, 1, base)
	snap := r.Snapshot(examID)
	if len(snap) != 1 {
		t.Fatalf("snapshot has %d entries, want 1", len(snap))
	}
	if snap[0].LastActivity != base.UnixMilli() {
		t.Fatalf("last activity = %d, want %d", snap[0].LastActivity, base.UnixMilli())
	}

	r.Touch(examID, 1, base.Add(time.Minute))
	snap = r.Snapshot(examID)
	if len(snap) != 1 {
		t.Fatalf("refresh duplicated the record: %d entries", len(snap))
	}
	if snap[0].LastActivity != base.Add(time.Minute).UnixMilli() {
		t.Fatal("refresh did not advance last activity")
	}
}

func TestTouchIgnoresStaleTimestamps(t *testing.T) {
	r := NewRegistry()
	examID := uuid.New()
	base := time.Now()

	r.Touch(examID, 1, base)
	r.Touch(examID, 1, base.Add(-time.Minute))

	snap := r.Snapshot(examID)
	if snap[0].LastActivity != base.UnixMilli() {
		t.Fatal("stale timestamp rewound last activity")
	}
}

func TestRemoveReportsExistence(t *testing.T) {
	r := NewRegistry()
	examID := uuid.New()

	if r.Remove(examID, 1) {
		t.Fatal("Remove on missing record returned true")
	}
	r.Touch(examID, 1, time.Now())
	if !r.Remove(examID, 1) {
		t.Fatal("Remove on existing record returned false")
	}
	if r.Remove(examID, 1) {
		t.Fatal("second Remove returned true")
	}
	if len(r.Snapshot(uuid.Nil)) != 0 {
		t.Fatal("record survived removal")
	}
}

func TestSnapshotScoping(t *testing.T) {
	r := NewRegistry()
	examA := uuid.New()
	examB := uuid.New()
	now := time.Now()

	r.Touch(examA, 1, now)
	r.Touch(examA, 2, now)
	r.Touch(examB, 3, now)

	if got := len(r.Snapshot(examA)); got != 2 {
		t.Fatalf("exam A snapshot = %d entries, want 2", got)
	}
	if got := len(r.Snapshot(examB)); got != 1 {
		t.Fatalf("exam B snapshot = %d entries, want 1", got)
	}
	if got := len(r.Snapshot(uuid.Nil)); got != 3 {
		t.Fatalf("global snapshot = %d entries, want 3", got)
	}
	if got := len(r.Snapshot(uuid.New())); got != 0 {
		t.Fatalf("unknown exam snapshot = %d entries, want 0", got)
	}
}

func TestInactiveSinceReportsWithoutRemoving(t *testing.T) {
	r := NewRegistry()
	examID := uuid.New()
	base := time.Now()

	r.Touch(examID, 1, base.Add(-time.Minute))
	r.Touch(examID, 2, base)

	inactive := r.InactiveSince(base.Add(-30 * time.Second))
	if len(inactive) != 1 {
		t.Fatalf("inactive = %d entries, want 1", len(inactive))
	}
	if inactive[0].StudentID != 1 {
		t.Fatalf("inactive student = %d, want 1", inactive[0].StudentID)
	}
	// Reporting must not evict: the quiet student is still present.
	if got := len(r.Snapshot(examID)); got != 2 {
		t.Fatalf("snapshot after sweep = %d entries, want 2", got)
	}
}

func TestViolationRingIsCapped(t *testing.T) {
	r := NewRegistry()
	examID := uuid.New()
	r.Touch(examID, 1, time.Now())

	for i := 0; i < violationRingCap+25; i++ {
		r.AppendViolation(examID, 1, model.MonitoringEvent{
			Payload: model.EventPayload{
				StudentID:   1,
				ExamID:      examID,
				Description: "Right-click detected",
			},
		})
	}

	got := r.Violations(examID, 1)
	if len(got) != violationRingCap {
		t.Fatalf("ring holds %d events, want %d", len(got), violationRingCap)
	}
}

func TestAppendViolationWithoutPresenceIsNoop(t *testing.T) {
	r := NewRegistry()
	examID := uuid.New()

	r.AppendViolation(examID, 1, model.MonitoringEvent{Payload: model.EventPayload{StudentID: 1, ExamID: examID}})
	if r.Violations(examID, 1) != nil {
		t.Fatal("violation stored for a student with no presence record")
	}
}

func TestViolationsReturnsCopy(t *testing.T) {
	r := NewRegistry()
	examID := uuid.New()
	r.Touch(examID, 1, time.Now())
	r.AppendViolation(examID, 1, model.MonitoringEvent{Payload: model.EventPayload{Description: "original"}})

	got := r.Violations(examID, 1)
	got[0].Payload.Description = "mutated"
	if r.Violations(examID, 1)[0].Payload.Description == "mutated" {
		t.Fatal("Violations returned a shared slice")
	}
}
