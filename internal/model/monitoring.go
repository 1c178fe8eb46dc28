package model

import (
	"time"

	"github.com/google/uuid"
)

// EventType enumerates monitoring event kinds on the wire. Matches the
// client event vocabulary one-to-one.
type EventType string

const (
	EventTypeHeartbeat EventType = "heartbeat"
	EventTypeViolation EventType = "violation"
	EventTypeQuestion  EventType = "question"
	EventTypeWebcam    EventType = "webcam"
)

// Severity grades a violation for the teacher view.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// EventPayload is the common monitoring payload. Optional fields are
// populated per event type: heartbeat carries question index and webcam
// state, violation carries description/severity, question carries the
// index, webcam carries the state.
type EventPayload struct {
	StudentID     int       `json:"student_id"`
	ExamID        uuid.UUID `json:"exam_id"`
	Timestamp     int64     `json:"timestamp"` // epoch milliseconds
	QuestionIndex *int      `json:"question_index,omitempty"`
	WebcamActive  *bool     `json:"webcam_active,omitempty"`
	Description   string    `json:"description,omitempty"`
	Severity      Severity  `json:"severity,omitempty"`
	Intentional   *bool     `json:"intentional,omitempty"`
}

// MonitoringEvent is the wire shape relayed between students and teachers.
type MonitoringEvent struct {
	Type    EventType    `json:"type"`
	Payload EventPayload `json:"payload"`
}

// Time converts the epoch-millisecond payload timestamp.
func (e *MonitoringEvent) Time() time.Time {
	return time.UnixMilli(e.Payload.Timestamp)
}

// StoredEvent is the durable, append-only record of a monitoring event.
type StoredEvent struct {
	ID          int64     `json:"id"`
	ExamID      uuid.UUID `json:"exam_id"`
	StudentID   int       `json:"student_id"`
	AttemptID   uuid.UUID `json:"attempt_id"`
	Type        EventType `json:"type"`
	Severity    Severity  `json:"severity"`
	Description string    `json:"description"`
	Intentional bool      `json:"intentional"`
	RecordedAt  time.Time `json:"recorded_at"`
}
