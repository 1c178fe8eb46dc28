package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AttemptStatus enumerates attempt lifecycle states. The only legal
// transitions are IN_PROGRESS → SUBMITTED and IN_PROGRESS → TERMINATED;
// both are irreversible.
type AttemptStatus string

const (
	AttemptStatusInProgress AttemptStatus = "IN_PROGRESS"
	AttemptStatusSubmitted  AttemptStatus = "SUBMITTED"
	AttemptStatusTerminated AttemptStatus = "TERMINATED"
)

// Attempt represents a student's single try at an exam. At most one
// attempt exists per (exam, student).
type Attempt struct {
	ID         uuid.UUID       `json:"id"`
	ExamID     uuid.UUID       `json:"exam_id"`
	StudentID  int             `json:"student_id"`
	Status     AttemptStatus   `json:"status"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
	FinalScore *float64        `json:"final_score,omitempty"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
}

// AttemptState is returned to the client on reload so it can restore
// autosaved answers and the remaining time without re-rolling anything.
type AttemptState struct {
	ExamID           uuid.UUID         `json:"exam_id"`
	StudentID        int               `json:"student_id"`
	Status           AttemptStatus     `json:"status"`
	AutosavedAnswers map[string]string `json:"autosaved_answers"`
	RemainingTime    float64           `json:"remaining_time_seconds"`
}
