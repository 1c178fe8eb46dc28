package model

import (
	"time"

	"github.com/google/uuid"
)

// ExamStatus enumerates exam publication states.
type ExamStatus string

const (
	ExamStatusDraft     ExamStatus = "DRAFT"
	ExamStatusPublished ExamStatus = "PUBLISHED"
	ExamStatusOngoing   ExamStatus = "ONGOING"
	ExamStatusCompleted ExamStatus = "COMPLETED"
	ExamStatusArchived  ExamStatus = "ARCHIVED"
)

// SecuritySettings configures proctoring behavior per exam. Stored as
// JSONB alongside the exam row.
type SecuritySettings struct {
	ShuffleQuestions    bool `json:"shuffle_questions"`
	ShuffleOptions      bool `json:"shuffle_options"`
	PreventTabSwitching bool `json:"prevent_tab_switching"`
	RequireWebcam       bool `json:"require_webcam"`
	LockdownBrowser     bool `json:"lockdown_browser"`
	EnableFullscreen    bool `json:"enable_fullscreen"`

	// MaxIntentionalViolations is the per-kind termination threshold.
	// Zero means "use the server default".
	MaxIntentionalViolations int `json:"max_intentional_violations,omitempty"`
}

// Exam represents a proctored exam definition.
type Exam struct {
	ID              uuid.UUID        `json:"id"`
	Title           string           `json:"title"`
	Description     string           `json:"description"`
	TeacherID       int              `json:"teacher_id"`
	DurationMinutes int              `json:"duration_minutes"`
	Status          ExamStatus       `json:"status"`
	Settings        SecuritySettings `json:"settings"`
	ScheduledStart  *time.Time       `json:"scheduled_start,omitempty"`
	ScheduledEnd    *time.Time       `json:"scheduled_end,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
}

// CreateExamRequest is the payload for creating an exam.
type CreateExamRequest struct {
	Title           string           `json:"title" binding:"required,min=1,max=200"`
	Description     string           `json:"description" binding:"max=2000"`
	DurationMinutes int              `json:"duration_minutes" binding:"required,min=1,max=600"`
	Settings        SecuritySettings `json:"settings"`
}
