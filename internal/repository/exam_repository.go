package repository

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/invigilo/invigilo-backend/internal/model"
)

// ExamRepository handles exam data access. Security settings are stored
// as JSONB on the exam row.
type ExamRepository struct {
	pool *pgxpool.Pool
}

// NewExamRepository creates a new ExamRepository.
func NewExamRepository(pool *pgxpool.Pool) *ExamRepository {
	return &ExamRepository{pool: pool}
}

// GetByID retrieves one exam.
func (r *ExamRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error) {
	e := &model.Exam{}
	var settings json.RawMessage
	err := r.pool.QueryRow(ctx,
		`SELECT id, title, description, teacher_id, duration_minutes, status, settings, scheduled_start, scheduled_end, created_at
		 FROM exams
		 WHERE id = $1`, id,
	).Scan(&e.ID, &e.Title, &e.Description, &e.TeacherID, &e.DurationMinutes, &e.Status, &settings, &e.ScheduledStart, &e.ScheduledEnd, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	if len(settings) > 0 {
		if err := json.Unmarshal(settings, &e.Settings); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// Create inserts an exam in DRAFT status.
func (r *ExamRepository) Create(ctx context.Context, e *model.Exam) error {
	settings, err := json.Marshal(e.Settings)
	if err != nil {
		return err
	}
	return r.pool.QueryRow(ctx,
		`INSERT INTO exams (title, description, teacher_id, duration_minutes, status, settings)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, created_at`,
		e.Title, e.Description, e.TeacherID, e.DurationMinutes, model.ExamStatusDraft, settings,
	).Scan(&e.ID, &e.CreatedAt)
}

// UpdateStatus moves an exam to a new publication status.
func (r *ExamRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status model.ExamStatus) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE exams SET status = $1 WHERE id = $2`, status, id)
	return err
}

// ListByTeacher returns the exams owned by a teacher, newest first.
func (r *ExamRepository) ListByTeacher(ctx context.Context, teacherID int) ([]model.Exam, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, title, description, teacher_id, duration_minutes, status, settings, scheduled_start, scheduled_end, created_at
		 FROM exams
		 WHERE teacher_id = $1
		 ORDER BY created_at DESC`, teacherID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var exams []model.Exam
	for rows.Next() {
		var e model.Exam
		var settings json.RawMessage
		if err := rows.Scan(&e.ID, &e.Title, &e.Description, &e.TeacherID, &e.DurationMinutes, &e.Status, &settings, &e.ScheduledStart, &e.ScheduledEnd, &e.CreatedAt); err != nil {
			return nil, err
		}
		if len(settings) > 0 {
			if err := json.Unmarshal(settings, &e.Settings); err != nil {
				return nil, err
			}
		}
		exams = append(exams, e)
	}
	return exams, rows.Err()
}
