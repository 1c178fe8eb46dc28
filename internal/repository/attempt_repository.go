package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/invigilo/invigilo-backend/internal/model"
)

// AttemptRepository handles attempt data access. Status transitions are
// guarded in SQL so IN_PROGRESS → SUBMITTED/TERMINATED stays monotonic
// even under concurrent triggers.
type AttemptRepository struct {
	pool *pgxpool.Pool
}

// NewAttemptRepository creates a new AttemptRepository.
func NewAttemptRepository(pool *pgxpool.Pool) *AttemptRepository {
	return &AttemptRepository{pool: pool}
}

// GetByExamAndStudent retrieves the attempt for an exam-student pair.
func (r *AttemptRepository) GetByExamAndStudent(ctx context.Context, examID uuid.UUID, studentID int) (*model.Attempt, error) {
	a := &model.Attempt{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, exam_id, student_id, status, started_at, finished_at, final_score, metadata
		 FROM attempts
		 WHERE exam_id = $1 AND student_id = $2`, examID, studentID,
	).Scan(&a.ID, &a.ExamID, &a.StudentID, &a.Status, &a.StartedAt, &a.FinishedAt, &a.FinalScore, &a.Metadata)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Create inserts a new IN_PROGRESS attempt with its immutable shuffle
// metadata. The unique (exam_id, student_id) constraint plus ON CONFLICT
// DO NOTHING makes concurrent creation return pgx.ErrNoRows to exactly
// one loser, which callers resolve by re-fetching.
func (r *AttemptRepository) Create(ctx context.Context, a *model.Attempt, metadata json.RawMessage) error {
	a.Metadata = metadata
	return r.pool.QueryRow(ctx,
		`INSERT INTO attempts (exam_id, student_id, status, metadata)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (exam_id, student_id) DO NOTHING
		 RETURNING id, started_at`,
		a.ExamID, a.StudentID, model.AttemptStatusInProgress, metadata,
	).Scan(&a.ID, &a.StartedAt)
}

// Submit transitions IN_PROGRESS → SUBMITTED with a final score.
// Returns true when this call performed the transition; false means the
// attempt was already in a terminal state (idempotent no-op).
func (r *AttemptRepository) Submit(ctx context.Context, examID uuid.UUID, studentID int, score float64) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE attempts
		 SET status = $1, final_score = $2, finished_at = $3
		 WHERE exam_id = $4 AND student_id = $5 AND status = $6`,
		model.AttemptStatusSubmitted, score, time.Now(), examID, studentID, model.AttemptStatusInProgress)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Terminate transitions IN_PROGRESS → TERMINATED. Terminated attempts
// score zero. Returns true when this call performed the transition.
func (r *AttemptRepository) Terminate(ctx context.Context, examID uuid.UUID, studentID int) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE attempts
		 SET status = $1, final_score = 0, finished_at = $2
		 WHERE exam_id = $3 AND student_id = $4 AND status = $5`,
		model.AttemptStatusTerminated, time.Now(), examID, studentID, model.AttemptStatusInProgress)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ListByExam returns every attempt for an exam, newest first.
func (r *AttemptRepository) ListByExam(ctx context.Context, examID uuid.UUID) ([]model.Attempt, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, exam_id, student_id, status, started_at, finished_at, final_score, metadata
		 FROM attempts
		 WHERE exam_id = $1
		 ORDER BY started_at DESC`, examID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attempts []model.Attempt
	for rows.Next() {
		var a model.Attempt
		if err := rows.Scan(&a.ID, &a.ExamID, &a.StudentID, &a.Status, &a.StartedAt, &a.FinishedAt, &a.FinalScore, &a.Metadata); err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}
