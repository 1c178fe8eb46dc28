package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/invigilo/invigilo-backend/internal/model"
)

// DashboardRepository aggregates per-teacher summary queries.
type DashboardRepository struct {
	pool *pgxpool.Pool
}

// NewDashboardRepository creates a new DashboardRepository.
func NewDashboardRepository(pool *pgxpool.Pool) *DashboardRepository {
	return &DashboardRepository{pool: pool}
}

// SummaryCounts returns the teacher's exam, question, and attempt totals
// in one round trip.
func (r *DashboardRepository) SummaryCounts(ctx context.Context, teacherID int) (exams, questions, attempts, active int, err error) {
	query := `
		SELECT
			(SELECT COUNT(*) FROM exams WHERE teacher_id = $1),
			(SELECT COUNT(*) FROM questions q JOIN exams e ON e.id = q.exam_id WHERE e.teacher_id = $1),
			(SELECT COUNT(*) FROM attempts a JOIN exams e ON e.id = a.exam_id WHERE e.teacher_id = $1),
			(SELECT COUNT(*) FROM attempts a JOIN exams e ON e.id = a.exam_id
				WHERE e.teacher_id = $1 AND a.status = 'IN_PROGRESS')
	`
	if err = r.pool.QueryRow(ctx, query, teacherID).Scan(&exams, &questions, &attempts, &active); err != nil {
		return 0, 0, 0, 0, fmt.Errorf("summary counts: %w", err)
	}
	return exams, questions, attempts, active, nil
}

// ExamStatusCounts returns how many of the teacher's exams sit in each
// publication state.
func (r *DashboardRepository) ExamStatusCounts(ctx context.Context, teacherID int) (map[model.ExamStatus]int, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT status, COUNT(*) FROM exams WHERE teacher_id = $1 GROUP BY status`,
		teacherID,
	)
	if err != nil {
		return nil, fmt.Errorf("exam status counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[model.ExamStatus]int)
	for rows.Next() {
		var status model.ExamStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// TerminatedAttempt is one row of the recent-terminations dashboard list.
type TerminatedAttempt struct {
	ExamID      uuid.UUID `json:"exam_id"`
	ExamTitle   string    `json:"exam_title"`
	StudentID   int       `json:"student_id"`
	StudentName string    `json:"student_name"`
	FinishedAt  time.Time `json:"finished_at"`
}

// RecentTerminations lists the teacher's most recently terminated
// attempts, newest first.
func (r *DashboardRepository) RecentTerminations(ctx context.Context, teacherID, limit int) ([]TerminatedAttempt, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT a.exam_id, e.title, a.student_id, u.name, a.finished_at
		FROM attempts a
		JOIN exams e ON e.id = a.exam_id
		JOIN users u ON u.id = a.student_id
		WHERE e.teacher_id = $1 AND a.status = 'TERMINATED' AND a.finished_at IS NOT NULL
		ORDER BY a.finished_at DESC
		LIMIT $2
	`, teacherID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent terminations: %w", err)
	}
	defer rows.Close()

	var out []TerminatedAttempt
	for rows.Next() {
		var t TerminatedAttempt
		if err := rows.Scan(&t.ExamID, &t.ExamTitle, &t.StudentID, &t.StudentName, &t.FinishedAt); err != nil {
			return nil, fmt.Errorf("scan termination: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
