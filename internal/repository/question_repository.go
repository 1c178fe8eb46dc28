package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/invigilo/invigilo-backend/internal/model"
)

// QuestionRepository handles question data access.
type QuestionRepository struct {
	pool *pgxpool.Pool
}

// NewQuestionRepository creates a new QuestionRepository.
func NewQuestionRepository(pool *pgxpool.Pool) *QuestionRepository {
	return &QuestionRepository{pool: pool}
}

// ListByExam returns an exam's questions in authoring order. This is the
// source order every shuffle layout permutes.
func (r *QuestionRepository) ListByExam(ctx context.Context, examID uuid.UUID) ([]model.Question, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, exam_id, question_text, question_type, options, correct_option, points, order_num
		 FROM questions
		 WHERE exam_id = $1
		 ORDER BY order_num ASC, id ASC`, examID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var questions []model.Question
	for rows.Next() {
		var q model.Question
		if err := rows.Scan(&q.ID, &q.ExamID, &q.Text, &q.Type, &q.Options, &q.CorrectOption, &q.Points, &q.OrderNum); err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// Create inserts a question.
func (r *QuestionRepository) Create(ctx context.Context, q *model.Question) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO questions (exam_id, question_text, question_type, options, correct_option, points, order_num)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id`,
		q.ExamID, q.Text, q.Type, q.Options, q.CorrectOption, q.Points, q.OrderNum,
	).Scan(&q.ID)
}

// CountByExam returns how many questions an exam has.
func (r *QuestionRepository) CountByExam(ctx context.Context, examID uuid.UUID) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM questions WHERE exam_id = $1`, examID).Scan(&n)
	return n, err
}
