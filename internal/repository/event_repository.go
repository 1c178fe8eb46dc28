package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/invigilo/invigilo-backend/internal/model"
)

// EventRepository persists the append-only monitoring event log.
type EventRepository struct {
	pool *pgxpool.Pool
}

// NewEventRepository creates a new EventRepository.
func NewEventRepository(pool *pgxpool.Pool) *EventRepository {
	return &EventRepository{pool: pool}
}

// Insert persists a single monitoring event.
func (r *EventRepository) Insert(ctx context.Context, e *model.StoredEvent) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO monitoring_events (exam_id, student_id, attempt_id, event_type, severity, description, intentional, recorded_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ExamID, e.StudentID, e.AttemptID, e.Type, e.Severity, e.Description, e.Intentional, e.RecordedAt)
	return err
}

// BulkInsert writes a batch of events with CopyFrom. Returns the number
// of rows copied; on error the caller falls back to row-by-row inserts.
func (r *EventRepository) BulkInsert(ctx context.Context, events []model.StoredEvent) (int64, error) {
	rows := make([][]interface{}, len(events))
	for i, e := range events {
		rows[i] = []interface{}{
			e.ExamID, e.StudentID, e.AttemptID, e.Type, e.Severity, e.Description, e.Intentional, e.RecordedAt,
		}
	}
	return r.pool.CopyFrom(ctx,
		pgx.Identifier{"monitoring_events"},
		[]string{"exam_id", "student_id", "attempt_id", "event_type", "severity", "description", "intentional", "recorded_at"},
		pgx.CopyFromRows(rows))
}

// ListByAttempt returns the persisted event history for one attempt,
// oldest first.
func (r *EventRepository) ListByAttempt(ctx context.Context, attemptID uuid.UUID, limit int) ([]model.StoredEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 500
	}
	rows, err := r.pool.Query(ctx,
		`SELECT id, exam_id, student_id, attempt_id, event_type, severity, description, intentional, recorded_at
		 FROM monitoring_events
		 WHERE attempt_id = $1
		 ORDER BY recorded_at ASC
		 LIMIT $2`, attemptID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

// ListByExam returns the persisted event history for an exam, newest
// first, for the teacher review surface.
func (r *EventRepository) ListByExam(ctx context.Context, examID uuid.UUID, limit int) ([]model.StoredEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 500
	}
	rows, err := r.pool.Query(ctx,
		`SELECT id, exam_id, student_id, attempt_id, event_type, severity, description, intentional, recorded_at
		 FROM monitoring_events
		 WHERE exam_id = $1
		 ORDER BY recorded_at DESC
		 LIMIT $2`, examID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

// ViolationCounts aggregates intentional violation totals per student
// for an exam.
func (r *EventRepository) ViolationCounts(ctx context.Context, examID uuid.UUID) (map[int]int, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT student_id, COUNT(*)
		 FROM monitoring_events
		 WHERE exam_id = $1 AND event_type = $2 AND intentional = TRUE
		 GROUP BY student_id`, examID, model.EventTypeViolation)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[int]int)
	for rows.Next() {
		var studentID, n int
		if err := rows.Scan(&studentID, &n); err != nil {
			return nil, err
		}
		counts[studentID] = n
	}
	return counts, rows.Err()
}

func scanEvents(rows pgx.Rows) ([]model.StoredEvent, error) {
	var events []model.StoredEvent
	for rows.Next() {
		var e model.StoredEvent
		if err := rows.Scan(&e.ID, &e.ExamID, &e.StudentID, &e.AttemptID, &e.Type, &e.Severity, &e.Description, &e.Intentional, &e.RecordedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
