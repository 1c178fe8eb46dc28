package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/invigilo/invigilo-backend/internal/config"
	"github.com/invigilo/invigilo-backend/internal/model"
	"github.com/invigilo/invigilo-backend/internal/repository"
	"github.com/invigilo/invigilo-backend/internal/shuffle"
)

// Attempt lifecycle errors.
var (
	ErrExamNotAvailable = errors.New("exam is not available for joining")
	ErrAttemptFinished  = errors.New("attempt is already in a terminal state")
)

// AttemptService handles attempt lifecycle business logic. The shuffle
// layout is rolled exactly once, at attempt creation, and persisted as
// attempt metadata; every resume replays the stored layout.
type AttemptService struct {
	attemptRepo  *repository.AttemptRepository
	examRepo     *repository.ExamRepository
	questionRepo *repository.QuestionRepository
	rdb          *redis.Client
	log          zerolog.Logger
}

// NewAttemptService creates a new AttemptService.
func NewAttemptService(
	attemptRepo *repository.AttemptRepository,
	examRepo *repository.ExamRepository,
	questionRepo *repository.QuestionRepository,
	rdb *redis.Client,
	log zerolog.Logger,
) *AttemptService {
	return &AttemptService{
		attemptRepo:  attemptRepo,
		examRepo:     examRepo,
		questionRepo: questionRepo,
		rdb:          rdb,
		log:          log.With().Str("component", "attempt_service").Logger(),
	}
}

// StartedAttempt bundles the attempt with its arranged question view.
type StartedAttempt struct {
	Attempt   *model.Attempt   `json:"attempt"`
	Questions []model.Question `json:"questions"`
	Resumed   bool             `json:"resumed"`
}

// Start creates or resumes the student's attempt. A concurrent double
// start resolves to the first writer's row; the loser re-fetches and
// resumes. The returned questions are arranged per the attempt's stored
// layout, with correct answers stripped.
func (s *AttemptService) Start(ctx context.Context, examID uuid.UUID, studentID int) (*StartedAttempt, error) {
	exam, err := s.examRepo.GetByID(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("get exam: %w", err)
	}
	if exam.Status != model.ExamStatusPublished && exam.Status != model.ExamStatusOngoing {
		return nil, ErrExamNotAvailable
	}

	questions, err := s.studentQuestions(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}

	existing, err := s.attemptRepo.GetByExamAndStudent(ctx, examID, studentID)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("check existing attempt: %w", err)
	}
	if existing != nil {
		return s.resume(ctx, existing, questions)
	}

	layout := shuffle.Plan(
		rand.New(rand.NewSource(time.Now().UnixNano())),
		questions,
		exam.Settings.ShuffleQuestions,
		exam.Settings.ShuffleOptions,
	)
	metadata, err := json.Marshal(layout)
	if err != nil {
		return nil, fmt.Errorf("encode layout: %w", err)
	}

	attempt := &model.Attempt{
		ExamID:    examID,
		StudentID: studentID,
		Status:    model.AttemptStatusInProgress,
	}
	if err := s.attemptRepo.Create(ctx, attempt, metadata); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Lost the creation race; the winner's layout is the attempt's.
			winner, fetchErr := s.attemptRepo.GetByExamAndStudent(ctx, examID, studentID)
			if fetchErr != nil {
				return nil, fmt.Errorf("concurrent start detected, fetch failed: %w", fetchErr)
			}
			return s.resume(ctx, winner, questions)
		}
		return nil, fmt.Errorf("create attempt: %w", err)
	}

	s.cacheStart(ctx, attempt)

	return &StartedAttempt{
		Attempt:   attempt,
		Questions: stripAnswers(layout.Arrange(questions)),
	}, nil
}

// resume replays a stored layout. Missing or invalid metadata falls back
// to the unshuffled source order rather than re-rolling.
func (s *AttemptService) resume(ctx context.Context, attempt *model.Attempt, questions []model.Question) (*StartedAttempt, error) {
	layout := s.layoutFor(attempt, questions)
	s.cacheStart(ctx, attempt)
	return &StartedAttempt{
		Attempt:   attempt,
		Questions: stripAnswers(layout.Arrange(questions)),
		Resumed:   true,
	}, nil
}

func (s *AttemptService) layoutFor(attempt *model.Attempt, questions []model.Question) shuffle.Layout {
	var layout shuffle.Layout
	if len(attempt.Metadata) == 0 || json.Unmarshal(attempt.Metadata, &layout) != nil || !layout.Valid(questions) {
		s.log.Warn().
			Str("attempt_id", attempt.ID.String()).
			Msg("Attempt layout missing or invalid, falling back to source order")
		return shuffle.Identity(questions)
	}
	return layout
}

// cacheStart mirrors the attempt start time into Redis so state reloads
// skip the database. Failure is tolerated; State self-heals from the DB.
func (s *AttemptService) cacheStart(ctx context.Context, attempt *model.Attempt) {
	key := config.CacheKey.AttemptStartKey(attempt.ExamID.String(), attempt.StudentID)
	if err := s.rdb.Set(ctx, key, attempt.StartedAt.Unix(), 0).Err(); err != nil {
		s.log.Warn().Err(err).Msg("Failed to cache attempt start time")
	}
}

// studentQuestions loads the student-facing question set, preferring the
// payload cache warmed at publication. The cached copy already has
// grading fields blanked; the submit path always reads the database.
func (s *AttemptService) studentQuestions(ctx context.Context, examID uuid.UUID) ([]model.Question, error) {
	raw, err := s.rdb.Get(ctx, config.CacheKey.ExamPayloadKey(examID.String())).Bytes()
	if err == nil {
		var questions []model.Question
		if json.Unmarshal(raw, &questions) == nil && len(questions) > 0 {
			return questions, nil
		}
	}
	return s.questionRepo.ListByExam(ctx, examID)
}

// State returns what the client needs to restore itself after a reload:
// autosaved answers and remaining time. Nothing here re-rolls the layout.
func (s *AttemptService) State(ctx context.Context, examID uuid.UUID, studentID int) (*model.AttemptState, error) {
	answers, err := s.rdb.HGetAll(ctx, config.CacheKey.StudentAnswersKey(examID.String(), studentID)).Result()
	if err != nil {
		return nil, fmt.Errorf("get autosaved answers: %w", err)
	}

	exam, err := s.examRepo.GetByID(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("get exam: %w", err)
	}

	attempt, err := s.attemptRepo.GetByExamAndStudent(ctx, examID, studentID)
	if err != nil {
		return nil, fmt.Errorf("get attempt: %w", err)
	}

	var startUnix int64
	startKey := config.CacheKey.AttemptStartKey(examID.String(), studentID)
	val, err := s.rdb.Get(ctx, startKey).Result()
	switch {
	case errors.Is(err, redis.Nil):
		// Cache miss; the attempt row is the source of truth. Self-heal
		// the cache for the next reload.
		startUnix = attempt.StartedAt.Unix()
		_ = s.rdb.Set(ctx, startKey, startUnix, 0)
	case err != nil:
		return nil, fmt.Errorf("get start time: %w", err)
	default:
		startUnix, err = strconv.ParseInt(val, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid start time in cache: %w", err)
		}
	}

	endTime := time.Unix(startUnix, 0).Add(time.Duration(exam.DurationMinutes) * time.Minute)
	remaining := time.Until(endTime)
	if remaining < 0 {
		remaining = 0
	}

	return &model.AttemptState{
		ExamID:           examID,
		StudentID:        studentID,
		Status:           attempt.Status,
		AutosavedAnswers: answers,
		RemainingTime:    remaining.Seconds(),
	}, nil
}

// Autosave stores one answer in the attempt's Redis hash and enqueues it
// for durable persistence. Answers are keyed by question ID; MCQ values
// are the SHOWN option index as a decimal string.
func (s *AttemptService) Autosave(ctx context.Context, examID uuid.UUID, studentID int, questionID uuid.UUID, answer string) error {
	key := config.CacheKey.StudentAnswersKey(examID.String(), studentID)
	if err := s.rdb.HSet(ctx, key, questionID.String(), answer).Err(); err != nil {
		return fmt.Errorf("autosave answer: %w", err)
	}

	payload, _ := json.Marshal(map[string]interface{}{
		"exam_id":     examID.String(),
		"student_id":  studentID,
		"question_id": questionID.String(),
		"answer":      answer,
		"timestamp":   time.Now().Unix(),
	})
	if err := s.rdb.RPush(ctx, config.WorkerKey.PersistAnswersQueue, payload).Err(); err != nil {
		// The hash still holds the answer; the submit path scores from it.
		s.log.Warn().Err(err).Msg("Failed to enqueue answer for persistence")
	}
	return nil
}

// Submit finalizes the attempt with a score computed from autosaved
// answers. Idempotent: only the call that actually transitions
// IN_PROGRESS → SUBMITTED scores and reports performed=true; repeats and
// post-termination calls are no-ops.
func (s *AttemptService) Submit(ctx context.Context, examID uuid.UUID, studentID int) (performed bool, score float64, err error) {
	attempt, err := s.attemptRepo.GetByExamAndStudent(ctx, examID, studentID)
	if err != nil {
		return false, 0, fmt.Errorf("get attempt: %w", err)
	}
	if attempt.Status != model.AttemptStatusInProgress {
		return false, 0, nil
	}

	questions, err := s.questionRepo.ListByExam(ctx, examID)
	if err != nil {
		return false, 0, fmt.Errorf("list questions: %w", err)
	}
	answers, err := s.rdb.HGetAll(ctx, config.CacheKey.StudentAnswersKey(examID.String(), studentID)).Result()
	if err != nil {
		return false, 0, fmt.Errorf("get answers: %w", err)
	}

	layout := s.layoutFor(attempt, questions)
	score = scoreAttempt(questions, answers, layout)

	performed, err = s.attemptRepo.Submit(ctx, examID, studentID, score)
	if err != nil {
		return false, 0, fmt.Errorf("submit attempt: %w", err)
	}
	if performed {
		s.log.Info().
			Str("exam_id", examID.String()).
			Int("student_id", studentID).
			Float64("score", score).
			Msg("Attempt submitted")
	}
	return performed, score, nil
}

// Terminate finalizes the attempt as TERMINATED with score zero.
// Idempotent the same way Submit is.
func (s *AttemptService) Terminate(ctx context.Context, examID uuid.UUID, studentID int) (bool, error) {
	performed, err := s.attemptRepo.Terminate(ctx, examID, studentID)
	if err != nil {
		return false, fmt.Errorf("terminate attempt: %w", err)
	}
	if performed {
		s.log.Warn().
			Str("exam_id", examID.String()).
			Int("student_id", studentID).
			Msg("Attempt terminated")
	}
	return performed, nil
}

// Attempt returns the student's attempt row for an exam.
func (s *AttemptService) Attempt(ctx context.Context, examID uuid.UUID, studentID int) (*model.Attempt, error) {
	return s.attemptRepo.GetByExamAndStudent(ctx, examID, studentID)
}

// ListByExam returns an exam's attempts for the teacher review surface.
func (s *AttemptService) ListByExam(ctx context.Context, examID uuid.UUID) ([]model.Attempt, error) {
	return s.attemptRepo.ListByExam(ctx, examID)
}

// scoreAttempt grades MCQ answers by mapping the shown option index back
// through the layout to the source index. Short-answer questions are not
// auto-graded. The score is the percentage of gradable points earned.
func scoreAttempt(questions []model.Question, answers map[string]string, layout shuffle.Layout) float64 {
	total := 0
	earned := 0
	for _, q := range questions {
		if q.Type != model.QuestionTypeMCQ {
			continue
		}
		total += q.Points

		raw, ok := answers[q.ID.String()]
		if !ok {
			continue
		}
		shown, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			continue
		}
		if layout.OriginalOptionIndex(q.ID, shown) == q.CorrectOption {
			earned += q.Points
		}
	}
	if total == 0 {
		return 0
	}
	return float64(earned) / float64(total) * 100
}

// stripAnswers blanks grading fields before questions leave the server.
func stripAnswers(questions []model.Question) []model.Question {
	out := make([]model.Question, len(questions))
	for i, q := range questions {
		q.CorrectOption = -1
		out[i] = q
	}
	return out
}
