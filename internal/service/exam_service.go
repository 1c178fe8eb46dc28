package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/invigilo/invigilo-backend/internal/config"
	"github.com/invigilo/invigilo-backend/internal/model"
	"github.com/invigilo/invigilo-backend/internal/repository"
)

// ErrNotExamOwner is returned when a teacher touches someone else's exam.
var ErrNotExamOwner = errors.New("exam belongs to another teacher")

// ExamService handles exam authoring and publication.
type ExamService struct {
	examRepo     *repository.ExamRepository
	questionRepo *repository.QuestionRepository
	rdb          *redis.Client
}

// NewExamService creates a new ExamService.
func NewExamService(examRepo *repository.ExamRepository, questionRepo *repository.QuestionRepository, rdb *redis.Client) *ExamService {
	return &ExamService{examRepo: examRepo, questionRepo: questionRepo, rdb: rdb}
}

// Create stores a new draft exam for the teacher.
func (s *ExamService) Create(ctx context.Context, teacherID int, req *model.CreateExamRequest) (*model.Exam, error) {
	exam := &model.Exam{
		Title:           req.Title,
		Description:     req.Description,
		TeacherID:       teacherID,
		DurationMinutes: req.DurationMinutes,
		Settings:        req.Settings,
	}
	if err := s.examRepo.Create(ctx, exam); err != nil {
		return nil, fmt.Errorf("create exam: %w", err)
	}
	exam.Status = model.ExamStatusDraft
	return exam, nil
}

// Get returns one exam.
func (s *ExamService) Get(ctx context.Context, examID uuid.UUID) (*model.Exam, error) {
	return s.examRepo.GetByID(ctx, examID)
}

// ListByTeacher returns the teacher's exams.
func (s *ExamService) ListByTeacher(ctx context.Context, teacherID int) ([]model.Exam, error) {
	return s.examRepo.ListByTeacher(ctx, teacherID)
}

// AddQuestion appends a question to an owned exam.
func (s *ExamService) AddQuestion(ctx context.Context, teacherID int, examID uuid.UUID, req *model.AddQuestionRequest) (*model.Question, error) {
	exam, err := s.examRepo.GetByID(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("get exam: %w", err)
	}
	if exam.TeacherID != teacherID {
		return nil, ErrNotExamOwner
	}

	q := &model.Question{
		ExamID:        examID,
		Text:          req.Text,
		Type:          model.QuestionType(req.Type),
		Options:       req.Options,
		CorrectOption: req.CorrectOption,
		Points:        req.Points,
		OrderNum:      req.OrderNum,
	}
	if q.Type == model.QuestionTypeMCQ {
		opts := q.OptionList()
		if len(opts) < 2 {
			return nil, errors.New("MCQ questions need at least two options")
		}
		if req.CorrectOption >= len(opts) {
			return nil, errors.New("correct_option is out of range")
		}
	}
	if err := s.questionRepo.Create(ctx, q); err != nil {
		return nil, fmt.Errorf("create question: %w", err)
	}

	// Any cached student-facing payload is now stale.
	_ = s.rdb.Del(ctx, config.CacheKey.ExamPayloadKey(examID.String())).Err()

	return q, nil
}

// Questions returns an exam's questions in source order, for the teacher
// authoring view. Grading fields are kept.
func (s *ExamService) Questions(ctx context.Context, examID uuid.UUID) ([]model.Question, error) {
	return s.questionRepo.ListByExam(ctx, examID)
}

// SetStatus moves an owned exam to a new publication status. Publishing
// requires at least one question.
func (s *ExamService) SetStatus(ctx context.Context, teacherID int, examID uuid.UUID, status model.ExamStatus) error {
	exam, err := s.examRepo.GetByID(ctx, examID)
	if err != nil {
		return fmt.Errorf("get exam: %w", err)
	}
	if exam.TeacherID != teacherID {
		return ErrNotExamOwner
	}
	if status == model.ExamStatusPublished {
		n, err := s.questionRepo.CountByExam(ctx, examID)
		if err != nil {
			return fmt.Errorf("count questions: %w", err)
		}
		if n == 0 {
			return errors.New("cannot publish an exam with no questions")
		}
	}
	if err := s.examRepo.UpdateStatus(ctx, examID, status); err != nil {
		return fmt.Errorf("update status: %w", err)
	}

	if status == model.ExamStatusPublished || status == model.ExamStatusOngoing {
		s.warmPayloadCache(ctx, examID)
	}
	return nil
}

// warmPayloadCache precomputes the student-facing question payload so
// exam start does not hammer the database. Best effort.
func (s *ExamService) warmPayloadCache(ctx context.Context, examID uuid.UUID) {
	questions, err := s.questionRepo.ListByExam(ctx, examID)
	if err != nil {
		return
	}
	for i := range questions {
		questions[i].CorrectOption = -1
	}
	payload, err := json.Marshal(questions)
	if err != nil {
		return
	}
	_ = s.rdb.Set(ctx, config.CacheKey.ExamPayloadKey(examID.String()), payload, 0).Err()
}
