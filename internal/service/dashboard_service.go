package service

import (
	"context"

	"github.com/invigilo/invigilo-backend/internal/model"
	"github.com/invigilo/invigilo-backend/internal/repository"
)

// DashboardData consolidates the metrics for a teacher's dashboard.
type DashboardData struct {
	TotalExams         int                            `json:"total_exams"`
	TotalQuestions     int                            `json:"total_questions"`
	TotalAttempts      int                            `json:"total_attempts"`
	ActiveAttempts     int                            `json:"active_attempts"`
	ExamStatusCounts   map[model.ExamStatus]int       `json:"exam_status_counts"`
	RecentTerminations []repository.TerminatedAttempt `json:"recent_terminations"`
}

// DashboardService handles teacher dashboard business logic.
type DashboardService struct {
	repo *repository.DashboardRepository
}

// NewDashboardService creates a new DashboardService.
func NewDashboardService(repo *repository.DashboardRepository) *DashboardService {
	return &DashboardService{repo: repo}
}

// GetDashboardData fetches all dashboard metrics for one teacher.
func (s *DashboardService) GetDashboardData(ctx context.Context, teacherID int) (*DashboardData, error) {
	exams, questions, attempts, active, err := s.repo.SummaryCounts(ctx, teacherID)
	if err != nil {
		return nil, err
	}

	statusCounts, err := s.repo.ExamStatusCounts(ctx, teacherID)
	if err != nil {
		return nil, err
	}

	terminations, err := s.repo.RecentTerminations(ctx, teacherID, 5)
	if err != nil {
		return nil, err
	}

	return &DashboardData{
		TotalExams:         exams,
		TotalQuestions:     questions,
		TotalAttempts:      attempts,
		ActiveAttempts:     active,
		ExamStatusCounts:   statusCounts,
		RecentTerminations: terminations,
	}, nil
}
