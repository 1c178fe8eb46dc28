package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/invigilo/invigilo-backend/internal/config"
	"github.com/invigilo/invigilo-backend/internal/database"
	"github.com/invigilo/invigilo-backend/internal/logger"
	"github.com/invigilo/invigilo-backend/internal/model"
	"github.com/invigilo/invigilo-backend/internal/repository"
	"golang.org/x/crypto/bcrypt"
)

// Seeds a demo teacher, 20 students, and one published exam with a few
// MCQ questions. All demo passwords are "password123".
func main() {
	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	userRepo := repository.NewUserRepository(pool)
	examRepo := repository.NewExamRepository(pool)
	questionRepo := repository.NewQuestionRepository(pool)

	hash, err := bcrypt.GenerateFromPassword([]byte("password123"), cfg.BcryptCost)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to hash demo password")
	}

	fmt.Println("=== Seeding Demo Data ===")

	teacher := &model.User{
		Name:         "Demo Teacher",
		Email:        "teacher@demo.invigilo.dev",
		PasswordHash: string(hash),
		Role:         model.RoleTeacher,
	}
	if err := userRepo.Create(ctx, teacher); err != nil {
		log.Fatal().Err(err).Msg("Failed to create demo teacher")
	}
	fmt.Printf("Created teacher ID %d (%s)\n", teacher.ID, teacher.Email)

	for i := 1; i <= 20; i++ {
		student := &model.User{
			Name:         fmt.Sprintf("Demo Student %02d", i),
			Email:        fmt.Sprintf("student%02d@demo.invigilo.dev", i),
			PasswordHash: string(hash),
			Role:         model.RoleStudent,
		}
		if err := userRepo.Create(ctx, student); err != nil {
			log.Fatal().Err(err).Int("n", i).Msg("Failed to create demo student")
		}
	}
	fmt.Println("Created 20 students")

	exam := &model.Exam{
		Title:           "Demo Proctored Exam",
		Description:     "Seeded exam for trying out live monitoring.",
		TeacherID:       teacher.ID,
		DurationMinutes: 30,
		Settings: model.SecuritySettings{
			ShuffleQuestions:    true,
			ShuffleOptions:      true,
			PreventTabSwitching: true,
			RequireWebcam:       true,
			EnableFullscreen:    true,
		},
	}
	if err := examRepo.Create(ctx, exam); err != nil {
		log.Fatal().Err(err).Msg("Failed to create demo exam")
	}
	fmt.Printf("Created exam %s\n", exam.ID)

	questions := []struct {
		text    string
		options []string
		correct int
	}{
		{"Which layer of the OSI model does TCP operate at?", []string{"Network", "Transport", "Session", "Data link"}, 1},
		{"What does SQL stand for?", []string{"Structured Query Language", "Simple Query Logic", "Sequential Question List", "System Quality Level"}, 0},
		{"Which data structure is FIFO?", []string{"Stack", "Tree", "Queue", "Heap"}, 2},
		{"What is the time complexity of binary search?", []string{"O(n)", "O(n log n)", "O(1)", "O(log n)"}, 3},
		{"Which HTTP status code means Not Found?", []string{"404", "500", "301", "200"}, 0},
	}
	for i, q := range questions {
		opts, _ := json.Marshal(q.options)
		question := &model.Question{
			ExamID:        exam.ID,
			Text:          q.text,
			Type:          model.QuestionTypeMCQ,
			Options:       opts,
			CorrectOption: q.correct,
			Points:        10,
			OrderNum:      i + 1,
		}
		if err := questionRepo.Create(ctx, question); err != nil {
			log.Fatal().Err(err).Int("n", i+1).Msg("Failed to create demo question")
		}
	}
	fmt.Printf("Created %d questions\n", len(questions))

	if err := examRepo.UpdateStatus(ctx, exam.ID, model.ExamStatusPublished); err != nil {
		log.Fatal().Err(err).Msg("Failed to publish demo exam")
	}
	fmt.Println("Exam published. Done.")
}
