package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/invigilo/invigilo-backend/internal/config"
	"github.com/invigilo/invigilo-backend/internal/handler"
	"github.com/invigilo/invigilo-backend/internal/middleware"
	"github.com/invigilo/invigilo-backend/internal/model"
	"github.com/invigilo/invigilo-backend/internal/response"
	"github.com/invigilo/invigilo-backend/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Auth      *handler.AuthHandler
	Exam      *handler.ExamHandler
	Attempt   *handler.AttemptHandler
	Monitor   *handler.MonitorHandler
	Dashboard *handler.DashboardHandler
	System    *handler.SystemHandler
	WSStudent *handler.WSStudentHandler
	WSTeacher *handler.WSTeacherHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	authService *service.AuthService,
	handlers *Handlers,
	cfg *config.Config,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.Default()

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())

	// Compress JSON payloads; monitoring snapshots get large.
	router.Use(middleware.Brotli())

	// Health check.
	router.GET("/health", func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	})

	// Rate limiter for auth routes (30 requests per minute per IP).
	authLimiter := middleware.NewRateLimiter(30, time.Minute)

	// ─── 1. Auth Group (Public, Rate Limited) ──────────────────────────
	auth := router.Group("/api/v1/auth")
	auth.Use(authLimiter.Middleware())
	{
		auth.POST("/login", handlers.Auth.Login)
		auth.GET("/me", middleware.RequireJWT(authService), handlers.Auth.Me)
		auth.POST("/logout", middleware.RequireJWT(authService), handlers.Auth.Logout)
	}

	// ─── 2. Student Group (JWT + Single Device) ────────────────────────
	studentAPI := router.Group("/api/v1/student")
	studentAPI.Use(middleware.RequireStudentJWT(authService))
	{
		studentAPI.POST("/exams/:exam_id/attempt", handlers.Attempt.Start)
		studentAPI.GET("/exams/:exam_id/attempt/state", handlers.Attempt.State)
		studentAPI.POST("/exams/:exam_id/attempt/answer", handlers.Attempt.Autosave)
		studentAPI.POST("/exams/:exam_id/attempt/submit", handlers.Attempt.Submit)
	}

	// ─── 3. WebSocket Group (token query auth) ─────────────────────────
	ws := router.Group("/ws/v1")
	{
		ws.GET("/student/exams/:exam_id/stream",
			middleware.RequireWSAuth(authService, model.RoleStudent),
			handlers.WSStudent.Stream,
		)
		ws.GET("/teacher/monitor",
			middleware.RequireWSAuth(authService, model.RoleTeacher),
			handlers.WSTeacher.Stream,
		)
	}

	// ─── 4. Teacher Group (JWT) ────────────────────────────────────────
	teacherAPI := router.Group("/api/v1/teacher")
	teacherAPI.Use(middleware.RequireTeacherJWT(authService))
	{
		teacherAPI.GET("/exams", handlers.Exam.List)
		teacherAPI.POST("/exams", handlers.Exam.Create)
		teacherAPI.GET("/exams/:exam_id", handlers.Exam.Get)
		teacherAPI.PATCH("/exams/:exam_id/status", handlers.Exam.SetStatus)
		teacherAPI.GET("/exams/:exam_id/questions", handlers.Exam.Questions)
		teacherAPI.POST("/exams/:exam_id/questions", handlers.Exam.AddQuestion)

		teacherAPI.GET("/exams/:exam_id/attempts", handlers.Attempt.ListByExam)
		teacherAPI.GET("/exams/:exam_id/active-students", handlers.Monitor.ActiveStudents)
		teacherAPI.GET("/exams/:exam_id/events", handlers.Monitor.Events)
		teacherAPI.GET("/exams/:exam_id/violations", handlers.Monitor.ViolationCounts)
		teacherAPI.GET("/attempts/:attempt_id/events", handlers.Monitor.AttemptEvents)

		teacherAPI.GET("/dashboard", handlers.Dashboard.GetDashboardData)
		teacherAPI.GET("/system/metrics", handlers.System.SystemMetricsSSE)
	}

	return router
}
