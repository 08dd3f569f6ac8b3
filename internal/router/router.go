package router

import (
	"net/http"
	"time"

	"github.com/edukita/examhall-backend/internal/config"
	"github.com/edukita/examhall-backend/internal/handler"
	"github.com/edukita/examhall-backend/internal/middleware"
	"github.com/edukita/examhall-backend/internal/response"
	"github.com/edukita/examhall-backend/internal/service"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Auth        *handler.AuthHandler
	Submission  *handler.SubmissionHandler
	Invigilator *handler.InvigilatorHandler
	Publish     *handler.PublishHandler
	WS          *handler.WSHandler
	Monitor     *handler.MonitorHandler
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

	// Apply brotli middleware globally.
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
		auth.POST("/student/login", handlers.Auth.StudentLogin)
		auth.POST("/staff/login", handlers.Auth.StaffLogin)

		// Authenticated profile routes
		auth.POST("/student/logout", middleware.RequireStudentJWT(authService), handlers.Auth.StudentLogout)
		auth.GET("/student/me", middleware.RequireStudentJWT(authService), handlers.Auth.GetStudentProfile)
		auth.GET("/staff/me", middleware.RequireStaffJWT(authService), handlers.Auth.GetStaffProfile)
	}

	// ─── 2. Student Group (JWT + Single Device) ────────────────────────
	studentAPI := router.Group("/api/v1/student")
	studentAPI.Use(
		middleware.RequireStudentJWT(authService),
		middleware.CheckSingleDeviceSession(authService),
	)
	{
		studentAPI.POST("/exams/:exam_id/start", handlers.Submission.Start)
		studentAPI.POST("/submissions/:submission_id/begin", handlers.Submission.Begin)
		studentAPI.POST("/submissions/:submission_id/resume", handlers.Submission.Resume)
		studentAPI.PUT("/submissions/:submission_id/answers", handlers.Submission.SubmitAnswer)
		studentAPI.POST("/submissions/:submission_id/submit", handlers.Submission.Finalize)
		studentAPI.GET("/submissions/:submission_id/state", handlers.Submission.State)
		studentAPI.GET("/results", handlers.Publish.GetMyResult)
	}

	// ─── 3. WebSocket Group (Student WS Auth) ──────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireStudentWSAuth(authService))
	{
		ws.GET("/submissions/:submission_id/stream", handlers.WS.SubmissionStream)
	}

	// ─── 4. Staff Group (JWT + Role Checks) ────────────────────────────
	// Fine-grained authorization (school scope, invigilator assignment
	// provenance) lives in the services; the routes only gate by token
	// type and, where noted, by administrative role.
	staffAPI := router.Group("/api/v1/staff")
	staffAPI.Use(middleware.RequireStaffJWT(authService))
	{
		// Live session control
		staffAPI.POST("/submissions/:submission_id/pause", handlers.Invigilator.PauseSubmission)
		staffAPI.POST("/exams/:exam_id/end", handlers.Invigilator.EndExam)
		staffAPI.POST("/exams/:exam_id/adjust-time", handlers.Invigilator.AdjustExamTime)
		staffAPI.POST("/exams/:exam_id/announce", handlers.Invigilator.Announce)
		staffAPI.GET("/exams/:exam_id/monitor", handlers.Monitor.MonitorExamSSE)

		// Invigilator assignment and session resets are administrative.
		staffAPI.POST("/exams/:exam_id/invigilators",
			middleware.RequireAdministrative(),
			handlers.Invigilator.AssignInvigilator,
		)
		staffAPI.POST("/students/:student_id/reset-session",
			middleware.RequireAdministrative(),
			handlers.Auth.ResetStudentSession,
		)

		// Scoring
		staffAPI.POST("/submissions/:submission_id/mark", handlers.Invigilator.MarkSubmission)
		staffAPI.PUT("/submissions/:submission_id/answers/:answer_id/score", handlers.Invigilator.OverrideAnswerScore)

		// Publishing pipeline
		staffAPI.POST("/submissions/:submission_id/publish", handlers.Publish.PostSingle)
		staffAPI.POST("/exams/:exam_id/publish", handlers.Publish.PostBulk)
		staffAPI.GET("/students/:student_id/results", handlers.Publish.GetStudentResult)
	}

	return router
}
