package router

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/stemsi/proctorquiz/internal/config"
	"github.com/stemsi/proctorquiz/internal/handler"
	"github.com/stemsi/proctorquiz/internal/middleware"
	"github.com/stemsi/proctorquiz/internal/response"
	"github.com/stemsi/proctorquiz/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Auth    *handler.AuthHandler
	Quiz    *handler.QuizHandler
	Result  *handler.ResultHandler
	Student *handler.StudentHandler
	Monitor *handler.MonitorHandler
	WS      *handler.WSHandler
	System  *handler.SystemHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	authService *service.AuthService,
	limiter *middleware.RateLimiter,
	handlers *Handlers,
	cfg *config.Config,
	log zerolog.Logger,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.New()
	router.Use(gin.Recovery())

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID", "Content-Disposition", "Retry-After"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	router.Use(response.RequestIDMiddleware())
	router.Use(middleware.RequestLogger(log))
	router.Use(middleware.Brotli())

	router.GET("/health", handlers.System.Health)

	requireTeacher := middleware.RequireTeacherJWT(authService)

	// ─── 1. Auth Group (Public) ────────────────────────────────────────
	auth := router.Group("/api/v1/auth")
	{
		auth.POST("/register", handlers.Auth.Register)
		auth.POST("/login", handlers.Auth.Login)
		auth.GET("/me", requireTeacher, handlers.Auth.Me)
	}

	// ─── 2. Teacher Group (JWT) ────────────────────────────────────────
	quizzes := router.Group("/api/v1/quizzes")
	quizzes.Use(requireTeacher)
	{
		quizzes.GET("", handlers.Quiz.ListQuizzes)
		quizzes.POST("", handlers.Quiz.CreateQuiz)
		quizzes.GET("/:quiz_id", handlers.Quiz.GetQuiz)
		quizzes.PUT("/:quiz_id", handlers.Quiz.UpdateQuiz)
		quizzes.DELETE("/:quiz_id", handlers.Quiz.DeleteQuiz)
		quizzes.POST("/:quiz_id/publish", handlers.Quiz.PublishQuiz)
		quizzes.POST("/:quiz_id/republish", handlers.Quiz.RepublishQuiz)

		quizzes.GET("/:quiz_id/submissions", handlers.Result.ListSubmissions)
		quizzes.GET("/:quiz_id/submissions/csv", handlers.Result.ExportCSV)
		quizzes.GET("/:quiz_id/submissions/xlsx", handlers.Result.ExportXLSX)

		quizzes.GET("/:quiz_id/monitor", handlers.Monitor.MonitorQuizSSE)
	}

	router.GET("/api/v1/system/metrics", requireTeacher, handlers.System.SystemMetricsSSE)

	// ─── 3. Student Group (Public, Rate Limited) ───────────────────────
	student := router.Group("/api/v1/quiz")
	student.Use(limiter.Middleware())
	{
		student.GET("/:link", handlers.Student.GetQuiz)
		student.POST("/:link/submit", handlers.Student.Submit)
		student.POST("/:link/log-violation", handlers.Student.LogViolation)
	}

	// ─── 4. WebSocket Group (Public, Rate Limited) ─────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(limiter.Middleware())
	{
		ws.GET("/quiz/:link/session", handlers.WS.QuizStream)
	}

	return router
}
