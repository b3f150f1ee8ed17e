package server

import (
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/triagehub/compat-backend/internal/handlers"
	"github.com/triagehub/compat-backend/internal/middleware"
	"github.com/triagehub/compat-backend/internal/utils"
)

type RouterConfig struct {
	AuthMiddleware    *middleware.AuthMiddleware
	RunHandler        *handlers.RunHandler
	SubmissionHandler *handlers.SubmissionHandler
	ReportHandler     *handlers.ReportHandler
	AnalysisHandler   *handlers.AnalysisHandler
	SSEHandler        *handlers.SSEHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("compat-backend"))

	origins := strings.Split(utils.GetEnv("CORS_ALLOW_ORIGINS", "http://localhost:3000,http://localhost:5173"), ",")
	router.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}))

	router.GET("/healthcheck", handlers.HealthCheck)

	api := router.Group("/api")
	api.Use(cfg.AuthMiddleware.RequireAuth())
	{
		api.POST("/runs", cfg.RunHandler.Upload)

		api.GET("/submissions", cfg.SubmissionHandler.List)
		api.GET("/submissions/:id", cfg.SubmissionHandler.Get)
		api.DELETE("/submissions/:id", cfg.SubmissionHandler.Delete)
		api.GET("/submissions/:id/report", cfg.ReportHandler.Get)
		api.POST("/submissions/:id/analyze", cfg.AnalysisHandler.Enqueue)

		api.GET("/jobs/:id", cfg.AnalysisHandler.GetJob)

		api.GET("/sse/stream", cfg.SSEHandler.Stream)
	}

	return router
}
