package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/triagehub/compat-backend/internal/analysis"
	"github.com/triagehub/compat-backend/internal/db"
	"github.com/triagehub/compat-backend/internal/handlers"
	"github.com/triagehub/compat-backend/internal/ingestion"
	"github.com/triagehub/compat-backend/internal/logger"
	"github.com/triagehub/compat-backend/internal/middleware"
	"github.com/triagehub/compat-backend/internal/observability"
	"github.com/triagehub/compat-backend/internal/report"
	"github.com/triagehub/compat-backend/internal/repos"
	"github.com/triagehub/compat-backend/internal/server"
	"github.com/triagehub/compat-backend/internal/sse"
	"github.com/triagehub/compat-backend/internal/submission"
	"github.com/triagehub/compat-backend/internal/suite"
	"github.com/triagehub/compat-backend/internal/types"
	"github.com/triagehub/compat-backend/internal/utils"
)

func main() {
	// Logger
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Tracing
	shutdownOtel := observability.InitOTel(context.Background(), log, observability.OtelConfig{
		ServiceName: "compat-backend",
		Environment: utils.GetEnv("APP_ENV", "development"),
		Version:     utils.GetEnv("APP_VERSION", "dev"),
	})
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownOtel(ctx)
	}()

	// Postgres
	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Error("Postgres init failed", "error", err)
		os.Exit(1)
	}
	if err = postgresService.AutoMigrateAll(); err != nil {
		log.Error("Postgres auto migration failed", "error", err)
		os.Exit(1)
	}
	thePG := postgresService.DB()

	// Repos
	log.Info("Setting up Repos from main...")
	submissionRepo := repos.NewSubmissionRepo(thePG, log)
	testRunRepo := repos.NewTestRunRepo(thePG, log)
	testCaseRepo := repos.NewTestCaseRepo(thePG, log)
	suiteCfgRepo := repos.NewSuiteConfigRepo(thePG, log)
	clusterRepo := repos.NewFailureClusterRepo(thePG, log)
	jobRepo := repos.NewAnalysisJobRepo(thePG, log)

	// Suite configs + module categories
	suiteCfg, overrides := loadSuiteConfig(log)
	if err := suiteCfgRepo.Seed(context.Background(), nil, suiteCfg); err != nil {
		log.Error("Failed to seed suite configs", "error", err)
		os.Exit(1)
	}

	// Redis (optional, report cache degrades to recompute-always without it)
	rdb := newRedisClient(log)
	cacheTTL := time.Duration(utils.GetEnvAsInt("REPORT_CACHE_TTL_SECONDS", 600)) * time.Second
	reportCache := report.NewCache(log, rdb, cacheTTL)

	// SSE
	log.Info("Setting up SSE hub now...")
	sseHub := sse.NewHub(log)

	// Services
	log.Info("Setting up Services from main...")
	reportService := report.NewService(thePG, log, submissionRepo, testRunRepo, testCaseRepo, suiteCfgRepo, clusterRepo, reportCache, report.CategoriesWithOverrides(overrides))
	matcher := submission.NewMatcher(thePG, log, submissionRepo, testRunRepo)
	ingestService := ingestion.NewService(thePG, log, submissionRepo, testRunRepo, testCaseRepo, clusterRepo, matcher, reportCache)

	aiClient, err := analysis.NewOpenAIClient(log)
	if err != nil {
		log.Warn("OpenAI client unavailable, analysis jobs will not run", "error", err)
	}
	analysisService := analysis.NewService(thePG, log, submissionRepo, jobRepo, clusterRepo, reportService, aiClient, sseHub, reportCache)
	if aiClient != nil {
		analysis.NewWorker(thePG, log, jobRepo, analysisService).Start(context.Background())
	}

	// Handlers
	log.Info("Setting up handlers from main...")
	runHandler := handlers.NewRunHandler(log, ingestService, sseHub)
	submissionHandler := handlers.NewSubmissionHandler(log, submissionRepo, testRunRepo, ingestService)
	reportHandler := handlers.NewReportHandler(log, reportService)
	analysisHandler := handlers.NewAnalysisHandler(log, analysisService, jobRepo)
	sseHandler := handlers.NewSSEHandler(log, sseHub)

	// Middleware
	log.Info("Setting up middleware from main...")
	authMiddleware := middleware.NewAuthMiddleware(log, utils.GetEnv("JWT_SECRET_KEY", ""))

	// Router
	log.Info("Setting up router from main...")
	router := server.NewRouter(server.RouterConfig{
		AuthMiddleware:    authMiddleware,
		RunHandler:        runHandler,
		SubmissionHandler: submissionHandler,
		ReportHandler:     reportHandler,
		AnalysisHandler:   analysisHandler,
		SSEHandler:        sseHandler,
	})

	port := utils.GetEnv("PORT", "8080")
	fmt.Printf("Server listening on :%s\n", port)
	if err := router.Run(":" + port); err != nil {
		log.Error("Server failed", "error", err)
		os.Exit(1)
	}
}

func loadSuiteConfig(log *logger.Logger) ([]*types.TestSuiteConfig, map[string]string) {
	path := strings.TrimSpace(utils.GetEnv("SUITE_CONFIG_PATH", ""))
	if path == "" {
		return suite.Defaults(), nil
	}
	cfg, err := suite.LoadFile(path)
	if err != nil {
		log.Error("Failed to load suite config file", "path", path, "error", err)
		os.Exit(1)
	}
	log.Info("Loaded suite config file", "path", path, "suites", len(cfg.Suites))
	return cfg.Rows(), cfg.Categories
}

func newRedisClient(log *logger.Logger) *goredis.Client {
	addr := strings.TrimSpace(utils.GetEnv("REDIS_ADDR", ""))
	if addr == "" {
		log.Info("REDIS_ADDR not set, report caching disabled")
		return nil
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		Password:    utils.GetEnv("REDIS_PASSWORD", ""),
		DialTimeout: 5 * time.Second,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Warn("Redis unreachable, report caching disabled", "addr", addr, "error", err)
		_ = rdb.Close()
		return nil
	}
	return rdb
}
