package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/sma-pkl-api/api/swagger"
	"github.com/noah-isme/sma-pkl-api/internal/handler"
	"github.com/noah-isme/sma-pkl-api/internal/middleware"
	"github.com/noah-isme/sma-pkl-api/internal/models"
	"github.com/noah-isme/sma-pkl-api/internal/repository"
	"github.com/noah-isme/sma-pkl-api/internal/service"
	"github.com/noah-isme/sma-pkl-api/pkg/cache"
	"github.com/noah-isme/sma-pkl-api/pkg/config"
	"github.com/noah-isme/sma-pkl-api/pkg/database"
	"github.com/noah-isme/sma-pkl-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/sma-pkl-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/sma-pkl-api/pkg/middleware/requestid"
)

// @title SMA PKL API
// @version 1.0.0
// @description Internship placement lifecycle, audit trail and temporal field history
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect database", zap.Error(err))
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		if err := database.RunMigrations(db.DB, logr); err != nil {
			logr.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	redisClient, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		logr.Warn("redis unavailable, timeline cache disabled", zap.Error(err))
		redisClient = nil
	}

	metricsSvc := service.NewMetricsService()

	var cacheRepo service.CacheRepository
	if redisClient != nil {
		defer redisClient.Close()
		cacheRepo = repository.NewCacheRepository(redis.UniversalClient(redisClient), cache.KeyPrefix, logr)
	}
	cacheEnabled := cacheRepo != nil && cfg.Internships.EnableTimelineCache
	cacheSvc := service.NewCacheService(cacheRepo, metricsSvc, cfg.Internships.TimelineCacheTTL, logr, cacheEnabled)

	tokens := service.NewTokenService(service.TokenConfig{Secret: cfg.JWT.Secret, Issuer: cfg.JWT.Issuer})
	validate := validator.New()
	tx := database.NewTransactor(db)
	systemActor := models.SystemActor(cfg.Internships.SystemActorID, cfg.Internships.SystemActorName)

	studentRepo := repository.NewStudentRepository(db)
	teacherRepo := repository.NewTeacherRepository(db)
	companyRepo := repository.NewCompanyRepository(db)
	yearRepo := repository.NewEducationYearRepository(db)
	internshipRepo := repository.NewInternshipRepository(db)
	historyRepo := repository.NewInternshipHistoryRepository(db)
	fieldRepo := repository.NewFieldHistoryRepository(db)
	entityRepo := repository.NewTrackedEntityRepository(db)
	enrollmentRepo := repository.NewEnrollmentRepository(db)

	audit := service.NewAuditTrail(historyRepo, systemActor, cfg.Internships.HistoryPageLimit, logr)
	timelineSvc := service.NewTimelineService(studentRepo, audit, fieldRepo, cacheSvc, cfg.Internships.TimelineCacheTTL, logr)
	fieldSvc := service.NewFieldHistoryService(tx, fieldRepo, entityRepo, validate, logr, service.FieldHistoryConfig{
		SystemActor:     systemActor,
		ConflictRetries: cfg.Internships.ConflictRetries,
		PageLimit:       cfg.Internships.HistoryPageLimit,
	}, service.WithFieldHistoryMetrics(metricsSvc), service.WithFieldHistoryCache(timelineSvc))
	rules := service.NewAssignmentRuleEngine(studentRepo, teacherRepo, companyRepo, internshipRepo, cfg.Internships.StrictFieldMatch, metricsSvc, logr)
	internshipSvc := service.NewInternshipService(service.InternshipDeps{
		Tx:          tx,
		Internships: internshipRepo,
		Students:    studentRepo,
		Companies:   companyRepo,
		Years:       yearRepo,
		Rules:       rules,
		Audit:       audit,
		Fields:      fieldSvc,
	}, validate, logr, service.InternshipConfig{
		SystemActor:                systemActor,
		ConflictRetries:            cfg.Internships.ConflictRetries,
		AllowCompletedReactivation: cfg.Internships.AllowCompletedReactivation,
	}, service.WithInternshipMetrics(metricsSvc), service.WithInternshipCache(timelineSvc))
	enrollmentSvc := service.NewEnrollmentService(tx, enrollmentRepo, studentRepo, yearRepo, fieldSvc, validate, logr, service.EnrollmentConfig{
		SystemActor:     systemActor,
		ConflictRetries: cfg.Internships.ConflictRetries,
	}, service.WithEnrollmentMetrics(metricsSvc), service.WithEnrollmentCache(timelineSvc))

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	metricsHandler := handler.NewMetricsHandler(metricsSvc, db)
	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)
	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	registerRoutes(r.Group(cfg.APIPrefix), tokens, routeHandlers{
		internships: handler.NewInternshipHandler(internshipSvc),
		enrollments: handler.NewEnrollmentHandler(enrollmentSvc),
		fields:      handler.NewFieldHistoryHandler(fieldSvc),
		timeline:    handler.NewTimelineHandler(timelineSvc),
	})

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		logr.Info("server starting", zap.String("addr", addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
}
