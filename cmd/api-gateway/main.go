package main

import (
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/class-enroll-api/api/swagger"
	"github.com/noah-isme/class-enroll-api/internal/handler"
	"github.com/noah-isme/class-enroll-api/internal/middleware"
	"github.com/noah-isme/class-enroll-api/internal/models"
	"github.com/noah-isme/class-enroll-api/internal/repository"
	"github.com/noah-isme/class-enroll-api/internal/service"
	"github.com/noah-isme/class-enroll-api/pkg/cache"
	"github.com/noah-isme/class-enroll-api/pkg/config"
	"github.com/noah-isme/class-enroll-api/pkg/database"
	appErrors "github.com/noah-isme/class-enroll-api/pkg/errors"
	"github.com/noah-isme/class-enroll-api/pkg/export"
	"github.com/noah-isme/class-enroll-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/class-enroll-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/class-enroll-api/pkg/middleware/requestid"
	"github.com/noah-isme/class-enroll-api/pkg/response"
)

// @title Class Enrollment API
// @version 1.0.0
// @description Classes, enrollments and roster exports
// @BasePath /api
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

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		// Counts fall back to direct queries when redis is unreachable.
		logr.Warn("redis unavailable, participant count cache disabled", zap.Error(err))
		redisClient = nil
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	userRepo := repository.NewUserRepository(db)
	classRepo := repository.NewClassRepository(db)
	enrollmentRepo := repository.NewEnrollmentRepository(db)
	countClient := redisClient
	if !cfg.Counts.Enabled {
		countClient = nil
	}
	counts := repository.NewCacheRepository(countClient, logr)

	metricsSvc := service.NewMetricsService()
	authSvc := service.NewAuthService(userRepo, nil, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "class-enroll-api",
	})
	userSvc := service.NewUserService(userRepo, logr)
	enrollmentSvc := service.NewEnrollmentService(enrollmentRepo, userRepo, classRepo, counts, cfg.Counts.TTL, metricsSvc, nil, logr)
	classSvc := service.NewClassService(classRepo, userRepo, enrollmentSvc, enrollmentRepo, nil, logr)

	authHandler := handler.NewAuthHandler(authSvc)
	userHandler := handler.NewUserHandler(userSvc)
	classHandler := handler.NewClassHandler(classSvc, export.NewCSVExporter(), export.NewPDFExporter())
	enrollmentHandler := handler.NewEnrollmentHandler(enrollmentSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))
	r.NoRoute(func(c *gin.Context) {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "route not found"))
	})

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Scrape)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	auth.POST("/login", authHandler.Login)
	auth.POST("/refresh", authHandler.Refresh)
	auth.GET("/me", middleware.JWT(authSvc), userHandler.Me)

	api.GET("/users/search", middleware.JWT(authSvc), userHandler.Search)
	api.GET("/instructors", middleware.JWT(authSvc), userHandler.Instructors)

	classes := api.Group("/classes", middleware.JWT(authSvc))
	classes.GET("", classHandler.List)
	classes.GET("/:id", classHandler.Get)
	classes.GET("/:id/roster", middleware.RequireStaff(), classHandler.Roster)
	classes.POST("", middleware.RequireStaff(), middleware.Audit(userRepo, models.AuditActionCreate, "class"), classHandler.Create)
	classes.PUT("/:id", middleware.RequireStaff(), middleware.Audit(userRepo, models.AuditActionUpdate, "class"), classHandler.Update)
	classes.PATCH("/:id", middleware.RequireStaff(), middleware.Audit(userRepo, models.AuditActionUpdate, "class"), classHandler.Patch)
	classes.DELETE("/:id", middleware.RequireStaff(), middleware.Audit(userRepo, models.AuditActionDelete, "class"), classHandler.Delete)

	enrollments := api.Group("/enrollments", middleware.JWT(authSvc))
	enrollments.GET("", enrollmentHandler.List)
	enrollments.POST("", middleware.Audit(userRepo, models.AuditActionCreate, "enrollment"), enrollmentHandler.Create)
	enrollments.DELETE("/by-class/:classId", middleware.Audit(userRepo, models.AuditActionDelete, "enrollment"), enrollmentHandler.CancelBySelf)
	enrollments.DELETE("/by-class/:classId/student/:studentId", middleware.RequireStaff(), middleware.Audit(userRepo, models.AuditActionDelete, "enrollment"), enrollmentHandler.CancelByStudent)

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env, "prefix", cfg.APIPrefix)
	if err := r.Run(addr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}
