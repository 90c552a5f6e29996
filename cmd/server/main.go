package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/campusmart/marketplace-backend/internal/cache"
	"github.com/campusmart/marketplace-backend/internal/config"
	"github.com/campusmart/marketplace-backend/internal/database"
	"github.com/campusmart/marketplace-backend/internal/events"
	"github.com/campusmart/marketplace-backend/internal/handlers"
	"github.com/campusmart/marketplace-backend/internal/middleware"
	"github.com/campusmart/marketplace-backend/internal/services"
	"github.com/campusmart/marketplace-backend/pkg/jwt"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

var (
	version   = "1.0.0"
	buildTime = "unknown"
)

func main() {
	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	logger.Info("Starting CampusMart marketplace backend")
	logger.Infof("Version: %s, Build Time: %s", version, buildTime)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	logLevel, err := logrus.ParseLevel(cfg.Server.LogLevel)
	if err != nil {
		logger.Warn("Invalid log level, using INFO")
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	// Database
	logger.Info("Connecting to database...")
	db, err := database.NewConnection(cfg.Database)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	logger.Info("Database connection established")

	if cfg.Database.AutoMigrate {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := database.Migrate(ctx, db.DB)
		cancel()
		if err != nil {
			logger.Fatalf("Failed to apply schema: %v", err)
		}
		logger.Info("Schema applied")
	}

	listingRepo := database.NewListingRepository(db.DB)
	requestRepo := database.NewBookingRequestRepository(db.DB)

	// Optional Redis submit guard
	var guard cache.SubmitGuard = cache.NoopGuard{}
	if cfg.Redis.Addr != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		redisClient, err := cache.NewRedisClient(ctx, cfg.Redis)
		cancel()
		if err != nil {
			logger.WithError(err).Warn("Redis unavailable, submit guard disabled")
		} else {
			defer redisClient.Close()
			guard = cache.NewRedisSubmitGuard(redisClient, cfg.Redis.GuardTTL, logger)
			logger.WithField("addr", cfg.Redis.Addr).Info("Redis submit guard enabled")
		}
	}

	// Optional Kafka lifecycle events
	var publisher events.Publisher = events.NoopPublisher{}
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaPublisher, err := events.NewKafkaPublisher(cfg.Kafka, logger)
		if err != nil {
			logger.WithError(err).Warn("Kafka publisher disabled")
		} else {
			publisher = kafkaPublisher
			logger.WithFields(logrus.Fields{"brokers": cfg.Kafka.Brokers, "topic": cfg.Kafka.Topic}).Info("Kafka lifecycle events enabled")
		}
	}
	defer publisher.Close()

	// Services
	logger.Info("Initializing services...")
	jwtService := jwt.NewService(cfg.JWT.Secret, cfg.JWT.AccessTokenExpiry, cfg.JWT.Issuer)
	bookingService := services.NewBookingService(
		listingRepo,
		requestRepo,
		services.NewPayloadValidator(cfg.Booking),
		guard,
		publisher,
		logger,
	)
	sweeper := services.NewExpirySweeper(
		listingRepo,
		requestRepo,
		publisher,
		logger,
		cfg.Sweeper.RequestRetention,
		cfg.Sweeper.BatchSize,
	)

	cronService := services.NewCronService(sweeper, cfg.Sweeper.Schedule, logger)
	if cfg.Sweeper.Enabled {
		if err := cronService.Start(); err != nil {
			logger.Fatalf("Failed to start cron service: %v", err)
		}
	} else {
		logger.Warn("Expiry sweeper disabled; run it from the admin endpoint")
	}

	bookingHandler := handlers.NewBookingHandler(bookingService, logger)
	adminHandler := handlers.NewAdminHandler(cronService, logger)

	// Router
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(logger))
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORS.AllowedOrigins,
		AllowMethods:     cfg.CORS.AllowedMethods,
		AllowHeaders:     cfg.CORS.AllowedHeaders,
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	healthCheck := handlers.HealthCheck(db, version)
	router.GET("/health", healthCheck)

	v1 := router.Group("/api/v1")
	{
		v1.GET("/health", healthCheck)

		protected := v1.Group("")
		protected.Use(middleware.AuthMiddleware(jwtService, logger))
		bookingHandler.RegisterRoutes(protected)

		admin := v1.Group("/admin")
		admin.Use(middleware.AuthMiddleware(jwtService, logger))
		admin.Use(middleware.RequireRole(jwt.RoleAdmin))
		{
			admin.POST("/sweeper/run", adminHandler.RunSweeper)
			admin.GET("/sweeper/status", adminHandler.SweeperStatus)
		}
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 3 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Infof("Server starting on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	if cfg.Sweeper.Enabled {
		cronService.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	}

	logger.Info("Server exited successfully")
}
