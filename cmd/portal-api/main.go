package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"ridelink/driver-portal/driver-portal-backend/internal/assignment"
	"ridelink/driver-portal/driver-portal-backend/internal/auth"
	"ridelink/driver-portal/driver-portal-backend/internal/config"
	"ridelink/driver-portal/driver-portal-backend/internal/drivers"
	"ridelink/driver-portal/driver-portal-backend/internal/jobs"
	"ridelink/driver-portal/driver-portal-backend/internal/notifications"
	ws "ridelink/driver-portal/driver-portal-backend/internal/notifications/websocket"
	"ridelink/driver-portal/driver-portal-backend/internal/reviewers"
	"ridelink/driver-portal/driver-portal-backend/internal/verification"
	"ridelink/driver-portal/driver-portal-backend/pkg/clock"
	"ridelink/driver-portal/driver-portal-backend/pkg/storage"
)

func main() {
	// Initialize logger
	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	// .env is optional; real deployments set the environment directly
	if err := godotenv.Load(); err != nil {
		logger.Debug("No .env file found, using environment")
	}

	// Load configuration
	cfg, err := config.LoadConfig("config.json")
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	// Connect to database
	db, err := gorm.Open(postgres.Open(cfg.Database.GetDatabaseURL()), &gorm.Config{})
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}

	err = db.AutoMigrate(
		&drivers.Driver{},
		&drivers.DriverDocument{},
		&reviewers.Reviewer{},
		&verification.VerificationRequest{},
		&verification.DocumentAction{},
		&jobs.DelayedJob{},
	)
	if err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clk := clock.New()

	// AWS clients
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		logger.Fatal("Failed to load AWS configuration", zap.Error(err))
	}
	snsClient := sns.NewFromConfig(awsCfg)
	s3Client := storage.NewS3Client(s3.NewFromConfig(awsCfg))

	// Notifications
	wsManager := ws.NewManager()
	notifier := notifications.NewService(snsClient, cfg.AWS.SNSTopicARN, wsManager, logger)

	// Delayed-job queue and worker
	queue := jobs.NewQueue(db, clk)
	worker := jobs.NewWorker(db, clk, logger, jobs.WorkerConfig{
		PollInterval: cfg.Jobs.PollInterval,
		BatchSize:    20,
		MaxAttempts:  cfg.Jobs.MaxAttempts,
		RetryDelay:   cfg.Jobs.RetryDelay,
	})

	// Verification lifecycle
	verificationRepo := verification.NewRepository(db)
	scheduler := verification.NewScheduler(queue, clk, logger)
	verificationService := verification.NewService(
		verificationRepo, scheduler, notifier, clk, cfg.Verification.BufferDuration(), logger)
	worker.Register(verification.JobTypeFinalize, verification.NewFinalizeHandler(verificationService))

	// Assignment
	reviewerRepo := reviewers.NewRepository(db)
	balancer := assignment.NewBalancer(reviewerRepo, verificationRepo, verificationService, logger)
	verificationService.SetAssigner(balancer)

	// Fallback sweeps
	sweeper := verification.NewSweeper(verificationRepo, verificationService, balancer, clk, logger, verification.SweeperConfig{
		ExpiredInterval:     time.Duration(cfg.Verification.ExpiredSweepMinutes) * time.Minute,
		ExpiredFastInterval: time.Duration(cfg.Verification.ExpiredFastSweepMinutes) * time.Minute,
		UnassignedInterval:  time.Duration(cfg.Verification.UnassignedSweepMinutes) * time.Minute,
		BatchSize:           cfg.Verification.SweepBatchSize,
	})

	// Drivers
	driverRepo := drivers.NewPostgresRepository(db)
	driverService := drivers.NewService(driverRepo, s3Client, cfg.AWS.DocumentsBucket,
		func(ctx context.Context, driverID uuid.UUID) {
			verificationService.EnsureExists(ctx, driverID)
		}, logger)

	// Auth
	authService := auth.NewService(reviewerRepo, cfg.Security.JWTSecret)
	authHandler := auth.NewHandler(authService)

	driverHandler := drivers.NewHandler(driverService)
	verificationHandler := verification.NewHandler(verificationService)

	// Setup Router
	router := gin.Default()

	// CORS Middleware
	router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	// Register Routes
	api := router.Group("/api/v1")
	{
		authHandler.RegisterRoutes(api)
		driverHandler.RegisterRoutes(api)

		protected := api.Group("")
		protected.Use(auth.RequireAuth(authService))
		{
			verificationHandler.RegisterRoutes(protected)

			admin := protected.Group("")
			admin.Use(auth.RequireRole(reviewers.RoleAdmin, reviewers.RoleSuperAdmin))
			authHandler.RegisterAdminRoutes(admin)
		}

		// Reviewer in-app alerts. Browsers cannot set headers on websocket
		// upgrades, so the token rides a query parameter.
		api.GET("/ws", func(c *gin.Context) {
			claims, err := authService.ParseToken(c.Query("token"))
			if err != nil {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
				return
			}
			if _, err := wsManager.HandleConnection(c.Writer, c.Request, claims.ReviewerID.String()); err != nil {
				logger.Warn("websocket upgrade failed", zap.Error(err))
			}
		})
	}

	// Health Check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":    "healthy",
			"timestamp": time.Now(),
		})
	})

	// Background workers
	if err := worker.Start(ctx); err != nil {
		logger.Fatal("Failed to start job worker", zap.Error(err))
	}
	if err := sweeper.Start(ctx); err != nil {
		logger.Fatal("Failed to start sweeper", zap.Error(err))
	}

	// Start Server
	srv := &http.Server{
		Addr:         cfg.Server.GetServerAddr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	logger.Info("Server started", zap.String("addr", srv.Addr))

	// Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	cancel()
	sweeper.Stop()
	wsManager.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exiting")
}
