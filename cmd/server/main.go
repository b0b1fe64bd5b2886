// Package main runs the calendar bridge HTTP server with WebSocket and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/caltalk/bridge/config"
	"github.com/caltalk/bridge/internal/appointments"
	"github.com/caltalk/bridge/internal/auth"
	"github.com/caltalk/bridge/internal/binding"
	"github.com/caltalk/bridge/internal/files"
	"github.com/caltalk/bridge/internal/middleware"
	"github.com/caltalk/bridge/internal/realtime"
	"github.com/caltalk/bridge/internal/rooms"
	"github.com/caltalk/bridge/internal/settings"
	"github.com/caltalk/bridge/internal/talk"
	"github.com/caltalk/bridge/internal/uploads"
	"github.com/caltalk/bridge/internal/worker"
	"github.com/caltalk/bridge/pkg/database"
	"github.com/caltalk/bridge/pkg/queue"
	"github.com/caltalk/bridge/pkg/redis"
	"github.com/caltalk/bridge/pkg/response"
	"github.com/caltalk/bridge/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	var s3Client *storage.S3
	if cfg.AWS.Region != "" {
		s3Cfg := storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			StagingBucket:        cfg.AWS.StagingBucket,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}
		s3Client, err = storage.NewS3(ctx, s3Cfg, logger)
		if err != nil {
			logger.Warn("s3 disabled", zap.Error(err))
		}
	}

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)
	redisPubSub := realtime.NewRedisPubSub(rdb.Client, logger)
	hub := realtime.NewHub(logger, redisPubSub, redisPubSub)
	jobQueue := queue.NewQueue(rdb.Client, logger)

	// Auth
	authRepo := auth.NewRepository(pool)
	authHandler := auth.NewHandler(authRepo, jwtService, logger)

	// Connection settings and per-user credential resolution
	connectionRepo := settings.NewRepository(pool)
	provider := settings.NewProvider(connectionRepo, cfg.Talk, logger)
	settingsHandler := settings.NewHandler(connectionRepo, provider, cfg.Talk, logger)

	// Appointments and the room binding engine
	apptRepo := appointments.NewRepository(pool)
	dispatcher := appointments.NewDispatcher()
	notifier := appointments.NewNotifier(hub, logger)
	roomService := rooms.NewService(apptRepo, provider, logger)
	registry := binding.NewRegistry()
	engine := binding.NewEngine(registry, roomService, notifier, logger)
	dispatcher.Subscribe(engine)

	apptHandler := appointments.NewHandler(apptRepo, dispatcher, engine, logger)
	roomHandler := rooms.NewHandler(apptRepo, provider, engine, hub, logger)

	// Attachments (staged to S3, shared to the owner's server by the worker)
	attachmentRepo := uploads.NewRepository(pool)
	uploadHandler := uploads.NewHandler(attachmentRepo, apptRepo, s3Client, jobQueue, cfg.Uploads, logger)
	fileClientFactory := func(creds talk.Credentials) worker.FileClient {
		return files.NewClient(creds, logger)
	}
	attachmentProcessor := worker.NewAttachmentProcessor(
		attachmentRepo, s3Client, provider, fileClientFactory, jobQueue, redisPubSub, cfg.Uploads.RemoteFolder, logger)

	jwtValidate := func(token string) (userID, role string, err error) {
		claims, err := jwtService.Validate(token)
		if err != nil {
			return "", "", err
		}
		return claims.UserID.String(), claims.Role, nil
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	// Health
	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })

	// Auth (public, rate limited per client IP)
	authGroup := router.Group("/auth")
	authGroup.Use(middleware.RateLimit(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst))
	{
		authGroup.POST("/login", authHandler.Login)
		authGroup.POST("/register", authHandler.Register)
	}

	// Protected API (JWT required)
	api := router.Group("")
	api.Use(middleware.JWT(jwtService))
	{
		// Users (admin only)
		api.GET("/users", middleware.RequireRole("admin"), authHandler.List)

		// Appointments
		api.GET("/appointments", apptHandler.List)
		api.POST("/appointments", apptHandler.Create)
		api.GET("/appointments/:id", apptHandler.GetByID)
		api.PUT("/appointments/:id", apptHandler.Save)
		api.DELETE("/appointments/:id", apptHandler.Delete)
		api.POST("/appointments/:id/discard", apptHandler.Discard)

		// Conversation rooms bound to appointments
		api.POST("/appointments/:id/room", roomHandler.Create)
		api.GET("/appointments/:id/room", roomHandler.Get)
		api.DELETE("/appointments/:id/room", roomHandler.Delete)

		// Attachments
		api.POST("/appointments/:id/attachments", uploadHandler.Upload)
		api.GET("/appointments/:id/attachments", uploadHandler.List)
		api.GET("/attachments/:id/download", uploadHandler.Download)
		api.DELETE("/attachments/:id", uploadHandler.Delete)

		// Collaboration server connection settings
		api.GET("/settings/connection", settingsHandler.GetConnection)
		api.PUT("/settings/connection", settingsHandler.PutConnection)
		api.DELETE("/settings/connection", settingsHandler.DeleteConnection)
		api.POST("/settings/connection/verify", settingsHandler.VerifyConnection)
	}

	// WebSocket (token in query; no Authorization header required)
	router.GET("/ws", realtime.ServeWs(hub, logger, jwtValidate))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	// Background worker (attachment share to the collaboration server)
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	if s3Client != nil {
		go attachmentProcessor.Run(workerCtx)
		logger.Info("attachment worker started")
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	workerCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
