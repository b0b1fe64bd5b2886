// Package main runs the background job worker (attachment share to the collaboration server).
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/caltalk/bridge/config"
	"github.com/caltalk/bridge/internal/files"
	"github.com/caltalk/bridge/internal/realtime"
	"github.com/caltalk/bridge/internal/settings"
	"github.com/caltalk/bridge/internal/talk"
	"github.com/caltalk/bridge/internal/uploads"
	"github.com/caltalk/bridge/internal/worker"
	"github.com/caltalk/bridge/pkg/database"
	"github.com/caltalk/bridge/pkg/queue"
	"github.com/caltalk/bridge/pkg/redis"
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

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	s3Cfg := storage.S3Config{
		Region:               cfg.AWS.Region,
		AccessKeyID:          cfg.AWS.AccessKeyID,
		SecretAccessKey:      cfg.AWS.SecretAccessKey,
		StagingBucket:        cfg.AWS.StagingBucket,
		PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
	}
	s3Client, err := storage.NewS3(ctx, s3Cfg, logger)
	if err != nil {
		logger.Fatal("s3", zap.Error(err))
	}

	connectionRepo := settings.NewRepository(pool)
	provider := settings.NewProvider(connectionRepo, cfg.Talk, logger)
	attachmentRepo := uploads.NewRepository(pool)
	jobQueue := queue.NewQueue(rdb.Client, logger)
	events := realtime.NewRedisPubSub(rdb.Client, logger)
	fileClientFactory := func(creds talk.Credentials) worker.FileClient {
		return files.NewClient(creds, logger)
	}
	processor := worker.NewAttachmentProcessor(
		attachmentRepo, s3Client, provider, fileClientFactory, jobQueue, events, cfg.Uploads.RemoteFolder, logger)

	workerCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go processor.Run(workerCtx)
	logger.Info("worker started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	time.Sleep(2 * time.Second)
	logger.Info("worker stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
