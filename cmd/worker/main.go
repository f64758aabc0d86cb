package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/lk2023060901/bookhub-backend/internal/book/biz"
	"github.com/lk2023060901/bookhub-backend/internal/book/models"
	"github.com/lk2023060901/bookhub-backend/internal/book/queue"
	"github.com/lk2023060901/bookhub-backend/internal/book/repository"
	"github.com/lk2023060901/bookhub-backend/internal/book/storage"
	"github.com/lk2023060901/bookhub-backend/internal/conf"
	"github.com/lk2023060901/bookhub-backend/internal/pkg/database"
	"github.com/lk2023060901/bookhub-backend/internal/pkg/logger"
	"github.com/lk2023060901/bookhub-backend/internal/pkg/minio"
	"github.com/lk2023060901/bookhub-backend/internal/pkg/redis"
	"github.com/lk2023060901/bookhub-backend/internal/pkg/workerpool"
)

var (
	configFile = flag.String("config", "config.yaml", "config file path")
)

func main() {
	flag.Parse()

	// Load configuration
	config, err := conf.LoadConfig(*configFile)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	// Initialize logger with config
	log, err := logger.New(&config.Log)
	if err != nil {
		panic("failed to initialize logger: " + err.Error())
	}
	defer log.Sync()

	log.Info("config loaded successfully")

	ctx := context.Background()

	// Initialize database
	db, err := database.New(&config.Database, log)
	if err != nil {
		log.Fatal("failed to connect database", zap.Error(err))
	}
	defer db.Close()

	if err := models.AutoMigrate(ctx, db); err != nil {
		log.Fatal("failed to migrate database", zap.Error(err))
	}

	// Initialize redis
	redisClient, err := redis.New(&config.Redis, log)
	if err != nil {
		log.Fatal("failed to connect redis", zap.Error(err))
	}
	defer redisClient.Close()

	// Initialize object storage
	minioClient, err := minio.NewClient(&config.MinIO.Config, log.Logger)
	if err != nil {
		log.Fatal("failed to connect minio", zap.Error(err))
	}
	defer minioClient.Close()

	objectStore, err := storage.NewObjectStore(ctx, minioClient, config.MinIO.Bucket)
	if err != nil {
		log.Fatal("failed to initialize object store", zap.Error(err))
	}

	// Initialize local file storage
	localStore, err := storage.NewLocalStore(&storage.Config{
		CoverRoot:  config.Storage.CoverRoot,
		AssetRoot:  config.Storage.AssetRoot,
		TempRoot:   config.Storage.TempRoot,
		SigningKey: config.Storage.SigningKey,
		TokenTTL:   config.Storage.TokenTTL,
	}, log)
	if err != nil {
		log.Fatal("failed to initialize local storage", zap.Error(err))
	}

	// Initialize repositories
	bookRepo := repository.NewBookRepository(db)
	fileRepo := repository.NewBookFileRepository(db)
	jobRepo := repository.NewParsingJobRepository(db)
	contentRepo := repository.NewContentRepository(db)

	// Initialize use cases
	ingestUseCase := biz.NewIngestUseCase(
		db,
		bookRepo,
		fileRepo,
		jobRepo,
		contentRepo,
		objectStore,
		localStore,
		log,
	)

	// Initialize worker pool
	pool, err := workerpool.New(&config.Worker.Pool, log.Logger)
	if err != nil {
		log.Fatal("failed to initialize worker pool", zap.Error(err))
	}
	defer pool.Shutdown()

	// Initialize parsing queue consumer
	parsingQueue := queue.NewParsingQueue(redisClient, log)
	worker := queue.NewWorker(parsingQueue, pool, ingestUseCase, queue.WorkerOptions{
		MaxRetries:   config.Worker.MaxRetries,
		RetryBackoff: config.Worker.RetryBackoff,
		PollInterval: config.Worker.PollInterval,
	}, log)

	workerCtx, cancelWorker := context.WithCancel(ctx)
	worker.Start(workerCtx)

	// Periodically clean up stale temp files
	cleanupDone := make(chan struct{})
	go func() {
		defer close(cleanupDone)
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-workerCtx.Done():
				return
			case <-ticker.C:
				removed, err := localStore.CleanupTemp(config.Storage.TempMaxAge)
				if err != nil {
					log.Warn("temp cleanup failed", zap.Error(err))
				} else if removed > 0 {
					log.Info("temp files cleaned", zap.Int("removed", removed))
				}
			}
		}
	}()

	log.Info("bookhub worker is running")

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down worker...")

	worker.Stop()
	cancelWorker()
	<-cleanupDone

	log.Info("worker exited")
}
