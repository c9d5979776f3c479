package main

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/gio888/whisper-transcription/internal/config"
	"github.com/gio888/whisper-transcription/internal/handler"
	"github.com/gio888/whisper-transcription/internal/middleware"
	"github.com/gio888/whisper-transcription/internal/model"
	"github.com/gio888/whisper-transcription/internal/service"
	"github.com/gio888/whisper-transcription/internal/transcriber"
	ws "github.com/gio888/whisper-transcription/internal/websocket"
	"github.com/gio888/whisper-transcription/internal/worker"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if cfg.Server.Env == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	for _, dir := range []string{cfg.Storage.UploadDir, cfg.Storage.ScratchDir, cfg.Storage.TranscriptDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Fatal().Err(err).Str("dir", dir).Msg("failed to create storage directory")
		}
	}

	// Initialize Redis client
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	// Test Redis connection
	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Warn().Err(err).Msg("redis not available")
	}

	// Initialize Asynq client and inspector
	asynqOpt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
	asynqClient := asynq.NewClient(asynqOpt)
	defer asynqClient.Close()
	inspector := asynq.NewInspector(asynqOpt)

	// Initialize history database
	db, err := gorm.Open(sqlite.Open(cfg.Database.Path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.Database.Path).Msg("failed to open database")
	}
	// sqlite cannot take concurrent writers; one connection serializes them
	sqlDB, err := db.DB()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to access database handle")
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&model.BatchJob{}, &model.FileRecord{}); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate database")
	}

	// Initialize validator
	validate := validator.New()

	// Initialize WebSocket hub
	hub := ws.NewHub()
	go hub.Run()

	// Build the transcription pipeline
	prober := transcriber.NewProber(cfg.Tools.FFprobe, cfg.Timeouts.Probe)
	audioValidator := transcriber.NewValidator(prober, cfg.Storage.MinFileBytes)
	converter := transcriber.NewConverter(cfg.Tools.FFmpeg, cfg.Timeouts.Convert)
	engine, mockMode := buildEngine(cfg)
	pipeline := transcriber.NewPipeline(audioValidator, converter, prober, engine,
		cfg.Storage.ScratchDir, cfg.Storage.TranscriptDir)

	// Initialize services
	uploadService := service.NewUploadService(cfg.Storage.UploadDir, cfg.Storage.MaxFileSize)
	batchService := service.NewBatchService(redisClient, asynqClient, inspector, db, cfg.Storage.MaxBatchFiles)

	// Sweep leftovers from previous runs, then keep sweeping uploads
	if removed, err := uploadService.CleanStale(cfg.Storage.StaleAge); err == nil && removed > 0 {
		log.Info().Int("removed", removed).Msg("cleaned stale uploads")
	}
	if removed, err := transcriber.SweepScratch(cfg.Storage.ScratchDir); err == nil && removed > 0 {
		log.Info().Int("removed", removed).Msg("cleaned scratch leftovers")
	}
	go runCleanup(uploadService, cfg)

	// Initialize handlers
	uploadHandler := handler.NewUploadHandler(uploadService, batchService, cfg.Storage.MaxBatchFiles)
	batchHandler := handler.NewBatchHandler(batchService, validate)
	downloadHandler := handler.NewDownloadHandler(batchService)
	healthHandler := handler.NewHealthHandler(redisClient, db, cfg, mockMode)

	// Initialize middleware
	rateLimiter := middleware.NewRateLimiter(redisClient)

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    int(cfg.Storage.MaxFileSize),
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept",
	}))

	// Health check
	app.Get("/health", healthHandler.Health)

	// API routes
	api := app.Group("/api")

	// Upload routes
	api.Post("/upload", rateLimiter.UploadLimit(cfg.RateLimit.UploadPerHour), uploadHandler.Single)
	api.Post("/batch-upload", rateLimiter.UploadLimit(cfg.RateLimit.UploadPerHour), uploadHandler.Batch)

	// Batch routes
	api.Get("/batches", batchHandler.List)
	api.Get("/batches/:batchId", batchHandler.Status)
	api.Post("/batches/:batchId/cancel", batchHandler.Cancel)

	// Download routes
	api.Get("/download/:fileId", downloadHandler.Transcript)

	// WebSocket routes
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/batches/:batchId", websocket.New(func(c *websocket.Conn) {
		batchID := c.Params("batchId")
		var snapshot []byte
		if batch, err := batchService.GetBatch(context.Background(), batchID); err == nil {
			snapshot, _ = json.Marshal(ws.BatchStatusMessage(batch))
		}
		hub.HandleConnection(c, batchID, snapshot)
	}))

	// Start Asynq worker server
	go startWorkerServer(cfg, redisClient, db, pipeline, hub)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Info().Msg("shutting down server")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Error().Err(err).Msg("server shutdown error")
		}
	}()

	// Start server
	addr := ":" + cfg.Server.Port
	log.Info().Str("addr", addr).Bool("mock_engine", mockMode).Msg("server starting")
	if err := app.Listen(addr); err != nil {
		log.Fatal().Err(err).Msg("server error")
	}
}

// buildEngine returns the real whisper.cpp engine, or the mock engine when
// the binary or model is missing so the service stays usable end to end.
func buildEngine(cfg *config.Config) (transcriber.Engine, bool) {
	if _, err := exec.LookPath(cfg.Whisper.Binary); err != nil {
		log.Warn().Str("binary", cfg.Whisper.Binary).Msg("recognition binary not found, using mock engine")
		return &transcriber.MockEngine{StepDelay: 200 * time.Millisecond}, true
	}
	if _, err := os.Stat(cfg.Whisper.ModelPath); err != nil {
		log.Warn().Str("model", cfg.Whisper.ModelPath).Msg("model file not found, using mock engine")
		return &transcriber.MockEngine{StepDelay: 200 * time.Millisecond}, true
	}
	return transcriber.NewWhisperEngine(transcriber.EngineConfig{
		BinaryPath:  cfg.Whisper.Binary,
		ModelPath:   cfg.Whisper.ModelPath,
		Language:    cfg.Whisper.Language,
		Threads:     cfg.Whisper.Threads,
		Processors:  cfg.Whisper.Processors,
		LineTimeout: cfg.Timeouts.OutputLine,
		MaxRuntime:  cfg.Timeouts.Transcribe,
	}), false
}

func runCleanup(uploads *service.UploadService, cfg *config.Config) {
	ticker := time.NewTicker(cfg.Storage.CleanupInterval)
	defer ticker.Stop()

	for range ticker.C {
		removed, err := uploads.CleanStale(cfg.Storage.StaleAge)
		if err != nil {
			log.Warn().Err(err).Msg("upload cleanup failed")
			continue
		}
		if removed > 0 {
			log.Info().Int("removed", removed).Msg("cleaned stale uploads")
		}
	}
}

func startWorkerServer(cfg *config.Config, redisClient *redis.Client, db *gorm.DB, pipeline *transcriber.Pipeline, hub *ws.Hub) {
	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		asynq.Config{
			Concurrency: cfg.Worker.Concurrency,
			Queues: map[string]int{
				service.QueueTranscription: 1,
			},
		},
	)

	// Create workers
	transcribeWorker := worker.NewTranscribeWorker(redisClient, db, pipeline, hub)

	mux := asynq.NewServeMux()
	mux.HandleFunc(service.TaskTypeTranscribe, transcribeWorker.ProcessTask)

	if err := srv.Run(mux); err != nil {
		log.Error().Err(err).Msg("asynq worker error")
	}
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	errCode := "SERVICE_ERROR"
	switch code {
	case fiber.StatusRequestEntityTooLarge:
		errCode = "FILE_TOO_LARGE"
		message = "Uploaded file exceeds the size limit"
	case fiber.StatusNotFound:
		errCode = "NOT_FOUND"
	}

	return c.Status(code).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    errCode,
			"message": message,
		},
	})
}
