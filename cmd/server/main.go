package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/videotranslator/api/internal/client"
	"github.com/videotranslator/api/internal/config"
	"github.com/videotranslator/api/internal/controller"
	"github.com/videotranslator/api/internal/handler"
	"github.com/videotranslator/api/internal/middleware"
	"github.com/videotranslator/api/internal/progress"
	"github.com/videotranslator/api/internal/service"
	"github.com/videotranslator/api/internal/simulator"
	ws "github.com/videotranslator/api/internal/websocket"
	"github.com/videotranslator/api/internal/worker"
	"github.com/videotranslator/api/pkg/response"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Initialize Redis client
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	redisUp := true
	if err := redisClient.Ping(ctx).Err(); err != nil {
		redisUp = false
		log.Printf("Warning: Redis not available: %v", err)
	}

	// Initialize storage (S3-compatible when configured, local disk otherwise)
	var storage client.StorageClient
	var localStorage *client.LocalStorage
	if cfg.Storage.Configured() {
		s3Client, err := client.NewS3Client(&cfg.Storage)
		if err != nil {
			log.Fatalf("Failed to initialize object storage: %v", err)
		}
		storage = s3Client
	} else {
		log.Println("Info: object storage not configured, storing media on local disk")
		localStorage, err = client.NewLocalStorage(cfg.Media.LocalDir, cfg.Media.PublicPath)
		if err != nil {
			log.Fatalf("Failed to initialize local storage: %v", err)
		}
		storage = localStorage
	}

	// Initialize WebSocket hub
	hub := ws.NewHub()
	go hub.Run()

	sim := simulator.New(simulator.Config{
		Interval: cfg.Job.TickInterval,
		Step:     cfg.Job.Step,
	})

	// Initialize services
	languageService := service.NewLanguageService(nil)
	mediaService := service.NewMediaService(storage, cfg.Media.MaxSizeBytes(), cfg.Media.SignedURLExpiry)

	var runner controller.Runner
	var jobService *service.JobService
	var workerServer *asynq.Server

	switch cfg.Job.Runner {
	case config.RunnerQueue:
		redisOpt := asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}
		asynqClient := asynq.NewClient(redisOpt)
		defer asynqClient.Close()

		jobService = service.NewJobService(redisClient, asynqClient, service.JobOptions{
			Queue:    cfg.Job.Queue,
			MaxRetry: cfg.Job.MaxRetry,
			Timeout:  cfg.Job.Timeout,
		})
		runner = service.NewQueueRunner(jobService)
		workerServer = startWorkerServer(cfg, redisOpt, jobService, sim)
		log.Printf("Translation jobs run on queue %q", cfg.Job.Queue)
	default:
		runner = controller.NewSimulatorRunner(sim)
		log.Println("Translation jobs run in-process")
	}

	sessionService := service.NewSessionService(runner, progress.DefaultPhases, hub, mediaService, cfg.Session.TTL)
	if cfg.Session.TTL > 0 {
		go sessionService.RunJanitor(ctx, janitorInterval(cfg.Session.TTL))
	}

	// Initialize handlers
	validate := handler.NewValidator(languageService)
	languageHandler := handler.NewLanguageHandler(languageService, mediaService.MaxSize())
	sessionHandler := handler.NewSessionHandler(sessionService, mediaService, validate)

	authMiddleware := middleware.NewAuthMiddleware(cfg.JWT.Secret)
	rateLimiter := middleware.NewRateLimiter(redisClient)

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    int(mediaService.MaxSize()) + 1024*1024,
	})

	// Global middleware
	app.Use(recover.New())
	logFormat := "[${time}] ${status} - ${latency} ${method} ${path}\n"
	if strings.EqualFold(cfg.Server.LogLevel, "debug") {
		logFormat = "[${time}] ${status} - ${latency} ${method} ${path} ${queryParams} ${reqHeaders}\n"
		log.Println("Debug logging enabled")
	}
	app.Use(logger.New(logger.Config{
		Format: logFormat,
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	// Base URL - timestamp
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"timestamp": time.Now().Unix(),
		})
	})

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"services": fiber.Map{
				"redis":    redisUp,
				"storage":  cfg.Storage.Configured(),
				"runner":   cfg.Job.Runner,
				"sessions": sessionService.Len(),
			},
		})
	})

	// Locally stored media is served as static files
	if localStorage != nil {
		app.Static(cfg.Media.PublicPath, localStorage.Root(), fiber.Static{
			ByteRange: true,
		})
	}

	// API routes
	api := app.Group("/api", authMiddleware.Authenticate())
	api.Get("/languages", languageHandler.List)

	sessions := api.Group("/sessions")
	sessions.Post("/", rateLimiter.SessionLimit(cfg.RateLimit.SessionsPerHour), sessionHandler.Create)
	sessions.Get("/:sessionId", sessionHandler.Get)
	sessions.Delete("/:sessionId", sessionHandler.Delete)
	sessions.Post("/:sessionId/media", rateLimiter.UploadLimit(cfg.RateLimit.UploadPerHour), sessionHandler.UploadMedia)
	sessions.Post("/:sessionId/translate", rateLimiter.TranslateLimit(cfg.RateLimit.TranslatePerHour), sessionHandler.Translate)
	sessions.Post("/:sessionId/cancel", sessionHandler.Cancel)
	sessions.Post("/:sessionId/reset", sessionHandler.Reset)

	if jobService != nil {
		jobHandler := handler.NewJobHandler(jobService)
		api.Get("/jobs/:jobId", jobHandler.Get)
	}

	// WebSocket routes
	app.Get("/ws/sessions/:sessionId", authMiddleware.Authenticate(), sessionHandler.Upgrade, sessionHandler.Watch(hub))

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("Shutting down server...")
		stop()
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	// Start server
	addr := ":" + cfg.Server.Port
	log.Printf("Server starting on %s", addr)
	if err := app.Listen(addr); err != nil {
		log.Printf("Server error: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sessionService.Close(shutdownCtx)
	if workerServer != nil {
		workerServer.Shutdown()
	}
	hub.Stop()
}

func startWorkerServer(cfg *config.Config, redisOpt asynq.RedisClientOpt, jobService *service.JobService, sim *simulator.Simulator) *asynq.Server {
	asynqLogLevel := asynq.InfoLevel
	if strings.EqualFold(cfg.Server.LogLevel, "debug") {
		asynqLogLevel = asynq.DebugLevel
	} else if strings.EqualFold(cfg.Server.LogLevel, "warn") {
		asynqLogLevel = asynq.WarnLevel
	} else if strings.EqualFold(cfg.Server.LogLevel, "error") {
		asynqLogLevel = asynq.ErrorLevel
	}

	translateWorker := worker.NewTranslateWorker(jobService, sim, progress.DefaultPhases)

	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.Job.Concurrency,
		Queues: map[string]int{
			cfg.Job.Queue: 1,
		},
		LogLevel:       asynqLogLevel,
		ErrorHandler:   asynq.ErrorHandlerFunc(translateWorker.HandleError),
		RetryDelayFunc: worker.RetryDelay(cfg.Job.RetryBase, cfg.Job.RetryMax),
	})

	mux := asynq.NewServeMux()
	mux.HandleFunc(service.TaskTypeTranslate, translateWorker.ProcessTask)

	if err := srv.Start(mux); err != nil {
		log.Fatalf("Asynq worker error: %v", err)
	}
	return srv
}

// janitorInterval sweeps four times per TTL, never more than once a minute
func janitorInterval(ttl time.Duration) time.Duration {
	interval := ttl / 4
	if interval < time.Minute {
		interval = time.Minute
	}
	return interval
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	errCode := response.CodeServiceError
	switch code {
	case fiber.StatusNotFound:
		errCode = response.CodeNotFound
	case fiber.StatusRequestEntityTooLarge:
		errCode = response.CodeMediaTooLarge
	}

	return response.Error(c, code, errCode, message, nil)
}
