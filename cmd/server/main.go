package main

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/framebooth/api/internal/client"
	"github.com/framebooth/api/internal/config"
	"github.com/framebooth/api/internal/credentials"
	"github.com/framebooth/api/internal/handler"
	"github.com/framebooth/api/internal/middleware"
	"github.com/framebooth/api/internal/reaper"
	"github.com/framebooth/api/internal/service"
	"github.com/framebooth/api/internal/worker"
	ws "github.com/framebooth/api/internal/websocket"
	"github.com/framebooth/api/pkg/logger"
	"github.com/framebooth/api/pkg/response"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	log := logger.New(cfg.Server.LogLevel, cfg.Server.LogFormat)
	slog.SetDefault(log)

	// Initialize Redis client
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	// Test Redis connection
	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Warn("redis not available", slog.Any("error", err))
	}

	// Initialize Asynq client
	asynqClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer asynqClient.Close()

	// Initialize validator
	validate := validator.New()

	// Initialize WebSocket hub
	hub := ws.NewHub(log)
	go hub.Run()

	// Initialize external clients
	dropboxClient := client.NewDropboxClient(&cfg.Dropbox)
	lumenClient := client.NewLumenClient(&cfg.Lumen)

	// Initialize R2 client. Optional in development: workers then run
	// against an unconfigured storage and jobs fail with STORAGE_ERROR.
	var storageClient client.StorageClient
	if cfg.R2.AccessKeyID != "" && cfg.R2.SecretAccessKey != "" {
		r2Client, err := client.NewR2Client(&cfg.R2)
		if err != nil {
			log.Error("failed to initialize R2 client", slog.Any("error", err))
			os.Exit(1)
		}
		storageClient = r2Client
	} else {
		log.Warn("R2 storage not configured")
	}

	// Credential manager (Dropbox refresh-token decryption + exchange)
	var credManager *credentials.Manager
	if cfg.Dropbox.TokenKey != "" {
		credManager, err = credentials.NewManager(credentials.Config{TokenKey: cfg.Dropbox.TokenKey}, dropboxClient)
		if err != nil {
			log.Error("failed to initialize credential manager", slog.Any("error", err))
			os.Exit(1)
		}
	} else {
		log.Warn("dropbox token key not configured, exports disabled")
	}

	// Initialize services
	transformTimeout := time.Duration(cfg.Jobs.TransformTimeoutSeconds) * time.Second
	projectService := service.NewProjectService(redisClient)
	jobService := service.NewJobService(redisClient, asynqClient, projectService, transformTimeout)
	exportLogService := service.NewExportLogService(redisClient)

	// Initialize handlers
	jobHandler := handler.NewJobHandler(jobService, validate)
	exportHandler := handler.NewExportHandler(exportLogService, projectService)

	// Auth: behind the gateway identity comes from ForwardAuth headers,
	// otherwise we verify the bearer token ourselves
	var apiAuthMiddleware fiber.Handler
	if cfg.Gateway.Enabled {
		log.Info("gateway mode enabled, using header-based auth")
		apiAuthMiddleware = middleware.GatewayAuthMiddleware()
	} else {
		apiAuthMiddleware = middleware.NewAuthMiddleware(cfg.JWT.Secret).Authenticate()
	}
	rateLimiter := middleware.NewRateLimiter(redisClient)

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    10 * 1024 * 1024, // 10MB
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"services": fiber.Map{
				"storage": storageClient != nil,
				"dropbox": dropboxClient.IsConfigured(),
				"lumen":   lumenClient.IsConfigured(),
				"exports": credManager != nil,
			},
		})
	})

	// API routes
	api := app.Group("/api", apiAuthMiddleware)

	jobs := api.Group("/jobs")
	jobs.Post("/start", rateLimiter.JobsLimit(cfg.RateLimit.JobsPerHour), jobHandler.Start)
	jobs.Get("/:projectId/:jobId/status", jobHandler.Status)
	jobs.Get("/:projectId/:jobId/result", jobHandler.Result)

	exports := api.Group("/exports", rateLimiter.LogsLimit(cfg.RateLimit.LogsPerMin))
	exports.Get("/:projectId/logs", exportHandler.Logs)
	exports.Get("/integrations/:workspaceId/dropbox", exportHandler.IntegrationStatus)

	// WebSocket routes
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/jobs/:jobId", websocket.New(func(c *websocket.Conn) {
		hub.HandleConnection(c, c.Params("jobId"))
	}))

	// Scratch-dir reaper: in-handler cleanup does not survive a hard kill by
	// the task timeout, so orphans are swept out of band
	reaperCtx, stopReaper := context.WithCancel(ctx)
	defer stopReaper()
	scratchReaper := reaper.New(cfg.Jobs.ScratchDir, 2*transformTimeout, 10*time.Minute, log)
	go scratchReaper.Run(reaperCtx)

	// Start Asynq worker server
	go startWorkerServer(cfg, jobService, projectService, exportLogService, storageClient, dropboxClient, lumenClient, credManager, hub, validate, log)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Info("shutting down server")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Error("server shutdown error", slog.Any("error", err))
		}
	}()

	// Start server
	addr := ":" + cfg.Server.Port
	log.Info("server starting", slog.String("addr", addr))
	if err := app.Listen(addr); err != nil {
		log.Error("server error", slog.Any("error", err))
		os.Exit(1)
	}
}

func startWorkerServer(
	cfg *config.Config,
	jobService *service.JobService,
	projectService *service.ProjectService,
	exportLogService *service.ExportLogService,
	storageClient client.StorageClient,
	dropboxClient *client.DropboxClient,
	lumenClient *client.LumenClient,
	credManager *credentials.Manager,
	hub *ws.Hub,
	validate *validator.Validate,
	log *slog.Logger,
) {
	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		asynq.Config{
			Concurrency: 10,
			Queues: map[string]int{
				service.QueueTransform: 6,
				service.QueueExport:    4,
			},
			// 10–30s for early attempts, growing toward 60–300s
			RetryDelayFunc: func(n int, e error, t *asynq.Task) time.Duration {
				delay := time.Duration(10*math.Pow(2, float64(n))) * time.Second
				if delay > 300*time.Second {
					delay = 300 * time.Second
				}
				return delay
			},
			Logger: asynqLogger{log},
		},
	)

	transformWorker := worker.NewTransformWorker(
		jobService, jobService, projectService, storageClient, lumenClient,
		hub, validate, cfg.Jobs.ScratchDir, log,
	)
	dispatcher := worker.NewExportDispatcher(jobService, projectService, jobService, validate, log)
	var creds worker.CredentialRefresher
	if credManager != nil {
		creds = credManager
	}
	dropboxWorker := worker.NewDropboxWorker(
		projectService, exportLogService, storageClient, dropboxClient,
		creds, validate, log,
	)

	mux := asynq.NewServeMux()
	mux.HandleFunc(service.TaskTypeTransform, transformWorker.ProcessTask)
	mux.HandleFunc(service.TaskTypeExportDispatch, dispatcher.ProcessTask)
	mux.HandleFunc(service.TaskTypeExportDropbox, dropboxWorker.ProcessTask)

	if err := srv.Run(mux); err != nil {
		log.Error("asynq worker error", slog.Any("error", err))
	}
}

// asynqLogger adapts slog to asynq's logger interface
type asynqLogger struct {
	log *slog.Logger
}

func (l asynqLogger) Debug(args ...interface{}) { l.log.Debug(sprint(args...)) }
func (l asynqLogger) Info(args ...interface{})  { l.log.Info(sprint(args...)) }
func (l asynqLogger) Warn(args ...interface{})  { l.log.Warn(sprint(args...)) }
func (l asynqLogger) Error(args ...interface{}) { l.log.Error(sprint(args...)) }
func (l asynqLogger) Fatal(args ...interface{}) {
	l.log.Error(sprint(args...))
	os.Exit(1)
}

func sprint(args ...interface{}) string { return fmt.Sprint(args...) }

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    response.CodeServiceError,
			"message": message,
		},
	})
}
