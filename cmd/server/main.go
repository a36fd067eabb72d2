package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
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

	"github.com/animgen/api/internal/admission"
	"github.com/animgen/api/internal/auth"
	"github.com/animgen/api/internal/client"
	"github.com/animgen/api/internal/config"
	"github.com/animgen/api/internal/generator"
	"github.com/animgen/api/internal/handler"
	"github.com/animgen/api/internal/middleware"
	"github.com/animgen/api/internal/renderer"
	"github.com/animgen/api/internal/service"
	"github.com/animgen/api/internal/store"
	"github.com/animgen/api/internal/worker"
	ws "github.com/animgen/api/internal/websocket"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
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
		log.Printf("Warning: Redis not available: %v", err)
	}

	// Initialize Asynq client
	asynqClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer asynqClient.Close()

	// Open the job store
	jobStore, err := store.Open(&cfg.Database)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}

	// Initialize validator
	validate := validator.New()

	// Initialize WebSocket hub
	hub := ws.NewHub()
	go hub.Run()

	// Initialize external clients
	geminiClient := client.NewGeminiClient(&cfg.Gemini)
	if !geminiClient.IsConfigured() {
		log.Println("Warning: Gemini API key not configured; only personal-key jobs will run")
	}

	// Initialize S3 client (optional - local storage when not configured)
	var storageClient client.StorageClient
	if cfg.Storage.Mode == "s3" {
		s3Client, err := client.NewS3Client(&cfg.Storage)
		if err != nil {
			log.Printf("Warning: S3 client not initialized, falling back to local storage: %v", err)
		} else {
			storageClient = s3Client
		}
	} else {
		log.Println("Info: local artifact storage enabled")
	}

	// Initialize Clerk JWKS verifier (optional - falls back to legacy JWT)
	var jwksVerifier *auth.JWKSVerifier
	if cfg.Clerk.Issuer != "" {
		var err error
		jwksVerifier, err = auth.NewJWKSVerifier(&cfg.Clerk)
		if err != nil {
			log.Printf("Warning: JWKS verifier not initialized: %v", err)
		} else {
			defer jwksVerifier.Close()
		}
	}

	// Initialize domain components
	codeGenerator := generator.New(geminiClient, cfg.Security.DangerousPatterns, cfg.Admission.MaxAttempts)
	sceneRenderer := renderer.New(&cfg.Manim)
	admissionController := admission.New(jobStore, cfg.Admission.MaxConcurrentJobs, cfg.Gemini.APIKey)

	// Initialize services
	taskTimeout := time.Duration(cfg.Manim.TimeoutSeconds) * time.Second
	jobService := service.NewJobService(jobStore, admissionController, asynqClient, storageClient, cfg.Manim.WorkDir, taskTimeout)
	userService := service.NewUserService(jobStore, cfg.Admission.DefaultCredits)
	conversationService := service.NewConversationService(jobStore)

	// Initialize handlers
	jobHandler := handler.NewJobHandler(jobService, userService, validate)
	userHandler := handler.NewUserHandler(userService)
	conversationHandler := handler.NewConversationHandler(conversationService, userService, validate)

	// Initialize middleware (with fallback support)
	var authMiddleware *middleware.AuthMiddleware
	if jwksVerifier != nil && cfg.JWT.Secret != "" {
		authMiddleware = middleware.NewAuthMiddlewareWithFallback(jwksVerifier, cfg.JWT.Secret)
	} else if jwksVerifier != nil {
		authMiddleware = middleware.NewAuthMiddleware(jwksVerifier)
	} else {
		authMiddleware = middleware.NewLegacyAuthMiddleware(cfg.JWT.Secret)
	}
	rateLimiter := middleware.NewRateLimiter(redisClient)

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    5 * 1024 * 1024, // 5MB
	})

	// Global middleware
	app.Use(recover.New())
	isDebug := strings.EqualFold(cfg.Server.LogLevel, "debug")
	logFormat := "[${time}] ${status} - ${latency} ${method} ${path}\n"
	if isDebug {
		logFormat = "[${time}] ${status} - ${latency} ${method} ${path} ${queryParams} ${body} ${reqHeaders}\n"
		log.Println("Debug logging enabled")
	}
	app.Use(logger.New(logger.Config{
		Format: logFormat,
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PATCH,DELETE,OPTIONS",
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
				"gemini":  geminiClient.IsConfigured(),
				"storage": storageClient != nil,
				"auth":    jwksVerifier != nil || cfg.JWT.Secret != "",
			},
		})
	})

	// Public stats
	app.Get("/stats", jobHandler.Stats)

	// Locally rendered artifacts are served straight from the work dir
	if storageClient == nil {
		app.Static("/videos", cfg.Manim.WorkDir)
	}

	// Job routes. Generation and status are open to anonymous callers; a
	// valid token attaches the job to the account.
	jobs := app.Group("/api/jobs", authMiddleware.OptionalAuthenticate())
	jobs.Post("/generate", rateLimiter.GenerateLimit(cfg.RateLimit.GeneratePerHour), jobHandler.Generate)
	jobs.Get("/public", jobHandler.Public)
	jobs.Get("/status/:jobId", jobHandler.Status)
	jobs.Get("/", jobHandler.List)
	jobs.Delete("/:jobId", jobHandler.Delete)

	// User routes
	users := app.Group("/api/users", authMiddleware.Authenticate())
	users.Get("/me", userHandler.Me)
	users.Post("/api-key", userHandler.RotateAPIKey)
	users.Get("/usage", userHandler.Usage)

	// Conversation routes
	conversations := app.Group("/api/conversations", authMiddleware.Authenticate())
	conversations.Post("/", conversationHandler.Create)
	conversations.Get("/", conversationHandler.List)
	conversations.Get("/:id", conversationHandler.Get)
	conversations.Patch("/:id", conversationHandler.Rename)
	conversations.Delete("/:id", conversationHandler.Delete)

	// WebSocket routes
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/jobs/:jobId", websocket.New(func(c *websocket.Conn) {
		jobID := c.Params("jobId")
		hub.HandleConnection(c, jobID)
	}))

	// Start Asynq worker server
	go startWorkerServer(cfg, jobStore, codeGenerator, sceneRenderer, storageClient, hub)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("Shutting down server...")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	// Start server
	addr := ":" + cfg.Server.Port
	log.Printf("Server starting on %s", addr)
	if err := app.Listen(addr); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

func startWorkerServer(
	cfg *config.Config,
	jobStore *store.Store,
	codeGenerator *generator.Generator,
	sceneRenderer *renderer.ManimRenderer,
	storageClient client.StorageClient,
	hub *ws.Hub,
) {
	asynqLogLevel := asynq.InfoLevel
	if strings.EqualFold(cfg.Server.LogLevel, "debug") {
		asynqLogLevel = asynq.DebugLevel
	} else if strings.EqualFold(cfg.Server.LogLevel, "warn") {
		asynqLogLevel = asynq.WarnLevel
	} else if strings.EqualFold(cfg.Server.LogLevel, "error") {
		asynqLogLevel = asynq.ErrorLevel
	}

	// Concurrency matches the admission cap: the queue never runs more
	// renders than admission lets in.
	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		asynq.Config{
			Concurrency: cfg.Admission.MaxConcurrentJobs,
			Queues: map[string]int{
				"animation": 10,
			},
			LogLevel: asynqLogLevel,
		},
	)

	softTimeout := time.Duration(cfg.Manim.SoftTimeoutSeconds) * time.Second
	animationWorker := worker.NewAnimationWorker(
		jobStore,
		codeGenerator,
		sceneRenderer,
		storageClient,
		hub,
		cfg.Manim.WorkDir,
		cfg.Admission.MaxAttempts,
		softTimeout,
	)

	mux := asynq.NewServeMux()
	mux.HandleFunc(worker.TaskTypeAnimation, animationWorker.ProcessTask)

	if err := srv.Run(mux); err != nil {
		log.Printf("Asynq worker error: %v", err)
	}
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    "SERVICE_ERROR",
			"message": message,
		},
	})
}
