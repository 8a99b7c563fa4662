package main

import (
	"context"
	"errors"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/veoflow/api/internal/auth"
	"github.com/veoflow/api/internal/client"
	"github.com/veoflow/api/internal/config"
	"github.com/veoflow/api/internal/handler"
	"github.com/veoflow/api/internal/middleware"
	"github.com/veoflow/api/internal/pkg/logger"
	"github.com/veoflow/api/internal/pkg/telemetry"
	"github.com/veoflow/api/internal/retry"
	"github.com/veoflow/api/internal/service"
	"github.com/veoflow/api/internal/store"
	ws "github.com/veoflow/api/internal/websocket"
	"github.com/veoflow/api/internal/worker"
	"github.com/veoflow/api/pkg/response"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log, err := logger.New(cfg.Server.Env, cfg.Server.LogLevel)
	if err != nil {
		panic("failed to build logger: " + err.Error())
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Init(ctx, &cfg.Telemetry, cfg.Server.Env, log)
	if err != nil {
		log.Warn("tracing disabled", "error", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Warn("redis not available", "addr", cfg.Redis.Addr, "error", err)
	}

	projectStore, err := store.New(&cfg.Store, redisClient)
	if err != nil {
		log.Fatal("failed to open project store", "driver", cfg.Store.Driver, "error", err)
	}
	locker := store.NewLocker(redisClient, cfg.Pipeline.LockTTL)

	storage, err := client.NewStorageClient(&cfg.Storage)
	if err != nil {
		log.Fatal("failed to initialize clip storage", "driver", cfg.Storage.Driver, "error", err)
	}

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
	asynqClient := asynq.NewClient(redisOpt)
	defer asynqClient.Close()

	validate := validator.New()

	hub := ws.NewHub(log.With("component", "hub"))
	go hub.Run()

	gemini := client.NewGeminiClient(&cfg.Gemini, log.With("component", "gemini"))
	if !gemini.IsConfigured() {
		log.Info("no server Gemini key configured, users must connect their own")
	}

	policy := retry.DefaultPolicy()
	if cfg.Pipeline.RetryAttempts > 0 {
		policy.MaxRetries = cfg.Pipeline.RetryAttempts
	}
	if cfg.Pipeline.RetryDelay > 0 {
		policy.InitialDelay = cfg.Pipeline.RetryDelay
	}

	credentialService := service.NewCredentialService(redisClient, gemini, cfg.Gemini.APIKey, log.With("component", "credentials"))
	analyzer := service.NewAnalyzer(gemini, cfg.Gemini.AnalysisModel, policy.Named("script.analyze"), log.With("component", "analyzer"))
	generator := service.NewSceneGenerator(gemini, storage, service.SceneGeneratorConfig{
		Veo:          cfg.Veo,
		PollInterval: cfg.Pipeline.PollInterval,
		PollTimeout:  cfg.Pipeline.PollTimeout,
		SignedURLTTL: cfg.Storage.SignedTTL,
		Retry:        policy,
	}, log.With("component", "generator"))

	pipeline := service.NewPipeline(projectStore, analyzer, generator, storage, credentialService, hub, log.With("component", "pipeline"))
	projectService := service.NewProjectService(projectStore, locker, asynqClient, pipeline, credentialService, storage, cfg.Storage.SignedTTL, log.With("component", "projects"))
	draftService := service.NewDraftService(redisClient)

	// OIDC is optional; without it only legacy HMAC tokens are accepted.
	var verifier auth.TokenVerifier
	if cfg.OIDC.Issuer != "" || cfg.OIDC.Domain != "" {
		oidc, err := auth.NewOIDCVerifier(&cfg.OIDC)
		if err != nil {
			log.Warn("OIDC verifier not initialized", "error", err)
		} else {
			defer oidc.Close()
			verifier = oidc
		}
	}
	authMiddleware := middleware.NewAuthMiddleware(verifier, cfg.JWT.Secret)

	apiAuth := authMiddleware.Authenticate()
	if cfg.Gateway.Enabled {
		log.Info("gateway mode enabled, reading identity headers")
		apiAuth = middleware.GatewayAuthMiddleware()
	}
	rateLimiter := middleware.NewRateLimiter(redisClient, log.With("component", "ratelimit"))

	projectHandler := handler.NewProjectHandler(projectService, validate)
	draftHandler := handler.NewDraftHandler(draftService, validate)
	credentialHandler := handler.NewCredentialHandler(credentialService, validate)
	streamHandler := handler.NewStreamHandler(projectService, hub)
	authHandler := handler.NewAuthHandler(authMiddleware)

	app := fiber.New(fiber.Config{
		ErrorHandler:          customErrorHandler,
		BodyLimit:             20 * 1024 * 1024, // reference images travel as data URLs
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	logFormat := "[${time}] ${status} - ${latency} ${method} ${path}\n"
	if strings.EqualFold(cfg.Server.LogLevel, "debug") {
		logFormat = "[${time}] ${status} - ${latency} ${method} ${path} ${queryParams}\n"
	}
	app.Use(fiberlogger.New(fiberlogger.Config{Format: logFormat}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"timestamp": time.Now().Unix()})
	})
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"services": fiber.Map{
				"gemini":  gemini.IsConfigured(),
				"store":   cfg.Store.Driver,
				"storage": cfg.Storage.Driver,
				"auth":    verifier != nil || cfg.JWT.Secret != "",
			},
		})
	})
	app.Get("/auth/verify", authHandler.Verify)

	if disk, ok := storage.(*client.DiskStorage); ok && strings.HasPrefix(cfg.Storage.Disk.PublicURL, "/") {
		app.Static(cfg.Storage.Disk.PublicURL, disk.Root())
	}

	api := app.Group("/api", apiAuth)

	projects := api.Group("/projects", rateLimiter.ProjectsLimit(cfg.RateLimit.ProjectsPerMin))
	projects.Post("/", projectHandler.Create)
	projects.Get("/", projectHandler.List)
	projects.Get("/:projectId", projectHandler.Get)
	projects.Put("/:projectId/script", projectHandler.UpdateScript)
	projects.Put("/:projectId/config", projectHandler.UpdateConfig)
	projects.Post("/:projectId/run", rateLimiter.RunLimit(cfg.RateLimit.RunsPerHour), projectHandler.Run)
	projects.Post("/:projectId/scenes/:index/retry", rateLimiter.RunLimit(cfg.RateLimit.RunsPerHour), projectHandler.RetryScene)
	projects.Post("/:projectId/reset", projectHandler.Reset)
	projects.Get("/:projectId/scenes/:index/media", projectHandler.Media)

	api.Get("/drafts", draftHandler.Get)
	api.Put("/drafts", draftHandler.Save)

	credentials := api.Group("/credentials", rateLimiter.CredentialLimit(cfg.RateLimit.CredentialPerMin))
	credentials.Get("/", credentialHandler.Status)
	credentials.Post("/", credentialHandler.Connect)
	credentials.Delete("/", credentialHandler.Delete)

	app.Get("/ws/projects/:projectId", apiAuth, streamHandler.Authorize, streamHandler.Serve())

	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.Pipeline.Concurrency,
		Queues:      map[string]int{service.QueuePipeline: 1},
		LogLevel:    asynqLogLevel(cfg.Server.LogLevel),
		Logger:      log.SugaredLogger.Named("asynq"),
		ShutdownTimeout: 10 * time.Second,
	})
	mux := asynq.NewServeMux()
	worker.NewPipelineWorker(pipeline, locker, locker.TTL(), log.With("component", "worker")).Register(mux)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		addr := ":" + cfg.Server.Port
		log.Info("server starting", "addr", addr, "env", cfg.Server.Env)
		return app.Listen(addr)
	})
	g.Go(func() error {
		if err := srv.Start(mux); err != nil {
			return err
		}
		<-gctx.Done()
		srv.Shutdown()
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		hub.Stop()
		return app.ShutdownWithTimeout(10 * time.Second)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("server stopped", "error", err)
	}

	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdownTracing(flushCtx); err != nil {
		log.Warn("failed to flush traces", "error", err)
	}
}

func asynqLogLevel(level string) asynq.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return asynq.DebugLevel
	case "warn":
		return asynq.WarnLevel
	case "error":
		return asynq.ErrorLevel
	}
	return asynq.InfoLevel
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
		message = e.Message
	}

	return response.Error(c, code, response.CodeServiceError, message, nil)
}
