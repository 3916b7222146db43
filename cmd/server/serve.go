package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/fieldcrm/crm-jobs/internal/auth"
	"github.com/fieldcrm/crm-jobs/internal/client"
	"github.com/fieldcrm/crm-jobs/internal/config"
	"github.com/fieldcrm/crm-jobs/internal/handler"
	"github.com/fieldcrm/crm-jobs/internal/logging"
	"github.com/fieldcrm/crm-jobs/internal/middleware"
	"github.com/fieldcrm/crm-jobs/internal/model"
	"github.com/fieldcrm/crm-jobs/internal/scheduler"
	"github.com/fieldcrm/crm-jobs/internal/service"
	"github.com/fieldcrm/crm-jobs/internal/store"
	"github.com/fieldcrm/crm-jobs/internal/worker"
	ws "github.com/fieldcrm/crm-jobs/internal/websocket"
	"github.com/fieldcrm/crm-jobs/pkg/response"
)

const (
	httpShutdownTimeout = 10 * time.Second
	jobShutdownTimeout  = 60 * time.Second
)

func serve(ctx context.Context, cfg *config.Config, useMemory bool) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log := logging.Component("server")

	st, err := openStore(ctx, cfg, useMemory)
	if err != nil {
		return err
	}
	defer st.Close()

	// Redis backs the rate limiter and the activity queue; both degrade
	// gracefully without it
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	var (
		limiterRedis redis.Cmdable
		queue        service.TaskEnqueuer
		asynqClient  *asynq.Client
	)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Warn().Err(err).Msg("Redis not available, rate limiting and activity queue disabled")
	} else {
		limiterRedis = redisClient
		asynqClient = asynq.NewClient(redisOpt(cfg))
		defer asynqClient.Close()
		queue = asynqClient
	}

	activities := service.NewActivityService(queue, st, logging.Component("activity"))
	artifacts := newArtifactStore(cfg, log)

	hub := ws.NewHub(logging.Component("hub"))
	go hub.Run(ctx)

	jobs := service.NewJobService(context.Background(), service.JobServiceDeps{
		Store:     st,
		Registry:  worker.NewRegistry(logging.Component("registry")),
		Runners:   service.NewRunners(cfg, st, activities),
		Hub:       hub,
		Artifacts: artifacts,
		Retry:     service.RetryConfig(&cfg.Jobs),
		Logger:    logging.Component("jobs"),
	})
	configs := service.NewConfigService(st, cfg.Scraper)

	var verifier auth.TokenVerifier
	if cfg.Auth.Enabled && cfg.OIDC.Issuer != "" {
		v, err := auth.NewJWKSVerifier(ctx, &cfg.OIDC)
		if err != nil {
			log.Warn().Err(err).Msg("OIDC verifier unavailable, falling back to HMAC tokens")
		} else {
			verifier = v
		}
	}
	authMiddleware := middleware.NewAuthMiddleware(verifier, cfg.JWT.Secret)

	var protect fiber.Handler
	switch {
	case !cfg.Auth.Enabled:
		log.Info().Msg("operator authentication disabled")
	case cfg.Gateway.Enabled:
		protect = middleware.GatewayAuthMiddleware()
	default:
		protect = authMiddleware.Authenticate()
	}

	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    1024 * 1024,
	})

	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	handler.Register(app, handler.Routes{
		Jobs:    handler.NewJobHandler(jobs, hub),
		Configs: handler.NewConfigHandler(configs, validator.New()),
		Health: handler.NewHealthHandler(handler.HealthDeps{
			Store:         st,
			Redis:         limiterRedis,
			Jobs:          jobs,
			R2Configured:  artifacts != nil,
			AuthAvailable: authMiddleware.Configured() || cfg.Gateway.Enabled,
		}),
		Auth:         handler.NewAuthHandler(verifier, cfg.JWT.Secret),
		Protect:      protect,
		RateLimiter:  middleware.NewRateLimiter(limiterRedis, logging.Component("ratelimit")),
		RunPerHour:   cfg.RateLimit.RunPerHour,
		ConfigPerMin: cfg.RateLimit.ConfigPerMin,
	})

	sched := scheduler.New(jobs, logging.Component("scheduler"))
	if err := sched.Add(model.JobTypeScraper, cfg.Schedule.Scraper); err != nil {
		return err
	}
	if err := sched.Add(model.JobTypeLeadGen, cfg.Schedule.LeadGen); err != nil {
		return err
	}
	if sched.Len() > 0 {
		sched.Start()
	}

	var workerServer *asynq.Server
	if asynqClient != nil {
		workerServer, err = startWorkerServer(cfg, st)
		if err != nil {
			return err
		}
	}

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Server.Port
		log.Info().Str("addr", addr).Msg("server starting")
		errCh <- app.Listen(addr)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), jobShutdownTimeout)
	defer cancel()

	if err := sched.Stop(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("scheduler did not stop in time")
	}
	if err := app.ShutdownWithTimeout(httpShutdownTimeout); err != nil {
		log.Warn().Err(err).Msg("server shutdown error")
	}
	if err := jobs.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("jobs did not finish before shutdown")
	}
	if workerServer != nil {
		workerServer.Shutdown()
	}
	return nil
}

func openStore(ctx context.Context, cfg *config.Config, useMemory bool) (store.Store, error) {
	if useMemory {
		logging.Component("store").Warn().Msg("using in-memory store, state is lost on exit")
		return store.NewMemory(), nil
	}
	if cfg.Database.URL == "" {
		return nil, errors.New("database URL is required (set DATABASE_URL or pass --memory)")
	}

	pool, err := store.Connect(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := store.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return store.NewPostgres(pool), nil
}

func newArtifactStore(cfg *config.Config, log zerolog.Logger) client.ArtifactStore {
	if !cfg.R2Configured() {
		return nil
	}
	r2, err := client.NewR2Client(&cfg.R2)
	if err != nil {
		log.Warn().Err(err).Msg("R2 client unavailable, run artifacts disabled")
		return nil
	}
	return r2
}

func redisOpt(cfg *config.Config) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
}

func startWorkerServer(cfg *config.Config, st store.Store) (*asynq.Server, error) {
	srv := asynq.NewServer(redisOpt(cfg), asynq.Config{
		Concurrency: 4,
		Queues: map[string]int{
			service.ActivityQueue: 1,
		},
		LogLevel: asynqLogLevel(cfg.Server.LogLevel),
	})

	activityWorker := worker.NewActivityWorker(st, logging.Component("activity"))

	mux := asynq.NewServeMux()
	mux.HandleFunc(model.TaskTypeActivityRecord, activityWorker.ProcessTask)

	if err := srv.Start(mux); err != nil {
		return nil, fmt.Errorf("start activity worker: %w", err)
	}
	return srv, nil
}

func asynqLogLevel(level string) asynq.LogLevel {
	switch strings.ToLower(level) {
	case "debug", "trace":
		return asynq.DebugLevel
	case "warn", "warning":
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
