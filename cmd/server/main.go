package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"listing-studio-backend/internal/config"
	"listing-studio-backend/internal/database"
	"listing-studio-backend/internal/handlers"
	"listing-studio-backend/internal/logger"
	"listing-studio-backend/internal/middleware"
	"listing-studio-backend/internal/progress"
	"listing-studio-backend/internal/services"
	"listing-studio-backend/internal/supabase"
	"listing-studio-backend/internal/tasks"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := logger.New("production")
		bootLog.Fatal().Err(err).Msg("load configuration")
	}

	log := logger.New(cfg.Environment)
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx := context.Background()

	dbClient, err := supabase.NewDatabaseClient(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("connect to database")
	}
	defer dbClient.Close()

	migrator, err := database.NewMigrator(cfg.DatabaseURL, log)
	if err != nil {
		log.Fatal().Err(err).Msg("open migrator")
	}
	if err := migrator.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("run migrations")
	}
	migrator.Close()

	storageClient, err := supabase.NewStorageClient(cfg.SupabaseURL, cfg.SupabaseServiceKey, cfg.SupabaseStorageBucket)
	if err != nil {
		log.Fatal().Err(err).Msg("create storage client")
	}

	checks := map[string]handlers.Pinger{"database": dbClient}

	var (
		enqueuer      tasks.Enqueuer
		progressStore progress.Store = progress.NewMemoryStore()
	)
	redisClient := connectRedis(ctx, cfg, log)
	if redisClient != nil {
		defer redisClient.Close()
		checks["redis"] = handlers.PingFunc(func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})
		progressStore = progress.NewRedisStore(redisClient, 0)

		redisOpt := redisClient.Options()
		asynqEnq := tasks.NewAsynqEnqueuer(
			asynq.RedisClientOpt{Addr: redisOpt.Addr, Username: redisOpt.Username, Password: redisOpt.Password, DB: redisOpt.DB, TLSConfig: redisOpt.TLSConfig},
			tasks.Options{MaxRetry: cfg.JobMaxRetry, Timeout: cfg.JobTimeout},
			log,
		)
		defer asynqEnq.Close()
		enqueuer = asynqEnq
	} else {
		enqueuer = tasks.NewNoopEnqueuer(log)
	}

	limit, err := middleware.WorkspaceRateLimiter(cfg.RateLimit)
	if err != nil {
		log.Fatal().Err(err).Str("rate", cfg.RateLimit).Msg("parse RATE_LIMIT")
	}

	healthHandler := handlers.NewHealthHandler(checks)
	projectsHandler := handlers.NewProjectsHandler(dbClient, services.NewProjectCleaner(dbClient, storageClient, log), log)
	imagesHandler := handlers.NewImagesHandler(dbClient, storageClient, enqueuer, log)
	statusHandler := handlers.NewStatusHandler(dbClient, progress.NewEstimator(progressStore), log)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(log))
	router.Use(middleware.Metrics())

	router.GET("/health", healthHandler.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api/v1")
	api.Use(middleware.AuthMiddleware(cfg))

	api.POST("/projects", projectsHandler.CreateProject)
	api.GET("/projects", projectsHandler.ListProjects)
	api.GET("/projects/:project_id", projectsHandler.GetProject)
	api.DELETE("/projects/:project_id", projectsHandler.DeleteProject)
	api.GET("/projects/:project_id/status", statusHandler.GetStatus)

	// Every route below submits provider work.
	api.POST("/projects/:project_id/images", limit, imagesHandler.Upload)
	api.GET("/images/:image_id", imagesHandler.GetImage)
	api.POST("/images/:image_id/edit", limit, imagesHandler.Edit)
	api.POST("/images/:image_id/retry", limit, imagesHandler.Retry)
	api.GET("/images/:image_id/download", imagesHandler.Download)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       time.Minute,
		WriteTimeout:      time.Minute,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Str("environment", cfg.Environment).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown")
	}
	log.Info().Msg("server stopped")
}

// connectRedis returns nil when Redis is not configured or unreachable; the
// server then runs without a job runtime.
func connectRedis(ctx context.Context, cfg *config.Config, log zerolog.Logger) *redis.Client {
	if cfg.RedisURL == "" {
		log.Warn().Msg("REDIS_URL not set, jobs will not be submitted")
		return nil
	}
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("parse REDIS_URL")
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		log.Warn().Err(err).Msg("redis ping failed, jobs will not be submitted")
		client.Close()
		return nil
	}
	return client
}
