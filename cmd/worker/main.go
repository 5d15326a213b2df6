package main

import (
	"github.com/hibiken/asynq"
	"listing-studio-backend/internal/config"
	"listing-studio-backend/internal/imagen"
	"listing-studio-backend/internal/logger"
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

	log := logger.New(cfg.Environment).With().Str("service", "worker").Logger()

	dbClient, err := supabase.NewDatabaseClient(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("connect to database")
	}
	defer dbClient.Close()

	storageClient, err := supabase.NewStorageClient(cfg.SupabaseURL, cfg.SupabaseServiceKey, cfg.SupabaseStorageBucket)
	if err != nil {
		log.Fatal().Err(err).Msg("create storage client")
	}

	supabaseClient, err := supabase.NewClient(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("create supabase client")
	}

	imagenClient := imagen.NewClient(imagen.Options{
		BaseURL:        cfg.ImagenAPIBaseURL,
		APIKey:         cfg.ImagenAPIKey,
		GenerateModel:  cfg.ImagenGenerateModel,
		EditModel:      cfg.ImagenEditModel,
		RemoveModel:    cfg.ImagenRemoveModel,
		RequestTimeout: cfg.ImagenRequestTimeout,
	})

	pipeline := services.NewPipeline(services.Deps{
		Ledger:         dbClient,
		Store:          storageClient,
		Provider:       imagenClient,
		Fetcher:        imagenClient,
		Events:         supabase.NewRealtimeClient(supabaseClient.Supabase),
		Logger:         log,
		IsFinalAttempt: tasks.IsFinalAttempt,
	})

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("parse REDIS_URL")
	}

	worker := tasks.NewWorker(redisOpt, cfg.WorkerConcurrency, pipeline, log)
	log.Info().Int("concurrency", cfg.WorkerConcurrency).Msg("worker starting")

	// Run returns after SIGINT or SIGTERM once in-flight attempts finish.
	if err := worker.Run(); err != nil {
		log.Fatal().Err(err).Msg("worker")
	}
	log.Info().Msg("worker stopped")
}
