package cli

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"quizlab-service/internal/app"
	"quizlab-service/internal/auth"
	"quizlab-service/internal/config"
	"quizlab-service/internal/generation"
	"quizlab-service/internal/infra/memory"
	pgstore "quizlab-service/internal/infra/postgres"
	redisinfra "quizlab-service/internal/infra/redis"
	transport "quizlab-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the lab service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

// dataStore is everything a single persistence backend must provide.
type dataStore interface {
	app.UserStore
	app.LabStore
	app.SessionStore
	app.AnswerStore
	app.TaskStore
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var store dataStore = memory.NewStore()
	if cfg.Postgres.URL != "" {
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
		store = pgstore.NewStore(pool)
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	codeTTL := config.TTLDuration(cfg.Cache.CodeTTL, 10*time.Minute)
	var codes app.CodeIndex
	if redisClient != nil {
		codes = redisinfra.NewCodeCache(redisClient, store, codeTTL)
	} else {
		codes = memory.NewCodeCache(store, codeTTL)
	}

	liveWindow := config.TTLDuration(cfg.Monitor.LiveWindow, 2*time.Minute)
	var activity app.ActivityMarker
	var liveness app.LivenessReader
	if redisClient != nil {
		tracker := redisinfra.NewActivityTracker(redisClient, liveWindow)
		activity, liveness = tracker, tracker
	} else {
		tracker := memory.NewActivityTracker(liveWindow)
		activity, liveness = tracker, tracker
	}

	var gen generation.Generator = generation.StaticGenerator{}
	if cfg.Generation.URL != "" {
		gen = generation.NewLLMGenerator(cfg.Generation.URL, cfg.Generation.Model, cfg.Generation.APIKey)
	}
	runner := generation.NewRunner(store, store, store, gen, uuid.NewString)
	genService := generation.NewService(runner, store, cfg.Generation.Workers, cfg.Generation.Queue)
	defer genService.Close()

	labService := app.NewLabService(store, store).
		WithGeneration(genService).
		WithGenerationStatus(genService)
	if cfg.Limits.UpdatesPerMinute > 0 {
		labService.WithLimiter(app.NewRateLimiter(cfg.Limits.UpdatesPerMinute, cfg.Limits.Burst))
	}
	sessionService := app.NewSessionService(store, store, store, store, codes).
		WithActivityMarker(activity)
	answerService := app.NewAnswerService(store, store, store).
		WithActivityMarker(activity)
	analyticsService := app.NewAnalyticsService(store, store, store)
	monitorService := app.NewMonitorService(store, store, store).
		WithLiveness(liveness)

	tokens := auth.NewTokens(
		cfg.Auth.Secret,
		cfg.Auth.Issuer,
		config.TTLDuration(cfg.Auth.TokenTTL, 24*time.Hour),
	)

	streamInterval := config.TTLDuration(cfg.Monitor.StreamInterval, 2*time.Second)
	monitorHandler := transport.NewMonitorHandler(monitorService, streamInterval)
	handler := transport.NewHandler(
		labService, sessionService, answerService, analyticsService,
		monitorHandler, store, tokens,
	)

	mux := http.NewServeMux()
	handler.Register(mux)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Printf("starting lab service on :%s", finalPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("failed to start server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Println("shutting down server...")
	case <-ctx.Done():
		log.Println("context canceled, shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
