package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/NeuronioAzul/car-dealership-sub000/internal/config"
	"github.com/NeuronioAzul/car-dealership-sub000/internal/event"
	handlerhttp "github.com/NeuronioAzul/car-dealership-sub000/internal/handler/http"
	"github.com/NeuronioAzul/car-dealership-sub000/internal/repository/postgres"
	"github.com/NeuronioAzul/car-dealership-sub000/internal/saga"
	"github.com/NeuronioAzul/car-dealership-sub000/internal/sweeper"
	"github.com/NeuronioAzul/car-dealership-sub000/migrations"
	"github.com/NeuronioAzul/car-dealership-sub000/pkg/database"
	"github.com/NeuronioAzul/car-dealership-sub000/pkg/health"
	"github.com/NeuronioAzul/car-dealership-sub000/pkg/kafka"
	"github.com/NeuronioAzul/car-dealership-sub000/pkg/tracing"
)

// App wires together the orchestrator's components and manages their
// lifecycle.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	pool        *pgxpool.Pool
	redisClient *redis.Client
	producer    *kafka.Producer
	dlq         *kafka.DLQProducer
	consumer    *kafka.Consumer
	sweeper     *sweeper.Sweeper
	server      *http.Server

	tracingShutdown func(context.Context) error
}

// New builds the application: connections, migrations, the coordinator and
// its event wiring, the sweeper and the HTTP server.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger) (*App, error) {
	tracingShutdown, err := tracing.Init(ctx, tracing.Config{
		ServiceName: cfg.ServiceName,
		Endpoint:    cfg.Tracing.Endpoint,
		SampleRatio: cfg.Tracing.SampleRatio,
		Enabled:     cfg.Tracing.Enabled,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}

	pool, err := database.NewPostgresPool(ctx, cfg.PostgresPoolConfig(), log)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := database.RunMigrations(ctx, pool, migrations.FS, log); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	redisClient, err := database.NewRedisClient(ctx, cfg.RedisClientConfig())
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	producer := kafka.NewProducer(kafka.DefaultProducerConfig(cfg.Kafka.Brokers), log)
	dlq := kafka.NewDLQProducer(cfg.Kafka.Brokers, log)

	repo := postgres.NewTransactionRepository(pool)
	dispatcher := event.NewDispatcher(producer, cfg.Dispatch.MaxSendAttempts, cfg.Dispatch.BaseBackoff, log)
	lifecycle := event.NewLifecyclePublisher(producer, log)
	coordinator := saga.NewCoordinator(repo, dispatcher, lifecycle, log)

	intake := event.NewIntake(coordinator, repo, log)
	idempotency := kafka.NewRedisIdempotencyStore(redisClient, cfg.ServiceName, cfg.Redis.IdempotencyTTL)
	resultHandler := kafka.IdempotentHandler(idempotency, log, intake.Handle)

	consumer := kafka.NewConsumer(kafka.ConsumerConfig{
		Brokers:  cfg.Kafka.Brokers,
		GroupID:  cfg.Kafka.GroupID,
		Topic:    event.ResultsTopic,
		MinBytes: 1,
		MaxBytes: 10e6,
	}, resultHandler, dlq, log)

	sw := sweeper.New(repo, coordinator, sweeper.Config{
		Interval:       cfg.Sweeper.Interval,
		StepTimeout:    cfg.Sweeper.StepTimeout,
		MaxStepRetries: cfg.Sweeper.MaxStepRetries,
	}, log)

	healthHandler := health.NewHandler()
	healthHandler.Register("postgres", pool.Ping)
	healthHandler.Register("redis", func(ctx context.Context) error {
		return redisClient.Ping(ctx).Err()
	})
	healthHandler.Register("kafka", producer.Ping)

	sagaHandler := handlerhttp.NewSagaHandler(coordinator, repo, log)
	router := handlerhttp.NewRouter(sagaHandler, healthHandler, log)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &App{
		cfg:             cfg,
		logger:          log,
		pool:            pool,
		redisClient:     redisClient,
		producer:        producer,
		dlq:             dlq,
		consumer:        consumer,
		sweeper:         sw,
		server:          server,
		tracingShutdown: tracingShutdown,
	}, nil
}

// Run starts the result consumer, the recovery sweeper and the HTTP server.
// It blocks until the context is canceled or a component fails fatally.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 3)

	go func() {
		if err := a.consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("result consumer: %w", err)
		}
	}()

	go func() {
		if err := a.sweeper.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("recovery sweeper: %w", err)
		}
	}()

	go func() {
		a.logger.Info("http server listening", slog.String("addr", a.server.Addr))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown stops components in dependency order: stop accepting HTTP traffic,
// flush producers, then close storage connections.
func (a *App) Shutdown(ctx context.Context) {
	a.logger.Info("shutting down")

	if err := a.server.Shutdown(ctx); err != nil {
		a.logger.Error("http server shutdown failed", slog.String("error", err.Error()))
	}
	if err := a.consumer.Close(); err != nil {
		a.logger.Error("consumer close failed", slog.String("error", err.Error()))
	}
	if err := a.producer.Close(); err != nil {
		a.logger.Error("producer close failed", slog.String("error", err.Error()))
	}
	if err := a.dlq.Close(); err != nil {
		a.logger.Error("dlq producer close failed", slog.String("error", err.Error()))
	}
	if err := a.redisClient.Close(); err != nil {
		a.logger.Error("redis close failed", slog.String("error", err.Error()))
	}
	a.pool.Close()

	if err := a.tracingShutdown(ctx); err != nil {
		a.logger.Error("tracing shutdown failed", slog.String("error", err.Error()))
	}

	a.logger.Info("shutdown complete")
}
