package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	_ "loan-ledger/docs"
	"loan-ledger/internal/api"
	"loan-ledger/internal/batch"
	"loan-ledger/internal/config"
	"loan-ledger/internal/domain/loan"
	"loan-ledger/internal/event"
	"loan-ledger/internal/infrastructure/database/postgres"
	lockmemory "loan-ledger/internal/infrastructure/lock/memory"
	lockredis "loan-ledger/internal/infrastructure/lock/redis"
	"loan-ledger/internal/infrastructure/logging"
	"loan-ledger/internal/infrastructure/storage/file"
	"loan-ledger/internal/infrastructure/storage/memory"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/spf13/afero"
)

const (
	defaultReconcileSchedule = "0 3 * * *"
	defaultReconcileTimeout  = 30 * time.Minute
	shutdownTimeout          = 15 * time.Second
)

// infrastructure holds the connections owned by the process. Nil fields were
// not configured.
type infrastructure struct {
	dbPool       *pgxpool.Pool
	redisClient  *redis.Client
	rabbitMQConn *amqp.Connection
}

// @title Loan Ledger API
// @version 1.0
// @description Creates loans with flat simple interest, records payments and reports ledgers and account overviews.

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8080
// @BasePath /
func main() {
	cfg, logger := initializeApp()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	infra := &infrastructure{}
	repo, err := initializeStorage(ctx, cfg, infra, logger)
	if err != nil {
		logger.Error("Failed to initialize storage", "driver", cfg.Storage.Driver, "error", err)
		os.Exit(1)
	}
	defer closeDatabase(infra.dbPool, logger)

	locker, err := initializeLocker(ctx, cfg, infra, logger)
	if err != nil {
		logger.Error("Failed to initialize loan locker", "driver", cfg.Lock.Driver, "error", err)
		os.Exit(1)
	}

	publisher := initializePublisher(cfg, infra, logger)
	ledgerService := loan.NewLedger(repo, locker, publisher, logger)

	cronScheduler := startBatchJobs(cfg, logger, batch.NewReconcileLedgerJob(repo, cfg.Batch.ReconcileWorkers, logger))
	router := api.SetupRouter(ctx, ledgerService, cfg, logger)

	srv, serverErrors, shutdownChan := startServer(cfg, router, logger)
	handleShutdown(srv, cronScheduler, infra, shutdownChan, serverErrors, logger)
}

func initializeApp() (*config.Config, *slog.Logger) {
	cfg, err := config.LoadConfig(".")
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg.Logger)
	slog.SetDefault(logger)
	logger.Info("Application starting...",
		"storage", cfg.Storage.Driver,
		"lock", cfg.Lock.Driver,
		"rabbitmq_enabled", cfg.RabbitMQ.Enabled,
	)

	return cfg, logger
}

func initializeStorage(ctx context.Context, cfg *config.Config, infra *infrastructure, logger *slog.Logger) (loan.Repository, error) {
	switch cfg.Storage.Driver {
	case config.StorageMemory, "":
		logger.Warn("Using in-memory storage; ledger data is lost on restart.")
		return memory.NewLoanStore(logger), nil

	case config.StorageFile:
		logger.Info("Using file storage", "path", cfg.Storage.FilePath)
		store, err := file.NewLoanStore(afero.NewOsFs(), cfg.Storage.FilePath, logger)
		if err != nil {
			return nil, err
		}
		return store, nil

	case config.StoragePostgres:
		logger.Info("Initializing database connection pool...")
		dbPool, err := postgres.NewConnectionPool(ctx, cfg.Database, logger)
		if err != nil {
			return nil, err
		}
		infra.dbPool = dbPool

		repo := postgres.NewLoanRepository(dbPool, logger)
		if err := repo.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("failed to ensure ledger schema: %w", err)
		}
		return repo, nil

	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}

func closeDatabase(dbPool *pgxpool.Pool, logger *slog.Logger) {
	if dbPool == nil {
		return
	}
	logger.Info("Closing database connection pool...")
	dbPool.Close()
}

func initializeLocker(ctx context.Context, cfg *config.Config, infra *infrastructure, logger *slog.Logger) (loan.Locker, error) {
	switch cfg.Lock.Driver {
	case config.LockMemory, "":
		logger.Info("Using in-process loan locks.")
		return lockmemory.NewKeyedMutex(), nil

	case config.LockRedis:
		redisClient, err := initializeRedisClient(ctx, cfg.Redis, logger)
		if err != nil {
			return nil, err
		}
		infra.redisClient = redisClient
		return lockredis.NewLocker(redisClient, cfg.Lock.TTL, cfg.Lock.RetryInterval, logger), nil

	default:
		return nil, fmt.Errorf("unknown lock driver %q", cfg.Lock.Driver)
	}
}

func initializeRedisClient(ctx context.Context, cfg config.RedisConfig, logger *slog.Logger) (*redis.Client, error) {
	logger.Info("Initializing Redis client...")
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address (addr) is not configured")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Addr, err)
	}

	logger.Info("Redis client connected successfully.", "addr", cfg.Addr, "db", cfg.DB)
	return rdb, nil
}

func closeRedisClient(redisClient *redis.Client, logger *slog.Logger) {
	if redisClient == nil {
		logger.Info("Redis client was not initialized, skipping close.")
		return
	}
	logger.Info("Closing Redis client connection...")
	if err := redisClient.Close(); err != nil {
		logger.Error("Failed to close Redis client connection gracefully", "error", err)
	} else {
		logger.Info("Redis client connection closed.")
	}
}

// initializePublisher falls back to the no-op publisher when RabbitMQ is
// disabled or unreachable; events are best effort.
func initializePublisher(cfg *config.Config, infra *infrastructure, logger *slog.Logger) event.EventPublisher {
	if !cfg.RabbitMQ.Enabled {
		logger.Info("RabbitMQ disabled, ledger events will not be published.")
		return event.NopPublisher{}
	}

	conn, err := connectRabbitMQ(cfg.RabbitMQ.URL, logger)
	if err != nil {
		logger.Error("Failed to connect to RabbitMQ, continuing without events", "error", err)
		return event.NopPublisher{}
	}
	infra.rabbitMQConn = conn

	publisher, err := event.NewRabbitMQEventPublisher(event.AMQPChannelFactory(conn), cfg.RabbitMQ.ExchangeName, logger)
	if err != nil {
		logger.Error("Failed to set up RabbitMQ publisher, continuing without events", "error", err)
		return event.NopPublisher{}
	}
	return publisher
}

func connectRabbitMQ(uri string, logger *slog.Logger) (*amqp.Connection, error) {
	if uri == "" {
		return nil, fmt.Errorf("RabbitMQ URL is not configured")
	}

	var conn *amqp.Connection
	var err error
	retryCount := 5
	for i := 1; i <= retryCount; i++ {
		conn, err = amqp.Dial(uri)
		if err == nil {
			logger.Info("Successfully connected to RabbitMQ")
			go watchRabbitMQConnection(conn, logger)
			return conn, nil
		}
		logger.Warn("Failed to connect to RabbitMQ, retrying...",
			slog.Int("attempt", i),
			slog.Int("max_attempts", retryCount),
			slog.Any("error", err),
		)
		time.Sleep(time.Duration(i*2) * time.Second)
	}
	return nil, fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", retryCount, err)
}

func watchRabbitMQConnection(conn *amqp.Connection, logger *slog.Logger) {
	blockChan := conn.NotifyBlocked(make(chan amqp.Blocking, 1))
	closeChan := conn.NotifyClose(make(chan *amqp.Error, 1))

	select {
	case b := <-blockChan:
		logger.Warn("RabbitMQ connection blocked", "reason", b.Reason)
	case e := <-closeChan:
		if e != nil {
			logger.Error("RabbitMQ connection closed", slog.Any("error", e))
		}
	}
}

func closeRabbitMQConnection(rabbitConn *amqp.Connection, logger *slog.Logger) {
	switch {
	case rabbitConn == nil:
		logger.Info("RabbitMQ connection was not established, skipping close.")
	case rabbitConn.IsClosed():
		logger.Info("RabbitMQ connection already closed, skipping close.")
	default:
		logger.Info("Closing RabbitMQ connection...")
		if err := rabbitConn.Close(); err != nil {
			logger.Error("Failed to close RabbitMQ connection gracefully", slog.Any("error", err))
		} else {
			logger.Info("RabbitMQ connection closed.")
		}
	}
}

// startBatchJobs returns nil when reconciliation is disabled.
func startBatchJobs(cfg *config.Config, logger *slog.Logger, reconcileJob *batch.ReconcileLedgerJob) *cron.Cron {
	if !cfg.Batch.ReconcileEnabled {
		logger.Info("Ledger reconciliation disabled, cron scheduler not started.")
		return nil
	}

	logger.Info("Initializing batch job scheduler...")
	c := cron.New()

	scheduleSpec := cfg.Batch.ReconcileSchedule
	if scheduleSpec == "" {
		scheduleSpec = defaultReconcileSchedule
		logger.Warn("Reconciliation schedule not configured, using default", "schedule", scheduleSpec)
	}
	jobTimeout := cfg.Batch.ReconcileTimeout
	if jobTimeout <= 0 {
		jobTimeout = defaultReconcileTimeout
	}

	jobID, err := c.AddJob(scheduleSpec, cron.FuncJob(func() {
		jobLogger := logger.With("job_name", "ReconcileLedger")
		jobLogger.Info("Cron triggered: Running ledger reconciliation job.")

		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()

		drifts, runErr := reconcileJob.Run(ctx)
		if runErr != nil {
			jobLogger.Error("Ledger reconciliation job finished with error", "drifted", len(drifts), slog.Any("error", runErr))
		} else {
			jobLogger.Info("Ledger reconciliation job finished.", "drifted", len(drifts))
		}
	}))
	if err != nil {
		logger.Error("Failed to schedule ledger reconciliation job", "schedule", scheduleSpec, slog.Any("error", err))
	} else {
		logger.Info("Scheduled ledger reconciliation job", "schedule", scheduleSpec, "job_id", jobID)
	}

	c.Start()
	logger.Info("Cron scheduler started.")
	return c
}

func stopCronScheduler(cronScheduler *cron.Cron, logger *slog.Logger) {
	if cronScheduler == nil {
		return
	}
	logger.Info("Stopping cron scheduler...")
	select {
	case <-cronScheduler.Stop().Done():
		logger.Info("Cron scheduler stopped gracefully.")
	case <-time.After(shutdownTimeout):
		logger.Warn("Cron scheduler shutdown timed out.")
	}
}

func startServer(cfg *config.Config, router http.Handler, logger *slog.Logger) (*http.Server, <-chan error, <-chan os.Signal) {
	logger.Info("Setting up HTTP server...", "port", cfg.Server.Port)
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		ErrorLog:     slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}

	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("Server listening", "addr", srv.Addr)
		err := srv.ListenAndServe()
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server error", "error", err)
			serverErrors <- err
			return
		}
		logger.Info("Server closed gracefully.")
		serverErrors <- nil
	}()
	return srv, serverErrors, shutdownChan
}

func handleShutdown(srv *http.Server, cronScheduler *cron.Cron, infra *infrastructure,
	shutdownChan <-chan os.Signal, serverErrors <-chan error, logger *slog.Logger) {
	logger.Info("Shutdown handler started. Waiting for signal or server error...")

	triggerReason, serverFailed := waitForShutdownTrigger(shutdownChan, serverErrors, logger)

	logger.Info("Starting graceful shutdown...", "trigger", triggerReason)

	stopCronScheduler(cronScheduler, logger)
	if !serverFailed {
		shutdownHTTPServer(srv, serverErrors, logger)
	}
	closeRabbitMQConnection(infra.rabbitMQConn, logger)
	closeRedisClient(infra.redisClient, logger)

	logger.Info("Application shutdown process complete.")
}

// waitForShutdownTrigger reports whether the server goroutine already exited
// with an error.
func waitForShutdownTrigger(shutdownChan <-chan os.Signal, serverErrors <-chan error, logger *slog.Logger) (string, bool) {
	select {
	case sig := <-shutdownChan:
		logger.Info("Shutdown signal received.", "signal", sig.String())
		return "signal: " + sig.String(), false
	case err := <-serverErrors:
		if err != nil {
			logger.Error("Server exited unexpectedly before signal", "error", err)
			return "server error", true
		}
		logger.Info("Server goroutine finished before signal.")
		return "server exited", true
	}
}

func shutdownHTTPServer(srv *http.Server, serverErrors <-chan error, logger *slog.Logger) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	logger.Info("Shutting down HTTP server...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server graceful shutdown failed", "error", err)
		if err := srv.Close(); err != nil {
			logger.Error("HTTP server forced close failed", "error", err)
		}
	} else {
		logger.Info("HTTP server gracefully stopped.")
	}

	logger.Info("Waiting for server goroutine to confirm exit...")
	select {
	case err := <-serverErrors:
		if err != nil {
			logger.Warn("Server goroutine exited with unexpected error after shutdown", "error", err)
		} else {
			logger.Info("Server goroutine confirmed exit.")
		}
	case <-time.After(5 * time.Second):
		logger.Warn("Timed out waiting for server goroutine confirmation.")
	}
}
