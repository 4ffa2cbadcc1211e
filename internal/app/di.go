// Package app provides dependency injection container for assembling application components.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	nethttp "net/http"
	"os"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/allisson/callsync/internal/config"
	"github.com/allisson/callsync/internal/database"
	"github.com/allisson/callsync/internal/http"
	"github.com/allisson/callsync/internal/httpclient"
	"github.com/allisson/callsync/internal/jobs"
	"github.com/allisson/callsync/internal/metrics"
	monitoringDomain "github.com/allisson/callsync/internal/monitoring/domain"
	monitoringRepository "github.com/allisson/callsync/internal/monitoring/repository"
	ratelimitRepository "github.com/allisson/callsync/internal/ratelimit/repository"
	ratelimitUseCase "github.com/allisson/callsync/internal/ratelimit/usecase"
	"github.com/allisson/callsync/internal/retry"
	taskRepository "github.com/allisson/callsync/internal/taskqueue/repository"
	taskUseCase "github.com/allisson/callsync/internal/taskqueue/usecase"
	webhookHTTP "github.com/allisson/callsync/internal/webhook/http"
	webhookRepository "github.com/allisson/callsync/internal/webhook/repository"
	webhookUseCase "github.com/allisson/callsync/internal/webhook/usecase"
)

// APICallRepository is the monitoring persistence surface shared by the
// resilient client and the admin commands.
type APICallRepository interface {
	Create(ctx context.Context, call *monitoringDomain.APICall) error
	Stats(ctx context.Context, since time.Time) ([]*monitoringDomain.ServiceStats, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Container holds all application dependencies and provides methods to access them.
// It follows the lazy initialization pattern - components are created on first access.
type Container struct {
	// Configuration
	config *config.Config

	// Infrastructure
	logger *slog.Logger
	db     *sql.DB

	// Managers
	txManager database.TxManager

	// Metrics
	metricsProvider *metrics.Provider
	businessMetrics metrics.BusinessMetrics

	// Repositories
	rateLimitRepo ratelimitUseCase.RateLimitRepository
	apiCallRepo   APICallRepository
	webhookRepo   webhookUseCase.WebhookRepository
	taskRepo      taskUseCase.TaskRepository

	// Use Cases
	rateLimiter  ratelimitUseCase.Limiter
	httpClient   *httpclient.Client
	deduplicator *webhookUseCase.Deduplicator
	verifier     *webhookHTTP.SignatureVerifier
	taskQueue    *taskUseCase.Queue
	registry     *taskUseCase.Registry
	worker       *taskUseCase.Worker

	// Servers
	httpServer    *http.Server
	metricsServer *http.MetricsServer

	// Initialization flags and mutex for thread-safety
	mu                  sync.Mutex
	loggerInit          sync.Once
	dbInit              sync.Once
	txManagerInit       sync.Once
	metricsProviderInit sync.Once
	businessMetricsInit sync.Once
	rateLimitRepoInit   sync.Once
	apiCallRepoInit     sync.Once
	webhookRepoInit     sync.Once
	taskRepoInit        sync.Once
	rateLimiterInit     sync.Once
	httpClientInit      sync.Once
	deduplicatorInit    sync.Once
	verifierInit        sync.Once
	taskQueueInit       sync.Once
	registryInit        sync.Once
	workerInit          sync.Once
	httpServerInit      sync.Once
	metricsServerInit   sync.Once
	initErrors          map[string]error
}

// NewContainer creates a new dependency injection container with the provided configuration.
func NewContainer(cfg *config.Config) *Container {
	return &Container{
		config:     cfg,
		initErrors: make(map[string]error),
	}
}

// Config returns the application configuration.
func (c *Container) Config() *config.Config {
	return c.config
}

// Logger returns the configured logger instance.
// It creates a new logger on first access based on the log level in configuration.
func (c *Container) Logger() *slog.Logger {
	c.loggerInit.Do(func() {
		c.logger = c.initLogger()
	})
	return c.logger
}

// DB returns the database connection.
// It creates and configures the database connection on first access.
func (c *Container) DB() (*sql.DB, error) {
	var err error
	c.dbInit.Do(func() {
		c.db, err = c.initDB()
		if err != nil {
			c.initErrors["db"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["db"]; exists {
		return nil, storedErr
	}
	return c.db, nil
}

// TxManager returns the transaction manager.
// It requires a database connection to be initialized first.
func (c *Container) TxManager() (database.TxManager, error) {
	var err error
	c.txManagerInit.Do(func() {
		c.txManager, err = c.initTxManager()
		if err != nil {
			c.initErrors["txManager"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["txManager"]; exists {
		return nil, storedErr
	}
	return c.txManager, nil
}

// MetricsProvider returns the OpenTelemetry metrics provider, or nil when
// metrics are disabled.
func (c *Container) MetricsProvider() (*metrics.Provider, error) {
	var err error
	c.metricsProviderInit.Do(func() {
		if !c.config.MetricsEnabled {
			return
		}
		c.metricsProvider, err = metrics.NewProvider(c.config.MetricsNamespace)
		if err != nil {
			c.initErrors["metricsProvider"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["metricsProvider"]; exists {
		return nil, storedErr
	}
	return c.metricsProvider, nil
}

// BusinessMetrics returns the business metrics recorder. A no-op recorder is
// returned when metrics are disabled.
func (c *Container) BusinessMetrics() (metrics.BusinessMetrics, error) {
	var err error
	c.businessMetricsInit.Do(func() {
		c.businessMetrics, err = c.initBusinessMetrics()
		if err != nil {
			c.initErrors["businessMetrics"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["businessMetrics"]; exists {
		return nil, storedErr
	}
	return c.businessMetrics, nil
}

// RateLimitRepository returns the rate-limit repository instance.
func (c *Container) RateLimitRepository() (ratelimitUseCase.RateLimitRepository, error) {
	var err error
	c.rateLimitRepoInit.Do(func() {
		c.rateLimitRepo, err = c.initRateLimitRepository()
		if err != nil {
			c.initErrors["rateLimitRepo"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["rateLimitRepo"]; exists {
		return nil, storedErr
	}
	return c.rateLimitRepo, nil
}

// APICallRepository returns the outbound-call monitoring repository instance.
func (c *Container) APICallRepository() (APICallRepository, error) {
	var err error
	c.apiCallRepoInit.Do(func() {
		c.apiCallRepo, err = c.initAPICallRepository()
		if err != nil {
			c.initErrors["apiCallRepo"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["apiCallRepo"]; exists {
		return nil, storedErr
	}
	return c.apiCallRepo, nil
}

// WebhookRepository returns the webhook deduplication repository instance.
func (c *Container) WebhookRepository() (webhookUseCase.WebhookRepository, error) {
	var err error
	c.webhookRepoInit.Do(func() {
		c.webhookRepo, err = c.initWebhookRepository()
		if err != nil {
			c.initErrors["webhookRepo"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["webhookRepo"]; exists {
		return nil, storedErr
	}
	return c.webhookRepo, nil
}

// TaskRepository returns the async task repository instance.
func (c *Container) TaskRepository() (taskUseCase.TaskRepository, error) {
	var err error
	c.taskRepoInit.Do(func() {
		c.taskRepo, err = c.initTaskRepository()
		if err != nil {
			c.initErrors["taskRepo"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["taskRepo"]; exists {
		return nil, storedErr
	}
	return c.taskRepo, nil
}

// RateLimiter returns the persisted token-bucket limiter.
func (c *Container) RateLimiter() (ratelimitUseCase.Limiter, error) {
	var err error
	c.rateLimiterInit.Do(func() {
		c.rateLimiter, err = c.initRateLimiter()
		if err != nil {
			c.initErrors["rateLimiter"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["rateLimiter"]; exists {
		return nil, storedErr
	}
	return c.rateLimiter, nil
}

// HTTPClient returns the resilient outbound HTTP client.
func (c *Container) HTTPClient() (*httpclient.Client, error) {
	var err error
	c.httpClientInit.Do(func() {
		c.httpClient, err = c.initHTTPClient()
		if err != nil {
			c.initErrors["httpClient"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["httpClient"]; exists {
		return nil, storedErr
	}
	return c.httpClient, nil
}

// Deduplicator returns the webhook deduplicator.
func (c *Container) Deduplicator() (*webhookUseCase.Deduplicator, error) {
	var err error
	c.deduplicatorInit.Do(func() {
		c.deduplicator, err = c.initDeduplicator()
		if err != nil {
			c.initErrors["deduplicator"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["deduplicator"]; exists {
		return nil, storedErr
	}
	return c.deduplicator, nil
}

// SignatureVerifier returns the webhook signature verifier.
func (c *Container) SignatureVerifier() (*webhookHTTP.SignatureVerifier, error) {
	var err error
	c.verifierInit.Do(func() {
		if c.config.WebhookMasterSecret == "" {
			err = fmt.Errorf("WEBHOOK_MASTER_SECRET is not configured")
			c.initErrors["verifier"] = err
			return
		}
		c.verifier = webhookHTTP.NewSignatureVerifier([]byte(c.config.WebhookMasterSecret))
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["verifier"]; exists {
		return nil, storedErr
	}
	return c.verifier, nil
}

// TaskQueue returns the async task queue.
func (c *Container) TaskQueue() (*taskUseCase.Queue, error) {
	var err error
	c.taskQueueInit.Do(func() {
		c.taskQueue, err = c.initTaskQueue()
		if err != nil {
			c.initErrors["taskQueue"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["taskQueue"]; exists {
		return nil, storedErr
	}
	return c.taskQueue, nil
}

// Registry returns the task handler registry with all pipeline handlers bound.
func (c *Container) Registry() (*taskUseCase.Registry, error) {
	var err error
	c.registryInit.Do(func() {
		c.registry, err = c.initRegistry()
		if err != nil {
			c.initErrors["registry"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["registry"]; exists {
		return nil, storedErr
	}
	return c.registry, nil
}

// Worker returns the task queue worker.
func (c *Container) Worker() (*taskUseCase.Worker, error) {
	var err error
	c.workerInit.Do(func() {
		c.worker, err = c.initWorker()
		if err != nil {
			c.initErrors["worker"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["worker"]; exists {
		return nil, storedErr
	}
	return c.worker, nil
}

// HTTPServer returns the HTTP server instance.
func (c *Container) HTTPServer() (*http.Server, error) {
	var err error
	c.httpServerInit.Do(func() {
		c.httpServer, err = c.initHTTPServer()
		if err != nil {
			c.initErrors["httpServer"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["httpServer"]; exists {
		return nil, storedErr
	}
	return c.httpServer, nil
}

// MetricsServer returns the Prometheus metrics server, or nil when metrics
// are disabled.
func (c *Container) MetricsServer() (*http.MetricsServer, error) {
	var err error
	c.metricsServerInit.Do(func() {
		if !c.config.MetricsEnabled {
			return
		}
		c.metricsServer, err = c.initMetricsServer()
		if err != nil {
			c.initErrors["metricsServer"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["metricsServer"]; exists {
		return nil, storedErr
	}
	return c.metricsServer, nil
}

// Shutdown performs cleanup of all initialized resources.
// It should be called when the application is shutting down.
func (c *Container) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var shutdownErrors []error

	// Shutdown HTTP server if initialized
	if c.httpServer != nil {
		if err := c.httpServer.Shutdown(ctx); err != nil {
			shutdownErrors = append(shutdownErrors, fmt.Errorf("http server shutdown: %w", err))
		}
	}

	// Shutdown metrics server if initialized
	if c.metricsServer != nil {
		if err := c.metricsServer.Shutdown(ctx); err != nil {
			shutdownErrors = append(shutdownErrors, fmt.Errorf("metrics server shutdown: %w", err))
		}
	}

	// Shutdown metrics provider if initialized
	if c.metricsProvider != nil {
		if err := c.metricsProvider.Shutdown(ctx); err != nil {
			shutdownErrors = append(shutdownErrors, fmt.Errorf("metrics provider shutdown: %w", err))
		}
	}

	// Close database connection if initialized
	if c.db != nil {
		if err := c.db.Close(); err != nil {
			shutdownErrors = append(shutdownErrors, fmt.Errorf("database close: %w", err))
		}
	}

	// Return combined errors if any occurred
	if len(shutdownErrors) > 0 {
		return fmt.Errorf("shutdown errors: %v", shutdownErrors)
	}

	return nil
}

// initLogger creates and configures a structured logger based on the log level.
func (c *Container) initLogger() *slog.Logger {
	var logLevel slog.Level
	switch c.config.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})

	return slog.New(handler)
}

// initDB creates and configures the database connection.
func (c *Container) initDB() (*sql.DB, error) {
	db, err := database.Connect(database.Config{
		Driver:             c.config.DBDriver,
		ConnectionString:   c.config.DBConnectionString,
		MaxOpenConnections: c.config.DBMaxOpenConnections,
		MaxIdleConnections: c.config.DBMaxIdleConnections,
		ConnMaxLifetime:    c.config.DBConnMaxLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// initTxManager creates the transaction manager using the database connection.
func (c *Container) initTxManager() (database.TxManager, error) {
	db, err := c.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database for tx manager: %w", err)
	}
	return database.NewTxManager(db), nil
}

// initBusinessMetrics creates the business metrics recorder.
func (c *Container) initBusinessMetrics() (metrics.BusinessMetrics, error) {
	if !c.config.MetricsEnabled {
		return metrics.NewNoOpBusinessMetrics(), nil
	}

	provider, err := c.MetricsProvider()
	if err != nil {
		return nil, fmt.Errorf("failed to get metrics provider for business metrics: %w", err)
	}

	businessMetrics, err := metrics.NewBusinessMetrics(provider.MeterProvider(), c.config.MetricsNamespace)
	if err != nil {
		return nil, fmt.Errorf("failed to create business metrics: %w", err)
	}

	return businessMetrics, nil
}

// initRateLimitRepository creates the rate-limit repository instance.
func (c *Container) initRateLimitRepository() (ratelimitUseCase.RateLimitRepository, error) {
	db, err := c.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database for rate limit repository: %w", err)
	}

	// Select the appropriate repository based on the database driver
	switch c.config.DBDriver {
	case "mysql":
		return ratelimitRepository.NewMySQLRateLimitRepository(db), nil
	case "postgres":
		return ratelimitRepository.NewPostgreSQLRateLimitRepository(db), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", c.config.DBDriver)
	}
}

// initAPICallRepository creates the monitoring repository instance.
func (c *Container) initAPICallRepository() (APICallRepository, error) {
	db, err := c.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database for api call repository: %w", err)
	}

	// Select the appropriate repository based on the database driver
	switch c.config.DBDriver {
	case "mysql":
		return monitoringRepository.NewMySQLAPICallRepository(db), nil
	case "postgres":
		return monitoringRepository.NewPostgreSQLAPICallRepository(db), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", c.config.DBDriver)
	}
}

// initWebhookRepository creates the webhook repository instance.
func (c *Container) initWebhookRepository() (webhookUseCase.WebhookRepository, error) {
	db, err := c.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database for webhook repository: %w", err)
	}

	// Select the appropriate repository based on the database driver
	switch c.config.DBDriver {
	case "mysql":
		return webhookRepository.NewMySQLWebhookRepository(db), nil
	case "postgres":
		return webhookRepository.NewPostgreSQLWebhookRepository(db), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", c.config.DBDriver)
	}
}

// initTaskRepository creates the task repository instance.
func (c *Container) initTaskRepository() (taskUseCase.TaskRepository, error) {
	db, err := c.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database for task repository: %w", err)
	}

	// Select the appropriate repository based on the database driver
	switch c.config.DBDriver {
	case "mysql":
		return taskRepository.NewMySQLTaskRepository(db), nil
	case "postgres":
		return taskRepository.NewPostgreSQLTaskRepository(db), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", c.config.DBDriver)
	}
}

// initRateLimiter creates the token-bucket limiter and probes its tables.
func (c *Container) initRateLimiter() (ratelimitUseCase.Limiter, error) {
	txManager, err := c.TxManager()
	if err != nil {
		return nil, fmt.Errorf("failed to get tx manager for rate limiter: %w", err)
	}

	repo, err := c.RateLimitRepository()
	if err != nil {
		return nil, fmt.Errorf("failed to get rate limit repository for rate limiter: %w", err)
	}

	limiterConfig := ratelimitUseCase.Config{
		DefaultMaxRequestsPerMinute: c.config.RateLimitDefaultPerMinute,
		DefaultMaxRequestsPerHour:   c.config.RateLimitDefaultPerHour,
	}

	return ratelimitUseCase.NewTokenBucketLimiter(
		context.Background(),
		limiterConfig,
		txManager,
		repo,
		c.Logger(),
	), nil
}

// initHTTPClient creates the resilient outbound HTTP client.
func (c *Container) initHTTPClient() (*httpclient.Client, error) {
	limiter, err := c.RateLimiter()
	if err != nil {
		return nil, fmt.Errorf("failed to get rate limiter for http client: %w", err)
	}

	apiCallRepo, err := c.APICallRepository()
	if err != nil {
		return nil, fmt.Errorf("failed to get api call repository for http client: %w", err)
	}

	businessMetrics, err := c.BusinessMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to get business metrics for http client: %w", err)
	}

	return httpclient.NewClient(
		&nethttp.Client{Timeout: c.config.HTTPClientTimeout},
		limiter,
		retry.APICallConfig(),
		apiCallRepo,
		businessMetrics,
		c.Logger(),
	), nil
}

// initDeduplicator creates the webhook deduplicator.
func (c *Container) initDeduplicator() (*webhookUseCase.Deduplicator, error) {
	txManager, err := c.TxManager()
	if err != nil {
		return nil, fmt.Errorf("failed to get tx manager for deduplicator: %w", err)
	}

	repo, err := c.WebhookRepository()
	if err != nil {
		return nil, fmt.Errorf("failed to get webhook repository for deduplicator: %w", err)
	}

	dedupConfig := webhookUseCase.Config{
		DefaultTTL:   c.config.WebhookDefaultTTL,
		LogRetention: c.config.WebhookLogRetention,
	}

	return webhookUseCase.NewDeduplicator(dedupConfig, txManager, repo, c.Logger()), nil
}

// initTaskQueue creates the async task queue.
func (c *Container) initTaskQueue() (*taskUseCase.Queue, error) {
	txManager, err := c.TxManager()
	if err != nil {
		return nil, fmt.Errorf("failed to get tx manager for task queue: %w", err)
	}

	repo, err := c.TaskRepository()
	if err != nil {
		return nil, fmt.Errorf("failed to get task repository for task queue: %w", err)
	}

	return taskUseCase.NewQueue(txManager, repo, c.Logger()), nil
}

// initRegistry creates the handler registry and binds all pipeline handlers.
func (c *Container) initRegistry() (*taskUseCase.Registry, error) {
	httpClient, err := c.HTTPClient()
	if err != nil {
		return nil, fmt.Errorf("failed to get http client for registry: %w", err)
	}

	taskQueue, err := c.TaskQueue()
	if err != nil {
		return nil, fmt.Errorf("failed to get task queue for registry: %w", err)
	}

	jobsConfig := jobs.Config{
		RingoverBaseURL:    c.config.RingoverBaseURL,
		RingoverAPIKey:     c.config.RingoverAPIKey,
		OpenAIBaseURL:      c.config.OpenAIBaseURL,
		OpenAIAPIKey:       c.config.OpenAIAPIKey,
		PipedriveBaseURL:   c.config.PipedriveBaseURL,
		PipedriveAPIToken:  c.config.PipedriveAPIToken,
		TranscriptionModel: c.config.TranscriptionModel,
	}

	registry := taskUseCase.NewRegistry()
	jobs.RegisterAll(registry, httpClient, taskQueue, jobsConfig)

	return registry, nil
}

// initWorker creates the task queue worker.
func (c *Container) initWorker() (*taskUseCase.Worker, error) {
	txManager, err := c.TxManager()
	if err != nil {
		return nil, fmt.Errorf("failed to get tx manager for worker: %w", err)
	}

	repo, err := c.TaskRepository()
	if err != nil {
		return nil, fmt.Errorf("failed to get task repository for worker: %w", err)
	}

	registry, err := c.Registry()
	if err != nil {
		return nil, fmt.Errorf("failed to get registry for worker: %w", err)
	}

	businessMetrics, err := c.BusinessMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to get business metrics for worker: %w", err)
	}

	workerConfig := taskUseCase.WorkerConfig{
		PollInterval: c.config.WorkerPollInterval,
		LeaseTimeout: c.config.WorkerLeaseTimeout,
	}

	return taskUseCase.NewWorker(workerConfig, txManager, repo, registry, businessMetrics, c.Logger()), nil
}

// initHTTPServer creates the HTTP server with all its dependencies.
func (c *Container) initHTTPServer() (*http.Server, error) {
	logger := c.Logger()

	db, err := c.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database for http server: %w", err)
	}

	verifier, err := c.SignatureVerifier()
	if err != nil {
		return nil, fmt.Errorf("failed to get signature verifier for http server: %w", err)
	}

	deduplicator, err := c.Deduplicator()
	if err != nil {
		return nil, fmt.Errorf("failed to get deduplicator for http server: %w", err)
	}

	taskQueue, err := c.TaskQueue()
	if err != nil {
		return nil, fmt.Errorf("failed to get task queue for http server: %w", err)
	}

	webhookHandler := webhookHTTP.NewWebhookHandler(verifier, deduplicator, taskQueue, logger)

	var metricsMiddleware gin.HandlerFunc
	if provider, err := c.MetricsProvider(); err != nil {
		return nil, fmt.Errorf("failed to get metrics provider for http server: %w", err)
	} else if provider != nil {
		metricsMiddleware = metrics.HTTPMetricsMiddleware(provider.MeterProvider(), c.config.MetricsNamespace)
	}

	server := http.NewServer(db, c.config.ServerHost, c.config.ServerPort, logger)
	server.SetupRouter(http.RouterConfig{
		GinMode:                 c.config.GetGinMode(),
		CORSEnabled:             c.config.CORSEnabled,
		CORSAllowOrigins:        c.config.CORSAllowOrigins,
		RateLimitEnabled:        c.config.WebhookRateLimitEnabled,
		RateLimitRequestsPerSec: c.config.WebhookRateLimitRequestsPerSec,
		RateLimitBurst:          c.config.WebhookRateLimitBurst,
		MetricsMiddleware:       metricsMiddleware,
	}, webhookHandler)

	return server, nil
}

// initMetricsServer creates the Prometheus metrics server.
func (c *Container) initMetricsServer() (*http.MetricsServer, error) {
	provider, err := c.MetricsProvider()
	if err != nil {
		return nil, fmt.Errorf("failed to get metrics provider for metrics server: %w", err)
	}

	return http.NewMetricsServer(c.config.ServerHost, c.config.MetricsPort, c.Logger(), provider), nil
}
