package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/DukeRupert/sitewatch/internal"
	"github.com/DukeRupert/sitewatch/internal/ai"
	"github.com/DukeRupert/sitewatch/internal/ai/anthropic"
	"github.com/DukeRupert/sitewatch/internal/ai/mock"
	"github.com/DukeRupert/sitewatch/internal/ai/openai"
	"github.com/DukeRupert/sitewatch/internal/alert"
	"github.com/DukeRupert/sitewatch/internal/analysis"
	"github.com/DukeRupert/sitewatch/internal/catalog"
	"github.com/DukeRupert/sitewatch/internal/domain"
	"github.com/DukeRupert/sitewatch/internal/handler"
	"github.com/DukeRupert/sitewatch/internal/lock"
	"github.com/DukeRupert/sitewatch/internal/metrics"
	"github.com/DukeRupert/sitewatch/internal/middleware"
	"github.com/DukeRupert/sitewatch/internal/repository"
	"github.com/DukeRupert/sitewatch/internal/service"
	"github.com/DukeRupert/sitewatch/internal/storage"
	"github.com/DukeRupert/sitewatch/internal/tracker"
)

func run() error {
	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Load configuration
	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	// Configure logger
	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)

	// Initialize database connection
	db, err := internal.OpenDatabase(ctx, cfg.DatabaseDriver, cfg.DatabaseUrl)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()

	// Run migrations
	if err := internal.RunMigrations(db, cfg.DatabaseDriver); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	logger.Info("Database ready", "driver", cfg.DatabaseDriver)

	// Load scene rules and cameras
	scenes, err := catalog.Load(cfg.SceneRulesPath, logger)
	if err != nil {
		return fmt.Errorf("scene rules failed: %w", err)
	}
	cameras, err := catalog.LoadCameras(cfg.CamerasPath, scenes, logger)
	if err != nil {
		return fmt.Errorf("camera directory failed: %w", err)
	}

	// Initialize scene state storage; the provider was validated by NewConfig
	var states storage.Storage
	switch cfg.StateStorageProvider {
	case storage.ProviderR2:
		states, err = storage.NewR2Storage(storage.R2Config{
			AccountID:       cfg.R2AccountID,
			AccessKeyID:     cfg.R2AccessKeyID,
			SecretAccessKey: cfg.R2SecretAccessKey,
			BucketName:      cfg.R2BucketName,
			Endpoint:        cfg.R2Endpoint,
		}, logger)
	case storage.ProviderLocal:
		states, err = storage.NewLocalStorage(storage.LocalConfig{BasePath: cfg.LocalStoragePath}, logger)
	}
	if err != nil {
		return fmt.Errorf("storage initialization failed: %w", err)
	}

	// Initialize locks
	var locker lock.Locker = lock.NewKeyedMutex()
	if cfg.LockProvider == "redis" {
		redisLocker, err := lock.NewRedisLocker(ctx, lock.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			TTL:      cfg.LockTTL,
		}, logger)
		if err != nil {
			return fmt.Errorf("lock initialization failed: %w", err)
		}
		defer redisLocker.Close()
		locker = redisLocker
	}

	sceneTracker, err := tracker.New(ctx, states, tracker.Options{
		Key:      cfg.SceneStateKey,
		Capacity: cfg.SceneHistorySize,
		Locker:   locker,
	}, logger)
	if err != nil {
		return fmt.Errorf("scene tracker initialization failed: %w", err)
	}

	provider, err := newProvider(cfg, logger)
	if err != nil {
		return fmt.Errorf("AI provider initialization failed: %w", err)
	}
	logger.Info("AI provider ready", "provider", cfg.AIProvider)

	// Initialize services
	hazards := service.NewHazardService(db, repository.New(db), logger)
	reconciler := service.NewReconciler(hazards, locker, domain.TransitionPolicy{AllowReopen: cfg.AllowReopenResolved}, logger)

	// Alert fan-out: dashboards always, MQTT when a broker is configured
	hub := alert.NewHub(logger)
	go hub.Run(ctx)

	publishers := []alert.Publisher{hub}
	if cfg.MQTTBrokerURL != "" {
		mqttPublisher, err := alert.NewMQTTPublisher(alert.MQTTConfig{
			BrokerURL:   cfg.MQTTBrokerURL,
			ClientID:    cfg.MQTTClientID,
			TopicPrefix: cfg.MQTTTopicPrefix,
			Username:    cfg.MQTTUsername,
			Password:    cfg.MQTTPassword,
		}, logger)
		if err != nil {
			return fmt.Errorf("MQTT initialization failed: %w", err)
		}
		defer mqttPublisher.Close()
		publishers = append(publishers, mqttPublisher)
	}

	processor := analysis.NewProcessor(analysis.Deps{
		Cameras:    cameras,
		Scenes:     scenes,
		Provider:   provider,
		Normalizer: service.NewFrameNormalizer(cfg.FrameMaxDimension, cfg.FrameJPEGQuality),
		Hazards:    hazards,
		Reconciler: reconciler,
		Tracker:    sceneTracker,
		Emitter:    alert.NewEmitter(logger),
		Publisher:  alert.NewMultiPublisher(logger, publishers...),
	}, analysis.Config{
		HistoryWindow:         cfg.SceneHistorySize,
		RequestTimeout:        cfg.AIRequestTimeout,
		PersistMaxRetries:     cfg.PersistMaxRetries,
		PersistRetryBaseDelay: cfg.PersistRetryBaseDelay,
	}, logger)

	// Initialize middleware
	isSecure := cfg.Env != "development"
	loggingMw := middleware.NewRequestLoggingMiddleware(logger)
	securityMw := middleware.NewSecurityHeadersMiddleware(isSecure)
	metricsAuth := middleware.NewBasicAuthMiddleware("metrics", cfg.MetricsUsername, cfg.MetricsPassword, logger)

	limitCamera, limitScene := passthrough, passthrough
	if cfg.FrameRateLimit > 0 {
		cameraLimiter := middleware.NewRateLimiter(cfg.FrameRateLimit, cfg.FrameRateWindow)
		defer cameraLimiter.Close()
		sceneLimiter := middleware.NewRateLimiter(cfg.FrameRateLimit, cfg.FrameRateWindow)
		defer sceneLimiter.Close()
		limitCamera = middleware.NewFrameRateLimitMiddleware(cameraLimiter, "cameraID", logger).Limit
		limitScene = middleware.NewFrameRateLimitMiddleware(sceneLimiter, "sceneID", logger).Limit
	}

	// ==========================================================================
	// Create router and register routes
	// ==========================================================================

	mux := http.NewServeMux()

	handler.NewHealthHandler(db, sceneTracker, logger).RegisterRoutes(mux)
	mux.Handle("GET /metrics", metricsAuth.Handler(promhttp.Handler()))

	handler.NewFrameHandler(processor, cfg.MaxUploadSize, logger).RegisterRoutes(mux, limitCamera, limitScene)
	handler.NewHazardHandler(hazards, cameras, logger).RegisterRoutes(mux)
	handler.NewSceneHandler(sceneTracker, scenes, cfg.SceneHistorySize, logger).RegisterRoutes(mux)
	handler.NewAlertsHandler(hub, cfg.AlertAllowedOrigins, logger).RegisterRoutes(mux)

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		handler.NotFoundResponse(w, r, logger)
	})

	stack := middleware.Stack(loggingMw.Handler, securityMw.Handler, metrics.Middleware)

	// ==========================================================================
	// Start server
	// ==========================================================================

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           stack(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Channel to listen for interrupt signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Server started", "address", server.Addr, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal or a listener failure
	select {
	case <-sigChan:
		logger.Info("Shutdown signal received, initiating graceful shutdown...")
	case err := <-serverErr:
		return fmt.Errorf("server failed: %w", err)
	}

	// Create shutdown context with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", "error", err)
	}

	// Closes dashboard connections
	stop()

	logger.Info("Graceful shutdown complete")
	return nil
}

func newProvider(cfg *internal.Config, logger *slog.Logger) (ai.VisionProvider, error) {
	providerCfg := ai.ProviderConfig{
		MaxRetries:     cfg.AIMaxRetries,
		RetryBaseDelay: cfg.AIRetryBaseDelay,
		RequestTimeout: cfg.AIRequestTimeout,
	}

	switch cfg.AIProvider {
	case "anthropic":
		return anthropic.New(anthropic.Config{
			APIKey:         cfg.AnthropicAPIKey,
			Model:          cfg.AnthropicModel,
			ProviderConfig: providerCfg,
		}, logger)
	case "openai":
		return openai.New(openai.Config{
			APIKey:         cfg.OpenAIAPIKey,
			BaseURL:        cfg.OpenAIBaseURL,
			Model:          cfg.OpenAIModel,
			ProviderConfig: providerCfg,
		}, logger)
	default:
		logger.Warn("using mock AI provider; hazards will not reflect real frames")
		return mock.New(logger), nil
	}
}

func passthrough(next http.Handler) http.Handler { return next }

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
