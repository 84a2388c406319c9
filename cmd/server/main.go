// Flowrunner server - workflow execution engine with an HTTP/webhook/
// websocket boundary around it (spec.md §6 external interfaces).
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smilemakc/flowrunner/internal/config"
	"github.com/smilemakc/flowrunner/internal/engine"
	"github.com/smilemakc/flowrunner/internal/executor"
	"github.com/smilemakc/flowrunner/internal/executor/builtin"
	"github.com/smilemakc/flowrunner/internal/infrastructure/api/rest"
	"github.com/smilemakc/flowrunner/internal/infrastructure/cache"
	"github.com/smilemakc/flowrunner/internal/infrastructure/logger"
	"github.com/smilemakc/flowrunner/internal/infrastructure/tracing"
	"github.com/smilemakc/flowrunner/internal/observer"
	"github.com/smilemakc/flowrunner/internal/trigger"
	"github.com/smilemakc/flowrunner/pkg/models"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	appLogger := logger.New(cfg.Logging)
	logger.SetDefault(appLogger)

	appLogger.Info("starting flowrunner server", "version", "1.0.0", "port", cfg.Server.Port)

	tracingProvider, err := tracing.NewProvider(context.Background(), tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		Endpoint:    cfg.Tracing.Endpoint,
		Insecure:    cfg.Tracing.Insecure,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		appLogger.Warn("tracing provider disabled", "error", err)
	} else if tracingProvider != nil {
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tracingProvider.Shutdown(ctx); err != nil {
				appLogger.Error("tracing shutdown failed", "error", err)
			}
		}()
		appLogger.Info("tracing enabled", "endpoint", cfg.Tracing.Endpoint)
	}

	// Redis is optional: the webhook replay guard (§6) falls back to
	// no-op behavior without it. The condition cache is in-process.
	var redisCache *cache.RedisCache
	if cfg.Redis.URL != "" {
		redisCache, err = cache.NewRedisCache(cfg.Redis)
		if err != nil {
			appLogger.Warn("redis cache disabled", "error", err)
			redisCache = nil
		} else {
			defer redisCache.Close()
			appLogger.Info("redis cache connected")
		}
	}

	// Executor registry: the generic work-block handlers (function/
	// api/agent/evaluator/webhook). Control-flow blocks are handled by
	// the engine itself (§4.6).
	executorManager := executor.NewManager()
	if err := builtin.RegisterBuiltins(executorManager); err != nil {
		appLogger.Error("failed to register built-in executors", "error", err)
		os.Exit(1)
	}

	// Observer fan-out: logger always on, websocket/http per config.
	var wsHub *observer.WebSocketHub
	if cfg.Observer.EnableWebSocket {
		wsHub = observer.NewWebSocketHub(appLogger)
	}

	observerManager := observer.NewObserverManager(
		observer.WithLogger(appLogger),
		observer.WithBufferSize(cfg.Observer.BufferSize),
	)

	if cfg.Observer.EnableLogger {
		if err := observerManager.Register(observer.NewLoggerObserver(observer.WithLoggerInstance(appLogger))); err != nil {
			appLogger.Error("failed to register logger observer", "error", err)
		}
	}
	if cfg.Observer.EnableWebSocket && wsHub != nil {
		if err := observerManager.Register(observer.NewWebSocketObserver(wsHub, observer.WithWebSocketLogger(appLogger))); err != nil {
			appLogger.Error("failed to register websocket observer", "error", err)
		}
	}
	if cfg.Observer.EnableHTTP && cfg.Observer.HTTPCallbackURL != "" {
		httpObserver := observer.NewHTTPCallbackObserver(
			cfg.Observer.HTTPCallbackURL,
			observer.WithHTTPMethod(cfg.Observer.HTTPMethod),
			observer.WithHTTPHeaders(cfg.Observer.HTTPHeaders),
			observer.WithHTTPTimeout(cfg.Observer.HTTPTimeout),
			observer.WithHTTPRetry(cfg.Observer.HTTPMaxRetries, cfg.Observer.HTTPRetryDelay, 2.0),
		)
		if err := observerManager.Register(httpObserver); err != nil {
			appLogger.Error("failed to register http observer", "error", err)
		}
	}
	appLogger.Info("observer system initialized", "observer_count", observerManager.Count())

	// Engine: the execution engine proper (§2-§5), configured from
	// EngineConfig and fed every registered observer through a bridge.
	retryPolicy := engine.NoRetryPolicy()
	if cfg.Engine.RetryMaxAttempts > 0 {
		retryPolicy = &engine.RetryPolicy{
			MaxAttempts:     cfg.Engine.RetryMaxAttempts,
			InitialDelay:    cfg.Engine.RetryBaseDelay,
			MaxDelay:        30 * time.Second,
			BackoffStrategy: engine.BackoffExponential,
		}
	}
	eng := engine.NewEngine(
		executorManager,
		engine.WithMaxLayers(cfg.Engine.MaxLayers),
		engine.WithMaxConcurrency(cfg.Engine.MaxConcurrency),
		engine.WithRetryPolicy(retryPolicy),
		engine.WithLogger(appLogger),
		engine.WithObserver(engine.NewManagerBridge(observerManager)),
	)

	workflowStore := rest.NewWorkflowStore()

	runner := trigger.NewRunner(eng, workflowStore, models.ExecuteOptions{
		Deadline: cfg.Trigger.RunTimeout,
	})
	runner.Log = appLogger

	webhookRegistry := trigger.NewWebhookRegistry(runner, redisCache)

	var cronScheduler *trigger.CronScheduler
	if cfg.Trigger.CronEnabled {
		cronScheduler = trigger.NewCronScheduler(runner, redisCache)
		if err := cronScheduler.Start(context.Background(), nil); err != nil {
			appLogger.Error("failed to start cron scheduler", "error", err)
			cronScheduler = nil
		} else {
			defer cronScheduler.Stop()
			appLogger.Info("cron scheduler started")
		}
	}

	// Event triggers are a pub/sub supplement to webhook and cron
	// activation (§6); they need redis as the message bus so they're
	// only available when one is configured.
	var eventListener *trigger.EventListener
	if redisCache != nil {
		eventListener = trigger.NewEventListener(runner, redisCache)
		if err := eventListener.Start(context.Background(), nil); err != nil {
			appLogger.Error("failed to start event listener", "error", err)
			eventListener = nil
		} else {
			defer eventListener.Stop()
			appLogger.Info("event listener started")
		}
	}

	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	loggingMiddleware := rest.NewLoggingMiddleware(appLogger)
	recoveryMiddleware := rest.NewRecoveryMiddleware(appLogger)
	router.Use(recoveryMiddleware.Recovery())
	router.Use(loggingMiddleware.RequestLogger())

	if cfg.Server.CORS {
		router.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, PATCH, OPTIONS")
			c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")
			c.Writer.Header().Set("Access-Control-Max-Age", "86400")
			if c.Request.Method == http.MethodOptions {
				c.AbortWithStatus(http.StatusNoContent)
				return
			}
			c.Next()
		})
	}

	router.GET("/health", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()
		if redisCache != nil {
			if err := redisCache.Health(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": fmt.Sprintf("redis: %s", err.Error())})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})
	router.GET("/ready", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ready"}) })

	if cfg.Observer.EnableWebSocket && wsHub != nil {
		wsHandler := observer.NewWebSocketHandler(wsHub, appLogger)
		router.GET("/ws/executions", func(c *gin.Context) { wsHandler.ServeHTTP(c.Writer, c.Request) })
		router.GET("/ws/health", func(c *gin.Context) { wsHandler.HandleHealthCheck(c.Writer, c.Request) })
	}

	workflowHandlers := rest.NewWorkflowHandlers(workflowStore, appLogger)
	executionHandlers := rest.NewExecutionHandlers(eng, workflowStore, appLogger)
	webhookHandlers := rest.NewWebhookHandlers(webhookRegistry, appLogger)
	triggerHandlers := rest.NewTriggerHandlers(webhookRegistry, cronScheduler, eventListener, redisCache, appLogger)

	apiV1 := router.Group("/api/v1")
	{
		workflows := apiV1.Group("/workflows")
		{
			workflows.POST("", workflowHandlers.HandleCreateWorkflow)
			workflows.GET("", workflowHandlers.HandleListWorkflows)
			workflows.GET("/:workflow_id", workflowHandlers.HandleGetWorkflow)
			workflows.DELETE("/:workflow_id", workflowHandlers.HandleDeleteWorkflow)
			workflows.POST("/:workflow_id/execute", executionHandlers.HandleExecute)
		}

		executions := apiV1.Group("/executions")
		{
			executions.POST("/run", executionHandlers.HandleExecute)
		}

		triggers := apiV1.Group("/triggers")
		{
			triggers.POST("/webhooks", triggerHandlers.HandleCreateWebhookTrigger)
			triggers.DELETE("/webhooks/:path", triggerHandlers.HandleDeleteWebhookTrigger)
			triggers.POST("/cron", triggerHandlers.HandleCreateCronTrigger)
			triggers.DELETE("/cron/:trigger_id", triggerHandlers.HandleDeleteCronTrigger)
			triggers.POST("/events", triggerHandlers.HandleCreateEventTrigger)
			triggers.POST("/events/:event_type/publish", triggerHandlers.HandlePublishEvent)
		}

		apiV1.POST("/webhooks/:path", webhookHandlers.HandleWebhook)
		apiV1.GET("/webhooks/:path", webhookHandlers.HandleWebhookGet)
	}

	appLogger.Info("REST API routes registered")

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		appLogger.Info("http server starting", "host", cfg.Server.Host, "port", cfg.Server.Port)
		serverErrors <- server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			appLogger.Error("server error", "error", err)
			os.Exit(1)
		}
	case sig := <-shutdown:
		appLogger.Info("server shutdown initiated", "signal", sig)
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			appLogger.Error("graceful shutdown failed", "error", err)
			_ = server.Close()
		}
		appLogger.Info("server stopped")
	}
}
