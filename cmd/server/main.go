package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"drought-tracker/internal/config"
	"drought-tracker/internal/dataset"
	"drought-tracker/internal/exporter"
	"drought-tracker/internal/handlers"
	"drought-tracker/internal/repository"
	"drought-tracker/internal/services"
	"drought-tracker/pkg/database"
	"drought-tracker/pkg/logging"
	"drought-tracker/pkg/metrics"
)

const version = "1.0.0"

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := logging.NewStructuredLogger("drought-api", version, logging.ParseLevel(cfg.Logging.Level))

	ctx := context.Background()
	logger.Info(ctx, "[STARTUP] Starting drought tracker API server", logging.Fields{
		"version":     version,
		"server_host": cfg.Server.Host,
		"server_port": cfg.Server.Port,
		"source_mode": cfg.Data.SourceMode,
	})

	// Initialize metrics collector
	metricsCollector := metrics.NewCollector("drought_tracker")

	// Initialize dataset session and loader
	session := dataset.NewSession(cfg.Data.SourceMode)
	loader := dataset.NewLoader(dataset.NewCache(metricsCollector), logger, metricsCollector)

	var db *database.PostgresDB

	switch cfg.Data.SourceMode {
	case config.SourceAuto:
		bootstrapFromFiles(ctx, cfg, loader, session, logger)

	case config.SourcePostgres:
		db, err = database.NewPostgresDB(&database.Config{
			Host:            cfg.Database.Host,
			Port:            cfg.Database.Port,
			User:            cfg.Database.User,
			Password:        cfg.Database.Password,
			Database:        cfg.Database.Database,
			SSLMode:         cfg.Database.SSLMode,
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
		}, logger, metricsCollector)
		if err != nil {
			logger.Fatal(ctx, "[STARTUP_ERROR] Failed to connect to database", logging.Fields{}, err)
		}
		defer db.Close()

		bootstrapFromDatabase(ctx, db, session, logger, metricsCollector)

	case config.SourceUpload:
		logger.Info(ctx, "[STARTUP] Upload mode, waiting for datasets", logging.Fields{})
	}

	// Initialize services
	filterService := services.NewFilterService(logger, metricsCollector)
	summaryService := services.NewSummaryService(logger, metricsCollector)
	forecastService := services.NewForecastService(logger, metricsCollector)

	// Initialize handlers
	uploadLimiter := rate.NewLimiter(rate.Limit(cfg.Server.UploadRateLimit), cfg.Server.UploadRateBurst)
	dashboardHandler := handlers.NewDashboardHandler(
		session,
		loader,
		filterService,
		summaryService,
		forecastService,
		exporter.NewExporter(logger),
		cfg.Data,
		logger,
		metricsCollector,
		uploadLimiter,
	)

	// Setup router
	router := mux.NewRouter()
	router.Use(
		handlers.RequestIDMiddleware,
		handlers.LoggingMiddleware(logger),
		handlers.MetricsMiddleware(metricsCollector),
	)

	// Register routes
	dashboardHandler.RegisterRoutes(router)

	// Prometheus metrics endpoint
	router.Handle("/metrics", promhttp.Handler())

	// Create HTTP server
	server := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	go func() {
		logger.Info(ctx, "[SERVER_START] HTTP server listening", logging.Fields{
			"address": server.Addr,
		})

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal(ctx, "[SERVER_ERROR] Server failed", logging.Fields{}, err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info(ctx, "[SHUTDOWN] Shutting down server...", logging.Fields{})

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "[SHUTDOWN_ERROR] Server forced to shutdown", logging.Fields{}, err)
	}

	logger.Info(ctx, "[SHUTDOWN_COMPLETE] Server stopped", logging.Fields{})
}

// bootstrapFromFiles loads the bundled CSV datasets. The historical table is
// required; a missing forecast file degrades the forecast panels only.
func bootstrapFromFiles(ctx context.Context, cfg *config.Config, loader *dataset.Loader, session *dataset.Session, logger *logging.StructuredLogger) {
	hist, err := loader.LoadHistorical(ctx, cfg.Data.HistoricalPath())
	if err != nil {
		logger.Fatal(ctx, "[STARTUP_ERROR] Failed to load historical dataset", logging.Fields{
			"path": cfg.Data.HistoricalPath(),
		}, err)
	}
	session.SetHistorical(hist)

	fc, err := loader.LoadForecast(ctx, cfg.Data.ForecastPath())
	if err != nil {
		logger.Warn(ctx, "[STARTUP] Forecast dataset unavailable, forecast panels degraded", logging.Fields{
			"path":  cfg.Data.ForecastPath(),
			"error": err.Error(),
		})
		return
	}
	session.SetForecast(fc)
}

// bootstrapFromDatabase loads both tables through the repository.
func bootstrapFromDatabase(ctx context.Context, db *database.PostgresDB, session *dataset.Session, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) {
	repo := repository.NewDatasetRepository(db, logger, metricsCollector)

	hist, err := repo.LoadHistorical(ctx)
	if err != nil {
		logger.Fatal(ctx, "[STARTUP_ERROR] Failed to load historical records", logging.Fields{}, err)
	}
	session.SetHistorical(hist)

	fc, err := repo.LoadForecast(ctx)
	if err != nil {
		logger.Warn(ctx, "[STARTUP] Forecast records unavailable, forecast panels degraded", logging.Fields{
			"error": err.Error(),
		})
		return
	}
	session.SetForecast(fc)
}
