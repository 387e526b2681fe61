package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"
	"go.uber.org/automaxprocs/maxprocs"
	"go.uber.org/zap"

	"github.com/edgecomet/pdfrender/internal/common/config"
	logutil "github.com/edgecomet/pdfrender/internal/common/logger"
	"github.com/edgecomet/pdfrender/internal/common/metricsserver"
	"github.com/edgecomet/pdfrender/internal/common/redis"
	"github.com/edgecomet/pdfrender/internal/render/browser"
	"github.com/edgecomet/pdfrender/internal/render/controlplane"
	"github.com/edgecomet/pdfrender/internal/render/gate"
	"github.com/edgecomet/pdfrender/internal/render/ledger"
	"github.com/edgecomet/pdfrender/internal/render/metrics"
	"github.com/edgecomet/pdfrender/internal/render/orchestrator"
	"github.com/edgecomet/pdfrender/internal/render/service"
)

const (
	probeTimeout    = 10 * time.Second
	shutdownTimeout = 30 * time.Second
)

func main() {
	// Parse command line flags
	configPath := flag.StringP("config", "c", "configs/pdf-service.yaml",
		"Path to PDF service configuration file")
	flag.Parse()

	// Initialize logger (will be reconfigured from config)
	initialLogger, err := logutil.NewDefaultLogger()
	if err != nil {
		panic(err)
	}

	// GOMAXPROCS follows the container CPU quota
	_, _ = maxprocs.Set(maxprocs.Logger(func(format string, args ...interface{}) {
		initialLogger.Debug(fmt.Sprintf(format, args...))
	}))

	// Load configuration
	initialLogger.Info("Loading configuration", zap.String("path", *configPath))

	absPath, err := config.GetConfigPath(*configPath)
	if err != nil {
		initialLogger.Fatal("Invalid config path", zap.Error(err))
	}

	configMgr, err := config.NewPSConfigManager(absPath, initialLogger.Logger)
	if err != nil {
		initialLogger.Fatal("Failed to load configuration", zap.Error(err))
	}

	cfg := configMgr.GetConfig()

	// Reconfigure logger based on config settings (uses INFO level during startup if configured level is higher)
	dynamicLogger, err := logutil.NewLoggerWithStartupOverride(cfg.Log)
	if err != nil {
		initialLogger.Fatal("Failed to create configured logger", zap.Error(err))
	}

	logger := dynamicLogger.Logger

	logger.Info("PDF Service starting",
		zap.String("ps", cfg.Server.ID),
		zap.String("listen", cfg.Server.Listen),
		zap.String("concurrency", cfg.Render.Concurrency),
		zap.Duration("timeout", time.Duration(cfg.Render.Timeout)))

	// Initialize metrics collector
	metricsCollector := metrics.NewMetricsCollector(cfg.Metrics.Namespace, logger)

	metricsServer, err := metricsserver.Start(cfg.Metrics, metricsCollector, logger)
	if err != nil {
		logger.Fatal("Failed to start metrics server", zap.Error(err))
	}

	// Launch a managed browser or use the configured endpoint
	endpoint := cfg.Browser.Endpoint
	var browserProcess *browser.Process
	if cfg.Browser.Launch.Enabled {
		browserProcess, err = browser.Launch(cfg.Browser.Launch, logger)
		if err != nil {
			logger.Fatal("Failed to launch browser", zap.Error(err))
		}
		endpoint = browserProcess.Endpoint
	}

	capacity, err := gate.ResolveCapacity(cfg.Render.Concurrency)
	if err != nil {
		browserProcess.Stop()
		logger.Fatal("Invalid render concurrency", zap.Error(err))
	}

	tabs, err := controlplane.NewClient(endpoint, logger,
		controlplane.WithMaxConns(controlplane.MaxConnsFor(capacity)))
	if err != nil {
		browserProcess.Stop()
		logger.Fatal("Invalid browser endpoint", zap.Error(err))
	}

	probeCtx, probeCancel := context.WithTimeout(context.Background(), probeTimeout)
	product, err := browser.Probe(probeCtx, endpoint)
	probeCancel()
	if err != nil {
		browserProcess.Stop()
		logger.Fatal("Browser is not reachable", zap.String("endpoint", endpoint), zap.Error(err))
	}
	logger.Info("Connected to browser",
		zap.String("endpoint", endpoint),
		zap.String("product", product))

	// Render slots
	slots, err := gate.New(capacity)
	if err != nil {
		browserProcess.Stop()
		logger.Fatal("Failed to create render gate", zap.Error(err))
	}
	metricsCollector.UpdateGate(slots.Stats())

	// Tab ledger and sweeper
	var (
		tabLedger   ledger.Ledger = ledger.NopLedger{}
		sweeper     *ledger.Sweeper
		redisClient *redis.Client
	)
	if cfg.Ledger.Enabled {
		redisClient, err = redis.NewClient(&cfg.Redis, logger)
		if err != nil {
			browserProcess.Stop()
			logger.Fatal("Failed to connect to Redis", zap.Error(err))
		}

		tabLedger = ledger.NewRedisLedger(redisClient, cfg.Server.ID, logger)
		sweeper = ledger.NewSweeper(tabLedger, tabs, ledger.SweeperConfig{
			Interval:     time.Duration(cfg.Ledger.SweepInterval),
			Grace:        time.Duration(cfg.Ledger.Grace),
			CloseTimeout: time.Duration(cfg.Render.CloseTimeout),
		}, logger)
		sweeper.OnSweep(metricsCollector.RecordSweep)
	}

	orch := orchestrator.New(slots, tabs, logger,
		orchestrator.WithTimeout(time.Duration(cfg.Render.Timeout)),
		orchestrator.WithCloseTimeout(time.Duration(cfg.Render.CloseTimeout)),
		orchestrator.WithLedger(tabLedger),
		orchestrator.WithObserver(metricsCollector.ObserveTransition),
		orchestrator.WithCloseHook(metricsCollector.RecordTabClose),
	)

	handlers := service.NewHandlers(orch, slots, tabs, metricsCollector, logger)

	// Calculate server timeout from render timeouts + safety margin
	server := service.NewServer(service.ServerConfig{
		Name:        "PDFService/" + cfg.Server.ID,
		MaxBodySize: cfg.Server.MaxBodySize,
		Timeout:     cfg.Render.CalculateServerTimeout(),
	}, handlers)

	// Start server in background goroutine
	serverErrCh := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server",
			zap.String("listen", cfg.Server.Listen))
		if err := server.ListenAndServe(cfg.Server.Listen); err != nil {
			serverErrCh <- err
		}
	}()

	// Wait briefly for HTTP server to start listening
	time.Sleep(100 * time.Millisecond)

	select {
	case err := <-serverErrCh:
		browserProcess.Stop()
		logger.Fatal("HTTP server failed to start", zap.Error(err))
	default:
	}

	if sweeper != nil {
		sweeper.Start()
	}

	logger.Info("PDF Service ready",
		zap.String("ps", cfg.Server.ID),
		zap.String("listen", cfg.Server.Listen),
		zap.Int("capacity", slots.Capacity()),
		zap.Bool("ledger", cfg.Ledger.Enabled))

	// Switch to configured log level after startup is complete
	dynamicLogger.SwitchToConfiguredLevel()

	// Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
	case err := <-serverErrCh:
		logger.Error("Server error", zap.Error(err))
	}

	dynamicLogger.EnsureInfoLevelForShutdown()
	logger.Info("Shutting down gracefully...")

	// Graceful HTTP server shutdown - complete in-flight renders
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := server.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", zap.Error(err))
	}

	// No new sessions can start; waiters are released with an error
	slots.Close()

	if sweeper != nil {
		sweeper.Shutdown()
		// One last pass over stale entries
		closed, failed := sweeper.SweepOnce(shutdownCtx)
		logger.Info("Final tab sweep complete",
			zap.Int("closed", closed),
			zap.Int("failed", failed))
	}

	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			logger.Error("Redis close error", zap.Error(err))
		}
	}

	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Metrics server shutdown error", zap.Error(err))
	}

	browserProcess.Stop()

	logger.Info("PDF Service stopped")
}
