package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ecgstack/ecg-engine/internal/api"
	"github.com/ecgstack/ecg-engine/internal/cache"
	"github.com/ecgstack/ecg-engine/internal/config"
	"github.com/ecgstack/ecg-engine/internal/engine"
	"github.com/ecgstack/ecg-engine/internal/metrics"
	"github.com/ecgstack/ecg-engine/internal/model"
	"github.com/ecgstack/ecg-engine/internal/preprocess"
	"github.com/ecgstack/ecg-engine/internal/repo"
	"github.com/ecgstack/ecg-engine/internal/services"
	"github.com/ecgstack/ecg-engine/internal/utils"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting ecg-engine", slog.String("address", cfg.Server.Address))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	// Model loading is the one process-lifetime I/O operation. It must
	// succeed, with a contract matching the process configuration, before
	// any request is accepted.
	artifact, err := model.Load(cfg.Model.Path)
	if err != nil {
		logger.Error("failed to load model artifact", slog.String("path", cfg.Model.Path), slog.Any("error", err))
		os.Exit(1)
	}
	if err := artifact.ValidateContract(cfg); err != nil {
		logger.Error("model contract mismatch", slog.Any("error", err))
		os.Exit(1)
	}
	network := model.NewNetwork(artifact)
	logger.Info("model loaded",
		slog.String("name", artifact.Name),
		slog.String("version", artifact.Version),
		slog.Int("classes", len(artifact.Contract.Classes)))

	noteEngine, err := engine.NewNoteEngine(cfg.Notes.Path, logger)
	if err != nil {
		logger.Error("failed to load note pack", slog.Any("error", err))
		os.Exit(1)
	}

	resultsStore, err := repo.NewResultsStore(cfg.Results.Path, logger)
	if err != nil {
		logger.Error("failed to load evaluation results", slog.Any("error", err))
		os.Exit(1)
	}

	encoder := preprocess.NewEncoder(cfg.Demographics, logger)
	pipeline := engine.NewPipeline(
		logger,
		preprocess.NewNormalizer(cfg.Signal),
		encoder,
		network,
		engine.NewExplainer(logger, network, network, encoder, len(cfg.Model.Classes)),
		engine.NewHarness(logger, network, cfg.Robustness),
		noteEngine,
	)

	var cacheProvider cache.Provider = cache.NoopProvider{}
	if cfg.Cache.Enabled {
		cacheProvider = cache.NewMemoryProvider(cfg.Cache.MaxEntries)
	}
	defer cacheProvider.Close()

	service := services.NewDiagnosisService(logger, pipeline, resultsStore, cacheProvider, cfg.Cache.AttributionTTL.Std())
	server := api.NewServer(cfg.Server, logger, api.NewHandler(logger, service))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	go func() {
		if serveErr := server.Start(); serveErr != nil {
			logger.Error("HTTP server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout.Std())
	defer cancel()
	server.Shutdown(shutdownCtx)

	if metricsServer != nil {
		metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancelMetrics()
	}

	// Give remaining goroutines time to finish logging
	time.Sleep(100 * time.Millisecond)
	logger.Info("ecg-engine stopped")
}
