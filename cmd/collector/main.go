package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/leapstack/leap-collector/internal/alerting"
	"github.com/leapstack/leap-collector/internal/api"
	"github.com/leapstack/leap-collector/internal/config"
	"github.com/leapstack/leap-collector/internal/lease"
	"github.com/leapstack/leap-collector/internal/metrics"
	"github.com/leapstack/leap-collector/internal/services"
	"github.com/leapstack/leap-collector/internal/store"
	"github.com/leapstack/leap-collector/internal/utils"
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
	logger.Info("starting leap-collector",
		slog.String("http_address", cfg.Server.HTTPAddress),
		slog.String("grpc_address", cfg.Server.GRPCAddress),
		slog.String("storage", cfg.Storage.Driver),
	)

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	st, err := openStore(cfg.Storage)
	if err != nil {
		logger.Error("failed to open store", slog.Any("error", err))
		os.Exit(1)
	}
	defer st.Close()

	rules, err := alerting.LoadRulePack(cfg.Alerting.RulesPath)
	if err != nil {
		logger.Error("failed to load rule pack", slog.Any("error", err))
		os.Exit(1)
	}
	if rules != nil {
		logger.Info("threshold overrides loaded", slog.Int("overrides", len(rules.Overrides)))
	}

	dedupOpts := []alerting.DeduplicatorOption{alerting.WithSingleWriter(cfg.Alerting.SingleWriter)}
	if cfg.Lease.Enabled {
		provider, err := lease.NewValkeyProvider(lease.ValkeyConfig{
			Addr:         cfg.Lease.Addr,
			Username:     cfg.Lease.Username,
			Password:     cfg.Lease.Password,
			DB:           cfg.Lease.DB,
			DialTimeout:  cfg.Lease.DialTimeout,
			ReadTimeout:  cfg.Lease.ReadTimeout,
			WriteTimeout: cfg.Lease.WriteTimeout,
			MaxRetries:   cfg.Lease.MaxRetries,
			TLS:          cfg.Lease.TLS,
		})
		if err != nil {
			logger.Warn("valkey lease unavailable, continuing with in-process locking only", slog.String("addr", cfg.Lease.Addr), slog.Any("error", err))
		} else {
			defer provider.Close()
			locker := lease.NewLocker(provider, lease.LockerConfig{TTL: cfg.Lease.TTL, Wait: cfg.Lease.WaitTimeout})
			dedupOpts = append(dedupOpts, alerting.WithLease(locker))
			logger.Info("incident creation lease enabled", slog.String("addr", cfg.Lease.Addr))
		}
	}

	evaluator := alerting.NewEvaluator(alerting.Thresholds{
		LatencyThresholdMs: cfg.Alerting.LatencyThresholdMs,
		ErrorStatusMin:     cfg.Alerting.ErrorStatusMin,
	}, rules)
	dedup := alerting.NewDeduplicator(st, logger, dedupOpts...)
	resolver := alerting.NewResolver(st, logger, alerting.WithConflictRetry(cfg.Alerting.ResolveRetry))
	collector := services.NewCollectorService(logger, st, evaluator, dedup, resolver)

	server, err := api.NewServer(cfg.Server, api.NewGRPCService(logger, collector))
	if err != nil {
		logger.Error("failed to create gRPC server", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	httpServer := &http.Server{
		Addr:         cfg.Server.HTTPAddress,
		Handler:      api.NewHTTPHandler(logger, collector, cfg.Server.CORSAllowedOrigins),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	go func() {
		logger.Info("http server listening", slog.String("address", cfg.Server.HTTPAddress))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server exited", slog.Any("error", err))
			stop()
		}
	}()

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
		logger.Info("gRPC server listening", slog.String("address", server.Address()))
		if serveErr := server.Start(); serveErr != nil {
			logger.Error("gRPC server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Warn("http server shutdown", slog.Any("error", err))
	}
	server.Shutdown(shutdownCtx)

	if metricsServer != nil {
		metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancelMetrics()
	}

	logger.Info("leap-collector stopped")
}

func openStore(cfg config.StorageConfig) (store.Store, error) {
	switch cfg.Driver {
	case "memory":
		return store.NewMemory(), nil
	case "bolt":
		return store.OpenBolt(cfg.Path, store.BoltOptions{OpenTimeout: cfg.OpenTimeout, CompressLogs: cfg.CompressLogs})
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
