package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/leapstack/leap-collector/internal/config"
	"github.com/leapstack/leap-collector/internal/repo"
	"github.com/leapstack/leap-collector/internal/tracking"
	"github.com/leapstack/leap-collector/internal/utils"
)

func main() {
	var (
		configPath string
		addr       string
	)
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.StringVar(&addr, "addr", ":8081", "Listen address")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)

	service := cfg.Tracking.ServiceName
	if service == "" {
		service = "order-service"
	}

	client := repo.NewCollectorClient(cfg.Tracking.CollectorURL, cfg.Tracking.SendTimeout)
	sender := tracking.NewSender(client, logger, tracking.SenderConfig{
		QueueSize:  cfg.Tracking.QueueSize,
		Timeout:    cfg.Tracking.SendTimeout,
		MaxRetries: cfg.Tracking.MaxRetries,
	})
	limiter := tracking.NewRateLimiterRegistry(cfg.Tracking.DefaultRatePerSec, cfg.Tracking.RateOverrides, nil)
	mw := tracking.NewMiddleware(service, limiter, sender, logger, nil)

	mux := http.NewServeMux()
	mux.HandleFunc("/orders/create", func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(time.Duration(10+rand.Intn(40)) * time.Millisecond)
		_, _ = w.Write([]byte("Order created successfully"))
	})
	mux.HandleFunc("/orders/slow-status", func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(time.Duration(600+rand.Intn(400)) * time.Millisecond)
		_, _ = w.Write([]byte("Order status is processing slowly."))
	})
	mux.HandleFunc("/orders/internal-error", func(http.ResponseWriter, *http.Request) {
		panic("simulated database connection failure")
	})

	srv := &http.Server{Addr: addr, Handler: mw.Wrap(mux), ReadTimeout: 5 * time.Second, WriteTimeout: 5 * time.Second}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go func() {
		logger.Info("demo client listening", slog.String("address", addr), slog.String("service", service), slog.String("collector", cfg.Tracking.CollectorURL))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("demo client exited", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	if err := sender.Close(shutdownCtx); err != nil {
		logger.Warn("log sender did not drain", slog.Any("error", err))
	}
	sent, dropped, failed := sender.Stats()
	logger.Info("demo client stopped", slog.Int64("sent", sent), slog.Int64("dropped", dropped), slog.Int64("failed", failed))
}
