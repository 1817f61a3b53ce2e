package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tiergate/tiergate/internal/alert"
	"github.com/tiergate/tiergate/internal/broadcast"
	"github.com/tiergate/tiergate/internal/config"
	"github.com/tiergate/tiergate/internal/engine"
	"github.com/tiergate/tiergate/internal/override"
	"github.com/tiergate/tiergate/internal/registry"
	"github.com/tiergate/tiergate/internal/server"
	"github.com/tiergate/tiergate/internal/stats"
	"github.com/tiergate/tiergate/internal/tracing"
	"github.com/tiergate/tiergate/internal/transport"
)

const broadcastBuffer = 256

var (
	newStreamFactory         = func(redisURL string) (transport.MessageTransport, error) { return transport.NewStream(redisURL) }
	newInMemoryStreamFactory = func() transport.MessageTransport { return transport.NewInMemoryStream() }
)

// resolveMirrorBackend picks the decision mirror transport: Redis streams when
// the mirror is enabled, an in-process buffer otherwise.
func resolveMirrorBackend(cfg *config.Config, logger *slog.Logger) (transport.MessageTransport, error) {
	if !cfg.Mirror.Enabled {
		return newInMemoryStreamFactory(), nil
	}

	redisURL := strings.TrimSpace(cfg.Mirror.RedisURL)
	if redisURL == "" {
		return nil, fmt.Errorf("initialize mirror transport: redis URL is empty")
	}

	mirror, err := newStreamFactory(redisURL)
	if err != nil {
		return nil, fmt.Errorf("initialize mirror transport: %w", err)
	}

	logger.Info("redis mirror transport enabled",
		"redis_url", cfg.Mirror.RedisURL,
		"stream", cfg.Mirror.Stream,
	)
	return mirror, nil
}

// buildAlerter assembles the alert fan-out from the configured channels.
func buildAlerter(cfg *config.Config, logger *slog.Logger) alert.Alerter {
	var alerters []alert.Alerter
	if cfg.Alert.SlackWebhookURL != "" {
		alerters = append(alerters, alert.NewSlackAlerter(cfg.Alert.SlackWebhookURL))
	}
	if cfg.Alert.WebhookURL != "" {
		alerters = append(alerters, alert.NewWebhookAlerter(cfg.Alert.WebhookURL))
	}
	if len(alerters) == 0 {
		return nil
	}
	return alert.NewMultiAlerter(cfg.Alert.Cooldown, logger, alerters...)
}

func main() {
	logLevel := slog.LevelInfo
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	switch cfg.Log.Level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	logger.Info("starting tiergate",
		"port", cfg.Server.Port,
		"liveness_timeout", cfg.Session.LivenessTimeout,
		"history_capacity", cfg.Session.HistoryCapacity,
		"upgrade_dwell", cfg.Policy.UpgradeDwell,
		"mirror_enabled", cfg.Mirror.Enabled,
	)

	// Initialize OpenTelemetry tracing
	tracingEndpoint := ""
	if cfg.Tracing.Enabled {
		tracingEndpoint = cfg.Tracing.Endpoint
	}
	shutdownTracing, err := tracing.Init(context.Background(), "tiergate", tracingEndpoint, cfg.Tracing.Insecure)
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("tracing shutdown error", "error", err)
		}
	}()
	if cfg.Tracing.Enabled {
		logger.Info("tracing enabled", "endpoint", cfg.Tracing.Endpoint)
	}

	mirror, err := resolveMirrorBackend(cfg, logger)
	if err != nil {
		logger.Error("failed to initialize mirror transport", "error", err, "redis_url", cfg.Mirror.RedisURL)
		os.Exit(1)
	}
	defer mirror.Close()

	reg := registry.New(cfg.Session.HistoryCapacity, logger)
	broker := broadcast.New(broadcastBuffer, logger)

	eng := engine.New(engine.Config{
		Policy:          cfg.Policy,
		LivenessTimeout: cfg.Session.LivenessTimeout,
		SweepInterval:   cfg.Session.SweepInterval,
		MirrorStream:    cfg.Mirror.Stream,
		FlapThreshold:   cfg.Alert.FlapThreshold,
		FlapWindow:      cfg.Alert.FlapWindow,
		DegradedShare:   cfg.Alert.DegradedShare,
	}, reg, broker, mirror, buildAlerter(cfg, logger), logger)

	overrides := override.NewManager(reg, logger)
	overrides.SetReevaluator(eng)

	aggregator := stats.New(reg, broker, cfg.Session.LivenessTimeout, cfg.Stats.PublishInterval, logger)

	rl := server.NewRateLimitMiddleware(logger)
	defer rl.Stop()

	api := server.New(server.Config{
		IngestRatePerSec: cfg.Session.IngestRatePerSec,
		IngestBurst:      cfg.Session.IngestBurst,
	}, reg, eng, overrides, aggregator, broker, logger)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           api.Handler(rl),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("http server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	// Liveness sweeper
	g.Go(func() error {
		return eng.Run(gCtx)
	})

	// Fleet stats publisher
	g.Go(func() error {
		return aggregator.Run(gCtx)
	})

	// Signal handler
	g.Go(func() error {
		select {
		case sig := <-sigCh:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
			return nil
		case <-gCtx.Done():
			return nil
		}
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("tiergate exited with error", "error", err)
		os.Exit(1)
	}

	logger.Info("tiergate shut down gracefully")
}
