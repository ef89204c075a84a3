package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	apihttp "github.com/bruhmeric/torrentwave/internal/api/http"
	"github.com/bruhmeric/torrentwave/internal/app"
	"github.com/bruhmeric/torrentwave/internal/metrics"
	"github.com/bruhmeric/torrentwave/internal/providers/jackett"
	"github.com/bruhmeric/torrentwave/internal/search"
	"github.com/bruhmeric/torrentwave/internal/settings"
	"github.com/bruhmeric/torrentwave/internal/telemetry"
)

const serviceName = "torrentwave"

var version = "dev"

func main() {
	cfg := app.LoadConfig()
	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	metrics.Register(prometheus.DefaultRegisterer)

	shutdownTracer, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: version,
		Endpoint:       cfg.OTLPEndpoint,
	})
	if err != nil {
		logger.Warn("otel init failed", slog.String("error", err.Error()))
	}
	defer func() {
		_ = shutdownTracer(context.Background())
	}()

	logger.Info("configuration loaded",
		slog.String("service", serviceName),
		slog.String("httpAddr", cfg.HTTPAddr),
		slog.String("logLevel", cfg.LogLevel),
		slog.String("logFormat", cfg.LogFormat),
		slog.Duration("requestTimeout", cfg.RequestTimeout),
		slog.String("jackettURL", jackett.SanitizeBaseURL(cfg.JackettURL)),
		slog.Bool("hasJackettKey", cfg.JackettAPIKey != ""),
		slog.Bool("hasRedis", strings.TrimSpace(cfg.RedisURL) != ""),
		slog.Duration("sessionIdleTTL", cfg.SessionIdleTTL),
		slog.Int("maxConcurrentSearches", cfg.MaxConcurrentSearches),
		slog.Duration("categoryCacheTTL", cfg.CategoryCacheTTL),
	)

	jackettClient := jackett.NewClient(jackett.Config{
		UserAgent: cfg.UserAgent,
		Client:    &http.Client{Timeout: cfg.RequestTimeout, Transport: otelhttp.NewTransport(http.DefaultTransport)},
		Logger:    logger,
	})

	redisClient := connectRedis(cfg.RedisURL, logger)
	var settingsStore settings.Store = settings.NewMemoryStore()
	catalogOpts := []search.CatalogOption{
		search.WithCategoryTTL(cfg.CategoryCacheTTL),
		search.WithCatalogLogger(logger),
	}
	var serverOpts []apihttp.ServerOption
	if redisClient != nil {
		redisStore := settings.NewRedisStore(redisClient, cfg.SettingsRedisKey)
		settingsStore = redisStore
		serverOpts = append(serverOpts, apihttp.WithHealthCheck("redis", redisStore.Ping))
		catalogOpts = append(catalogOpts, search.WithSharedCategoryCache(search.NewRedisCategoryCache(redisClient)))
	}

	settingsService := settings.NewService(settingsStore, jackett.Settings{
		ServerURL: cfg.JackettURL,
		APIKey:    cfg.JackettAPIKey,
	}, logger)

	searchService := search.NewService(jackettClient,
		search.WithLogger(logger),
		search.WithIdleTTL(cfg.SessionIdleTTL),
		search.WithMaxConcurrentSearches(cfg.MaxConcurrentSearches),
	)

	catalogOpts = append(catalogOpts, search.WithCategoryFetchTimeout(cfg.RequestTimeout))
	serverOpts = append(serverOpts,
		apihttp.WithLogger(logger),
		apihttp.WithCategories(search.NewCatalog(jackettClient, catalogOpts...)),
		apihttp.WithConnectionTester(jackettClient),
		apihttp.WithRateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst),
		apihttp.WithSessionTTL(cfg.SessionIdleTTL),
		apihttp.WithTrustedProxies(cfg.TrustedProxies),
	)
	handler := apihttp.NewServer(searchService, settingsService, serverOpts...).Handler()
	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.RequestTimeout + 15*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	searchService.StartBackground(rootCtx)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	logger.Info("torrentwave started",
		slog.String("addr", cfg.HTTPAddr),
		slog.Bool("configured", settingsService.View().Configured),
	)

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", slog.String("error", err.Error()))
	}
	if redisClient != nil {
		_ = redisClient.Close()
	}
	logger.Info("torrentwave stopped")
}

func newLogger(levelRaw, formatRaw string) *slog.Logger {
	level := parseLogLevel(levelRaw)
	options := &slog.HandlerOptions{Level: level}
	format := strings.ToLower(strings.TrimSpace(formatRaw))
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, options))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, options))
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// connectRedis returns nil when Redis is not configured or not reachable, in
// which case settings and categories stay in process memory.
func connectRedis(rawURL string, logger *slog.Logger) *redis.Client {
	redisURL := strings.TrimSpace(rawURL)
	if redisURL == "" {
		return nil
	}
	redisOpts, err := redis.ParseURL(redisURL)
	if err != nil {
		logger.Warn("invalid redis url, keeping state in memory", slog.String("error", err.Error()))
		return nil
	}
	client := redis.NewClient(redisOpts)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not reachable, keeping state in memory", slog.String("error", err.Error()))
		_ = client.Close()
		return nil
	}
	logger.Info("redis connected", slog.String("addr", redisOpts.Addr))
	return client
}
