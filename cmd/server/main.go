package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.opentelemetry.io/contrib/instrumentation/go.mongodb.org/mongo-driver/mongo/otelmongo"

	apihttp "bitfinder/internal/api/http"
	"bitfinder/internal/app"
	"bitfinder/internal/domain/ports"
	"bitfinder/internal/metrics"
	"bitfinder/internal/providers/library"
	"bitfinder/internal/providers/piratebay"
	"bitfinder/internal/providers/scraper"
	"bitfinder/internal/providers/yts"
	"bitfinder/internal/repository/mirror"
	mongorepo "bitfinder/internal/repository/mongo"
	"bitfinder/internal/repository/statefile"
	"bitfinder/internal/services/daemon/transmission"
	"bitfinder/internal/services/search"
	"bitfinder/internal/services/session"
	"bitfinder/internal/services/torrent/engine/anacrolix"
	"bitfinder/internal/telemetry"
)

const serviceName = "bitfinder"

func main() {
	cfg, err := app.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	metrics.Register(prometheus.DefaultRegisterer)

	shutdownTracer, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: serviceName,
		Endpoint:    cfg.OTelEndpoint,
		SampleRate:  cfg.OTelSampleRate,
	})
	if err != nil {
		logger.Warn("otel init failed", slog.String("error", err.Error()))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	logger.Info("configuration loaded",
		slog.String("service", serviceName),
		slog.String("httpAddr", cfg.HTTPAddr),
		slog.String("logLevel", cfg.LogLevel),
		slog.String("logFormat", cfg.LogFormat),
		slog.String("downloadPath", cfg.DownloadPath),
		slog.Bool("mongoMirror", cfg.MongoURI != ""),
		slog.Bool("redisCache", cfg.RedisURL != ""),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(cfg.DownloadPath, 0o755); err != nil {
		logger.Error("create download directory failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	engine, err := anacrolix.New(anacrolix.Config{
		DataDir:    cfg.DownloadPath,
		ListenPort: cfg.TorrentListenPort,
		Seed:       true,
	})
	if err != nil {
		logger.Error("torrent engine init failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	fileStore := statefile.NewInDir(cfg.DownloadPath)
	var store ports.StateStore = fileStore
	mongoClient := connectMongo(rootCtx, cfg, logger)
	if mongoClient != nil {
		repo := mongorepo.NewRepository(mongoClient, cfg.MongoDatabase, mongorepo.DefaultCollection)
		if err := repo.EnsureIndexes(rootCtx); err != nil {
			logger.Warn("mongo ensure indexes failed", slog.String("error", err.Error()))
		}
		store = mirror.New(fileStore, repo, logger)
	}
	logger.Info("session state file", slog.String("path", fileStore.Path()))

	manager := session.NewManager(engine, store, session.Config{
		MetadataTimeout: cfg.MetadataTimeout,
		RestoreDelay:    cfg.RestoreDelay,
	}, session.WithLogger(logger))

	// Restore in the background so the HTTP server starts immediately.
	go func() {
		if err := manager.Restore(rootCtx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, session.ErrClosed) {
			logger.Warn("session restore failed", slog.String("error", err.Error()))
		}
	}()

	cache, closeCache := buildSearchCache(rootCtx, cfg, logger)
	defer closeCache()

	leet := scraper.New(scraper.Config{BaseURL: cfg.ScraperURL})
	if !leet.Available(rootCtx) {
		logger.Warn("scraper service not reachable, 1337x results will be empty until it is",
			slog.String("url", cfg.ScraperURL))
	}
	lib := library.New([]library.Provider{
		piratebay.NewProvider(piratebay.Config{}),
		yts.NewProvider(yts.Config{}),
	},
		library.WithConcurrency(int64(cfg.SearchProviderConcurrency)),
		library.WithLogger(logger),
	)
	aggOpts := []search.Option{search.WithLogger(logger)}
	if cache != nil {
		aggOpts = append(aggOpts, search.WithCache(cache, cfg.SearchCacheTTL))
	}
	aggregator := search.NewAggregator([]search.Backend{lib, leet}, cfg.SearchBackendTimeout, aggOpts...)

	serverOpts := []apihttp.ServerOption{
		apihttp.WithLogger(logger),
		apihttp.WithSearch(aggregator),
		apihttp.WithAllowedOrigins(cfg.CORSAllowedOrigins),
		apihttp.WithRateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst),
	}
	daemon := transmission.New(transmission.Config{
		URL:      cfg.TransmissionURL,
		Username: cfg.TransmissionUsername,
		Password: cfg.TransmissionPassword,
	})
	if daemon.Configured() {
		serverOpts = append(serverOpts, apihttp.WithRemoteDaemon(daemon))
	} else {
		logger.Info("transmission credentials not set, remote daemon disabled")
	}

	handler := apihttp.NewServer(manager, serverOpts...)

	go updateSessionMetrics(rootCtx, manager)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Streams and metadata waits outlive any fixed write deadline.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	logger.Info("server started", slog.String("addr", cfg.HTTPAddr))

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	handler.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown error", slog.String("error", err.Error()))
	}
	if err := manager.Close(); err != nil {
		logger.Warn("session manager close error", slog.String("error", err.Error()))
	}
	if err := engine.Close(); err != nil {
		logger.Warn("engine close error", slog.String("error", err.Error()))
	}
	if mongoClient != nil {
		if err := mongoClient.Disconnect(shutdownCtx); err != nil {
			logger.Warn("mongo disconnect error", slog.String("error", err.Error()))
		}
	}

	logger.Info("server stopped")
}

// connectMongo returns nil when no URI is configured or the server cannot be
// reached; the state file alone is enough to run.
func connectMongo(ctx context.Context, cfg app.Config, logger *slog.Logger) *mongo.Client {
	uri := strings.TrimSpace(cfg.MongoURI)
	if uri == "" {
		return nil
	}
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongorepo.Connect(connectCtx, uri, options.Client().SetMonitor(otelmongo.NewMonitor()))
	if err != nil {
		logger.Warn("mongo connect failed, mirror disabled", slog.String("error", err.Error()))
		return nil
	}
	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		logger.Warn("mongo ping failed, mirror disabled", slog.String("error", err.Error()))
		_ = client.Disconnect(context.Background())
		return nil
	}
	logger.Info("mongo connected", slog.String("database", cfg.MongoDatabase))
	return client
}

// buildSearchCache prefers Redis and falls back to a bolt file next to the
// downloads. A nil cache disables caching.
func buildSearchCache(ctx context.Context, cfg app.Config, logger *slog.Logger) (search.CacheBackend, func()) {
	noop := func() {}
	if redisURL := strings.TrimSpace(cfg.RedisURL); redisURL != "" {
		redisOpts, err := redis.ParseURL(redisURL)
		if err != nil {
			logger.Warn("invalid redis url, using bolt cache", slog.String("error", err.Error()))
		} else {
			client := redis.NewClient(redisOpts)
			pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			err := client.Ping(pingCtx).Err()
			cancel()
			if err == nil {
				logger.Info("redis connected", slog.String("addr", redisOpts.Addr))
				return search.NewRedisCache(client), closer(client, logger, "redis")
			}
			logger.Warn("redis not reachable, using bolt cache", slog.String("error", err.Error()))
			_ = client.Close()
		}
	}

	path := filepath.Join(cfg.DownloadPath, ".bitfinder-cache.db")
	bolt, err := search.OpenBoltCache(path, logger)
	if err != nil {
		logger.Warn("search cache disabled", slog.String("error", err.Error()))
		return nil, noop
	}
	if err := bolt.StartPurge(cfg.SearchCachePurgeSchedule); err != nil {
		logger.Warn("search cache purge not scheduled", slog.String("error", err.Error()))
	}
	return bolt, closer(bolt, logger, "bolt")
}

func closer(c io.Closer, logger *slog.Logger, name string) func() {
	return func() {
		if err := c.Close(); err != nil {
			logger.Warn("cache close error", slog.String("cache", name), slog.String("error", err.Error()))
		}
	}
}

func updateSessionMetrics(ctx context.Context, manager *session.Manager) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var dlTotal, ulTotal int64
			var peersTotal int
			for _, s := range manager.List() {
				dlTotal += s.DownloadSpeed
				ulTotal += s.UploadSpeed
				peersTotal += s.NumPeers
			}
			metrics.DownloadSpeedBytes.Set(float64(dlTotal))
			metrics.UploadSpeedBytes.Set(float64(ulTotal))
			metrics.PeersConnected.Set(float64(peersTotal))
		}
	}
}

func newLogger(levelRaw, formatRaw string) *slog.Logger {
	handlerOpts := &slog.HandlerOptions{Level: parseLogLevel(levelRaw)}
	if strings.ToLower(strings.TrimSpace(formatRaw)) == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, handlerOpts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, handlerOpts))
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
