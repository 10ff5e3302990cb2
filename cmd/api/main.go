package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"storyloom/internal/adapter/repo"
	"storyloom/internal/domain"
	"storyloom/internal/http/handlers"
	"storyloom/internal/http/httpapi"
	"storyloom/internal/infra"
	"storyloom/internal/infra/geoip"
	"storyloom/internal/middleware"
	"storyloom/internal/reconcile"
	"storyloom/internal/retention"
	"storyloom/internal/storage"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.NewFileStore(cfg.StorageBasePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open artifact store")
	}

	// The tracker runs on Postgres when a database is configured and falls
	// back to process memory otherwise. The saved-story catalog exists only
	// with a database.
	var (
		tracker domain.Tracker
		catalog domain.SavedStoryStore
	)
	if cfg.DatabaseURL != "" {
		if err := repo.Migrate(cfg.DatabaseURL); err != nil {
			logger.Fatal().Err(err).Msg("failed to run database migrations")
		}
		pool, err := infra.NewDBPool(ctx, cfg)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect database")
		}
		defer pool.Close()
		tracker = repo.NewTrackerPG(pool)
		catalog = repo.NewSavedStoryStore(pool, logger)
	} else {
		logger.Warn().Msg("no DATABASE_URL set; job state is in-memory and not durable")
		tracker = repo.NewTrackerMem()
	}

	metrics := infra.NewMetrics()
	engine := reconcile.New(store, catalog, logger)

	sweeper := retention.NewSweeper(retention.Config{
		Enabled:  cfg.SweeperEnabled,
		TTL:      cfg.RetentionTTL,
		Interval: cfg.SweepInterval,
	}, store, metrics, logger)
	sweeper.Start()
	defer sweeper.Stop()

	var lookup middleware.CountryLookup
	resolver, err := geoip.Open(cfg.GeoIPDBPath)
	if err != nil {
		logger.Warn().Err(err).Msg("geoip database unavailable; locale falls back to headers")
	} else if resolver != nil {
		defer resolver.Close()
		lookup = resolver.CountryCode
	}

	app := &handlers.App{
		Tracker: tracker,
		Store:   store,
		Catalog: catalog,
		Engine:  engine,
		Metrics: metrics,
		Logger:  logger,
		Cfg:     cfg,
	}
	router := httpapi.NewRouter(app, lookup)
	server := infra.NewHTTPServer(cfg, router)

	logger.Info().Str("addr", server.Addr()).Msg("api listening")
	if err := server.Run(ctx, 15*time.Second); err != nil {
		logger.Fatal().Err(err).Msg("http server failed")
	}
	logger.Info().Msg("server stopped")
}
