package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"voiceonboard/api/config"
	"voiceonboard/api/database"
	"voiceonboard/api/funnel"
	"voiceonboard/api/handlers"
	"voiceonboard/api/logging"
	"voiceonboard/api/metrics"
	"voiceonboard/api/onboarding"
	"voiceonboard/api/store"
	"voiceonboard/api/utils"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// The logger is not configured yet.
		zap.NewExample().Fatal("invalid configuration", zap.Error(err))
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogDevelopment)
	if err != nil {
		zap.NewExample().Fatal("failed to build logger", zap.Error(err))
	}
	defer func() { _ = logger.Sync() }()

	if cfg.GinMode == gin.ReleaseMode {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	stores, err := openStores(ctx, cfg, logger)
	cancel()
	if err != nil {
		logger.Fatal("failed to initialize storage", zap.String("backend", cfg.StorageBackend), zap.Error(err))
	}
	defer stores.close()

	rec, err := metrics.NewRecorder("onboarding", prometheus.DefaultRegisterer)
	if err != nil {
		logger.Fatal("failed to register metrics", zap.Error(err))
	}

	catalog := onboarding.DefaultCatalog()
	funnelSvc := funnel.NewService(stores.events, catalog,
		funnel.WithLogger(logger),
		funnel.WithObserver(rec),
		funnel.WithConcurrency(cfg.FunnelConcurrency),
		funnel.WithQueryTimeout(cfg.FunnelQueryTimeout),
	)

	r := newRouter(routerDeps{
		cfg:        cfg,
		logger:     logger,
		onboarding: handlers.NewOnboardingHandlers(stores.events, stores.profiles, catalog, rec, logger, cfg.RequestTimeout),
		funnel:     handlers.NewFunnelHandlers(funnelSvc, logger, cfg.RequestTimeout),
		admin: handlers.NewAdminHandlers(
			utils.NewTokenManager(cfg.JWTSecret, cfg.JWTTTL),
			cfg.AdminEmail,
			cfg.AdminPasswordHash,
			cfg.GinMode == gin.ReleaseMode,
			logger,
		),
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("onboarding API starting",
			zap.String("addr", srv.Addr),
			zap.String("backend", cfg.StorageBackend))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("onboarding API failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server exiting")
}

type eventStore interface {
	handlers.StepEventWriter
	funnel.EventSource
}

type stores struct {
	events   eventStore
	profiles handlers.ProfileRepository
	closers  []func()
}

func (s *stores) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func openStores(ctx context.Context, cfg config.Config, logger *zap.Logger) (*stores, error) {
	if cfg.StorageBackend == config.BackendMemory {
		logger.Warn("using in-memory stores; data is lost on restart")
		return &stores{
			events:   store.NewMemoryEventStore(),
			profiles: store.NewMemoryProfileStore(),
		}, nil
	}

	s := &stores{}
	pg, err := database.NewPostgresDB(cfg.DatabaseURL, logger)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, pg.Close)

	ch, err := database.NewClickHouseDB(cfg.ClickHouse, logger)
	if err != nil {
		s.close()
		return nil, err
	}
	s.closers = append(s.closers, ch.Close)

	profileStore := store.NewProfileStore(pg.DB, logger)
	if err := profileStore.EnsureSchema(ctx); err != nil {
		s.close()
		return nil, err
	}
	events := store.NewEventStore(ch, logger)
	if err := events.EnsureSchema(ctx); err != nil {
		s.close()
		return nil, err
	}

	s.events = events
	s.profiles = profileStore
	return s, nil
}
