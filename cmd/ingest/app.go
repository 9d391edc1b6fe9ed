package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/otcheredev/ris-dicom-ingest/internal/batch"
	"github.com/otcheredev/ris-dicom-ingest/internal/bus"
	"github.com/otcheredev/ris-dicom-ingest/internal/config"
	"github.com/otcheredev/ris-dicom-ingest/internal/database"
	"github.com/otcheredev/ris-dicom-ingest/internal/handlers"
	"github.com/otcheredev/ris-dicom-ingest/internal/metrics"
	"github.com/otcheredev/ris-dicom-ingest/internal/middleware"
	"github.com/otcheredev/ris-dicom-ingest/pkg/logger"
)

// app holds what every subcommand needs
type app struct {
	cfg     *config.Config
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log := logger.New(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	return &app{
		cfg:     cfg,
		logger:  log,
		metrics: metrics.New(prometheus.DefaultRegisterer),
	}, nil
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func (a *app) openDB() (*gorm.DB, error) {
	return database.Connect(database.Config{
		Host:     a.cfg.Database.Host,
		Port:     a.cfg.Database.Port,
		User:     a.cfg.Database.User,
		Password: a.cfg.Database.Password,
		DBName:   a.cfg.Database.DBName,
		SSLMode:  a.cfg.Database.SSLMode,
		LogLevel: a.cfg.Database.LogLevel,
	}, a.logger)
}

func (a *app) openBus(ctx context.Context) (*bus.RedisBus, error) {
	return bus.NewRedisBus(ctx, bus.RedisConfig{
		Addr:     a.cfg.Redis.Addr(),
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
		MaxLen:   a.cfg.Bus.StreamMaxLen,
	}, a.logger)
}

func (a *app) batchConfig(name string, c config.BatchConfig) batch.Config {
	return batch.Config{
		Name:          name,
		SizeThreshold: c.SizeThreshold,
		StaleAfter:    c.StaleAfter,
		PollInterval:  c.PollInterval,
		Backoff:       c.Backoff,
		QueueSize:     c.QueueSize,
		Order:         batch.ParseOrder(c.Order),
	}
}

func probes(db *gorm.DB, b *bus.RedisBus) map[string]handlers.Probe {
	return map[string]handlers.Probe{
		"database": func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
		"redis": b.Ping,
	}
}

// serveOps runs the health and metrics server until ctx is done. mount adds
// extra routes under /api/v1 when not nil.
func (a *app) serveOps(ctx context.Context, health *handlers.HealthHandler, mount func(chi.Router)) error {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Recovery(a.logger))
	r.Use(middleware.Logging(a.logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   a.cfg.CORS.AllowedOrigins,
		AllowedMethods:   a.cfg.CORS.AllowedMethods,
		AllowedHeaders:   a.cfg.CORS.AllowedHeaders,
		ExposedHeaders:   []string{"Content-Length", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", health.Health)
	r.Get("/ready", health.Ready)
	if a.cfg.Metrics.Enabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	if mount != nil {
		r.Route("/api/v1", mount)
	}

	addr := fmt.Sprintf("%s:%d", a.cfg.Server.Host, a.cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
	}

	errc := make(chan error, 1)
	go func() {
		a.logger.Info().Str("addr", addr).Msg("ops server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("ops server forced to shutdown: %w", err)
	}
	return nil
}
