// Package app initializes and holds the long-lived services the CLI commands
// share: logger, harvest store, source catalog, connection manager, and the
// progress hub with its sinks.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/civicdata/fiscalharvest/internal/catalog"
	"github.com/civicdata/fiscalharvest/internal/config"
	"github.com/civicdata/fiscalharvest/internal/connection"
	"github.com/civicdata/fiscalharvest/internal/logging"
	"github.com/civicdata/fiscalharvest/internal/progress"
	"github.com/civicdata/fiscalharvest/internal/progress/sinks"
	"github.com/civicdata/fiscalharvest/internal/storage"
)

// App is the container for one process's shared services. It is built once at
// startup and handed to the running command; any critical service that cannot
// initialize fails the process here, before network work starts.
type App struct {
	Config  config.Config
	Logger  *zap.Logger
	Store   *storage.Store
	Catalog *catalog.Catalog
	Conns   *connection.Manager
	Hub     *progress.Hub

	metrics *http.Server
}

// New initializes services from the resolved configuration.
func New(cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	cat, err := catalog.New(catalog.Overrides{
		URLTemplates: cfg.Run.URLOverrides,
		Delays:       cfg.DelayOverrides(),
	})
	if err != nil {
		return nil, err
	}

	store, err := storage.New(afero.NewOsFs(), cfg.Run.OutputDir)
	if err != nil {
		return nil, err
	}

	conns := connection.NewManager(connection.Config{
		DownloadTimeout:        cfg.DownloadTimeout(),
		PrefetchTimeout:        cfg.PrefetchTimeout(),
		NavTimeout:             cfg.NavTimeout(),
		BrowserDownloadTimeout: cfg.BrowserDownloadTimeout(),
		DownloadDir:            cfg.Browser.DownloadDir,
	}, logger.Named("connection"))

	registry := prometheus.NewRegistry()
	promSink, err := sinks.NewPrometheusSink(registry)
	if err != nil {
		return nil, fmt.Errorf("init prometheus sink: %w", err)
	}
	sinkList := []progress.Sink{sinks.NewLogSink(logger.Named("events")), promSink}
	if cfg.Run.EventJournalPath != "" {
		journal, err := sinks.NewJournalSink(store.Filesystem(), cfg.Run.EventJournalPath, logger.Named("journal"))
		if err != nil {
			return nil, fmt.Errorf("init event journal: %w", err)
		}
		sinkList = append(sinkList, journal)
	}
	hub := progress.NewHub(progress.Config{Logger: logger.Named("progress")}, sinkList...)

	a := &App{
		Config:  cfg,
		Logger:  logger,
		Store:   store,
		Catalog: cat,
		Conns:   conns,
		Hub:     hub,
	}
	if cfg.Metrics.ListenAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		a.metrics = &http.Server{
			Addr:              cfg.Metrics.ListenAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("metrics endpoint listening", zap.String("addr", cfg.Metrics.ListenAddr))
			if serveErr := a.metrics.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
				logger.Warn("metrics endpoint failed", zap.Error(serveErr))
			}
		}()
	}
	return a, nil
}

// Close releases the services in reverse dependency order. The hub closes
// before the logger syncs so final events still reach the sinks.
func (a *App) Close(ctx context.Context) {
	if a.metrics != nil {
		if err := a.metrics.Shutdown(ctx); err != nil {
			a.Logger.Warn("metrics endpoint shutdown failed", zap.Error(err))
		}
	}
	if err := a.Hub.Close(ctx); err != nil {
		a.Logger.Warn("progress hub close failed", zap.Error(err))
	}
	if err := a.Conns.Close(ctx); err != nil {
		a.Logger.Warn("connection shutdown failed", zap.Error(err))
	}
	_ = a.Logger.Sync()
}
