package app

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"weatherpipe/internal/collector"
	"weatherpipe/internal/config"
	"weatherpipe/internal/db"
	"weatherpipe/internal/httpapi"
	"weatherpipe/internal/metrics"
	weather "weatherpipe/internal/modules/weather"
	"weatherpipe/internal/modules/weather/client"
	"weatherpipe/internal/modules/weather/pipeline"
	"weatherpipe/internal/mqtt"
)

// Run serves the HTTP API and, when COLLECT_SCHEDULE is set, the collector,
// until ctx is done.
func Run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	logger.Info("config loaded",
		"appEnv", cfg.AppEnv,
		"logLevel", cfg.LogLevel.String(),
		"httpAddr", cfg.HTTPAddr,
		"dbDriver", cfg.Driver,
		"sqlitePath", cfg.Path,
		"dbMaxOpenConns", cfg.MaxOpenConns,
		"dbLogSQL", cfg.LogSQL,
		"weatherAPIBaseURL", cfg.WeatherAPIBaseURL,
		"weatherAPITimeout", cfg.WeatherAPITimeout,
		"locations", len(cfg.Locations),
		"collectSchedule", cfg.CollectSchedule,
		"retentionDays", cfg.RetentionDays,
		"mqttBroker", cfg.MQTTBroker,
		"mqttPort", cfg.MQTTPort,
	)
	if err := cfg.RequireAPIKey(); err != nil {
		return err
	}

	dbConn, err := db.Open(cfg, logger)
	if err != nil {
		return err
	}
	defer closeDB(dbConn, logger)

	m := metrics.New()
	publisher := startPublisher(ctx, cfg, logger)
	if publisher != nil {
		defer func() {
			logger.Info("mqtt disconnecting")
			publisher.Disconnect()
		}()
	}

	feature := newFeature(cfg, dbConn, logger, m, publisher)
	if err := feature.Repository.EnsureSchema(ctx); err != nil {
		return err
	}
	logger.Info("database ready")

	var broker httpapi.BrokerStatus
	if publisher != nil {
		broker = publisher
	}
	mux := httpapi.NewMux(dbConn, m.Handler(), broker)
	feature.RegisterRoutes(mux)

	var coll *collector.Collector
	if cfg.CollectSchedule != "" {
		coll, err = collector.New(feature.Pipeline, feature.Repository, collector.Options{
			Schedule:      cfg.CollectSchedule,
			Locations:     cfg.Locations,
			RetentionDays: cfg.RetentionDays,
			Metrics:       m,
			Logger:        logger.With("component", "collector"),
		})
		if err != nil {
			return err
		}
		coll.Start(ctx)
	}

	srv := httpapi.NewServer(cfg, mux, logger, m)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listening", "addr", cfg.HTTPAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if coll != nil {
		if err := coll.Stop(shutdownCtx); err != nil {
			logger.Warn("collector stop", "error", err)
		}
	}

	logger.Info("http shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	err = <-errCh
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return ctx.Err()
}

func newFeature(cfg config.Config, dbConn *sql.DB, logger *slog.Logger, m *metrics.Metrics, publisher *mqtt.Publisher) *weather.Feature {
	fetcher := client.New(client.Config{
		BaseURL: cfg.WeatherAPIBaseURL,
		APIKey:  cfg.WeatherAPIKey,
		Timeout: cfg.WeatherAPITimeout,
		Breaker: cfg.WeatherBreakerEnabled,
	}, logger.With("component", "weatherapi"))

	opts := pipeline.Options{
		Delay:       cfg.BatchDelay,
		Concurrency: cfg.BatchConcurrency,
		Logger:      logger,
	}
	if m != nil {
		opts.Metrics = m
	}
	if publisher != nil {
		opts.Notifier = publisher
	}
	return weather.NewFeature(dbConn, fetcher, opts)
}

// startPublisher returns nil when MQTT is not configured. A broker that is
// down at startup is retried in the background until ctx is done.
func startPublisher(ctx context.Context, cfg config.Config, logger *slog.Logger) *mqtt.Publisher {
	if cfg.MQTTBroker == "" {
		return nil
	}
	publisher := mqtt.NewPublisher(cfg, logger.With("component", "mqtt"))

	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	err := publisher.Connect(connectCtx)
	cancel()
	if err == nil {
		return publisher
	}

	logger.Warn("mqtt connection failed (continuing, retrying in background)", "error", err)
	go func() {
		if err := publisher.Connect(ctx); err != nil && ctx.Err() == nil {
			logger.Warn("mqtt background connect gave up", "error", err)
		}
	}()
	return publisher
}

func closeDB(dbConn *sql.DB, logger *slog.Logger) {
	if err := db.Close(dbConn); err != nil {
		logger.Error("db close", "error", err)
	}
}
