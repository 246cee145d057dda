package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sourcegraph/conc"

	"track-svr/internal/api"
	"track-svr/internal/config"
	"track-svr/internal/ingest"
	"track-svr/internal/link"
	"track-svr/internal/live"
	"track-svr/internal/observability"
	"track-svr/internal/pipeline"
	"track-svr/internal/server"
	"track-svr/internal/session"
	"track-svr/internal/store"
	"track-svr/internal/track"
	"track-svr/internal/utilities"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		observability.NewLogger("info").Error("config load failed", "err", err)
		os.Exit(1)
	}
	logger := observability.NewLogger(cfg.LogLevel)
	logger.Info("Starting track-svr...", "http", cfg.HTTPAddr, "tcp", cfg.TCPAddr)

	loc, err := cfg.Location()
	if err != nil {
		logger.Error("time zone", "tz", cfg.TimeZone, "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.OpenSQLite(cfg.SQLitePath, store.WithLocation(loc))
	if err != nil {
		logger.Error("SQLite open failed", "path", cfg.SQLitePath, "err", err)
		os.Exit(1)
	}
	defer db.Close()

	// Redis only speeds up the stationary gate and the latest-fix fallback;
	// run without it when absent.
	var cache ingest.SpeedCache
	var source store.Source = db
	if cfg.RedisAddr != "" {
		rdb, err := store.NewRedis(cfg.RedisAddr, cfg.RedisDB)
		if err != nil {
			logger.Warn("Redis unavailable, reading SQLite only", "addr", cfg.RedisAddr, "err", err)
		} else {
			defer rdb.Close()
			cache = rdb
			source = store.NewCachedSource(db, rdb, logger)
		}
	}

	lk := link.New(cfg.ProxyAddr, logger)
	raw := utilities.NewRawLog(cfg.RawLogDir)
	writer := ingest.NewWriter(db, cache, lk, logger)

	proc := pipeline.NewProcessor(pipeline.Options{
		IdleGap: cfg.IdleGap,
		Filter: track.FilterOptions{
			MaxSpeedKmh:   cfg.MaxSpeedKmh,
			MaxDistanceKm: cfg.MaxDistanceKm,
		},
		Smooth:       cfg.Smooth,
		SmoothWindow: cfg.SmoothWindow,
	})
	liveOpts := live.Options{Window: cfg.LiveWindow, Timeout: cfg.QueryTimeout}

	mgr := session.NewManager(session.Config{
		Source:       source,
		Processor:    proc,
		Live:         liveOpts,
		PollInterval: cfg.PollInterval,
		BaseInterval: cfg.BaseInterval,
		QueryTimeout: cfg.QueryTimeout,
		Location:     loc,
	}, logger)
	defer mgr.CloseAll()

	srv := api.New(api.Options{
		Source:     source,
		Processor:  proc,
		Sessions:   mgr,
		Ingest:     ingest.NewHTTPHandler(writer, loc, raw, logger),
		Location:   loc,
		LiveWindow: cfg.LiveWindow,
		Timeout:    cfg.QueryTimeout,
	}, logger)
	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	var wg conc.WaitGroup
	wg.Go(func() { lk.Run(ctx) })
	wg.Go(func() {
		if err := observability.StartMetricsServer(ctx, cfg.MetricsAddr); err != nil {
			logger.Error("metrics server failed", "err", err)
		}
	})
	wg.Go(func() {
		if err := observability.StartHealthServer(ctx, cfg.GRPCAddr); err != nil {
			logger.Error("health server failed", "err", err)
		}
	})
	wg.Go(func() {
		if err := server.New(writer, lk, raw, logger).Start(ctx, cfg.TCPAddr); err != nil {
			logger.Error("TCP server failed", "err", err)
			stop()
		}
	})
	if cfg.MQTTBroker != "" {
		sub := ingest.NewMQTTSubscriber(cfg.MQTTBroker, cfg.MQTTClientID, cfg.MQTTTopicPrefix, writer, loc, raw, logger)
		wg.Go(func() {
			if err := sub.Run(ctx); err != nil {
				logger.Error("MQTT subscriber failed", "err", err)
			}
		})
	}
	wg.Go(func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	})

	logger.Info("HTTP server listening", "addr", cfg.HTTPAddr)
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("HTTP server failed", "err", err)
		stop()
	}

	wg.Wait()
	logger.Info("track-svr stopped")
}
