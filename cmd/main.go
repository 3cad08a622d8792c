package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ymgta/pfrisk/config"
	"github.com/ymgta/pfrisk/data"
	"github.com/ymgta/pfrisk/data/cache"
	"github.com/ymgta/pfrisk/internal/externalApi/cloudStorageApi/googleDriveApi"
	"github.com/ymgta/pfrisk/internal/externalApi/yahooApi"
	"github.com/ymgta/pfrisk/internal/gateway"
	"github.com/ymgta/pfrisk/internal/reportGenerator/xlsxGenerator"
	"github.com/ymgta/pfrisk/internal/risk"
	"github.com/ymgta/pfrisk/internal/scheduler"
	"github.com/ymgta/pfrisk/internal/service/portfolioService"
	"github.com/ymgta/pfrisk/internal/transport/rest"
	"github.com/ymgta/pfrisk/internal/valuation"
)

func main() {
	cfg := config.MustLoad()

	setupLogger(cfg)

	slog.Debug("config", slog.Any("cfg", cfg))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	marketCache := setupCache(cfg)

	yahooApiClient := yahooApi.New(cfg)

	marketGateway := gateway.New(yahooApiClient, marketCache, cfg)

	valuationEngine := valuation.New(cfg.Portfolio.BaseCurrency)
	riskEngine := risk.New(cfg.Risk.MinHistoryLength, cfg.Risk.MinTailObservations, cfg.Risk.ConfidenceLevels)

	reportGenerator := xlsxGenerator.New()

	var cloudStorage portfolioService.CloudStorage
	var driveApi *googleDriveApi.GoogleDriveApi
	if cfg.GoogleDrive.Enabled {
		driveApi = googleDriveApi.New(ctx, cfg)
		cloudStorage = driveApi
	}

	portfolioSrv := portfolioService.New(cfg, marketGateway, valuationEngine, riskEngine, reportGenerator, cloudStorage)

	sched := scheduler.New()
	if len(cfg.Portfolio.Watchlist) > 0 {
		sched.NewIntervalJob("warm market data cache", portfolioSrv.WarmCache, cfg.Jobs.WarmCacheInterval, true)
	}
	if driveApi != nil {
		sched.NewIntervalJob("delete old drive files", driveApi.DeleteOldFiles, cfg.GoogleDrive.FileTTL, false)
	}
	sched.Start()
	defer sched.Stop()

	controller := rest.NewController(portfolioSrv)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      rest.NewRouter(controller),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	go func() {
		slog.Info("http server listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server failed", slog.String("err", err.Error()))
			cancel()
		}
	}()

	// Waiting interruption signal
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	select {
	case <-interrupt:
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown failed", slog.String("err", err.Error()))
	}
}

func setupCache(cfg *config.Config) gateway.Cache {
	if cfg.Cache.Backend == "redis" {
		redisClient := data.NewRedisClient(cfg)
		return cache.NewRedis(redisClient, cfg)
	}
	return cache.NewMemory(cfg.Cache.StaleRetention)
}

func setupLogger(cfg *config.Config) {
	var logLevel slog.Level

	switch cfg.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warning":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(log)
}
