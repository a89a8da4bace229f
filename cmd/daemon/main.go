// SPDX-License-Identifier: MIT
package main

import (
	"context"
	"crypto/rand"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ManuGH/tunecache/internal/api"
	"github.com/ManuGH/tunecache/internal/cache"
	"github.com/ManuGH/tunecache/internal/config"
	"github.com/ManuGH/tunecache/internal/coordinator"
	tclog "github.com/ManuGH/tunecache/internal/log"
	"github.com/ManuGH/tunecache/internal/origin"
	"github.com/ManuGH/tunecache/internal/store"
	"github.com/ManuGH/tunecache/internal/transcode"
)

var (
	version   = "v1.0.0"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	cfg := config.FromEnv()
	tclog.Configure(tclog.Config{
		Level:   cfg.LogLevel,
		Service: "tunecache",
	})
	logger := tclog.WithComponent("daemon")

	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	secret := []byte(cfg.LocatorSecret)
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			logger.Fatal().Err(err).Msg("generate locator secret")
		}
		logger.Warn().Msg("using an ephemeral locator secret, issued locators will not survive a restart")
	}

	st, err := store.NewFS(cfg.DataDir, secret)
	if err != nil {
		logger.Fatal().Err(err).Str("data_dir", cfg.DataDir).Msg("open durable store")
	}

	fetcher := origin.New(cfg.YTDLPPath)
	encoder := transcode.New(cfg.FFmpegPath, cfg.AudioBitrateK)

	var locators cache.LocatorCache
	if cfg.RedisAddr != "" {
		locators, err = cache.NewRedis(cache.RedisConfig{Addr: cfg.RedisAddr}, tclog.WithComponent("cache"))
		if err != nil {
			logger.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("connect locator cache")
		}
		logger.Info().Str("addr", cfg.RedisAddr).Msg("using redis locator cache")
	} else {
		locators = cache.NewMemory(time.Minute)
	}

	coord := coordinator.New(fetcher, encoder, st, coordinator.Options{
		LocatorTTL:        cfg.LocatorTTL,
		Locators:          locators,
		CacheTTL:          cfg.CacheTTL,
		MaxConcurrentJobs: cfg.MaxConcurrentJobs,
		JobTimeout:        cfg.JobTimeout,
	})

	srv := api.New(st, coord, api.Options{RateLimitRPM: cfg.RateLimitRPM})

	// No WriteTimeout: live streams stay open for the length of a track.
	httpServer := &http.Server{
		Addr:              cfg.Listen,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.Listen).Str("version", version).Msg("http server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-errCh:
		logger.Error().Err(err).Msg("http server failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown incomplete")
	}

	// Let in-flight cache jobs publish their objects before exiting.
	coord.Wait()
	logger.Info().Msg("daemon stopped")
}
