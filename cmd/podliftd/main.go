// SPDX-License-Identifier: MIT

// podliftd is the podcast feed daemon: it enumerates configured media
// sources, downloads their items, and serves the results as podcast RSS.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/podlift/podlift/internal/api"
	"github.com/podlift/podlift/internal/config"
	"github.com/podlift/podlift/internal/feed"
	"github.com/podlift/podlift/internal/files"
	"github.com/podlift/podlift/internal/log"
	"github.com/podlift/podlift/internal/paths"
	"github.com/podlift/podlift/internal/reconcile"
	"github.com/podlift/podlift/internal/scheduler"
	"github.com/podlift/podlift/internal/store"
	"github.com/podlift/podlift/internal/version"
	"github.com/podlift/podlift/internal/ytdlp"
)

// Exit codes: 0 clean shutdown, 1 runtime failure, 2 configuration error.
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

const shutdownTimeout = 30 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to settings file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("podliftd %s (commit: %s, built: %s)\n", version.Version, version.Commit, version.Date)
		return exitOK
	}

	// Safe defaults until settings are loaded.
	log.Configure(log.Config{Service: "podlift", Version: version.Version})
	logger := log.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error().Err(err).
			Str(log.FieldEvent, "config.load_failed").
			Msg("failed to load configuration")
		return exitConfig
	}
	log.Configure(log.Config{
		Level:      cfg.LogLevel,
		Format:     cfg.LogFormat,
		Service:    "podlift",
		Version:    version.Version,
		Stacktrace: cfg.LogIncludeStacktrace,
	})
	logger = log.WithComponent("daemon")

	if cfg.ConfigFile == "" {
		logger.Error().
			Str(log.FieldEvent, "config.load_failed").
			Msg("config_file (feeds YAML) is required")
		return exitConfig
	}

	pathman, err := paths.New(cfg.DataDir, cfg.BaseURL)
	if err != nil {
		logger.Error().Err(err).Msg("invalid data dir")
		return exitConfig
	}
	if err := pathman.EnsureLayout(); err != nil {
		logger.Error().Err(err).Msg("prepare data directory layout")
		return exitConfig
	}

	extractor := ytdlp.New(ytdlp.Options{
		CookiesPath:    cfg.CookiesPath,
		POTProviderURL: cfg.POTProviderURL,
		UpdateChannel:  cfg.YTChannel,
		UpdateEvery:    cfg.YTDLPUpdateFreq,
		MetadataRate:   1, // one metadata call per second upstream courtesy cap
	})

	// Pre-flight: the extractor binary must be runnable before we accept
	// any work.
	probeCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	ytVersion, err := extractor.Version(probeCtx)
	cancel()
	if err != nil {
		logger.Error().Err(err).
			Str(log.FieldEvent, "preflight.failed").
			Msg("yt-dlp is not runnable")
		return exitConfig
	}
	logger.Info().
		Str(log.FieldEvent, "preflight.ok").
		Str("yt_dlp_version", ytVersion).
		Msg("extractor available")

	dbPath, err := pathman.DBPath(cfg.DatabaseName)
	if err != nil {
		logger.Error().Err(err).Msg("invalid database name")
		return exitConfig
	}
	st, err := store.Open(dbPath, store.DefaultConfig())
	if err != nil {
		logger.Error().Err(err).
			Str(log.FieldEvent, "db.open_failed").
			Str(log.FieldPath, dbPath).
			Msg("open metadata store")
		return exitRuntime
	}
	defer func() { _ = st.Close() }()

	fileStore := files.New()
	coordinator := feed.NewCoordinator(st, extractor, fileStore, pathman, cfg.MaxErrors)
	sched := scheduler.New(coordinator)

	reconciler := reconcile.New(st, sched, coordinator, cfg.ConfigFile)
	if err := reconciler.Apply(ctx); err != nil {
		logger.Error().Err(err).
			Str(log.FieldEvent, "reconcile.failed").
			Msg("initial feed reconciliation failed")
		return exitConfig
	}
	if err := reconciler.Watch(ctx); err != nil {
		logger.Warn().Err(err).Msg("feeds file watcher unavailable, hot reload disabled")
	}

	sched.Start(ctx)

	public := api.NewHTTPServer(cfg.ServerHost, cfg.ServerPort,
		api.NewPublicServer(pathman, cfg.TrustedProxies).Handler())
	admin := api.NewHTTPServer(cfg.ServerHost, cfg.AdminServerPort,
		api.NewAdminServer(st, coordinator, sched, cfg.TrustedProxies).Handler())

	serverErr := make(chan error, 2)
	go serveHTTP("public", public, serverErr)
	go serveHTTP("admin", admin, serverErr)

	logger.Info().
		Str(log.FieldEvent, "daemon.started").
		Str("public_addr", public.Addr).
		Str("admin_addr", admin.Addr).
		Msg("podliftd running")

	exit := exitOK
	select {
	case <-ctx.Done():
		logger.Info().Str(log.FieldEvent, "daemon.stopping").Msg("shutdown signal received")
	case err := <-serverErr:
		logger.Error().Err(err).Str(log.FieldEvent, "daemon.server_failed").Msg("http server failed")
		exit = exitRuntime
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	for name, srv := range map[string]*http.Server{"public": public, "admin": admin} {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Str("server", name).Msg("http shutdown incomplete")
			exit = exitRuntime
		}
	}
	if err := sched.Stop(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("scheduler shutdown incomplete")
		exit = exitRuntime
	}

	logger.Info().Str(log.FieldEvent, "daemon.stopped").Msg("shutdown complete")
	return exit
}

func serveHTTP(name string, srv *http.Server, errc chan<- error) {
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		errc <- fmt.Errorf("%s server: %w", name, err)
	}
}
