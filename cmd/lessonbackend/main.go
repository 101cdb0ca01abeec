package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rs/zerolog"

	"lessonplayer/internal/config"
	"lessonplayer/internal/media"
	"lessonplayer/internal/server"
	"lessonplayer/internal/storage"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	devToken := flag.String("dev-token", "", "print an access token for this username and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}
	if err := cfg.Validate(); err != nil {
		panic("invalid config: " + err.Error())
	}

	logger := setupLogger(cfg.Logging)

	if err := cfg.Backend.RequireSecrets(); err != nil {
		logger.Fatal().Err(err).Msg("backend is not configured")
	}

	logger.Info().
		Str("version", server.Version).
		Msg("starting lesson backend")

	prober := media.NewProber(logger)
	if prober.IsAvailable() {
		logger.Info().Msg("ffprobe available - missing durations will be probed")
	} else {
		logger.Warn().Msg("ffprobe not found - catalog durations must be set")
	}

	catalog, err := server.LoadCatalog(cfg.Backend.CatalogPath, server.CatalogOptions{
		MediaRoot: cfg.Backend.MediaRoot,
		Prober:    prober,
		Logger:    logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.Backend.CatalogPath).Msg("failed to load catalog")
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Backend.DatabasePath), 0o755); err != nil {
		logger.Fatal().Err(err).Msg("failed to create database directory")
	}
	store, err := storage.NewSQLiteStorage(cfg.Backend.DatabasePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize storage")
	}
	defer store.Close()

	srv := server.New(cfg.Backend, logger, catalog, store)

	if *devToken != "" {
		user := catalog.UserByName(*devToken)
		if user == nil {
			logger.Fatal().Str("username", *devToken).Msg("unknown user")
		}
		token, err := srv.Issuer().NewAccessToken(user.IDString(), "dev")
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to issue token")
		}
		fmt.Println(token)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		logger.Info().Msg("received shutdown signal")
		cancel()

		if err := srv.Shutdown(context.Background()); err != nil {
			logger.Error().Err(err).Msg("shutdown error")
		}
	}()

	if err := srv.Start(); err != nil {
		logger.Error().Err(err).Msg("server error")
		cancel()
	}

	<-ctx.Done()
	logger.Info().Msg("server stopped")
}

func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	zerolog.SetGlobalLevel(level)

	if cfg.Pretty {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
			With().
			Timestamp().
			Logger()
	}

	return zerolog.New(os.Stdout).
		With().
		Timestamp().
		Logger()
}
