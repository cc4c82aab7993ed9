package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/PTMAbellana/polegion/go/internal/competition/metrics"
)

const shutdownTimeout = 15 * time.Second

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	config, err := loadConfig(getEnv("CONFIG_PATH", "config.yaml"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	level, _ := zerolog.ParseLevel(config.LogLevel)
	zerolog.SetGlobalLevel(level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	services, err := setupServices(ctx, config, metrics.New(registry))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up services")
	}
	defer services.Close()

	restored, err := services.Lifecycle.RestoreActive(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to restore competition clocks")
	}

	log.Info().
		Str("port", config.Port).
		Str("storage", config.Storage.Driver).
		Str("bus", config.Bus.Driver).
		Str("cache", config.Cache.Driver).
		Bool("outbox", services.Relay != nil).
		Int("restored_clocks", restored).
		Msg("starting polegion competition engine")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := services.FollowUps.Run(ctx); err != nil {
			log.Error().Err(err).Msg("follow-up worker pool stopped")
		}
	}()
	go func() {
		defer wg.Done()
		services.Connections.Run(ctx)
	}()
	if services.Relay != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := services.Relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("outbox relay stopped")
			}
		}()
	}

	server := setupServer(config.Port, services, registry)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server failed")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
	}

	wg.Wait()
	log.Info().Msg("shutdown complete")
}
