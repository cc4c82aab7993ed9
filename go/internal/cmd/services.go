package main

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/PTMAbellana/polegion/go/internal/competition/attempt"
	"github.com/PTMAbellana/polegion/go/internal/competition/bus"
	"github.com/PTMAbellana/polegion/go/internal/competition/clock"
	"github.com/PTMAbellana/polegion/go/internal/competition/gateway"
	"github.com/PTMAbellana/polegion/go/internal/competition/grading"
	"github.com/PTMAbellana/polegion/go/internal/competition/leaderboard"
	"github.com/PTMAbellana/polegion/go/internal/competition/lifecycle"
	"github.com/PTMAbellana/polegion/go/internal/competition/metrics"
	"github.com/PTMAbellana/polegion/go/internal/competition/outbox"
	"github.com/PTMAbellana/polegion/go/internal/competition/service"
	"github.com/PTMAbellana/polegion/go/internal/competition/store"
)

// Services is the wired engine plus the background loops main has to run.
type Services struct {
	Store        store.Store
	Bus          bus.Bus
	Clocks       *clock.Registry
	Lifecycle    *lifecycle.App
	Competition  *service.Service
	Connections  *gateway.ConnectionManager
	FollowUps    *attempt.WorkerPool
	Relay        *outbox.Relay // nil when the outbox is disabled
	OutboxHealth *outbox.HealthChecker

	closers []func()
}

// Close releases connections in reverse order of creation.
func (s *Services) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func setupServices(ctx context.Context, cfg *Config, m *metrics.Metrics) (*Services, error) {
	// Wire up dependency injection chain
	// Store → Bus → Clocks → Leaderboards → Attempt pipeline → Lifecycle → Service layer
	clk := clockwork.NewRealClock()
	s := &Services{}

	if err := s.setupStore(ctx, cfg, clk); err != nil {
		s.Close()
		return nil, err
	}
	if err := s.setupBus(cfg); err != nil {
		s.Close()
		return nil, err
	}
	cache, err := s.setupCache(cfg)
	if err != nil {
		s.Close()
		return nil, err
	}

	prefix := cfg.Bus.SubjectPrefix
	s.Clocks = clock.NewRegistry(clk, s.Bus, prefix,
		clock.WithBroadcastFailures(m.BroadcastFailures),
		clock.WithActiveGauge(m.ActiveClocks),
		clock.WithOnExpire(func(id uuid.UUID) {
			log.Info().Str("competition_id", id.String()).Msg("Problem timer expired")
		}),
	)
	s.closers = append(s.closers, s.Clocks.StopAll)

	// Leaderboards
	aggregator := leaderboard.NewAggregator(s.Store, cache, clk, leaderboard.WithRebuildHistogram(m.LeaderboardRebuild))

	// Attempts
	processor := attempt.NewProcessor(aggregator, s.Bus, prefix, clk, m)
	s.FollowUps = attempt.NewWorkerPool(processor, m, cfg.FollowUps.Workers, cfg.FollowUps.Queue)
	pipeline := attempt.NewPipeline(s.Store, grading.NewGeometry(), s.FollowUps, s.Clocks, clk, m, cfg.pipelineConfig())

	// Lifecycle
	notifier, err := s.setupNotifier(cfg, clk, m)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.Lifecycle = lifecycle.NewApp(s.Store, s.Clocks, notifier, clk)

	s.Competition = service.NewService(pipeline, aggregator, s.Lifecycle)
	s.Connections = gateway.NewConnectionManager(gateway.DefaultConnectionConfig(), s.Bus, s.Clocks, prefix)
	return s, nil
}

func (s *Services) setupStore(ctx context.Context, cfg *Config, clk clockwork.Clock) error {
	if cfg.Storage.Driver == driverMemory {
		log.Warn().Msg("Using in-memory store, state is lost on restart")
		s.Store = store.NewMemory(clk)
		return nil
	}

	pool, err := setupPool(ctx, cfg.Database)
	if err != nil {
		return err
	}
	s.closers = append(s.closers, pool.Close)
	s.Store = store.NewPostgres(pool, clk)
	return nil
}

func (s *Services) setupBus(cfg *Config) error {
	if cfg.Bus.Driver == driverLocal {
		s.Bus = bus.NewLocal()
	} else {
		natsConfig := bus.DefaultNATSConfig()
		natsConfig.URL = cfg.Bus.NATSURL
		nb, err := bus.NewNATS(natsConfig)
		if err != nil {
			return err
		}
		s.Bus = nb
	}
	s.closers = append(s.closers, func() {
		if err := s.Bus.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close bus")
		}
	})
	return nil
}

func (s *Services) setupCache(cfg *Config) (leaderboard.Cache, error) {
	if cfg.Cache.Driver == driverMemory {
		return leaderboard.NewMemoryCache(), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Cache.RedisAddr,
		Password: cfg.Cache.RedisPassword,
	})
	s.closers = append(s.closers, func() { _ = client.Close() })

	cache, err := leaderboard.NewRedisCache(&leaderboard.RedisConfig{
		RedisClient: client,
		TTL:         time.Duration(cfg.Cache.TTLSec) * time.Second,
	})
	if err != nil {
		return nil, err
	}
	return cache, nil
}

func (s *Services) setupNotifier(cfg *Config, clk clockwork.Clock, m *metrics.Metrics) (lifecycle.Notifier, error) {
	if !cfg.outboxEnabled() {
		return lifecycle.NewBusNotifier(s.Bus, cfg.Bus.SubjectPrefix, clk), nil
	}

	db, err := setupOutboxDB(cfg.Database)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, func() { _ = db.Close() })
	repo := outbox.NewRepository(db)

	relayConfig := outbox.DefaultConfig()
	relayConfig.DatabaseURL = cfg.Database.DSN()
	relayConfig.TopicPrefix = cfg.Bus.SubjectPrefix
	relay, err := outbox.NewRelay(repo, s.Bus, relayConfig, clk, m)
	if err != nil {
		return nil, fmt.Errorf("failed to create outbox relay: %w", err)
	}
	// Relay.Run closes its listener on shutdown.
	s.Relay = relay
	s.OutboxHealth = outbox.NewHealthChecker(relay, repo, clk, relayConfig.FallbackInterval*2)
	return outbox.NewNotifier(repo, clk), nil
}
