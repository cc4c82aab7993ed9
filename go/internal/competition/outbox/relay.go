package outbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/PTMAbellana/polegion/go/internal/competition/bus"
	"github.com/PTMAbellana/polegion/go/internal/competition/events"
	"github.com/PTMAbellana/polegion/go/internal/competition/metrics"
)

type Config struct {
	DatabaseURL      string        // Postgres DSN for LISTEN/NOTIFY
	NotifyChannel    string        // Channel name to LISTEN on
	TopicPrefix      string        // Bus topic prefix, see events.Topic
	FallbackInterval time.Duration // How often to poll for missed events
	MaxRetries       int
	RetryDelay       time.Duration
	PingInterval     time.Duration
	BatchSize        int // Max events to fetch per poll
}

func DefaultConfig() Config {
	return Config{
		NotifyChannel:    "competition_outbox_events",
		TopicPrefix:      events.DefaultTopicPrefix,
		FallbackInterval: 30 * time.Second,
		MaxRetries:       5,
		RetryDelay:       200 * time.Millisecond,
		PingInterval:     90 * time.Second,
		BatchSize:        100,
	}
}

// Source is the outbox surface the relay reads from.
type Source interface {
	FetchUnsent(ctx context.Context, limit int) ([]Event, error)
	FetchByID(ctx context.Context, id uuid.UUID) (*Event, error)
	MarkSent(ctx context.Context, id uuid.UUID) error
}

// Relay moves outbox rows onto the bus. NOTIFY delivers new ids; a fallback poll picks up anything missed.
type Relay struct {
	source   Source
	pub      bus.Publisher
	cfg      Config
	clock    clockwork.Clock
	metrics  *metrics.Metrics
	listener *pq.Listener
	notify   <-chan *pq.Notification

	mu        sync.Mutex
	running   bool
	processed uint64
	lastEvent time.Time
}

// NewRelay opens a pq listener on cfg.NotifyChannel.
func NewRelay(source Source, pub bus.Publisher, cfg Config, clk clockwork.Clock, m *metrics.Metrics) (*Relay, error) {
	l := pq.NewListener(
		cfg.DatabaseURL,
		10*time.Second,
		time.Minute,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				log.Error().Err(err).Int("listener_event", int(ev)).Msg("outbox listener event")
			}
		},
	)
	if err := l.Listen(cfg.NotifyChannel); err != nil {
		l.Close()
		return nil, fmt.Errorf("failed to listen to channel: %w", err)
	}

	log.Info().
		Str("channel", cfg.NotifyChannel).
		Msg("listening for outbox notifications")

	r := newRelay(source, pub, cfg, clk, m, l.Notify)
	r.listener = l
	return r, nil
}

func newRelay(source Source, pub bus.Publisher, cfg Config, clk clockwork.Clock, m *metrics.Metrics, notify <-chan *pq.Notification) *Relay {
	return &Relay{
		source:  source,
		pub:     pub,
		cfg:     cfg,
		clock:   clk,
		metrics: m,
		notify:  notify,
	}
}

// Run relays until ctx is cancelled. Rows left unsent while the relay was down go out first.
func (r *Relay) Run(ctx context.Context) error {
	log.Info().
		Str("channel", r.cfg.NotifyChannel).
		Dur("ping_interval", r.cfg.PingInterval).
		Dur("fallback_interval", r.cfg.FallbackInterval).
		Msg("outbox relay started")

	r.setRunning(true)
	defer r.setRunning(false)

	if err := r.processUnsent(ctx); err != nil {
		log.Error().Err(err).Msg("failed to process unsent events")
	}

	pingTicker := r.clock.NewTicker(r.cfg.PingInterval)
	fallbackTicker := r.clock.NewTicker(r.cfg.FallbackInterval)
	defer pingTicker.Stop()
	defer fallbackTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("outbox relay shutting down")
			return r.Stop()
		case note := <-r.notify:
			if note == nil {
				// nil notification means the connection was re-established; poll for anything missed
				if err := r.processUnsent(ctx); err != nil {
					log.Error().Err(err).Msg("failed to process unsent events")
				}
				continue
			}
			if err := r.handleNotification(ctx, note.Extra); err != nil {
				log.Error().Err(err).Msg("failed to handle notification")
			}
		case <-fallbackTicker.Chan():
			if err := r.processUnsent(ctx); err != nil {
				log.Error().Err(err).Msg("failed to process unsent events")
			}
		case <-pingTicker.Chan():
			if r.listener != nil {
				if err := r.listener.Ping(); err != nil {
					log.Error().Err(err).Msg("failed to ping listener")
				}
			}
		}
	}
}

// Stats returns how many events were relayed and when the last one went out.
func (r *Relay) Stats() (processed uint64, lastEvent time.Time, running bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.processed, r.lastEvent, r.running
}

func (r *Relay) setRunning(running bool) {
	r.mu.Lock()
	r.running = running
	r.mu.Unlock()
}

func (r *Relay) Stop() error {
	if r.listener == nil {
		return nil
	}
	return r.listener.Close()
}

// handleNotification relays the row whose id is the NOTIFY payload.
func (r *Relay) handleNotification(ctx context.Context, extra string) error {
	id, err := uuid.Parse(extra)
	if err != nil {
		return fmt.Errorf("invalid event ID in notification: %w", err)
	}

	ev, err := r.source.FetchByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// Already relayed by the fallback poll.
			return nil
		}
		return fmt.Errorf("failed to fetch outbox event: %w", err)
	}
	return r.relay(ctx, *ev)
}

// processUnsent relays every unsent row, oldest first.
func (r *Relay) processUnsent(ctx context.Context) error {
	unsent, err := r.source.FetchUnsent(ctx, r.cfg.BatchSize)
	if err != nil {
		return err
	}

	for _, ev := range unsent {
		if err := r.relay(ctx, ev); err != nil {
			// Stop so later rows are not delivered ahead of this one.
			return fmt.Errorf("failed to relay outbox event %s: %w", ev.ID, err)
		}
	}
	return nil
}

func (r *Relay) relay(ctx context.Context, ev Event) error {
	if err := r.publishWithRetry(ctx, ev); err != nil {
		r.metrics.RecordOutboxEvent(ev.EventType, false)
		return err
	}
	r.metrics.RecordOutboxEvent(ev.EventType, true)

	if err := r.source.MarkSent(ctx, ev.ID); err != nil {
		log.Error().Err(err).Str("event_id", ev.ID.String()).Msg("failed to mark outbox event as sent")
		return err
	}

	r.mu.Lock()
	r.processed++
	r.lastEvent = r.clock.Now()
	r.mu.Unlock()

	log.Debug().
		Str("event_id", ev.ID.String()).
		Str("competition_id", ev.CompetitionID.String()).
		Str("event_type", ev.EventType).
		Msg("published and marked event as sent")
	return nil
}

// publishWithRetry publishes with a linearly growing delay between attempts.
func (r *Relay) publishWithRetry(ctx context.Context, ev Event) error {
	topic := events.Topic(r.cfg.TopicPrefix, ev.CompetitionID)
	var lastErr error

	for attempt := 0; attempt <= r.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := r.cfg.RetryDelay * time.Duration(attempt)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-r.clock.After(delay):
			}
		}

		if err := r.pub.Publish(ctx, topic, ev.Payload); err != nil {
			lastErr = err
			log.Warn().
				Err(err).
				Int("attempt", attempt+1).
				Str("event_id", ev.ID.String()).
				Str("topic", topic).
				Msg("failed to publish, retrying")
			continue
		}

		if attempt > 0 {
			log.Info().
				Int("attempt", attempt+1).
				Str("event_id", ev.ID.String()).
				Msg("publish succeeded after retry")
		}
		return nil
	}

	return fmt.Errorf("publish failed after %d attempts: %w", r.cfg.MaxRetries+1, lastErr)
}
