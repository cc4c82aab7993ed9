package leaderboard

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/PTMAbellana/polegion/go/internal/competition/store"
	"github.com/PTMAbellana/polegion/go/internal/models"
)

// Source is the slice of the store the aggregator reads.
type Source interface {
	ReadLedger(ctx context.Context, f store.Filter) (store.Ledger, error)
	ListParticipants(ctx context.Context, roomID uuid.UUID) ([]models.RoomParticipant, error)
	GetCompetition(ctx context.Context, id uuid.UUID) (*models.Competition, error)
}

// Aggregator derives ranked views from the append-only ledger. It never mutates the ledger.
type Aggregator struct {
	source   Source
	cache    Cache
	clock    clockwork.Clock
	duration *prometheus.HistogramVec
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithRebuildHistogram observes rebuild latency labeled by scope kind.
func WithRebuildHistogram(h *prometheus.HistogramVec) Option {
	return func(a *Aggregator) { a.duration = h }
}

// NewAggregator creates a leaderboard aggregator
func NewAggregator(source Source, cache Cache, clock clockwork.Clock, opts ...Option) *Aggregator {
	a := &Aggregator{source: source, cache: cache, clock: clock}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Rebuild re-derives the view for scope from the ledger and stores it.
// If a concurrent rebuild already stored a newer view, that view is returned instead.
func (a *Aggregator) Rebuild(ctx context.Context, scope Scope) (*View, error) {
	start := a.clock.Now()

	roomID := scope.ID
	filter := store.ForRoom(scope.ID)
	switch scope.Kind {
	case ScopeRoom:
	case ScopeCompetition:
		c, err := a.source.GetCompetition(ctx, scope.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to load competition for leaderboard: %w", err)
		}
		roomID = c.RoomID
		filter = store.ForCompetition(scope.ID)
	default:
		return nil, fmt.Errorf("unknown leaderboard scope %q", scope.Kind)
	}

	participants, err := a.source.ListParticipants(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}
	ledger, err := a.source.ReadLedger(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger: %w", err)
	}

	entries := Fold(participants, ledger.Attempts, ledger.Transactions)
	Rank(entries)

	view := &View{
		Scope:     scope,
		Entries:   entries,
		Watermark: len(ledger.Transactions),
		RebuiltAt: a.clock.Now().UTC(),
	}

	stored, err := a.cache.Put(ctx, view)
	if err != nil {
		return nil, err
	}
	if a.duration != nil {
		a.duration.WithLabelValues(string(scope.Kind)).Observe(a.clock.Since(start).Seconds())
	}

	if !stored {
		log.Debug().
			Str("scope", scope.Key()).
			Int("watermark", view.Watermark).
			Msg("Newer leaderboard view already stored")
		return a.cache.Get(ctx, scope)
	}

	log.Debug().
		Str("scope", scope.Key()).
		Int("entries", len(entries)).
		Int("watermark", view.Watermark).
		Msg("Leaderboard rebuilt")
	return view, nil
}

// Get returns the most recently stored view, or ErrNoView.
func (a *Aggregator) Get(ctx context.Context, scope Scope) (*View, error) {
	return a.cache.Get(ctx, scope)
}

// Load serves the stored view, rebuilding when none exists or fresh is requested.
func (a *Aggregator) Load(ctx context.Context, scope Scope, fresh bool) (*View, error) {
	if !fresh {
		v, err := a.cache.Get(ctx, scope)
		if err == nil {
			return v, nil
		}
		if !errors.Is(err, ErrNoView) {
			log.Warn().Err(err).Str("scope", scope.Key()).Msg("Leaderboard cache read failed, rebuilding")
		}
	}
	return a.Rebuild(ctx, scope)
}

