package clock

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/PTMAbellana/polegion/go/internal/competition/events"
	"github.com/PTMAbellana/polegion/go/internal/models"
)

// Gauge is satisfied by prometheus.Gauge.
type Gauge interface {
	Set(float64)
}

// Registry addresses one Authority per active competition.
type Registry struct {
	clock       Clock
	pub         Publisher
	topicPrefix string
	failures    Counter
	active      Gauge
	onExpire    func(competitionID uuid.UUID)
	timeout     time.Duration

	mu     sync.Mutex
	clocks map[uuid.UUID]*Authority
}

// Option configures a Registry.
type Option func(*Registry)

// WithBroadcastFailures counts failed tick publishes.
func WithBroadcastFailures(c Counter) Option {
	return func(r *Registry) { r.failures = c }
}

// WithActiveGauge tracks the number of live authorities.
func WithActiveGauge(g Gauge) Option {
	return func(r *Registry) { r.active = g }
}

// WithOnExpire is called when an authority reaches zero.
func WithOnExpire(fn func(competitionID uuid.UUID)) Option {
	return func(r *Registry) { r.onExpire = fn }
}

// WithPublishTimeout bounds each tick publish. Defaults to PublishTimeout.
func WithPublishTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// NewRegistry creates an empty registry publishing ticks on topics under topicPrefix.
func NewRegistry(clock Clock, pub Publisher, topicPrefix string, opts ...Option) *Registry {
	r := &Registry{
		clock:       clock,
		pub:         pub,
		topicPrefix: topicPrefix,
		timeout:     PublishTimeout,
		clocks:      make(map[uuid.UUID]*Authority),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Get returns the authority for a competition if one exists.
func (r *Registry) Get(competitionID uuid.UUID) (*Authority, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.clocks[competitionID]
	return a, ok
}

// Snapshot returns the current state of a competition's authority.
func (r *Registry) Snapshot(competitionID uuid.UUID) (Snapshot, bool) {
	a, ok := r.Get(competitionID)
	if !ok {
		return Snapshot{}, false
	}
	return a.Snapshot(), true
}

// Start starts (or restarts) the authority for a competition with a fresh duration.
func (r *Registry) Start(competitionID uuid.UUID, duration int) (*Authority, error) {
	a := r.ensure(competitionID)
	if err := a.Start(duration); err != nil {
		return nil, fmt.Errorf("failed to start clock for %s: %w", competitionID, err)
	}
	return a, nil
}

// Restore rebuilds an authority from persisted competition state after a restart.
// ONGOING competitions resume from duration - (now - timer_started_at); PAUSED ones come back frozen.
func (r *Registry) Restore(c *models.Competition) (*Authority, error) {
	if !c.IsActive() {
		return nil, fmt.Errorf("restore clock for %s: %w", c.ID, models.ErrInvalidCompetitionState)
	}
	if c.TimerDurationSec <= 0 {
		return nil, fmt.Errorf("restore clock for %s: %w", c.ID, ErrInvalidDuration)
	}

	var remaining int
	running := false
	switch c.Status {
	case models.CompetitionStatusOngoing:
		if c.TimerStartedAt == nil {
			return nil, fmt.Errorf("restore clock for %s: timer_started_at not set", c.ID)
		}
		remaining = Remaining(c.TimerDurationSec, *c.TimerStartedAt, r.clock.Now())
		running = true
	case models.CompetitionStatusPaused:
		if c.PausedRemainingSec != nil {
			remaining = *c.PausedRemainingSec
		} else if c.TimerStartedAt != nil {
			remaining = Remaining(c.TimerDurationSec, *c.TimerStartedAt, c.UpdatedAt)
		}
	}

	a := r.ensure(c.ID)
	a.restore(c.TimerDurationSec, remaining, running)

	log.Info().
		Str("competition_id", c.ID.String()).
		Int("time_remaining", remaining).
		Bool("is_running", a.Snapshot().Running).
		Msg("Clock restored")
	return a, nil
}

// Remove stops and forgets the authority for a competition. Used when it reaches DONE.
func (r *Registry) Remove(competitionID uuid.UUID) {
	r.mu.Lock()
	a, ok := r.clocks[competitionID]
	delete(r.clocks, competitionID)
	r.setActiveLocked()
	r.mu.Unlock()

	if ok {
		a.Stop()
	}
}

// Active returns the number of live authorities.
func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clocks)
}

// StopAll halts every tick loop without forgetting state. Called on shutdown.
func (r *Registry) StopAll() {
	r.mu.Lock()
	clocks := make([]*Authority, 0, len(r.clocks))
	for _, a := range r.clocks {
		clocks = append(clocks, a)
	}
	r.mu.Unlock()

	for _, a := range clocks {
		a.mu.Lock()
		a.stopLoopLocked()
		a.mu.Unlock()
	}
}

func (r *Registry) ensure(competitionID uuid.UUID) *Authority {
	r.mu.Lock()
	defer r.mu.Unlock()

	if a, ok := r.clocks[competitionID]; ok {
		return a
	}
	a := newAuthority(competitionID, events.Topic(r.topicPrefix, competitionID), r.clock, r.pub)
	a.failures = r.failures
	a.onExpire = r.onExpire
	a.timeout = r.timeout
	r.clocks[competitionID] = a
	r.setActiveLocked()
	return a
}

func (r *Registry) setActiveLocked() {
	if r.active != nil {
		r.active.Set(float64(len(r.clocks)))
	}
}
