package clock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/PTMAbellana/polegion/go/internal/competition/events"
)

// TickInterval is the authority's broadcast cadence.
const TickInterval = time.Second

// PublishTimeout caps how long one tick publish may block while the authority is locked.
const PublishTimeout = time.Second

// ErrInvalidDuration is returned when a timer is started with a non-positive duration.
var ErrInvalidDuration = errors.New("timer duration must be positive")

// Clock is the interface we use for time operations.
// In production, use clockwork.NewRealClock(). In tests, a FakeClock.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) clockwork.Ticker
}

// Publisher is where ticks are sent.
type Publisher interface {
	Publish(ctx context.Context, topic string, data []byte) error
}

// Counter is satisfied by prometheus.Counter.
type Counter interface {
	Inc()
}

// Snapshot is a point-in-time copy of an authority's state.
type Snapshot struct {
	CompetitionID uuid.UUID
	Duration      int
	Remaining     int
	Running       bool
	// StartedAt is the effective start: Remaining == Duration - (now - StartedAt) while running.
	StartedAt time.Time
}

// Authority owns the remaining time for one competition and is its only writer.
type Authority struct {
	competitionID uuid.UUID
	topic         string
	clock         Clock
	pub           Publisher
	failures      Counter
	onExpire      func(competitionID uuid.UUID)
	timeout       time.Duration

	mu        sync.Mutex
	duration  int
	remaining int
	running   bool
	startedAt time.Time
	cancel    context.CancelFunc
}

func newAuthority(competitionID uuid.UUID, topic string, clock Clock, pub Publisher) *Authority {
	return &Authority{
		competitionID: competitionID,
		topic:         topic,
		clock:         clock,
		pub:           pub,
		timeout:       PublishTimeout,
	}
}

// Start sets the remaining time to duration seconds and begins ticking.
func (a *Authority) Start(duration int) error {
	if duration <= 0 {
		return ErrInvalidDuration
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	a.stopLoopLocked()
	a.duration = duration
	a.remaining = duration
	a.running = true
	a.startedAt = a.clock.Now()
	a.publishLocked()
	a.startLoopLocked()

	log.Info().
		Str("competition_id", a.competitionID.String()).
		Int("duration", duration).
		Msg("Clock started")
	return nil
}

// Pause freezes the remaining time. Pausing a stopped clock only republishes its state.
func (a *Authority) Pause() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.stopLoopLocked()
	a.running = false
	a.publishLocked()
}

// Resume continues from the frozen remaining time. A clock at zero stays stopped.
func (a *Authority) Resume() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.running {
		a.publishLocked()
		return
	}
	if a.remaining > 0 {
		a.running = true
		a.startedAt = a.clock.Now().Add(-time.Duration(a.duration-a.remaining) * time.Second)
		a.startLoopLocked()
	}
	a.publishLocked()
}

// Stop halts the tick loop and publishes the final state.
func (a *Authority) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.stopLoopLocked()
	a.running = false
	a.publishLocked()
}

// Snapshot returns the current state.
func (a *Authority) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshotLocked()
}

// Tick returns the current state as a broadcast payload stamped with now.
func (a *Authority) Tick() events.TimerUpdatePayload {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.tickLocked()
}

// restore seeds the authority from persisted state without resetting duration.
func (a *Authority) restore(duration, remaining int, running bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.stopLoopLocked()
	a.duration = duration
	a.remaining = remaining
	a.running = running && remaining > 0
	a.startedAt = a.clock.Now().Add(-time.Duration(duration-remaining) * time.Second)
	a.publishLocked()
	if a.running {
		a.startLoopLocked()
	}
}

func (a *Authority) snapshotLocked() Snapshot {
	return Snapshot{
		CompetitionID: a.competitionID,
		Duration:      a.duration,
		Remaining:     a.remaining,
		Running:       a.running,
		StartedAt:     a.startedAt,
	}
}

func (a *Authority) tickLocked() events.TimerUpdatePayload {
	return events.TimerUpdatePayload{
		TimeRemaining: a.remaining,
		IsRunning:     a.running,
		CompetitionID: a.competitionID.String(),
		Timestamp:     a.clock.Now().UnixMilli(),
	}
}

// startLoopLocked creates the ticker synchronously so a fake clock sees it before Start returns.
func (a *Authority) startLoopLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	ticker := a.clock.NewTicker(TickInterval)
	go a.run(ctx, ticker)
}

func (a *Authority) stopLoopLocked() {
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
}

func (a *Authority) run(ctx context.Context, ticker clockwork.Ticker) {
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if expired := a.advance(ctx); expired {
				log.Info().
					Str("competition_id", a.competitionID.String()).
					Msg("Clock reached zero")
				if a.onExpire != nil {
					a.onExpire(a.competitionID)
				}
				return
			}
			if ctx.Err() != nil {
				return
			}
		}
	}
}

// advance decrements one second and publishes. It reports whether the clock just expired.
func (a *Authority) advance(ctx context.Context) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	// Paused or stopped while this tick was in flight.
	if ctx.Err() != nil {
		return false
	}

	a.remaining--
	expired := a.remaining <= 0
	if expired {
		a.remaining = 0
		a.running = false
		a.stopLoopLocked()
	}
	a.publishLocked()
	return expired
}

// publishLocked sends the current state. Holding mu keeps ticks in state order on the topic.
func (a *Authority) publishLocked() {
	tick := a.tickLocked()
	data, err := events.Encode(events.EventTypeTimerUpdate, a.competitionID, tick, a.clock.Now())
	if err != nil {
		log.Error().Err(err).Str("competition_id", a.competitionID.String()).Msg("Failed to encode timer update")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()
	if err := a.pub.Publish(ctx, a.topic, data); err != nil {
		if a.failures != nil {
			a.failures.Inc()
		}
		log.Error().Err(err).
			Str("competition_id", a.competitionID.String()).
			Str("topic", a.topic).
			Msg("Failed to publish timer update")
		return
	}

	log.Debug().
		Str("competition_id", a.competitionID.String()).
		Int("time_remaining", tick.TimeRemaining).
		Bool("is_running", tick.IsRunning).
		Msg("Timer update published")
}

// Remaining reconstructs time remaining from a persisted start: duration - (now - startedAt), clamped to [0, duration].
func Remaining(duration int, startedAt, now time.Time) int {
	elapsed := int(now.Sub(startedAt) / time.Second)
	if elapsed < 0 {
		elapsed = 0
	}
	r := duration - elapsed
	if r < 0 {
		return 0
	}
	return r
}
