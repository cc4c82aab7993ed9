package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/PTMAbellana/polegion/go/internal/competition/clock"
	"github.com/PTMAbellana/polegion/go/internal/competition/events"
	"github.com/PTMAbellana/polegion/go/internal/competition/store"
	"github.com/PTMAbellana/polegion/go/internal/models"
)

// Store defines what the lifecycle layer needs from persistence
type Store interface {
	store.CompetitionStore
	store.ParticipantStore
}

// Clocks defines what the lifecycle layer needs from the clock registry
type Clocks interface {
	Start(competitionID uuid.UUID, duration int) (*clock.Authority, error)
	Restore(c *models.Competition) (*clock.Authority, error)
	Get(competitionID uuid.UUID) (*clock.Authority, bool)
	Remove(competitionID uuid.UUID)
}

// ProblemInput binds one authored problem into a new competition.
type ProblemInput struct {
	ProblemID uuid.UUID
	TimerSec  int
	Problem   models.ProblemSpec
}

// CreateCompetitionRequest contains the fields for creating a competition
type CreateCompetitionRequest struct {
	RoomID    uuid.UUID
	Title     string
	CreatedBy uuid.UUID
	Problems  []ProblemInput
}

// App handles competition lifecycle business logic
type App struct {
	store    Store
	clocks   Clocks
	notifier Notifier
	clock    clockwork.Clock

	mu    sync.Mutex
	locks map[uuid.UUID]*competitionLock
}

// competitionLock serializes commands for one competition. refs counts holders
// and waiters so the entry can be dropped once nobody needs it.
type competitionLock struct {
	sync.Mutex
	refs int
}

// NewApp creates a new lifecycle App
func NewApp(s Store, clocks Clocks, notifier Notifier, clk clockwork.Clock) *App {
	return &App{
		store:    s,
		clocks:   clocks,
		notifier: notifier,
		clock:    clk,
		locks:    make(map[uuid.UUID]*competitionLock),
	}
}

// CreateCompetition creates a NEW competition with its ordered problems.
func (a *App) CreateCompetition(ctx context.Context, req CreateCompetitionRequest) (*models.Competition, error) {
	if err := validateCreateRequest(req); err != nil {
		return nil, err
	}

	c := &models.Competition{
		ID:                uuid.New(),
		RoomID:            req.RoomID,
		Title:             strings.TrimSpace(req.Title),
		CreatedBy:         req.CreatedBy,
		Status:            models.CompetitionStatusNew,
		GameplayIndicator: models.GameplayPause,
		TimerDurationSec:  req.Problems[0].TimerSec,
	}
	for i, p := range req.Problems {
		c.Problems = append(c.Problems, models.CompetitionProblem{
			ID:        uuid.New(),
			ProblemID: p.ProblemID,
			Position:  i,
			TimerSec:  p.TimerSec,
			Problem:   p.Problem,
		})
	}

	if err := a.store.CreateCompetition(ctx, c); err != nil {
		return nil, fmt.Errorf("failed to create competition: %w", err)
	}

	log.Info().
		Str("competition_id", c.ID.String()).
		Str("room_id", c.RoomID.String()).
		Int("problems", len(c.Problems)).
		Msg("Competition created")
	return c, nil
}

func validateCreateRequest(req CreateCompetitionRequest) error {
	if req.RoomID == uuid.Nil {
		return fmt.Errorf("%w: room_id is required", models.ErrInvalidCompetitionConfig)
	}
	if req.CreatedBy == uuid.Nil {
		return fmt.Errorf("%w: created_by is required", models.ErrInvalidCompetitionConfig)
	}
	if strings.TrimSpace(req.Title) == "" {
		return fmt.Errorf("%w: title is required", models.ErrInvalidCompetitionConfig)
	}
	if len(req.Problems) == 0 {
		return fmt.Errorf("%w: at least one problem is required", models.ErrInvalidCompetitionConfig)
	}
	for i, p := range req.Problems {
		if p.TimerSec <= 0 {
			return fmt.Errorf("%w: problem %d timer_sec must be positive", models.ErrInvalidCompetitionConfig, i)
		}
		if p.Problem.MaxXP < 0 {
			return fmt.Errorf("%w: problem %d max_xp cannot be negative", models.ErrInvalidCompetitionConfig, i)
		}
	}
	return nil
}

// JoinRoom adds a user to a room. Joining twice returns the original participant.
func (a *App) JoinRoom(ctx context.Context, roomID, userID uuid.UUID) (*models.RoomParticipant, error) {
	p, err := a.store.JoinRoom(ctx, roomID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to join room: %w", err)
	}
	return p, nil
}

// GetCompetition retrieves a competition by ID
func (a *App) GetCompetition(ctx context.Context, id uuid.UUID) (*models.Competition, error) {
	return a.store.GetCompetition(ctx, id)
}

// ActiveCompetition returns the ONGOING or PAUSED competition for a room.
func (a *App) ActiveCompetition(ctx context.Context, roomID uuid.UUID) (*models.Competition, error) {
	return a.store.FindActiveCompetition(ctx, roomID)
}

// Authorize returns models.ErrNotInstructor unless userID created the competition.
func Authorize(c *models.Competition, userID uuid.UUID) error {
	if c.CreatedBy != userID {
		return models.ErrNotInstructor
	}
	return nil
}

// StartCompetition moves NEW -> ONGOING and starts the clock on the first problem.
func (a *App) StartCompetition(ctx context.Context, id, actor uuid.UUID) (*models.Competition, error) {
	unlock := a.lock(id)
	defer unlock()

	c, err := a.load(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	if err := ValidateTransition(c.Status, models.CompetitionStatusOngoing); err != nil {
		return nil, err
	}
	if len(c.Problems) == 0 {
		return nil, fmt.Errorf("%w: competition has no problems", models.ErrInvalidCompetitionConfig)
	}

	now := a.clock.Now().UTC()
	up := store.UpdateFrom(c)
	up.Status = models.CompetitionStatusOngoing
	up.GameplayIndicator = models.GameplayPlay
	up.CurrentProblemIndex = 0
	up.TimerStartedAt = &now
	up.TimerDurationSec = c.Problems[0].TimerSec
	up.PausedRemainingSec = nil
	up.UpdatedAt = now

	updated, err := a.store.TransitionCompetition(ctx, id, c.Status, up)
	if err != nil {
		return nil, fmt.Errorf("failed to start competition: %w", err)
	}
	if _, err := a.clocks.Start(id, updated.TimerDurationSec); err != nil {
		return nil, err
	}

	a.notify(ctx, updated)
	return updated, nil
}

// PauseCompetition moves ONGOING -> PAUSED and freezes the clock.
func (a *App) PauseCompetition(ctx context.Context, id, actor uuid.UUID) (*models.Competition, error) {
	unlock := a.lock(id)
	defer unlock()

	c, err := a.load(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	if err := ValidateTransition(c.Status, models.CompetitionStatusPaused); err != nil {
		return nil, err
	}

	now := a.clock.Now().UTC()
	remaining := a.remaining(c, now)
	up := store.UpdateFrom(c)
	up.Status = models.CompetitionStatusPaused
	up.GameplayIndicator = models.GameplayPause
	up.PausedRemainingSec = &remaining
	up.UpdatedAt = now

	updated, err := a.store.TransitionCompetition(ctx, id, c.Status, up)
	if err != nil {
		return nil, fmt.Errorf("failed to pause competition: %w", err)
	}
	if authority, ok := a.clocks.Get(id); ok {
		authority.Pause()
	} else if _, err := a.clocks.Restore(updated); err != nil {
		log.Error().Err(err).Str("competition_id", id.String()).Msg("Failed to restore paused clock")
	}

	a.notify(ctx, updated)
	return updated, nil
}

// ResumeCompetition moves PAUSED -> ONGOING. timer_started_at is shifted so that
// duration - (now - timer_started_at) still equals the remaining time at pause.
func (a *App) ResumeCompetition(ctx context.Context, id, actor uuid.UUID) (*models.Competition, error) {
	unlock := a.lock(id)
	defer unlock()

	c, err := a.load(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	if err := ValidateTransition(c.Status, models.CompetitionStatusOngoing); err != nil {
		return nil, err
	}

	now := a.clock.Now().UTC()
	remaining := a.remaining(c, now)
	startedAt := now.Add(-time.Duration(c.TimerDurationSec-remaining) * time.Second)
	up := store.UpdateFrom(c)
	up.Status = models.CompetitionStatusOngoing
	up.GameplayIndicator = models.GameplayPlay
	up.TimerStartedAt = &startedAt
	up.PausedRemainingSec = nil
	up.UpdatedAt = now

	updated, err := a.store.TransitionCompetition(ctx, id, c.Status, up)
	if err != nil {
		return nil, fmt.Errorf("failed to resume competition: %w", err)
	}
	if authority, ok := a.clocks.Get(id); ok {
		authority.Resume()
	} else if _, err := a.clocks.Restore(updated); err != nil {
		log.Error().Err(err).Str("competition_id", id.String()).Msg("Failed to restore resumed clock")
	}

	a.notify(ctx, updated)
	return updated, nil
}

// AdvanceProblem moves an ONGOING competition to its next problem and restarts the clock.
// Advancing past the final problem ends the competition.
func (a *App) AdvanceProblem(ctx context.Context, id, actor uuid.UUID) (*models.Competition, error) {
	unlock := a.lock(id)
	defer unlock()

	c, err := a.load(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	if c.Status != models.CompetitionStatusOngoing {
		return nil, fmt.Errorf("cannot advance a %s competition: %w", c.Status, models.ErrInvalidCompetitionState)
	}
	if c.IsFinalProblem() {
		return a.end(ctx, c)
	}

	now := a.clock.Now().UTC()
	next := c.Problems[c.CurrentProblemIndex+1]
	up := store.UpdateFrom(c)
	up.CurrentProblemIndex = c.CurrentProblemIndex + 1
	up.TimerStartedAt = &now
	up.TimerDurationSec = next.TimerSec
	up.PausedRemainingSec = nil
	up.UpdatedAt = now

	updated, err := a.store.TransitionCompetition(ctx, id, c.Status, up)
	if err != nil {
		return nil, fmt.Errorf("failed to advance competition: %w", err)
	}
	if _, err := a.clocks.Start(id, next.TimerSec); err != nil {
		return nil, err
	}

	log.Info().
		Str("competition_id", id.String()).
		Int("current_problem_index", updated.CurrentProblemIndex).
		Msg("Advanced to next problem")
	a.notify(ctx, updated)
	return updated, nil
}

// EndCompetition moves ONGOING -> DONE and stops the clock.
func (a *App) EndCompetition(ctx context.Context, id, actor uuid.UUID) (*models.Competition, error) {
	unlock := a.lock(id)
	defer unlock()

	c, err := a.load(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	return a.end(ctx, c)
}

func (a *App) end(ctx context.Context, c *models.Competition) (*models.Competition, error) {
	if err := ValidateTransition(c.Status, models.CompetitionStatusDone); err != nil {
		return nil, err
	}

	up := store.UpdateFrom(c)
	up.Status = models.CompetitionStatusDone
	up.GameplayIndicator = models.GameplayPause
	up.PausedRemainingSec = nil
	up.UpdatedAt = a.clock.Now().UTC()

	updated, err := a.store.TransitionCompetition(ctx, c.ID, c.Status, up)
	if err != nil {
		return nil, fmt.Errorf("failed to end competition: %w", err)
	}
	a.clocks.Remove(c.ID)

	a.notify(ctx, updated)
	return updated, nil
}

// StartTimer restarts the clock for the current problem. A non-positive duration
// uses the problem's own timer.
func (a *App) StartTimer(ctx context.Context, id, actor uuid.UUID, duration int) (*models.Competition, error) {
	unlock := a.lock(id)
	defer unlock()

	c, err := a.load(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	if c.Status != models.CompetitionStatusOngoing {
		return nil, fmt.Errorf("cannot start timer while competition is %s: %w", c.Status, models.ErrInvalidCompetitionState)
	}
	if duration <= 0 {
		current := c.CurrentProblem()
		if current == nil {
			return nil, fmt.Errorf("%w: no current problem", models.ErrInvalidCompetitionConfig)
		}
		duration = current.TimerSec
	}

	now := a.clock.Now().UTC()
	up := store.UpdateFrom(c)
	up.TimerStartedAt = &now
	up.TimerDurationSec = duration
	up.UpdatedAt = now

	updated, err := a.store.TransitionCompetition(ctx, id, c.Status, up)
	if err != nil {
		return nil, fmt.Errorf("failed to start timer: %w", err)
	}
	if _, err := a.clocks.Start(id, duration); err != nil {
		return nil, err
	}
	return updated, nil
}

// PauseTimer is the instructor pause toggle.
func (a *App) PauseTimer(ctx context.Context, id, actor uuid.UUID) (*models.Competition, error) {
	return a.PauseCompetition(ctx, id, actor)
}

// ResumeTimer is the instructor resume toggle.
func (a *App) ResumeTimer(ctx context.Context, id, actor uuid.UUID) (*models.Competition, error) {
	return a.ResumeCompetition(ctx, id, actor)
}

// TimeRemaining reports the live clock for c, or reconstructs it from persisted state.
func (a *App) TimeRemaining(c *models.Competition) (remaining int, running bool) {
	if authority, ok := a.clocks.Get(c.ID); ok {
		snap := authority.Snapshot()
		return snap.Remaining, snap.Running
	}
	switch c.Status {
	case models.CompetitionStatusOngoing:
		if c.TimerStartedAt == nil {
			return 0, false
		}
		r := clock.Remaining(c.TimerDurationSec, *c.TimerStartedAt, a.clock.Now())
		return r, r > 0
	case models.CompetitionStatusPaused:
		if c.PausedRemainingSec != nil {
			return *c.PausedRemainingSec, false
		}
	}
	return 0, false
}

// RestoreActive rebuilds clocks for every ONGOING and PAUSED competition after a restart.
func (a *App) RestoreActive(ctx context.Context) (int, error) {
	active, err := a.store.ListActiveCompetitions(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list active competitions: %w", err)
	}

	restored := 0
	for _, c := range active {
		if _, err := a.clocks.Restore(c); err != nil {
			log.Error().Err(err).Str("competition_id", c.ID.String()).Msg("Failed to restore clock")
			continue
		}
		restored++
	}
	log.Info().Int("restored", restored).Int("active", len(active)).Msg("Restored competition clocks")
	return restored, nil
}

// load fetches a competition and checks the actor is its instructor.
func (a *App) load(ctx context.Context, id, actor uuid.UUID) (*models.Competition, error) {
	c, err := a.store.GetCompetition(ctx, id)
	if err != nil {
		if errors.Is(err, models.ErrCompetitionNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get competition: %w", err)
	}
	if err := Authorize(c, actor); err != nil {
		return nil, err
	}
	return c, nil
}

// remaining prefers the live authority and falls back to persisted state.
func (a *App) remaining(c *models.Competition, now time.Time) int {
	if authority, ok := a.clocks.Get(c.ID); ok {
		return authority.Snapshot().Remaining
	}
	if c.Status == models.CompetitionStatusPaused && c.PausedRemainingSec != nil {
		return *c.PausedRemainingSec
	}
	if c.TimerStartedAt != nil {
		return clock.Remaining(c.TimerDurationSec, *c.TimerStartedAt, now)
	}
	return c.TimerDurationSec
}

// lock serializes lifecycle operations per competition so the clock follows persisted order.
func (a *App) lock(id uuid.UUID) func() {
	a.mu.Lock()
	l, ok := a.locks[id]
	if !ok {
		l = &competitionLock{}
		a.locks[id] = l
	}
	l.refs++
	a.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		a.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(a.locks, id)
		}
		a.mu.Unlock()
	}
}

func (a *App) notify(ctx context.Context, c *models.Competition) {
	log.Info().
		Str("competition_id", c.ID.String()).
		Str("status", string(c.Status)).
		Str("gameplay_indicator", string(c.GameplayIndicator)).
		Int("current_problem_index", c.CurrentProblemIndex).
		Msg("Competition status changed")

	if a.notifier == nil {
		return
	}
	payload := events.CompetitionStatusPayload{
		CompetitionID:       c.ID.String(),
		Status:              string(c.Status),
		GameplayIndicator:   string(c.GameplayIndicator),
		CurrentProblemIndex: c.CurrentProblemIndex,
		ChangedAt:           c.UpdatedAt,
	}
	if err := a.notifier.Notify(ctx, c.ID, payload); err != nil {
		log.Error().Err(err).Str("competition_id", c.ID.String()).Msg("Failed to announce status change")
	}
}
