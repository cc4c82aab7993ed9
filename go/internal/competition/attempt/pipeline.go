package attempt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/PTMAbellana/polegion/go/internal/competition/clock"
	"github.com/PTMAbellana/polegion/go/internal/competition/events"
	"github.com/PTMAbellana/polegion/go/internal/competition/grading"
	"github.com/PTMAbellana/polegion/go/internal/competition/metrics"
	"github.com/PTMAbellana/polegion/go/internal/competition/store"
	"github.com/PTMAbellana/polegion/go/internal/models"
)

// LatePolicy decides what happens to a submission whose time_taken exceeds the timer plus tolerance.
type LatePolicy string

const (
	// LatePolicyFlag persists the attempt with zero XP and Late set.
	LatePolicyFlag LatePolicy = "flag"
	// LatePolicyReject refuses the attempt with models.ErrLateSubmission.
	LatePolicyReject LatePolicy = "reject"
)

// TimingMode decides where time_taken comes from.
type TimingMode string

const (
	// TimingClient trusts the client-reported time_taken.
	TimingClient TimingMode = "client"
	// TimingServer derives time_taken from the clock authority for the current problem.
	TimingServer TimingMode = "server"
)

// Config holds the pipeline's submission policy
type Config struct {
	LateTolerance time.Duration
	LatePolicy    LatePolicy
	TimingMode    TimingMode
}

// DefaultConfig returns the default submission policy
func DefaultConfig() Config {
	return Config{
		LateTolerance: 5 * time.Second,
		LatePolicy:    LatePolicyFlag,
		TimingMode:    TimingClient,
	}
}

// Store is what the pipeline needs from persistence.
type Store interface {
	GetCompetition(ctx context.Context, id uuid.UUID) (*models.Competition, error)
	GetParticipant(ctx context.Context, roomID, userID uuid.UUID) (*models.RoomParticipant, error)
	store.AttemptStore
}

// Clocks exposes live authority state for server-side timing.
type Clocks interface {
	Snapshot(competitionID uuid.UUID) (clock.Snapshot, bool)
}

// SubmitInput is one participant submission.
type SubmitInput struct {
	CompetitionID        uuid.UUID
	CompetitionProblemID uuid.UUID
	UserID               uuid.UUID
	RoomID               uuid.UUID
	Solution             json.RawMessage
	TimeTaken            int
}

// SubmitOutput is returned for every accepted submission, including duplicates.
type SubmitOutput struct {
	Success   bool
	Attempt   *models.CompetitionAttempt
	XPGained  int
	Duplicate bool
}

// Pipeline turns one submission into a graded, persisted, ledgered attempt, exactly once.
type Pipeline struct {
	store      Store
	grader     grading.Grader
	dispatcher Dispatcher
	clocks     Clocks
	clock      clockwork.Clock
	metrics    *metrics.Metrics
	config     Config
}

// NewPipeline creates an attempt pipeline. clocks may be nil when TimingMode is client.
func NewPipeline(s Store, grader grading.Grader, dispatcher Dispatcher, clocks Clocks, clk clockwork.Clock, m *metrics.Metrics, config Config) *Pipeline {
	return &Pipeline{
		store:      s,
		grader:     grader,
		dispatcher: dispatcher,
		clocks:     clocks,
		clock:      clk,
		metrics:    m,
		config:     config,
	}
}

// Submit runs grade, persist, ledger and then hands leaderboard + broadcast to the dispatcher.
// A duplicate (participant, problem) submission returns the original attempt with success.
func (p *Pipeline) Submit(ctx context.Context, in SubmitInput) (*SubmitOutput, error) {
	logger := log.With().
		Str("competition_id", in.CompetitionID.String()).
		Str("problem_id", in.CompetitionProblemID.String()).
		Str("room_id", in.RoomID.String()).
		Logger()

	if in.TimeTaken < 0 {
		return nil, models.ErrInvalidTimeTaken
	}

	competition, err := p.store.GetCompetition(ctx, in.CompetitionID)
	if err != nil {
		return nil, err
	}
	if competition.Status != models.CompetitionStatusOngoing {
		p.metrics.RecordSubmission(metrics.OutcomeRejected)
		return nil, fmt.Errorf("cannot submit while competition is %s: %w", competition.Status, models.ErrInvalidCompetitionState)
	}
	problem := competition.Problem(in.CompetitionProblemID)
	if problem == nil {
		return nil, models.ErrProblemNotFound
	}

	participant, err := p.store.GetParticipant(ctx, in.RoomID, in.UserID)
	if err != nil {
		return nil, err
	}
	if participant.RoomID != competition.RoomID {
		return nil, fmt.Errorf("participant is not in the competition's room: %w", models.ErrParticipantNotFound)
	}
	logger = logger.With().Str("participant_id", participant.ID.String()).Logger()

	// Cheap check so retries skip grading. The insert's unique constraint is the real guard.
	if existing, err := p.store.GetAttempt(ctx, participant.ID, problem.ID); err == nil {
		return p.duplicate(logger, existing), nil
	} else if !errors.Is(err, models.ErrAttemptNotFound) {
		return nil, fmt.Errorf("failed to check existing attempt: %w", err)
	}

	submittedAt := p.clock.Now().UTC()
	timeTaken := p.timeTaken(competition, problem, in.TimeTaken)
	late := time.Duration(timeTaken)*time.Second > time.Duration(problem.TimerSec)*time.Second+p.config.LateTolerance

	if late && p.config.LatePolicy == LatePolicyReject {
		p.metrics.RecordSubmission(metrics.OutcomeRejected)
		logger.Warn().Int("time_taken", timeTaken).Int("timer_sec", problem.TimerSec).Msg("Late submission rejected")
		return nil, models.ErrLateSubmission
	}

	result, gradeErr := p.grade(problem.Problem, in.Solution)
	outcome := metrics.OutcomeAccepted
	switch {
	case gradeErr != nil:
		logger.Error().Err(gradeErr).Msg("Grading failed, persisting attempt with zero XP")
		result = grading.Result{Correct: false, XPGained: 0, Feedback: models.FeedbackGradingFailed}
		outcome = metrics.OutcomeGradingFailed
	case late:
		logger.Warn().Int("time_taken", timeTaken).Int("timer_sec", problem.TimerSec).Msg("Late submission flagged")
		result.Correct = false
		result.XPGained = 0
		result.Feedback = models.FeedbackLateSubmission
		outcome = metrics.OutcomeLate
	}

	solution := in.Solution
	if len(bytes.TrimSpace(solution)) == 0 || !json.Valid(solution) {
		solution = mustJSON(string(solution))
	}

	attempt := &models.CompetitionAttempt{
		ID:                   uuid.New(),
		RoomParticipantID:    participant.ID,
		CompetitionID:        competition.ID,
		CompetitionProblemID: problem.ID,
		Solution:             solution,
		TimeTaken:            timeTaken,
		SubmittedAt:          submittedAt,
		AttemptedAt:          submittedAt.Add(-time.Duration(timeTaken) * time.Second),
		Correct:              result.Correct,
		XPGained:             result.XPGained,
		Feedback:             result.Feedback,
		Late:                 late,
	}
	xp := &models.XPTransaction{
		ID:                uuid.New(),
		RoomParticipantID: participant.ID,
		CompetitionID:     competition.ID,
		AttemptID:         attempt.ID,
		XPDelta:           result.XPGained,
		CreatedAt:         submittedAt,
	}

	if err := p.store.RecordAttempt(ctx, attempt, xp); err != nil {
		if errors.Is(err, models.ErrDuplicateAttempt) {
			existing, getErr := p.store.GetAttempt(ctx, participant.ID, problem.ID)
			if getErr != nil {
				return nil, fmt.Errorf("failed to load attempt after duplicate: %w", getErr)
			}
			return p.duplicate(logger, existing), nil
		}
		if errors.Is(err, models.ErrInvalidCompetitionState) {
			// The competition left ONGOING after the status check above.
			p.metrics.RecordSubmission(metrics.OutcomeRejected)
			logger.Warn().Err(err).Msg("Attempt rejected by competition state")
			return nil, err
		}
		return nil, fmt.Errorf("failed to record attempt: %w", err)
	}

	p.metrics.RecordSubmission(outcome)
	logger.Info().
		Str("attempt_id", attempt.ID.String()).
		Bool("correct", attempt.Correct).
		Int("xp_gained", attempt.XPGained).
		Int("time_taken", attempt.TimeTaken).
		Bool("late", attempt.Late).
		Msg("Attempt recorded")

	p.dispatcher.Dispatch(FollowUp{
		RoomID:        competition.RoomID,
		CompetitionID: competition.ID,
		Submission: events.SubmissionUpdatePayload{
			ParticipantID: participant.ID.String(),
			XPGained:      attempt.XPGained,
			SubmittedAt:   attempt.SubmittedAt,
		},
	})

	return &SubmitOutput{Success: true, Attempt: attempt, XPGained: attempt.XPGained}, nil
}

func (p *Pipeline) duplicate(logger zerolog.Logger, existing *models.CompetitionAttempt) *SubmitOutput {
	p.metrics.RecordSubmission(metrics.OutcomeDuplicate)
	logger.Warn().Str("attempt_id", existing.ID.String()).Msg("Duplicate attempt, returning original")
	return &SubmitOutput{Success: true, Attempt: existing, XPGained: existing.XPGained, Duplicate: true}
}

// timeTaken applies the timing mode. Server timing only applies to the problem on the clock.
func (p *Pipeline) timeTaken(c *models.Competition, problem *models.CompetitionProblem, reported int) int {
	if p.config.TimingMode != TimingServer || p.clocks == nil {
		return reported
	}
	current := c.CurrentProblem()
	if current == nil || current.ID != problem.ID {
		return reported
	}
	snap, ok := p.clocks.Snapshot(c.ID)
	if !ok || snap.Duration <= 0 {
		return reported
	}
	elapsed := snap.Duration - snap.Remaining
	if elapsed < 0 {
		return 0
	}
	return elapsed
}

// grade calls the grader and turns a panic into an error.
func (p *Pipeline) grade(problem models.ProblemSpec, solution json.RawMessage) (result grading.Result, err error) {
	start := p.clock.Now()
	defer func() {
		p.metrics.ObserveGrading(p.clock.Since(start))
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: grader panic: %v", models.ErrGradingFailure, r)
		}
	}()

	result, err = p.grader.Grade(problem, solution)
	if err != nil {
		return grading.Result{}, fmt.Errorf("%w: %v", models.ErrGradingFailure, err)
	}
	return result, nil
}

// mustJSON wraps a non-JSON solution as a JSON string so it can be stored in a JSONB column.
func mustJSON(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}
