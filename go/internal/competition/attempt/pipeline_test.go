package attempt

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"github.com/PTMAbellana/polegion/go/internal/competition/bus"
	busmocks "github.com/PTMAbellana/polegion/go/internal/competition/bus/mocks"
	"github.com/PTMAbellana/polegion/go/internal/competition/clock"
	"github.com/PTMAbellana/polegion/go/internal/competition/events"
	"github.com/PTMAbellana/polegion/go/internal/competition/grading"
	gradingmocks "github.com/PTMAbellana/polegion/go/internal/competition/grading/mocks"
	"github.com/PTMAbellana/polegion/go/internal/competition/leaderboard"
	"github.com/PTMAbellana/polegion/go/internal/competition/metrics"
	"github.com/PTMAbellana/polegion/go/internal/competition/store"
	"github.com/PTMAbellana/polegion/go/internal/models"
)

type fixedClocks map[uuid.UUID]clock.Snapshot

func (f fixedClocks) Snapshot(id uuid.UUID) (clock.Snapshot, bool) {
	s, ok := f[id]
	return s, ok
}

// endingStore ends the competition between the pipeline's status check and its write.
type endingStore struct {
	*store.Memory
	competitionID uuid.UUID
}

func (e *endingStore) GetParticipant(ctx context.Context, roomID, userID uuid.UUID) (*models.RoomParticipant, error) {
	current, err := e.Memory.GetCompetition(ctx, e.competitionID)
	if err != nil {
		return nil, err
	}
	up := store.UpdateFrom(current)
	up.Status = models.CompetitionStatusDone
	if _, err := e.Memory.TransitionCompetition(ctx, e.competitionID, current.Status, up); err != nil {
		return nil, err
	}
	return e.Memory.GetParticipant(ctx, roomID, userID)
}

type PipelineTestSuite struct {
	suite.Suite
	ctx         context.Context
	ctrl        *gomock.Controller
	fc          *clockwork.FakeClock
	store       *store.Memory
	bus         *bus.Local
	metrics     *metrics.Metrics
	aggregator  *leaderboard.Aggregator
	pipeline    *Pipeline
	competition *models.Competition
	userID      uuid.UUID
	participant *models.RoomParticipant
	testNow     time.Time
}

func (s *PipelineTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.ctrl = gomock.NewController(s.T())
	s.testNow = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	s.fc = clockwork.NewFakeClockAt(s.testNow)
	s.store = store.NewMemory(s.fc)
	s.bus = bus.NewLocal()
	s.metrics = metrics.New(prometheus.NewRegistry())
	s.aggregator = leaderboard.NewAggregator(s.store, leaderboard.NewMemoryCache(), s.fc)

	started := s.testNow.Add(-45 * time.Second)
	s.competition = &models.Competition{
		RoomID:            uuid.New(),
		Title:             "Polygons",
		CreatedBy:         uuid.New(),
		Status:            models.CompetitionStatusNew,
		GameplayIndicator: models.GameplayPlay,
		Problems: []models.CompetitionProblem{
			{ProblemID: uuid.New(), Position: 0, TimerSec: 60, Problem: models.ProblemSpec{Kind: models.ProblemKindNumeric, Answer: json.RawMessage(`{"value":180}`), MaxXP: 100}},
			{ProblemID: uuid.New(), Position: 1, TimerSec: 60, Problem: models.ProblemSpec{Kind: models.ProblemKindChoice, Answer: json.RawMessage(`{"choice":"c"}`), MaxXP: 40}},
		},
	}
	s.Require().NoError(s.store.CreateCompetition(s.ctx, s.competition))
	s.setStatus(models.CompetitionStatusOngoing, &started)

	s.userID = uuid.New()
	var err error
	s.participant, err = s.store.JoinRoom(s.ctx, s.competition.RoomID, s.userID)
	s.Require().NoError(err)

	s.pipeline = s.newPipeline(grading.NewGeometry(), s.bus, DefaultConfig(), nil)
}

func (s *PipelineTestSuite) TearDownTest() {
	s.bus.Close()
}

func (s *PipelineTestSuite) newPipeline(g grading.Grader, pub bus.Publisher, cfg Config, clocks Clocks) *Pipeline {
	processor := NewProcessor(s.aggregator, pub, "competition", s.fc, s.metrics)
	return NewPipeline(s.store, g, NewInline(processor), clocks, s.fc, s.metrics, cfg)
}

func (s *PipelineTestSuite) setStatus(status models.CompetitionStatus, startedAt *time.Time) {
	current, err := s.store.GetCompetition(s.ctx, s.competition.ID)
	s.Require().NoError(err)
	up := store.UpdateFrom(current)
	up.Status = status
	up.TimerStartedAt = startedAt
	up.TimerDurationSec = 60
	_, err = s.store.TransitionCompetition(s.ctx, s.competition.ID, current.Status, up)
	s.Require().NoError(err)
}

func (s *PipelineTestSuite) input(problem int, solution string, timeTaken int) SubmitInput {
	return SubmitInput{
		CompetitionID:        s.competition.ID,
		CompetitionProblemID: s.competition.Problems[problem].ID,
		UserID:               s.userID,
		RoomID:               s.competition.RoomID,
		Solution:             json.RawMessage(solution),
		TimeTaken:            timeTaken,
	}
}

func (s *PipelineTestSuite) attempts() []models.CompetitionAttempt {
	list, err := s.store.ListAttempts(s.ctx, store.ForCompetition(s.competition.ID))
	s.Require().NoError(err)
	return list
}

func (s *PipelineTestSuite) xpFor(scope leaderboard.Scope) int {
	view, err := s.aggregator.Rebuild(s.ctx, scope)
	s.Require().NoError(err)
	for _, e := range view.Entries {
		if e.RoomParticipantID == s.participant.ID {
			return e.AccumulatedXP
		}
	}
	s.FailNow("participant missing from leaderboard")
	return 0
}

func (s *PipelineTestSuite) TestScenario_TimeTakenDerivesAttemptedAt() {
	before := s.xpFor(leaderboard.CompetitionScope(s.competition.ID))

	out, err := s.pipeline.Submit(s.ctx, s.input(0, `{"value":180}`, 45))
	s.Require().NoError(err)
	s.True(out.Success)
	s.False(out.Duplicate)

	s.Equal(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC), out.Attempt.SubmittedAt)
	s.Equal(time.Date(2024, 1, 1, 11, 59, 15, 0, time.UTC), out.Attempt.AttemptedAt)
	s.Equal(100, out.XPGained)

	txs, err := s.store.ListTransactions(s.ctx, store.ForCompetition(s.competition.ID))
	s.Require().NoError(err)
	s.Require().Len(txs, 1)
	s.Equal(out.Attempt.ID, txs[0].AttemptID)
	s.Equal(100, txs[0].XPDelta)

	s.Equal(before+100, s.xpFor(leaderboard.CompetitionScope(s.competition.ID)))
	s.Equal(before+100, s.xpFor(leaderboard.RoomScope(s.competition.RoomID)))
	s.Equal(float64(1), testutil.ToFloat64(s.metrics.Submissions.WithLabelValues(metrics.OutcomeAccepted)))
}

func (s *PipelineTestSuite) TestScenario_SecondSubmissionTenMillisLaterIsIdempotent() {
	first, err := s.pipeline.Submit(s.ctx, s.input(0, `{"value":180}`, 45))
	s.Require().NoError(err)

	s.fc.Advance(10 * time.Millisecond)
	second, err := s.pipeline.Submit(s.ctx, s.input(0, `{"value":1}`, 45))
	s.Require().NoError(err)

	s.True(second.Success)
	s.True(second.Duplicate)
	s.Equal(first.Attempt.ID, second.Attempt.ID)
	s.Equal(first.XPGained, second.XPGained)
	s.Len(s.attempts(), 1)
}

func (s *PipelineTestSuite) TestConcurrentIdenticalSubmissionsPersistOnce() {
	const n = 25
	var wg sync.WaitGroup
	outs := make([]*SubmitOutput, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outs[i], errs[i] = s.pipeline.Submit(s.ctx, s.input(1, `{"choice":"c"}`, 10))
		}(i)
	}
	wg.Wait()

	var id uuid.UUID
	duplicates := 0
	for i := 0; i < n; i++ {
		s.Require().NoError(errs[i])
		s.True(outs[i].Success)
		if id == uuid.Nil {
			id = outs[i].Attempt.ID
		}
		s.Equal(id, outs[i].Attempt.ID)
		if outs[i].Duplicate {
			duplicates++
		}
	}
	s.Equal(n-1, duplicates)
	s.Len(s.attempts(), 1)

	txs, err := s.store.ListTransactions(s.ctx, store.ForCompetition(s.competition.ID))
	s.Require().NoError(err)
	s.Len(txs, 1)
}

func (s *PipelineTestSuite) TestScenario_DoneRejectsSubmission() {
	s.setStatus(models.CompetitionStatusDone, nil)

	_, err := s.pipeline.Submit(s.ctx, s.input(0, `{"value":180}`, 45))
	s.ErrorIs(err, models.ErrInvalidCompetitionState)
	s.Empty(s.attempts())
}

func (s *PipelineTestSuite) TestPausedRejectsSubmission() {
	s.setStatus(models.CompetitionStatusPaused, nil)

	_, err := s.pipeline.Submit(s.ctx, s.input(0, `{"value":180}`, 45))
	s.ErrorIs(err, models.ErrInvalidCompetitionState)
	s.Empty(s.attempts())
}

func (s *PipelineTestSuite) TestGates() {
	in := s.input(0, `{"value":180}`, 45)
	in.UserID = uuid.New()
	_, err := s.pipeline.Submit(s.ctx, in)
	s.ErrorIs(err, models.ErrParticipantNotFound)

	in = s.input(0, `{"value":180}`, 45)
	in.CompetitionProblemID = uuid.New()
	_, err = s.pipeline.Submit(s.ctx, in)
	s.ErrorIs(err, models.ErrProblemNotFound)

	in = s.input(0, `{"value":180}`, -1)
	_, err = s.pipeline.Submit(s.ctx, in)
	s.ErrorIs(err, models.ErrInvalidTimeTaken)

	in = s.input(0, `{"value":180}`, 45)
	in.CompetitionID = uuid.New()
	_, err = s.pipeline.Submit(s.ctx, in)
	s.ErrorIs(err, models.ErrCompetitionNotFound)

	// Member of another room submitting into this competition.
	otherRoom := uuid.New()
	_, err = s.store.JoinRoom(s.ctx, otherRoom, s.userID)
	s.Require().NoError(err)
	in = s.input(0, `{"value":180}`, 45)
	in.RoomID = otherRoom
	_, err = s.pipeline.Submit(s.ctx, in)
	s.ErrorIs(err, models.ErrParticipantNotFound)

	s.Empty(s.attempts())
}

func (s *PipelineTestSuite) TestGradingFailurePersistsZeroXP() {
	grader := gradingmocks.NewMockGrader(s.ctrl)
	grader.EXPECT().Grade(gomock.Any(), gomock.Any()).Return(grading.Result{}, errors.New("bad payload"))
	p := s.newPipeline(grader, s.bus, DefaultConfig(), nil)

	out, err := p.Submit(s.ctx, s.input(0, `{"value":180}`, 45))
	s.Require().NoError(err)
	s.True(out.Success)
	s.Equal(0, out.XPGained)
	s.Equal(models.FeedbackGradingFailed, out.Attempt.Feedback)
	s.False(out.Attempt.Correct)
	s.Len(s.attempts(), 1)
	s.Equal(float64(1), testutil.ToFloat64(s.metrics.Submissions.WithLabelValues(metrics.OutcomeGradingFailed)))
}

func (s *PipelineTestSuite) TestGraderPanicIsRecovered() {
	grader := gradingmocks.NewMockGrader(s.ctrl)
	grader.EXPECT().Grade(gomock.Any(), gomock.Any()).DoAndReturn(func(models.ProblemSpec, json.RawMessage) (grading.Result, error) {
		panic("boom")
	})
	p := s.newPipeline(grader, s.bus, DefaultConfig(), nil)

	out, err := p.Submit(s.ctx, s.input(0, `{"value":180}`, 45))
	s.Require().NoError(err)
	s.Equal(models.FeedbackGradingFailed, out.Attempt.Feedback)
}

func (s *PipelineTestSuite) TestUndecodableSolutionIsStoredAsGradingFailure() {
	out, err := s.pipeline.Submit(s.ctx, s.input(0, `not-json`, 45))
	s.Require().NoError(err)
	s.Equal(models.FeedbackGradingFailed, out.Attempt.Feedback)
	s.JSONEq(`"not-json"`, string(out.Attempt.Solution))
}

func (s *PipelineTestSuite) TestLateSubmissionFlagged() {
	out, err := s.pipeline.Submit(s.ctx, s.input(0, `{"value":180}`, 66))
	s.Require().NoError(err)
	s.True(out.Attempt.Late)
	s.Equal(0, out.XPGained)
	s.Equal(models.FeedbackLateSubmission, out.Attempt.Feedback)
	s.False(out.Attempt.Correct)
}

func (s *PipelineTestSuite) TestLateSubmissionDoesNotCountAsSolved() {
	_, err := s.pipeline.Submit(s.ctx, s.input(0, `{"value":180}`, 66))
	s.Require().NoError(err)

	view, err := s.aggregator.Rebuild(s.ctx, leaderboard.CompetitionScope(s.competition.ID))
	s.Require().NoError(err)
	s.Require().Len(view.Entries, 1)
	s.Equal(0, view.Entries[0].SolvedCount)
	s.Equal(0, view.Entries[0].AccumulatedXP)
}

func (s *PipelineTestSuite) TestCompetitionEndedMidSubmitRecordsNothing() {
	processor := NewProcessor(s.aggregator, s.bus, "competition", s.fc, s.metrics)
	ending := &endingStore{Memory: s.store, competitionID: s.competition.ID}
	p := NewPipeline(ending, grading.NewGeometry(), NewInline(processor), nil, s.fc, s.metrics, DefaultConfig())

	_, err := p.Submit(s.ctx, s.input(0, `{"value":180}`, 45))
	s.Require().ErrorIs(err, models.ErrInvalidCompetitionState)

	s.Empty(s.attempts())
	txs, err := s.store.ListTransactions(s.ctx, store.ForCompetition(s.competition.ID))
	s.Require().NoError(err)
	s.Empty(txs)
	s.Equal(float64(1), testutil.ToFloat64(s.metrics.Submissions.WithLabelValues(metrics.OutcomeRejected)))
}

func (s *PipelineTestSuite) TestWithinToleranceIsNotLate() {
	out, err := s.pipeline.Submit(s.ctx, s.input(0, `{"value":180}`, 65))
	s.Require().NoError(err)
	s.False(out.Attempt.Late)
	s.Equal(100, out.XPGained)
}

func (s *PipelineTestSuite) TestLateSubmissionRejected() {
	cfg := DefaultConfig()
	cfg.LatePolicy = LatePolicyReject
	p := s.newPipeline(grading.NewGeometry(), s.bus, cfg, nil)

	_, err := p.Submit(s.ctx, s.input(0, `{"value":180}`, 90))
	s.ErrorIs(err, models.ErrLateSubmission)
	s.Empty(s.attempts())
}

func (s *PipelineTestSuite) TestServerTimingUsesAuthority() {
	cfg := DefaultConfig()
	cfg.TimingMode = TimingServer
	clocks := fixedClocks{s.competition.ID: {CompetitionID: s.competition.ID, Duration: 60, Remaining: 38, Running: true}}
	p := s.newPipeline(grading.NewGeometry(), s.bus, cfg, clocks)

	out, err := p.Submit(s.ctx, s.input(0, `{"value":180}`, 1))
	s.Require().NoError(err)
	s.Equal(22, out.Attempt.TimeTaken)
	s.Equal(s.testNow.Add(-22*time.Second), out.Attempt.AttemptedAt)

	// Not the current problem: falls back to the reported value.
	out, err = p.Submit(s.ctx, s.input(1, `{"choice":"c"}`, 7))
	s.Require().NoError(err)
	s.Equal(7, out.Attempt.TimeTaken)
}

func (s *PipelineTestSuite) TestBroadcastsSubmissionAndLeaderboardUpdates() {
	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	stream, err := s.bus.Subscribe(ctx, events.Topic("competition", s.competition.ID))
	s.Require().NoError(err)

	out, err := s.pipeline.Submit(s.ctx, s.input(0, `{"value":180}`, 45))
	s.Require().NoError(err)

	var types []events.EventType
	for i := 0; i < 3; i++ {
		select {
		case raw := <-stream:
			ev, err := events.Decode(raw)
			s.Require().NoError(err)
			types = append(types, ev.Type)
			if ev.Type == events.EventTypeSubmissionUpdate {
				payload, err := events.ParsePayload(ev)
				s.Require().NoError(err)
				sub := payload.(events.SubmissionUpdatePayload)
				s.Equal(s.participant.ID.String(), sub.ParticipantID)
				s.Equal(out.XPGained, sub.XPGained)
				s.True(out.Attempt.SubmittedAt.Equal(sub.SubmittedAt))
			}
		case <-time.After(2 * time.Second):
			s.FailNow("timed out waiting for broadcast")
		}
	}
	s.Equal([]events.EventType{
		events.EventTypeSubmissionUpdate,
		events.EventTypeLeaderboardUpdated,
		events.EventTypeLeaderboardUpdated,
	}, types)
}

func (s *PipelineTestSuite) TestBroadcastFailureDoesNotFailSubmission() {
	mockBus := busmocks.NewMockBus(s.ctrl)
	mockBus.EXPECT().Publish(gomock.Any(), gomock.Any(), gomock.Any()).Return(errors.New("nats down")).Times(3)
	p := s.newPipeline(grading.NewGeometry(), mockBus, DefaultConfig(), nil)

	out, err := p.Submit(s.ctx, s.input(0, `{"value":180}`, 45))
	s.Require().NoError(err)
	s.True(out.Success)
	s.Len(s.attempts(), 1)
	s.Equal(float64(3), testutil.ToFloat64(s.metrics.BroadcastFailures))
}

func TestPipelineTestSuite(t *testing.T) {
	suite.Run(t, new(PipelineTestSuite))
}
