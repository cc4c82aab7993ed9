package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/suite"

	"github.com/PTMAbellana/polegion/go/internal/competition/attempt"
	"github.com/PTMAbellana/polegion/go/internal/competition/bus"
	"github.com/PTMAbellana/polegion/go/internal/competition/clock"
	"github.com/PTMAbellana/polegion/go/internal/competition/grading"
	"github.com/PTMAbellana/polegion/go/internal/competition/leaderboard"
	"github.com/PTMAbellana/polegion/go/internal/competition/lifecycle"
	"github.com/PTMAbellana/polegion/go/internal/competition/store"
	"github.com/PTMAbellana/polegion/go/internal/models"
)

type ServiceTestSuite struct {
	suite.Suite
	ctx        context.Context
	fc         *clockwork.FakeClock
	bus        *bus.Local
	registry   *clock.Registry
	server     *httptest.Server
	instructor uuid.UUID
	student    uuid.UUID
	roomID     uuid.UUID
}

func (s *ServiceTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.fc = clockwork.NewFakeClockAt(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	mem := store.NewMemory(s.fc)
	s.bus = bus.NewLocal()
	s.registry = clock.NewRegistry(s.fc, s.bus, "competition")

	aggregator := leaderboard.NewAggregator(mem, leaderboard.NewMemoryCache(), s.fc)
	processor := attempt.NewProcessor(aggregator, s.bus, "competition", s.fc, nil)
	pipeline := attempt.NewPipeline(mem, grading.NewGeometry(), attempt.NewInline(processor), s.registry, s.fc, nil, attempt.DefaultConfig())
	app := lifecycle.NewApp(mem, s.registry, lifecycle.NewBusNotifier(s.bus, "competition", s.fc), s.fc)

	path, handler := NewHandler(NewService(pipeline, aggregator, app))
	mux := http.NewServeMux()
	mux.Handle(path, handler)
	s.server = httptest.NewServer(mux)

	s.instructor = uuid.New()
	s.student = uuid.New()
	s.roomID = uuid.New()
}

func (s *ServiceTestSuite) TearDownTest() {
	s.server.Close()
	s.registry.StopAll()
	s.bus.Close()
}

func TestServiceTestSuite(t *testing.T) {
	suite.Run(t, new(ServiceTestSuite))
}

func call[Req, Res any](s *ServiceTestSuite, procedure string, user uuid.UUID, msg *Req) (*Res, error) {
	client := connect.NewClient[Req, Res](http.DefaultClient, s.server.URL+procedure, connect.WithCodec(Codec()))
	req := connect.NewRequest(msg)
	if user != uuid.Nil {
		req.Header().Set(UserHeader, user.String())
	}
	res, err := client.CallUnary(s.ctx, req)
	if err != nil {
		return nil, err
	}
	return res.Msg, nil
}

func (s *ServiceTestSuite) createCompetition() CompetitionView {
	res, err := call[CreateCompetitionRequest, CompetitionResponse](s, CreateCompetitionProcedure, s.instructor, &CreateCompetitionRequest{
		RoomID: s.roomID.String(),
		Title:  "Angles",
		Problems: []ProblemInput{
			{ProblemID: uuid.NewString(), TimerSec: 60, Problem: models.ProblemSpec{Kind: models.ProblemKindNumeric, Answer: json.RawMessage(`{"value":90}`), MaxXP: 50}},
		},
	})
	s.Require().NoError(err)
	return res.Competition
}

func (s *ServiceTestSuite) start(id string) *CompetitionResponse {
	res, err := call[CompetitionRequest, CompetitionResponse](s, StartCompetitionProcedure, s.instructor, &CompetitionRequest{CompetitionID: id})
	s.Require().NoError(err)
	return res
}

func (s *ServiceTestSuite) join() {
	_, err := call[JoinRoomRequest, JoinRoomResponse](s, JoinRoomProcedure, s.student, &JoinRoomRequest{RoomID: s.roomID.String()})
	s.Require().NoError(err)
}

func (s *ServiceTestSuite) TestCompetitionFlow() {
	comp := s.createCompetition()
	s.Equal(models.CompetitionStatusNew, comp.Status)
	s.Require().Len(comp.Problems, 1)

	s.join()
	started := s.start(comp.ID)
	s.Equal(models.CompetitionStatusOngoing, started.Competition.Status)
	s.Equal(60, started.TimeRemaining)
	s.True(started.IsRunning)

	sub, err := call[SubmitSolutionRequest, SubmitSolutionResponse](s, SubmitSolutionProcedure, s.student, &SubmitSolutionRequest{
		CompetitionID:        comp.ID,
		CompetitionProblemID: comp.Problems[0].ID,
		RoomID:               s.roomID.String(),
		Solution:             json.RawMessage(`{"value":90}`),
		TimeTaken:            12,
	})
	s.Require().NoError(err)
	s.True(sub.Success)
	s.False(sub.Duplicate)
	s.Equal(50, sub.XPGained)

	again, err := call[SubmitSolutionRequest, SubmitSolutionResponse](s, SubmitSolutionProcedure, s.student, &SubmitSolutionRequest{
		CompetitionID:        comp.ID,
		CompetitionProblemID: comp.Problems[0].ID,
		RoomID:               s.roomID.String(),
		Solution:             json.RawMessage(`{"value":1}`),
		TimeTaken:            20,
	})
	s.Require().NoError(err)
	s.True(again.Duplicate)
	s.Equal(sub.Attempt.ID, again.Attempt.ID)

	board, err := call[GetCompetitionLeaderboardRequest, GetCompetitionLeaderboardResponse](s, GetCompetitionLeaderboardProcedure, s.student, &GetCompetitionLeaderboardRequest{RoomID: s.roomID.String()})
	s.Require().NoError(err)
	s.Equal(comp.ID, board.Competition.ID)
	s.Equal(models.CompetitionStatusOngoing, board.Status)
	s.Require().Len(board.Entries, 1)
	s.Equal(50, board.Entries[0].AccumulatedXP)
	s.Equal(1, board.Entries[0].Rank)

	room, err := call[GetRoomLeaderboardRequest, GetRoomLeaderboardResponse](s, GetRoomLeaderboardProcedure, s.student, &GetRoomLeaderboardRequest{RoomID: s.roomID.String(), Fresh: true})
	s.Require().NoError(err)
	s.Require().Len(room.Entries, 1)
	s.Equal(s.student, room.Entries[0].UserID)

	paused, err := call[CompetitionRequest, CompetitionResponse](s, PauseTimerProcedure, s.instructor, &CompetitionRequest{CompetitionID: comp.ID})
	s.Require().NoError(err)
	s.Equal(models.CompetitionStatusPaused, paused.Competition.Status)
	s.False(paused.IsRunning)

	resumed, err := call[CompetitionRequest, CompetitionResponse](s, ResumeTimerProcedure, s.instructor, &CompetitionRequest{CompetitionID: comp.ID})
	s.Require().NoError(err)
	s.Equal(models.CompetitionStatusOngoing, resumed.Competition.Status)

	ended, err := call[CompetitionRequest, CompetitionResponse](s, EndCompetitionProcedure, s.instructor, &CompetitionRequest{CompetitionID: comp.ID})
	s.Require().NoError(err)
	s.Equal(models.CompetitionStatusDone, ended.Competition.Status)

	_, err = call[GetCompetitionLeaderboardRequest, GetCompetitionLeaderboardResponse](s, GetCompetitionLeaderboardProcedure, s.student, &GetCompetitionLeaderboardRequest{RoomID: s.roomID.String()})
	s.Equal(connect.CodeNotFound, connect.CodeOf(err))
}

func (s *ServiceTestSuite) TestStartTimer() {
	comp := s.createCompetition()
	s.start(comp.ID)

	res, err := call[StartTimerRequest, CompetitionResponse](s, StartTimerProcedure, s.instructor, &StartTimerRequest{CompetitionID: comp.ID, Duration: 30})
	s.Require().NoError(err)
	s.Equal(30, res.TimeRemaining)
	s.Equal(30, res.Competition.TimerDurationSec)
}

func (s *ServiceTestSuite) TestAdvancePastLastProblemEnds() {
	comp := s.createCompetition()
	s.start(comp.ID)

	res, err := call[CompetitionRequest, CompetitionResponse](s, AdvanceProblemProcedure, s.instructor, &CompetitionRequest{CompetitionID: comp.ID})
	s.Require().NoError(err)
	s.Equal(models.CompetitionStatusDone, res.Competition.Status)
}

func (s *ServiceTestSuite) TestErrorCodes() {
	comp := s.createCompetition()

	tests := []struct {
		name string
		call func() error
		code connect.Code
	}{
		{
			name: "missing user header",
			call: func() error {
				_, err := call[CompetitionRequest, CompetitionResponse](s, StartCompetitionProcedure, uuid.Nil, &CompetitionRequest{CompetitionID: comp.ID})
				return err
			},
			code: connect.CodeUnauthenticated,
		},
		{
			name: "malformed id",
			call: func() error {
				_, err := call[CompetitionRequest, CompetitionResponse](s, StartCompetitionProcedure, s.instructor, &CompetitionRequest{CompetitionID: "nope"})
				return err
			},
			code: connect.CodeInvalidArgument,
		},
		{
			name: "not the instructor",
			call: func() error {
				_, err := call[CompetitionRequest, CompetitionResponse](s, StartCompetitionProcedure, s.student, &CompetitionRequest{CompetitionID: comp.ID})
				return err
			},
			code: connect.CodePermissionDenied,
		},
		{
			name: "unknown competition",
			call: func() error {
				_, err := call[CompetitionRequest, CompetitionResponse](s, StartCompetitionProcedure, s.instructor, &CompetitionRequest{CompetitionID: uuid.NewString()})
				return err
			},
			code: connect.CodeNotFound,
		},
		{
			name: "pause before start",
			call: func() error {
				_, err := call[CompetitionRequest, CompetitionResponse](s, PauseTimerProcedure, s.instructor, &CompetitionRequest{CompetitionID: comp.ID})
				return err
			},
			code: connect.CodeFailedPrecondition,
		},
		{
			name: "submit to a NEW competition",
			call: func() error {
				s.join()
				_, err := call[SubmitSolutionRequest, SubmitSolutionResponse](s, SubmitSolutionProcedure, s.student, &SubmitSolutionRequest{
					CompetitionID:        comp.ID,
					CompetitionProblemID: comp.Problems[0].ID,
					RoomID:               s.roomID.String(),
					Solution:             json.RawMessage(`{"value":90}`),
					TimeTaken:            3,
				})
				return err
			},
			code: connect.CodeFailedPrecondition,
		},
		{
			name: "submit from outside the room",
			call: func() error {
				live := s.createCompetition()
				s.start(live.ID)
				_, err := call[SubmitSolutionRequest, SubmitSolutionResponse](s, SubmitSolutionProcedure, uuid.New(), &SubmitSolutionRequest{
					CompetitionID:        live.ID,
					CompetitionProblemID: live.Problems[0].ID,
					RoomID:               s.roomID.String(),
					Solution:             json.RawMessage(`{"value":90}`),
					TimeTaken:            3,
				})
				return err
			},
			code: connect.CodeNotFound,
		},
		{
			name: "create without problems",
			call: func() error {
				_, err := call[CreateCompetitionRequest, CompetitionResponse](s, CreateCompetitionProcedure, s.instructor, &CreateCompetitionRequest{RoomID: s.roomID.String(), Title: "Empty"})
				return err
			},
			code: connect.CodeInvalidArgument,
		},
		{
			name: "no active competition",
			call: func() error {
				_, err := call[GetCompetitionLeaderboardRequest, GetCompetitionLeaderboardResponse](s, GetCompetitionLeaderboardProcedure, s.student, &GetCompetitionLeaderboardRequest{RoomID: uuid.NewString()})
				return err
			},
			code: connect.CodeNotFound,
		},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			err := tt.call()
			s.Require().Error(err)
			s.Equal(tt.code, connect.CodeOf(err))
		})
	}
}

func (s *ServiceTestSuite) TestCompetitionViewHidesAnswers() {
	comp := s.createCompetition()

	raw, err := json.Marshal(comp)
	s.Require().NoError(err)
	s.NotContains(string(raw), "answer")
}
