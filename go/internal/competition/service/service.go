package service

import (
	"context"
	"fmt"
	"strings"

	"connectrpc.com/connect"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/PTMAbellana/polegion/go/internal/competition/attempt"
	"github.com/PTMAbellana/polegion/go/internal/competition/leaderboard"
	"github.com/PTMAbellana/polegion/go/internal/competition/lifecycle"
	"github.com/PTMAbellana/polegion/go/internal/models"
)

// UserHeader carries the authenticated caller. Authentication itself happens in front of this service.
const UserHeader = "X-User-ID"

// Submitter defines what the service layer needs from the attempt pipeline
type Submitter interface {
	Submit(ctx context.Context, in attempt.SubmitInput) (*attempt.SubmitOutput, error)
}

// Leaderboards defines what the service layer needs from the aggregator
type Leaderboards interface {
	Load(ctx context.Context, scope leaderboard.Scope, fresh bool) (*leaderboard.View, error)
}

// Lifecycle defines what the service layer needs from the lifecycle app
type Lifecycle interface {
	CreateCompetition(ctx context.Context, req lifecycle.CreateCompetitionRequest) (*models.Competition, error)
	JoinRoom(ctx context.Context, roomID, userID uuid.UUID) (*models.RoomParticipant, error)
	ActiveCompetition(ctx context.Context, roomID uuid.UUID) (*models.Competition, error)
	StartCompetition(ctx context.Context, id, actor uuid.UUID) (*models.Competition, error)
	AdvanceProblem(ctx context.Context, id, actor uuid.UUID) (*models.Competition, error)
	EndCompetition(ctx context.Context, id, actor uuid.UUID) (*models.Competition, error)
	StartTimer(ctx context.Context, id, actor uuid.UUID, duration int) (*models.Competition, error)
	PauseTimer(ctx context.Context, id, actor uuid.UUID) (*models.Competition, error)
	ResumeTimer(ctx context.Context, id, actor uuid.UUID) (*models.Competition, error)
	TimeRemaining(c *models.Competition) (int, bool)
}

// Service implements the CompetitionService connect procedures
type Service struct {
	submitter    Submitter
	leaderboards Leaderboards
	lifecycle    Lifecycle
}

// NewService creates a new competition service
func NewService(submitter Submitter, leaderboards Leaderboards, lc Lifecycle) *Service {
	return &Service{
		submitter:    submitter,
		leaderboards: leaderboards,
		lifecycle:    lc,
	}
}

// SubmitSolution grades and records one submission. A repeat for the same problem returns the original.
func (s *Service) SubmitSolution(ctx context.Context, req *connect.Request[SubmitSolutionRequest]) (*connect.Response[SubmitSolutionResponse], error) {
	userID, err := caller(req.Header().Get(UserHeader))
	if err != nil {
		return nil, err
	}
	competitionID, err := parseID("competition_id", req.Msg.CompetitionID)
	if err != nil {
		return nil, err
	}
	problemID, err := parseID("competition_problem_id", req.Msg.CompetitionProblemID)
	if err != nil {
		return nil, err
	}
	roomID, err := parseID("room_id", req.Msg.RoomID)
	if err != nil {
		return nil, err
	}

	out, err := s.submitter.Submit(ctx, attempt.SubmitInput{
		CompetitionID:        competitionID,
		CompetitionProblemID: problemID,
		UserID:               userID,
		RoomID:               roomID,
		Solution:             req.Msg.Solution,
		TimeTaken:            req.Msg.TimeTaken,
	})
	if err != nil {
		return nil, toConnectError(req.Spec().Procedure, err)
	}

	return connect.NewResponse(&SubmitSolutionResponse{
		Success:   out.Success,
		Attempt:   out.Attempt,
		XPGained:  out.XPGained,
		Duplicate: out.Duplicate,
	}), nil
}

// GetRoomLeaderboard returns the room-wide ranking across every competition in the room
func (s *Service) GetRoomLeaderboard(ctx context.Context, req *connect.Request[GetRoomLeaderboardRequest]) (*connect.Response[GetRoomLeaderboardResponse], error) {
	roomID, err := parseID("room_id", req.Msg.RoomID)
	if err != nil {
		return nil, err
	}

	view, err := s.leaderboards.Load(ctx, leaderboard.RoomScope(roomID), req.Msg.Fresh)
	if err != nil {
		return nil, toConnectError(req.Spec().Procedure, err)
	}

	return connect.NewResponse(&GetRoomLeaderboardResponse{
		RoomID:    roomID.String(),
		Entries:   nonNil(view.Entries),
		RebuiltAt: view.RebuiltAt,
	}), nil
}

// GetCompetitionLeaderboard returns the active competition's ranking and clock.
// NotFound when the room has no ONGOING or PAUSED competition.
func (s *Service) GetCompetitionLeaderboard(ctx context.Context, req *connect.Request[GetCompetitionLeaderboardRequest]) (*connect.Response[GetCompetitionLeaderboardResponse], error) {
	roomID, err := parseID("room_id", req.Msg.RoomID)
	if err != nil {
		return nil, err
	}

	c, err := s.lifecycle.ActiveCompetition(ctx, roomID)
	if err != nil {
		return nil, toConnectError(req.Spec().Procedure, err)
	}
	view, err := s.leaderboards.Load(ctx, leaderboard.CompetitionScope(c.ID), req.Msg.Fresh)
	if err != nil {
		return nil, toConnectError(req.Spec().Procedure, err)
	}
	remaining, running := s.lifecycle.TimeRemaining(c)

	return connect.NewResponse(&GetCompetitionLeaderboardResponse{
		Competition:   toCompetitionView(c),
		Entries:       nonNil(view.Entries),
		Status:        c.Status,
		TimeRemaining: remaining,
		IsRunning:     running,
		RebuiltAt:     view.RebuiltAt,
	}), nil
}

// CreateCompetition creates a NEW competition owned by the caller
func (s *Service) CreateCompetition(ctx context.Context, req *connect.Request[CreateCompetitionRequest]) (*connect.Response[CompetitionResponse], error) {
	userID, err := caller(req.Header().Get(UserHeader))
	if err != nil {
		return nil, err
	}
	roomID, err := parseID("room_id", req.Msg.RoomID)
	if err != nil {
		return nil, err
	}

	appReq := lifecycle.CreateCompetitionRequest{
		RoomID:    roomID,
		Title:     req.Msg.Title,
		CreatedBy: userID,
	}
	for i, p := range req.Msg.Problems {
		problemID, err := parseID(fmt.Sprintf("problems[%d].problem_id", i), p.ProblemID)
		if err != nil {
			return nil, err
		}
		appReq.Problems = append(appReq.Problems, lifecycle.ProblemInput{
			ProblemID: problemID,
			TimerSec:  p.TimerSec,
			Problem:   p.Problem,
		})
	}

	c, err := s.lifecycle.CreateCompetition(ctx, appReq)
	if err != nil {
		return nil, toConnectError(req.Spec().Procedure, err)
	}
	return s.competitionResponse(c), nil
}

// JoinRoom adds the caller to a room
func (s *Service) JoinRoom(ctx context.Context, req *connect.Request[JoinRoomRequest]) (*connect.Response[JoinRoomResponse], error) {
	userID, err := caller(req.Header().Get(UserHeader))
	if err != nil {
		return nil, err
	}
	roomID, err := parseID("room_id", req.Msg.RoomID)
	if err != nil {
		return nil, err
	}

	p, err := s.lifecycle.JoinRoom(ctx, roomID, userID)
	if err != nil {
		return nil, toConnectError(req.Spec().Procedure, err)
	}
	return connect.NewResponse(&JoinRoomResponse{Participant: p}), nil
}

func (s *Service) StartCompetition(ctx context.Context, req *connect.Request[CompetitionRequest]) (*connect.Response[CompetitionResponse], error) {
	return s.instructorOp(ctx, req, s.lifecycle.StartCompetition)
}

func (s *Service) AdvanceProblem(ctx context.Context, req *connect.Request[CompetitionRequest]) (*connect.Response[CompetitionResponse], error) {
	return s.instructorOp(ctx, req, s.lifecycle.AdvanceProblem)
}

func (s *Service) EndCompetition(ctx context.Context, req *connect.Request[CompetitionRequest]) (*connect.Response[CompetitionResponse], error) {
	return s.instructorOp(ctx, req, s.lifecycle.EndCompetition)
}

func (s *Service) PauseTimer(ctx context.Context, req *connect.Request[CompetitionRequest]) (*connect.Response[CompetitionResponse], error) {
	return s.instructorOp(ctx, req, s.lifecycle.PauseTimer)
}

func (s *Service) ResumeTimer(ctx context.Context, req *connect.Request[CompetitionRequest]) (*connect.Response[CompetitionResponse], error) {
	return s.instructorOp(ctx, req, s.lifecycle.ResumeTimer)
}

// StartTimer restarts the current problem's clock. duration <= 0 uses the problem's timer.
func (s *Service) StartTimer(ctx context.Context, req *connect.Request[StartTimerRequest]) (*connect.Response[CompetitionResponse], error) {
	userID, err := caller(req.Header().Get(UserHeader))
	if err != nil {
		return nil, err
	}
	id, err := parseID("competition_id", req.Msg.CompetitionID)
	if err != nil {
		return nil, err
	}

	c, err := s.lifecycle.StartTimer(ctx, id, userID, req.Msg.Duration)
	if err != nil {
		return nil, toConnectError(req.Spec().Procedure, err)
	}
	return s.competitionResponse(c), nil
}

func (s *Service) instructorOp(ctx context.Context, req *connect.Request[CompetitionRequest], op func(ctx context.Context, id, actor uuid.UUID) (*models.Competition, error)) (*connect.Response[CompetitionResponse], error) {
	userID, err := caller(req.Header().Get(UserHeader))
	if err != nil {
		return nil, err
	}
	id, err := parseID("competition_id", req.Msg.CompetitionID)
	if err != nil {
		return nil, err
	}

	c, err := op(ctx, id, userID)
	if err != nil {
		return nil, toConnectError(req.Spec().Procedure, err)
	}

	log.Debug().
		Str("procedure", req.Spec().Procedure).
		Str("competition_id", id.String()).
		Str("status", string(c.Status)).
		Msg("instructor operation applied")
	return s.competitionResponse(c), nil
}

func (s *Service) competitionResponse(c *models.Competition) *connect.Response[CompetitionResponse] {
	remaining, running := s.lifecycle.TimeRemaining(c)
	return connect.NewResponse(&CompetitionResponse{
		Competition:   toCompetitionView(c),
		TimeRemaining: remaining,
		IsRunning:     running,
	})
}

func caller(header string) (uuid.UUID, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return uuid.Nil, connect.NewError(connect.CodeUnauthenticated, fmt.Errorf("%s header is required", UserHeader))
	}
	id, err := uuid.Parse(header)
	if err != nil {
		return uuid.Nil, connect.NewError(connect.CodeUnauthenticated, fmt.Errorf("invalid %s header: %w", UserHeader, err))
	}
	return id, nil
}

func parseID(field, value string) (uuid.UUID, error) {
	id, err := uuid.Parse(value)
	if err != nil {
		return uuid.Nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("invalid %s: %w", field, err))
	}
	return id, nil
}

func nonNil(entries []models.LeaderboardEntry) []models.LeaderboardEntry {
	if entries == nil {
		return []models.LeaderboardEntry{}
	}
	return entries
}
