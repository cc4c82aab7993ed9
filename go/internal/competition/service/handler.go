package service

import (
	"net/http"

	"connectrpc.com/connect"
)

// ServiceName is the fully-qualified name of the competition service.
const ServiceName = "polegion.competition.v1.CompetitionService"

// Procedure paths, in the form connect expects: /<service>/<method>.
const (
	SubmitSolutionProcedure            = "/" + ServiceName + "/SubmitSolution"
	GetRoomLeaderboardProcedure        = "/" + ServiceName + "/GetRoomLeaderboard"
	GetCompetitionLeaderboardProcedure = "/" + ServiceName + "/GetCompetitionLeaderboard"
	CreateCompetitionProcedure         = "/" + ServiceName + "/CreateCompetition"
	JoinRoomProcedure                  = "/" + ServiceName + "/JoinRoom"
	StartCompetitionProcedure          = "/" + ServiceName + "/StartCompetition"
	AdvanceProblemProcedure            = "/" + ServiceName + "/AdvanceProblem"
	EndCompetitionProcedure            = "/" + ServiceName + "/EndCompetition"
	StartTimerProcedure                = "/" + ServiceName + "/StartTimer"
	PauseTimerProcedure                = "/" + ServiceName + "/PauseTimer"
	ResumeTimerProcedure               = "/" + ServiceName + "/ResumeTimer"
)

// NewHandler builds an HTTP handler serving every procedure of s.
// It returns the path prefix to mount it on.
func NewHandler(s *Service, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(Codec())}, opts...)

	mux := http.NewServeMux()
	mux.Handle(SubmitSolutionProcedure, connect.NewUnaryHandler(SubmitSolutionProcedure, s.SubmitSolution, opts...))
	mux.Handle(GetRoomLeaderboardProcedure, connect.NewUnaryHandler(GetRoomLeaderboardProcedure, s.GetRoomLeaderboard, opts...))
	mux.Handle(GetCompetitionLeaderboardProcedure, connect.NewUnaryHandler(GetCompetitionLeaderboardProcedure, s.GetCompetitionLeaderboard, opts...))
	mux.Handle(CreateCompetitionProcedure, connect.NewUnaryHandler(CreateCompetitionProcedure, s.CreateCompetition, opts...))
	mux.Handle(JoinRoomProcedure, connect.NewUnaryHandler(JoinRoomProcedure, s.JoinRoom, opts...))
	mux.Handle(StartCompetitionProcedure, connect.NewUnaryHandler(StartCompetitionProcedure, s.StartCompetition, opts...))
	mux.Handle(AdvanceProblemProcedure, connect.NewUnaryHandler(AdvanceProblemProcedure, s.AdvanceProblem, opts...))
	mux.Handle(EndCompetitionProcedure, connect.NewUnaryHandler(EndCompetitionProcedure, s.EndCompetition, opts...))
	mux.Handle(StartTimerProcedure, connect.NewUnaryHandler(StartTimerProcedure, s.StartTimer, opts...))
	mux.Handle(PauseTimerProcedure, connect.NewUnaryHandler(PauseTimerProcedure, s.PauseTimer, opts...))
	mux.Handle(ResumeTimerProcedure, connect.NewUnaryHandler(ResumeTimerProcedure, s.ResumeTimer, opts...))

	return "/" + ServiceName + "/", mux
}
