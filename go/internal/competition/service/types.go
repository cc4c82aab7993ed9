package service

import (
	"encoding/json"
	"time"

	"github.com/PTMAbellana/polegion/go/internal/models"
)

type SubmitSolutionRequest struct {
	CompetitionID        string          `json:"competition_id"`
	CompetitionProblemID string          `json:"competition_problem_id"`
	RoomID               string          `json:"room_id"`
	Solution             json.RawMessage `json:"solution"`
	TimeTaken            int             `json:"time_taken"`
}

type SubmitSolutionResponse struct {
	Success   bool                       `json:"success"`
	Attempt   *models.CompetitionAttempt `json:"attempt"`
	XPGained  int                        `json:"xp_gained"`
	Duplicate bool                       `json:"duplicate"`
}

type GetRoomLeaderboardRequest struct {
	RoomID string `json:"room_id"`
	Fresh  bool   `json:"fresh,omitempty"`
}

type GetRoomLeaderboardResponse struct {
	RoomID    string                    `json:"room_id"`
	Entries   []models.LeaderboardEntry `json:"entries"`
	RebuiltAt time.Time                 `json:"rebuilt_at"`
}

type GetCompetitionLeaderboardRequest struct {
	RoomID string `json:"room_id"`
	Fresh  bool   `json:"fresh,omitempty"`
}

type GetCompetitionLeaderboardResponse struct {
	Competition   CompetitionView           `json:"competition"`
	Entries       []models.LeaderboardEntry `json:"entries"`
	Status        models.CompetitionStatus  `json:"status"`
	TimeRemaining int                       `json:"time_remaining"`
	IsRunning     bool                      `json:"is_running"`
	RebuiltAt     time.Time                 `json:"rebuilt_at"`
}

type ProblemInput struct {
	ProblemID string             `json:"problem_id"`
	TimerSec  int                `json:"timer_sec"`
	Problem   models.ProblemSpec `json:"problem"`
}

type CreateCompetitionRequest struct {
	RoomID   string         `json:"room_id"`
	Title    string         `json:"title"`
	Problems []ProblemInput `json:"problems"`
}

type CompetitionRequest struct {
	CompetitionID string `json:"competition_id"`
}

type StartTimerRequest struct {
	CompetitionID string `json:"competition_id"`
	Duration      int    `json:"duration"`
}

type CompetitionResponse struct {
	Competition   CompetitionView `json:"competition"`
	TimeRemaining int             `json:"time_remaining"`
	IsRunning     bool            `json:"is_running"`
}

type JoinRoomRequest struct {
	RoomID string `json:"room_id"`
}

type JoinRoomResponse struct {
	Participant *models.RoomParticipant `json:"participant"`
}

// CompetitionView is a competition as participants may see it: answers are left out.
type CompetitionView struct {
	ID                  string                   `json:"id"`
	RoomID              string                   `json:"room_id"`
	Title               string                   `json:"title"`
	Status              models.CompetitionStatus `json:"status"`
	GameplayIndicator   models.GameplayIndicator `json:"gameplay_indicator"`
	CurrentProblemIndex int                      `json:"current_problem_index"`
	TimerStartedAt      *time.Time               `json:"timer_started_at,omitempty"`
	TimerDurationSec    int                      `json:"timer_duration_sec"`
	Problems            []ProblemView            `json:"problems"`
}

type ProblemView struct {
	ID        string             `json:"id"`
	ProblemID string             `json:"problem_id"`
	Position  int                `json:"position"`
	TimerSec  int                `json:"timer_sec"`
	Kind      models.ProblemKind `json:"kind"`
	MaxXP     int                `json:"max_xp"`
}

func toCompetitionView(c *models.Competition) CompetitionView {
	v := CompetitionView{
		ID:                  c.ID.String(),
		RoomID:              c.RoomID.String(),
		Title:               c.Title,
		Status:              c.Status,
		GameplayIndicator:   c.GameplayIndicator,
		CurrentProblemIndex: c.CurrentProblemIndex,
		TimerStartedAt:      c.TimerStartedAt,
		TimerDurationSec:    c.TimerDurationSec,
		Problems:            make([]ProblemView, 0, len(c.Problems)),
	}
	for _, p := range c.Problems {
		v.Problems = append(v.Problems, ProblemView{
			ID:        p.ID.String(),
			ProblemID: p.ProblemID.String(),
			Position:  p.Position,
			TimerSec:  p.TimerSec,
			Kind:      p.Problem.Kind,
			MaxXP:     p.Problem.MaxXP,
		})
	}
	return v
}
