package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// CompetitionStatus defines the lifecycle status of a competition.
type CompetitionStatus string

const (
	CompetitionStatusNew     CompetitionStatus = "NEW"
	CompetitionStatusOngoing CompetitionStatus = "ONGOING"
	CompetitionStatusPaused  CompetitionStatus = "PAUSED"
	CompetitionStatusDone    CompetitionStatus = "DONE"
)

// GameplayIndicator mirrors whether the instructor has the competition playing or paused.
type GameplayIndicator string

const (
	GameplayPlay  GameplayIndicator = "PLAY"
	GameplayPause GameplayIndicator = "PAUSE"
)

// ProblemKind selects how a submitted solution is graded.
type ProblemKind string

const (
	ProblemKindNumeric ProblemKind = "numeric"
	ProblemKindChoice  ProblemKind = "choice"
	ProblemKindPoints  ProblemKind = "points"
)

// ProblemSpec is the slice of authored problem content the engine needs to grade a submission.
type ProblemSpec struct {
	Kind      ProblemKind     `json:"kind"`
	Answer    json.RawMessage `json:"answer"`
	MaxXP     int             `json:"max_xp"`
	Tolerance float64         `json:"tolerance,omitempty"`
}

// CompetitionProblem is a problem bound into a competition with its own timer.
type CompetitionProblem struct {
	ID            uuid.UUID   `json:"id"`
	CompetitionID uuid.UUID   `json:"competition_id"`
	ProblemID     uuid.UUID   `json:"problem_id"`
	Position      int         `json:"position"`
	TimerSec      int         `json:"timer_sec"`
	Problem       ProblemSpec `json:"problem"`
}

// Competition is a timed, multi-problem contest scoped to one room.
type Competition struct {
	ID                  uuid.UUID            `json:"id"`
	RoomID              uuid.UUID            `json:"room_id"`
	Title               string               `json:"title"`
	CreatedBy           uuid.UUID            `json:"created_by"`
	Status              CompetitionStatus    `json:"status"`
	GameplayIndicator   GameplayIndicator    `json:"gameplay_indicator"`
	CurrentProblemIndex int                  `json:"current_problem_index"`
	TimerStartedAt      *time.Time           `json:"timer_started_at,omitempty"`
	TimerDurationSec    int                  `json:"timer_duration_sec"`
	PausedRemainingSec  *int                 `json:"paused_remaining_sec,omitempty"`
	Problems            []CompetitionProblem `json:"problems"`
	CreatedAt           time.Time            `json:"created_at"`
	UpdatedAt           time.Time            `json:"updated_at"`
}

// CurrentProblem returns the problem currently on the clock, or nil when the index is out of range.
func (c *Competition) CurrentProblem() *CompetitionProblem {
	if c.CurrentProblemIndex < 0 || c.CurrentProblemIndex >= len(c.Problems) {
		return nil
	}
	return &c.Problems[c.CurrentProblemIndex]
}

// Problem looks up a bound problem by its competition problem id.
func (c *Competition) Problem(id uuid.UUID) *CompetitionProblem {
	for i := range c.Problems {
		if c.Problems[i].ID == id {
			return &c.Problems[i]
		}
	}
	return nil
}

// IsActive reports whether the competition is running or paused.
func (c *Competition) IsActive() bool {
	return c.Status == CompetitionStatusOngoing || c.Status == CompetitionStatusPaused
}

// IsFinalProblem reports whether the current problem is the last one.
func (c *Competition) IsFinalProblem() bool {
	return c.CurrentProblemIndex >= len(c.Problems)-1
}
