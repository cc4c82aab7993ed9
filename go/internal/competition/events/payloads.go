package events

import (
	"time"
)

// Payload types shared by the clock, attempt pipeline, lifecycle and gateway packages

// TimerUpdatePayload is one authoritative clock tick. Timestamp is epoch milliseconds.
type TimerUpdatePayload struct {
	TimeRemaining int    `json:"time_remaining"`
	IsRunning     bool   `json:"is_running"`
	CompetitionID string `json:"competition_id"`
	Timestamp     int64  `json:"timestamp"`
}

// SubmissionUpdatePayload announces a persisted attempt without exposing the answer.
type SubmissionUpdatePayload struct {
	ParticipantID string    `json:"participant_id"`
	XPGained      int       `json:"xp_gained"`
	SubmittedAt   time.Time `json:"submitted_at"`
}

// CompetitionStatusPayload is emitted on every lifecycle transition
type CompetitionStatusPayload struct {
	CompetitionID       string    `json:"competition_id"`
	Status              string    `json:"status"`
	GameplayIndicator   string    `json:"gameplay_indicator"`
	CurrentProblemIndex int       `json:"current_problem_index"`
	ChangedAt           time.Time `json:"changed_at"`
}

// LeaderboardUpdatedPayload tells dashboards to refetch a scope
type LeaderboardUpdatedPayload struct {
	Scope     string    `json:"scope"`
	ScopeID   string    `json:"scope_id"`
	RebuiltAt time.Time `json:"rebuilt_at"`
}
