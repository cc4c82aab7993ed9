package models

import (
	"time"

	"github.com/google/uuid"
)

// LeaderboardEntry is a derived ranking row. Never the source of truth.
type LeaderboardEntry struct {
	RoomParticipantID uuid.UUID  `json:"room_participant_id"`
	UserID            uuid.UUID  `json:"user_id"`
	Rank              int        `json:"rank"`
	AccumulatedXP     int        `json:"accumulated_xp"`
	SolvedCount       int        `json:"solved_count"`
	TotalTime         int        `json:"total_time"`
	LastSubmissionAt  *time.Time `json:"last_submission_at,omitempty"`
}
