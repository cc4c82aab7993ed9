package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Feedback markers written by the attempt pipeline instead of grader feedback.
const (
	FeedbackGradingFailed  = "grading_failed"
	FeedbackLateSubmission = "late_submission"
)

// CompetitionAttempt is one graded submission for a (participant, problem) pair. Append-only.
type CompetitionAttempt struct {
	ID                   uuid.UUID       `json:"id"`
	RoomParticipantID    uuid.UUID       `json:"room_participant_id"`
	CompetitionID        uuid.UUID       `json:"competition_id"`
	CompetitionProblemID uuid.UUID       `json:"competition_problem_id"`
	Solution             json.RawMessage `json:"solution"`
	TimeTaken            int             `json:"time_taken"`
	AttemptedAt          time.Time       `json:"attempted_at"`
	SubmittedAt          time.Time       `json:"submitted_at"`
	Correct              bool            `json:"correct"`
	XPGained             int             `json:"xp_gained"`
	Feedback             string          `json:"feedback"`
	Late                 bool            `json:"late"`
}

// XPTransaction is an append-only ledger row. A participant's XP is the sum of their transactions.
type XPTransaction struct {
	ID                uuid.UUID `json:"id"`
	RoomParticipantID uuid.UUID `json:"room_participant_id"`
	CompetitionID     uuid.UUID `json:"competition_id"`
	AttemptID         uuid.UUID `json:"attempt_id"`
	XPDelta           int       `json:"xp_delta"`
	CreatedAt         time.Time `json:"created_at"`
}
