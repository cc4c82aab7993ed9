package models

// CompetitionError is the error taxonomy shared by the competition engine.
type CompetitionError string

// Error implements the error interface
func (e CompetitionError) Error() string {
	return string(e)
}

const (
	ErrParticipantNotFound      CompetitionError = "participant not found"
	ErrInvalidCompetitionState  CompetitionError = "invalid competition state"
	ErrDuplicateAttempt         CompetitionError = "duplicate attempt"
	ErrGradingFailure           CompetitionError = "grading failure"
	ErrLateSubmission           CompetitionError = "late submission"
	ErrBroadcastUnavailable     CompetitionError = "broadcast unavailable"
	ErrCompetitionNotFound      CompetitionError = "competition not found"
	ErrProblemNotFound          CompetitionError = "problem not found"
	ErrNoActiveCompetition      CompetitionError = "no active competition for room"
	ErrInvalidTimeTaken         CompetitionError = "time taken must not be negative"
	ErrNotInstructor            CompetitionError = "caller is not the competition instructor"
	ErrAttemptNotFound          CompetitionError = "attempt not found"
	ErrInvalidCompetitionConfig CompetitionError = "invalid competition configuration"
)
