package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/PTMAbellana/polegion/go/internal/models"
)

// ErrInvalidFilter is returned when a ledger filter names neither or both scopes.
var ErrInvalidFilter = errors.New("ledger filter must set exactly one of room or competition")

// CompetitionUpdate is the full mutable state written by a status transition.
type CompetitionUpdate struct {
	Status              models.CompetitionStatus
	GameplayIndicator   models.GameplayIndicator
	CurrentProblemIndex int
	TimerStartedAt      *time.Time
	TimerDurationSec    int
	PausedRemainingSec  *int
	UpdatedAt           time.Time
}

// UpdateFrom seeds an update with a competition's current state.
func UpdateFrom(c *models.Competition) CompetitionUpdate {
	return CompetitionUpdate{
		Status:              c.Status,
		GameplayIndicator:   c.GameplayIndicator,
		CurrentProblemIndex: c.CurrentProblemIndex,
		TimerStartedAt:      c.TimerStartedAt,
		TimerDurationSec:    c.TimerDurationSec,
		PausedRemainingSec:  c.PausedRemainingSec,
		UpdatedAt:           c.UpdatedAt,
	}
}

// CompetitionStore persists competitions and their problem lists.
type CompetitionStore interface {
	CreateCompetition(ctx context.Context, c *models.Competition) error
	GetCompetition(ctx context.Context, id uuid.UUID) (*models.Competition, error)
	GetProblem(ctx context.Context, competitionID, problemID uuid.UUID) (*models.CompetitionProblem, error)
	// FindActiveCompetition returns the most recently created ONGOING or PAUSED competition in a room.
	FindActiveCompetition(ctx context.Context, roomID uuid.UUID) (*models.Competition, error)
	ListActiveCompetitions(ctx context.Context) ([]*models.Competition, error)
	// TransitionCompetition applies update only if the stored status still equals from.
	// A mismatch, or a competition already DONE, returns models.ErrInvalidCompetitionState.
	TransitionCompetition(ctx context.Context, id uuid.UUID, from models.CompetitionStatus, update CompetitionUpdate) (*models.Competition, error)
}

// ParticipantStore persists room membership.
type ParticipantStore interface {
	// JoinRoom is idempotent: joining twice returns the original participant.
	JoinRoom(ctx context.Context, roomID, userID uuid.UUID) (*models.RoomParticipant, error)
	GetParticipant(ctx context.Context, roomID, userID uuid.UUID) (*models.RoomParticipant, error)
	ListParticipants(ctx context.Context, roomID uuid.UUID) ([]models.RoomParticipant, error)
}

// AttemptStore persists graded attempts and their ledger rows.
type AttemptStore interface {
	// RecordAttempt inserts attempt and xp atomically. A second attempt for the same
	// (participant, problem) pair returns models.ErrDuplicateAttempt and writes nothing.
	// The insert only happens while the competition is ONGOING; otherwise it returns
	// models.ErrInvalidCompetitionState.
	RecordAttempt(ctx context.Context, attempt *models.CompetitionAttempt, xp *models.XPTransaction) error
	GetAttempt(ctx context.Context, participantID, problemID uuid.UUID) (*models.CompetitionAttempt, error)
}

// Filter scopes a ledger read to one room or one competition.
type Filter struct {
	RoomID        uuid.UUID
	CompetitionID uuid.UUID
}

// ForRoom scopes a ledger read to every competition in a room.
func ForRoom(roomID uuid.UUID) Filter { return Filter{RoomID: roomID} }

// ForCompetition scopes a ledger read to one competition.
func ForCompetition(competitionID uuid.UUID) Filter { return Filter{CompetitionID: competitionID} }

// Validate checks that exactly one scope is set.
func (f Filter) Validate() error {
	if (f.RoomID == uuid.Nil) == (f.CompetitionID == uuid.Nil) {
		return ErrInvalidFilter
	}
	return nil
}

// Ledger is one consistent read of a scope's attempts and XP transactions.
type Ledger struct {
	Attempts     []models.CompetitionAttempt
	Transactions []models.XPTransaction
}

// LedgerSource is the read side the leaderboard aggregator derives views from.
// Rows come back in insertion order.
type LedgerSource interface {
	ListAttempts(ctx context.Context, f Filter) ([]models.CompetitionAttempt, error)
	ListTransactions(ctx context.Context, f Filter) ([]models.XPTransaction, error)
	// ReadLedger reads attempts and transactions from the same snapshot.
	ReadLedger(ctx context.Context, f Filter) (Ledger, error)
}

// Store is everything the engine persists.
type Store interface {
	CompetitionStore
	ParticipantStore
	AttemptStore
	LedgerSource
	Ping(ctx context.Context) error
}
