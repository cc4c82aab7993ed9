package leaderboard

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/PTMAbellana/polegion/go/internal/models"
)

// ScopeKind selects which slice of the ledger a view ranks.
type ScopeKind string

const (
	ScopeRoom        ScopeKind = "room"
	ScopeCompetition ScopeKind = "competition"
)

// Scope identifies one leaderboard.
type Scope struct {
	Kind ScopeKind `json:"kind"`
	ID   uuid.UUID `json:"id"`
}

// RoomScope ranks every attempt made in a room.
func RoomScope(roomID uuid.UUID) Scope { return Scope{Kind: ScopeRoom, ID: roomID} }

// CompetitionScope ranks the attempts of one competition.
func CompetitionScope(competitionID uuid.UUID) Scope {
	return Scope{Kind: ScopeCompetition, ID: competitionID}
}

// Key is the scope's cache key suffix.
func (s Scope) Key() string {
	return fmt.Sprintf("%s:%s", s.Kind, s.ID)
}

// View is one rebuilt leaderboard.
type View struct {
	Scope     Scope                     `json:"scope"`
	Entries   []models.LeaderboardEntry `json:"entries"`
	Watermark int                       `json:"watermark"` // ledger rows folded into this view
	RebuiltAt time.Time                 `json:"rebuilt_at"`
}
