package models

import (
	"time"

	"github.com/google/uuid"
)

// RoomParticipant is a user's membership record in a room.
type RoomParticipant struct {
	ID       uuid.UUID `json:"id"`
	RoomID   uuid.UUID `json:"room_id"`
	UserID   uuid.UUID `json:"user_id"`
	JoinedAt time.Time `json:"joined_at"`
}
