package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event is the envelope every message on a competition topic is wrapped in
type Event struct {
	ID            string          `json:"id"`             // Event UUID
	CompetitionID string          `json:"competition_id"` // Competition UUID
	Type          EventType       `json:"type"`           // Event type
	Timestamp     time.Time       `json:"timestamp"`      // Event creation time
	Data          json.RawMessage `json:"data"`           // Event-specific payload
}

// EventType represents the type of competition event
type EventType string

const (
	EventTypeTimerUpdate        EventType = "timer_update"
	EventTypeSubmissionUpdate   EventType = "submission_update"
	EventTypeCompetitionStatus  EventType = "competition_status"
	EventTypeLeaderboardUpdated EventType = "leaderboard_updated"
)

// New wraps payload into an envelope for the given competition.
func New(eventType EventType, competitionID uuid.UUID, payload interface{}, now time.Time) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}
	return Event{
		ID:            uuid.NewString(),
		CompetitionID: competitionID.String(),
		Type:          eventType,
		Timestamp:     now.UTC(),
		Data:          data,
	}, nil
}

// Encode marshals a new envelope in one step; used by every publisher.
func Encode(eventType EventType, competitionID uuid.UUID, payload interface{}, now time.Time) ([]byte, error) {
	ev, err := New(eventType, competitionID, payload, now)
	if err != nil {
		return nil, err
	}
	return json.Marshal(ev)
}

// Decode parses a raw bus message into an envelope.
func Decode(raw []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return Event{}, fmt.Errorf("failed to decode event: %w", err)
	}
	if ev.Type == "" {
		return Event{}, fmt.Errorf("failed to decode event: missing type")
	}
	return ev, nil
}

// ParsePayload parses event data into the appropriate payload struct
func ParsePayload(ev Event) (interface{}, error) {
	switch ev.Type {
	case EventTypeTimerUpdate:
		var p TimerUpdatePayload
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			return nil, err
		}
		return p, nil
	case EventTypeSubmissionUpdate:
		var p SubmissionUpdatePayload
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			return nil, err
		}
		return p, nil
	case EventTypeCompetitionStatus:
		var p CompetitionStatusPayload
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			return nil, err
		}
		return p, nil
	case EventTypeLeaderboardUpdated:
		var p LeaderboardUpdatedPayload
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown event type: %s", ev.Type)
	}
}

// Topic returns the bus topic a competition's events are published on.
func Topic(prefix string, competitionID uuid.UUID) string {
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return prefix + "." + competitionID.String()
}

// DefaultTopicPrefix is used when no prefix is configured.
const DefaultTopicPrefix = "competition"

// Drift is how far behind now a tick stamped with timestampMs arrived.
// Subscribers subtract it from time_remaining to correct for delivery latency.
func Drift(timestampMs int64, now time.Time) time.Duration {
	d := now.Sub(time.UnixMilli(timestampMs))
	if d < 0 {
		return 0
	}
	return d
}

// CorrectedRemaining applies drift to a received tick, clamped at zero.
func CorrectedRemaining(p TimerUpdatePayload, now time.Time) int {
	r := p.TimeRemaining
	if p.IsRunning {
		r -= int(Drift(p.Timestamp, now) / time.Second)
	}
	if r < 0 {
		return 0
	}
	return r
}
