package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType names a game lifecycle event on the history stream.
type EventType string

const (
	EventGameCreated   EventType = "game_created"
	EventGameStarted   EventType = "game_started"
	EventGameFinished  EventType = "game_finished"
	EventGameCancelled EventType = "game_cancelled"
	EventRematch       EventType = "rematch"
)

// GameEvent is one entry on the history stream, later stored in game_events.
type GameEvent struct {
	ID        uuid.UUID       `json:"id"`
	GameID    uuid.UUID       `json:"gameId"`
	Type      EventType       `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

// NewGameEvent stamps an event for gameID. A payload that fails to marshal is left empty.
func NewGameEvent(gameID uuid.UUID, typ EventType, payload any) GameEvent {
	ev := GameEvent{
		ID:        uuid.New(),
		GameID:    gameID,
		Type:      typ,
		CreatedAt: time.Now().UTC(),
	}
	if payload != nil {
		if raw, err := json.Marshal(payload); err == nil {
			ev.Payload = raw
		}
	}
	return ev
}
