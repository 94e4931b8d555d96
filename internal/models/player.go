package models

import (
	"time"

	"github.com/google/uuid"
)

// QueuedPlayer is one connection waiting in the matchmaking pool.
type QueuedPlayer struct {
	ConnectionID uuid.UUID `json:"connectionId"`
	PlayerID     uuid.UUID `json:"playerId"`
	PeerID       string    `json:"peerId,omitempty"` // client routing hint handed to the opponent
	JoinedAt     time.Time `json:"joinedAt"`
}

// PlayerRecord is the anonymous identity row kept in the players table.
type PlayerRecord struct {
	ID         uuid.UUID `json:"id"`
	CreatedAt  time.Time `json:"createdAt"`
	LastSeenAt time.Time `json:"lastSeenAt"`
}
