// internal/models/game.go
package models

import (
	"time"

	"github.com/google/uuid"
)

// GameStatus is the lifecycle state of a single staring contest.
type GameStatus string

const (
	StatusPlaying   GameStatus = "PLAYING"
	StatusFinished  GameStatus = "FINISHED"
	StatusCancelled GameStatus = "CANCELLED"
)

// Terminal reports whether no further transition is allowed out of s.
func (s GameStatus) Terminal() bool {
	return s == StatusFinished || s == StatusCancelled
}

// Game holds the authoritative in-memory state of one game between two players.
type Game struct {
	ID        uuid.UUID `json:"id"`
	Player1ID uuid.UUID `json:"player1Id"`
	Player2ID uuid.UUID `json:"player2Id"`

	// Connection ids are bound once each player's socket is known.
	Player1ConnID uuid.UUID `json:"-"`
	Player2ConnID uuid.UUID `json:"-"`

	Status    GameStatus `json:"status"`
	WinnerID  *uuid.UUID `json:"winnerId,omitempty"`
	StartedAt time.Time  `json:"startedAt"`
	EndedAt   *time.Time `json:"endedAt,omitempty"`
}

// HasPlayer reports whether playerID is one of the two participants.
func (g *Game) HasPlayer(playerID uuid.UUID) bool {
	return g.Player1ID == playerID || g.Player2ID == playerID
}

// Record returns the durable view of the game.
func (g *Game) Record() GameRecord {
	rec := GameRecord{
		ID:        g.ID,
		Player1ID: g.Player1ID,
		Player2ID: g.Player2ID,
		Status:    g.Status,
		StartedAt: g.StartedAt,
	}
	if g.WinnerID != nil {
		w := *g.WinnerID
		rec.WinnerID = &w
	}
	if g.EndedAt != nil {
		e := *g.EndedAt
		rec.EndedAt = &e
	}
	return rec
}

// GameRecord mirrors a row in the games table.
type GameRecord struct {
	ID        uuid.UUID  `json:"id"`
	Player1ID uuid.UUID  `json:"player1Id"`
	Player2ID uuid.UUID  `json:"player2Id"`
	Status    GameStatus `json:"status"`
	WinnerID  *uuid.UUID `json:"winnerId,omitempty"`
	StartedAt time.Time  `json:"startedAt"`
	EndedAt   *time.Time `json:"endedAt,omitempty"`
}
