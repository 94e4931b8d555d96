package game

import "errors"

var (
	// ErrNotFound is returned when a game id is not in the fast-lookup index.
	ErrNotFound = errors.New("game not found")
	// ErrInvalidTransition is returned when a terminal game is asked to move again.
	ErrInvalidTransition = errors.New("game is not in progress")
	// ErrAmbiguousOutcome is returned when the two sides of a game cannot be told
	// apart by connection, so no winner can be named.
	ErrAmbiguousOutcome = errors.New("cannot determine winner: player connections are not distinct")
	// ErrNotParticipant is returned when a connection reports on a game it is not bound to.
	ErrNotParticipant = errors.New("connection is not a participant in this game")
	// ErrSamePlayer is returned when both sides of a new game are the same player.
	ErrSamePlayer = errors.New("a game needs two distinct players")
)
