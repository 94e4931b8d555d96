// internal/signaling/relay.go
package signaling

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/jason-s-yu/staredown/internal/models"
	"github.com/sirupsen/logrus"
)

// MaxRoomSize is the number of connections that may negotiate in one game.
const MaxRoomSize = 2

var (
	ErrRoomFull    = errors.New("signaling room already has two members")
	ErrUnknownKind = errors.New("unknown signaling kind")
)

// Notifier delivers an outbound message to a single connection. It reports
// false when the connection is gone or its buffer is full.
type Notifier interface {
	Send(connID uuid.UUID, msg models.Message) bool
}

// Relay forwards opaque negotiation payloads between the two members of a
// game's room. It never buffers: a payload with nobody to receive it is dropped.
type Relay struct {
	mu     sync.Mutex
	rooms  map[uuid.UUID]map[uuid.UUID]struct{} // gameID -> member connections
	notify Notifier
	log    *logrus.Entry
}

func NewRelay(n Notifier, logger *logrus.Logger) *Relay {
	return &Relay{
		rooms:  make(map[uuid.UUID]map[uuid.UUID]struct{}),
		notify: n,
		log:    logger.WithField("component", "signaling"),
	}
}

// Relay joins from to the room of gameID (creating it on first use) and
// forwards payload unmodified to every other member. It returns the number of
// members the payload was handed to.
func (r *Relay) Relay(kind models.MessageType, gameID, from uuid.UUID, payload json.RawMessage) (int, error) {
	if !kind.IsSignal() {
		return 0, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	r.mu.Lock()
	room, ok := r.rooms[gameID]
	if !ok {
		room = make(map[uuid.UUID]struct{}, MaxRoomSize)
		r.rooms[gameID] = room
	}
	if _, member := room[from]; !member {
		if len(room) >= MaxRoomSize {
			r.mu.Unlock()
			r.log.WithFields(logrus.Fields{"game_id": gameID, "from": from}).Warn("rejected third member")
			return 0, ErrRoomFull
		}
		room[from] = struct{}{}
	}
	targets := make([]uuid.UUID, 0, 1)
	for id := range room {
		if id != from {
			targets = append(targets, id)
		}
	}
	r.mu.Unlock()

	if len(targets) == 0 {
		r.log.WithFields(logrus.Fields{"game_id": gameID, "kind": kind}).Debug("no peer in room yet, payload dropped")
		return 0, nil
	}

	msg := models.Signal(kind, payload, from)
	delivered := 0
	for _, id := range targets {
		if r.notify.Send(id, msg) {
			delivered++
		}
	}
	r.log.WithFields(logrus.Fields{"game_id": gameID, "kind": kind, "from": from}).Debug("forwarded signal")
	return delivered, nil
}

// Leave removes connID from every room it belongs to, tells the remaining
// members their opponent left, and deletes rooms that end up empty. It returns
// the connections that were notified.
func (r *Relay) Leave(connID uuid.UUID) []uuid.UUID {
	r.mu.Lock()
	var notified []uuid.UUID
	for gameID, room := range r.rooms {
		if _, ok := room[connID]; !ok {
			continue
		}
		delete(room, connID)
		for other := range room {
			notified = append(notified, other)
		}
		if len(room) == 0 {
			delete(r.rooms, gameID)
		}
	}
	r.mu.Unlock()

	for _, id := range notified {
		r.notify.Send(id, models.OpponentLeft())
	}
	return notified
}

// CloseRoom drops the room of gameID regardless of membership.
func (r *Relay) CloseRoom(gameID uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rooms[gameID]; !ok {
		return false
	}
	delete(r.rooms, gameID)
	return true
}

// Members returns the connections currently in the room of gameID.
func (r *Relay) Members(gameID uuid.UUID) []uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()
	room := r.rooms[gameID]
	out := make([]uuid.UUID, 0, len(room))
	for id := range room {
		out = append(out, id)
	}
	return out
}

// RoomCount returns the number of open rooms.
func (r *Relay) RoomCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}
