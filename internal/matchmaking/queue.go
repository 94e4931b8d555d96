// internal/matchmaking/queue.go
package matchmaking

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/staredown/internal/models"
)

// entry pairs a queued player with its insertion sequence so that equal
// timestamps still resolve in arrival order.
type entry struct {
	player models.QueuedPlayer
	seq    uint64
}

// Queue is the ordered waiting pool of connections that want a match.
// It is safe for concurrent use.
type Queue struct {
	mu      sync.Mutex
	entries []entry
	seq     uint64
	now     func() time.Time
}

// NewQueue returns an empty queue stamping entries with the wall clock.
func NewQueue() *Queue {
	return &Queue{now: time.Now}
}

// NewQueueWithClock is NewQueue with an injectable clock, used by tests.
func NewQueueWithClock(now func() time.Time) *Queue {
	return &Queue{now: now}
}

// Enqueue appends a new entry for connID. If the connection is already queued
// the existing record is returned unchanged and added is false.
func (q *Queue) Enqueue(connID, playerID uuid.UUID, peerID string) (rec models.QueuedPlayer, added bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, e := range q.entries {
		if e.player.ConnectionID == connID {
			return e.player, false
		}
	}

	q.seq++
	p := models.QueuedPlayer{
		ConnectionID: connID,
		PlayerID:     playerID,
		PeerID:       peerID,
		JoinedAt:     q.now(),
	}
	q.entries = append(q.entries, entry{player: p, seq: q.seq})
	return p, true
}

// Dequeue removes connID if present. Removing an absent connection is a no-op.
func (q *Queue) Dequeue(connID uuid.UUID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, e := range q.entries {
		if e.player.ConnectionID == connID {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return true
		}
	}
	return false
}

// Size returns the number of waiting connections.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// IsQueued reports whether connID is currently waiting.
func (q *Queue) IsQueued(connID uuid.UUID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, e := range q.entries {
		if e.player.ConnectionID == connID {
			return true
		}
	}
	return false
}

// Snapshot returns a copy of the waiting entries in insertion order.
func (q *Queue) Snapshot() []models.QueuedPlayer {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]models.QueuedPlayer, len(q.entries))
	for i, e := range q.entries {
		out[i] = e.player
	}
	return out
}

// RunMatchPass pairs the earliest-joined entry with the earliest entry of a
// different player, if there is one. Two connections of the same player are
// never paired and stay where they are. Both entries are removed under the
// queue lock before handoff runs, so a concurrent Dequeue can never leave a
// stale pairing behind. At most one pair is produced per call.
func (q *Queue) RunMatchPass(handoff func(p1, p2 models.QueuedPlayer)) bool {
	q.mu.Lock()
	if len(q.entries) < 2 {
		q.mu.Unlock()
		return false
	}

	first := 0
	for i := range q.entries {
		if q.entries[i].before(q.entries[first]) {
			first = i
		}
	}
	second := -1
	for i := range q.entries {
		if q.entries[i].player.PlayerID == q.entries[first].player.PlayerID {
			continue
		}
		if second == -1 || q.entries[i].before(q.entries[second]) {
			second = i
		}
	}
	if second == -1 {
		q.mu.Unlock()
		return false
	}
	p1, p2 := q.entries[first].player, q.entries[second].player

	kept := q.entries[:0]
	for i, e := range q.entries {
		if i != first && i != second {
			kept = append(kept, e)
		}
	}
	// zero the tail so removed players are not retained by the backing array
	for i := len(kept); i < len(q.entries); i++ {
		q.entries[i] = entry{}
	}
	q.entries = kept
	q.mu.Unlock()

	if handoff != nil {
		handoff(p1, p2)
	}
	return true
}

func (e entry) before(o entry) bool {
	if e.player.JoinedAt.Equal(o.player.JoinedAt) {
		return e.seq < o.seq
	}
	return e.player.JoinedAt.Before(o.player.JoinedAt)
}
