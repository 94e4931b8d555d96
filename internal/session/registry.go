// internal/session/registry.go
package session

import (
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/jason-s-yu/staredown/internal/models"
	"github.com/sirupsen/logrus"
)

// OutBufferSize is the per-connection outbound queue length.
const OutBufferSize = 16

var (
	ErrAlreadyRegistered = errors.New("connection already registered")
	ErrUnknownConnection = errors.New("unknown connection")
)

// Connection is a single client's presence on the server. The write pump
// drains OutChan; everything else goes through the Registry.
type Connection struct {
	ID         uuid.UUID
	PlayerID   uuid.UUID
	RemoteAddr string
	OutChan    chan models.Message
	Cancel     func() // stops the connection's pumps

	// guarded by Registry.mu
	peerID string
	queued bool
	gameID uuid.UUID
}

// NewConnection allocates a connection record with a fresh id.
func NewConnection(playerID uuid.UUID, remoteAddr string, cancel func()) *Connection {
	return &Connection{
		ID:         uuid.New(),
		PlayerID:   playerID,
		RemoteAddr: remoteAddr,
		OutChan:    make(chan models.Message, OutBufferSize),
		Cancel:     cancel,
	}
}

// Record is a point-in-time view of a connection's session state.
type Record struct {
	ID       uuid.UUID
	PlayerID uuid.UUID
	PeerID   string
	Queued   bool
	GameID   uuid.UUID // uuid.Nil when not in a game
}

// Registry maps live connection ids to their session state.
type Registry struct {
	mu    sync.Mutex
	conns map[uuid.UUID]*Connection
	log   *logrus.Entry
}

func NewRegistry(logger *logrus.Logger) *Registry {
	return &Registry{
		conns: make(map[uuid.UUID]*Connection),
		log:   logger.WithField("component", "session"),
	}
}

// Register adds conn. Registering the same id twice is an error.
func (r *Registry) Register(conn *Connection) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.conns[conn.ID]; exists {
		return ErrAlreadyRegistered
	}
	r.conns[conn.ID] = conn
	return nil
}

// Unregister removes the connection and closes its outbound channel so the
// write pump exits. It returns the final record.
func (r *Registry) Unregister(id uuid.UUID) (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.conns[id]
	if !ok {
		return Record{}, false
	}
	delete(r.conns, id)
	close(conn.OutChan)
	return conn.record(), true
}

// Get returns the current record for id.
func (r *Registry) Get(id uuid.UUID) (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.conns[id]
	if !ok {
		return Record{}, false
	}
	return conn.record(), true
}

// SetQueued records queue membership and the routing hint supplied on join.
func (r *Registry) SetQueued(id uuid.UUID, queued bool, peerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.conns[id]
	if !ok {
		return ErrUnknownConnection
	}
	conn.queued = queued
	if queued {
		conn.peerID = peerID
	}
	return nil
}

// SetGame marks the connection as matched into gameID and no longer queued.
func (r *Registry) SetGame(id, gameID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.conns[id]
	if !ok {
		return ErrUnknownConnection
	}
	conn.queued = false
	conn.gameID = gameID
	return nil
}

// ClearGame detaches the connection from gameID; a different current game is left alone.
func (r *Registry) ClearGame(id, gameID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if conn, ok := r.conns[id]; ok && conn.gameID == gameID {
		conn.gameID = uuid.Nil
	}
}

// Send queues msg for connID without blocking. A full buffer drops the message.
func (r *Registry) Send(connID uuid.UUID, msg models.Message) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.conns[connID]
	if !ok {
		return false
	}
	select {
	case conn.OutChan <- msg:
		return true
	default:
		r.log.WithFields(logrus.Fields{
			"conn_id": connID,
			"type":    msg.Type,
		}).Warn("outbound buffer full, message dropped")
		return false
	}
}

// Count returns the number of live connections.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

func (c *Connection) record() Record {
	return Record{
		ID:       c.ID,
		PlayerID: c.PlayerID,
		PeerID:   c.peerID,
		Queued:   c.queued,
		GameID:   c.gameID,
	}
}
