// internal/arena/arena.go
package arena

import (
	"encoding/json"
	"errors"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/jason-s-yu/staredown/internal/game"
	"github.com/jason-s-yu/staredown/internal/matchmaking"
	"github.com/jason-s-yu/staredown/internal/models"
	"github.com/jason-s-yu/staredown/internal/session"
	"github.com/jason-s-yu/staredown/internal/signaling"
	"github.com/sirupsen/logrus"
)

var (
	ErrInGame        = errors.New("connection is already in a live game")
	ErrNotRegistered = errors.New("connection is not registered")
)

// EventSink receives game lifecycle events. Emit must not block.
type EventSink interface {
	Emit(ev models.GameEvent)
}

type discardSink struct{}

func (discardSink) Emit(models.GameEvent) {}

// Stats is a point-in-time summary of the arena.
type Stats struct {
	Connections  int `json:"connections"`
	Queued       int `json:"queued"`
	ActiveGames  int `json:"activeGames"`
	IndexedGames int `json:"indexedGames"`
	Rooms        int `json:"rooms"`
}

// Arena is the single coordinator for every client event and the periodic
// match pass. All mutations of the queue, the game table and the signaling
// rooms happen under its lock, one event at a time.
type Arena struct {
	mu       sync.Mutex
	sessions *session.Registry
	queue    *matchmaking.Queue
	games    *game.Manager
	relay    *signaling.Relay
	events   EventSink
	log      *logrus.Entry
}

// New wires an arena. The relay must deliver through sessions. A nil sink discards events.
func New(sessions *session.Registry, queue *matchmaking.Queue, games *game.Manager, relay *signaling.Relay, sink EventSink, logger *logrus.Logger) *Arena {
	if sink == nil {
		sink = discardSink{}
	}
	return &Arena{
		sessions: sessions,
		queue:    queue,
		games:    games,
		relay:    relay,
		events:   sink,
		log:      logger.WithField("component", "arena"),
	}
}

// Connect registers a new connection and greets it.
func (a *Arena) Connect(conn *session.Connection) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.sessions.Register(conn); err != nil {
		return err
	}
	a.sessions.Send(conn.ID, models.Connected(conn.ID, conn.PlayerID))
	a.log.WithFields(logrus.Fields{"conn_id": conn.ID, "player_id": conn.PlayerID}).Info("connected")
	return nil
}

// Disconnect tears a connection down: it leaves the queue, cancels a game
// still being played, leaves its signaling rooms and is unregistered.
func (a *Arena) Disconnect(connID uuid.UUID) {
	a.mu.Lock()
	defer a.mu.Unlock()

	rec, ok := a.sessions.Get(connID)
	if !ok {
		return
	}
	logger := a.log.WithFields(logrus.Fields{"conn_id": connID, "player_id": rec.PlayerID})

	if a.queue.Dequeue(connID) {
		logger.Debug("removed from queue on disconnect")
	}

	var cancelled *models.Game
	opponent := uuid.Nil
	if rec.GameID != uuid.Nil {
		if g, found := a.games.GetGame(rec.GameID); found && g.Status == models.StatusPlaying {
			opponent, _ = a.games.Opponent(g.ID, connID)
			snap, err := a.games.CancelGame(g.ID)
			if err != nil {
				logger.Warnf("cancel on disconnect: %v", err)
			} else {
				cancelled = &snap
			}
		}
	}

	notified := a.relay.Leave(connID)

	if cancelled != nil {
		if opponent != uuid.Nil {
			if !slices.Contains(notified, opponent) {
				a.sessions.Send(opponent, models.OpponentLeft())
			}
			a.sessions.ClearGame(opponent, cancelled.ID)
		}
		a.relay.CloseRoom(cancelled.ID)
		a.events.Emit(models.NewGameEvent(cancelled.ID, models.EventGameCancelled, map[string]string{
			"reason":   "disconnect",
			"playerId": rec.PlayerID.String(),
		}))
		logger.WithField("game_id", cancelled.ID).Info("game cancelled by disconnect")
	}

	a.sessions.Unregister(connID)
	logger.Info("disconnected")
}

// JoinQueue puts the connection in the waiting pool. peerID is the optional
// routing hint handed to the eventual opponent.
func (a *Arena) JoinQueue(connID uuid.UUID, peerID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	rec, ok := a.sessions.Get(connID)
	if !ok {
		return ErrNotRegistered
	}
	if rec.GameID != uuid.Nil {
		if g, found := a.games.GetGame(rec.GameID); found && g.Status == models.StatusPlaying {
			a.sessions.Send(connID, models.Error("join_queue: already in a game"))
			return ErrInGame
		}
		a.sessions.ClearGame(connID, rec.GameID)
	}

	if _, added := a.queue.Enqueue(connID, rec.PlayerID, peerID); added {
		a.sessions.SetQueued(connID, true, peerID)
		a.log.WithFields(logrus.Fields{"conn_id": connID, "queue_size": a.queue.Size()}).Info("joined queue")
	}
	a.sessions.Send(connID, models.QueueStatus(true, a.queue.Size()))
	return nil
}

// LeaveQueue removes the connection from the waiting pool. Leaving twice is harmless.
func (a *Arena) LeaveQueue(connID uuid.UUID) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.sessions.Get(connID); !ok {
		return ErrNotRegistered
	}
	if a.queue.Dequeue(connID) {
		a.log.WithField("conn_id", connID).Info("left queue")
	}
	a.sessions.SetQueued(connID, false, "")
	a.sessions.Send(connID, models.QueueStatus(false, a.queue.Size()))
	return nil
}

// QueueStatus re-sends the current queue state to the connection.
func (a *Arena) QueueStatus(connID uuid.UUID) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	rec, ok := a.sessions.Get(connID)
	if !ok {
		return ErrNotRegistered
	}
	a.sessions.Send(connID, models.QueueStatus(rec.Queued, a.queue.Size()))
	return nil
}

// RunMatchPass pairs the two longest-waiting connections into a new game, if
// at least two are waiting. It reports whether a pairing was made.
func (a *Arena) RunMatchPass() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.queue.RunMatchPass(a.startGame)
}

// startGame runs under a.mu from inside the match pass.
func (a *Arena) startGame(p1, p2 models.QueuedPlayer) {
	g, err := a.games.CreateGame(p1.PlayerID, p2.PlayerID)
	if err != nil {
		// the queue never pairs a player with themselves, so this is unexpected
		a.log.WithFields(logrus.Fields{
			"player1": p1.PlayerID,
			"player2": p2.PlayerID,
			"conn1":   p1.ConnectionID,
			"conn2":   p2.ConnectionID,
		}).Errorf("pairing rejected: %v", err)
		a.queue.Enqueue(p1.ConnectionID, p1.PlayerID, p1.PeerID)
		a.queue.Enqueue(p2.ConnectionID, p2.PlayerID, p2.PeerID)
		return
	}

	for _, p := range []models.QueuedPlayer{p1, p2} {
		if err := a.games.BindConnection(g.ID, p.PlayerID, p.ConnectionID); err != nil {
			a.log.WithField("game_id", g.ID).Errorf("bind connection: %v", err)
		}
		a.sessions.SetGame(p.ConnectionID, g.ID)
	}

	a.sessions.Send(p1.ConnectionID, models.MatchFound(g.ID, p2.PeerID, true))
	a.sessions.Send(p2.ConnectionID, models.MatchFound(g.ID, p1.PeerID, false))
	a.events.Emit(models.NewGameEvent(g.ID, models.EventGameCreated, g.Record()))

	gameID, c1, c2 := g.ID, p1.ConnectionID, p2.ConnectionID
	a.games.ScheduleStart(gameID, func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		if cur, ok := a.games.GetGame(gameID); !ok || cur.Status != models.StatusPlaying {
			a.log.WithField("game_id", gameID).Debug("game ended before start, game_start not sent")
			return
		}
		a.sessions.Send(c1, models.GameStart(gameID))
		a.sessions.Send(c2, models.GameStart(gameID))
		a.events.Emit(models.NewGameEvent(gameID, models.EventGameStarted, nil))
	})

	a.log.WithFields(logrus.Fields{
		"game_id": g.ID,
		"conn1":   p1.ConnectionID,
		"conn2":   p2.ConnectionID,
	}).Info("match found")
}

// ReportLoss resolves gameID against the reporting connection and tells both
// sides the result. Stale or duplicate reports are ignored; an ambiguous
// game is reported back to the sender.
func (a *Arena) ReportLoss(connID, gameID uuid.UUID) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	logger := a.log.WithFields(logrus.Fields{"conn_id": connID, "game_id": gameID})
	out, err := a.games.ReportLoss(gameID, connID)
	switch {
	case err == nil:
	case errors.Is(err, game.ErrAmbiguousOutcome):
		logger.Error("cannot tell the two sides apart, result not recorded")
		a.sessions.Send(connID, models.Error("player_laughed: game outcome is ambiguous"))
		return err
	default:
		logger.Debugf("loss report ignored: %v", err)
		return err
	}

	a.sessions.Send(out.WinnerConnID, models.GameEnd(gameID, "win", out.WinnerID))
	a.sessions.Send(out.LoserConnID, models.GameEnd(gameID, "lose", out.WinnerID))
	a.sessions.ClearGame(out.WinnerConnID, gameID)
	a.sessions.ClearGame(out.LoserConnID, gameID)
	a.relay.CloseRoom(gameID)
	a.events.Emit(models.NewGameEvent(gameID, models.EventGameFinished, map[string]string{
		"winnerId": out.WinnerID.String(),
		"loserId":  out.LoserID.String(),
	}))
	return nil
}

// Signal relays an opaque negotiation payload to the other participant of
// gameID while the game is being played.
func (a *Arena) Signal(connID uuid.UUID, kind models.MessageType, gameID uuid.UUID, payload json.RawMessage) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	logger := a.log.WithFields(logrus.Fields{"conn_id": connID, "game_id": gameID, "kind": kind})
	if _, err := a.games.Opponent(gameID, connID); err != nil {
		logger.Debugf("signal ignored: %v", err)
		return err
	}
	// a late candidate must not reopen the room of a finished game
	if g, _ := a.games.GetGame(gameID); g.Status != models.StatusPlaying {
		logger.Debug("signal ignored: game is over")
		return game.ErrInvalidTransition
	}
	_, err := a.relay.Relay(kind, gameID, connID, payload)
	return err
}

// Rematch forwards a rematch handshake message to the opponent in gameID.
func (a *Arena) Rematch(connID uuid.UUID, kind models.MessageType, gameID uuid.UUID) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	opponent, err := a.games.Opponent(gameID, connID)
	if err != nil {
		a.log.WithFields(logrus.Fields{"conn_id": connID, "game_id": gameID}).Debugf("rematch ignored: %v", err)
		return err
	}
	a.sessions.Send(opponent, models.Rematch(kind, gameID, connID))
	a.events.Emit(models.NewGameEvent(gameID, models.EventRematch, map[string]string{"kind": string(kind)}))
	return nil
}

// Game returns the indexed game, if it is still inside the fast index.
func (a *Arena) Game(gameID uuid.UUID) (models.Game, bool) {
	return a.games.GetGame(gameID)
}

// Send delivers a direct reply to one connection.
func (a *Arena) Send(connID uuid.UUID, msg models.Message) bool {
	return a.sessions.Send(connID, msg)
}

// Stats reports a point-in-time view of connections, queue, games and rooms.
func (a *Arena) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Stats{
		Connections:  a.sessions.Count(),
		Queued:       a.queue.Size(),
		ActiveGames:  a.games.ActiveCount(),
		IndexedGames: a.games.IndexedCount(),
		Rooms:        a.relay.RoomCount(),
	}
}

// Shutdown cancels every pending timer.
func (a *Arena) Shutdown() {
	a.games.Shutdown()
}
