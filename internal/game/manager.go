// internal/game/manager.go
package game

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/staredown/internal/models"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultGracePeriod is how long a finished game stays in the fast index so
	// late result queries can still find it.
	DefaultGracePeriod = 30 * time.Second
	// DefaultStartDelay separates match_found from game_start, giving the peers
	// time to begin negotiating.
	DefaultStartDelay = time.Second
)

// Recorder receives every state change of a game for durable storage. Calls
// must not block on I/O; implementations queue and retry on their own.
type Recorder interface {
	RecordGame(rec models.GameRecord)
}

// RecorderFunc adapts a plain function to Recorder.
type RecorderFunc func(rec models.GameRecord)

func (f RecorderFunc) RecordGame(rec models.GameRecord) { f(rec) }

// Outcome is the resolved result of a finished game, addressed by connection
// so the caller can notify both sides.
type Outcome struct {
	GameID       uuid.UUID
	WinnerID     uuid.UUID
	LoserID      uuid.UUID
	WinnerConnID uuid.UUID
	LoserConnID  uuid.UUID
}

// Options tunes a Manager. Zero values select the defaults.
type Options struct {
	GracePeriod time.Duration
	StartDelay  time.Duration
	Now         func() time.Time
}

// Manager owns the authoritative state of every active game and is the only
// component allowed to move a game between states.
type Manager struct {
	mu         sync.Mutex // serializes transitions on indexed games
	store      *Store
	sched      *Scheduler
	recorder   Recorder
	grace      time.Duration
	startDelay time.Duration
	now        func() time.Time
	log        *logrus.Entry
}

// NewManager builds a Manager that persists through rec. A nil rec discards records.
func NewManager(rec Recorder, logger *logrus.Logger, opts Options) *Manager {
	if rec == nil {
		rec = RecorderFunc(func(models.GameRecord) {})
	}
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = DefaultGracePeriod
	}
	if opts.StartDelay <= 0 {
		opts.StartDelay = DefaultStartDelay
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Manager{
		store:      NewStore(),
		sched:      NewScheduler(),
		recorder:   rec,
		grace:      opts.GracePeriod,
		startDelay: opts.StartDelay,
		now:        opts.Now,
		log:        logger.WithField("component", "game"),
	}
}

// Scheduler exposes the deferred task queue so callers can flush it in tests.
func (m *Manager) Scheduler() *Scheduler { return m.sched }

// GracePeriod returns the post-result eviction delay.
func (m *Manager) GracePeriod() time.Duration { return m.grace }

// CreateGame allocates a new game in the PLAYING state, indexes it and records
// the initial row.
func (m *Manager) CreateGame(player1ID, player2ID uuid.UUID) (models.Game, error) {
	if player1ID == player2ID {
		return models.Game{}, ErrSamePlayer
	}
	id, err := uuid.NewRandom()
	if err != nil {
		return models.Game{}, err
	}
	g := &models.Game{
		ID:        id,
		Player1ID: player1ID,
		Player2ID: player2ID,
		Status:    models.StatusPlaying,
		StartedAt: m.now(),
	}

	m.mu.Lock()
	m.store.AddGame(g)
	snap := *g
	m.mu.Unlock()

	m.recorder.RecordGame(snap.Record())
	m.log.WithFields(logrus.Fields{
		"game_id": id,
		"player1": player1ID,
		"player2": player2ID,
	}).Info("game created")
	return snap, nil
}

// BindConnection attaches a live connection to one side of a game.
func (m *Manager) BindConnection(gameID, playerID, connID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	g, ok := m.store.GetGame(gameID)
	if !ok {
		return ErrNotFound
	}
	switch playerID {
	case g.Player1ID:
		g.Player1ConnID = connID
	case g.Player2ID:
		g.Player2ConnID = connID
	default:
		return ErrNotParticipant
	}
	return nil
}

// GetGame returns a copy of the indexed game.
func (m *Manager) GetGame(gameID uuid.UUID) (models.Game, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.store.GetGame(gameID)
	if !ok {
		return models.Game{}, false
	}
	return *g, true
}

// Opponent returns the connection bound to the other side of gameID.
func (m *Manager) Opponent(gameID, connID uuid.UUID) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.store.GetGame(gameID)
	if !ok {
		return uuid.Nil, ErrNotFound
	}
	switch {
	case connID == uuid.Nil:
		return uuid.Nil, ErrNotParticipant
	case g.Player1ConnID == connID && g.Player2ConnID != connID:
		return g.Player2ConnID, nil
	case g.Player2ConnID == connID && g.Player1ConnID != connID:
		return g.Player1ConnID, nil
	}
	return uuid.Nil, ErrNotParticipant
}

// ReportLoss resolves the game in favour of the player whose connection did
// not report the loss. A second report, or a report on a cancelled game, is
// rejected with ErrInvalidTransition and changes nothing.
func (m *Manager) ReportLoss(gameID, losingConnID uuid.UUID) (Outcome, error) {
	m.mu.Lock()
	g, ok := m.store.GetGame(gameID)
	if !ok {
		m.mu.Unlock()
		return Outcome{}, ErrNotFound
	}
	if g.Status.Terminal() {
		m.mu.Unlock()
		return Outcome{}, ErrInvalidTransition
	}

	c1, c2 := g.Player1ConnID, g.Player2ConnID
	if c1 == uuid.Nil || c2 == uuid.Nil || c1 == c2 {
		m.mu.Unlock()
		return Outcome{}, ErrAmbiguousOutcome
	}

	out := Outcome{GameID: g.ID}
	switch losingConnID {
	case c1:
		out.WinnerID, out.WinnerConnID = g.Player2ID, c2
		out.LoserID, out.LoserConnID = g.Player1ID, c1
	case c2:
		out.WinnerID, out.WinnerConnID = g.Player1ID, c1
		out.LoserID, out.LoserConnID = g.Player2ID, c2
	default:
		m.mu.Unlock()
		return Outcome{}, ErrNotParticipant
	}

	ended := m.now()
	winner := out.WinnerID
	g.Status = models.StatusFinished
	g.WinnerID = &winner
	g.EndedAt = &ended
	rec := g.Record()
	m.mu.Unlock()

	m.recorder.RecordGame(rec)
	m.sched.After(expireKey(gameID), m.grace, func() {
		if err := m.Expire(gameID); err != nil {
			m.log.WithField("game_id", gameID).Debugf("grace expiry skipped: %v", err)
		}
	})

	m.log.WithFields(logrus.Fields{
		"game_id": gameID,
		"winner":  out.WinnerID,
		"loser":   out.LoserID,
	}).Info("game finished")
	return out, nil
}

// CancelGame ends a game with no winner and drops it from the index at once,
// since there is no result to query.
func (m *Manager) CancelGame(gameID uuid.UUID) (models.Game, error) {
	m.mu.Lock()
	g, ok := m.store.GetGame(gameID)
	if !ok {
		m.mu.Unlock()
		return models.Game{}, ErrNotFound
	}
	if g.Status.Terminal() {
		m.mu.Unlock()
		return models.Game{}, ErrInvalidTransition
	}
	ended := m.now()
	g.Status = models.StatusCancelled
	g.EndedAt = &ended
	snap := *g
	m.store.DeleteGame(gameID)
	m.mu.Unlock()

	m.recorder.RecordGame(snap.Record())
	m.log.WithField("game_id", gameID).Info("game cancelled")
	return snap, nil
}

// Expire evicts a terminal game from the fast index. The durable record is
// not touched. Live games are never evicted.
func (m *Manager) Expire(gameID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.store.GetGame(gameID)
	if !ok {
		return ErrNotFound
	}
	if !g.Status.Terminal() {
		return ErrInvalidTransition
	}
	m.store.DeleteGame(gameID)
	m.sched.Cancel(expireKey(gameID))
	m.log.WithField("game_id", gameID).Debug("game evicted from index")
	return nil
}

// ScheduleStart runs fn after the start delay. The timer is independent of
// later game events and only shutdown cancels it.
func (m *Manager) ScheduleStart(gameID uuid.UUID, fn func()) {
	m.sched.After(startKey(gameID), m.startDelay, fn)
}

// ActiveCount returns the number of games still being played.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.store.CountByStatus(models.StatusPlaying)
}

// IndexedCount returns the number of games in the fast index, including
// finished games inside their grace window.
func (m *Manager) IndexedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.store.Len()
}

// Shutdown cancels every pending deferred task.
func (m *Manager) Shutdown() {
	m.sched.Stop()
}

func expireKey(id uuid.UUID) string { return "expire:" + id.String() }
func startKey(id uuid.UUID) string  { return "start:" + id.String() }
