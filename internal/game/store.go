// internal/game/store.go
package game

import (
	"sync"

	"github.com/google/uuid"
	"github.com/jason-s-yu/staredown/internal/models"
)

// Store is the fast-lookup index of live and recently finished games. The
// map is guarded by mu; the games themselves are mutated by Manager under
// its own lock, so reads of game fields must hold that lock too.
type Store struct {
	mu    sync.Mutex
	games map[uuid.UUID]*models.Game
}

func NewStore() *Store {
	return &Store{
		games: make(map[uuid.UUID]*models.Game),
	}
}

func (s *Store) AddGame(g *models.Game) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.games[g.ID] = g
}

func (s *Store) GetGame(id uuid.UUID) (*models.Game, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, exists := s.games[id]
	return g, exists
}

func (s *Store) DeleteGame(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.games, id)
}

// Len returns the number of indexed games, terminal ones included.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.games)
}

// CountByStatus returns how many indexed games are in status st.
func (s *Store) CountByStatus(st models.GameStatus) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, g := range s.games {
		if g.Status == st {
			n++
		}
	}
	return n
}
