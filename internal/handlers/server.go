// internal/handlers/server.go
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/staredown/internal/arena"
	"github.com/jason-s-yu/staredown/internal/middleware"
	"github.com/jason-s-yu/staredown/internal/models"
	"github.com/julienschmidt/httprouter"
	"github.com/sirupsen/logrus"
)

// PlayerStore records anonymous players as they connect.
type PlayerStore interface {
	UpsertPlayer(ctx context.Context, id uuid.UUID) (models.PlayerRecord, error)
}

// GameLookup serves durable game records once they have left the fast index.
type GameLookup interface {
	GetGame(ctx context.Context, id uuid.UUID) (models.GameRecord, error)
}

// Options configures the transport boundary.
type Options struct {
	AllowedOrigin string        // browser origin allowed to open the socket; "" or "*" allows any
	PingInterval  time.Duration // websocket keepalive period
	ReadLimit     int64         // largest inbound frame, in bytes
}

// Server is the HTTP and websocket front of the arena.
type Server struct {
	arena   *arena.Arena
	players PlayerStore // optional
	games   GameLookup  // optional
	opts    Options
	logger  *logrus.Logger
}

func NewServer(a *arena.Arena, players PlayerStore, games GameLookup, logger *logrus.Logger, opts Options) *Server {
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = 64 << 10
	}
	return &Server{
		arena:   a,
		players: players,
		games:   games,
		opts:    opts,
		logger:  logger,
	}
}

// Routes registers every endpoint on a fresh router.
func (s *Server) Routes() *httprouter.Router {
	mux := httprouter.New()
	mux.PanicHandler = func(w http.ResponseWriter, r *http.Request, i any) {
		s.logger.WithField("path", r.URL.Path).Errorf("handler panic: %v", i)
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}

	mux.GET("/ws", s.serveWS)
	mux.GET("/games/:id", s.serveGame)
	mux.GET("/stats", s.serveStats)
	mux.GET("/healthz", s.serveHealth)
	return mux
}

// Handler is Routes wrapped in request logging and CORS.
func (s *Server) Handler() http.Handler {
	return middleware.LogMiddleware(s.logger)(middleware.CORS(s.opts.AllowedOrigin)(s.Routes()))
}

// originPatterns turns the configured origin into the host pattern the
// websocket handshake checks against.
func (s *Server) originPatterns() []string {
	o := s.opts.AllowedOrigin
	if o == "" || o == "*" {
		return []string{"*"}
	}
	if u, err := url.Parse(o); err == nil && u.Host != "" {
		return []string{u.Host}
	}
	return []string{o}
}

func (s *Server) serveGame(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	id, err := uuid.Parse(p.ByName("id"))
	if err != nil {
		http.Error(w, "invalid game id", http.StatusBadRequest)
		return
	}

	if g, ok := s.arena.Game(id); ok {
		writeJSON(w, http.StatusOK, g.Record())
		return
	}
	if s.games == nil {
		http.Error(w, "game not found", http.StatusNotFound)
		return
	}

	rec, err := s.games.GetGame(r.Context(), id)
	if err != nil {
		if isNotFound(err) {
			http.Error(w, "game not found", http.StatusNotFound)
			return
		}
		s.logger.WithField("game_id", id).Errorf("load game: %v", err)
		http.Error(w, "failed to load game", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) serveStats(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, s.arena.Stats())
}

func (s *Server) serveHealth(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
