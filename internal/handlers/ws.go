// internal/handlers/ws.go
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/jason-s-yu/staredown/internal/auth"
	"github.com/jason-s-yu/staredown/internal/middleware"
	"github.com/jason-s-yu/staredown/internal/models"
	"github.com/jason-s-yu/staredown/internal/session"
	"github.com/julienschmidt/httprouter"
	"github.com/sirupsen/logrus"
)

// serveWS identifies the player, upgrades the connection and runs its pumps
// until either side goes away.
func (s *Server) serveWS(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	remoteAddr := r.RemoteAddr

	// the cookie has to be set before the upgrade hijacks the response
	playerID, fresh, err := auth.EnsurePlayer(w, r)
	if err != nil {
		s.logger.Warnf("player identification failed for %s: %v", remoteAddr, err)
		http.Error(w, "failed to identify player", http.StatusInternalServerError)
		return
	}
	if s.players != nil {
		upsertCtx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		if _, err := s.players.UpsertPlayer(upsertCtx, playerID); err != nil {
			s.logger.WithField("player_id", playerID).Warnf("upsert player: %v", err)
		}
		cancel()
	}

	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.originPatterns(),
	})
	if err != nil {
		s.logger.Warnf("websocket accept error: %v", err)
		return
	}
	defer c.Close(websocket.StatusInternalError, "handler finished")
	c.SetReadLimit(s.opts.ReadLimit)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn := session.NewConnection(playerID, remoteAddr, cancel)
	if err := s.arena.Connect(conn); err != nil {
		s.logger.Warnf("register connection: %v", err)
		c.Close(RegistrationFailedError, "registration failed")
		return
	}
	middleware.LogWebSocketConnect(s.logger, remoteAddr, conn.ID.String(), playerID.String())
	if fresh {
		s.logger.WithField("player_id", playerID).Debug("issued new player identity")
	}

	go s.writePump(ctx, c, conn)
	readErr := s.readPump(ctx, c, conn)

	s.arena.Disconnect(conn.ID)
	cancel()
	middleware.LogWebSocketDisconnect(s.logger, remoteAddr, conn.ID.String(), readErr)
	c.Close(websocket.StatusNormalClosure, "")
}

// readPump decodes inbound frames and dispatches them until the socket closes.
// A normal close returns nil.
func (s *Server) readPump(ctx context.Context, c *websocket.Conn, conn *session.Connection) error {
	for {
		typ, data, err := c.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		if typ != websocket.MessageText {
			s.logger.WithField("conn_id", conn.ID).Debugf("ignoring non-text frame type %d", typ)
			continue
		}

		var msg models.ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.WithField("conn_id", conn.ID).Warnf("invalid json: %v", err)
			s.arena.Send(conn.ID, models.Error("invalid JSON format"))
			continue
		}
		s.dispatch(conn.ID, msg)
	}
}

// dispatch routes one inbound message to the arena. Stale or unknown game
// references are dropped quietly; only malformed requests get an error back.
func (s *Server) dispatch(connID uuid.UUID, msg models.ClientMessage) {
	logger := s.logger.WithFields(logrus.Fields{"conn_id": connID, "type": msg.Type})

	switch {
	case msg.Type == models.MsgJoinQueue:
		if err := s.arena.JoinQueue(connID, msg.PeerID); err != nil {
			logger.Debugf("join_queue: %v", err)
		}
	case msg.Type == models.MsgLeaveQueue:
		if err := s.arena.LeaveQueue(connID); err != nil {
			logger.Debugf("leave_queue: %v", err)
		}
	case msg.Type == models.MsgPing:
		s.arena.Send(connID, models.Pong())
	case msg.Type == models.MsgPlayerLaughed, msg.Type.IsSignal(), msg.Type.IsRematch():
		gameID, err := uuid.Parse(msg.GameID)
		if err != nil {
			s.arena.Send(connID, models.Error(string(msg.Type)+": invalid gameId"))
			return
		}
		switch {
		case msg.Type == models.MsgPlayerLaughed:
			err = s.arena.ReportLoss(connID, gameID)
		case msg.Type.IsSignal():
			err = s.arena.Signal(connID, msg.Type, gameID, msg.Payload)
		default:
			err = s.arena.Rematch(connID, msg.Type, gameID)
		}
		if err != nil {
			logger.WithField("game_id", gameID).Debugf("ignored: %v", err)
		}
	default:
		logger.Warn("unknown message type")
		s.arena.Send(connID, models.Error("unknown message type"))
	}
}

// writePump drains the connection's outbound channel onto the socket and
// keeps the connection alive with pings.
func (s *Server) writePump(ctx context.Context, c *websocket.Conn, conn *session.Connection) {
	ticker := time.NewTicker(s.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-conn.OutChan:
			if !ok {
				return
			}
			data, err := json.Marshal(msg)
			if err != nil {
				s.logger.WithField("conn_id", conn.ID).Warnf("failed to marshal outgoing msg: %v", err)
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err = c.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				s.logger.WithField("conn_id", conn.ID).Debugf("write failed: %v", err)
				conn.Cancel()
				return
			}
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := c.Ping(pingCtx)
			cancel()
			if err != nil {
				s.logger.WithField("conn_id", conn.ID).Debugf("ping failed: %v", err)
				conn.Cancel()
				return
			}
		}
	}
}
