// internal/models/message.go
package models

import (
	"encoding/json"

	"github.com/google/uuid"
)

// MessageType names an event on the client websocket, in either direction.
type MessageType string

const (
	// inbound
	MsgJoinQueue     MessageType = "join_queue"
	MsgLeaveQueue    MessageType = "leave_queue"
	MsgPlayerLaughed MessageType = "player_laughed"
	MsgPing          MessageType = "ping"

	// signaling, both directions
	MsgOffer        MessageType = "offer"
	MsgAnswer       MessageType = "answer"
	MsgIceCandidate MessageType = "ice_candidate"

	// rematch, both directions
	MsgRematchRequest  MessageType = "rematch_request"
	MsgRematchAccepted MessageType = "rematch_accepted"
	MsgRematchDeclined MessageType = "rematch_declined"

	// outbound
	MsgConnected    MessageType = "connected"
	MsgQueueStatus  MessageType = "queue_status"
	MsgMatchFound   MessageType = "match_found"
	MsgGameStart    MessageType = "game_start"
	MsgGameEnd      MessageType = "game_end"
	MsgOpponentLeft MessageType = "opponent_left"
	MsgError        MessageType = "error"
	MsgPong         MessageType = "pong"
)

// IsSignal reports whether t is one of the opaque negotiation kinds.
func (t MessageType) IsSignal() bool {
	return t == MsgOffer || t == MsgAnswer || t == MsgIceCandidate
}

// IsRematch reports whether t is one of the rematch handshake kinds.
func (t MessageType) IsRematch() bool {
	return t == MsgRematchRequest || t == MsgRematchAccepted || t == MsgRematchDeclined
}

// ClientMessage is the decoded form of an inbound websocket frame.
type ClientMessage struct {
	Type    MessageType     `json:"type"`
	GameID  string          `json:"gameId,omitempty"`
	PeerID  string          `json:"peerId,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Message is an outbound event addressed to a single connection.
type Message struct {
	Type MessageType `json:"type"`

	ConnectionID string `json:"connectionId,omitempty"`
	PlayerID     string `json:"playerId,omitempty"`
	GameID       string `json:"gameId,omitempty"`

	InQueue   *bool `json:"inQueue,omitempty"`
	QueueSize *int  `json:"queueSize,omitempty"`

	OpponentID  string `json:"opponentId,omitempty"`
	IsInitiator *bool  `json:"isInitiator,omitempty"`

	Result   string `json:"result,omitempty"` // "win" or "lose"
	WinnerID string `json:"winnerId,omitempty"`

	From    string          `json:"from,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`

	Message string `json:"message,omitempty"`
}

func Connected(connID, playerID uuid.UUID) Message {
	return Message{Type: MsgConnected, ConnectionID: connID.String(), PlayerID: playerID.String()}
}

func QueueStatus(inQueue bool, size int) Message {
	return Message{Type: MsgQueueStatus, InQueue: &inQueue, QueueSize: &size}
}

func MatchFound(gameID uuid.UUID, opponentHint string, initiator bool) Message {
	return Message{Type: MsgMatchFound, GameID: gameID.String(), OpponentID: opponentHint, IsInitiator: &initiator}
}

func GameStart(gameID uuid.UUID) Message {
	return Message{Type: MsgGameStart, GameID: gameID.String()}
}

// GameEnd builds the result notification; result is "win" or "lose".
func GameEnd(gameID uuid.UUID, result string, winnerID uuid.UUID) Message {
	return Message{Type: MsgGameEnd, GameID: gameID.String(), Result: result, WinnerID: winnerID.String()}
}

func OpponentLeft() Message {
	return Message{Type: MsgOpponentLeft}
}

// Signal wraps a forwarded negotiation payload; the payload is never inspected.
func Signal(kind MessageType, payload json.RawMessage, from uuid.UUID) Message {
	return Message{Type: kind, Payload: payload, From: from.String()}
}

func Rematch(kind MessageType, gameID, from uuid.UUID) Message {
	return Message{Type: kind, GameID: gameID.String(), From: from.String()}
}

func Error(msg string) Message {
	return Message{Type: MsgError, Message: msg}
}

func Pong() Message {
	return Message{Type: MsgPong}
}
