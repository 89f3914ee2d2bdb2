// Package protocol defines the WebSocket message types and structures used for
// communication between game clients and the server. All messages are
// serialized as JSON and follow a consistent envelope format with a type
// discriminator. Field names match the legacy socket.io wire format so
// existing clients keep working.
package protocol

import (
	"encoding/json"
	"fmt"
)

// ---------------------------------------------------------------------------
// Message type constants
// ---------------------------------------------------------------------------

// Client -> Server message types.
const (
	TypeCreateGame = "createGame"
	TypeJoinGame   = "joinGame"
	TypeStartGame  = "startGame"
	TypeGameAction = "gameAction"
	TypePing       = "ping"
)

// Server -> Client message types.
const (
	TypeConnected    = "connected"
	TypeGameCreated  = "gameCreated"
	TypeGameJoined   = "gameJoined"
	TypePlayerJoined = "playerJoined"
	TypeGameStarted  = "gameStarted"
	TypePlayerLeft   = "playerLeft"
	TypeError        = "error"
	TypePong         = "pong"
	// TypeGameAction is reused for relayed actions (server -> client).
)

// Error codes carried in failure responses.
const (
	ErrCodeNotFound     = "not_found"
	ErrCodeInvalidState = "invalid_state"
	ErrCodeUnauthorized = "unauthorized"
	ErrCodeRateLimited  = "rate_limited"
	ErrCodeInternal     = "internal_error"
)

// ---------------------------------------------------------------------------
// Envelope: used for initial JSON parsing to extract the type discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the message type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON implements the json.Unmarshaler interface. It captures the
// full raw bytes and extracts only the "type" field so that the rest of the
// payload can be decoded later into the appropriate concrete struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	// Capture the full raw message for deferred parsing.
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	// Extract only the type field.
	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Shared payload structs
// ---------------------------------------------------------------------------

// PlayerInfo is the client-facing view of one game participant.
type PlayerInfo struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	IsHost bool   `json:"isHost"`
}

// GameInfo is the client-facing view of a full game, sent with gameStarted.
type GameInfo struct {
	GameCode  string       `json:"gameCode"`
	Status    string       `json:"status"`
	Players   []PlayerInfo `json:"players"`
	CreatedAt string       `json:"createdAt"`
	StartedAt string       `json:"startedAt,omitempty"`
}

// ---------------------------------------------------------------------------
// Client -> Server message structs
// ---------------------------------------------------------------------------

// CreateGameMsg is sent by a client to create a new game as its host.
type CreateGameMsg struct {
	Type      string `json:"type"`
	HostName  string `json:"hostName"`
	RequestID string `json:"requestId"`
}

// JoinGameMsg is sent by a client to join an existing game by code.
type JoinGameMsg struct {
	Type       string `json:"type"`
	GameCode   string `json:"gameCode"`
	PlayerName string `json:"playerName"`
	RequestID  string `json:"requestId"`
}

// StartGameMsg is sent by the host to launch a game.
type StartGameMsg struct {
	Type      string `json:"type"`
	GameCode  string `json:"gameCode"`
	RequestID string `json:"requestId"`
}

// GameActionMsg carries an arbitrary in-game action to relay to the room.
// The Data payload is opaque to the server and forwarded verbatim.
type GameActionMsg struct {
	Type      string          `json:"type"`
	GameCode  string          `json:"gameCode"`
	PlayerID  string          `json:"playerId"`
	Action    string          `json:"action"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// PingMsg is a client-initiated keepalive ping.
type PingMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Server -> Client message structs
// ---------------------------------------------------------------------------

// ConnectedMsg is sent by the server when a new connection is established.
type ConnectedMsg struct {
	Type         string `json:"type"`
	ConnectionID string `json:"connectionId"`
}

// GameCreatedMsg is the response to createGame.
type GameCreatedMsg struct {
	Type      string `json:"type"`
	Success   bool   `json:"success"`
	GameCode  string `json:"gameCode,omitempty"`
	PlayerID  string `json:"playerId,omitempty"`
	Error     string `json:"error,omitempty"`
	RequestID string `json:"requestId"`
}

// GameJoinedMsg is the response to joinGame, sent only to the joiner.
type GameJoinedMsg struct {
	Type      string       `json:"type"`
	Success   bool         `json:"success"`
	GameCode  string       `json:"gameCode,omitempty"`
	PlayerID  string       `json:"playerId,omitempty"`
	Players   []PlayerInfo `json:"players,omitempty"`
	Error     string       `json:"error,omitempty"`
	RequestID string       `json:"requestId"`
}

// PlayerJoinedMsg is broadcast to the room when a player joins.
type PlayerJoinedMsg struct {
	Type      string       `json:"type"`
	Success   bool         `json:"success"`
	GameCode  string       `json:"gameCode"`
	Player    PlayerInfo   `json:"player"`
	Players   []PlayerInfo `json:"players"`
	RequestID string       `json:"requestId"`
}

// GameStartedMsg is broadcast to the room when the host starts the game.
// On failure it is sent only to the requester with Success=false.
type GameStartedMsg struct {
	Type      string    `json:"type"`
	Success   bool      `json:"success"`
	GameCode  string    `json:"gameCode,omitempty"`
	Game      *GameInfo `json:"game,omitempty"`
	Error     string    `json:"error,omitempty"`
	RequestID string    `json:"requestId"`
}

// RelayedActionMsg is the server->client form of a relayed game action.
type RelayedActionMsg struct {
	Type      string          `json:"type"`
	PlayerID  string          `json:"playerId"`
	Action    string          `json:"action"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// PlayerLeftMsg is broadcast to the remaining room members on disconnect.
type PlayerLeftMsg struct {
	Type     string       `json:"type"`
	PlayerID string       `json:"playerId"`
	Players  []PlayerInfo `json:"players"`
}

// ErrorMsg is sent by the server to communicate a protocol-level error.
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PongMsg is the server's response to a client ping.
type PongMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientMessage parses raw WebSocket bytes into a typed client message.
// It returns the message type string, the decoded struct, and any error
// encountered during parsing. An error is returned for unknown or
// server-only message types.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeCreateGame:
		var m CreateGameMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeJoinGame:
		var m JoinGameMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeStartGame:
		var m StartGameMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeGameAction:
		var m GameActionMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePing:
		var m PingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client message type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// NewServerMessage creates a JSON-encoded byte slice for a server message.
// The msgType is injected into the payload under the "type" key. The payload
// should be one of the server message structs; this function marshals it to
// JSON, injects the type field, and returns the final bytes.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	// Marshal the payload struct to a generic map so we can ensure the "type"
	// field is present and correct.
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["type"] = msgType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server message: %w", err)
	}
	return out, nil
}
