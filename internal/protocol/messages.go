// Package protocol defines the WebSocket message types and structures used for
// communication between trip chat clients and the relay. All messages are
// serialized as JSON and follow a consistent envelope format with a type
// discriminator.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// ---------------------------------------------------------------------------
// Message type constants
// ---------------------------------------------------------------------------

// Client -> Server message types.
const (
	TypeJoin  = "join"
	TypeLeave = "leave"
	TypePing  = "ping"

	// Legacy event names still emitted by older web clients.
	TypeJoinRoom  = "joinRoom"
	TypeLeaveRoom = "leaveRoom"
)

// Server -> Client message types.
const (
	TypeConnected   = "connected"
	TypeChatHistory = "chatHistory"
	TypeRoomUsers   = "roomUsers"
	TypePong        = "pong"
)

// TypeChatMessage travels in both directions: clients send it to post a
// message and the server broadcasts the stored message under the same name.
const TypeChatMessage = "chatMessage"

// ---------------------------------------------------------------------------
// Identifiers
// ---------------------------------------------------------------------------

// ID is an external identifier (trip or user id). The CRUD layer issues
// integer ids but clients may send them as JSON strings, so both forms are
// accepted. Ids holding a canonical decimal integer are written back as JSON
// numbers; anything else is written as a string.
type ID string

// UnmarshalJSON accepts a JSON string, number or null.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("protocol: invalid id: %w", err)
		}
		*id = ID(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("protocol: id must be a string or number: %w", err)
	}
	*id = normalizeNumber(n)
	return nil
}

// normalizeNumber renders integral numbers in their canonical decimal form,
// so 42, 42.0 and 4.2e1 name the same room.
func normalizeNumber(n json.Number) ID {
	if i, err := n.Int64(); err == nil {
		return ID(strconv.FormatInt(i, 10))
	}
	if f, err := n.Float64(); err == nil && f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return ID(strconv.FormatInt(int64(f), 10))
	}
	return ID(n.String())
}

// MarshalJSON implements json.Marshaler.
func (id ID) MarshalJSON() ([]byte, error) {
	if n, err := strconv.ParseInt(string(id), 10, 64); err == nil && strconv.FormatInt(n, 10) == string(id) {
		return []byte(string(id)), nil
	}
	return json.Marshal(string(id))
}

// String returns the id as plain text.
func (id ID) String() string { return string(id) }

// ---------------------------------------------------------------------------
// Envelope parsing
// ---------------------------------------------------------------------------

// Envelope holds the message type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON captures the full raw bytes and extracts only the "type"
// field so that the rest of the payload can be decoded later into the
// appropriate concrete struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

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
// Client -> Server message structs
// ---------------------------------------------------------------------------

// UserInfo is the identity a client presents when joining a room.
type UserInfo struct {
	ID        ID     `json:"id"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// JoinMsg asks the server to add the connection to a trip room.
type JoinMsg struct {
	Type   string    `json:"type"`
	RoomID ID        `json:"roomId"`
	User   *UserInfo `json:"user"`
}

// Sender identifies the author of a chat message.
type Sender struct {
	ID   ID     `json:"id"`
	Name string `json:"name"`
}

// ChatMsg is a text message posted by the client. Sender and Timestamp are
// accepted for compatibility but the server replaces both.
type ChatMsg struct {
	Type      string  `json:"type"`
	RoomID    ID      `json:"roomId"`
	Text      string  `json:"text"`
	Sender    *Sender `json:"sender,omitempty"`
	Timestamp string  `json:"timestamp,omitempty"`
}

// LeaveMsg removes the connection from a trip room.
type LeaveMsg struct {
	Type   string `json:"type"`
	RoomID ID     `json:"roomId"`
}

// PingMsg is a client-initiated keepalive ping.
type PingMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Server -> Client message structs
// ---------------------------------------------------------------------------

// ConnectedMsg is sent once after the upgrade and tells the client its
// socket id, which is how it appears in roster updates.
type ConnectedMsg struct {
	Type     string `json:"type"`
	SocketID string `json:"socketId"`
}

// ChatMessage is a stored chat message as relayed to clients.
type ChatMessage struct {
	Type      string `json:"type,omitempty"`
	ID        string `json:"id"`
	RoomID    ID     `json:"roomId"`
	Text      string `json:"text"`
	Sender    Sender `json:"sender"`
	Timestamp string `json:"timestamp"`
}

// ChatHistoryMsg replays a room's stored messages to a client that just
// joined.
type ChatHistoryMsg struct {
	Type     string        `json:"type"`
	RoomID   ID            `json:"roomId"`
	Messages []ChatMessage `json:"messages"`
}

// RosterEntry describes one connected session in a room.
type RosterEntry struct {
	SocketID  string `json:"socketId"`
	ID        ID     `json:"id"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Role      string `json:"role"`
}

// RoomUsersMsg carries the full roster of a room after a membership change.
type RoomUsersMsg struct {
	Type   string        `json:"type"`
	RoomID ID            `json:"roomId"`
	Users  []RosterEntry `json:"users"`
}

// PongMsg is the server's response to a client ping.
type PongMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientMessage parses raw WebSocket bytes into a typed client message.
// It returns the canonical message type, the decoded struct, and any error
// encountered during parsing. Legacy aliases are mapped to their canonical
// type. An error is returned for unknown or server-only message types.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg     interface{}
		err     error
		msgType = env.Type
	)

	switch env.Type {
	case TypeJoin, TypeJoinRoom:
		var m JoinMsg
		err = json.Unmarshal(env.Raw, &m)
		m.Type = TypeJoin
		msg, msgType = m, TypeJoin
	case TypeChatMessage:
		var m ChatMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeLeave, TypeLeaveRoom:
		var m LeaveMsg
		err = json.Unmarshal(env.Raw, &m)
		m.Type = TypeLeave
		msg, msgType = m, TypeLeave
	case TypePing:
		var m PingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client message type: %q", env.Type)
	}

	if err != nil {
		return msgType, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return msgType, msg, nil
}

// NewServerMessage creates a JSON-encoded byte slice for a server message.
// The payload should be one of the server message structs; this function
// marshals it, injects msgType under the "type" key and returns the final
// bytes. Numbers are preserved verbatim.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}
	if m == nil {
		m = make(map[string]interface{}, 1)
	}

	m["type"] = msgType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server message: %w", err)
	}
	return out, nil
}
