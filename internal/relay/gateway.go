// Package relay implements the session gateway of the trip chat: it turns
// join, chatMessage, leave and disconnect events into registry and history
// updates and fans the resulting frames out to the sessions of a room.
package relay

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/fefudrive/tripchat/internal/chat"
	"github.com/fefudrive/tripchat/internal/metrics"
	"github.com/fefudrive/tripchat/internal/protocol"
	"github.com/fefudrive/tripchat/internal/room"
	"github.com/fefudrive/tripchat/internal/session"
	"github.com/fefudrive/tripchat/internal/trip"
)

// TimestampLayout formats message receipt times (RFC 3339, UTC, milliseconds).
const TimestampLayout = "2006-01-02T15:04:05.000Z"

var (
	ErrInactiveSession = errors.New("relay: session is not active")
	ErrMissingRoom     = errors.New("relay: missing room id")
	ErrMissingUser     = errors.New("relay: missing user id")
	ErrNotInRoom       = errors.New("relay: session is not in room")
)

// Sender delivers an encoded frame to one connection. Implementations must
// not block; a failed delivery affects only that recipient.
type Sender interface {
	Send(sessionID string, data []byte) error
}

// RoleResolver derives a user's role in a trip. It never fails; unknown or
// unresolvable users are guests.
type RoleResolver interface {
	ResolveRole(ctx context.Context, tripID, userID string) trip.Role
}

// JoinRequest is a decoded join event.
type JoinRequest struct {
	RoomID    string
	UserID    string
	FirstName string
	LastName  string
}

// MessageRequest is a decoded chatMessage event. Any client-supplied sender
// or timestamp has already been discarded.
type MessageRequest struct {
	RoomID string
	Text   string
}

// Config holds gateway tuning.
type Config struct {
	HistoryLimit    int           // messages kept per room
	HistoryIdleTTL  time.Duration // idle time before an unoccupied room's history is pruned
	JanitorInterval time.Duration // how often the janitor runs
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		HistoryLimit:    chat.DefaultHistoryLimit,
		HistoryIdleTTL:  24 * time.Hour,
		JanitorInterval: 5 * time.Minute,
	}
}

// Gateway owns the room registry and the message history. Every state change
// together with the frames it produces happens under one mutex, so each
// recipient observes events in commit order.
type Gateway struct {
	mu       sync.Mutex
	config   Config
	rooms    *room.Registry
	history  *chat.History
	sessions *session.Tracker
	roles    RoleResolver
	out      Sender

	now   func() time.Time
	newID func() string
}

// NewGateway creates a Gateway. sessions may be shared with the transport
// for inspection but is mutated only by the gateway.
func NewGateway(config Config, roles RoleResolver, out Sender, sessions *session.Tracker) *Gateway {
	if sessions == nil {
		sessions = session.NewTracker(nil)
	}
	return &Gateway{
		config:   config,
		rooms:    room.NewRegistry(),
		history:  chat.NewHistory(config.HistoryLimit),
		sessions: sessions,
		roles:    roles,
		out:      out,
		now:      time.Now,
		newID:    func() string { return uuid.New().String() },
	}
}

// Connect registers a freshly upgraded connection. principalID is the
// authenticated user id, or empty for anonymous connections.
func (g *Gateway) Connect(sessionID, principalID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.sessions.Connect(sessionID, principalID) {
		log.Warn().Str("module", "relay").Str("session", sessionID).Msg("duplicate connect ignored")
		return
	}
	log.Debug().Str("module", "relay").Str("session", sessionID).Str("user", principalID).Msg("session connected")
}

// Join adds the session to a room. The joiner receives the room's history
// snapshot, then every session in the room receives the updated roster.
func (g *Gateway) Join(ctx context.Context, sessionID string, req JoinRequest) error {
	if req.RoomID == "" {
		return ErrMissingRoom
	}
	if principal := g.sessions.UserID(sessionID); principal != "" {
		req.UserID = principal
	}
	if req.UserID == "" {
		return ErrMissingUser
	}
	if !g.sessions.Active(sessionID) {
		return ErrInactiveSession
	}

	// No gateway lock is held while the role lookup is in flight.
	role := g.roles.ResolveRole(ctx, req.RoomID, req.UserID)

	g.mu.Lock()
	defer g.mu.Unlock()

	// The session may have disconnected during resolution.
	if !g.sessions.EnterRoom(sessionID, req.RoomID) {
		return ErrInactiveSession
	}

	g.rooms.Join(req.RoomID, room.Session{
		ID:        sessionID,
		UserID:    req.UserID,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Role:      role,
	})
	metrics.ActiveRooms.Set(float64(g.rooms.RoomCount()))

	history := g.history.Snapshot(req.RoomID)
	messages := make([]protocol.ChatMessage, len(history))
	for i, m := range history {
		messages[i] = toWire(m)
	}
	g.deliver(sessionID, protocol.TypeChatHistory, protocol.ChatHistoryMsg{
		RoomID:   protocol.ID(req.RoomID),
		Messages: messages,
	})
	g.broadcastRoster(req.RoomID)

	log.Debug().Str("module", "relay").Str("session", sessionID).Str("room", req.RoomID).
		Str("user", req.UserID).Str("role", string(role)).Int("history", len(history)).Msg("joined room")
	return nil
}

// Message appends a chat message to the room's history and broadcasts it to
// every session in the room, the sender included. The sender identity and
// timestamp are assigned by the server.
func (g *Gateway) Message(sessionID string, req MessageRequest) error {
	start := time.Now()

	if req.RoomID == "" {
		return ErrMissingRoom
	}
	if err := chat.ValidateMessage(req.Text); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	sender, ok := g.rooms.Get(req.RoomID, sessionID)
	if !ok {
		return ErrNotInRoom
	}

	msg := chat.Message{
		ID:         g.newID(),
		RoomID:     req.RoomID,
		SenderID:   sender.UserID,
		SenderName: sender.DisplayName(),
		Text:       req.Text,
		SentAt:     g.now().UTC(),
	}
	g.history.Append(req.RoomID, msg)
	g.broadcast(req.RoomID, protocol.TypeChatMessage, toWire(msg))

	metrics.MessagesTotal.WithLabelValues("received").Inc()
	metrics.MessageLatency.Observe(time.Since(start).Seconds())
	log.Debug().Str("module", "relay").Str("session", sessionID).Str("room", req.RoomID).
		Int("text_len", len(req.Text)).Msg("message relayed")
	return nil
}

// Leave removes the session from a room and broadcasts the roster to the
// remaining sessions. It reports false, without broadcasting, when the
// session was not in the room.
func (g *Gateway) Leave(sessionID, roomID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.rooms.Leave(roomID, sessionID) {
		return false
	}
	g.sessions.ExitRoom(sessionID, roomID)
	metrics.ActiveRooms.Set(float64(g.rooms.RoomCount()))
	g.broadcastRoster(roomID)

	log.Debug().Str("module", "relay").Str("session", sessionID).Str("room", roomID).Msg("left room")
	return true
}

// Disconnect moves the session to its terminal state, removes it from every
// room and sends one roster update to each affected room. Events arriving
// for the session afterwards are ignored.
func (g *Gateway) Disconnect(sessionID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.sessions.Disconnect(sessionID) {
		return
	}

	affected := g.rooms.RemoveSessionFromAllRooms(sessionID)
	metrics.ActiveRooms.Set(float64(g.rooms.RoomCount()))
	for _, roomID := range affected {
		g.broadcastRoster(roomID)
	}

	log.Debug().Str("module", "relay").Str("session", sessionID).Strs("rooms", affected).Msg("session disconnected")
}

// Roster returns the room's sessions in join order.
func (g *Gateway) Roster(roomID string) []room.Session {
	return g.rooms.List(roomID)
}

// History returns the room's retained messages in arrival order.
func (g *Gateway) History(roomID string) []chat.Message {
	return g.history.Snapshot(roomID)
}

// RoomCount returns the number of occupied rooms.
func (g *Gateway) RoomCount() int {
	return g.rooms.RoomCount()
}

// RoomStats returns the number of occupied rooms and the number of rooms
// holding history, which includes rooms that emptied but are not yet pruned.
func (g *Gateway) RoomStats() (rooms, histories int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rooms.RoomCount(), g.history.Rooms()
}

// broadcastRoster sends the room's current roster to all of its sessions.
// Must be called with g.mu held.
func (g *Gateway) broadcastRoster(roomID string) {
	sessions := g.rooms.List(roomID)
	users := make([]protocol.RosterEntry, len(sessions))
	for i, s := range sessions {
		users[i] = protocol.RosterEntry{
			SocketID:  s.ID,
			ID:        protocol.ID(s.UserID),
			FirstName: s.FirstName,
			LastName:  s.LastName,
			Role:      string(s.Role),
		}
	}
	g.broadcastTo(sessions, protocol.TypeRoomUsers, protocol.RoomUsersMsg{
		RoomID: protocol.ID(roomID),
		Users:  users,
	})
}

// broadcast sends payload to every session in the room. Must be called with
// g.mu held.
func (g *Gateway) broadcast(roomID, msgType string, payload interface{}) {
	g.broadcastTo(g.rooms.List(roomID), msgType, payload)
}

func (g *Gateway) broadcastTo(sessions []room.Session, msgType string, payload interface{}) {
	if len(sessions) == 0 {
		return
	}
	data, err := protocol.NewServerMessage(msgType, payload)
	if err != nil {
		log.Error().Str("module", "relay").Str("type", msgType).Err(err).Msg("encode broadcast failed")
		return
	}
	for _, s := range sessions {
		g.send(s.ID, msgType, data)
	}
}

func (g *Gateway) deliver(sessionID, msgType string, payload interface{}) {
	data, err := protocol.NewServerMessage(msgType, payload)
	if err != nil {
		log.Error().Str("module", "relay").Str("type", msgType).Err(err).Msg("encode frame failed")
		return
	}
	g.send(sessionID, msgType, data)
}

func (g *Gateway) send(sessionID, msgType string, data []byte) {
	if err := g.out.Send(sessionID, data); err != nil {
		log.Warn().Str("module", "relay").Str("session", sessionID).Str("type", msgType).
			Err(err).Msg("delivery dropped")
		return
	}
	if msgType == protocol.TypeChatMessage {
		metrics.MessagesTotal.WithLabelValues("delivered").Inc()
	}
}

func toWire(m chat.Message) protocol.ChatMessage {
	return protocol.ChatMessage{
		ID:     m.ID,
		RoomID: protocol.ID(m.RoomID),
		Text:   m.Text,
		Sender: protocol.Sender{
			ID:   protocol.ID(m.SenderID),
			Name: m.SenderName,
		},
		Timestamp: m.SentAt.UTC().Format(TimestampLayout),
	}
}
