package relay

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/fefudrive/tripchat/internal/chat"
	"github.com/fefudrive/tripchat/internal/metrics"
	"github.com/fefudrive/tripchat/internal/protocol"
)

// HandleJoin applies a decoded join frame. Invalid events are dropped.
func (g *Gateway) HandleJoin(ctx context.Context, sessionID string, msg protocol.JoinMsg) {
	req := JoinRequest{RoomID: msg.RoomID.String()}
	if msg.User != nil {
		req.UserID = msg.User.ID.String()
		req.FirstName = msg.User.FirstName
		req.LastName = msg.User.LastName
	}
	if err := g.Join(ctx, sessionID, req); err != nil {
		g.drop(sessionID, protocol.TypeJoin, err)
	}
}

// HandleChatMessage applies a decoded chatMessage frame. Invalid events are
// dropped.
func (g *Gateway) HandleChatMessage(sessionID string, msg protocol.ChatMsg) {
	err := g.Message(sessionID, MessageRequest{RoomID: msg.RoomID.String(), Text: msg.Text})
	if err != nil {
		metrics.MessagesTotal.WithLabelValues("rejected").Inc()
		g.drop(sessionID, protocol.TypeChatMessage, err)
	}
}

// HandleLeave applies a decoded leave frame.
func (g *Gateway) HandleLeave(sessionID string, msg protocol.LeaveMsg) {
	roomID := msg.RoomID.String()
	if roomID == "" {
		g.drop(sessionID, protocol.TypeLeave, ErrMissingRoom)
		return
	}
	if !g.Leave(sessionID, roomID) {
		log.Debug().Str("module", "relay").Str("session", sessionID).Str("room", roomID).Msg("leave for absent session ignored")
	}
}

func (g *Gateway) drop(sessionID, msgType string, err error) {
	metrics.EventsDropped.WithLabelValues(dropReason(err)).Inc()
	log.Debug().Str("module", "relay").Str("session", sessionID).Str("type", msgType).Err(err).Msg("event dropped")
}

func dropReason(err error) string {
	switch {
	case errors.Is(err, ErrMissingRoom):
		return "missing_room"
	case errors.Is(err, ErrMissingUser):
		return "missing_user"
	case errors.Is(err, ErrNotInRoom):
		return "not_in_room"
	case errors.Is(err, ErrInactiveSession):
		return "inactive_session"
	case errors.Is(err, chat.ErrEmptyMessage), errors.Is(err, chat.ErrMessageTooLong), errors.Is(err, chat.ErrInvalidUTF8):
		return "invalid_text"
	default:
		return "other"
	}
}
