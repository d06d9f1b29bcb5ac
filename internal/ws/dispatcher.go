package ws

import (
	"github.com/rs/zerolog/log"

	"github.com/fefudrive/tripchat/internal/metrics"
	"github.com/fefudrive/tripchat/internal/protocol"
)

// MessageHandler is the callback signature for handling a parsed client message.
// The msg parameter is the concrete struct returned by protocol.ParseClientMessage
// (e.g., protocol.JoinMsg, protocol.ChatMsg).
type MessageHandler func(conn *Connection, msg interface{})

// MessageDispatcher routes incoming WebSocket messages to registered handlers
// based on the message type. It answers ping internally. Frames that cannot
// be parsed or have no handler are dropped without a reply and the
// connection stays open.
type MessageDispatcher struct {
	handlers map[string]MessageHandler
}

// NewMessageDispatcher creates an empty MessageDispatcher.
func NewMessageDispatcher() *MessageDispatcher {
	return &MessageDispatcher{handlers: make(map[string]MessageHandler)}
}

// Register associates a MessageHandler with a message type. If a handler was
// already registered for the given type, it is silently replaced.
func (d *MessageDispatcher) Register(msgType string, handler MessageHandler) {
	d.handlers[msgType] = handler
}

// Dispatch is the onMessage callback implementation. It parses the raw bytes
// into a typed message, handles ping internally, and routes all other types to
// the registered handler.
func (d *MessageDispatcher) Dispatch(conn *Connection, data []byte) {
	msgType, msg, err := protocol.ParseClientMessage(data)
	if err != nil {
		metrics.EventsDropped.WithLabelValues("parse_error").Inc()
		log.Debug().Str("module", "ws").Str("session", conn.ID).Err(err).Msg("dropping unparsable frame")
		return
	}

	if msgType == protocol.TypePing {
		d.sendPong(conn)
		return
	}

	handler, ok := d.handlers[msgType]
	if !ok {
		metrics.EventsDropped.WithLabelValues("unsupported_type").Inc()
		log.Debug().Str("module", "ws").Str("session", conn.ID).Str("type", msgType).Msg("dropping unsupported frame")
		return
	}

	handler(conn, msg)
}

// sendPong responds to a client ping with a pong message.
func (d *MessageDispatcher) sendPong(conn *Connection) {
	data, err := protocol.NewServerMessage(protocol.TypePong, protocol.PongMsg{})
	if err != nil {
		log.Error().Str("module", "ws").Str("session", conn.ID).Err(err).Msg("build pong")
		return
	}
	if err := conn.Enqueue(data); err != nil {
		log.Warn().Str("module", "ws").Str("session", conn.ID).Err(err).Msg("queue pong")
	}
}
