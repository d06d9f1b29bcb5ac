package relay

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fefudrive/tripchat/internal/protocol"
)

func parse(t *testing.T, raw string) interface{} {
	t.Helper()
	_, msg, err := protocol.ParseClientMessage([]byte(raw))
	require.NoError(t, err)
	return msg
}

func TestHandleEvents_NumericIDs(t *testing.T) {
	f := newFixture(t)
	f.gw.Connect("A", "")

	f.gw.HandleJoin(context.Background(), "A",
		parse(t, `{"type":"joinRoom","roomId":42,"user":{"id":7,"firstName":"Ivan","lastName":"Petrov"}}`).(protocol.JoinMsg))
	f.gw.HandleChatMessage("A",
		parse(t, `{"type":"chatMessage","roomId":42,"text":"hi","sender":{"id":1,"name":"Spoofed"},"timestamp":"1999-01-01T00:00:00.000Z"}`).(protocol.ChatMsg))

	roster := f.gw.Roster("42")
	require.Len(t, roster, 1)
	assert.Equal(t, "driver", string(roster[0].Role))

	history := f.gw.History("42")
	require.Len(t, history, 1)
	assert.Equal(t, "7", history[0].SenderID)
	assert.Equal(t, "Ivan Petrov", history[0].SenderName)
	assert.NotEqual(t, 1999, history[0].SentAt.Year())

	f.gw.HandleLeave("A", parse(t, `{"type":"leaveRoom","roomId":42}`).(protocol.LeaveMsg))
	assert.Empty(t, f.gw.Roster("42"))
}

func TestHandleEvents_MalformedAreDropped(t *testing.T) {
	f := newFixture(t)
	f.gw.Connect("A", "")

	f.gw.HandleJoin(context.Background(), "A", parse(t, `{"type":"join","roomId":"42"}`).(protocol.JoinMsg))
	f.gw.HandleJoin(context.Background(), "A", parse(t, `{"type":"join","user":{"id":7}}`).(protocol.JoinMsg))
	f.gw.HandleChatMessage("A", parse(t, `{"type":"chatMessage","roomId":"42","text":""}`).(protocol.ChatMsg))
	f.gw.HandleLeave("A", parse(t, `{"type":"leave"}`).(protocol.LeaveMsg))

	assert.Empty(t, f.out.take("A"))
	assert.Equal(t, 0, f.gw.RoomCount())
	assert.True(t, f.gw.sessions.Active("A"), "connection stays open")
}

func TestDropReason(t *testing.T) {
	assert.Equal(t, "missing_room", dropReason(ErrMissingRoom))
	assert.Equal(t, "not_in_room", dropReason(ErrNotInRoom))
	assert.Equal(t, "other", dropReason(assert.AnError))
}
