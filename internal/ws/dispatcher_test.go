package ws

import (
	"encoding/json"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fefudrive/tripchat/internal/protocol"
)

func newTestConnection(t *testing.T, sendBuffer int) *Connection {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() {
		server.Close()
		client.Close()
	})
	return newConnection("sess-1", server, sendBuffer)
}

func queued(c *Connection) [][]byte {
	var out [][]byte
	for {
		select {
		case data := <-c.send:
			out = append(out, data)
		default:
			return out
		}
	}
}

func TestDispatch_Ping(t *testing.T) {
	d := NewMessageDispatcher()
	c := newTestConnection(t, 4)

	d.Dispatch(c, []byte(`{"type":"ping"}`))

	frames := queued(c)
	require.Len(t, frames, 1)
	var msg protocol.PongMsg
	require.NoError(t, json.Unmarshal(frames[0], &msg))
	assert.Equal(t, protocol.TypePong, msg.Type)
}

func TestDispatch_RoutesToHandler(t *testing.T) {
	d := NewMessageDispatcher()
	c := newTestConnection(t, 4)

	var got protocol.JoinMsg
	calls := 0
	d.Register(protocol.TypeJoin, func(conn *Connection, msg interface{}) {
		calls++
		got = msg.(protocol.JoinMsg)
	})

	d.Dispatch(c, []byte(`{"type":"joinRoom","roomId":42,"user":{"id":7}}`))

	assert.Equal(t, 1, calls)
	assert.Equal(t, protocol.ID("42"), got.RoomID)
}

func TestDispatch_DropsSilently(t *testing.T) {
	d := NewMessageDispatcher()
	c := newTestConnection(t, 4)
	d.Register(protocol.TypeJoin, func(*Connection, interface{}) { t.Fatal("handler must not run") })

	for _, raw := range []string{
		`not json`,
		`{"no":"type"}`,
		`{"type":"roomUsers","users":[]}`,
		`{"type":"leave","roomId":"1"}`, // no handler registered
		`{"type":"join","roomId":{"nested":true}}`,
	} {
		d.Dispatch(c, []byte(raw))
	}

	assert.Empty(t, queued(c), "no error frames are sent back")
}

func TestEnqueue_Backpressure(t *testing.T) {
	c := newTestConnection(t, 2)

	require.NoError(t, c.Enqueue([]byte("a")))
	require.NoError(t, c.Enqueue([]byte("b")))
	assert.ErrorIs(t, c.Enqueue([]byte("c")), ErrBackpressure)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.ErrorIs(t, c.Enqueue([]byte("d")), ErrConnClosed)
}

func TestConnectionManager(t *testing.T) {
	cm := NewConnectionManager()
	c := newTestConnection(t, 1)

	cm.Add(c)
	assert.Equal(t, 1, cm.Count())
	assert.Same(t, c, cm.Get("sess-1"))
	assert.Len(t, cm.All(), 1)

	assert.True(t, cm.Remove("sess-1"))
	assert.False(t, cm.Remove("sess-1"))
	assert.Nil(t, cm.Get("sess-1"))
	assert.Equal(t, 0, cm.Count())
}
