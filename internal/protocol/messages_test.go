package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// Test: Parsing a join message with numeric ids
// ---------------------------------------------------------------------------

func TestParseClientMessage_Join(t *testing.T) {
	input := []byte(`{"type":"join","roomId":42,"user":{"id":7,"firstName":"Ivan","lastName":"Petrov"}}`)

	msgType, msg, err := ParseClientMessage(input)
	require.NoError(t, err)
	assert.Equal(t, TypeJoin, msgType)

	jm, ok := msg.(JoinMsg)
	require.True(t, ok, "expected JoinMsg, got %T", msg)
	assert.Equal(t, ID("42"), jm.RoomID)
	require.NotNil(t, jm.User)
	assert.Equal(t, ID("7"), jm.User.ID)
	assert.Equal(t, "Ivan", jm.User.FirstName)
	assert.Equal(t, "Petrov", jm.User.LastName)
}

func TestParseClientMessage_JoinRoomAlias(t *testing.T) {
	input := []byte(`{"type":"joinRoom","roomId":"42","user":{"id":"7"}}`)

	msgType, msg, err := ParseClientMessage(input)
	require.NoError(t, err)
	assert.Equal(t, TypeJoin, msgType)

	jm := msg.(JoinMsg)
	assert.Equal(t, TypeJoin, jm.Type)
	assert.Equal(t, ID("42"), jm.RoomID)
}

// ---------------------------------------------------------------------------
// Test: Parsing a chat message
// ---------------------------------------------------------------------------

func TestParseClientMessage_ChatMsg(t *testing.T) {
	input := []byte(`{"type":"chatMessage","roomId":"42","text":"Hello!","sender":{"id":7,"name":"Ivan Petrov"},"timestamp":"2024-05-01T10:00:00.000Z"}`)

	msgType, msg, err := ParseClientMessage(input)
	require.NoError(t, err)
	assert.Equal(t, TypeChatMessage, msgType)

	cm, ok := msg.(ChatMsg)
	require.True(t, ok, "expected ChatMsg, got %T", msg)
	assert.Equal(t, ID("42"), cm.RoomID)
	assert.Equal(t, "Hello!", cm.Text)
	require.NotNil(t, cm.Sender)
	assert.Equal(t, ID("7"), cm.Sender.ID)
}

func TestParseClientMessage_LeaveRoomAlias(t *testing.T) {
	msgType, msg, err := ParseClientMessage([]byte(`{"type":"leaveRoom","roomId":42}`))
	require.NoError(t, err)
	assert.Equal(t, TypeLeave, msgType)
	assert.Equal(t, ID("42"), msg.(LeaveMsg).RoomID)
}

// ---------------------------------------------------------------------------
// Test: Error cases
// ---------------------------------------------------------------------------

func TestParseClientMessage_UnknownType(t *testing.T) {
	msgType, msg, err := ParseClientMessage([]byte(`{"type":"roomUsers","users":[]}`))
	assert.Error(t, err)
	assert.Nil(t, msg)
	assert.Equal(t, "roomUsers", msgType)
}

func TestParseClientMessage_BadIDType(t *testing.T) {
	_, msg, err := ParseClientMessage([]byte(`{"type":"join","roomId":true,"user":{"id":1}}`))
	assert.Error(t, err)
	assert.Nil(t, msg)
}

func TestEnvelope_MissingType(t *testing.T) {
	var env Envelope
	assert.Error(t, json.Unmarshal([]byte(`{"data":"no type field"}`), &env))
}

func TestEnvelope_InvalidJSON(t *testing.T) {
	var env Envelope
	assert.Error(t, json.Unmarshal([]byte(`{invalid json}`), &env))
}

// ---------------------------------------------------------------------------
// Test: ID encoding
// ---------------------------------------------------------------------------

func TestID_Marshal(t *testing.T) {
	cases := []struct {
		id   ID
		want string
	}{
		{"42", `42`},
		{"-3", `-3`},
		{"007", `"007"`},
		{"abc", `"abc"`},
		{"", `""`},
		{"1.5", `"1.5"`},
	}

	for _, tc := range cases {
		t.Run(string(tc.id), func(t *testing.T) {
			data, err := json.Marshal(tc.id)
			require.NoError(t, err)
			assert.Equal(t, tc.want, string(data))
		})
	}
}

func TestID_UnmarshalNormalizesIntegralNumbers(t *testing.T) {
	cases := []struct {
		raw  string
		want ID
	}{
		{`42`, "42"},
		{`42.0`, "42"},
		{`4.2e1`, "42"},
		{`-0`, "0"},
		{`"42.0"`, "42.0"},
		{`1.5`, "1.5"},
		{`9007199254740993`, "9007199254740993"},
	}

	for _, tc := range cases {
		t.Run(tc.raw, func(t *testing.T) {
			var m LeaveMsg
			require.NoError(t, json.Unmarshal([]byte(`{"type":"leave","roomId":`+tc.raw+`}`), &m))
			assert.Equal(t, tc.want, m.RoomID)
		})
	}
}

func TestID_UnmarshalNull(t *testing.T) {
	var m LeaveMsg
	require.NoError(t, json.Unmarshal([]byte(`{"type":"leave","roomId":null}`), &m))
	assert.Equal(t, ID(""), m.RoomID)
}

// ---------------------------------------------------------------------------
// Test: Server messages
// ---------------------------------------------------------------------------

func TestNewServerMessage_RoomUsers(t *testing.T) {
	payload := RoomUsersMsg{
		RoomID: "42",
		Users: []RosterEntry{
			{SocketID: "s1", ID: "7", FirstName: "Ivan", LastName: "Petrov", Role: "driver"},
		},
	}

	data, err := NewServerMessage(TypeRoomUsers, payload)
	require.NoError(t, err)

	assert.JSONEq(t,
		`{"type":"roomUsers","roomId":42,"users":[{"socketId":"s1","id":7,"firstName":"Ivan","lastName":"Petrov","role":"driver"}]}`,
		string(data))
}

func TestNewServerMessage_PreservesLargeNumbers(t *testing.T) {
	data, err := NewServerMessage(TypeChatMessage, ChatMessage{
		ID:     "m1",
		RoomID: "9007199254740993",
		Text:   "hi",
		Sender: Sender{ID: "1", Name: "A B"},
	})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"roomId":9007199254740993`)
}

func TestNewServerMessage_EmptyHistory(t *testing.T) {
	data, err := NewServerMessage(TypeChatHistory, ChatHistoryMsg{RoomID: "42", Messages: []ChatMessage{}})
	require.NoError(t, err)

	var decoded ChatHistoryMsg
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, TypeChatHistory, decoded.Type)
	assert.NotNil(t, decoded.Messages)
	assert.Empty(t, decoded.Messages)
}

// ---------------------------------------------------------------------------
// Test: Parsing all client message types succeeds
// ---------------------------------------------------------------------------

func TestParseClientMessage_AllTypes(t *testing.T) {
	cases := []struct {
		name     string
		input    string
		wantType string
	}{
		{"join", `{"type":"join","roomId":"1","user":{"id":1}}`, TypeJoin},
		{"joinRoom", `{"type":"joinRoom","roomId":"1","user":{"id":1}}`, TypeJoin},
		{"chatMessage", `{"type":"chatMessage","roomId":"1","text":"hi"}`, TypeChatMessage},
		{"leave", `{"type":"leave","roomId":"1"}`, TypeLeave},
		{"leaveRoom", `{"type":"leaveRoom","roomId":"1"}`, TypeLeave},
		{"ping", `{"type":"ping"}`, TypePing},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msgType, msg, err := ParseClientMessage([]byte(tc.input))
			require.NoError(t, err)
			assert.Equal(t, tc.wantType, msgType)
			assert.NotNil(t, msg)
		})
	}
}
