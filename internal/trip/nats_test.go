package trip

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRequester struct {
	subject string
	body    []byte
	reply   []byte
	err     error
}

func (f *fakeRequester) Request(_ context.Context, subject string, data []byte) ([]byte, error) {
	f.subject = subject
	f.body = data
	return f.reply, f.err
}

func TestNATSLookup_Found(t *testing.T) {
	req := &fakeRequester{reply: []byte(`{"found":true,"driverId":"7","passengerIds":["9"]}`)}
	l := NewNATSLookup(req)

	m, err := l.Membership(context.Background(), "42")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "7", m.DriverID)
	assert.Equal(t, []string{"9"}, m.PassengerIDs)

	assert.Equal(t, SubjectMembership, req.subject)
	assert.JSONEq(t, `{"tripId":"42"}`, string(req.body))
}

func TestNATSLookup_NotFound(t *testing.T) {
	l := NewNATSLookup(&fakeRequester{reply: []byte(`{"found":false}`)})

	m, err := l.Membership(context.Background(), "42")
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestNATSLookup_Errors(t *testing.T) {
	cases := []struct {
		name string
		req  *fakeRequester
	}{
		{"remote error", &fakeRequester{reply: []byte(`{"error":"db down"}`)}},
		{"bad json", &fakeRequester{reply: []byte(`not json`)}},
		{"transport", &fakeRequester{err: errors.New("nats: timeout")}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m, err := NewNATSLookup(tc.req).Membership(context.Background(), "42")
			assert.Error(t, err)
			assert.Nil(t, m)
		})
	}
}

func TestNATSLookup_RemoteErrorIsLookupFailed(t *testing.T) {
	_, err := NewNATSLookup(&fakeRequester{reply: []byte(`{"error":"db down"}`)}).
		Membership(context.Background(), "42")
	assert.ErrorIs(t, err, ErrLookupFailed)
}

func TestReply(t *testing.T) {
	data, err := json.Marshal(Reply(&Membership{DriverID: "7", PassengerIDs: []string{"9"}}, nil))
	require.NoError(t, err)
	assert.JSONEq(t, `{"found":true,"driverId":"7","passengerIds":["9"]}`, string(data))

	data, err = json.Marshal(Reply(nil, nil))
	require.NoError(t, err)
	assert.JSONEq(t, `{"found":false}`, string(data))

	data, err = json.Marshal(Reply(nil, errors.New("boom")))
	require.NoError(t, err)
	assert.JSONEq(t, `{"found":false,"error":"boom"}`, string(data))
}

func TestServeMembership(t *testing.T) {
	lookup := NewStaticLookup()
	lookup.Set("42", Membership{DriverID: "7", PassengerIDs: []string{"9"}})
	serve := ServeMembership(lookup)
	ctx := context.Background()

	cases := []struct {
		name string
		body string
		want string
	}{
		{"found", `{"tripId":"42"}`, `{"found":true,"driverId":"7","passengerIds":["9"]}`},
		{"unknown trip", `{"tripId":"999"}`, `{"found":false}`},
		{"missing trip id", `{}`, `{"found":false,"error":"malformed request"}`},
		{"bad json", `nope`, `{"found":false,"error":"malformed request"}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			reply, err := serve(ctx, []byte(tc.body))
			require.NoError(t, err)
			assert.JSONEq(t, tc.want, string(reply))
		})
	}
}

func TestServeMembership_LookupError(t *testing.T) {
	lookup := NewStaticLookup()
	lookup.FailWith(errors.New("db down"))

	reply, err := ServeMembership(lookup)(context.Background(), []byte(`{"tripId":"42"}`))
	require.NoError(t, err)

	// A relay reading this reply falls back to guest.
	m, err := NewNATSLookup(&fakeRequester{reply: reply}).Membership(context.Background(), "42")
	assert.ErrorIs(t, err, ErrLookupFailed)
	assert.Nil(t, m)
}
