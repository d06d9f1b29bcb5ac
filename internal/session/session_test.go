package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingMirror struct {
	mu   sync.Mutex
	puts []Info
	dels []string
}

func (m *recordingMirror) Put(_ context.Context, info Info) error {
	m.mu.Lock()
	m.puts = append(m.puts, info)
	m.mu.Unlock()
	return nil
}

func (m *recordingMirror) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	m.dels = append(m.dels, id)
	m.mu.Unlock()
	return nil
}

func (m *recordingMirror) snapshot() ([]Info, []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Info(nil), m.puts...), append([]string(nil), m.dels...)
}

func TestTrackerLifecycle(t *testing.T) {
	tr := NewTracker(nil)

	assert.Equal(t, StateDisconnected, tr.Get("s1").State)
	require.True(t, tr.Connect("s1", "7"))
	assert.False(t, tr.Connect("s1", "8"), "duplicate connect keeps the first entry")

	assert.True(t, tr.Active("s1"))
	assert.Equal(t, "7", tr.UserID("s1"))
	assert.Equal(t, StateConnected, tr.Get("s1").State)

	require.True(t, tr.EnterRoom("s1", "42"))
	require.True(t, tr.EnterRoom("s1", "10"))
	info := tr.Get("s1")
	assert.Equal(t, StateInRoom, info.State)
	assert.Equal(t, []string{"10", "42"}, info.Rooms)

	tr.ExitRoom("s1", "42")
	tr.ExitRoom("s1", "10")
	assert.Equal(t, StateConnected, tr.Get("s1").State)

	assert.True(t, tr.Disconnect("s1"))
	assert.False(t, tr.Disconnect("s1"))
	assert.False(t, tr.Active("s1"))
	assert.False(t, tr.EnterRoom("s1", "42"), "disconnected sessions cannot re-enter rooms")
	assert.Equal(t, StateDisconnected, tr.Get("s1").State)
	assert.Equal(t, 0, tr.Count())
}

func TestTrackerMirrorsTransitions(t *testing.T) {
	m := &recordingMirror{}
	tr := NewTracker(m)
	defer tr.Close()

	tr.Connect("s1", "7")
	tr.EnterRoom("s1", "42")
	tr.Disconnect("s1")

	require.Eventually(t, func() bool {
		puts, dels := m.snapshot()
		return len(puts) == 2 && len(dels) == 1
	}, time.Second, 10*time.Millisecond)

	puts, dels := m.snapshot()
	assert.Equal(t, StateConnected, puts[0].State)
	assert.Equal(t, StateInRoom, puts[1].State)
	assert.Equal(t, []string{"42"}, puts[1].Rooms)
	assert.Equal(t, []string{"s1"}, dels)
}

func TestTrackerCloseIsIdempotent(t *testing.T) {
	tr := NewTracker(&recordingMirror{})
	tr.Close()
	tr.Close()
	tr.Connect("s1", "")
	assert.True(t, tr.Active("s1"))
}
