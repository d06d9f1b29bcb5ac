package relay

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fefudrive/tripchat/internal/session"
	"github.com/fefudrive/tripchat/internal/trip"
)

func TestPruneHistories(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HistoryIdleTTL = 0
	gw := NewGateway(cfg, trip.NewResolver(nil, 0), newRecorder(), session.NewTracker(nil))

	for _, sid := range []string{"A", "B"} {
		gw.Connect(sid, "")
	}
	require.NoError(t, gw.Join(context.Background(), "A", JoinRequest{RoomID: "empty", UserID: "7"}))
	require.NoError(t, gw.Message("A", MessageRequest{RoomID: "empty", Text: "bye"}))
	gw.Leave("A", "empty")

	require.NoError(t, gw.Join(context.Background(), "B", JoinRequest{RoomID: "busy", UserID: "9"}))
	require.NoError(t, gw.Message("B", MessageRequest{RoomID: "busy", Text: "still here"}))

	time.Sleep(time.Millisecond)
	assert.Equal(t, 1, gw.PruneHistories())
	assert.Empty(t, gw.History("empty"))
	assert.Len(t, gw.History("busy"), 1)
}

func TestRunJanitorStopsOnCancel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.JanitorInterval = 5 * time.Millisecond
	gw := NewGateway(cfg, trip.NewResolver(nil, 0), newRecorder(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		gw.RunJanitor(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("janitor did not stop")
	}
}
