package relay

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fefudrive/tripchat/internal/metrics"
)

// PruneHistories drops the history of rooms that have no sessions and have
// not seen a message within HistoryIdleTTL. It returns the number of
// histories removed.
func (g *Gateway) PruneHistories() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	pruned := g.history.Prune(g.config.HistoryIdleTTL, g.rooms.Occupied)
	if len(pruned) > 0 {
		metrics.HistoriesPruned.Add(float64(len(pruned)))
		log.Info().Str("module", "relay").Strs("rooms", pruned).Msg("pruned idle histories")
	}
	return len(pruned)
}

// RunJanitor prunes idle histories every JanitorInterval until ctx is done.
func (g *Gateway) RunJanitor(ctx context.Context) {
	interval := g.config.JanitorInterval
	if interval <= 0 {
		interval = DefaultConfig().JanitorInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.PruneHistories()
		}
	}
}
