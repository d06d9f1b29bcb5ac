package trip

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fefudrive/tripchat/internal/metrics"
)

// DefaultRoleTimeout bounds a single role resolution.
const DefaultRoleTimeout = 3 * time.Second

// Resolver maps (trip, user) to a Role using a Lookup. Any failure degrades
// to RoleGuest; results are not cached.
type Resolver struct {
	lookup  Lookup
	timeout time.Duration
}

// NewResolver creates a Resolver. A nil lookup resolves everyone as guest.
func NewResolver(lookup Lookup, timeout time.Duration) *Resolver {
	if timeout <= 0 {
		timeout = DefaultRoleTimeout
	}
	return &Resolver{lookup: lookup, timeout: timeout}
}

// ResolveRole returns the user's role in the trip.
func (r *Resolver) ResolveRole(ctx context.Context, tripID, userID string) Role {
	if userID == "" || r.lookup == nil {
		metrics.RoleResolutions.WithLabelValues(string(RoleGuest)).Inc()
		return RoleGuest
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	m, err := r.lookup.Membership(ctx, tripID)
	metrics.RoleLookupLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		log.Warn().Str("module", "trip").Str("room", tripID).Str("user", userID).
			Err(err).Msg("role lookup failed, treating as guest")
		metrics.RoleResolutions.WithLabelValues("error").Inc()
		return RoleGuest
	}

	role := m.RoleOf(userID)
	metrics.RoleResolutions.WithLabelValues(string(role)).Inc()
	return role
}
