package trip

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"
)

// Requester sends a request and waits for a single reply.
type Requester interface {
	Request(ctx context.Context, subject string, data []byte) ([]byte, error)
}

// NATSLookup asks the trip directory service for membership over NATS.
type NATSLookup struct {
	req Requester
}

// NewNATSLookup creates a lookup that issues requests through r.
func NewNATSLookup(r Requester) *NATSLookup {
	return &NATSLookup{req: r}
}

// Membership implements Lookup.
func (l *NATSLookup) Membership(ctx context.Context, tripID string) (*Membership, error) {
	body, err := json.Marshal(MembershipRequest{TripID: tripID})
	if err != nil {
		return nil, fmt.Errorf("trip: marshal request: %w", err)
	}

	data, err := l.req.Request(ctx, SubjectMembership, body)
	if err != nil {
		return nil, fmt.Errorf("trip: request membership %s: %w", tripID, err)
	}

	var reply MembershipReply
	if err := json.Unmarshal(data, &reply); err != nil {
		return nil, fmt.Errorf("trip: decode reply: %w", err)
	}
	if reply.Error != "" {
		return nil, fmt.Errorf("%w: %s", ErrLookupFailed, reply.Error)
	}
	if !reply.Found {
		return nil, nil
	}
	return &Membership{DriverID: reply.DriverID, PassengerIDs: reply.PassengerIDs}, nil
}

// Reply builds the directory's reply for a lookup result.
func Reply(m *Membership, err error) MembershipReply {
	switch {
	case err != nil:
		return MembershipReply{Error: err.Error()}
	case m == nil:
		return MembershipReply{Found: false}
	default:
		return MembershipReply{Found: true, DriverID: m.DriverID, PassengerIDs: m.PassengerIDs}
	}
}

// ServeMembership returns the directory's request handler: it decodes a
// MembershipRequest, looks the trip up and encodes the reply. Lookup
// failures are reported in the reply rather than dropped.
func ServeMembership(lookup Lookup) func(ctx context.Context, data []byte) ([]byte, error) {
	return func(ctx context.Context, data []byte) ([]byte, error) {
		var req MembershipRequest
		if err := json.Unmarshal(data, &req); err != nil || req.TripID == "" {
			log.Debug().Str("module", "directory").Err(err).Msg("malformed membership request")
			return json.Marshal(MembershipReply{Error: "malformed request"})
		}

		m, err := lookup.Membership(ctx, req.TripID)
		if err != nil {
			log.Warn().Str("module", "directory").Str("room", req.TripID).Err(err).Msg("membership lookup failed")
		}
		return json.Marshal(Reply(m, err))
	}
}
