// Package trip resolves a user's role within a trip. Membership data comes
// from the ride-share CRUD database, either directly over SQL or through the
// trip directory service on NATS.
package trip

import (
	"context"
	"errors"
)

// Role is a participant's relation to a trip.
type Role string

const (
	RoleDriver    Role = "driver"
	RolePassenger Role = "passenger"
	RoleGuest     Role = "guest"
)

// ErrLookupFailed is returned by lookups whose backend reported an error.
var ErrLookupFailed = errors.New("trip: membership lookup failed")

// Membership lists the users attached to a trip.
type Membership struct {
	DriverID     string
	PassengerIDs []string
}

// RoleOf classifies userID against the membership.
func (m *Membership) RoleOf(userID string) Role {
	if m == nil || userID == "" {
		return RoleGuest
	}
	if m.DriverID != "" && m.DriverID == userID {
		return RoleDriver
	}
	for _, id := range m.PassengerIDs {
		if id == userID {
			return RolePassenger
		}
	}
	return RoleGuest
}

// Lookup fetches trip membership. A nil Membership with a nil error means the
// trip does not exist.
type Lookup interface {
	Membership(ctx context.Context, tripID string) (*Membership, error)
}

// MembershipRequest is the NATS request body on SubjectMembership.
type MembershipRequest struct {
	TripID string `json:"tripId"`
}

// MembershipReply is the NATS reply body on SubjectMembership.
type MembershipReply struct {
	Found        bool     `json:"found"`
	DriverID     string   `json:"driverId,omitempty"`
	PassengerIDs []string `json:"passengerIds,omitempty"`
	Error        string   `json:"error,omitempty"`
}

// SubjectMembership is the request/reply subject served by tripdirectory.
const SubjectMembership = "trip.membership"
