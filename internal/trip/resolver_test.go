package trip

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type slowLookup struct{}

func (slowLookup) Membership(ctx context.Context, _ string) (*Membership, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestResolveRole(t *testing.T) {
	lookup := NewStaticLookup()
	lookup.Set("42", Membership{DriverID: "7", PassengerIDs: []string{"9", "11"}})
	r := NewResolver(lookup, time.Second)
	ctx := context.Background()

	cases := []struct {
		name   string
		tripID string
		userID string
		want   Role
	}{
		{"driver", "42", "7", RoleDriver},
		{"passenger", "42", "9", RolePassenger},
		{"second passenger", "42", "11", RolePassenger},
		{"stranger", "42", "12", RoleGuest},
		{"empty user", "42", "", RoleGuest},
		{"unknown trip", "999", "7", RoleGuest},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, r.ResolveRole(ctx, tc.tripID, tc.userID))
		})
	}
}

func TestResolveRole_LookupErrorIsGuest(t *testing.T) {
	lookup := NewStaticLookup()
	lookup.Set("42", Membership{DriverID: "7"})
	lookup.FailWith(errors.New("connection refused"))

	r := NewResolver(lookup, time.Second)
	assert.Equal(t, RoleGuest, r.ResolveRole(context.Background(), "42", "7"))
}

func TestResolveRole_TimeoutIsGuest(t *testing.T) {
	r := NewResolver(slowLookup{}, 20*time.Millisecond)

	start := time.Now()
	role := r.ResolveRole(context.Background(), "42", "7")

	assert.Equal(t, RoleGuest, role)
	assert.Less(t, time.Since(start), time.Second)
}

func TestResolveRole_NilLookup(t *testing.T) {
	r := NewResolver(nil, 0)
	assert.Equal(t, RoleGuest, r.ResolveRole(context.Background(), "42", "7"))
}

func TestRoleOf_EmptyDriver(t *testing.T) {
	m := &Membership{PassengerIDs: []string{"9"}}
	assert.Equal(t, RoleGuest, m.RoleOf("12"))
	assert.Equal(t, RolePassenger, m.RoleOf("9"))

	var none *Membership
	assert.Equal(t, RoleGuest, none.RoleOf("9"))
}
