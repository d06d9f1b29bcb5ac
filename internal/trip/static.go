package trip

import (
	"context"
	"sync"
)

// StaticLookup serves membership from memory. It backs local development
// (trip_lookup=none) and tests.
type StaticLookup struct {
	mu    sync.RWMutex
	trips map[string]Membership
	err   error
}

// NewStaticLookup creates an empty StaticLookup.
func NewStaticLookup() *StaticLookup {
	return &StaticLookup{trips: make(map[string]Membership)}
}

// Set stores the membership of a trip.
func (l *StaticLookup) Set(tripID string, m Membership) {
	l.mu.Lock()
	l.trips[tripID] = m
	l.mu.Unlock()
}

// FailWith makes every subsequent lookup return err. A nil err restores
// normal behaviour.
func (l *StaticLookup) FailWith(err error) {
	l.mu.Lock()
	l.err = err
	l.mu.Unlock()
}

// Membership implements Lookup.
func (l *StaticLookup) Membership(ctx context.Context, tripID string) (*Membership, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.err != nil {
		return nil, l.err
	}
	m, ok := l.trips[tripID]
	if !ok {
		return nil, nil
	}
	m.PassengerIDs = append([]string(nil), m.PassengerIDs...)
	return &m, nil
}
