// Package room tracks which sessions are present in which trip room. Each
// room keeps its sessions in join order so rosters are stable across
// broadcasts.
package room

import (
	"sort"
	"sync"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/fefudrive/tripchat/internal/trip"
)

// Session is a participant's presence in one room.
type Session struct {
	ID        string // connection-scoped session id (socketId on the wire)
	UserID    string
	FirstName string
	LastName  string
	Role      trip.Role
}

// DisplayName returns "First Last" as shown to other participants.
func (s Session) DisplayName() string {
	return s.FirstName + " " + s.LastName
}

type sessionSet = orderedmap.OrderedMap[string, Session]

// Registry maps room ids to their ordered session sets. Rooms are created on
// first join and evicted as soon as their last session leaves. It is safe for
// concurrent use.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*sessionSet
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{rooms: make(map[string]*sessionSet)}
}

// Join records s in the room. A session already present keeps its position
// and has its entry replaced.
func (r *Registry) Join(roomID string, s Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.rooms[roomID]
	if !ok {
		set = orderedmap.New[string, Session]()
		r.rooms[roomID] = set
	}
	set.Set(s.ID, s)
}

// Leave removes the session from the room and reports whether it was there.
func (r *Registry) Leave(roomID, sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.leaveLocked(roomID, sessionID)
}

func (r *Registry) leaveLocked(roomID, sessionID string) bool {
	set, ok := r.rooms[roomID]
	if !ok {
		return false
	}
	if _, present := set.Delete(sessionID); !present {
		return false
	}
	if set.Len() == 0 {
		delete(r.rooms, roomID)
	}
	return true
}

// List returns the room's sessions in join order. An unknown room yields an
// empty, non-nil slice.
func (r *Registry) List(roomID string) []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set, ok := r.rooms[roomID]
	if !ok {
		return []Session{}
	}

	out := make([]Session, 0, set.Len())
	for pair := set.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value)
	}
	return out
}

// RemoveSessionFromAllRooms removes the session from every room holding it
// and returns the affected room ids in ascending order.
func (r *Registry) RemoveSessionFromAllRooms(sessionID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var affected []string
	for roomID, set := range r.rooms {
		if _, ok := set.Get(sessionID); ok {
			affected = append(affected, roomID)
		}
	}
	for _, roomID := range affected {
		r.leaveLocked(roomID, sessionID)
	}

	sort.Strings(affected)
	return affected
}

// Contains reports whether the session is currently in the room.
func (r *Registry) Contains(roomID, sessionID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set, ok := r.rooms[roomID]
	if !ok {
		return false
	}
	_, ok = set.Get(sessionID)
	return ok
}

// Get returns the session's entry in the room.
func (r *Registry) Get(roomID, sessionID string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set, ok := r.rooms[roomID]
	if !ok {
		return Session{}, false
	}
	return set.Get(sessionID)
}

// Occupied reports whether the room has at least one session.
func (r *Registry) Occupied(roomID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.rooms[roomID]
	return ok
}

// RoomCount returns the number of rooms with at least one session.
func (r *Registry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}
