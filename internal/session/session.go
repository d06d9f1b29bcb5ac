// Package session tracks the lifecycle of relay connections
// (Connected, InRoom, Disconnected) and optionally mirrors it to Redis so
// operators can inspect live sessions across relay instances.
package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// State is a connection's position in the session state machine.
type State string

const (
	StateConnected    State = "connected"
	StateInRoom       State = "in_room"
	StateDisconnected State = "disconnected"
)

const (
	mirrorTimeout = 3 * time.Second // bounds each write to the mirror
	mirrorBacklog = 1024
)

// Info is a point-in-time view of a session.
type Info struct {
	ID          string
	UserID      string // authenticated principal, empty for anonymous connections
	State       State
	Rooms       []string // sorted
	ConnectedAt time.Time
}

// Mirror receives session snapshots after every transition.
type Mirror interface {
	Put(ctx context.Context, info Info) error
	Delete(ctx context.Context, sessionID string) error
}

type entry struct {
	userID      string
	rooms       map[string]struct{}
	connectedAt time.Time
}

// mirrorOp is a queued mirror write. A nil info means delete.
type mirrorOp struct {
	id   string
	info *Info
}

// Tracker holds the state of every live session. Sessions that disconnected
// are forgotten, so any unknown id reports StateDisconnected. It is safe for
// concurrent use.
type Tracker struct {
	mu       sync.RWMutex
	sessions map[string]*entry

	mirror    Mirror
	ops       chan mirrorOp
	closeOnce sync.Once
	done      chan struct{}
}

// NewTracker creates a Tracker. mirror may be nil; when set, snapshots are
// written to it in order by a background goroutine until Close is called.
func NewTracker(mirror Mirror) *Tracker {
	t := &Tracker{
		sessions: make(map[string]*entry),
		mirror:   mirror,
		done:     make(chan struct{}),
	}
	if mirror != nil {
		t.ops = make(chan mirrorOp, mirrorBacklog)
		go t.runMirror()
	} else {
		close(t.done)
	}
	return t
}

// Connect registers a new session in StateConnected. Connecting an id twice
// keeps the existing entry and returns false.
func (t *Tracker) Connect(sessionID, userID string) bool {
	t.mu.Lock()
	if _, ok := t.sessions[sessionID]; ok {
		t.mu.Unlock()
		return false
	}
	e := &entry{userID: userID, rooms: make(map[string]struct{}), connectedAt: time.Now()}
	t.sessions[sessionID] = e
	info := e.info(sessionID)
	t.mu.Unlock()

	t.put(info)
	return true
}

// Active reports whether the session is connected and not yet disconnected.
func (t *Tracker) Active(sessionID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.sessions[sessionID]
	return ok
}

// UserID returns the principal the session authenticated as.
func (t *Tracker) UserID(sessionID string) string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if e, ok := t.sessions[sessionID]; ok {
		return e.userID
	}
	return ""
}

// EnterRoom records that the session joined roomID. It returns false if the
// session is not active.
func (t *Tracker) EnterRoom(sessionID, roomID string) bool {
	t.mu.Lock()
	e, ok := t.sessions[sessionID]
	if !ok {
		t.mu.Unlock()
		return false
	}
	e.rooms[roomID] = struct{}{}
	info := e.info(sessionID)
	t.mu.Unlock()

	t.put(info)
	return true
}

// ExitRoom records that the session left roomID.
func (t *Tracker) ExitRoom(sessionID, roomID string) {
	t.mu.Lock()
	e, ok := t.sessions[sessionID]
	if !ok {
		t.mu.Unlock()
		return
	}
	if _, in := e.rooms[roomID]; !in {
		t.mu.Unlock()
		return
	}
	delete(e.rooms, roomID)
	info := e.info(sessionID)
	t.mu.Unlock()

	t.put(info)
}

// Disconnect moves the session to the terminal state. It returns false if
// the session was unknown or already disconnected.
func (t *Tracker) Disconnect(sessionID string) bool {
	t.mu.Lock()
	_, ok := t.sessions[sessionID]
	delete(t.sessions, sessionID)
	t.mu.Unlock()

	if ok {
		t.enqueue(mirrorOp{id: sessionID})
	}
	return ok
}

// Get returns the session's current view.
func (t *Tracker) Get(sessionID string) Info {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.sessions[sessionID]
	if !ok {
		return Info{ID: sessionID, State: StateDisconnected}
	}
	return e.info(sessionID)
}

// Count returns the number of active sessions.
func (t *Tracker) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions)
}

func (e *entry) info(id string) Info {
	rooms := make([]string, 0, len(e.rooms))
	for r := range e.rooms {
		rooms = append(rooms, r)
	}
	sort.Strings(rooms)

	state := StateConnected
	if len(rooms) > 0 {
		state = StateInRoom
	}
	return Info{ID: id, UserID: e.userID, State: state, Rooms: rooms, ConnectedAt: e.connectedAt}
}

func (t *Tracker) put(info Info) {
	t.enqueue(mirrorOp{id: info.ID, info: &info})
}

// enqueue hands an op to the mirror goroutine without blocking. Ops are
// dropped when the backlog is full or the tracker is closed.
func (t *Tracker) enqueue(op mirrorOp) {
	if t.ops == nil {
		return
	}
	select {
	case <-t.done:
		return
	default:
	}
	select {
	case t.ops <- op:
	default:
		log.Warn().Str("module", "session").Str("session", op.id).Msg("mirror backlog full, dropping update")
	}
}

func (t *Tracker) runMirror() {
	for {
		select {
		case <-t.done:
			return
		case op := <-t.ops:
			t.apply(op)
		}
	}
}

func (t *Tracker) apply(op mirrorOp) {
	ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
	defer cancel()

	var err error
	if op.info == nil {
		err = t.mirror.Delete(ctx, op.id)
	} else {
		err = t.mirror.Put(ctx, *op.info)
	}
	if err != nil {
		log.Warn().Str("module", "session").Str("session", op.id).Err(err).Msg("mirror write failed")
	}
}

// Close stops the mirror goroutine. Pending ops are discarded.
func (t *Tracker) Close() {
	if t.ops == nil {
		return
	}
	t.closeOnce.Do(func() { close(t.done) })
}
