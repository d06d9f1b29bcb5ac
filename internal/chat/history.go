// Package chat holds the per-room message history of trip chats and the
// validation rules applied to message text.
package chat

import (
	"sync"
	"time"
)

// DefaultHistoryLimit is the number of recent messages retained per room when
// no explicit limit is configured.
const DefaultHistoryLimit = 200

// Message is a single chat message as accepted by the relay. It is immutable
// once appended.
type Message struct {
	ID         string    // server-assigned message id
	RoomID     string    // trip id
	SenderID   string    // user id of the author
	SenderName string    // "First Last" of the author at send time
	Text       string
	SentAt     time.Time // server receipt time
}

// History stores the last N messages per room in memory, in arrival order.
// It is goroutine-safe and uses a ring buffer per room.
type History struct {
	mu    sync.RWMutex
	limit int
	rooms map[string]*ringBuffer // roomID -> ring buffer
	now   func() time.Time
}

// ringBuffer grows up to limit entries and then overwrites the oldest one.
type ringBuffer struct {
	items      []Message
	pos        int // next slot to overwrite once full
	lastActive time.Time
}

// NewHistory creates an empty History keeping at most limit messages per
// room. A non-positive limit falls back to DefaultHistoryLimit.
func NewHistory(limit int) *History {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &History{
		limit: limit,
		rooms: make(map[string]*ringBuffer),
		now:   time.Now,
	}
}

// Limit returns the per-room capacity.
func (h *History) Limit() int {
	return h.limit
}

// Append adds a message to the end of the room's history, creating the
// history lazily. When the room is at capacity the oldest message is dropped.
func (h *History) Append(roomID string, msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	rb, ok := h.rooms[roomID]
	if !ok {
		rb = &ringBuffer{}
		h.rooms[roomID] = rb
	}

	if len(rb.items) < h.limit {
		rb.items = append(rb.items, msg)
	} else {
		rb.items[rb.pos] = msg
		rb.pos = (rb.pos + 1) % h.limit
	}
	rb.lastActive = h.now()
}

// Snapshot returns the room's messages in arrival order (oldest first). The
// returned slice is a copy; an unknown room yields an empty, non-nil slice.
func (h *History) Snapshot(roomID string) []Message {
	h.mu.RLock()
	defer h.mu.RUnlock()

	rb, ok := h.rooms[roomID]
	if !ok {
		return []Message{}
	}

	result := make([]Message, 0, len(rb.items))
	result = append(result, rb.items[rb.pos:]...)
	result = append(result, rb.items[:rb.pos]...)
	return result
}

// Len returns the number of messages stored for the room.
func (h *History) Len(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if rb, ok := h.rooms[roomID]; ok {
		return len(rb.items)
	}
	return 0
}

// Rooms returns the number of rooms that currently hold history.
func (h *History) Rooms() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}

// Remove deletes the history of a room.
func (h *History) Remove(roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.rooms, roomID)
}

// Prune removes the history of every room that received no message for
// longer than idle and for which occupied reports false. It returns the ids
// of the pruned rooms.
func (h *History) Prune(idle time.Duration, occupied func(roomID string) bool) []string {
	cutoff := h.now().Add(-idle)

	h.mu.Lock()
	defer h.mu.Unlock()

	var pruned []string
	for roomID, rb := range h.rooms {
		if rb.lastActive.After(cutoff) {
			continue
		}
		if occupied != nil && occupied(roomID) {
			continue
		}
		delete(h.rooms, roomID)
		pruned = append(pruned, roomID)
	}
	return pruned
}
