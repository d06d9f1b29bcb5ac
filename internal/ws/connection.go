package ws

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

var (
	// ErrBackpressure is returned by Enqueue when the connection's send
	// queue is full.
	ErrBackpressure = errors.New("ws: send queue full")
	// ErrConnClosed is returned by Enqueue after the connection was closed.
	ErrConnClosed = errors.New("ws: connection closed")
	// ErrConnNotFound is returned by Server.Send for unknown session ids.
	ErrConnNotFound = errors.New("ws: connection not found")
)

// MaxPendingFrames bounds the frames read from one client but not yet
// handled. Frames beyond it are dropped.
const MaxPendingFrames = 64

// Connection is one WebSocket client. Outbound frames go through a bounded
// queue drained by a writer goroutine; inbound frames are handled one at a
// time, in arrival order, by a drain goroutine that exists only while frames
// are pending.
type Connection struct {
	ID         string    // session ID (UUID), socketId on the wire
	UserID     string    // authenticated principal, empty when anonymous
	RemoteAddr string    // client address used for rate limiting
	Conn       net.Conn  // underlying TCP connection
	CreatedAt  time.Time // when the connection was established

	lastSeen atomic.Int64 // unix nanos of the last frame read from the client

	// onWriteError is called once when a queued frame cannot be written.
	onWriteError func(*Connection)

	writeMu   sync.Mutex // serializes writes to this connection
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	inMu     sync.Mutex
	inbound  [][]byte
	draining bool
}

func newConnection(id string, conn net.Conn, sendBuffer int) *Connection {
	if sendBuffer <= 0 {
		sendBuffer = 1
	}
	c := &Connection{
		ID:        id,
		Conn:      conn,
		CreatedAt: time.Now(),
		send:      make(chan []byte, sendBuffer),
		done:      make(chan struct{}),
	}
	c.Touch()
	return c
}

// Touch records client activity.
func (c *Connection) Touch() {
	c.lastSeen.Store(time.Now().UnixNano())
}

// LastSeen returns the time of the last client activity.
func (c *Connection) LastSeen() time.Time {
	return time.Unix(0, c.lastSeen.Load())
}

// Enqueue queues a text frame for the writer goroutine without blocking.
func (c *Connection) Enqueue(data []byte) error {
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}
	select {
	case c.send <- data:
		return nil
	default:
		return ErrBackpressure
	}
}

// writeText writes a text frame bounded by timeout.
func (c *Connection) writeText(data []byte, timeout time.Duration) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if timeout > 0 {
		_ = c.Conn.SetWriteDeadline(time.Now().Add(timeout))
		defer c.Conn.SetWriteDeadline(time.Time{})
	}
	return wsutil.WriteServerMessage(c.Conn, ws.OpText, data)
}

// writeLoop drains the send queue until the connection is closed. A failed
// write hands the connection to onWriteError, which unregisters and closes
// it; without a callback the connection is only closed.
func (c *Connection) writeLoop(timeout time.Duration) {
	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			if err := c.writeText(data, timeout); err != nil {
				if c.onWriteError != nil {
					c.onWriteError(c)
				}
				_ = c.Close()
				return
			}
		}
	}
}

// pushInbound appends a frame to the pending queue. It reports whether the
// caller must start a drain goroutine and whether the frame was accepted.
func (c *Connection) pushInbound(data []byte) (startDrain, accepted bool) {
	c.inMu.Lock()
	defer c.inMu.Unlock()

	if len(c.inbound) >= MaxPendingFrames {
		return false, false
	}
	c.inbound = append(c.inbound, data)
	if c.draining {
		return false, true
	}
	c.draining = true
	return true, true
}

// nextInbound pops the oldest pending frame. When none is left it marks the
// drain as finished and reports false.
func (c *Connection) nextInbound() ([]byte, bool) {
	c.inMu.Lock()
	defer c.inMu.Unlock()

	if len(c.inbound) == 0 {
		c.draining = false
		return nil, false
	}
	data := c.inbound[0]
	c.inbound[0] = nil
	c.inbound = c.inbound[1:]
	return data, true
}

// Close stops the writer and closes the underlying network connection. It
// is safe to call more than once.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.Conn.Close()
	})
	return err
}

// ConnectionManager indexes live connections by session id and by their
// network connection.
type ConnectionManager struct {
	mu     sync.RWMutex
	byID   map[string]*Connection
	byConn map[net.Conn]*Connection
}

// NewConnectionManager creates an empty ConnectionManager.
func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		byID:   make(map[string]*Connection),
		byConn: make(map[net.Conn]*Connection),
	}
}

// Add registers a connection.
func (cm *ConnectionManager) Add(conn *Connection) {
	cm.mu.Lock()
	cm.byID[conn.ID] = conn
	cm.byConn[conn.Conn] = conn
	cm.mu.Unlock()
}

// Remove unregisters and closes the connection with the given session id.
// It reports false when the connection was already gone.
func (cm *ConnectionManager) Remove(id string) bool {
	cm.mu.Lock()
	conn, ok := cm.byID[id]
	if ok {
		delete(cm.byID, id)
		delete(cm.byConn, conn.Conn)
	}
	cm.mu.Unlock()

	if ok {
		_ = conn.Close()
	}
	return ok
}

// Get returns the connection for the given session ID, or nil if not found.
func (cm *ConnectionManager) Get(id string) *Connection {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.byID[id]
}

// GetByConn returns the connection wrapping c, or nil.
func (cm *ConnectionManager) GetByConn(c net.Conn) *Connection {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.byConn[c]
}

// Count returns the current number of active connections.
func (cm *ConnectionManager) Count() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.byID)
}

// All returns a snapshot of all current connections.
func (cm *ConnectionManager) All() []*Connection {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	conns := make([]*Connection, 0, len(cm.byID))
	for _, conn := range cm.byID {
		conns = append(conns, conn)
	}
	return conns
}
